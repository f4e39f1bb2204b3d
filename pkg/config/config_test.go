package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/zen-systems/taskrouter/pkg/adapter"
	"github.com/zen-systems/taskrouter/pkg/task"
)

func TestConfigIgnoresFileAPIKeys(t *testing.T) {
	home := t.TempDir()
	setHomeEnv(t, home)
	clearEnv(t)

	configDir := filepath.Join(home, ".taskrouter")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	data := []byte("api_keys:\n  openai: file-openai\n  perplexity: file-pplx\n")
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), data, 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	live := cfg.Live()
	if live.APIKey(adapter.OpenAI) != "" || live.APIKey(adapter.Perplexity) != "" {
		t.Fatalf("expected file API keys to be ignored")
	}
}

func TestLiveReadsEnvOnEveryCall(t *testing.T) {
	setHomeEnv(t, t.TempDir())
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	live := cfg.Live()

	if live.Configured(adapter.OpenAI) {
		t.Fatalf("expected openai to be unconfigured")
	}
	if got := live.RoutingMode(); got != "dynamic" {
		t.Fatalf("routing mode = %q, want dynamic", got)
	}

	t.Setenv(EnvOpenAIKey, " env-openai ")
	t.Setenv(EnvRoutingMode, "Perplexity")
	t.Setenv(EnvOpenAIModel, "gpt-test")

	if got := live.APIKey(adapter.OpenAI); got != "env-openai" {
		t.Fatalf("api key = %q", got)
	}
	if got := live.RoutingMode(); got != "perplexity" {
		t.Fatalf("routing mode = %q, want perplexity", got)
	}
	if got := live.Model(adapter.OpenAI, adapter.CapabilityChat); got != "gpt-test" {
		t.Fatalf("model = %q", got)
	}
	if got := live.Model(adapter.OpenAI, adapter.CapabilityVision); got != DefaultOpenAIVisionModel {
		t.Fatalf("vision model = %q", got)
	}
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
routing:
  mode: openai
  timeouts_ms:
    web_search: 8000
  retry:
    base_backoff_ms: 0
  health:
    failure_threshold: 5
providers:
  perplexity:
    model: fast
    rate_limit_rps: 2
models:
  aliases:
    fast: sonar-pro
log:
  format: console
`)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.Live().RoutingMode(); got != "openai" {
		t.Fatalf("routing mode = %q", got)
	}
	if got := cfg.Routing.Timeout(task.WebSearch); got != 8*time.Second {
		t.Fatalf("web_search timeout = %v", got)
	}
	if got := cfg.Routing.Timeout(task.VisionAnalysis); got != 10*time.Second {
		t.Fatalf("vision timeout = %v", got)
	}
	base, ceiling := cfg.Routing.Backoff()
	if base != 0 || ceiling != 2*time.Second {
		t.Fatalf("backoff = %v/%v, want explicit zero base", base, ceiling)
	}
	window, threshold, cooldown := cfg.Routing.Health.Window()
	if window != 5*time.Minute || threshold != 5 || cooldown != time.Minute {
		t.Fatalf("health = %v/%d/%v", window, threshold, cooldown)
	}
	if got := cfg.Live().Model(adapter.Perplexity, adapter.CapabilitySearch); got != "sonar-pro" {
		t.Fatalf("alias not resolved: %q", got)
	}
	if got := cfg.Provider(adapter.Perplexity).RateLimitRPS; got != 2 {
		t.Fatalf("rate limit = %v", got)
	}
	if cfg.Log.Format != "console" || cfg.Log.Level != "info" {
		t.Fatalf("log = %+v", cfg.Log)
	}
}

func TestLoadFileRejectsUnknownNames(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"provider": "providers:\n  anthropic:\n    model: x\n",
		"task":     "routing:\n  timeouts_ms:\n    summarize: 100\n",
		"backoff":  "routing:\n  retry:\n    base_backoff_ms: -5\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".yaml")
			if err := os.WriteFile(path, []byte(body), 0600); err != nil {
				t.Fatalf("write: %v", err)
			}
			if _, err := LoadFile(path); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestDefaultBackoff(t *testing.T) {
	setHomeEnv(t, t.TempDir())
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	base, ceiling := cfg.Routing.Backoff()
	if base != 200*time.Millisecond || ceiling != 2*time.Second {
		t.Fatalf("backoff = %v/%v", base, ceiling)
	}
	if cfg.Server.Addr != DefaultServerAddr {
		t.Fatalf("server addr = %q", cfg.Server.Addr)
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		EnvRoutingMode, EnvOpenAIKey, EnvPerplexityKey,
		EnvOpenAIModel, EnvOpenAIVisionModel, EnvOpenAISearchModel, EnvPerplexityModel,
	} {
		t.Setenv(key, "")
	}
}

func setHomeEnv(t *testing.T, home string) {
	t.Helper()
	t.Setenv("HOME", home)
	if runtime.GOOS == "windows" {
		t.Setenv("USERPROFILE", home)
	}
}
