package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zen-systems/taskrouter/pkg/adapter"
	"github.com/zen-systems/taskrouter/pkg/config"
	"github.com/zen-systems/taskrouter/pkg/health"
	"github.com/zen-systems/taskrouter/pkg/logging"
	"github.com/zen-systems/taskrouter/pkg/metrics"
	"github.com/zen-systems/taskrouter/pkg/router"
	"github.com/zen-systems/taskrouter/pkg/task"
)

var (
	configFile string
	envFile    string
	logLevel   string
	useMock    bool
	jsonOutput bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "taskrouter",
		Short: "Route AI tasks across providers with retries, fallback and health tracking",
		Long: `taskrouter sends web search, structured extraction, free-form generation
and vision tasks to OpenAI or Perplexity. Providers are ordered per task,
retried on transient failures, demoted while unhealthy and malformed JSON
is repaired once before giving up.

Routing mode comes from AI_ROUTING_MODE (dynamic, openai, perplexity).`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnvFile(envFile)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file (default ~/.taskrouter/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading configuration")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")
	rootCmd.PersistentFlags().BoolVar(&useMock, "mock", false, "use scripted mock providers instead of real APIs")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print the full routed result as JSON")

	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(extractCmd())
	rootCmd.AddCommand(visionCmd())
	rootCmd.AddCommand(routesCmd())
	rootCmd.AddCommand(modelsCmd())
	rootCmd.AddCommand(diagnosticsCmd())
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadEnvFile loads dotenv values without overriding the real environment.
// A missing default file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// app bundles everything a command needs.
type app struct {
	cfg     *config.Config
	live    *config.Live
	logger  *zap.Logger
	metrics *metrics.Collector
	router  *router.Router
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	logger, err := logging.New(logging.Config{Level: level, Format: cfg.Log.Format})
	if err != nil {
		return nil, err
	}

	live := cfg.Live()
	collector := metrics.NewCollector(nil)
	window, threshold, cooldown := cfg.Routing.Health.Window()
	tracker := health.NewTracker(
		health.WithWindow(window),
		health.WithThreshold(threshold),
		health.WithCooldown(cooldown),
	)
	base, limit := cfg.Routing.Backoff()

	opts := []router.Option{
		router.WithLogger(logger),
		router.WithMetrics(collector),
		router.WithHealthTracker(tracker),
		router.WithBackoff(base, limit),
	}
	for _, t := range task.All() {
		opts = append(opts, router.WithTimeout(t, cfg.Routing.Timeout(t)))
	}

	return &app{
		cfg:     cfg,
		live:    live,
		logger:  logger,
		metrics: collector,
		router:  router.New(live, createAdapters(cfg, live), opts...),
	}, nil
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.LoadFile(configFile)
	}
	return config.Load()
}

func createAdapters(cfg *config.Config, settings adapter.Settings) []adapter.Adapter {
	if useMock {
		return mockAdapters()
	}

	var adapters []adapter.Adapter
	for _, p := range adapter.Providers() {
		pc := cfg.Provider(p)
		var opts []adapter.Option
		if pc.BaseURL != "" {
			opts = append(opts, adapter.WithBaseURL(pc.BaseURL))
		}
		opts = append(opts, adapter.WithRateLimit(pc.RateLimitRPS, pc.RateLimitBurst))

		switch p {
		case adapter.OpenAI:
			adapters = append(adapters, adapter.NewOpenAIAdapter(settings, opts...))
		case adapter.Perplexity:
			adapters = append(adapters, adapter.NewPerplexityAdapter(settings, opts...))
		}
	}
	return adapters
}

func mockAdapters() []adapter.Adapter {
	openai := adapter.NewMockAdapter(adapter.OpenAI).
		Default(adapter.MockResponse{Text: `{"mock":true,"provider":"openai"}`})
	pplx := adapter.NewMockAdapter(adapter.Perplexity).
		Default(adapter.MockResponse{
			Text:        "Mock search answer.",
			Annotations: []adapter.Annotation{{Title: "Example", URL: "https://example.com"}},
		})
	return []adapter.Adapter{openai, pplx}
}
