package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/taskrouter/pkg/failure"
)

type staticSettings struct {
	keys   map[Provider]string
	models map[Capability]string
}

func (s staticSettings) APIKey(p Provider) string { return s.keys[p] }

func (s staticSettings) Model(_ Provider, c Capability) string {
	if m, ok := s.models[c]; ok {
		return m
	}
	return "test-model"
}

func settingsWithKeys() staticSettings {
	return staticSettings{keys: map[Provider]string{OpenAI: "sk-openai", Perplexity: "pplx-key"}}
}

func TestParseProvider(t *testing.T) {
	p, err := ParseProvider("perplexity")
	require.NoError(t, err)
	assert.Equal(t, Perplexity, p)

	_, err = ParseProvider("anthropic")
	assert.Error(t, err)
}

func TestAvailabilityFollowsSettings(t *testing.T) {
	settings := staticSettings{keys: map[Provider]string{}}
	oa := NewOpenAIAdapter(settings)
	px := NewPerplexityAdapter(settings)
	assert.False(t, oa.Available())
	assert.False(t, px.Available())

	settings.keys[OpenAI] = "sk"
	assert.True(t, oa.Available())
	assert.False(t, px.Available())
}

func TestPerplexitySearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer pplx-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req perplexityRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "sonar", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "price of a Birkin 30", req.Messages[1].Content)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    "r1",
			"model": "sonar",
			"choices": []map[string]any{
				{"index": 0, "message": map[string]any{"role": "assistant", "content": "Around 12k."}},
			},
			"citations": []string{"https://a.example/1", "https://b.example/2"},
			"search_results": []map[string]any{
				{"title": "Listing A", "url": "https://a.example/1"},
			},
		})
	}))
	defer server.Close()

	settings := settingsWithKeys()
	settings.models = map[Capability]string{CapabilitySearch: "sonar"}
	a := NewPerplexityAdapter(settings, WithBaseURL(server.URL), WithHTTPClient(server.Client()))

	res, err := a.Search(context.Background(), SearchRequest{System: "be brief", Query: "price of a Birkin 30"})
	require.NoError(t, err)
	assert.Equal(t, "Around 12k.", res.RawText)
	require.Len(t, res.Annotations, 2)
	assert.Equal(t, Annotation{Title: "Listing A", URL: "https://a.example/1"}, res.Annotations[0])
	assert.Equal(t, "https://b.example/2", res.Annotations[1].URL)
}

func TestPerplexityHTTPErrorCarriesStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded"}}`))
	}))
	defer server.Close()

	a := NewPerplexityAdapter(settingsWithKeys(), WithBaseURL(server.URL))
	_, err := a.Complete(context.Background(), CompletionRequest{Prompt: "hi"})
	require.Error(t, err)

	var ferr *failure.Error
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, failure.ProviderHTTPError, ferr.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, ferr.Status)
	assert.Equal(t, "perplexity", ferr.Provider)
	assert.True(t, failure.Retryable(err))
}

func TestPerplexityEmptyContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"   "}}]}`))
	}))
	defer server.Close()

	a := NewPerplexityAdapter(settingsWithKeys(), WithBaseURL(server.URL))
	_, err := a.Complete(context.Background(), CompletionRequest{Prompt: "hi"})
	assert.Equal(t, failure.EmptyResponse, failure.KindOf(err))
}

func TestPerplexityMissingKey(t *testing.T) {
	a := NewPerplexityAdapter(staticSettings{})
	_, err := a.Search(context.Background(), SearchRequest{Query: "q"})
	assert.Equal(t, failure.NoProviderAvailable, failure.KindOf(err))
}

func TestPerplexityTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	a := NewPerplexityAdapter(settingsWithKeys(), WithBaseURL(server.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := a.Complete(ctx, CompletionRequest{Prompt: "hi"})
	var ferr *failure.Error
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, failure.Timeout, ferr.Kind)
	assert.Equal(t, http.StatusGatewayTimeout, ferr.Status)
}

func openAITestServer(t *testing.T, handler func(body map[string]any) (int, any)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-openai", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		status, resp := handler(body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func chatCompletion(content string, extra map[string]any) map[string]any {
	msg := map[string]any{"role": "assistant", "content": content}
	for k, v := range extra {
		msg[k] = v
	}
	return map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "gpt-test",
		"choices": []map[string]any{
			{"index": 0, "finish_reason": "stop", "message": msg},
		},
	}
}

func TestOpenAICompleteJSONMode(t *testing.T) {
	server := openAITestServer(t, func(body map[string]any) (int, any) {
		format, ok := body["response_format"].(map[string]any)
		require.True(t, ok, "response_format missing")
		assert.Equal(t, "json_object", format["type"])
		messages := body["messages"].([]any)
		assert.Len(t, messages, 2)
		return http.StatusOK, chatCompletion(`{"brand":"Chanel"}`, nil)
	})
	defer server.Close()

	a := NewOpenAIAdapter(settingsWithKeys(), WithBaseURL(server.URL+"/"))
	comp, err := a.Complete(context.Background(), CompletionRequest{System: "extract", Prompt: "Chanel flap bag", JSON: true})
	require.NoError(t, err)
	assert.Equal(t, `{"brand":"Chanel"}`, comp.Text)
	assert.Equal(t, "gpt-test", comp.Model)
}

func TestOpenAIRateLimitStatus(t *testing.T) {
	calls := 0
	server := openAITestServer(t, func(map[string]any) (int, any) {
		calls++
		return http.StatusTooManyRequests, map[string]any{"error": map[string]any{"message": "slow down", "type": "rate_limit"}}
	})
	defer server.Close()

	a := NewOpenAIAdapter(settingsWithKeys(), WithBaseURL(server.URL+"/"))
	_, err := a.Complete(context.Background(), CompletionRequest{Prompt: "hi"})

	var ferr *failure.Error
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, failure.ProviderHTTPError, ferr.Kind)
	assert.Equal(t, http.StatusTooManyRequests, ferr.Status)
	assert.Equal(t, 1, calls, "sdk retries must be disabled")
}

func TestOpenAIVisionSendsImages(t *testing.T) {
	server := openAITestServer(t, func(body map[string]any) (int, any) {
		messages := body["messages"].([]any)
		user := messages[len(messages)-1].(map[string]any)
		parts := user["content"].([]any)
		require.Len(t, parts, 3)
		assert.Equal(t, "image_url", parts[1].(map[string]any)["type"])
		return http.StatusOK, chatCompletion(`{"condition":"excellent"}`, nil)
	})
	defer server.Close()

	a := NewOpenAIAdapter(settingsWithKeys(), WithBaseURL(server.URL+"/"))
	comp, err := a.CompleteVision(context.Background(), VisionRequest{
		Prompt: "grade the condition",
		Images: []Image{{URL: "https://img.example/1.jpg"}, {URL: "data:image/png;base64,AAAA"}},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"condition":"excellent"}`, comp.Text)
}

func TestOpenAISearchAnnotations(t *testing.T) {
	server := openAITestServer(t, func(body map[string]any) (int, any) {
		_, ok := body["web_search_options"]
		assert.True(t, ok, "web_search_options missing")
		return http.StatusOK, chatCompletion("Resale is strong.", map[string]any{
			"annotations": []map[string]any{
				{"type": "url_citation", "url_citation": map[string]any{
					"url": "https://news.example/a", "title": "Market", "start_index": 0, "end_index": 6,
				}},
			},
		})
	})
	defer server.Close()

	a := NewOpenAIAdapter(settingsWithKeys(), WithBaseURL(server.URL+"/"))
	res, err := a.Search(context.Background(), SearchRequest{Query: "resale market"})
	require.NoError(t, err)
	assert.Equal(t, "Resale is strong.", res.RawText)
	require.Len(t, res.Annotations, 1)
	assert.Equal(t, Annotation{Title: "Market", URL: "https://news.example/a", StartIndex: 0, EndIndex: 6}, res.Annotations[0])
}

func TestMockAdapterScript(t *testing.T) {
	m := NewMockAdapter(OpenAI).Reply(
		MockResponse{Text: "first"},
		MockResponse{Err: failure.New(failure.EmptyResponse, "nothing")},
	)

	comp, err := m.Complete(context.Background(), CompletionRequest{Prompt: "a"})
	require.NoError(t, err)
	assert.Equal(t, "first", comp.Text)

	_, err = m.Complete(context.Background(), CompletionRequest{Prompt: "b"})
	assert.Equal(t, failure.EmptyResponse, failure.KindOf(err))

	comp, err = m.Complete(context.Background(), CompletionRequest{Prompt: "c"})
	require.NoError(t, err)
	assert.Equal(t, "{}", comp.Text)
	assert.Equal(t, 3, m.CallCount())
}

func TestRateLimitWaitPastDeadlineIsTimeout(t *testing.T) {
	m := NewPerplexityAdapter(settingsWithKeys(), WithRateLimit(0.001, 1), WithBaseURL("http://127.0.0.1:0"))
	// Drain the single token.
	require.True(t, m.opts.limiter.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.Complete(ctx, CompletionRequest{Prompt: "hi"})
	assert.Equal(t, failure.Timeout, failure.KindOf(err))
}
