package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/zen-systems/taskrouter/pkg/failure"
)

const perplexityBaseURL = "https://api.perplexity.ai"

// PerplexityAdapter implements chat and web search over the Perplexity
// API, which uses an OpenAI-compatible request format and answers every
// request with live search grounding.
type PerplexityAdapter struct {
	settings Settings
	opts     options
}

// perplexityRequest represents the OpenAI-compatible request format.
type perplexityRequest struct {
	Model       string              `json:"model"`
	Messages    []perplexityMessage `json:"messages"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
	Temperature *float64            `json:"temperature,omitempty"`
}

// perplexityMessage represents a chat message.
type perplexityMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// perplexityResponse represents the chat completions response plus the
// search metadata Perplexity attaches to it.
type perplexityResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Citations     []string `json:"citations"`
	SearchResults []struct {
		Title string `json:"title"`
		URL   string `json:"url"`
		Date  string `json:"date"`
	} `json:"search_results"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error,omitempty"`
}

// NewPerplexityAdapter creates a new Perplexity adapter.
func NewPerplexityAdapter(settings Settings, opts ...Option) *PerplexityAdapter {
	return &PerplexityAdapter{
		settings: settings,
		opts:     buildOptions(perplexityBaseURL, opts),
	}
}

// Name returns the adapter identifier.
func (a *PerplexityAdapter) Name() Provider {
	return Perplexity
}

// Available reports whether an API key is configured.
func (a *PerplexityAdapter) Available() bool {
	return a.settings.APIKey(Perplexity) != ""
}

// Complete sends a chat request. Perplexity has no JSON object mode, so
// req.JSON is honoured by the prompt alone and the router's repair pass.
func (a *PerplexityAdapter) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	resp, err := a.send(ctx, perplexityRequest{
		Model:       a.settings.Model(Perplexity, CapabilityChat),
		Messages:    perplexityMessages(req.System, req.Prompt),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, err
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return nil, emptyResponse(Perplexity, "empty message content")
	}
	return &Completion{Text: content, Model: resp.Model}, nil
}

// Search answers a query and returns the sources Perplexity searched.
func (a *PerplexityAdapter) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	resp, err := a.send(ctx, perplexityRequest{
		Model:     a.settings.Model(Perplexity, CapabilitySearch),
		Messages:  perplexityMessages(req.System, req.Query),
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return nil, emptyResponse(Perplexity, "empty search answer")
	}

	var annotations []Annotation
	seen := make(map[string]bool)
	for _, r := range resp.SearchResults {
		if r.URL == "" || seen[r.URL] {
			continue
		}
		seen[r.URL] = true
		annotations = append(annotations, Annotation{Title: r.Title, URL: r.URL})
	}
	for _, url := range resp.Citations {
		if url == "" || seen[url] {
			continue
		}
		seen[url] = true
		annotations = append(annotations, Annotation{URL: url})
	}

	return &SearchResult{RawText: text, Annotations: annotations, Model: resp.Model}, nil
}

func (a *PerplexityAdapter) send(ctx context.Context, reqBody perplexityRequest) (*perplexityResponse, error) {
	key := a.settings.APIKey(Perplexity)
	if key == "" {
		return nil, missingKey(Perplexity)
	}
	if err := wait(ctx, Perplexity, a.opts.limiter); err != nil {
		return nil, err
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimSuffix(a.opts.baseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := a.opts.httpClient.Do(req)
	if err != nil {
		return nil, normalizeError(Perplexity, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, normalizeError(Perplexity, fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(Perplexity, resp.StatusCode, body)
	}

	var pplxResp perplexityResponse
	if err := json.Unmarshal(body, &pplxResp); err != nil {
		e := failure.Wrap(failure.Unknown, err, "failed to parse perplexity response")
		e.Provider = string(Perplexity)
		return nil, e
	}

	if pplxResp.Error != nil {
		e := failure.New(failure.Unknown, "perplexity API error: %s (type: %s)", pplxResp.Error.Message, pplxResp.Error.Type)
		e.Provider = string(Perplexity)
		return nil, e
	}

	if len(pplxResp.Choices) == 0 {
		return nil, emptyResponse(Perplexity, "no choices")
	}

	return &pplxResp, nil
}

func perplexityMessages(system, user string) []perplexityMessage {
	var msgs []perplexityMessage
	if system != "" {
		msgs = append(msgs, perplexityMessage{Role: "system", Content: system})
	}
	return append(msgs, perplexityMessage{Role: "user", Content: user})
}
