package adapter

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/zen-systems/taskrouter/pkg/failure"
)

const openAIBaseURL = "https://api.openai.com/v1/"

// OpenAIAdapter implements chat, vision and web search over the OpenAI
// chat completions API.
type OpenAIAdapter struct {
	client   openai.Client
	settings Settings
	opts     options
}

// NewOpenAIAdapter creates a new OpenAI adapter. The API key is read from
// settings on every call; a missing key makes the adapter unavailable
// rather than failing construction.
func NewOpenAIAdapter(settings Settings, opts ...Option) *OpenAIAdapter {
	o := buildOptions(openAIBaseURL, opts)
	client := openai.NewClient(
		option.WithBaseURL(o.baseURL),
		option.WithHTTPClient(o.httpClient),
		// Retries belong to the router.
		option.WithMaxRetries(0),
	)
	return &OpenAIAdapter{client: client, settings: settings, opts: o}
}

// Name returns the adapter identifier.
func (a *OpenAIAdapter) Name() Provider {
	return OpenAI
}

// Available reports whether an API key is configured.
func (a *OpenAIAdapter) Available() bool {
	return a.settings.APIKey(OpenAI) != ""
}

// Complete sends a chat request, optionally in JSON object mode.
func (a *OpenAIAdapter) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	model := a.settings.Model(OpenAI, CapabilityChat)
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: chatMessages(req.System, openai.UserMessage(req.Prompt)),
	}
	if req.JSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := a.send(ctx, params)
	if err != nil {
		return nil, err
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return nil, emptyResponse(OpenAI, "empty message content")
	}
	return &Completion{Text: content, Model: resp.Model}, nil
}

// CompleteVision sends text plus images and asks for a JSON object.
func (a *OpenAIAdapter) CompleteVision(ctx context.Context, req VisionRequest) (*Completion, error) {
	if len(req.Images) == 0 {
		return nil, emptyResponse(OpenAI, "no images to analyse")
	}
	model := a.settings.Model(OpenAI, CapabilityVision)

	parts := []openai.ChatCompletionContentPartUnionParam{openai.TextContentPart(req.Prompt)}
	for _, img := range req.Images {
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: img.URL,
		}))
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: chatMessages(req.System, openai.UserMessage(parts)),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := a.send(ctx, params)
	if err != nil {
		return nil, err
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return nil, emptyResponse(OpenAI, "empty vision content")
	}
	return &Completion{Text: content, Model: resp.Model}, nil
}

// Search answers a query with a search-enabled model and returns the URL
// citations it attached.
func (a *OpenAIAdapter) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	model := a.settings.Model(OpenAI, CapabilitySearch)
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: chatMessages(req.System, openai.UserMessage(req.Query)),
		WebSearchOptions: openai.ChatCompletionNewParamsWebSearchOptions{
			SearchContextSize: "medium",
		},
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := a.send(ctx, params)
	if err != nil {
		return nil, err
	}
	msg := resp.Choices[0].Message
	text := strings.TrimSpace(msg.Content)
	if text == "" {
		return nil, emptyResponse(OpenAI, "empty search answer")
	}

	var annotations []Annotation
	for _, ann := range msg.Annotations {
		if ann.URLCitation.URL == "" {
			continue
		}
		annotations = append(annotations, Annotation{
			Title:      ann.URLCitation.Title,
			URL:        ann.URLCitation.URL,
			StartIndex: int(ann.URLCitation.StartIndex),
			EndIndex:   int(ann.URLCitation.EndIndex),
		})
	}
	return &SearchResult{RawText: text, Annotations: annotations, Model: resp.Model}, nil
}

func (a *OpenAIAdapter) send(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	key := a.settings.APIKey(OpenAI)
	if key == "" {
		return nil, missingKey(OpenAI)
	}
	if err := wait(ctx, OpenAI, a.opts.limiter); err != nil {
		return nil, err
	}

	resp, err := a.client.Chat.Completions.New(ctx, params, option.WithAPIKey(key))
	if err != nil {
		return nil, normalizeOpenAIError(err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, emptyResponse(OpenAI, "no choices")
	}
	return resp, nil
}

func chatMessages(system string, user openai.ChatCompletionMessageParamUnion) []openai.ChatCompletionMessageParamUnion {
	var msgs []openai.ChatCompletionMessageParamUnion
	if system != "" {
		msgs = append(msgs, openai.SystemMessage(system))
	}
	return append(msgs, user)
}

func normalizeOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode > 0 {
		return failure.HTTP(string(OpenAI), apiErr.StatusCode, err)
	}
	return normalizeError(OpenAI, err)
}
