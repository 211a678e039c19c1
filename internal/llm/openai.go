package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/respjson"
)

// ProviderConfig carries the connection settings shared by every adapter.
type ProviderConfig struct {
	APIKey       string
	BaseURL      string
	Headers      map[string]string
	DefaultModel string
	HTTPClient   *http.Client
}

// OpenAIClient streams chat completions through the official OpenAI SDK.
// Any OpenAI-compatible endpoint works via BaseURL.
type OpenAIClient struct {
	client       openai.Client
	defaultModel string
}

// NewOpenAIClient creates an OpenAI adapter. SDK retries are disabled; the
// failover client owns retry policy.
func NewOpenAIClient(cfg ProviderConfig) *OpenAIClient {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	for k, v := range cfg.Headers {
		opts = append(opts, option.WithHeader(k, v))
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "gpt-5.2"
	}
	return &OpenAIClient{client: openai.NewClient(opts...), defaultModel: model}
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string { return "openai" }

func (c *OpenAIClient) params(req CompletionRequest) openai.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		case RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	p := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: msgs,
	}
	if req.MaxTokens > 0 {
		p.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		p.Temperature = openai.Float(*req.Temperature)
	}
	return p
}

// Complete sends a non-streaming chat completion.
func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, c.params(req))
	if err != nil {
		return nil, wrapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{Provider: "openai", Message: "response has no choices"}
	}

	choice := resp.Choices[0]
	return &CompletionResponse{
		Content:    choice.Message.Content,
		Thinking:   reasoningContent(choice.Message.JSON.ExtraFields),
		StopReason: choice.FinishReason,
		Model:      resp.Model,
		Usage: Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
		Duration: time.Since(start),
	}, nil
}

// Stream sends a streaming chat completion. Reasoning deltas exposed by
// compatible servers as reasoning_content become thinking events.
func (c *OpenAIClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	params := c.params(req)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	ch := make(chan StreamEvent)

	go func() {
		defer close(ch)
		defer stream.Close()

		start := time.Now()
		var content, thinking strings.Builder
		final := &CompletionResponse{Model: string(params.Model)}

		for stream.Next() {
			chunk := stream.Current()
			if chunk.Model != "" {
				final.Model = chunk.Model
			}
			if chunk.Usage.CompletionTokens > 0 || chunk.Usage.PromptTokens > 0 {
				final.Usage = Usage{
					InputTokens:  int(chunk.Usage.PromptTokens),
					OutputTokens: int(chunk.Usage.CompletionTokens),
				}
			}
			for _, choice := range chunk.Choices {
				if r := reasoningContent(choice.Delta.JSON.ExtraFields); r != "" {
					thinking.WriteString(r)
					if !send(ctx, ch, StreamEvent{Type: EventThinking, Content: r}) {
						return
					}
				}
				if choice.Delta.Content != "" {
					content.WriteString(choice.Delta.Content)
					if !send(ctx, ch, StreamEvent{Type: EventDelta, Content: choice.Delta.Content}) {
						return
					}
				}
				if choice.FinishReason != "" {
					final.StopReason = choice.FinishReason
				}
			}
		}

		if err := stream.Err(); err != nil {
			send(ctx, ch, errorEvent(wrapOpenAIError(err)))
			return
		}

		final.Content = content.String()
		final.Thinking = thinking.String()
		final.Duration = time.Since(start)
		send(ctx, ch, StreamEvent{Type: EventDone, Response: final})
	}()

	return ch, nil
}

// reasoningContent extracts the non-standard reasoning_content field some
// OpenAI-compatible servers attach to messages and deltas.
func reasoningContent(extra map[string]respjson.Field) string {
	// The decoder marks unknown fields invalid; the raw JSON is still kept.
	raw := extra["reasoning_content"].Raw()
	if raw == respjson.Omitted || raw == respjson.Null {
		return ""
	}
	var s string
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return ""
	}
	return s
}

func wrapOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: "openai", Message: apiErr.Message, Code: apiErr.StatusCode, Err: err}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &ProviderError{Provider: "openai", Message: fmt.Sprintf("request failed: %v", err), Err: err}
}
