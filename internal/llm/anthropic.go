package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicDefaultMaxTokens = 8192

// AnthropicClient streams messages through the official Anthropic SDK.
type AnthropicClient struct {
	client       anthropic.Client
	defaultModel string
}

// NewAnthropicClient creates an Anthropic adapter.
func NewAnthropicClient(cfg ProviderConfig) *AnthropicClient {
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
		model = "claude-sonnet-4-5"
	}
	return &AnthropicClient{client: anthropic.NewClient(opts...), defaultModel: model}
}

// Name returns the provider name.
func (c *AnthropicClient) Name() string { return "anthropic" }

func (c *AnthropicClient) params(req CompletionRequest) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	var msgs []anthropic.MessageParam
	for _, m := range req.Messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == RoleAssistant {
			msgs = append(msgs, anthropic.NewAssistantMessage(block))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(block))
		}
	}

	p := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  msgs,
	}
	if req.System != "" {
		p.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	// Extended thinking requires budget < max_tokens and no temperature.
	if req.ThinkingBudget > 0 && int64(req.ThinkingBudget) < maxTokens {
		p.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(req.ThinkingBudget))
	} else if req.Temperature != nil {
		p.Temperature = anthropic.Float(*req.Temperature)
	}
	return p
}

// Complete sends a non-streaming message request.
func (c *AnthropicClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()
	msg, err := c.client.Messages.New(ctx, c.params(req))
	if err != nil {
		return nil, wrapAnthropicError(err)
	}

	var content, thinking strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			content.WriteString(block.Text)
		case "thinking":
			thinking.WriteString(block.Thinking)
		}
	}

	return &CompletionResponse{
		Content:    content.String(),
		Thinking:   thinking.String(),
		StopReason: string(msg.StopReason),
		Model:      string(msg.Model),
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
		Duration: time.Since(start),
	}, nil
}

// Stream sends a streaming message request.
func (c *AnthropicClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	params := c.params(req)
	stream := c.client.Messages.NewStreaming(ctx, params)
	ch := make(chan StreamEvent)

	go func() {
		defer close(ch)
		defer stream.Close()

		start := time.Now()
		var content, thinking strings.Builder
		final := &CompletionResponse{Model: string(params.Model)}

		for stream.Next() {
			switch ev := stream.Current().AsAny().(type) {
			case anthropic.MessageStartEvent:
				if ev.Message.Model != "" {
					final.Model = string(ev.Message.Model)
				}
				final.Usage.InputTokens = int(ev.Message.Usage.InputTokens)

			case anthropic.ContentBlockDeltaEvent:
				switch d := ev.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if d.Text == "" {
						continue
					}
					content.WriteString(d.Text)
					if !send(ctx, ch, StreamEvent{Type: EventDelta, Content: d.Text}) {
						return
					}
				case anthropic.ThinkingDelta:
					if d.Thinking == "" {
						continue
					}
					thinking.WriteString(d.Thinking)
					if !send(ctx, ch, StreamEvent{Type: EventThinking, Content: d.Thinking}) {
						return
					}
				}

			case anthropic.MessageDeltaEvent:
				if ev.Delta.StopReason != "" {
					final.StopReason = string(ev.Delta.StopReason)
				}
				if ev.Usage.OutputTokens > 0 {
					final.Usage.OutputTokens = int(ev.Usage.OutputTokens)
				}
			}
		}

		if err := stream.Err(); err != nil {
			send(ctx, ch, errorEvent(wrapAnthropicError(err)))
			return
		}

		final.Content = content.String()
		final.Thinking = thinking.String()
		final.Duration = time.Since(start)
		send(ctx, ch, StreamEvent{Type: EventDone, Response: final})
	}()

	return ch, nil
}

func wrapAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: "anthropic", Message: apiErr.Error(), Code: apiErr.StatusCode, Err: err}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &ProviderError{Provider: "anthropic", Message: fmt.Sprintf("request failed: %v", err), Err: err}
}
