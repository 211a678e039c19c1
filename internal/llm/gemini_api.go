package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BrotherOrange/PlayForge/internal/version"
)

const geminiDefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiAPIClient is a direct HTTP client for the Google Gemini API.
// It authenticates with an API key header, or with whatever the supplied
// HTTP client attaches (OAuth bearer tokens).
type GeminiAPIClient struct {
	apiKey  string
	baseURL string
	model   string
	headers map[string]string
	client  *http.Client
}

// NewGeminiAPIClient creates a new Gemini API client.
func NewGeminiAPIClient(cfg ProviderConfig) *GeminiAPIClient {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = geminiDefaultBaseURL
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "gemini-2.5-pro"
	}
	return &GeminiAPIClient{
		apiKey:  cfg.APIKey,
		baseURL: base,
		model:   model,
		headers: cfg.Headers,
		client:  hc,
	}
}

// Name returns the provider name.
func (g *GeminiAPIClient) Name() string { return "gemini" }

// Complete sends a non-streaming generateContent request.
func (g *GeminiAPIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()
	model := g.modelFor(req)

	resp, err := g.do(ctx, model, "generateContent", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ProviderError{Provider: "gemini", Message: fmt.Sprintf("decode response: %v", err), Err: err}
	}

	out := &CompletionResponse{Model: model}
	result.accumulate(out, nil)
	out.Duration = time.Since(start)
	return out, nil
}

// Stream sends a streamGenerateContent request in SSE mode. Parts flagged
// as thoughts become thinking events.
func (g *GeminiAPIClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	model := g.modelFor(req)
	resp, err := g.do(ctx, model, "streamGenerateContent?alt=sse", req)
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		start := time.Now()
		final := &CompletionResponse{Model: model}
		scanner := newSSEScanner(resp.Body)

		for scanner.Scan() {
			var chunk geminiResponse
			if err := json.Unmarshal([]byte(scanner.Data()), &chunk); err != nil {
				continue
			}
			ok := chunk.accumulate(final, func(ev StreamEvent) bool { return send(ctx, ch, ev) })
			if !ok {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			if ctx.Err() != nil {
				return
			}
			send(ctx, ch, errorEvent(&ProviderError{Provider: "gemini", Message: fmt.Sprintf("read stream: %v", err), Err: err}))
			return
		}

		final.Duration = time.Since(start)
		send(ctx, ch, StreamEvent{Type: EventDone, Response: final})
	}()
	return ch, nil
}

func (g *GeminiAPIClient) modelFor(req CompletionRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return g.model
}

func (g *GeminiAPIClient) do(ctx context.Context, model, method string, req CompletionRequest) (*http.Response, error) {
	payload, err := json.Marshal(g.buildRequestBody(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:%s", g.baseURL, model, method)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", version.UserAgent())
	if g.apiKey != "" {
		httpReq.Header.Set("x-goog-api-key", g.apiKey)
	}
	for k, v := range g.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &ProviderError{Provider: "gemini", Message: fmt.Sprintf("request failed: %v", err), Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, &ProviderError{Provider: "gemini", Code: resp.StatusCode, Message: geminiErrorMessage(body)}
	}
	return resp, nil
}

func (g *GeminiAPIClient) buildRequestBody(req CompletionRequest) geminiRequest {
	body := geminiRequest{}
	if req.System != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	for _, m := range req.Messages {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		// Consecutive turns from the same role are merged.
		if n := len(body.Contents); n > 0 && body.Contents[n-1].Role == role {
			body.Contents[n-1].Parts = append(body.Contents[n-1].Parts, geminiPart{Text: m.Content})
			continue
		}
		body.Contents = append(body.Contents, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content}}})
	}

	gc := &geminiGenerationConfig{}
	if req.MaxTokens > 0 {
		gc.MaxOutputTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		gc.Temperature = req.Temperature
	}
	if req.ThinkingBudget > 0 {
		gc.ThinkingConfig = &geminiThinkingConfig{ThinkingBudget: req.ThinkingBudget, IncludeThoughts: true}
	}
	body.GenerationConfig = gc
	return body
}

func geminiErrorMessage(body []byte) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return strings.TrimSpace(string(body))
}

type geminiRequest struct {
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Contents          []geminiContent         `json:"contents"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int                   `json:"maxOutputTokens,omitempty"`
	Temperature     *float64              `json:"temperature,omitempty"`
	ThinkingConfig  *geminiThinkingConfig `json:"thinkingConfig,omitempty"`
}

type geminiThinkingConfig struct {
	ThinkingBudget  int  `json:"thinkingBudget"`
	IncludeThoughts bool `json:"includeThoughts"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text    string `json:"text,omitempty"`
	Thought bool   `json:"thought,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

// accumulate folds one response (or stream chunk) into out. When emit is
// set, each text part is forwarded; a false return stops the stream.
func (r *geminiResponse) accumulate(out *CompletionResponse, emit func(StreamEvent) bool) bool {
	if r.ModelVersion != "" {
		out.Model = r.ModelVersion
	}
	if r.UsageMetadata.PromptTokenCount > 0 || r.UsageMetadata.CandidatesTokenCount > 0 {
		out.Usage = Usage{
			InputTokens:  r.UsageMetadata.PromptTokenCount,
			OutputTokens: r.UsageMetadata.CandidatesTokenCount,
		}
	}
	if len(r.Candidates) == 0 {
		return true
	}
	c := r.Candidates[0]
	if c.FinishReason != "" {
		out.StopReason = c.FinishReason
	}
	for _, part := range c.Content.Parts {
		if part.Text == "" {
			continue
		}
		ev := StreamEvent{Type: EventDelta, Content: part.Text}
		if part.Thought {
			out.Thinking += part.Text
			ev.Type = EventThinking
		} else {
			out.Content += part.Text
		}
		if emit != nil && !emit(ev) {
			return false
		}
	}
	return true
}
