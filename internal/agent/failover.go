package agent

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/BrotherOrange/PlayForge/internal/domain"
	"github.com/BrotherOrange/PlayForge/internal/llm"
	"github.com/BrotherOrange/PlayForge/internal/logging"
)

// RetryPolicy bounds retries of a model call that failed before producing
// any output.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	if p.BaseBackoff <= 0 {
		return 0
	}
	d := p.BaseBackoff << attempt
	return d + rand.N(p.BaseBackoff)
}

// modelRef is one (provider, model) pair in a failover chain.
type modelRef struct {
	Provider string
	Model    string
}

// FailoverClient streams from an agent's own provider and model, retrying
// transient failures with backoff, then walks the configured fallback
// providers using each one's default model. Retries and failover only
// happen while nothing has been emitted to the caller.
type FailoverClient struct {
	registry *llm.Registry
	chain    []modelRef
	retry    RetryPolicy
	log      *logging.Logger
}

// NewFailoverClient creates a client for provider/model with the registry's
// failover chain behind it.
func NewFailoverClient(registry *llm.Registry, provider, model string, retry RetryPolicy, log *logging.Logger) *FailoverClient {
	chain := []modelRef{{Provider: provider, Model: model}}
	for _, p := range registry.FailoverChain() {
		if p == provider || !registry.Has(p) {
			continue
		}
		chain = append(chain, modelRef{Provider: p, Model: registry.DefaultModel(p)})
	}
	return &FailoverClient{
		registry: registry,
		chain:    chain,
		retry:    retry,
		log:      log.Sub("failover"),
	}
}

// Name is the agent's own provider, the head of the chain.
func (f *FailoverClient) Name() string {
	return f.chain[0].Provider
}

// Complete tries each link in the chain, falling back on retryable errors.
func (f *FailoverClient) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var lastErr error
	for _, ref := range f.chain {
		client, err := f.registry.Resolve(ref.Provider)
		if err != nil {
			f.log.Debug().Str("provider", ref.Provider).Err(err).Msg("no client for provider, skipping")
			lastErr = err
			continue
		}

		req.Model = ref.Model
		for attempt := 0; ; attempt++ {
			resp, err := client.Complete(ctx, req)
			if err == nil {
				return resp, nil
			}
			lastErr = err
			if !isRetryable(err) {
				return nil, err
			}
			if !isTransient(err) || attempt >= f.retry.MaxAttempts {
				break
			}
			if err := sleepCtx(ctx, f.retry.backoff(attempt)); err != nil {
				return nil, err
			}
		}
		f.log.Warn().Str("provider", ref.Provider).Str("model", ref.Model).Err(lastErr).
			Msg("retryable error, trying next provider")
	}
	return nil, lastErr
}

// Stream returns a channel fed by the first link in the chain that gets past
// its first event. Errors after output has started are passed through.
func (f *FailoverClient) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
	out := make(chan llm.StreamEvent)
	go func() {
		defer close(out)
		var lastErr error
		for _, ref := range f.chain {
			client, err := f.registry.Resolve(ref.Provider)
			if err != nil {
				lastErr = err
				continue
			}

			r := req
			r.Model = ref.Model
			for attempt := 0; ; attempt++ {
				started, err := f.streamOnce(ctx, client, r, out)
				if started || err == nil {
					return
				}
				lastErr = err
				if ctx.Err() != nil || !isRetryable(err) {
					f.fail(ctx, out, err)
					return
				}
				if !isTransient(err) || attempt >= f.retry.MaxAttempts {
					break
				}
				f.log.Warn().Str("provider", ref.Provider).Int("attempt", attempt+1).Err(err).
					Msg("transient model error before first token, retrying")
				if sleepCtx(ctx, f.retry.backoff(attempt)) != nil {
					return
				}
			}
			f.log.Warn().Str("provider", ref.Provider).Str("model", ref.Model).Err(lastErr).
				Msg("provider failed, trying next")
		}
		if lastErr == nil {
			lastErr = errors.New("no model provider configured")
		}
		f.fail(ctx, out, lastErr)
	}()
	return out, nil
}

// streamOnce forwards one provider stream. It reports whether any event
// reached the caller; when none did, the provider's error is returned
// instead of forwarded.
func (f *FailoverClient) streamOnce(ctx context.Context, client llm.Client, req llm.CompletionRequest, out chan<- llm.StreamEvent) (bool, error) {
	ch, err := client.Stream(ctx, req)
	if err != nil {
		return false, err
	}

	started := false
	for ev := range ch {
		if !started && ev.Type == llm.EventError {
			// Drain so the producer can exit.
			for range ch {
			}
			return false, streamError(ev)
		}
		started = true
		select {
		case out <- ev:
		case <-ctx.Done():
			for range ch {
			}
			return true, ctx.Err()
		}
	}
	if !started {
		return false, ctx.Err()
	}
	return true, nil
}

func (f *FailoverClient) fail(ctx context.Context, out chan<- llm.StreamEvent, err error) {
	if ctx.Err() != nil {
		return
	}
	select {
	case out <- llm.StreamEvent{Type: llm.EventError, Error: err.Error(), Err: err}:
	case <-ctx.Done():
	}
}

func streamError(ev llm.StreamEvent) error {
	if ev.Err != nil {
		return ev.Err
	}
	return fmt.Errorf("%w: %s", domain.ErrModelFailure, ev.Error)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// isRetryable checks if the error suggests trying another provider.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var provErr *llm.ProviderError
	if errors.As(err, &provErr) {
		switch provErr.Code {
		case 401, 403, 429, 500, 502, 503, 504, 529:
			return true
		}
		if provErr.Code == 0 {
			return true // network-level failure
		}
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "capacity") ||
		strings.Contains(msg, "timeout")
}

// isTransient reports whether retrying the same provider may help. Auth
// failures are retryable on another provider but not on the same one.
func isTransient(err error) bool {
	var provErr *llm.ProviderError
	if errors.As(err, &provErr) && (provErr.Code == 401 || provErr.Code == 403) {
		return false
	}
	return isRetryable(err)
}
