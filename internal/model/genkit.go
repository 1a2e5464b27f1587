package model

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/librarian-ai/librarian/internal/log"
)

// GenkitConfig configures the production backend.
type GenkitConfig struct {
	Genkit       *genkit.Genkit
	ModelName    string
	SystemPrompt string
	Tools        []ai.Tool
	Retry        RetryConfig
	Breaker      CircuitBreakerConfig
	// Limiter throttles outbound model calls. Optional.
	Limiter *rate.Limiter
	Logger  log.Logger
}

func (c GenkitConfig) validate() error {
	if c.Genkit == nil {
		return fmt.Errorf("genkit instance is required")
	}
	if c.ModelName == "" {
		return fmt.Errorf("model name is required")
	}
	return nil
}

// GenkitBackend calls the configured model through Genkit. Tool requests
// are returned to the caller instead of being executed inline, so the
// turn orchestrator owns the tool loop.
type GenkitBackend struct {
	g        *genkit.Genkit
	model    string
	system   string
	toolRefs []ai.ToolRef
	retry    RetryConfig
	breaker  *CircuitBreaker
	limiter  *rate.Limiter
	logger   log.Logger
}

// NewGenkitBackend validates cfg and returns a ready backend.
func NewGenkitBackend(cfg GenkitConfig) (*GenkitBackend, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid backend config: %w", err)
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	refs := make([]ai.ToolRef, 0, len(cfg.Tools))
	for _, t := range cfg.Tools {
		refs = append(refs, t)
	}
	return &GenkitBackend{
		g:        cfg.Genkit,
		model:    cfg.ModelName,
		system:   cfg.SystemPrompt,
		toolRefs: refs,
		retry:    cfg.Retry,
		breaker:  NewCircuitBreaker(cfg.Breaker),
		limiter:  cfg.Limiter,
		logger:   cfg.Logger,
	}, nil
}

// Generate runs one model call with retry and circuit breaking. Text
// deltas flow through cb as they arrive; tool requests come back on the
// Result for the caller to dispatch.
func (b *GenkitBackend) Generate(ctx context.Context, msgs []*ai.Message, cb StreamCallback) (*Result, error) {
	if !b.breaker.Allow() {
		return nil, ErrCircuitOpen
	}

	opts := []ai.GenerateOption{
		ai.WithModelName(b.model),
		ai.WithMessages(msgs...),
		ai.WithReturnToolRequests(true),
	}
	if b.system != "" {
		opts = append(opts, ai.WithSystem(b.system))
	}
	if len(b.toolRefs) > 0 {
		opts = append(opts, ai.WithTools(b.toolRefs...))
	}
	if cb != nil {
		opts = append(opts, ai.WithStreaming(func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
			if chunk == nil {
				return nil
			}
			for _, part := range chunk.Content {
				if part.Text != "" {
					if err := cb(ctx, part.Text); err != nil {
						return err
					}
				}
			}
			return nil
		}))
	}

	resp, err := b.generateWithRetry(ctx, opts)
	if err != nil {
		// A caller-side cancellation says nothing about provider health.
		if ctx.Err() == nil {
			b.breaker.Failure()
		}
		return nil, err
	}
	b.breaker.Success()
	return mapResponse(resp)
}

// generateWithRetry retries transient provider failures with exponential
// backoff, honoring ctx at every wait point.
func (b *GenkitBackend) generateWithRetry(ctx context.Context, opts []ai.GenerateOption) (*ai.ModelResponse, error) {
	delay := b.retry.InitialInterval
	var lastErr error

	for attempt := 1; attempt <= b.retry.MaxAttempts; attempt++ {
		if b.limiter != nil {
			if err := b.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limiter wait: %w", err)
			}
		}

		resp, err := genkit.Generate(ctx, b.g, opts...)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !retryableError(err) {
			return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
		}
		if attempt == b.retry.MaxAttempts {
			break
		}

		b.logger.Warn("model call failed, retrying",
			"attempt", attempt,
			"delay", delay.String(),
			"error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay = b.retry.nextDelay(delay)
	}

	return nil, fmt.Errorf("%w: %d attempts: %w", ErrModelUnavailable, b.retry.MaxAttempts, lastErr)
}

// mapResponse converts a Genkit response to the backend-neutral Result.
// Providers that omit a tool call ref get a generated ID so the
// request/response pairing survives the round trip.
func mapResponse(resp *ai.ModelResponse) (*Result, error) {
	res := &Result{
		Text:    resp.Text(),
		Message: resp.Message,
	}
	for _, tr := range resp.ToolRequests() {
		input, err := json.Marshal(tr.Input)
		if err != nil {
			return nil, fmt.Errorf("marshal tool input for %q: %w", tr.Name, err)
		}
		id := tr.Ref
		if id == "" {
			id = uuid.NewString()
		}
		res.ToolCalls = append(res.ToolCalls, ToolCall{
			ID:    id,
			Name:  tr.Name,
			Input: input,
		})
	}
	if u := resp.Usage; u != nil {
		res.Usage = Usage{
			InputTokens:     int64(u.InputTokens),
			OutputTokens:    int64(u.OutputTokens),
			CacheReadTokens: int64(u.CachedContentTokens),
		}
	}
	return res, nil
}
