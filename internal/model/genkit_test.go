package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testModelName = "mock/test-model"

// defineTestModel registers fn as a genkit model on a fresh registry.
func defineTestModel(t *testing.T, fn func(context.Context, *ai.ModelRequest, ai.ModelStreamCallback) (*ai.ModelResponse, error)) *genkit.Genkit {
	t.Helper()
	g := genkit.Init(context.Background())
	require.NotNil(t, g)
	genkit.DefineModel(g, testModelName, &ai.ModelOptions{
		Supports: &ai.ModelSupports{
			Multiturn:  true,
			Tools:      true,
			SystemRole: true,
		},
	}, fn)
	return g
}

func textResponse(req *ai.ModelRequest, text string, usage *ai.GenerationUsage) *ai.ModelResponse {
	return &ai.ModelResponse{
		Request: req,
		Usage:   usage,
		Message: &ai.Message{
			Role:    ai.RoleModel,
			Content: []*ai.Part{ai.NewTextPart(text)},
		},
	}
}

func TestNewGenkitBackend_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewGenkitBackend(GenkitConfig{ModelName: testModelName})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "genkit instance")

	g := genkit.Init(context.Background())
	_, err = NewGenkitBackend(GenkitConfig{Genkit: g})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model name")
}

func TestGenkitBackend_GenerateStreamsText(t *testing.T) {
	t.Parallel()

	g := defineTestModel(t, func(ctx context.Context, req *ai.ModelRequest, cb ai.ModelStreamCallback) (*ai.ModelResponse, error) {
		for _, piece := range []string{"Hello", ", ", "world"} {
			if cb != nil {
				require.NoError(t, cb(ctx, &ai.ModelResponseChunk{Content: []*ai.Part{ai.NewTextPart(piece)}}))
			}
		}
		return textResponse(req, "Hello, world", &ai.GenerationUsage{
			InputTokens:         120,
			OutputTokens:        8,
			CachedContentTokens: 90,
		}), nil
	})

	backend, err := NewGenkitBackend(GenkitConfig{Genkit: g, ModelName: testModelName})
	require.NoError(t, err)

	var chunks []string
	res, err := backend.Generate(context.Background(), []*ai.Message{ai.NewUserMessage(ai.NewTextPart("hi"))},
		func(_ context.Context, text string) error {
			chunks = append(chunks, text)
			return nil
		})
	require.NoError(t, err)

	assert.Equal(t, "Hello, world", res.Text)
	assert.Equal(t, "Hello, world", strings.Join(chunks, ""))
	assert.Empty(t, res.ToolCalls)
	assert.Equal(t, Usage{InputTokens: 120, OutputTokens: 8, CacheReadTokens: 90}, res.Usage)
	require.NotNil(t, res.Message)
	assert.Equal(t, ai.RoleModel, res.Message.Role)
}

func TestGenkitBackend_ReturnsToolRequests(t *testing.T) {
	t.Parallel()

	g := defineTestModel(t, func(_ context.Context, req *ai.ModelRequest, _ ai.ModelStreamCallback) (*ai.ModelResponse, error) {
		return &ai.ModelResponse{
			Request: req,
			Message: &ai.Message{
				Role: ai.RoleModel,
				Content: []*ai.Part{{
					Kind: ai.PartToolRequest,
					ToolRequest: &ai.ToolRequest{
						Name:  "search_docs",
						Input: map[string]any{"query": "indexing", "limit": float64(3)},
					},
				}},
			},
		}, nil
	})

	backend, err := NewGenkitBackend(GenkitConfig{Genkit: g, ModelName: testModelName})
	require.NoError(t, err)

	res, err := backend.Generate(context.Background(), []*ai.Message{ai.NewUserMessage(ai.NewTextPart("find docs"))}, nil)
	require.NoError(t, err)

	require.Len(t, res.ToolCalls, 1)
	call := res.ToolCalls[0]
	assert.Equal(t, "search_docs", call.Name)
	assert.NotEmpty(t, call.ID, "missing provider ref gets a generated ID")
	assert.JSONEq(t, `{"query":"indexing","limit":3}`, string(call.Input))
}

func TestGenkitBackend_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	g := defineTestModel(t, func(_ context.Context, req *ai.ModelRequest, _ ai.ModelStreamCallback) (*ai.ModelResponse, error) {
		if attempts.Add(1) < 3 {
			return nil, errors.New("model unavailable: 503")
		}
		return textResponse(req, "recovered", nil), nil
	})

	backend, err := NewGenkitBackend(GenkitConfig{
		Genkit:    g,
		ModelName: testModelName,
		Retry: RetryConfig{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			MaxInterval:     2 * time.Millisecond,
		},
	})
	require.NoError(t, err)

	res, err := backend.Generate(context.Background(), []*ai.Message{ai.NewUserMessage(ai.NewTextPart("hi"))}, nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered", res.Text)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestGenkitBackend_NonRetryableFailsFast(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	g := defineTestModel(t, func(_ context.Context, _ *ai.ModelRequest, _ ai.ModelStreamCallback) (*ai.ModelResponse, error) {
		attempts.Add(1)
		return nil, errors.New("invalid api key")
	})

	backend, err := NewGenkitBackend(GenkitConfig{
		Genkit:    g,
		ModelName: testModelName,
		Retry:     RetryConfig{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
	})
	require.NoError(t, err)

	_, err = backend.Generate(context.Background(), []*ai.Message{ai.NewUserMessage(ai.NewTextPart("hi"))}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelUnavailable)
	assert.Equal(t, int32(1), attempts.Load(), "non-retryable errors are not retried")
}

func TestGenkitBackend_RetryBudgetExhausted(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	g := defineTestModel(t, func(_ context.Context, _ *ai.ModelRequest, _ ai.ModelStreamCallback) (*ai.ModelResponse, error) {
		return nil, fmt.Errorf("attempt %d: rate limit", attempts.Add(1))
	})

	backend, err := NewGenkitBackend(GenkitConfig{
		Genkit:    g,
		ModelName: testModelName,
		Retry:     RetryConfig{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
	})
	require.NoError(t, err)

	_, err = backend.Generate(context.Background(), []*ai.Message{ai.NewUserMessage(ai.NewTextPart("hi"))}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelUnavailable)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestGenkitBackend_CircuitOpensAfterFailures(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	g := defineTestModel(t, func(_ context.Context, _ *ai.ModelRequest, _ ai.ModelStreamCallback) (*ai.ModelResponse, error) {
		attempts.Add(1)
		return nil, errors.New("permission denied")
	})

	backend, err := NewGenkitBackend(GenkitConfig{
		Genkit:    g,
		ModelName: testModelName,
		Retry:     RetryConfig{MaxAttempts: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
		Breaker:   CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute},
	})
	require.NoError(t, err)

	msgs := []*ai.Message{ai.NewUserMessage(ai.NewTextPart("hi"))}
	for range 2 {
		_, err = backend.Generate(context.Background(), msgs, nil)
		require.Error(t, err)
	}

	_, err = backend.Generate(context.Background(), msgs, nil)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), attempts.Load(), "open circuit short-circuits before the provider")
}

func TestToolResponseMessage(t *testing.T) {
	t.Parallel()

	msg := ToolResponseMessage("call-1", "get_catalog", map[string]any{"count": 2})
	require.Equal(t, ai.RoleTool, msg.Role)
	require.Len(t, msg.Content, 1)
	require.NotNil(t, msg.Content[0].ToolResponse)
	assert.Equal(t, "call-1", msg.Content[0].ToolResponse.Ref)
	assert.Equal(t, "get_catalog", msg.Content[0].ToolResponse.Name)
}
