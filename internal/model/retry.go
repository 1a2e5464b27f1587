package model

import (
	"strings"
	"time"
)

// RetryConfig bounds the retry loop around a model call.
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig retries twice after the first failure with a short
// exponential backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		MaxInterval:     10 * time.Second,
	}
}

// retryablePatterns groups provider error substrings that indicate a
// transient condition worth retrying. Matching is case-insensitive.
var retryablePatterns = [][]string{
	{"rate limit", "quota exceeded", "429", "resource exhausted"},
	{"500", "502", "503", "504", "unavailable", "overloaded"},
	{"connection reset", "timeout", "temporary"},
}

// retryableError reports whether err looks transient. Context
// cancellation is never retryable: the caller is gone.
func retryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "context canceled") || strings.Contains(msg, "deadline exceeded") {
		return false
	}
	for _, group := range retryablePatterns {
		for _, pattern := range group {
			if strings.Contains(msg, pattern) {
				return true
			}
		}
	}
	return false
}

// nextDelay doubles the backoff up to the configured ceiling.
func (c RetryConfig) nextDelay(delay time.Duration) time.Duration {
	delay *= 2
	if delay > c.MaxInterval {
		delay = c.MaxInterval
	}
	return delay
}
