// Package cost converts token usage into dollar cost and cache savings.
// Prices are expressed per million tokens, matching how providers
// publish them.
package cost

import (
	"github.com/librarian-ai/librarian/internal/model"
	"github.com/librarian-ai/librarian/internal/session"
)

// Pricing holds per-million-token rates for one model.
type Pricing struct {
	InputPerMTok      float64
	OutputPerMTok     float64
	CacheWritePerMTok float64
	CacheReadPerMTok  float64
}

// DefaultPricing is the rate card applied when the configured model has
// no explicit entry.
func DefaultPricing() Pricing {
	return Pricing{
		InputPerMTok:      3.00,
		OutputPerMTok:     15.00,
		CacheWritePerMTok: 3.75,
		CacheReadPerMTok:  0.30,
	}
}

const mTok = 1_000_000

// Compute prices a single model call. Savings is what the cache-read
// tokens would have cost at the fresh input rate, minus what they
// actually cost at the cache-read rate. It is never negative while the
// cache-read rate stays below the input rate.
func Compute(u model.Usage, p Pricing) session.CostMetrics {
	cost := float64(u.InputTokens)/mTok*p.InputPerMTok +
		float64(u.OutputTokens)/mTok*p.OutputPerMTok +
		float64(u.CacheWriteTokens)/mTok*p.CacheWritePerMTok +
		float64(u.CacheReadTokens)/mTok*p.CacheReadPerMTok

	savings := float64(u.CacheReadTokens)/mTok*p.InputPerMTok -
		float64(u.CacheReadTokens)/mTok*p.CacheReadPerMTok
	if savings < 0 {
		savings = 0
	}

	return session.CostMetrics{
		InputTokens:      u.InputTokens,
		OutputTokens:     u.OutputTokens,
		CacheWriteTokens: u.CacheWriteTokens,
		CacheReadTokens:  u.CacheReadTokens,
		CostUSD:          cost,
		SavingsUSD:       savings,
	}
}
