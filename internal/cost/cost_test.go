package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/librarian-ai/librarian/internal/model"
)

func TestCompute_ZeroUsage(t *testing.T) {
	t.Parallel()

	m := Compute(model.Usage{}, DefaultPricing())
	assert.Zero(t, m.CostUSD)
	assert.Zero(t, m.SavingsUSD)
	assert.Zero(t, m.InputTokens)
}

func TestCompute_AllComponents(t *testing.T) {
	t.Parallel()

	u := model.Usage{
		InputTokens:      1_000_000,
		OutputTokens:     200_000,
		CacheWriteTokens: 400_000,
		CacheReadTokens:  2_000_000,
	}
	m := Compute(u, DefaultPricing())

	// 1M*3.00 + 0.2M*15.00 + 0.4M*3.75 + 2M*0.30
	assert.InDelta(t, 3.00+3.00+1.50+0.60, m.CostUSD, 1e-9)
	// 2M cache reads at 3.00 fresh vs 0.30 cached
	assert.InDelta(t, 6.00-0.60, m.SavingsUSD, 1e-9)
	assert.Equal(t, u.InputTokens, m.InputTokens)
	assert.Equal(t, u.CacheReadTokens, m.CacheReadTokens)
}

func TestCompute_SavingsNeverNegative(t *testing.T) {
	t.Parallel()

	// Degenerate rate card where cached reads cost more than fresh input.
	p := Pricing{InputPerMTok: 0.10, OutputPerMTok: 1.00, CacheReadPerMTok: 0.50}
	m := Compute(model.Usage{CacheReadTokens: 1_000_000}, p)
	assert.Zero(t, m.SavingsUSD)
}

func TestCompute_NoCacheNoSavings(t *testing.T) {
	t.Parallel()

	m := Compute(model.Usage{InputTokens: 500_000, OutputTokens: 100_000}, DefaultPricing())
	assert.InDelta(t, 1.50+1.50, m.CostUSD, 1e-9)
	assert.Zero(t, m.SavingsUSD)
}
