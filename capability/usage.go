package capability

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dshills/research-assistant/graph/model"
)

// ModelPricing is the token price of a model in USD per 1M tokens.
type ModelPricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// defaultPricing covers the models the assistant is usually configured with.
// Unknown models are recorded at zero cost.
var defaultPricing = map[string]ModelPricing{
	"llama-3.3-70b-versatile":                   {InputPer1M: 0.59, OutputPer1M: 0.79},
	"llama-3.1-8b-instant":                      {InputPer1M: 0.05, OutputPer1M: 0.08},
	"meta-llama/llama-4-scout-17b-16e-instruct": {InputPer1M: 0.11, OutputPer1M: 0.34},
	"gpt-4o":                                    {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":                               {InputPer1M: 0.15, OutputPer1M: 0.60},
	"claude-3-5-haiku-latest":                   {InputPer1M: 0.80, OutputPer1M: 4.00},
	"claude-3-5-sonnet-latest":                  {InputPer1M: 3.00, OutputPer1M: 15.00},
	"gemini-1.5-flash":                          {InputPer1M: 0.075, OutputPer1M: 0.30},
	"gemini-2.5-flash":                          {InputPer1M: 0.30, OutputPer1M: 2.50},
}

// TierUsage is the accumulated usage of one tier.
type TierUsage struct {
	Tier         string
	Model        string
	Calls        int
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
}

// UsageTracker accumulates token usage and estimated cost per tier.
// A nil *UsageTracker ignores every call.
type UsageTracker struct {
	mu      sync.Mutex
	pricing map[string]ModelPricing
	tiers   map[string]*TierUsage
}

// NewUsageTracker creates a tracker with the default price table.
func NewUsageTracker() *UsageTracker {
	pricing := make(map[string]ModelPricing, len(defaultPricing))
	for k, v := range defaultPricing {
		pricing[k] = v
	}
	return &UsageTracker{pricing: pricing, tiers: make(map[string]*TierUsage)}
}

// SetPricing overrides the price of a model.
func (u *UsageTracker) SetPricing(modelName string, p ModelPricing) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.pricing[modelName] = p
}

// Record adds one completion's usage to tier.
func (u *UsageTracker) Record(tier, modelName string, usage model.Usage) {
	if u == nil {
		return
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	t, ok := u.tiers[tier]
	if !ok {
		t = &TierUsage{Tier: tier, Model: modelName}
		u.tiers[tier] = t
	}

	price := u.pricing[modelName]
	t.Calls++
	t.InputTokens += int64(usage.InputTokens)
	t.OutputTokens += int64(usage.OutputTokens)
	t.CostUSD += float64(usage.InputTokens)/1_000_000*price.InputPer1M +
		float64(usage.OutputTokens)/1_000_000*price.OutputPer1M
}

// Snapshot returns the usage of every tier, sorted by tier name.
func (u *UsageTracker) Snapshot() []TierUsage {
	if u == nil {
		return nil
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	out := make([]TierUsage, 0, len(u.tiers))
	for _, t := range u.tiers {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tier < out[j].Tier })
	return out
}

// TotalCost returns the estimated cost over all tiers in USD.
func (u *UsageTracker) TotalCost() float64 {
	var total float64
	for _, t := range u.Snapshot() {
		total += t.CostUSD
	}
	return total
}

// String returns a one-line summary.
func (u *UsageTracker) String() string {
	var calls int
	var in, out int64
	for _, t := range u.Snapshot() {
		calls += t.Calls
		in += t.InputTokens
		out += t.OutputTokens
	}
	return fmt.Sprintf("calls=%d input_tokens=%d output_tokens=%d cost=$%.4f", calls, in, out, u.TotalCost())
}
