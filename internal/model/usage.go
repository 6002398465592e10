package model

// ModelTier is the executor model cost tier.
type ModelTier string

const (
	ModelTierCheap     ModelTier = "cheap"
	ModelTierMedium    ModelTier = "medium"
	ModelTierExpensive ModelTier = "expensive"
)

// TierPricing holds per-million-token costs in USD.
type TierPricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

var tierPricing = map[ModelTier]TierPricing{
	ModelTierCheap:     {InputPer1M: 0.10, OutputPer1M: 0.10},
	ModelTierMedium:    {InputPer1M: 0.50, OutputPer1M: 0.50},
	ModelTierExpensive: {InputPer1M: 3.00, OutputPer1M: 15.00},
}

// Usage is the executor token usage of an attempt.
type Usage struct {
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	Tier         ModelTier `json:"tier,omitempty"`
}

// Total returns the total tokens.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// CostUSD estimates the cost of the usage. Unknown tiers are priced as medium.
func (u Usage) CostUSD() float64 {
	p, ok := tierPricing[u.Tier]
	if !ok {
		p = tierPricing[ModelTierMedium]
	}
	return (float64(u.InputTokens)/1_000_000)*p.InputPer1M + (float64(u.OutputTokens)/1_000_000)*p.OutputPer1M
}
