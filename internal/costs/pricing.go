package costs

// ModelPricing holds per-million-token prices for one model.
type ModelPricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// Pricing for the Anthropic models the build pipeline is run against.
// Prices are USD per million tokens.
var modelPricing = map[string]ModelPricing{
	"claude-sonnet-4-5-20250929": {InputPerMillion: 3.00, OutputPerMillion: 15.00},
	"claude-3-5-sonnet-20241022": {InputPerMillion: 3.00, OutputPerMillion: 15.00},
	"claude-3-5-haiku-20241022":  {InputPerMillion: 0.80, OutputPerMillion: 4.00},
	"claude-opus-4-20250514":     {InputPerMillion: 15.00, OutputPerMillion: 75.00},
}

// defaultPricing is used when the configured model is not in the table.
var defaultPricing = ModelPricing{InputPerMillion: 3.00, OutputPerMillion: 15.00}

// PricingForModel returns the pricing entry for a model, falling back to
// sonnet-class pricing for unknown models.
func PricingForModel(model string) ModelPricing {
	if p, ok := modelPricing[model]; ok {
		return p
	}
	return defaultPricing
}

// Cost computes the dollar cost of a usage record under this pricing.
func (p ModelPricing) Cost(u Usage) float64 {
	return float64(u.InputTokens)/1_000_000*p.InputPerMillion +
		float64(u.OutputTokens)/1_000_000*p.OutputPerMillion
}
