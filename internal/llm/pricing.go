package llm

// Price is the per-million-token list price of a model in USD.
type Price struct {
	InputPerMillion       float64
	CachedInputPerMillion float64
	OutputPerMillion      float64
}

// PriceTable maps model names to prices.
type PriceTable map[string]Price

// DefaultPrices returns list prices for the default models.
func DefaultPrices() PriceTable {
	return PriceTable{
		"gpt-4o-mini":           {InputPerMillion: 0.15, CachedInputPerMillion: 0.075, OutputPerMillion: 0.60},
		"gpt-4o":                {InputPerMillion: 2.50, CachedInputPerMillion: 1.25, OutputPerMillion: 10.00},
		"gpt-4.1-mini":          {InputPerMillion: 0.40, CachedInputPerMillion: 0.10, OutputPerMillion: 1.60},
		"gemini-2.5-flash-lite": {InputPerMillion: 0.10, CachedInputPerMillion: 0.025, OutputPerMillion: 0.40},
		"gemini-2.5-flash":      {InputPerMillion: 0.30, CachedInputPerMillion: 0.075, OutputPerMillion: 2.50},
		"gemini-2.5-pro":        {InputPerMillion: 1.25, CachedInputPerMillion: 0.31, OutputPerMillion: 10.00},
	}
}

// Estimate returns the estimated cost of usage on model and the savings from
// cached prompt tokens. Unknown models cost nothing.
func (t PriceTable) Estimate(model string, usage Usage) (cost, savings float64) {
	price, ok := t[model]
	if !ok {
		return 0, 0
	}

	cached := min(usage.CachedTokens, usage.PromptTokens)
	uncached := usage.PromptTokens - cached

	cost = (float64(uncached)*price.InputPerMillion +
		float64(cached)*price.CachedInputPerMillion +
		float64(usage.CompletionTokens)*price.OutputPerMillion) / 1_000_000
	savings = float64(cached) * (price.InputPerMillion - price.CachedInputPerMillion) / 1_000_000
	return cost, savings
}
