package provider

// Pricing is the cost model for one model.
type Pricing struct {
	PerRequest       float64 `json:"per_request" yaml:"per_request" toml:"per_request"`
	InputPerMillion  float64 `json:"input_per_million" yaml:"input_per_million" toml:"input_per_million"`
	OutputPerMillion float64 `json:"output_per_million" yaml:"output_per_million" toml:"output_per_million"`
	PerThousandChars float64 `json:"per_thousand_chars" yaml:"per_thousand_chars" toml:"per_thousand_chars"`
}

// Tokens prices a token-metered call.
func (p Pricing) Tokens(input, output int) float64 {
	return p.PerRequest +
		float64(input)*p.InputPerMillion/1_000_000 +
		float64(output)*p.OutputPerMillion/1_000_000
}

// Characters prices a character-metered call.
func (p Pricing) Characters(n int) float64 {
	return p.PerRequest + float64(n)*p.PerThousandChars/1000
}

// PriceTable maps model identifiers to pricing. The "default" entry
// covers unlisted models.
type PriceTable map[string]Pricing

// For returns the pricing for model.
func (t PriceTable) For(model string) Pricing {
	if p, ok := t[model]; ok {
		return p
	}
	return t["default"]
}

// Default price tables. Deployments override them from configuration.
var (
	DefaultResearchPrices = PriceTable{
		"default": {PerRequest: 0.005, InputPerMillion: 3, OutputPerMillion: 15},
	}
	DefaultChatPrices = PriceTable{
		"default": {InputPerMillion: 3, OutputPerMillion: 15},
	}
	DefaultSpeechPrices = PriceTable{
		"default": {PerThousandChars: 0.18},
	}
)

// defaultMaxTokens bounds output estimates when a request sets none.
const defaultMaxTokens = 1024
