package llm

// Per-million-token USD pricing, approximate. Unknown models cost zero
// rather than failing the call.
var pricing = map[string][2]float64{
	"gpt-4o":                    {2.50, 10.00},
	"gpt-4o-mini":               {0.15, 0.60},
	"gpt-4-turbo":               {10.00, 30.00},
	"gpt-3.5-turbo":             {0.50, 1.50},
	"text-embedding-3-small":    {0.02, 0},
	"text-embedding-3-large":    {0.13, 0},
	"claude-sonnet-4-20250514":  {3.00, 15.00},
	"claude-opus-4-20250514":    {15.00, 75.00},
	"claude-3-haiku-20240307":   {0.25, 1.25},
}

func CalculateCost(model string, inputTokens, outputTokens int) float64 {
	p, ok := pricing[model]
	if !ok {
		return 0
	}
	return float64(inputTokens)/1e6*p[0] + float64(outputTokens)/1e6*p[1]
}
