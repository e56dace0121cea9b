package llm

import "strings"

// modelRatesPer1K maps normalized model names to (input, output) USD rates
// per thousand tokens. Models outside the table use the configured fallback
// rates; a zero fallback disables estimation for that model.
var modelRatesPer1K = map[string][2]float64{
	"gpt-5":       {0.00125, 0.01},
	"gpt-5-mini":  {0.00025, 0.002},
	"gpt-5-nano":  {0.00005, 0.0004},
	"gpt-4o-mini": {0.00015, 0.0006},
	"o4-mini":     {0.0011, 0.0044},
}

// PriceTable estimates call cost from reported usage. The estimate is
// advisory only; grading never blocks on its absence.
type PriceTable struct {
	FallbackInputPer1K  float64
	FallbackOutputPer1K float64
	ImageTokensPerImage int
}

// NormalizeModel collapses dated model suffixes onto their base price entry.
// An exact table entry always wins; otherwise the longest matching prefix
// does, so "gpt-5-mini-2025-01-01" lands on gpt-5-mini, never gpt-5.
func NormalizeModel(model string) string {
	if model == "" {
		return ""
	}

	model = strings.ToLower(model)
	if _, ok := modelRatesPer1K[model]; ok {
		return model
	}

	best := ""
	for key := range modelRatesPer1K {
		if strings.HasPrefix(model, key+"-") && len(key) > len(best) {
			best = key
		}
	}
	if best != "" {
		return best
	}

	return model
}

// Rates returns the per-1K token rates for a model, falling back to the
// configured defaults for unlisted models.
func (t PriceTable) Rates(model string) (inputRate, outputRate float64) {
	if rates, ok := modelRatesPer1K[NormalizeModel(model)]; ok {
		return rates[0], rates[1]
	}

	return t.FallbackInputPer1K, t.FallbackOutputPer1K
}

// Estimate computes the advisory price for a call. Image inputs count a
// fixed token estimate each since endpoints rarely report them. Returns nil
// when no rates are configured for the model.
func (t PriceTable) Estimate(model string, usage Usage, imageCount int) *float64 {
	inputRate, outputRate := t.Rates(model)
	if inputRate <= 0 && outputRate <= 0 {
		return nil
	}

	promptTokens := usage.PromptTokens + imageCount*t.ImageTokensPerImage
	price := (float64(promptTokens)/1000.0)*inputRate + (float64(usage.CompletionTokens)/1000.0)*outputRate
	return &price
}
