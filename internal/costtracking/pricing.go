package costtracking

import (
	"strings"

	"github.com/conceptmesh/backend/internal/llm"
)

// ModelRates are USD per million tokens.
type ModelRates struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

var modelRates = map[string]ModelRates{
	llm.ModelClaudeHaiku:   {InputPerMTok: 0.25, OutputPerMTok: 1.25},
	llm.ModelClaudeSonnet4: {InputPerMTok: 3.00, OutputPerMTok: 15.00},
	llm.ModelGPT4Turbo:     {InputPerMTok: 10.00, OutputPerMTok: 30.00},
	llm.ModelGPT4Vision:    {InputPerMTok: 10.00, OutputPerMTok: 30.00},
}

// Conservative pre-flight floors for when no document text is available to
// size the prompt.
var floorEstimates = map[string]float64{
	llm.ModelClaudeHaiku:   0.02,
	llm.ModelClaudeSonnet4: 0.10,
	llm.ModelGPT4Turbo:     0.10,
	llm.ModelGPT4Vision:    0.10,
}

func RatesFor(model string) (ModelRates, bool) {
	r, ok := modelRates[strings.ToLower(strings.TrimSpace(model))]
	return r, ok
}

// CalculateCost converts a token count into USD. Linear in each count.
func CalculateCost(inputTokens, outputTokens int, model string) (float64, error) {
	rates, ok := RatesFor(model)
	if !ok {
		return 0, &CalculationError{Model: model}
	}
	return float64(inputTokens)/1_000_000*rates.InputPerMTok +
		float64(outputTokens)/1_000_000*rates.OutputPerMTok, nil
}

// EstimateCost prices an estimated token count assuming a 2:1 input:output
// split, floored at the model's conservative minimum.
func EstimateCost(estimatedTokens int, model string) (float64, error) {
	rates, ok := RatesFor(model)
	if !ok {
		return 0, &CalculationError{Model: model}
	}
	input := float64(estimatedTokens) * 2 / 3
	output := float64(estimatedTokens) / 3
	cost := input/1_000_000*rates.InputPerMTok + output/1_000_000*rates.OutputPerMTok
	if floor, ok := floorEstimates[strings.ToLower(strings.TrimSpace(model))]; ok && cost < floor {
		cost = floor
	}
	return cost, nil
}
