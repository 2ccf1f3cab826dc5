package pricing

import (
	_ "embed"
	"encoding/json"
	"sync"

	"github.com/xxxsen/admitrag/internal/model"
)

//go:embed model_pricing.json
var pricingRaw []byte

type ModelPricing struct {
	InPer1M  float64 `json:"in_per_1m"`
	OutPer1M float64 `json:"out_per_1m"`
}

var (
	loadOnce sync.Once
	table    map[string]ModelPricing
)

func load() map[string]ModelPricing {
	loadOnce.Do(func() {
		if err := json.Unmarshal(pricingRaw, &table); err != nil {
			table = map[string]ModelPricing{}
		}
	})
	return table
}

func PriceFor(modelName string) (ModelPricing, bool) {
	p, ok := load()[modelName]
	return p, ok
}

// Estimate returns nil when the model is unpriced or either token count is
// missing. Cost is never extrapolated from partial usage.
func Estimate(modelName string, usage *model.Usage) *float64 {
	if modelName == "" || usage == nil {
		return nil
	}
	if usage.PromptTokens == nil || usage.CompletionTokens == nil {
		return nil
	}
	p, ok := PriceFor(modelName)
	if !ok {
		return nil
	}
	cost := (float64(*usage.PromptTokens)*p.InPer1M + float64(*usage.CompletionTokens)*p.OutPer1M) / 1_000_000
	return &cost
}
