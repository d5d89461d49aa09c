package pricing

import (
	"math"
	"strings"

	"google.golang.org/genai"

	"github.com/finlens-poc/server/internal/analysis/model"
)

// Rates holds USD prices per 1M tokens within one pricing tier. Storage is an
// hourly rate for cached content and does not vary between tiers.
type Rates struct {
	Input     float64
	Output    float64
	CacheRead float64
	Storage   float64
}

// Tiers describes the pricing brackets of one model family. TierLimit is the
// prompt-token count at which Tier2 rates take over.
type Tiers struct {
	TierLimit int64
	Tier1     Rates
	Tier2     Rates
}

const (
	ModelFlash = "gemini-2.5-flash"
	ModelPro   = "gemini-2.5-pro"

	defaultTierLimit = 128_000
)

// priceTable holds current Gemini API pricing (Standard; text tokens).
// Flash pricing is flat; the two identical tiers keep the structure uniform.
var priceTable = map[string]Tiers{
	ModelFlash: {
		TierLimit: defaultTierLimit,
		Tier1:     Rates{Input: 0.30, Output: 2.50, CacheRead: 0.03, Storage: 1.00},
		Tier2:     Rates{Input: 0.30, Output: 2.50, CacheRead: 0.03, Storage: 1.00},
	},
	ModelPro: {
		TierLimit: 200_000,
		Tier1:     Rates{Input: 1.25, Output: 10.00, CacheRead: 0.125, Storage: 4.50},
		Tier2:     Rates{Input: 2.50, Output: 15.00, CacheRead: 0.25, Storage: 4.50},
	},
}

// ResolveModel normalizes a model identifier to a key in the price table.
// Anything that is not explicitly a Pro model is billed as Flash.
func ResolveModel(modelName string) string {
	if strings.Contains(strings.ToLower(modelName), "pro") {
		return ModelPro
	}
	return ModelFlash
}

func resolveTiers(modelName string) Tiers {
	if t, ok := priceTable[ResolveModel(modelName)]; ok {
		return t
	}
	return priceTable[ModelFlash]
}

// CalculateInteractionCost converts the token usage of a single generation
// turn into a USD cost summary. Absent counters are treated as zero; the
// function never fails.
//
// The prompt token count includes tokens served from the content cache, so the
// input rate applies only to (prompt - cached + tool-use) tokens, while cached
// tokens are billed at the cache-read rate. Tier selection uses the total
// prompt size, which is the standard heuristic for context-window price breaks.
func CalculateInteractionCost(usage *genai.GenerateContentResponseUsageMetadata, modelName string) *model.CostData {
	modelKey := ResolveModel(modelName)
	tiers := resolveTiers(modelName)

	var promptTokens, cachedTokens, candidateTokens, toolTokens, thoughtTokens int64
	if usage != nil {
		promptTokens = int64(usage.PromptTokenCount)
		cachedTokens = int64(usage.CachedContentTokenCount)
		candidateTokens = int64(usage.CandidatesTokenCount)
		toolTokens = int64(usage.ToolUsePromptTokenCount)
		thoughtTokens = int64(usage.ThoughtsTokenCount)
	}

	newInputTokens := promptTokens - cachedTokens + toolTokens
	if newInputTokens < 0 {
		newInputTokens = 0
	}
	totalOutputTokens := candidateTokens + thoughtTokens

	rates := tiers.Tier1
	if promptTokens > tiers.TierLimit {
		rates = tiers.Tier2
	}

	inputCost := float64(newInputTokens) / 1_000_000 * rates.Input
	outputCost := float64(totalOutputTokens) / 1_000_000 * rates.Output
	cacheReadCost := float64(cachedTokens) / 1_000_000 * rates.CacheRead

	return &model.CostData{
		ModelUsed: modelKey,
		Currency:  "USD",
		TokenBreakdown: model.TokenBreakdown{
			NewInput:    newInputTokens,
			CachedInput: cachedTokens,
			Output:      totalOutputTokens,
			Total:       promptTokens + totalOutputTokens,
		},
		CostBreakdown: model.CostBreakdown{
			InputCost:     round6(inputCost),
			OutputCost:    round6(outputCost),
			CacheReadCost: round6(cacheReadCost),
		},
		TotalCost: round6(inputCost + outputCost + cacheReadCost),
	}
}

// CalculateStorageCost prices keeping cachedTokens resident for
// durationMinutes: (tokens / 1M) * hourly storage rate * hours. The storage
// rate is flat across tiers, taken from tier 1.
func CalculateStorageCost(cachedTokens int64, durationMinutes float64, modelName string) float64 {
	tiers := resolveTiers(modelName)
	tokenUnits := float64(cachedTokens) / 1_000_000
	hours := durationMinutes / 60.0
	return round6(tokenUnits * tiers.Tier1.Storage * hours)
}

// ApplyStorageCost folds a fixed-duration storage component into an existing
// cost summary, keeping the total consistent with the itemized breakdown.
func ApplyStorageCost(cost *model.CostData, durationMinutes float64, modelName string) {
	storage := CalculateStorageCost(cost.TokenBreakdown.CachedInput, durationMinutes, modelName)
	cost.CostBreakdown.StorageCost = &storage
	cost.TotalCost = round6(cost.TotalCost + storage)
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
