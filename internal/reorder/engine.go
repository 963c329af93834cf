package reorder

import (
	"sort"

	"github.com/shopspring/decimal"

	"sufrah/backend/internal/domain"
)

// Engine ranks inventory items that have fallen to or below their reorder
// level. Urgency blends how deep below the threshold the item sits with how
// much recent sales pressure it has seen.
type Engine struct {
	minUrgency float64
}

func NewEngine() *Engine {
	return &Engine{minUrgency: 0.10}
}

// Suggest scores every item against its on-hand level. consumption maps item
// id to the base quantity consumed over the lookback window and may be nil.
func (e *Engine) Suggest(items []domain.InventoryItem, levels map[string]decimal.Decimal, consumption map[string]decimal.Decimal) []domain.ReorderSuggestion {
	suggestions := make([]domain.ReorderSuggestion, 0)

	for _, item := range items {
		if !item.Active || !item.ReorderLevel.IsPositive() {
			continue
		}
		onHand := levels[item.ID]
		if onHand.GreaterThan(item.ReorderLevel) {
			continue
		}

		deficit := item.ReorderLevel.Sub(onHand)
		depthScore := clamp(toFloat(deficit)/toFloat(item.ReorderLevel), 0, 1)

		pressureScore := 0.0
		if consumption != nil {
			used := consumption[item.ID]
			if used.IsPositive() && item.ReorderLevel.IsPositive() {
				pressureScore = clamp(toFloat(used)/toFloat(item.ReorderLevel), 0, 1)
			}
		}

		urgency := 0.70*depthScore + 0.30*pressureScore
		if urgency < e.minUrgency {
			continue
		}

		suggested := item.ReorderQty
		if !suggested.IsPositive() {
			suggested = deficit
		}

		suggestions = append(suggestions, domain.ReorderSuggestion{
			ItemID:       item.ID,
			Name:         item.Name,
			BaseUnit:     item.BaseUnit,
			OnHand:       onHand,
			ReorderLevel: item.ReorderLevel,
			SuggestedQty: suggested,
			Urgency:      round2(urgency),
			Reason:       deriveReason(onHand, depthScore, pressureScore),
		})
	}

	sort.Slice(suggestions, func(i, j int) bool {
		if suggestions[i].Urgency != suggestions[j].Urgency {
			return suggestions[i].Urgency > suggestions[j].Urgency
		}
		return suggestions[i].Name < suggestions[j].Name
	})
	return suggestions
}

func deriveReason(onHand decimal.Decimal, depthScore float64, pressureScore float64) string {
	if onHand.LessThanOrEqual(decimal.Zero) {
		return "out_of_stock"
	}
	if pressureScore > depthScore {
		return "fast_moving"
	}
	return "below_reorder_level"
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func clamp(val float64, minVal float64, maxVal float64) float64 {
	if val < minVal {
		return minVal
	}
	if val > maxVal {
		return maxVal
	}
	return val
}

func round2(val float64) float64 {
	f := val * 100
	if f >= 0 {
		f += 0.5
	} else {
		f -= 0.5
	}
	return float64(int64(f)) / 100
}
