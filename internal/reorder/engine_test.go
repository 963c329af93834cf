package reorder

import (
	"testing"

	"github.com/shopspring/decimal"

	"sufrah/backend/internal/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func item(id string, reorderLevel string, reorderQty string) domain.InventoryItem {
	return domain.InventoryItem{
		ID:           id,
		Name:         id,
		BaseUnit:     "kg",
		ReorderLevel: dec(reorderLevel),
		ReorderQty:   dec(reorderQty),
		Active:       true,
	}
}

func TestSuggestRanksByUrgency(t *testing.T) {
	engine := NewEngine()

	items := []domain.InventoryItem{
		item("empty", "10", "20"),
		item("low", "10", "0"),
		item("healthy", "10", "20"),
	}
	levels := map[string]decimal.Decimal{
		"empty":   dec("0"),
		"low":     dec("6"),
		"healthy": dec("50"),
	}

	suggestions := engine.Suggest(items, levels, nil)
	if len(suggestions) != 2 {
		t.Fatalf("expected 2 suggestions, got %d", len(suggestions))
	}
	if suggestions[0].ItemID != "empty" || suggestions[0].Reason != "out_of_stock" {
		t.Fatalf("expected out-of-stock item first, got %+v", suggestions[0])
	}
	if suggestions[0].Urgency != 0.70 {
		t.Fatalf("expected urgency 0.70 for a fully depleted item, got %v", suggestions[0].Urgency)
	}
	if !suggestions[0].SuggestedQty.Equal(dec("20")) {
		t.Fatalf("expected configured reorder qty, got %s", suggestions[0].SuggestedQty)
	}
	// Without a reorder qty the deficit is suggested instead.
	if !suggestions[1].SuggestedQty.Equal(dec("4")) {
		t.Fatalf("expected deficit 4, got %s", suggestions[1].SuggestedQty)
	}
}

func TestSuggestUsesConsumptionPressure(t *testing.T) {
	engine := NewEngine()

	items := []domain.InventoryItem{item("oil", "10", "15")}
	levels := map[string]decimal.Decimal{"oil": dec("9")}
	consumption := map[string]decimal.Decimal{"oil": dec("8")}

	suggestions := engine.Suggest(items, levels, consumption)
	if len(suggestions) != 1 {
		t.Fatalf("expected 1 suggestion, got %d", len(suggestions))
	}
	s := suggestions[0]
	if s.Reason != "fast_moving" {
		t.Fatalf("expected fast_moving reason, got %s", s.Reason)
	}
	// depth 0.1, pressure 0.8 -> 0.07 + 0.24
	if s.Urgency != 0.31 {
		t.Fatalf("expected urgency 0.31, got %v", s.Urgency)
	}
}

func TestSuggestSkipsInactiveAndUnconfiguredItems(t *testing.T) {
	engine := NewEngine()

	inactive := item("inactive", "10", "5")
	inactive.Active = false
	unconfigured := item("unconfigured", "0", "5")

	suggestions := engine.Suggest(
		[]domain.InventoryItem{inactive, unconfigured},
		map[string]decimal.Decimal{"inactive": dec("0"), "unconfigured": dec("0")},
		nil,
	)
	if len(suggestions) != 0 {
		t.Fatalf("expected no suggestions, got %+v", suggestions)
	}
}
