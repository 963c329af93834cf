package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"sufrah/backend/internal/domain"
	"sufrah/backend/internal/store"
)

func TestAppendLedgerEntriesGuardsNegativeStock(t *testing.T) {
	databaseURL := os.Getenv("SUFRAH_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set SUFRAH_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	restID := fmt.Sprintf("rest-ledger-it-%d", stamp)
	branchID := fmt.Sprintf("branch-ledger-it-%d", stamp)
	itemID := fmt.Sprintf("item-ledger-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_ledger WHERE branch_id = $1`, branchID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_levels WHERE branch_id = $1`, branchID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM inventory_items WHERE id = $1`, itemID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM branches WHERE id = $1`, branchID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM restaurants WHERE id = $1`, restID)
	})

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO restaurants (id, name, currency, subscription_active, inventory_enabled, created_at)
		VALUES ($1, 'Ledger IT', 'JOD', true, true, now())
	`, restID); err != nil {
		t.Fatalf("insert restaurant: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO branches (id, restaurant_id, name, active, created_at)
		VALUES ($1, $2, 'Main', true, now())
	`, branchID, restID); err != nil {
		t.Fatalf("insert branch: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_items (
			id, restaurant_id, branch_id, name, base_unit, avg_cost,
			reorder_level, reorder_qty, active, created_at
		)
		VALUES ($1, $2, $3, 'Ledger IT Flour', 'kg', 0, 0, 0, true, now())
	`, itemID, restID, branchID); err != nil {
		t.Fatalf("insert item: %v", err)
	}

	entry := func(qty string, reason string) domain.StockLedgerEntry {
		q := decimal.RequireFromString(qty)
		return domain.StockLedgerEntry{
			RestaurantID: restID,
			BranchID:     branchID,
			ItemID:       itemID,
			Qty:          q,
			Unit:         "kg",
			QtyBase:      q,
			Reason:       reason,
			RefType:      domain.RefTypeManual,
			CreatedBy:    "it",
		}
	}

	if err := s.AppendLedgerEntries(ctx, []domain.StockLedgerEntry{entry("5", domain.ReasonInitialStock)}, false); err != nil {
		t.Fatalf("initial deposit: %v", err)
	}

	err = s.AppendLedgerEntries(ctx, []domain.StockLedgerEntry{entry("-8", domain.ReasonAdjustmentOut)}, false)
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	levels, err := s.GetStockLevels(ctx, branchID, []string{itemID})
	if err != nil {
		t.Fatalf("get levels: %v", err)
	}
	if !levels[itemID].Equal(decimal.RequireFromString("5")) {
		t.Fatalf("rejected entry must not move the level, got %s", levels[itemID])
	}

	if err := s.AppendLedgerEntries(ctx, []domain.StockLedgerEntry{entry("-8", domain.ReasonSaleDeduction)}, true); err != nil {
		t.Fatalf("allowNegative append: %v", err)
	}

	levels, err = s.GetStockLevels(ctx, branchID, []string{itemID})
	if err != nil {
		t.Fatalf("get levels: %v", err)
	}
	if !levels[itemID].Equal(decimal.RequireFromString("-3")) {
		t.Fatalf("expected -3 after forced deduction, got %s", levels[itemID])
	}

	sums, err := s.SumLedgerByItem(ctx, branchID)
	if err != nil {
		t.Fatalf("sum ledger: %v", err)
	}
	if !sums[itemID].Equal(levels[itemID]) {
		t.Fatalf("ledger sum %s diverges from level %s", sums[itemID], levels[itemID])
	}
}
