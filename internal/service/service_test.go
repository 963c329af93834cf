package service

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"sufrah/backend/internal/cache"
	"sufrah/backend/internal/domain"
	"sufrah/backend/internal/store/memory"
)

func newTestService() (*Service, *memory.Store) {
	repo := memory.NewSeeded()
	return New(repo, cache.NoopStockLevelCache{}), repo
}

func ownerCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{
		Username:     "owner",
		Role:         domain.RoleOwner,
		RestaurantID: memory.SeedRestaurantID,
	})
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{
		Username:     "cashier",
		Role:         domain.RoleCashier,
		RestaurantID: memory.SeedRestaurantID,
		BranchID:     memory.SeedBranchMainID,
	})
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func seedItem(t *testing.T, svc *Service, name string, baseUnit string, initialQty string) domain.InventoryItem {
	t.Helper()
	item, err := svc.CreateInventoryItem(ownerCtx(), domain.ItemCreateRequest{
		BranchID: memory.SeedBranchMainID,
		Name:     name,
		BaseUnit: baseUnit,
	})
	if err != nil {
		t.Fatalf("create item %s: %v", name, err)
	}
	if initialQty != "" {
		_, err := svc.Adjust(ownerCtx(), domain.AdjustmentRequest{
			BranchID: memory.SeedBranchMainID,
			ItemID:   item.ID,
			Type:     domain.AdjustTypeInitial,
			Qty:      dec(initialQty),
		})
		if err != nil {
			t.Fatalf("seed stock for %s: %v", name, err)
		}
	}
	return item
}

func seedMenuWithRecipe(t *testing.T, svc *Service, price string, ingredient domain.InventoryItem, perUnit string, unit string) domain.MenuItem {
	t.Helper()
	menuItem, err := svc.CreateMenuItem(ownerCtx(), domain.MenuItemCreateRequest{
		Name:  "Dish " + ingredient.Name,
		Price: dec(price),
	})
	if err != nil {
		t.Fatalf("create menu item: %v", err)
	}
	_, err = svc.SetRecipe(ownerCtx(), domain.RecipeSetRequest{
		MenuItemID: menuItem.ID,
		Active:     true,
		Lines: []domain.RecipeLineRequest{
			{ItemID: ingredient.ID, Qty: dec(perUnit), Unit: unit},
		},
	})
	if err != nil {
		t.Fatalf("set recipe: %v", err)
	}
	return menuItem
}

func openOrder(t *testing.T, svc *Service, ctx context.Context, menuItemID string, qty string, tableID string) domain.Order {
	t.Helper()
	order, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		BranchID: memory.SeedBranchMainID,
		TableID:  tableID,
		Lines: []domain.OrderLineRequest{
			{MenuItemID: menuItemID, Qty: dec(qty)},
		},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

func codeOf(t *testing.T, err error) string {
	t.Helper()
	if err == nil {
		t.Fatalf("expected an error")
	}
	coded, ok := domain.AsCoded(err)
	if !ok {
		t.Fatalf("expected a coded error, got %v", err)
	}
	return coded.Code
}

func TestAdjustmentOutCannotGoNegative(t *testing.T) {
	svc, repo := newTestService()
	item := seedItem(t, svc, "Rice", "kg", "5")

	_, err := svc.Adjust(ownerCtx(), domain.AdjustmentRequest{
		BranchID: memory.SeedBranchMainID,
		ItemID:   item.ID,
		Type:     domain.AdjustTypeOut,
		Qty:      dec("10"),
	})
	if got := codeOf(t, err); got != domain.CodeInsufficientStock {
		t.Fatalf("expected insufficient_stock, got %s", got)
	}

	levels, err := repo.GetStockLevels(context.Background(), memory.SeedBranchMainID, []string{item.ID})
	if err != nil {
		t.Fatalf("get levels: %v", err)
	}
	if !levels[item.ID].Equal(dec("5")) {
		t.Fatalf("level changed after rejected adjustment: %s", levels[item.ID])
	}
}

func TestAdjustmentConvertsToBaseUnit(t *testing.T) {
	svc, _ := newTestService()
	item := seedItem(t, svc, "Flour", "kg", "")

	resp, err := svc.Adjust(ownerCtx(), domain.AdjustmentRequest{
		BranchID: memory.SeedBranchMainID,
		ItemID:   item.ID,
		Type:     domain.AdjustTypeIn,
		Qty:      dec("500"),
		Unit:     "g",
	})
	if err != nil {
		t.Fatalf("adjust in grams: %v", err)
	}
	if !resp.OnHand.Equal(dec("0.5")) {
		t.Fatalf("expected 0.5 kg on hand, got %s", resp.OnHand)
	}
	if !resp.Entry.QtyBase.Equal(dec("0.5")) {
		t.Fatalf("expected qty_base 0.5, got %s", resp.Entry.QtyBase)
	}
}

func TestReverseConversionDividesByMultiplier(t *testing.T) {
	svc, _ := newTestService()
	// Base unit g; the seeded table only has g -> kg, so kg input resolves
	// through the reverse key.
	item := seedItem(t, svc, "Saffron", "g", "")

	resp, err := svc.Adjust(ownerCtx(), domain.AdjustmentRequest{
		BranchID: memory.SeedBranchMainID,
		ItemID:   item.ID,
		Type:     domain.AdjustTypeIn,
		Qty:      dec("2"),
		Unit:     "kg",
	})
	if err != nil {
		t.Fatalf("adjust in kg: %v", err)
	}
	if !resp.OnHand.Equal(dec("2000")) {
		t.Fatalf("expected 2000 g on hand, got %s", resp.OnHand)
	}
}

func TestLedgerAndCacheStayConsistent(t *testing.T) {
	svc, repo := newTestService()
	item := seedItem(t, svc, "Oil", "l", "20")

	mutations := []domain.AdjustmentRequest{
		{BranchID: memory.SeedBranchMainID, ItemID: item.ID, Type: domain.AdjustTypeIn, Qty: dec("3.5")},
		{BranchID: memory.SeedBranchMainID, ItemID: item.ID, Type: domain.AdjustTypeWaste, Qty: dec("1.25")},
		{BranchID: memory.SeedBranchMainID, ItemID: item.ID, Type: domain.AdjustTypeOut, Qty: dec("500"), Unit: "ml"},
	}
	for i, m := range mutations {
		if _, err := svc.Adjust(ownerCtx(), m); err != nil {
			t.Fatalf("mutation %d: %v", i, err)
		}
	}

	sums, err := repo.SumLedgerByItem(context.Background(), memory.SeedBranchMainID)
	if err != nil {
		t.Fatalf("sum ledger: %v", err)
	}
	levels, err := repo.GetStockLevels(context.Background(), memory.SeedBranchMainID, []string{item.ID})
	if err != nil {
		t.Fatalf("get levels: %v", err)
	}
	if !sums[item.ID].Equal(levels[item.ID]) {
		t.Fatalf("ledger sum %s diverges from cached level %s", sums[item.ID], levels[item.ID])
	}
	if !levels[item.ID].Equal(dec("21.75")) {
		t.Fatalf("expected 21.75 on hand, got %s", levels[item.ID])
	}

	recon, err := svc.Reconcile(ownerCtx(), memory.SeedBranchMainID, false)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(recon.Drift) != 0 {
		t.Fatalf("expected no drift, got %d entries", len(recon.Drift))
	}
}

func TestPurchaseReceiptMovingAverage(t *testing.T) {
	svc, repo := newTestService()
	item := seedItem(t, svc, "Chicken", "kg", "")

	for _, rc := range []struct{ qty, cost string }{
		{"10", "2"},
		{"10", "4"},
	} {
		_, err := svc.ReceivePurchase(ownerCtx(), domain.ReceiptCreateRequest{
			BranchID: memory.SeedBranchMainID,
			Supplier: "Al Baraka Farms",
			Lines: []domain.ReceiptLineRequest{
				{ItemID: item.ID, Qty: dec(rc.qty), UnitCost: dec(rc.cost)},
			},
		})
		if err != nil {
			t.Fatalf("receive %s @ %s: %v", rc.qty, rc.cost, err)
		}
	}

	updated, err := repo.GetInventoryItem(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if !updated.AvgCost.Equal(dec("3")) {
		t.Fatalf("expected moving average 3, got %s", updated.AvgCost)
	}

	levels, _ := repo.GetStockLevels(context.Background(), memory.SeedBranchMainID, []string{item.ID})
	if !levels[item.ID].Equal(dec("20")) {
		t.Fatalf("expected 20 on hand, got %s", levels[item.ID])
	}
}

func TestTransferMirrorsStockAndProvisionsDestination(t *testing.T) {
	svc, repo := newTestService()
	item := seedItem(t, svc, "Tomatoes", "kg", "12")

	resp, err := svc.Transfer(ownerCtx(), domain.TransferRequest{
		FromBranchID: memory.SeedBranchMainID,
		ToBranchID:   memory.SeedBranchSideID,
		Lines: []domain.TransferLineRequest{
			{ItemID: item.ID, Qty: dec("4")},
		},
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}

	line := resp.Transfer.Lines[0]
	if line.DestItemID == "" || line.DestItemID == item.ID {
		t.Fatalf("expected a distinct destination item, got %q", line.DestItemID)
	}
	dest, err := repo.GetInventoryItem(context.Background(), line.DestItemID)
	if err != nil {
		t.Fatalf("destination item missing: %v", err)
	}
	if dest.Name != item.Name || dest.BaseUnit != item.BaseUnit {
		t.Fatalf("destination item not cloned from source: %+v", dest)
	}

	src, _ := repo.GetStockLevels(context.Background(), memory.SeedBranchMainID, []string{item.ID})
	dst, _ := repo.GetStockLevels(context.Background(), memory.SeedBranchSideID, []string{dest.ID})
	if !src[item.ID].Equal(dec("8")) || !dst[dest.ID].Equal(dec("4")) {
		t.Fatalf("expected 8/4 split, got %s/%s", src[item.ID], dst[dest.ID])
	}
}

func TestTransferRejectsSameBranchAndShortStock(t *testing.T) {
	svc, _ := newTestService()
	item := seedItem(t, svc, "Lamb", "kg", "2")

	_, err := svc.Transfer(ownerCtx(), domain.TransferRequest{
		FromBranchID: memory.SeedBranchMainID,
		ToBranchID:   memory.SeedBranchMainID,
		Lines:        []domain.TransferLineRequest{{ItemID: item.ID, Qty: dec("1")}},
	})
	if got := codeOf(t, err); got != domain.CodeInvalidBranch {
		t.Fatalf("expected invalid_branch, got %s", got)
	}

	_, err = svc.Transfer(ownerCtx(), domain.TransferRequest{
		FromBranchID: memory.SeedBranchMainID,
		ToBranchID:   memory.SeedBranchSideID,
		Lines:        []domain.TransferLineRequest{{ItemID: item.ID, Qty: dec("5")}},
	})
	if got := codeOf(t, err); got != domain.CodeInsufficientStock {
		t.Fatalf("expected insufficient_stock, got %s", got)
	}
}

func TestStockCountApprovalIsTerminal(t *testing.T) {
	svc, repo := newTestService()
	item := seedItem(t, svc, "Onions", "kg", "10")

	count, err := svc.CreateStockCount(ownerCtx(), domain.StockCountCreateRequest{
		BranchID: memory.SeedBranchMainID,
		Lines:    []domain.StockCountLineRequest{{ItemID: item.ID, Actual: dec("7.5")}},
	})
	if err != nil {
		t.Fatalf("create count: %v", err)
	}
	if !count.Lines[0].Expected.Equal(dec("10")) {
		t.Fatalf("expected snapshot of 10, got %s", count.Lines[0].Expected)
	}

	resp, err := svc.ApproveStockCount(ownerCtx(), count.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if resp.Adjustments != 1 || !resp.NegativeVariance.Equal(dec("-2.5")) {
		t.Fatalf("unexpected approval summary: %+v", resp)
	}

	levels, _ := repo.GetStockLevels(context.Background(), memory.SeedBranchMainID, []string{item.ID})
	if !levels[item.ID].Equal(dec("7.5")) {
		t.Fatalf("expected counted level 7.5, got %s", levels[item.ID])
	}

	_, err = svc.ApproveStockCount(ownerCtx(), count.ID)
	if got := codeOf(t, err); got != domain.CodeCountImmutable {
		t.Fatalf("expected count_immutable on second approval, got %s", got)
	}
}

func TestImportCSVRowErrorsAndIdempotence(t *testing.T) {
	svc, repo := newTestService()
	existing := seedItem(t, svc, "Basmati", "kg", "3")

	csvBody := "name,unit,qty,unit_cost\n" +
		"Basmati,kg,10,1.5\n" + // already has ledger history, must be skipped
		"Basmati,pcs,10,1.5\n" + // unit mismatch, row error
		"Cardamom,g,250,0.02\n" +
		"Labneh,kg,not-a-number,1\n"

	resp, err := svc.ImportItemsCSV(ownerCtx(), memory.SeedBranchMainID, strings.NewReader(csvBody))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if resp.ItemsCreated != 1 || resp.Stocked != 1 || resp.Skipped != 1 {
		t.Fatalf("unexpected counters: %+v", resp)
	}
	if len(resp.Errors) != 2 {
		t.Fatalf("expected 2 row errors, got %d: %+v", len(resp.Errors), resp.Errors)
	}

	levels, _ := repo.GetStockLevels(context.Background(), memory.SeedBranchMainID, []string{existing.ID})
	if !levels[existing.ID].Equal(dec("3")) {
		t.Fatalf("import overwrote existing stock: %s", levels[existing.ID])
	}

	// Re-running the same file must not double anything.
	again, err := svc.ImportItemsCSV(ownerCtx(), memory.SeedBranchMainID, strings.NewReader(csvBody))
	if err != nil {
		t.Fatalf("re-import: %v", err)
	}
	if again.Stocked != 0 || again.ItemsCreated != 0 {
		t.Fatalf("re-import stocked or created rows: %+v", again)
	}
}

func TestOrderTotalRoundsToOneDecimal(t *testing.T) {
	svc, _ := newTestService()
	item := seedItem(t, svc, "Hummus Base", "kg", "50")
	menuItem := seedMenuWithRecipe(t, svc, "2.375", item, "0.2", "kg")

	order := openOrder(t, svc, cashierCtx(), menuItem.ID, "3", "table-5")
	if !order.Subtotal.Equal(dec("7.125")) {
		t.Fatalf("expected subtotal 7.125, got %s", order.Subtotal)
	}
	if !order.Total.Equal(dec("7.1")) {
		t.Fatalf("expected customer total 7.1, got %s", order.Total)
	}
	if order.Status != domain.OrderStatusOpen {
		t.Fatalf("expected open order, got %s", order.Status)
	}
}

func TestPayOrderTenderRules(t *testing.T) {
	svc, _ := newTestService()
	item := seedItem(t, svc, "Falafel Mix", "kg", "50")
	menuItem := seedMenuWithRecipe(t, svc, "5", item, "0.1", "kg")

	order := openOrder(t, svc, cashierCtx(), menuItem.ID, "2", "table-1")

	_, err := svc.PayOrder(cashierCtx(), order.ID, domain.PayOrderRequest{
		Payments: []domain.PaymentInstrument{{Method: domain.PaymentMethodCash, Amount: dec("9")}},
	})
	if got := codeOf(t, err); got != domain.CodeUnderpayment {
		t.Fatalf("expected underpayment, got %s", got)
	}

	_, err = svc.PayOrder(cashierCtx(), order.ID, domain.PayOrderRequest{
		Payments: []domain.PaymentInstrument{{Method: domain.PaymentMethodCard, Amount: dec("12")}},
	})
	if got := codeOf(t, err); got != domain.CodeCardOverpayment {
		t.Fatalf("expected card_overpayment, got %s", got)
	}

	_, err = svc.PayOrder(cashierCtx(), order.ID, domain.PayOrderRequest{
		Payments: []domain.PaymentInstrument{{Method: "cheque", Amount: dec("10")}},
	})
	if got := codeOf(t, err); got != domain.CodeInvalidPaymentMethod {
		t.Fatalf("expected invalid_payment_method, got %s", got)
	}

	resp, err := svc.PayOrder(cashierCtx(), order.ID, domain.PayOrderRequest{
		Payments: []domain.PaymentInstrument{{Method: domain.PaymentMethodCash, Amount: dec("12")}},
	})
	if err != nil {
		t.Fatalf("cash overpayment should settle: %v", err)
	}
	if !resp.Change.Equal(dec("2")) {
		t.Fatalf("expected change 2, got %s", resp.Change)
	}
	if resp.Status != domain.OrderStatusPaid {
		t.Fatalf("dine-in order should close as paid, got %s", resp.Status)
	}
}

func TestPayOrderCannotSettleTwice(t *testing.T) {
	svc, _ := newTestService()
	item := seedItem(t, svc, "Shawarma Meat", "kg", "50")
	menuItem := seedMenuWithRecipe(t, svc, "4", item, "0.15", "kg")

	order := openOrder(t, svc, cashierCtx(), menuItem.ID, "1", "table-2")
	pay := domain.PayOrderRequest{
		Payments: []domain.PaymentInstrument{{Method: domain.PaymentMethodCash, Amount: dec("4")}},
	}

	if _, err := svc.PayOrder(cashierCtx(), order.ID, pay); err != nil {
		t.Fatalf("first settlement: %v", err)
	}
	_, err := svc.PayOrder(cashierCtx(), order.ID, pay)
	if got := codeOf(t, err); got != domain.CodeOrderNotOpen {
		t.Fatalf("expected order_not_open on second settlement, got %s", got)
	}
}

func TestTakeawaySettlesIntoKitchenQueue(t *testing.T) {
	svc, _ := newTestService()
	item := seedItem(t, svc, "Pita", "pcs", "100")
	menuItem := seedMenuWithRecipe(t, svc, "1.5", item, "2", "pcs")

	order := openOrder(t, svc, cashierCtx(), menuItem.ID, "2", "")
	resp, err := svc.PayOrder(cashierCtx(), order.ID, domain.PayOrderRequest{
		Payments: []domain.PaymentInstrument{{Method: domain.PaymentMethodCash, Amount: dec("3")}},
	})
	if err != nil {
		t.Fatalf("settle takeaway: %v", err)
	}
	if resp.Status != domain.OrderStatusNew {
		t.Fatalf("takeaway should enter the queue as new, got %s", resp.Status)
	}
}

func TestSaleDeductionNeverBlocksSettlement(t *testing.T) {
	svc, repo := newTestService()
	item := seedItem(t, svc, "Cheese", "kg", "0.5")
	menuItem := seedMenuWithRecipe(t, svc, "6", item, "0.4", "kg")

	order := openOrder(t, svc, cashierCtx(), menuItem.ID, "2", "table-9")
	resp, err := svc.PayOrder(cashierCtx(), order.ID, domain.PayOrderRequest{
		Payments: []domain.PaymentInstrument{{Method: domain.PaymentMethodCash, Amount: dec("12")}},
	})
	if err != nil {
		t.Fatalf("settlement must not fail on short stock: %v", err)
	}
	if len(resp.Warnings) != 1 {
		t.Fatalf("expected one stock warning, got %d", len(resp.Warnings))
	}
	w := resp.Warnings[0]
	if w.ItemID != item.ID || !w.NewOnHand.Equal(dec("-0.3")) {
		t.Fatalf("unexpected warning %+v", w)
	}

	levels, _ := repo.GetStockLevels(context.Background(), memory.SeedBranchMainID, []string{item.ID})
	if !levels[item.ID].Equal(dec("-0.3")) {
		t.Fatalf("expected level -0.3, got %s", levels[item.ID])
	}
}

func TestSaleDeductionWritesLineCosts(t *testing.T) {
	svc, repo := newTestService()
	item := seedItem(t, svc, "Beef", "kg", "")

	_, err := svc.ReceivePurchase(ownerCtx(), domain.ReceiptCreateRequest{
		BranchID: memory.SeedBranchMainID,
		Lines:    []domain.ReceiptLineRequest{{ItemID: item.ID, Qty: dec("10"), UnitCost: dec("5")}},
	})
	if err != nil {
		t.Fatalf("receive: %v", err)
	}

	menuItem := seedMenuWithRecipe(t, svc, "8", item, "0.25", "kg")
	order := openOrder(t, svc, cashierCtx(), menuItem.ID, "2", "table-3")

	if _, err := svc.PayOrder(cashierCtx(), order.ID, domain.PayOrderRequest{
		Payments: []domain.PaymentInstrument{{Method: domain.PaymentMethodCash, Amount: dec("16")}},
	}); err != nil {
		t.Fatalf("settle: %v", err)
	}

	settled, err := repo.GetOrderByID(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("reload order: %v", err)
	}
	line := settled.Lines[0]
	// 0.25 kg x 5 JOD = 1.25 per dish, two dishes.
	if !line.Cogs.Equal(dec("2.5")) {
		t.Fatalf("expected cogs 2.5, got %s", line.Cogs)
	}
	if !line.Profit.Equal(dec("13.5")) {
		t.Fatalf("expected profit 13.5, got %s", line.Profit)
	}
}

func TestDeductionSkipsRecipeLinesWithMissingItems(t *testing.T) {
	svc, repo := newTestService()
	item := seedItem(t, svc, "Lentils", "kg", "10")
	menuItem := seedMenuWithRecipe(t, svc, "4", item, "0.5", "kg")

	// Point one recipe line at an item that no longer exists, bypassing the
	// validation that normally prevents this.
	if _, err := repo.ReplaceRecipe(context.Background(), domain.Recipe{
		RestaurantID: memory.SeedRestaurantID,
		MenuItemID:   menuItem.ID,
		Active:       true,
		Lines: []domain.RecipeLine{
			{ItemID: item.ID, Qty: dec("0.5"), Unit: "kg"},
			{ItemID: "item_gone", Qty: dec("1"), Unit: "kg"},
		},
	}); err != nil {
		t.Fatalf("replace recipe: %v", err)
	}

	order := openOrder(t, svc, cashierCtx(), menuItem.ID, "2", "table-3")
	resp, err := svc.PayOrder(cashierCtx(), order.ID, domain.PayOrderRequest{
		Payments: []domain.PaymentInstrument{{Method: domain.PaymentMethodCash, Amount: dec("8")}},
	})
	if err != nil {
		t.Fatalf("settlement must survive a dangling recipe line: %v", err)
	}
	if len(resp.Warnings) != 0 {
		t.Fatalf("no warnings expected, got %+v", resp.Warnings)
	}

	levels, err := repo.GetStockLevels(context.Background(), memory.SeedBranchMainID, []string{item.ID, "item_gone"})
	if err != nil {
		t.Fatalf("get levels: %v", err)
	}
	if !levels[item.ID].Equal(dec("9")) {
		t.Fatalf("real ingredient should still deduct, got %s", levels[item.ID])
	}
	if !levels["item_gone"].IsZero() {
		t.Fatalf("missing item must not receive ledger entries, got %s", levels["item_gone"])
	}
}

func TestPayTableProportionalAllocation(t *testing.T) {
	svc, repo := newTestService()
	item := seedItem(t, svc, "Za'atar", "kg", "100")
	menuA := seedMenuWithRecipe(t, svc, "4", item, "0.01", "kg")
	menuB := seedMenuWithRecipe(t, svc, "6", item, "0.01", "kg")

	orderA := openOrder(t, svc, cashierCtx(), menuA.ID, "1", "table-7")
	orderB := openOrder(t, svc, cashierCtx(), menuB.ID, "1", "table-7")

	resp, err := svc.PayTable(cashierCtx(), domain.PayTableRequest{
		OrderIDs: []string{orderA.ID, orderB.ID},
		Payments: []domain.PaymentInstrument{
			{Method: domain.PaymentMethodCash, Amount: dec("7")},
			{Method: domain.PaymentMethodCash, Amount: dec("3")},
		},
	})
	if err != nil {
		t.Fatalf("pay table: %v", err)
	}
	if !resp.CombinedTotal.Equal(dec("10")) || !resp.Change.Equal(dec("0")) {
		t.Fatalf("unexpected totals: combined %s change %s", resp.CombinedTotal, resp.Change)
	}

	for _, res := range resp.Orders {
		allocated := decimal.Zero
		for _, p := range res.Allocated {
			allocated = allocated.Add(p.Amount)
		}
		if !allocated.Equal(res.Total) {
			t.Fatalf("order %d allocation %s does not cover total %s", res.Number, allocated, res.Total)
		}
		if res.Status != domain.OrderStatusPaid {
			t.Fatalf("order %d not paid: %s", res.Number, res.Status)
		}
	}

	// First instrument splits 7 by the 4/10 and 6/10 ratios.
	first := resp.Orders[0].Allocated[0]
	if !first.Amount.Equal(dec("2.8")) {
		t.Fatalf("expected first order share 2.8, got %s", first.Amount)
	}

	for _, id := range []string{orderA.ID, orderB.ID} {
		payments, _ := repo.ListPaymentsByOrder(context.Background(), id)
		if len(payments) != 2 {
			t.Fatalf("expected 2 payment rows on %s, got %d", id, len(payments))
		}
	}
}

func TestPayTableRejectsDuplicateOrderIDs(t *testing.T) {
	svc, repo := newTestService()
	item := seedItem(t, svc, "Parsley", "kg", "100")
	menuItem := seedMenuWithRecipe(t, svc, "5", item, "0.005", "kg")

	order := openOrder(t, svc, cashierCtx(), menuItem.ID, "1", "table-4")

	_, err := svc.PayTable(cashierCtx(), domain.PayTableRequest{
		OrderIDs: []string{order.ID, order.ID},
		Payments: []domain.PaymentInstrument{{Method: domain.PaymentMethodCash, Amount: dec("10")}},
	})
	if got := codeOf(t, err); got != domain.CodeValidation {
		t.Fatalf("expected validation error for duplicate order ids, got %s", got)
	}

	reloaded, _ := repo.GetOrderByID(context.Background(), order.ID)
	if reloaded.Status != domain.OrderStatusOpen {
		t.Fatalf("order should stay open, got %s", reloaded.Status)
	}
	payments, _ := repo.ListPaymentsByOrder(context.Background(), order.ID)
	if len(payments) != 0 {
		t.Fatalf("no payment rows should exist, found %d", len(payments))
	}
}

func TestPayTableRevertsWhenOneOrderIsTaken(t *testing.T) {
	svc, repo := newTestService()
	item := seedItem(t, svc, "Mint", "kg", "100")
	menuItem := seedMenuWithRecipe(t, svc, "5", item, "0.005", "kg")

	orderA := openOrder(t, svc, cashierCtx(), menuItem.ID, "1", "table-4")
	orderB := openOrder(t, svc, cashierCtx(), menuItem.ID, "1", "table-4")

	// Settle B out from under the table payment.
	if _, err := svc.PayOrder(cashierCtx(), orderB.ID, domain.PayOrderRequest{
		Payments: []domain.PaymentInstrument{{Method: domain.PaymentMethodCash, Amount: dec("5")}},
	}); err != nil {
		t.Fatalf("pre-settle orderB: %v", err)
	}

	_, err := svc.PayTable(cashierCtx(), domain.PayTableRequest{
		OrderIDs: []string{orderA.ID, orderB.ID},
		Payments: []domain.PaymentInstrument{{Method: domain.PaymentMethodCash, Amount: dec("10")}},
	})
	if got := codeOf(t, err); got != domain.CodeOrderNotOpen {
		t.Fatalf("expected order_not_open, got %s", got)
	}

	reloaded, _ := repo.GetOrderByID(context.Background(), orderA.ID)
	if reloaded.Status != domain.OrderStatusOpen {
		t.Fatalf("orderA should stay open after failed table payment, got %s", reloaded.Status)
	}
	payments, _ := repo.ListPaymentsByOrder(context.Background(), orderA.ID)
	if len(payments) != 0 {
		t.Fatalf("no payment rows should exist on orderA, found %d", len(payments))
	}
}

func TestRefundBoundsAndStatus(t *testing.T) {
	svc, _ := newTestService()
	item := seedItem(t, svc, "Tahini", "kg", "50")
	menuItem := seedMenuWithRecipe(t, svc, "10", item, "0.05", "kg")

	order := openOrder(t, svc, cashierCtx(), menuItem.ID, "1", "table-6")
	if _, err := svc.PayOrder(cashierCtx(), order.ID, domain.PayOrderRequest{
		Payments: []domain.PaymentInstrument{{Method: domain.PaymentMethodCash, Amount: dec("10")}},
	}); err != nil {
		t.Fatalf("settle: %v", err)
	}

	_, err := svc.CreateRefund(cashierCtx(), order.ID, domain.RefundCreateRequest{
		Amount: dec("10.002"),
		Type:   domain.RefundTypePartial,
	})
	if got := codeOf(t, err); got != domain.CodeRefundExceedsAvail {
		t.Fatalf("expected refund_exceeds_available beyond tolerance, got %s", got)
	}

	partial, err := svc.CreateRefund(cashierCtx(), order.ID, domain.RefundCreateRequest{
		Amount: dec("4"),
		Type:   domain.RefundTypePartial,
		Reason: "cold dish",
	})
	if err != nil {
		t.Fatalf("partial refund: %v", err)
	}
	if partial.OrderStatus != domain.OrderStatusPaid {
		t.Fatalf("partial refund must not flip status, got %s", partial.OrderStatus)
	}

	full, err := svc.CreateRefund(cashierCtx(), order.ID, domain.RefundCreateRequest{
		Type: domain.RefundTypeFull,
	})
	if err != nil {
		t.Fatalf("full refund: %v", err)
	}
	if full.OrderStatus != domain.OrderStatusRefunded {
		t.Fatalf("expected refunded status, got %s", full.OrderStatus)
	}
	if !full.TotalRefunded.Equal(dec("10")) {
		t.Fatalf("expected total refunded 10, got %s", full.TotalRefunded)
	}

	_, err = svc.CreateRefund(cashierCtx(), order.ID, domain.RefundCreateRequest{
		Amount: dec("1"),
		Type:   domain.RefundTypePartial,
	})
	if got := codeOf(t, err); got != domain.CodeRefundExceedsAvail {
		t.Fatalf("expected refund_exceeds_available on drained order, got %s", got)
	}
}

func TestFullRefundRestoresDeductionOnce(t *testing.T) {
	svc, repo := newTestService()
	item := seedItem(t, svc, "Yogurt", "l", "10")
	menuItem := seedMenuWithRecipe(t, svc, "3", item, "0.5", "l")

	order := openOrder(t, svc, cashierCtx(), menuItem.ID, "2", "table-8")
	if _, err := svc.PayOrder(cashierCtx(), order.ID, domain.PayOrderRequest{
		Payments: []domain.PaymentInstrument{{Method: domain.PaymentMethodCash, Amount: dec("6")}},
	}); err != nil {
		t.Fatalf("settle: %v", err)
	}

	levels, _ := repo.GetStockLevels(context.Background(), memory.SeedBranchMainID, []string{item.ID})
	if !levels[item.ID].Equal(dec("9")) {
		t.Fatalf("expected 9 after deduction, got %s", levels[item.ID])
	}

	resp, err := svc.CreateRefund(cashierCtx(), order.ID, domain.RefundCreateRequest{Type: domain.RefundTypeFull})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if !resp.Restored {
		t.Fatalf("expected inventory restoration")
	}

	levels, _ = repo.GetStockLevels(context.Background(), memory.SeedBranchMainID, []string{item.ID})
	if !levels[item.ID].Equal(dec("10")) {
		t.Fatalf("expected restored level 10, got %s", levels[item.ID])
	}
}

func TestGatesBlockInventoryMutations(t *testing.T) {
	svc, repo := newTestService()
	item := seedItem(t, svc, "Dates", "kg", "5")

	repo.SetRestaurantFlags(memory.SeedRestaurantID, false, true)
	_, err := svc.Adjust(ownerCtx(), domain.AdjustmentRequest{
		BranchID: memory.SeedBranchMainID,
		ItemID:   item.ID,
		Type:     domain.AdjustTypeIn,
		Qty:      dec("1"),
	})
	if got := codeOf(t, err); got != domain.CodeSubscriptionExpired {
		t.Fatalf("expected subscription_expired, got %s", got)
	}

	repo.SetRestaurantFlags(memory.SeedRestaurantID, true, false)
	_, err = svc.Adjust(ownerCtx(), domain.AdjustmentRequest{
		BranchID: memory.SeedBranchMainID,
		ItemID:   item.ID,
		Type:     domain.AdjustTypeIn,
		Qty:      dec("1"),
	})
	if got := codeOf(t, err); got != domain.CodeInventoryDisabled {
		t.Fatalf("expected inventory_disabled, got %s", got)
	}
}

func TestSettlementSkipsDeductionWhenInventoryDisabled(t *testing.T) {
	svc, repo := newTestService()
	item := seedItem(t, svc, "Sumac", "kg", "5")
	menuItem := seedMenuWithRecipe(t, svc, "2", item, "0.1", "kg")
	order := openOrder(t, svc, cashierCtx(), menuItem.ID, "1", "table-1")

	repo.SetRestaurantFlags(memory.SeedRestaurantID, true, false)

	resp, err := svc.PayOrder(cashierCtx(), order.ID, domain.PayOrderRequest{
		Payments: []domain.PaymentInstrument{{Method: domain.PaymentMethodCash, Amount: dec("2")}},
	})
	if err != nil {
		t.Fatalf("settlement must work with inventory off: %v", err)
	}
	if len(resp.Warnings) != 0 {
		t.Fatalf("no warnings expected with inventory off")
	}

	levels, _ := repo.GetStockLevels(context.Background(), memory.SeedBranchMainID, []string{item.ID})
	if !levels[item.ID].Equal(dec("5")) {
		t.Fatalf("stock must be untouched, got %s", levels[item.ID])
	}
}

func TestReconcileRepairsDrift(t *testing.T) {
	svc, repo := newTestService()
	item := seedItem(t, svc, "Bulgur", "kg", "8")

	// Corrupt the cached level behind the ledger's back.
	if err := repo.SetStockLevel(context.Background(), memory.SeedRestaurantID, memory.SeedBranchMainID, item.ID, dec("99")); err != nil {
		t.Fatalf("corrupt level: %v", err)
	}

	recon, err := svc.Reconcile(ownerCtx(), memory.SeedBranchMainID, true)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(recon.Drift) != 1 || !recon.Fixed {
		t.Fatalf("expected one fixed drift entry, got %+v", recon)
	}

	levels, _ := repo.GetStockLevels(context.Background(), memory.SeedBranchMainID, []string{item.ID})
	if !levels[item.ID].Equal(dec("8")) {
		t.Fatalf("expected repaired level 8, got %s", levels[item.ID])
	}
}

func TestReorderSuggestionsRankLowStock(t *testing.T) {
	svc, _ := newTestService()

	low, err := svc.CreateInventoryItem(ownerCtx(), domain.ItemCreateRequest{
		BranchID:     memory.SeedBranchMainID,
		Name:         "Olive Oil",
		BaseUnit:     "l",
		ReorderLevel: dec("10"),
		ReorderQty:   dec("20"),
	})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	if _, err := svc.Adjust(ownerCtx(), domain.AdjustmentRequest{
		BranchID: memory.SeedBranchMainID,
		ItemID:   low.ID,
		Type:     domain.AdjustTypeInitial,
		Qty:      dec("2"),
	}); err != nil {
		t.Fatalf("seed stock: %v", err)
	}

	suggestions, err := svc.ReorderSuggestions(ownerCtx(), memory.SeedBranchMainID)
	if err != nil {
		t.Fatalf("suggestions: %v", err)
	}
	if len(suggestions) != 1 {
		t.Fatalf("expected one suggestion, got %d", len(suggestions))
	}
	s := suggestions[0]
	if s.ItemID != low.ID || !s.SuggestedQty.Equal(dec("20")) {
		t.Fatalf("unexpected suggestion %+v", s)
	}

	_, err = svc.ReorderSuggestions(cashierCtx(), memory.SeedBranchMainID)
	if got := codeOf(t, err); got != domain.CodeForbidden {
		t.Fatalf("cashier should be forbidden, got %s", got)
	}
}
