package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"sufrah/backend/internal/domain"
	"sufrah/backend/internal/store"
	"sufrah/backend/internal/xid"
)

var adjustmentReasons = map[string]string{
	domain.AdjustTypeIn:      domain.ReasonAdjustmentIn,
	domain.AdjustTypeOut:     domain.ReasonAdjustmentOut,
	domain.AdjustTypeWaste:   domain.ReasonWaste,
	domain.AdjustTypeInitial: domain.ReasonInitialStock,
}

// Adjust posts a single manual stock movement. Outbound types are rejected
// when they would drive the level negative.
func (s *Service) Adjust(ctx context.Context, req domain.AdjustmentRequest) (domain.AdjustmentResponse, error) {
	actor, err := s.gate(ctx, true)
	if err != nil {
		return domain.AdjustmentResponse{}, err
	}
	if _, err := s.branchFor(ctx, actor, req.BranchID); err != nil {
		return domain.AdjustmentResponse{}, err
	}

	reason, ok := adjustmentReasons[req.Type]
	if !ok {
		return domain.AdjustmentResponse{}, domain.Err(domain.CodeValidation, "unknown adjustment type")
	}
	if !req.Qty.IsPositive() {
		return domain.AdjustmentResponse{}, domain.Err(domain.CodeInvalidQuantity)
	}

	item, err := s.itemFor(ctx, actor, req.BranchID, req.ItemID)
	if err != nil {
		return domain.AdjustmentResponse{}, err
	}

	conv, err := s.converter(ctx, actor.RestaurantID)
	if err != nil {
		return domain.AdjustmentResponse{}, err
	}
	unit := strings.TrimSpace(req.Unit)
	if unit == "" {
		unit = item.BaseUnit
	}
	qtyBase := conv.toBase(req.Qty, unit, item.BaseUnit)

	qty := req.Qty
	outbound := req.Type == domain.AdjustTypeOut || req.Type == domain.AdjustTypeWaste
	if outbound {
		qty = qty.Neg()
		qtyBase = qtyBase.Neg()
	}

	entry := domain.StockLedgerEntry{
		ID:           xid.New("ldg"),
		RestaurantID: actor.RestaurantID,
		BranchID:     req.BranchID,
		ItemID:       item.ID,
		Qty:          qty,
		Unit:         unit,
		QtyBase:      qtyBase,
		Reason:       reason,
		RefType:      domain.RefTypeManual,
		Note:         strings.TrimSpace(req.Note),
		CreatedBy:    actor.Username,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.repo.AppendLedgerEntries(ctx, []domain.StockLedgerEntry{entry}, false); err != nil {
		if errors.Is(err, store.ErrInsufficientStock) {
			return domain.AdjustmentResponse{}, domain.Err(domain.CodeInsufficientStock)
		}
		return domain.AdjustmentResponse{}, err
	}

	s.invalidateStockLevels(ctx, req.BranchID)
	s.logAudit(ctx, actor.RestaurantID, "stock_adjust", "inventory_item", item.ID,
		fmt.Sprintf("type=%s,qty=%s %s", req.Type, req.Qty.String(), unit))

	levels, err := s.repo.GetStockLevels(ctx, req.BranchID, []string{item.ID})
	if err != nil {
		return domain.AdjustmentResponse{}, err
	}

	return domain.AdjustmentResponse{Entry: entry, OnHand: levels[item.ID]}, nil
}

// ReceivePurchase posts a purchase receipt. Each line lands as a positive
// ledger entry and recomputes the item's moving-average cost.
func (s *Service) ReceivePurchase(ctx context.Context, req domain.ReceiptCreateRequest) (domain.ReceiptResponse, error) {
	actor, err := s.gate(ctx, true)
	if err != nil {
		return domain.ReceiptResponse{}, err
	}
	if _, err := s.branchFor(ctx, actor, req.BranchID); err != nil {
		return domain.ReceiptResponse{}, err
	}
	if len(req.Lines) == 0 {
		return domain.ReceiptResponse{}, domain.Err(domain.CodeValidation, "receipt needs at least one line")
	}

	conv, err := s.converter(ctx, actor.RestaurantID)
	if err != nil {
		return domain.ReceiptResponse{}, err
	}

	receipt := domain.PurchaseReceipt{
		ID:           xid.New("rcpt"),
		RestaurantID: actor.RestaurantID,
		BranchID:     req.BranchID,
		Supplier:     strings.TrimSpace(req.Supplier),
		Note:         strings.TrimSpace(req.Note),
		CreatedBy:    actor.Username,
		CreatedAt:    time.Now().UTC(),
	}
	entries := make([]domain.StockLedgerEntry, 0, len(req.Lines))

	for _, lr := range req.Lines {
		if !lr.Qty.IsPositive() {
			return domain.ReceiptResponse{}, domain.Err(domain.CodeInvalidQuantity)
		}
		if lr.UnitCost.IsNegative() {
			return domain.ReceiptResponse{}, domain.Err(domain.CodeValidation, "unit cost cannot be negative")
		}
		item, err := s.itemFor(ctx, actor, req.BranchID, lr.ItemID)
		if err != nil {
			return domain.ReceiptResponse{}, err
		}

		unit := strings.TrimSpace(lr.Unit)
		if unit == "" {
			unit = item.BaseUnit
		}
		qtyBase := conv.toBase(lr.Qty, unit, item.BaseUnit)

		receipt.Lines = append(receipt.Lines, domain.PurchaseReceiptLine{
			ReceiptID: receipt.ID,
			ItemID:    item.ID,
			Qty:       lr.Qty,
			Unit:      unit,
			UnitCost:  lr.UnitCost,
			TotalCost: qtyBase.Mul(lr.UnitCost).Round(3),
		})
		entries = append(entries, domain.StockLedgerEntry{
			RestaurantID: actor.RestaurantID,
			BranchID:     req.BranchID,
			ItemID:       item.ID,
			Qty:          lr.Qty,
			Unit:         unit,
			QtyBase:      qtyBase,
			Reason:       domain.ReasonPurchaseReceipt,
			RefType:      domain.RefTypeReceipt,
			RefID:        receipt.ID,
			CreatedBy:    actor.Username,
		})
	}

	saved, err := s.repo.PostPurchaseReceipt(ctx, receipt, entries)
	if err != nil {
		return domain.ReceiptResponse{}, err
	}

	s.invalidateStockLevels(ctx, req.BranchID)
	s.logAudit(ctx, actor.RestaurantID, "purchase_receive", "purchase_receipt", saved.ID,
		fmt.Sprintf("lines=%d,supplier=%s", len(saved.Lines), saved.Supplier))

	return domain.ReceiptResponse{Receipt: *saved}, nil
}

// Transfer moves stock between two branches of the same restaurant, writing a
// mirrored TRANSFER_OUT / TRANSFER_IN pair per line. Destination items are
// auto-provisioned by name when absent.
func (s *Service) Transfer(ctx context.Context, req domain.TransferRequest) (domain.TransferResponse, error) {
	actor, err := s.gate(ctx, true)
	if err != nil {
		return domain.TransferResponse{}, err
	}
	if req.FromBranchID == req.ToBranchID {
		return domain.TransferResponse{}, domain.Err(domain.CodeInvalidBranch, "transfer needs two distinct branches")
	}
	if _, err := s.branchFor(ctx, actor, req.FromBranchID); err != nil {
		return domain.TransferResponse{}, err
	}
	if _, err := s.branchFor(ctx, actor, req.ToBranchID); err != nil {
		return domain.TransferResponse{}, err
	}
	if len(req.Lines) == 0 {
		return domain.TransferResponse{}, domain.Err(domain.CodeValidation, "transfer needs at least one line")
	}

	conv, err := s.converter(ctx, actor.RestaurantID)
	if err != nil {
		return domain.TransferResponse{}, err
	}

	transfer := domain.Transfer{
		ID:           xid.New("trf"),
		RestaurantID: actor.RestaurantID,
		FromBranchID: req.FromBranchID,
		ToBranchID:   req.ToBranchID,
		Note:         strings.TrimSpace(req.Note),
		CreatedBy:    actor.Username,
		CreatedAt:    time.Now().UTC(),
	}
	entries := make([]domain.StockLedgerEntry, 0, len(req.Lines)*2)

	for _, lr := range req.Lines {
		if !lr.Qty.IsPositive() {
			return domain.TransferResponse{}, domain.Err(domain.CodeInvalidQuantity)
		}
		item, err := s.itemFor(ctx, actor, req.FromBranchID, lr.ItemID)
		if err != nil {
			return domain.TransferResponse{}, err
		}

		unit := strings.TrimSpace(lr.Unit)
		if unit == "" {
			unit = item.BaseUnit
		}
		qtyBase := conv.toBase(lr.Qty, unit, item.BaseUnit)

		dest, err := s.repo.FindItemByName(ctx, actor.RestaurantID, req.ToBranchID, item.Name)
		if errors.Is(err, store.ErrNotFound) {
			dest, err = s.repo.CreateInventoryItem(ctx, domain.InventoryItem{
				RestaurantID: actor.RestaurantID,
				BranchID:     req.ToBranchID,
				Name:         item.Name,
				BaseUnit:     item.BaseUnit,
				AvgCost:      item.AvgCost,
				ReorderLevel: item.ReorderLevel,
				ReorderQty:   item.ReorderQty,
			})
		}
		if err != nil {
			return domain.TransferResponse{}, err
		}

		transfer.Lines = append(transfer.Lines, domain.TransferLine{
			TransferID: transfer.ID,
			ItemID:     item.ID,
			DestItemID: dest.ID,
			Qty:        lr.Qty,
			Unit:       unit,
		})
		entries = append(entries,
			domain.StockLedgerEntry{
				RestaurantID: actor.RestaurantID,
				BranchID:     req.FromBranchID,
				ItemID:       item.ID,
				Qty:          lr.Qty.Neg(),
				Unit:         unit,
				QtyBase:      qtyBase.Neg(),
				Reason:       domain.ReasonTransferOut,
				RefType:      domain.RefTypeTransfer,
				RefID:        transfer.ID,
				CreatedBy:    actor.Username,
			},
			domain.StockLedgerEntry{
				RestaurantID: actor.RestaurantID,
				BranchID:     req.ToBranchID,
				ItemID:       dest.ID,
				Qty:          lr.Qty,
				Unit:         unit,
				QtyBase:      qtyBase,
				Reason:       domain.ReasonTransferIn,
				RefType:      domain.RefTypeTransfer,
				RefID:        transfer.ID,
				CreatedBy:    actor.Username,
			},
		)
	}

	saved, err := s.repo.PostTransfer(ctx, transfer, entries)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientStock) {
			return domain.TransferResponse{}, domain.Err(domain.CodeInsufficientStock)
		}
		return domain.TransferResponse{}, err
	}

	s.invalidateStockLevels(ctx, req.FromBranchID)
	s.invalidateStockLevels(ctx, req.ToBranchID)
	s.logAudit(ctx, actor.RestaurantID, "stock_transfer", "transfer", saved.ID,
		fmt.Sprintf("from=%s,to=%s,lines=%d", req.FromBranchID, req.ToBranchID, len(saved.Lines)))

	return domain.TransferResponse{Transfer: *saved}, nil
}

// CreateStockCount snapshots expected on-hand per line at creation time so
// the variance is judged against what the cache said when counting started.
func (s *Service) CreateStockCount(ctx context.Context, req domain.StockCountCreateRequest) (domain.StockCount, error) {
	actor, err := s.gate(ctx, true)
	if err != nil {
		return domain.StockCount{}, err
	}
	if _, err := s.branchFor(ctx, actor, req.BranchID); err != nil {
		return domain.StockCount{}, err
	}
	if len(req.Lines) == 0 {
		return domain.StockCount{}, domain.Err(domain.CodeValidation, "count needs at least one line")
	}

	itemIDs := make([]string, 0, len(req.Lines))
	for _, lr := range req.Lines {
		if lr.Actual.IsNegative() {
			return domain.StockCount{}, domain.Err(domain.CodeInvalidQuantity)
		}
		if _, err := s.itemFor(ctx, actor, req.BranchID, lr.ItemID); err != nil {
			return domain.StockCount{}, err
		}
		itemIDs = append(itemIDs, lr.ItemID)
	}

	levels, err := s.repo.GetStockLevels(ctx, req.BranchID, itemIDs)
	if err != nil {
		return domain.StockCount{}, err
	}

	count := domain.StockCount{
		RestaurantID: actor.RestaurantID,
		BranchID:     req.BranchID,
		Note:         strings.TrimSpace(req.Note),
		CreatedBy:    actor.Username,
	}
	for _, lr := range req.Lines {
		count.Lines = append(count.Lines, domain.StockCountLine{
			ItemID:   lr.ItemID,
			Expected: levels[lr.ItemID],
			Actual:   lr.Actual,
		})
	}

	saved, err := s.repo.CreateStockCount(ctx, count)
	if err != nil {
		return domain.StockCount{}, err
	}

	s.logAudit(ctx, actor.RestaurantID, "stock_count_create", "stock_count", saved.ID,
		fmt.Sprintf("lines=%d", len(saved.Lines)))
	return *saved, nil
}

// ApproveStockCount is terminal: every non-zero variance becomes one ledger
// adjustment, and the count can never be approved again.
func (s *Service) ApproveStockCount(ctx context.Context, countID string) (domain.StockCountApproveResponse, error) {
	actor, err := s.gateOwner(ctx, true)
	if err != nil {
		return domain.StockCountApproveResponse{}, err
	}

	count, err := s.repo.GetStockCount(ctx, countID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.StockCountApproveResponse{}, domain.Err(domain.CodeValidation, "stock count not found")
		}
		return domain.StockCountApproveResponse{}, err
	}
	if count.RestaurantID != actor.RestaurantID {
		return domain.StockCountApproveResponse{}, domain.Err(domain.CodeValidation, "stock count not found")
	}
	if count.Status != domain.CountStatusNew {
		return domain.StockCountApproveResponse{}, domain.Err(domain.CodeCountImmutable)
	}

	items, err := s.repo.GetItemsByIDs(ctx, countItemIDs(count))
	if err != nil {
		return domain.StockCountApproveResponse{}, err
	}

	now := time.Now().UTC()
	positive := decimal.Zero
	negative := decimal.Zero
	entries := make([]domain.StockLedgerEntry, 0, len(count.Lines))
	for _, line := range count.Lines {
		variance := line.Actual.Sub(line.Expected)
		if variance.IsZero() {
			continue
		}
		if variance.IsPositive() {
			positive = positive.Add(variance)
		} else {
			negative = negative.Add(variance)
		}
		entries = append(entries, domain.StockLedgerEntry{
			RestaurantID: count.RestaurantID,
			BranchID:     count.BranchID,
			ItemID:       line.ItemID,
			Qty:          variance,
			Unit:         items[line.ItemID].BaseUnit,
			QtyBase:      variance,
			Reason:       domain.ReasonStockCountAdjustment,
			RefType:      domain.RefTypeStockCount,
			RefID:        count.ID,
			CreatedBy:    actor.Username,
			CreatedAt:    now,
		})
	}

	if err := s.repo.ApproveStockCount(ctx, count.ID, actor.Username, now, entries); err != nil {
		if errors.Is(err, store.ErrFinalized) {
			return domain.StockCountApproveResponse{}, domain.Err(domain.CodeCountImmutable)
		}
		return domain.StockCountApproveResponse{}, err
	}

	s.invalidateStockLevels(ctx, count.BranchID)
	s.logAudit(ctx, actor.RestaurantID, "stock_count_approve", "stock_count", count.ID,
		fmt.Sprintf("adjustments=%d,positive=%s,negative=%s", len(entries), positive.String(), negative.String()))

	return domain.StockCountApproveResponse{
		CountID:          count.ID,
		Status:           domain.CountStatusApproved,
		PositiveVariance: positive,
		NegativeVariance: negative,
		Adjustments:      len(entries),
	}, nil
}

func (s *Service) CancelStockCount(ctx context.Context, countID string) error {
	actor, err := s.gateOwner(ctx, true)
	if err != nil {
		return err
	}

	count, err := s.repo.GetStockCount(ctx, countID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Err(domain.CodeValidation, "stock count not found")
		}
		return err
	}
	if count.RestaurantID != actor.RestaurantID {
		return domain.Err(domain.CodeValidation, "stock count not found")
	}

	if err := s.repo.CancelStockCount(ctx, count.ID); err != nil {
		if errors.Is(err, store.ErrFinalized) {
			return domain.Err(domain.CodeCountImmutable)
		}
		return err
	}

	s.logAudit(ctx, actor.RestaurantID, "stock_count_cancel", "stock_count", count.ID, "")
	return nil
}

func (s *Service) ListStockCounts(ctx context.Context, branchID string, limit int) ([]domain.StockCount, error) {
	actor, err := s.gate(ctx, true)
	if err != nil {
		return nil, err
	}
	if _, err := s.branchFor(ctx, actor, branchID); err != nil {
		return nil, err
	}
	return s.repo.ListStockCounts(ctx, branchID, limit)
}

// ReorderSuggestions ranks the branch's items that need restocking, using
// the last seven days of outbound movement as the sales pressure signal.
func (s *Service) ReorderSuggestions(ctx context.Context, branchID string) ([]domain.ReorderSuggestion, error) {
	actor, err := s.gateOwner(ctx, true)
	if err != nil {
		return nil, err
	}
	if _, err := s.branchFor(ctx, actor, branchID); err != nil {
		return nil, err
	}

	items, err := s.repo.ListInventoryItems(ctx, actor.RestaurantID, branchID)
	if err != nil {
		return nil, err
	}
	itemIDs := make([]string, 0, len(items))
	for _, item := range items {
		itemIDs = append(itemIDs, item.ID)
	}
	levels, err := s.repo.GetStockLevels(ctx, branchID, itemIDs)
	if err != nil {
		return nil, err
	}
	consumption, err := s.repo.SumConsumptionByItem(ctx, branchID, time.Now().UTC().AddDate(0, 0, -7))
	if err != nil {
		return nil, err
	}

	return s.reorder.Suggest(items, levels, consumption), nil
}

func countItemIDs(count *domain.StockCount) []string {
	ids := make([]string, 0, len(count.Lines))
	for _, line := range count.Lines {
		ids = append(ids, line.ItemID)
	}
	return ids
}

// ImportItemsCSV bulk-loads items from rows of name,unit,qty,unit_cost. Rows
// fail individually; the batch never aborts early. Initial stock is only
// written for items with no prior ledger history so re-imports cannot double
// count.
func (s *Service) ImportItemsCSV(ctx context.Context, branchID string, r io.Reader) (domain.ImportResponse, error) {
	actor, err := s.gateOwner(ctx, true)
	if err != nil {
		return domain.ImportResponse{}, err
	}
	if _, err := s.branchFor(ctx, actor, branchID); err != nil {
		return domain.ImportResponse{}, err
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	importID := xid.New("imp")
	resp := domain.ImportResponse{Errors: []domain.ImportRowError{}}
	rowNum := 0

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			rowNum++
			resp.Errors = append(resp.Errors, domain.ImportRowError{Row: rowNum, Message: "unreadable row"})
			continue
		}
		rowNum++
		if rowNum == 1 && looksLikeHeader(record) {
			continue
		}

		if rowErr := s.importRow(ctx, actor, branchID, importID, record, &resp); rowErr != "" {
			resp.Errors = append(resp.Errors, domain.ImportRowError{Row: rowNum, Message: rowErr})
		}
	}

	s.invalidateStockLevels(ctx, branchID)
	s.logAudit(ctx, actor.RestaurantID, "items_import", "import", importID,
		fmt.Sprintf("created=%d,matched=%d,stocked=%d,skipped=%d,errors=%d",
			resp.ItemsCreated, resp.ItemsMatched, resp.Stocked, resp.Skipped, len(resp.Errors)))

	return resp, nil
}

func looksLikeHeader(record []string) bool {
	return len(record) > 0 && strings.EqualFold(strings.TrimSpace(record[0]), "name")
}

// importRow processes one CSV row and returns a row-level error message, or
// "" on success.
func (s *Service) importRow(ctx context.Context, actor domain.Actor, branchID string, importID string, record []string, resp *domain.ImportResponse) string {
	if len(record) < 3 {
		return "expected columns: name, unit, qty[, unit_cost]"
	}

	name := strings.TrimSpace(record[0])
	unit := strings.TrimSpace(record[1])
	if name == "" || unit == "" {
		return "name and unit are required"
	}

	qty, err := decimal.NewFromString(strings.TrimSpace(record[2]))
	if err != nil || qty.IsNegative() {
		return "qty must be a non-negative number"
	}
	unitCost := decimal.Zero
	if len(record) > 3 && strings.TrimSpace(record[3]) != "" {
		unitCost, err = decimal.NewFromString(strings.TrimSpace(record[3]))
		if err != nil || unitCost.IsNegative() {
			return "unit_cost must be a non-negative number"
		}
	}

	if _, err := s.repo.GetUnit(ctx, actor.RestaurantID, unit); errors.Is(err, store.ErrNotFound) {
		if err := s.repo.CreateUnit(ctx, domain.Unit{RestaurantID: actor.RestaurantID, Name: unit, Symbol: unit}); err != nil {
			return "failed to register unit"
		}
		resp.UnitsCreated++
	} else if err != nil {
		return "failed to look up unit"
	}

	item, err := s.repo.FindItemByName(ctx, actor.RestaurantID, branchID, name)
	switch {
	case errors.Is(err, store.ErrNotFound):
		item, err = s.repo.CreateInventoryItem(ctx, domain.InventoryItem{
			RestaurantID: actor.RestaurantID,
			BranchID:     branchID,
			Name:         name,
			BaseUnit:     unit,
			AvgCost:      unitCost,
		})
		if err != nil {
			return "failed to create item"
		}
		resp.ItemsCreated++
	case err != nil:
		return "failed to look up item"
	default:
		if item.BaseUnit != unit {
			return fmt.Sprintf("unit %q does not match item base unit %q", unit, item.BaseUnit)
		}
		resp.ItemsMatched++
	}

	if qty.IsZero() {
		resp.Skipped++
		return ""
	}

	hasHistory, err := s.repo.HasLedgerHistory(ctx, branchID, item.ID)
	if err != nil {
		return "failed to check ledger history"
	}
	if hasHistory {
		resp.Skipped++
		return ""
	}

	entry := domain.StockLedgerEntry{
		RestaurantID: actor.RestaurantID,
		BranchID:     branchID,
		ItemID:       item.ID,
		Qty:          qty,
		Unit:         unit,
		QtyBase:      qty,
		Reason:       domain.ReasonInitialStockImport,
		RefType:      domain.RefTypeImport,
		RefID:        importID,
		CreatedBy:    actor.Username,
	}
	if err := s.repo.AppendLedgerEntries(ctx, []domain.StockLedgerEntry{entry}, false); err != nil {
		return "failed to write initial stock"
	}
	resp.Stocked++
	return ""
}
