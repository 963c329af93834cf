package service

import (
	"context"
	"errors"
	"log"
	"time"

	"sufrah/backend/internal/domain"
	"sufrah/backend/internal/store"
	"sufrah/backend/internal/xid"
)

// CreateRefund records a refund against a settled order. The sum of refunds
// can never exceed the order total beyond the rounding tolerance. When the
// order becomes fully refunded it transitions to refunded and the sale's
// inventory deduction is restored on a best-effort basis.
func (s *Service) CreateRefund(ctx context.Context, orderID string, req domain.RefundCreateRequest) (domain.RefundResponse, error) {
	actor, err := s.gate(ctx, false)
	if err != nil {
		return domain.RefundResponse{}, err
	}
	order, err := s.orderFor(ctx, actor, orderID)
	if err != nil {
		return domain.RefundResponse{}, err
	}

	if order.Status != domain.OrderStatusPaid && order.Status != domain.OrderStatusRefunded {
		return domain.RefundResponse{}, domain.Err(domain.CodeOrderNotRefundable)
	}
	if req.Type != domain.RefundTypeFull && req.Type != domain.RefundTypePartial {
		return domain.RefundResponse{}, domain.Err(domain.CodeInvalidRefundType)
	}

	refunded, err := s.repo.SumRefundsByOrder(ctx, order.ID)
	if err != nil {
		return domain.RefundResponse{}, err
	}
	remaining := order.Total.Sub(refunded)

	amount := req.Amount
	if req.Type == domain.RefundTypeFull {
		amount = remaining
	}
	if !amount.IsPositive() {
		return domain.RefundResponse{}, domain.Err(domain.CodeRefundExceedsAvail)
	}
	if amount.GreaterThan(remaining.Add(refundTolerance)) {
		return domain.RefundResponse{}, domain.Err(domain.CodeRefundExceedsAvail)
	}

	refund := domain.Refund{
		ID:           xid.New("rfd"),
		OrderID:      order.ID,
		RestaurantID: order.RestaurantID,
		BranchID:     order.BranchID,
		Amount:       amount,
		Type:         req.Type,
		Reason:       req.Reason,
		CreatedBy:    actor.Username,
		CreatedAt:    time.Now().UTC(),
	}
	saved, err := s.repo.CreateRefund(ctx, refund)
	if err != nil {
		return domain.RefundResponse{}, err
	}

	totalRefunded := refunded.Add(saved.Amount)
	status := order.Status
	covered := totalRefunded.GreaterThanOrEqual(order.Total.Sub(refundTolerance))
	if covered && order.Status == domain.OrderStatusPaid {
		moved, err := s.repo.TransitionOrderStatus(ctx, order.ID, []string{domain.OrderStatusPaid}, domain.OrderStatusRefunded)
		if err != nil {
			log.Printf("[refund] WARN: order %s: status transition failed: %v", order.ID, err)
		} else if moved {
			status = domain.OrderStatusRefunded
		}
	}

	restored := false
	if covered {
		restored = s.restoreDeduction(ctx, actor, order, saved)
	}

	s.logAudit(ctx, actor.RestaurantID, "order_refund", "refund", saved.ID,
		"order="+order.ID+",amount="+saved.Amount.String()+",type="+saved.Type)

	return domain.RefundResponse{
		Refund:        *saved,
		OrderStatus:   status,
		TotalRefunded: totalRefunded,
		Restored:      restored,
	}, nil
}

// restoreDeduction mirrors the order's SALE_DEDUCTION entries back into
// stock. Money has already moved, so failures here are logged and the refund
// stands; a reconcile pass can repair the stock later.
func (s *Service) restoreDeduction(ctx context.Context, actor domain.Actor, order *domain.Order, refund *domain.Refund) bool {
	deductions, err := s.repo.ListLedgerEntriesByRef(ctx, domain.RefTypeOrder, order.ID)
	if err != nil {
		log.Printf("[restore] WARN: order %s: deduction lookup failed: %v", order.ID, err)
		return false
	}

	var sales []domain.StockLedgerEntry
	for _, e := range deductions {
		if e.Reason == domain.ReasonSaleDeduction {
			sales = append(sales, e)
		}
	}
	if len(sales) == 0 {
		return false
	}

	already, err := s.alreadyRestored(ctx, order.ID)
	if err != nil {
		log.Printf("[restore] WARN: order %s: restoration check failed: %v", order.ID, err)
		return false
	}
	if already {
		return false
	}

	now := time.Now().UTC()
	entries := make([]domain.StockLedgerEntry, 0, len(sales))
	for _, sale := range sales {
		entries = append(entries, domain.StockLedgerEntry{
			RestaurantID: sale.RestaurantID,
			BranchID:     sale.BranchID,
			ItemID:       sale.ItemID,
			Qty:          sale.Qty.Abs(),
			Unit:         sale.Unit,
			QtyBase:      sale.QtyBase.Abs(),
			Reason:       domain.ReasonRefundRestoration,
			RefType:      domain.RefTypeRefund,
			RefID:        refund.ID,
			CreatedBy:    actor.Username,
			CreatedAt:    now,
		})
	}
	if err := s.repo.AppendLedgerEntries(ctx, entries, true); err != nil {
		log.Printf("[restore] WARN: order %s: restoration write failed: %v", order.ID, err)
		return false
	}

	s.invalidateStockLevels(ctx, order.BranchID)
	return true
}

// alreadyRestored reports whether any refund of this order has already
// written restoration entries, guarding a second full refund path from
// doubling the stock back.
func (s *Service) alreadyRestored(ctx context.Context, orderID string) (bool, error) {
	refunds, err := s.repo.ListRefundsByOrder(ctx, orderID)
	if err != nil {
		return false, err
	}
	for _, r := range refunds {
		entries, err := s.repo.ListLedgerEntriesByRef(ctx, domain.RefTypeRefund, r.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return false, err
		}
		if len(entries) > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) ListRefunds(ctx context.Context, orderID string) ([]domain.Refund, error) {
	actor, err := s.gate(ctx, false)
	if err != nil {
		return nil, err
	}
	if _, err := s.orderFor(ctx, actor, orderID); err != nil {
		return nil, err
	}
	return s.repo.ListRefundsByOrder(ctx, orderID)
}
