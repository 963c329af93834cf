package service

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"sufrah/backend/internal/domain"
	"sufrah/backend/internal/xid"
)

// payableFrom returns the statuses an order may be settled from, and the
// status settlement moves it to. Dine-in orders close out to paid; takeaway
// orders enter the kitchen queue at payment.
func payableFrom(order *domain.Order) (from []string, to string) {
	if order.TableID != "" {
		return []string{domain.OrderStatusOpen, domain.OrderStatusNew}, domain.OrderStatusPaid
	}
	return []string{domain.OrderStatusOpen}, domain.OrderStatusNew
}

func validPaymentMethod(method string) bool {
	switch method {
	case domain.PaymentMethodCash, domain.PaymentMethodCard, domain.PaymentMethodWallet:
		return true
	}
	return false
}

// checkTender enforces the tender rules against the amount due: cash may
// exceed it (change is returned), but card and wallet instruments cannot
// overshoot, and the combined tender must cover the total.
func checkTender(payments []domain.PaymentInstrument, total decimal.Decimal) (tendered decimal.Decimal, err error) {
	if len(payments) == 0 {
		return decimal.Zero, domain.Err(domain.CodeValidation, "at least one payment is required")
	}
	hasNonCash := false
	for _, p := range payments {
		if !validPaymentMethod(p.Method) {
			return decimal.Zero, domain.Err(domain.CodeInvalidPaymentMethod)
		}
		if !p.Amount.IsPositive() {
			return decimal.Zero, domain.Err(domain.CodeValidation, "payment amounts must be positive")
		}
		if p.Method != domain.PaymentMethodCash {
			hasNonCash = true
		}
		tendered = tendered.Add(p.Amount)
	}
	if tendered.LessThan(total.Sub(refundTolerance)) {
		return decimal.Zero, domain.Err(domain.CodeUnderpayment)
	}
	if hasNonCash && tendered.GreaterThan(total.Add(refundTolerance)) {
		return decimal.Zero, domain.Err(domain.CodeCardOverpayment)
	}
	return tendered, nil
}

// PayOrder settles a single order. The status transition is a conditional
// update, so a concurrent settlement of the same order loses cleanly with
// race_condition instead of double charging. If the payment rows fail to
// persist the status is reverted.
func (s *Service) PayOrder(ctx context.Context, orderID string, req domain.PayOrderRequest) (domain.PayOrderResponse, error) {
	actor, err := s.gate(ctx, false)
	if err != nil {
		return domain.PayOrderResponse{}, err
	}
	order, err := s.orderFor(ctx, actor, orderID)
	if err != nil {
		return domain.PayOrderResponse{}, err
	}

	from, to := payableFrom(order)
	if !statusIn(order.Status, from) {
		return domain.PayOrderResponse{}, domain.Err(domain.CodeOrderNotOpen)
	}

	tendered, err := checkTender(req.Payments, order.Total)
	if err != nil {
		return domain.PayOrderResponse{}, err
	}

	prevStatus := order.Status
	moved, err := s.repo.TransitionOrderStatus(ctx, order.ID, from, to)
	if err != nil {
		return domain.PayOrderResponse{}, err
	}
	if !moved {
		return domain.PayOrderResponse{}, domain.Err(domain.CodeRaceCondition)
	}

	now := time.Now().UTC()
	rows := make([]domain.Payment, 0, len(req.Payments))
	for _, p := range req.Payments {
		rows = append(rows, domain.Payment{
			ID:           xid.New("pay"),
			OrderID:      order.ID,
			RestaurantID: order.RestaurantID,
			BranchID:     order.BranchID,
			Method:       p.Method,
			Amount:       p.Amount,
			Reference:    p.Reference,
			CreatedBy:    actor.Username,
			CreatedAt:    now,
		})
	}
	if err := s.repo.CreatePayments(ctx, rows); err != nil {
		if revertErr := s.repo.SetOrderStatus(ctx, order.ID, prevStatus); revertErr != nil {
			log.Printf("[payment] WARN: failed to revert order %s to %s after payment failure: %v", order.ID, prevStatus, revertErr)
		}
		return domain.PayOrderResponse{}, err
	}

	warnings := s.deductForOrder(ctx, actor, order)

	s.logAudit(ctx, actor.RestaurantID, "order_pay", "order", order.ID,
		"total="+order.Total.String()+",tendered="+tendered.String())

	return domain.PayOrderResponse{
		OrderID:  order.ID,
		Status:   to,
		Total:    order.Total,
		Tendered: tendered,
		Change:   tendered.Sub(order.Total),
		Payments: rows,
		Warnings: warnings,
	}, nil
}

// PayTable settles a group of orders on one tender. Each instrument is split
// across the orders in proportion to their totals; the last order absorbs the
// rounding remainder so the allocated rows sum to the instrument exactly.
func (s *Service) PayTable(ctx context.Context, req domain.PayTableRequest) (domain.PayTableResponse, error) {
	actor, err := s.gate(ctx, false)
	if err != nil {
		return domain.PayTableResponse{}, err
	}
	if len(req.OrderIDs) == 0 {
		return domain.PayTableResponse{}, domain.Err(domain.CodeValidation, "at least one order is required")
	}
	orderIDs := dedupe(req.OrderIDs)
	if len(orderIDs) != len(req.OrderIDs) {
		return domain.PayTableResponse{}, domain.Err(domain.CodeValidation, "duplicate order ids")
	}

	orders, err := s.repo.GetOrdersByIDs(ctx, orderIDs)
	if err != nil {
		return domain.PayTableResponse{}, err
	}
	if len(orders) != len(orderIDs) {
		return domain.PayTableResponse{}, domain.Err(domain.CodeOrderNotFound)
	}

	combined := decimal.Zero
	for i := range orders {
		if orders[i].RestaurantID != actor.RestaurantID {
			return domain.PayTableResponse{}, domain.Err(domain.CodeOrderNotFound)
		}
		from, _ := payableFrom(&orders[i])
		if !statusIn(orders[i].Status, from) {
			return domain.PayTableResponse{}, domain.Err(domain.CodeOrderNotOpen)
		}
		combined = combined.Add(orders[i].Total)
	}

	tendered, err := checkTender(req.Payments, combined)
	if err != nil {
		return domain.PayTableResponse{}, err
	}

	// Phase one: claim every order via the conditional update. A failure
	// midway reverts the orders already claimed.
	prev := make(map[string]string, len(orders))
	targets := make(map[string]string, len(orders))
	claimed := make([]string, 0, len(orders))
	for i := range orders {
		from, to := payableFrom(&orders[i])
		prev[orders[i].ID] = orders[i].Status
		targets[orders[i].ID] = to
		moved, err := s.repo.TransitionOrderStatus(ctx, orders[i].ID, from, to)
		if err != nil || !moved {
			s.revertOrders(ctx, claimed, prev)
			if err != nil {
				return domain.PayTableResponse{}, err
			}
			return domain.PayTableResponse{}, domain.Err(domain.CodeRaceCondition)
		}
		claimed = append(claimed, orders[i].ID)
	}

	rows := allocatePayments(orders, req.Payments, combined)

	now := time.Now().UTC()
	for i := range rows {
		rows[i].ID = xid.New("pay")
		rows[i].RestaurantID = actor.RestaurantID
		rows[i].CreatedBy = actor.Username
		rows[i].CreatedAt = now
	}
	if err := s.repo.CreatePayments(ctx, rows); err != nil {
		s.revertOrders(ctx, claimed, prev)
		return domain.PayTableResponse{}, err
	}

	var warnings []domain.StockWarning
	for i := range orders {
		warnings = append(warnings, s.deductForOrder(ctx, actor, &orders[i])...)
	}

	byOrder := make(map[string][]domain.Payment, len(orders))
	for _, row := range rows {
		byOrder[row.OrderID] = append(byOrder[row.OrderID], row)
	}
	results := make([]domain.PayTableOrderResult, len(orders))
	for i := range orders {
		results[i] = domain.PayTableOrderResult{
			OrderID:   orders[i].ID,
			Number:    orders[i].Number,
			Status:    targets[orders[i].ID],
			Total:     orders[i].Total,
			Allocated: byOrder[orders[i].ID],
		}
	}

	s.logAudit(ctx, actor.RestaurantID, "table_pay", "order", claimed[0],
		"orders="+strconv.Itoa(len(orders))+",combined="+combined.String())

	return domain.PayTableResponse{
		Orders:        results,
		CombinedTotal: combined,
		Tendered:      tendered,
		Change:        tendered.Sub(combined),
		Warnings:      warnings,
	}, nil
}

// allocatePayments splits each instrument across the orders by the ratio of
// order total to combined total at three decimals. The last order takes
// whatever remains of the instrument, so per-instrument sums are exact.
func allocatePayments(orders []domain.Order, payments []domain.PaymentInstrument, combined decimal.Decimal) []domain.Payment {
	var rows []domain.Payment
	for _, p := range payments {
		remainder := p.Amount
		for i := range orders {
			var share decimal.Decimal
			if i == len(orders)-1 {
				share = remainder
			} else {
				share = p.Amount.Mul(orders[i].Total).DivRound(combined, 3)
				remainder = remainder.Sub(share)
			}
			rows = append(rows, domain.Payment{
				OrderID:   orders[i].ID,
				BranchID:  orders[i].BranchID,
				Method:    p.Method,
				Amount:    share,
				Reference: p.Reference,
			})
		}
	}
	return rows
}

func (s *Service) revertOrders(ctx context.Context, claimed []string, prev map[string]string) {
	for _, id := range claimed {
		if err := s.repo.SetOrderStatus(ctx, id, prev[id]); err != nil {
			log.Printf("[payment] WARN: failed to revert order %s to %s: %v", id, prev[id], err)
		}
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func statusIn(status string, set []string) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}
