package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"sufrah/backend/internal/domain"
	"sufrah/backend/internal/store"
)

// CreateOrder prices the lines from the active menu and opens the order.
// Line amounts keep three decimals; the order total is rounded to one
// decimal place as the customer-facing figure.
func (s *Service) CreateOrder(ctx context.Context, req domain.OrderCreateRequest) (domain.Order, error) {
	actor, err := s.gate(ctx, false)
	if err != nil {
		return domain.Order{}, err
	}
	if _, err := s.branchFor(ctx, actor, req.BranchID); err != nil {
		return domain.Order{}, err
	}
	if len(req.Lines) == 0 {
		return domain.Order{}, domain.Err(domain.CodeValidation, "order needs at least one line")
	}

	menuIDs := make([]string, 0, len(req.Lines))
	for _, lr := range req.Lines {
		if !lr.Qty.IsPositive() {
			return domain.Order{}, domain.Err(domain.CodeInvalidQuantity)
		}
		menuIDs = append(menuIDs, lr.MenuItemID)
	}

	menuItems, err := s.repo.GetMenuItemsByIDs(ctx, menuIDs)
	if err != nil {
		return domain.Order{}, err
	}

	order := domain.Order{
		RestaurantID: actor.RestaurantID,
		BranchID:     req.BranchID,
		TableID:      req.TableID,
		Status:       domain.OrderStatusOpen,
		CreatedBy:    actor.Username,
		CreatedAt:    time.Now().UTC(),
	}

	subtotal := decimal.Zero
	for _, lr := range req.Lines {
		mi, ok := menuItems[lr.MenuItemID]
		if !ok || mi.RestaurantID != actor.RestaurantID || !mi.Active {
			return domain.Order{}, domain.Err(domain.CodeValidation, "unknown menu item "+lr.MenuItemID)
		}
		lineTotal := mi.Price.Mul(lr.Qty).Round(3)
		subtotal = subtotal.Add(lineTotal)
		order.Lines = append(order.Lines, domain.OrderLine{
			MenuItemID: mi.ID,
			Name:       mi.Name,
			Qty:        lr.Qty,
			UnitPrice:  mi.Price,
			Total:      lineTotal,
		})
	}
	order.Subtotal = subtotal.Round(3)
	order.Total = order.Subtotal.Round(1)

	saved, err := s.repo.CreateOrder(ctx, order)
	if err != nil {
		return domain.Order{}, err
	}

	s.logAudit(ctx, actor.RestaurantID, "order_create", "order", saved.ID,
		fmt.Sprintf("number=%d,total=%s", saved.Number, saved.Total.String()))
	return *saved, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	actor, err := s.gate(ctx, false)
	if err != nil {
		return domain.Order{}, err
	}
	order, err := s.orderFor(ctx, actor, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return *order, nil
}

func (s *Service) ListOrders(ctx context.Context, branchID string, status string, limit int) ([]domain.Order, error) {
	actor, err := s.gate(ctx, false)
	if err != nil {
		return nil, err
	}
	if _, err := s.branchFor(ctx, actor, branchID); err != nil {
		return nil, err
	}
	return s.repo.ListOrders(ctx, branchID, status, limit)
}

func (s *Service) orderFor(ctx context.Context, actor domain.Actor, orderID string) (*domain.Order, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.Err(domain.CodeOrderNotFound)
	}
	if err != nil {
		return nil, err
	}
	if order.RestaurantID != actor.RestaurantID {
		return nil, domain.Err(domain.CodeOrderNotFound)
	}
	return order, nil
}
