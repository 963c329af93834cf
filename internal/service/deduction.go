package service

import (
	"context"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"sufrah/backend/internal/domain"
)

// deductForOrder consumes recipe ingredients for a settled order and writes
// COGS and profit back onto the order lines. It runs after the payment is
// durable and must never undo it: stock is allowed to go negative, and every
// failure is logged and swallowed. The returned warnings name the items the
// sale pushed below zero.
func (s *Service) deductForOrder(ctx context.Context, actor domain.Actor, order *domain.Order) []domain.StockWarning {
	restaurant, err := s.repo.GetRestaurant(ctx, order.RestaurantID)
	if err != nil {
		log.Printf("[deduction] WARN: order %s: restaurant lookup failed: %v", order.ID, err)
		return nil
	}
	if !restaurant.InventoryEnabled {
		return nil
	}

	qtyByMenu := make(map[string]decimal.Decimal)
	menuIDs := make([]string, 0, len(order.Lines))
	for _, line := range order.Lines {
		if line.Voided {
			continue
		}
		if _, seen := qtyByMenu[line.MenuItemID]; !seen {
			menuIDs = append(menuIDs, line.MenuItemID)
		}
		qtyByMenu[line.MenuItemID] = qtyByMenu[line.MenuItemID].Add(line.Qty)
	}
	if len(menuIDs) == 0 {
		return nil
	}

	recipes, err := s.repo.GetActiveRecipesByMenuItems(ctx, order.RestaurantID, menuIDs)
	if err != nil {
		log.Printf("[deduction] WARN: order %s: recipe lookup failed: %v", order.ID, err)
		return nil
	}
	if len(recipes) == 0 {
		return nil
	}

	conv, err := s.converter(ctx, order.RestaurantID)
	if err != nil {
		log.Printf("[deduction] WARN: order %s: conversion lookup failed: %v", order.ID, err)
		return nil
	}

	itemIDs := make([]string, 0)
	seen := make(map[string]bool)
	for menuID := range qtyByMenu {
		for _, rl := range recipes[menuID].Lines {
			if !seen[rl.ItemID] {
				seen[rl.ItemID] = true
				itemIDs = append(itemIDs, rl.ItemID)
			}
		}
	}
	if len(itemIDs) == 0 {
		return nil
	}

	items, err := s.repo.GetItemsByIDs(ctx, itemIDs)
	if err != nil {
		log.Printf("[deduction] WARN: order %s: item lookup failed: %v", order.ID, err)
		return nil
	}

	// Required base quantity per inventory item across the whole order.
	required := make(map[string]decimal.Decimal)
	for menuID, orderedQty := range qtyByMenu {
		for _, rl := range recipes[menuID].Lines {
			item, ok := items[rl.ItemID]
			if !ok {
				log.Printf("[deduction] WARN: order %s: recipe for menu item %s references missing item %s, skipping line", order.ID, menuID, rl.ItemID)
				continue
			}
			need := conv.toBase(rl.Qty, rl.Unit, item.BaseUnit).Mul(orderedQty)
			required[rl.ItemID] = required[rl.ItemID].Add(need)
		}
	}

	levels, err := s.repo.GetStockLevels(ctx, order.BranchID, itemIDs)
	if err != nil {
		log.Printf("[deduction] WARN: order %s: stock level lookup failed: %v", order.ID, err)
		return nil
	}

	now := time.Now().UTC()
	var warnings []domain.StockWarning
	entries := make([]domain.StockLedgerEntry, 0, len(itemIDs))
	for _, itemID := range itemIDs {
		need := required[itemID]
		if !need.IsPositive() {
			continue
		}
		item := items[itemID]
		onHand := levels[itemID]
		newOnHand := onHand.Sub(need)
		if newOnHand.IsNegative() {
			warnings = append(warnings, domain.StockWarning{
				ItemID:    itemID,
				Name:      item.Name,
				OnHand:    onHand,
				Required:  need,
				NewOnHand: newOnHand,
			})
		}
		entries = append(entries, domain.StockLedgerEntry{
			RestaurantID: order.RestaurantID,
			BranchID:     order.BranchID,
			ItemID:       itemID,
			Qty:          need.Neg(),
			Unit:         item.BaseUnit,
			QtyBase:      need.Neg(),
			Reason:       domain.ReasonSaleDeduction,
			RefType:      domain.RefTypeOrder,
			RefID:        order.ID,
			CreatedBy:    actor.Username,
			CreatedAt:    now,
		})
	}

	if len(entries) == 0 {
		return nil
	}
	if err := s.repo.AppendLedgerEntries(ctx, entries, true); err != nil {
		log.Printf("[deduction] WARN: order %s: ledger write failed: %v", order.ID, err)
		return nil
	}
	s.invalidateStockLevels(ctx, order.BranchID)

	s.writeLineCosts(ctx, order, recipes, items, conv)

	for _, w := range warnings {
		log.Printf("[deduction] WARN: order %s drove item %s negative (on hand %s, required %s)",
			order.ID, w.ItemID, w.OnHand.String(), w.Required.String())
	}
	return warnings
}

// writeLineCosts prices each order line at the moving-average cost of its
// recipe ingredients. Failures only cost reporting accuracy, never the sale.
func (s *Service) writeLineCosts(ctx context.Context, order *domain.Order, recipes map[string]domain.Recipe, items map[string]domain.InventoryItem, conv *unitConverter) {
	costPerUnit := make(map[string]decimal.Decimal, len(recipes))
	for menuID, recipe := range recipes {
		cost := decimal.Zero
		for _, rl := range recipe.Lines {
			item, ok := items[rl.ItemID]
			if !ok {
				continue
			}
			qtyBase := conv.toBase(rl.Qty, rl.Unit, item.BaseUnit)
			cost = cost.Add(qtyBase.Mul(item.AvgCost))
		}
		costPerUnit[menuID] = cost
	}

	for i := range order.Lines {
		line := &order.Lines[i]
		if line.Voided {
			continue
		}
		unitCost, ok := costPerUnit[line.MenuItemID]
		if !ok {
			continue
		}
		cogs := unitCost.Mul(line.Qty).Round(3)
		profit := line.Total.Sub(cogs)
		if err := s.repo.UpdateOrderLineCosts(ctx, line.ID, cogs, profit); err != nil {
			log.Printf("[deduction] WARN: order %s: cost write for line %s failed: %v", order.ID, line.ID, err)
			continue
		}
		line.Cogs = cogs
		line.Profit = profit
	}
}
