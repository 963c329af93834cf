package service

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"sufrah/backend/internal/cache"
	"sufrah/backend/internal/domain"
	"sufrah/backend/internal/reorder"
	"sufrah/backend/internal/store"
	"sufrah/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// refundTolerance absorbs 3-decimal rounding noise when comparing money.
var refundTolerance = decimal.New(1, -3)

const stockLevelsTTL = 30 * time.Second

type Service struct {
	repo    store.Repository
	stock   cache.StockLevelCache
	reorder *reorder.Engine
}

func New(repo store.Repository, stock cache.StockLevelCache) *Service {
	if stock == nil {
		stock = cache.NoopStockLevelCache{}
	}
	return &Service{repo: repo, stock: stock, reorder: reorder.NewEngine()}
}

// gate resolves the caller and applies the per-restaurant gates. All engine
// entry points go through here before touching any state.
func (s *Service) gate(ctx context.Context, requireInventory bool) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.RestaurantID == "" {
		return domain.Actor{}, domain.Err(domain.CodeUnauthorized)
	}

	restaurant, err := s.repo.GetRestaurant(ctx, actor.RestaurantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Actor{}, domain.Err(domain.CodeForbidden)
		}
		return domain.Actor{}, err
	}
	if !restaurant.SubscriptionActive {
		return domain.Actor{}, domain.Err(domain.CodeSubscriptionExpired)
	}
	if requireInventory && !restaurant.InventoryEnabled {
		return domain.Actor{}, domain.Err(domain.CodeInventoryDisabled)
	}

	return actor, nil
}

func (s *Service) gateOwner(ctx context.Context, requireInventory bool) (domain.Actor, error) {
	actor, err := s.gate(ctx, requireInventory)
	if err != nil {
		return domain.Actor{}, err
	}
	if actor.Role != domain.RoleOwner {
		return domain.Actor{}, domain.Err(domain.CodeForbidden)
	}
	return actor, nil
}

// branchFor loads a branch and verifies it belongs to the caller's restaurant.
func (s *Service) branchFor(ctx context.Context, actor domain.Actor, branchID string) (*domain.Branch, error) {
	branch, err := s.repo.GetBranch(ctx, branchID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.Err(domain.CodeInvalidBranch)
		}
		return nil, err
	}
	if branch.RestaurantID != actor.RestaurantID {
		return nil, domain.Err(domain.CodeInvalidBranch)
	}
	return branch, nil
}

func (s *Service) itemFor(ctx context.Context, actor domain.Actor, branchID string, itemID string) (*domain.InventoryItem, error) {
	item, err := s.repo.GetInventoryItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.Err(domain.CodeItemNotFound)
		}
		return nil, err
	}
	if item.RestaurantID != actor.RestaurantID {
		return nil, domain.Err(domain.CodeItemNotFound)
	}
	if branchID != "" && item.BranchID != branchID {
		return nil, domain.Err(domain.CodeInvalidBranch)
	}
	return item, nil
}

// unitConverter resolves quantities into an item's base unit from the
// restaurant's conversion table. Missing registrations fall back to identity;
// callers that depend on conversion correctness must register both units.
type unitConverter struct {
	multipliers map[string]decimal.Decimal
}

func (s *Service) converter(ctx context.Context, restaurantID string) (*unitConverter, error) {
	convs, err := s.repo.ListUnitConversions(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	multipliers := make(map[string]decimal.Decimal, len(convs))
	for _, c := range convs {
		multipliers[c.FromUnit+"|"+c.ToUnit] = c.Multiplier
	}
	return &unitConverter{multipliers: multipliers}, nil
}

func (c *unitConverter) toBase(qty decimal.Decimal, unit string, baseUnit string) decimal.Decimal {
	if unit == "" || unit == baseUnit {
		return qty
	}
	if m, ok := c.multipliers[unit+"|"+baseUnit]; ok {
		return qty.Mul(m)
	}
	if m, ok := c.multipliers[baseUnit+"|"+unit]; ok && !m.IsZero() {
		return qty.DivRound(m, 6)
	}
	return qty
}

func (s *Service) logAudit(ctx context.Context, restaurantID string, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		RestaurantID:  restaurantID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func (s *Service) invalidateStockLevels(ctx context.Context, branchID string) {
	if err := s.stock.Invalidate(ctx, branchID); err != nil {
		log.Printf("[cache] WARN: failed to invalidate stock levels branch=%s: %v", branchID, err)
	}
}

func (s *Service) CreateInventoryItem(ctx context.Context, req domain.ItemCreateRequest) (domain.InventoryItem, error) {
	actor, err := s.gate(ctx, true)
	if err != nil {
		return domain.InventoryItem{}, err
	}
	if _, err := s.branchFor(ctx, actor, req.BranchID); err != nil {
		return domain.InventoryItem{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.BaseUnit = strings.TrimSpace(req.BaseUnit)
	if req.Name == "" || req.BaseUnit == "" {
		return domain.InventoryItem{}, domain.Err(domain.CodeValidation)
	}
	if req.ReorderLevel.IsNegative() || req.ReorderQty.IsNegative() {
		return domain.InventoryItem{}, domain.Err(domain.CodeValidation)
	}

	if err := s.repo.CreateUnit(ctx, domain.Unit{
		RestaurantID: actor.RestaurantID,
		Name:         req.BaseUnit,
		Symbol:       req.BaseUnit,
	}); err != nil {
		return domain.InventoryItem{}, err
	}

	item, err := s.repo.CreateInventoryItem(ctx, domain.InventoryItem{
		RestaurantID: actor.RestaurantID,
		BranchID:     req.BranchID,
		Name:         req.Name,
		BaseUnit:     req.BaseUnit,
		AvgCost:      decimal.Zero,
		ReorderLevel: req.ReorderLevel,
		ReorderQty:   req.ReorderQty,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.InventoryItem{}, domain.Err(domain.CodeConflict)
		}
		return domain.InventoryItem{}, err
	}

	s.logAudit(ctx, actor.RestaurantID, "item_create", "inventory_item", item.ID, "name="+item.Name+",unit="+item.BaseUnit)
	return *item, nil
}

func (s *Service) ListInventoryItems(ctx context.Context, branchID string) ([]domain.InventoryItem, error) {
	actor, err := s.gate(ctx, true)
	if err != nil {
		return nil, err
	}
	if _, err := s.branchFor(ctx, actor, branchID); err != nil {
		return nil, err
	}
	return s.repo.ListInventoryItems(ctx, actor.RestaurantID, branchID)
}

func (s *Service) CreateUnitConversion(ctx context.Context, req domain.ConversionCreateRequest) (domain.UnitConversion, error) {
	actor, err := s.gateOwner(ctx, true)
	if err != nil {
		return domain.UnitConversion{}, err
	}

	req.FromUnit = strings.TrimSpace(req.FromUnit)
	req.ToUnit = strings.TrimSpace(req.ToUnit)
	if req.FromUnit == "" || req.ToUnit == "" || req.FromUnit == req.ToUnit {
		return domain.UnitConversion{}, domain.Err(domain.CodeValidation)
	}
	if !req.Multiplier.IsPositive() {
		return domain.UnitConversion{}, domain.Err(domain.CodeValidation)
	}

	for _, name := range []string{req.FromUnit, req.ToUnit} {
		if err := s.repo.CreateUnit(ctx, domain.Unit{RestaurantID: actor.RestaurantID, Name: name, Symbol: name}); err != nil {
			return domain.UnitConversion{}, err
		}
	}

	conv, err := s.repo.CreateUnitConversion(ctx, domain.UnitConversion{
		RestaurantID: actor.RestaurantID,
		FromUnit:     req.FromUnit,
		ToUnit:       req.ToUnit,
		Multiplier:   req.Multiplier,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.UnitConversion{}, domain.Err(domain.CodeConflict)
		}
		return domain.UnitConversion{}, err
	}

	s.logAudit(ctx, actor.RestaurantID, "conversion_create", "unit_conversion", conv.ID, req.FromUnit+"->"+req.ToUnit)
	return *conv, nil
}

func (s *Service) ListUnitConversions(ctx context.Context) ([]domain.UnitConversion, error) {
	actor, err := s.gate(ctx, true)
	if err != nil {
		return nil, err
	}
	return s.repo.ListUnitConversions(ctx, actor.RestaurantID)
}

func (s *Service) CreateMenuItem(ctx context.Context, req domain.MenuItemCreateRequest) (domain.MenuItem, error) {
	actor, err := s.gateOwner(ctx, false)
	if err != nil {
		return domain.MenuItem{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || !req.Price.IsPositive() {
		return domain.MenuItem{}, domain.Err(domain.CodeValidation)
	}

	item, err := s.repo.CreateMenuItem(ctx, domain.MenuItem{
		RestaurantID: actor.RestaurantID,
		Name:         req.Name,
		Price:        req.Price.Round(3),
	})
	if err != nil {
		return domain.MenuItem{}, err
	}

	s.logAudit(ctx, actor.RestaurantID, "menu_item_create", "menu_item", item.ID, "name="+item.Name)
	return *item, nil
}

func (s *Service) ListMenuItems(ctx context.Context) ([]domain.MenuItem, error) {
	actor, err := s.gate(ctx, false)
	if err != nil {
		return nil, err
	}
	return s.repo.ListMenuItems(ctx, actor.RestaurantID)
}

// SetRecipe replaces a menu item's bill of materials wholesale. Lines are not
// diffed against the previous version.
func (s *Service) SetRecipe(ctx context.Context, req domain.RecipeSetRequest) (domain.Recipe, error) {
	actor, err := s.gateOwner(ctx, true)
	if err != nil {
		return domain.Recipe{}, err
	}

	if req.MenuItemID == "" || len(req.Lines) == 0 {
		return domain.Recipe{}, domain.Err(domain.CodeValidation)
	}
	menuItems, err := s.repo.GetMenuItemsByIDs(ctx, []string{req.MenuItemID})
	if err != nil {
		return domain.Recipe{}, err
	}
	menuItem, ok := menuItems[req.MenuItemID]
	if !ok || menuItem.RestaurantID != actor.RestaurantID {
		return domain.Recipe{}, domain.Err(domain.CodeValidation, "menu item not found")
	}

	lines := make([]domain.RecipeLine, 0, len(req.Lines))
	for _, lr := range req.Lines {
		if !lr.Qty.IsPositive() {
			return domain.Recipe{}, domain.Err(domain.CodeInvalidQuantity)
		}
		if _, err := s.itemFor(ctx, actor, "", lr.ItemID); err != nil {
			return domain.Recipe{}, err
		}
		lines = append(lines, domain.RecipeLine{
			ItemID: lr.ItemID,
			Qty:    lr.Qty,
			Unit:   strings.TrimSpace(lr.Unit),
		})
	}

	recipe, err := s.repo.ReplaceRecipe(ctx, domain.Recipe{
		RestaurantID: actor.RestaurantID,
		MenuItemID:   req.MenuItemID,
		Active:       req.Active,
		Lines:        lines,
	})
	if err != nil {
		return domain.Recipe{}, err
	}

	s.logAudit(ctx, actor.RestaurantID, "recipe_set", "recipe", recipe.ID, "menu_item="+req.MenuItemID)
	return *recipe, nil
}

func (s *Service) StockLevels(ctx context.Context, branchID string) (domain.StockLevelsResponse, error) {
	actor, err := s.gate(ctx, true)
	if err != nil {
		return domain.StockLevelsResponse{}, err
	}
	if _, err := s.branchFor(ctx, actor, branchID); err != nil {
		return domain.StockLevelsResponse{}, err
	}

	if cached, ok, err := s.stock.Get(ctx, branchID); err != nil {
		log.Printf("[cache] WARN: stock level read failed branch=%s: %v", branchID, err)
	} else if ok {
		return *cached, nil
	}

	levels, err := s.repo.ListStockLevels(ctx, actor.RestaurantID, branchID)
	if err != nil {
		return domain.StockLevelsResponse{}, err
	}
	itemIDs := make([]string, 0, len(levels))
	for _, lv := range levels {
		itemIDs = append(itemIDs, lv.ItemID)
	}
	items, err := s.repo.GetItemsByIDs(ctx, itemIDs)
	if err != nil {
		return domain.StockLevelsResponse{}, err
	}

	resp := domain.StockLevelsResponse{BranchID: branchID}
	for _, lv := range levels {
		item := items[lv.ItemID]
		resp.Levels = append(resp.Levels, domain.StockLevelView{
			ItemID:    lv.ItemID,
			Name:      item.Name,
			BaseUnit:  item.BaseUnit,
			OnHand:    lv.OnHandBase,
			AvgCost:   item.AvgCost,
			UpdatedAt: lv.UpdatedAt,
		})
	}

	if err := s.stock.Set(ctx, branchID, &resp, stockLevelsTTL); err != nil {
		log.Printf("[cache] WARN: stock level write failed branch=%s: %v", branchID, err)
	}

	return resp, nil
}

func (s *Service) LedgerHistory(ctx context.Context, branchID string, itemID string, limit int) ([]domain.StockLedgerEntry, error) {
	actor, err := s.gate(ctx, true)
	if err != nil {
		return nil, err
	}
	if _, err := s.branchFor(ctx, actor, branchID); err != nil {
		return nil, err
	}
	if _, err := s.itemFor(ctx, actor, branchID, itemID); err != nil {
		return nil, err
	}
	return s.repo.ListLedgerEntries(ctx, branchID, itemID, limit)
}

// Reconcile replays the ledger for a branch and compares the summed history
// against the cached levels. With fix set, drifted levels are rewritten to
// the ledger truth.
func (s *Service) Reconcile(ctx context.Context, branchID string, fix bool) (domain.ReconcileResponse, error) {
	actor, err := s.gateOwner(ctx, true)
	if err != nil {
		return domain.ReconcileResponse{}, err
	}
	if _, err := s.branchFor(ctx, actor, branchID); err != nil {
		return domain.ReconcileResponse{}, err
	}

	sums, err := s.repo.SumLedgerByItem(ctx, branchID)
	if err != nil {
		return domain.ReconcileResponse{}, err
	}
	levels, err := s.repo.ListStockLevels(ctx, actor.RestaurantID, branchID)
	if err != nil {
		return domain.ReconcileResponse{}, err
	}

	cached := make(map[string]decimal.Decimal, len(levels))
	for _, lv := range levels {
		cached[lv.ItemID] = lv.OnHandBase
	}
	seen := make(map[string]bool, len(sums)+len(cached))
	itemIDs := make([]string, 0, len(sums)+len(cached))
	for id := range sums {
		if !seen[id] {
			seen[id] = true
			itemIDs = append(itemIDs, id)
		}
	}
	for id := range cached {
		if !seen[id] {
			seen[id] = true
			itemIDs = append(itemIDs, id)
		}
	}

	resp := domain.ReconcileResponse{BranchID: branchID, Checked: len(itemIDs), Fixed: fix}
	for _, id := range itemIDs {
		ledgerSum := sums[id]
		cachedVal := cached[id]
		if ledgerSum.Equal(cachedVal) {
			continue
		}
		resp.Drift = append(resp.Drift, domain.DriftEntry{
			ItemID: id,
			Cached: cachedVal,
			Ledger: ledgerSum,
			Delta:  ledgerSum.Sub(cachedVal),
		})
		if fix {
			if err := s.repo.SetStockLevel(ctx, actor.RestaurantID, branchID, id, ledgerSum); err != nil {
				return domain.ReconcileResponse{}, err
			}
		}
	}

	if fix && len(resp.Drift) > 0 {
		s.invalidateStockLevels(ctx, branchID)
	}
	s.logAudit(ctx, actor.RestaurantID, "stock_reconcile", "branch", branchID,
		"checked="+strconv.Itoa(resp.Checked)+",drift="+strconv.Itoa(len(resp.Drift)))

	return resp, nil
}

func (s *Service) DailyReport(ctx context.Context, branchID string, date string) (domain.DailyReport, error) {
	actor, err := s.gateOwner(ctx, false)
	if err != nil {
		return domain.DailyReport{}, err
	}
	if _, err := s.branchFor(ctx, actor, branchID); err != nil {
		return domain.DailyReport{}, err
	}

	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		day = time.Now().UTC().Truncate(24 * time.Hour)
	}
	from := day
	to := day.Add(24 * time.Hour)

	return s.repo.GetDailyReport(ctx, actor.RestaurantID, branchID, from, to)
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	actor, err := s.gateOwner(ctx, false)
	if err != nil {
		return nil, err
	}

	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		day = time.Now().UTC().Truncate(24 * time.Hour)
	}
	return s.repo.ListAuditLogs(ctx, actor.RestaurantID, day, day.Add(24*time.Hour), limit)
}
