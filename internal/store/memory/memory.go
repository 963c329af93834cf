package memory

import (
	"context"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"sufrah/backend/internal/domain"
	"sufrah/backend/internal/store"
	"sufrah/backend/internal/xid"
)

const (
	SeedRestaurantID = "rest-demo"
	SeedBranchMainID = "branch-main"
	SeedBranchSideID = "branch-annex"
)

type Store struct {
	mu              sync.RWMutex
	restaurants     map[string]domain.Restaurant
	branches        map[string]domain.Branch
	units           map[string]domain.Unit
	conversions     map[string]domain.UnitConversion
	items           map[string]domain.InventoryItem
	ledger          []domain.StockLedgerEntry
	levels          map[string]domain.StockLevel
	menuItems       map[string]domain.MenuItem
	recipesByMenu   map[string]domain.Recipe
	ordersByID      map[string]*domain.Order
	orderSeq        map[string]int64
	paymentsByOrder map[string][]domain.Payment
	refundsByOrder  map[string][]domain.Refund
	receiptsByID    map[string]domain.PurchaseReceipt
	transfersByID   map[string]domain.Transfer
	countsByID      map[string]*domain.StockCount
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Credentials come from SEED_OWNER_PASSWORD and SEED_CASHIER_PASSWORD; unset
// variables fall back to hardcoded dev defaults with a warning. The memory
// store is never used in production (PostgreSQL is selected when DATABASE_URL
// is set).
func seedUsers() map[string]domain.UserAccount {
	ownerPwd := envOr("SEED_OWNER_PASSWORD", "owner123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_OWNER_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_OWNER_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
		branchID string
	}{
		{"owner", ownerPwd, domain.RoleOwner, ""},
		{"cashier", cashierPwd, domain.RoleCashier, SeedBranchMainID},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:     u.username,
			Password:     string(hash),
			Role:         u.role,
			RestaurantID: SeedRestaurantID,
			BranchID:     u.branchID,
			Active:       true,
			CreatedAt:    now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	now := time.Now().UTC()

	s := &Store{
		restaurants: map[string]domain.Restaurant{
			SeedRestaurantID: {
				ID:                 SeedRestaurantID,
				Name:               "Sufrah Demo",
				Currency:           "JOD",
				SubscriptionActive: true,
				InventoryEnabled:   true,
				CreatedAt:          now,
			},
		},
		branches: map[string]domain.Branch{
			SeedBranchMainID: {ID: SeedBranchMainID, RestaurantID: SeedRestaurantID, Name: "Main", Active: true, CreatedAt: now},
			SeedBranchSideID: {ID: SeedBranchSideID, RestaurantID: SeedRestaurantID, Name: "Annex", Active: true, CreatedAt: now},
		},
		units:           map[string]domain.Unit{},
		conversions:     map[string]domain.UnitConversion{},
		items:           map[string]domain.InventoryItem{},
		ledger:          make([]domain.StockLedgerEntry, 0, 256),
		levels:          map[string]domain.StockLevel{},
		menuItems:       map[string]domain.MenuItem{},
		recipesByMenu:   map[string]domain.Recipe{},
		ordersByID:      map[string]*domain.Order{},
		orderSeq:        map[string]int64{},
		paymentsByOrder: map[string][]domain.Payment{},
		refundsByOrder:  map[string][]domain.Refund{},
		receiptsByID:    map[string]domain.PurchaseReceipt{},
		transfersByID:   map[string]domain.Transfer{},
		countsByID:      map[string]*domain.StockCount{},
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: seedUsers(),
	}

	for _, u := range []domain.Unit{
		{RestaurantID: SeedRestaurantID, Name: "kg", Symbol: "kg"},
		{RestaurantID: SeedRestaurantID, Name: "g", Symbol: "g"},
		{RestaurantID: SeedRestaurantID, Name: "l", Symbol: "L"},
		{RestaurantID: SeedRestaurantID, Name: "ml", Symbol: "mL"},
		{RestaurantID: SeedRestaurantID, Name: "pcs", Symbol: "pc"},
	} {
		s.units[unitKey(u.RestaurantID, u.Name)] = u
	}
	for _, c := range []domain.UnitConversion{
		{ID: xid.New("conv"), RestaurantID: SeedRestaurantID, FromUnit: "g", ToUnit: "kg", Multiplier: decimal.RequireFromString("0.001")},
		{ID: xid.New("conv"), RestaurantID: SeedRestaurantID, FromUnit: "ml", ToUnit: "l", Multiplier: decimal.RequireFromString("0.001")},
	} {
		s.conversions[convKey(c.RestaurantID, c.FromUnit, c.ToUnit)] = c
	}

	return s
}

func unitKey(restaurantID, name string) string { return restaurantID + "|" + name }

func convKey(restaurantID, from, to string) string { return restaurantID + "|" + from + "|" + to }

func levelKey(branchID, itemID string) string { return branchID + "|" + itemID }

func (s *Store) GetRestaurant(_ context.Context, id string) (*domain.Restaurant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.restaurants[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := r
	return &copied, nil
}

// SetRestaurantFlags flips the subscription/inventory gates. Test hook; the
// production path manages these rows out of band.
func (s *Store) SetRestaurantFlags(id string, subscriptionActive, inventoryEnabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.restaurants[id]; ok {
		r.SubscriptionActive = subscriptionActive
		r.InventoryEnabled = inventoryEnabled
		s.restaurants[id] = r
	}
}

func (s *Store) GetBranch(_ context.Context, id string) (*domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.branches[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := b
	return &copied, nil
}

func (s *Store) ListBranches(_ context.Context, restaurantID string) ([]domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	branches := make([]domain.Branch, 0, len(s.branches))
	for _, b := range s.branches {
		if b.RestaurantID == restaurantID {
			branches = append(branches, b)
		}
	}
	sort.Slice(branches, func(i, j int) bool { return branches[i].Name < branches[j].Name })
	return branches, nil
}

func (s *Store) CreateUnit(_ context.Context, unit domain.Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := unitKey(unit.RestaurantID, unit.Name)
	if _, ok := s.units[key]; ok {
		return nil
	}
	s.units[key] = unit
	return nil
}

func (s *Store) GetUnit(_ context.Context, restaurantID string, name string) (*domain.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.units[unitKey(restaurantID, name)]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := u
	return &copied, nil
}

func (s *Store) CreateUnitConversion(_ context.Context, conv domain.UnitConversion) (*domain.UnitConversion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := convKey(conv.RestaurantID, conv.FromUnit, conv.ToUnit)
	if _, ok := s.conversions[key]; ok {
		return nil, store.ErrConflict
	}
	if conv.ID == "" {
		conv.ID = xid.New("conv")
	}
	s.conversions[key] = conv
	return &conv, nil
}

func (s *Store) ListUnitConversions(_ context.Context, restaurantID string) ([]domain.UnitConversion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	convs := make([]domain.UnitConversion, 0, len(s.conversions))
	for _, c := range s.conversions {
		if c.RestaurantID == restaurantID {
			convs = append(convs, c)
		}
	}
	sort.Slice(convs, func(i, j int) bool {
		if convs[i].FromUnit != convs[j].FromUnit {
			return convs[i].FromUnit < convs[j].FromUnit
		}
		return convs[i].ToUnit < convs[j].ToUnit
	})
	return convs, nil
}

func (s *Store) CreateInventoryItem(_ context.Context, item domain.InventoryItem) (*domain.InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == "" {
		item.ID = xid.New("item")
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	item.Active = true
	for _, existing := range s.items {
		if existing.BranchID == item.BranchID && strings.EqualFold(existing.Name, item.Name) {
			return nil, store.ErrConflict
		}
	}
	s.items[item.ID] = item
	return &item, nil
}

func (s *Store) GetInventoryItem(_ context.Context, id string) (*domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := item
	return &copied, nil
}

func (s *Store) FindItemByName(_ context.Context, restaurantID string, branchID string, name string) (*domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name = strings.TrimSpace(name)
	for _, item := range s.items {
		if item.RestaurantID == restaurantID && item.BranchID == branchID && strings.EqualFold(item.Name, name) {
			copied := item
			return &copied, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListInventoryItems(_ context.Context, restaurantID string, branchID string) ([]domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]domain.InventoryItem, 0, len(s.items))
	for _, item := range s.items {
		if item.RestaurantID == restaurantID && item.BranchID == branchID && item.Active {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

func (s *Store) GetItemsByIDs(_ context.Context, ids []string) (map[string]domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[string]domain.InventoryItem, len(ids))
	for _, id := range ids {
		if item, ok := s.items[id]; ok {
			result[id] = item
		}
	}
	return result, nil
}

func (s *Store) AppendLedgerEntries(_ context.Context, entries []domain.StockLedgerEntry, allowNegative bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyEntriesLocked(entries, allowNegative)
}

func (s *Store) applyEntriesLocked(entries []domain.StockLedgerEntry, allowNegative bool) error {
	if !allowNegative {
		// Validate the whole batch against projected levels before any write
		// so a failing line leaves nothing behind.
		projected := map[string]decimal.Decimal{}
		for _, e := range entries {
			key := levelKey(e.BranchID, e.ItemID)
			current, ok := projected[key]
			if !ok {
				current = s.levels[key].OnHandBase
			}
			current = current.Add(e.QtyBase)
			if current.IsNegative() {
				return store.ErrInsufficientStock
			}
			projected[key] = current
		}
	}

	now := time.Now().UTC()
	for i := range entries {
		e := entries[i]
		if e.ID == "" {
			e.ID = xid.New("ldg")
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		s.ledger = append(s.ledger, e)

		key := levelKey(e.BranchID, e.ItemID)
		level, ok := s.levels[key]
		if !ok {
			level = domain.StockLevel{
				RestaurantID: e.RestaurantID,
				BranchID:     e.BranchID,
				ItemID:       e.ItemID,
				OnHandBase:   decimal.Zero,
			}
		}
		level.OnHandBase = level.OnHandBase.Add(e.QtyBase)
		level.UpdatedAt = now
		s.levels[key] = level
	}
	return nil
}

func (s *Store) ListLedgerEntries(_ context.Context, branchID string, itemID string, limit int) ([]domain.StockLedgerEntry, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]domain.StockLedgerEntry, 0, limit)
	for i := len(s.ledger) - 1; i >= 0 && len(entries) < limit; i-- {
		e := s.ledger[i]
		if e.BranchID == branchID && e.ItemID == itemID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (s *Store) ListLedgerEntriesByRef(_ context.Context, refType string, refID string) ([]domain.StockLedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]domain.StockLedgerEntry, 0, 8)
	for _, e := range s.ledger {
		if e.RefType == refType && e.RefID == refID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (s *Store) HasLedgerHistory(_ context.Context, branchID string, itemID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.ledger {
		if e.BranchID == branchID && e.ItemID == itemID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) GetStockLevels(_ context.Context, branchID string, itemIDs []string) (map[string]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[string]decimal.Decimal, len(itemIDs))
	for _, id := range itemIDs {
		result[id] = s.levels[levelKey(branchID, id)].OnHandBase
	}
	return result, nil
}

func (s *Store) ListStockLevels(_ context.Context, restaurantID string, branchID string) ([]domain.StockLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	levels := make([]domain.StockLevel, 0, len(s.levels))
	for _, lv := range s.levels {
		if lv.RestaurantID == restaurantID && lv.BranchID == branchID {
			levels = append(levels, lv)
		}
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].ItemID < levels[j].ItemID })
	return levels, nil
}

func (s *Store) SumLedgerByItem(_ context.Context, branchID string) (map[string]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sums := map[string]decimal.Decimal{}
	for _, e := range s.ledger {
		if e.BranchID == branchID {
			sums[e.ItemID] = sums[e.ItemID].Add(e.QtyBase)
		}
	}
	return sums, nil
}

func (s *Store) SumConsumptionByItem(_ context.Context, branchID string, since time.Time) (map[string]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sums := map[string]decimal.Decimal{}
	for _, e := range s.ledger {
		if e.BranchID == branchID && e.QtyBase.IsNegative() && !e.CreatedAt.Before(since) {
			sums[e.ItemID] = sums[e.ItemID].Add(e.QtyBase.Neg())
		}
	}
	return sums, nil
}

func (s *Store) SetStockLevel(_ context.Context, restaurantID string, branchID string, itemID string, onHand decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.levels[levelKey(branchID, itemID)] = domain.StockLevel{
		RestaurantID: restaurantID,
		BranchID:     branchID,
		ItemID:       itemID,
		OnHandBase:   onHand,
		UpdatedAt:    time.Now().UTC(),
	}
	return nil
}

func (s *Store) CreateMenuItem(_ context.Context, item domain.MenuItem) (*domain.MenuItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == "" {
		item.ID = xid.New("menu")
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	item.Active = true
	s.menuItems[item.ID] = item
	return &item, nil
}

func (s *Store) ListMenuItems(_ context.Context, restaurantID string) ([]domain.MenuItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]domain.MenuItem, 0, len(s.menuItems))
	for _, m := range s.menuItems {
		if m.RestaurantID == restaurantID && m.Active {
			items = append(items, m)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

func (s *Store) GetMenuItemsByIDs(_ context.Context, ids []string) (map[string]domain.MenuItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[string]domain.MenuItem, len(ids))
	for _, id := range ids {
		if m, ok := s.menuItems[id]; ok {
			result[id] = m
		}
	}
	return result, nil
}

func (s *Store) ReplaceRecipe(_ context.Context, recipe domain.Recipe) (*domain.Recipe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.recipesByMenu[recipe.MenuItemID]; ok {
		recipe.ID = existing.ID
		recipe.CreatedAt = existing.CreatedAt
	}
	if recipe.ID == "" {
		recipe.ID = xid.New("rcp")
	}
	if recipe.CreatedAt.IsZero() {
		recipe.CreatedAt = time.Now().UTC()
	}
	for i := range recipe.Lines {
		if recipe.Lines[i].ID == "" {
			recipe.Lines[i].ID = xid.New("rcpl")
		}
		recipe.Lines[i].RecipeID = recipe.ID
	}
	s.recipesByMenu[recipe.MenuItemID] = recipe
	return &recipe, nil
}

func (s *Store) GetActiveRecipesByMenuItems(_ context.Context, restaurantID string, menuItemIDs []string) (map[string]domain.Recipe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[string]domain.Recipe, len(menuItemIDs))
	for _, id := range menuItemIDs {
		if r, ok := s.recipesByMenu[id]; ok && r.Active && r.RestaurantID == restaurantID {
			result[id] = r
		}
	}
	return result, nil
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = order.CreatedAt
	s.orderSeq[order.BranchID]++
	order.Number = s.orderSeq[order.BranchID]
	for i := range order.Lines {
		if order.Lines[i].ID == "" {
			order.Lines[i].ID = xid.New("ordl")
		}
		order.Lines[i].OrderID = order.ID
	}
	copied := order
	s.ordersByID[order.ID] = &copied
	return &order, nil
}

func (s *Store) GetOrderByID(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.ordersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *order
	copied.Lines = append([]domain.OrderLine(nil), order.Lines...)
	return &copied, nil
}

func (s *Store) GetOrdersByIDs(_ context.Context, ids []string) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	orders := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		if order, ok := s.ordersByID[id]; ok {
			copied := *order
			copied.Lines = append([]domain.OrderLine(nil), order.Lines...)
			orders = append(orders, copied)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].Number < orders[j].Number })
	return orders, nil
}

func (s *Store) ListOrders(_ context.Context, branchID string, status string, limit int) ([]domain.Order, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	orders := make([]domain.Order, 0, limit)
	for _, order := range s.ordersByID {
		if order.BranchID != branchID {
			continue
		}
		if status != "" && order.Status != status {
			continue
		}
		orders = append(orders, *order)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].Number > orders[j].Number })
	if len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func (s *Store) TransitionOrderStatus(_ context.Context, orderID string, from []string, to string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.ordersByID[orderID]
	if !ok {
		return false, nil
	}
	for _, status := range from {
		if order.Status == status {
			order.Status = to
			order.UpdatedAt = time.Now().UTC()
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) SetOrderStatus(_ context.Context, orderID string, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.ordersByID[orderID]
	if !ok {
		return store.ErrNotFound
	}
	order.Status = status
	order.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) CreatePayments(_ context.Context, payments []domain.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, p := range payments {
		if p.ID == "" {
			p.ID = xid.New("pay")
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		s.paymentsByOrder[p.OrderID] = append(s.paymentsByOrder[p.OrderID], p)
	}
	return nil
}

func (s *Store) ListPaymentsByOrder(_ context.Context, orderID string) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Payment(nil), s.paymentsByOrder[orderID]...), nil
}

func (s *Store) UpdateOrderLineCosts(_ context.Context, lineID string, cogs decimal.Decimal, profit decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, order := range s.ordersByID {
		for i := range order.Lines {
			if order.Lines[i].ID == lineID {
				order.Lines[i].Cogs = cogs
				order.Lines[i].Profit = profit
				return nil
			}
		}
	}
	return store.ErrNotFound
}

func (s *Store) PostPurchaseReceipt(_ context.Context, receipt domain.PurchaseReceipt, entries []domain.StockLedgerEntry) (*domain.PurchaseReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if receipt.ID == "" {
		receipt.ID = xid.New("rcpt")
	}
	if receipt.CreatedAt.IsZero() {
		receipt.CreatedAt = time.Now().UTC()
	}
	for i := range receipt.Lines {
		if receipt.Lines[i].ID == "" {
			receipt.Lines[i].ID = xid.New("rcptl")
		}
		receipt.Lines[i].ReceiptID = receipt.ID
	}

	for i := range entries {
		line := receipt.Lines[i]
		item, ok := s.items[line.ItemID]
		if !ok {
			return nil, store.ErrNotFound
		}
		onHand := s.levels[levelKey(entries[i].BranchID, line.ItemID)].OnHandBase
		item.AvgCost = weightedCost(item.AvgCost, onHand, line.UnitCost, entries[i].QtyBase)
		s.items[line.ItemID] = item

		if err := s.applyEntriesLocked(entries[i:i+1], true); err != nil {
			return nil, err
		}
	}

	s.receiptsByID[receipt.ID] = receipt
	return &receipt, nil
}

func (s *Store) PostTransfer(_ context.Context, transfer domain.Transfer, entries []domain.StockLedgerEntry) (*domain.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if transfer.ID == "" {
		transfer.ID = xid.New("trf")
	}
	if transfer.CreatedAt.IsZero() {
		transfer.CreatedAt = time.Now().UTC()
	}
	for i := range transfer.Lines {
		if transfer.Lines[i].ID == "" {
			transfer.Lines[i].ID = xid.New("trfl")
		}
		transfer.Lines[i].TransferID = transfer.ID
	}

	if err := s.applyEntriesLocked(entries, false); err != nil {
		return nil, err
	}

	s.transfersByID[transfer.ID] = transfer
	return &transfer, nil
}

func weightedCost(oldCost decimal.Decimal, oldQty decimal.Decimal, incomingCost decimal.Decimal, incomingQty decimal.Decimal) decimal.Decimal {
	if oldQty.Sign() <= 0 {
		return incomingCost
	}
	total := oldQty.Add(incomingQty)
	if total.Sign() <= 0 {
		return incomingCost
	}
	blended := oldCost.Mul(oldQty).Add(incomingCost.Mul(incomingQty))
	return blended.DivRound(total, 4)
}

func (s *Store) CreateStockCount(_ context.Context, count domain.StockCount) (*domain.StockCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if count.ID == "" {
		count.ID = xid.New("cnt")
	}
	if count.CreatedAt.IsZero() {
		count.CreatedAt = time.Now().UTC()
	}
	count.Status = domain.CountStatusNew
	for i := range count.Lines {
		if count.Lines[i].ID == "" {
			count.Lines[i].ID = xid.New("cntl")
		}
		count.Lines[i].CountID = count.ID
	}
	copied := count
	s.countsByID[count.ID] = &copied
	return &count, nil
}

func (s *Store) GetStockCount(_ context.Context, id string) (*domain.StockCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count, ok := s.countsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *count
	copied.Lines = append([]domain.StockCountLine(nil), count.Lines...)
	return &copied, nil
}

func (s *Store) ListStockCounts(_ context.Context, branchID string, limit int) ([]domain.StockCount, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make([]domain.StockCount, 0, limit)
	for _, count := range s.countsByID {
		if count.BranchID == branchID {
			counts = append(counts, *count)
		}
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i].CreatedAt.After(counts[j].CreatedAt) })
	if len(counts) > limit {
		counts = counts[:limit]
	}
	return counts, nil
}

func (s *Store) ApproveStockCount(_ context.Context, countID string, approvedBy string, at time.Time, entries []domain.StockLedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	count, ok := s.countsByID[countID]
	if !ok {
		return store.ErrNotFound
	}
	if count.Status != domain.CountStatusNew {
		return store.ErrFinalized
	}
	if err := s.applyEntriesLocked(entries, true); err != nil {
		return err
	}
	count.Status = domain.CountStatusApproved
	count.ApprovedBy = approvedBy
	count.ApprovedAt = &at
	return nil
}

func (s *Store) CancelStockCount(_ context.Context, countID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	count, ok := s.countsByID[countID]
	if !ok {
		return store.ErrNotFound
	}
	if count.Status != domain.CountStatusNew {
		return store.ErrFinalized
	}
	count.Status = domain.CountStatusCancelled
	return nil
}

func (s *Store) CreateRefund(_ context.Context, refund domain.Refund) (*domain.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if refund.ID == "" {
		refund.ID = xid.New("rfd")
	}
	if refund.CreatedAt.IsZero() {
		refund.CreatedAt = time.Now().UTC()
	}
	s.refundsByOrder[refund.OrderID] = append(s.refundsByOrder[refund.OrderID], refund)
	return &refund, nil
}

func (s *Store) SumRefundsByOrder(_ context.Context, orderID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := decimal.Zero
	for _, r := range s.refundsByOrder[orderID] {
		total = total.Add(r.Amount)
	}
	return total, nil
}

func (s *Store) ListRefundsByOrder(_ context.Context, orderID string) ([]domain.Refund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Refund(nil), s.refundsByOrder[orderID]...), nil
}

func (s *Store) GetDailyReport(_ context.Context, restaurantID string, branchID string, from time.Time, to time.Time) (domain.DailyReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report := domain.DailyReport{
		BranchID:    branchID,
		Date:        from.Format("2006-01-02"),
		GrossSales:  decimal.Zero,
		Refunds:     decimal.Zero,
		NetRevenue:  decimal.Zero,
		Cogs:        decimal.Zero,
		GrossProfit: decimal.Zero,
	}

	byMethod := map[string]*domain.DailyReportMethod{}
	for _, payments := range s.paymentsByOrder {
		for _, p := range payments {
			if p.RestaurantID != restaurantID || p.BranchID != branchID {
				continue
			}
			if p.CreatedAt.Before(from) || !p.CreatedAt.Before(to) {
				continue
			}
			m, ok := byMethod[p.Method]
			if !ok {
				m = &domain.DailyReportMethod{Method: p.Method, Total: decimal.Zero}
				byMethod[p.Method] = m
			}
			m.Count++
			m.Total = m.Total.Add(p.Amount)
			report.GrossSales = report.GrossSales.Add(p.Amount)
		}
	}
	methods := make([]string, 0, len(byMethod))
	for method := range byMethod {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	for _, method := range methods {
		report.ByMethod = append(report.ByMethod, *byMethod[method])
	}

	for _, refunds := range s.refundsByOrder {
		for _, r := range refunds {
			if r.RestaurantID != restaurantID || r.BranchID != branchID {
				continue
			}
			if r.CreatedAt.Before(from) || !r.CreatedAt.Before(to) {
				continue
			}
			report.Refunds = report.Refunds.Add(r.Amount)
		}
	}

	for _, order := range s.ordersByID {
		if order.RestaurantID != restaurantID || order.BranchID != branchID {
			continue
		}
		if order.Status != domain.OrderStatusPaid && order.Status != domain.OrderStatusRefunded {
			continue
		}
		if order.UpdatedAt.Before(from) || !order.UpdatedAt.Before(to) {
			continue
		}
		report.Orders++
		for _, line := range order.Lines {
			report.Cogs = report.Cogs.Add(line.Cogs)
		}
	}

	report.NetRevenue = report.GrossSales.Sub(report.Refunds)
	report.GrossProfit = report.NetRevenue.Sub(report.Cogs)
	return report, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, restaurantID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	logs := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(logs) < limit; i-- {
		l := s.auditLogs[i]
		if l.RestaurantID != restaurantID {
			continue
		}
		if l.CreatedAt.Before(from) || !l.CreatedAt.Before(to) {
			continue
		}
		logs = append(logs, l)
	}
	return logs, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.usersByUsername[user.Username]; ok {
		return store.ErrConflict
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) GetUser(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.usersByUsername[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (s *Store) ListUsers(_ context.Context, restaurantID string) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		if u.RestaurantID == restaurantID {
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.Before(users[j].CreatedAt) })
	return users, nil
}
