package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"sufrah/backend/internal/domain"
	"sufrah/backend/internal/store"
	"sufrah/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) GetRestaurant(ctx context.Context, id string) (*domain.Restaurant, error) {
	var r domain.Restaurant
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, currency, subscription_active, inventory_enabled, created_at
		FROM restaurants
		WHERE id = $1
	`, id).Scan(&r.ID, &r.Name, &r.Currency, &r.SubscriptionActive, &r.InventoryEnabled, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (s *Store) GetBranch(ctx context.Context, id string) (*domain.Branch, error) {
	var b domain.Branch
	err := s.db.QueryRowContext(ctx, `
		SELECT id, restaurant_id, name, active, created_at
		FROM branches
		WHERE id = $1
	`, id).Scan(&b.ID, &b.RestaurantID, &b.Name, &b.Active, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (s *Store) ListBranches(ctx context.Context, restaurantID string) ([]domain.Branch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, restaurant_id, name, active, created_at
		FROM branches
		WHERE restaurant_id = $1
		ORDER BY name
	`, restaurantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	branches := make([]domain.Branch, 0, 8)
	for rows.Next() {
		var b domain.Branch
		if err := rows.Scan(&b.ID, &b.RestaurantID, &b.Name, &b.Active, &b.CreatedAt); err != nil {
			return nil, err
		}
		branches = append(branches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return branches, nil
}

func (s *Store) CreateUnit(ctx context.Context, unit domain.Unit) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO units (restaurant_id, name, symbol)
		VALUES ($1,$2,$3)
		ON CONFLICT (restaurant_id, name) DO NOTHING
	`, unit.RestaurantID, unit.Name, unit.Symbol)
	return err
}

func (s *Store) GetUnit(ctx context.Context, restaurantID string, name string) (*domain.Unit, error) {
	var u domain.Unit
	err := s.db.QueryRowContext(ctx, `
		SELECT restaurant_id, name, symbol
		FROM units
		WHERE restaurant_id = $1 AND name = $2
	`, restaurantID, name).Scan(&u.RestaurantID, &u.Name, &u.Symbol)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *Store) CreateUnitConversion(ctx context.Context, conv domain.UnitConversion) (*domain.UnitConversion, error) {
	if conv.ID == "" {
		conv.ID = xid.New("conv")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO unit_conversions (id, restaurant_id, from_unit, to_unit, multiplier)
		VALUES ($1,$2,$3,$4,$5)
	`, conv.ID, conv.RestaurantID, conv.FromUnit, conv.ToUnit, conv.Multiplier)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &conv, nil
}

func (s *Store) ListUnitConversions(ctx context.Context, restaurantID string) ([]domain.UnitConversion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, restaurant_id, from_unit, to_unit, multiplier
		FROM unit_conversions
		WHERE restaurant_id = $1
		ORDER BY from_unit, to_unit
	`, restaurantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	convs := make([]domain.UnitConversion, 0, 32)
	for rows.Next() {
		var c domain.UnitConversion
		if err := rows.Scan(&c.ID, &c.RestaurantID, &c.FromUnit, &c.ToUnit, &c.Multiplier); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return convs, nil
}

func (s *Store) CreateInventoryItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error) {
	if item.ID == "" {
		item.ID = xid.New("item")
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	item.Active = true
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_items (
			id, restaurant_id, branch_id, name, base_unit, avg_cost,
			reorder_level, reorder_qty, active, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, item.ID, item.RestaurantID, item.BranchID, item.Name, item.BaseUnit, item.AvgCost,
		item.ReorderLevel, item.ReorderQty, item.Active, item.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetInventoryItem(ctx context.Context, id string) (*domain.InventoryItem, error) {
	var item domain.InventoryItem
	err := s.db.QueryRowContext(ctx, itemSelect+` WHERE id = $1`, id).
		Scan(itemFields(&item)...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) FindItemByName(ctx context.Context, restaurantID string, branchID string, name string) (*domain.InventoryItem, error) {
	var item domain.InventoryItem
	err := s.db.QueryRowContext(ctx, itemSelect+`
		WHERE restaurant_id = $1 AND branch_id = $2 AND lower(name) = lower($3)
	`, restaurantID, branchID, strings.TrimSpace(name)).Scan(itemFields(&item)...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListInventoryItems(ctx context.Context, restaurantID string, branchID string) ([]domain.InventoryItem, error) {
	rows, err := s.db.QueryContext(ctx, itemSelect+`
		WHERE restaurant_id = $1 AND branch_id = $2 AND active = true
		ORDER BY name
	`, restaurantID, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.InventoryItem, 0, 64)
	for rows.Next() {
		var item domain.InventoryItem
		if err := rows.Scan(itemFields(&item)...); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

func (s *Store) GetItemsByIDs(ctx context.Context, ids []string) (map[string]domain.InventoryItem, error) {
	result := make(map[string]domain.InventoryItem, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, itemSelect+` WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.InventoryItem
		if err := rows.Scan(itemFields(&item)...); err != nil {
			return nil, err
		}
		result[item.ID] = item
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

const itemSelect = `
	SELECT id, restaurant_id, branch_id, name, base_unit, avg_cost,
	       reorder_level, reorder_qty, active, created_at
	FROM inventory_items`

func itemFields(item *domain.InventoryItem) []any {
	return []any{
		&item.ID, &item.RestaurantID, &item.BranchID, &item.Name, &item.BaseUnit,
		&item.AvgCost, &item.ReorderLevel, &item.ReorderQty, &item.Active, &item.CreatedAt,
	}
}

func (s *Store) AppendLedgerEntries(ctx context.Context, entries []domain.StockLedgerEntry, allowNegative bool) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := applyEntries(ctx, tx, entries, allowNegative); err != nil {
		return err
	}

	return tx.Commit()
}

// applyEntries inserts ledger rows and folds each delta into the stock level
// cache inside the caller's transaction. Negative results are rejected unless
// allowNegative is set.
func applyEntries(ctx context.Context, tx *sql.Tx, entries []domain.StockLedgerEntry, allowNegative bool) error {
	for i := range entries {
		entry := &entries[i]
		if entry.ID == "" {
			entry.ID = xid.New("ldg")
		}
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = time.Now().UTC()
		}

		if !allowNegative && entry.QtyBase.IsNegative() {
			onHand, err := lockedOnHand(ctx, tx, entry.BranchID, entry.ItemID)
			if err != nil {
				return err
			}
			if onHand.Add(entry.QtyBase).IsNegative() {
				return store.ErrInsufficientStock
			}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO stock_ledger (
				id, restaurant_id, branch_id, item_id, qty, unit, qty_base,
				reason, ref_type, ref_id, note, created_by, created_at
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		`, entry.ID, entry.RestaurantID, entry.BranchID, entry.ItemID, entry.Qty, entry.Unit,
			entry.QtyBase, entry.Reason, nullIfEmpty(entry.RefType), nullIfEmpty(entry.RefID),
			nullIfEmpty(entry.Note), entry.CreatedBy, entry.CreatedAt)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO stock_levels (restaurant_id, branch_id, item_id, on_hand, updated_at)
			VALUES ($1,$2,$3,$4,now())
			ON CONFLICT (branch_id, item_id)
			DO UPDATE SET on_hand = stock_levels.on_hand + EXCLUDED.on_hand, updated_at = now()
		`, entry.RestaurantID, entry.BranchID, entry.ItemID, entry.QtyBase)
		if err != nil {
			return err
		}
	}

	return nil
}

func lockedOnHand(ctx context.Context, tx *sql.Tx, branchID string, itemID string) (decimal.Decimal, error) {
	var onHand decimal.Decimal
	err := tx.QueryRowContext(ctx, `
		SELECT on_hand
		FROM stock_levels
		WHERE branch_id = $1 AND item_id = $2
		FOR UPDATE
	`, branchID, itemID).Scan(&onHand)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return onHand, nil
}

func (s *Store) ListLedgerEntries(ctx context.Context, branchID string, itemID string, limit int) ([]domain.StockLedgerEntry, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, ledgerSelect+`
		WHERE branch_id = $1 AND item_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, branchID, itemID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLedgerRows(rows)
}

func (s *Store) ListLedgerEntriesByRef(ctx context.Context, refType string, refID string) ([]domain.StockLedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, ledgerSelect+`
		WHERE ref_type = $1 AND ref_id = $2
		ORDER BY created_at, id
	`, refType, refID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLedgerRows(rows)
}

const ledgerSelect = `
	SELECT id, restaurant_id, branch_id, item_id, qty, unit, qty_base,
	       reason, COALESCE(ref_type,''), COALESCE(ref_id,''), COALESCE(note,''),
	       created_by, created_at
	FROM stock_ledger`

func scanLedgerRows(rows *sql.Rows) ([]domain.StockLedgerEntry, error) {
	entries := make([]domain.StockLedgerEntry, 0, 32)
	for rows.Next() {
		var e domain.StockLedgerEntry
		if err := rows.Scan(&e.ID, &e.RestaurantID, &e.BranchID, &e.ItemID, &e.Qty, &e.Unit,
			&e.QtyBase, &e.Reason, &e.RefType, &e.RefID, &e.Note, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) HasLedgerHistory(ctx context.Context, branchID string, itemID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM stock_ledger WHERE branch_id = $1 AND item_id = $2
		)
	`, branchID, itemID).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (s *Store) GetStockLevels(ctx context.Context, branchID string, itemIDs []string) (map[string]decimal.Decimal, error) {
	result := make(map[string]decimal.Decimal, len(itemIDs))
	for _, id := range itemIDs {
		result[id] = decimal.Zero
	}
	if len(itemIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, on_hand
		FROM stock_levels
		WHERE branch_id = $1 AND item_id = ANY($2)
	`, branchID, itemIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var itemID string
		var onHand decimal.Decimal
		if err := rows.Scan(&itemID, &onHand); err != nil {
			return nil, err
		}
		result[itemID] = onHand
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Store) ListStockLevels(ctx context.Context, restaurantID string, branchID string) ([]domain.StockLevel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT restaurant_id, branch_id, item_id, on_hand, updated_at
		FROM stock_levels
		WHERE restaurant_id = $1 AND branch_id = $2
		ORDER BY item_id
	`, restaurantID, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	levels := make([]domain.StockLevel, 0, 64)
	for rows.Next() {
		var lv domain.StockLevel
		if err := rows.Scan(&lv.RestaurantID, &lv.BranchID, &lv.ItemID, &lv.OnHandBase, &lv.UpdatedAt); err != nil {
			return nil, err
		}
		levels = append(levels, lv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return levels, nil
}

func (s *Store) SumLedgerByItem(ctx context.Context, branchID string) (map[string]decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, COALESCE(SUM(qty_base), 0)
		FROM stock_ledger
		WHERE branch_id = $1
		GROUP BY item_id
	`, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sums := make(map[string]decimal.Decimal, 64)
	for rows.Next() {
		var itemID string
		var total decimal.Decimal
		if err := rows.Scan(&itemID, &total); err != nil {
			return nil, err
		}
		sums[itemID] = total
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sums, nil
}

func (s *Store) SumConsumptionByItem(ctx context.Context, branchID string, since time.Time) (map[string]decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, COALESCE(SUM(-qty_base), 0)
		FROM stock_ledger
		WHERE branch_id = $1 AND qty_base < 0 AND created_at >= $2
		GROUP BY item_id
	`, branchID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sums := make(map[string]decimal.Decimal, 64)
	for rows.Next() {
		var itemID string
		var total decimal.Decimal
		if err := rows.Scan(&itemID, &total); err != nil {
			return nil, err
		}
		sums[itemID] = total
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sums, nil
}

func (s *Store) SetStockLevel(ctx context.Context, restaurantID string, branchID string, itemID string, onHand decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_levels (restaurant_id, branch_id, item_id, on_hand, updated_at)
		VALUES ($1,$2,$3,$4,now())
		ON CONFLICT (branch_id, item_id)
		DO UPDATE SET on_hand = EXCLUDED.on_hand, updated_at = now()
	`, restaurantID, branchID, itemID, onHand)
	return err
}

func (s *Store) PostPurchaseReceipt(ctx context.Context, receipt domain.PurchaseReceipt, entries []domain.StockLedgerEntry) (*domain.PurchaseReceipt, error) {
	if receipt.ID == "" {
		receipt.ID = xid.New("rcpt")
	}
	if receipt.CreatedAt.IsZero() {
		receipt.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO purchase_receipts (id, restaurant_id, branch_id, supplier, note, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, receipt.ID, receipt.RestaurantID, receipt.BranchID, nullIfEmpty(receipt.Supplier),
		nullIfEmpty(receipt.Note), receipt.CreatedBy, receipt.CreatedAt)
	if err != nil {
		return nil, err
	}

	for i := range receipt.Lines {
		line := &receipt.Lines[i]
		if line.ID == "" {
			line.ID = xid.New("rcptl")
		}
		line.ReceiptID = receipt.ID
		_, err = tx.ExecContext(ctx, `
			INSERT INTO purchase_receipt_lines (id, receipt_id, item_id, qty, unit, unit_cost, total_cost)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, line.ID, line.ReceiptID, line.ItemID, line.Qty, line.Unit, line.UnitCost, line.TotalCost)
		if err != nil {
			return nil, err
		}
	}

	// Moving-average cost uses the on-hand quantity before each line lands,
	// so lock and recompute per line before folding the delta in.
	for i := range entries {
		line := receipt.Lines[i]
		onHand, err := lockedOnHand(ctx, tx, entries[i].BranchID, entries[i].ItemID)
		if err != nil {
			return nil, err
		}

		var avgCost decimal.Decimal
		err = tx.QueryRowContext(ctx, `
			SELECT avg_cost FROM inventory_items WHERE id = $1 FOR UPDATE
		`, line.ItemID).Scan(&avgCost)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, store.ErrNotFound
			}
			return nil, err
		}

		newCost := weightedCost(avgCost, onHand, line.UnitCost, entries[i].QtyBase)
		_, err = tx.ExecContext(ctx, `
			UPDATE inventory_items SET avg_cost = $2 WHERE id = $1
		`, line.ItemID, newCost)
		if err != nil {
			return nil, err
		}

		if err := applyEntries(ctx, tx, entries[i:i+1], true); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &receipt, nil
}

func (s *Store) PostTransfer(ctx context.Context, transfer domain.Transfer, entries []domain.StockLedgerEntry) (*domain.Transfer, error) {
	if transfer.ID == "" {
		transfer.ID = xid.New("trf")
	}
	if transfer.CreatedAt.IsZero() {
		transfer.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transfers (id, restaurant_id, from_branch_id, to_branch_id, note, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, transfer.ID, transfer.RestaurantID, transfer.FromBranchID, transfer.ToBranchID,
		nullIfEmpty(transfer.Note), transfer.CreatedBy, transfer.CreatedAt)
	if err != nil {
		return nil, err
	}

	for i := range transfer.Lines {
		line := &transfer.Lines[i]
		if line.ID == "" {
			line.ID = xid.New("trfl")
		}
		line.TransferID = transfer.ID
		_, err = tx.ExecContext(ctx, `
			INSERT INTO transfer_lines (id, transfer_id, item_id, dest_item_id, qty, unit)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, line.ID, line.TransferID, line.ItemID, line.DestItemID, line.Qty, line.Unit)
		if err != nil {
			return nil, err
		}
	}

	if err := applyEntries(ctx, tx, entries, false); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

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

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
