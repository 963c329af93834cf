package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"sufrah/backend/internal/domain"
	"sufrah/backend/internal/store"
	"sufrah/backend/internal/xid"
)

func (s *Store) CreateMenuItem(ctx context.Context, item domain.MenuItem) (*domain.MenuItem, error) {
	if item.ID == "" {
		item.ID = xid.New("menu")
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	item.Active = true
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO menu_items (id, restaurant_id, name, price, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, item.ID, item.RestaurantID, item.Name, item.Price, item.Active, item.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListMenuItems(ctx context.Context, restaurantID string) ([]domain.MenuItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, restaurant_id, name, price, active, created_at
		FROM menu_items
		WHERE restaurant_id = $1 AND active = true
		ORDER BY name
	`, restaurantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.MenuItem, 0, 64)
	for rows.Next() {
		var m domain.MenuItem
		if err := rows.Scan(&m.ID, &m.RestaurantID, &m.Name, &m.Price, &m.Active, &m.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

func (s *Store) GetMenuItemsByIDs(ctx context.Context, ids []string) (map[string]domain.MenuItem, error) {
	result := make(map[string]domain.MenuItem, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, restaurant_id, name, price, active, created_at
		FROM menu_items
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var m domain.MenuItem
		if err := rows.Scan(&m.ID, &m.RestaurantID, &m.Name, &m.Price, &m.Active, &m.CreatedAt); err != nil {
			return nil, err
		}
		result[m.ID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Store) ReplaceRecipe(ctx context.Context, recipe domain.Recipe) (*domain.Recipe, error) {
	if recipe.ID == "" {
		recipe.ID = xid.New("rcp")
	}
	if recipe.CreatedAt.IsZero() {
		recipe.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var existingID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM recipes
		WHERE restaurant_id = $1 AND menu_item_id = $2
		FOR UPDATE
	`, recipe.RestaurantID, recipe.MenuItemID).Scan(&existingID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO recipes (id, restaurant_id, menu_item_id, active, created_at)
			VALUES ($1,$2,$3,$4,$5)
		`, recipe.ID, recipe.RestaurantID, recipe.MenuItemID, recipe.Active, recipe.CreatedAt)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		recipe.ID = existingID
		_, err = tx.ExecContext(ctx, `
			UPDATE recipes SET active = $2 WHERE id = $1
		`, recipe.ID, recipe.Active)
		if err != nil {
			return nil, err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM recipe_lines WHERE recipe_id = $1`, recipe.ID)
		if err != nil {
			return nil, err
		}
	}

	for i := range recipe.Lines {
		line := &recipe.Lines[i]
		if line.ID == "" {
			line.ID = xid.New("rcpl")
		}
		line.RecipeID = recipe.ID
		_, err = tx.ExecContext(ctx, `
			INSERT INTO recipe_lines (id, recipe_id, item_id, qty, unit)
			VALUES ($1,$2,$3,$4,$5)
		`, line.ID, line.RecipeID, line.ItemID, line.Qty, line.Unit)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &recipe, nil
}

func (s *Store) GetActiveRecipesByMenuItems(ctx context.Context, restaurantID string, menuItemIDs []string) (map[string]domain.Recipe, error) {
	result := make(map[string]domain.Recipe, len(menuItemIDs))
	if len(menuItemIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.restaurant_id, r.menu_item_id, r.active, r.created_at,
		       l.id, l.item_id, l.qty, l.unit
		FROM recipes r
		JOIN recipe_lines l ON l.recipe_id = r.id
		WHERE r.restaurant_id = $1 AND r.active = true AND r.menu_item_id = ANY($2)
		ORDER BY r.menu_item_id, l.id
	`, restaurantID, menuItemIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var r domain.Recipe
		var line domain.RecipeLine
		if err := rows.Scan(&r.ID, &r.RestaurantID, &r.MenuItemID, &r.Active, &r.CreatedAt,
			&line.ID, &line.ItemID, &line.Qty, &line.Unit); err != nil {
			return nil, err
		}
		line.RecipeID = r.ID
		existing, ok := result[r.MenuItemID]
		if !ok {
			r.Lines = []domain.RecipeLine{line}
			result[r.MenuItemID] = r
			continue
		}
		existing.Lines = append(existing.Lines, line)
		result[r.MenuItemID] = existing
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = order.CreatedAt

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(number), 0) + 1 FROM orders WHERE branch_id = $1
	`, order.BranchID).Scan(&order.Number)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, restaurant_id, branch_id, number, table_id, status,
			subtotal, total, created_by, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, order.ID, order.RestaurantID, order.BranchID, order.Number, nullIfEmpty(order.TableID),
		order.Status, order.Subtotal, order.Total, order.CreatedBy, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return nil, err
	}

	for i := range order.Lines {
		line := &order.Lines[i]
		if line.ID == "" {
			line.ID = xid.New("ordl")
		}
		line.OrderID = order.ID
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_lines (
				id, order_id, menu_item_id, name, qty, unit_price, total, voided, cogs, profit
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, line.ID, line.OrderID, line.MenuItemID, line.Name, line.Qty, line.UnitPrice,
			line.Total, line.Voided, line.Cogs, line.Profit)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &order, nil
}

const orderSelect = `
	SELECT id, restaurant_id, branch_id, number, COALESCE(table_id,''), status,
	       subtotal, total, created_by, created_at, updated_at
	FROM orders`

func scanOrder(row *sql.Row) (*domain.Order, error) {
	var o domain.Order
	err := row.Scan(&o.ID, &o.RestaurantID, &o.BranchID, &o.Number, &o.TableID, &o.Status,
		&o.Subtotal, &o.Total, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &o, nil
}

func (s *Store) GetOrderByID(ctx context.Context, id string) (*domain.Order, error) {
	order, err := scanOrder(s.db.QueryRowContext(ctx, orderSelect+` WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, menu_item_id, name, qty, unit_price, total, voided, cogs, profit
		FROM order_lines
		WHERE order_id = $1
		ORDER BY id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var line domain.OrderLine
		if err := rows.Scan(&line.ID, &line.OrderID, &line.MenuItemID, &line.Name, &line.Qty,
			&line.UnitPrice, &line.Total, &line.Voided, &line.Cogs, &line.Profit); err != nil {
			return nil, err
		}
		order.Lines = append(order.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return order, nil
}

func (s *Store) GetOrdersByIDs(ctx context.Context, ids []string) ([]domain.Order, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, orderSelect+` WHERE id = ANY($1) ORDER BY number`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, len(ids))
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(&o.ID, &o.RestaurantID, &o.BranchID, &o.Number, &o.TableID, &o.Status,
			&o.Subtotal, &o.Total, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}

func (s *Store) ListOrders(ctx context.Context, branchID string, status string, limit int) ([]domain.Order, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}

	query := orderSelect + ` WHERE branch_id = $1 ORDER BY number DESC LIMIT $2`
	args := []any{branchID, limit}
	if status != "" {
		query = orderSelect + ` WHERE branch_id = $1 AND status = $3 ORDER BY number DESC LIMIT $2`
		args = append(args, status)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, limit)
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(&o.ID, &o.RestaurantID, &o.BranchID, &o.Number, &o.TableID, &o.Status,
			&o.Subtotal, &o.Total, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}

func (s *Store) TransitionOrderStatus(ctx context.Context, orderID string, from []string, to string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status = ANY($3)
	`, orderID, to, from)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (s *Store) SetOrderStatus(ctx context.Context, orderID string, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orders SET status = $2, updated_at = now() WHERE id = $1
	`, orderID, status)
	return err
}

func (s *Store) CreatePayments(ctx context.Context, payments []domain.Payment) error {
	if len(payments) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for i := range payments {
		p := &payments[i]
		if p.ID == "" {
			p.ID = xid.New("pay")
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = time.Now().UTC()
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO payments (id, order_id, restaurant_id, branch_id, method, amount, reference, created_by, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, p.ID, p.OrderID, p.RestaurantID, p.BranchID, p.Method, p.Amount,
			nullIfEmpty(p.Reference), p.CreatedBy, p.CreatedAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) ListPaymentsByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, restaurant_id, branch_id, method, amount, COALESCE(reference,''), created_by, created_at
		FROM payments
		WHERE order_id = $1
		ORDER BY created_at, id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0, 4)
	for rows.Next() {
		var p domain.Payment
		if err := rows.Scan(&p.ID, &p.OrderID, &p.RestaurantID, &p.BranchID, &p.Method,
			&p.Amount, &p.Reference, &p.CreatedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return payments, nil
}

func (s *Store) UpdateOrderLineCosts(ctx context.Context, lineID string, cogs decimal.Decimal, profit decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE order_lines SET cogs = $2, profit = $3 WHERE id = $1
	`, lineID, cogs, profit)
	return err
}

func (s *Store) CreateStockCount(ctx context.Context, count domain.StockCount) (*domain.StockCount, error) {
	if count.ID == "" {
		count.ID = xid.New("cnt")
	}
	if count.CreatedAt.IsZero() {
		count.CreatedAt = time.Now().UTC()
	}
	count.Status = domain.CountStatusNew

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO stock_counts (id, restaurant_id, branch_id, status, note, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, count.ID, count.RestaurantID, count.BranchID, count.Status, nullIfEmpty(count.Note),
		count.CreatedBy, count.CreatedAt)
	if err != nil {
		return nil, err
	}

	for i := range count.Lines {
		line := &count.Lines[i]
		if line.ID == "" {
			line.ID = xid.New("cntl")
		}
		line.CountID = count.ID
		_, err = tx.ExecContext(ctx, `
			INSERT INTO stock_count_lines (id, count_id, item_id, expected, actual)
			VALUES ($1,$2,$3,$4,$5)
		`, line.ID, line.CountID, line.ItemID, line.Expected, line.Actual)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &count, nil
}

func (s *Store) GetStockCount(ctx context.Context, id string) (*domain.StockCount, error) {
	var c domain.StockCount
	var approvedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, restaurant_id, branch_id, status, COALESCE(note,''), created_by, created_at,
		       COALESCE(approved_by,''), approved_at
		FROM stock_counts
		WHERE id = $1
	`, id).Scan(&c.ID, &c.RestaurantID, &c.BranchID, &c.Status, &c.Note, &c.CreatedBy,
		&c.CreatedAt, &c.ApprovedBy, &approvedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if approvedAt.Valid {
		c.ApprovedAt = &approvedAt.Time
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, count_id, item_id, expected, actual
		FROM stock_count_lines
		WHERE count_id = $1
		ORDER BY id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var line domain.StockCountLine
		if err := rows.Scan(&line.ID, &line.CountID, &line.ItemID, &line.Expected, &line.Actual); err != nil {
			return nil, err
		}
		c.Lines = append(c.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &c, nil
}

func (s *Store) ListStockCounts(ctx context.Context, branchID string, limit int) ([]domain.StockCount, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, restaurant_id, branch_id, status, COALESCE(note,''), created_by, created_at,
		       COALESCE(approved_by,''), approved_at
		FROM stock_counts
		WHERE branch_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, branchID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make([]domain.StockCount, 0, limit)
	for rows.Next() {
		var c domain.StockCount
		var approvedAt sql.NullTime
		if err := rows.Scan(&c.ID, &c.RestaurantID, &c.BranchID, &c.Status, &c.Note, &c.CreatedBy,
			&c.CreatedAt, &c.ApprovedBy, &approvedAt); err != nil {
			return nil, err
		}
		if approvedAt.Valid {
			c.ApprovedAt = &approvedAt.Time
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return counts, nil
}

func (s *Store) ApproveStockCount(ctx context.Context, countID string, approvedBy string, at time.Time, entries []domain.StockLedgerEntry) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE stock_counts
		SET status = $2, approved_by = $3, approved_at = $4
		WHERE id = $1 AND status = $5
	`, countID, domain.CountStatusApproved, approvedBy, at, domain.CountStatusNew)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM stock_counts WHERE id = $1)
		`, countID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return store.ErrNotFound
		}
		return store.ErrFinalized
	}

	if err := applyEntries(ctx, tx, entries, true); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) CancelStockCount(ctx context.Context, countID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE stock_counts SET status = $2 WHERE id = $1 AND status = $3
	`, countID, domain.CountStatusCancelled, domain.CountStatusNew)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM stock_counts WHERE id = $1)
		`, countID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return store.ErrNotFound
		}
		return store.ErrFinalized
	}
	return nil
}

func (s *Store) CreateRefund(ctx context.Context, refund domain.Refund) (*domain.Refund, error) {
	if refund.ID == "" {
		refund.ID = xid.New("rfd")
	}
	if refund.CreatedAt.IsZero() {
		refund.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refunds (id, order_id, restaurant_id, branch_id, amount, type, reason, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, refund.ID, refund.OrderID, refund.RestaurantID, refund.BranchID, refund.Amount,
		refund.Type, nullIfEmpty(refund.Reason), refund.CreatedBy, refund.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &refund, nil
}

func (s *Store) SumRefundsByOrder(ctx context.Context, orderID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM refunds WHERE order_id = $1
	`, orderID).Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

func (s *Store) ListRefundsByOrder(ctx context.Context, orderID string) ([]domain.Refund, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, restaurant_id, branch_id, amount, type, COALESCE(reason,''), created_by, created_at
		FROM refunds
		WHERE order_id = $1
		ORDER BY created_at, id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	refunds := make([]domain.Refund, 0, 4)
	for rows.Next() {
		var r domain.Refund
		if err := rows.Scan(&r.ID, &r.OrderID, &r.RestaurantID, &r.BranchID, &r.Amount,
			&r.Type, &r.Reason, &r.CreatedBy, &r.CreatedAt); err != nil {
			return nil, err
		}
		refunds = append(refunds, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return refunds, nil
}

func (s *Store) GetDailyReport(ctx context.Context, restaurantID string, branchID string, from time.Time, to time.Time) (domain.DailyReport, error) {
	report := domain.DailyReport{
		BranchID:    branchID,
		Date:        from.Format("2006-01-02"),
		GrossSales:  decimal.Zero,
		Refunds:     decimal.Zero,
		NetRevenue:  decimal.Zero,
		Cogs:        decimal.Zero,
		GrossProfit: decimal.Zero,
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT method, COUNT(*), COALESCE(SUM(amount), 0)
		FROM payments
		WHERE restaurant_id = $1 AND branch_id = $2 AND created_at >= $3 AND created_at < $4
		GROUP BY method
		ORDER BY method
	`, restaurantID, branchID, from, to)
	if err != nil {
		return report, err
	}
	defer rows.Close()

	for rows.Next() {
		var m domain.DailyReportMethod
		if err := rows.Scan(&m.Method, &m.Count, &m.Total); err != nil {
			return report, err
		}
		report.ByMethod = append(report.ByMethod, m)
		report.GrossSales = report.GrossSales.Add(m.Total)
	}
	if err := rows.Err(); err != nil {
		return report, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM refunds
		WHERE restaurant_id = $1 AND branch_id = $2 AND created_at >= $3 AND created_at < $4
	`, restaurantID, branchID, from, to).Scan(&report.Refunds)
	if err != nil {
		return report, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT o.id), COALESCE(SUM(l.cogs), 0)
		FROM orders o
		JOIN order_lines l ON l.order_id = o.id
		WHERE o.restaurant_id = $1 AND o.branch_id = $2
		  AND o.status IN ($3, $4) AND o.updated_at >= $5 AND o.updated_at < $6
	`, restaurantID, branchID, domain.OrderStatusPaid, domain.OrderStatusRefunded, from, to).
		Scan(&report.Orders, &report.Cogs)
	if err != nil {
		return report, err
	}

	report.NetRevenue = report.GrossSales.Sub(report.Refunds)
	report.GrossProfit = report.NetRevenue.Sub(report.Cogs)
	return report, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, restaurant_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.RestaurantID, entry.ActorUsername, entry.ActorRole, entry.Action,
		entry.EntityType, nullIfEmpty(entry.EntityID), nullIfEmpty(entry.Detail), entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, restaurantID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, restaurant_id, actor_username, actor_role, action, entity_type,
		       COALESCE(entity_id,''), COALESCE(detail,''), created_at
		FROM audit_logs
		WHERE restaurant_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, restaurantID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var l domain.AuditLog
		if err := rows.Scan(&l.ID, &l.RestaurantID, &l.ActorUsername, &l.ActorRole, &l.Action,
			&l.EntityType, &l.EntityID, &l.Detail, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, restaurant_id, branch_id, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, user.Username, user.Password, user.Role, user.RestaurantID, nullIfEmpty(user.BranchID),
		user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, username string) (*domain.UserAccount, error) {
	var u domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password, role, restaurant_id, COALESCE(branch_id,''), active, created_at
		FROM users
		WHERE username = $1
	`, username).Scan(&u.Username, &u.Password, &u.Role, &u.RestaurantID, &u.BranchID, &u.Active, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context, restaurantID string) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, restaurant_id, COALESCE(branch_id,''), active, created_at
		FROM users
		WHERE restaurant_id = $1
		ORDER BY created_at
	`, restaurantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.RestaurantID, &u.BranchID, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return users, nil
}
