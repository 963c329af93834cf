package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"sufrah/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrConflict          = errors.New("conflicting record exists")
	ErrFinalized         = errors.New("record already finalized")
)

type Repository interface {
	GetRestaurant(ctx context.Context, id string) (*domain.Restaurant, error)
	GetBranch(ctx context.Context, id string) (*domain.Branch, error)
	ListBranches(ctx context.Context, restaurantID string) ([]domain.Branch, error)

	CreateUnit(ctx context.Context, unit domain.Unit) error
	GetUnit(ctx context.Context, restaurantID string, name string) (*domain.Unit, error)
	CreateUnitConversion(ctx context.Context, conv domain.UnitConversion) (*domain.UnitConversion, error)
	ListUnitConversions(ctx context.Context, restaurantID string) ([]domain.UnitConversion, error)

	CreateInventoryItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error)
	GetInventoryItem(ctx context.Context, id string) (*domain.InventoryItem, error)
	FindItemByName(ctx context.Context, restaurantID string, branchID string, name string) (*domain.InventoryItem, error)
	ListInventoryItems(ctx context.Context, restaurantID string, branchID string) ([]domain.InventoryItem, error)
	GetItemsByIDs(ctx context.Context, ids []string) (map[string]domain.InventoryItem, error)

	// AppendLedgerEntries inserts the entries and applies their base-quantity
	// deltas to the stock level cache in a single transaction. When
	// allowNegative is false the whole batch fails with ErrInsufficientStock
	// if any affected level would drop below zero.
	AppendLedgerEntries(ctx context.Context, entries []domain.StockLedgerEntry, allowNegative bool) error
	ListLedgerEntries(ctx context.Context, branchID string, itemID string, limit int) ([]domain.StockLedgerEntry, error)
	ListLedgerEntriesByRef(ctx context.Context, refType string, refID string) ([]domain.StockLedgerEntry, error)
	HasLedgerHistory(ctx context.Context, branchID string, itemID string) (bool, error)
	GetStockLevels(ctx context.Context, branchID string, itemIDs []string) (map[string]decimal.Decimal, error)
	ListStockLevels(ctx context.Context, restaurantID string, branchID string) ([]domain.StockLevel, error)
	SumLedgerByItem(ctx context.Context, branchID string) (map[string]decimal.Decimal, error)
	// SumConsumptionByItem totals the outbound base quantity per item since
	// the given time, as a positive number.
	SumConsumptionByItem(ctx context.Context, branchID string, since time.Time) (map[string]decimal.Decimal, error)
	SetStockLevel(ctx context.Context, restaurantID string, branchID string, itemID string, onHand decimal.Decimal) error

	CreateMenuItem(ctx context.Context, item domain.MenuItem) (*domain.MenuItem, error)
	ListMenuItems(ctx context.Context, restaurantID string) ([]domain.MenuItem, error)
	GetMenuItemsByIDs(ctx context.Context, ids []string) (map[string]domain.MenuItem, error)
	ReplaceRecipe(ctx context.Context, recipe domain.Recipe) (*domain.Recipe, error)
	GetActiveRecipesByMenuItems(ctx context.Context, restaurantID string, menuItemIDs []string) (map[string]domain.Recipe, error)

	CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	GetOrderByID(ctx context.Context, id string) (*domain.Order, error)
	GetOrdersByIDs(ctx context.Context, ids []string) ([]domain.Order, error)
	ListOrders(ctx context.Context, branchID string, status string, limit int) ([]domain.Order, error)
	// TransitionOrderStatus performs the conditional status update used as the
	// optimistic lock for settlement. It reports false when no row matched,
	// meaning a concurrent request already moved the order out of from.
	TransitionOrderStatus(ctx context.Context, orderID string, from []string, to string) (bool, error)
	SetOrderStatus(ctx context.Context, orderID string, status string) error
	CreatePayments(ctx context.Context, payments []domain.Payment) error
	ListPaymentsByOrder(ctx context.Context, orderID string) ([]domain.Payment, error)
	UpdateOrderLineCosts(ctx context.Context, lineID string, cogs decimal.Decimal, profit decimal.Decimal) error

	// PostPurchaseReceipt inserts the header, lines, ledger entries and the
	// recomputed moving-average costs in one transaction. entries align
	// one-to-one with receipt.Lines.
	PostPurchaseReceipt(ctx context.Context, receipt domain.PurchaseReceipt, entries []domain.StockLedgerEntry) (*domain.PurchaseReceipt, error)
	PostTransfer(ctx context.Context, transfer domain.Transfer, entries []domain.StockLedgerEntry) (*domain.Transfer, error)

	CreateStockCount(ctx context.Context, count domain.StockCount) (*domain.StockCount, error)
	GetStockCount(ctx context.Context, id string) (*domain.StockCount, error)
	ListStockCounts(ctx context.Context, branchID string, limit int) ([]domain.StockCount, error)
	// ApproveStockCount transitions the count to approved and writes the
	// variance entries in one transaction. ErrFinalized when the count is no
	// longer approvable.
	ApproveStockCount(ctx context.Context, countID string, approvedBy string, at time.Time, entries []domain.StockLedgerEntry) error
	CancelStockCount(ctx context.Context, countID string) error

	CreateRefund(ctx context.Context, refund domain.Refund) (*domain.Refund, error)
	SumRefundsByOrder(ctx context.Context, orderID string) (decimal.Decimal, error)
	ListRefundsByOrder(ctx context.Context, orderID string) ([]domain.Refund, error)

	GetDailyReport(ctx context.Context, restaurantID string, branchID string, from time.Time, to time.Time) (domain.DailyReport, error)
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, restaurantID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUser(ctx context.Context, username string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context, restaurantID string) ([]domain.UserAccount, error)
}
