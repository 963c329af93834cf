package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Actor struct {
	Username     string
	Role         string
	RestaurantID string
	BranchID     string
}

type Restaurant struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Currency           string    `json:"currency"`
	SubscriptionActive bool      `json:"subscription_active"`
	InventoryEnabled   bool      `json:"inventory_enabled"`
	CreatedAt          time.Time `json:"created_at"`
}

type Branch struct {
	ID           string    `json:"id"`
	RestaurantID string    `json:"restaurant_id"`
	Name         string    `json:"name"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

type Unit struct {
	RestaurantID string `json:"restaurant_id"`
	Name         string `json:"name"`
	Symbol       string `json:"symbol"`
}

type UnitConversion struct {
	ID           string          `json:"id"`
	RestaurantID string          `json:"restaurant_id"`
	FromUnit     string          `json:"from_unit"`
	ToUnit       string          `json:"to_unit"`
	Multiplier   decimal.Decimal `json:"multiplier"`
}

type InventoryItem struct {
	ID           string          `json:"id"`
	RestaurantID string          `json:"restaurant_id"`
	BranchID     string          `json:"branch_id"`
	Name         string          `json:"name"`
	BaseUnit     string          `json:"base_unit"`
	AvgCost      decimal.Decimal `json:"avg_cost"`
	ReorderLevel decimal.Decimal `json:"reorder_level"`
	ReorderQty   decimal.Decimal `json:"reorder_qty"`
	Active       bool            `json:"active"`
	CreatedAt    time.Time       `json:"created_at"`
}

type StockLedgerEntry struct {
	ID           string          `json:"id"`
	RestaurantID string          `json:"restaurant_id"`
	BranchID     string          `json:"branch_id"`
	ItemID       string          `json:"item_id"`
	Qty          decimal.Decimal `json:"qty"`
	Unit         string          `json:"unit"`
	QtyBase      decimal.Decimal `json:"qty_base"`
	Reason       string          `json:"reason"`
	RefType      string          `json:"ref_type,omitempty"`
	RefID        string          `json:"ref_id,omitempty"`
	Note         string          `json:"note,omitempty"`
	CreatedBy    string          `json:"created_by"`
	CreatedAt    time.Time       `json:"created_at"`
}

type StockLevel struct {
	RestaurantID string          `json:"restaurant_id"`
	BranchID     string          `json:"branch_id"`
	ItemID       string          `json:"item_id"`
	OnHandBase   decimal.Decimal `json:"on_hand_base"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type MenuItem struct {
	ID           string          `json:"id"`
	RestaurantID string          `json:"restaurant_id"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	Active       bool            `json:"active"`
	CreatedAt    time.Time       `json:"created_at"`
}

type Recipe struct {
	ID           string       `json:"id"`
	RestaurantID string       `json:"restaurant_id"`
	MenuItemID   string       `json:"menu_item_id"`
	Active       bool         `json:"active"`
	CreatedAt    time.Time    `json:"created_at"`
	Lines        []RecipeLine `json:"lines"`
}

type RecipeLine struct {
	ID       string          `json:"id"`
	RecipeID string          `json:"recipe_id"`
	ItemID   string          `json:"item_id"`
	Qty      decimal.Decimal `json:"qty"`
	Unit     string          `json:"unit"`
}

type Order struct {
	ID           string          `json:"id"`
	RestaurantID string          `json:"restaurant_id"`
	BranchID     string          `json:"branch_id"`
	Number       int64           `json:"number"`
	TableID      string          `json:"table_id,omitempty"`
	Status       string          `json:"status"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	Total        decimal.Decimal `json:"total"`
	CreatedBy    string          `json:"created_by"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Lines        []OrderLine     `json:"lines,omitempty"`
}

type OrderLine struct {
	ID         string          `json:"id"`
	OrderID    string          `json:"order_id"`
	MenuItemID string          `json:"menu_item_id"`
	Name       string          `json:"name"`
	Qty        decimal.Decimal `json:"qty"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Total      decimal.Decimal `json:"total"`
	Voided     bool            `json:"voided"`
	Cogs       decimal.Decimal `json:"cogs"`
	Profit     decimal.Decimal `json:"profit"`
}

type Payment struct {
	ID           string          `json:"id"`
	OrderID      string          `json:"order_id"`
	RestaurantID string          `json:"restaurant_id"`
	BranchID     string          `json:"branch_id"`
	Method       string          `json:"method"`
	Amount       decimal.Decimal `json:"amount"`
	Reference    string          `json:"reference,omitempty"`
	CreatedBy    string          `json:"created_by"`
	CreatedAt    time.Time       `json:"created_at"`
}

type Refund struct {
	ID           string          `json:"id"`
	OrderID      string          `json:"order_id"`
	RestaurantID string          `json:"restaurant_id"`
	BranchID     string          `json:"branch_id"`
	Amount       decimal.Decimal `json:"amount"`
	Type         string          `json:"type"`
	Reason       string          `json:"reason"`
	CreatedBy    string          `json:"created_by"`
	CreatedAt    time.Time       `json:"created_at"`
}

type PurchaseReceipt struct {
	ID           string                `json:"id"`
	RestaurantID string                `json:"restaurant_id"`
	BranchID     string                `json:"branch_id"`
	Supplier     string                `json:"supplier,omitempty"`
	Note         string                `json:"note,omitempty"`
	CreatedBy    string                `json:"created_by"`
	CreatedAt    time.Time             `json:"created_at"`
	Lines        []PurchaseReceiptLine `json:"lines"`
}

type PurchaseReceiptLine struct {
	ID        string          `json:"id"`
	ReceiptID string          `json:"receipt_id"`
	ItemID    string          `json:"item_id"`
	Qty       decimal.Decimal `json:"qty"`
	Unit      string          `json:"unit"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	TotalCost decimal.Decimal `json:"total_cost"`
}

type Transfer struct {
	ID           string         `json:"id"`
	RestaurantID string         `json:"restaurant_id"`
	FromBranchID string         `json:"from_branch_id"`
	ToBranchID   string         `json:"to_branch_id"`
	Note         string         `json:"note,omitempty"`
	CreatedBy    string         `json:"created_by"`
	CreatedAt    time.Time      `json:"created_at"`
	Lines        []TransferLine `json:"lines"`
}

type TransferLine struct {
	ID         string          `json:"id"`
	TransferID string          `json:"transfer_id"`
	ItemID     string          `json:"item_id"`
	DestItemID string          `json:"dest_item_id"`
	Qty        decimal.Decimal `json:"qty"`
	Unit       string          `json:"unit"`
}

type StockCount struct {
	ID           string           `json:"id"`
	RestaurantID string           `json:"restaurant_id"`
	BranchID     string           `json:"branch_id"`
	Status       string           `json:"status"`
	Note         string           `json:"note,omitempty"`
	CreatedBy    string           `json:"created_by"`
	CreatedAt    time.Time        `json:"created_at"`
	ApprovedBy   string           `json:"approved_by,omitempty"`
	ApprovedAt   *time.Time       `json:"approved_at,omitempty"`
	Lines        []StockCountLine `json:"lines"`
}

type StockCountLine struct {
	ID       string          `json:"id"`
	CountID  string          `json:"count_id"`
	ItemID   string          `json:"item_id"`
	Expected decimal.Decimal `json:"expected"`
	Actual   decimal.Decimal `json:"actual"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	RestaurantID  string    `json:"restaurant_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username     string
	Password     string
	Role         string
	RestaurantID string
	BranchID     string
	Active       bool
	CreatedAt    time.Time
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	BranchID string `json:"branch_id"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	BranchID  string    `json:"branch_id"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type ItemCreateRequest struct {
	BranchID     string          `json:"branch_id"`
	Name         string          `json:"name"`
	BaseUnit     string          `json:"base_unit"`
	ReorderLevel decimal.Decimal `json:"reorder_level"`
	ReorderQty   decimal.Decimal `json:"reorder_qty"`
}

type ConversionCreateRequest struct {
	FromUnit   string          `json:"from_unit"`
	ToUnit     string          `json:"to_unit"`
	Multiplier decimal.Decimal `json:"multiplier"`
}

type RecipeLineRequest struct {
	ItemID string          `json:"item_id"`
	Qty    decimal.Decimal `json:"qty"`
	Unit   string          `json:"unit"`
}

type RecipeSetRequest struct {
	MenuItemID string              `json:"menu_item_id"`
	Active     bool                `json:"active"`
	Lines      []RecipeLineRequest `json:"lines"`
}

type MenuItemCreateRequest struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

type AdjustmentRequest struct {
	BranchID string          `json:"branch_id"`
	ItemID   string          `json:"item_id"`
	Type     string          `json:"type"`
	Qty      decimal.Decimal `json:"qty"`
	Unit     string          `json:"unit"`
	Note     string          `json:"note"`
}

type AdjustmentResponse struct {
	Entry  StockLedgerEntry `json:"entry"`
	OnHand decimal.Decimal  `json:"on_hand"`
}

type ReceiptLineRequest struct {
	ItemID   string          `json:"item_id"`
	Qty      decimal.Decimal `json:"qty"`
	Unit     string          `json:"unit"`
	UnitCost decimal.Decimal `json:"unit_cost"`
}

type ReceiptCreateRequest struct {
	BranchID string               `json:"branch_id"`
	Supplier string               `json:"supplier"`
	Note     string               `json:"note"`
	Lines    []ReceiptLineRequest `json:"lines"`
}

type ReceiptResponse struct {
	Receipt PurchaseReceipt `json:"receipt"`
}

type TransferLineRequest struct {
	ItemID string          `json:"item_id"`
	Qty    decimal.Decimal `json:"qty"`
	Unit   string          `json:"unit"`
}

type TransferRequest struct {
	FromBranchID string                `json:"from_branch_id"`
	ToBranchID   string                `json:"to_branch_id"`
	Note         string                `json:"note"`
	Lines        []TransferLineRequest `json:"lines"`
}

type TransferResponse struct {
	Transfer Transfer `json:"transfer"`
}

type StockCountLineRequest struct {
	ItemID string          `json:"item_id"`
	Actual decimal.Decimal `json:"actual"`
}

type StockCountCreateRequest struct {
	BranchID string                  `json:"branch_id"`
	Note     string                  `json:"note"`
	Lines    []StockCountLineRequest `json:"lines"`
}

type StockCountApproveResponse struct {
	CountID          string          `json:"count_id"`
	Status           string          `json:"status"`
	PositiveVariance decimal.Decimal `json:"positive_variance"`
	NegativeVariance decimal.Decimal `json:"negative_variance"`
	Adjustments      int             `json:"adjustments"`
}

type ImportRowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

type ImportResponse struct {
	ItemsCreated int              `json:"items_created"`
	ItemsMatched int              `json:"items_matched"`
	UnitsCreated int              `json:"units_created"`
	Stocked      int              `json:"stocked"`
	Skipped      int              `json:"skipped"`
	Errors       []ImportRowError `json:"errors"`
}

type OrderLineRequest struct {
	MenuItemID string          `json:"menu_item_id"`
	Qty        decimal.Decimal `json:"qty"`
}

type OrderCreateRequest struct {
	BranchID string             `json:"branch_id"`
	TableID  string             `json:"table_id"`
	Lines    []OrderLineRequest `json:"lines"`
}

type PaymentInstrument struct {
	Method    string          `json:"method"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference,omitempty"`
}

type PayOrderRequest struct {
	Payments []PaymentInstrument `json:"payments"`
}

type StockWarning struct {
	ItemID    string          `json:"item_id"`
	Name      string          `json:"name"`
	OnHand    decimal.Decimal `json:"on_hand"`
	Required  decimal.Decimal `json:"required"`
	NewOnHand decimal.Decimal `json:"new_on_hand"`
}

type PayOrderResponse struct {
	OrderID  string          `json:"order_id"`
	Status   string          `json:"status"`
	Total    decimal.Decimal `json:"total"`
	Tendered decimal.Decimal `json:"tendered"`
	Change   decimal.Decimal `json:"change"`
	Payments []Payment       `json:"payments"`
	Warnings []StockWarning  `json:"stock_warnings,omitempty"`
}

type PayTableRequest struct {
	OrderIDs []string            `json:"order_ids"`
	Payments []PaymentInstrument `json:"payments"`
}

type PayTableOrderResult struct {
	OrderID   string          `json:"order_id"`
	Number    int64           `json:"number"`
	Status    string          `json:"status"`
	Total     decimal.Decimal `json:"total"`
	Allocated []Payment       `json:"allocated"`
}

type PayTableResponse struct {
	Orders        []PayTableOrderResult `json:"orders"`
	CombinedTotal decimal.Decimal       `json:"combined_total"`
	Tendered      decimal.Decimal       `json:"tendered"`
	Change        decimal.Decimal       `json:"change"`
	Warnings      []StockWarning        `json:"stock_warnings,omitempty"`
}

type RefundCreateRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Type   string          `json:"type"`
	Reason string          `json:"reason"`
}

type RefundResponse struct {
	Refund        Refund          `json:"refund"`
	OrderStatus   string          `json:"order_status"`
	TotalRefunded decimal.Decimal `json:"total_refunded"`
	Restored      bool            `json:"inventory_restored"`
}

type StockLevelView struct {
	ItemID    string          `json:"item_id"`
	Name      string          `json:"name"`
	BaseUnit  string          `json:"base_unit"`
	OnHand    decimal.Decimal `json:"on_hand"`
	AvgCost   decimal.Decimal `json:"avg_cost"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type StockLevelsResponse struct {
	BranchID string           `json:"branch_id"`
	Levels   []StockLevelView `json:"levels"`
}

type DriftEntry struct {
	ItemID string          `json:"item_id"`
	Cached decimal.Decimal `json:"cached"`
	Ledger decimal.Decimal `json:"ledger"`
	Delta  decimal.Decimal `json:"delta"`
}

type ReconcileResponse struct {
	BranchID string       `json:"branch_id"`
	Checked  int          `json:"checked"`
	Drift    []DriftEntry `json:"drift"`
	Fixed    bool         `json:"fixed"`
}

type ReorderSuggestion struct {
	ItemID       string          `json:"item_id"`
	Name         string          `json:"name"`
	BaseUnit     string          `json:"base_unit"`
	OnHand       decimal.Decimal `json:"on_hand"`
	ReorderLevel decimal.Decimal `json:"reorder_level"`
	SuggestedQty decimal.Decimal `json:"suggested_qty"`
	Urgency      float64         `json:"urgency"`
	Reason       string          `json:"reason"`
}

type DailyReportMethod struct {
	Method string          `json:"method"`
	Count  int64           `json:"count"`
	Total  decimal.Decimal `json:"total"`
}

type DailyReport struct {
	BranchID    string              `json:"branch_id"`
	Date        string              `json:"date"`
	Orders      int64               `json:"orders"`
	GrossSales  decimal.Decimal     `json:"gross_sales"`
	Refunds     decimal.Decimal     `json:"refunds"`
	NetRevenue  decimal.Decimal     `json:"net_revenue"`
	Cogs        decimal.Decimal     `json:"cogs"`
	GrossProfit decimal.Decimal     `json:"gross_profit"`
	ByMethod    []DailyReportMethod `json:"by_method"`
}

const (
	RoleOwner   = "owner"
	RoleCashier = "cashier"
)

const (
	OrderStatusPending   = "pending"
	OrderStatusOpen      = "open"
	OrderStatusNew       = "new"
	OrderStatusHeld      = "held"
	OrderStatusConfirmed = "confirmed"
	OrderStatusPaid      = "paid"
	OrderStatusRefunded  = "refunded"
)

const (
	ReasonPurchaseReceipt      = "PURCHASE_RECEIPT"
	ReasonAdjustmentIn         = "ADJUSTMENT_IN"
	ReasonAdjustmentOut        = "ADJUSTMENT_OUT"
	ReasonWaste                = "WASTE"
	ReasonTransferOut          = "TRANSFER_OUT"
	ReasonTransferIn           = "TRANSFER_IN"
	ReasonStockCountAdjustment = "STOCK_COUNT_ADJUSTMENT"
	ReasonInitialStock         = "INITIAL_STOCK"
	ReasonInitialStockImport   = "INITIAL_STOCK_IMPORT"
	ReasonSaleDeduction        = "SALE_DEDUCTION"
	ReasonRefundRestoration    = "REFUND_RESTORATION"
)

const (
	RefTypeOrder      = "order"
	RefTypeReceipt    = "receipt"
	RefTypeTransfer   = "transfer"
	RefTypeStockCount = "stock_count"
	RefTypeRefund     = "refund"
	RefTypeImport     = "import"
	RefTypeManual     = "manual"
)

const (
	AdjustTypeIn      = "in"
	AdjustTypeOut     = "out"
	AdjustTypeWaste   = "waste"
	AdjustTypeInitial = "initial"
)

const (
	PaymentMethodCash   = "cash"
	PaymentMethodCard   = "card"
	PaymentMethodWallet = "wallet"
)

const (
	RefundTypeFull    = "full"
	RefundTypePartial = "partial"
)

const (
	CountStatusNew       = "new"
	CountStatusApproved  = "approved"
	CountStatusCancelled = "cancelled"
)
