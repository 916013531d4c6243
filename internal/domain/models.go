package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AdHocStock is the stock level given to items materialized from free-text
// sale lines so they never block a checkout.
const AdHocStock = 1_000_000_000

type Company struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Active             bool      `json:"active"`
	AllowNegativeStock bool      `json:"allow_negative_stock"`
	CreatedAt          time.Time `json:"created_at"`
}

type Store struct {
	ID        string          `json:"id"`
	CompanyID string          `json:"company_id"`
	Name      string          `json:"name"`
	Active    bool            `json:"active"`
	SaleCount int64           `json:"sale_count"`
	Revenue   decimal.Decimal `json:"revenue"`
	CreatedAt time.Time       `json:"created_at"`
}

type CatalogItem struct {
	ID             string              `json:"id"`
	CompanyID      string              `json:"company_id"`
	StoreID        string              `json:"store_id"`
	SKU            string              `json:"sku"`
	Barcode        string              `json:"barcode,omitempty"`
	Name           string              `json:"name"`
	CostPrice      decimal.Decimal     `json:"cost_price"`
	SellingPrice   decimal.Decimal     `json:"selling_price"`
	WholesalePrice decimal.NullDecimal `json:"wholesale_price"`
	CurrentStock   int                 `json:"current_stock"`
	MinStock       int                 `json:"min_stock"`
	ReorderPoint   int                 `json:"reorder_point"`
	TaxRate        decimal.Decimal     `json:"tax_rate"`
	TaxInclusive   bool                `json:"tax_inclusive"`
	Active         bool                `json:"active"`
	AdHoc          bool                `json:"ad_hoc"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

func (c CatalogItem) NeedsReorder() bool {
	if c.AdHoc {
		return false
	}
	return c.CurrentStock <= c.ReorderPoint
}

type Customer struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"company_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CustomerSnapshot is the copy of the customer frozen on the sale.
type CustomerSnapshot struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

type SaleLineItem struct {
	CatalogItemID  string          `json:"catalog_item_id"`
	SKU            string          `json:"sku"`
	Name           string          `json:"name"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	DiscountType   DiscountType    `json:"discount_type"`
	DiscountValue  decimal.Decimal `json:"discount_value"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TaxRate        decimal.Decimal `json:"tax_rate"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Total          decimal.Decimal `json:"total"`
	AdHoc          bool            `json:"ad_hoc"`
}

type Payment struct {
	Method string          `json:"method"`
	Amount decimal.Decimal `json:"amount"`
	Change decimal.Decimal `json:"change"`
	Status string          `json:"status"`
}

type Sale struct {
	ID             string           `json:"id"`
	Number         string           `json:"number"`
	CompanyID      string           `json:"company_id"`
	StoreID        string           `json:"store_id"`
	Cashier        string           `json:"cashier"`
	CustomerID     string           `json:"customer_id,omitempty"`
	Customer       CustomerSnapshot `json:"customer"`
	Channel        string           `json:"channel"`
	Items          []SaleLineItem   `json:"items"`
	Subtotal       decimal.Decimal  `json:"subtotal"`
	TotalDiscount  decimal.Decimal  `json:"total_discount"`
	TotalTax       decimal.Decimal  `json:"total_tax"`
	TotalAmount    decimal.Decimal  `json:"total_amount"`
	Payment        Payment          `json:"payment"`
	Status         SaleStatus       `json:"status"`
	Notes          string           `json:"notes,omitempty"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
	SaleDate       time.Time        `json:"sale_date"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	CancelledAt    *time.Time       `json:"cancelled_at,omitempty"`
}

// LineInput is either a CatalogRef or an AdHocLine.
type LineInput interface {
	lineInput()
}

type CatalogRef struct {
	ItemID string
}

type AdHocLine struct {
	Name      string
	UnitPrice decimal.Decimal
}

func (CatalogRef) lineInput() {}
func (AdHocLine) lineInput()  {}

type StockLine struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

type StockReservation struct {
	SaleID        string
	StoreID       string
	Lines         []StockLine
	AllowNegative bool
}

type StockMovement struct {
	SaleID    string      `json:"sale_id"`
	Kind      string      `json:"kind"`
	StoreID   string      `json:"store_id"`
	Lines     []StockLine `json:"lines"`
	CreatedAt time.Time   `json:"created_at"`
}

type StockOperation string

const (
	StockAdd      StockOperation = "add"
	StockSubtract StockOperation = "subtract"
	StockSet      StockOperation = "set"
)

type SaleLineRequest struct {
	CatalogItemID string           `json:"catalog_item_id,omitempty"`
	Name          string           `json:"name,omitempty"`
	UnitPrice     *decimal.Decimal `json:"unit_price,omitempty"`
	Quantity      int              `json:"quantity"`
	Discount      decimal.Decimal  `json:"discount"`
	DiscountType  DiscountType     `json:"discount_type,omitempty"`
}

type PaymentRequest struct {
	Method string          `json:"method"`
	Amount decimal.Decimal `json:"amount"`
	Status string          `json:"status,omitempty"`
}

type CustomerInput struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type SaleCreateRequest struct {
	StoreID        string            `json:"store_id"`
	Channel        string            `json:"channel"`
	IdempotencyKey string            `json:"idempotency_key"`
	Items          []SaleLineRequest `json:"items"`
	Payment        PaymentRequest    `json:"payment"`
	Customer       *CustomerInput    `json:"customer,omitempty"`
	Notes          string            `json:"notes"`
}

type SaleCreateResponse struct {
	Sale      Sale `json:"sale"`
	Duplicate bool `json:"duplicate"`
}

type SaleCancelRequest struct {
	Reason string `json:"reason"`
}

type SaleFilter struct {
	CompanyID string
	StoreID   string
	Status    SaleStatus
	From      time.Time
	To        time.Time
	Limit     int
}

type SaleListResponse struct {
	Sales []Sale `json:"sales"`
}

type CatalogItemFilter struct {
	StoreID      string
	LowStockOnly bool
}

type StockAdjustRequest struct {
	Operation     StockOperation `json:"operation"`
	Quantity      int            `json:"quantity"`
	AllowNegative bool           `json:"allow_negative"`
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

type Actor struct {
	Username  string
	Role      string
	CompanyID string
	StoreID   string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	CompanyID string
	StoreID   string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	StoreID       string    `json:"store_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	RoleOwner        = "owner"
	RoleCompanyAdmin = "company_admin"
	RoleStoreManager = "store_manager"
	RoleAccountant   = "accountant"
	RoleEmployee     = "employee"
)

const (
	ChannelPOS    = "pos"
	ChannelOnline = "online"
)

const (
	PaymentStatusPaid    = "paid"
	PaymentStatusPending = "pending"
)

const (
	MovementReserve = "reserve"
	MovementRelease = "release"
	MovementRestore = "restore"
)
