package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          string          `json:"id"`
	SKU         string          `json:"sku"`
	Name        string          `json:"name"`
	GenericName string          `json:"generic_name,omitempty"`
	Category    string          `json:"category"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Active      bool            `json:"active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type ProductCreateRequest struct {
	SKU         string          `json:"sku"`
	Name        string          `json:"name"`
	GenericName string          `json:"generic_name"`
	Category    string          `json:"category"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

type ProductUpdateRequest struct {
	Name        *string          `json:"name,omitempty"`
	GenericName *string          `json:"generic_name,omitempty"`
	Category    *string          `json:"category,omitempty"`
	UnitPrice   *decimal.Decimal `json:"unit_price,omitempty"`
	Active      *bool            `json:"active,omitempty"`
}

type Branch struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Active  bool   `json:"active"`
}

// Lot is a received batch of one product at one branch. Expiry is nil for
// products with no dated shelf life; those sort last when stock is consumed.
type Lot struct {
	ID           string     `json:"id"`
	ProductID    string     `json:"product_id"`
	BranchID     string     `json:"branch_id"`
	LotCode      string     `json:"lot_code"`
	QtyReceived  int        `json:"qty_received"`
	QtyRemaining int        `json:"qty_remaining"`
	ExpiryDate   *time.Time `json:"expiry_date,omitempty"`
	ReceivedAt   time.Time  `json:"received_at"`
	Active       bool       `json:"active"`
}

type LotReceiveRequest struct {
	ProductID  string `json:"product_id"`
	BranchID   string `json:"branch_id"`
	LotCode    string `json:"lot_code"`
	Qty        int    `json:"qty"`
	ExpiryDate string `json:"expiry_date,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

type LotAdjustRequest struct {
	DeltaQty int    `json:"delta_qty"`
	Reason   string `json:"reason"`
}

type LotListResponse struct {
	Lots []Lot `json:"lots"`
}

type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	TaxID     string    `json:"tax_id"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type CustomerUpdateRequest struct {
	Name  *string `json:"name,omitempty"`
	Phone *string `json:"phone,omitempty"`
	Email *string `json:"email,omitempty"`
}

type SaleLineRequest struct {
	ProductID string          `json:"product_id"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type SaleRequest struct {
	CustomerName  string            `json:"customer_name,omitempty"`
	CustomerTaxID string            `json:"customer_tax_id,omitempty"`
	BranchID      string            `json:"branch_id,omitempty"`
	PaymentMethod string            `json:"payment_method"`
	AmountPaid    decimal.Decimal   `json:"amount_paid"`
	Discount      decimal.Decimal   `json:"discount"`
	Lines         []SaleLineRequest `json:"lines"`
}

// SaleLine records consumption from a single lot. A requested line that
// spans lots produces one SaleLine per lot touched.
type SaleLine struct {
	ID        string          `json:"id"`
	SaleID    string          `json:"sale_id"`
	ProductID string          `json:"product_id"`
	LotID     string          `json:"lot_id"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type Sale struct {
	ID            string          `json:"id"`
	Reference     string          `json:"reference"`
	CustomerID    string          `json:"customer_id"`
	BranchID      string          `json:"branch_id"`
	CashierName   string          `json:"cashier_name,omitempty"`
	PaymentMethod string          `json:"payment_method"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Discount      decimal.Decimal `json:"discount"`
	Tax           decimal.Decimal `json:"tax"`
	Total         decimal.Decimal `json:"total"`
	Change        decimal.Decimal `json:"change"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	Lines         []SaleLine      `json:"lines"`
}

type SaleResponse struct {
	Sale Sale `json:"sale"`
}

type SaleListResponse struct {
	Sales []Sale `json:"sales"`
}

type ProductStock struct {
	ProductID string `json:"product_id"`
	BranchID  string `json:"branch_id"`
	OnHand    int    `json:"on_hand"`
}

type ExpiringLot struct {
	Lot         Lot    `json:"lot"`
	ProductName string `json:"product_name"`
	DaysLeft    int    `json:"days_left"`
}

type ExpiryReportResponse struct {
	BranchID    string        `json:"branch_id"`
	WithinDays  int           `json:"within_days"`
	GeneratedAt string        `json:"generated_at"`
	Lots        []ExpiringLot `json:"lots"`
}

type ReorderSuggestion struct {
	ProductID      string `json:"product_id"`
	ProductName    string `json:"product_name"`
	CurrentStock   int    `json:"current_stock"`
	SoldLast30Days int    `json:"sold_last_30_days"`
	SuggestedQty   int    `json:"suggested_qty"`
}

type ReorderSuggestionResponse struct {
	BranchID    string              `json:"branch_id"`
	GeneratedAt string              `json:"generated_at"`
	Suggestions []ReorderSuggestion `json:"suggestions"`
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
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	BranchID      string    `json:"branch_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const SaleStatusPaid = "paid"

const (
	PaymentMethodCash     = "cash"
	PaymentMethodCard     = "card"
	PaymentMethodTransfer = "transfer"
)
