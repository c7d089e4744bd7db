package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fydhel24/proyecto-ventas-sub001/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidSale       = errors.New("invalid sale")
)

// InsufficientStockError names the product that could not be covered by the
// available lots. It unwraps to ErrInsufficientStock so callers can keep
// using errors.Is.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// SaleInput is what the service hands the store after validation and
// defaulting. The store resolves the customer, walks lots oldest-expiry
// first and persists everything in one transaction.
type SaleInput struct {
	Reference     string
	CustomerName  string
	CustomerTaxID string
	BranchID      string
	CashierName   string
	PaymentMethod string
	AmountPaid    decimal.Decimal
	Discount      decimal.Decimal
	TaxRate       decimal.Decimal
	Lines         []domain.SaleLineRequest
	CreatedAt     time.Time
}

type Repository interface {
	ListProducts(ctx context.Context, query string, limit int) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	GetBranchByID(ctx context.Context, id string) (*domain.Branch, error)
	ListBranches(ctx context.Context) ([]domain.Branch, error)

	CreateLot(ctx context.Context, lot domain.Lot) (*domain.Lot, error)
	ListLots(ctx context.Context, branchID string, productID string, includeExpired bool, limit int) ([]domain.Lot, error)
	AdjustLotQty(ctx context.Context, lotID string, deltaQty int) (*domain.Lot, error)
	ListExpiringLots(ctx context.Context, branchID string, withinDays int) ([]domain.ExpiringLot, error)
	GetStock(ctx context.Context, branchID string, productID string) (int, error)

	GetCustomerByID(ctx context.Context, id string) (*domain.Customer, error)
	GetCustomerByTaxID(ctx context.Context, taxID string) (*domain.Customer, error)
	ListCustomers(ctx context.Context, query string, limit int) ([]domain.Customer, error)
	UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)

	// CreateSale runs the whole FEFO consumption atomically: customer
	// find-or-create, sale header, per-lot lines with lot decrements.
	// Any failure leaves no trace.
	CreateSale(ctx context.Context, input SaleInput) (*domain.Sale, error)
	GetSaleByID(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.Sale, error)

	GetSalesQtyByProduct(ctx context.Context, branchID string, from time.Time, to time.Time) (map[string]int, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
