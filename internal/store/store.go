package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"retailcore/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
)

type Repository interface {
	GetCompany(ctx context.Context, id string) (*domain.Company, error)
	GetStore(ctx context.Context, id string) (*domain.Store, error)
	IncrementStoreStats(ctx context.Context, storeID string, saleDelta int64, revenueDelta decimal.Decimal) error

	GetCatalogItem(ctx context.Context, id string) (*domain.CatalogItem, error)
	GetCatalogItems(ctx context.Context, ids []string) (map[string]domain.CatalogItem, error)
	ListCatalogItems(ctx context.Context, filter domain.CatalogItemFilter) ([]domain.CatalogItem, error)
	CreateCatalogItem(ctx context.Context, item domain.CatalogItem) (*domain.CatalogItem, error)
	AdjustStock(ctx context.Context, itemID string, op domain.StockOperation, qty int, allowNegative bool) (*domain.CatalogItem, error)
	DeactivateCatalogItem(ctx context.Context, id string) error

	// ReserveStock decrements every line or none. Replaying a sale ID that
	// already holds a reservation is a no-op.
	ReserveStock(ctx context.Context, reservation domain.StockReservation) error
	// ReleaseStock gives back a reservation whose sale was never persisted.
	ReleaseStock(ctx context.Context, saleID string) error

	FindCustomer(ctx context.Context, companyID string, email string, phone string) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)

	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	FindSaleByID(ctx context.Context, id string) (*domain.Sale, error)
	FindSaleByIdempotency(ctx context.Context, companyID string, key string) (*domain.Sale, error)
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error)
	CountSalesForDay(ctx context.Context, companyID string, day time.Time) (int, error)
	// CancelSale flips the status and restores stock in one unit of work.
	CancelSale(ctx context.Context, id string, reason string, at time.Time) (*domain.Sale, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
