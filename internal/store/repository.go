package store

import (
	"context"
	"errors"
	"time"

	"pos-service/internal/models"
)

var (
	// ErrNotFound is returned when a document does not exist for the account
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict is returned when a compare-and-swap update lost a race
	ErrVersionConflict = errors.New("version conflict")
	// ErrDuplicate is returned when a unique key (product name, idempotency key) already exists
	ErrDuplicate = errors.New("duplicate")
)

// ProductFilter narrows product listings. NameContains is case-insensitive.
type ProductFilter struct {
	NameContains string
	Category     string
}

// SaleFilter narrows sale listings to [From, To) and an optional payment method.
// Zero times are unbounded.
type SaleFilter struct {
	From          time.Time
	To            time.Time
	PaymentMethod models.PaymentMethod
}

// Match reports whether sale passes the filter.
func (f SaleFilter) Match(sale *models.FinalSale) bool {
	if !f.From.IsZero() && sale.SaleDateTime.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !sale.SaleDateTime.Before(f.To) {
		return false
	}
	if f.PaymentMethod != "" && sale.PaymentMethod != f.PaymentMethod {
		return false
	}
	return true
}

// Repository is the per-account document store behind the sale workflow.
type Repository interface {
	CreateProduct(ctx context.Context, p *models.Product) error
	GetProduct(ctx context.Context, account models.AccountID, id string) (*models.Product, error)
	FindProductByName(ctx context.Context, account models.AccountID, name string) (*models.Product, error)
	ListProducts(ctx context.Context, account models.AccountID, f ProductFilter) ([]models.Product, error)
	// UpdateProduct writes all mutable fields if p.Version matches and bumps the version.
	UpdateProduct(ctx context.Context, p *models.Product) error
	// AdjustStock adds delta to quantity if the stored version equals expectedVersion.
	AdjustStock(ctx context.Context, account models.AccountID, productID string, delta int, expectedVersion int64) (*models.Product, error)
	DeleteProduct(ctx context.Context, account models.AccountID, id string) error

	CreateCategory(ctx context.Context, c *models.Category) error
	ListCategories(ctx context.Context, account models.AccountID) ([]models.Category, error)
	DeleteCategory(ctx context.Context, account models.AccountID, id string) error

	AddCartLine(ctx context.Context, line *models.CartLine) error
	ListCartLines(ctx context.Context, account models.AccountID) ([]models.CartLine, error)
	// DeleteCartLine is a no-op when the line does not exist.
	DeleteCartLine(ctx context.Context, account models.AccountID, lineID string) error
	ClearCart(ctx context.Context, account models.AccountID) error

	CreateSale(ctx context.Context, sale *models.FinalSale) error
	GetSale(ctx context.Context, account models.AccountID, id string) (*models.FinalSale, error)
	// GetSaleByIdempotencyKey returns nil, nil when no sale carries the key.
	GetSaleByIdempotencyKey(ctx context.Context, account models.AccountID, key string) (*models.FinalSale, error)
	ListSales(ctx context.Context, account models.AccountID, f SaleFilter) ([]models.FinalSale, error)

	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// Transactor is implemented by repositories that can run a unit of work atomically.
// fn receives a repository bound to the transaction; returning an error rolls back.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error
}
