package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pos-service/internal/models"
	"pos-service/internal/store"
	"pos-service/internal/util"
)

// ProductInput is the payload for creating a product
type ProductInput struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Price       decimal.Decimal `json:"price"`
	UnitValue   decimal.Decimal `json:"unit_value"`
	Quantity    int             `json:"quantity"`
	Available   *bool           `json:"available"`
	EntryDate   *time.Time      `json:"entry_date"`
}

// ProductPatch updates only the fields that are set
type ProductPatch struct {
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	Category    *string          `json:"category"`
	Price       *decimal.Decimal `json:"price"`
	UnitValue   *decimal.Decimal `json:"unit_value"`
	Quantity    *int             `json:"quantity"`
	Available   *bool            `json:"available"`
}

// InventorySummary totals a filtered product list
type InventorySummary struct {
	Products          []models.Product `json:"products"`
	TotalQuantity     int              `json:"total_quantity"`
	TotalDefective    int              `json:"total_defective"`
	UniqueNames       int              `json:"unique_names"`
	InventoryCost     decimal.Decimal  `json:"inventory_cost"`
	LowStockThreshold int              `json:"low_stock_threshold"`
	LowStock          []string         `json:"low_stock"`
}

// CatalogService manages products and categories of an account.
type CatalogService struct {
	repo              store.Repository
	stock             StockCache
	calls             callPolicy
	maxRetries        int
	lowStockThreshold int
	logger            *zap.Logger
}

// NewCatalogService creates a new catalog service
func NewCatalogService(deps Dependencies, cfg CommitConfig, logger *zap.Logger) *CatalogService {
	if logger == nil {
		logger = util.Named("catalog")
	}
	retries := cfg.MaxRetries
	if retries < 1 {
		retries = 1
	}
	return &CatalogService{
		repo:              deps.Repo,
		stock:             deps.Stock,
		calls:             newCallPolicy(cfg.StoreTimeout),
		maxRetries:        retries,
		lowStockThreshold: cfg.LowStockThreshold,
		logger:            logger,
	}
}

func validateProduct(name string, price, unitValue decimal.Decimal, quantity int) error {
	fields := make(map[string]string)
	if strings.TrimSpace(name) == "" {
		fields["name"] = "required"
	}
	if price.IsNegative() {
		fields["price"] = "must not be negative"
	}
	if unitValue.IsNegative() {
		fields["unit_value"] = "must not be negative"
	}
	if quantity < 0 {
		fields["quantity"] = "must not be negative"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// CreateProduct adds a product. Names are unique per account.
func (s *CatalogService) CreateProduct(ctx context.Context, account models.AccountID, in ProductInput) (*models.Product, error) {
	if err := validateProduct(in.Name, in.Price, in.UnitValue, in.Quantity); err != nil {
		return nil, err
	}

	p := &models.Product{
		ID:          models.NewID(),
		AccountID:   account,
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Category:    in.Category,
		Price:       in.Price,
		UnitValue:   in.UnitValue,
		Quantity:    in.Quantity,
		Available:   true,
		EntryDate:   time.Now().UTC(),
	}
	if in.Available != nil {
		p.Available = *in.Available
	}
	if in.EntryDate != nil {
		p.EntryDate = in.EntryDate.UTC()
	}

	err := s.calls.write(ctx, "create product", func(ctx context.Context) error {
		return s.repo.CreateProduct(ctx, p)
	})
	if errors.Is(err, store.ErrDuplicate) {
		return nil, newValidationError("name", "a product with this name already exists")
	}
	if err != nil {
		return nil, err
	}

	refreshStock(ctx, s.stock, s.logger, p)
	s.logger.Info("product created",
		util.AccountField(account),
		zap.String("product", models.ProductPath(account, p.ID)),
		zap.String("name", p.Name))
	return p, nil
}

// GetProduct returns a product by id
func (s *CatalogService) GetProduct(ctx context.Context, account models.AccountID, id string) (*models.Product, error) {
	var p *models.Product
	err := s.calls.read(ctx, "get product", func(ctx context.Context) error {
		var err error
		p, err = s.repo.GetProduct(ctx, account, id)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, &NotFoundError{Kind: "product", Key: id}
	}
	return p, err
}

// FindByName returns the product with exactly this name
func (s *CatalogService) FindByName(ctx context.Context, account models.AccountID, name string) (*models.Product, error) {
	var p *models.Product
	err := s.calls.read(ctx, "find product", func(ctx context.Context) error {
		var err error
		p, err = s.repo.FindProductByName(ctx, account, name)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, &NotFoundError{Kind: "product", Key: name}
	}
	return p, err
}

// ListProducts lists products, optionally filtered
func (s *CatalogService) ListProducts(ctx context.Context, account models.AccountID, f store.ProductFilter) ([]models.Product, error) {
	var products []models.Product
	err := s.calls.read(ctx, "list products", func(ctx context.Context) error {
		var err error
		products, err = s.repo.ListProducts(ctx, account, f)
		return err
	})
	return products, err
}

// Stock returns a product's quantity from the mirror, falling back to the store.
func (s *CatalogService) Stock(ctx context.Context, account models.AccountID, id string) (int, error) {
	if s.stock != nil {
		qty, ok, err := s.stock.GetStock(ctx, account, id)
		if err == nil && ok {
			return qty, nil
		}
		if err != nil {
			s.logger.Warn("stock cache read failed, falling back to store",
				zap.String("product", models.ProductPath(account, id)),
				zap.Error(err))
		}
	}

	p, err := s.GetProduct(ctx, account, id)
	if err != nil {
		return 0, err
	}
	refreshStock(ctx, s.stock, s.logger, p)
	return p.Quantity, nil
}

// UpdateProduct applies a partial update, retrying on concurrent writes.
func (s *CatalogService) UpdateProduct(ctx context.Context, account models.AccountID, id string, patch ProductPatch) (*models.Product, error) {
	return s.mutate(ctx, account, id, "update product", func(p *models.Product) error {
		if patch.Name != nil {
			p.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.Description != nil {
			p.Description = *patch.Description
		}
		if patch.Category != nil {
			p.Category = *patch.Category
		}
		if patch.Price != nil {
			p.Price = *patch.Price
		}
		if patch.UnitValue != nil {
			p.UnitValue = *patch.UnitValue
		}
		if patch.Quantity != nil {
			p.Quantity = *patch.Quantity
		}
		if patch.Available != nil {
			p.Available = *patch.Available
		}
		return validateProduct(p.Name, p.Price, p.UnitValue, p.Quantity)
	})
}

// Restock adds units to a product's quantity.
func (s *CatalogService) Restock(ctx context.Context, account models.AccountID, id string, units int) (*models.Product, error) {
	if units < 1 {
		return nil, newValidationError("units", "must be at least 1")
	}
	return s.mutate(ctx, account, id, "restock product", func(p *models.Product) error {
		p.Quantity += units
		return nil
	})
}

// ReportDefective moves units from quantity to defective quantity.
func (s *CatalogService) ReportDefective(ctx context.Context, account models.AccountID, id string, units int) (*models.Product, error) {
	if units < 1 {
		return nil, newValidationError("units", "must be at least 1")
	}
	return s.mutate(ctx, account, id, "report defective", func(p *models.Product) error {
		if units > p.Quantity {
			return &InsufficientStockError{ProductID: p.ID, Name: p.Name, Available: p.Quantity, Requested: units}
		}
		p.Quantity -= units
		p.DefectiveQuantity += units
		return nil
	})
}

// mutate reads, changes and writes a product with compare-and-swap on its version.
func (s *CatalogService) mutate(ctx context.Context, account models.AccountID, id, op string, change func(p *models.Product) error) (*models.Product, error) {
	var err error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		var p *models.Product
		p, err = s.GetProduct(ctx, account, id)
		if err != nil {
			return nil, err
		}
		if err := change(p); err != nil {
			return nil, err
		}

		err = s.calls.write(ctx, op, func(ctx context.Context) error {
			return s.repo.UpdateProduct(ctx, p)
		})
		switch {
		case err == nil:
			refreshStock(ctx, s.stock, s.logger, p)
			s.logger.Info(op,
				util.AccountField(account),
				zap.String("product", models.ProductPath(account, p.ID)),
				zap.Int("quantity", p.Quantity))
			return p, nil
		case errors.Is(err, store.ErrDuplicate):
			return nil, newValidationError("name", "a product with this name already exists")
		case errors.Is(err, store.ErrNotFound):
			return nil, &NotFoundError{Kind: "product", Key: id}
		case !errors.Is(err, store.ErrVersionConflict):
			return nil, err
		}
	}
	return nil, err
}

// DeleteProduct removes a product
func (s *CatalogService) DeleteProduct(ctx context.Context, account models.AccountID, id string) error {
	err := s.calls.write(ctx, "delete product", func(ctx context.Context) error {
		return s.repo.DeleteProduct(ctx, account, id)
	})
	if errors.Is(err, store.ErrNotFound) {
		return &NotFoundError{Kind: "product", Key: id}
	}
	if err != nil {
		return err
	}
	if inv, ok := s.stock.(stockInvalidator); ok {
		if err := inv.InvalidateStock(ctx, account, id); err != nil {
			s.logger.Debug("failed to drop mirrored stock", zap.String("product", id), zap.Error(err))
		}
	}
	return nil
}

type stockInvalidator interface {
	InvalidateStock(ctx context.Context, account models.AccountID, productID string) error
}

// Summary totals stock over the filtered products.
func (s *CatalogService) Summary(ctx context.Context, account models.AccountID, f store.ProductFilter) (*InventorySummary, error) {
	products, err := s.ListProducts(ctx, account, f)
	if err != nil {
		return nil, err
	}

	sum := &InventorySummary{
		Products:          products,
		InventoryCost:     decimal.Zero,
		LowStockThreshold: s.lowStockThreshold,
		LowStock:          []string{},
	}
	names := make(map[string]struct{}, len(products))
	for _, p := range products {
		sum.TotalQuantity += p.Quantity
		sum.TotalDefective += p.DefectiveQuantity
		sum.InventoryCost = sum.InventoryCost.Add(p.UnitValue.Mul(decimal.NewFromInt(int64(p.Quantity))))
		names[p.Name] = struct{}{}
		if p.Quantity <= s.lowStockThreshold {
			sum.LowStock = append(sum.LowStock, p.Name)
		}
	}
	sum.UniqueNames = len(names)
	return sum, nil
}

// AddCategory creates a category
func (s *CatalogService) AddCategory(ctx context.Context, account models.AccountID, name string) (*models.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, newValidationError("name", "required")
	}
	c := &models.Category{ID: models.NewID(), AccountID: account, Name: name}
	err := s.calls.write(ctx, "create category", func(ctx context.Context) error {
		return s.repo.CreateCategory(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListCategories lists categories of the account
func (s *CatalogService) ListCategories(ctx context.Context, account models.AccountID) ([]models.Category, error) {
	var out []models.Category
	err := s.calls.read(ctx, "list categories", func(ctx context.Context) error {
		var err error
		out, err = s.repo.ListCategories(ctx, account)
		return err
	})
	return out, err
}

// DeleteCategory removes a category
func (s *CatalogService) DeleteCategory(ctx context.Context, account models.AccountID, id string) error {
	err := s.calls.write(ctx, "delete category", func(ctx context.Context) error {
		return s.repo.DeleteCategory(ctx, account, id)
	})
	if errors.Is(err, store.ErrNotFound) {
		return &NotFoundError{Kind: "category", Key: id}
	}
	return err
}
