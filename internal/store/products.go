package store

import (
	"context"
	"fmt"

	"pos-service/internal/models"
)

const productColumns = `id, account_id, name, description, category, price, unit_value, quantity,
	defective_quantity, available, entry_date, version, created_at, updated_at`

// CreateProduct inserts a product; the name must be unique within the account
func (s *Store) CreateProduct(ctx context.Context, p *models.Product) error {
	if p.ID == "" {
		p.ID = models.NewID()
	}

	query := `
		INSERT INTO products (id, account_id, name, description, category, price, unit_value,
			quantity, defective_quantity, available, entry_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING version, created_at, updated_at`

	err := s.q.GetContext(ctx, p, query,
		p.ID, p.AccountID, p.Name, p.Description, p.Category, p.Price, p.UnitValue,
		p.Quantity, p.DefectiveQuantity, p.Available, p.EntryDate)
	if isUniqueViolation(err) {
		return fmt.Errorf("product %q: %w", p.Name, ErrDuplicate)
	}
	return err
}

// GetProduct retrieves a product by ID
func (s *Store) GetProduct(ctx context.Context, account models.AccountID, id string) (*models.Product, error) {
	var product models.Product
	err := s.q.GetContext(ctx, &product,
		"SELECT "+productColumns+" FROM products WHERE account_id = $1 AND id = $2", account, id)
	if err != nil {
		return nil, notFound(err)
	}
	return &product, nil
}

// FindProductByName retrieves a product by exact, case-sensitive name
func (s *Store) FindProductByName(ctx context.Context, account models.AccountID, name string) (*models.Product, error) {
	var product models.Product
	err := s.q.GetContext(ctx, &product,
		"SELECT "+productColumns+" FROM products WHERE account_id = $1 AND name = $2", account, name)
	if err != nil {
		return nil, notFound(err)
	}
	return &product, nil
}

// ListProducts retrieves the products of an account ordered by name
func (s *Store) ListProducts(ctx context.Context, account models.AccountID, f ProductFilter) ([]models.Product, error) {
	query := "SELECT " + productColumns + ` FROM products
		WHERE account_id = $1
		  AND ($2 = '' OR name ILIKE '%' || $2 || '%')
		  AND ($3 = '' OR category = $3)
		ORDER BY name`

	products := []models.Product{}
	err := s.q.SelectContext(ctx, &products, query, account, f.NameContains, f.Category)
	return products, err
}

// UpdateProduct writes the mutable fields of p guarded by its version
func (s *Store) UpdateProduct(ctx context.Context, p *models.Product) error {
	query := `
		UPDATE products SET name = $1, description = $2, category = $3, price = $4, unit_value = $5,
			quantity = $6, defective_quantity = $7, available = $8, entry_date = $9,
			version = version + 1, updated_at = NOW()
		WHERE account_id = $10 AND id = $11 AND version = $12
		RETURNING version, updated_at`

	err := s.q.GetContext(ctx, p, query,
		p.Name, p.Description, p.Category, p.Price, p.UnitValue,
		p.Quantity, p.DefectiveQuantity, p.Available, p.EntryDate,
		p.AccountID, p.ID, p.Version)
	if isUniqueViolation(err) {
		return fmt.Errorf("product %q: %w", p.Name, ErrDuplicate)
	}
	if err != nil {
		return s.conflictOrMissing(ctx, p.AccountID, p.ID, err)
	}
	return nil
}

// AdjustStock applies a quantity delta with compare-and-swap on version
func (s *Store) AdjustStock(ctx context.Context, account models.AccountID, productID string, delta int, expectedVersion int64) (*models.Product, error) {
	query := `
		UPDATE products SET quantity = quantity + $1, version = version + 1, updated_at = NOW()
		WHERE account_id = $2 AND id = $3 AND version = $4
		RETURNING ` + productColumns

	var product models.Product
	if err := s.q.GetContext(ctx, &product, query, delta, account, productID, expectedVersion); err != nil {
		return nil, s.conflictOrMissing(ctx, account, productID, err)
	}
	return &product, nil
}

// conflictOrMissing tells apart a lost CAS race from a deleted product
func (s *Store) conflictOrMissing(ctx context.Context, account models.AccountID, id string, err error) error {
	if notFound(err) != ErrNotFound {
		return err
	}
	if _, getErr := s.GetProduct(ctx, account, id); getErr != nil {
		return getErr
	}
	return ErrVersionConflict
}

// DeleteProduct removes a product
func (s *Store) DeleteProduct(ctx context.Context, account models.AccountID, id string) error {
	res, err := s.q.ExecContext(ctx, "DELETE FROM products WHERE account_id = $1 AND id = $2", account, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateCategory inserts a category
func (s *Store) CreateCategory(ctx context.Context, c *models.Category) error {
	if c.ID == "" {
		c.ID = models.NewID()
	}
	return s.q.GetContext(ctx, &c.CreatedAt,
		"INSERT INTO categories (id, account_id, name) VALUES ($1, $2, $3) RETURNING created_at",
		c.ID, c.AccountID, c.Name)
}

// ListCategories retrieves the categories of an account
func (s *Store) ListCategories(ctx context.Context, account models.AccountID) ([]models.Category, error) {
	categories := []models.Category{}
	err := s.q.SelectContext(ctx, &categories,
		"SELECT id, account_id, name, created_at FROM categories WHERE account_id = $1 ORDER BY name", account)
	return categories, err
}

// DeleteCategory removes a category
func (s *Store) DeleteCategory(ctx context.Context, account models.AccountID, id string) error {
	res, err := s.q.ExecContext(ctx, "DELETE FROM categories WHERE account_id = $1 AND id = $2", account, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
