package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"pos-service/internal/models"

	"github.com/shopspring/decimal"
)

// AddCartLine stores a pending line
func (s *Store) AddCartLine(ctx context.Context, line *models.CartLine) error {
	if line.ID == "" {
		line.ID = models.NewID()
	}
	_, err := s.q.ExecContext(ctx,
		"INSERT INTO cart_lines (id, account_id, product_id, name, price, added_at) VALUES ($1, $2, $3, $4, $5, $6)",
		line.ID, line.AccountID, line.ProductID, line.Name, line.Price, line.AddedAt)
	return err
}

// ListCartLines retrieves pending lines in insertion order
func (s *Store) ListCartLines(ctx context.Context, account models.AccountID) ([]models.CartLine, error) {
	lines := []models.CartLine{}
	err := s.q.SelectContext(ctx, &lines,
		"SELECT id, account_id, product_id, name, price, added_at FROM cart_lines WHERE account_id = $1 ORDER BY added_at, id",
		account)
	return lines, err
}

// DeleteCartLine removes a pending line if present
func (s *Store) DeleteCartLine(ctx context.Context, account models.AccountID, lineID string) error {
	_, err := s.q.ExecContext(ctx, "DELETE FROM cart_lines WHERE account_id = $1 AND id = $2", account, lineID)
	return err
}

// ClearCart removes every pending line of the account
func (s *Store) ClearCart(ctx context.Context, account models.AccountID) error {
	_, err := s.q.ExecContext(ctx, "DELETE FROM cart_lines WHERE account_id = $1", account)
	return err
}

// saleRow maps a final sale; lines are stored as JSONB
type saleRow struct {
	ID               string               `db:"id"`
	AccountID        models.AccountID     `db:"account_id"`
	Lines            []byte               `db:"lines"`
	TotalAmount      decimal.Decimal      `db:"total_amount"`
	PaymentMethod    models.PaymentMethod `db:"payment_method"`
	SaleDateTime     time.Time            `db:"sale_date_time"`
	TicketNumber     string               `db:"ticket_number"`
	InstallmentCount string               `db:"installment_count"`
	IdempotencyKey   sql.NullString       `db:"idempotency_key"`
}

const saleColumns = `id, account_id, lines, total_amount, payment_method, sale_date_time,
	ticket_number, installment_count, idempotency_key`

func (r *saleRow) toModel() (*models.FinalSale, error) {
	sale := &models.FinalSale{
		ID:               r.ID,
		AccountID:        r.AccountID,
		TotalAmount:      r.TotalAmount,
		PaymentMethod:    r.PaymentMethod,
		SaleDateTime:     r.SaleDateTime.UTC(),
		TicketNumber:     r.TicketNumber,
		InstallmentCount: r.InstallmentCount,
		IdempotencyKey:   r.IdempotencyKey.String,
	}
	if err := json.Unmarshal(r.Lines, &sale.Lines); err != nil {
		return nil, fmt.Errorf("failed to decode lines of sale %s: %w", r.ID, err)
	}
	return sale, nil
}

// CreateSale inserts a final sale
func (s *Store) CreateSale(ctx context.Context, sale *models.FinalSale) error {
	if sale.ID == "" {
		sale.ID = models.NewID()
	}
	lines, err := json.Marshal(sale.Lines)
	if err != nil {
		return fmt.Errorf("failed to encode sale lines: %w", err)
	}

	key := sql.NullString{String: sale.IdempotencyKey, Valid: sale.IdempotencyKey != ""}

	query := `
		INSERT INTO final_sales (id, account_id, lines, total_amount, payment_method, sale_date_time,
			ticket_number, installment_count, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = s.q.ExecContext(ctx, query,
		sale.ID, sale.AccountID, lines, sale.TotalAmount, sale.PaymentMethod, sale.SaleDateTime,
		sale.TicketNumber, sale.InstallmentCount, key)
	if isUniqueViolation(err) {
		return fmt.Errorf("sale with idempotency key %q: %w", sale.IdempotencyKey, ErrDuplicate)
	}
	return err
}

// GetSale retrieves a final sale by ID
func (s *Store) GetSale(ctx context.Context, account models.AccountID, id string) (*models.FinalSale, error) {
	var row saleRow
	err := s.q.GetContext(ctx, &row,
		"SELECT "+saleColumns+" FROM final_sales WHERE account_id = $1 AND id = $2", account, id)
	if err != nil {
		return nil, notFound(err)
	}
	return row.toModel()
}

// GetSaleByIdempotencyKey retrieves a sale by idempotency key
func (s *Store) GetSaleByIdempotencyKey(ctx context.Context, account models.AccountID, key string) (*models.FinalSale, error) {
	var row saleRow
	err := s.q.GetContext(ctx, &row,
		"SELECT "+saleColumns+" FROM final_sales WHERE account_id = $1 AND idempotency_key = $2", account, key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

// ListSales retrieves the sales of an account in chronological order
func (s *Store) ListSales(ctx context.Context, account models.AccountID, f SaleFilter) ([]models.FinalSale, error) {
	query := "SELECT " + saleColumns + ` FROM final_sales
		WHERE account_id = $1
		  AND ($2::timestamptz IS NULL OR sale_date_time >= $2)
		  AND ($3::timestamptz IS NULL OR sale_date_time < $3)
		  AND ($4 = '' OR payment_method = $4)
		ORDER BY sale_date_time`

	var rows []saleRow
	if err := s.q.SelectContext(ctx, &rows, query, account, nullTime(f.From), nullTime(f.To), string(f.PaymentMethod)); err != nil {
		return nil, err
	}

	sales := make([]models.FinalSale, 0, len(rows))
	for i := range rows {
		sale, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
	}
	return sales, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
