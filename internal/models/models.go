package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountID identifies the tenant that owns products and sales.
type AccountID string

// Product represents a catalog entry with its stock counters
type Product struct {
	ID                string          `db:"id" json:"id"`
	AccountID         AccountID       `db:"account_id" json:"account_id"`
	Name              string          `db:"name" json:"name"`
	Description       string          `db:"description" json:"description,omitempty"`
	Category          string          `db:"category" json:"category,omitempty"`
	Price             decimal.Decimal `db:"price" json:"price"`
	UnitValue         decimal.Decimal `db:"unit_value" json:"unit_value"`
	Quantity          int             `db:"quantity" json:"quantity"`
	DefectiveQuantity int             `db:"defective_quantity" json:"defective_quantity"`
	Available         bool            `db:"available" json:"available"`
	EntryDate         time.Time       `db:"entry_date" json:"entry_date"`
	Version           int64           `db:"version" json:"version"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// Category groups products of an account
type Category struct {
	ID        string    `db:"id" json:"id"`
	AccountID AccountID `db:"account_id" json:"account_id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// CartLine is a pending sale line. ProductID is empty for manual lines.
type CartLine struct {
	ID        string          `db:"id" json:"id"`
	AccountID AccountID       `db:"account_id" json:"-"`
	ProductID string          `db:"product_id" json:"product_id,omitempty"`
	Name      string          `db:"name" json:"name"`
	Price     decimal.Decimal `db:"price" json:"price"`
	AddedAt   time.Time       `db:"added_at" json:"added_at"`
}

// ManualLineName is the name given to lines typed in by price only.
const ManualLineName = "otros"

// FinalSale is an immutable committed sale
type FinalSale struct {
	ID               string          `json:"id"`
	AccountID        AccountID       `json:"account_id"`
	Lines            []CartLine      `json:"lines"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	PaymentMethod    PaymentMethod   `json:"payment_method"`
	SaleDateTime     time.Time       `json:"sale_date_time"`
	TicketNumber     string          `json:"ticket_number,omitempty"`
	InstallmentCount string          `json:"installment_count,omitempty"`
	IdempotencyKey   string          `json:"idempotency_key,omitempty"`
}

// SumLines returns the sum of line prices.
func SumLines(lines []CartLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Price)
	}
	return total
}

// PaymentMethod is the tender used for a sale
type PaymentMethod string

// Payment methods
const (
	PaymentCash   PaymentMethod = "efectivo"
	PaymentDebit  PaymentMethod = "debito"
	PaymentCredit PaymentMethod = "credito"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentDebit, PaymentCredit:
		return true
	}
	return false
}

// InstallmentOptions lists the installment counts accepted for credit sales.
var InstallmentOptions = []string{"3", "6", "12"}

// ValidInstallments reports whether n is one of InstallmentOptions.
func ValidInstallments(n string) bool {
	for _, opt := range InstallmentOptions {
		if opt == n {
			return true
		}
	}
	return false
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}

// NewID returns a fresh opaque key.
func NewID() string {
	return uuid.New().String()
}
