package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeSaleCommitted              = "SALE_COMMITTED"
	EventTypeStockAdjusted              = "STOCK_ADJUSTED"
	EventTypeLowStock                   = "LOW_STOCK"
	EventTypeStockCompensationRequested = "STOCK_COMPENSATION_REQUESTED"
	EventTypeStockCompensationCompleted = "STOCK_COMPENSATION_COMPLETED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBaseEvent stamps a new event of the given type.
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   NewID(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// Type returns the event type; embedding structs inherit it.
func (e BaseEvent) Type() string { return e.EventType }

// SaleCommittedEvent published after a sale and its stock updates are persisted
type SaleCommittedEvent struct {
	BaseEvent
	AccountID     AccountID       `json:"account_id"`
	SaleID        string          `json:"sale_id"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Lines         []SaleLineData  `json:"lines"`
	NotFound      []string        `json:"not_found,omitempty"`
}

// StockAdjustedEvent published for each product whose quantity changed in a commit
type StockAdjustedEvent struct {
	BaseEvent
	AccountID AccountID `json:"account_id"`
	ProductID string    `json:"product_id"`
	Delta     int       `json:"delta"`
	Quantity  int       `json:"quantity"`
}

// LowStockEvent published when a commit leaves a product at or below the threshold
type LowStockEvent struct {
	BaseEvent
	AccountID AccountID `json:"account_id"`
	ProductID string    `json:"product_id"`
	Name      string    `json:"name"`
	Quantity  int       `json:"quantity"`
}

// StockCompensationRequestedEvent carries decrements that could not be undone inline
type StockCompensationRequestedEvent struct {
	BaseEvent
	AccountID   AccountID             `json:"account_id"`
	SaleID      string                `json:"sale_id"`
	Adjustments []StockAdjustmentData `json:"adjustments"`
	Reason      string                `json:"reason"`
}

// StockCompensationCompletedEvent published by the compensation worker
type StockCompensationCompletedEvent struct {
	BaseEvent
	AccountID AccountID `json:"account_id"`
	SaleID    string    `json:"sale_id"`
}

// SaleLineData represents a line in events
type SaleLineData struct {
	ProductID string          `json:"product_id,omitempty"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
}

// StockAdjustmentData is a signed quantity change for one product
type StockAdjustmentData struct {
	ProductID string `json:"product_id"`
	Units     int    `json:"units"`
}
