package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"pos-service/internal/models"
	"pos-service/internal/util"
)

// Publisher writes a keyed event to the sale events topic. *Producer implements it.
type Publisher interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing domain events. Events of one account share
// a message key so they stay ordered within a partition.
type EventPublisher struct {
	producer Publisher
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer Publisher) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishSaleCommitted publishes SaleCommitted event
func (ep *EventPublisher) PublishSaleCommitted(ctx context.Context, event *models.SaleCommittedEvent) error {
	return ep.producer.PublishEvent(ctx, models.AccountPath(event.AccountID), event)
}

// PublishStockAdjusted publishes StockAdjusted event
func (ep *EventPublisher) PublishStockAdjusted(ctx context.Context, event *models.StockAdjustedEvent) error {
	return ep.producer.PublishEvent(ctx, models.AccountPath(event.AccountID), event)
}

// PublishLowStock publishes LowStock event
func (ep *EventPublisher) PublishLowStock(ctx context.Context, event *models.LowStockEvent) error {
	return ep.producer.PublishEvent(ctx, models.AccountPath(event.AccountID), event)
}

// PublishStockCompensationRequested publishes StockCompensationRequested event
func (ep *EventPublisher) PublishStockCompensationRequested(ctx context.Context, event *models.StockCompensationRequestedEvent) error {
	return ep.producer.PublishEvent(ctx, models.AccountPath(event.AccountID), event)
}

// PublishStockCompensationCompleted publishes StockCompensationCompleted event
func (ep *EventPublisher) PublishStockCompensationCompleted(ctx context.Context, event *models.StockCompensationCompletedEvent) error {
	return ep.producer.PublishEvent(ctx, models.AccountPath(event.AccountID), event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onCompensationRequested func(context.Context, *models.StockCompensationRequestedEvent) error
	logger                  *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.Named("event-handler")}
}

// OnStockCompensationRequested registers a handler for StockCompensationRequested events
func (eh *EventHandler) OnStockCompensationRequested(handler func(context.Context, *models.StockCompensationRequestedEvent) error) {
	eh.onCompensationRequested = handler
}

// HandleMessage routes messages to appropriate handlers. Event types without a
// registered handler are skipped.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID),
		zap.ByteString("key", msg.Key))

	switch baseEvent.EventType {
	case models.EventTypeStockCompensationRequested:
		if eh.onCompensationRequested != nil {
			var event models.StockCompensationRequestedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal StockCompensationRequested event: %w", err)
			}
			return eh.onCompensationRequested(ctx, &event)
		}
	}

	return nil
}
