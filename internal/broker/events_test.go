package broker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pos-service/internal/models"
)

type recordingPublisher struct {
	keys   []string
	events []interface{}
}

func (r *recordingPublisher) PublishEvent(_ context.Context, key string, event interface{}) error {
	r.keys = append(r.keys, key)
	r.events = append(r.events, event)
	return nil
}

func TestPublisherKeysByAccount(t *testing.T) {
	rec := &recordingPublisher{}
	ep := NewEventPublisher(rec)

	err := ep.PublishSaleCommitted(context.Background(), &models.SaleCommittedEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeSaleCommitted),
		AccountID: "acct-1",
		SaleID:    "s1",
	})
	require.NoError(t, err)
	err = ep.PublishLowStock(context.Background(), &models.LowStockEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeLowStock),
		AccountID: "acct-1",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"account/acct-1", "account/acct-1"}, rec.keys)
}

func TestHandlerRoutesCompensation(t *testing.T) {
	h := NewEventHandler()
	var got *models.StockCompensationRequestedEvent
	h.OnStockCompensationRequested(func(_ context.Context, e *models.StockCompensationRequestedEvent) error {
		got = e
		return nil
	})

	event := models.StockCompensationRequestedEvent{
		BaseEvent:   models.NewBaseEvent(models.EventTypeStockCompensationRequested),
		AccountID:   "acct-1",
		SaleID:      "s1",
		Adjustments: []models.StockAdjustmentData{{ProductID: "p1", Units: 2}},
	}
	payload, err := json.Marshal(event)
	require.NoError(t, err)

	require.NoError(t, h.HandleMessage(context.Background(), kafka.Message{Value: payload}))
	require.NotNil(t, got)
	assert.Equal(t, event.EventID, got.EventID)
	assert.Equal(t, 2, got.Adjustments[0].Units)
}

func TestHandlerSkipsUnknownAndRejectsGarbage(t *testing.T) {
	h := NewEventHandler()

	payload, _ := json.Marshal(models.NewBaseEvent(models.EventTypeSaleCommitted))
	assert.NoError(t, h.HandleMessage(context.Background(), kafka.Message{Value: payload}))

	assert.Error(t, h.HandleMessage(context.Background(), kafka.Message{Value: []byte("{")}))
}
