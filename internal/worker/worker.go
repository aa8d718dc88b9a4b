package worker

import (
	"context"

	"go.uber.org/zap"

	"pos-service/internal/broker"
	"pos-service/internal/service"
	"pos-service/internal/util"
)

// CompensationWorker consumes stock compensation requests from the sale events topic
type CompensationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewCompensationWorker creates a new compensation worker
func NewCompensationWorker(consumer *broker.Consumer, compensator *service.Compensator) *CompensationWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnStockCompensationRequested(compensator.HandleCompensationRequested)

	return &CompensationWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.Named("compensation-worker"),
	}
}

// Start blocks until ctx is cancelled
func (w *CompensationWorker) Start(ctx context.Context) error {
	w.logger.Info("starting compensation worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *CompensationWorker) Stop() error {
	w.logger.Info("stopping compensation worker")
	return w.consumer.Close()
}
