package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"pos-service/internal/models"
	"pos-service/internal/store"
	"pos-service/internal/util"
)

// Compensator restores stock decrements that a failed commit could not undo inline.
type Compensator struct {
	repo       store.Repository
	events     EventPublisher
	stock      StockCache
	maxRetries int
	logger     *zap.Logger
}

// NewCompensator creates a new compensator
func NewCompensator(deps Dependencies, cfg CommitConfig, logger *zap.Logger) *Compensator {
	deps = deps.withDefaults()
	if logger == nil {
		logger = util.Named("compensator")
	}
	return &Compensator{
		repo:       deps.Repo,
		events:     deps.Events,
		stock:      deps.Stock,
		maxRetries: cfg.MaxRetries,
		logger:     logger,
	}
}

// HandleCompensationRequested re-increments every adjustment of the event.
// Each adjustment is marked processed on its own, so a redelivered event only
// restores what is still missing.
func (c *Compensator) HandleCompensationRequested(ctx context.Context, event *models.StockCompensationRequestedEvent) error {
	ctx, span := util.StartAccountSpan(ctx, "Compensator.HandleCompensationRequested", event.AccountID)
	defer span.End()

	processed, err := c.repo.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		c.logger.Info("event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	c.logger.Warn("restoring stock for failed commit",
		util.AccountField(event.AccountID),
		zap.String("sale_id", event.SaleID),
		zap.String("reason", event.Reason),
		zap.Int("adjustments", len(event.Adjustments)))

	for _, adj := range event.Adjustments {
		if err := c.restore(ctx, event, adj); err != nil {
			util.CompensationsTotal.WithLabelValues("worker_failed").Inc()
			return err
		}
	}

	if err := c.repo.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	util.CompensationsTotal.WithLabelValues("worker").Inc()

	if err := c.events.PublishStockCompensationCompleted(ctx, &models.StockCompensationCompletedEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeStockCompensationCompleted),
		AccountID: event.AccountID,
		SaleID:    event.SaleID,
	}); err != nil {
		c.logger.Error("failed to publish StockCompensationCompleted event", zap.Error(err))
	}

	c.logger.Info("stock compensation completed",
		util.AccountField(event.AccountID),
		zap.String("event_id", event.EventID))
	return nil
}

func (c *Compensator) restore(ctx context.Context, event *models.StockCompensationRequestedEvent, adj models.StockAdjustmentData) error {
	marker := event.EventID + "/" + adj.ProductID

	apply := func(ctx context.Context, repo store.Repository) error {
		done, err := repo.IsEventProcessed(ctx, marker)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		after, err := incrementStock(ctx, repo, event.AccountID, adj.ProductID, adj.Units, c.maxRetries)
		if errors.Is(err, store.ErrNotFound) {
			c.logger.Warn("product removed before compensation, skipping",
				zap.String("product", models.ProductPath(event.AccountID, adj.ProductID)))
			return repo.MarkEventProcessed(ctx, marker, event.EventType)
		}
		if err != nil {
			return err
		}
		if c.stock != nil {
			if err := c.stock.SetStock(ctx, event.AccountID, after.ID, after.Quantity, after.Version); err != nil {
				c.logger.Debug("failed to refresh stock cache", zap.Error(err))
			}
		}
		return repo.MarkEventProcessed(ctx, marker, event.EventType)
	}

	var err error
	if tx, ok := c.repo.(store.Transactor); ok {
		err = tx.WithTx(ctx, apply)
	} else {
		err = apply(ctx, c.repo)
	}
	if err != nil {
		return fmt.Errorf("restore %s: %w", models.ProductPath(event.AccountID, adj.ProductID), err)
	}
	return nil
}
