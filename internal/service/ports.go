package service

import (
	"context"
	"time"

	"pos-service/internal/models"
	"pos-service/internal/store"
)

// StockCache mirrors product quantities for the add-to-cart fast path.
// *redisclient.Client implements it.
type StockCache interface {
	SetStock(ctx context.Context, account models.AccountID, productID string, quantity int, version int64) error
	GetStock(ctx context.Context, account models.AccountID, productID string) (int, bool, error)
}

// IdempotencyCache maps client keys to sale ids ahead of the durable lookup.
type IdempotencyCache interface {
	GetIdempotentSaleID(ctx context.Context, account models.AccountID, key string) (string, error)
	SetIdempotencyKey(ctx context.Context, account models.AccountID, key, saleID string, ttl time.Duration) error
}

// CartNotifier fans cart changes out to live subscribers.
type CartNotifier interface {
	PublishCartChange(ctx context.Context, account models.AccountID, payload []byte) error
	SubscribeCart(ctx context.Context, account models.AccountID) (<-chan []byte, error)
}

// EventPublisher is implemented by *broker.EventPublisher.
type EventPublisher interface {
	PublishSaleCommitted(ctx context.Context, event *models.SaleCommittedEvent) error
	PublishStockAdjusted(ctx context.Context, event *models.StockAdjustedEvent) error
	PublishLowStock(ctx context.Context, event *models.LowStockEvent) error
	PublishStockCompensationRequested(ctx context.Context, event *models.StockCompensationRequestedEvent) error
	PublishStockCompensationCompleted(ctx context.Context, event *models.StockCompensationCompletedEvent) error
}

// Dependencies groups the collaborators shared by the services. Only Repo is
// required; nil optional fields disable the feature they back.
type Dependencies struct {
	Repo        store.Repository
	Locker      AccountLocker
	Events      EventPublisher
	Stock       StockCache
	Idempotency IdempotencyCache
	Notifier    CartNotifier
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Locker == nil {
		d.Locker = NewLocalLocker()
	}
	if d.Events == nil {
		d.Events = nopEvents{}
	}
	return d
}

type nopEvents struct{}

func (nopEvents) PublishSaleCommitted(context.Context, *models.SaleCommittedEvent) error { return nil }
func (nopEvents) PublishStockAdjusted(context.Context, *models.StockAdjustedEvent) error { return nil }
func (nopEvents) PublishLowStock(context.Context, *models.LowStockEvent) error           { return nil }
func (nopEvents) PublishStockCompensationRequested(context.Context, *models.StockCompensationRequestedEvent) error {
	return nil
}
func (nopEvents) PublishStockCompensationCompleted(context.Context, *models.StockCompensationCompletedEvent) error {
	return nil
}

// callPolicy bounds store calls with a timeout and retries idempotent reads.
type callPolicy struct {
	timeout     time.Duration
	readRetries int
	backoff     time.Duration
}

func newCallPolicy(timeout time.Duration) callPolicy {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return callPolicy{timeout: timeout, readRetries: 2, backoff: 50 * time.Millisecond}
}

// write runs fn once under the timeout.
func (p callPolicy) write(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return classify(op, fn(callCtx))
}

// read runs fn under the timeout and retries retryable failures.
func (p callPolicy) read(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= p.readRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.backoff * time.Duration(attempt)):
			}
		}
		err = p.write(ctx, op, fn)
		if !IsRetryable(err) || ctx.Err() != nil {
			return err
		}
	}
	return err
}
