package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"pos-service/internal/models"
	"pos-service/internal/store"
	"pos-service/internal/store/memory"
)

const acct = models.AccountID("acct-1")

var errInjected = errors.New("injected failure")

type recordedEvents struct {
	mu            sync.Mutex
	committed     []*models.SaleCommittedEvent
	adjusted      []*models.StockAdjustedEvent
	lowStock      []*models.LowStockEvent
	compensations []*models.StockCompensationRequestedEvent
	completed     []*models.StockCompensationCompletedEvent
}

func (r *recordedEvents) PublishSaleCommitted(_ context.Context, e *models.SaleCommittedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, e)
	return nil
}

func (r *recordedEvents) PublishStockAdjusted(_ context.Context, e *models.StockAdjustedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adjusted = append(r.adjusted, e)
	return nil
}

func (r *recordedEvents) PublishLowStock(_ context.Context, e *models.LowStockEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lowStock = append(r.lowStock, e)
	return nil
}

func (r *recordedEvents) PublishStockCompensationRequested(_ context.Context, e *models.StockCompensationRequestedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.compensations = append(r.compensations, e)
	return nil
}

func (r *recordedEvents) PublishStockCompensationCompleted(_ context.Context, e *models.StockCompensationCompletedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, e)
	return nil
}

// flakyRepo hides the Transactor of the wrapped store, so commits run as a saga,
// and injects failures per operation.
type flakyRepo struct {
	store.Repository

	mu                sync.Mutex
	failCreateSale    bool
	failIncrements    bool
	conflictsLeft     int
	writes            int
	adjustStockCalled int
}

func (f *flakyRepo) CreateSale(ctx context.Context, sale *models.FinalSale) error {
	f.mu.Lock()
	f.writes++
	fail := f.failCreateSale
	f.mu.Unlock()
	if fail {
		return errInjected
	}
	return f.Repository.CreateSale(ctx, sale)
}

func (f *flakyRepo) AdjustStock(ctx context.Context, account models.AccountID, productID string, delta int, expectedVersion int64) (*models.Product, error) {
	f.mu.Lock()
	f.writes++
	f.adjustStockCalled++
	if f.conflictsLeft > 0 {
		f.conflictsLeft--
		f.mu.Unlock()
		return nil, store.ErrVersionConflict
	}
	fail := f.failIncrements && delta > 0
	f.mu.Unlock()
	if fail {
		return nil, errInjected
	}
	return f.Repository.AdjustStock(ctx, account, productID, delta, expectedVersion)
}

func (f *flakyRepo) ClearCart(ctx context.Context, account models.AccountID) error {
	f.mu.Lock()
	f.writes++
	f.mu.Unlock()
	return f.Repository.ClearCart(ctx, account)
}

func (f *flakyRepo) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

type fixture struct {
	t       *testing.T
	store   *memory.Store
	events  *recordedEvents
	deps    Dependencies
	cfg     CommitConfig
	carts   *CartService
	catalog *CatalogService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	events := &recordedEvents{}
	f := &fixture{
		t:      t,
		store:  st,
		events: events,
		deps:   Dependencies{Repo: st, Events: events},
		cfg: CommitConfig{
			NegativeStock:     NegativeStockReject,
			MaxRetries:        3,
			StoreTimeout:      time.Second,
			IdempotencyTTL:    time.Hour,
			LowStockThreshold: 2,
			DismissAfter:      3 * time.Second,
		},
	}
	f.carts = NewCartService(f.deps, f.cfg, zaptest.NewLogger(t))
	f.catalog = NewCatalogService(f.deps, f.cfg, zaptest.NewLogger(t))
	return f
}

func (f *fixture) committer() *SaleCommitter {
	return NewSaleCommitter(f.deps, f.cfg, zaptest.NewLogger(f.t))
}

func (f *fixture) product(name string, price int64, qty int) *models.Product {
	f.t.Helper()
	p, err := f.catalog.CreateProduct(context.Background(), acct, ProductInput{
		Name:      name,
		Price:     decimal.NewFromInt(price),
		UnitValue: decimal.NewFromInt(price / 2),
		Quantity:  qty,
	})
	require.NoError(f.t, err)
	return p
}

func (f *fixture) line(name string, price int64) *models.CartLine {
	f.t.Helper()
	l, err := f.carts.AddLine(context.Background(), acct, name, decimal.NewFromInt(price))
	require.NoError(f.t, err)
	return l
}

func (f *fixture) quantity(id string) int {
	f.t.Helper()
	p, err := f.store.GetProduct(context.Background(), acct, id)
	require.NoError(f.t, err)
	return p.Quantity
}

func (f *fixture) cartLen() int {
	f.t.Helper()
	lines, err := f.store.ListCartLines(context.Background(), acct)
	require.NoError(f.t, err)
	return len(lines)
}

func (f *fixture) saleCount() int {
	f.t.Helper()
	sales, err := f.store.ListSales(context.Background(), acct, store.SaleFilter{})
	require.NoError(f.t, err)
	return len(sales)
}

func cashRequest() CommitRequest {
	return CommitRequest{Account: acct, PaymentMethod: models.PaymentCash, TicketNumber: "001"}
}
