package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"pos-service/internal/models"
)

type capturingNotifier struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (n *capturingNotifier) PublishCartChange(_ context.Context, _ models.AccountID, payload []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.payloads = append(n.payloads, payload)
	return nil
}

func (n *capturingNotifier) SubscribeCart(context.Context, models.AccountID) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (n *capturingNotifier) last(t *testing.T) CartView {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.payloads)
	var view CartView
	require.NoError(t, json.Unmarshal(n.payloads[len(n.payloads)-1], &view))
	return view
}

func TestCartAddRemoveTotal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	w := f.line("Widget", 10)
	f.line("Gadget", 25)

	view, err := f.carts.Get(ctx, acct)
	require.NoError(t, err)
	assert.Len(t, view.Lines, 2)
	assert.True(t, decimal.NewFromInt(35).Equal(view.Total))

	require.NoError(t, f.carts.RemoveLine(ctx, acct, w.ID))
	view, err = f.carts.Get(ctx, acct)
	require.NoError(t, err)
	assert.Len(t, view.Lines, 1)
	assert.True(t, decimal.NewFromInt(25).Equal(view.Total))
}

func TestCartRemoveUnknownAndClearEmptyAreNoops(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.line("Widget", 10)

	require.NoError(t, f.carts.RemoveLine(ctx, acct, "does-not-exist"))
	assert.Equal(t, 1, f.cartLen())

	require.NoError(t, f.carts.Clear(ctx, acct))
	require.NoError(t, f.carts.Clear(ctx, acct))
	assert.Equal(t, 0, f.cartLen())
}

func TestCartAddLineValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.carts.AddLine(context.Background(), acct, " ", decimal.NewFromInt(-1))

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "name")
	assert.Contains(t, ve.Fields, "price")
	assert.Equal(t, 0, f.cartLen())
}

func TestCartManualLineIsNamedOtros(t *testing.T) {
	f := newFixture(t)

	line, err := f.carts.AddManualLine(context.Background(), acct, decimal.NewFromInt(12))
	require.NoError(t, err)
	assert.Equal(t, models.ManualLineName, line.Name)
	assert.Empty(t, line.ProductID)
}

func TestCartAddProduct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	widget := f.product("Widget", 10, 1)
	empty := f.product("Empty", 5, 0)

	line, err := f.carts.AddProduct(ctx, acct, widget.ID)
	require.NoError(t, err)
	assert.Equal(t, widget.ID, line.ProductID)
	assert.Equal(t, "Widget", line.Name)
	assert.True(t, widget.Price.Equal(line.Price))

	_, err = f.carts.AddProduct(ctx, acct, empty.ID)
	var ie *InsufficientStockError
	require.ErrorAs(t, err, &ie)

	_, err = f.carts.AddProduct(ctx, acct, "missing")
	var ne *NotFoundError
	require.ErrorAs(t, err, &ne)

	// adding does not reserve stock
	assert.Equal(t, 1, f.quantity(widget.ID))
}

func TestCartChangesAreBroadcast(t *testing.T) {
	f := newFixture(t)
	n := &capturingNotifier{}
	f.deps.Notifier = n
	f.carts = NewCartService(f.deps, f.cfg, zaptest.NewLogger(t))

	f.line("Widget", 10)
	view := n.last(t)
	assert.Len(t, view.Lines, 1)

	_, err := f.committer().Commit(context.Background(), CommitRequest{Account: acct, PaymentMethod: models.PaymentDebit})
	require.NoError(t, err)
	view = n.last(t)
	assert.Empty(t, view.Lines)
	assert.True(t, view.Total.IsZero())
}

func TestCartSubscribeWithoutNotifier(t *testing.T) {
	f := newFixture(t)

	_, err := f.carts.Subscribe(context.Background(), acct)
	assert.ErrorIs(t, err, ErrLiveUnavailable)
}
