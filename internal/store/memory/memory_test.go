package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pos-service/internal/models"
	"pos-service/internal/store"
)

const acct = models.AccountID("acct-1")

func seedProduct(t *testing.T, s *Store, name string, qty int) *models.Product {
	t.Helper()
	p := &models.Product{AccountID: acct, Name: name, Price: decimal.NewFromInt(10), Quantity: qty, Available: true}
	require.NoError(t, s.CreateProduct(context.Background(), p))
	return p
}

func TestCreateProductUniqueName(t *testing.T) {
	s := New()
	seedProduct(t, s, "Widget", 5)

	err := s.CreateProduct(context.Background(), &models.Product{AccountID: acct, Name: "Widget"})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	// same name in another account is fine
	err = s.CreateProduct(context.Background(), &models.Product{AccountID: "acct-2", Name: "Widget"})
	assert.NoError(t, err)
}

func TestProductsAreAccountScoped(t *testing.T) {
	s := New()
	p := seedProduct(t, s, "Widget", 5)

	_, err := s.GetProduct(context.Background(), "acct-2", p.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.FindProductByName(context.Background(), acct, "widget")
	assert.ErrorIs(t, err, store.ErrNotFound, "name lookup is case-sensitive")

	list, err := s.ListProducts(context.Background(), acct, store.ProductFilter{NameContains: "WID"})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestAdjustStockCAS(t *testing.T) {
	s := New()
	p := seedProduct(t, s, "Widget", 5)
	ctx := context.Background()

	updated, err := s.AdjustStock(ctx, acct, p.ID, -1, p.Version)
	require.NoError(t, err)
	assert.Equal(t, 4, updated.Quantity)
	assert.Equal(t, p.Version+1, updated.Version)

	_, err = s.AdjustStock(ctx, acct, p.ID, -1, p.Version)
	assert.ErrorIs(t, err, store.ErrVersionConflict)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := New()
	p := seedProduct(t, s, "Widget", 5)
	ctx := context.Background()
	require.NoError(t, s.AddCartLine(ctx, &models.CartLine{AccountID: acct, Name: "Widget", Price: decimal.NewFromInt(10)}))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(ctx context.Context, repo store.Repository) error {
		if _, err := repo.AdjustStock(ctx, acct, p.ID, -1, p.Version); err != nil {
			return err
		}
		if err := repo.ClearCart(ctx, acct); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetProduct(ctx, acct, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Quantity)

	lines, err := s.ListCartLines(ctx, acct)
	require.NoError(t, err)
	assert.Len(t, lines, 1)
}

func TestWithTxCommits(t *testing.T) {
	s := New()
	p := seedProduct(t, s, "Widget", 5)
	ctx := context.Background()

	err := s.WithTx(ctx, func(ctx context.Context, repo store.Repository) error {
		_, err := repo.AdjustStock(ctx, acct, p.ID, -2, p.Version)
		if err != nil {
			return err
		}
		return repo.CreateSale(ctx, &models.FinalSale{AccountID: acct, PaymentMethod: models.PaymentDebit, SaleDateTime: time.Now()})
	})
	require.NoError(t, err)

	got, _ := s.GetProduct(ctx, acct, p.ID)
	assert.Equal(t, 3, got.Quantity)

	sales, err := s.ListSales(ctx, acct, store.SaleFilter{})
	require.NoError(t, err)
	assert.Len(t, sales, 1)
}

func TestSaleIdempotencyKeyUnique(t *testing.T) {
	s := New()
	ctx := context.Background()

	first := &models.FinalSale{AccountID: acct, IdempotencyKey: "k1", SaleDateTime: time.Now()}
	require.NoError(t, s.CreateSale(ctx, first))

	err := s.CreateSale(ctx, &models.FinalSale{AccountID: acct, IdempotencyKey: "k1"})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	got, err := s.GetSaleByIdempotencyKey(ctx, acct, "k1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)

	none, err := s.GetSaleByIdempotencyKey(ctx, acct, "missing")
	assert.NoError(t, err)
	assert.Nil(t, none)
}

func TestDeleteMissingCartLineIsNoop(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.DeleteCartLine(ctx, acct, "nope"))
	require.NoError(t, s.ClearCart(ctx, acct))
}

func TestCanceledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.ListProducts(ctx, acct, store.ProductFilter{})
	assert.ErrorIs(t, err, context.Canceled)
}
