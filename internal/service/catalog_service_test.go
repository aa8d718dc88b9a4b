package service

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"pos-service/internal/redisclient"
	"pos-service/internal/store"
)

func TestCatalogCreateRejectsDuplicateName(t *testing.T) {
	f := newFixture(t)
	f.product("Widget", 10, 5)

	_, err := f.catalog.CreateProduct(context.Background(), acct, ProductInput{Name: "Widget", Price: decimal.NewFromInt(1)})

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "name")
}

func TestCatalogCreateValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.catalog.CreateProduct(context.Background(), acct, ProductInput{
		Price:    decimal.NewFromInt(-1),
		Quantity: -3,
	})

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Fields, 3)
}

func TestCatalogPartialUpdate(t *testing.T) {
	f := newFixture(t)
	widget := f.product("Widget", 10, 5)

	price := decimal.NewFromInt(12)
	category := "tools"
	updated, err := f.catalog.UpdateProduct(context.Background(), acct, widget.ID, ProductPatch{Price: &price, Category: &category})
	require.NoError(t, err)

	assert.Equal(t, "Widget", updated.Name)
	assert.True(t, price.Equal(updated.Price))
	assert.Equal(t, "tools", updated.Category)
	assert.Equal(t, 5, updated.Quantity)
	assert.Greater(t, updated.Version, widget.Version)

	_, err = f.catalog.UpdateProduct(context.Background(), acct, "missing", ProductPatch{Price: &price})
	var ne *NotFoundError
	assert.ErrorAs(t, err, &ne)
}

func TestCatalogRestockAndDefective(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	widget := f.product("Widget", 10, 5)

	p, err := f.catalog.Restock(ctx, acct, widget.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, 8, p.Quantity)

	p, err = f.catalog.ReportDefective(ctx, acct, widget.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 6, p.Quantity)
	assert.Equal(t, 2, p.DefectiveQuantity)

	_, err = f.catalog.ReportDefective(ctx, acct, widget.ID, 7)
	var ie *InsufficientStockError
	assert.ErrorAs(t, err, &ie)

	_, err = f.catalog.Restock(ctx, acct, widget.ID, 0)
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestCatalogSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.product("Widget", 10, 5)
	gadget := f.product("Gadget", 20, 1)
	f.product("Gizmo", 4, 10)
	_, err := f.catalog.ReportDefective(ctx, acct, gadget.ID, 1)
	require.NoError(t, err)

	sum, err := f.catalog.Summary(ctx, acct, store.ProductFilter{})
	require.NoError(t, err)
	assert.Equal(t, 15, sum.TotalQuantity)
	assert.Equal(t, 1, sum.TotalDefective)
	assert.Equal(t, 3, sum.UniqueNames)
	assert.Equal(t, []string{"Gadget"}, sum.LowStock)
	// 5*5 + 0*10 + 10*2
	assert.Equal(t, "45", sum.InventoryCost.String())

	sum, err = f.catalog.Summary(ctx, acct, store.ProductFilter{NameContains: "GI"})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.UniqueNames)
	assert.Equal(t, 10, sum.TotalQuantity)
}

func TestCatalogCategories(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.catalog.AddCategory(ctx, acct, "drinks")
	require.NoError(t, err)
	_, err = f.catalog.AddCategory(ctx, acct, "")
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)

	list, err := f.catalog.ListCategories(ctx, acct)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "drinks", list[0].Name)

	require.NoError(t, f.catalog.DeleteCategory(ctx, acct, c.ID))
	var ne *NotFoundError
	assert.ErrorAs(t, f.catalog.DeleteCategory(ctx, acct, c.ID), &ne)
}

func TestCatalogStockUsesMirror(t *testing.T) {
	mr := miniredis.RunT(t)
	rc, err := redisclient.NewClient(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })

	f := newFixture(t)
	f.deps.Stock = rc
	f.catalog = NewCatalogService(f.deps, f.cfg, zaptest.NewLogger(t))
	ctx := context.Background()

	widget := f.product("Widget", 10, 5)
	qty, ok, err := rc.GetStock(ctx, acct, widget.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 5, qty)

	f.line("Widget", 10)
	_, err = NewSaleCommitter(f.deps, f.cfg, zaptest.NewLogger(t)).Commit(ctx, cashRequest())
	require.NoError(t, err)

	qty, err = f.catalog.Stock(ctx, acct, widget.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, qty)

	mr.FlushAll()
	qty, err = f.catalog.Stock(ctx, acct, widget.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, qty)

	require.NoError(t, f.catalog.DeleteProduct(ctx, acct, widget.ID))
	_, ok, err = rc.GetStock(ctx, acct, widget.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}
