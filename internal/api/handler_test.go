package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"pos-service/internal/models"
	"pos-service/internal/service"
	"pos-service/internal/store/memory"
)

const testAccount = "acct-http"

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	deps := service.Dependencies{Repo: memory.New()}
	cfg := service.CommitConfig{
		MaxRetries:        3,
		StoreTimeout:      time.Second,
		IdempotencyTTL:    time.Hour,
		LowStockThreshold: 1,
		DismissAfter:      3 * time.Second,
	}
	logger := zaptest.NewLogger(t)

	router := gin.New()
	NewHandler(Services{
		Carts:     service.NewCartService(deps, cfg, logger),
		Committer: service.NewSaleCommitter(deps, cfg, logger),
		Catalog:   service.NewCatalogService(deps, cfg, logger),
		Analytics: service.NewAnalyticsService(deps, cfg, logger),
	}).SetupRoutes(router)
	return router
}

func do(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(AccountHeader, testAccount)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMissingAccountIsUnauthorized(t *testing.T) {
	router := newTestRouter(t)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, ContentTypeProblemJSON, w.Header().Get("Content-Type"))

	var p Problem
	decode(t, w, &p)
	assert.Equal(t, "/problems/unauthorized", p.Type)
	assert.Equal(t, "/api/v1/cart", p.Instance)
}

func TestCreateProductDuplicateName(t *testing.T) {
	router := newTestRouter(t)
	body := map[string]interface{}{"name": "Widget", "price": "10", "unit_value": "4", "quantity": 3}

	w := do(t, router, http.MethodPost, "/api/v1/products", body)
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, router, http.MethodPost, "/api/v1/products", body)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var p Problem
	decode(t, w, &p)
	assert.Contains(t, p.Extensions["fields"], "name")
}

func TestMalformedBody(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/products", bytes.NewBufferString("{"))
	req.Header.Set(AccountHeader, testAccount)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckoutFlow(t *testing.T) {
	router := newTestRouter(t)

	w := do(t, router, http.MethodPost, "/api/v1/products",
		map[string]interface{}{"name": "Widget", "price": "10", "unit_value": "4", "quantity": 3})
	require.Equal(t, http.StatusCreated, w.Code)
	var product models.Product
	decode(t, w, &product)

	w = do(t, router, http.MethodPost, "/api/v1/cart/products/"+product.ID, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	w = do(t, router, http.MethodPost, "/api/v1/cart/manual", map[string]string{"price": "5"})
	require.Equal(t, http.StatusCreated, w.Code)

	var view service.CartView
	decode(t, do(t, router, http.MethodGet, "/api/v1/cart", nil), &view)
	require.Len(t, view.Lines, 2)
	assert.Equal(t, "15", view.Total.String())

	checkout := map[string]string{"payment_method": "efectivo", "ticket_number": "T-1"}
	w = do(t, router, http.MethodPost, "/api/v1/sales", checkout, IdempotencyHeader, "key-1")
	require.Equal(t, http.StatusCreated, w.Code)

	var res service.CommitResult
	decode(t, w, &res)
	assert.Equal(t, "15", res.Sale.TotalAmount.String())
	assert.Equal(t, int64(3000), res.Confirmation.DismissAfterMs)
	assert.False(t, res.Confirmation.ReplayedResponse)

	w = do(t, router, http.MethodPost, "/api/v1/sales", checkout, IdempotencyHeader, "key-1")
	require.Equal(t, http.StatusOK, w.Code)
	var replay service.CommitResult
	decode(t, w, &replay)
	assert.True(t, replay.Confirmation.ReplayedResponse)
	assert.Equal(t, res.Sale.ID, replay.Sale.ID)

	var stock map[string]interface{}
	decode(t, do(t, router, http.MethodGet, "/api/v1/products/"+product.ID+"/stock", nil), &stock)
	assert.EqualValues(t, 2, stock["quantity"])

	decode(t, do(t, router, http.MethodGet, "/api/v1/cart", nil), &view)
	assert.Empty(t, view.Lines)

	w = do(t, router, http.MethodGet, "/api/v1/sales/"+res.Sale.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCheckoutValidation(t *testing.T) {
	router := newTestRouter(t)

	w := do(t, router, http.MethodPost, "/api/v1/sales", map[string]string{"payment_method": "efectivo"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var p Problem
	decode(t, w, &p)
	assert.Contains(t, p.Extensions["fields"], "ticket_number")

	w = do(t, router, http.MethodPost, "/api/v1/sales", map[string]string{"payment_method": "debito"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var empty Problem
	decode(t, w, &empty)
	assert.Contains(t, empty.Extensions["fields"], "cart")
}

func TestAddUnknownProductIsNotFound(t *testing.T) {
	router := newTestRouter(t)
	w := do(t, router, http.MethodPost, "/api/v1/cart/products/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAddSoldOutProductConflicts(t *testing.T) {
	router := newTestRouter(t)
	w := do(t, router, http.MethodPost, "/api/v1/products",
		map[string]interface{}{"name": "Empty", "price": "10", "quantity": 0})
	require.Equal(t, http.StatusCreated, w.Code)
	var product models.Product
	decode(t, w, &product)

	w = do(t, router, http.MethodPost, "/api/v1/cart/products/"+product.ID, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	var p Problem
	decode(t, w, &p)
	assert.Equal(t, "/problems/insufficient-stock", p.Type)
}

func TestStreamWithoutNotifier(t *testing.T) {
	router := newTestRouter(t)
	w := do(t, router, http.MethodGet, "/api/v1/cart/stream", nil)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestSalesRejectsBadDates(t *testing.T) {
	router := newTestRouter(t)

	w := do(t, router, http.MethodGet, "/api/v1/sales?from=yesterday", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = do(t, router, http.MethodGet, "/api/v1/sales?payment_method=cheque", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = do(t, router, http.MethodGet, "/api/v1/sales?from=2024-03-01&to=2024-03-02", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestProblemForRetryable(t *testing.T) {
	p := problemFor(&service.PersistenceError{Op: "commit sale", Retryable: true})
	assert.Equal(t, http.StatusServiceUnavailable, p.Status)

	p = problemFor(&service.PersistenceError{Op: "commit sale"})
	assert.Equal(t, http.StatusInternalServerError, p.Status)

	p = problemFor(&service.ConsistencyError{SaleID: "s-1"})
	assert.Equal(t, "s-1", p.Extensions["saleId"])
}
