package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pos-service/internal/models"
	"pos-service/internal/service"
	"pos-service/internal/store"
	"pos-service/internal/util"
)

const (
	// AccountHeader carries the authenticated account path
	AccountHeader = "X-Account-ID"
	// IdempotencyHeader makes checkout retries safe
	IdempotencyHeader = "Idempotency-Key"

	accountKey = "account"
	dateLayout = "2006-01-02"
)

// Handler contains HTTP handlers
type Handler struct {
	carts     *service.CartService
	committer *service.SaleCommitter
	catalog   *service.CatalogService
	analytics *service.AnalyticsService
	ready     func(ctx context.Context) error
	logger    *zap.Logger
}

// Services groups what the handler serves
type Services struct {
	Carts     *service.CartService
	Committer *service.SaleCommitter
	Catalog   *service.CatalogService
	Analytics *service.AnalyticsService
	// Ready is probed by /ready; nil means always ready
	Ready func(ctx context.Context) error
}

// NewHandler creates a new HTTP handler
func NewHandler(s Services) *Handler {
	return &Handler{
		carts:     s.Carts,
		committer: s.Committer,
		catalog:   s.Catalog,
		analytics: s.Analytics,
		ready:     s.Ready,
		logger:    util.Named("http"),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(h.requestLogger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1", accountMiddleware())
	{
		v1.POST("/products", h.createProduct)
		v1.GET("/products", h.listProducts)
		v1.GET("/products/:id", h.getProduct)
		v1.PATCH("/products/:id", h.updateProduct)
		v1.DELETE("/products/:id", h.deleteProduct)
		v1.GET("/products/:id/stock", h.productStock)
		v1.POST("/products/:id/restock", h.restock)
		v1.POST("/products/:id/defective", h.reportDefective)
		v1.GET("/inventory/summary", h.inventorySummary)

		v1.POST("/categories", h.createCategory)
		v1.GET("/categories", h.listCategories)
		v1.DELETE("/categories/:id", h.deleteCategory)

		v1.GET("/cart", h.getCart)
		v1.DELETE("/cart", h.clearCart)
		v1.POST("/cart/lines", h.addLine)
		v1.POST("/cart/manual", h.addManualLine)
		v1.POST("/cart/products/:id", h.addProduct)
		v1.DELETE("/cart/lines/:id", h.removeLine)
		v1.GET("/cart/stream", h.streamCart)

		v1.POST("/sales", h.checkout)
		v1.GET("/sales", h.listSales)
		v1.GET("/sales/:id", h.getSale)
		v1.GET("/sales/:id/margin", h.saleMargin)

		v1.GET("/analytics/daily", h.salesByDay)
		v1.GET("/analytics/top-products", h.topProducts)
		v1.GET("/analytics/payment-methods", h.paymentMethods)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	if h.ready != nil {
		if err := h.ready(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func accountMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		account := strings.TrimSpace(c.GetHeader(AccountHeader))
		if account == "" {
			respondProblem(c, problemUnauthorized.detail("missing %s header", AccountHeader))
			return
		}
		c.Set(accountKey, models.AccountID(account))
		c.Next()
	}
}

func accountOf(c *gin.Context) models.AccountID {
	return c.MustGet(accountKey).(models.AccountID)
}

func (h *Handler) bind(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		respondProblem(c, problemBadRequest.detail("invalid request body: %s", err.Error()))
		return false
	}
	return true
}

// products

func (h *Handler) createProduct(c *gin.Context) {
	var in service.ProductInput
	if !h.bind(c, &in) {
		return
	}
	p, err := h.catalog.CreateProduct(c.Request.Context(), accountOf(c), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// listProducts filters by ?q= and ?category=, or looks up an exact ?name=.
func (h *Handler) listProducts(c *gin.Context) {
	ctx := c.Request.Context()
	if name, ok := c.GetQuery("name"); ok {
		p, err := h.catalog.FindByName(ctx, accountOf(c), name)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, []models.Product{*p})
		return
	}
	products, err := h.catalog.ListProducts(ctx, accountOf(c), productFilter(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, products)
}

func productFilter(c *gin.Context) store.ProductFilter {
	return store.ProductFilter{
		NameContains: c.Query("q"),
		Category:     c.Query("category"),
	}
}

func (h *Handler) getProduct(c *gin.Context) {
	p, err := h.catalog.GetProduct(c.Request.Context(), accountOf(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) updateProduct(c *gin.Context) {
	var patch service.ProductPatch
	if !h.bind(c, &patch) {
		return
	}
	p, err := h.catalog.UpdateProduct(c.Request.Context(), accountOf(c), c.Param("id"), patch)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) deleteProduct(c *gin.Context) {
	if err := h.catalog.DeleteProduct(c.Request.Context(), accountOf(c), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) productStock(c *gin.Context) {
	id := c.Param("id")
	qty, err := h.catalog.Stock(c.Request.Context(), accountOf(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product_id": id, "quantity": qty})
}

type unitsRequest struct {
	Units int `json:"units"`
}

func (h *Handler) restock(c *gin.Context) {
	var req unitsRequest
	if !h.bind(c, &req) {
		return
	}
	p, err := h.catalog.Restock(c.Request.Context(), accountOf(c), c.Param("id"), req.Units)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) reportDefective(c *gin.Context) {
	var req unitsRequest
	if !h.bind(c, &req) {
		return
	}
	p, err := h.catalog.ReportDefective(c.Request.Context(), accountOf(c), c.Param("id"), req.Units)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) inventorySummary(c *gin.Context) {
	sum, err := h.catalog.Summary(c.Request.Context(), accountOf(c), productFilter(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

// categories

type categoryRequest struct {
	Name string `json:"name"`
}

func (h *Handler) createCategory(c *gin.Context) {
	var req categoryRequest
	if !h.bind(c, &req) {
		return
	}
	cat, err := h.catalog.AddCategory(c.Request.Context(), accountOf(c), req.Name)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, cat)
}

func (h *Handler) listCategories(c *gin.Context) {
	cats, err := h.catalog.ListCategories(c.Request.Context(), accountOf(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cats)
}

func (h *Handler) deleteCategory(c *gin.Context) {
	if err := h.catalog.DeleteCategory(c.Request.Context(), accountOf(c), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// cart

type lineRequest struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

func (h *Handler) getCart(c *gin.Context) {
	view, err := h.carts.Get(c.Request.Context(), accountOf(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) clearCart(c *gin.Context) {
	if err := h.carts.Clear(c.Request.Context(), accountOf(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) addLine(c *gin.Context) {
	var req lineRequest
	if !h.bind(c, &req) {
		return
	}
	line, err := h.carts.AddLine(c.Request.Context(), accountOf(c), req.Name, req.Price)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, line)
}

func (h *Handler) addManualLine(c *gin.Context) {
	var req lineRequest
	if !h.bind(c, &req) {
		return
	}
	line, err := h.carts.AddManualLine(c.Request.Context(), accountOf(c), req.Price)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, line)
}

func (h *Handler) addProduct(c *gin.Context) {
	line, err := h.carts.AddProduct(c.Request.Context(), accountOf(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, line)
}

func (h *Handler) removeLine(c *gin.Context) {
	if err := h.carts.RemoveLine(c.Request.Context(), accountOf(c), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// streamCart pushes the cart as server-sent events after every change.
func (h *Handler) streamCart(c *gin.Context) {
	ctx := c.Request.Context()
	account := accountOf(c)

	updates, err := h.carts.Subscribe(ctx, account)
	if err != nil {
		h.fail(c, err)
		return
	}
	view, err := h.carts.Get(ctx, account)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.SSEvent("cart", view)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case msg, ok := <-updates:
			if !ok {
				return false
			}
			c.SSEvent("cart", string(msg))
			return true
		}
	})
}

// sales

type checkoutRequest struct {
	PaymentMethod    models.PaymentMethod `json:"payment_method"`
	TicketNumber     string               `json:"ticket_number"`
	InstallmentCount string               `json:"installment_count"`
	IdempotencyKey   string               `json:"idempotency_key"`
}

func (h *Handler) checkout(c *gin.Context) {
	var req checkoutRequest
	if !h.bind(c, &req) {
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader(IdempotencyHeader)
	}

	res, err := h.committer.Commit(c.Request.Context(), service.CommitRequest{
		Account:          accountOf(c),
		PaymentMethod:    req.PaymentMethod,
		TicketNumber:     req.TicketNumber,
		InstallmentCount: req.InstallmentCount,
		IdempotencyKey:   req.IdempotencyKey,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	status := http.StatusCreated
	if res.Confirmation.ReplayedResponse {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

// dateRange reads ?from= and ?to= as calendar days.
func (h *Handler) dateRange(c *gin.Context) (service.DateRange, bool) {
	var r service.DateRange
	fields := make(map[string]string)
	for _, q := range []struct {
		name string
		dst  *time.Time
	}{{"from", &r.From}, {"to", &r.To}} {
		raw := c.Query(q.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(dateLayout, raw)
		if err != nil {
			fields[q.name] = "must be a date formatted " + dateLayout
			continue
		}
		*q.dst = t
	}
	if len(fields) > 0 {
		h.fail(c, &service.ValidationError{Fields: fields})
		return r, false
	}
	return r, true
}

func (h *Handler) listSales(c *gin.Context) {
	r, ok := h.dateRange(c)
	if !ok {
		return
	}
	method := models.PaymentMethod(c.Query("payment_method"))
	if method != "" && !method.Valid() {
		h.fail(c, &service.ValidationError{Fields: map[string]string{"payment_method": "unknown payment method"}})
		return
	}
	report, err := h.analytics.ListSales(c.Request.Context(), accountOf(c), r, method)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) getSale(c *gin.Context) {
	sale, err := h.analytics.GetSale(c.Request.Context(), accountOf(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sale)
}

func (h *Handler) saleMargin(c *gin.Context) {
	m, err := h.analytics.Margin(c.Request.Context(), accountOf(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// analytics

func (h *Handler) salesByDay(c *gin.Context) {
	r, ok := h.dateRange(c)
	if !ok {
		return
	}
	days, err := h.analytics.SalesByDay(c.Request.Context(), accountOf(c), r)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, days)
}

func (h *Handler) topProducts(c *gin.Context) {
	r, ok := h.dateRange(c)
	if !ok {
		return
	}
	top, err := h.analytics.TopProducts(c.Request.Context(), accountOf(c), r)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, top)
}

func (h *Handler) paymentMethods(c *gin.Context) {
	r, ok := h.dateRange(c)
	if !ok {
		return
	}
	usage, err := h.analytics.PaymentMethods(c.Request.Context(), accountOf(c), r)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, usage)
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
