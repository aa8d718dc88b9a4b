package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"pos-service/internal/models"
	"pos-service/internal/store"
	"pos-service/internal/util"
)

// CommitConfig tunes the sale commit
type CommitConfig struct {
	Strict            bool
	NegativeStock     NegativeStockPolicy
	MaxRetries        int
	StoreTimeout      time.Duration
	IdempotencyTTL    time.Duration
	LowStockThreshold int
	DismissAfter      time.Duration
}

// CommitRequest is a checkout of the account's pending cart.
type CommitRequest struct {
	Account          models.AccountID
	PaymentMethod    models.PaymentMethod
	TicketNumber     string
	InstallmentCount string
	IdempotencyKey   string
}

// Confirmation tells the UI how long to show the success notice.
type Confirmation struct {
	Message          string `json:"message"`
	DismissAfterMs   int64  `json:"dismiss_after_ms"`
	ReplayedResponse bool   `json:"replayed"`
}

// CommitResult is returned by a successful commit or an idempotent replay.
type CommitResult struct {
	Sale         *models.FinalSale `json:"sale"`
	Lines        []LineResult      `json:"lines,omitempty"`
	Warnings     []string          `json:"warnings"`
	Confirmation Confirmation      `json:"confirmation"`
}

// SaleCommitter turns the pending cart into a FinalSale. Stock decrements, the
// sale write and clearing the cart form one unit of work: a transaction when
// the repository supports it, a compensating saga otherwise.
type SaleCommitter struct {
	repo     store.Repository
	adjuster *InventoryAdjuster
	locker   AccountLocker
	events   EventPublisher
	stock    StockCache
	idem     IdempotencyCache
	notifier CartNotifier
	calls    callPolicy
	cfg      CommitConfig
	logger   *zap.Logger
}

// NewSaleCommitter creates a new sale committer
func NewSaleCommitter(deps Dependencies, cfg CommitConfig, logger *zap.Logger) *SaleCommitter {
	deps = deps.withDefaults()
	if logger == nil {
		logger = util.Named("sale-committer")
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.NegativeStock == "" {
		cfg.NegativeStock = NegativeStockReject
	}
	return &SaleCommitter{
		repo:     deps.Repo,
		adjuster: NewInventoryAdjuster(cfg.NegativeStock, logger),
		locker:   deps.Locker,
		events:   deps.Events,
		stock:    deps.Stock,
		idem:     deps.Idempotency,
		notifier: deps.Notifier,
		calls:    newCallPolicy(cfg.StoreTimeout),
		cfg:      cfg,
		logger:   logger,
	}
}

// Validate checks the payment preconditions. It never touches the store.
func (c *SaleCommitter) Validate(req *CommitRequest) error {
	fields := make(map[string]string)
	if req.Account == "" {
		fields["account"] = "required"
	}

	switch {
	case req.PaymentMethod == "":
		fields["payment_method"] = "required"
	case !req.PaymentMethod.Valid():
		fields["payment_method"] = "must be one of efectivo, debito, credito"
	case req.PaymentMethod == models.PaymentCash && strings.TrimSpace(req.TicketNumber) == "":
		fields["ticket_number"] = "required for efectivo"
	case req.PaymentMethod == models.PaymentCredit && !models.ValidInstallments(req.InstallmentCount):
		fields["installment_count"] = "must be one of " + strings.Join(models.InstallmentOptions, ", ")
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Commit checks out the pending cart of req.Account.
func (c *SaleCommitter) Commit(ctx context.Context, req CommitRequest) (*CommitResult, error) {
	ctx, span := util.StartAccountSpan(ctx, "SaleCommitter.Commit", req.Account)
	defer span.End()

	start := time.Now()
	defer func() {
		util.SaleCommitLatency.Observe(time.Since(start).Seconds())
	}()

	if err := c.Validate(&req); err != nil {
		util.SalesFailedTotal.WithLabelValues("validation").Inc()
		return nil, err
	}
	req.TicketNumber = strings.TrimSpace(req.TicketNumber)
	if req.PaymentMethod != models.PaymentCash {
		req.TicketNumber = ""
	}
	if req.PaymentMethod != models.PaymentCredit {
		req.InstallmentCount = ""
	}

	if req.IdempotencyKey != "" {
		if sale, err := c.findReplay(ctx, req.Account, req.IdempotencyKey, true); err != nil || sale != nil {
			return c.replay(sale), err
		}
	}

	unlock, err := c.locker.Lock(ctx, req.Account)
	if err != nil {
		util.SalesFailedTotal.WithLabelValues("lock").Inc()
		return nil, classify("acquire account lock", err)
	}
	defer unlock()

	// a concurrent request with the same key may have finished while we waited
	if req.IdempotencyKey != "" {
		if sale, err := c.findReplay(ctx, req.Account, req.IdempotencyKey, false); err != nil || sale != nil {
			return c.replay(sale), err
		}
	}

	out, err := c.commitWithRetry(ctx, &req)
	if errors.Is(err, store.ErrDuplicate) && req.IdempotencyKey != "" {
		sale, findErr := c.findReplay(ctx, req.Account, req.IdempotencyKey, false)
		if findErr == nil && sale != nil {
			return c.replay(sale), nil
		}
	}
	if err != nil {
		util.SalesFailedTotal.WithLabelValues(failureReason(err)).Inc()
		c.logFailure(req.Account, err)
		return nil, classify("commit sale", err)
	}

	c.afterCommit(ctx, &req, out)

	return &CommitResult{
		Sale:     out.sale,
		Lines:    out.plan.Results,
		Warnings: out.warnings(),
		Confirmation: Confirmation{
			Message:        "sale completed",
			DismissAfterMs: c.cfg.DismissAfter.Milliseconds(),
		},
	}, nil
}

type commitOutcome struct {
	sale    *models.FinalSale
	plan    *AdjustmentPlan
	applied []AppliedAdjustment
}

func (o *commitOutcome) warnings() []string {
	out := make([]string, 0, len(o.plan.NotFound)+len(o.plan.Warnings))
	for _, name := range o.plan.NotFound {
		out = append(out, fmt.Sprintf("product %q not found, stock not updated", name))
	}
	return append(out, o.plan.Warnings...)
}

func (c *SaleCommitter) commitWithRetry(ctx context.Context, req *CommitRequest) (*commitOutcome, error) {
	var err error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			util.StockConflictRetriesTotal.Inc()
			c.logger.Debug("retrying commit after version conflict",
				util.AccountField(req.Account),
				zap.Int("attempt", attempt+1))
		}

		var out *commitOutcome
		out, err = c.commitOnce(ctx, req)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, err
		}
	}
	return nil, &PersistenceError{Op: "commit sale", Retryable: true, Err: err}
}

func (c *SaleCommitter) commitOnce(ctx context.Context, req *CommitRequest) (*commitOutcome, error) {
	tx, ok := c.repo.(store.Transactor)
	if !ok {
		return c.commitSaga(ctx, req)
	}

	var out *commitOutcome
	err := c.calls.write(ctx, "commit sale", func(ctx context.Context) error {
		return tx.WithTx(ctx, func(ctx context.Context, repo store.Repository) error {
			var err error
			out, err = c.unitOfWork(ctx, repo, req)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// unitOfWork decrements stock, writes the sale and clears the cart. out carries
// the decrements applied so far even when err is set.
func (c *SaleCommitter) unitOfWork(ctx context.Context, repo store.Repository, req *CommitRequest) (*commitOutcome, error) {
	lines, err := repo.ListCartLines(ctx, req.Account)
	if err != nil {
		return nil, fmt.Errorf("list cart lines: %w", err)
	}
	if len(lines) == 0 {
		return nil, newValidationError("cart", "cart is empty")
	}

	plan, err := c.adjuster.Plan(ctx, repo, req.Account, lines)
	if err != nil {
		return nil, err
	}
	if c.cfg.Strict && len(plan.NotFound) > 0 {
		return nil, &NotFoundError{Kind: "product", Key: plan.NotFound[0]}
	}

	out := &commitOutcome{plan: plan}
	out.applied, err = c.adjuster.Apply(ctx, repo, req.Account, plan)
	if err != nil {
		return out, err
	}

	sale := &models.FinalSale{
		ID:               models.NewID(),
		AccountID:        req.Account,
		Lines:            lines,
		TotalAmount:      models.SumLines(lines),
		PaymentMethod:    req.PaymentMethod,
		SaleDateTime:     time.Now().UTC(),
		TicketNumber:     req.TicketNumber,
		InstallmentCount: req.InstallmentCount,
		IdempotencyKey:   req.IdempotencyKey,
	}
	if err := repo.CreateSale(ctx, sale); err != nil {
		return out, fmt.Errorf("write sale: %w", err)
	}
	out.sale = sale

	if err := repo.ClearCart(ctx, req.Account); err != nil {
		return out, fmt.Errorf("clear cart: %w", err)
	}
	return out, nil
}

// commitSaga runs the unit of work call by call and undoes applied decrements
// if a later step fails.
func (c *SaleCommitter) commitSaga(ctx context.Context, req *CommitRequest) (*commitOutcome, error) {
	var out *commitOutcome
	err := c.calls.write(ctx, "commit sale", func(ctx context.Context) error {
		var err error
		out, err = c.unitOfWork(ctx, c.repo, req)
		return err
	})
	if err == nil {
		return out, nil
	}
	if out == nil || len(out.applied) == 0 {
		return nil, err
	}

	// undo work must not be cut short by the request's own deadline
	ctx = context.WithoutCancel(ctx)

	if out.sale != nil {
		// the sale is durable; only the cart is left behind
		if clearErr := c.retryClear(ctx, req.Account); clearErr != nil {
			return nil, &ConsistencyError{SaleID: out.sale.ID, Err: fmt.Errorf("sale written but cart not cleared: %w", clearErr)}
		}
		return out, nil
	}

	if compErr := c.compensate(ctx, req.Account, "", out.applied, err); compErr != nil {
		return nil, compErr
	}
	return nil, err
}

func (c *SaleCommitter) retryClear(ctx context.Context, account models.AccountID) error {
	var err error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		err = c.calls.write(ctx, "clear cart", func(ctx context.Context) error {
			return c.repo.ClearCart(ctx, account)
		})
		if err == nil {
			return nil
		}
	}
	return err
}

// compensate re-increments applied decrements. Whatever cannot be restored is
// queued for the compensation worker and reported as a ConsistencyError.
func (c *SaleCommitter) compensate(ctx context.Context, account models.AccountID, saleID string, applied []AppliedAdjustment, cause error) error {
	var pending []models.StockAdjustmentData
	for _, a := range applied {
		err := c.calls.write(ctx, "compensate stock", func(ctx context.Context) error {
			_, err := incrementStock(ctx, c.repo, account, a.ProductID, a.Units, c.cfg.MaxRetries)
			return err
		})
		if err != nil {
			c.logger.Error("stock compensation failed",
				util.AccountField(account),
				zap.String("product", models.ProductPath(account, a.ProductID)),
				zap.Int("units", a.Units),
				zap.Error(err))
			pending = append(pending, models.StockAdjustmentData{ProductID: a.ProductID, Units: a.Units})
		}
	}
	if len(pending) == 0 {
		util.CompensationsTotal.WithLabelValues("inline").Inc()
		return nil
	}

	util.CompensationsTotal.WithLabelValues("queued").Inc()
	event := &models.StockCompensationRequestedEvent{
		BaseEvent:   models.NewBaseEvent(models.EventTypeStockCompensationRequested),
		AccountID:   account,
		SaleID:      saleID,
		Adjustments: pending,
		Reason:      cause.Error(),
	}
	if err := c.events.PublishStockCompensationRequested(ctx, event); err != nil {
		c.logger.Error("failed to queue stock compensation",
			util.AccountField(account),
			zap.Any("adjustments", pending),
			zap.Error(err))
	}
	return &ConsistencyError{SaleID: saleID, Err: fmt.Errorf("%d stock adjustments not restored: %w", len(pending), cause)}
}

func (c *SaleCommitter) findReplay(ctx context.Context, account models.AccountID, key string, useCache bool) (*models.FinalSale, error) {
	if useCache && c.idem != nil {
		saleID, err := c.idem.GetIdempotentSaleID(ctx, account, key)
		if err != nil {
			c.logger.Warn("idempotency cache lookup failed", util.AccountField(account), zap.Error(err))
		} else if saleID != "" {
			var sale *models.FinalSale
			err := c.calls.read(ctx, "get sale", func(ctx context.Context) error {
				var err error
				sale, err = c.repo.GetSale(ctx, account, saleID)
				return err
			})
			if err == nil {
				return sale, nil
			}
		}
	}

	var sale *models.FinalSale
	err := c.calls.read(ctx, "find sale by idempotency key", func(ctx context.Context) error {
		var err error
		sale, err = c.repo.GetSaleByIdempotencyKey(ctx, account, key)
		return err
	})
	return sale, err
}

func (c *SaleCommitter) replay(sale *models.FinalSale) *CommitResult {
	if sale == nil {
		return nil
	}
	util.SaleReplaysTotal.Inc()
	c.logger.Info("duplicate commit answered from idempotency key",
		util.AccountField(sale.AccountID),
		zap.String("sale", models.FinalSalePath(sale.AccountID, sale.ID)))
	return &CommitResult{
		Sale:     sale,
		Warnings: []string{},
		Confirmation: Confirmation{
			Message:          "sale completed",
			DismissAfterMs:   c.cfg.DismissAfter.Milliseconds(),
			ReplayedResponse: true,
		},
	}
}

// afterCommit publishes events and refreshes caches. Failures are logged only.
func (c *SaleCommitter) afterCommit(ctx context.Context, req *CommitRequest, out *commitOutcome) {
	sale := out.sale
	ctx = context.WithoutCancel(ctx)

	util.SalesCommittedTotal.WithLabelValues(string(sale.PaymentMethod)).Inc()
	util.SaleLinesNotFoundTotal.Add(float64(len(out.plan.NotFound)))

	c.logger.Info("sale committed",
		util.AccountField(req.Account),
		zap.String("sale", models.FinalSalePath(req.Account, sale.ID)),
		zap.String("total", sale.TotalAmount.StringFixed(2)),
		zap.String("payment_method", string(sale.PaymentMethod)),
		zap.Int("lines", len(sale.Lines)),
		zap.Strings("not_found", out.plan.NotFound))

	lines := make([]models.SaleLineData, 0, len(sale.Lines))
	for _, l := range sale.Lines {
		lines = append(lines, models.SaleLineData{ProductID: l.ProductID, Name: l.Name, Price: l.Price})
	}
	if err := c.events.PublishSaleCommitted(ctx, &models.SaleCommittedEvent{
		BaseEvent:     models.NewBaseEvent(models.EventTypeSaleCommitted),
		AccountID:     req.Account,
		SaleID:        sale.ID,
		TotalAmount:   sale.TotalAmount,
		PaymentMethod: sale.PaymentMethod,
		Lines:         lines,
		NotFound:      out.plan.NotFound,
	}); err != nil {
		c.logger.Error("failed to publish SaleCommitted event", zap.Error(err))
	}

	for _, a := range out.applied {
		util.StockDecrementsTotal.Add(float64(a.Units))

		if err := c.events.PublishStockAdjusted(ctx, &models.StockAdjustedEvent{
			BaseEvent: models.NewBaseEvent(models.EventTypeStockAdjusted),
			AccountID: req.Account,
			ProductID: a.ProductID,
			Delta:     -a.Units,
			Quantity:  a.After.Quantity,
		}); err != nil {
			c.logger.Error("failed to publish StockAdjusted event", zap.Error(err))
		}

		if a.After.Quantity <= c.cfg.LowStockThreshold {
			if err := c.events.PublishLowStock(ctx, &models.LowStockEvent{
				BaseEvent: models.NewBaseEvent(models.EventTypeLowStock),
				AccountID: req.Account,
				ProductID: a.ProductID,
				Name:      a.After.Name,
				Quantity:  a.After.Quantity,
			}); err != nil {
				c.logger.Error("failed to publish LowStock event", zap.Error(err))
			}
		}

		if c.stock != nil {
			if err := c.stock.SetStock(ctx, req.Account, a.ProductID, a.After.Quantity, a.After.Version); err != nil {
				c.logger.Warn("failed to refresh stock cache", zap.Error(err))
			}
		}
	}

	if c.idem != nil && req.IdempotencyKey != "" {
		if err := c.idem.SetIdempotencyKey(ctx, req.Account, req.IdempotencyKey, sale.ID, c.cfg.IdempotencyTTL); err != nil {
			c.logger.Warn("failed to cache idempotency key", zap.Error(err))
		}
	}

	if c.notifier != nil {
		if err := c.notifier.PublishCartChange(ctx, req.Account, emptyCartPayload); err != nil {
			c.logger.Warn("failed to notify cart subscribers", zap.Error(err))
		}
	}
}

func (c *SaleCommitter) logFailure(account models.AccountID, err error) {
	var ce *ConsistencyError
	if errors.As(err, &ce) {
		c.logger.Error("sale commit left inconsistent state", util.AccountField(account), zap.Error(err))
		return
	}
	c.logger.Warn("sale commit failed", util.AccountField(account), zap.Error(err))
}

func failureReason(err error) string {
	var (
		ve *ValidationError
		ne *NotFoundError
		ie *InsufficientStockError
		ce *ConsistencyError
	)
	switch {
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &ne):
		return "not_found"
	case errors.As(err, &ie):
		return "insufficient_stock"
	case errors.As(err, &ce):
		return "consistency"
	case errors.Is(err, store.ErrVersionConflict):
		return "version_conflict"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	return "store_error"
}

// incrementStock adds units to a product, re-reading its version on conflict.
func incrementStock(ctx context.Context, repo store.Repository, account models.AccountID, productID string, units, retries int) (*models.Product, error) {
	if retries < 1 {
		retries = 1
	}
	var err error
	for attempt := 0; attempt < retries; attempt++ {
		var p *models.Product
		p, err = repo.GetProduct(ctx, account, productID)
		if err != nil {
			return nil, err
		}
		var after *models.Product
		after, err = repo.AdjustStock(ctx, account, productID, units, p.Version)
		if err == nil {
			return after, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, err
		}
	}
	return nil, err
}
