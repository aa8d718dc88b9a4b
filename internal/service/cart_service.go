package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pos-service/internal/models"
	"pos-service/internal/store"
	"pos-service/internal/util"
)

var emptyCartPayload = mustMarshal(CartView{Lines: []models.CartLine{}, Total: decimal.Zero})

// CartView is the pending sale as shown to the UI
type CartView struct {
	Lines []models.CartLine `json:"lines"`
	Total decimal.Decimal   `json:"total"`
}

// CartService keeps the account's pending lines in the store's pending
// collection so the committer can clear them in the same unit of work.
type CartService struct {
	repo     store.Repository
	stock    StockCache
	notifier CartNotifier
	calls    callPolicy
	logger   *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(deps Dependencies, cfg CommitConfig, logger *zap.Logger) *CartService {
	if logger == nil {
		logger = util.Named("cart")
	}
	return &CartService{
		repo:     deps.Repo,
		stock:    deps.Stock,
		notifier: deps.Notifier,
		calls:    newCallPolicy(cfg.StoreTimeout),
		logger:   logger,
	}
}

// AddLine appends a line with no stock check.
func (s *CartService) AddLine(ctx context.Context, account models.AccountID, name string, price decimal.Decimal) (*models.CartLine, error) {
	name = strings.TrimSpace(name)
	fields := make(map[string]string)
	if name == "" {
		fields["name"] = "required"
	}
	if price.IsNegative() {
		fields["price"] = "must not be negative"
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	line := models.NewCart(account, nil).AddLine(name, price)
	return s.save(ctx, account, line)
}

// AddManualLine adds a line typed in by price only.
func (s *CartService) AddManualLine(ctx context.Context, account models.AccountID, price decimal.Decimal) (*models.CartLine, error) {
	return s.AddLine(ctx, account, models.ManualLineName, price)
}

// AddProduct adds one unit of a catalog product. Products without stock are refused.
func (s *CartService) AddProduct(ctx context.Context, account models.AccountID, productID string) (*models.CartLine, error) {
	ctx, span := util.StartAccountSpan(ctx, "CartService.AddProduct", account)
	defer span.End()

	var product *models.Product
	err := s.calls.read(ctx, "get product", func(ctx context.Context) error {
		var err error
		product, err = s.repo.GetProduct(ctx, account, productID)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, &NotFoundError{Kind: "product", Key: productID}
	}
	if err != nil {
		return nil, err
	}

	refreshStock(ctx, s.stock, s.logger, product)
	if product.Quantity < 1 {
		return nil, &InsufficientStockError{
			ProductID: product.ID,
			Name:      product.Name,
			Available: product.Quantity,
			Requested: 1,
		}
	}

	line := models.NewCart(account, nil).AddProductLine(product)
	return s.save(ctx, account, line)
}

func (s *CartService) save(ctx context.Context, account models.AccountID, line models.CartLine) (*models.CartLine, error) {
	err := s.calls.write(ctx, "add cart line", func(ctx context.Context) error {
		return s.repo.AddCartLine(ctx, &line)
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, account)
	return &line, nil
}

// RemoveLine deletes a pending line. Unknown ids are ignored.
func (s *CartService) RemoveLine(ctx context.Context, account models.AccountID, lineID string) error {
	err := s.calls.write(ctx, "remove cart line", func(ctx context.Context) error {
		return s.repo.DeleteCartLine(ctx, account, lineID)
	})
	if err != nil {
		return err
	}
	s.notify(ctx, account)
	return nil
}

// Clear drops every pending line of the account.
func (s *CartService) Clear(ctx context.Context, account models.AccountID) error {
	err := s.calls.write(ctx, "clear cart", func(ctx context.Context) error {
		return s.repo.ClearCart(ctx, account)
	})
	if err != nil {
		return err
	}
	s.notify(ctx, account)
	return nil
}

// Get returns the pending lines and their total.
func (s *CartService) Get(ctx context.Context, account models.AccountID) (*CartView, error) {
	cart, err := s.load(ctx, account)
	if err != nil {
		return nil, err
	}
	return &CartView{Lines: cart.Lines(), Total: cart.Total()}, nil
}

func (s *CartService) load(ctx context.Context, account models.AccountID) (*models.Cart, error) {
	var lines []models.CartLine
	err := s.calls.read(ctx, "list cart lines", func(ctx context.Context) error {
		var err error
		lines, err = s.repo.ListCartLines(ctx, account)
		return err
	})
	if err != nil {
		return nil, err
	}
	return models.NewCart(account, lines), nil
}

// Subscribe streams the cart view each time it changes.
func (s *CartService) Subscribe(ctx context.Context, account models.AccountID) (<-chan []byte, error) {
	if s.notifier == nil {
		return nil, ErrLiveUnavailable
	}
	return s.notifier.SubscribeCart(ctx, account)
}

func (s *CartService) notify(ctx context.Context, account models.AccountID) {
	if s.notifier == nil {
		return
	}
	view, err := s.Get(ctx, account)
	if err != nil {
		s.logger.Warn("failed to load cart for notification", util.AccountField(account), zap.Error(err))
		return
	}
	if err := s.notifier.PublishCartChange(ctx, account, mustMarshal(view)); err != nil {
		s.logger.Warn("failed to notify cart subscribers", util.AccountField(account), zap.Error(err))
	}
}

func mustMarshal(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// refreshStock mirrors a freshly read product into the stock cache.
func refreshStock(ctx context.Context, cache StockCache, logger *zap.Logger, p *models.Product) {
	if cache == nil {
		return
	}
	if err := cache.SetStock(ctx, p.AccountID, p.ID, p.Quantity, p.Version); err != nil {
		logger.Debug("failed to refresh stock cache", zap.Error(err))
	}
}
