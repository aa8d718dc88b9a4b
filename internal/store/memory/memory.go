package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"pos-service/internal/models"
	"pos-service/internal/store"
)

// Store is an in-memory Repository. WithTx works on a copy of the data and
// swaps it in only when the unit of work succeeds.
type Store struct {
	mu   *sync.Mutex
	data *state
	inTx bool
}

var (
	_ store.Repository = (*Store)(nil)
	_ store.Transactor = (*Store)(nil)
)

type state struct {
	products   map[string]models.Product
	categories map[string]models.Category
	cartLines  map[models.AccountID][]models.CartLine
	sales      map[string]models.FinalSale
	saleOrder  []string
	processed  map[string]string
}

func newState() *state {
	return &state{
		products:   make(map[string]models.Product),
		categories: make(map[string]models.Category),
		cartLines:  make(map[models.AccountID][]models.CartLine),
		sales:      make(map[string]models.FinalSale),
		processed:  make(map[string]string),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.categories {
		c.categories[k] = v
	}
	for k, v := range s.cartLines {
		c.cartLines[k] = append([]models.CartLine(nil), v...)
	}
	for k, v := range s.sales {
		c.sales[k] = v
	}
	c.saleOrder = append([]string(nil), s.saleOrder...)
	for k, v := range s.processed {
		c.processed[k] = v
	}
	return c
}

// New creates an empty store
func New() *Store {
	return &Store{mu: &sync.Mutex{}, data: newState()}
}

// lock guards access outside of a transaction; inside one the outer WithTx holds the mutex.
func (s *Store) lock(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.inTx {
		return func() {}, nil
	}
	s.mu.Lock()
	return s.mu.Unlock, nil
}

// WithTx runs fn against a snapshot and commits it if fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, repo store.Repository) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.data.clone()
	if err := fn(ctx, &Store{mu: s.mu, data: work, inTx: true}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.data = work
	return nil
}

func (s *Store) CreateProduct(ctx context.Context, p *models.Product) error {
	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	for _, existing := range s.data.products {
		if existing.AccountID == p.AccountID && existing.Name == p.Name {
			return fmt.Errorf("product %q: %w", p.Name, store.ErrDuplicate)
		}
	}
	if p.ID == "" {
		p.ID = models.NewID()
	}
	now := time.Now().UTC()
	p.Version = 1
	p.CreatedAt = now
	p.UpdatedAt = now
	s.data.products[p.ID] = *p
	return nil
}

func (s *Store) GetProduct(ctx context.Context, account models.AccountID, id string) (*models.Product, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.getProduct(account, id)
}

func (s *Store) getProduct(account models.AccountID, id string) (*models.Product, error) {
	p, ok := s.data.products[id]
	if !ok || p.AccountID != account {
		return nil, store.ErrNotFound
	}
	cp := p
	return &cp, nil
}

func (s *Store) FindProductByName(ctx context.Context, account models.AccountID, name string) (*models.Product, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	for _, p := range s.data.products {
		if p.AccountID == account && p.Name == name {
			cp := p
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListProducts(ctx context.Context, account models.AccountID, f store.ProductFilter) ([]models.Product, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	out := make([]models.Product, 0)
	needle := strings.ToLower(f.NameContains)
	for _, p := range s.data.products {
		if p.AccountID != account {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(p.Name), needle) {
			continue
		}
		if f.Category != "" && p.Category != f.Category {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) UpdateProduct(ctx context.Context, p *models.Product) error {
	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	current, err := s.getProduct(p.AccountID, p.ID)
	if err != nil {
		return err
	}
	if current.Version != p.Version {
		return store.ErrVersionConflict
	}
	for id, other := range s.data.products {
		if id != p.ID && other.AccountID == p.AccountID && other.Name == p.Name {
			return fmt.Errorf("product %q: %w", p.Name, store.ErrDuplicate)
		}
	}
	p.Version++
	p.CreatedAt = current.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	s.data.products[p.ID] = *p
	return nil
}

func (s *Store) AdjustStock(ctx context.Context, account models.AccountID, productID string, delta int, expectedVersion int64) (*models.Product, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	p, err := s.getProduct(account, productID)
	if err != nil {
		return nil, err
	}
	if p.Version != expectedVersion {
		return nil, store.ErrVersionConflict
	}
	p.Quantity += delta
	p.Version++
	p.UpdatedAt = time.Now().UTC()
	s.data.products[p.ID] = *p
	return p, nil
}

func (s *Store) DeleteProduct(ctx context.Context, account models.AccountID, id string) error {
	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := s.getProduct(account, id); err != nil {
		return err
	}
	delete(s.data.products, id)
	return nil
}

func (s *Store) CreateCategory(ctx context.Context, c *models.Category) error {
	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if c.ID == "" {
		c.ID = models.NewID()
	}
	c.CreatedAt = time.Now().UTC()
	s.data.categories[c.ID] = *c
	return nil
}

func (s *Store) ListCategories(ctx context.Context, account models.AccountID) ([]models.Category, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	out := make([]models.Category, 0)
	for _, c := range s.data.categories {
		if c.AccountID == account {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) DeleteCategory(ctx context.Context, account models.AccountID, id string) error {
	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	c, ok := s.data.categories[id]
	if !ok || c.AccountID != account {
		return store.ErrNotFound
	}
	delete(s.data.categories, id)
	return nil
}

func (s *Store) AddCartLine(ctx context.Context, line *models.CartLine) error {
	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if line.ID == "" {
		line.ID = models.NewID()
	}
	s.data.cartLines[line.AccountID] = append(s.data.cartLines[line.AccountID], *line)
	return nil
}

func (s *Store) ListCartLines(ctx context.Context, account models.AccountID) ([]models.CartLine, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return append([]models.CartLine{}, s.data.cartLines[account]...), nil
}

func (s *Store) DeleteCartLine(ctx context.Context, account models.AccountID, lineID string) error {
	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	lines := s.data.cartLines[account]
	for i, l := range lines {
		if l.ID == lineID {
			s.data.cartLines[account] = append(lines[:i:i], lines[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) ClearCart(ctx context.Context, account models.AccountID) error {
	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	delete(s.data.cartLines, account)
	return nil
}

func (s *Store) CreateSale(ctx context.Context, sale *models.FinalSale) error {
	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if sale.IdempotencyKey != "" {
		if existing := s.saleByKey(sale.AccountID, sale.IdempotencyKey); existing != nil {
			return fmt.Errorf("sale with idempotency key %q: %w", sale.IdempotencyKey, store.ErrDuplicate)
		}
	}
	if sale.ID == "" {
		sale.ID = models.NewID()
	}
	stored := *sale
	stored.Lines = append([]models.CartLine(nil), sale.Lines...)
	s.data.sales[sale.ID] = stored
	s.data.saleOrder = append(s.data.saleOrder, sale.ID)
	return nil
}

func (s *Store) saleByKey(account models.AccountID, key string) *models.FinalSale {
	for _, sale := range s.data.sales {
		if sale.AccountID == account && sale.IdempotencyKey == key {
			cp := sale
			return &cp
		}
	}
	return nil
}

func (s *Store) GetSale(ctx context.Context, account models.AccountID, id string) (*models.FinalSale, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sale, ok := s.data.sales[id]
	if !ok || sale.AccountID != account {
		return nil, store.ErrNotFound
	}
	return &sale, nil
}

func (s *Store) GetSaleByIdempotencyKey(ctx context.Context, account models.AccountID, key string) (*models.FinalSale, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.saleByKey(account, key), nil
}

func (s *Store) ListSales(ctx context.Context, account models.AccountID, f store.SaleFilter) ([]models.FinalSale, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	out := make([]models.FinalSale, 0)
	for _, id := range s.data.saleOrder {
		sale := s.data.sales[id]
		if sale.AccountID != account || !f.Match(&sale) {
			continue
		}
		out = append(out, sale)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SaleDateTime.Before(out[j].SaleDateTime) })
	return out, nil
}

func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return false, err
	}
	defer unlock()

	_, ok := s.data.processed[eventID]
	return ok, nil
}

func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	s.data.processed[eventID] = eventType
	return nil
}
