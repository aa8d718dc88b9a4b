package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pos-service/internal/models"
	"pos-service/internal/store"
	"pos-service/internal/util"
)

// TopProductsLimit caps the best-sellers list
const TopProductsLimit = 20

// DateRange selects whole days. To is inclusive: sales up to the end of that day match.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Filter converts the day range into the half-open [From, To+1day) sale filter.
func (r DateRange) Filter(method models.PaymentMethod) store.SaleFilter {
	f := store.SaleFilter{PaymentMethod: method}
	if !r.From.IsZero() {
		f.From = truncateDay(r.From)
	}
	if !r.To.IsZero() {
		f.To = truncateDay(r.To).AddDate(0, 0, 1)
	}
	return f
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SalesReport lists sales with their combined total
type SalesReport struct {
	Sales []models.FinalSale `json:"sales"`
	Count int                `json:"count"`
	Total decimal.Decimal    `json:"total"`
}

// DaySales aggregates the sales of one calendar day
type DaySales struct {
	Date   string          `json:"date"`
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

// ProductSales counts sold lines of one product name
type ProductSales struct {
	Name   string          `json:"name"`
	Units  int             `json:"units"`
	Amount decimal.Decimal `json:"amount"`
}

// PaymentUsage counts sales per payment method
type PaymentUsage struct {
	Method models.PaymentMethod `json:"method"`
	Count  int                  `json:"count"`
	Amount decimal.Decimal      `json:"amount"`
}

// SaleMargin is a sale's total against the cost of its matched products
type SaleMargin struct {
	SaleID    string          `json:"sale_id"`
	Total     decimal.Decimal `json:"total"`
	Cost      decimal.Decimal `json:"cost"`
	Margin    decimal.Decimal `json:"margin"`
	Unmatched []string        `json:"unmatched"`
}

// AnalyticsService answers read-only questions about committed sales.
type AnalyticsService struct {
	repo   store.Repository
	calls  callPolicy
	logger *zap.Logger
}

// NewAnalyticsService creates a new analytics service
func NewAnalyticsService(deps Dependencies, cfg CommitConfig, logger *zap.Logger) *AnalyticsService {
	if logger == nil {
		logger = util.Named("analytics")
	}
	return &AnalyticsService{repo: deps.Repo, calls: newCallPolicy(cfg.StoreTimeout), logger: logger}
}

func (s *AnalyticsService) sales(ctx context.Context, account models.AccountID, r DateRange, method models.PaymentMethod) ([]models.FinalSale, error) {
	if !r.From.IsZero() && !r.To.IsZero() && r.To.Before(r.From) {
		return nil, newValidationError("to", "must not be before from")
	}
	if method != "" && !method.Valid() {
		return nil, newValidationError("payment_method", "must be one of efectivo, debito, credito")
	}

	var sales []models.FinalSale
	err := s.calls.read(ctx, "list sales", func(ctx context.Context) error {
		var err error
		sales, err = s.repo.ListSales(ctx, account, r.Filter(method))
		return err
	})
	return sales, err
}

// ListSales returns sales in the range, optionally for one payment method.
func (s *AnalyticsService) ListSales(ctx context.Context, account models.AccountID, r DateRange, method models.PaymentMethod) (*SalesReport, error) {
	sales, err := s.sales(ctx, account, r, method)
	if err != nil {
		return nil, err
	}
	report := &SalesReport{Sales: sales, Count: len(sales), Total: decimal.Zero}
	for _, sale := range sales {
		report.Total = report.Total.Add(sale.TotalAmount)
	}
	return report, nil
}

// GetSale returns a committed sale
func (s *AnalyticsService) GetSale(ctx context.Context, account models.AccountID, id string) (*models.FinalSale, error) {
	var sale *models.FinalSale
	err := s.calls.read(ctx, "get sale", func(ctx context.Context) error {
		var err error
		sale, err = s.repo.GetSale(ctx, account, id)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, &NotFoundError{Kind: "sale", Key: id}
	}
	return sale, err
}

// SalesByDay groups sales per UTC calendar day, oldest first.
func (s *AnalyticsService) SalesByDay(ctx context.Context, account models.AccountID, r DateRange) ([]DaySales, error) {
	sales, err := s.sales(ctx, account, r, "")
	if err != nil {
		return nil, err
	}

	byDay := make(map[string]*DaySales)
	for _, sale := range sales {
		day := sale.SaleDateTime.UTC().Format("2006-01-02")
		d, ok := byDay[day]
		if !ok {
			d = &DaySales{Date: day, Amount: decimal.Zero}
			byDay[day] = d
		}
		d.Count++
		d.Amount = d.Amount.Add(sale.TotalAmount)
	}

	out := make([]DaySales, 0, len(byDay))
	for _, d := range byDay {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// TopProducts ranks product names by sold lines, capped at TopProductsLimit.
func (s *AnalyticsService) TopProducts(ctx context.Context, account models.AccountID, r DateRange) ([]ProductSales, error) {
	sales, err := s.sales(ctx, account, r, "")
	if err != nil {
		return nil, err
	}

	byName := make(map[string]*ProductSales)
	for _, sale := range sales {
		for _, line := range sale.Lines {
			p, ok := byName[line.Name]
			if !ok {
				p = &ProductSales{Name: line.Name, Amount: decimal.Zero}
				byName[line.Name] = p
			}
			p.Units++
			p.Amount = p.Amount.Add(line.Price)
		}
	}

	out := make([]ProductSales, 0, len(byName))
	for _, p := range byName {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Units != out[j].Units {
			return out[i].Units > out[j].Units
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > TopProductsLimit {
		out = out[:TopProductsLimit]
	}
	return out, nil
}

// PaymentMethods ranks payment methods by number of sales.
func (s *AnalyticsService) PaymentMethods(ctx context.Context, account models.AccountID, r DateRange) ([]PaymentUsage, error) {
	sales, err := s.sales(ctx, account, r, "")
	if err != nil {
		return nil, err
	}

	byMethod := make(map[models.PaymentMethod]*PaymentUsage)
	for _, sale := range sales {
		u, ok := byMethod[sale.PaymentMethod]
		if !ok {
			u = &PaymentUsage{Method: sale.PaymentMethod, Amount: decimal.Zero}
			byMethod[sale.PaymentMethod] = u
		}
		u.Count++
		u.Amount = u.Amount.Add(sale.TotalAmount)
	}

	out := make([]PaymentUsage, 0, len(byMethod))
	for _, u := range byMethod {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Method < out[j].Method
	})
	return out, nil
}

// Margin costs a sale with the current unit value of its products. Lines are
// matched by product id, else by name; unmatched lines add no cost.
func (s *AnalyticsService) Margin(ctx context.Context, account models.AccountID, saleID string) (*SaleMargin, error) {
	sale, err := s.GetSale(ctx, account, saleID)
	if err != nil {
		return nil, err
	}

	var products []models.Product
	err = s.calls.read(ctx, "list products", func(ctx context.Context) error {
		var err error
		products, err = s.repo.ListProducts(ctx, account, store.ProductFilter{})
		return err
	})
	if err != nil {
		return nil, err
	}
	byID := make(map[string]models.Product, len(products))
	byName := make(map[string]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
		byName[p.Name] = p
	}

	m := &SaleMargin{SaleID: sale.ID, Total: sale.TotalAmount, Cost: decimal.Zero, Unmatched: []string{}}
	for _, line := range sale.Lines {
		p, ok := byID[line.ProductID]
		if !ok {
			p, ok = byName[line.Name]
		}
		if !ok {
			m.Unmatched = append(m.Unmatched, line.Name)
			continue
		}
		m.Cost = m.Cost.Add(p.UnitValue)
	}
	m.Margin = m.Total.Sub(m.Cost)
	return m, nil
}
