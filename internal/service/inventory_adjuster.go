package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"pos-service/internal/models"
	"pos-service/internal/store"
	"pos-service/internal/util"
)

// NegativeStockPolicy decides what happens when a sale would take a product below zero.
type NegativeStockPolicy string

const (
	// NegativeStockReject fails the commit with InsufficientStockError.
	NegativeStockReject NegativeStockPolicy = "reject"
	// NegativeStockAllow lets the quantity go negative and reports a warning.
	NegativeStockAllow NegativeStockPolicy = "allow"
)

// ParseNegativeStockPolicy falls back to reject for unknown values.
func ParseNegativeStockPolicy(s string) NegativeStockPolicy {
	if NegativeStockPolicy(s) == NegativeStockAllow {
		return NegativeStockAllow
	}
	return NegativeStockReject
}

// LineStatus is the outcome of resolving one cart line
type LineStatus string

const (
	LineMatched  LineStatus = "matched"
	LineNotFound LineStatus = "not_found"
)

// LineResult reports how a cart line was resolved against the catalog.
type LineResult struct {
	LineID    string     `json:"line_id"`
	Name      string     `json:"name"`
	ProductID string     `json:"product_id,omitempty"`
	Status    LineStatus `json:"status"`
}

// StockUpdate is the aggregated decrement for one product, taken against the
// version the product had when it was read.
type StockUpdate struct {
	Product models.Product
	Units   int
}

// Remaining is the quantity after the decrement.
func (u StockUpdate) Remaining() int {
	return u.Product.Quantity - u.Units
}

// AdjustmentPlan is the result of resolving a cart against the catalog.
type AdjustmentPlan struct {
	Results  []LineResult
	Updates  []StockUpdate
	NotFound []string
	Warnings []string
}

// AppliedAdjustment records a decrement that reached the store.
type AppliedAdjustment struct {
	ProductID string
	Units     int
	After     models.Product
}

// InventoryAdjuster resolves cart lines to products and applies one-unit-per-line decrements.
type InventoryAdjuster struct {
	policy NegativeStockPolicy
	logger *zap.Logger
}

// NewInventoryAdjuster creates an adjuster with the given negative stock policy
func NewInventoryAdjuster(policy NegativeStockPolicy, logger *zap.Logger) *InventoryAdjuster {
	if logger == nil {
		logger = util.Named("inventory-adjuster")
	}
	return &InventoryAdjuster{policy: policy, logger: logger}
}

// Plan resolves every line in order. Lines with a product id are matched by id,
// the rest by exact name. Unmatched lines are reported and skipped.
func (a *InventoryAdjuster) Plan(ctx context.Context, repo store.Repository, account models.AccountID, lines []models.CartLine) (*AdjustmentPlan, error) {
	plan := &AdjustmentPlan{Results: make([]LineResult, 0, len(lines))}
	index := make(map[string]int)

	for _, line := range lines {
		product, err := a.resolve(ctx, repo, account, line)
		if errors.Is(err, store.ErrNotFound) {
			plan.Results = append(plan.Results, LineResult{LineID: line.ID, Name: line.Name, ProductID: line.ProductID, Status: LineNotFound})
			plan.NotFound = append(plan.NotFound, line.Name)
			a.logger.Warn("sale line matches no product",
				util.AccountField(account),
				zap.String("line", models.PendingLinePath(account, line.ID)),
				zap.String("name", line.Name))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("resolve line %s: %w", line.ID, err)
		}

		plan.Results = append(plan.Results, LineResult{LineID: line.ID, Name: line.Name, ProductID: product.ID, Status: LineMatched})
		if i, ok := index[product.ID]; ok {
			plan.Updates[i].Units++
			continue
		}
		index[product.ID] = len(plan.Updates)
		plan.Updates = append(plan.Updates, StockUpdate{Product: *product, Units: 1})
	}

	for _, u := range plan.Updates {
		if u.Remaining() >= 0 {
			continue
		}
		if a.policy != NegativeStockAllow {
			return nil, &InsufficientStockError{
				ProductID: u.Product.ID,
				Name:      u.Product.Name,
				Available: u.Product.Quantity,
				Requested: u.Units,
			}
		}
		plan.Warnings = append(plan.Warnings,
			fmt.Sprintf("stock of %q is now %d", u.Product.Name, u.Remaining()))
	}

	return plan, nil
}

func (a *InventoryAdjuster) resolve(ctx context.Context, repo store.Repository, account models.AccountID, line models.CartLine) (*models.Product, error) {
	if line.ProductID != "" {
		return repo.GetProduct(ctx, account, line.ProductID)
	}
	return repo.FindProductByName(ctx, account, line.Name)
}

// Apply writes the planned decrements with compare-and-swap on each product's
// version. It returns what was applied before any failure so callers without
// transactions can undo it.
func (a *InventoryAdjuster) Apply(ctx context.Context, repo store.Repository, account models.AccountID, plan *AdjustmentPlan) ([]AppliedAdjustment, error) {
	applied := make([]AppliedAdjustment, 0, len(plan.Updates))
	for _, u := range plan.Updates {
		after, err := repo.AdjustStock(ctx, account, u.Product.ID, -u.Units, u.Product.Version)
		if err != nil {
			return applied, fmt.Errorf("decrement %s: %w", models.ProductPath(account, u.Product.ID), err)
		}
		if after.Quantity < 0 {
			util.NegativeStockWarningsTotal.Inc()
			a.logger.Warn("stock went negative",
				util.AccountField(account),
				zap.String("product", models.ProductPath(account, after.ID)),
				zap.Int("quantity", after.Quantity))
		}
		applied = append(applied, AppliedAdjustment{ProductID: u.Product.ID, Units: u.Units, After: *after})
	}
	return applied, nil
}
