package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"pos-service/internal/store"
)

var (
	// ErrLockBusy is wrapped in a retryable PersistenceError when another commit holds the account
	ErrLockBusy = errors.New("account is busy")
	// ErrLiveUnavailable is returned when cart subscriptions are not configured
	ErrLiveUnavailable = errors.New("live cart updates are not configured")
)

// ValidationError lists rejected input fields. Nothing has been written when it is returned.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func newValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// NotFoundError reports a missing product, sale, category or cart line.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
}

// InsufficientStockError is returned when a sale or cart addition would take stock below zero.
type InsufficientStockError struct {
	ProductID string
	Name      string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q: available %d, requested %d", e.Name, e.Available, e.Requested)
}

// PersistenceError wraps a store failure. Retryable failures may succeed if the
// client retries, with the same idempotency key for writes.
type PersistenceError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ConsistencyError means a partially applied commit could not be fully undone.
// A compensation request has been queued for the listed sale.
type ConsistencyError struct {
	SaleID string
	Err    error
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("sale %s left inconsistent state: %v", e.SaleID, e.Err)
}

func (e *ConsistencyError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a PersistenceError marked retryable.
func IsRetryable(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe) && pe.Retryable
}

// classify turns raw store errors into service errors. Domain errors pass through.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var (
		ve *ValidationError
		ne *NotFoundError
		ie *InsufficientStockError
		pe *PersistenceError
		ce *ConsistencyError
	)
	if errors.As(err, &ve) || errors.As(err, &ne) || errors.As(err, &ie) || errors.As(err, &pe) || errors.As(err, &ce) {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return &PersistenceError{Op: op, Retryable: true, Err: err}
	case errors.Is(err, store.ErrVersionConflict):
		return &PersistenceError{Op: op, Retryable: true, Err: err}
	}
	return &PersistenceError{Op: op, Err: err}
}
