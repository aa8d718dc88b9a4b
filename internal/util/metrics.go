package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SalesCommittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sales_committed_total",
		Help: "Total number of committed sales",
	}, []string{"payment_method"})

	SalesFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sales_failed_total",
		Help: "Total number of failed sale commits",
	}, []string{"reason"})

	SaleReplaysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sale_replays_total",
		Help: "Commits answered from an idempotency key",
	})

	SaleLinesNotFoundTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sale_lines_not_found_total",
		Help: "Sale lines that matched no product",
	})

	StockDecrementsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_decrements_total",
		Help: "Units removed from stock by sales",
	})

	NegativeStockWarningsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "negative_stock_warnings_total",
		Help: "Commits that left a product below zero",
	})

	StockConflictRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_conflict_retries_total",
		Help: "Commit attempts retried after a version conflict",
	})

	CompensationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_compensations_total",
		Help: "Stock compensation outcomes",
	}, []string{"outcome"})

	SaleCommitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sale_commit_latency_seconds",
		Help:    "Latency of sale commits",
		Buckets: prometheus.DefBuckets,
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
