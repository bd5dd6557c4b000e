package service

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/tenmo-ledger/internal/domain"
	"github.com/punchamoorthee/tenmo-ledger/pkg/logger"
	"github.com/shopspring/decimal"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_operations_total",
		Help: "Ledger operations processed, labeled by outcome",
	}, []string{"operation", "outcome"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_operation_duration_seconds",
		Help:    "Latency distribution of ledger operations",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"operation"})
)

const (
	outcomeOK          = "ok"
	outcomeRejected    = "rejected"
	outcomeLockTimeout = "lock_timeout"
	outcomeError       = "error"
)

func outcome(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, domain.ErrLockTimeout):
		return outcomeLockTimeout
	case errors.Is(err, domain.ErrStoreUnavailable):
		return outcomeError
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrSelfTransfer),
		errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrForbidden),
		errors.Is(err, domain.ErrAccountExists):
		return outcomeRejected
	default:
		return outcomeError
	}
}

// record publishes metrics for a finished operation and logs its result:
// info on success, warn when a business rule refused it, error otherwise.
func record(op string, start time.Time, err error, fields ...logger.Field) {
	res := outcome(err)
	operationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	operationsTotal.WithLabelValues(op, res).Inc()

	fields = append(fields, logger.String("operation", op), logger.Duration("elapsed", time.Since(start)))
	switch res {
	case outcomeOK:
		logger.Log.Info("ledger operation completed", fields...)
	case outcomeRejected, outcomeLockTimeout:
		logger.Log.Warn("ledger operation rejected", append(fields, logger.Error(err))...)
	default:
		logger.Log.Error("ledger operation failed", append(fields, logger.Error(err))...)
	}
}

// amountField logs the amount unless it is out of range, where formatting
// it could be arbitrarily expensive.
func amountField(amount decimal.Decimal) logger.Field {
	if domain.ValidateMoney(amount) != nil {
		return logger.String("amount", "out of range")
	}
	return logger.Money("amount", amount)
}
