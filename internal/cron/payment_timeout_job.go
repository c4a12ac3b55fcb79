package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/marketledger-backend/pkg/logger"
)

const (
	defaultPaymentTimeout = 30 * time.Minute
	paymentTimeoutBatch   = 200
)

// PaymentTimeoutJobParams configure the abandoned-payment sweep.
type PaymentTimeoutJobParams struct {
	Logger  *logger.Logger
	Orders  staleOrderCanceler
	Timeout time.Duration
	Limit   int
}

// NewPaymentTimeoutJob cancels orders that have waited on the payment gateway
// longer than Timeout.
func NewPaymentTimeoutJob(params PaymentTimeoutJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = defaultPaymentTimeout
	}
	limit := params.Limit
	if limit <= 0 {
		limit = paymentTimeoutBatch
	}
	return &paymentTimeoutJob{
		logg:    params.Logger,
		orders:  params.Orders,
		timeout: timeout,
		limit:   limit,
		now:     time.Now,
	}, nil
}

type paymentTimeoutJob struct {
	logg    *logger.Logger
	orders  staleOrderCanceler
	timeout time.Duration
	limit   int
	now     func() time.Time
}

func (j *paymentTimeoutJob) Name() string { return "payment-timeout" }

func (j *paymentTimeoutJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.timeout)
	cancelled, err := j.orders.CancelStale(ctx, cutoff, j.limit)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":    cutoff,
		"cancelled": cancelled,
	})
	if err != nil {
		return fmt.Errorf("payment timeout: %w", err)
	}
	j.logg.Info(logCtx, "payment timeout sweep complete")
	return nil
}
