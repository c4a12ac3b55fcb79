package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/marketledger-backend/pkg/logger"
)

const pendingSettlementBatch = 200

// PendingSettlementJobParams configure the held-earnings sweep.
type PendingSettlementJobParams struct {
	Logger  *logger.Logger
	Payouts pendingSettler
	Limit   int
}

// NewPendingSettlementJob applies held credits whose settle_at has passed.
func NewPendingSettlementJob(params PendingSettlementJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payouts == nil {
		return nil, fmt.Errorf("payouts service required")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = pendingSettlementBatch
	}
	return &pendingSettlementJob{
		logg:    params.Logger,
		payouts: params.Payouts,
		limit:   limit,
		now:     time.Now,
	}, nil
}

type pendingSettlementJob struct {
	logg    *logger.Logger
	payouts pendingSettler
	limit   int
	now     func() time.Time
}

func (j *pendingSettlementJob) Name() string { return "pending-settlement" }

func (j *pendingSettlementJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	settled, err := j.payouts.SettlePending(ctx, now, j.limit)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"as_of":   now,
		"settled": settled,
	})
	if err != nil {
		// partial progress is committed; remaining rows are retried next cycle
		j.logg.Warn(logCtx, "pending settlement finished with errors")
		return fmt.Errorf("pending settlement: %w", err)
	}
	j.logg.Info(logCtx, "pending settlement sweep complete")
	return nil
}
