package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/marketledger-backend/pkg/logger"
)

const (
	defaultOutboxRetention     = 30 * 24 * time.Hour
	defaultDeadLetterRetention = 90 * 24 * time.Hour
	defaultTerminalAttempts    = 10
	pruneBatchSize             = 500
)

type OutboxRetentionJobParams struct {
	Logger              *logger.Logger
	DB                  txRunner
	Outbox              outboxPruner
	DeadLetters         deadLetterPruner
	Retention           time.Duration
	DeadLetterRetention time.Duration
	// TerminalAttempts must match the publisher's attempt ceiling so rows
	// still being retried are never pruned.
	TerminalAttempts int
	BatchSize        int
}

type outboxPruner interface {
	PruneBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, terminalAttempts, limit int) (int64, error)
}

type deadLetterPruner interface {
	PruneBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, limit int) (int64, error)
}

// NewOutboxRetentionJob prunes finished outbox rows, and dead letters when
// a dead letter store is supplied.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.DB == nil:
		return nil, errors.New("db runner required")
	case params.Outbox == nil:
		return nil, errors.New("outbox repository required")
	}
	job := &outboxRetentionJob{
		logg:         params.Logger,
		db:           params.DB,
		outbox:       params.Outbox,
		deadLetters:  params.DeadLetters,
		retention:    orDefault(params.Retention, defaultOutboxRetention),
		dlqRetention: orDefault(params.DeadLetterRetention, defaultDeadLetterRetention),
		terminal:     orDefault(params.TerminalAttempts, defaultTerminalAttempts),
		batch:        orDefault(params.BatchSize, pruneBatchSize),
		now:          time.Now,
	}
	return job, nil
}

type outboxRetentionJob struct {
	logg         *logger.Logger
	db           txRunner
	outbox       outboxPruner
	deadLetters  deadLetterPruner
	retention    time.Duration
	dlqRetention time.Duration
	terminal     int
	batch        int
	now          func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Every() time.Duration { return time.Hour }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	cutoff := now.Add(-j.retention)
	events, err := j.drain(ctx, func(tx *gorm.DB) (int64, error) {
		return j.outbox.PruneBefore(ctx, tx, cutoff, j.terminal, j.batch)
	})
	if err != nil {
		return fmt.Errorf("prune outbox events: %w", err)
	}

	var letters int64
	if j.deadLetters != nil {
		dlqCutoff := now.Add(-j.dlqRetention)
		letters, err = j.drain(ctx, func(tx *gorm.DB) (int64, error) {
			return j.deadLetters.PruneBefore(ctx, tx, dlqCutoff, j.batch)
		})
		if err != nil {
			return fmt.Errorf("prune dead letters: %w", err)
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":               cutoff,
		"terminal_attempts":    j.terminal,
		"events_deleted":       events,
		"dead_letters_deleted": letters,
	})
	j.logg.Info(logCtx, "outbox retention complete")
	return nil
}

// drain runs prune in short transactions until a batch comes back short.
func (j *outboxRetentionJob) drain(ctx context.Context, prune func(tx *gorm.DB) (int64, error)) (int64, error) {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		var n int64
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			n, err = prune(tx)
			return err
		})
		if err != nil {
			return total, err
		}
		total += n
		if n < int64(j.batch) {
			return total, nil
		}
	}
}

func orDefault[T int | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}
