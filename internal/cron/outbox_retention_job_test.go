package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/marketledger-backend/pkg/logger"
)

func TestOutboxRetentionJobDrainsInBatches(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	events := &fakeOutboxPruner{batches: []int64{2, 2, 1}}
	letters := &fakeDeadLetterPruner{batches: []int64{1}}
	job := newOutboxRetentionJob(t, OutboxRetentionJobParams{
		Outbox:           events,
		DeadLetters:      letters,
		TerminalAttempts: 10,
		BatchSize:        2,
	})
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if events.calls != 3 {
		t.Fatalf("expected 3 outbox batches, got %d", events.calls)
	}
	if want := now.Add(-defaultOutboxRetention); !events.cutoff.Equal(want) {
		t.Fatalf("expected cutoff %s, got %s", want, events.cutoff)
	}
	if events.terminal != 10 || events.limit != 2 {
		t.Fatalf("unexpected prune args terminal=%d limit=%d", events.terminal, events.limit)
	}
	if letters.calls != 1 {
		t.Fatalf("expected one dead letter batch, got %d", letters.calls)
	}
	if want := now.Add(-defaultDeadLetterRetention); !letters.cutoff.Equal(want) {
		t.Fatalf("expected dead letter cutoff %s, got %s", want, letters.cutoff)
	}
}

func TestOutboxRetentionJobSkipsDeadLettersWhenUnset(t *testing.T) {
	events := &fakeOutboxPruner{}
	job := newOutboxRetentionJob(t, OutboxRetentionJobParams{Outbox: events})

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if events.calls != 1 {
		t.Fatalf("expected a single empty batch, got %d", events.calls)
	}
	if events.terminal != defaultTerminalAttempts {
		t.Fatalf("expected default terminal attempts, got %d", events.terminal)
	}
}

func TestOutboxRetentionJobPropagatesError(t *testing.T) {
	events := &fakeOutboxPruner{err: errors.New("boom")}
	letters := &fakeDeadLetterPruner{}
	job := newOutboxRetentionJob(t, OutboxRetentionJobParams{Outbox: events, DeadLetters: letters})

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if letters.calls != 0 {
		t.Fatalf("dead letters pruned after outbox failure")
	}
}

func TestOutboxRetentionJobStopsOnCancel(t *testing.T) {
	events := &fakeOutboxPruner{batches: []int64{500, 500, 500}}
	job := newOutboxRetentionJob(t, OutboxRetentionJobParams{Outbox: events})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := job.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if events.calls != 0 {
		t.Fatalf("expected no batches after cancel, got %d", events.calls)
	}
}

func TestNewOutboxRetentionJobRequiresOutbox(t *testing.T) {
	_, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger: logger.New(logger.Options{ServiceName: "test"}),
		DB:     outboxRetentionTxRunner{},
	})
	if err == nil {
		t.Fatal("expected error without outbox repository")
	}
}

func newOutboxRetentionJob(t *testing.T, params OutboxRetentionJobParams) *outboxRetentionJob {
	t.Helper()
	params.Logger = logger.New(logger.Options{ServiceName: "test"})
	params.DB = outboxRetentionTxRunner{}
	jobIface, err := NewOutboxRetentionJob(params)
	if err != nil {
		t.Fatalf("NewOutboxRetentionJob: %v", err)
	}
	job, ok := jobIface.(*outboxRetentionJob)
	if !ok {
		t.Fatalf("expected outboxRetentionJob, got %T", jobIface)
	}
	return job
}

type fakeOutboxPruner struct {
	batches  []int64
	cutoff   time.Time
	terminal int
	limit    int
	calls    int
	err      error
}

func (f *fakeOutboxPruner) PruneBefore(_ context.Context, _ *gorm.DB, cutoff time.Time, terminalAttempts, limit int) (int64, error) {
	f.cutoff, f.terminal, f.limit = cutoff, terminalAttempts, limit
	if f.err != nil {
		return 0, f.err
	}
	return nextBatch(&f.batches, &f.calls), nil
}

type fakeDeadLetterPruner struct {
	batches []int64
	cutoff  time.Time
	calls   int
}

func (f *fakeDeadLetterPruner) PruneBefore(_ context.Context, _ *gorm.DB, cutoff time.Time, _ int) (int64, error) {
	f.cutoff = cutoff
	return nextBatch(&f.batches, &f.calls), nil
}

func nextBatch(batches *[]int64, calls *int) int64 {
	*calls++
	if len(*batches) == 0 {
		return 0
	}
	n := (*batches)[0]
	*batches = (*batches)[1:]
	return n
}

type outboxRetentionTxRunner struct{}

func (outboxRetentionTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}
