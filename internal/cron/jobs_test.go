package cron

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketledger-backend/pkg/logger"
)

type fakeCanceler struct {
	before time.Time
	limit  int
	n      int
	err    error
}

func (f *fakeCanceler) CancelStale(_ context.Context, before time.Time, limit int) (int, error) {
	f.before = before
	f.limit = limit
	return f.n, f.err
}

type fakeSettler struct {
	now   time.Time
	limit int
	n     int
	err   error
}

func (f *fakeSettler) SettlePending(_ context.Context, now time.Time, limit int) (int, error) {
	f.now = now
	f.limit = limit
	return f.n, f.err
}

type fakePruner struct {
	cutoff time.Time
	calls  int
	err    error
}

func (f *fakePruner) DeleteReadBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.calls++
	f.cutoff = cutoff
	return 3, f.err
}

func testLogger(buf *bytes.Buffer) *logger.Logger {
	return logger.New(logger.Options{ServiceName: "cron-test", Output: buf})
}

func TestPaymentTimeoutJobUsesCutoff(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	orders := &fakeCanceler{n: 2}
	job, err := NewPaymentTimeoutJob(PaymentTimeoutJobParams{
		Logger:  testLogger(&bytes.Buffer{}),
		Orders:  orders,
		Timeout: 45 * time.Minute,
	})
	require.NoError(t, err)
	job.(*paymentTimeoutJob).now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, "payment-timeout", job.Name())
	assert.True(t, orders.before.Equal(now.Add(-45*time.Minute)))
	assert.Equal(t, paymentTimeoutBatch, orders.limit)
}

func TestPaymentTimeoutJobDefaultsAndErrors(t *testing.T) {
	orders := &fakeCanceler{err: errors.New("db down")}
	job, err := NewPaymentTimeoutJob(PaymentTimeoutJobParams{Logger: testLogger(&bytes.Buffer{}), Orders: orders})
	require.NoError(t, err)
	assert.Equal(t, defaultPaymentTimeout, job.(*paymentTimeoutJob).timeout)

	assert.Error(t, job.Run(context.Background()))

	_, err = NewPaymentTimeoutJob(PaymentTimeoutJobParams{Logger: testLogger(&bytes.Buffer{})})
	assert.Error(t, err)
}

func TestPendingSettlementJobPassesClockAndLimit(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	payouts := &fakeSettler{n: 4}
	job, err := NewPendingSettlementJob(PendingSettlementJobParams{
		Logger:  testLogger(&bytes.Buffer{}),
		Payouts: payouts,
		Limit:   50,
	})
	require.NoError(t, err)
	job.(*pendingSettlementJob).now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	assert.True(t, payouts.now.Equal(now))
	assert.Equal(t, 50, payouts.limit)
}

func TestPendingSettlementJobLogsPartialFailure(t *testing.T) {
	var buf bytes.Buffer
	payouts := &fakeSettler{n: 1, err: errors.New("one row failed")}
	job, err := NewPendingSettlementJob(PendingSettlementJobParams{Logger: testLogger(&buf), Payouts: payouts})
	require.NoError(t, err)

	assert.Error(t, job.Run(context.Background()))
	assert.Contains(t, buf.String(), "pending settlement finished with errors")
	assert.Equal(t, pendingSettlementBatch, payouts.limit)
}

func TestNotificationCleanupJobCutoff(t *testing.T) {
	now := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	pruner := &fakePruner{}
	job, err := NewNotificationCleanupJob(NotificationCleanupJobParams{
		Logger:        testLogger(&bytes.Buffer{}),
		Notifications: pruner,
	})
	require.NoError(t, err)
	job.(*notificationCleanupJob).now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	assert.True(t, pruner.cutoff.Equal(now.Add(-notificationRetention)))
	assert.Equal(t, 1, pruner.calls)
}

func TestNotificationCleanupJobPropagatesError(t *testing.T) {
	pruner := &fakePruner{err: errors.New("boom")}
	job, err := NewNotificationCleanupJob(NotificationCleanupJobParams{
		Logger:        testLogger(&bytes.Buffer{}),
		Notifications: pruner,
		MaxAge:        time.Hour,
	})
	require.NoError(t, err)
	assert.Error(t, job.Run(context.Background()))
}
