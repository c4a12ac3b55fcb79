package cron

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type staleOrderCanceler interface {
	CancelStale(ctx context.Context, before time.Time, limit int) (int, error)
}

type pendingSettler interface {
	SettlePending(ctx context.Context, now time.Time, limit int) (int, error)
}

type readNotificationPruner interface {
	DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
