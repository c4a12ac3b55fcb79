package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/marketledger-backend/pkg/logger"
)

const notificationRetention = 30 * 24 * time.Hour

type NotificationCleanupJobParams struct {
	Logger        *logger.Logger
	Notifications readNotificationPruner
	MaxAge        time.Duration
}

// NewNotificationCleanupJob prunes read notifications past MaxAge. Unread
// rows stay in the feed.
func NewNotificationCleanupJob(params NotificationCleanupJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Notifications == nil {
		return nil, fmt.Errorf("notifications service required")
	}
	maxAge := params.MaxAge
	if maxAge <= 0 {
		maxAge = notificationRetention
	}
	return &notificationCleanupJob{
		logg:   params.Logger,
		notifs: params.Notifications,
		maxAge: maxAge,
		now:    time.Now,
	}, nil
}

type notificationCleanupJob struct {
	logg   *logger.Logger
	notifs readNotificationPruner
	maxAge time.Duration
	now    func() time.Time
}

func (j *notificationCleanupJob) Name() string { return "notification-cleanup" }

func (j *notificationCleanupJob) Every() time.Duration { return 24 * time.Hour }

func (j *notificationCleanupJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.maxAge)
	deleted, err := j.notifs.DeleteReadBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("notification cleanup: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"max_age":      j.maxAge.String(),
		"rows_deleted": deleted,
	})
	j.logg.Info(logCtx, "notification cleanup complete")
	return nil
}
