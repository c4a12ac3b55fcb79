package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketledger-backend/pkg/db/dbtest"
	"github.com/angelmondragon/marketledger-backend/pkg/db/models"
	"github.com/angelmondragon/marketledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketledger-backend/pkg/errors"
	"github.com/angelmondragon/marketledger-backend/pkg/outbox"
	"github.com/angelmondragon/marketledger-backend/pkg/outbox/payloads"
	paginationpkg "github.com/angelmondragon/marketledger-backend/pkg/pagination"
)

type fakeRepository struct {
	listFn        func(ctx context.Context, params listNotificationsParams) ([]models.Notification, *paginationpkg.Cursor, error)
	markReadFn    func(ctx context.Context, userID, notificationID uuid.UUID, now time.Time) (markOutcome, error)
	markAllReadFn func(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error)
	unread        int64
}

func (f *fakeRepository) WithTx(tx *gorm.DB) Repository {
	return f
}

func (f *fakeRepository) Create(ctx context.Context, notification *models.Notification) error {
	return nil
}

func (f *fakeRepository) List(ctx context.Context, params listNotificationsParams) ([]models.Notification, *paginationpkg.Cursor, error) {
	if f.listFn != nil {
		return f.listFn(ctx, params)
	}
	return nil, nil, nil
}

func (f *fakeRepository) MarkRead(ctx context.Context, userID, notificationID uuid.UUID, now time.Time) (markOutcome, error) {
	if f.markReadFn != nil {
		return f.markReadFn(ctx, userID, notificationID, now)
	}
	return markMissing, nil
}

func (f *fakeRepository) CountUnread(ctx context.Context, userID uuid.UUID) (int64, error) {
	return f.unread, nil
}

func (f *fakeRepository) MarkAllRead(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	if f.markAllReadFn != nil {
		return f.markAllReadFn(ctx, userID, now)
	}
	return 0, nil
}

func (f *fakeRepository) DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type directTx struct{}

func (directTx) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []outbox.DomainEvent
	err    error
}

func (r *recordingEmitter) Emit(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, event)
	return nil
}

func newServiceWithRepo(repo Repository) Service {
	svc, _ := NewService(repo, directTx{}, &recordingEmitter{})
	return svc
}

func newStoredService(t *testing.T, emitter *recordingEmitter) (Service, *gorm.DB) {
	t.Helper()
	client := dbtest.Open(t)
	svc, err := NewService(NewRepository(client.DB()), client, emitter)
	require.NoError(t, err)
	return svc, client.DB()
}

func TestService_ListNotifications(t *testing.T) {
	first := models.Notification{ID: uuid.New(), CreatedAt: time.Now().Add(-time.Hour)}
	second := models.Notification{ID: uuid.New(), CreatedAt: time.Now()}

	repo := &fakeRepository{
		listFn: func(ctx context.Context, params listNotificationsParams) ([]models.Notification, *paginationpkg.Cursor, error) {
			if params.Limit != 1 {
				t.Fatalf("unexpected limit %d", params.Limit)
			}
			return []models.Notification{first}, &paginationpkg.Cursor{CreatedAt: second.CreatedAt, ID: second.ID}, nil
		},
	}

	svc := newServiceWithRepo(repo)
	result, err := svc.List(context.Background(), ListParams{UserID: uuid.New(), Limit: 1})
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(result.Items) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(result.Items))
	}
	if result.Cursor == "" {
		t.Fatal("expected cursor for next page")
	}
	decoded, err := paginationpkg.ParseCursor(result.Cursor)
	if err != nil {
		t.Fatalf("invalid cursor %q: %v", result.Cursor, err)
	}
	if decoded.ID != second.ID {
		t.Fatalf("expected cursor id %s got %s", second.ID, decoded.ID)
	}
}

func TestService_ListNotificationsInvalidCursor(t *testing.T) {
	svc := newServiceWithRepo(&fakeRepository{})
	_, err := svc.List(context.Background(), ListParams{UserID: uuid.New(), Cursor: "bad"})
	if err == nil {
		t.Fatal("expected error for invalid cursor")
	}
	errCode := pkgerrors.As(err).Code()
	if errCode != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %s", errCode)
	}
}

func TestService_MarkRead(t *testing.T) {
	repo := &fakeRepository{
		markReadFn: func(ctx context.Context, userID, notificationID uuid.UUID, now time.Time) (markOutcome, error) {
			return markUpdated, nil
		},
	}
	svc := newServiceWithRepo(repo)
	if err := svc.MarkRead(context.Background(), uuid.New(), uuid.New()); err != nil {
		t.Fatalf("unexpected mark read error: %v", err)
	}
}

func TestService_MarkReadNotFound(t *testing.T) {
	repo := &fakeRepository{
		markReadFn: func(ctx context.Context, userID, notificationID uuid.UUID, now time.Time) (markOutcome, error) {
			return markMissing, nil
		},
	}
	svc := newServiceWithRepo(repo)
	if err := svc.MarkRead(context.Background(), uuid.New(), uuid.New()); err == nil {
		t.Fatal("expected not found error")
	} else if pkgerrors.As(err).Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestService_MarkAllReadError(t *testing.T) {
	repo := &fakeRepository{
		markAllReadFn: func(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error) {
			return 0, errors.New("boom")
		},
	}
	svc := newServiceWithRepo(repo)
	if _, err := svc.MarkAllRead(context.Background(), uuid.New()); err == nil {
		t.Fatal("expected error")
	}
}

func TestService_NotifyPersistsAndQueuesEvent(t *testing.T) {
	emitter := &recordingEmitter{}
	svc, db := newStoredService(t, emitter)
	userID := uuid.New()

	err := svc.Notify(context.Background(), userID, " Order update ", "Your order is on its way", enums.NotificationTypeOrderUpdate, map[string]any{"order_id": "abc"})
	require.NoError(t, err)

	var rows []models.Notification
	require.NoError(t, db.Where("user_id = ?", userID).Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "Order update", rows[0].Title)
	assert.Nil(t, rows[0].ReadAt)
	var data map[string]string
	require.NoError(t, json.Unmarshal(rows[0].Data, &data))
	assert.Equal(t, "abc", data["order_id"])

	require.Len(t, emitter.events, 1)
	event := emitter.events[0]
	assert.Equal(t, enums.EventNotificationRequested, event.EventType)
	assert.Equal(t, rows[0].ID, event.AggregateID)
	payload, ok := event.Data.(payloads.NotificationRequestedEvent)
	require.True(t, ok)
	assert.Equal(t, userID, payload.UserID)
}

func TestService_NotifyRollsBackWhenEmitFails(t *testing.T) {
	emitter := &recordingEmitter{err: errors.New("outbox down")}
	svc, db := newStoredService(t, emitter)
	userID := uuid.New()

	err := svc.Notify(context.Background(), userID, "Payout update", "", enums.NotificationTypePayout, nil)
	require.Error(t, err)

	var count int64
	require.NoError(t, db.Model(&models.Notification{}).Where("user_id = ?", userID).Count(&count).Error)
	assert.Zero(t, count)
}

func TestService_NotifyValidation(t *testing.T) {
	svc := newServiceWithRepo(&fakeRepository{})

	err := svc.Notify(context.Background(), uuid.Nil, "t", "", enums.NotificationTypeSystem, nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	err = svc.Notify(context.Background(), uuid.New(), "  ", "", enums.NotificationTypeSystem, nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	err = svc.Notify(context.Background(), uuid.New(), "t", "", enums.NotificationType("sms"), nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestService_FeedIsScopedToUser(t *testing.T) {
	svc, _ := newStoredService(t, &recordingEmitter{})
	ctx := context.Background()
	owner, other := uuid.New(), uuid.New()

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Notify(ctx, owner, "hello", "", enums.NotificationTypeSystem, nil))
	}
	require.NoError(t, svc.Notify(ctx, other, "hello", "", enums.NotificationTypeSystem, nil))

	page, err := svc.List(ctx, ListParams{UserID: owner, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.Cursor)
	rest, err := svc.List(ctx, ListParams{UserID: owner, Limit: 2, Cursor: page.Cursor})
	require.NoError(t, err)
	require.Len(t, rest.Items, 1)
	assert.Empty(t, rest.Cursor)

	target := page.Items[0].ID
	err = svc.MarkRead(ctx, other, target)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "another user's notification is invisible")
	require.NoError(t, svc.MarkRead(ctx, owner, target))
	require.NoError(t, svc.MarkRead(ctx, owner, target), "marking twice is a no-op")

	unread, err := svc.List(ctx, ListParams{UserID: owner, UnreadOnly: true})
	require.NoError(t, err)
	assert.Len(t, unread.Items, 2)
	assert.EqualValues(t, 2, unread.UnreadCount)

	count, err := svc.MarkAllRead(ctx, owner)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestService_DeleteReadBeforeKeepsUnread(t *testing.T) {
	svc, db := newStoredService(t, &recordingEmitter{})
	ctx := context.Background()
	userID := uuid.New()
	old := time.Now().UTC().Add(-40 * 24 * time.Hour)
	readAt := old.Add(time.Hour)

	rows := []models.Notification{
		{UserID: userID, Type: enums.NotificationTypeSystem, Title: "old read", CreatedAt: old, ReadAt: &readAt},
		{UserID: userID, Type: enums.NotificationTypeSystem, Title: "old unread", CreatedAt: old},
		{UserID: userID, Type: enums.NotificationTypeSystem, Title: "fresh read", ReadAt: &readAt},
	}
	require.NoError(t, db.Create(&rows).Error)

	deleted, err := svc.DeleteReadBefore(ctx, time.Now().UTC().Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	var titles []string
	require.NoError(t, db.Model(&models.Notification{}).Where("user_id = ?", userID).Order("title").Pluck("title", &titles).Error)
	assert.Equal(t, []string{"fresh read", "old unread"}, titles)
}
