package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketledger-backend/pkg/db/models"
	"github.com/angelmondragon/marketledger-backend/pkg/enums"
)

type fakeDeadLetters struct {
	rows   []models.OutboxDLQ
	reason *enums.OutboxDLQErrorReason
	limit  int
}

func (f *fakeDeadLetters) ListRecent(_ context.Context, reason *enums.OutboxDLQErrorReason, limit int) ([]models.OutboxDLQ, error) {
	f.reason = reason
	f.limit = limit
	return f.rows, nil
}

func TestDeadLettersFiltersByReason(t *testing.T) {
	store := &fakeDeadLetters{rows: []models.OutboxDLQ{{
		ID:            uuid.New(),
		EventID:       uuid.New(),
		EventType:     enums.EventOrderSettled,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		ErrorReason:   enums.OutboxDLQReasonNonRetryable,
		Payload:       json.RawMessage(`{"order_id":"x"}`),
	}}}
	req := asCaller(httptest.NewRequest(http.MethodGet, "/api/v1/admin/outbox/dead-letters?reason=non_retryable&limit=5", nil), uuid.New(), enums.RoleAdmin)
	resp := httptest.NewRecorder()
	DeadLetters(store, testLogger())(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	require.NotNil(t, store.reason)
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, *store.reason)
	assert.Equal(t, 5, store.limit)
	assert.Contains(t, resp.Body.String(), `"reason":"non_retryable"`)
}

func TestDeadLettersRejectsUnknownReason(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/outbox/dead-letters?reason=bogus", nil)
	resp := httptest.NewRecorder()
	DeadLetters(&fakeDeadLetters{}, testLogger())(resp, req)

	require.Equal(t, http.StatusBadRequest, resp.Code)
}
