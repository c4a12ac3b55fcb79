package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketledger-backend/api/responses"
	"github.com/angelmondragon/marketledger-backend/api/validators"
	"github.com/angelmondragon/marketledger-backend/pkg/db/models"
	"github.com/angelmondragon/marketledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketledger-backend/pkg/errors"
	"github.com/angelmondragon/marketledger-backend/pkg/logger"
)

// DeadLetterLister reads events the outbox publisher gave up on.
type DeadLetterLister interface {
	ListRecent(ctx context.Context, reason *enums.OutboxDLQErrorReason, limit int) ([]models.OutboxDLQ, error)
}

type deadLetterResponse struct {
	ID            uuid.UUID       `json:"id"`
	EventID       uuid.UUID       `json:"event_id"`
	EventType     string          `json:"event_type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   uuid.UUID       `json:"aggregate_id"`
	Reason        string          `json:"reason"`
	Error         *string         `json:"error,omitempty"`
	Attempts      int             `json:"attempts"`
	Payload       json.RawMessage `json:"payload"`
	FailedAt      time.Time       `json:"failed_at"`
}

// DeadLetters lists recent outbox dead letters, newest first. ?reason=
// narrows to max_attempts or non_retryable.
func DeadLetters(store DeadLetterLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("dead letter store"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 200)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var reason *enums.OutboxDLQErrorReason
		if raw := r.URL.Query().Get("reason"); raw != "" {
			parsed, err := enums.ParseOutboxDLQErrorReason(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid reason"))
				return
			}
			reason = &parsed
		}
		rows, err := store.ListRecent(r.Context(), reason, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list dead letters"))
			return
		}
		out := make([]deadLetterResponse, 0, len(rows))
		for _, row := range rows {
			out = append(out, deadLetterResponse{
				ID:            row.ID,
				EventID:       row.EventID,
				EventType:     string(row.EventType),
				AggregateType: string(row.AggregateType),
				AggregateID:   row.AggregateID,
				Reason:        string(row.ErrorReason),
				Error:         row.ErrorMessage,
				Attempts:      row.AttemptCount,
				Payload:       row.Payload,
				FailedAt:      row.FailedAt,
			})
		}
		responses.WriteSuccess(w, out)
	}
}
