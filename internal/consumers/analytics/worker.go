package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/marketledger-backend/pkg/enums"
	"github.com/angelmondragon/marketledger-backend/pkg/logger"
	"github.com/angelmondragon/marketledger-backend/pkg/outbox"
	"github.com/angelmondragon/marketledger-backend/pkg/outbox/idempotency"
)

// ConsumerName scopes this worker's idempotency keys.
const ConsumerName = "ledger-facts"

// Handler processes decoded ledger envelopes.
type Handler interface {
	Handle(ctx context.Context, envelope Envelope) error
}

type messageReceiver interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

type idempotencyChecker interface {
	Claim(ctx context.Context, eventID uuid.UUID) (idempotency.State, error)
	Complete(ctx context.Context, eventID uuid.UUID) error
	Release(ctx context.Context, eventID uuid.UUID) error
}

// Worker consumes the ledger subscription while honoring Redis idempotency.
type Worker struct {
	subscription messageReceiver
	handler      Handler
	manager      idempotencyChecker
	logg         *logger.Logger
}

// NewWorker wires the subscription to a handler.
func NewWorker(subscription messageReceiver, handler Handler, manager idempotencyChecker, logg *logger.Logger) (*Worker, error) {
	if subscription == nil {
		return nil, errors.New("ledger subscription is required")
	}
	if handler == nil {
		return nil, errors.New("ledger facts handler is required")
	}
	if manager == nil {
		return nil, errors.New("idempotency manager is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Worker{
		subscription: subscription,
		handler:      handler,
		manager:      manager,
		logg:         logg,
	}, nil
}

// Run receives messages until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	return w.subscription.Receive(ctx, func(innerCtx context.Context, msg *gcppubsub.Message) {
		if w.process(innerCtx, msg) {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// process reports whether the message should be redelivered.
func (w *Worker) process(ctx context.Context, msg *gcppubsub.Message) bool {
	fields := map[string]any{"message_id": msg.ID}

	envelope, err := decodeMessage(msg)
	if err != nil {
		fields["error"] = err.Error()
		w.logg.Warn(w.logg.WithFields(ctx, fields), "invalid ledger envelope")
		return false
	}
	fields["event_id"] = envelope.EventID.String()
	fields["event_type"] = envelope.EventType
	fields["aggregate_id"] = envelope.AggregateID
	logCtx := w.logg.WithFields(ctx, fields)

	state, err := w.manager.Claim(logCtx, envelope.EventID)
	if err != nil {
		w.logg.Error(logCtx, "idempotency claim failed", err)
		return true
	}
	switch state {
	case idempotency.Done:
		w.logg.Info(logCtx, "event already processed")
		return false
	case idempotency.InFlight:
		w.logg.Info(logCtx, "event in flight elsewhere, redelivering later")
		return true
	}

	if err := w.handler.Handle(logCtx, *envelope); err != nil {
		w.logg.Error(logCtx, "ledger facts handler error", err)
		if relErr := w.manager.Release(logCtx, envelope.EventID); relErr != nil {
			w.logg.Error(logCtx, "failed to release idempotency claim", relErr)
		}
		return true
	}
	// the row is stored; a failed mark only risks a duplicate insert, which
	// the insert id dedups
	if err := w.manager.Complete(logCtx, envelope.EventID); err != nil {
		w.logg.Error(logCtx, "failed to mark event processed", err)
	}

	w.logg.Info(logCtx, "ledger fact recorded")
	return false
}

func decodeMessage(msg *gcppubsub.Message) (*Envelope, error) {
	var stored outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &stored); err != nil {
		return nil, fmt.Errorf("decode payload envelope: %w", err)
	}

	eventType, err := enums.ParseOutboxEventType(strings.TrimSpace(msg.Attributes["event_type"]))
	if err != nil {
		return nil, fmt.Errorf("event_type: %w", err)
	}
	aggregateType, err := enums.ParseOutboxAggregateType(strings.TrimSpace(msg.Attributes["aggregate_type"]))
	if err != nil {
		return nil, fmt.Errorf("aggregate_type: %w", err)
	}

	rawID := strings.TrimSpace(stored.EventID)
	if rawID == "" {
		rawID = strings.TrimSpace(msg.Attributes["event_id"])
	}
	eventID, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("event_id: %w", err)
	}

	occurredAt := stored.OccurredAt
	if occurredAt.IsZero() {
		if parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(msg.Attributes["created_at"])); err == nil {
			occurredAt = parsed
		}
	}

	return &Envelope{
		EventID:       eventID,
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   strings.TrimSpace(msg.Attributes["aggregate_id"]),
		Version:       stored.Version,
		OccurredAt:    occurredAt.UTC(),
		Payload:       stored.Data,
	}, nil
}
