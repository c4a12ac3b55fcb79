package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketledger-backend/pkg/config"
	"github.com/angelmondragon/marketledger-backend/pkg/db/models"
	"github.com/angelmondragon/marketledger-backend/pkg/enums"
	"github.com/angelmondragon/marketledger-backend/pkg/outbox"
	"github.com/angelmondragon/marketledger-backend/pkg/outbox/payloads"
)

// EventDescriptor ties an event type to its aggregate, its topic and the
// payload struct it decodes into.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// NonRetryableError marks a row the publisher should dead-letter right away.
type NonRetryableError struct {
	Err error
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

func describe[T any](eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType, topic string) EventDescriptor {
	return EventDescriptor{
		EventType:      eventType,
		AggregateType:  aggregate,
		Topic:          topic,
		PayloadFactory: func() any { return new(T) },
	}
}

// NewEventRegistry routes order lifecycle events to the orders topic, money
// movement to the ledger topic and user alerts to the notification topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	var missing []error
	for _, topic := range []struct{ name, value string }{
		{"orders", cfg.OrdersTopic},
		{"ledger", cfg.LedgerTopic},
		{"notification", cfg.NotificationTopic},
	} {
		if topic.value == "" {
			missing = append(missing, fmt.Errorf("%s topic is required", topic.name))
		}
	}
	if err := errors.Join(missing...); err != nil {
		return nil, err
	}

	orders, ledger := cfg.OrdersTopic, cfg.LedgerTopic
	descriptors := []EventDescriptor{
		describe[payloads.OrderPlacedEvent](enums.EventOrderPlaced, enums.AggregateOrder, orders),
		describe[payloads.OrderStatusChangedEvent](enums.EventOrderStatusChanged, enums.AggregateOrder, orders),
		describe[payloads.DeliveryBroadcastEvent](enums.EventDeliveryBroadcast, enums.AggregateOrder, orders),
		describe[payloads.CourierAssignedEvent](enums.EventCourierAssigned, enums.AggregateOrder, orders),

		describe[payloads.OrderSettledEvent](enums.EventOrderSettled, enums.AggregateOrder, ledger),
		describe[payloads.OrderRefundedEvent](enums.EventOrderRefunded, enums.AggregateOrder, ledger),
		describe[payloads.WalletTransactionRecordedEvent](enums.EventWalletTransactionRecorded, enums.AggregateWalletTransaction, ledger),
		describe[payloads.PayoutRequestedEvent](enums.EventPayoutRequested, enums.AggregateWalletTransaction, ledger),
		describe[payloads.PayoutDecidedEvent](enums.EventPayoutDecided, enums.AggregateWalletTransaction, ledger),

		describe[payloads.NotificationRequestedEvent](enums.EventNotificationRequested, enums.AggregateNotification, cfg.NotificationTopic),
	}
	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor, len(descriptors))}
	for _, desc := range descriptors {
		reg.entries[desc.EventType] = desc
	}
	return reg, nil
}

func (r *EventRegistry) Descriptor(eventType enums.OutboxEventType) (EventDescriptor, bool) {
	desc, ok := r.entries[eventType]
	return desc, ok
}

// Resolve checks the row against its descriptor and decodes the typed
// payload. Every failure is non-retryable: the row will never get better.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	case desc.AggregateType != event.AggregateType:
		return nil, NewNonRetryableError(fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType))
	case event.AggregateID == uuid.Nil:
		return nil, NewNonRetryableError(errors.New("missing aggregate_id"))
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode envelope: %w", err))
	}
	data := bytes.TrimSpace(envelope.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, NewNonRetryableError(fmt.Errorf("payload missing for %s", event.EventType))
	}
	payload := desc.PayloadFactory()
	if err := json.Unmarshal(data, payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
