package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateOrder             OutboxAggregateType = "order"
	AggregateWalletTransaction OutboxAggregateType = "wallet_transaction"
	AggregateAccount           OutboxAggregateType = "account"
	AggregateNotification      OutboxAggregateType = "notification"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateWalletTransaction,
	AggregateAccount,
	AggregateNotification,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventOrderPlaced               OutboxEventType = "order_placed"
	EventOrderStatusChanged        OutboxEventType = "order_status_changed"
	EventDeliveryBroadcast         OutboxEventType = "delivery_broadcast"
	EventCourierAssigned           OutboxEventType = "courier_assigned"
	EventOrderSettled              OutboxEventType = "order_settled"
	EventOrderRefunded             OutboxEventType = "order_refunded"
	EventWalletTransactionRecorded OutboxEventType = "wallet_transaction_recorded"
	EventPayoutRequested           OutboxEventType = "payout_requested"
	EventPayoutDecided             OutboxEventType = "payout_decided"
	EventNotificationRequested     OutboxEventType = "notification_requested"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderPlaced,
	EventOrderStatusChanged,
	EventDeliveryBroadcast,
	EventCourierAssigned,
	EventOrderSettled,
	EventOrderRefunded,
	EventWalletTransactionRecorded,
	EventPayoutRequested,
	EventPayoutDecided,
	EventNotificationRequested,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
