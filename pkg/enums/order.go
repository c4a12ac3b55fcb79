package enums

import "fmt"

// OrderKind selects the lifecycle an order follows.
type OrderKind string

const (
	OrderKindDelivery OrderKind = "delivery"
	OrderKindRide     OrderKind = "ride"
	OrderKindPickup   OrderKind = "pickup"
)

var validOrderKinds = []OrderKind{OrderKindDelivery, OrderKindRide, OrderKindPickup}

func (k OrderKind) IsValid() bool {
	for _, candidate := range validOrderKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

func ParseOrderKind(value string) (OrderKind, error) {
	for _, candidate := range validOrderKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order kind %q", value)
}

// OrderStatus maps to the order_status enum in Postgres.
type OrderStatus string

const (
	OrderStatusPaymentProcessing OrderStatus = "payment_processing"
	OrderStatusPending           OrderStatus = "pending"
	OrderStatusConfirmed         OrderStatus = "confirmed"
	OrderStatusPreparing         OrderStatus = "preparing"
	OrderStatusReadyForPickup    OrderStatus = "ready_for_pickup"
	OrderStatusOutForDelivery    OrderStatus = "out_for_delivery"
	OrderStatusInTransit         OrderStatus = "in_transit"
	OrderStatusDelivered         OrderStatus = "delivered"
	OrderStatusCompleted         OrderStatus = "completed"
	OrderStatusCancelled         OrderStatus = "cancelled"
	OrderStatusRefundRequested   OrderStatus = "refund_requested"
	OrderStatusReturned          OrderStatus = "returned"
	OrderStatusRideRequested     OrderStatus = "ride_requested"
	OrderStatusRideAccepted      OrderStatus = "ride_accepted"
	OrderStatusRideStarted       OrderStatus = "ride_started"
	OrderStatusRideCompleted     OrderStatus = "ride_completed"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusPaymentProcessing,
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusPreparing,
	OrderStatusReadyForPickup,
	OrderStatusOutForDelivery,
	OrderStatusInTransit,
	OrderStatusDelivered,
	OrderStatusCompleted,
	OrderStatusCancelled,
	OrderStatusRefundRequested,
	OrderStatusReturned,
	OrderStatusRideRequested,
	OrderStatusRideAccepted,
	OrderStatusRideStarted,
	OrderStatusRideCompleted,
}

func (s OrderStatus) String() string {
	return string(s)
}

func (s OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition may leave the status.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusDelivered, OrderStatusCompleted, OrderStatusRideCompleted,
		OrderStatusCancelled, OrderStatusReturned:
		return true
	}
	return false
}

func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}
