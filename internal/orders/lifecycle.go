package orders

import (
	"fmt"

	"github.com/angelmondragon/marketledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketledger-backend/pkg/errors"
)

// Lifecycle is the transition table of one order kind. Assigned, PickedUp
// and Fulfilled name the states reached by dispatch accept, a verified pickup
// code and a verified delivery code respectively; an empty value means the
// kind never reaches that step.
type Lifecycle struct {
	Kind      enums.OrderKind
	Initial   enums.OrderStatus
	Assigned  enums.OrderStatus
	PickedUp  enums.OrderStatus
	Fulfilled enums.OrderStatus

	dispatchable []enums.OrderStatus
	edges        map[enums.OrderStatus][]enums.OrderStatus
}

var lifecycles = map[enums.OrderKind]*Lifecycle{
	enums.OrderKindDelivery: {
		Kind:      enums.OrderKindDelivery,
		Initial:   enums.OrderStatusPending,
		Assigned:  enums.OrderStatusConfirmed,
		PickedUp:  enums.OrderStatusOutForDelivery,
		Fulfilled: enums.OrderStatusDelivered,
		dispatchable: []enums.OrderStatus{
			enums.OrderStatusPending,
			enums.OrderStatusConfirmed,
			enums.OrderStatusPreparing,
			enums.OrderStatusReadyForPickup,
		},
		// a courier holding the pickup code may collect before the vendor
		// marks the order ready
		edges: map[enums.OrderStatus][]enums.OrderStatus{
			enums.OrderStatusPaymentProcessing: {enums.OrderStatusPending, enums.OrderStatusCancelled},
			enums.OrderStatusPending:           {enums.OrderStatusConfirmed, enums.OrderStatusCancelled},
			enums.OrderStatusConfirmed:         {enums.OrderStatusPreparing, enums.OrderStatusReadyForPickup, enums.OrderStatusOutForDelivery, enums.OrderStatusCancelled, enums.OrderStatusRefundRequested},
			enums.OrderStatusPreparing:         {enums.OrderStatusReadyForPickup, enums.OrderStatusOutForDelivery, enums.OrderStatusCancelled, enums.OrderStatusRefundRequested},
			enums.OrderStatusReadyForPickup:    {enums.OrderStatusOutForDelivery, enums.OrderStatusRefundRequested},
			enums.OrderStatusOutForDelivery:    {enums.OrderStatusInTransit, enums.OrderStatusDelivered, enums.OrderStatusReturned},
			enums.OrderStatusInTransit:         {enums.OrderStatusDelivered, enums.OrderStatusReturned},
			enums.OrderStatusRefundRequested:   {enums.OrderStatusReturned, enums.OrderStatusCancelled},
		},
	},
	enums.OrderKindRide: {
		Kind:         enums.OrderKindRide,
		Initial:      enums.OrderStatusRideRequested,
		Assigned:     enums.OrderStatusRideAccepted,
		PickedUp:     enums.OrderStatusRideStarted,
		Fulfilled:    enums.OrderStatusRideCompleted,
		dispatchable: []enums.OrderStatus{enums.OrderStatusRideRequested},
		edges: map[enums.OrderStatus][]enums.OrderStatus{
			enums.OrderStatusPaymentProcessing: {enums.OrderStatusRideRequested, enums.OrderStatusCancelled},
			enums.OrderStatusRideRequested:     {enums.OrderStatusRideAccepted, enums.OrderStatusCancelled},
			enums.OrderStatusRideAccepted:      {enums.OrderStatusRideStarted, enums.OrderStatusCancelled},
			enums.OrderStatusRideStarted:       {enums.OrderStatusRideCompleted},
		},
	},
	enums.OrderKindPickup: {
		Kind:      enums.OrderKindPickup,
		Initial:   enums.OrderStatusPending,
		Fulfilled: enums.OrderStatusCompleted,
		edges: map[enums.OrderStatus][]enums.OrderStatus{
			enums.OrderStatusPaymentProcessing: {enums.OrderStatusPending, enums.OrderStatusCancelled},
			enums.OrderStatusPending:           {enums.OrderStatusConfirmed, enums.OrderStatusCancelled},
			enums.OrderStatusConfirmed:         {enums.OrderStatusPreparing, enums.OrderStatusReadyForPickup, enums.OrderStatusCancelled},
			enums.OrderStatusPreparing:         {enums.OrderStatusReadyForPickup, enums.OrderStatusCancelled},
			enums.OrderStatusReadyForPickup:    {enums.OrderStatusCompleted, enums.OrderStatusCancelled},
		},
	},
}

// LifecycleFor returns the table for kind.
func LifecycleFor(kind enums.OrderKind) (*Lifecycle, error) {
	lc, ok := lifecycles[kind]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown order kind %q", kind))
	}
	return lc, nil
}

// InitialStatus is where a new order starts. Gateway payments wait in
// payment_processing until the gateway confirms them.
func (l *Lifecycle) InitialStatus(method enums.PaymentMethod) enums.OrderStatus {
	if method == enums.PaymentMethodGateway {
		return enums.OrderStatusPaymentProcessing
	}
	return l.Initial
}

// Allows reports whether from -> to is an edge of the table. Terminal
// states have no outgoing edges.
func (l *Lifecycle) Allows(from, to enums.OrderStatus) bool {
	if from.IsTerminal() {
		return false
	}
	for _, next := range l.edges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Dispatchable reports whether couriers may still be offered the order.
func (l *Lifecycle) Dispatchable(status enums.OrderStatus) bool {
	for _, s := range l.dispatchable {
		if s == status {
			return true
		}
	}
	return false
}

// Check returns INVALID_TRANSITION when from -> to is not allowed.
func (l *Lifecycle) Check(from, to enums.OrderStatus) error {
	if l.Allows(from, to) {
		return nil
	}
	return invalidTransition(l.Kind, from, to)
}

func invalidTransition(kind enums.OrderKind, from, to enums.OrderStatus) error {
	return pkgerrors.New(pkgerrors.CodeInvalidTransition, fmt.Sprintf("cannot move %s order from %s to %s", kind, from, to)).
		WithDetails(map[string]any{"kind": kind, "from": from, "to": to})
}
