package dispatch

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketledger-backend/internal/orders"
	"github.com/angelmondragon/marketledger-backend/pkg/db/models"
	"github.com/angelmondragon/marketledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketledger-backend/pkg/errors"
)

type handoff int

const (
	handoffPickup handoff = iota
	handoffDelivery
)

// VerifyPickup checks the pickup code and moves the order to its picked up
// state.
func (s *service) VerifyPickup(ctx context.Context, orderID, courierID uuid.UUID, code string) (*models.Order, error) {
	return s.verify(ctx, orderID, courierID, code, handoffPickup)
}

// VerifyDelivery checks the delivery code and moves the order to its
// fulfillment state, which settles it.
func (s *service) VerifyDelivery(ctx context.Context, orderID, courierID uuid.UUID, code string) (*models.Order, error) {
	return s.verify(ctx, orderID, courierID, code, handoffDelivery)
}

// verify compares digits only. Orders that never got a code (self delivered
// or assigned before codes existed) accept any input.
func (s *service) verify(ctx context.Context, orderID, courierID uuid.UUID, code string, step handoff) (*models.Order, error) {
	if orderID == uuid.Nil || courierID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id and courier id required")
	}

	var (
		order  *models.Order
		change *orders.Change
	)
	err := s.tx.InTx(ctx, func(tx *gorm.DB) error {
		var err error
		order, err = s.load(ctx, s.repo.WithTx(tx), orderID)
		if err != nil {
			return err
		}
		if order.AssignedCourierID == nil || *order.AssignedCourierID != courierID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "caller is not the assigned courier")
		}
		lc, err := orders.LifecycleFor(order.Kind)
		if err != nil {
			return err
		}

		target, expected := lc.PickedUp, order.PickupCode
		if step == handoffDelivery {
			target, expected = lc.Fulfilled, order.DeliveryCode
		}
		if target == "" {
			return pkgerrors.New(pkgerrors.CodeInvalidTransition, "order kind has no courier handoff")
		}
		if expected != nil && *expected != "" && normalizeCode(code) != *expected {
			return pkgerrors.New(pkgerrors.CodeCodeMismatch, "verification code does not match")
		}

		change, err = s.orders.ApplyTx(ctx, tx, order, target, orders.Actor{UserID: courierID, Role: enums.RoleCourier})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.orders.Notify(ctx, change)
	return order, nil
}
