// Package dispatch offers orders to couriers and resolves the accept race.
// Correctness rests on the retrying transaction and the order version check;
// there are no application level locks.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketledger-backend/internal/geo"
	"github.com/angelmondragon/marketledger-backend/internal/orders"
	dbpkg "github.com/angelmondragon/marketledger-backend/pkg/db"
	"github.com/angelmondragon/marketledger-backend/pkg/db/models"
	dbtypes "github.com/angelmondragon/marketledger-backend/pkg/db/types"
	"github.com/angelmondragon/marketledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketledger-backend/pkg/errors"
	"github.com/angelmondragon/marketledger-backend/pkg/logger"
	"github.com/angelmondragon/marketledger-backend/pkg/metrics"
	"github.com/angelmondragon/marketledger-backend/pkg/outbox"
	"github.com/angelmondragon/marketledger-backend/pkg/outbox/payloads"
)

const defaultRequestTTL = 2 * time.Minute

type txRunner interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// OrderMachine applies status changes inside dispatch transactions.
type OrderMachine interface {
	ApplyTx(ctx context.Context, tx *gorm.DB, order *models.Order, to enums.OrderStatus, actor orders.Actor) (*orders.Change, error)
	SaveTx(ctx context.Context, tx *gorm.DB, order *models.Order) error
	Notify(ctx context.Context, change *orders.Change)
}

// AcceptObserver records accept outcomes.
type AcceptObserver interface {
	ObserveAccept(outcome string)
}

// Candidate is a courier offered an order. Location is optional and only
// feeds the advisory distance.
type Candidate struct {
	CourierID uuid.UUID
	Location  *geo.Point
}

// Service is the dispatch engine.
type Service interface {
	Broadcast(ctx context.Context, orderID uuid.UUID, actor orders.Actor, candidates []Candidate) ([]models.DeliveryRequest, error)
	Accept(ctx context.Context, orderID, courierID uuid.UUID) (*models.Order, error)
	Reject(ctx context.Context, orderID, courierID uuid.UUID) error
	AssignSelf(ctx context.Context, orderID, ownerID uuid.UUID) (*models.Order, error)
	PendingFor(ctx context.Context, courierID uuid.UUID) ([]Offer, error)
	VerifyPickup(ctx context.Context, orderID, courierID uuid.UUID, code string) (*models.Order, error)
	VerifyDelivery(ctx context.Context, orderID, courierID uuid.UUID, code string) (*models.Order, error)
}

// ServiceParams wires the dispatch engine.
type ServiceParams struct {
	Repo       Repository
	Orders     OrderMachine
	Tx         txRunner
	Events     outbox.Emitter
	Notifier   orders.NotificationSender
	Metrics    AcceptObserver
	Logger     *logger.Logger
	RequestTTL time.Duration
}

type service struct {
	repo     Repository
	orders   OrderMachine
	tx       txRunner
	events   outbox.Emitter
	notifier orders.NotificationSender
	metrics  AcceptObserver
	logg     *logger.Logger
	ttl      time.Duration
}

// NewService builds the dispatch engine.
func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("dispatch repository required")
	case params.Orders == nil:
		return nil, fmt.Errorf("order machine required")
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Events == nil:
		return nil, fmt.Errorf("outbox emitter required")
	}
	ttl := params.RequestTTL
	if ttl <= 0 {
		ttl = defaultRequestTTL
	}
	return &service{
		repo:     params.Repo,
		orders:   params.Orders,
		tx:       params.Tx,
		events:   params.Events,
		notifier: params.Notifier,
		metrics:  params.Metrics,
		logg:     params.Logger,
		ttl:      ttl,
	}, nil
}

// Broadcast writes a pending slot per candidate and records the pool on the
// order. Candidates are told after commit, best effort.
func (s *service) Broadcast(ctx context.Context, orderID uuid.UUID, actor orders.Actor, candidates []Candidate) ([]models.DeliveryRequest, error) {
	pool, err := candidatePool(candidates)
	if err != nil {
		return nil, err
	}

	var (
		order *models.Order
		rows  []models.DeliveryRequest
	)
	err = s.tx.InTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		order, err = s.load(ctx, repo, orderID)
		if err != nil {
			return err
		}
		if !mayDispatch(order, actor) {
			return pkgerrors.New(pkgerrors.CodeForbidden, "caller may not dispatch this order")
		}
		if err := dispatchable(order); err != nil {
			return err
		}

		now := time.Now().UTC()
		expiresAt := now.Add(s.ttl)
		pickup := geo.Point{Lat: order.PickupLat, Lng: order.PickupLng}
		for _, c := range candidates {
			if c.CourierID == order.CustomerID {
				return pkgerrors.New(pkgerrors.CodeValidation, "customer cannot deliver their own order")
			}
			req := &models.DeliveryRequest{
				OrderID:   order.ID,
				CourierID: c.CourierID,
				Status:    enums.DeliveryRequestPending,
				ExpiresAt: &expiresAt,
			}
			if c.Location != nil && c.Location.Valid() && pickup.Valid() {
				km := geo.DistanceKm(*c.Location, pickup)
				req.DistanceKm = &km
			}
			if err := repo.Upsert(ctx, req); err != nil {
				return storeErr(err, "write delivery request")
			}
		}

		order.CandidatePool = pool
		if err := s.orders.SaveTx(ctx, tx, order); err != nil {
			return err
		}
		rows, err = repo.ListForOrder(ctx, order.ID)
		if err != nil {
			return storeErr(err, "list delivery requests")
		}
		return s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDeliveryBroadcast,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         actorRef(actor),
			Data: payloads.DeliveryBroadcastEvent{
				OrderID:    order.ID,
				CourierIDs: pool,
				ExpiresAt:  expiresAt,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	data := map[string]any{"order_id": order.ID.String(), "delivery_fee": order.DeliveryFee.String()}
	for _, courierID := range pool {
		s.notify(ctx, courierID, "New delivery request", fmt.Sprintf("A %s order is looking for a courier", order.Kind), enums.NotificationTypeDeliveryRequest, data)
	}
	return rows, nil
}

// Accept resolves the race for an order. Every attempt re-reads the order:
// the first commit sets the assignee and bumps the version, so every other
// attempt either fails the version check and retries or reads the assignee
// and stops with ALREADY_ASSIGNED.
func (s *service) Accept(ctx context.Context, orderID, courierID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil || courierID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id and courier id required")
	}

	var (
		order  *models.Order
		change *orders.Change
	)
	err := s.tx.InTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		order, err = s.load(ctx, repo, orderID)
		if err != nil {
			return err
		}
		if order.AssignedCourierID != nil {
			return alreadyAssigned(order.ID)
		}
		req, err := repo.FindRequest(ctx, order.ID, courierID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return storeErr(err, "load delivery request")
		}
		if req == nil || req.Status != enums.DeliveryRequestPending {
			return noPendingRequest(order.ID, courierID)
		}

		now := time.Now().UTC()
		flipped, err := repo.MarkAccepted(ctx, order.ID, courierID, now)
		if err != nil {
			return storeErr(err, "accept delivery request")
		}
		if !flipped {
			return fmt.Errorf("delivery request for order %s changed: %w", order.ID, dbpkg.ErrConflict)
		}
		if _, err := repo.ExpireOthers(ctx, order.ID, courierID, now); err != nil {
			return storeErr(err, "expire competing requests")
		}

		pickupCode, err := newCode()
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "pickup code")
		}
		deliveryCode, err := newCode()
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "delivery code")
		}
		courier := courierID
		order.AssignedCourierID = &courier
		order.PickupCode = &pickupCode
		order.DeliveryCode = &deliveryCode
		order.CandidatePool = dbtypes.UUIDArray{}

		change, err = s.assign(ctx, tx, order, orders.Actor{UserID: courierID, Role: enums.RoleCourier})
		if err != nil {
			return err
		}
		return s.emitAssigned(ctx, tx, order, courierID, false, now)
	})
	s.observe(err)
	if err != nil {
		return nil, err
	}
	if change != nil {
		s.orders.Notify(ctx, change)
	}
	return order, nil
}

// assign moves the order to its kind's assigned state when that is still
// ahead of it; an order already past it (a vendor that started preparing
// before dispatch) only has its assignment fields written.
func (s *service) assign(ctx context.Context, tx *gorm.DB, order *models.Order, actor orders.Actor) (*orders.Change, error) {
	lc, err := orders.LifecycleFor(order.Kind)
	if err != nil {
		return nil, err
	}
	if lc.Assigned != "" && lc.Allows(order.Status, lc.Assigned) {
		return s.orders.ApplyTx(ctx, tx, order, lc.Assigned, actor)
	}
	return nil, s.orders.SaveTx(ctx, tx, order)
}

func (s *service) observe(err error) {
	if s.metrics == nil {
		return
	}
	switch {
	case err == nil:
		s.metrics.ObserveAccept(metrics.AcceptWon)
	case pkgerrors.IsCode(err, pkgerrors.CodeAlreadyAssigned):
		s.metrics.ObserveAccept(metrics.AcceptAlreadyAssigned)
	case pkgerrors.IsCode(err, pkgerrors.CodeNoPendingRequest):
		s.metrics.ObserveAccept(metrics.AcceptNoPending)
	case pkgerrors.IsCode(err, pkgerrors.CodeTransactionConflict):
		s.metrics.ObserveAccept(metrics.AcceptConflict)
	default:
		s.metrics.ObserveAccept(metrics.AcceptError)
	}
}

// Reject closes the caller's own pending slot and nothing else.
func (s *service) Reject(ctx context.Context, orderID, courierID uuid.UUID) error {
	if orderID == uuid.Nil || courierID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id and courier id required")
	}
	flipped, err := s.repo.MarkRejected(ctx, orderID, courierID, time.Now().UTC())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reject delivery request")
	}
	if !flipped {
		return noPendingRequest(orderID, courierID)
	}
	return nil
}

// AssignSelf lets the vendor deliver personally. There is nobody to race,
// so it writes an accepted slot directly and generates no codes.
func (s *service) AssignSelf(ctx context.Context, orderID, ownerID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil || ownerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id and owner id required")
	}

	var (
		order  *models.Order
		change *orders.Change
	)
	err := s.tx.InTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		order, err = s.load(ctx, repo, orderID)
		if err != nil {
			return err
		}
		if order.VendorID == nil || *order.VendorID != ownerID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the vendor may deliver this order")
		}
		if order.Kind != enums.OrderKindDelivery {
			return pkgerrors.New(pkgerrors.CodeValidation, "only delivery orders can be self delivered")
		}
		if err := dispatchable(order); err != nil {
			return err
		}

		now := time.Now().UTC()
		if err := repo.Upsert(ctx, &models.DeliveryRequest{
			OrderID:     order.ID,
			CourierID:   ownerID,
			Status:      enums.DeliveryRequestAccepted,
			RespondedAt: &now,
		}); err != nil {
			return storeErr(err, "write delivery request")
		}
		if _, err := repo.ExpireOthers(ctx, order.ID, ownerID, now); err != nil {
			return storeErr(err, "expire competing requests")
		}

		owner := ownerID
		order.AssignedCourierID = &owner
		order.SelfDelivered = true
		order.CandidatePool = dbtypes.UUIDArray{}
		change, err = s.assign(ctx, tx, order, orders.Actor{UserID: ownerID, Role: enums.RoleVendor})
		if err != nil {
			return err
		}
		return s.emitAssigned(ctx, tx, order, ownerID, true, now)
	})
	if err != nil {
		return nil, err
	}
	if change != nil {
		s.orders.Notify(ctx, change)
	}
	return order, nil
}

// PendingFor lists the courier's open offers.
func (s *service) PendingFor(ctx context.Context, courierID uuid.UUID) ([]Offer, error) {
	if courierID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "courier id required")
	}
	offers, err := s.repo.ListOffers(ctx, courierID, time.Now().UTC())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list delivery offers")
	}
	return offers, nil
}

func (s *service) emitAssigned(ctx context.Context, tx *gorm.DB, order *models.Order, courierID uuid.UUID, self bool, at time.Time) error {
	role := enums.RoleCourier
	if self {
		role = enums.RoleVendor
	}
	return s.events.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventCourierAssigned,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         &outbox.ActorRef{UserID: courierID, Role: string(role)},
		Data: payloads.CourierAssignedEvent{
			OrderID:       order.ID,
			CourierID:     courierID,
			SelfDelivered: self,
			AssignedAt:    at,
		},
	})
}

func (s *service) notify(ctx context.Context, userID uuid.UUID, title, body string, kind enums.NotificationType, data map[string]any) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, userID, title, body, kind, data); err != nil && s.logg != nil {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"user_id": userID.String(),
			"error":   err.Error(),
		}), "dispatch notification failed")
	}
}

func (s *service) load(ctx context.Context, repo Repository, orderID uuid.UUID) (*models.Order, error) {
	order, err := repo.FindOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeOrderNotFound, "order not found").WithDetails(map[string]any{"order_id": orderID})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func dispatchable(order *models.Order) error {
	if order.AssignedCourierID != nil {
		return alreadyAssigned(order.ID)
	}
	lc, err := orders.LifecycleFor(order.Kind)
	if err != nil {
		return err
	}
	if !lc.Dispatchable(order.Status) {
		return pkgerrors.New(pkgerrors.CodeInvalidTransition, fmt.Sprintf("%s order in %s cannot be dispatched", order.Kind, order.Status))
	}
	return nil
}

// mayDispatch allows the vendor of an order, the customer of a ride and
// admins.
func mayDispatch(order *models.Order, actor orders.Actor) bool {
	switch {
	case actor.Role == enums.RoleAdmin:
		return true
	case order.VendorID != nil:
		return *order.VendorID == actor.UserID
	default:
		return order.Kind == enums.OrderKindRide && order.CustomerID == actor.UserID
	}
}

func candidatePool(candidates []Candidate) (dbtypes.UUIDArray, error) {
	if len(candidates) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one candidate required")
	}
	seen := make(map[uuid.UUID]struct{}, len(candidates))
	pool := make(dbtypes.UUIDArray, 0, len(candidates))
	for _, c := range candidates {
		if c.CourierID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "candidate courier id required")
		}
		if _, dup := seen[c.CourierID]; dup {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "duplicate candidate courier")
		}
		seen[c.CourierID] = struct{}{}
		pool = append(pool, c.CourierID)
	}
	return pool, nil
}

func actorRef(actor orders.Actor) *outbox.ActorRef {
	if actor.UserID == uuid.Nil {
		return nil
	}
	return &outbox.ActorRef{UserID: actor.UserID, Role: string(actor.Role)}
}

func alreadyAssigned(orderID uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeAlreadyAssigned, "order already has a courier").WithDetails(map[string]any{"order_id": orderID})
}

func noPendingRequest(orderID, courierID uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeNoPendingRequest, "no pending request for courier").
		WithDetails(map[string]any{"order_id": orderID, "courier_id": courierID})
}

func storeErr(err error, msg string) error {
	if dbpkg.IsConflict(err) {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}
