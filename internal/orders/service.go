// Package orders owns the order lifecycle: placement, the per-kind status
// tables and the side effects that hang off a status change.
package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketledger-backend/internal/geo"
	"github.com/angelmondragon/marketledger-backend/internal/settlement"
	"github.com/angelmondragon/marketledger-backend/internal/wallet"
	dbpkg "github.com/angelmondragon/marketledger-backend/pkg/db"
	"github.com/angelmondragon/marketledger-backend/pkg/db/models"
	dbtypes "github.com/angelmondragon/marketledger-backend/pkg/db/types"
	"github.com/angelmondragon/marketledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketledger-backend/pkg/errors"
	"github.com/angelmondragon/marketledger-backend/pkg/logger"
	"github.com/angelmondragon/marketledger-backend/pkg/outbox"
	"github.com/angelmondragon/marketledger-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/marketledger-backend/pkg/pagination"
)

type txRunner interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Settler settles fulfilled orders and refunds cancelled wallet payments
// inside the caller's transaction.
type Settler interface {
	SettleTx(ctx context.Context, tx *gorm.DB, order *models.Order) (*settlement.Outcome, error)
	RefundPaymentTx(ctx context.Context, tx *gorm.DB, order *models.Order, actorID *uuid.UUID) (bool, error)
}

// Ledger hands out transaction-bound wallet postings.
type Ledger interface {
	Postings(tx *gorm.DB) *wallet.Postings
}

// Locator resolves raw coordinates or place ids.
type Locator interface {
	Resolve(ctx context.Context, loc geo.Location) (geo.Point, error)
}

// NotificationSender delivers best-effort alerts to users.
type NotificationSender interface {
	Notify(ctx context.Context, userID uuid.UUID, title, body string, kind enums.NotificationType, data map[string]any) error
}

// Actor is whoever asked for a change. A nil UserID with the admin role is
// the system itself.
type Actor struct {
	UserID uuid.UUID
	Role   enums.Role
}

// SystemActor is used by scheduled jobs.
var SystemActor = Actor{Role: enums.RoleAdmin}

func (a Actor) idPtr() *uuid.UUID {
	if a.UserID == uuid.Nil {
		return nil
	}
	id := a.UserID
	return &id
}

// PlaceInput describes a new order. Subtotal is the product amount (or the
// fare for rides). The delivery fee is quoted from the route unless a
// trusted caller fixes it; buyer requests never set it. The reseller rate is
// read from the vendor account.
type PlaceInput struct {
	Kind          enums.OrderKind
	CustomerID    uuid.UUID
	VendorID      *uuid.UUID
	Category      string
	PaymentMethod enums.PaymentMethod
	Subtotal      decimal.Decimal
	DeliveryFee   *decimal.Decimal
	Pickup        *geo.Location
	Dropoff       *geo.Location
}

// Change is the outcome of one applied transition.
type Change struct {
	Order      *models.Order
	From       enums.OrderStatus
	To         enums.OrderStatus
	Settlement *settlement.Outcome
	Refunded   bool
}

// OrderList is one page of orders, newest first.
type OrderList struct {
	Items  []models.Order `json:"items"`
	Cursor string         `json:"cursor,omitempty"`
}

// Service defines the order lifecycle operations.
type Service interface {
	Place(ctx context.Context, input PlaceInput) (*models.Order, error)
	Transition(ctx context.Context, orderID uuid.UUID, to enums.OrderStatus, actor Actor) (*models.Order, error)
	ApplyTx(ctx context.Context, tx *gorm.DB, order *models.Order, to enums.OrderStatus, actor Actor) (*Change, error)
	SaveTx(ctx context.Context, tx *gorm.DB, order *models.Order) error
	Notify(ctx context.Context, change *Change)
	Get(ctx context.Context, orderID uuid.UUID, actor Actor) (*models.Order, error)
	ListForParty(ctx context.Context, userID uuid.UUID, params pagination.Params) (*OrderList, error)
	CancelStale(ctx context.Context, before time.Time, limit int) (int, error)
}

// ServiceParams wires the order service.
type ServiceParams struct {
	Repo     Repository
	Tx       txRunner
	Events   outbox.Emitter
	Settler  Settler
	Ledger   Ledger
	Locator  Locator
	Pricing  geo.Pricing
	Notifier NotificationSender
	Logger   *logger.Logger
}

type service struct {
	repo     Repository
	tx       txRunner
	events   outbox.Emitter
	settler  Settler
	ledger   Ledger
	locator  Locator
	pricing  geo.Pricing
	notifier NotificationSender
	logg     *logger.Logger
}

// NewService builds the order service.
func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("orders repository required")
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Events == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case params.Settler == nil:
		return nil, fmt.Errorf("settlement service required")
	case params.Ledger == nil:
		return nil, fmt.Errorf("wallet ledger required")
	}
	locator := params.Locator
	if locator == nil {
		locator = geo.NewResolver(nil)
	}
	return &service{
		repo:     params.Repo,
		tx:       params.Tx,
		events:   params.Events,
		settler:  params.Settler,
		ledger:   params.Ledger,
		locator:  locator,
		pricing:  params.Pricing,
		notifier: params.Notifier,
		logg:     params.Logger,
	}, nil
}

func (s *service) Place(ctx context.Context, input PlaceInput) (*models.Order, error) {
	lc, err := LifecycleFor(input.Kind)
	if err != nil {
		return nil, err
	}
	if input.CustomerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}
	if !input.PaymentMethod.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid payment method %q", input.PaymentMethod))
	}
	if input.Subtotal.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subtotal must not be negative")
	}
	if input.DeliveryFee != nil && input.DeliveryFee.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery fee must not be negative")
	}
	if input.Kind == enums.OrderKindRide {
		if input.VendorID != nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "rides have no vendor")
		}
	} else if input.VendorID == nil || *input.VendorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vendor id required")
	} else if *input.VendorID == input.CustomerID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer cannot buy from themselves")
	}

	order := &models.Order{
		Kind:          input.Kind,
		CustomerID:    input.CustomerID,
		VendorID:      input.VendorID,
		Category:      strings.TrimSpace(input.Category),
		PaymentMethod: input.PaymentMethod,
		Status:        lc.InitialStatus(input.PaymentMethod),
		CandidatePool: dbtypes.UUIDArray{},
	}
	subtotal := input.Subtotal
	fee := decimal.Zero
	if input.DeliveryFee != nil {
		fee = *input.DeliveryFee
	}
	if input.Kind != enums.OrderKindPickup {
		quote, err := s.route(ctx, order, input.Pickup, input.Dropoff)
		if err != nil {
			return nil, err
		}
		switch {
		case input.Kind == enums.OrderKindDelivery && input.DeliveryFee == nil:
			fee = quote.Fee
		case input.Kind == enums.OrderKindRide && subtotal.IsZero():
			subtotal = quote.Fee
		}
	}
	order.DeliveryFee = fee.Round(2)
	order.Total = subtotal.Add(fee).Round(2)
	if !order.Total.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order total must be positive")
	}

	customer := Actor{UserID: input.CustomerID, Role: enums.RoleCustomer}
	err = s.tx.InTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		postings := s.ledger.Postings(tx)
		if order.VendorID != nil {
			reseller, err := vendorIsReseller(ctx, postings, *order.VendorID)
			if err != nil {
				return err
			}
			order.Reseller = reseller
		}
		if err := repo.Create(ctx, order); err != nil {
			return storeErr(err, "create order")
		}
		if order.PaymentMethod == enums.PaymentMethodWallet {
			if err := postings.EnsureAccount(ctx, order.CustomerID, enums.AccountKindCustomer); err != nil {
				return err
			}
			if _, err := postings.Debit(ctx, order.CustomerID, order.Total, wallet.Meta{
				Type:        enums.TransactionTypePayment,
				OrderID:     &order.ID,
				Description: "order payment",
			}); err != nil {
				return err
			}
		}
		if err := repo.AppendHistory(ctx, historyRow(order.ID, nil, order.Status, customer)); err != nil {
			return storeErr(err, "append order history")
		}
		return s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPlaced,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: customer.UserID, Role: string(customer.Role)},
			Data: payloads.OrderPlacedEvent{
				OrderID:       order.ID,
				Kind:          order.Kind,
				CustomerID:    order.CustomerID,
				VendorID:      order.VendorID,
				PaymentMethod: order.PaymentMethod,
				Total:         order.Total,
				DeliveryFee:   order.DeliveryFee,
				Status:        order.Status,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	if order.VendorID != nil {
		s.send(ctx, *order.VendorID, "New order", fmt.Sprintf("A new %s order is waiting", order.Kind), order)
	}
	return order, nil
}

// vendorIsReseller provisions the vendor account on first sight and reports
// its reseller flag.
func vendorIsReseller(ctx context.Context, postings *wallet.Postings, vendorID uuid.UUID) (bool, error) {
	if err := postings.EnsureAccount(ctx, vendorID, enums.AccountKindVendor); err != nil {
		return false, err
	}
	account, err := postings.Account(ctx, vendorID)
	if err != nil {
		return false, err
	}
	return account.Reseller, nil
}

func (s *service) route(ctx context.Context, order *models.Order, pickup, dropoff *geo.Location) (geo.Quote, error) {
	if pickup == nil || dropoff == nil {
		return geo.Quote{}, pkgerrors.New(pkgerrors.CodeValidation, "pickup and dropoff locations required")
	}
	from, err := s.locator.Resolve(ctx, *pickup)
	if err != nil {
		return geo.Quote{}, err
	}
	to, err := s.locator.Resolve(ctx, *dropoff)
	if err != nil {
		return geo.Quote{}, err
	}
	quote := s.pricing.Quote(from, to)
	order.PickupLat, order.PickupLng = from.Lat, from.Lng
	order.DropoffLat, order.DropoffLng = to.Lat, to.Lng
	order.DistanceKm = quote.DistanceKm
	order.EtaMinutes = int(quote.ETA / time.Minute)
	return quote, nil
}

// Transition is the public status update. The order is re-read on every
// attempt of the retrying transaction; notifications go out after commit.
func (s *service) Transition(ctx context.Context, orderID uuid.UUID, to enums.OrderStatus, actor Actor) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !to.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid order status %q", to))
	}

	var change *Change
	err := s.tx.InTx(ctx, func(tx *gorm.DB) error {
		order, err := s.load(ctx, s.repo.WithTx(tx), orderID)
		if err != nil {
			return err
		}
		lc, err := LifecycleFor(order.Kind)
		if err != nil {
			return err
		}
		if err := lc.Check(order.Status, to); err != nil {
			return err
		}
		if err := authorize(order, to, actor); err != nil {
			return err
		}
		change, err = s.ApplyTx(ctx, tx, order, to, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.Notify(ctx, change)
	return change.Order, nil
}

// ApplyTx moves order to status to inside tx. It appends the history row,
// writes the order under its version, settles on the fulfillment state and
// refunds wallet payments on cancel or return. Authorization is the caller's.
func (s *service) ApplyTx(ctx context.Context, tx *gorm.DB, order *models.Order, to enums.OrderStatus, actor Actor) (*Change, error) {
	lc, err := LifecycleFor(order.Kind)
	if err != nil {
		return nil, err
	}
	from := order.Status
	if err := lc.Check(from, to); err != nil {
		return nil, err
	}

	repo := s.repo.WithTx(tx)
	order.Status = to
	if err := repo.Save(ctx, order); err != nil {
		return nil, storeErr(err, "update order")
	}
	if err := repo.AppendHistory(ctx, historyRow(order.ID, &from, to, actor)); err != nil {
		return nil, storeErr(err, "append order history")
	}

	var ref *outbox.ActorRef
	if actor.UserID != uuid.Nil {
		ref = &outbox.ActorRef{UserID: actor.UserID, Role: string(actor.Role)}
	}
	if err := s.events.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         ref,
		Data: payloads.OrderStatusChangedEvent{
			OrderID:    order.ID,
			Kind:       order.Kind,
			FromStatus: from,
			Status:     to,
			ActorID:    actor.idPtr(),
			ChangedAt:  order.UpdatedAt,
		},
	}); err != nil {
		return nil, err
	}

	change := &Change{Order: order, From: from, To: to}
	switch to {
	case lc.Fulfilled:
		outcome, err := s.settler.SettleTx(ctx, tx, order)
		if err != nil {
			return nil, err
		}
		change.Settlement = outcome
	case enums.OrderStatusCancelled, enums.OrderStatusReturned:
		refunded, err := s.settler.RefundPaymentTx(ctx, tx, order, actor.idPtr())
		if err != nil {
			return nil, err
		}
		change.Refunded = refunded
	}
	return change, nil
}

// SaveTx writes non-status order fields (assignment, codes, candidate pool)
// under the version check.
func (s *service) SaveTx(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	if err := s.repo.WithTx(tx).Save(ctx, order); err != nil {
		return storeErr(err, "update order")
	}
	return nil
}

// Notify tells every party of the order about a committed change.
func (s *service) Notify(ctx context.Context, change *Change) {
	if change == nil || change.Order == nil {
		return
	}
	order := change.Order
	body := fmt.Sprintf("Your %s order is now %s", order.Kind, strings.ReplaceAll(string(change.To), "_", " "))
	for _, userID := range parties(order) {
		s.send(ctx, userID, "Order update", body, order)
	}
}

func (s *service) send(ctx context.Context, userID uuid.UUID, title, body string, order *models.Order) {
	if s.notifier == nil {
		return
	}
	data := map[string]any{"order_id": order.ID.String(), "status": string(order.Status)}
	if err := s.notifier.Notify(ctx, userID, title, body, enums.NotificationTypeOrderUpdate, data); err != nil && s.logg != nil {
		logCtx := s.logg.WithOrderID(ctx, order.ID.String())
		logCtx = s.logg.WithFields(logCtx, map[string]any{"user_id": userID.String(), "error": err.Error()})
		s.logg.Warn(logCtx, "order notification failed")
	}
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID, actor Actor) (*models.Order, error) {
	order, err := s.repo.FindDetail(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, orderNotFound(orderID)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if !canView(order, actor) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order is not visible to caller")
	}
	return order, nil
}

func (s *service) ListForParty(ctx context.Context, userID uuid.UUID, params pagination.Params) (*OrderList, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, next, err := s.repo.ListForParty(ctx, userID, params.Limit, cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	list := &OrderList{Items: rows}
	if next != nil {
		list.Cursor = pagination.EncodeCursor(*next)
	}
	return list, nil
}

// CancelStale cancels orders still waiting on the payment gateway since
// before the cutoff. Orders that moved on in the meantime are skipped.
func (s *service) CancelStale(ctx context.Context, before time.Time, limit int) (int, error) {
	rows, err := s.repo.ListStale(ctx, enums.OrderStatusPaymentProcessing, before, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stale orders")
	}
	var errs error
	cancelled := 0
	for _, row := range rows {
		_, err := s.Transition(ctx, row.ID, enums.OrderStatusCancelled, SystemActor)
		switch {
		case err == nil:
			cancelled++
		case pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition):
			// paid or cancelled since the listing
		default:
			errs = multierr.Append(errs, fmt.Errorf("cancel order %s: %w", row.ID, err))
		}
	}
	return cancelled, errs
}

func (s *service) load(ctx context.Context, repo Repository, orderID uuid.UUID) (*models.Order, error) {
	order, err := repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, orderNotFound(orderID)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

// authorize limits which statuses each party may request. Admins may apply
// any edge of the table.
func authorize(order *models.Order, to enums.OrderStatus, actor Actor) error {
	if actor.Role == enums.RoleAdmin {
		return nil
	}
	if actor.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	switch actor.Role {
	case enums.RoleCustomer:
		if actor.UserID == order.CustomerID && (to == enums.OrderStatusCancelled || to == enums.OrderStatusRefundRequested) {
			return nil
		}
	case enums.RoleVendor:
		if order.VendorID == nil || *order.VendorID != actor.UserID {
			break
		}
		switch to {
		case enums.OrderStatusConfirmed, enums.OrderStatusPreparing, enums.OrderStatusReadyForPickup,
			enums.OrderStatusCompleted, enums.OrderStatusCancelled, enums.OrderStatusReturned:
			return nil
		case enums.OrderStatusOutForDelivery, enums.OrderStatusInTransit, enums.OrderStatusDelivered:
			if order.SelfDelivered {
				return nil
			}
		}
	case enums.RoleCourier:
		if order.AssignedCourierID != nil && *order.AssignedCourierID == actor.UserID &&
			(to == enums.OrderStatusInTransit || to == enums.OrderStatusReturned) {
			return nil
		}
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, fmt.Sprintf("%s may not move this order to %s", actor.Role, to))
}

func canView(order *models.Order, actor Actor) bool {
	if actor.Role == enums.RoleAdmin {
		return true
	}
	for _, id := range parties(order) {
		if id == actor.UserID {
			return true
		}
	}
	return order.CandidatePool.Contains(actor.UserID)
}

// parties lists customer, vendor and assigned courier without duplicates.
func parties(order *models.Order) []uuid.UUID {
	out := []uuid.UUID{order.CustomerID}
	add := func(id *uuid.UUID) {
		if id == nil || *id == uuid.Nil {
			return
		}
		for _, existing := range out {
			if existing == *id {
				return
			}
		}
		out = append(out, *id)
	}
	add(order.VendorID)
	add(order.AssignedCourierID)
	return out
}

func historyRow(orderID uuid.UUID, from *enums.OrderStatus, to enums.OrderStatus, actor Actor) *models.OrderStatusEvent {
	return &models.OrderStatusEvent{
		OrderID:    orderID,
		FromStatus: from,
		Status:     to,
		ActorID:    actor.idPtr(),
		ActorRole:  string(actor.Role),
	}
}

func orderNotFound(id uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeOrderNotFound, "order not found").WithDetails(map[string]any{"order_id": id})
}

// storeErr keeps write conflicts raw so the retrying transaction sees them.
func storeErr(err error, msg string) error {
	if dbpkg.IsConflict(err) {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}
