// Package settlement applies revenue splits to fulfilled orders and undoes
// them on refund. Every entry point is idempotent on the order id.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketledger-backend/internal/revenue"
	"github.com/angelmondragon/marketledger-backend/internal/wallet"
	dbpkg "github.com/angelmondragon/marketledger-backend/pkg/db"
	"github.com/angelmondragon/marketledger-backend/pkg/db/models"
	"github.com/angelmondragon/marketledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketledger-backend/pkg/errors"
	"github.com/angelmondragon/marketledger-backend/pkg/outbox"
	"github.com/angelmondragon/marketledger-backend/pkg/outbox/payloads"
)

type txRunner interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Ledger hands out transaction-bound wallet postings.
type Ledger interface {
	Postings(tx *gorm.DB) *wallet.Postings
}

// Observer counts applied settlements by order kind.
type Observer interface {
	IncSettlement(kind string)
}

// Service settles and reverses orders.
type Service interface {
	SettleTx(ctx context.Context, tx *gorm.DB, order *models.Order) (*Outcome, error)
	Reverse(ctx context.Context, orderID, actorID uuid.UUID) (*models.OrderSettlement, error)
	RefundPaymentTx(ctx context.Context, tx *gorm.DB, order *models.Order, actorID *uuid.UUID) (bool, error)
}

// Outcome reports the settlement row and whether this call wrote it.
type Outcome struct {
	Settlement *models.OrderSettlement
	Applied    bool
}

// ServiceParams wires the settlement service.
type ServiceParams struct {
	Repo         Repository
	Rules        revenue.RuleRepository
	Calculator   revenue.Calculator
	Ledger       Ledger
	Tx           txRunner
	Events       outbox.Emitter
	Metrics      Observer
	EarningsHold time.Duration
}

type service struct {
	repo    Repository
	rules   revenue.RuleRepository
	calc    revenue.Calculator
	ledger  Ledger
	tx      txRunner
	events  outbox.Emitter
	metrics Observer
	hold    time.Duration
}

// NewService builds the settlement service.
func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("settlement repository required")
	case params.Rules == nil:
		return nil, fmt.Errorf("commission rule repository required")
	case params.Ledger == nil:
		return nil, fmt.Errorf("wallet ledger required")
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Events == nil:
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &service{
		repo:    params.Repo,
		rules:   params.Rules,
		calc:    revenue.NewCalculator(params.Calculator.DefaultRate, params.Calculator.ResellerRate),
		ledger:  params.Ledger,
		tx:      params.Tx,
		events:  params.Events,
		metrics: params.Metrics,
		hold:    params.EarningsHold,
	}, nil
}

type earning struct {
	accountID uuid.UUID
	kind      enums.AccountKind
	amount    decimal.Decimal
	txType    enums.TransactionType
}

// SettleTx splits a fulfilled order inside tx. A stored settlement short
// circuits the call, and the primary key on order_id turns a concurrent
// duplicate into a write conflict that the caller's retry resolves as
// already settled.
func (s *service) SettleTx(ctx context.Context, tx *gorm.DB, order *models.Order) (*Outcome, error) {
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order required")
	}
	repo := s.repo.WithTx(tx)
	existing, err := repo.FindSettlement(ctx, order.ID)
	if err == nil {
		return &Outcome{Settlement: existing}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load settlement")
	}

	var rules []revenue.Rule
	if !order.Reseller {
		rows, err := s.rules.WithTx(tx).ActiveRules(ctx)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load commission rules")
		}
		rules = revenue.ToRules(rows)
	}
	split, err := s.calc.Split(order.Total, order.DeliveryFee, order.Category, rules, order.Reseller)
	if err != nil {
		return nil, err
	}
	payee, courier, earnings, err := earningsFor(order, split)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	row := &models.OrderSettlement{
		OrderID:      order.ID,
		ProductTotal: split.ProductTotal,
		VendorAmount: split.VendorAmount,
		PlatformFee:  split.PlatformFee,
		DeliveryFee:  order.DeliveryFee,
		RateApplied:  split.RateApplied,
		PayeeID:      payee,
		CourierID:    courier,
		SettledAt:    now,
	}
	if err := repo.InsertSettlement(ctx, row); err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			return nil, fmt.Errorf("order %s settled concurrently: %w", order.ID, dbpkg.ErrConflict)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert settlement")
	}

	meta := wallet.Meta{OrderID: &order.ID}
	held := s.hold > 0
	if held {
		settleAt := now.Add(s.hold)
		meta.Status = enums.TransactionStatusPending
		meta.SettleAt = &settleAt
	}
	postings := s.ledger.Postings(tx)
	for _, e := range earnings {
		if !e.amount.IsPositive() {
			continue
		}
		if err := postings.EnsureAccount(ctx, e.accountID, e.kind); err != nil {
			return nil, err
		}
		m := meta
		m.Type = e.txType
		if _, err := postings.Credit(ctx, e.accountID, e.amount, m); err != nil {
			return nil, err
		}
	}
	if split.PlatformFee.IsPositive() {
		if _, err := postings.CreditPlatform(ctx, split.PlatformFee, wallet.Meta{
			Type:    enums.TransactionTypePlatformFee,
			OrderID: &order.ID,
		}); err != nil {
			return nil, err
		}
	}

	if err := s.events.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderSettled,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Data: payloads.OrderSettledEvent{
			OrderID:      order.ID,
			Kind:         order.Kind,
			PayeeID:      payee,
			CourierID:    courier,
			ProductTotal: split.ProductTotal,
			VendorAmount: split.VendorAmount,
			PlatformFee:  split.PlatformFee,
			DeliveryFee:  order.DeliveryFee,
			RateApplied:  split.RateApplied,
			Held:         held,
			SettledAt:    now,
		},
	}); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.IncSettlement(string(order.Kind))
	}
	return &Outcome{Settlement: row, Applied: true}, nil
}

// earningsFor decides who is paid what for each order kind. The payee
// receives the vendor share; the delivery fee follows whoever delivered.
func earningsFor(order *models.Order, split revenue.Result) (uuid.UUID, *uuid.UUID, []earning, error) {
	fee := order.DeliveryFee
	switch order.Kind {
	case enums.OrderKindRide:
		if order.AssignedCourierID == nil {
			return uuid.Nil, nil, nil, pkgerrors.New(pkgerrors.CodeStateConflict, "ride has no driver")
		}
		driver := *order.AssignedCourierID
		return driver, &driver, []earning{
			{accountID: driver, kind: enums.AccountKindCourier, amount: split.VendorAmount, txType: enums.TransactionTypeDriverEarning},
			{accountID: driver, kind: enums.AccountKindCourier, amount: fee, txType: enums.TransactionTypeDeliveryEarning},
		}, nil
	case enums.OrderKindDelivery, enums.OrderKindPickup:
		if order.VendorID == nil {
			return uuid.Nil, nil, nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order has no vendor")
		}
		vendor := *order.VendorID
		earnings := []earning{
			{accountID: vendor, kind: enums.AccountKindVendor, amount: split.VendorAmount, txType: enums.TransactionTypePayment},
		}
		if order.Kind == enums.OrderKindDelivery && order.AssignedCourierID != nil && !order.SelfDelivered {
			courier := *order.AssignedCourierID
			earnings = append(earnings, earning{accountID: courier, kind: enums.AccountKindCourier, amount: fee, txType: enums.TransactionTypeDeliveryEarning})
			return vendor, &courier, earnings, nil
		}
		earnings = append(earnings, earning{accountID: vendor, kind: enums.AccountKindVendor, amount: fee, txType: enums.TransactionTypeDeliveryEarning})
		return vendor, nil, earnings, nil
	default:
		return uuid.Nil, nil, nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown order kind %q", order.Kind))
	}
}

func payeeEarningType(kind enums.OrderKind) enums.TransactionType {
	if kind == enums.OrderKindRide {
		return enums.TransactionTypeDriverEarning
	}
	return enums.TransactionTypePayment
}

// Reverse refunds the product portion of a settled order: the payee gives
// back its share, the platform gives back its fee and the customer is
// credited both. Payee shares still on hold are cancelled rather than
// clawed back. The payee debit is balance checked, so a payee that already
// withdrew the money blocks the refund as a whole.
func (s *service) Reverse(ctx context.Context, orderID, actorID uuid.UUID) (*models.OrderSettlement, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	var result *models.OrderSettlement
	err := s.tx.InTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindOrder(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeOrderNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		row, err := repo.FindSettlement(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "order has not been settled")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load settlement")
		}
		if row.ReversedAt != nil {
			result = row
			return nil
		}

		postings := s.ledger.Postings(tx)
		pending, err := repo.PendingEarnings(ctx, order.ID, row.PayeeID, payeeEarningType(order.Kind))
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load held earnings")
		}
		released := decimal.Zero
		for _, p := range pending {
			if _, err := postings.Reject(ctx, p.ID); err != nil {
				return err
			}
			released = released.Add(p.Amount)
		}
		if clawback := row.VendorAmount.Sub(released); clawback.IsPositive() {
			if _, err := postings.Debit(ctx, row.PayeeID, clawback, wallet.Meta{
				Type:        enums.TransactionTypeRefundReversal,
				OrderID:     &order.ID,
				Description: "refund of settled order",
			}); err != nil {
				return err
			}
		}
		if row.PlatformFee.IsPositive() {
			if _, err := postings.CreditPlatform(ctx, row.PlatformFee.Neg(), wallet.Meta{
				Type:    enums.TransactionTypeCommissionRefund,
				OrderID: &order.ID,
			}); err != nil {
				return err
			}
		}
		refund := row.VendorAmount.Add(row.PlatformFee)
		if refund.IsPositive() {
			if err := postings.EnsureAccount(ctx, order.CustomerID, enums.AccountKindCustomer); err != nil {
				return err
			}
			if _, err := postings.Credit(ctx, order.CustomerID, refund, wallet.Meta{
				Type:        enums.TransactionTypeRefund,
				OrderID:     &order.ID,
				Description: "refund of settled order",
			}); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		marked, err := repo.MarkReversed(ctx, order.ID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark settlement reversed")
		}
		if !marked {
			return fmt.Errorf("order %s reversed concurrently: %w", order.ID, dbpkg.ErrConflict)
		}
		row.ReversedAt = &now
		result = row
		return s.emitRefund(ctx, tx, order, refund, true, &actorID, enums.RoleAdmin)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RefundPaymentTx returns a wallet payment to the customer when the order is
// cancelled or returned before fulfillment. It reports whether money moved; a
// second call for the same order finds the refund row and does nothing.
func (s *service) RefundPaymentTx(ctx context.Context, tx *gorm.DB, order *models.Order, actorID *uuid.UUID) (bool, error) {
	if order == nil || order.PaymentMethod != enums.PaymentMethodWallet {
		return false, nil
	}
	repo := s.repo.WithTx(tx)
	paid, err := repo.HasTransaction(ctx, order.ID, order.CustomerID, enums.TransactionTypePayment)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check order payment")
	}
	if !paid {
		return false, nil
	}
	refunded, err := repo.HasTransaction(ctx, order.ID, order.CustomerID, enums.TransactionTypeRefund)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check order refund")
	}
	if refunded {
		return false, nil
	}
	if _, err := s.ledger.Postings(tx).Credit(ctx, order.CustomerID, order.Total, wallet.Meta{
		Type:        enums.TransactionTypeRefund,
		OrderID:     &order.ID,
		Description: "order " + string(order.Status),
	}); err != nil {
		return false, err
	}
	return true, s.emitRefund(ctx, tx, order, order.Total, false, actorID, "")
}

func (s *service) emitRefund(ctx context.Context, tx *gorm.DB, order *models.Order, amount decimal.Decimal, reversal bool, actorID *uuid.UUID, role enums.Role) error {
	var actor *outbox.ActorRef
	if actorID != nil && *actorID != uuid.Nil {
		actor = &outbox.ActorRef{UserID: *actorID, Role: string(role)}
	}
	return s.events.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderRefunded,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actor,
		Data: payloads.OrderRefundedEvent{
			OrderID:    order.ID,
			CustomerID: order.CustomerID,
			Amount:     amount,
			Reversal:   reversal,
			RefundedAt: time.Now().UTC(),
		},
	})
}
