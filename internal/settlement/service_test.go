package settlement

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketledger-backend/internal/revenue"
	"github.com/angelmondragon/marketledger-backend/internal/wallet"
	dbpkg "github.com/angelmondragon/marketledger-backend/pkg/db"
	"github.com/angelmondragon/marketledger-backend/pkg/db/dbtest"
	"github.com/angelmondragon/marketledger-backend/pkg/db/models"
	"github.com/angelmondragon/marketledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketledger-backend/pkg/errors"
	"github.com/angelmondragon/marketledger-backend/pkg/outbox"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []outbox.DomainEvent
}

func (r *recordingEmitter) Emit(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingEmitter) count(eventType enums.OutboxEventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

type harness struct {
	client *dbpkg.Client
	ledger wallet.Service
	svc    Service
	events *recordingEmitter
}

func newHarness(t *testing.T, hold time.Duration) *harness {
	t.Helper()
	client := dbtest.Open(t)
	dbtest.SeedShards(t, client, 3)
	events := &recordingEmitter{}
	ledger, err := wallet.NewService(wallet.ServiceParams{
		Repo:   wallet.NewRepository(client.DB()),
		Tx:     client,
		Events: events,
		Shards: 3,
	})
	require.NoError(t, err)
	rules := revenue.NewRuleRepository(client.DB())
	require.NoError(t, rules.Upsert(context.Background(), &models.CommissionRule{Category: "groceries", Rate: d("8"), Active: true}))

	svc, err := NewService(ServiceParams{
		Repo:         NewRepository(client.DB()),
		Rules:        rules,
		Calculator:   revenue.NewCalculator(revenue.DefaultRate, revenue.ResellerRate),
		Ledger:       ledger,
		Tx:           client,
		Events:       events,
		EarningsHold: hold,
	})
	require.NoError(t, err)
	return &harness{client: client, ledger: ledger, svc: svc, events: events}
}

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func (h *harness) order(t *testing.T, mutate func(o *models.Order)) *models.Order {
	t.Helper()
	vendor := uuid.New()
	courier := uuid.New()
	o := &models.Order{
		Kind:              enums.OrderKindDelivery,
		CustomerID:        uuid.New(),
		VendorID:          &vendor,
		AssignedCourierID: &courier,
		Category:          "Groceries",
		PaymentMethod:     enums.PaymentMethodCash,
		Total:             d("1000"),
		DeliveryFee:       d("100"),
		Status:            enums.OrderStatusDelivered,
	}
	if mutate != nil {
		mutate(o)
	}
	require.NoError(t, h.client.DB().Create(o).Error)
	return o
}

func (h *harness) settle(t *testing.T, o *models.Order) *Outcome {
	t.Helper()
	var out *Outcome
	err := h.client.InTx(context.Background(), func(tx *gorm.DB) error {
		var err error
		out, err = h.svc.SettleTx(context.Background(), tx, o)
		return err
	})
	require.NoError(t, err)
	return out
}

func (h *harness) balance(t *testing.T, id uuid.UUID) decimal.Decimal {
	t.Helper()
	bal, err := h.ledger.Balance(context.Background(), id)
	if pkgerrors.IsCode(err, pkgerrors.CodeAccountNotFound) {
		return decimal.Zero
	}
	require.NoError(t, err)
	return bal.Balance
}

func (h *harness) platform(t *testing.T) decimal.Decimal {
	t.Helper()
	total, err := h.ledger.PlatformBalance(context.Background())
	require.NoError(t, err)
	return total
}

func TestSettleDeliveryPaysVendorCourierAndPlatform(t *testing.T) {
	h := newHarness(t, 0)
	o := h.order(t, nil)

	out := h.settle(t, o)
	require.True(t, out.Applied)
	assert.True(t, out.Settlement.RateApplied.Equal(d("8")))

	assert.True(t, h.balance(t, *o.VendorID).Equal(d("828")))
	assert.True(t, h.balance(t, *o.AssignedCourierID).Equal(d("100")))
	assert.True(t, h.platform(t).Equal(d("72")))
	assert.Equal(t, 1, h.events.count(enums.EventOrderSettled))
}

func TestSettleIsIdempotent(t *testing.T) {
	h := newHarness(t, 0)
	o := h.order(t, nil)

	h.settle(t, o)
	again := h.settle(t, o)
	assert.False(t, again.Applied)

	assert.True(t, h.balance(t, *o.VendorID).Equal(d("828")))
	assert.True(t, h.balance(t, *o.AssignedCourierID).Equal(d("100")))
	assert.True(t, h.platform(t).Equal(d("72")))
	assert.Equal(t, 1, h.events.count(enums.EventOrderSettled))
}

func TestConcurrentSettleAppliesOnce(t *testing.T) {
	h := newHarness(t, 0)
	o := h.order(t, nil)

	const callers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	applied := 0
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.client.InTx(context.Background(), func(tx *gorm.DB) error {
				out, err := h.svc.SettleTx(context.Background(), tx, o)
				if err == nil && out.Applied {
					mu.Lock()
					applied++
					mu.Unlock()
				}
				return err
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	assert.True(t, h.balance(t, *o.VendorID).Equal(d("828")))
	assert.True(t, h.platform(t).Equal(d("72")))
}

func TestSettleSelfDeliveredGivesFeeToVendor(t *testing.T) {
	h := newHarness(t, 0)
	o := h.order(t, func(o *models.Order) {
		o.SelfDelivered = true
		o.AssignedCourierID = o.VendorID
	})

	h.settle(t, o)
	assert.True(t, h.balance(t, *o.VendorID).Equal(d("928")))
	assert.True(t, h.platform(t).Equal(d("72")))
}

func TestSettleRidePaysDriver(t *testing.T) {
	h := newHarness(t, 0)
	o := h.order(t, func(o *models.Order) {
		o.Kind = enums.OrderKindRide
		o.VendorID = nil
		o.Category = ""
		o.Total = d("50")
		o.DeliveryFee = decimal.Zero
		o.Status = enums.OrderStatusRideCompleted
	})

	out := h.settle(t, o)
	assert.Equal(t, *o.AssignedCourierID, out.Settlement.PayeeID)
	assert.True(t, h.balance(t, *o.AssignedCourierID).Equal(d("45")))
	assert.True(t, h.platform(t).Equal(d("5")))

	var row models.WalletTransaction
	require.NoError(t, h.client.DB().Where("account_id = ?", *o.AssignedCourierID).First(&row).Error)
	assert.Equal(t, enums.TransactionTypeDriverEarning, row.Type)
}

func TestSettleResellerUsesFixedRate(t *testing.T) {
	h := newHarness(t, 0)
	o := h.order(t, func(o *models.Order) {
		o.Reseller = true
		o.Kind = enums.OrderKindPickup
		o.AssignedCourierID = nil
		o.DeliveryFee = decimal.Zero
		o.Total = d("200")
		o.Status = enums.OrderStatusCompleted
	})

	h.settle(t, o)
	assert.True(t, h.balance(t, *o.VendorID).Equal(d("190")))
	assert.True(t, h.platform(t).Equal(d("10")))
}

func TestSettleWithHoldWritesPendingEarnings(t *testing.T) {
	h := newHarness(t, time.Hour)
	o := h.order(t, nil)

	h.settle(t, o)
	assert.True(t, h.balance(t, *o.VendorID).IsZero())
	assert.True(t, h.balance(t, *o.AssignedCourierID).IsZero())
	assert.True(t, h.platform(t).Equal(d("72")), "platform fee is never held")

	var pending []models.WalletTransaction
	require.NoError(t, h.client.DB().Where("order_id = ? AND status = ?", o.ID, enums.TransactionStatusPending).Find(&pending).Error)
	require.Len(t, pending, 2)
	for _, row := range pending {
		require.NotNil(t, row.SettleAt)
		assert.True(t, row.SettleAt.After(time.Now().UTC().Add(50*time.Minute)))
	}
}

func TestReverseRefundsCustomerAndIsIdempotent(t *testing.T) {
	h := newHarness(t, 0)
	o := h.order(t, nil)
	h.settle(t, o)
	admin := uuid.New()

	row, err := h.svc.Reverse(context.Background(), o.ID, admin)
	require.NoError(t, err)
	require.NotNil(t, row.ReversedAt)

	assert.True(t, h.balance(t, *o.VendorID).IsZero())
	assert.True(t, h.balance(t, *o.AssignedCourierID).Equal(d("100")), "courier keeps the delivery fee")
	assert.True(t, h.platform(t).IsZero())
	assert.True(t, h.balance(t, o.CustomerID).Equal(d("900")))

	_, err = h.svc.Reverse(context.Background(), o.ID, admin)
	require.NoError(t, err)
	assert.True(t, h.balance(t, o.CustomerID).Equal(d("900")))
	assert.Equal(t, 1, h.events.count(enums.EventOrderRefunded))
}

func TestReverseFailsAtomicallyWhenVendorSpentEarnings(t *testing.T) {
	h := newHarness(t, 0)
	o := h.order(t, nil)
	h.settle(t, o)
	_, err := h.ledger.Debit(context.Background(), *o.VendorID, d("500"), wallet.Meta{Type: enums.TransactionTypeWithdrawal})
	require.NoError(t, err)

	_, err = h.svc.Reverse(context.Background(), o.ID, uuid.New())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientBalance))

	assert.True(t, h.balance(t, *o.VendorID).Equal(d("328")))
	assert.True(t, h.platform(t).Equal(d("72")))
	assert.True(t, h.balance(t, o.CustomerID).IsZero())

	var row models.OrderSettlement
	require.NoError(t, h.client.DB().First(&row, "order_id = ?", o.ID).Error)
	assert.Nil(t, row.ReversedAt)
}

func TestReverseCancelsHeldEarnings(t *testing.T) {
	h := newHarness(t, time.Hour)
	o := h.order(t, nil)
	h.settle(t, o)

	_, err := h.svc.Reverse(context.Background(), o.ID, uuid.New())
	require.NoError(t, err)

	assert.True(t, h.balance(t, *o.VendorID).IsZero())
	assert.True(t, h.platform(t).IsZero())
	assert.True(t, h.balance(t, o.CustomerID).Equal(d("900")))

	var rejected int64
	require.NoError(t, h.client.DB().Model(&models.WalletTransaction{}).
		Where("order_id = ? AND account_id = ? AND status = ?", o.ID, *o.VendorID, enums.TransactionStatusRejected).
		Count(&rejected).Error)
	assert.EqualValues(t, 1, rejected)
}

func TestReverseRequiresSettlement(t *testing.T) {
	h := newHarness(t, 0)
	o := h.order(t, nil)

	_, err := h.svc.Reverse(context.Background(), o.ID, uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	_, err = h.svc.Reverse(context.Background(), uuid.New(), uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeOrderNotFound))
}

func TestRefundPaymentOnlyOnce(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	o := h.order(t, func(o *models.Order) {
		o.PaymentMethod = enums.PaymentMethodWallet
		o.Total = d("40")
		o.DeliveryFee = d("5")
		o.Status = enums.OrderStatusCancelled
	})
	require.NoError(t, h.ledger.EnsureAccount(ctx, o.CustomerID, enums.AccountKindCustomer))
	_, err := h.ledger.Credit(ctx, o.CustomerID, d("40"), wallet.Meta{Type: enums.TransactionTypeTopup})
	require.NoError(t, err)
	_, err = h.ledger.Debit(ctx, o.CustomerID, d("40"), wallet.Meta{Type: enums.TransactionTypePayment, OrderID: &o.ID})
	require.NoError(t, err)

	refund := func() bool {
		var moved bool
		require.NoError(t, h.client.InTx(ctx, func(tx *gorm.DB) error {
			var err error
			moved, err = h.svc.RefundPaymentTx(ctx, tx, o, nil)
			return err
		}))
		return moved
	}
	assert.True(t, refund())
	assert.False(t, refund())
	assert.True(t, h.balance(t, o.CustomerID).Equal(d("40")))
}

func TestRefundPaymentSkipsCashOrders(t *testing.T) {
	h := newHarness(t, 0)
	o := h.order(t, func(o *models.Order) { o.Status = enums.OrderStatusCancelled })

	var moved bool
	require.NoError(t, h.client.InTx(context.Background(), func(tx *gorm.DB) error {
		var err error
		moved, err = h.svc.RefundPaymentTx(context.Background(), tx, o, nil)
		return err
	}))
	assert.False(t, moved)
}
