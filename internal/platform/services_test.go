package platform

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketledger-backend/internal/dispatch"
	"github.com/angelmondragon/marketledger-backend/internal/geo"
	"github.com/angelmondragon/marketledger-backend/internal/orders"
	"github.com/angelmondragon/marketledger-backend/internal/wallet"
	"github.com/angelmondragon/marketledger-backend/pkg/config"
	"github.com/angelmondragon/marketledger-backend/pkg/db/dbtest"
	"github.com/angelmondragon/marketledger-backend/pkg/db/models"
	"github.com/angelmondragon/marketledger-backend/pkg/enums"
	"github.com/angelmondragon/marketledger-backend/pkg/logger"
)

func testConfig() *config.Config {
	return &config.Config{
		Ledger: config.LedgerConfig{
			PlatformShards:         3,
			MaxTxAttempts:          3,
			DefaultCommissionRate:  decimal.NewFromInt(10),
			ResellerCommissionRate: decimal.NewFromInt(5),
		},
		Geo: config.GeoConfig{
			BaseFee:         decimal.NewFromInt(2),
			PerKmFee:        decimal.NewFromInt(1),
			MinimumFee:      decimal.NewFromInt(3),
			AverageSpeedKmh: 30,
		},
	}
}

func TestBuildRequiresDatabase(t *testing.T) {
	_, err := Build(Params{Config: testConfig()})
	require.Error(t, err)
}

func TestWalletOrderSettlesThroughWiredServices(t *testing.T) {
	ctx := context.Background()
	client := dbtest.Open(t)
	dbtest.SeedShards(t, client, 3)

	svc, err := Build(Params{
		Config: testConfig(),
		DB:     client,
		Logger: logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	require.NoError(t, err)

	customer, vendor, courier := uuid.New(), uuid.New(), uuid.New()
	require.NoError(t, svc.Wallet.EnsureAccount(ctx, customer, enums.AccountKindCustomer))
	_, err = svc.Wallet.Credit(ctx, customer, decimal.NewFromInt(200), wallet.Meta{Type: enums.TransactionTypeTopup})
	require.NoError(t, err)

	fee := decimal.NewFromInt(10)
	shop := geo.Point{Lat: 40.7128, Lng: -74.0060}
	home := geo.Point{Lat: 40.7306, Lng: -73.9352}
	order, err := svc.Orders.Place(ctx, orders.PlaceInput{
		Kind:          enums.OrderKindDelivery,
		CustomerID:    customer,
		VendorID:      &vendor,
		PaymentMethod: enums.PaymentMethodWallet,
		Subtotal:      decimal.NewFromInt(100),
		DeliveryFee:   &fee,
		Pickup:        &geo.Location{Point: &shop},
		Dropoff:       &geo.Location{Point: &home},
	})
	require.NoError(t, err)

	vendorActor := orders.Actor{UserID: vendor, Role: enums.RoleVendor}
	_, err = svc.Dispatch.Broadcast(ctx, order.ID, vendorActor, []dispatch.Candidate{{CourierID: courier}})
	require.NoError(t, err)
	_, err = svc.Dispatch.Accept(ctx, order.ID, courier)
	require.NoError(t, err)
	_, err = svc.Orders.Transition(ctx, order.ID, enums.OrderStatusReadyForPickup, vendorActor)
	require.NoError(t, err)

	var stored models.Order
	require.NoError(t, client.DB().First(&stored, "id = ?", order.ID).Error)
	_, err = svc.Dispatch.VerifyPickup(ctx, order.ID, courier, *stored.PickupCode)
	require.NoError(t, err)
	delivered, err := svc.Dispatch.VerifyDelivery(ctx, order.ID, courier, *stored.DeliveryCode)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusDelivered, delivered.Status)

	balances := map[uuid.UUID]string{customer: "90", vendor: "90", courier: "10"}
	for id, want := range balances {
		got, err := svc.Wallet.Balance(ctx, id)
		require.NoError(t, err)
		assert.True(t, got.Balance.Equal(decimal.RequireFromString(want)), "account %s balance %s, want %s", id, got.Balance, want)
	}
	platform, err := svc.Wallet.PlatformBalance(ctx)
	require.NoError(t, err)
	assert.True(t, platform.Equal(decimal.NewFromInt(10)), "platform balance %s", platform)

	var settled int64
	require.NoError(t, client.DB().Model(&models.OutboxEvent{}).
		Where("event_type = ? AND aggregate_id = ?", enums.EventOrderSettled, order.ID).
		Count(&settled).Error)
	assert.Equal(t, int64(1), settled)

	var notes int64
	require.NoError(t, client.DB().Model(&models.Notification{}).Where("user_id = ?", courier).Count(&notes).Error)
	assert.Positive(t, notes)
}
