// Package platform assembles the ledger services shared by the binaries.
package platform

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/marketledger-backend/internal/dispatch"
	"github.com/angelmondragon/marketledger-backend/internal/geo"
	"github.com/angelmondragon/marketledger-backend/internal/notifications"
	"github.com/angelmondragon/marketledger-backend/internal/orders"
	"github.com/angelmondragon/marketledger-backend/internal/payouts"
	"github.com/angelmondragon/marketledger-backend/internal/revenue"
	"github.com/angelmondragon/marketledger-backend/internal/settlement"
	"github.com/angelmondragon/marketledger-backend/internal/wallet"
	"github.com/angelmondragon/marketledger-backend/pkg/config"
	"github.com/angelmondragon/marketledger-backend/pkg/logger"
	"github.com/angelmondragon/marketledger-backend/pkg/metrics"
	"github.com/angelmondragon/marketledger-backend/pkg/outbox"
)

// Database is the slice of the db client the services need.
type Database interface {
	DB() *gorm.DB
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Params wires Build.
type Params struct {
	Config  *config.Config
	DB      Database
	Logger  *logger.Logger
	Metrics *metrics.LedgerMetrics
	// Places resolves place ids; nil limits orders to raw coordinates.
	Places geo.PlaceLocator
}

// Services is every domain service, sharing one outbox and one database.
type Services struct {
	Outbox        *outbox.Service
	Wallet        wallet.Service
	Revenue       revenue.Service
	Settlement    settlement.Service
	Orders        orders.Service
	Dispatch      dispatch.Service
	Payouts       payouts.Service
	Notifications notifications.Service
}

// Build constructs the services bottom-up: wallet, then settlement on top of
// it, then the order machine and dispatch on top of settlement.
func Build(params Params) (*Services, error) {
	if params.Config == nil || params.DB == nil {
		return nil, fmt.Errorf("config and database required")
	}
	cfg := params.Config
	conn := params.DB.DB()
	events := outbox.NewService(outbox.NewRepository(conn), params.Logger)

	// LedgerMetrics methods are nil-safe, so a missing collector stays silent.
	observer := params.Metrics

	walletSvc, err := wallet.NewService(wallet.ServiceParams{
		Repo:    wallet.NewRepository(conn),
		Tx:      params.DB,
		Events:  events,
		Metrics: observer,
		Shards:  cfg.Ledger.PlatformShards,
	})
	if err != nil {
		return nil, fmt.Errorf("wallet service: %w", err)
	}

	calc := revenue.NewCalculator(cfg.Ledger.DefaultCommissionRate, cfg.Ledger.ResellerCommissionRate)
	rules := revenue.NewRuleRepository(conn)
	revenueSvc, err := revenue.NewService(rules, calc)
	if err != nil {
		return nil, fmt.Errorf("revenue service: %w", err)
	}

	notificationsSvc, err := notifications.NewService(notifications.NewRepository(conn), params.DB, events)
	if err != nil {
		return nil, fmt.Errorf("notifications service: %w", err)
	}

	settlementSvc, err := settlement.NewService(settlement.ServiceParams{
		Repo:         settlement.NewRepository(conn),
		Rules:        rules,
		Calculator:   calc,
		Ledger:       walletSvc,
		Tx:           params.DB,
		Events:       events,
		Metrics:      observer,
		EarningsHold: cfg.Ledger.EarningsHold,
	})
	if err != nil {
		return nil, fmt.Errorf("settlement service: %w", err)
	}

	var locator orders.Locator
	if params.Places != nil {
		locator = geo.NewResolver(params.Places)
	}
	ordersSvc, err := orders.NewService(orders.ServiceParams{
		Repo:     orders.NewRepository(conn),
		Tx:       params.DB,
		Events:   events,
		Settler:  settlementSvc,
		Ledger:   walletSvc,
		Locator:  locator,
		Pricing:  geo.PricingFromConfig(cfg.Geo),
		Notifier: notificationsSvc,
		Logger:   params.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("orders service: %w", err)
	}

	dispatchSvc, err := dispatch.NewService(dispatch.ServiceParams{
		Repo:       dispatch.NewRepository(conn),
		Orders:     ordersSvc,
		Tx:         params.DB,
		Events:     events,
		Notifier:   notificationsSvc,
		Metrics:    observer,
		Logger:     params.Logger,
		RequestTTL: cfg.Dispatch.RequestTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("dispatch service: %w", err)
	}

	payoutsSvc, err := payouts.NewService(payouts.ServiceParams{
		Repo:     payouts.NewRepository(conn),
		Ledger:   walletSvc,
		Tx:       params.DB,
		Events:   events,
		Notifier: notificationsSvc,
		Logger:   params.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("payouts service: %w", err)
	}

	return &Services{
		Outbox:        events,
		Wallet:        walletSvc,
		Revenue:       revenueSvc,
		Settlement:    settlementSvc,
		Orders:        ordersSvc,
		Dispatch:      dispatchSvc,
		Payouts:       payoutsSvc,
		Notifications: notificationsSvc,
	}, nil
}
