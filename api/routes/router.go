package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/marketledger-backend/api/controllers"
	"github.com/angelmondragon/marketledger-backend/api/middleware"
	"github.com/angelmondragon/marketledger-backend/internal/dispatch"
	"github.com/angelmondragon/marketledger-backend/internal/notifications"
	"github.com/angelmondragon/marketledger-backend/internal/orders"
	"github.com/angelmondragon/marketledger-backend/internal/payouts"
	"github.com/angelmondragon/marketledger-backend/internal/revenue"
	"github.com/angelmondragon/marketledger-backend/internal/settlement"
	"github.com/angelmondragon/marketledger-backend/internal/wallet"
	"github.com/angelmondragon/marketledger-backend/pkg/config"
	"github.com/angelmondragon/marketledger-backend/pkg/enums"
	"github.com/angelmondragon/marketledger-backend/pkg/logger"
	"github.com/angelmondragon/marketledger-backend/pkg/metrics"
	"github.com/angelmondragon/marketledger-backend/pkg/redis"
)

// Deps are the services and clients the HTTP surface is built from.
type Deps struct {
	DB            controllers.Pinger
	Redis         *redis.Client
	HTTPMetrics   *metrics.HTTPMetrics
	Gatherer      prometheus.Gatherer
	Wallet        wallet.Service
	Orders        orders.Service
	Dispatch      dispatch.Service
	Settlement    settlement.Service
	Revenue       revenue.Service
	Payouts       payouts.Service
	Notifications notifications.Service
	DeadLetters   controllers.DeadLetterLister
}

type redisStore interface {
	middleware.IdempotencyStore
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Metrics(deps.HTTPMetrics),
		middleware.CORS(),
	)

	// a nil *redis.Client must stay a nil interface so the middleware skips it
	var store redisStore
	ready := map[string]controllers.Pinger{"db": deps.DB}
	if deps.Redis != nil {
		store = deps.Redis
		ready["redis"] = deps.Redis
	}

	acceptPolicy := middleware.NewRateLimitPolicy("dispatch_accept", cfg.RateLimit.AcceptWindow, cfg.RateLimit.AcceptLimit)
	payoutPolicy := middleware.NewRateLimitPolicy("payout_request", cfg.RateLimit.PayoutWindow, cfg.RateLimit.PayoutLimit)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, ready, logg))
	})
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		retry := middleware.Idempotent(store, middleware.StandardReplayTTL, logg)
		money := middleware.Idempotent(store, middleware.MoneyReplayTTL, logg)

		r.Route("/wallet", func(r chi.Router) {
			r.Get("/", controllers.WalletBalance(deps.Wallet, logg))
			r.Get("/transactions", controllers.WalletTransactions(deps.Wallet, logg))
			r.Get("/payout", controllers.PayoutStatus(deps.Payouts, logg))
			r.With(middleware.RateLimit(payoutPolicy, store, logg), money).Post("/payouts", controllers.RequestPayout(deps.Payouts, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.With(middleware.RequireRole(logg, enums.RoleCustomer), money).Post("/", controllers.PlaceOrder(deps.Orders, logg))
			r.Get("/", controllers.ListOrders(deps.Orders, logg))
			r.Get("/{orderId}", controllers.OrderDetail(deps.Orders, logg))
			r.With(retry).Post("/{orderId}/status", controllers.TransitionOrder(deps.Orders, logg))
			r.With(middleware.RequireRole(logg, enums.RoleVendor, enums.RoleCustomer, enums.RoleAdmin), retry).Post("/{orderId}/dispatch", controllers.DispatchOrder(deps.Dispatch, logg))
			r.With(middleware.RequireRole(logg, enums.RoleVendor), retry).Post("/{orderId}/assign-self", controllers.AssignSelf(deps.Dispatch, logg))
		})

		r.Route("/courier", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.RoleCourier))
			r.Get("/requests", controllers.CourierRequests(deps.Dispatch, logg))
			r.With(middleware.RateLimit(acceptPolicy, store, logg), retry).Post("/orders/{orderId}/accept", controllers.AcceptRequest(deps.Dispatch, logg))
			r.With(retry).Post("/orders/{orderId}/reject", controllers.RejectRequest(deps.Dispatch, logg))
			r.With(retry).Post("/orders/{orderId}/pickup", controllers.VerifyPickup(deps.Dispatch, logg))
			r.With(retry).Post("/orders/{orderId}/deliver", controllers.VerifyDelivery(deps.Dispatch, logg))
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(deps.Notifications, logg))
			r.With(retry).Post("/read-all", controllers.MarkAllNotificationsRead(deps.Notifications, logg))
			r.With(retry).Post("/{id}/read", controllers.MarkNotificationRead(deps.Notifications, logg))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.RoleAdmin))
			r.Get("/platform/balance", controllers.PlatformBalance(deps.Wallet, logg))
			r.With(money).Post("/wallet/{accountId}/credit", controllers.CreditAccount(deps.Wallet, logg))
			r.Put("/accounts/{accountId}/reseller", controllers.SetReseller(deps.Wallet, logg))
			r.Get("/payouts", controllers.PendingPayouts(deps.Payouts, logg))
			r.With(money).Post("/payouts/{txId}/approve", controllers.ApprovePayout(deps.Payouts, logg))
			r.With(money).Post("/payouts/{txId}/reject", controllers.RejectPayout(deps.Payouts, logg))
			r.With(money).Post("/orders/{orderId}/refund", controllers.RefundOrder(deps.Settlement, logg))
			r.Get("/commission-rules", controllers.ListCommissionRules(deps.Revenue, logg))
			r.Put("/commission-rules", controllers.UpsertCommissionRule(deps.Revenue, logg))
			r.Get("/outbox/dead-letters", controllers.DeadLetters(deps.DeadLetters, logg))
		})
	})

	return r
}
