package api

import (
	"net/http"
	"time"

	"github.com/ayo6706/escrow-settlement/internal/api/handler"
	"github.com/ayo6706/escrow-settlement/internal/api/middleware"
	"github.com/ayo6706/escrow-settlement/internal/api/spec"
	"github.com/ayo6706/escrow-settlement/internal/domain"
	"github.com/ayo6706/escrow-settlement/internal/idempotency"
	"github.com/ayo6706/escrow-settlement/internal/service"
	"github.com/ayo6706/escrow-settlement/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Services groups everything the HTTP layer calls into.
type Services struct {
	Projects *service.ProjectWorkflowService
	Orders   *service.OrderEscrowService
	Disputes *service.DisputeService
	Wallets  *service.WalletService
	Payouts  *service.PayoutProcessor
	Webhooks *service.WebhookIngestor
}

// Options tune the router.
type Options struct {
	Currency           string
	PublicRateLimitRPS int
	AuthRateLimitRPS   int
	TokenTTL           time.Duration
}

type Router struct {
	logger      *zap.Logger
	services    Services
	idempotency *idempotency.Store
	sessions    *session.Manager
	store       handler.Pinger
	redis       handler.Pinger
	opts        Options
}

// NewRouter builds the router. redis may be nil.
func NewRouter(logger *zap.Logger, services Services, idem *idempotency.Store, sessions *session.Manager, store, redis handler.Pinger, opts Options) *Router {
	if opts.PublicRateLimitRPS <= 0 {
		opts.PublicRateLimitRPS = 10
	}
	if opts.AuthRateLimitRPS <= 0 {
		opts.AuthRateLimitRPS = 100
	}
	return &Router{
		logger:      logger,
		services:    services,
		idempotency: idem,
		sessions:    sessions,
		store:       store,
		redis:       redis,
		opts:        opts,
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	healthHandler := handler.NewHealthHandler(api.store, api.redis)
	projectHandler := handler.NewProjectHandler(api.services.Projects, api.opts.Currency)
	orderHandler := handler.NewOrderHandler(api.services.Orders, api.opts.Currency)
	disputeHandler := handler.NewDisputeHandler(api.services.Disputes)
	walletHandler := handler.NewWalletHandler(api.services.Wallets, api.services.Payouts)
	payoutHandler := handler.NewPayoutHandler(api.services.Payouts, api.services.Wallets)
	webhookHandler := handler.NewWebhookHandler(api.services.Webhooks)
	authHandler := handler.NewAuthHandler(api.sessions, api.opts.TokenTTL)

	// Ops
	r.Get("/healthz", healthHandler.Live)
	r.Get("/readyz", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.opts.PublicRateLimitRPS))
		r.Get("/openapi.yaml", spec.OpenAPIHandler())
		r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))
	})

	// Provider callbacks authenticate by signature, not by token.
	r.Group(func(r chi.Router) {
		r.Use(middleware.WebhookRateLimiter(api.opts.PublicRateLimitRPS))
		r.Post("/webhooks/{provider}", webhookHandler.Handle)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(api.opts.AuthRateLimitRPS))

		r.Post("/auth/refresh", authHandler.Refresh)
		r.Post("/auth/logout", authHandler.Logout)

		r.Post("/projects", projectHandler.Create)
		r.Post("/projects/escrow/place", projectHandler.PlaceEscrow)
		r.Get("/projects/{id}", projectHandler.Get)
		r.Post("/projects/{id}/submit-work", projectHandler.SubmitWork)
		r.Post("/projects/{id}/approve-work", projectHandler.ApproveWork)
		r.Post("/projects/{id}/dispute", projectHandler.Dispute)

		r.Post("/orders", orderHandler.Create)
		r.Post("/orders/{id}/escrow/place", orderHandler.PlaceEscrow)
		r.Get("/escrow/{id}", orderHandler.Get)
		r.Post("/escrow/{id}/confirm-delivery", orderHandler.ConfirmDelivery)
		r.Post("/escrow/{id}/approve", orderHandler.Approve)
		r.Post("/escrow/{id}/dispute", orderHandler.Dispute)
		r.With(middleware.RequireRole(domain.RoleAdmin)).Post("/escrow/{id}/refund", orderHandler.Refund)

		r.Get("/wallet", walletHandler.GetWallet)
		r.Get("/wallet/withdrawals", walletHandler.ListWithdrawals)
		r.Get("/wallet/withdrawals/{id}", walletHandler.GetWithdrawal)
		r.With(middleware.IdempotencyMiddleware(api.idempotency, api.logger)).Post("/wallet/withdrawals", walletHandler.RequestWithdrawal)

		r.Post("/payouts/{provider}/bank-account", payoutHandler.RegisterBankAccount)
		r.Post("/payouts/{provider}/process/{withdrawal_id}", payoutHandler.Process)

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(domain.RoleAdmin))
			r.Get("/disputes", disputeHandler.List)
			r.Post("/disputes/{id}/resolve", disputeHandler.Resolve)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		handler.RespondError(w, r, http.StatusNotFound, "resource/not-found", "route not found")
	})
	return r
}
