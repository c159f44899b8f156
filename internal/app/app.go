package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ayo6706/escrow-settlement/internal/api"
	"github.com/ayo6706/escrow-settlement/internal/api/handler"
	"github.com/ayo6706/escrow-settlement/internal/api/middleware"
	"github.com/ayo6706/escrow-settlement/internal/config"
	"github.com/ayo6706/escrow-settlement/internal/db"
	"github.com/ayo6706/escrow-settlement/internal/domain"
	"github.com/ayo6706/escrow-settlement/internal/gateway"
	"github.com/ayo6706/escrow-settlement/internal/idempotency"
	"github.com/ayo6706/escrow-settlement/internal/notify"
	"github.com/ayo6706/escrow-settlement/internal/observability"
	"github.com/ayo6706/escrow-settlement/internal/repository"
	"github.com/ayo6706/escrow-settlement/internal/repository/memstore"
	"github.com/ayo6706/escrow-settlement/internal/service"
	"github.com/ayo6706/escrow-settlement/internal/session"
	"github.com/ayo6706/escrow-settlement/internal/worker"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// store is the primary storage backend: Postgres or the in-memory store.
type store interface {
	service.QueryStore
	Ping(ctx context.Context) error
}

// Run bootstraps the HTTP server and background workers, blocking until shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	primary, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	var (
		redisClient *redis.Client
		redisPinger handler.Pinger
		cache       redis.Cmdable
		notifier    notify.Notifier         = notify.NewLogNotifier(logger)
		revocations session.RevocationStore = session.NewMemoryRevocationStore()
	)
	if cfg.RedisURL != "" {
		redisClient, err = newRedisClient(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisClient.Close()
		redisPinger = redisPing{redisClient}
		cache = redisClient
		notifier = notify.NewRedisNotifier(redisClient, cfg.NotifyChannel)
		revocations = session.NewRedisRevocationStore(redisClient)
	} else {
		logger.Warn("redis disabled: idempotency cache, notifications and session revocation are local to this replica")
	}

	sessions := session.NewManager(cfg.SessionIdleTimeout, session.WithRevocationStore(revocations))
	defer sessions.Close()
	middleware.SetSessionManager(sessions)

	registry, err := newRegistry(cfg)
	if err != nil {
		return err
	}
	logger.Info("payment providers registered",
		zap.String("checkout", cfg.CheckoutProvider),
		zap.Strings("payout", registry.PayoutProviders()),
		zap.Strings("mocked", cfg.MockProviders),
	)

	audit := service.NewAuditService()
	ledger := service.NewEscrowLedger(audit, nil)
	funding := service.NewFundingService(primary, registry, ledger, service.FundingConfig{
		CallbackURL:    cfg.CheckoutCallbackURL,
		PlatformFeeBPS: cfg.PlatformFeeBPS,
	}, nil)
	disputes := service.NewDisputeService(primary, ledger, notifier, nil)
	projects := service.NewProjectWorkflowService(primary, funding, disputes, notifier, cfg.ApprovalWindow, nil)
	orders := service.NewOrderEscrowService(primary, funding, disputes, notifier, cfg.OrderStaleAfter, nil)
	payouts := service.NewPayoutProcessor(primary, registry, audit, notifier, service.PayoutConfig{
		FingerprintKey: cfg.FingerprintKey,
		MaxRetries:     cfg.PayoutMaxRetries,
	}, nil)
	webhooks := service.NewWebhookIngestor(primary, registry, funding, payouts, notifier, cfg.DeferredEventMaxAttempts, nil)
	recon := service.NewReconciliationService(primary, registry, funding, cfg.FundingConfirmationWindow, nil)

	router := api.NewRouter(logger, api.Services{
		Projects: projects,
		Orders:   orders,
		Disputes: disputes,
		Wallets:  service.NewWalletService(primary, cfg.Currency),
		Payouts:  payouts,
		Webhooks: webhooks,
	}, idempotency.NewStore(cache, primary.Queries(), cfg.IdempotencyTTL), sessions, primary, redisPinger, api.Options{
		Currency:           cfg.Currency,
		PublicRateLimitRPS: cfg.PublicRateLimitRPS,
		AuthRateLimitRPS:   cfg.AuthRateLimitRPS,
		TokenTTL:           cfg.TokenTTL,
	})

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown failed", zap.Error(err))
		}
		return nil
	})

	workers := []interface{ Start(context.Context) }{
		worker.NewPayoutWorker(payouts).
			WithPollInterval(cfg.PayoutPollInterval).
			WithBatchSize(cfg.PayoutBatchSize),
		worker.NewReconciliationWorker(recon).WithInterval(cfg.ReconciliationInterval),
		worker.NewDeferredEventWorker(webhooks).WithInterval(cfg.DeferredEventInterval),
		worker.NewSessionPruneWorker(sessions, cfg.TokenTTL),
	}
	if cfg.AutoApproveEnabled {
		workers = append(workers, worker.NewAutoApproveWorker(projects).WithInterval(cfg.AutoApproveInterval))
	}
	for _, w := range workers {
		w := w
		g.Go(func() error {
			w.Start(gctx)
			return nil
		})
	}

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}

func openStore(ctx context.Context, cfg *config.Config) (store, func(), error) {
	if cfg.StorageDriver == config.StorageDriverMemory {
		zap.L().Warn("using in-memory storage: data is lost on restart")
		return memstore.New(), func() {}, nil
	}
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	return repository.NewStore(pool), pool.Close, nil
}

// newRegistry registers a gateway for every enabled provider. Mocked
// providers share one secret so local tooling can sign their webhooks.
func newRegistry(cfg *config.Config) (*gateway.Registry, error) {
	registry := gateway.NewRegistry(cfg.CheckoutProvider)
	httpClient := &http.Client{Timeout: 15 * time.Second}

	for _, name := range cfg.MockProviders {
		registry.Register(gateway.NewMockGateway(name, cfg.MockWebhookSecret))
	}
	if cfg.PaystackSecretKey != "" && !cfg.Mocked(domain.ProviderPaystack) {
		registry.Register(gateway.NewPaystack(cfg.PaystackSecretKey, cfg.PaystackBaseURL, httpClient))
	}
	if cfg.FlutterwaveSecretKey != "" && !cfg.Mocked(domain.ProviderFlutterwave) {
		registry.Register(gateway.NewFlutterwave(cfg.FlutterwaveSecretKey, cfg.FlutterwaveWebhookHash, cfg.FlutterwaveBaseURL, httpClient))
	}
	if _, err := registry.Checkout(); err != nil {
		return nil, fmt.Errorf("checkout provider: %w", err)
	}
	return registry, nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// redisPing adapts *redis.Client to handler.Pinger.
type redisPing struct {
	client *redis.Client
}

func (p redisPing) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
