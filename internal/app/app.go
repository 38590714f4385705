// Package app wires the checkout pipeline's dependencies and runs the server.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/catalog"
	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
	"github.com/xenking/storefront-checkout/internal/domain/reservation"
	"github.com/xenking/storefront-checkout/internal/gateway"
	"github.com/xenking/storefront-checkout/internal/handler"
	"github.com/xenking/storefront-checkout/internal/notify"
	"github.com/xenking/storefront-checkout/internal/storage/memory"
	"github.com/xenking/storefront-checkout/internal/storage/postgres"
	"github.com/xenking/storefront-checkout/pkg/health"
	"github.com/xenking/storefront-checkout/pkg/httpmiddleware"
)

// repositories bundles every persistence contract the pipeline needs, so the
// Postgres and in-memory backends wire identically.
type repositories struct {
	carts        cart.Repository
	catalog      catalog.Repository
	reservations reservation.Repository
	intents      payment.IntentStore
	events       payment.EventLog
	attempts     checkout.AttemptStore
	anomalies    checkout.AnomalyStore
	ledger       order.Ledger
	sessions     auth.Repository
}

// Run creates all dependencies, starts the HTTP server and background
// workers, and handles graceful shutdown. It is the single wiring point for
// the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	healthSvc := health.New()

	var repos repositories
	if cfg.DatabaseURL == "" {
		lg.Warn("no database URL configured, running on the in-memory store")
		store := memory.NewStore()
		repos = repositories{
			carts:        store.Carts(),
			catalog:      store.Catalog(),
			reservations: store.Reservations(),
			intents:      store.Intents(),
			events:       store.Events(),
			attempts:     store.Attempts(),
			anomalies:    store.Anomalies(),
			ledger:       store.Ledger(),
			sessions:     store.Sessions(),
		}
	} else {
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return errors.Wrap(err, "create db pool")
		}
		defer pool.Close()

		if err := postgres.RunMigrations(ctx, pool); err != nil {
			return errors.Wrap(err, "run migrations")
		}
		healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
			return pool.Ping(ctx)
		})
		repos = repositories{
			carts:        postgres.NewCartRepository(pool),
			catalog:      postgres.NewCatalogRepository(pool),
			reservations: postgres.NewReservationRepository(pool),
			intents:      postgres.NewIntentRepository(pool),
			events:       postgres.NewEventLogRepository(pool),
			attempts:     postgres.NewAttemptRepository(pool),
			anomalies:    postgres.NewAnomalyRepository(pool),
			ledger:       postgres.NewOrderLedger(pool),
			sessions:     postgres.NewSessionRepository(pool),
		}
	}

	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Notification dispatcher. Without an SMTP relay confirmations are
	// logged only, which keeps local development self-contained.
	var sender notify.Sender
	if cfg.Notify.SMTPAddr != "" {
		sender = notify.NewSMTPSender(notify.SMTPConfig{
			Addr:     cfg.Notify.SMTPAddr,
			Username: cfg.Notify.SMTPUsername,
			Password: cfg.Notify.SMTPPassword,
			From:     cfg.Notify.From,
		})
	} else {
		sender = notify.NewLogSender(lg)
	}
	dispatcher := notify.NewDispatcher(notify.Config{
		QueueSize:   cfg.Notify.QueueSize,
		MaxAttempts: cfg.Notify.MaxAttempts,
		RetryBase:   cfg.Notify.RetryBase,
	}, sender, lg)

	// Domain services.
	engine := reservation.NewEngine(repos.reservations, repos.catalog, lg)
	payments := payment.NewOrchestrator(
		gateway.NewClient(gateway.Config{
			BaseURL: cfg.Gateway.BaseURL,
			APIKey:  cfg.Gateway.APIKey,
			Timeout: cfg.Gateway.Timeout,
		}),
		repos.intents, repos.events, []byte(cfg.Webhook.Secret), lg,
	)
	metrics, err := checkout.NewMetrics(m.MeterProvider(), m.TracerProvider())
	if err != nil {
		return errors.Wrap(err, "create metrics")
	}
	orchestrator := checkout.NewOrchestrator(
		checkout.Config{HoldWindow: cfg.Checkout.HoldWindow, Currency: cfg.Currency},
		repos.carts, repos.catalog, engine, payments,
		repos.ledger, repos.attempts, repos.anomalies,
		dispatcher, metrics, lg,
	)
	sweeper := checkout.NewSweeper(checkout.SweeperConfig{
		ExpiryInterval:   cfg.Checkout.ExpiryInterval,
		RecoveryInterval: cfg.Checkout.RecoveryInterval,
	}, orchestrator, lg)

	// HTTP routes.
	h := handler.NewHandler(
		repos.carts, repos.catalog, orchestrator, repos.ledger,
		repos.sessions, []byte(cfg.TokenPepper), lg,
	)
	router := chi.NewRouter()
	router.Use(
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", "Authorization", "X-Payment-Signature"},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
		}),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.LogRequests(),
	)
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	h.Routes(router)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: otelhttp.NewHandler(router, "storefront-api",
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
		),
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sweeper.Run(gCtx)
	})
	g.Go(func() error {
		return dispatcher.Run(gCtx)
	})

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	g.Go(func() error {
		<-gCtx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	// Workers exit with context.Canceled on a clean shutdown.
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
