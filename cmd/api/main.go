package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/robfig/cron/v3"
	"github.com/rs/cors"

	"github.com/snapsell/backend/internal/account"
	"github.com/snapsell/backend/internal/anon"
	"github.com/snapsell/backend/internal/auth"
	"github.com/snapsell/backend/internal/billing"
	"github.com/snapsell/backend/internal/config"
	"github.com/snapsell/backend/internal/ledger"
	"github.com/snapsell/backend/internal/listings"
	"github.com/snapsell/backend/internal/metrics"
	"github.com/snapsell/backend/internal/middleware"
	"github.com/snapsell/backend/internal/vision"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Error("cannot reach PostgreSQL; is it running?", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to PostgreSQL")

	// River manages its own queue tables.
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		logger.Error("failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		logger.Error("River migrations failed", "error", err)
		os.Exit(1)
	}

	ledgerRepo := ledger.NewRepository(pool)
	ledgerSvc := ledger.NewService(ledgerRepo)

	// Payment applications run through the queue so a crash between webhook
	// acknowledgment and ledger credit cannot lose a purchase.
	workers := river.NewWorkers()
	river.AddWorker(workers, billing.NewApplyPaymentWorker(ledgerSvc, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers: workers,
	})
	if err != nil {
		logger.Error("failed to create River client", "error", err)
		os.Exit(1)
	}
	enqueueApplyPayment := func(ctx context.Context, args billing.ApplyPaymentArgs) error {
		_, err := riverClient.Insert(ctx, args, nil)
		return err
	}

	// Signup provisions the entitlement row inside the same transaction, so
	// a user can never exist without an allowance record.
	provision := func(ctx context.Context, tx pgx.Tx, userID uuid.UUID, now time.Time) error {
		return ledgerRepo.ProvisionTx(ctx, tx, userID, cfg.DailyCreationLimit, cfg.FreeSaveSlots, now)
	}
	authSvc := auth.NewService(auth.NewRepository(pool), provision, cfg.JWTSecret)
	authHandler := auth.NewHandler(authSvc, logger)

	provider, err := newVisionProvider(cfg, logger)
	if err != nil {
		logger.Error("vision provider init failed", "error", err, "provider", cfg.VisionProvider)
		os.Exit(1)
	}
	logger.Info("vision provider ready", "provider", provider.Name())

	limiter := anon.NewLimiter(cfg.AnonDailyLimit, logger)

	listingsHandler := listings.NewHandler(listings.NewRepository(pool), ledgerSvc, provider, limiter, logger)
	accountHandler := account.NewHandler(authSvc, ledgerSvc, logger)

	// Billing degrades to configuration_missing when Stripe is absent, so
	// development works without a Stripe account.
	var billingSvc billing.Service
	if cfg.BillingConfigured() {
		billingSvc = billing.NewStripeService(cfg.StripeSecretKey, cfg.StripeWebhookSecret, billing.Prices{
			CreationPackPriceID: cfg.StripeCreationPackPriceID,
			SavePackPriceID:     cfg.StripeSavePackPriceID,
			ProPriceID:          cfg.StripeProPriceID,
			CreationPackSize:    cfg.CreationPackSize,
			SavePackSize:        cfg.SaveSlotPackSize,
		})
	} else {
		logger.Warn("stripe not configured; billing endpoints answer 503")
	}
	billingHandler := billing.NewHandler(billingSvc, ledgerSvc, enqueueApplyPayment, logger)

	// Midnight UTC sweep. Reset-on-read keeps reads correct without it; the
	// sweep keeps row counts and dashboards honest and drops dead anonymous
	// counters.
	sched := cron.New(cron.WithLocation(time.UTC))
	if _, err := sched.AddFunc("0 0 * * *", func() {
		limiter.Janitor()

		sweepCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		n, err := ledgerSvc.ResetDueDaily(sweepCtx, time.Now().UTC())
		if err != nil {
			logger.Error("daily reset sweep failed", "error", err)
			return
		}
		metrics.DailyResetsSwept.Add(float64(n))
		logger.Info("daily reset sweep complete", "rows", n)
	}); err != nil {
		logger.Error("failed to schedule daily sweep", "error", err)
		os.Exit(1)
	}
	sched.Start()
	defer sched.Stop()

	mux := http.NewServeMux()
	registerRoutes(mux, cfg, authSvc, authHandler, accountHandler, listingsHandler, billingHandler, logger)

	handler := metrics.Middleware(mux)
	handler = middleware.RequestLogger(logger)(handler)
	handler = cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Device-ID"},
		AllowCredentials: true,
	}).Handler(handler)

	riverCtx, stopRiver := context.WithCancel(ctx)
	defer stopRiver()
	go func() {
		if err := riverClient.Start(riverCtx); err != nil && riverCtx.Err() == nil {
			logger.Error("River client stopped", "error", err)
		}
	}()

	addr := "0.0.0.0:" + strconv.Itoa(cfg.Port)
	logger.Info("starting HTTP server", "addr", addr, "env", cfg.Env)
	if err := http.ListenAndServe(addr, handler); err != nil {
		logger.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// newVisionProvider picks the configured photo-analysis backend. Mock keeps
// development and CI offline.
func newVisionProvider(cfg *config.Config, logger *slog.Logger) (vision.Provider, error) {
	pc := vision.ProviderConfig{
		MaxRetries:     cfg.VisionMaxRetries,
		RetryBaseDelay: cfg.VisionRetryBaseDelay,
		RequestTimeout: cfg.VisionRequestTimeout,
	}
	switch cfg.VisionProvider {
	case "openai":
		return vision.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel, pc, logger)
	case "anthropic":
		return vision.NewAnthropic(cfg.AnthropicAPIKey, cfg.AnthropicModel, pc, logger)
	default:
		return vision.NewMock(), nil
	}
}
