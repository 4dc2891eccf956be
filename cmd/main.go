/**
 * @description
 * Entry point for the ambassador payout service.
 * It receives Tripler confirmation replies from the SMS gateway, records payouts in the
 * ledger and disburses them on a schedule through the configured payment providers.
 *
 * @dependencies
 * - github.com/joho/godotenv: loads .env files during local development.
 * - github.com/jackc/pgx/v5: PostgreSQL ledger.
 * - github.com/redis/go-redis/v9: shared inbound SMS rate limiting.
 * - github.com/robfig/cron/v3 (via app.Scheduler): payout batch schedule.
 * - golang.org/x/sync/errgroup: ties the HTTP server, drain loop and scheduler together.
 */
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/zestyping/blockpower-be-sub000/internal/api"
	"github.com/zestyping/blockpower-be-sub000/internal/app"
	"github.com/zestyping/blockpower-be-sub000/internal/config"
	"github.com/zestyping/blockpower-be-sub000/internal/store"
	"github.com/zestyping/blockpower-be-sub000/pkg/mailer"
	"github.com/zestyping/blockpower-be-sub000/pkg/paypalclient"
	"github.com/zestyping/blockpower-be-sub000/pkg/rabbitmq"
	"github.com/zestyping/blockpower-be-sub000/pkg/stripeclient"
	"github.com/zestyping/blockpower-be-sub000/pkg/twilioclient"
)

const memoryDatabaseURL = "memory://"

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, relying on environment variables")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, closeLog := newLogger(cfg)
	defer closeLog()
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("service stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("service stopped")
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repository, closeRepo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRepo()

	var limiter *app.RedisRateLimiter
	if cfg.SMSRateLimitPerMinute > 0 {
		if client := connectRedis(ctx, cfg.RedisURL, logger); client != nil {
			defer client.Close()
			limiter = app.NewRedisRateLimiter(client, cfg.RedisRateLimitPrefix)
		}
	}

	var publisher rabbitmq.Publisher = &rabbitmq.FallbackPublisher{Logger: logger}
	if cfg.RabbitMQURL != "" {
		if producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, logger); err == nil {
			publisher = producer
		} else {
			logger.Warn("failed to connect to RabbitMQ, using fallback publisher", "error", err)
		}
	}
	defer publisher.Close()

	var sms app.SMSSender
	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" {
		sms = twilioclient.NewClient(cfg.TwilioBaseURL, cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber)
	} else {
		logger.Warn("twilio credentials missing; outbound sms disabled")
	}

	var mail app.EmailSender
	if m := mailer.New(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom); m.Configured() {
		mail = m
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := app.NewMetrics(registry)

	notifier := app.NewNotifier(sms, publisher, mail, cfg.OperatorEmails, cfg.PayoutCurrency, logger)
	trust := app.NewTrustScorer(cfg.TrustThreshold, cfg.TrustWeights)
	providers := newProviderSet(cfg, logger)

	confirmation := app.NewConfirmationService(repository, notifier, cfg.PayoutAmount, cfg.UpgradeURL, logger, metrics)
	disburser := app.NewDisburser(repository, trust, providers, notifier, cfg.PayoutAmount, cfg.ProviderTimeout, logger, metrics)
	queue := app.NewTaskQueue(cfg.QueueDrainInterval, logger, metrics)
	jobs := app.NewJobs(repository, queue, disburser, cfg.PayoutBatchSize, logger, metrics)
	scheduler := app.NewScheduler(jobs, logger, cfg.PayoutBatchSchedule)

	if cfg.InternalAPIKey == "" {
		logger.Warn("INTERNAL_API_KEY is empty; internal endpoints are unauthenticated")
	}
	handler := api.NewHandler(confirmation, jobs, queue, repository, limiter, cfg.SMSRateLimitPerMinute, logger)
	router := api.NewRouter(handler, api.RouterConfig{
		InternalAPIKey:    cfg.InternalAPIKey,
		TwilioAuthToken:   cfg.TwilioAuthToken,
		ValidateSignature: cfg.TwilioValidateSignature,
		PublicWebhookURL:  cfg.PublicWebhookURL,
		Metrics:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
	}, logger)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := scheduler.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		queue.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received, gracefully shutting down")

		<-scheduler.Stop().Done()
		logger.Info("scheduler stopped")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()
	confirmation.Wait()
	return err
}

func newLogger(cfg config.Config) (*slog.Logger, func()) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	closeFn := func() {}
	if cfg.LogFile != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, rotating)
		closeFn = func() { _ = rotating.Close() }
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})), closeFn
}

// openRepository returns the ledger. DATABASE_URL=memory:// selects the in-process store
// for local runs.
func openRepository(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Repository, func(), error) {
	if strings.EqualFold(cfg.DatabaseURL, memoryDatabaseURL) {
		logger.Warn("using in-memory ledger; payouts are lost on restart")
		return store.NewMemoryRepository(), func() {}, nil
	}

	pgConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to parse database URL: %w", err)
	}
	pgConfig.MaxConns = 20
	pgConfig.MinConns = 2
	pgConfig.MaxConnLifetime = 30 * time.Minute
	pgConfig.MaxConnIdleTime = 5 * time.Minute
	pgConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, pgConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	logger.Info("database connection established")

	if cfg.AutoMigrate {
		if err := store.Migrate(ctx, dbpool); err != nil {
			dbpool.Close()
			return nil, nil, err
		}
		logger.Info("database schema applied")
	}
	return store.NewPostgresRepository(dbpool), dbpool.Close, nil
}

func connectRedis(ctx context.Context, redisURL string, logger *slog.Logger) *redis.Client {
	if strings.TrimSpace(redisURL) == "" {
		logger.Warn("redis url missing; sms rate limiting disabled", "env", "REDIS_URL")
		return nil
	}
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("redis url parse failed; sms rate limiting disabled", "error", err)
		return nil
	}
	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed; sms rate limiting disabled", "error", err)
		client.Close()
		return nil
	}
	logger.Info("redis connected")
	return client
}

func newProviderSet(cfg config.Config, logger *slog.Logger) app.ProviderSet {
	httpClient := &http.Client{Timeout: cfg.ProviderTimeout}

	var providers []app.Provider
	if cfg.StripeSecretKey != "" {
		client := stripeclient.NewClient(cfg.StripeBaseURL, cfg.StripeSecretKey,
			stripeclient.WithHTTPClient(httpClient),
			stripeclient.WithRateLimit(cfg.ProviderRateLimitPerSecond))
		providers = append(providers, app.NewStripeProvider(client, cfg.PayoutCurrency))
	} else {
		logger.Warn("stripe credentials missing; bank-linked payouts disabled")
	}
	if cfg.PayPalClientID != "" && cfg.PayPalClientSecret != "" {
		client := paypalclient.NewClient(cfg.PayPalBaseURL, cfg.PayPalClientID, cfg.PayPalClientSecret,
			paypalclient.WithHTTPClient(httpClient),
			paypalclient.WithRateLimit(cfg.ProviderRateLimitPerSecond))
		providers = append(providers, app.NewPayPalProvider(client, cfg.PayoutCurrency))
	} else {
		logger.Warn("paypal credentials missing; email payouts disabled")
	}
	return app.NewProviderSet(providers...)
}
