package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gharsathi/internal/api"
	"gharsathi/internal/config"
	"gharsathi/internal/database"
	"gharsathi/internal/domain"
	"gharsathi/internal/events"
	"gharsathi/internal/google"
	"gharsathi/internal/logging"
	"gharsathi/internal/metrics"
	"gharsathi/internal/repository"
	"gharsathi/internal/service"
	"gharsathi/internal/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := initDatabase(ctx, cfg, &logger)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	var sqliteRepo domain.BookingRepository
	if db != nil {
		sqliteRepo = db
	}
	repo, closeRepo, err := repository.Open(ctx, cfg, sqliteRepo, redisClient, &logger)
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.Database.Driver).Msg("open booking repository")
		return err
	}
	defer closeRepo()

	identities := initIdentities(cfg, db, &logger)
	bus := events.NewEventBus()

	if err := startNotifications(ctx, cfg, db, identities, redisClient, bus, &logger); err != nil {
		return err
	}

	svc, err := service.NewBookingService(repo, identities, bus, service.Options{
		Billing:     cfg.Billing,
		NodeID:      cfg.Booking.NodeID,
		NoteRetries: cfg.Booking.NoteRetries,
	}, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("create booking service")
		return err
	}

	startSheetsMirror(ctx, cfg, svc, bus, &logger)

	if db != nil && cfg.Backup.Enabled {
		go database.NewBackupService(cfg.Database.Path, cfg.Backup, &logger).Start(ctx)
	}

	startMetrics(ctx, cfg, &logger)

	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config, but starting API application. Check your config.")
	}
	httpServer := api.NewHTTPServer(cfg.API, svc, &logger)

	return startServer(ctx, httpServer, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

// initDatabase opens the sqlite file that holds actors and the notification
// outbox. Without a path the service runs on the configured store only.
func initDatabase(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*database.DB, error) {
	if cfg.Database.Path == "" {
		return nil, nil
	}

	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, err
	}

	if err := db.SeedActors(ctx, cfg.Actors); err != nil {
		_ = db.Close()
		logger.Error().Err(err).Msg("seed actors")
		return nil, err
	}

	if failed, err := db.GetFailedNotifications(ctx); err == nil && len(failed) > 0 {
		logger.Warn().Int("count", len(failed)).Msg("outbox holds failed notifications")
	}
	return db, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

func initIdentities(cfg *config.Config, db *database.DB, logger *zerolog.Logger) domain.IdentityLookup {
	static := repository.NewStaticDirectory(cfg.Actors)
	if db == nil {
		return static
	}
	return repository.NewFailoverIdentityLookup(db, static, logger)
}

func startNotifications(
	ctx context.Context,
	cfg *config.Config,
	db *database.DB,
	identities domain.IdentityLookup,
	redisClient *redis.Client,
	bus *events.EventBus,
	logger *zerolog.Logger,
) error {
	nc := cfg.Notifications
	if !nc.Enabled {
		return nil
	}
	if db == nil {
		return errors.New("notifications need the sqlite outbox")
	}

	var sink worker.Sink
	switch nc.Sink {
	case config.SinkTelegram:
		bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
		if err != nil {
			logger.Error().Err(err).Msg("init telegram bot")
			return err
		}
		bot.Debug = cfg.Telegram.Debug
		logger.Info().Str("bot", bot.Self.UserName).Msg("telegram sink connected")
		sink = worker.NewTelegramSink(bot)
	default:
		sink = worker.NewLogSink(logger)
	}

	var queueClient *redis.Client
	if nc.UseRedisQueue {
		if redisClient == nil {
			logger.Warn().Msg("redis queue requested but redis is unavailable, using in-process queue")
		}
		queueClient = redisClient
	}

	w := worker.NewNotificationWorker(db, sink, identities, queueClient, worker.RetryPolicy{
		MaxRetries:    nc.MaxRetries,
		InitialDelay:  nc.BaseDelay,
		MaxDelay:      nc.MaxDelay,
		BackoffFactor: 2,
	}, worker.Options{
		QueueSize:    nc.QueueSize,
		PollInterval: nc.PollInterval,
		BatchSize:    nc.BatchSize,
	}, logger)
	w.Subscribe(bus)
	go w.Start(ctx)

	logger.Info().Str("sink", nc.Sink).Bool("redis_queue", queueClient != nil).Msg("notification worker started")
	return nil
}

func startSheetsMirror(ctx context.Context, cfg *config.Config, svc *service.BookingService, bus *events.EventBus, logger *zerolog.Logger) {
	if !cfg.Google.Enabled() {
		return
	}

	sheetsService, err := google.NewSheetsService(ctx, cfg.Google.GoogleCredentialsFile, cfg.Google.BookingSpreadSheetID, cfg.Google.SheetName)
	if err != nil {
		logger.Warn().Err(err).Msg("google sheets init failed, continuing without sheets")
		return
	}

	mirror := google.NewMirror(sheetsService, svc, worker.RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 2 * time.Second,
		MaxDelay:     time.Minute,
	}, logger)
	mirror.Subscribe(bus)
	go mirror.Start(ctx)

	logger.Info().Msg("google sheets connected")
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServer(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			errCh <- err
		}
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Str("driver", cfg.Database.Driver).Msg("API server started")

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		logger.Error().Err(err).Msg("http server stopped")
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
