package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"gharsathi/internal/config"
	"gharsathi/internal/database"
	"gharsathi/internal/domain"
	"gharsathi/internal/export"
	"gharsathi/internal/logging"
	"gharsathi/internal/models"
	"gharsathi/internal/repository"

	"github.com/redis/go-redis/v9"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", envOr("CONFIG_PATH", "configs/config.yaml"), "path to config.yaml")
	userID := flag.String("user", "", "only bookings of this user")
	providerID := flag.String("provider", "", "only bookings of this provider")
	status := flag.String("status", "", "only bookings in this status")
	outDir := flag.String("out", "", "output directory (defaults to exports.path)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if closer != nil {
		defer closer.Close()
	}
	logger := baseLogger.With().Str("component", "export-main").Logger()

	filter := models.BookingFilter{UserID: *userID, ProviderID: *providerID, Status: models.Status(*status)}
	if filter.Status != "" && !filter.Status.Valid() {
		return fmt.Errorf("unknown status %q", *status)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var sqliteRepo domain.BookingRepository
	if cfg.Database.Driver == config.DriverSQLite {
		db, err := database.NewDB(cfg.Database.Path, &logger)
		if err != nil {
			return err
		}
		defer db.Close()
		sqliteRepo = db
	}

	var redisClient *redis.Client
	if cfg.Database.Driver == config.DriverRedis {
		redisClient = repository.NewRedisClient(cfg.Redis)
		defer redisClient.Close()
		if err := repository.Ping(ctx, redisClient); err != nil {
			return err
		}
	}

	repo, closeRepo, err := repository.Open(ctx, cfg, sqliteRepo, redisClient, &logger)
	if err != nil {
		return err
	}
	defer closeRepo()

	bookings, err := repo.ListBookings(ctx, filter)
	if err != nil {
		return fmt.Errorf("list bookings: %w", err)
	}

	dir := cfg.Exports.Path
	if *outDir != "" {
		dir = *outDir
	}
	path, err := export.SaveBookings(dir, bookings, time.Now())
	if err != nil {
		return err
	}

	logger.Info().Str("file", path).Int("bookings", len(bookings)).Msg("bookings exported")
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
