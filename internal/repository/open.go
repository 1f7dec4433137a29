package repository

import (
	"context"
	"fmt"

	"gharsathi/internal/config"
	"gharsathi/internal/domain"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Open picks the booking store named by cfg.Database.Driver. sqlite is the
// already opened database; redisClient may be nil unless the driver is redis.
// The returned close func releases whatever Open connected itself.
func Open(ctx context.Context, cfg *config.Config, sqlite domain.BookingRepository, redisClient *redis.Client, logger *zerolog.Logger) (domain.BookingRepository, func(), error) {
	noop := func() {}

	switch cfg.Database.Driver {
	case config.DriverSQLite:
		if sqlite == nil {
			return nil, noop, fmt.Errorf("sqlite driver selected but database is not open")
		}
		return sqlite, noop, nil

	case config.DriverMemory:
		logger.Warn().Msg("bookings are kept in memory and will be lost on restart")
		return NewMemoryBookingRepository(), noop, nil

	case config.DriverRedis:
		if redisClient == nil {
			return nil, noop, fmt.Errorf("redis driver selected but redis is not connected")
		}
		return NewRedisBookingRepository(redisClient), noop, nil

	case config.DriverMongo:
		client, err := NewMongoClient(ctx, cfg.Mongo)
		if err != nil {
			return nil, noop, err
		}
		closeFn := func() {
			if err := client.Disconnect(context.Background()); err != nil {
				logger.Error().Err(err).Msg("mongo disconnect")
			}
		}
		repo := NewMongoBookingRepository(client.Database(cfg.Mongo.Database).Collection(cfg.Mongo.Collection))
		if err := repo.EnsureIndexes(ctx); err != nil {
			closeFn()
			return nil, noop, err
		}
		logger.Info().Str("database", cfg.Mongo.Database).Str("collection", cfg.Mongo.Collection).Msg("mongo connected")
		return repo, closeFn, nil
	}

	return nil, noop, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
}
