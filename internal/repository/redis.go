package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gharsathi/internal/config"
	"gharsathi/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	bookingKeyPrefix  = "booking:"
	bookingCodePrefix = "booking_code:"
	bookingIndexKey   = "bookings"
)

// getter is satisfied by both the client and a WATCH transaction.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisBookingRepository stores each booking as a JSON document. Versioned
// writes run under WATCH so a concurrent writer aborts the transaction.
type RedisBookingRepository struct {
	client *redis.Client
}

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	client := redis.NewClient(options)

	return client
}

func NewRedisBookingRepository(client *redis.Client) *RedisBookingRepository {
	return &RedisBookingRepository{client: client}
}

func bookingKey(id string) string { return bookingKeyPrefix + id }

func (r *RedisBookingRepository) CreateBooking(ctx context.Context, booking *models.Booking) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if booking.Version == 0 {
		booking.Version = 1
	}
	data, err := json.Marshal(booking)
	if err != nil {
		return fmt.Errorf("failed to marshal booking: %w", err)
	}

	// Код заявки резервируем первым, он уникален
	ok, err := r.client.SetNX(ctx, bookingCodePrefix+booking.BookingID, booking.ID, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to reserve booking code: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrDuplicateBookingCode, booking.BookingID)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, bookingKey(booking.ID), data, 0)
		pipe.SAdd(ctx, bookingIndexKey, booking.ID)
		return nil
	})
	if err != nil {
		r.client.Del(ctx, bookingCodePrefix+booking.BookingID)
		return fmt.Errorf("failed to store booking: %w", err)
	}
	return nil
}

func (r *RedisBookingRepository) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	return r.load(ctx, r.client, id)
}

func (r *RedisBookingRepository) GetBookingByCode(ctx context.Context, code string) (*models.Booking, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	id, err := r.client.Get(ctx, bookingCodePrefix+code).Result()
	if err == redis.Nil {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve booking code: %w", err)
	}
	return r.load(ctx, r.client, id)
}

func (r *RedisBookingRepository) ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	ids, err := r.client.SMembers(ctx, bookingIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	out := make([]*models.Booking, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = bookingKey(id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load bookings: %w", err)
	}

	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var b models.Booking
		if err := json.Unmarshal([]byte(s), &b); err != nil {
			return nil, fmt.Errorf("failed to unmarshal booking: %w", err)
		}
		if filter.Matches(&b) {
			out = append(out, &b)
		}
	}
	models.SortBookings(out)
	return out, nil
}

func (r *RedisBookingRepository) UpdateBookingWithVersion(ctx context.Context, booking *models.Booking, fromVersion int64) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	key := bookingKey(booking.ID)

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		stored, err := r.load(ctx, tx, booking.ID)
		if err != nil {
			return err
		}
		if stored.Version != fromVersion {
			return models.ErrConcurrentModification
		}

		next := booking.Clone()
		next.Version = fromVersion + 1
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to marshal booking: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return models.ErrConcurrentModification
	}
	if err != nil {
		return err
	}
	booking.Version = fromVersion + 1
	return nil
}

func (r *RedisBookingRepository) load(ctx context.Context, c getter, id string) (*models.Booking, error) {
	val, err := c.Get(ctx, bookingKey(id)).Result()
	if err == redis.Nil {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking from redis: %w", err)
	}

	var b models.Booking
	if err := json.Unmarshal([]byte(val), &b); err != nil {
		return nil, fmt.Errorf("failed to unmarshal booking: %w", err)
	}
	return &b, nil
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
