package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gharsathi/internal/config"
	"gharsathi/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoBookingRepository stores one document per booking keyed by the record
// id. Versioned writes replace the document only while its version matches.
type MongoBookingRepository struct {
	coll *mongo.Collection
}

// NewMongoClient connects and pings the deployment named in cfg.
func NewMongoClient(ctx context.Context, cfg config.MongoConfig) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI).SetTimeout(cfg.Timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}
	return client, nil
}

func NewMongoBookingRepository(coll *mongo.Collection) *MongoBookingRepository {
	return &MongoBookingRepository{coll: coll}
}

// EnsureIndexes creates indexes for fields frequently used in queries.
func (r *MongoBookingRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	indexModels := []mongo.IndexModel{
		{Keys: bson.D{{Key: "bookingId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "providerId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
	}

	if _, err := r.coll.Indexes().CreateMany(ctx, indexModels); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

func (r *MongoBookingRepository) CreateBooking(ctx context.Context, booking *models.Booking) error {
	if booking.Version == 0 {
		booking.Version = 1
	}
	if _, err := r.coll.InsertOne(ctx, booking); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", models.ErrDuplicateBookingCode, booking.BookingID)
		}
		return fmt.Errorf("failed to insert booking: %w", err)
	}
	return nil
}

func (r *MongoBookingRepository) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoBookingRepository) GetBookingByCode(ctx context.Context, code string) (*models.Booking, error) {
	return r.findOne(ctx, bson.M{"bookingId": code})
}

func (r *MongoBookingRepository) ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error) {
	query := bson.M{}
	if filter.UserID != "" {
		query["userId"] = filter.UserID
	}
	if filter.ProviderID != "" {
		query["providerId"] = filter.ProviderID
	}
	if filter.Status != "" {
		query["status"] = filter.Status
	}

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "bookingId", Value: 1}})
	cursor, err := r.coll.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	defer cursor.Close(ctx)

	bookings := make([]*models.Booking, 0)
	if err := cursor.All(ctx, &bookings); err != nil {
		return nil, fmt.Errorf("failed to decode bookings: %w", err)
	}
	return bookings, nil
}

func (r *MongoBookingRepository) UpdateBookingWithVersion(ctx context.Context, booking *models.Booking, fromVersion int64) error {
	next := booking.Clone()
	next.Version = fromVersion + 1

	res, err := r.coll.ReplaceOne(ctx, bson.M{"_id": booking.ID, "version": fromVersion}, next)
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}
	if res.MatchedCount == 0 {
		// Либо записи нет, либо версия уже ушла вперёд
		if _, err := r.findOne(ctx, bson.M{"_id": booking.ID}); err != nil {
			return err
		}
		return models.ErrConcurrentModification
	}

	booking.Version = next.Version
	return nil
}

func (r *MongoBookingRepository) findOne(ctx context.Context, filter bson.M) (*models.Booking, error) {
	var b models.Booking
	err := r.coll.FindOne(ctx, filter).Decode(&b)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking from mongo: %w", err)
	}
	return &b, nil
}
