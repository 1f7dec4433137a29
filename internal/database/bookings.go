package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gharsathi/internal/models"
)

const bookingColumns = `document, version`

func (db *DB) CreateBooking(ctx context.Context, booking *models.Booking) error {
	if booking.Version == 0 {
		booking.Version = 1
	}
	doc, err := json.Marshal(booking)
	if err != nil {
		return fmt.Errorf("failed to marshal booking: %w", err)
	}

	query := `INSERT INTO bookings (
				id, booking_code, user_id, provider_id, status, payment_status,
				total_charge, document, created_at, updated_at, version
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = db.ExecContext(ctx, query,
		booking.ID,
		booking.BookingID,
		booking.UserID,
		booking.ProviderID,
		booking.Status,
		booking.PaymentStatus,
		booking.TotalCharge,
		string(doc),
		booking.CreatedAt,
		booking.UpdatedAt,
		booking.Version,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: bookings.booking_code") {
			return fmt.Errorf("%w: %s", models.ErrDuplicateBookingCode, booking.BookingID)
		}
		return fmt.Errorf("failed to create booking: %w", err)
	}
	return nil
}

func (db *DB) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	return db.queryBooking(ctx, query, id)
}

func (db *DB) GetBookingByCode(ctx context.Context, code string) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE booking_code = ?`
	return db.queryBooking(ctx, query, code)
}

func (db *DB) ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.ProviderID != "" {
		where = append(where, "provider_id = ?")
		args = append(args, filter.ProviderID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, booking_code ASC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	defer rows.Close()

	bookings := make([]*models.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bookings: %w", err)
	}
	// created_at хранится строкой, порядок по времени восстанавливаем явно
	models.SortBookings(bookings)
	return bookings, nil
}

func (db *DB) UpdateBookingWithVersion(ctx context.Context, booking *models.Booking, fromVersion int64) error {
	next := booking.Clone()
	next.Version = fromVersion + 1
	doc, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to marshal booking: %w", err)
	}

	query := `UPDATE bookings
              SET status = ?, payment_status = ?, total_charge = ?, document = ?,
                  updated_at = ?, version = version + 1
              WHERE id = ? AND version = ?`
	result, err := db.ExecContext(ctx, query,
		next.Status,
		next.PaymentStatus,
		next.TotalCharge,
		string(doc),
		next.UpdatedAt,
		next.ID,
		fromVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		if _, err := db.GetBooking(ctx, booking.ID); err != nil {
			return err
		}
		return models.ErrConcurrentModification
	}

	booking.Version = next.Version
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (db *DB) queryBooking(ctx context.Context, query string, arg interface{}) (*models.Booking, error) {
	b, err := scanBooking(db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	return b, err
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		doc     string
		version int64
	)
	if err := row.Scan(&doc, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan booking: %w", err)
	}

	var b models.Booking
	if err := json.Unmarshal([]byte(doc), &b); err != nil {
		return nil, fmt.Errorf("failed to unmarshal booking: %w", err)
	}
	// Колонка version авторитетна
	b.Version = version
	return &b, nil
}
