package database

import (
	"context"
	"fmt"
	"time"

	"gharsathi/internal/models"
)

func (db *DB) CreateNotification(ctx context.Context, n *models.Notification) error {
	if n.Status == "" {
		n.Status = models.NotificationPending
	}
	query := `INSERT INTO notification_outbox (event_type, booking_id, recipient_id, payload, status, retry_count, last_error, created_at, next_retry_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		n.EventType,
		n.BookingID,
		n.RecipientID,
		n.Payload,
		n.Status,
		n.RetryCount,
		n.LastError,
		now,
		n.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	n.ID = id
	n.CreatedAt = now

	return nil
}

func (db *DB) GetPendingNotifications(ctx context.Context, limit int) ([]models.Notification, error) {
	query := `SELECT id, event_type, booking_id, recipient_id, payload, status, retry_count, last_error, created_at, processed_at, next_retry_at
              FROM notification_outbox
              WHERE status IN ('pending', 'retry') AND (next_retry_at IS NULL OR next_retry_at <= ?)
              ORDER BY id ASC LIMIT ?`
	rows, err := db.QueryContext(ctx, query, time.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending notifications: %w", err)
	}
	defer rows.Close()

	return scanNotifications(rows)
}

func (db *DB) UpdateNotificationStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var query string
	var args []interface{}
	now := time.Now()

	var lastErr *string
	if errMsg != "" {
		lastErr = &errMsg
	}

	switch status {
	case models.NotificationRetry:
		query = `UPDATE notification_outbox SET status = ?, last_error = ?, next_retry_at = ?, retry_count = retry_count + 1 WHERE id = ?`
		args = []interface{}{status, lastErr, nextRetryAt, id}
	case models.NotificationDelivered, models.NotificationFailed:
		query = `UPDATE notification_outbox SET status = ?, last_error = ?, next_retry_at = ?, processed_at = ? WHERE id = ?`
		args = []interface{}{status, lastErr, nextRetryAt, &now, id}
	default:
		query = `UPDATE notification_outbox SET status = ?, last_error = ?, next_retry_at = ? WHERE id = ?`
		args = []interface{}{status, lastErr, nextRetryAt, id}
	}

	_, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update notification status: %w", err)
	}
	return nil
}

func (db *DB) GetFailedNotifications(ctx context.Context) ([]models.Notification, error) {
	query := `SELECT id, event_type, booking_id, recipient_id, payload, status, retry_count, last_error, created_at, processed_at, next_retry_at
              FROM notification_outbox WHERE status = 'failed' ORDER BY created_at DESC`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get failed notifications: %w", err)
	}
	defer rows.Close()

	return scanNotifications(rows)
}

type rowsScanner interface {
	Next() bool
	Err() error
	rowScanner
}

func scanNotifications(rows rowsScanner) ([]models.Notification, error) {
	var out []models.Notification
	for rows.Next() {
		var n models.Notification
		err := rows.Scan(
			&n.ID, &n.EventType, &n.BookingID, &n.RecipientID, &n.Payload, &n.Status, &n.RetryCount, &n.LastError, &n.CreatedAt, &n.ProcessedAt, &n.NextRetryAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
