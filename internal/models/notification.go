package models

import "time"

const (
	NotificationPending   = "pending"
	NotificationRetry     = "retry"
	NotificationDelivered = "delivered"
	NotificationFailed    = "failed"
)

// Notification is an outbound message to one party of a booking, persisted
// in the outbox until a sink accepts it.
type Notification struct {
	ID          int64      `json:"id"`
	EventType   string     `json:"event_type"`
	BookingID   string     `json:"booking_id"`
	RecipientID string     `json:"recipient_id"`
	Payload     string     `json:"payload"`
	Status      string     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	LastError   *string    `json:"last_error"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at"`
	NextRetryAt *time.Time `json:"next_retry_at"`
}
