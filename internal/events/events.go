package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

const (
	EventBookingCreated        = "booking_created"
	EventBookingTransitioned   = "booking_transitioned"
	EventBookingChargesUpdated = "booking_charges_updated"
	EventBookingNoteAdded      = "booking_note_added"
	EventPaymentApplied        = "payment_applied"
	EventPaymentRejected       = "payment_rejected"
)

// AllBookingEvents lists every event type the booking service publishes.
var AllBookingEvents = []string{
	EventBookingCreated,
	EventBookingTransitioned,
	EventBookingChargesUpdated,
	EventBookingNoteAdded,
	EventPaymentApplied,
	EventPaymentRejected,
}

// BookingEventPayload describes the minimal booking snapshot for event consumers.
type BookingEventPayload struct {
	BookingID     string    `json:"booking_id"`
	RecordID      string    `json:"record_id"`
	UserID        string    `json:"user_id"`
	ProviderID    string    `json:"provider_id"`
	FromStatus    string    `json:"from_status,omitempty"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"payment_status"`
	PaymentMethod string    `json:"payment_method,omitempty"`
	TotalCharge   float64   `json:"total_charge"`
	Version       int64     `json:"version"`
	ChangedBy     string    `json:"changed_by,omitempty"`
	ChangedByRole string    `json:"changed_by_role,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Recipients returns the parties that should hear about the event, skipping
// the one who caused it.
func (p BookingEventPayload) Recipients() []string {
	out := make([]string, 0, 2)
	for _, id := range []string{p.UserID, p.ProviderID} {
		if id != "" && id != p.ChangedBy {
			out = append(out, id)
		}
	}
	return out
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
	Processed bool
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	failures    atomic.Int64
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(event); err != nil {
			b.failures.Add(1)
		}
	}
}

// SubscribeAll registers one handler for several event types.
func (b *EventBus) SubscribeAll(eventTypes []string, handler EventHandler) {
	for _, t := range eventTypes {
		b.Subscribe(t, handler)
	}
}

// Failures counts handler errors since the bus was created.
func (b *EventBus) Failures() int64 {
	return b.failures.Load()
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}
