package google

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gharsathi/internal/events"
	"gharsathi/internal/logging"
	"gharsathi/internal/models"
	"gharsathi/internal/worker"

	"github.com/rs/zerolog"
)

const mirrorQueueSize = 256

type bookingWriter interface {
	UpsertBooking(ctx context.Context, booking *models.Booking) error
	ReplaceBookings(ctx context.Context, bookings []*models.Booking) error
}

// BookingReader loads the current booking snapshot by code.
type BookingReader interface {
	GetBooking(ctx context.Context, bookingID string) (*models.Booking, error)
	ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error)
}

// Mirror keeps the spreadsheet in step with booking events. Events only carry
// the code; the row is always rebuilt from the stored booking.
type Mirror struct {
	sheet  bookingWriter
	reader BookingReader
	retry  worker.RetryPolicy
	queue  chan string
	logger *zerolog.Logger
}

func NewMirror(sheet bookingWriter, reader BookingReader, retry worker.RetryPolicy, logger *zerolog.Logger) *Mirror {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 3
	}
	return &Mirror{
		sheet:  sheet,
		reader: reader,
		retry:  retry,
		queue:  make(chan string, mirrorQueueSize),
		logger: logging.ForComponent(logger, "sheets_mirror"),
	}
}

func (m *Mirror) Subscribe(bus *events.EventBus) {
	bus.SubscribeAll(events.AllBookingEvents, m.HandleEvent)
}

func (m *Mirror) HandleEvent(event *events.Event) error {
	var payload events.BookingEventPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return err
	}
	select {
	case m.queue <- payload.BookingID:
	default:
		m.logger.Warn().Str("booking_id", payload.BookingID).Msg("sheets mirror queue is full, row will catch up on next resync")
	}
	return nil
}

// Resync rewrites the sheet from the full booking list.
func (m *Mirror) Resync(ctx context.Context) error {
	bookings, err := m.reader.ListBookings(ctx, models.BookingFilter{})
	if err != nil {
		return err
	}
	if err := m.sheet.ReplaceBookings(ctx, bookings); err != nil {
		return err
	}
	m.logger.Info().Int("rows", len(bookings)).Msg("sheet resynced")
	return nil
}

func (m *Mirror) Start(ctx context.Context) {
	if err := m.Resync(ctx); err != nil {
		m.logger.Error().Err(err).Msg("initial sheet resync failed")
	}
	for {
		select {
		case <-ctx.Done():
			return
		case code := <-m.queue:
			m.sync(ctx, code)
		}
	}
}

func (m *Mirror) sync(ctx context.Context, code string) {
	for attempt := 1; ; attempt++ {
		err := m.syncOnce(ctx, code)
		if err == nil || errors.Is(err, models.ErrNotFound) {
			return
		}
		if m.retry.Exhausted(attempt) {
			m.logger.Error().Err(err).Str("booking_id", code).Int("attempts", attempt).Msg("sheet row sync failed")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.retry.NextDelay(attempt)):
		}
	}
}

func (m *Mirror) syncOnce(ctx context.Context, code string) error {
	booking, err := m.reader.GetBooking(ctx, code)
	if err != nil {
		return err
	}
	return m.sheet.UpsertBooking(ctx, booking)
}
