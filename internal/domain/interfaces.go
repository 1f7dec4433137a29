package domain

import (
	"context"

	"gharsathi/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// BookingRepository is a document store addressed by the record id. Writes are
// conditional on the version the caller read.
type BookingRepository interface {
	CreateBooking(ctx context.Context, booking *models.Booking) error
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	GetBookingByCode(ctx context.Context, code string) (*models.Booking, error)
	ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error)
	// UpdateBookingWithVersion stores booking only if the stored version is still
	// fromVersion, and sets booking.Version to fromVersion+1 on success.
	UpdateBookingWithVersion(ctx context.Context, booking *models.Booking, fromVersion int64) error
}

// IdentityLookup resolves opaque actor ids. Actor data is never owned here.
type IdentityLookup interface {
	GetActor(ctx context.Context, id string) (*models.Actor, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type BookingService interface {
	CreateBooking(ctx context.Context, in models.CreateBookingInput) (*models.Booking, error)
	GetBooking(ctx context.Context, bookingID string) (*models.Booking, error)
	ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error)
	TransitionBooking(ctx context.Context, bookingID string, req models.TransitionRequest) (*models.Booking, error)
	ApplyPayment(ctx context.Context, bookingID string, req models.PaymentRequest) (*models.Booking, error)
	AppendNote(ctx context.Context, bookingID, actorID, text string) (*models.Booking, error)
	UpdateCharges(ctx context.Context, bookingID string, req models.ChargeUpdate) (*models.Booking, error)
}
