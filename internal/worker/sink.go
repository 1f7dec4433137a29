package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"gharsathi/internal/domain"
	"gharsathi/internal/events"
	"gharsathi/internal/logging"
	"gharsathi/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// LogSink writes notifications to the log. Used when no messenger is configured.
type LogSink struct {
	logger *zerolog.Logger
}

func NewLogSink(logger *zerolog.Logger) *LogSink {
	return &LogSink{logger: logging.ForComponent(logger, "notification_sink")}
}

func (s *LogSink) Deliver(ctx context.Context, recipient *models.Actor, n *models.Notification) error {
	s.logger.Info().
		Str("recipient_id", recipient.ID).
		Str("booking_id", n.BookingID).
		Str("event_type", n.EventType).
		Msg(RenderMessage(n))
	return nil
}

// TelegramSink sends the rendered message to the recipient's Telegram chat.
type TelegramSink struct {
	bot domain.TelegramSender
}

func NewTelegramSink(bot domain.TelegramSender) *TelegramSink {
	return &TelegramSink{bot: bot}
}

func (s *TelegramSink) Deliver(ctx context.Context, recipient *models.Actor, n *models.Notification) error {
	if recipient.TelegramChatID == 0 {
		return fmt.Errorf("%w: %s has no telegram chat", ErrUndeliverable, recipient.ID)
	}
	msg := tgbotapi.NewMessage(recipient.TelegramChatID, RenderMessage(n))
	if _, err := s.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// RenderMessage turns a stored notification into a short human message.
func RenderMessage(n *models.Notification) string {
	var p events.BookingEventPayload
	if err := json.Unmarshal([]byte(n.Payload), &p); err != nil {
		return fmt.Sprintf("Booking %s was updated.", n.BookingID)
	}

	var b strings.Builder
	switch n.EventType {
	case events.EventBookingCreated:
		fmt.Fprintf(&b, "New booking request %s.", p.BookingID)
	case events.EventBookingTransitioned:
		fmt.Fprintf(&b, "Booking %s moved from %s to %s.", p.BookingID, p.FromStatus, p.Status)
	case events.EventBookingChargesUpdated:
		fmt.Fprintf(&b, "Charges for booking %s were revised.", p.BookingID)
	case events.EventBookingNoteAdded:
		fmt.Fprintf(&b, "New note on booking %s: %s", p.BookingID, p.Detail)
		return b.String()
	case events.EventPaymentApplied:
		fmt.Fprintf(&b, "Payment for booking %s: %s.", p.BookingID, p.PaymentStatus)
	case events.EventPaymentRejected:
		fmt.Fprintf(&b, "A payment for booking %s was rejected.", p.BookingID)
	default:
		fmt.Fprintf(&b, "Booking %s was updated.", p.BookingID)
	}
	fmt.Fprintf(&b, " Total: Rs %.2f.", p.TotalCharge)
	return b.String()
}
