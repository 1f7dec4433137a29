package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gharsathi/internal/billing"
	"gharsathi/internal/domain"
	"gharsathi/internal/events"
	"gharsathi/internal/lifecycle"
	"gharsathi/internal/logging"
	"gharsathi/internal/metrics"
	"gharsathi/internal/models"
	"gharsathi/internal/payment"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Options tune the booking service. Zero values fall back to defaults.
type Options struct {
	Billing     billing.Policy
	NodeID      int64
	NoteRetries int
	Clock       func() time.Time
}

type BookingService struct {
	repo        domain.BookingRepository
	identities  domain.IdentityLookup
	eventBus    domain.EventPublisher
	calc        *billing.Calculator
	lifecycle   *lifecycle.Controller
	payments    *payment.Reconciler
	codes       *CodeGenerator
	now         func() time.Time
	noteRetries int
	logger      *zerolog.Logger
}

func NewBookingService(repo domain.BookingRepository, identities domain.IdentityLookup, eventBus domain.EventPublisher, opts Options, logger *zerolog.Logger) (*BookingService, error) {
	codes, err := NewCodeGenerator(opts.NodeID)
	if err != nil {
		return nil, err
	}
	if opts.NoteRetries <= 0 {
		opts.NoteRetries = 5
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	calc := billing.NewCalculator(opts.Billing)
	controller := lifecycle.NewController(calc)

	return &BookingService{
		repo:        repo,
		identities:  identities,
		eventBus:    eventBus,
		calc:        calc,
		lifecycle:   controller,
		payments:    payment.NewReconciler(controller),
		codes:       codes,
		now:         opts.Clock,
		noteRetries: opts.NoteRetries,
		logger:      logging.ForComponent(logger, "booking_service"),
	}, nil
}

func (s *BookingService) CreateBooking(ctx context.Context, in models.CreateBookingInput) (*models.Booking, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	// Нижняя граница ставки берётся из тарифа, а не из тега
	if err := s.calc.CheckCharge(in.Charge); err != nil {
		return nil, err
	}
	if err := s.requireRole(ctx, in.UserID, models.RoleUser, "userId"); err != nil {
		return nil, err
	}
	if err := s.requireRole(ctx, in.ProviderID, models.RoleProvider, "providerId"); err != nil {
		return nil, err
	}

	now := s.now()
	booking := &models.Booking{
		ID:              uuid.NewString(),
		BookingID:       s.codes.Next(),
		UserID:          in.UserID,
		ProviderID:      in.ProviderID,
		ServiceType:     strings.TrimSpace(in.ServiceType),
		Description:     in.Description,
		DurationInHours: in.DurationInHours,
		StartTime:       in.StartTime,
		ScheduledTime:   in.ScheduledTime,
		Charge:          billing.RoundMoney(in.Charge),
		Materials:       append([]models.Material(nil), in.Materials...),
		MaterialsCost:   billing.SumMaterials(in.Materials),
		Status:          models.StatusPending,
		PaymentMethod:   models.PaymentMethodNone,
		PaymentStatus:   models.PaymentPending,
		CreatedAt:       now,
		UpdatedAt:       now,
		Version:         1,
	}
	if in.Location != nil {
		booking.Location = *in.Location
	}

	if err := s.calc.Recalculate(booking, false); err != nil {
		return nil, err
	}
	if err := booking.Validate(); err != nil {
		return nil, err
	}

	if err := s.repo.CreateBooking(ctx, booking); err != nil {
		return nil, fmt.Errorf("create booking: %w", err)
	}

	metrics.IncBookingCreated(booking.ServiceType)
	s.logger.Info().
		Str("booking_id", booking.BookingID).
		Str("user_id", booking.UserID).
		Str("provider_id", booking.ProviderID).
		Float64("total_charge", booking.TotalCharge).
		Msg("booking created")
	s.publishEvent(events.EventBookingCreated, booking, "", booking.UserID, models.RoleUser, "")

	return booking, nil
}

func (s *BookingService) GetBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	return s.repo.GetBookingByCode(ctx, bookingID)
}

func (s *BookingService) ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, models.NewValidationError("status", fmt.Sprintf("unknown status %q", filter.Status))
	}
	bookings, err := s.repo.ListBookings(ctx, filter)
	if err != nil {
		return nil, err
	}
	models.SortBookings(bookings)
	return bookings, nil
}

func (s *BookingService) TransitionBooking(ctx context.Context, bookingID string, req models.TransitionRequest) (*models.Booking, error) {
	actor, err := s.resolveActor(ctx, req.ActorID)
	if err != nil {
		return nil, err
	}
	current, err := s.repo.GetBookingByCode(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := checkVersion(current, req.ExpectedVersion); err != nil {
		metrics.IncConflict("transition")
		return nil, err
	}

	at := req.At
	if at.IsZero() {
		at = s.now()
	}

	next, err := s.lifecycle.Apply(current, lifecycle.Request{
		Actor:   *actor,
		Target:  req.Target,
		Payload: req.Payload,
		Now:     at,
	})
	if err != nil {
		metrics.IncTransitionRejected(string(req.Target))
		s.logger.Debug().Err(err).Str("booking_id", bookingID).Str("actor_id", actor.ID).Msg("transition rejected")
		return nil, err
	}

	if err := s.save(ctx, next, current.Version, "transition"); err != nil {
		return nil, err
	}

	metrics.IncTransition(string(current.Status), string(next.Status))
	s.logger.Info().
		Str("booking_id", next.BookingID).
		Str("from", string(current.Status)).
		Str("to", string(next.Status)).
		Str("actor_id", actor.ID).
		Msg("booking transitioned")
	s.publishEvent(events.EventBookingTransitioned, next, current.Status, actor.ID, actor.Role, req.Payload.Reason)

	return next, nil
}

// ApplyPayment reconciles a payment report. An empty ActorID means the report
// came from the gateway.
func (s *BookingService) ApplyPayment(ctx context.Context, bookingID string, req models.PaymentRequest) (*models.Booking, error) {
	actor := &models.SystemActor
	if req.ActorID != "" {
		var err error
		if actor, err = s.resolveActor(ctx, req.ActorID); err != nil {
			return nil, err
		}
	}

	current, err := s.repo.GetBookingByCode(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := checkVersion(current, req.ExpectedVersion); err != nil {
		metrics.IncConflict("payment")
		return nil, err
	}

	next, outcome, err := s.payments.Apply(current, payment.Event{
		Actor:           *actor,
		Method:          req.Method,
		Status:          req.Status,
		TransactionID:   req.TransactionID,
		TransactionCode: req.TransactionCode,
		ReferenceID:     req.ReferenceID,
		Amount:          req.Amount,
		PaidAt:          req.PaidAt,
	}, s.now())
	if err != nil {
		metrics.IncPayment(string(req.Method), "rejected")
		var mismatch *models.AmountMismatchError
		if errors.As(err, &mismatch) {
			s.logger.Warn().
				Str("booking_id", bookingID).
				Str("method", string(req.Method)).
				Float64("expected", mismatch.Expected).
				Float64("got", mismatch.Got).
				Msg("payment amount mismatch")
			s.publishEvent(events.EventPaymentRejected, current, "", actor.ID, actor.Role, err.Error())
		}
		return nil, err
	}

	metrics.IncPayment(string(req.Method), string(outcome))
	if outcome == payment.OutcomeDuplicate {
		s.logger.Info().Str("booking_id", bookingID).Str("transaction_id", req.TransactionID).Msg("duplicate payment event ignored")
		return next, nil
	}

	if err := s.save(ctx, next, current.Version, "payment"); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("booking_id", next.BookingID).
		Str("method", string(req.Method)).
		Str("outcome", string(outcome)).
		Float64("amount", req.Amount).
		Msg("payment applied")
	s.publishEvent(events.EventPaymentApplied, next, current.Status, actor.ID, actor.Role, string(outcome))

	return next, nil
}

// AppendNote adds a free-text note. Notes commute, so a lost race is retried
// against the fresh record instead of being returned to the caller.
func (s *BookingService) AppendNote(ctx context.Context, bookingID, actorID, text string) (*models.Booking, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, models.NewValidationError("text", "is required")
	}
	if len(text) > models.MaxNoteLength {
		return nil, models.NewValidationError("text", fmt.Sprintf("must be at most %d characters", models.MaxNoteLength))
	}

	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		current, err := s.repo.GetBookingByCode(ctx, bookingID)
		if err != nil {
			return nil, err
		}
		if !actor.IsSystem() && !actor.Owns(current) {
			return nil, fmt.Errorf("%w: %s is not a party to %s", models.ErrActorNotPermitted, actor.ID, bookingID)
		}

		now := s.now()
		next := current.Clone()
		next.AddNote(text, actor.ID, now)
		next.UpdatedAt = now

		err = s.save(ctx, next, current.Version, "note")
		if err == nil {
			s.publishEvent(events.EventBookingNoteAdded, next, "", actor.ID, actor.Role, text)
			return next, nil
		}
		if !errors.Is(err, models.ErrConcurrentModification) || attempt >= s.noteRetries {
			return nil, err
		}
		s.logger.Debug().Str("booking_id", bookingID).Int("attempt", attempt).Msg("note append raced, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
}

// UpdateCharges lets the provider revise pricing inputs before payment. It
// never changes the booking status.
func (s *BookingService) UpdateCharges(ctx context.Context, bookingID string, req models.ChargeUpdate) (*models.Booking, error) {
	actor, err := s.resolveActor(ctx, req.ActorID)
	if err != nil {
		return nil, err
	}
	current, err := s.repo.GetBookingByCode(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleProvider || !actor.Owns(current) {
		return nil, fmt.Errorf("%w: only the booking provider may revise charges", models.ErrActorNotPermitted)
	}
	if err := checkVersion(current, req.ExpectedVersion); err != nil {
		metrics.IncConflict("charges")
		return nil, err
	}
	if current.ChargeLocked {
		return nil, fmt.Errorf("%w: %s", models.ErrChargesLocked, bookingID)
	}
	if current.Status.Terminal() {
		return nil, fmt.Errorf("%w: booking is %s", models.ErrStateTransition, current.Status)
	}

	next := current.Clone()
	if req.Charge != nil {
		if err := s.calc.CheckCharge(*req.Charge); err != nil {
			return nil, err
		}
		next.Charge = billing.RoundMoney(*req.Charge)
	}
	if req.Materials != nil {
		next.Materials = append([]models.Material(nil), req.Materials...)
		next.MaterialsCost = billing.SumMaterials(req.Materials)
	}
	if req.MaterialsCost != nil {
		next.MaterialsCost = billing.RoundMoney(*req.MaterialsCost)
	}
	if req.AdditionalCharge != nil {
		next.AdditionalCharge = billing.RoundMoney(*req.AdditionalCharge)
	}
	if req.MaintenanceDetails != nil {
		md := *req.MaintenanceDetails
		if md.MaterialCost == 0 && len(md.Materials) > 0 {
			md.MaterialCost = billing.SumMaterials(md.Materials)
		}
		next.MaintenanceDetails = &md
	}

	if err := s.calc.Recalculate(next, false); err != nil {
		return nil, err
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	next.UpdatedAt = now
	next.AddNote(fmt.Sprintf("charges revised, total %.2f", next.TotalCharge), models.SystemActorID, now)

	if err := s.save(ctx, next, current.Version, "charges"); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("booking_id", next.BookingID).
		Float64("previous_total", current.TotalCharge).
		Float64("total_charge", next.TotalCharge).
		Msg("charges updated")
	s.publishEvent(events.EventBookingChargesUpdated, next, "", actor.ID, actor.Role, "")

	return next, nil
}

func (s *BookingService) save(ctx context.Context, next *models.Booking, fromVersion int64, op string) error {
	err := s.repo.UpdateBookingWithVersion(ctx, next, fromVersion)
	if err == nil {
		return nil
	}
	if errors.Is(err, models.ErrConcurrentModification) {
		metrics.IncConflict(op)
		s.logger.Debug().Str("booking_id", next.BookingID).Int64("version", fromVersion).Str("operation", op).Msg("stale write rejected")
	}
	return fmt.Errorf("%s %s: %w", op, next.BookingID, err)
}

func checkVersion(current *models.Booking, expected int64) error {
	if expected != 0 && expected != current.Version {
		return fmt.Errorf("%w: %s is at version %d, caller expected %d", models.ErrConcurrentModification, current.BookingID, current.Version, expected)
	}
	return nil
}

func (s *BookingService) resolveActor(ctx context.Context, id string) (*models.Actor, error) {
	if strings.TrimSpace(id) == "" {
		return nil, models.NewValidationError("actorId", "is required")
	}
	if id == models.SystemActorID {
		sys := models.SystemActor
		return &sys, nil
	}
	actor, err := s.identities.GetActor(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrActorNotFound) {
			return nil, fmt.Errorf("%w: unknown actor %s", models.ErrActorNotPermitted, id)
		}
		return nil, err
	}
	return actor, nil
}

func (s *BookingService) requireRole(ctx context.Context, id string, role models.Role, field string) error {
	actor, err := s.identities.GetActor(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrActorNotFound) {
			return models.NewValidationError(field, "unknown "+string(role))
		}
		return err
	}
	if actor.Role != role {
		return models.NewValidationError(field, fmt.Sprintf("must reference a %s", role))
	}
	return nil
}

func (s *BookingService) publishEvent(eventType string, booking *models.Booking, from models.Status, changedBy string, role models.Role, detail string) {
	if s.eventBus == nil {
		return
	}

	payload := events.BookingEventPayload{
		BookingID:     booking.BookingID,
		RecordID:      booking.ID,
		UserID:        booking.UserID,
		ProviderID:    booking.ProviderID,
		FromStatus:    string(from),
		Status:        string(booking.Status),
		PaymentStatus: string(booking.PaymentStatus),
		PaymentMethod: string(booking.PaymentMethod),
		TotalCharge:   booking.TotalCharge,
		Version:       booking.Version,
		ChangedBy:     changedBy,
		ChangedByRole: string(role),
		Detail:        detail,
		OccurredAt:    booking.UpdatedAt,
	}

	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Str("booking_id", booking.BookingID).Msg("publish event error")
	}
}
