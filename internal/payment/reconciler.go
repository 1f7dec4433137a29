package payment

import (
	"fmt"
	"strings"
	"time"

	"gharsathi/internal/billing"
	"gharsathi/internal/lifecycle"
	"gharsathi/internal/models"
)

// Event отчёт о платеже: от шлюза или от исполнителя, принявшего наличные
type Event struct {
	Actor           models.Actor
	Method          models.PaymentMethod
	Status          models.PaymentStatus
	TransactionID   string
	TransactionCode string
	ReferenceID     string
	Amount          float64
	PaidAt          time.Time
}

// Outcome что событие сделало с заявкой
type Outcome string

const (
	OutcomeSettled   Outcome = "settled"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFailed    Outcome = "failed"
	OutcomeRefunded  Outcome = "refunded"
)

type Reconciler struct {
	lifecycle *lifecycle.Controller
}

func NewReconciler(controller *lifecycle.Controller) *Reconciler {
	if controller == nil {
		controller = lifecycle.NewController(nil)
	}
	return &Reconciler{lifecycle: controller}
}

// Apply сверяет ev с заявкой и возвращает обновлённую копию. При ошибке
// входная запись не тронута и сохранять нечего
func (r *Reconciler) Apply(current *models.Booking, ev Event, now time.Time) (*models.Booking, Outcome, error) {
	if now.IsZero() {
		return nil, "", models.NewValidationError("now", "is required")
	}
	if ev.Amount < 0 {
		return nil, "", models.NewValidationError("amount", "must not be negative")
	}
	if !ev.Method.Valid() {
		return nil, "", models.NewValidationError("method", fmt.Sprintf("unknown payment method %q", ev.Method))
	}

	switch ev.Status {
	case models.PaymentCompleted:
		return r.settle(current, ev, now)
	case models.PaymentFailed:
		return r.fail(current, ev, now)
	case models.PaymentRefunded:
		return r.refund(current, ev, now)
	default:
		return nil, "", models.NewValidationError("status", fmt.Sprintf("cannot report payment status %q", ev.Status))
	}
}

func (r *Reconciler) settle(current *models.Booking, ev Event, now time.Time) (*models.Booking, Outcome, error) {
	if current.PaymentStatus == models.PaymentCompleted {
		if isRedelivery(current.PaymentDetails, ev) {
			return current.Clone(), OutcomeDuplicate, nil
		}
		return nil, "", fmt.Errorf("%w: %s", models.ErrAlreadyPaid, current.BookingID)
	}
	if current.PaymentStatus == models.PaymentRefunded {
		return nil, "", fmt.Errorf("%w: booking %s was refunded", models.ErrInvalidPaymentState, current.BookingID)
	}
	if current.Status != models.StatusCompleted {
		return nil, "", &models.TransitionError{
			From:   current.Status,
			To:     models.StatusPaid,
			Reason: "only completed bookings accept payment",
			Err:    models.ErrInvalidTransition,
		}
	}

	switch ev.Method {
	case models.PaymentMethodEsewa:
		if strings.TrimSpace(ev.TransactionID) == "" && strings.TrimSpace(ev.ReferenceID) == "" {
			return nil, "", models.NewValidationError("reference", "esewa payments need a gateway reference")
		}
	case models.PaymentMethodCash:
		if !ev.Actor.IsSystem() && !(ev.Actor.Role == models.RoleProvider && ev.Actor.Owns(current)) {
			return nil, "", &models.TransitionError{
				From:   current.Status,
				To:     models.StatusPaid,
				Reason: "cash is confirmed by the provider",
				Err:    models.ErrActorNotPermitted,
			}
		}
	default:
		return nil, "", models.NewValidationError("method", "a settled payment needs cash or esewa")
	}

	// Сумма должна совпасть до пайсы, иначе платёж не применяем
	if billing.Paisa(ev.Amount) != billing.Paisa(current.TotalCharge) {
		return nil, "", &models.AmountMismatchError{Method: ev.Method, Expected: current.TotalCharge, Got: ev.Amount}
	}

	paid := current.Clone()
	paidAt := ev.PaidAt
	if paidAt.IsZero() {
		paidAt = now
	}
	paid.PaymentMethod = ev.Method
	paid.PaymentStatus = models.PaymentCompleted
	paid.PaymentDetails = &models.PaymentDetails{
		TransactionID:   ev.TransactionID,
		TransactionCode: ev.TransactionCode,
		ReferenceID:     ev.ReferenceID,
		PaidAmount:      billing.RoundMoney(ev.Amount),
		PaidAt:          &paidAt,
	}
	paid.ChargeLocked = true
	paid.AddNote(fmt.Sprintf("%s payment of %.2f received", ev.Method, ev.Amount), models.SystemActorID, now)

	next, err := r.lifecycle.Apply(paid, lifecycle.Request{
		Actor:  models.SystemActor,
		Target: models.StatusPaid,
		Now:    now,
	})
	if err != nil {
		return nil, "", err
	}
	return next, OutcomeSettled, nil
}

func (r *Reconciler) fail(current *models.Booking, ev Event, now time.Time) (*models.Booking, Outcome, error) {
	if current.PaymentStatus == models.PaymentCompleted || current.PaymentStatus == models.PaymentRefunded {
		return nil, "", fmt.Errorf("%w: payment is already %s", models.ErrInvalidPaymentState, current.PaymentStatus)
	}
	if current.Status != models.StatusCompleted {
		return nil, "", fmt.Errorf("%w: booking is %s", models.ErrInvalidPaymentState, current.Status)
	}

	next := current.Clone()
	next.PaymentMethod = ev.Method
	next.PaymentStatus = models.PaymentFailed
	next.PaymentDetails = &models.PaymentDetails{
		TransactionID:   ev.TransactionID,
		TransactionCode: ev.TransactionCode,
		ReferenceID:     ev.ReferenceID,
	}
	next.UpdatedAt = now
	next.AddNote(fmt.Sprintf("%s payment failed", ev.Method), models.SystemActorID, now)
	return next, OutcomeFailed, nil
}

// refund меняет только статус оплаты, статус заявки остаётся прежним
func (r *Reconciler) refund(current *models.Booking, ev Event, now time.Time) (*models.Booking, Outcome, error) {
	if current.PaymentStatus != models.PaymentCompleted {
		return nil, "", fmt.Errorf("%w: refund needs a completed payment, got %s", models.ErrInvalidPaymentState, current.PaymentStatus)
	}
	if !ev.Actor.IsSystem() && !(ev.Actor.Role == models.RoleProvider && ev.Actor.Owns(current)) {
		return nil, "", fmt.Errorf("%w: refunds are issued by the provider or the platform", models.ErrActorNotPermitted)
	}

	next := current.Clone()
	next.PaymentStatus = models.PaymentRefunded
	if next.PaymentDetails != nil && ev.ReferenceID != "" {
		next.PaymentDetails.ReferenceID = ev.ReferenceID
	}
	next.UpdatedAt = now
	next.AddNote(fmt.Sprintf("payment of %.2f refunded", next.TotalCharge), models.SystemActorID, now)
	return next, OutcomeRefunded, nil
}

func isRedelivery(details *models.PaymentDetails, ev Event) bool {
	if details == nil {
		return false
	}
	if ev.TransactionID != "" {
		return details.TransactionID == ev.TransactionID
	}
	return ev.ReferenceID != "" && details.ReferenceID == ev.ReferenceID
}
