package lifecycle

import (
	"fmt"
	"time"

	"gharsathi/internal/billing"
	"gharsathi/internal/models"
)

// transitions единственное место, где объявлены допустимые переходы
var transitions = map[models.Status][]models.Status{
	models.StatusPending:             {models.StatusAccepted, models.StatusDeclined, models.StatusCancelled},
	models.StatusAccepted:            {models.StatusConfirmed, models.StatusCancelled},
	models.StatusConfirmed:           {models.StatusInProgress, models.StatusCancelled},
	models.StatusInProgress:          {models.StatusCompletedByUser, models.StatusCompletedByProvider, models.StatusCompleted},
	models.StatusCompletedByUser:     {models.StatusCompletedByProvider, models.StatusCompleted},
	models.StatusCompletedByProvider: {models.StatusCompletedByUser, models.StatusCompleted},
	models.StatusCompleted:           {models.StatusPaid},
	models.StatusPaid:                {models.StatusReviewed},
}

// CanTransition есть ли в графе ребро from -> to
func CanTransition(from, to models.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Allowed статусы, достижимые из s за один шаг
func Allowed(from models.Status) []models.Status {
	return append([]models.Status(nil), transitions[from]...)
}

// Payload необязательные данные перехода
type Payload = models.TransitionPayload

type Request struct {
	Actor   models.Actor
	Target  models.Status
	Payload Payload
	// Now передаёт вызывающий, контроллер часы не читает
	Now time.Time
}

// Controller проверяет переходы. Синхронный и без I/O, поэтому работает
// внутри окна оптимистичной блокировки
type Controller struct {
	calc *billing.Calculator
}

func NewController(calc *billing.Calculator) *Controller {
	if calc == nil {
		calc = billing.NewCalculator(billing.DefaultPolicy())
	}
	return &Controller{calc: calc}
}

// Apply возвращает новую запись с применённым переходом. Входная запись не
// меняется, так что при ошибке она остаётся как была
func (c *Controller) Apply(current *models.Booking, req Request) (*models.Booking, error) {
	from := current.Status
	to := req.Target

	// Из терминального статуса не выходим, даже в неизвестный
	if from.Terminal() {
		return nil, models.InvalidTransition(from, to)
	}
	if !to.Valid() {
		return nil, models.NewValidationError("status", fmt.Sprintf("unknown status %q", to))
	}
	if to == models.StatusCancelled && from.WorkStarted() && from != models.StatusPaid {
		return nil, &models.TransitionError{From: from, To: to, Reason: "work has already started", Err: models.ErrStateTransition}
	}
	if !CanTransition(from, to) {
		return nil, models.InvalidTransition(from, to)
	}
	if err := authorize(current, req.Actor, to); err != nil {
		return nil, err
	}

	now := req.Now
	if now.IsZero() {
		return nil, models.NewValidationError("now", "is required")
	}

	next := current.Clone()
	refreshBase := false

	var err error
	switch to {
	case models.StatusConfirmed:
		err = c.confirm(next, req.Payload)
	case models.StatusInProgress:
		err = c.start(next, req.Payload, now)
	case models.StatusCompletedByUser, models.StatusCompletedByProvider, models.StatusCompleted:
		refreshBase, err = c.markCompleted(next, req, now)
	case models.StatusPaid:
		if next.PaymentStatus != models.PaymentCompleted {
			err = &models.TransitionError{From: from, To: to, Reason: "payment is not completed", Err: models.ErrStateTransition}
			break
		}
		next.Status = to
	case models.StatusReviewed:
		err = c.review(next, req.Payload)
	default:
		next.Status = to
	}
	if err != nil {
		return nil, err
	}

	if err := c.calc.Recalculate(next, refreshBase); err != nil {
		return nil, err
	}

	next.UpdatedAt = now
	next.AddNote(fmt.Sprintf("status changed from %s to %s by %s", from, next.Status, req.Actor.Role), models.SystemActorID, now)
	if req.Payload.Reason != "" {
		next.AddNote(req.Payload.Reason, req.Actor.ID, now)
	}

	if err := next.Validate(); err != nil {
		return nil, err
	}
	return next, nil
}

func authorize(b *models.Booking, actor models.Actor, to models.Status) error {
	deny := func(reason string) error {
		return &models.TransitionError{From: b.Status, To: to, Reason: reason, Err: models.ErrActorNotPermitted}
	}

	switch to {
	case models.StatusAccepted, models.StatusDeclined:
		if actor.Role != models.RoleProvider || !actor.Owns(b) {
			return deny("only the addressed provider may answer a request")
		}
	case models.StatusConfirmed, models.StatusInProgress:
		if !actor.Owns(b) {
			return deny("only a booking party may do this")
		}
	case models.StatusCancelled:
		if !actor.Owns(b) && !actor.IsSystem() {
			return deny("only a booking party may cancel")
		}
	case models.StatusCompletedByUser:
		if actor.Role != models.RoleUser || !actor.Owns(b) {
			return deny("only the user may mark the user side completed")
		}
	case models.StatusCompletedByProvider:
		if actor.Role != models.RoleProvider || !actor.Owns(b) {
			return deny("only the provider may mark the provider side completed")
		}
	case models.StatusCompleted:
		if !actor.Owns(b) {
			return deny("only a booking party may mark completion")
		}
	case models.StatusPaid:
		if !actor.IsSystem() {
			return deny("paid is set by payment reconciliation")
		}
	case models.StatusReviewed:
		if actor.Role != models.RoleUser || !actor.Owns(b) {
			return deny("only the user may review")
		}
	}
	return nil
}

func (c *Controller) confirm(b *models.Booking, p Payload) error {
	if p.StartTime != nil {
		b.StartTime = *p.StartTime
	}
	if p.ScheduledTime != nil {
		t := *p.ScheduledTime
		b.ScheduledTime = &t
	}
	if b.StartTime.IsZero() {
		return &models.TransitionError{From: b.Status, To: models.StatusConfirmed, Reason: "start time is not set", Err: models.ErrStateTransition}
	}
	b.Status = models.StatusConfirmed
	return nil
}

func (c *Controller) start(b *models.Booking, p Payload, now time.Time) error {
	reject := func(reason string) error {
		return &models.TransitionError{From: b.Status, To: models.StatusInProgress, Reason: reason, Err: models.ErrStateTransition}
	}

	startedAt := now
	if p.StartedAt != nil {
		startedAt = *p.StartedAt
	}
	if startedAt.After(now) {
		return reject("start cannot be in the future")
	}
	// Старт не может быть раньше подтверждения заявки
	if p.StartedAt != nil && startedAt.Before(b.UpdatedAt) {
		return reject("backdated start")
	}
	if !p.ManualStart && startedAt.Before(b.StartTime) {
		return reject("start time has not been reached")
	}

	b.StartedAt = &startedAt
	b.Status = models.StatusInProgress
	return nil
}

// markCompleted ставит флаг завершения своей стороны; когда отметились обе,
// заявка становится completed. true означает, что нужен пересчёт базы
func (c *Controller) markCompleted(b *models.Booking, req Request, now time.Time) (bool, error) {
	reject := func(reason string) error {
		return &models.TransitionError{From: b.Status, To: req.Target, Reason: reason, Err: models.ErrStateTransition}
	}

	switch req.Actor.Role {
	case models.RoleUser:
		if b.UserCompleted {
			return false, reject("user side already completed")
		}
		b.UserCompleted = true
	case models.RoleProvider:
		if b.ProviderCompleted {
			return false, reject("provider side already completed")
		}
		b.ProviderCompleted = true
	}

	if d := req.Payload.ActualDuration; d != nil {
		if *d < models.MinDurationHours {
			return false, models.NewValidationError("actualDuration", fmt.Sprintf("must be at least %v", models.MinDurationHours))
		}
		v := *d
		b.ActualDuration = &v
	}

	if !(b.UserCompleted && b.ProviderCompleted) {
		if b.UserCompleted {
			b.Status = models.StatusCompletedByUser
		} else {
			b.Status = models.StatusCompletedByProvider
		}
		return false, nil
	}

	end := now
	if req.Payload.EndTime != nil {
		end = *req.Payload.EndTime
	}
	if b.StartedAt != nil && end.Before(*b.StartedAt) {
		return false, models.NewValidationError("endTime", "must not be before the start")
	}
	b.EndTime = &end

	if b.ActualDuration == nil {
		d := workedHours(b.StartedAt, end)
		b.ActualDuration = &d
	}
	b.Status = models.StatusCompleted
	return true, nil
}

func workedHours(startedAt *time.Time, end time.Time) float64 {
	if startedAt == nil {
		return models.MinDurationHours
	}
	h := billing.RoundMoney(end.Sub(*startedAt).Hours())
	if h < models.MinDurationHours {
		return models.MinDurationHours
	}
	return h
}

func (c *Controller) review(b *models.Booking, p Payload) error {
	if p.Rating == nil && p.Comment == "" {
		return models.NewValidationError("rating", "rating or comment is required")
	}
	if p.Rating != nil {
		if *p.Rating < models.MinRating || *p.Rating > models.MaxRating {
			return models.NewValidationError("rating", fmt.Sprintf("must be between %d and %d", models.MinRating, models.MaxRating))
		}
		r := *p.Rating
		b.Rating = &r
	}
	b.Comment = p.Comment
	b.Status = models.StatusReviewed
	return nil
}
