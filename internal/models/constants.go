package models

// Status is a booking lifecycle state.
type Status string

const (
	StatusPending             Status = "pending"
	StatusAccepted            Status = "accepted"
	StatusConfirmed           Status = "confirmed"
	StatusInProgress          Status = "in-progress"
	StatusCompletedByUser     Status = "completed-by-user"
	StatusCompletedByProvider Status = "completed-by-provider"
	StatusCompleted           Status = "completed"
	StatusPaid                Status = "paid"
	StatusReviewed            Status = "reviewed"
	StatusCancelled           Status = "cancelled"
	StatusDeclined            Status = "declined"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusPending,
	StatusAccepted,
	StatusConfirmed,
	StatusInProgress,
	StatusCompletedByUser,
	StatusCompletedByProvider,
	StatusCompleted,
	StatusPaid,
	StatusReviewed,
	StatusCancelled,
	StatusDeclined,
}

func (s Status) Valid() bool {
	for _, st := range AllStatuses {
		if st == s {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusDeclined || s == StatusReviewed
}

// WorkStarted reports whether the provider has begun on-site work.
func (s Status) WorkStarted() bool {
	switch s {
	case StatusInProgress, StatusCompletedByUser, StatusCompletedByProvider,
		StatusCompleted, StatusPaid, StatusReviewed:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentMethodNone  PaymentMethod = "none"
	PaymentMethodCash  PaymentMethod = "cash"
	PaymentMethodEsewa PaymentMethod = "esewa"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodNone || m == PaymentMethodCash || m == PaymentMethodEsewa
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

func (p PaymentStatus) Valid() bool {
	switch p {
	case PaymentPending, PaymentCompleted, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

// Role identifies which side of a booking an actor is on.
type Role string

const (
	RoleUser     Role = "user"
	RoleProvider Role = "provider"
	RoleSystem   Role = "system"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleProvider || r == RoleSystem
}

const (
	// MinimumCharge базовая стоимость вызова, покрывает первый час
	MinimumCharge = 200.0

	// HourlyRate стоимость каждого начатого часа после первого
	HourlyRate = 200.0

	// MinDurationHours минимальная длительность работ
	MinDurationHours = 0.5

	MinRating = 1
	MaxRating = 5

	// MaxNoteLength ограничение длины заметки
	MaxNoteLength = 2000

	// BookingCodePrefix префикс человекочитаемого кода заявки
	BookingCodePrefix = "BK"

	// SystemActorID записывается в createdBy системных заметок
	SystemActorID = "system"

	// NotificationQueueSize размер очереди воркера уведомлений
	NotificationQueueSize = 1000
)
