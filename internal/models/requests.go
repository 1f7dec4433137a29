package models

import "time"

// CreateBookingInput is what a user submits to open a booking.
type CreateBookingInput struct {
	UserID          string     `json:"userId" validate:"required"`
	ProviderID      string     `json:"providerId" validate:"required,nefield=UserID"`
	ServiceType     string     `json:"serviceType" validate:"required,max=100"`
	DurationInHours float64    `json:"durationInHours" validate:"gte=0.5"`
	StartTime       time.Time  `json:"startTime"`
	ScheduledTime   *time.Time `json:"scheduledTime,omitempty"`
	Charge          float64    `json:"charge" validate:"gte=0"`
	Location        *Location  `json:"location,omitempty" validate:"omitempty"`
	Description     string     `json:"description,omitempty" validate:"max=2000"`
	Materials       []Material `json:"materials,omitempty" validate:"dive"`
}

func (in *CreateBookingInput) Validate() error {
	if err := ValidateStruct(in); err != nil {
		return err
	}
	if in.StartTime.IsZero() {
		return NewValidationError("startTime", "is required")
	}
	return nil
}

// TransitionPayload carries the optional data that goes with a status change.
type TransitionPayload struct {
	StartTime      *time.Time `json:"startTime,omitempty"`
	ScheduledTime  *time.Time `json:"scheduledTime,omitempty"`
	ManualStart    bool       `json:"manualStart,omitempty"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	ActualDuration *float64   `json:"actualDuration,omitempty"`
	EndTime        *time.Time `json:"endTime,omitempty"`
	Rating         *int       `json:"rating,omitempty"`
	Comment        string     `json:"comment,omitempty"`
	Reason         string     `json:"reason,omitempty"`
}

// TransitionRequest asks to move a booking to Target. A non-zero
// ExpectedVersion pins the revision the caller last saw; a zero At means now.
type TransitionRequest struct {
	ActorID         string            `json:"actorId"`
	Target          Status            `json:"target"`
	Payload         TransitionPayload `json:"payload"`
	ExpectedVersion int64             `json:"expectedVersion,omitempty"`
	At              time.Time         `json:"at,omitempty"`
}

// PaymentRequest is a payment status report for one booking.
type PaymentRequest struct {
	ActorID         string        `json:"actorId"`
	Method          PaymentMethod `json:"method"`
	Status          PaymentStatus `json:"status"`
	Amount          float64       `json:"amount"`
	TransactionID   string        `json:"transactionId,omitempty"`
	TransactionCode string        `json:"transactionCode,omitempty"`
	ReferenceID     string        `json:"referenceId,omitempty"`
	PaidAt          time.Time     `json:"paidAt,omitempty"`
	ExpectedVersion int64         `json:"expectedVersion,omitempty"`
}

// ChargeUpdate revises the provider's pricing inputs. Nil fields are kept.
type ChargeUpdate struct {
	ActorID            string              `json:"actorId"`
	Charge             *float64            `json:"charge,omitempty"`
	Materials          []Material          `json:"materials,omitempty"`
	MaterialsCost      *float64            `json:"materialsCost,omitempty"`
	AdditionalCharge   *float64            `json:"additionalCharge,omitempty"`
	MaintenanceDetails *MaintenanceDetails `json:"maintenanceDetails,omitempty"`
	ExpectedVersion    int64               `json:"expectedVersion,omitempty"`
}
