package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound               = errors.New("booking not found")
	ErrActorNotFound          = errors.New("actor not found")
	ErrConcurrentModification = errors.New("booking was modified concurrently")
	ErrDuplicateBookingCode   = errors.New("booking code already exists")
	ErrValidation             = errors.New("validation failed")

	ErrInvalidTransition = errors.New("invalid state transition")
	ErrStateTransition   = errors.New("state transition rejected")
	ErrActorNotPermitted = errors.New("actor not permitted")

	ErrPaymentAmountMismatch = errors.New("payment amount mismatch")
	ErrAlreadyPaid           = errors.New("booking already paid")
	ErrInvalidPaymentState   = errors.New("invalid payment state")
	ErrChargesLocked         = errors.New("charges are locked after payment")
)

// ValidationError names the offending field of a rejected input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// TransitionError is returned when a status change is refused. Err is one of
// ErrInvalidTransition, ErrStateTransition or ErrActorNotPermitted.
type TransitionError struct {
	From   Status
	To     Status
	Reason string
	Err    error
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("%v: %s -> %s", e.Err, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Unwrap() error { return e.Err }

func InvalidTransition(from, to Status) *TransitionError {
	return &TransitionError{From: from, To: to, Err: ErrInvalidTransition}
}

// AmountMismatchError reports a payment that does not settle the booking total.
type AmountMismatchError struct {
	Method   PaymentMethod
	Expected float64
	Got      float64
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("%v: %s payment of %.2f, booking total is %.2f", ErrPaymentAmountMismatch, e.Method, e.Got, e.Expected)
}

func (e *AmountMismatchError) Unwrap() error { return ErrPaymentAmountMismatch }
