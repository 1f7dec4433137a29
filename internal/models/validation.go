package models

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Поля в ошибках называем так же, как в JSON
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("booking_status", func(fl validator.FieldLevel) bool {
		return Status(fl.Field().String()).Valid()
	})

	return v
}

// ValidateStruct runs tag validation and converts the first failure into a
// ValidationError naming the field by its JSON path.
func ValidateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	fe := fieldErrs[0]
	return &ValidationError{Field: fieldPath(fe.Namespace()), Reason: describe(fe)}
}

func fieldPath(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "nefield":
		return "must differ from " + fe.Param()
	case "booking_status":
		return "unknown status"
	case "max":
		return "must be at most " + fe.Param() + " long"
	default:
		return "failed " + fe.Tag()
	}
}

// Validate checks every field invariant of the record.
func (b *Booking) Validate() error {
	if err := ValidateStruct(b); err != nil {
		return err
	}
	if b.StartTime.IsZero() {
		return NewValidationError("startTime", "is required")
	}
	if b.BookingID == "" {
		return NewValidationError("bookingId", "is required")
	}
	return nil
}
