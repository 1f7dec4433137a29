package models

import (
	"sort"
	"time"
)

type Coordinates struct {
	Lat float64 `json:"lat" bson:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" bson:"lng" validate:"gte=-180,lte=180"`
}

type Location struct {
	Address     string       `json:"address,omitempty" bson:"address,omitempty"`
	Coordinates *Coordinates `json:"coordinates,omitempty" bson:"coordinates,omitempty" validate:"omitempty"`
}

type Material struct {
	Name string  `json:"name" bson:"name" validate:"required"`
	Cost float64 `json:"cost" bson:"cost" validate:"gte=0"`
}

// MaintenanceDetails carries the provider's itemized work sheet. A non-nil
// MaintenancePrice overrides the computed total.
type MaintenanceDetails struct {
	JobDuration      float64    `json:"jobDuration,omitempty" bson:"jobDuration,omitempty" validate:"gte=0"`
	HourlyRate       float64    `json:"hourlyRate,omitempty" bson:"hourlyRate,omitempty" validate:"gte=0"`
	HourlyCharge     float64    `json:"hourlyCharge,omitempty" bson:"hourlyCharge,omitempty" validate:"gte=0"`
	Materials        []Material `json:"materials,omitempty" bson:"materials,omitempty" validate:"dive"`
	MaterialCost     float64    `json:"materialCost,omitempty" bson:"materialCost,omitempty" validate:"gte=0"`
	AdditionalCharge float64    `json:"additionalCharge,omitempty" bson:"additionalCharge,omitempty" validate:"gte=0"`
	MaintenancePrice *float64   `json:"maintenancePrice,omitempty" bson:"maintenancePrice,omitempty" validate:"omitempty,gte=0"`
	Notes            string     `json:"notes,omitempty" bson:"notes,omitempty"`
}

type PaymentDetails struct {
	TransactionID   string     `json:"transactionId,omitempty" bson:"transactionId,omitempty"`
	TransactionCode string     `json:"transactionCode,omitempty" bson:"transactionCode,omitempty"`
	ReferenceID     string     `json:"referenceId,omitempty" bson:"referenceId,omitempty"`
	PaidAmount      float64    `json:"paidAmount,omitempty" bson:"paidAmount,omitempty" validate:"gte=0"`
	PaidAt          *time.Time `json:"paidAt,omitempty" bson:"paidAt,omitempty"`
}

type Note struct {
	Text      string    `json:"text" bson:"text"`
	CreatedBy string    `json:"createdBy" bson:"createdBy"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

// Booking is a single engagement between a user and a provider.
type Booking struct {
	ID                 string              `json:"id" bson:"_id"`
	BookingID          string              `json:"bookingId" bson:"bookingId"`
	UserID             string              `json:"userId" bson:"userId" validate:"required"`
	ProviderID         string              `json:"providerId" bson:"providerId" validate:"required,nefield=UserID"`
	ServiceType        string              `json:"serviceType" bson:"serviceType" validate:"required"`
	Description        string              `json:"description,omitempty" bson:"description,omitempty"`
	DurationInHours    float64             `json:"durationInHours" bson:"durationInHours" validate:"gte=0.5"`
	ActualDuration     *float64            `json:"actualDuration,omitempty" bson:"actualDuration,omitempty" validate:"omitempty,gte=0.5"`
	StartTime          time.Time           `json:"startTime" bson:"startTime"`
	StartedAt          *time.Time          `json:"startedAt,omitempty" bson:"startedAt,omitempty"`
	EndTime            *time.Time          `json:"endTime,omitempty" bson:"endTime,omitempty"`
	ScheduledTime      *time.Time          `json:"scheduledTime,omitempty" bson:"scheduledTime,omitempty"`
	Location           Location            `json:"location" bson:"location"`
	Charge             float64             `json:"charge" bson:"charge" validate:"gte=0"`
	MaterialsCost      float64             `json:"materialsCost" bson:"materialsCost" validate:"gte=0"`
	AdditionalCharge   float64             `json:"additionalCharge" bson:"additionalCharge" validate:"gte=0"`
	TotalCharge        float64             `json:"totalCharge" bson:"totalCharge" validate:"gte=0"`
	Materials          []Material          `json:"materials,omitempty" bson:"materials,omitempty" validate:"dive"`
	MaintenanceDetails *MaintenanceDetails `json:"maintenanceDetails,omitempty" bson:"maintenanceDetails,omitempty" validate:"omitempty"`
	Status             Status              `json:"status" bson:"status" validate:"required,booking_status"`
	PaymentMethod      PaymentMethod       `json:"paymentMethod" bson:"paymentMethod" validate:"oneof=cash esewa none"`
	PaymentStatus      PaymentStatus       `json:"paymentStatus" bson:"paymentStatus" validate:"oneof=pending completed failed refunded"`
	PaymentDetails     *PaymentDetails     `json:"paymentDetails,omitempty" bson:"paymentDetails,omitempty"`
	ChargeLocked       bool                `json:"chargeLocked" bson:"chargeLocked"`
	UserCompleted      bool                `json:"userCompleted" bson:"userCompleted"`
	ProviderCompleted  bool                `json:"providerCompleted" bson:"providerCompleted"`
	Rating             *int                `json:"rating,omitempty" bson:"rating,omitempty" validate:"omitempty,gte=1,lte=5"`
	Comment            string              `json:"comment,omitempty" bson:"comment,omitempty"`
	Notes              []Note              `json:"notes,omitempty" bson:"notes,omitempty"`
	CreatedAt          time.Time           `json:"createdAt" bson:"createdAt"`
	UpdatedAt          time.Time           `json:"updatedAt" bson:"updatedAt"`
	Version            int64               `json:"version" bson:"version"`
}

// EffectiveDuration returns the duration the charge is billed on.
func (b *Booking) EffectiveDuration() float64 {
	if b.ActualDuration != nil {
		return *b.ActualDuration
	}
	return b.DurationInHours
}

// IsParticipant reports whether actorID is the booking's user or provider.
func (b *Booking) IsParticipant(actorID string) bool {
	return actorID != "" && (actorID == b.UserID || actorID == b.ProviderID)
}

func (b *Booking) AddNote(text, createdBy string, at time.Time) {
	b.Notes = append(b.Notes, Note{Text: text, CreatedBy: createdBy, CreatedAt: at})
}

// Clone returns a deep copy so callers can mutate without touching the original.
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	c := *b
	c.ActualDuration = cloneFloat(b.ActualDuration)
	c.StartedAt = cloneTime(b.StartedAt)
	c.EndTime = cloneTime(b.EndTime)
	c.ScheduledTime = cloneTime(b.ScheduledTime)
	if b.Location.Coordinates != nil {
		coords := *b.Location.Coordinates
		c.Location.Coordinates = &coords
	}
	if b.Materials != nil {
		c.Materials = append([]Material(nil), b.Materials...)
	}
	if b.MaintenanceDetails != nil {
		md := *b.MaintenanceDetails
		md.MaintenancePrice = cloneFloat(b.MaintenanceDetails.MaintenancePrice)
		if b.MaintenanceDetails.Materials != nil {
			md.Materials = append([]Material(nil), b.MaintenanceDetails.Materials...)
		}
		c.MaintenanceDetails = &md
	}
	if b.PaymentDetails != nil {
		pd := *b.PaymentDetails
		pd.PaidAt = cloneTime(b.PaymentDetails.PaidAt)
		c.PaymentDetails = &pd
	}
	if b.Rating != nil {
		r := *b.Rating
		c.Rating = &r
	}
	if b.Notes != nil {
		c.Notes = append([]Note(nil), b.Notes...)
	}
	return &c
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// BookingFilter narrows ListBookings. Empty fields match everything.
type BookingFilter struct {
	UserID     string
	ProviderID string
	Status     Status
}

func (f BookingFilter) Matches(b *Booking) bool {
	if f.UserID != "" && b.UserID != f.UserID {
		return false
	}
	if f.ProviderID != "" && b.ProviderID != f.ProviderID {
		return false
	}
	if f.Status != "" && b.Status != f.Status {
		return false
	}
	return true
}

// SortBookings orders newest first, ties broken by booking code.
func SortBookings(bookings []*Booking) {
	sort.SliceStable(bookings, func(i, j int) bool {
		if !bookings[i].CreatedAt.Equal(bookings[j].CreatedAt) {
			return bookings[i].CreatedAt.After(bookings[j].CreatedAt)
		}
		return bookings[i].BookingID < bookings[j].BookingID
	})
}
