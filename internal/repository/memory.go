package repository

import (
	"context"
	"fmt"
	"sync"

	"gharsathi/internal/models"
)

// MemoryBookingRepository keeps bookings in process memory. Records are cloned
// on the way in and out so callers never share state with the store.
type MemoryBookingRepository struct {
	mu       sync.RWMutex
	bookings map[string]*models.Booking
	codes    map[string]string
}

func NewMemoryBookingRepository() *MemoryBookingRepository {
	return &MemoryBookingRepository{
		bookings: make(map[string]*models.Booking),
		codes:    make(map[string]string),
	}
}

func (r *MemoryBookingRepository) CreateBooking(ctx context.Context, booking *models.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.codes[booking.BookingID]; ok {
		return fmt.Errorf("%w: %s", models.ErrDuplicateBookingCode, booking.BookingID)
	}
	if _, ok := r.bookings[booking.ID]; ok {
		return fmt.Errorf("booking record %s already exists", booking.ID)
	}
	if booking.Version == 0 {
		booking.Version = 1
	}
	r.bookings[booking.ID] = booking.Clone()
	r.codes[booking.BookingID] = booking.ID
	return nil
}

func (r *MemoryBookingRepository) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.bookings[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return b.Clone(), nil
}

func (r *MemoryBookingRepository) GetBookingByCode(ctx context.Context, code string) (*models.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.codes[code]
	if !ok {
		return nil, models.ErrNotFound
	}
	return r.bookings[id].Clone(), nil
}

func (r *MemoryBookingRepository) ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Booking, 0)
	for _, b := range r.bookings {
		if filter.Matches(b) {
			out = append(out, b.Clone())
		}
	}
	models.SortBookings(out)
	return out, nil
}

func (r *MemoryBookingRepository) UpdateBookingWithVersion(ctx context.Context, booking *models.Booking, fromVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.bookings[booking.ID]
	if !ok {
		return models.ErrNotFound
	}
	if stored.Version != fromVersion {
		return models.ErrConcurrentModification
	}
	if stored.BookingID != booking.BookingID {
		return fmt.Errorf("booking code of %s is immutable", booking.ID)
	}

	booking.Version = fromVersion + 1
	r.bookings[booking.ID] = booking.Clone()
	return nil
}

// StaticDirectory resolves actors from a fixed list, usually the config seed.
type StaticDirectory struct {
	actors map[string]models.Actor
}

func NewStaticDirectory(actors []models.Actor) *StaticDirectory {
	d := &StaticDirectory{actors: make(map[string]models.Actor, len(actors))}
	for _, a := range actors {
		d.actors[a.ID] = a
	}
	return d
}

func (d *StaticDirectory) GetActor(ctx context.Context, id string) (*models.Actor, error) {
	a, ok := d.actors[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrActorNotFound, id)
	}
	return &a, nil
}
