package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"ticketeer/internal/venues/models"
	id "ticketeer/pkg/domain"
	"ticketeer/pkg/platform/sentinel"
)

// InMemory keeps spaces and bookings behind one lock so the overlap check
// and the insert are atomic.
type InMemory struct {
	mu       sync.RWMutex
	spaces   map[id.SpaceID]*models.Space
	bookings map[id.BookingID]*models.Booking
}

func NewInMemory() *InMemory {
	return &InMemory{
		spaces:   make(map[id.SpaceID]*models.Space),
		bookings: make(map[id.BookingID]*models.Booking),
	}
}

func cloneSpace(s *models.Space) *models.Space {
	cp := *s
	return &cp
}

func cloneBooking(b *models.Booking) *models.Booking {
	cp := *b
	cp.Services = append([]string(nil), b.Services...)
	cp.Quote.Services = append([]models.ServiceLine(nil), b.Quote.Services...)
	if b.CoffeeBreak != nil {
		cb := *b.CoffeeBreak
		cp.CoffeeBreak = &cb
	}
	for _, t := range []**time.Time{&cp.ConfirmedAt, &cp.CancelledAt} {
		if *t != nil {
			v := **t
			*t = &v
		}
	}
	return &cp
}

func (s *InMemory) CreateSpace(_ context.Context, sp *models.Space) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.spaces[sp.ID]; ok {
		return sentinel.ErrAlreadyUsed
	}
	s.spaces[sp.ID] = cloneSpace(sp)
	return nil
}

func (s *InMemory) FindSpace(_ context.Context, spaceID id.SpaceID) (*models.Space, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp, ok := s.spaces[spaceID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneSpace(sp), nil
}

func (s *InMemory) UpdateSpace(_ context.Context, spaceID id.SpaceID, mutate func(*models.Space)) (*models.Space, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sp, ok := s.spaces[spaceID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	work := cloneSpace(sp)
	mutate(work)
	s.spaces[spaceID] = work
	return cloneSpace(work), nil
}

// ListSpaces returns spaces by name.
func (s *InMemory) ListSpaces(_ context.Context, includeInactive bool) ([]*models.Space, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Space, 0, len(s.spaces))
	for _, sp := range s.spaces {
		if sp.Active || includeInactive {
			out = append(out, cloneSpace(sp))
		}
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out, nil
}

// clashes must be called with the lock held.
func (s *InMemory) clashes(b *models.Booking) bool {
	for _, other := range s.bookings {
		if other.ID != b.ID && other.SpaceID == b.SpaceID && other.Status.BlocksSlot() && other.Overlaps(b.StartsAt, b.EndsAt) {
			return true
		}
	}
	return false
}

// CreateBooking returns ErrConflict when the slot is taken.
func (s *InMemory) CreateBooking(_ context.Context, b *models.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.spaces[b.SpaceID]; !ok {
		return sentinel.ErrNotFound
	}
	if _, ok := s.bookings[b.ID]; ok {
		return sentinel.ErrAlreadyUsed
	}
	if b.Status.BlocksSlot() && s.clashes(b) {
		return sentinel.ErrConflict
	}
	s.bookings[b.ID] = cloneBooking(b)
	return nil
}

func (s *InMemory) FindBooking(_ context.Context, bookingID id.BookingID) (*models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[bookingID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneBooking(b), nil
}

// Execute returns ErrConflict when mutate moves the booking into a blocking
// status while another booking holds the slot.
func (s *InMemory) Execute(_ context.Context, bookingID id.BookingID, validate func(*models.Booking) error, mutate func(*models.Booking)) (*models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[bookingID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	work := cloneBooking(b)
	if err := validate(work); err != nil {
		return nil, err
	}
	mutate(work)
	if !b.Status.BlocksSlot() && work.Status.BlocksSlot() && s.clashes(work) {
		return nil, sentinel.ErrConflict
	}
	s.bookings[bookingID] = work
	return cloneBooking(work), nil
}

// ListBySpace returns slot-blocking bookings intersecting [from, to), by
// start time.
func (s *InMemory) ListBySpace(_ context.Context, spaceID id.SpaceID, from, to time.Time) ([]*models.Booking, error) {
	out := s.list(func(b *models.Booking) bool {
		return b.SpaceID == spaceID && b.Status.BlocksSlot() && b.Overlaps(from, to)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

// ListByCustomer returns the customer's bookings, newest first.
func (s *InMemory) ListByCustomer(_ context.Context, customerID id.UserID) ([]*models.Booking, error) {
	out := s.list(func(b *models.Booking) bool { return b.CustomerID == customerID })
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemory) ListExpired(_ context.Context, now time.Time, limit int) ([]*models.Booking, error) {
	out := s.list(func(b *models.Booking) bool { return b.HoldExpired(now) })
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemory) list(match func(*models.Booking) bool) []*models.Booking {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Booking, 0)
	for _, b := range s.bookings {
		if match(b) {
			out = append(out, cloneBooking(b))
		}
	}
	return out
}
