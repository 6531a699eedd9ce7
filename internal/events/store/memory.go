package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"ticketeer/internal/events/models"
	id "ticketeer/pkg/domain"
	"ticketeer/pkg/platform/sentinel"
)

// InMemory keeps events and ticket types in maps guarded by one mutex, which
// also makes Reserve/Release atomic.
type InMemory struct {
	mu     sync.RWMutex
	events map[id.EventID]*models.Event
	types  map[id.TicketTypeID]*models.TicketType
}

func NewInMemory() *InMemory {
	return &InMemory{
		events: make(map[id.EventID]*models.Event),
		types:  make(map[id.TicketTypeID]*models.TicketType),
	}
}

func (s *InMemory) CreateEvent(_ context.Context, e *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[e.ID]; ok {
		return sentinel.ErrAlreadyUsed
	}
	for _, other := range s.events {
		if other.Slug == e.Slug {
			return sentinel.ErrAlreadyUsed
		}
	}
	cp := *e
	s.events[e.ID] = &cp
	return nil
}

func (s *InMemory) FindEvent(_ context.Context, eventID id.EventID) (*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[eventID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *InMemory) FindEventBySlug(_ context.Context, slug string) (*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.events {
		if e.Slug == slug {
			cp := *e
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) UpdateEvent(_ context.Context, e *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[e.ID]; !ok {
		return sentinel.ErrNotFound
	}
	cp := *e
	s.events[e.ID] = &cp
	return nil
}

func (s *InMemory) ListPublished(_ context.Context, f models.ListFilter) ([]*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q := strings.ToLower(strings.TrimSpace(f.Query))
	var out []*models.Event
	for _, e := range s.events {
		if e.Status != models.StatusPublished || e.StartsAt.Before(f.From) {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(e.Title), q) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sortByStart(out)
	if f.Offset >= len(out) {
		return []*models.Event{}, nil
	}
	out = out[f.Offset:]
	if len(out) > f.PageSize() {
		out = out[:f.PageSize()]
	}
	return out, nil
}

func (s *InMemory) ListByOrganizer(_ context.Context, organizer id.UserID) ([]*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Event, 0)
	for _, e := range s.events {
		if e.OrganizerID == organizer {
			cp := *e
			out = append(out, &cp)
		}
	}
	sortByStart(out)
	return out, nil
}

func sortByStart(events []*models.Event) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].StartsAt.Equal(events[j].StartsAt) {
			return events[i].ID.String() < events[j].ID.String()
		}
		return events[i].StartsAt.Before(events[j].StartsAt)
	})
}

func (s *InMemory) CreateTicketType(_ context.Context, t *models.TicketType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[t.EventID]; !ok {
		return sentinel.ErrNotFound
	}
	cp := *t
	s.types[t.ID] = &cp
	return nil
}

func (s *InMemory) FindTicketType(_ context.Context, typeID id.TicketTypeID) (*models.TicketType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.types[typeID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// UpdateTicketType writes the editable fields. SoldQuantity is owned by
// Reserve/Release and is never overwritten here.
func (s *InMemory) UpdateTicketType(_ context.Context, t *models.TicketType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.types[t.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if t.TotalQuantity < cur.SoldQuantity {
		return sentinel.ErrConflict
	}
	cp := *t
	cp.SoldQuantity = cur.SoldQuantity
	s.types[t.ID] = &cp
	return nil
}

func (s *InMemory) DeleteTicketType(_ context.Context, typeID id.TicketTypeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.types[typeID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if t.SoldQuantity > 0 {
		return sentinel.ErrConflict
	}
	delete(s.types, typeID)
	return nil
}

func (s *InMemory) ListTicketTypes(_ context.Context, eventID id.EventID) ([]*models.TicketType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.TicketType, 0)
	for _, t := range s.types {
		if t.EventID == eventID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PriceCents == out[j].PriceCents {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].PriceCents < out[j].PriceCents
	})
	return out, nil
}

func (s *InMemory) Reserve(_ context.Context, typeID id.TicketTypeID, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.types[typeID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if t.SoldQuantity+qty > t.TotalQuantity {
		return sentinel.ErrSoldOut
	}
	t.SoldQuantity += qty
	return nil
}

func (s *InMemory) Release(_ context.Context, typeID id.TicketTypeID, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.types[typeID]
	if !ok {
		return sentinel.ErrNotFound
	}
	t.SoldQuantity -= qty
	if t.SoldQuantity < 0 {
		t.SoldQuantity = 0
	}
	return nil
}
