package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"ticketeer/internal/tickets/models"
	id "ticketeer/pkg/domain"
	"ticketeer/pkg/platform/sentinel"
)

// InMemory keeps tickets in a map with a code index. Execute holds the write
// lock across validate and mutate.
type InMemory struct {
	mu      sync.RWMutex
	tickets map[id.TicketID]*models.Ticket
	byCode  map[string]id.TicketID
}

func NewInMemory() *InMemory {
	return &InMemory{
		tickets: make(map[id.TicketID]*models.Ticket),
		byCode:  make(map[string]id.TicketID),
	}
}

func clone(t *models.Ticket) *models.Ticket {
	cp := *t
	if t.CheckedInAt != nil {
		at := *t.CheckedInAt
		cp.CheckedInAt = &at
	}
	if t.CheckedInBy != nil {
		by := *t.CheckedInBy
		cp.CheckedInBy = &by
	}
	return &cp
}

// CreateBatch inserts all tickets or none. An order that already has tickets
// yields ErrAlreadyUsed.
func (s *InMemory) CreateBatch(_ context.Context, tickets []*models.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	orders := make(map[id.OrderID]bool)
	for _, t := range tickets {
		orders[t.OrderID] = true
	}
	for _, existing := range s.tickets {
		if orders[existing.OrderID] {
			return sentinel.ErrAlreadyUsed
		}
	}
	for _, t := range tickets {
		if _, ok := s.byCode[t.Code]; ok {
			return sentinel.ErrConflict
		}
	}
	for _, t := range tickets {
		s.tickets[t.ID] = clone(t)
		s.byCode[t.Code] = t.ID
	}
	return nil
}

func (s *InMemory) FindByID(_ context.Context, ticketID id.TicketID) (*models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickets[ticketID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(t), nil
}

func (s *InMemory) FindByCode(_ context.Context, code string) (*models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ticketID, ok := s.byCode[code]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(s.tickets[ticketID]), nil
}

func (s *InMemory) Execute(_ context.Context, ticketID id.TicketID, validate func(*models.Ticket) error, mutate func(*models.Ticket)) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[ticketID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	work := clone(t)
	if err := validate(work); err != nil {
		return nil, err
	}
	mutate(work)
	s.tickets[ticketID] = work
	return clone(work), nil
}

func (s *InMemory) VoidByOrder(_ context.Context, orderID id.OrderID, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tickets {
		if t.OrderID == orderID && t.Status != models.StatusVoid {
			t.ApplyVoid(now)
			n++
		}
	}
	return n, nil
}

// ListByOrder returns tickets in issue order.
func (s *InMemory) ListByOrder(_ context.Context, orderID id.OrderID) ([]*models.Ticket, error) {
	out := s.list(func(t *models.Ticket) bool { return t.OrderID == orderID })
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *InMemory) ListByHolder(_ context.Context, holder id.UserID) ([]*models.Ticket, error) {
	return s.list(func(t *models.Ticket) bool { return t.HolderID == holder }), nil
}

func (s *InMemory) ListByEvent(_ context.Context, eventID id.EventID, f models.Filter) ([]*models.Ticket, error) {
	out := s.list(func(t *models.Ticket) bool { return t.EventID == eventID && f.Matches(t) })
	if f.Offset >= len(out) {
		return []*models.Ticket{}, nil
	}
	out = out[f.Offset:]
	if size := f.PageSize(); len(out) > size {
		out = out[:size]
	}
	return out, nil
}

func (s *InMemory) CountByEvent(_ context.Context, eventID id.EventID) (models.Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var c models.Counts
	for _, t := range s.tickets {
		if t.EventID != eventID {
			continue
		}
		c.Issued++
		switch t.Status {
		case models.StatusUsed:
			c.CheckedIn++
		case models.StatusVoid:
			c.Void++
		}
	}
	return c, nil
}

// list returns matches newest first, breaking ties by sequence.
func (s *InMemory) list(match func(*models.Ticket) bool) []*models.Ticket {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Ticket, 0)
	for _, t := range s.tickets {
		if match(t) {
			out = append(out, clone(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		if out[i].OrderID != out[j].OrderID {
			return out[i].OrderID.String() < out[j].OrderID.String()
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}
