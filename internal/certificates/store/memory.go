package store

import (
	"context"
	"sort"
	"sync"

	"ticketeer/internal/certificates/models"
	id "ticketeer/pkg/domain"
	"ticketeer/pkg/platform/sentinel"
)

type InMemory struct {
	mu       sync.RWMutex
	byID     map[id.CertificateID]models.Certificate
	byTicket map[id.TicketID]id.CertificateID
	byCode   map[string]id.CertificateID
}

func NewInMemory() *InMemory {
	return &InMemory{
		byID:     make(map[id.CertificateID]models.Certificate),
		byTicket: make(map[id.TicketID]id.CertificateID),
		byCode:   make(map[string]id.CertificateID),
	}
}

// CreateMissing inserts the certificates whose ticket has none yet and
// returns those it inserted.
func (s *InMemory) CreateMissing(_ context.Context, certs []*models.Certificate) ([]*models.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range certs {
		if _, ok := s.byCode[c.VerificationCode]; ok {
			return nil, sentinel.ErrConflict
		}
	}
	out := make([]*models.Certificate, 0, len(certs))
	for _, c := range certs {
		if _, ok := s.byTicket[c.TicketID]; ok {
			continue
		}
		s.byID[c.ID] = *c
		s.byTicket[c.TicketID] = c.ID
		s.byCode[c.VerificationCode] = c.ID
		out = append(out, c)
	}
	return out, nil
}

func (s *InMemory) FindByCode(_ context.Context, code string) (*models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	certID, ok := s.byCode[code]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	c := s.byID[certID]
	return &c, nil
}

func (s *InMemory) ListByHolder(_ context.Context, holder id.UserID) ([]*models.Certificate, error) {
	return s.list(func(c models.Certificate) bool { return c.HolderID == holder }), nil
}

func (s *InMemory) ListByEvent(_ context.Context, eventID id.EventID) ([]*models.Certificate, error) {
	return s.list(func(c models.Certificate) bool { return c.EventID == eventID }), nil
}

func (s *InMemory) list(match func(models.Certificate) bool) []*models.Certificate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Certificate, 0)
	for _, c := range s.byID {
		if match(c) {
			cp := c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].IssuedAt.After(out[j].IssuedAt)
		}
		return out[i].HolderName < out[j].HolderName
	})
	return out
}
