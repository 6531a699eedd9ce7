package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"ticketeer/internal/checkout/models"
	id "ticketeer/pkg/domain"
	"ticketeer/pkg/platform/sentinel"
)

type idemKey struct {
	buyer id.UserID
	key   string
}

// InMemory stores orders in a map. Execute holds the write lock across
// validate and mutate.
type InMemory struct {
	mu     sync.RWMutex
	orders map[id.OrderID]*models.Order
	idem   map[idemKey]id.OrderID
}

func NewInMemory() *InMemory {
	return &InMemory{
		orders: make(map[id.OrderID]*models.Order),
		idem:   make(map[idemKey]id.OrderID),
	}
}

func clone(o *models.Order) *models.Order {
	cp := *o
	cp.Items = append([]models.Item(nil), o.Items...)
	if o.CouponID != nil {
		c := *o.CouponID
		cp.CouponID = &c
	}
	for _, t := range []**time.Time{&cp.PaidAt, &cp.CancelledAt, &cp.RefundedAt} {
		if *t != nil {
			v := **t
			*t = &v
		}
	}
	return &cp
}

func (s *InMemory) Create(_ context.Context, o *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return sentinel.ErrAlreadyUsed
	}
	if o.IdempotencyKey != "" {
		k := idemKey{o.BuyerID, o.IdempotencyKey}
		if _, ok := s.idem[k]; ok {
			return sentinel.ErrAlreadyUsed
		}
		s.idem[k] = o.ID
	}
	s.orders[o.ID] = clone(o)
	return nil
}

func (s *InMemory) FindByID(_ context.Context, orderID id.OrderID) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(o), nil
}

func (s *InMemory) FindByIdempotencyKey(_ context.Context, buyer id.UserID, key string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	orderID, ok := s.idem[idemKey{buyer, key}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(s.orders[orderID]), nil
}

func (s *InMemory) Execute(_ context.Context, orderID id.OrderID, validate func(*models.Order) error, mutate func(*models.Order)) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	work := clone(o)
	if err := validate(work); err != nil {
		return nil, err
	}
	mutate(work)
	s.orders[orderID] = work
	return clone(work), nil
}

func (s *InMemory) ListByBuyer(_ context.Context, buyer id.UserID) ([]*models.Order, error) {
	return s.list(func(o *models.Order) bool { return o.BuyerID == buyer }), nil
}

func (s *InMemory) ListByEvent(_ context.Context, eventID id.EventID) ([]*models.Order, error) {
	return s.list(func(o *models.Order) bool { return o.EventID == eventID }), nil
}

// ListExpired returns unpaid orders whose hold ended at or before now,
// oldest first.
func (s *InMemory) ListExpired(_ context.Context, now time.Time, limit int) ([]*models.Order, error) {
	out := s.list(func(o *models.Order) bool { return o.HoldExpired(now) })
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// list returns matches newest first.
func (s *InMemory) list(match func(*models.Order) bool) []*models.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Order, 0)
	for _, o := range s.orders {
		if match(o) {
			out = append(out, clone(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}
