package store

import (
	"context"
	"sort"
	"sync"

	"ticketeer/internal/coupons/models"
	id "ticketeer/pkg/domain"
	"ticketeer/pkg/platform/sentinel"
)

type InMemory struct {
	mu      sync.RWMutex
	coupons map[id.CouponID]*models.Coupon
}

func NewInMemory() *InMemory {
	return &InMemory{coupons: make(map[id.CouponID]*models.Coupon)}
}

func (s *InMemory) Create(_ context.Context, c *models.Coupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.coupons {
		if other.EventID == c.EventID && other.Code == c.Code {
			return sentinel.ErrAlreadyUsed
		}
	}
	cp := *c
	s.coupons[c.ID] = &cp
	return nil
}

func (s *InMemory) FindByID(_ context.Context, couponID id.CouponID) (*models.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.coupons[couponID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *InMemory) FindByCode(_ context.Context, eventID id.EventID, code string) (*models.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.coupons {
		if c.EventID == eventID && c.Code == code {
			cp := *c
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) ListByEvent(_ context.Context, eventID id.EventID) ([]*models.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Coupon, 0)
	for _, c := range s.coupons {
		if c.EventID == eventID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *InMemory) Deactivate(_ context.Context, couponID id.CouponID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coupons[couponID]
	if !ok {
		return sentinel.ErrNotFound
	}
	c.Active = false
	return nil
}

func (s *InMemory) Redeem(_ context.Context, couponID id.CouponID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coupons[couponID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if c.Exhausted() {
		return sentinel.ErrSoldOut
	}
	c.Redemptions++
	return nil
}

func (s *InMemory) Release(_ context.Context, couponID id.CouponID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coupons[couponID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if c.Redemptions > 0 {
		c.Redemptions--
	}
	return nil
}
