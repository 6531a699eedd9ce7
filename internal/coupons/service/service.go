package service

import (
	"context"
	"errors"
	"log/slog"

	"ticketeer/internal/coupons/models"
	eventmodels "ticketeer/internal/events/models"
	id "ticketeer/pkg/domain"
	dErrors "ticketeer/pkg/domain-errors"
	"ticketeer/pkg/platform/sentinel"
	"ticketeer/pkg/requestcontext"
)

type Store interface {
	Create(ctx context.Context, c *models.Coupon) error
	FindByID(ctx context.Context, couponID id.CouponID) (*models.Coupon, error)
	FindByCode(ctx context.Context, eventID id.EventID, code string) (*models.Coupon, error)
	ListByEvent(ctx context.Context, eventID id.EventID) ([]*models.Coupon, error)
	Deactivate(ctx context.Context, couponID id.CouponID) error
	Redeem(ctx context.Context, couponID id.CouponID) error
	Release(ctx context.Context, couponID id.CouponID) error
}

// Events is the slice of the events service coupons depend on.
type Events interface {
	ManagedEvent(ctx context.Context, eventID id.EventID) (*eventmodels.Event, error)
	GetEvent(ctx context.Context, eventID id.EventID) (*eventmodels.Event, error)
	ListTicketTypes(ctx context.Context, eventID id.EventID) ([]eventmodels.TicketTypeView, error)
}

type Service struct {
	store  Store
	events Events
	logger *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func New(store Store, events Events, opts ...Option) *Service {
	s := &Service{store: store, events: events, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Create(ctx context.Context, eventID id.EventID, terms models.Terms) (*models.Coupon, error) {
	if _, err := s.events.ManagedEvent(ctx, eventID); err != nil {
		return nil, err
	}
	c, err := models.NewCoupon(id.NewCouponID(), eventID, terms, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, c); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.Newf(dErrors.CodeConflict, "coupon %s already exists for this event", c.Code)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create coupon")
	}
	s.logger.InfoContext(ctx, "coupon created", "event_id", eventID, "code", c.Code)
	return c, nil
}

func (s *Service) Deactivate(ctx context.Context, couponID id.CouponID) (*models.Coupon, error) {
	c, err := s.store.FindByID(ctx, couponID)
	if err != nil {
		return nil, wrapErr(err)
	}
	if _, err := s.events.ManagedEvent(ctx, c.EventID); err != nil {
		return nil, err
	}
	if err := s.store.Deactivate(ctx, couponID); err != nil {
		return nil, wrapErr(err)
	}
	c.Active = false
	return c, nil
}

func (s *Service) List(ctx context.Context, eventID id.EventID) ([]*models.Coupon, error) {
	if _, err := s.events.ManagedEvent(ctx, eventID); err != nil {
		return nil, err
	}
	coupons, err := s.store.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list coupons")
	}
	return coupons, nil
}

// Validate resolves code for the event and computes its discount on subtotal
// without redeeming it.
func (s *Service) Validate(ctx context.Context, eventID id.EventID, code string, subtotal int64) (*models.Discount, error) {
	c, err := s.store.FindByCode(ctx, eventID, models.NormalizeCode(code))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeValidation, "coupon code is not valid for this event")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up coupon")
	}
	cents, err := c.DiscountFor(subtotal, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	return &models.Discount{CouponID: c.ID, Code: c.Code, Cents: cents}, nil
}

// Redeem consumes one use. Callers run it in the same unit of work as the
// order insert and call Release when the order does not complete.
func (s *Service) Redeem(ctx context.Context, couponID id.CouponID) error {
	if err := s.store.Redeem(ctx, couponID); err != nil {
		if errors.Is(err, sentinel.ErrSoldOut) {
			return dErrors.New(dErrors.CodeValidation, "coupon has reached its redemption limit")
		}
		return wrapErr(err)
	}
	return nil
}

func (s *Service) Release(ctx context.Context, couponID id.CouponID) error {
	if err := s.store.Release(ctx, couponID); err != nil {
		return wrapErr(err)
	}
	return nil
}

// Preview prices a cart against the event's ticket types and applies code.
func (s *Service) Preview(ctx context.Context, eventID id.EventID, code string, lines []models.CartLine) (*models.Preview, error) {
	if _, err := s.events.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	types, err := s.events.ListTicketTypes(ctx, eventID)
	if err != nil {
		return nil, err
	}
	prices := make(map[id.TicketTypeID]int64, len(types))
	for _, t := range types {
		prices[t.ID] = t.PriceCents
	}
	var subtotal int64
	for _, l := range lines {
		price, ok := prices[l.TicketTypeID]
		if !ok {
			return nil, dErrors.New(dErrors.CodeValidation, "cart references an unknown ticket type")
		}
		if l.Quantity < 1 {
			return nil, dErrors.New(dErrors.CodeValidation, "quantities must be positive")
		}
		subtotal += price * int64(l.Quantity)
	}
	d, err := s.Validate(ctx, eventID, code, subtotal)
	if err != nil {
		return nil, err
	}
	return &models.Preview{SubtotalCents: subtotal, Discount: *d, TotalCents: subtotal - d.Cents}, nil
}

func wrapErr(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "coupon not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "coupon store failure")
}
