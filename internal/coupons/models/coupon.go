package models

import (
	"regexp"
	"strings"
	"time"

	id "ticketeer/pkg/domain"
	dErrors "ticketeer/pkg/domain-errors"
)

type Kind string

const (
	KindPercent Kind = "percent"
	KindFixed   Kind = "fixed"
)

var codePattern = regexp.MustCompile(`^[A-Z0-9_-]{3,32}$`)

// NormalizeCode upper-cases and trims a user-typed code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Coupon is an event-scoped discount code.
//
// Invariants:
//   - Code matches [A-Z0-9_-]{3,32} and is unique per event
//   - percent coupons carry 1..100, fixed coupons a positive amount in cents
//   - Redemptions never exceed MaxRedemptions when MaxRedemptions > 0
type Coupon struct {
	ID               id.CouponID `json:"id"`
	EventID          id.EventID  `json:"event_id"`
	Code             string      `json:"code"`
	Kind             Kind        `json:"kind"`
	Value            int64       `json:"value"`
	MaxRedemptions   int         `json:"max_redemptions"`
	Redemptions      int         `json:"redemptions"`
	ValidFrom        *time.Time  `json:"valid_from,omitempty"`
	ValidUntil       *time.Time  `json:"valid_until,omitempty"`
	MinSubtotalCents int64       `json:"min_subtotal_cents"`
	Active           bool        `json:"active"`
	CreatedAt        time.Time   `json:"created_at"`
}

type Terms struct {
	Code             string
	Kind             Kind
	Value            int64
	MaxRedemptions   int
	ValidFrom        *time.Time
	ValidUntil       *time.Time
	MinSubtotalCents int64
}

func NewCoupon(couponID id.CouponID, eventID id.EventID, t Terms, now time.Time) (*Coupon, error) {
	code := NormalizeCode(t.Code)
	if !codePattern.MatchString(code) {
		return nil, dErrors.New(dErrors.CodeValidation, "code must be 3-32 characters of A-Z, 0-9, _ or -")
	}
	switch t.Kind {
	case KindPercent:
		if t.Value < 1 || t.Value > 100 {
			return nil, dErrors.New(dErrors.CodeValidation, "percent coupons take a value between 1 and 100")
		}
	case KindFixed:
		if t.Value < 1 {
			return nil, dErrors.New(dErrors.CodeValidation, "fixed coupons take a positive amount in cents")
		}
	default:
		return nil, dErrors.Newf(dErrors.CodeValidation, "unknown coupon kind %q", t.Kind)
	}
	if t.MaxRedemptions < 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "max_redemptions cannot be negative")
	}
	if t.MinSubtotalCents < 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "min_subtotal_cents cannot be negative")
	}
	if t.ValidFrom != nil && t.ValidUntil != nil && !t.ValidUntil.After(*t.ValidFrom) {
		return nil, dErrors.New(dErrors.CodeValidation, "valid_until must be after valid_from")
	}
	return &Coupon{
		ID:               couponID,
		EventID:          eventID,
		Code:             code,
		Kind:             t.Kind,
		Value:            t.Value,
		MaxRedemptions:   t.MaxRedemptions,
		ValidFrom:        t.ValidFrom,
		ValidUntil:       t.ValidUntil,
		MinSubtotalCents: t.MinSubtotalCents,
		Active:           true,
		CreatedAt:        now,
	}, nil
}

func (c *Coupon) Exhausted() bool {
	return c.MaxRedemptions > 0 && c.Redemptions >= c.MaxRedemptions
}

// DiscountFor checks applicability and computes the discount on subtotal.
func (c *Coupon) DiscountFor(subtotal int64, now time.Time) (int64, error) {
	switch {
	case !c.Active:
		return 0, dErrors.New(dErrors.CodeValidation, "coupon is no longer active")
	case c.ValidFrom != nil && now.Before(*c.ValidFrom):
		return 0, dErrors.New(dErrors.CodeValidation, "coupon is not valid yet")
	case c.ValidUntil != nil && !now.Before(*c.ValidUntil):
		return 0, dErrors.New(dErrors.CodeValidation, "coupon has expired")
	case c.Exhausted():
		return 0, dErrors.New(dErrors.CodeValidation, "coupon has reached its redemption limit")
	case subtotal < c.MinSubtotalCents:
		return 0, dErrors.Newf(dErrors.CodeValidation, "coupon requires a subtotal of at least %d cents", c.MinSubtotalCents)
	}
	if c.Kind == KindPercent {
		return id.PercentOf(subtotal, c.Value), nil
	}
	return min(c.Value, subtotal), nil
}

// Discount is an applied coupon.
type Discount struct {
	CouponID id.CouponID `json:"coupon_id"`
	Code     string      `json:"code"`
	Cents    int64       `json:"discount_cents"`
}

type CartLine struct {
	TicketTypeID id.TicketTypeID `json:"ticket_type_id"`
	Quantity     int             `json:"quantity"`
}

// Preview is the priced cart shown before checkout; TotalCents excludes fees.
type Preview struct {
	SubtotalCents int64    `json:"subtotal_cents"`
	Discount      Discount `json:"discount"`
	TotalCents    int64    `json:"total_cents"`
}
