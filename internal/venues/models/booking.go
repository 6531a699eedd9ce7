package models

import (
	"time"

	"ticketeer/internal/payments"
	id "ticketeer/pkg/domain"
	dErrors "ticketeer/pkg/domain-errors"
	"ticketeer/pkg/requestcontext"
)

type Status string

const (
	StatusPending         Status = "pending"
	StatusAwaitingPayment Status = "awaiting_payment"
	StatusConfirmed       Status = "confirmed"
	StatusCancelled       Status = "cancelled"
	StatusExpired         Status = "expired"
	StatusFailed          Status = "failed"
)

var transitions = map[Status][]Status{
	StatusPending:         {StatusAwaitingPayment, StatusConfirmed, StatusCancelled, StatusExpired, StatusFailed},
	StatusAwaitingPayment: {StatusConfirmed, StatusCancelled, StatusExpired, StatusFailed},
	StatusConfirmed:       {StatusCancelled},
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// BlocksSlot reports whether a booking in this status holds its time range.
func (s Status) BlocksSlot() bool {
	switch s {
	case StatusPending, StatusAwaitingPayment, StatusConfirmed:
		return true
	}
	return false
}

func (s Status) Unpaid() bool {
	return s == StatusPending || s == StatusAwaitingPayment
}

// BlockingStatuses is the set used by stores for overlap queries.
func BlockingStatuses() []Status {
	return []Status{StatusPending, StatusAwaitingPayment, StatusConfirmed}
}

type Customer struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Document string `json:"document,omitempty"`
}

// Booking is a customer's rental of a space for a time range.
//
// Invariants:
//   - StartsAt < EndsAt
//   - no two bookings of a space with Status.BlocksSlot() overlap
//   - TotalCents = Quote.TotalCents
type Booking struct {
	ID                id.BookingID      `json:"id"`
	SpaceID           id.SpaceID        `json:"space_id"`
	SpaceName         string            `json:"space_name"`
	CustomerID        id.UserID         `json:"customer_id"`
	Customer          Customer          `json:"customer"`
	StartsAt          time.Time         `json:"starts_at"`
	EndsAt            time.Time         `json:"ends_at"`
	Headcount         int               `json:"headcount"`
	Services          []string          `json:"services"`
	CoffeeBreak       *CoffeeBreak      `json:"coffee_break,omitempty"`
	Quote             Quote             `json:"quote"`
	TotalCents        int64             `json:"total_cents"`
	Currency          id.Currency       `json:"currency"`
	Status            Status            `json:"status"`
	Provider          payments.Provider `json:"provider"`
	Method            payments.Method   `json:"method,omitempty"`
	ProviderPaymentID string            `json:"provider_payment_id,omitempty"`
	PaymentURL        string            `json:"payment_url,omitempty"`
	PixPayload        string            `json:"pix_payload,omitempty"`
	Notes             string            `json:"notes,omitempty"`
	FailureReason     string            `json:"failure_reason,omitempty"`
	ExpiresAt         time.Time         `json:"expires_at"`
	ConfirmedAt       *time.Time        `json:"confirmed_at,omitempty"`
	CancelledAt       *time.Time        `json:"cancelled_at,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// BookingRequest is a quote request plus who pays and how.
type BookingRequest struct {
	QuoteRequest
	Customer Customer
	Notes    string
	Provider payments.Provider
	Method   payments.Method
}

type Draft struct {
	Space      *Space
	CustomerID id.UserID
	Request    BookingRequest
	Quote      Quote
	HoldTTL    time.Duration
}

func NewBooking(bookingID id.BookingID, d Draft, now time.Time) *Booking {
	b := &Booking{
		ID:          bookingID,
		SpaceID:     d.Space.ID,
		SpaceName:   d.Space.Name,
		CustomerID:  d.CustomerID,
		Customer:    d.Request.Customer,
		StartsAt:    d.Request.StartsAt.UTC(),
		EndsAt:      d.Request.EndsAt.UTC(),
		Headcount:   d.Request.Headcount,
		Services:    make([]string, 0, len(d.Quote.Services)),
		CoffeeBreak: d.Request.CoffeeBreak,
		Quote:       d.Quote,
		TotalCents:  d.Quote.TotalCents,
		Currency:    d.Quote.Currency,
		Status:      StatusPending,
		Provider:    d.Request.Provider,
		Method:      d.Request.Method,
		Notes:       d.Request.Notes,
		ExpiresAt:   now.Add(d.HoldTTL),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, line := range d.Quote.Services {
		b.Services = append(b.Services, line.Key)
	}
	if b.TotalCents == 0 {
		b.Provider = payments.ProviderNone
		b.Method = ""
	}
	return b
}

// Overlaps reports whether [start, end) intersects the booking's range.
func (b *Booking) Overlaps(start, end time.Time) bool {
	return b.StartsAt.Before(end) && start.Before(b.EndsAt)
}

func (b *Booking) IsFree() bool { return b.TotalCents == 0 }

func (b *Booking) HoldExpired(now time.Time) bool {
	return b.Status.Unpaid() && !now.Before(b.ExpiresAt)
}

func (b *Booking) BelongsTo(a requestcontext.Actor) bool {
	return !a.UserID.IsNil() && b.CustomerID == a.UserID
}

func (b *Booking) can(next Status) error {
	if !b.Status.CanTransitionTo(next) {
		return dErrors.Newf(dErrors.CodeInvalidState, "booking is %s and cannot become %s", b.Status, next)
	}
	return nil
}

func (b *Booking) CanAwaitPayment() error { return b.can(StatusAwaitingPayment) }

func (b *Booking) ApplyAwaitingPayment(s payments.Session, now time.Time) {
	b.Status = StatusAwaitingPayment
	b.Provider = s.Provider
	b.ProviderPaymentID = s.PaymentID
	b.PaymentURL = s.URL
	b.PixPayload = s.PixPayload
	b.UpdatedAt = now
}

// MatchesPayment guards against webhooks for another session of the booking.
func (b *Booking) MatchesPayment(provider payments.Provider, paymentID string) error {
	if b.ProviderPaymentID == "" || (b.Provider == provider && b.ProviderPaymentID == paymentID) {
		return nil
	}
	return dErrors.New(dErrors.CodeInvalidState, "payment does not belong to this booking")
}

func (b *Booking) CanConfirm() error { return b.can(StatusConfirmed) }

// CanConfirmLate allows a payment that arrived after the hold lapsed. The
// caller must re-check the slot.
func (b *Booking) CanConfirmLate() error {
	if b.Status == StatusExpired || b.Status == StatusFailed {
		return nil
	}
	return b.CanConfirm()
}

func (b *Booking) ApplyConfirmed(paymentID string, now time.Time) {
	b.Status = StatusConfirmed
	if paymentID != "" {
		b.ProviderPaymentID = paymentID
	}
	b.ConfirmedAt = &now
	b.FailureReason = ""
	b.UpdatedAt = now
}

func (b *Booking) CanFail() error { return b.can(StatusFailed) }

func (b *Booking) ApplyFailed(reason string, now time.Time) {
	b.Status = StatusFailed
	b.FailureReason = reason
	b.UpdatedAt = now
}

func (b *Booking) CanExpire(now time.Time) error {
	if !b.HoldExpired(now) {
		return dErrors.Newf(dErrors.CodeInvalidState, "booking is %s and its hold has not lapsed", b.Status)
	}
	return nil
}

func (b *Booking) ApplyExpired(now time.Time) {
	b.Status = StatusExpired
	b.UpdatedAt = now
}

// CanCancel lets the customer drop an unpaid booking or a confirmed one
// that has not started. Admins may cancel any booking that has not ended.
func (b *Booking) CanCancel(a requestcontext.Actor, now time.Time) error {
	if !b.BelongsTo(a) && !a.Role.IsAdmin() {
		return dErrors.New(dErrors.CodeNotFound, "booking not found")
	}
	if err := b.can(StatusCancelled); err != nil {
		return err
	}
	if b.Status == StatusConfirmed {
		if a.Role.IsAdmin() && now.Before(b.EndsAt) {
			return nil
		}
		if !now.Before(b.StartsAt) {
			return dErrors.New(dErrors.CodeInvalidState, "booking has already started")
		}
	}
	return nil
}

func (b *Booking) ApplyCancelled(reason string, now time.Time) {
	b.Status = StatusCancelled
	b.FailureReason = reason
	b.CancelledAt = &now
	b.UpdatedAt = now
}

// Slot is the public view of a booking on the space calendar.
type Slot struct {
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
	Status   Status    `json:"status"`
}

func (b *Booking) Slot() Slot {
	return Slot{StartsAt: b.StartsAt, EndsAt: b.EndsAt, Status: b.Status}
}

// Confirmed is the broker payload of booking.confirmed.
type Confirmed struct {
	BookingID     id.BookingID `json:"booking_id"`
	SpaceName     string       `json:"space_name"`
	CustomerName  string       `json:"customer_name"`
	CustomerEmail string       `json:"customer_email"`
	StartsAt      time.Time    `json:"starts_at"`
	EndsAt        time.Time    `json:"ends_at"`
	Headcount     int          `json:"headcount"`
	Services      []string     `json:"services"`
	TotalCents    int64        `json:"total_cents"`
	Currency      id.Currency  `json:"currency"`
}
