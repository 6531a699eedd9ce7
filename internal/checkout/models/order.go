package models

import (
	"strings"
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
	StatusPaid            Status = "paid"
	StatusFulfilled       Status = "fulfilled"
	StatusFailed          Status = "failed"
	StatusCancelled       Status = "cancelled"
	StatusExpired         Status = "expired"
	StatusRefunded        Status = "refunded"
)

var transitions = map[Status][]Status{
	StatusPending:         {StatusAwaitingPayment, StatusPaid, StatusFailed, StatusCancelled, StatusExpired},
	StatusAwaitingPayment: {StatusPaid, StatusFailed, StatusCancelled, StatusExpired},
	StatusPaid:            {StatusFulfilled, StatusRefunded},
	StatusFulfilled:       {StatusRefunded},
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// HoldsInventory reports whether an order in this status keeps its tickets
// reserved.
func (s Status) HoldsInventory() bool {
	switch s {
	case StatusPending, StatusAwaitingPayment, StatusPaid, StatusFulfilled:
		return true
	}
	return false
}

// Unpaid reports whether the buyer can still pay or abandon the order.
func (s Status) Unpaid() bool {
	return s == StatusPending || s == StatusAwaitingPayment
}

type Item struct {
	TicketTypeID   id.TicketTypeID `json:"ticket_type_id"`
	Name           string          `json:"name"`
	UnitPriceCents int64           `json:"unit_price_cents"`
	Quantity       int             `json:"quantity"`
}

func (i Item) LineTotal() int64 { return i.UnitPriceCents * int64(i.Quantity) }

type Buyer struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Document string `json:"document,omitempty"`
}

// Order is a buyer's purchase of tickets for one event.
//
// Invariants:
//   - TotalCents = SubtotalCents - DiscountCents + FeeCents
//   - inventory for Items is reserved while Status.HoldsInventory()
//   - ProviderPaymentID is set once the order reaches awaiting_payment
type Order struct {
	ID                id.OrderID        `json:"id"`
	Reference         string            `json:"reference"`
	EventID           id.EventID        `json:"event_id"`
	BuyerID           id.UserID         `json:"buyer_id"`
	Buyer             Buyer             `json:"buyer"`
	Items             []Item            `json:"items"`
	SubtotalCents     int64             `json:"subtotal_cents"`
	DiscountCents     int64             `json:"discount_cents"`
	FeeCents          int64             `json:"fee_cents"`
	TotalCents        int64             `json:"total_cents"`
	Currency          id.Currency       `json:"currency"`
	CouponID          *id.CouponID      `json:"coupon_id,omitempty"`
	CouponCode        string            `json:"coupon_code,omitempty"`
	Provider          payments.Provider `json:"provider"`
	Method            payments.Method   `json:"method,omitempty"`
	ProviderPaymentID string            `json:"provider_payment_id,omitempty"`
	PaymentURL        string            `json:"payment_url,omitempty"`
	PixPayload        string            `json:"pix_payload,omitempty"`
	PixQRCodeImage    string            `json:"pix_qr_code_image,omitempty"`
	Status            Status            `json:"status"`
	IdempotencyKey    string            `json:"-"`
	ExpiresAt         time.Time         `json:"expires_at"`
	PaidAt            *time.Time        `json:"paid_at,omitempty"`
	CancelledAt       *time.Time        `json:"cancelled_at,omitempty"`
	RefundedAt        *time.Time        `json:"refunded_at,omitempty"`
	FailureReason     string            `json:"failure_reason,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Totals is the priced breakdown of an order.
type Totals struct {
	SubtotalCents int64 `json:"subtotal_cents"`
	DiscountCents int64 `json:"discount_cents"`
	FeeCents      int64 `json:"fee_cents"`
	TotalCents    int64 `json:"total_cents"`
}

// Price applies the discount and then the service fee on the discounted
// subtotal. Free orders carry no fee.
func Price(items []Item, discountCents, feeBasisPoints int64) Totals {
	var t Totals
	for _, it := range items {
		t.SubtotalCents += it.LineTotal()
	}
	t.DiscountCents = min(max(discountCents, 0), t.SubtotalCents)
	net := t.SubtotalCents - t.DiscountCents
	t.FeeCents = id.BasisPointsOf(net, feeBasisPoints)
	t.TotalCents = net + t.FeeCents
	return t
}

// NewReference derives the short code shown to buyers from the order ID.
func NewReference(orderID id.OrderID) string {
	s := strings.ReplaceAll(orderID.String(), "-", "")
	return "TKT-" + strings.ToUpper(s[:10])
}

type Draft struct {
	EventID        id.EventID
	BuyerID        id.UserID
	Buyer          Buyer
	Items          []Item
	Currency       id.Currency
	Discount       int64
	CouponID       *id.CouponID
	CouponCode     string
	FeeBasisPoints int64
	Provider       payments.Provider
	Method         payments.Method
	IdempotencyKey string
	HoldTTL        time.Duration
}

func NewOrder(orderID id.OrderID, d Draft, now time.Time) *Order {
	totals := Price(d.Items, d.Discount, d.FeeBasisPoints)
	o := &Order{
		ID:             orderID,
		Reference:      NewReference(orderID),
		EventID:        d.EventID,
		BuyerID:        d.BuyerID,
		Buyer:          d.Buyer,
		Items:          d.Items,
		SubtotalCents:  totals.SubtotalCents,
		DiscountCents:  totals.DiscountCents,
		FeeCents:       totals.FeeCents,
		TotalCents:     totals.TotalCents,
		Currency:       d.Currency,
		CouponID:       d.CouponID,
		CouponCode:     d.CouponCode,
		Provider:       d.Provider,
		Method:         d.Method,
		Status:         StatusPending,
		IdempotencyKey: d.IdempotencyKey,
		ExpiresAt:      now.Add(d.HoldTTL),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if o.IsFree() {
		o.Provider = payments.ProviderNone
		o.Method = ""
	}
	return o
}

func (o *Order) IsFree() bool { return o.TotalCents == 0 }

func (o *Order) TicketCount() int {
	n := 0
	for _, it := range o.Items {
		n += it.Quantity
	}
	return n
}

// HoldExpired reports whether an unpaid order has outlived its hold.
func (o *Order) HoldExpired(now time.Time) bool {
	return o.Status.Unpaid() && !now.Before(o.ExpiresAt)
}

// NetRevenueCents is what the organizer keeps after the platform fee.
func (o *Order) NetRevenueCents() int64 { return o.TotalCents - o.FeeCents }

func (o *Order) BelongsTo(a requestcontext.Actor) bool {
	return !a.UserID.IsNil() && o.BuyerID == a.UserID
}

func (o *Order) can(next Status) error {
	if !o.Status.CanTransitionTo(next) {
		return dErrors.Newf(dErrors.CodeInvalidState, "order is %s and cannot become %s", o.Status, next)
	}
	return nil
}

func (o *Order) CanAwaitPayment() error { return o.can(StatusAwaitingPayment) }

func (o *Order) ApplyAwaitingPayment(s payments.Session, now time.Time) {
	o.Status = StatusAwaitingPayment
	o.Provider = s.Provider
	o.ProviderPaymentID = s.PaymentID
	o.PaymentURL = s.URL
	o.PixPayload = s.PixPayload
	o.PixQRCodeImage = s.PixQRCodeImage
	o.UpdatedAt = now
}

// MatchesPayment guards against webhooks for a different session of the
// same order.
func (o *Order) MatchesPayment(provider payments.Provider, paymentID string) error {
	if o.ProviderPaymentID == "" || (o.Provider == provider && o.ProviderPaymentID == paymentID) {
		return nil
	}
	return dErrors.New(dErrors.CodeInvalidState, "payment does not belong to this order")
}

func (o *Order) CanPay() error { return o.can(StatusPaid) }

func (o *Order) ApplyPaid(paymentID string, now time.Time) {
	o.Status = StatusPaid
	if paymentID != "" {
		o.ProviderPaymentID = paymentID
	}
	o.PaidAt = &now
	o.FailureReason = ""
	o.UpdatedAt = now
}

// Lapsed reports whether a late payment may revive the order.
func (o *Order) Lapsed() bool {
	return o.Status == StatusExpired || o.Status == StatusFailed
}

// CanPayLate accepts a payment that arrived after the hold lapsed; the
// caller must have re-acquired the inventory first.
func (o *Order) CanPayLate() error {
	if !o.Lapsed() {
		return dErrors.Newf(dErrors.CodeInvalidState, "order is %s, not lapsed", o.Status)
	}
	return nil
}

func (o *Order) CanFulfill() error { return o.can(StatusFulfilled) }

func (o *Order) ApplyFulfilled(now time.Time) {
	o.Status = StatusFulfilled
	o.UpdatedAt = now
}

func (o *Order) CanFail() error { return o.can(StatusFailed) }

func (o *Order) ApplyFailed(reason string, now time.Time) {
	o.Status = StatusFailed
	o.FailureReason = reason
	o.UpdatedAt = now
}

func (o *Order) CanCancel() error { return o.can(StatusCancelled) }

func (o *Order) ApplyCancelled(now time.Time) {
	o.Status = StatusCancelled
	o.CancelledAt = &now
	o.UpdatedAt = now
}

func (o *Order) CanExpire(now time.Time) error {
	if err := o.can(StatusExpired); err != nil {
		return err
	}
	if now.Before(o.ExpiresAt) {
		return dErrors.New(dErrors.CodeInvalidState, "order hold has not expired yet")
	}
	return nil
}

func (o *Order) ApplyExpired(now time.Time) {
	o.Status = StatusExpired
	o.UpdatedAt = now
}

func (o *Order) CanRefund() error { return o.can(StatusRefunded) }

// ApplyRefunded also closes lapsed or cancelled orders whose late payment
// was returned to the buyer.
func (o *Order) ApplyRefunded(reason string, now time.Time) {
	o.Status = StatusRefunded
	o.RefundedAt = &now
	if reason != "" {
		o.FailureReason = reason
	}
	o.UpdatedAt = now
}
