package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketeer/internal/payments"
	id "ticketeer/pkg/domain"
	dErrors "ticketeer/pkg/domain-errors"
	"ticketeer/pkg/requestcontext"
)

func TestPrice(t *testing.T) {
	items := []Item{{UnitPriceCents: 5000, Quantity: 3}, {UnitPriceCents: 1999, Quantity: 1}}

	cases := []struct {
		name     string
		discount int64
		bps      int64
		want     Totals
	}{
		{"no discount", 0, 1000, Totals{SubtotalCents: 16999, FeeCents: 1700, TotalCents: 18699}},
		{"fee on discounted subtotal", 1999, 1000, Totals{SubtotalCents: 16999, DiscountCents: 1999, FeeCents: 1500, TotalCents: 16500}},
		{"discount capped at subtotal", 20000, 1000, Totals{SubtotalCents: 16999, DiscountCents: 16999}},
		{"half up rounding", 0, 250, Totals{SubtotalCents: 16999, FeeCents: 425, TotalCents: 17424}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Price(items, tc.discount, tc.bps))
		})
	}
}

func TestStatusGraph(t *testing.T) {
	assert.True(t, StatusPending.CanTransitionTo(StatusAwaitingPayment))
	assert.True(t, StatusAwaitingPayment.CanTransitionTo(StatusExpired))
	assert.True(t, StatusPaid.CanTransitionTo(StatusFulfilled))
	assert.True(t, StatusFulfilled.CanTransitionTo(StatusRefunded))
	assert.False(t, StatusAwaitingPayment.CanTransitionTo(StatusRefunded))
	assert.False(t, StatusPaid.CanTransitionTo(StatusCancelled))

	for _, st := range []Status{StatusFailed, StatusCancelled, StatusExpired, StatusRefunded} {
		assert.True(t, st.IsTerminal(), st)
	}
}

func newTestOrder(now time.Time) *Order {
	return NewOrder(id.NewOrderID(), Draft{
		EventID:        id.NewEventID(),
		BuyerID:        id.NewUserID(),
		Items:          []Item{{TicketTypeID: id.NewTicketTypeID(), Name: "Regular", UnitPriceCents: 5000, Quantity: 2}},
		Currency:       id.CurrencyBRL,
		FeeBasisPoints: 1000,
		Provider:       payments.ProviderStripe,
		Method:         payments.MethodCard,
		HoldTTL:        15 * time.Minute,
	}, now)
}

func TestNewOrder(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	o := newTestOrder(now)

	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, int64(11000), o.TotalCents)
	assert.Equal(t, int64(10000), o.NetRevenueCents())
	assert.Equal(t, 2, o.TicketCount())
	assert.Equal(t, now.Add(15*time.Minute), o.ExpiresAt)
	assert.Regexp(t, `^TKT-[0-9A-F]{10}$`, o.Reference)
}

func TestFreeOrderHasNoProvider(t *testing.T) {
	o := NewOrder(id.NewOrderID(), Draft{
		Items:    []Item{{UnitPriceCents: 0, Quantity: 1}},
		Provider: payments.ProviderAsaas,
		Method:   payments.MethodPix,
	}, time.Now())
	assert.True(t, o.IsFree())
	assert.Equal(t, payments.ProviderNone, o.Provider)
	assert.Empty(t, o.Method)
}

func TestExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	o := newTestOrder(now)

	assert.False(t, o.HoldExpired(now.Add(14*time.Minute)))
	assert.True(t, o.HoldExpired(now.Add(15*time.Minute)))
	assert.True(t, dErrors.HasCode(o.CanExpire(now), dErrors.CodeInvalidState))
	require.NoError(t, o.CanExpire(now.Add(time.Hour)))

	o.ApplyExpired(now.Add(time.Hour))
	assert.True(t, o.Lapsed())
	assert.NoError(t, o.CanPayLate())
	assert.False(t, o.HoldExpired(now.Add(2*time.Hour)), "only unpaid orders hold")
}

func TestMatchesPayment(t *testing.T) {
	o := newTestOrder(time.Now())
	assert.NoError(t, o.MatchesPayment(payments.ProviderStripe, "cs_1"), "no session yet")

	o.ApplyAwaitingPayment(payments.Session{Provider: payments.ProviderStripe, PaymentID: "cs_1"}, time.Now())
	assert.NoError(t, o.MatchesPayment(payments.ProviderStripe, "cs_1"))
	assert.Error(t, o.MatchesPayment(payments.ProviderStripe, "cs_2"))
	assert.Error(t, o.MatchesPayment(payments.ProviderAsaas, "cs_1"))
}

func TestBelongsTo(t *testing.T) {
	o := newTestOrder(time.Now())
	assert.True(t, o.BelongsTo(requestcontext.Actor{UserID: o.BuyerID}))
	assert.False(t, o.BelongsTo(requestcontext.Actor{UserID: id.NewUserID()}))
	assert.False(t, o.BelongsTo(requestcontext.Actor{}))
}

func TestMergedLines(t *testing.T) {
	a, b := id.NewTicketTypeID(), id.NewTicketTypeID()
	req := CheckoutRequest{Items: []LineRequest{{a, 1}, {b, 2}, {a, 3}}}
	assert.Equal(t, []LineRequest{{a, 4}, {b, 2}}, req.MergedLines())
}
