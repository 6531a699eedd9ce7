package stripepay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v83"

	"ticketeer/internal/payments"
	dErrors "ticketeer/pkg/domain-errors"
)

const testWebhookSecret = "whsec_test"

type fakeSessions struct {
	created *stripe.CheckoutSessionCreateParams
	session *stripe.CheckoutSession
	err     error
}

func (f *fakeSessions) Create(_ context.Context, p *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error) {
	f.created = p
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

func (f *fakeSessions) Retrieve(_ context.Context, id string, _ *stripe.CheckoutSessionRetrieveParams) (*stripe.CheckoutSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.session == nil || f.session.ID != id {
		return nil, &stripe.Error{HTTPStatusCode: 404, Msg: "no such session"}
	}
	return f.session, nil
}

type fakeRefunds struct {
	params *stripe.RefundCreateParams
}

func (f *fakeRefunds) Create(_ context.Context, p *stripe.RefundCreateParams) (*stripe.Refund, error) {
	f.params = p
	return &stripe.Refund{ID: "re_1"}, nil
}

func newTestGateway(s *fakeSessions, r *fakeRefunds, now time.Time) *Gateway {
	return New("", testWebhookSecret, WithAPIs(s, r), WithClock(func() time.Time { return now }))
}

func TestCreatePaymentBuildsCheckoutSession(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sessions := &fakeSessions{session: &stripe.CheckoutSession{ID: "cs_1", URL: "https://checkout.stripe.test/cs_1"}}
	g := newTestGateway(sessions, &fakeRefunds{}, now)

	s, err := g.CreatePayment(context.Background(), payments.PaymentRequest{
		Reference:      payments.Reference{Kind: payments.KindOrder, ID: "ord-1"},
		Description:    "Rock Night x2",
		AmountCents:    11000,
		Currency:       "BRL",
		Method:         payments.MethodCard,
		Customer:       payments.Customer{Email: "buyer@example.com"},
		SuccessURL:     "https://app.test/ok",
		CancelURL:      "https://app.test/cancel",
		IdempotencyKey: "order-ord-1",
		ExpiresAt:      now.Add(15 * time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_1", s.PaymentID)
	assert.Equal(t, "https://checkout.stripe.test/cs_1", s.URL)

	p := sessions.created
	require.NotNil(t, p)
	assert.Equal(t, "brl", *p.LineItems[0].PriceData.Currency)
	assert.Equal(t, int64(11000), *p.LineItems[0].PriceData.UnitAmount)
	assert.Equal(t, "order:ord-1", *p.ClientReferenceID)
	assert.Equal(t, "buyer@example.com", *p.CustomerEmail)
	assert.Equal(t, map[string]string{"kind": "order", "ref": "ord-1"}, p.Metadata)
	assert.Equal(t, now.Add(30*time.Minute).Unix(), *p.ExpiresAt, "expiry is raised to the stripe minimum")
	assert.Equal(t, "order-ord-1", *p.IdempotencyKey)
}

func TestCreatePaymentTranslatesCardErrors(t *testing.T) {
	sessions := &fakeSessions{err: &stripe.Error{HTTPStatusCode: 402, Type: stripe.ErrorTypeCard, Msg: "card declined"}}
	g := newTestGateway(sessions, &fakeRefunds{}, time.Now())

	_, err := g.CreatePayment(context.Background(), payments.PaymentRequest{
		Reference: payments.Reference{Kind: payments.KindOrder, ID: "o"}, Currency: "BRL", AmountCents: 100,
	})
	assert.True(t, dErrors.HasCode(err, dErrors.CodePaymentRequired))
}

func TestRefundUsesPaymentIntent(t *testing.T) {
	sessions := &fakeSessions{session: &stripe.CheckoutSession{ID: "cs_1", PaymentIntent: &stripe.PaymentIntent{ID: "pi_1"}}}
	refunds := &fakeRefunds{}
	g := newTestGateway(sessions, refunds, time.Now())

	require.NoError(t, g.Refund(context.Background(), "cs_1", 5000))
	assert.Equal(t, "pi_1", *refunds.params.PaymentIntent)
	assert.Equal(t, int64(5000), *refunds.params.Amount)
}

func TestRefundWithoutPaymentIntent(t *testing.T) {
	sessions := &fakeSessions{session: &stripe.CheckoutSession{ID: "cs_1"}}
	g := newTestGateway(sessions, &fakeRefunds{}, time.Now())

	err := g.Refund(context.Background(), "cs_1", 0)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func TestSupportsCardOnly(t *testing.T) {
	g := New("", "")
	assert.True(t, g.Supports(payments.MethodCard))
	assert.False(t, g.Supports(payments.MethodPix))
	assert.False(t, g.Supports(payments.MethodBoleto))
}

func signedEvent(t *testing.T, eventType string, session map[string]any) ([]byte, string) {
	t.Helper()
	raw, err := json.Marshal(session)
	require.NoError(t, err)
	body, err := json.Marshal(map[string]any{
		"id":          "evt_1",
		"object":      "event",
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"created":     time.Now().Unix(),
		"data":        map[string]json.RawMessage{"object": raw},
	})
	require.NoError(t, err)

	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	fmt.Fprintf(mac, "%d.%s", ts, body)
	return body, fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestParseWebhook(t *testing.T) {
	g := newTestGateway(&fakeSessions{}, &fakeRefunds{}, time.Now())

	t.Run("completed and paid confirms", func(t *testing.T) {
		body, sig := signedEvent(t, "checkout.session.completed", map[string]any{
			"id": "cs_1", "object": "checkout.session", "payment_status": "paid", "amount_total": 11000,
			"metadata": map[string]string{"kind": "order", "ref": "ord-1"},
		})
		n, err := g.ParseWebhook(body, sig)
		require.NoError(t, err)
		require.NotNil(t, n)
		assert.Equal(t, payments.OutcomeConfirmed, n.Outcome)
		assert.Equal(t, payments.Reference{Kind: payments.KindOrder, ID: "ord-1"}, n.Reference)
		assert.Equal(t, "cs_1", n.PaymentID)
		assert.Equal(t, int64(11000), n.AmountCents)
	})

	t.Run("completed but unpaid is deferred", func(t *testing.T) {
		body, sig := signedEvent(t, "checkout.session.completed", map[string]any{
			"id": "cs_2", "object": "checkout.session", "payment_status": "unpaid",
			"client_reference_id": "booking:bk-1",
		})
		n, err := g.ParseWebhook(body, sig)
		require.NoError(t, err)
		assert.Nil(t, n)
	})

	t.Run("expired fails with client reference fallback", func(t *testing.T) {
		body, sig := signedEvent(t, "checkout.session.expired", map[string]any{
			"id": "cs_3", "object": "checkout.session", "client_reference_id": "booking:bk-1",
		})
		n, err := g.ParseWebhook(body, sig)
		require.NoError(t, err)
		require.NotNil(t, n)
		assert.Equal(t, payments.OutcomeFailed, n.Outcome)
		assert.Equal(t, payments.KindBooking, n.Reference.Kind)
	})

	t.Run("unrelated events are ignored", func(t *testing.T) {
		body, sig := signedEvent(t, "customer.created", map[string]any{"id": "cus_1", "object": "customer"})
		n, err := g.ParseWebhook(body, sig)
		require.NoError(t, err)
		assert.Nil(t, n)
	})

	t.Run("bad signature is unauthorized", func(t *testing.T) {
		body, _ := signedEvent(t, "checkout.session.completed", map[string]any{"id": "cs_1"})
		_, err := g.ParseWebhook(body, "t=1,v1=deadbeef")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}
