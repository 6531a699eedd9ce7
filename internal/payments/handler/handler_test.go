package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"ticketeer/internal/payments"
	"ticketeer/internal/platform/metrics"
	dErrors "ticketeer/pkg/domain-errors"
)

type stubParser struct {
	credential string
	n          *payments.Notification
	err        error
}

func (p *stubParser) ParseWebhook(_ []byte, credential string) (*payments.Notification, error) {
	p.credential = credential
	return p.n, p.err
}

type stubDispatcher struct {
	got []payments.Notification
	err error
}

func (d *stubDispatcher) Dispatch(_ context.Context, n payments.Notification) error {
	d.got = append(d.got, n)
	return d.err
}

func setup(stripe, asaas WebhookParser, d *stubDispatcher) (*chi.Mux, *metrics.Metrics) {
	m := metrics.New(prometheus.NewRegistry())
	opts := []Option{WithMetrics(m)}
	if stripe != nil {
		opts = append(opts, WithStripe(stripe))
	}
	if asaas != nil {
		opts = append(opts, WithAsaas(asaas))
	}
	h := New(d, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
	r := chi.NewRouter()
	h.Register(r)
	return r, m
}

func post(r http.Handler, path, header, value string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`))
	req.Header.Set(header, value)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

var confirmed = &payments.Notification{
	Provider:  payments.ProviderStripe,
	Reference: payments.Reference{Kind: payments.KindOrder, ID: "o1"},
	PaymentID: "cs_1",
	Outcome:   payments.OutcomeConfirmed,
}

func TestStripeWebhookDispatches(t *testing.T) {
	parser := &stubParser{n: confirmed}
	d := &stubDispatcher{}
	r, m := setup(parser, nil, d)

	rec := post(r, "/webhooks/stripe", "Stripe-Signature", "t=1,v1=abc")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "t=1,v1=abc", parser.credential)
	assert.Len(t, d.got, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhooksReceived.WithLabelValues("stripe", "confirmed")))
}

func TestAsaasWebhookRejectsBadToken(t *testing.T) {
	parser := &stubParser{err: dErrors.New(dErrors.CodeUnauthorized, "invalid asaas webhook token")}
	d := &stubDispatcher{}
	r, _ := setup(nil, parser, d)

	rec := post(r, "/webhooks/asaas", "asaas-access-token", "wrong")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "wrong", parser.credential)
	assert.Empty(t, d.got)
}

func TestIgnoredEventIsAcknowledged(t *testing.T) {
	d := &stubDispatcher{}
	r, _ := setup(&stubParser{}, nil, d)

	rec := post(r, "/webhooks/stripe", "Stripe-Signature", "sig")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, d.got)
}

func TestDisabledProviderIsNotFound(t *testing.T) {
	r, _ := setup(nil, nil, &stubDispatcher{})
	rec := post(r, "/webhooks/asaas", "asaas-access-token", "x")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSettlementErrors(t *testing.T) {
	t.Run("stale state is acknowledged", func(t *testing.T) {
		d := &stubDispatcher{err: dErrors.New(dErrors.CodeInvalidState, "order already cancelled")}
		r, m := setup(&stubParser{n: confirmed}, nil, d)
		rec := post(r, "/webhooks/stripe", "Stripe-Signature", "sig")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhooksReceived.WithLabelValues("stripe", "unmatched")))
	})

	t.Run("internal failure asks for a retry", func(t *testing.T) {
		d := &stubDispatcher{err: dErrors.New(dErrors.CodeInternal, "db down")}
		r, _ := setup(&stubParser{n: confirmed}, nil, d)
		rec := post(r, "/webhooks/stripe", "Stripe-Signature", "sig")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
