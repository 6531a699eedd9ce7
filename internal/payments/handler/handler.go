package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ticketeer/internal/payments"
	"ticketeer/internal/platform/metrics"
	dErrors "ticketeer/pkg/domain-errors"
	"ticketeer/pkg/platform/httputil"
	"ticketeer/pkg/requestcontext"
)

const maxWebhookBody = 256 << 10

// WebhookParser authenticates a gateway callback. credential is the
// signature or token header the gateway sent.
type WebhookParser interface {
	ParseWebhook(body []byte, credential string) (*payments.Notification, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, n payments.Notification) error
}

type Handler struct {
	stripe     WebhookParser
	asaas      WebhookParser
	dispatcher Dispatcher
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

type Option func(*Handler)

func WithStripe(p WebhookParser) Option { return func(h *Handler) { h.stripe = p } }
func WithAsaas(p WebhookParser) Option  { return func(h *Handler) { h.asaas = p } }

func WithMetrics(m *metrics.Metrics) Option { return func(h *Handler) { h.metrics = m } }

func New(dispatcher Dispatcher, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{dispatcher: dispatcher, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the gateway callbacks. They authenticate themselves and
// must stay outside RequireAuth.
func (h *Handler) Register(r chi.Router) {
	r.Post("/webhooks/stripe", h.webhook(payments.ProviderStripe, func() WebhookParser { return h.stripe }, "Stripe-Signature"))
	r.Post("/webhooks/asaas", h.webhook(payments.ProviderAsaas, func() WebhookParser { return h.asaas }, "asaas-access-token"))
}

func (h *Handler) webhook(provider payments.Provider, parser func() WebhookParser, header string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := requestcontext.RequestID(ctx)
		p := parser()
		if p == nil {
			h.count(provider, "disabled")
			httputil.WriteError(w, dErrors.Newf(dErrors.CodeNotFound, "%s webhooks are not enabled", provider))
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			h.count(provider, "rejected")
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "webhook body too large or unreadable"))
			return
		}

		n, err := p.ParseWebhook(body, r.Header.Get(header))
		if err != nil {
			h.count(provider, "rejected")
			httputil.Fail(ctx, w, h.logger, "webhook rejected", err, requestID)
			return
		}
		if n == nil {
			h.count(provider, "ignored")
			w.WriteHeader(http.StatusOK)
			return
		}

		if err := h.dispatcher.Dispatch(ctx, *n); err != nil {
			// Retrying will not fix a payment the aggregate already moved past.
			switch dErrors.CodeOf(err) {
			case dErrors.CodeNotFound, dErrors.CodeInvalidState, dErrors.CodeBadRequest:
				h.count(provider, "unmatched")
				h.logger.WarnContext(ctx, "webhook could not be applied",
					"request_id", requestID,
					"provider", provider,
					"reference", n.Reference.String(),
					"payment_id", n.PaymentID,
					"error", err,
				)
				w.WriteHeader(http.StatusOK)
				return
			}
			h.count(provider, "error")
			httputil.Fail(ctx, w, h.logger, "failed to apply webhook", err, requestID)
			return
		}

		h.count(provider, string(n.Outcome))
		h.logger.InfoContext(ctx, "payment webhook applied",
			"request_id", requestID,
			"provider", provider,
			"reference", n.Reference.String(),
			"outcome", n.Outcome,
		)
		w.WriteHeader(http.StatusOK)
	}
}

func (h *Handler) count(p payments.Provider, outcome string) {
	if h.metrics == nil {
		return
	}
	h.metrics.WebhooksReceived.WithLabelValues(string(p), outcome).Inc()
}
