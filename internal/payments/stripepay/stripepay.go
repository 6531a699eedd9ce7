// Package stripepay implements card payments through Stripe Checkout.
package stripepay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stripe/stripe-go/v83"

	"ticketeer/internal/payments"
	dErrors "ticketeer/pkg/domain-errors"
)

// Checkout sessions must live at least 30 minutes.
const minSessionLifetime = 30 * time.Minute

type SessionAPI interface {
	Create(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error)
	Retrieve(ctx context.Context, id string, params *stripe.CheckoutSessionRetrieveParams) (*stripe.CheckoutSession, error)
}

type RefundAPI interface {
	Create(ctx context.Context, params *stripe.RefundCreateParams) (*stripe.Refund, error)
}

type Gateway struct {
	sessions      SessionAPI
	refunds       RefundAPI
	webhookSecret string
	logger        *slog.Logger
	now           func() time.Time
}

type Option func(*Gateway)

func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// WithAPIs replaces the Stripe client services, for tests.
func WithAPIs(s SessionAPI, r RefundAPI) Option {
	return func(g *Gateway) {
		g.sessions = s
		g.refunds = r
	}
}

func New(secretKey, webhookSecret string, opts ...Option) *Gateway {
	g := &Gateway{webhookSecret: webhookSecret, logger: slog.Default(), now: time.Now}
	if secretKey != "" {
		sc := stripe.NewClient(secretKey)
		g.sessions = sc.V1CheckoutSessions
		g.refunds = sc.V1Refunds
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) Provider() payments.Provider { return payments.ProviderStripe }

func (g *Gateway) Supports(m payments.Method) bool { return m == payments.MethodCard }

func (g *Gateway) CreatePayment(ctx context.Context, req payments.PaymentRequest) (*payments.Session, error) {
	if g.sessions == nil {
		return nil, dErrors.New(dErrors.CodeUnavailable, "stripe is not configured")
	}
	params := &stripe.CheckoutSessionCreateParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
					Currency: stripe.String(req.Currency.Lower()),
					ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
					UnitAmount: stripe.Int64(req.AmountCents),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.Reference.String()),
		Metadata: map[string]string{
			"kind": string(req.Reference.Kind),
			"ref":  req.Reference.ID,
		},
	}
	if req.Customer.Email != "" {
		params.CustomerEmail = stripe.String(req.Customer.Email)
	}
	if !req.ExpiresAt.IsZero() {
		expires := req.ExpiresAt
		if earliest := g.now().Add(minSessionLifetime); expires.Before(earliest) {
			expires = earliest
		}
		params.ExpiresAt = stripe.Int64(expires.Unix())
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	s, err := g.sessions.Create(ctx, params)
	if err != nil {
		return nil, translate(err, "create checkout session")
	}
	out := &payments.Session{Provider: payments.ProviderStripe, PaymentID: s.ID, URL: s.URL}
	if s.ExpiresAt > 0 {
		out.ExpiresAt = time.Unix(s.ExpiresAt, 0).UTC()
	}
	return out, nil
}

// Refund refunds the payment intent behind a checkout session. A zero
// amount refunds in full.
func (g *Gateway) Refund(ctx context.Context, sessionID string, amountCents int64) error {
	if g.sessions == nil || g.refunds == nil {
		return dErrors.New(dErrors.CodeUnavailable, "stripe is not configured")
	}
	s, err := g.sessions.Retrieve(ctx, sessionID, &stripe.CheckoutSessionRetrieveParams{})
	if err != nil {
		return translate(err, "retrieve checkout session")
	}
	if s.PaymentIntent == nil || s.PaymentIntent.ID == "" {
		return dErrors.Newf(dErrors.CodeInvalidState, "checkout session %s has no payment to refund", sessionID)
	}
	params := &stripe.RefundCreateParams{PaymentIntent: stripe.String(s.PaymentIntent.ID)}
	if amountCents > 0 {
		params.Amount = stripe.Int64(amountCents)
	}
	params.SetIdempotencyKey("refund-" + sessionID)
	if _, err := g.refunds.Create(ctx, params); err != nil {
		return translate(err, "create refund")
	}
	return nil
}

// ParseWebhook verifies the Stripe-Signature header and reduces checkout
// events to a notification. A nil notification means the event is not one
// settlement cares about.
func (g *Gateway) ParseWebhook(body []byte, signature string) (*payments.Notification, error) {
	if g.webhookSecret == "" {
		return nil, dErrors.New(dErrors.CodeUnavailable, "stripe webhooks are not configured")
	}
	event, err := stripe.ConstructEvent(body, signature, g.webhookSecret)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid stripe signature")
	}

	var outcome payments.Outcome
	var reason string
	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		outcome = payments.OutcomeConfirmed
	case "checkout.session.async_payment_failed":
		outcome, reason = payments.OutcomeFailed, "payment failed"
	case "checkout.session.expired":
		outcome, reason = payments.OutcomeFailed, "checkout session expired"
	default:
		g.logger.Debug("ignoring stripe event", "type", event.Type, "id", event.ID)
		return nil, nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed checkout session payload")
	}
	// Delayed methods complete the session before the money arrives.
	if event.Type == "checkout.session.completed" && session.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		g.logger.Info("checkout completed awaiting async payment", "session", session.ID)
		return nil, nil
	}

	ref, err := referenceOf(&session)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "checkout session has no payment reference")
	}
	return &payments.Notification{
		Provider:    payments.ProviderStripe,
		Reference:   ref,
		PaymentID:   session.ID,
		Outcome:     outcome,
		Reason:      reason,
		AmountCents: session.AmountTotal,
	}, nil
}

func referenceOf(s *stripe.CheckoutSession) (payments.Reference, error) {
	if kind, ref := s.Metadata["kind"], s.Metadata["ref"]; kind != "" && ref != "" {
		return payments.ParseReference(kind + ":" + ref)
	}
	return payments.ParseReference(s.ClientReferenceID)
}

func translate(err error, op string) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		switch {
		case se.HTTPStatusCode == 402 || se.Type == stripe.ErrorTypeCard:
			return dErrors.Wrap(err, dErrors.CodePaymentRequired, se.Msg)
		case se.HTTPStatusCode == 400:
			return dErrors.Wrap(err, dErrors.CodeBadRequest, se.Msg)
		case se.HTTPStatusCode == 404:
			return dErrors.Wrap(err, dErrors.CodeNotFound, "stripe resource not found")
		}
	}
	return dErrors.Wrap(fmt.Errorf("stripe %s: %w", op, err), dErrors.CodeUnavailable, "payment provider unavailable")
}
