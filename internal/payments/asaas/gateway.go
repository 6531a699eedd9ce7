package asaas

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"ticketeer/internal/payments"
	id "ticketeer/pkg/domain"
	dErrors "ticketeer/pkg/domain-errors"
)

const dateLayout = "2006-01-02"

var billingTypes = map[payments.Method]string{
	payments.MethodPix:    "PIX",
	payments.MethodBoleto: "BOLETO",
	payments.MethodCard:   "CREDIT_CARD",
}

type Config struct {
	APIKey       string
	BaseURL      string
	WebhookToken string
	DueDays      int
}

type Gateway struct {
	client       *client
	webhookToken string
	dueDays      int
	logger       *slog.Logger
	now          func() time.Time
}

type Option func(*Gateway)

func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(g *Gateway) { g.client.http = hc }
}

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

func New(cfg Config, opts ...Option) *Gateway {
	g := &Gateway{
		client:       newClient(cfg.BaseURL, cfg.APIKey, nil),
		webhookToken: cfg.WebhookToken,
		dueDays:      cfg.DueDays,
		logger:       slog.Default(),
		now:          time.Now,
	}
	if g.dueDays <= 0 {
		g.dueDays = 1
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) Provider() payments.Provider { return payments.ProviderAsaas }

func (g *Gateway) Supports(m payments.Method) bool {
	_, ok := billingTypes[m]
	return ok
}

func (g *Gateway) CreatePayment(ctx context.Context, req payments.PaymentRequest) (*payments.Session, error) {
	if req.Currency != "" && req.Currency != id.CurrencyBRL {
		return nil, dErrors.Newf(dErrors.CodeBadRequest, "asaas only charges BRL, got %s", req.Currency)
	}
	if req.Method != payments.MethodCard && req.Customer.Document == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "a CPF or CNPJ is required for PIX and boleto")
	}

	cust, err := g.client.findCustomer(ctx, req.Customer.Email)
	if err != nil {
		return nil, translate(err)
	}
	if cust == nil {
		cust, err = g.client.createCustomer(ctx, customer{
			Name:    req.Customer.Name,
			Email:   req.Customer.Email,
			CpfCnpj: req.Customer.Document,
		})
		if err != nil {
			return nil, translate(err)
		}
	}

	due := req.DueDate
	if due.IsZero() {
		due = g.now().AddDate(0, 0, g.dueDays)
	}
	p, err := g.client.createPayment(ctx, createPayment{
		Customer:          cust.ID,
		BillingType:       billingTypes[req.Method],
		Value:             toMajor(req.AmountCents),
		DueDate:           due.Format(dateLayout),
		Description:       req.Description,
		ExternalReference: req.Reference.String(),
	})
	if err != nil {
		return nil, translate(err)
	}

	s := &payments.Session{
		Provider:  payments.ProviderAsaas,
		PaymentID: p.ID,
		URL:       p.InvoiceURL,
		ExpiresAt: req.ExpiresAt,
	}
	if req.Method == payments.MethodBoleto && p.BankSlipURL != "" {
		s.URL = p.BankSlipURL
	}
	if req.Method == payments.MethodPix {
		qr, err := g.client.pixQRCode(ctx, p.ID)
		if err != nil {
			// The invoice page still renders the QR code.
			g.logger.WarnContext(ctx, "asaas pix qr code unavailable", "payment_id", p.ID, "error", err)
		} else {
			s.PixPayload = qr.Payload
			s.PixQRCodeImage = qr.EncodedImage
		}
	}
	return s, nil
}

func (g *Gateway) Refund(ctx context.Context, paymentID string, amountCents int64) error {
	in := refundRequest{Description: "ticketeer refund"}
	if amountCents > 0 {
		in.Value = toMajor(amountCents)
	}
	if err := g.client.refund(ctx, paymentID, in); err != nil {
		return translate(err)
	}
	return nil
}

type webhookPayload struct {
	Event   string  `json:"event"`
	Payment payment `json:"payment"`
}

// ParseWebhook authenticates the asaas-access-token header and maps payment
// events to notifications. A nil notification means the event is ignored.
func (g *Gateway) ParseWebhook(body []byte, token string) (*payments.Notification, error) {
	if g.webhookToken == "" {
		return nil, dErrors.New(dErrors.CodeUnavailable, "asaas webhooks are not configured")
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(g.webhookToken)) != 1 {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid asaas webhook token")
	}

	var in webhookPayload
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed asaas webhook")
	}

	var outcome payments.Outcome
	var reason string
	switch in.Event {
	case "PAYMENT_CONFIRMED", "PAYMENT_RECEIVED":
		outcome = payments.OutcomeConfirmed
	case "PAYMENT_OVERDUE":
		outcome, reason = payments.OutcomeFailed, "payment overdue"
	case "PAYMENT_DELETED":
		outcome, reason = payments.OutcomeFailed, "payment deleted"
	default:
		g.logger.Debug("ignoring asaas event", "event", in.Event, "payment_id", in.Payment.ID)
		return nil, nil
	}

	ref, err := payments.ParseReference(in.Payment.ExternalReference)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "asaas payment has no valid external reference")
	}
	return &payments.Notification{
		Provider:    payments.ProviderAsaas,
		Reference:   ref,
		PaymentID:   in.Payment.ID,
		Outcome:     outcome,
		Reason:      reason,
		AmountCents: toCents(in.Payment.Value),
	}, nil
}

func toMajor(cents int64) float64 { return float64(cents) / 100 }

func toCents(v float64) int64 {
	if v < 0 {
		return int64(v*100 - 0.5)
	}
	return int64(v*100 + 0.5)
}

func translate(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Status == http.StatusBadRequest:
			return dErrors.Wrap(err, dErrors.CodeBadRequest, apiErr.Error())
		case apiErr.Status == http.StatusNotFound:
			return dErrors.Wrap(err, dErrors.CodeNotFound, "asaas resource not found")
		case apiErr.Status == http.StatusUnauthorized:
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "asaas rejected the API key")
		}
	}
	return dErrors.Wrap(err, dErrors.CodeUnavailable, "payment provider unavailable")
}
