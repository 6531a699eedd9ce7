// Package payments abstracts the two payment gateways behind one interface
// and routes their webhook notifications back to the module that owns the
// payment (checkout orders or venue bookings).
package payments

import (
	"context"
	"fmt"
	"strings"
	"time"

	id "ticketeer/pkg/domain"
	dErrors "ticketeer/pkg/domain-errors"
)

type Provider string

const (
	ProviderNone   Provider = "none"
	ProviderStripe Provider = "stripe"
	ProviderAsaas  Provider = "asaas"
)

func ParseProvider(s string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(s))); p {
	case ProviderStripe, ProviderAsaas:
		return p, nil
	}
	return "", dErrors.Newf(dErrors.CodeValidation, "unknown payment provider %q", s)
}

type Method string

const (
	MethodCard   Method = "card"
	MethodPix    Method = "pix"
	MethodBoleto Method = "boleto"
)

func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case MethodCard, MethodPix, MethodBoleto:
		return m, nil
	case "":
		return MethodCard, nil
	}
	return "", dErrors.Newf(dErrors.CodeValidation, "unknown payment method %q", s)
}

// Kind names the module that owns a payment.
type Kind string

const (
	KindOrder   Kind = "order"
	KindBooking Kind = "booking"
)

// Reference ties a gateway payment back to an order or booking.
type Reference struct {
	Kind Kind
	ID   string
}

func (r Reference) String() string { return string(r.Kind) + ":" + r.ID }

// ParseReference reads the "kind:id" form stored in gateway metadata.
func ParseReference(s string) (Reference, error) {
	kind, ref, ok := strings.Cut(s, ":")
	if !ok || ref == "" {
		return Reference{}, fmt.Errorf("malformed payment reference %q", s)
	}
	switch Kind(kind) {
	case KindOrder, KindBooking:
		return Reference{Kind: Kind(kind), ID: ref}, nil
	}
	return Reference{}, fmt.Errorf("unknown payment reference kind %q", kind)
}

type Customer struct {
	Name     string
	Email    string
	Document string // CPF/CNPJ, required by Asaas for PIX and boleto
}

type PaymentRequest struct {
	Reference      Reference
	Description    string
	AmountCents    int64
	Currency       id.Currency
	Method         Method
	Customer       Customer
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
	ExpiresAt      time.Time
	// DueDate applies to boleto and PIX charges; zero lets the gateway decide.
	DueDate time.Time
}

// Session is what the buyer needs to complete a payment.
type Session struct {
	Provider       Provider  `json:"provider"`
	PaymentID      string    `json:"payment_id"`
	URL            string    `json:"payment_url,omitempty"`
	PixPayload     string    `json:"pix_payload,omitempty"`
	PixQRCodeImage string    `json:"pix_qr_code_image,omitempty"`
	ExpiresAt      time.Time `json:"expires_at,omitzero"`
}

// Gateway creates and refunds payments at one provider.
type Gateway interface {
	Provider() Provider
	Supports(m Method) bool
	CreatePayment(ctx context.Context, req PaymentRequest) (*Session, error)
	Refund(ctx context.Context, paymentID string, amountCents int64) error
}

// Registry holds the enabled gateways.
type Registry struct {
	gateways map[Provider]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[Provider]Gateway)}
	for _, g := range gateways {
		if g != nil {
			r.gateways[g.Provider()] = g
		}
	}
	return r
}

// Gateway returns the gateway for p, rejecting disabled providers and
// unsupported methods with bad_request.
func (r *Registry) Gateway(p Provider, m Method) (Gateway, error) {
	g, ok := r.gateways[p]
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeBadRequest, "payment provider %q is not enabled", p)
	}
	if !g.Supports(m) {
		return nil, dErrors.Newf(dErrors.CodeBadRequest, "payment provider %q does not support %s", p, m)
	}
	return g, nil
}

// Lookup returns the gateway for refunds, regardless of method.
func (r *Registry) Lookup(p Provider) (Gateway, error) {
	g, ok := r.gateways[p]
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeUnavailable, "payment provider %q is not enabled", p)
	}
	return g, nil
}

func (r *Registry) Enabled() []Provider {
	out := make([]Provider, 0, len(r.gateways))
	for _, p := range []Provider{ProviderStripe, ProviderAsaas} {
		if _, ok := r.gateways[p]; ok {
			out = append(out, p)
		}
	}
	return out
}
