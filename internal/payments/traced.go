package payments

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ticketeer/internal/platform/metrics"
)

// Traced wraps a Gateway with spans and latency metrics.
type Traced struct {
	Gateway
	tracer  trace.Tracer
	metrics *metrics.Metrics
}

func NewTraced(g Gateway, m *metrics.Metrics) *Traced {
	return &Traced{Gateway: g, tracer: otel.Tracer("ticketeer/payments"), metrics: m}
}

func (t *Traced) CreatePayment(ctx context.Context, req PaymentRequest) (*Session, error) {
	ctx, span := t.tracer.Start(ctx, "payments.CreatePayment", trace.WithAttributes(
		attribute.String("payment.provider", string(t.Provider())),
		attribute.String("payment.method", string(req.Method)),
		attribute.String("payment.reference", req.Reference.String()),
		attribute.Int64("payment.amount_cents", req.AmountCents),
	))
	defer span.End()

	start := time.Now()
	s, err := t.Gateway.CreatePayment(ctx, req)
	t.metrics.ObserveGatewayCall(string(t.Provider()), "create_payment", start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create payment failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("payment.id", s.PaymentID))
	return s, nil
}

func (t *Traced) Refund(ctx context.Context, paymentID string, amountCents int64) error {
	ctx, span := t.tracer.Start(ctx, "payments.Refund", trace.WithAttributes(
		attribute.String("payment.provider", string(t.Provider())),
		attribute.String("payment.id", paymentID),
		attribute.Int64("payment.amount_cents", amountCents),
	))
	defer span.End()

	start := time.Now()
	err := t.Gateway.Refund(ctx, paymentID, amountCents)
	t.metrics.ObserveGatewayCall(string(t.Provider()), "refund", start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refund failed")
	}
	return err
}
