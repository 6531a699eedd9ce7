package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketeer/internal/platform/metrics"
	dErrors "ticketeer/pkg/domain-errors"
)

type cardOnly struct{ *FakeGateway }

func (cardOnly) Supports(m Method) bool { return m == MethodCard }

func TestRegistry(t *testing.T) {
	r := NewRegistry(cardOnly{NewFakeGateway(ProviderStripe)}, nil)

	g, err := r.Gateway(ProviderStripe, MethodCard)
	require.NoError(t, err)
	assert.Equal(t, ProviderStripe, g.Provider())

	_, err = r.Gateway(ProviderStripe, MethodPix)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))

	_, err = r.Gateway(ProviderAsaas, MethodPix)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest), "disabled provider")

	assert.Equal(t, []Provider{ProviderStripe}, r.Enabled())
}

func TestParseReference(t *testing.T) {
	ref, err := ParseReference("booking:8b1c")
	require.NoError(t, err)
	assert.Equal(t, Reference{Kind: KindBooking, ID: "8b1c"}, ref)
	assert.Equal(t, "booking:8b1c", ref.String())

	for _, bad := range []string{"", "order", "order:", "refund:1"} {
		_, err := ParseReference(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseMethodDefaultsToCard(t *testing.T) {
	m, err := ParseMethod("")
	require.NoError(t, err)
	assert.Equal(t, MethodCard, m)

	m, err = ParseMethod(" PIX ")
	require.NoError(t, err)
	assert.Equal(t, MethodPix, m)

	_, err = ParseMethod("cash")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

type recordingSettler struct {
	confirmed []Notification
	failed    []Notification
}

func (s *recordingSettler) ConfirmPayment(_ context.Context, n Notification) error {
	s.confirmed = append(s.confirmed, n)
	return nil
}

func (s *recordingSettler) FailPayment(_ context.Context, n Notification) error {
	s.failed = append(s.failed, n)
	return nil
}

func TestDispatcherRoutesByKind(t *testing.T) {
	orders, bookings := &recordingSettler{}, &recordingSettler{}
	d := NewDispatcher().Register(KindOrder, orders).Register(KindBooking, bookings)

	ctx := context.Background()
	require.NoError(t, d.Dispatch(ctx, Notification{Reference: Reference{Kind: KindOrder, ID: "o1"}, Outcome: OutcomeConfirmed}))
	require.NoError(t, d.Dispatch(ctx, Notification{Reference: Reference{Kind: KindBooking, ID: "b1"}, Outcome: OutcomeFailed}))

	assert.Len(t, orders.confirmed, 1)
	assert.Empty(t, orders.failed)
	assert.Len(t, bookings.failed, 1)

	err := NewDispatcher().Dispatch(ctx, Notification{Reference: Reference{Kind: KindOrder}, Outcome: OutcomeConfirmed})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
}

func TestTracedRecordsGatewayCalls(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	fake := NewFakeGateway(ProviderAsaas)
	g := NewTraced(fake, m)

	_, err := g.CreatePayment(context.Background(), PaymentRequest{Method: MethodPix, AmountCents: 100})
	require.NoError(t, err)

	fake.FailNext = errors.New("boom")
	require.Error(t, g.Refund(context.Background(), "asaas_pay_1", 100))

	assert.Equal(t, 2, testutil.CollectAndCount(m.GatewayCalls))
}
