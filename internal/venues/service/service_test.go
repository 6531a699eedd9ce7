package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"ticketeer/internal/audit"
	"ticketeer/internal/payments"
	"ticketeer/internal/platform/broker"
	"ticketeer/internal/platform/metrics"
	"ticketeer/internal/venues/models"
	"ticketeer/internal/venues/store"
	id "ticketeer/pkg/domain"
	dErrors "ticketeer/pkg/domain-errors"
	"ticketeer/pkg/requestcontext"
)

type recordingPublisher struct {
	envelopes []broker.Envelope
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, env broker.Envelope) error {
	p.envelopes = append(p.envelopes, env)
	return nil
}

type VenuesSuite struct {
	suite.Suite
	store      *store.InMemory
	stripe     *payments.FakeGateway
	dispatcher *payments.Dispatcher
	publisher  *recordingPublisher
	audit      *audit.InMemoryStore
	svc        *Service

	now      time.Time
	admin    requestcontext.Actor
	customer requestcontext.Actor
	space    *models.Space
}

func TestVenuesSuite(t *testing.T) {
	suite.Run(t, new(VenuesSuite))
}

func (s *VenuesSuite) SetupTest() {
	s.now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	s.admin = requestcontext.Actor{UserID: id.NewUserID(), Role: id.RoleAdmin, Email: "admin@example.com"}
	s.customer = requestcontext.Actor{UserID: id.NewUserID(), Role: id.RoleAttendee, Email: "carla.mendes@example.com"}

	s.store = store.NewInMemory()
	s.stripe = payments.NewFakeGateway(payments.ProviderStripe)
	s.publisher = &recordingPublisher{}
	s.audit = audit.NewInMemoryStore()
	s.svc = New(s.store, payments.NewRegistry(s.stripe),
		WithPublisher(s.publisher),
		WithAudit(audit.NewPublisher(s.audit)),
		WithMetrics(metrics.New(prometheus.NewRegistry())),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	s.dispatcher = payments.NewDispatcher().Register(payments.KindBooking, s.svc)

	var err error
	s.space, err = s.svc.CreateSpace(s.as(s.admin), models.SpaceInput{Name: "Auditorium", Capacity: 40, HourlyRateCents: 10000})
	s.Require().NoError(err)
}

func (s *VenuesSuite) as(a requestcontext.Actor) context.Context {
	return s.at(a, s.now)
}

func (s *VenuesSuite) at(a requestcontext.Actor, t time.Time) context.Context {
	return requestcontext.WithTime(requestcontext.WithActor(context.Background(), a), t)
}

// request books Wednesday 10:00-13:00 at the venue (UTC-3) plus offset.
func (s *VenuesSuite) request(offset time.Duration) models.BookingRequest {
	start := time.Date(2026, 6, 3, 13, 0, 0, 0, time.UTC).Add(offset)
	return models.BookingRequest{
		QuoteRequest: models.QuoteRequest{SpaceID: s.space.ID, StartsAt: start, EndsAt: start.Add(3 * time.Hour), Headcount: 25},
		Provider:     payments.ProviderStripe,
	}
}

func (s *VenuesSuite) book(req models.BookingRequest) *models.Booking {
	b, err := s.svc.CreateBooking(s.as(s.customer), req)
	s.Require().NoError(err)
	return b
}

func (s *VenuesSuite) notify(ctx context.Context, b *models.Booking, outcome payments.Outcome) error {
	return s.dispatcher.Dispatch(ctx, payments.Notification{
		Provider:    b.Provider,
		Reference:   payments.Reference{Kind: payments.KindBooking, ID: b.ID.String()},
		PaymentID:   b.ProviderPaymentID,
		Outcome:     outcome,
		AmountCents: b.TotalCents,
	})
}

func (s *VenuesSuite) reload(b *models.Booking) *models.Booking {
	got, err := s.store.FindBooking(context.Background(), b.ID)
	s.Require().NoError(err)
	return got
}

func (s *VenuesSuite) TestCreateBookingHoldsSlotAndStartsPayment() {
	b := s.book(s.request(0))

	s.Equal(models.StatusAwaitingPayment, b.Status)
	s.Equal(3, b.Quote.Hours)
	s.Equal(int64(30000), b.TotalCents)
	s.Equal("Carla Mendes", b.Customer.Name, "name derived from the email")
	s.Equal(s.now.Add(30*time.Minute), b.ExpiresAt)
	s.NotEmpty(b.PaymentURL)

	req := s.stripe.LastRequest()
	s.Equal(payments.Reference{Kind: payments.KindBooking, ID: b.ID.String()}, req.Reference)
	s.Equal(int64(30000), req.AmountCents)
	s.Equal("booking-"+b.ID.String(), req.IdempotencyKey)

	_, err := s.svc.CreateBooking(s.as(s.customer), s.request(2*time.Hour))
	s.True(dErrors.HasCode(err, dErrors.CodeConflict), "overlapping booking rejected: %v", err)

	_, err = s.svc.CreateBooking(s.as(s.customer), s.request(3*time.Hour))
	s.NoError(err, "back-to-back booking fits")
}

func (s *VenuesSuite) TestCreateBookingValidation() {
	past := s.request(-72 * time.Hour)
	_, err := s.svc.CreateBooking(s.as(s.customer), past)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = s.svc.CreateBooking(s.as(requestcontext.Actor{}), s.request(0))
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

	crowded := s.request(0)
	crowded.Headcount = 41
	_, err = s.svc.CreateBooking(s.as(s.customer), crowded)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	asaas := s.request(0)
	asaas.Provider = payments.ProviderAsaas
	_, err = s.svc.CreateBooking(s.as(s.customer), asaas)
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest), "disabled provider")
}

func (s *VenuesSuite) TestConfirmPaymentPublishesOnce() {
	b := s.book(s.request(0))

	s.Require().NoError(s.notify(s.as(s.customer), b, payments.OutcomeConfirmed))
	s.Require().NoError(s.notify(s.as(s.customer), b, payments.OutcomeConfirmed))

	got := s.reload(b)
	s.Equal(models.StatusConfirmed, got.Status)
	s.Require().Len(s.publisher.envelopes, 1)
	s.Equal(broker.TypeBookingConfirmed, s.publisher.envelopes[0].Type)
	var msg models.Confirmed
	s.Require().NoError(s.publisher.envelopes[0].Decode(&msg))
	s.Equal("carla.mendes@example.com", msg.CustomerEmail)

	s.NoError(s.notify(s.as(s.customer), b, payments.OutcomeFailed), "failure after confirmation is ignored")
	s.Equal(models.StatusConfirmed, s.reload(b).Status)
}

func (s *VenuesSuite) TestFailedPaymentReleasesSlot() {
	b := s.book(s.request(0))
	s.Require().NoError(s.notify(s.as(s.customer), b, payments.OutcomeFailed))
	s.Equal(models.StatusFailed, s.reload(b).Status)

	s.book(s.request(0))
}

func (s *VenuesSuite) TestGatewayErrorReleasesSlot() {
	s.stripe.FailNext = errors.New("stripe is down")
	_, err := s.svc.CreateBooking(s.as(s.customer), s.request(0))
	s.Error(err)

	s.book(s.request(0))
}

func (s *VenuesSuite) TestExpireAndLatePayment() {
	b := s.book(s.request(0))
	later := s.now.Add(31 * time.Minute)

	n, err := s.svc.ExpireStale(s.at(s.admin, later))
	s.Require().NoError(err)
	s.Equal(1, n)
	s.Equal(models.StatusExpired, s.reload(b).Status)

	s.Require().NoError(s.notify(s.at(s.customer, later), b, payments.OutcomeConfirmed))
	s.Equal(models.StatusConfirmed, s.reload(b).Status, "free slot revives the booking")
	s.Zero(s.stripe.RefundedAmount(b.ProviderPaymentID))
}

func (s *VenuesSuite) TestLatePaymentForTakenSlotIsRefunded() {
	b := s.book(s.request(0))
	later := s.now.Add(31 * time.Minute)
	_, err := s.svc.ExpireStale(s.at(s.admin, later))
	s.Require().NoError(err)

	other := requestcontext.Actor{UserID: id.NewUserID(), Role: id.RoleAttendee, Email: "other@example.com"}
	_, err = s.svc.CreateBooking(s.at(other, later), s.request(time.Hour))
	s.Require().NoError(err)

	s.Require().NoError(s.notify(s.at(s.customer, later), b, payments.OutcomeConfirmed))
	got := s.reload(b)
	s.Equal(models.StatusExpired, got.Status)
	s.Contains(got.FailureReason, "booked by someone else")
	s.Equal(b.TotalCents, s.stripe.RefundedAmount(b.ProviderPaymentID))
}

func (s *VenuesSuite) TestCancel() {
	b := s.book(s.request(0))
	s.Require().NoError(s.notify(s.as(s.customer), b, payments.OutcomeConfirmed))

	stranger := requestcontext.Actor{UserID: id.NewUserID(), Role: id.RoleOrganizer}
	_, err := s.svc.Cancel(s.as(stranger), b.ID, "")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	cancelled, err := s.svc.Cancel(s.as(s.customer), b.ID, "plans changed")
	s.Require().NoError(err)
	s.Equal(models.StatusCancelled, cancelled.Status)
	s.Equal(b.TotalCents, s.stripe.RefundedAmount(b.ProviderPaymentID))

	events, err := s.audit.List(context.Background(), audit.Filter{Action: audit.ActionBookingCancelled})
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal("plans changed", events[0].Detail)

	_, err = s.svc.Cancel(s.as(s.customer), b.ID, "")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func (s *VenuesSuite) TestFreeSpaceConfirmsImmediately() {
	free, err := s.svc.CreateSpace(s.as(s.admin), models.SpaceInput{Name: "Garden", Capacity: 100})
	s.Require().NoError(err)
	req := s.request(0)
	req.SpaceID = free.ID

	b := s.book(req)
	s.Equal(models.StatusConfirmed, b.Status)
	s.Equal(payments.ProviderNone, b.Provider)
	s.Empty(s.stripe.Requests)
}

func (s *VenuesSuite) TestCalendar() {
	b := s.book(s.request(0))
	s.book(s.request(24 * time.Hour))

	slots, err := s.svc.ListBySpace(s.as(requestcontext.Actor{}), s.space.ID, s.now, s.now.Add(60*time.Hour))
	s.Require().NoError(err)
	s.Require().Len(slots, 1)
	s.Equal(b.StartsAt, slots[0].StartsAt)

	slots, err = s.svc.ListBySpace(s.as(requestcontext.Actor{}), s.space.ID, time.Time{}, time.Time{})
	s.Require().NoError(err)
	s.Len(slots, 2)

	_, err = s.svc.ListBySpace(s.as(requestcontext.Actor{}), s.space.ID, s.now, s.now.Add(200*24*time.Hour))
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *VenuesSuite) TestSpacesAreAdminManaged() {
	_, err := s.svc.CreateSpace(s.as(s.customer), models.SpaceInput{Name: "Rooftop", Capacity: 10})
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	inactive := false
	_, err = s.svc.UpdateSpace(s.as(s.admin), s.space.ID, models.SpaceInput{Name: "Auditorium", Capacity: 40, HourlyRateCents: 10000, Active: &inactive})
	s.Require().NoError(err)

	public, err := s.svc.ListSpaces(s.as(s.customer))
	s.Require().NoError(err)
	s.Empty(public)
	all, err := s.svc.ListSpaces(s.as(s.admin))
	s.Require().NoError(err)
	s.Len(all, 1)

	_, err = s.svc.Quote(s.as(s.customer), s.request(0).QuoteRequest)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound), "inactive spaces cannot be quoted")
}
