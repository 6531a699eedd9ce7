package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"ticketeer/internal/audit"
	checkoutmodels "ticketeer/internal/checkout/models"
	eventmodels "ticketeer/internal/events/models"
	eventservice "ticketeer/internal/events/service"
	eventstore "ticketeer/internal/events/store"
	"ticketeer/internal/platform/metrics"
	"ticketeer/internal/qrcode"
	"ticketeer/internal/tickets/models"
	"ticketeer/internal/tickets/store"
	id "ticketeer/pkg/domain"
	dErrors "ticketeer/pkg/domain-errors"
	"ticketeer/pkg/requestcontext"
)

type recordingFeed struct {
	mu   sync.Mutex
	msgs []models.FeedMessage
}

func (f *recordingFeed) Publish(_ context.Context, msg models.FeedMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *recordingFeed) Subscribe(context.Context, id.EventID) (<-chan models.FeedMessage, error) {
	return make(chan models.FeedMessage), nil
}

type TicketsSuite struct {
	suite.Suite
	store   *store.InMemory
	events  *eventservice.Service
	catalog *eventstore.InMemory
	feed    *recordingFeed
	audit   *audit.InMemoryStore
	svc     *Service

	now       time.Time
	organizer requestcontext.Actor
	staff     requestcontext.Actor
	buyer     requestcontext.Actor
	stranger  requestcontext.Actor
	event     *eventmodels.Event
	general   *eventmodels.TicketType
}

func TestTicketsSuite(t *testing.T) {
	suite.Run(t, new(TicketsSuite))
}

func (s *TicketsSuite) SetupTest() {
	s.now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	s.organizer = requestcontext.Actor{UserID: id.NewUserID(), Role: id.RoleOrganizer}
	s.staff = requestcontext.Actor{UserID: id.NewUserID(), Role: id.RoleStaff}
	s.buyer = requestcontext.Actor{UserID: id.NewUserID(), Role: id.RoleAttendee}
	s.stranger = requestcontext.Actor{UserID: id.NewUserID(), Role: id.RoleOrganizer}

	s.store = store.NewInMemory()
	s.catalog = eventstore.NewInMemory()
	s.events = eventservice.New(s.catalog)
	s.feed = &recordingFeed{}
	s.audit = audit.NewInMemoryStore()
	s.svc = New(s.store, s.catalog,
		WithFeed(s.feed),
		WithQRCode(qrcode.New("https://qr.example.test/", 200)),
		WithAudit(audit.NewPublisher(s.audit)),
		WithMetrics(metrics.New(prometheus.NewRegistry())),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	ctx := s.as(s.organizer)
	e, err := s.events.CreateEvent(ctx, eventmodels.Details{
		Title:    "Forró Night",
		StartsAt: s.now.Add(48 * time.Hour),
		EndsAt:   s.now.Add(54 * time.Hour),
		Currency: "BRL",
	})
	s.Require().NoError(err)
	s.general, err = s.events.CreateTicketType(ctx, e.ID, eventmodels.TicketTypeDetails{Name: "General", PriceCents: 3000, TotalQuantity: 50})
	s.Require().NoError(err)
	s.event, err = s.events.PublishEvent(ctx, e.ID)
	s.Require().NoError(err)
}

func (s *TicketsSuite) as(a requestcontext.Actor) context.Context {
	return requestcontext.WithTime(requestcontext.WithActor(context.Background(), a), s.now)
}

func (s *TicketsSuite) order(qty int) *checkoutmodels.Order {
	return &checkoutmodels.Order{
		ID:      id.NewOrderID(),
		EventID: s.event.ID,
		BuyerID: s.buyer.UserID,
		Buyer:   checkoutmodels.Buyer{Name: "Caio", Email: "caio@example.com"},
		Items: []checkoutmodels.Item{
			{TicketTypeID: s.general.ID, Name: s.general.Name, UnitPriceCents: 3000, Quantity: qty},
		},
		Status: checkoutmodels.StatusPaid,
	}
}

func (s *TicketsSuite) issue(qty int) []checkoutmodels.IssuedTicket {
	issued, err := s.svc.IssueForOrder(s.as(s.buyer), s.order(qty))
	s.Require().NoError(err)
	return issued
}

func (s *TicketsSuite) TestIssueForOrderIsIdempotent() {
	o := s.order(3)
	first, err := s.svc.IssueForOrder(s.as(s.buyer), o)
	s.Require().NoError(err)
	s.Len(first, 3)
	for _, t := range first {
		s.Len(t.Code, 32)
		s.Contains(t.QRCodeURL, "https://qr.example.test/?")
		s.Equal("General", t.TicketTypeName)
		s.Equal("Caio", t.HolderName)
	}

	again, err := s.svc.IssueForOrder(s.as(s.buyer), o)
	s.Require().NoError(err)
	s.Equal(first, again)

	mine, err := s.svc.ListMine(s.as(s.buyer))
	s.Require().NoError(err)
	s.Len(mine, 3)
}

func (s *TicketsSuite) TestCheckInOnce() {
	code := s.issue(1)[0].Code

	t, err := s.svc.CheckIn(s.as(s.staff), s.event.ID, code, models.MethodQR)
	s.Require().NoError(err)
	s.Equal(models.StatusUsed, t.Status)
	s.Equal(s.staff.UserID, *t.CheckedInBy)

	_, err = s.svc.CheckIn(s.as(s.staff), s.event.ID, code, models.MethodQR)
	s.Require().Error(err)
	s.Equal(dErrors.CodeConflict, dErrors.CodeOf(err))
	s.Contains(err.Error(), s.now.Format(time.RFC3339))

	s.Require().Len(s.feed.msgs, 1)
	s.Equal(models.FeedCheckedIn, s.feed.msgs[0].Kind)
	s.Equal(1, s.feed.msgs[0].CheckedIn)
	s.Equal(1, s.feed.msgs[0].Issued)

	events, err := s.audit.List(context.Background(), audit.Filter{Action: audit.ActionTicketCheckedIn})
	s.Require().NoError(err)
	s.Len(events, 1)
}

func (s *TicketsSuite) TestCheckInAcceptsTypedCodes() {
	code := s.issue(1)[0].Code
	typed := code[:4] + "-" + code[4:8] + " " + code[8:]
	_, err := s.svc.CheckIn(s.as(s.organizer), s.event.ID, typed, models.MethodManual)
	s.Require().NoError(err)
}

func (s *TicketsSuite) TestCheckInRejections() {
	code := s.issue(1)[0].Code

	other, err := s.events.CreateEvent(s.as(s.organizer), eventmodels.Details{
		Title: "Other", StartsAt: s.now.Add(time.Hour), EndsAt: s.now.Add(2 * time.Hour), Currency: "BRL",
	})
	s.Require().NoError(err)

	cases := []struct {
		name    string
		actor   requestcontext.Actor
		eventID id.EventID
		code    string
		want    dErrors.Code
	}{
		{"attendee cannot scan", s.buyer, s.event.ID, code, dErrors.CodeForbidden},
		{"foreign organizer cannot scan", s.stranger, s.event.ID, code, dErrors.CodeForbidden},
		{"ticket of another event", s.organizer, other.ID, code, dErrors.CodeNotFound},
		{"unknown code", s.staff, s.event.ID, "AAAA", dErrors.CodeNotFound},
		{"empty code", s.staff, s.event.ID, "  ", dErrors.CodeValidation},
		{"unknown event", s.staff, id.NewEventID(), code, dErrors.CodeNotFound},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			_, err := s.svc.CheckIn(s.as(tc.actor), tc.eventID, tc.code, models.MethodQR)
			s.Require().Error(err)
			s.Equal(tc.want, dErrors.CodeOf(err))
		})
	}
}

func (s *TicketsSuite) TestVoidedTicketsCannotEnter() {
	o := s.order(2)
	issued, err := s.svc.IssueForOrder(s.as(s.buyer), o)
	s.Require().NoError(err)

	s.Require().NoError(s.svc.VoidForOrder(s.as(s.organizer), o.ID))
	_, err = s.svc.CheckIn(s.as(s.staff), s.event.ID, issued[0].Code, models.MethodQR)
	s.Equal(dErrors.CodeInvalidState, dErrors.CodeOf(err))

	c, err := s.svc.Counts(context.Background(), s.event.ID)
	s.Require().NoError(err)
	s.Equal(models.Counts{Issued: 2, Void: 2}, c)
}

func (s *TicketsSuite) TestCancelledEventRejectsCheckIn() {
	code := s.issue(1)[0].Code
	_, err := s.events.CancelEvent(s.as(s.organizer), s.event.ID)
	s.Require().NoError(err)

	_, err = s.svc.CheckIn(s.as(s.staff), s.event.ID, code, models.MethodQR)
	s.Equal(dErrors.CodeInvalidState, dErrors.CodeOf(err))
}

func (s *TicketsSuite) TestUndoCheckIn() {
	code := s.issue(1)[0].Code
	t, err := s.svc.CheckIn(s.as(s.staff), s.event.ID, code, models.MethodQR)
	s.Require().NoError(err)

	_, err = s.svc.UndoCheckIn(s.as(s.staff), t.ID)
	s.Equal(dErrors.CodeForbidden, dErrors.CodeOf(err), "door staff cannot undo")

	t, err = s.svc.UndoCheckIn(s.as(s.organizer), t.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusValid, t.Status)

	_, err = s.svc.UndoCheckIn(s.as(s.organizer), t.ID)
	s.Equal(dErrors.CodeInvalidState, dErrors.CodeOf(err))

	_, err = s.svc.CheckIn(s.as(s.staff), s.event.ID, code, models.MethodQR)
	s.NoError(err, "an undone ticket can be admitted again")
}

func (s *TicketsSuite) TestLookupAndListByEvent() {
	code := s.issue(2)[0].Code

	t, err := s.svc.Lookup(s.as(s.staff), s.event.ID, code)
	s.Require().NoError(err)
	s.Equal(models.StatusValid, t.Status)
	s.NotEmpty(t.QRCodeURL)

	all, err := s.svc.ListByEvent(s.as(s.organizer), s.event.ID, models.Filter{})
	s.Require().NoError(err)
	s.Len(all, 2)

	_, err = s.svc.CheckIn(s.as(s.staff), s.event.ID, code, models.MethodQR)
	s.Require().NoError(err)
	used, err := s.svc.ListByEvent(s.as(s.organizer), s.event.ID, models.Filter{Status: models.StatusUsed})
	s.Require().NoError(err)
	s.Len(used, 1)

	_, err = s.svc.ListByEvent(s.as(s.staff), s.event.ID, models.Filter{})
	s.Equal(dErrors.CodeForbidden, dErrors.CodeOf(err))
}
