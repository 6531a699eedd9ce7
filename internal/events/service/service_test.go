package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"ticketeer/internal/audit"
	"ticketeer/internal/events/models"
	"ticketeer/internal/events/store"
	"ticketeer/internal/platform/broker"
	id "ticketeer/pkg/domain"
	dErrors "ticketeer/pkg/domain-errors"
	"ticketeer/pkg/requestcontext"
)

type ServiceSuite struct {
	suite.Suite
	store     *store.InMemory
	audit     *audit.InMemoryStore
	broker    *recordingPublisher
	svc       *Service
	now       time.Time
	organizer requestcontext.Actor
}

type recordingPublisher struct {
	envelopes []broker.Envelope
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, env broker.Envelope) error {
	p.envelopes = append(p.envelopes, env)
	return nil
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.store = store.NewInMemory()
	s.audit = audit.NewInMemoryStore()
	s.broker = &recordingPublisher{}
	s.svc = New(s.store, WithAudit(audit.NewPublisher(s.audit)), WithPublisher(s.broker))
	s.now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	s.organizer = requestcontext.Actor{UserID: id.NewUserID(), Role: id.RoleOrganizer}
}

func (s *ServiceSuite) as(a requestcontext.Actor) context.Context {
	return requestcontext.WithTime(requestcontext.WithActor(context.Background(), a), s.now)
}

func (s *ServiceSuite) details() models.Details {
	return models.Details{
		Title:    "Rust & Go Meetup",
		StartsAt: s.now.Add(7 * 24 * time.Hour),
		EndsAt:   s.now.Add(7*24*time.Hour + 3*time.Hour),
		Capacity: 100,
		Currency: "brl",
	}
}

func (s *ServiceSuite) draft() *models.Event {
	e, err := s.svc.CreateEvent(s.as(s.organizer), s.details())
	s.Require().NoError(err)
	return e
}

func (s *ServiceSuite) TestCreateEvent() {
	s.Run("organizer creates a draft", func() {
		e := s.draft()
		s.Equal(models.StatusDraft, e.Status)
		s.Equal(id.CurrencyBRL, e.Currency)
		s.Equal(s.organizer.UserID, e.OrganizerID)
	})

	s.Run("attendees cannot create events", func() {
		_, err := s.svc.CreateEvent(s.as(requestcontext.Actor{UserID: id.NewUserID(), Role: id.RoleAttendee}), s.details())
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
}

func (s *ServiceSuite) TestVisibility() {
	e := s.draft()
	stranger := requestcontext.Actor{UserID: id.NewUserID(), Role: id.RoleAttendee}

	_, err := s.svc.GetEvent(s.as(stranger), e.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound), "drafts are hidden")

	got, err := s.svc.GetEvent(s.as(requestcontext.Actor{Role: id.RoleAdmin}), e.ID)
	s.Require().NoError(err)
	s.Equal(e.ID, got.ID)

	_, err = s.svc.UpdateEvent(s.as(stranger), e.ID, s.details())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestPublishLifecycle() {
	e := s.draft()
	ctx := s.as(s.organizer)

	_, err := s.svc.PublishEvent(ctx, e.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState), "needs a ticket type")

	tt, err := s.svc.CreateTicketType(ctx, e.ID, models.TicketTypeDetails{Name: "Regular", PriceCents: 2500, TotalQuantity: 50})
	s.Require().NoError(err)

	published, err := s.svc.PublishEvent(ctx, e.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusPublished, published.Status)

	list, err := s.svc.ListPublished(s.as(requestcontext.Actor{}), models.ListFilter{Query: "meetup"})
	s.Require().NoError(err)
	s.Len(list, 1)

	bySlug, err := s.svc.GetEventBySlug(s.as(requestcontext.Actor{}), e.Slug)
	s.Require().NoError(err)
	s.Equal(e.ID, bySlug.ID)

	s.Require().NoError(s.store.Reserve(ctx, tt.ID, 1))
	_, err = s.svc.UnpublishEvent(ctx, e.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	cancelled, err := s.svc.CancelEvent(ctx, e.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusCancelled, cancelled.Status)
	s.Require().Len(s.broker.envelopes, 1)
	s.Equal(broker.TypeEventCancelled, s.broker.envelopes[0].Type)

	events, err := s.audit.List(ctx, audit.Filter{Subject: e.ID.String()})
	s.Require().NoError(err)
	s.Len(events, 2)

	_, err = s.svc.UpdateEvent(ctx, e.ID, s.details())
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func (s *ServiceSuite) TestTicketTypeCapacity() {
	e := s.draft()
	ctx := s.as(s.organizer)

	a, err := s.svc.CreateTicketType(ctx, e.ID, models.TicketTypeDetails{Name: "A", TotalQuantity: 60})
	s.Require().NoError(err)
	_, err = s.svc.CreateTicketType(ctx, e.ID, models.TicketTypeDetails{Name: "B", TotalQuantity: 41})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation), "61+41 > 100")

	_, err = s.svc.UpdateTicketType(ctx, a.ID, models.TicketTypeDetails{Name: "A", TotalQuantity: 100})
	s.Require().NoError(err, "a type does not count against itself")

	d := s.details()
	d.Capacity = 80
	_, err = s.svc.UpdateEvent(ctx, e.ID, d)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ServiceSuite) TestTicketTypeLifecycle() {
	e := s.draft()
	ctx := s.as(s.organizer)
	tt, err := s.svc.CreateTicketType(ctx, e.ID, models.TicketTypeDetails{Name: "VIP", PriceCents: 10000, TotalQuantity: 5})
	s.Require().NoError(err)
	s.Require().NoError(s.store.Reserve(ctx, tt.ID, 3))

	_, err = s.svc.UpdateTicketType(ctx, tt.ID, models.TicketTypeDetails{Name: "VIP", TotalQuantity: 2})
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	s.True(dErrors.HasCode(s.svc.DeleteTicketType(ctx, tt.ID), dErrors.CodeConflict))

	off, err := s.svc.DeactivateTicketType(ctx, tt.ID)
	s.Require().NoError(err)
	s.False(off.Active)

	_, err = s.svc.PublishEvent(ctx, e.ID)
	s.Require().Error(err, "no active ticket type left")

	free, err := s.svc.CreateTicketType(ctx, e.ID, models.TicketTypeDetails{Name: "Free", TotalQuantity: 5})
	s.Require().NoError(err)
	_, err = s.svc.PublishEvent(ctx, e.ID)
	s.Require().NoError(err)

	public, err := s.svc.ListTicketTypes(s.as(requestcontext.Actor{}), e.ID)
	s.Require().NoError(err)
	s.Require().Len(public, 1)
	s.Equal(free.ID, public[0].ID)
	s.True(public[0].OnSale)
	s.Equal(5, public[0].Available)

	managed, err := s.svc.ListTicketTypes(ctx, e.ID)
	s.Require().NoError(err)
	s.Len(managed, 2)

	s.Require().NoError(s.svc.DeleteTicketType(ctx, free.ID))
}
