package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"ticketeer/internal/events/models"
	id "ticketeer/pkg/domain"
	"ticketeer/pkg/platform/sentinel"
)

type InMemorySuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
	event *models.Event
}

func TestInMemorySuite(t *testing.T) {
	suite.Run(t, new(InMemorySuite))
}

func (s *InMemorySuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
	now := time.Now().UTC()
	e, err := models.NewEvent(id.NewEventID(), id.NewUserID(), models.Details{
		Title: "Store test", StartsAt: now.Add(time.Hour), EndsAt: now.Add(2 * time.Hour), Currency: "USD",
	}, now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.CreateEvent(s.ctx, e))
	s.event = e
}

func (s *InMemorySuite) ticketType(total int) *models.TicketType {
	t, err := models.NewTicketType(id.NewTicketTypeID(), s.event.ID, models.TicketTypeDetails{Name: "T", TotalQuantity: total}, time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.store.CreateTicketType(s.ctx, t))
	return t
}

func (s *InMemorySuite) TestEvents() {
	s.Run("duplicate slug", func() {
		dup := *s.event
		dup.ID = id.NewEventID()
		s.ErrorIs(s.store.CreateEvent(s.ctx, &dup), sentinel.ErrAlreadyUsed)
	})

	s.Run("returns copies", func() {
		got, err := s.store.FindEvent(s.ctx, s.event.ID)
		s.Require().NoError(err)
		got.Title = "mutated"
		again, err := s.store.FindEvent(s.ctx, s.event.ID)
		s.Require().NoError(err)
		s.Equal("Store test", again.Title)
	})

	s.Run("published listing skips drafts", func() {
		list, err := s.store.ListPublished(s.ctx, models.ListFilter{})
		s.Require().NoError(err)
		s.Empty(list)
	})

	s.Run("missing ticket type event", func() {
		t, err := models.NewTicketType(id.NewTicketTypeID(), id.NewEventID(), models.TicketTypeDetails{Name: "x", TotalQuantity: 1}, time.Now())
		s.Require().NoError(err)
		s.ErrorIs(s.store.CreateTicketType(s.ctx, t), sentinel.ErrNotFound)
	})
}

func (s *InMemorySuite) TestReserveNeverOversells() {
	t := s.ticketType(10)
	var wg sync.WaitGroup
	var ok, soldOut atomic.Int32
	for range 25 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch err := s.store.Reserve(s.ctx, t.ID, 1); err {
			case nil:
				ok.Add(1)
			case sentinel.ErrSoldOut:
				soldOut.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(10), ok.Load())
	s.Equal(int32(15), soldOut.Load())

	got, err := s.store.FindTicketType(s.ctx, t.ID)
	s.Require().NoError(err)
	s.Equal(10, got.SoldQuantity)
}

func (s *InMemorySuite) TestReleaseFloorsAtZero() {
	t := s.ticketType(3)
	s.Require().NoError(s.store.Reserve(s.ctx, t.ID, 2))
	s.Require().NoError(s.store.Release(s.ctx, t.ID, 5))
	got, err := s.store.FindTicketType(s.ctx, t.ID)
	s.Require().NoError(err)
	s.Equal(0, got.SoldQuantity)
}

func (s *InMemorySuite) TestUpdateKeepsSoldQuantity() {
	t := s.ticketType(5)
	s.Require().NoError(s.store.Reserve(s.ctx, t.ID, 4))

	stale := *t
	stale.Name = "Renamed"
	s.Require().NoError(s.store.UpdateTicketType(s.ctx, &stale))
	got, err := s.store.FindTicketType(s.ctx, t.ID)
	s.Require().NoError(err)
	s.Equal(4, got.SoldQuantity)
	s.Equal("Renamed", got.Name)

	stale.TotalQuantity = 3
	s.ErrorIs(s.store.UpdateTicketType(s.ctx, &stale), sentinel.ErrConflict)
	s.ErrorIs(s.store.DeleteTicketType(s.ctx, t.ID), sentinel.ErrConflict)
}
