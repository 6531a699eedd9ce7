package handler

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"ticketeer/internal/coupons/models"
	couponservice "ticketeer/internal/coupons/service"
	couponstore "ticketeer/internal/coupons/store"
	eventmodels "ticketeer/internal/events/models"
	eventservice "ticketeer/internal/events/service"
	eventstore "ticketeer/internal/events/store"
	id "ticketeer/pkg/domain"
	"ticketeer/pkg/requestcontext"
	"ticketeer/pkg/testutil"
)

type HandlerSuite struct {
	suite.Suite
	router     chi.Router
	organizer  requestcontext.Actor
	now        time.Time
	event      *eventmodels.Event
	ticketType *eventmodels.TicketType
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	s.now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	s.organizer = requestcontext.Actor{UserID: id.NewUserID(), Role: id.RoleOrganizer}

	events := eventservice.New(eventstore.NewInMemory())
	ctx := requestcontext.WithTime(requestcontext.WithActor(context.Background(), s.organizer), s.now)
	e, err := events.CreateEvent(ctx, eventmodels.Details{
		Title: "Coupon fest", StartsAt: s.now.Add(24 * time.Hour), EndsAt: s.now.Add(30 * time.Hour), Currency: "BRL",
	})
	s.Require().NoError(err)
	tt, err := events.CreateTicketType(ctx, e.ID, eventmodels.TicketTypeDetails{Name: "Std", PriceCents: 4000, TotalQuantity: 10})
	s.Require().NoError(err)
	_, err = events.PublishEvent(ctx, e.ID)
	s.Require().NoError(err)
	s.event, s.ticketType = e, tt

	h := New(couponservice.New(couponstore.NewInMemory(), events), logger)
	s.router = chi.NewRouter()
	h.RegisterPublic(s.router)
	h.RegisterOrganizer(s.router)
}

func (s *HandlerSuite) do(req *http.Request, actor requestcontext.Actor) *httptest.ResponseRecorder {
	return testutil.DoRequest(s.router, testutil.AtTime(testutil.WithActor(req, actor), s.now))
}

func (s *HandlerSuite) TestCreateAndPreview() {
	path := "/events/" + s.event.ID.String() + "/coupons"
	rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, path, map[string]any{
		"code": "half", "kind": "PERCENT", "value": 50,
	}), s.organizer)
	testutil.AssertStatus(s.T(), rr, http.StatusCreated)
	created := testutil.UnmarshalResponse[models.Coupon](s.T(), rr)
	s.Equal("HALF", created.Code)

	rr = s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, path, map[string]any{
		"code": "HALF", "kind": "percent", "value": 10,
	}), s.organizer)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "conflict")

	rr = s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, path+"/preview", map[string]any{
		"code":  "half",
		"items": []map[string]any{{"ticket_type_id": s.ticketType.ID, "quantity": 3}},
	}), requestcontext.Actor{})
	testutil.AssertStatusOK(s.T(), rr)
	preview := testutil.UnmarshalResponse[models.Preview](s.T(), rr)
	s.Equal(int64(12000), preview.SubtotalCents)
	s.Equal(int64(6000), preview.Discount.Cents)
	s.Equal(int64(6000), preview.TotalCents)

	rr = s.do(testutil.NewRequest(s.T(), http.MethodPost, "/coupons/"+created.ID.String()+"/deactivate"), s.organizer)
	testutil.AssertStatusOK(s.T(), rr)

	rr = s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, path+"/preview", map[string]any{
		"code":  "HALF",
		"items": []map[string]any{{"ticket_type_id": s.ticketType.ID, "quantity": 1}},
	}), requestcontext.Actor{})
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation_error")
}

func (s *HandlerSuite) TestOnlyOrganizerManagesCoupons() {
	path := "/events/" + s.event.ID.String() + "/coupons"
	stranger := requestcontext.Actor{UserID: id.NewUserID(), Role: id.RoleOrganizer}
	rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, path), stranger)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "forbidden")

	rr = s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, path+"/preview", map[string]any{
		"code":  "NOPE",
		"items": []map[string]any{{"ticket_type_id": s.ticketType.ID, "quantity": 1}},
	}), requestcontext.Actor{})
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation_error")
}
