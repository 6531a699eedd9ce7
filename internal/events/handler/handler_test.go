package handler

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"ticketeer/internal/events/service"
	"ticketeer/internal/events/store"
	id "ticketeer/pkg/domain"
	"ticketeer/pkg/requestcontext"
	"ticketeer/pkg/testutil"
)

type HandlerSuite struct {
	suite.Suite
	router    chi.Router
	organizer requestcontext.Actor
	now       time.Time
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	h := New(service.New(store.NewInMemory()), logger)
	s.router = chi.NewRouter()
	h.RegisterPublic(s.router)
	h.RegisterOrganizer(s.router)
	s.organizer = requestcontext.Actor{UserID: id.NewUserID(), Role: id.RoleOrganizer}
	s.now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
}

func (s *HandlerSuite) do(req *http.Request, actor requestcontext.Actor) *httptest.ResponseRecorder {
	req = testutil.AtTime(testutil.WithActor(req, actor), s.now)
	return testutil.DoRequest(s.router, req)
}

func (s *HandlerSuite) createEvent() EventResponse {
	rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/events", map[string]any{
		"title":       "Open Source Day",
		"description": "Talks about **Go**",
		"starts_at":   s.now.Add(72 * time.Hour),
		"ends_at":     s.now.Add(80 * time.Hour),
		"currency":    "BRL",
	}), s.organizer)
	testutil.AssertStatus(s.T(), rr, http.StatusCreated)
	return *testutil.UnmarshalResponse[EventResponse](s.T(), rr)
}

func (s *HandlerSuite) TestCreateAndPublish() {
	e := s.createEvent()
	s.Contains(string(e.DescriptionHTML), "<strong>Go</strong>")

	rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/events/"+e.ID.String()), requestcontext.Actor{})
	testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")

	rr = s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/events/"+e.ID.String()+"/ticket-types", map[string]any{
		"name": "Regular", "price_cents": 1500, "total_quantity": 20,
	}), s.organizer)
	testutil.AssertStatus(s.T(), rr, http.StatusCreated)

	rr = s.do(testutil.NewRequest(s.T(), http.MethodPost, "/events/"+e.ID.String()+"/publish"), s.organizer)
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "status", "published")

	rr = s.do(testutil.NewRequest(s.T(), http.MethodGet, "/events/slug/"+e.Slug), requestcontext.Actor{})
	testutil.AssertStatusOK(s.T(), rr)

	rr = s.do(testutil.NewRequest(s.T(), http.MethodGet, "/events?q=open"), requestcontext.Actor{})
	testutil.AssertStatusOK(s.T(), rr)
	list := testutil.UnmarshalResponse[struct {
		Events []EventResponse `json:"events"`
	}](s.T(), rr)
	s.Len(list.Events, 1)
}

func (s *HandlerSuite) TestValidation() {
	rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/events", map[string]any{"title": ""}), s.organizer)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation_error")

	rr = s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/events", map[string]any{"title": "x", "bogus": 1}), s.organizer)
	testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)

	rr = s.do(testutil.NewRequest(s.T(), http.MethodGet, "/events/not-a-uuid"), requestcontext.Actor{})
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "invalid_input")

	rr = s.do(testutil.NewRequest(s.T(), http.MethodGet, "/events?from=tomorrow"), requestcontext.Actor{})
	testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
}

func (s *HandlerSuite) TestForeignOrganizerIsForbidden() {
	e := s.createEvent()
	other := requestcontext.Actor{UserID: id.NewUserID(), Role: id.RoleOrganizer}

	rr := s.do(testutil.NewRequest(s.T(), http.MethodPost, "/events/"+e.ID.String()+"/cancel"), other)
	testutil.AssertStatus(s.T(), rr, http.StatusNotFound)

	rr = s.do(testutil.NewRequest(s.T(), http.MethodPost, "/events/"+e.ID.String()+"/cancel"), s.organizer)
	testutil.AssertStatusOK(s.T(), rr)

	rr = s.do(testutil.NewRequest(s.T(), http.MethodPost, "/events/"+e.ID.String()+"/cancel"), other)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "forbidden")
}
