package handler

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"ticketeer/internal/payments"
	"ticketeer/internal/venues/models"
	"ticketeer/internal/venues/service"
	"ticketeer/internal/venues/store"
	id "ticketeer/pkg/domain"
	"ticketeer/pkg/requestcontext"
	"ticketeer/pkg/testutil"
)

type HandlerSuite struct {
	suite.Suite
	router   chi.Router
	svc      *service.Service
	now      time.Time
	admin    requestcontext.Actor
	customer requestcontext.Actor
	space    *models.Space
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	s.admin = requestcontext.Actor{UserID: id.NewUserID(), Role: id.RoleAdmin}
	s.customer = requestcontext.Actor{UserID: id.NewUserID(), Role: id.RoleAttendee, Email: "rui@example.com", Name: "Rui"}
	s.svc = service.New(store.NewInMemory(), payments.NewRegistry(payments.NewFakeGateway(payments.ProviderStripe)),
		service.WithLogger(logger))

	h := New(s.svc, logger)
	r := chi.NewRouter()
	h.RegisterPublic(r)
	h.Register(r)
	h.RegisterAdmin(r)
	s.router = r

	rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/venues/spaces",
		map[string]any{"name": "Studio", "capacity": 20, "hourly_rate_cents": 5000}), s.admin)
	testutil.AssertStatus(s.T(), rr, http.StatusCreated)
	s.space = testutil.UnmarshalResponse[models.Space](s.T(), rr)
}

func (s *HandlerSuite) do(req *http.Request, actor requestcontext.Actor) *httptest.ResponseRecorder {
	return testutil.DoRequest(s.router, testutil.AtTime(testutil.WithActor(req, actor), s.now))
}

func (s *HandlerSuite) body(offset time.Duration) map[string]any {
	start := time.Date(2026, 6, 2, 13, 0, 0, 0, time.UTC).Add(offset)
	return map[string]any{
		"space_id":  s.space.ID.String(),
		"starts_at": start.Format(time.RFC3339),
		"ends_at":   start.Add(2 * time.Hour).Format(time.RFC3339),
		"headcount": 10,
		"services":  []string{"projector"},
	}
}

func (s *HandlerSuite) TestQuote() {
	rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/venues/quote", s.body(0)), requestcontext.Actor{})
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "hours", float64(2))
	testutil.AssertJSONContains(s.T(), rr, "total_cents", float64(10500))

	bad := s.body(0)
	bad["services"] = []string{"helipad"}
	rr = s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/venues/quote", bad), requestcontext.Actor{})
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation_error")

	rr = s.do(testutil.NewRequestWithBody(s.T(), http.MethodPost, "/venues/quote", `{"space_id":"nope"}`), requestcontext.Actor{})
	testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
}

func (s *HandlerSuite) TestBookingLifecycle() {
	rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/venues/bookings", s.body(0)), s.customer)
	testutil.AssertStatus(s.T(), rr, http.StatusCreated)
	b := testutil.UnmarshalResponse[models.Booking](s.T(), rr)
	s.Equal(models.StatusAwaitingPayment, b.Status)
	s.NotEmpty(b.PaymentURL)

	rr = s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/venues/bookings", s.body(time.Hour)), s.customer)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "conflict")

	rr = s.do(testutil.NewRequest(s.T(), http.MethodGet, "/venues/spaces/"+s.space.ID.String()+"/calendar?from=2026-06-02&to=2026-06-03"), requestcontext.Actor{})
	testutil.AssertStatusOK(s.T(), rr)
	cal := testutil.UnmarshalResponse[struct {
		Slots []models.Slot `json:"slots"`
	}](s.T(), rr)
	s.Len(cal.Slots, 1)

	rr = s.do(testutil.NewRequest(s.T(), http.MethodGet, "/venues/bookings/"+b.ID.String()), s.admin)
	testutil.AssertStatusOK(s.T(), rr)

	rr = s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/venues/bookings/"+b.ID.String()+"/cancel",
		map[string]string{"reason": "double booked on our side"}), s.customer)
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "status", "cancelled")

	rr = s.do(testutil.NewRequest(s.T(), http.MethodGet, "/venues/bookings"), s.customer)
	testutil.AssertStatusOK(s.T(), rr)
	mine := testutil.UnmarshalResponse[struct {
		Bookings []models.Booking `json:"bookings"`
	}](s.T(), rr)
	s.Len(mine.Bookings, 1)
}

func (s *HandlerSuite) TestCalendarRejectsBadTimes() {
	rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/venues/spaces/"+s.space.ID.String()+"/calendar?from=yesterday"), requestcontext.Actor{})
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "invalid_input")
}

func (s *HandlerSuite) TestSpaceAdministration() {
	rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/venues/spaces",
		map[string]any{"name": "Rooftop", "capacity": 10}), s.customer)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "forbidden")

	rr = s.do(testutil.NewJSONRequest(s.T(), http.MethodPut, "/venues/spaces/"+s.space.ID.String(),
		map[string]any{"name": "Studio B", "capacity": 25, "hourly_rate_cents": 6000}), s.admin)
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "name", "Studio B")

	rr = s.do(testutil.NewRequest(s.T(), http.MethodGet, "/venues/spaces"), requestcontext.Actor{})
	testutil.AssertStatusOK(s.T(), rr)

	rr = s.do(testutil.NewRequest(s.T(), http.MethodGet, "/venues/pricing"), requestcontext.Actor{})
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "min_hours", float64(2))
}
