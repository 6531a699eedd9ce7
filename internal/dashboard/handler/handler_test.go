package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketeer/internal/dashboard/models"
	id "ticketeer/pkg/domain"
	dErrors "ticketeer/pkg/domain-errors"
	"ticketeer/pkg/testutil"
)

type stubDashboard struct {
	filter models.CustomerFilter
	err    error
}

func (s *stubDashboard) EventStats(_ context.Context, eventID id.EventID) (*models.EventStats, error) {
	return &models.EventStats{EventID: eventID, TicketsSold: 7}, s.err
}

func (s *stubDashboard) OrganizerOverview(context.Context) (*models.Overview, error) {
	return &models.Overview{TicketsSold: 12, GeneratedAt: time.Now()}, s.err
}

func (s *stubDashboard) Customers(_ context.Context, f models.CustomerFilter) ([]*models.Customer, error) {
	s.filter = f
	return []*models.Customer{{Email: "ana@example.com"}}, s.err
}

func (s *stubDashboard) ExportAttendees(_ context.Context, _ id.EventID, w io.Writer) error {
	if s.err != nil {
		return s.err
	}
	_, err := io.WriteString(w, "name,email\nAna,ana@example.com\n")
	return err
}

func newRouter(stub *stubDashboard) chi.Router {
	r := chi.NewRouter()
	New(stub, slog.New(slog.NewTextHandler(io.Discard, nil))).RegisterOrganizer(r)
	return r
}

func TestEventStats(t *testing.T) {
	r := newRouter(&stubDashboard{})
	eventID := id.NewEventID()

	rr := testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/dashboard/events/"+eventID.String()))
	testutil.AssertStatusOK(t, rr)
	testutil.AssertJSONContains(t, rr, "tickets_sold", float64(7))

	rr = testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/dashboard/events/nope"))
	testutil.AssertStatus(t, rr, http.StatusBadRequest)
}

func TestExportIsCSV(t *testing.T) {
	r := newRouter(&stubDashboard{})
	rr := testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/dashboard/events/"+id.NewEventID().String()+"/attendees.csv"))
	testutil.AssertStatusOK(t, rr)
	assert.Equal(t, "text/csv; charset=utf-8", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, rr.Body.String(), "Ana,ana@example.com")

	r = newRouter(&stubDashboard{err: dErrors.New(dErrors.CodeForbidden, "only the event organizer can do this")})
	rr = testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/dashboard/events/"+id.NewEventID().String()+"/attendees.csv"))
	testutil.AssertStatusAndError(t, rr, http.StatusForbidden, "forbidden")
}

func TestCustomersFilter(t *testing.T) {
	stub := &stubDashboard{}
	r := newRouter(stub)
	eventID := id.NewEventID()

	rr := testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet,
		"/dashboard/customers?event_id="+eventID.String()+"&q=ana&sort=recent&limit=20&offset=40"))
	testutil.AssertStatusOK(t, rr)
	require.NotNil(t, stub.filter.EventID)
	assert.Equal(t, eventID, *stub.filter.EventID)
	assert.Equal(t, models.SortByRecent, stub.filter.Sort)
	assert.Equal(t, 20, stub.filter.Limit)
	assert.Equal(t, 40, stub.filter.Offset)
	assert.Equal(t, "ana", stub.filter.Query)

	rr = testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/dashboard/customers?sort=loud"))
	testutil.AssertStatus(t, rr, http.StatusBadRequest)
	rr = testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/dashboard/customers?limit=-1"))
	testutil.AssertStatus(t, rr, http.StatusBadRequest)
}

func TestOverview(t *testing.T) {
	rr := testutil.DoRequest(newRouter(&stubDashboard{}), testutil.NewRequest(t, http.MethodGet, "/dashboard/overview"))
	testutil.AssertStatusOK(t, rr)
	testutil.AssertJSONContains(t, rr, "tickets_sold", float64(12))
}
