package handler

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"ticketeer/internal/dashboard/models"
	id "ticketeer/pkg/domain"
	dErrors "ticketeer/pkg/domain-errors"
	"ticketeer/pkg/platform/httputil"
	"ticketeer/pkg/requestcontext"
)

type Service interface {
	EventStats(ctx context.Context, eventID id.EventID) (*models.EventStats, error)
	OrganizerOverview(ctx context.Context) (*models.Overview, error)
	Customers(ctx context.Context, f models.CustomerFilter) ([]*models.Customer, error)
	ExportAttendees(ctx context.Context, eventID id.EventID, w io.Writer) error
}

type Handler struct {
	dashboard Service
	logger    *slog.Logger
}

func New(dashboard Service, logger *slog.Logger) *Handler {
	return &Handler{dashboard: dashboard, logger: logger}
}

// RegisterOrganizer mounts the dashboard behind organizer auth.
func (h *Handler) RegisterOrganizer(r chi.Router) {
	r.Get("/dashboard/overview", h.handleOverview)
	r.Get("/dashboard/events/{id}", h.handleEventStats)
	r.Get("/dashboard/events/{id}/attendees.csv", h.handleExport)
	r.Get("/dashboard/customers", h.handleCustomers)
}

func (h *Handler) handleOverview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ov, err := h.dashboard.OrganizerOverview(ctx)
	if err != nil {
		h.fail(ctx, w, "failed to build overview", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ov)
}

func (h *Handler) handleEventStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eventID, err := id.ParseEventID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	stats, err := h.dashboard.EventStats(ctx, eventID)
	if err != nil {
		h.fail(ctx, w, "failed to build event stats", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

// handleExport buffers the CSV so a failure midway still yields a proper
// error response instead of a truncated file.
func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eventID, err := id.ParseEventID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := h.dashboard.ExportAttendees(ctx, eventID, &buf); err != nil {
		h.fail(ctx, w, "failed to export attendees", err)
		return
	}
	h.logger.InfoContext(ctx, "attendees exported",
		"request_id", requestcontext.RequestID(ctx),
		"event_id", eventID,
		"bytes", buf.Len(),
	)
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="attendees-`+eventID.String()+`.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (h *Handler) handleCustomers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	f, err := parseCustomerFilter(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	customers, err := h.dashboard.Customers(ctx, f)
	if err != nil {
		h.fail(ctx, w, "failed to list customers", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"customers": customers})
}

func parseCustomerFilter(r *http.Request) (models.CustomerFilter, error) {
	q := r.URL.Query()
	f := models.CustomerFilter{Query: strings.TrimSpace(q.Get("q"))}
	if v := q.Get("event_id"); v != "" {
		eventID, err := id.ParseEventID(v)
		if err != nil {
			return f, err
		}
		f.EventID = &eventID
	}
	sort, ok := models.ParseCustomerSort(q.Get("sort"))
	if !ok {
		return f, dErrors.New(dErrors.CodeValidation, "sort must be one of spent, recent, name")
	}
	f.Sort = sort
	for name, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, dErrors.Newf(dErrors.CodeValidation, "%s must be a positive integer", name)
		}
		*dst = n
	}
	return f, nil
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	httputil.Fail(ctx, w, h.logger, msg, err, requestcontext.RequestID(ctx))
}
