package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"ticketeer/internal/tickets/models"
	id "ticketeer/pkg/domain"
	dErrors "ticketeer/pkg/domain-errors"
	"ticketeer/pkg/platform/httputil"
	"ticketeer/pkg/requestcontext"
)

type Service interface {
	ListMine(ctx context.Context) ([]*models.Ticket, error)
	ListByEvent(ctx context.Context, eventID id.EventID, f models.Filter) ([]*models.Ticket, error)
	Lookup(ctx context.Context, eventID id.EventID, code string) (*models.Ticket, error)
	CheckIn(ctx context.Context, eventID id.EventID, code string, method models.CheckInMethod) (*models.Ticket, error)
	UndoCheckIn(ctx context.Context, ticketID id.TicketID) (*models.Ticket, error)
	AuthorizeDoor(ctx context.Context, eventID id.EventID) error
}

// Streamer serves the websocket check-in feed.
type Streamer interface {
	Serve(w http.ResponseWriter, r *http.Request, eventID id.EventID)
}

type Handler struct {
	tickets  Service
	streamer Streamer
	logger   *slog.Logger
}

func New(tickets Service, streamer Streamer, logger *slog.Logger) *Handler {
	return &Handler{tickets: tickets, streamer: streamer, logger: logger}
}

// Register mounts the attendee's own ticket routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/me/tickets", h.handleListMine)
}

// RegisterDoor mounts scanning routes for staff and organizers. Access per
// event is decided by the service.
func (h *Handler) RegisterDoor(r chi.Router) {
	r.Get("/events/{id}/tickets", h.handleListByEvent)
	r.Get("/events/{id}/tickets/{code}", h.handleLookup)
	r.Post("/events/{id}/checkins", h.handleCheckIn)
	r.Delete("/tickets/{id}/checkin", h.handleUndo)
	if h.streamer != nil {
		r.Get("/events/{id}/checkins/live", h.handleLive)
	}
}

type CheckInRequest struct {
	Code   string `json:"code"`
	Method string `json:"method"`

	method models.CheckInMethod
}

func (r *CheckInRequest) Validate() error {
	if strings.TrimSpace(r.Code) == "" {
		return dErrors.New(dErrors.CodeValidation, "code is required")
	}
	if len(r.Code) > 64 {
		return dErrors.New(dErrors.CodeValidation, "code is too long")
	}
	m, err := models.ParseCheckInMethod(r.Method)
	if err != nil {
		return err
	}
	r.method = m
	return nil
}

func (h *Handler) handleListMine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tickets, err := h.tickets.ListMine(ctx)
	if err != nil {
		h.fail(ctx, w, "failed to list tickets", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"tickets": tickets})
}

func (h *Handler) handleListByEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eventID, ok := h.eventID(w, r)
	if !ok {
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	tickets, err := h.tickets.ListByEvent(ctx, eventID, f)
	if err != nil {
		h.fail(ctx, w, "failed to list event tickets", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"tickets": tickets})
}

func (h *Handler) handleLookup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eventID, ok := h.eventID(w, r)
	if !ok {
		return
	}
	t, err := h.tickets.Lookup(ctx, eventID, chi.URLParam(r, "code"))
	if err != nil {
		h.fail(ctx, w, "ticket lookup failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, t)
}

func (h *Handler) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	eventID, ok := h.eventID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[CheckInRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	t, err := h.tickets.CheckIn(ctx, eventID, req.Code, req.method)
	if err != nil {
		h.fail(ctx, w, "check-in rejected", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, t)
}

func (h *Handler) handleUndo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ticketID, err := id.ParseTicketID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	t, err := h.tickets.UndoCheckIn(ctx, ticketID)
	if err != nil {
		h.fail(ctx, w, "failed to undo check-in", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, t)
}

func (h *Handler) handleLive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eventID, ok := h.eventID(w, r)
	if !ok {
		return
	}
	if err := h.tickets.AuthorizeDoor(ctx, eventID); err != nil {
		h.fail(ctx, w, "live feed refused", err)
		return
	}
	h.logger.InfoContext(ctx, "check-in feed opened",
		"request_id", requestcontext.RequestID(ctx),
		"event_id", eventID,
	)
	h.streamer.Serve(w, r, eventID)
}

func parseFilter(r *http.Request) (models.Filter, error) {
	q := r.URL.Query()
	f := models.Filter{Query: strings.TrimSpace(q.Get("q"))}
	switch s := models.Status(q.Get("status")); s {
	case "", models.StatusValid, models.StatusUsed, models.StatusVoid:
		f.Status = s
	default:
		return f, dErrors.Newf(dErrors.CodeValidation, "unknown status %q", s)
	}
	var err error
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil || f.Limit < 0 {
			return f, dErrors.New(dErrors.CodeValidation, "limit must be a positive integer")
		}
	}
	if v := q.Get("offset"); v != "" {
		if f.Offset, err = strconv.Atoi(v); err != nil || f.Offset < 0 {
			return f, dErrors.New(dErrors.CodeValidation, "offset must be a positive integer")
		}
	}
	return f, nil
}

func (h *Handler) eventID(w http.ResponseWriter, r *http.Request) (id.EventID, bool) {
	eventID, err := id.ParseEventID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.EventID{}, false
	}
	return eventID, true
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	httputil.Fail(ctx, w, h.logger, msg, err, requestcontext.RequestID(ctx))
}
