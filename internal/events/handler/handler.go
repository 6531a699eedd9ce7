package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"ticketeer/internal/events/models"
	id "ticketeer/pkg/domain"
	dErrors "ticketeer/pkg/domain-errors"
	"ticketeer/pkg/platform/httputil"
	"ticketeer/pkg/requestcontext"
)

// Service defines the interface for event operations.
type Service interface {
	CreateEvent(ctx context.Context, d models.Details) (*models.Event, error)
	UpdateEvent(ctx context.Context, eventID id.EventID, d models.Details) (*models.Event, error)
	PublishEvent(ctx context.Context, eventID id.EventID) (*models.Event, error)
	UnpublishEvent(ctx context.Context, eventID id.EventID) (*models.Event, error)
	CancelEvent(ctx context.Context, eventID id.EventID) (*models.Event, error)
	GetEvent(ctx context.Context, eventID id.EventID) (*models.Event, error)
	GetEventBySlug(ctx context.Context, slug string) (*models.Event, error)
	ListPublished(ctx context.Context, f models.ListFilter) ([]*models.Event, error)
	ListMine(ctx context.Context) ([]*models.Event, error)

	CreateTicketType(ctx context.Context, eventID id.EventID, d models.TicketTypeDetails) (*models.TicketType, error)
	UpdateTicketType(ctx context.Context, typeID id.TicketTypeID, d models.TicketTypeDetails) (*models.TicketType, error)
	DeactivateTicketType(ctx context.Context, typeID id.TicketTypeID) (*models.TicketType, error)
	DeleteTicketType(ctx context.Context, typeID id.TicketTypeID) error
	ListTicketTypes(ctx context.Context, eventID id.EventID) ([]models.TicketTypeView, error)
}

type Handler struct {
	events Service
	logger *slog.Logger
}

func New(events Service, logger *slog.Logger) *Handler {
	return &Handler{events: events, logger: logger}
}

// RegisterPublic mounts catalogue routes; callers may be anonymous.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Get("/events", h.handleListPublished)
	r.Get("/events/slug/{slug}", h.handleGetBySlug)
	r.Get("/events/{id}", h.handleGet)
	r.Get("/events/{id}/ticket-types", h.handleListTicketTypes)
}

// RegisterOrganizer mounts management routes; the router guards them with
// RequireAuth and an organizer/admin role check.
func (h *Handler) RegisterOrganizer(r chi.Router) {
	r.Get("/organizer/events", h.handleListMine)
	r.Post("/events", h.handleCreate)
	r.Put("/events/{id}", h.handleUpdate)
	r.Post("/events/{id}/publish", h.lifecycle(h.events.PublishEvent, "publish"))
	r.Post("/events/{id}/unpublish", h.lifecycle(h.events.UnpublishEvent, "unpublish"))
	r.Post("/events/{id}/cancel", h.lifecycle(h.events.CancelEvent, "cancel"))
	r.Post("/events/{id}/ticket-types", h.handleCreateTicketType)
	r.Put("/ticket-types/{id}", h.handleUpdateTicketType)
	r.Post("/ticket-types/{id}/deactivate", h.handleDeactivateTicketType)
	r.Delete("/ticket-types/{id}", h.handleDeleteTicketType)
}

func (h *Handler) handleListPublished(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	f := models.ListFilter{Query: q.Get("q")}
	if v := q.Get("from"); v != "" {
		from, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "from must be RFC3339"))
			return
		}
		f.From = from
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))

	events, err := h.events.ListPublished(ctx, f)
	if err != nil {
		h.fail(ctx, w, "failed to list events", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": toResponses(events)})
}

func (h *Handler) handleListMine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	events, err := h.events.ListMine(ctx)
	if err != nil {
		h.fail(ctx, w, "failed to list organizer events", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": toResponses(events)})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eventID, ok := h.eventID(w, r)
	if !ok {
		return
	}
	e, err := h.events.GetEvent(ctx, eventID)
	if err != nil {
		h.fail(ctx, w, "failed to get event", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(e))
}

func (h *Handler) handleGetBySlug(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	e, err := h.events.GetEventBySlug(ctx, chi.URLParam(r, "slug"))
	if err != nil {
		h.fail(ctx, w, "failed to get event by slug", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(e))
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[EventRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	e, err := h.events.CreateEvent(ctx, req.details())
	if err != nil {
		h.fail(ctx, w, "failed to create event", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toResponse(e))
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eventID, ok := h.eventID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[EventRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	e, err := h.events.UpdateEvent(ctx, eventID, req.details())
	if err != nil {
		h.fail(ctx, w, "failed to update event", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(e))
}

func (h *Handler) lifecycle(op func(context.Context, id.EventID) (*models.Event, error), name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		eventID, ok := h.eventID(w, r)
		if !ok {
			return
		}
		e, err := op(ctx, eventID)
		if err != nil {
			h.fail(ctx, w, "failed to "+name+" event", err)
			return
		}
		h.logger.InfoContext(ctx, "event "+name,
			"request_id", requestcontext.RequestID(ctx),
			"event_id", e.ID,
			"status", e.Status,
		)
		httputil.WriteJSON(w, http.StatusOK, toResponse(e))
	}
}

func (h *Handler) handleListTicketTypes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eventID, ok := h.eventID(w, r)
	if !ok {
		return
	}
	types, err := h.events.ListTicketTypes(ctx, eventID)
	if err != nil {
		h.fail(ctx, w, "failed to list ticket types", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"ticket_types": types})
}

func (h *Handler) handleCreateTicketType(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eventID, ok := h.eventID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[TicketTypeRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	t, err := h.events.CreateTicketType(ctx, eventID, req.details())
	if err != nil {
		h.fail(ctx, w, "failed to create ticket type", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, t.View(requestcontext.Now(ctx)))
}

func (h *Handler) handleUpdateTicketType(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	typeID, ok := h.ticketTypeID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[TicketTypeRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	t, err := h.events.UpdateTicketType(ctx, typeID, req.details())
	if err != nil {
		h.fail(ctx, w, "failed to update ticket type", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, t.View(requestcontext.Now(ctx)))
}

func (h *Handler) handleDeactivateTicketType(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	typeID, ok := h.ticketTypeID(w, r)
	if !ok {
		return
	}
	t, err := h.events.DeactivateTicketType(ctx, typeID)
	if err != nil {
		h.fail(ctx, w, "failed to deactivate ticket type", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, t.View(requestcontext.Now(ctx)))
}

func (h *Handler) handleDeleteTicketType(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	typeID, ok := h.ticketTypeID(w, r)
	if !ok {
		return
	}
	if err := h.events.DeleteTicketType(ctx, typeID); err != nil {
		h.fail(ctx, w, "failed to delete ticket type", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) eventID(w http.ResponseWriter, r *http.Request) (id.EventID, bool) {
	eventID, err := id.ParseEventID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.EventID{}, false
	}
	return eventID, true
}

func (h *Handler) ticketTypeID(w http.ResponseWriter, r *http.Request) (id.TicketTypeID, bool) {
	typeID, err := id.ParseTicketTypeID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.TicketTypeID{}, false
	}
	return typeID, true
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	httputil.Fail(ctx, w, h.logger, msg, err, requestcontext.RequestID(ctx))
}
