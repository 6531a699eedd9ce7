package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ticketeer/internal/venues/models"
	id "ticketeer/pkg/domain"
	dErrors "ticketeer/pkg/domain-errors"
	"ticketeer/pkg/platform/httputil"
	"ticketeer/pkg/requestcontext"
)

type Service interface {
	Rules() *models.Rules
	ListSpaces(ctx context.Context) ([]*models.Space, error)
	GetSpace(ctx context.Context, spaceID id.SpaceID) (*models.Space, error)
	CreateSpace(ctx context.Context, in models.SpaceInput) (*models.Space, error)
	UpdateSpace(ctx context.Context, spaceID id.SpaceID, in models.SpaceInput) (*models.Space, error)
	Quote(ctx context.Context, req models.QuoteRequest) (*models.Quote, error)
	ListBySpace(ctx context.Context, spaceID id.SpaceID, from, to time.Time) ([]models.Slot, error)
	CreateBooking(ctx context.Context, req models.BookingRequest) (*models.Booking, error)
	GetBooking(ctx context.Context, bookingID id.BookingID) (*models.Booking, error)
	ListMine(ctx context.Context) ([]*models.Booking, error)
	Cancel(ctx context.Context, bookingID id.BookingID, reason string) (*models.Booking, error)
}

type Handler struct {
	venues Service
	logger *slog.Logger
}

func New(venues Service, logger *slog.Logger) *Handler {
	return &Handler{venues: venues, logger: logger}
}

func (h *Handler) RegisterPublic(r chi.Router) {
	r.Get("/venues/pricing", h.handlePricing)
	r.Get("/venues/spaces", h.handleListSpaces)
	r.Get("/venues/spaces/{id}", h.handleGetSpace)
	r.Get("/venues/spaces/{id}/calendar", h.handleCalendar)
	r.Post("/venues/quote", h.handleQuote)
}

// Register mounts customer routes behind RequireAuth.
func (h *Handler) Register(r chi.Router) {
	r.Post("/venues/bookings", h.handleCreateBooking)
	r.Get("/venues/bookings", h.handleListMine)
	r.Get("/venues/bookings/{id}", h.handleGetBooking)
	r.Post("/venues/bookings/{id}/cancel", h.handleCancel)
}

func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/venues/spaces", h.handleCreateSpace)
	r.Put("/venues/spaces/{id}", h.handleUpdateSpace)
}

func (h *Handler) handlePricing(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.venues.Rules())
}

func (h *Handler) handleListSpaces(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	spaces, err := h.venues.ListSpaces(ctx)
	if err != nil {
		h.fail(ctx, w, "failed to list spaces", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"spaces": spaces})
}

func (h *Handler) handleGetSpace(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	spaceID, ok := h.spaceID(w, r)
	if !ok {
		return
	}
	sp, err := h.venues.GetSpace(ctx, spaceID)
	if err != nil {
		h.fail(ctx, w, "failed to load space", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sp)
}

func (h *Handler) handleCalendar(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	spaceID, ok := h.spaceID(w, r)
	if !ok {
		return
	}
	from, err := parseTime(r.URL.Query().Get("from"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	to, err := parseTime(r.URL.Query().Get("to"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	slots, err := h.venues.ListBySpace(ctx, spaceID, from, to)
	if err != nil {
		h.fail(ctx, w, "failed to load calendar", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"space_id": spaceID, "slots": slots})
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		if d, dErr := time.Parse(time.DateOnly, s); dErr == nil {
			return d, nil
		}
		return time.Time{}, dErrors.Newf(dErrors.CodeInvalidInput, "invalid time %q, expected RFC 3339 or YYYY-MM-DD", s)
	}
	return t, nil
}

func (h *Handler) handleQuote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[QuoteRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	q, err := h.venues.Quote(ctx, req.toModel())
	if err != nil {
		h.fail(ctx, w, "quote failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, q)
}

func (h *Handler) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[BookingRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	b, err := h.venues.CreateBooking(ctx, req.toModel())
	if err != nil {
		h.fail(ctx, w, "booking failed", err)
		return
	}
	h.logger.InfoContext(ctx, "venue booking requested",
		"request_id", requestID,
		"booking_id", b.ID,
		"status", b.Status,
	)
	httputil.WriteJSON(w, http.StatusCreated, b)
}

func (h *Handler) handleListMine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bookings, err := h.venues.ListMine(ctx)
	if err != nil {
		h.fail(ctx, w, "failed to list bookings", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

func (h *Handler) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bookingID, ok := h.bookingID(w, r)
	if !ok {
		return
	}
	b, err := h.venues.GetBooking(ctx, bookingID)
	if err != nil {
		h.fail(ctx, w, "failed to load booking", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, b)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bookingID, ok := h.bookingID(w, r)
	if !ok {
		return
	}
	reason := ""
	if r.ContentLength != 0 {
		req, ok := httputil.DecodeAndPrepare[CancelRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
		if !ok {
			return
		}
		reason = req.Reason
	}
	b, err := h.venues.Cancel(ctx, bookingID, reason)
	if err != nil {
		h.fail(ctx, w, "failed to cancel booking", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, b)
}

func (h *Handler) handleCreateSpace(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[SpaceRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	sp, err := h.venues.CreateSpace(ctx, req.SpaceInput)
	if err != nil {
		h.fail(ctx, w, "failed to create space", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, sp)
}

func (h *Handler) handleUpdateSpace(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	spaceID, ok := h.spaceID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[SpaceRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	sp, err := h.venues.UpdateSpace(ctx, spaceID, req.SpaceInput)
	if err != nil {
		h.fail(ctx, w, "failed to update space", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sp)
}

func (h *Handler) spaceID(w http.ResponseWriter, r *http.Request) (id.SpaceID, bool) {
	spaceID, err := id.ParseSpaceID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.SpaceID{}, false
	}
	return spaceID, true
}

func (h *Handler) bookingID(w http.ResponseWriter, r *http.Request) (id.BookingID, bool) {
	bookingID, err := id.ParseBookingID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.BookingID{}, false
	}
	return bookingID, true
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	httputil.Fail(ctx, w, h.logger, msg, err, requestcontext.RequestID(ctx))
}
