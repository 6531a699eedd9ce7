package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ticketeer/internal/certificates/models"
	id "ticketeer/pkg/domain"
	"ticketeer/pkg/platform/httputil"
	"ticketeer/pkg/requestcontext"
)

type Service interface {
	IssueForEvent(ctx context.Context, eventID id.EventID) (*models.IssueResult, error)
	Verify(ctx context.Context, code string) (*models.Verification, error)
	Render(ctx context.Context, code string) ([]byte, error)
	ListMine(ctx context.Context) ([]*models.Certificate, error)
	ListByEvent(ctx context.Context, eventID id.EventID) ([]*models.Certificate, error)
}

type Handler struct {
	certificates Service
	logger       *slog.Logger
}

func New(certificates Service, logger *slog.Logger) *Handler {
	return &Handler{certificates: certificates, logger: logger}
}

func (h *Handler) RegisterPublic(r chi.Router) {
	r.Get("/certificates/verify/{code}", h.handleVerify)
	r.Get("/certificates/{code}", h.handleRender)
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/me/certificates", h.handleListMine)
}

func (h *Handler) RegisterOrganizer(r chi.Router) {
	r.Post("/events/{id}/certificates", h.handleIssue)
	r.Get("/events/{id}/certificates", h.handleListByEvent)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	v, err := h.certificates.Verify(ctx, chi.URLParam(r, "code"))
	if err != nil {
		h.fail(ctx, w, "certificate verification failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, v)
}

func (h *Handler) handleRender(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	page, err := h.certificates.Render(ctx, chi.URLParam(r, "code"))
	if err != nil {
		h.fail(ctx, w, "certificate render failed", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; img-src https:; style-src 'unsafe-inline'")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(page)
}

func (h *Handler) handleListMine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	certs, err := h.certificates.ListMine(ctx)
	if err != nil {
		h.fail(ctx, w, "failed to list certificates", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"certificates": certs})
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eventID, ok := h.eventID(w, r)
	if !ok {
		return
	}
	res, err := h.certificates.IssueForEvent(ctx, eventID)
	if err != nil {
		h.fail(ctx, w, "failed to issue certificates", err)
		return
	}
	h.logger.InfoContext(ctx, "certificate issuance requested",
		"request_id", requestcontext.RequestID(ctx),
		"event_id", eventID,
		"issued", res.Issued,
	)
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleListByEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eventID, ok := h.eventID(w, r)
	if !ok {
		return
	}
	certs, err := h.certificates.ListByEvent(ctx, eventID)
	if err != nil {
		h.fail(ctx, w, "failed to list certificates", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"certificates": certs})
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
