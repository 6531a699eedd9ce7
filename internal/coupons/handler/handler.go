package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"ticketeer/internal/coupons/models"
	id "ticketeer/pkg/domain"
	dErrors "ticketeer/pkg/domain-errors"
	"ticketeer/pkg/platform/httputil"
	"ticketeer/pkg/requestcontext"
)

type Service interface {
	Create(ctx context.Context, eventID id.EventID, terms models.Terms) (*models.Coupon, error)
	Deactivate(ctx context.Context, couponID id.CouponID) (*models.Coupon, error)
	List(ctx context.Context, eventID id.EventID) ([]*models.Coupon, error)
	Preview(ctx context.Context, eventID id.EventID, code string, lines []models.CartLine) (*models.Preview, error)
}

type Handler struct {
	coupons Service
	logger  *slog.Logger
}

func New(coupons Service, logger *slog.Logger) *Handler {
	return &Handler{coupons: coupons, logger: logger}
}

func (h *Handler) RegisterPublic(r chi.Router) {
	r.Post("/events/{id}/coupons/preview", h.handlePreview)
}

func (h *Handler) RegisterOrganizer(r chi.Router) {
	r.Get("/events/{id}/coupons", h.handleList)
	r.Post("/events/{id}/coupons", h.handleCreate)
	r.Post("/coupons/{id}/deactivate", h.handleDeactivate)
}

type CreateRequest struct {
	Code             string     `json:"code"`
	Kind             string     `json:"kind"`
	Value            int64      `json:"value"`
	MaxRedemptions   int        `json:"max_redemptions"`
	ValidFrom        *time.Time `json:"valid_from"`
	ValidUntil       *time.Time `json:"valid_until"`
	MinSubtotalCents int64      `json:"min_subtotal_cents"`
}

func (r *CreateRequest) Validate() error {
	if strings.TrimSpace(r.Code) == "" {
		return dErrors.New(dErrors.CodeValidation, "code is required")
	}
	r.Kind = strings.ToLower(strings.TrimSpace(r.Kind))
	return nil
}

type PreviewRequest struct {
	Code  string            `json:"code"`
	Items []models.CartLine `json:"items"`
}

func (r *PreviewRequest) Validate() error {
	if strings.TrimSpace(r.Code) == "" {
		return dErrors.New(dErrors.CodeValidation, "code is required")
	}
	if len(r.Items) == 0 {
		return dErrors.New(dErrors.CodeValidation, "items are required")
	}
	return nil
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	eventID, err := id.ParseEventID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[CreateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	c, err := h.coupons.Create(ctx, eventID, models.Terms{
		Code:             req.Code,
		Kind:             models.Kind(req.Kind),
		Value:            req.Value,
		MaxRedemptions:   req.MaxRedemptions,
		ValidFrom:        req.ValidFrom,
		ValidUntil:       req.ValidUntil,
		MinSubtotalCents: req.MinSubtotalCents,
	})
	if err != nil {
		httputil.Fail(ctx, w, h.logger, "failed to create coupon", err, requestID)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, c)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eventID, err := id.ParseEventID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	coupons, err := h.coupons.List(ctx, eventID)
	if err != nil {
		httputil.Fail(ctx, w, h.logger, "failed to list coupons", err, requestcontext.RequestID(ctx))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"coupons": coupons})
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	couponID, err := id.ParseCouponID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	c, err := h.coupons.Deactivate(ctx, couponID)
	if err != nil {
		httputil.Fail(ctx, w, h.logger, "failed to deactivate coupon", err, requestcontext.RequestID(ctx))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c)
}

func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	eventID, err := id.ParseEventID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[PreviewRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	preview, err := h.coupons.Preview(ctx, eventID, req.Code, req.Items)
	if err != nil {
		httputil.Fail(ctx, w, h.logger, "coupon preview rejected", err, requestID)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, preview)
}
