package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ticketeer/internal/checkout/models"
	id "ticketeer/pkg/domain"
	"ticketeer/pkg/platform/httputil"
	"ticketeer/pkg/requestcontext"
)

type Service interface {
	Checkout(ctx context.Context, req models.CheckoutRequest) (*models.Order, error)
	Cancel(ctx context.Context, orderID id.OrderID) (*models.Order, error)
	Refund(ctx context.Context, orderID id.OrderID, reason string) (*models.Order, error)
	GetOrder(ctx context.Context, orderID id.OrderID) (*models.Order, error)
	ListMine(ctx context.Context) ([]*models.Order, error)
	ListByEvent(ctx context.Context, eventID id.EventID) ([]*models.Order, error)
}

type Handler struct {
	orders Service
	logger *slog.Logger
}

func New(orders Service, logger *slog.Logger) *Handler {
	return &Handler{orders: orders, logger: logger}
}

// Register mounts buyer routes behind RequireAuth.
func (h *Handler) Register(r chi.Router) {
	r.Post("/checkout", h.handleCheckout)
	r.Get("/orders", h.handleListMine)
	r.Get("/orders/{id}", h.handleGet)
	r.Post("/orders/{id}/cancel", h.handleCancel)
}

// RegisterOrganizer mounts event-owner routes.
func (h *Handler) RegisterOrganizer(r chi.Router) {
	r.Post("/orders/{id}/refund", h.handleRefund)
	r.Get("/events/{id}/orders", h.handleListByEvent)
}

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[CheckoutRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	o, err := h.orders.Checkout(ctx, req.toModel(r.Header.Get("Idempotency-Key")))
	if err != nil {
		h.fail(ctx, w, "checkout failed", err)
		return
	}
	h.logger.InfoContext(ctx, "checkout completed",
		"request_id", requestID,
		"order_id", o.ID,
		"status", o.Status,
	)
	httputil.WriteJSON(w, http.StatusCreated, o)
}

func (h *Handler) handleListMine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orders, err := h.orders.ListMine(ctx)
	if err != nil {
		h.fail(ctx, w, "failed to list orders", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}
	o, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		h.fail(ctx, w, "failed to get order", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, o)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}
	o, err := h.orders.Cancel(ctx, orderID)
	if err != nil {
		h.fail(ctx, w, "failed to cancel order", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, o)
}

func (h *Handler) handleRefund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}
	req := &RefundRequest{}
	if r.ContentLength != 0 {
		if req, ok = httputil.DecodeAndPrepare[RefundRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx)); !ok {
			return
		}
	}
	o, err := h.orders.Refund(ctx, orderID, req.Reason)
	if err != nil {
		h.fail(ctx, w, "failed to refund order", err)
		return
	}
	h.logger.InfoContext(ctx, "order refunded",
		"request_id", requestcontext.RequestID(ctx),
		"order_id", o.ID,
	)
	httputil.WriteJSON(w, http.StatusOK, o)
}

func (h *Handler) handleListByEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eventID, err := id.ParseEventID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	orders, err := h.orders.ListByEvent(ctx, eventID)
	if err != nil {
		h.fail(ctx, w, "failed to list event orders", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (h *Handler) orderID(w http.ResponseWriter, r *http.Request) (id.OrderID, bool) {
	orderID, err := id.ParseOrderID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.OrderID{}, false
	}
	return orderID, true
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	httputil.Fail(ctx, w, h.logger, msg, err, requestcontext.RequestID(ctx))
}
