package audit

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	dErrors "ticketeer/pkg/domain-errors"
	"ticketeer/pkg/platform/httputil"
	"ticketeer/pkg/requestcontext"
)

type Lister interface {
	List(ctx context.Context, f Filter) ([]Event, error)
}

// Handler serves the admin audit trail.
type Handler struct {
	events Lister
	logger *slog.Logger
}

func NewHandler(events Lister, logger *slog.Logger) *Handler {
	return &Handler{events: events, logger: logger}
}

// Register mounts routes on a router already guarded by admin middleware.
func (h *Handler) Register(r chi.Router) {
	r.Get("/admin/audit", h.handleList)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	f := Filter{Action: q.Get("action"), Subject: q.Get("subject")}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "since must be RFC3339"))
			return
		}
		f.Since = since
	}
	if v := q.Get("limit"); v != "" {
		f.Limit, _ = strconv.Atoi(v)
	}
	events, err := h.events.List(ctx, f)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list audit events",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": events})
}
