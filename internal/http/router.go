// Package httpapi assembles the API router: the middleware stack and the
// route groups each domain handler mounts into.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ticketeer/internal/audit"
	certhandler "ticketeer/internal/certificates/handler"
	checkouthandler "ticketeer/internal/checkout/handler"
	couponhandler "ticketeer/internal/coupons/handler"
	dashboardhandler "ticketeer/internal/dashboard/handler"
	eventhandler "ticketeer/internal/events/handler"
	paymenthandler "ticketeer/internal/payments/handler"
	tickethandler "ticketeer/internal/tickets/handler"
	venuehandler "ticketeer/internal/venues/handler"
	id "ticketeer/pkg/domain"
	"ticketeer/pkg/platform/httputil"
	adminmw "ticketeer/pkg/platform/middleware/admin"
	authmw "ticketeer/pkg/platform/middleware/auth"
	"ticketeer/pkg/platform/middleware/metadata"
	"ticketeer/pkg/platform/middleware/ratelimit"
	"ticketeer/pkg/platform/middleware/request"
	"ticketeer/pkg/platform/middleware/requesttime"
)

// Handlers are the domain handlers mounted under /api/v1.
type Handlers struct {
	Events       *eventhandler.Handler
	Coupons      *couponhandler.Handler
	Checkout     *checkouthandler.Handler
	Tickets      *tickethandler.Handler
	Dashboard    *dashboardhandler.Handler
	Certificates *certhandler.Handler
	Venues       *venuehandler.Handler
	Payments     *paymenthandler.Handler
	Audit        *audit.Handler
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Limits are requests per minute for each rate limited route group.
type Limits struct {
	Public   int
	Checkout int
	Checkin  int
}

type Deps struct {
	Logger     *slog.Logger
	Validator  authmw.JWTValidator
	Limiter    *ratelimit.Middleware
	Limits     Limits
	AdminToken string
	CORSOrigin string
	Metrics    http.Handler
	Health     map[string]HealthCheck
}

func NewRouter(d Deps, h Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(request.Recover(d.Logger))
	r.Use(request.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(request.AccessLog(d.Logger))
	r.Use(cors(d.CORSOrigin))

	r.Get("/healthz", health(d.Health))
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Gateway callbacks authenticate themselves and are never limited.
		h.Payments.Register(r)

		r.Group(func(r chi.Router) {
			r.Use(authmw.OptionalAuth(d.Validator))
			r.Use(d.Limiter.Limit(ratelimit.Rule{Class: "public", Limit: d.Limits.Public, Window: time.Minute}))
			h.Events.RegisterPublic(r)
			h.Coupons.RegisterPublic(r)
			h.Certificates.RegisterPublic(r)
			h.Venues.RegisterPublic(r)
		})

		r.Group(func(r chi.Router) {
			r.Use(authmw.RequireAuth(d.Validator, d.Logger))
			h.Tickets.Register(r)
			h.Certificates.Register(r)

			r.Group(func(r chi.Router) {
				r.Use(d.Limiter.Limit(ratelimit.Rule{Class: "checkout", Limit: d.Limits.Checkout, Window: time.Minute}))
				h.Checkout.Register(r)
				h.Venues.Register(r)
			})

			r.Group(func(r chi.Router) {
				r.Use(authmw.RequireRole(d.Logger, id.RoleOrganizer, id.RoleAdmin))
				h.Events.RegisterOrganizer(r)
				h.Coupons.RegisterOrganizer(r)
				h.Checkout.RegisterOrganizer(r)
				h.Dashboard.RegisterOrganizer(r)
				h.Certificates.RegisterOrganizer(r)
			})

			r.Group(func(r chi.Router) {
				r.Use(authmw.RequireRole(d.Logger, id.RoleStaff, id.RoleOrganizer, id.RoleAdmin))
				r.Use(d.Limiter.Limit(ratelimit.Rule{Class: "checkin", Limit: d.Limits.Checkin, Window: time.Minute}))
				h.Tickets.RegisterDoor(r)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(authmw.OptionalAuth(d.Validator))
			r.Use(adminmw.RequireAdmin(d.AdminToken, d.Logger))
			h.Venues.RegisterAdmin(r)
			h.Audit.Register(r)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "error_description": "route not found"})
	})
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func health(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(checks))}
		status := http.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}

// cors admits a single configured origin, which is all the web client needs.
func cors(origin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin != "" && r.Header.Get("Origin") == origin {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
				if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Idempotency-Key, X-Request-ID, X-Admin-Token")
					w.Header().Set("Access-Control-Max-Age", "600")
					w.WriteHeader(http.StatusNoContent)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
