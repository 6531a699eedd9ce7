package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	id "ticketeer/pkg/domain"
	dErrors "ticketeer/pkg/domain-errors"
	"ticketeer/pkg/platform/httputil"
	"ticketeer/pkg/platform/secrets"
	"ticketeer/pkg/requestcontext"
)

const HeaderAdminToken = "X-Admin-Token"

// RequireAdmin admits requests carrying the operator token or an admin JWT.
// expected may be the raw token or its bcrypt hash. An empty expected
// disables the token path.
func RequireAdmin(expected string, logger *slog.Logger) func(http.Handler) http.Handler {
	match := tokenMatcher(expected)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if token := r.Header.Get(HeaderAdminToken); token != "" && match(token) {
				if requestcontext.ActorFrom(ctx).IsZero() {
					ctx = requestcontext.WithActor(ctx, requestcontext.Actor{Role: id.RoleAdmin, Name: "operator"})
				}
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			if requestcontext.ActorFrom(ctx).Role.IsAdmin() {
				next.ServeHTTP(w, r)
				return
			}
			logger.WarnContext(ctx, "admin access denied",
				"request_id", requestcontext.RequestID(ctx),
			)
			httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "admin access required"))
		})
	}
}

func tokenMatcher(expected string) func(string) bool {
	switch {
	case expected == "":
		return func(string) bool { return false }
	case secrets.IsHash(expected):
		return func(token string) bool { return secrets.Verify(token, expected) == nil }
	}
	return func(token string) bool {
		return subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
	}
}
