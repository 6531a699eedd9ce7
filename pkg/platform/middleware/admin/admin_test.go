package admin

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "ticketeer/pkg/domain"
	"ticketeer/pkg/platform/secrets"
	"ticketeer/pkg/requestcontext"
)

func TestRequireAdmin(t *testing.T) {
	hash, err := secrets.Hash("hashed-operator")
	require.NoError(t, err)

	var seen requestcontext.Actor
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestcontext.ActorFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name     string
		expected string
		token    string
		actor    requestcontext.Actor
		status   int
	}{
		{name: "raw token", expected: "operator", token: "operator", status: http.StatusNoContent},
		{name: "wrong raw token", expected: "operator", token: "guess", status: http.StatusForbidden},
		{name: "hashed token", expected: hash, token: "hashed-operator", status: http.StatusNoContent},
		{name: "wrong hashed token", expected: hash, token: "guess", status: http.StatusForbidden},
		{name: "token path disabled", expected: "", token: "", status: http.StatusForbidden},
		{name: "admin jwt", expected: "", actor: requestcontext.Actor{UserID: id.NewUserID(), Role: id.RoleAdmin}, status: http.StatusNoContent},
		{name: "organizer jwt", expected: "operator", actor: requestcontext.Actor{UserID: id.NewUserID(), Role: id.RoleOrganizer}, status: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = requestcontext.Actor{}
			req := httptest.NewRequest(http.MethodGet, "/admin/audit", nil)
			if tt.token != "" {
				req.Header.Set(HeaderAdminToken, tt.token)
			}
			if !tt.actor.IsZero() {
				req = req.WithContext(requestcontext.WithActor(req.Context(), tt.actor))
			}
			rr := httptest.NewRecorder()
			RequireAdmin(tt.expected, slog.New(slog.DiscardHandler))(next).ServeHTTP(rr, req)

			assert.Equal(t, tt.status, rr.Code)
			if tt.status == http.StatusNoContent {
				assert.True(t, seen.Role.IsAdmin())
			}
		})
	}
}
