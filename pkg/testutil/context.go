package testutil

import (
	"net/http"
	"time"

	id "ticketeer/pkg/domain"
	"ticketeer/pkg/requestcontext"
)

// WithActor simulates what the auth middleware does for an authenticated
// request.
func WithActor(req *http.Request, actor requestcontext.Actor) *http.Request {
	return req.WithContext(requestcontext.WithActor(req.Context(), actor))
}

// AsUser authenticates req as userID with role. An invalid ID leaves the
// request anonymous.
func AsUser(req *http.Request, userID string, role id.Role) *http.Request {
	uid, err := id.ParseUserID(userID)
	if err != nil {
		return req
	}
	return WithActor(req, requestcontext.Actor{UserID: uid, Email: userID[:8] + "@example.com", Role: role})
}

// AtTime pins the request clock.
func AtTime(req *http.Request, t time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), t))
}
