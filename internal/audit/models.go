package audit

import "time"

// Actions recorded by the services.
const (
	ActionEventPublished      = "event.published"
	ActionEventCancelled      = "event.cancelled"
	ActionOrderRefunded       = "order.refunded"
	ActionTicketCheckedIn     = "ticket.checked_in"
	ActionTicketCheckInUndone = "ticket.checkin_undone"
	ActionCertificatesIssued  = "certificates.issued"
	ActionBookingCancelled    = "booking.cancelled"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	ActorID   string    `json:"actor_id,omitempty"`
	ActorRole string    `json:"actor_role,omitempty"`
	Action    string    `json:"action"`
	Subject   string    `json:"subject"`
	Detail    string    `json:"detail,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

// Filter narrows List results; zero values match everything.
type Filter struct {
	Action  string
	Subject string
	Since   time.Time
	Limit   int
}

func (f Filter) matches(e Event) bool {
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Subject != "" && e.Subject != f.Subject {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

func (f Filter) limit() int {
	if f.Limit <= 0 || f.Limit > 500 {
		return 100
	}
	return f.Limit
}
