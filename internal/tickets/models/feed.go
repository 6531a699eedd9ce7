package models

import (
	"time"

	id "ticketeer/pkg/domain"
)

type FeedKind string

const (
	FeedCheckedIn FeedKind = "checked_in"
	FeedUndone    FeedKind = "undone"
)

// FeedMessage is streamed to door dashboards watching an event.
type FeedMessage struct {
	Kind           FeedKind      `json:"kind"`
	EventID        id.EventID    `json:"event_id"`
	TicketID       id.TicketID   `json:"ticket_id"`
	TicketTypeName string        `json:"ticket_type_name"`
	HolderName     string        `json:"holder_name"`
	Method         CheckInMethod `json:"method,omitempty"`
	At             time.Time     `json:"at"`
	CheckedIn      int           `json:"checked_in"`
	Issued         int           `json:"issued"`
}
