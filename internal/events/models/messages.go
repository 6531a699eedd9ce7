package models

import (
	"time"

	id "ticketeer/pkg/domain"
)

// Cancelled is the broker payload of event.cancelled.
type Cancelled struct {
	EventID   id.EventID `json:"event_id"`
	Title     string     `json:"title"`
	VenueName string     `json:"venue_name"`
	StartsAt  time.Time  `json:"starts_at"`
}
