package models

import (
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	id "ticketeer/pkg/domain"
	dErrors "ticketeer/pkg/domain-errors"
	"ticketeer/pkg/requestcontext"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusCancelled Status = "cancelled"
)

// CanTransitionTo encodes draft ⇄ published and {draft, published} → cancelled.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusDraft:
		return next == StatusPublished || next == StatusCancelled
	case StatusPublished:
		return next == StatusDraft || next == StatusCancelled
	}
	return false
}

// Event is the aggregate root for something people buy tickets to.
//
// Invariants:
//   - Title is 1..200 characters
//   - EndsAt is after StartsAt
//   - Capacity is zero (unbounded) or positive
//   - Cancelled is terminal; a cancelled event is immutable
type Event struct {
	ID               id.EventID  `json:"id"`
	OrganizerID      id.UserID   `json:"organizer_id"`
	Title            string      `json:"title"`
	Slug             string      `json:"slug"`
	Description      string      `json:"description"`
	VenueName        string      `json:"venue_name"`
	VenueAddress     string      `json:"venue_address"`
	StartsAt         time.Time   `json:"starts_at"`
	EndsAt           time.Time   `json:"ends_at"`
	Capacity         int         `json:"capacity"`
	Currency         id.Currency `json:"currency"`
	Status           Status      `json:"status"`
	CertificateHours int         `json:"certificate_hours"`
	CoverImageURL    string      `json:"cover_image_url,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
	PublishedAt      *time.Time  `json:"published_at,omitempty"`
}

// Details are the organizer-editable fields of an event.
type Details struct {
	Title            string
	Description      string
	VenueName        string
	VenueAddress     string
	StartsAt         time.Time
	EndsAt           time.Time
	Capacity         int
	Currency         id.Currency
	CertificateHours int
	CoverImageURL    string
}

func (d *Details) validate() error {
	title := strings.TrimSpace(d.Title)
	if title == "" || utf8.RuneCountInString(title) > 200 {
		return dErrors.New(dErrors.CodeValidation, "title must be between 1 and 200 characters")
	}
	if d.StartsAt.IsZero() || d.EndsAt.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "starts_at and ends_at are required")
	}
	if !d.EndsAt.After(d.StartsAt) {
		return dErrors.New(dErrors.CodeValidation, "ends_at must be after starts_at")
	}
	if d.Capacity < 0 {
		return dErrors.New(dErrors.CodeValidation, "capacity cannot be negative")
	}
	if d.CertificateHours < 0 {
		return dErrors.New(dErrors.CodeValidation, "certificate_hours cannot be negative")
	}
	c, err := id.ParseCurrency(string(d.Currency))
	if err != nil {
		return err
	}
	d.Currency = c
	return nil
}

func NewEvent(eventID id.EventID, organizer id.UserID, d Details, now time.Time) (*Event, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	e := &Event{
		ID:          eventID,
		OrganizerID: organizer,
		Status:      StatusDraft,
		CreatedAt:   now,
	}
	e.apply(d, now)
	e.Slug = Slugify(e.Title) + "-" + strings.ReplaceAll(eventID.String(), "-", "")[:6]
	return e, nil
}

// ApplyDetails replaces the editable fields. The slug is stable across edits.
func (e *Event) ApplyDetails(d Details, now time.Time) error {
	if e.Status == StatusCancelled {
		return dErrors.New(dErrors.CodeInvalidState, "cancelled events cannot be edited")
	}
	if err := d.validate(); err != nil {
		return err
	}
	e.apply(d, now)
	return nil
}

func (e *Event) apply(d Details, now time.Time) {
	e.Title = strings.TrimSpace(d.Title)
	e.Description = d.Description
	e.VenueName = strings.TrimSpace(d.VenueName)
	e.VenueAddress = strings.TrimSpace(d.VenueAddress)
	e.StartsAt = d.StartsAt.UTC()
	e.EndsAt = d.EndsAt.UTC()
	e.Capacity = d.Capacity
	e.Currency = d.Currency
	e.CertificateHours = d.CertificateHours
	e.CoverImageURL = strings.TrimSpace(d.CoverImageURL)
	e.UpdatedAt = now
}

func (e *Event) IsPublished() bool { return e.Status == StatusPublished }
func (e *Event) IsCancelled() bool { return e.Status == StatusCancelled }

func (e *Event) HasStarted(now time.Time) bool { return !now.Before(e.StartsAt) }
func (e *Event) HasEnded(now time.Time) bool   { return !now.Before(e.EndsAt) }

// OwnedBy reports whether the user organizes this event.
func (e *Event) OwnedBy(user id.UserID) bool { return !user.IsNil() && e.OrganizerID == user }

// CanPublish requires a draft with at least one active ticket type that has
// not started yet.
func (e *Event) CanPublish(now time.Time, activeTicketTypes int) error {
	if !e.Status.CanTransitionTo(StatusPublished) {
		return dErrors.Newf(dErrors.CodeInvalidState, "cannot publish a %s event", e.Status)
	}
	if e.HasStarted(now) {
		return dErrors.New(dErrors.CodeInvalidState, "cannot publish an event that has already started")
	}
	if activeTicketTypes == 0 {
		return dErrors.New(dErrors.CodeInvalidState, "an event needs at least one active ticket type to be published")
	}
	return nil
}

func (e *Event) ApplyPublish(now time.Time) {
	e.Status = StatusPublished
	e.PublishedAt = &now
	e.UpdatedAt = now
}

func (e *Event) CanUnpublish(ticketsSold int) error {
	if e.Status != StatusPublished {
		return dErrors.Newf(dErrors.CodeInvalidState, "cannot unpublish a %s event", e.Status)
	}
	if ticketsSold > 0 {
		return dErrors.New(dErrors.CodeConflict, "cannot unpublish an event with tickets sold")
	}
	return nil
}

func (e *Event) ApplyUnpublish(now time.Time) {
	e.Status = StatusDraft
	e.PublishedAt = nil
	e.UpdatedAt = now
}

func (e *Event) CanCancel() error {
	if !e.Status.CanTransitionTo(StatusCancelled) {
		return dErrors.New(dErrors.CodeInvalidState, "event is already cancelled")
	}
	return nil
}

func (e *Event) ApplyCancel(now time.Time) {
	e.Status = StatusCancelled
	e.UpdatedAt = now
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lower-cases, strips accents and joins words with dashes.
func Slugify(s string) string {
	var b strings.Builder
	for _, r := range norm.NFD.String(strings.ToLower(s)) {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	slug := strings.Trim(nonSlug.ReplaceAllString(b.String(), "-"), "-")
	if len(slug) > 60 {
		slug = strings.TrimRight(slug[:60], "-")
	}
	if slug == "" {
		slug = "event"
	}
	return slug
}

// ManageableBy reports whether actor may administer the event: its organizer
// or an admin.
func (e *Event) ManageableBy(a requestcontext.Actor) bool {
	return a.Role.IsAdmin() || e.OwnedBy(a.UserID)
}

// VisibleTo hides drafts from everyone but their managers.
func (e *Event) VisibleTo(a requestcontext.Actor) bool {
	return e.Status != StatusDraft || e.ManageableBy(a)
}
