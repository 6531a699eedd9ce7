package handler

import (
	"html/template"
	"strings"
	"time"

	"ticketeer/internal/events/models"
	"ticketeer/internal/platform/markdown"
	id "ticketeer/pkg/domain"
	dErrors "ticketeer/pkg/domain-errors"
)

type EventRequest struct {
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	VenueName        string    `json:"venue_name"`
	VenueAddress     string    `json:"venue_address"`
	StartsAt         time.Time `json:"starts_at"`
	EndsAt           time.Time `json:"ends_at"`
	Capacity         int       `json:"capacity"`
	Currency         string    `json:"currency"`
	CertificateHours int       `json:"certificate_hours"`
	CoverImageURL    string    `json:"cover_image_url"`
}

func (r *EventRequest) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return dErrors.New(dErrors.CodeValidation, "title is required")
	}
	if r.Currency == "" {
		r.Currency = string(id.CurrencyBRL)
	}
	if len(r.Description) > 20000 {
		return dErrors.New(dErrors.CodeValidation, "description is too long")
	}
	return nil
}

func (r *EventRequest) details() models.Details {
	return models.Details{
		Title:            r.Title,
		Description:      r.Description,
		VenueName:        r.VenueName,
		VenueAddress:     r.VenueAddress,
		StartsAt:         r.StartsAt,
		EndsAt:           r.EndsAt,
		Capacity:         r.Capacity,
		Currency:         id.Currency(r.Currency),
		CertificateHours: r.CertificateHours,
		CoverImageURL:    r.CoverImageURL,
	}
}

type TicketTypeRequest struct {
	Name          string     `json:"name"`
	Description   string     `json:"description"`
	PriceCents    int64      `json:"price_cents"`
	TotalQuantity int        `json:"total_quantity"`
	MaxPerOrder   int        `json:"max_per_order"`
	SalesStartAt  *time.Time `json:"sales_start_at"`
	SalesEndAt    *time.Time `json:"sales_end_at"`
}

func (r *TicketTypeRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return dErrors.New(dErrors.CodeValidation, "name is required")
	}
	if r.TotalQuantity <= 0 {
		return dErrors.New(dErrors.CodeValidation, "total_quantity must be positive")
	}
	return nil
}

func (r *TicketTypeRequest) details() models.TicketTypeDetails {
	return models.TicketTypeDetails{
		Name:          r.Name,
		Description:   r.Description,
		PriceCents:    r.PriceCents,
		TotalQuantity: r.TotalQuantity,
		MaxPerOrder:   r.MaxPerOrder,
		SalesStartAt:  r.SalesStartAt,
		SalesEndAt:    r.SalesEndAt,
	}
}

// EventResponse adds the rendered description.
type EventResponse struct {
	*models.Event
	DescriptionHTML template.HTML `json:"description_html"`
}

func toResponse(e *models.Event) EventResponse {
	return EventResponse{Event: e, DescriptionHTML: markdown.MustRender(e.Description)}
}

func toResponses(events []*models.Event) []EventResponse {
	out := make([]EventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, toResponse(e))
	}
	return out
}
