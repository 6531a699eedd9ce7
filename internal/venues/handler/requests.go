package handler

import (
	"strings"
	"time"

	"ticketeer/internal/payments"
	"ticketeer/internal/venues/models"
	id "ticketeer/pkg/domain"
	dErrors "ticketeer/pkg/domain-errors"
)

type QuoteRequest struct {
	SpaceID     string              `json:"space_id"`
	StartsAt    time.Time           `json:"starts_at"`
	EndsAt      time.Time           `json:"ends_at"`
	Headcount   int                 `json:"headcount"`
	Services    []string            `json:"services"`
	CoffeeBreak *models.CoffeeBreak `json:"coffee_break"`

	spaceID id.SpaceID
}

func (r *QuoteRequest) Validate() error {
	spaceID, err := id.ParseSpaceID(r.SpaceID)
	if err != nil {
		return err
	}
	r.spaceID = spaceID
	if r.StartsAt.IsZero() || r.EndsAt.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "starts_at and ends_at are required")
	}
	if len(r.Services) > 20 {
		return dErrors.New(dErrors.CodeValidation, "too many services")
	}
	return nil
}

func (r *QuoteRequest) toModel() models.QuoteRequest {
	return models.QuoteRequest{
		SpaceID:     r.spaceID,
		StartsAt:    r.StartsAt,
		EndsAt:      r.EndsAt,
		Headcount:   r.Headcount,
		Services:    r.Services,
		CoffeeBreak: r.CoffeeBreak,
	}
}

type BookingRequest struct {
	QuoteRequest
	Provider         string `json:"provider"`
	Method           string `json:"method"`
	CustomerName     string `json:"customer_name"`
	CustomerEmail    string `json:"customer_email"`
	CustomerDocument string `json:"customer_document"`
	Notes            string `json:"notes"`

	provider payments.Provider
	method   payments.Method
}

func (r *BookingRequest) Validate() error {
	if err := r.QuoteRequest.Validate(); err != nil {
		return err
	}
	var err error
	if strings.TrimSpace(r.Provider) != "" {
		if r.provider, err = payments.ParseProvider(r.Provider); err != nil {
			return err
		}
	}
	if r.method, err = payments.ParseMethod(r.Method); err != nil {
		return err
	}
	r.Notes = strings.TrimSpace(r.Notes)
	if len(r.Notes) > 2000 {
		return dErrors.New(dErrors.CodeValidation, "notes must be at most 2000 characters")
	}
	return nil
}

func (r *BookingRequest) toModel() models.BookingRequest {
	return models.BookingRequest{
		QuoteRequest: r.QuoteRequest.toModel(),
		Customer: models.Customer{
			Name:     r.CustomerName,
			Email:    r.CustomerEmail,
			Document: r.CustomerDocument,
		},
		Notes:    r.Notes,
		Provider: r.provider,
		Method:   r.method,
	}
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

func (r *CancelRequest) Validate() error {
	r.Reason = strings.TrimSpace(r.Reason)
	if len(r.Reason) > 500 {
		return dErrors.New(dErrors.CodeValidation, "reason is too long")
	}
	return nil
}

// SpaceRequest is the admin payload for creating or editing a space.
type SpaceRequest struct {
	models.SpaceInput
}

func (r *SpaceRequest) Validate() error { return r.SpaceInput.Validate() }
