package handler

import (
	"strings"

	"ticketeer/internal/checkout/models"
	"ticketeer/internal/payments"
	id "ticketeer/pkg/domain"
	dErrors "ticketeer/pkg/domain-errors"
)

type CheckoutRequest struct {
	EventID        string               `json:"event_id"`
	Items          []models.LineRequest `json:"items"`
	CouponCode     string               `json:"coupon_code"`
	Provider       string               `json:"provider"`
	Method         string               `json:"method"`
	BuyerName      string               `json:"buyer_name"`
	BuyerEmail     string               `json:"buyer_email"`
	BuyerDocument  string               `json:"buyer_document"`
	IdempotencyKey string               `json:"idempotency_key"`

	eventID  id.EventID
	provider payments.Provider
	method   payments.Method
}

func (r *CheckoutRequest) Validate() error {
	eventID, err := id.ParseEventID(r.EventID)
	if err != nil {
		return err
	}
	r.eventID = eventID
	if len(r.Items) == 0 {
		return dErrors.New(dErrors.CodeValidation, "items are required")
	}
	if len(r.Items) > 20 {
		return dErrors.New(dErrors.CodeValidation, "too many cart lines")
	}
	if strings.TrimSpace(r.Provider) != "" {
		if r.provider, err = payments.ParseProvider(r.Provider); err != nil {
			return err
		}
	}
	if r.method, err = payments.ParseMethod(r.Method); err != nil {
		return err
	}
	if len(r.IdempotencyKey) > 128 {
		return dErrors.New(dErrors.CodeValidation, "idempotency key is too long")
	}
	return nil
}

// toModel lets the Idempotency-Key header stand in for the body field.
func (r *CheckoutRequest) toModel(headerKey string) models.CheckoutRequest {
	key := r.IdempotencyKey
	if key == "" {
		key = headerKey
	}
	return models.CheckoutRequest{
		EventID:    r.eventID,
		Items:      r.Items,
		CouponCode: r.CouponCode,
		Provider:   r.provider,
		Method:     r.method,
		Buyer: models.Buyer{
			Name:     r.BuyerName,
			Email:    r.BuyerEmail,
			Document: strings.Map(keepDigits, r.BuyerDocument),
		},
		IdempotencyKey: key,
	}
}

func keepDigits(r rune) rune {
	if r >= '0' && r <= '9' {
		return r
	}
	return -1
}

type RefundRequest struct {
	Reason string `json:"reason"`
}

func (r *RefundRequest) Validate() error {
	r.Reason = strings.TrimSpace(r.Reason)
	if len(r.Reason) > 500 {
		return dErrors.New(dErrors.CodeValidation, "reason is too long")
	}
	return nil
}
