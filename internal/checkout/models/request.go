package models

import (
	"ticketeer/internal/payments"
	id "ticketeer/pkg/domain"
)

type LineRequest struct {
	TicketTypeID id.TicketTypeID `json:"ticket_type_id"`
	Quantity     int             `json:"quantity"`
}

// CheckoutRequest is a buyer's cart. An empty Provider selects the
// configured default.
type CheckoutRequest struct {
	EventID        id.EventID
	Items          []LineRequest
	CouponCode     string
	Provider       payments.Provider
	Method         payments.Method
	Buyer          Buyer
	IdempotencyKey string
}

// MergedLines folds duplicate ticket types into one line, keeping first
// appearance order.
func (r CheckoutRequest) MergedLines() []LineRequest {
	out := make([]LineRequest, 0, len(r.Items))
	index := make(map[id.TicketTypeID]int, len(r.Items))
	for _, l := range r.Items {
		if i, ok := index[l.TicketTypeID]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		index[l.TicketTypeID] = len(out)
		out = append(out, l)
	}
	return out
}
