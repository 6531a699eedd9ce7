package models

import (
	"time"

	id "ticketeer/pkg/domain"
)

// IssuedTicket summarizes a ticket for receipts and notifications.
type IssuedTicket struct {
	ID             id.TicketID `json:"id"`
	Code           string      `json:"code"`
	TicketTypeName string      `json:"ticket_type_name"`
	HolderName     string      `json:"holder_name"`
	QRCodeURL      string      `json:"qr_code_url"`
}

// OrderPaid is the broker payload of order.paid.
type OrderPaid struct {
	OrderID       id.OrderID     `json:"order_id"`
	Reference     string         `json:"reference"`
	EventID       id.EventID     `json:"event_id"`
	EventTitle    string         `json:"event_title"`
	EventStartsAt time.Time      `json:"event_starts_at"`
	VenueName     string         `json:"venue_name"`
	BuyerName     string         `json:"buyer_name"`
	BuyerEmail    string         `json:"buyer_email"`
	TotalCents    int64          `json:"total_cents"`
	Currency      id.Currency    `json:"currency"`
	Tickets       []IssuedTicket `json:"tickets"`
}

// OrderRefunded is the broker payload of order.refunded.
type OrderRefunded struct {
	OrderID     id.OrderID  `json:"order_id"`
	Reference   string      `json:"reference"`
	EventID     id.EventID  `json:"event_id"`
	EventTitle  string      `json:"event_title"`
	BuyerName   string      `json:"buyer_name"`
	BuyerEmail  string      `json:"buyer_email"`
	AmountCents int64       `json:"amount_cents"`
	Currency    id.Currency `json:"currency"`
	Reason      string      `json:"reason,omitempty"`
}
