package models

import (
	"strings"
	"time"
	"unicode/utf8"

	id "ticketeer/pkg/domain"
	dErrors "ticketeer/pkg/domain-errors"
)

// TicketType is a purchasable inventory unit of an event.
//
// Invariants:
//   - 0 ≤ SoldQuantity ≤ TotalQuantity
//   - PriceCents ≥ 0 (zero means free)
//   - MaxPerOrder ≥ 1
//   - SalesEndAt, when set, is after SalesStartAt
type TicketType struct {
	ID            id.TicketTypeID `json:"id"`
	EventID       id.EventID      `json:"event_id"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	PriceCents    int64           `json:"price_cents"`
	TotalQuantity int             `json:"total_quantity"`
	SoldQuantity  int             `json:"sold_quantity"`
	MaxPerOrder   int             `json:"max_per_order"`
	SalesStartAt  *time.Time      `json:"sales_start_at,omitempty"`
	SalesEndAt    *time.Time      `json:"sales_end_at,omitempty"`
	Active        bool            `json:"active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// TicketTypeDetails are the organizer-editable fields.
type TicketTypeDetails struct {
	Name          string
	Description   string
	PriceCents    int64
	TotalQuantity int
	MaxPerOrder   int
	SalesStartAt  *time.Time
	SalesEndAt    *time.Time
}

const defaultMaxPerOrder = 10

func (d *TicketTypeDetails) normalize() error {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" || utf8.RuneCountInString(d.Name) > 120 {
		return dErrors.New(dErrors.CodeValidation, "ticket type name must be between 1 and 120 characters")
	}
	if d.PriceCents < 0 {
		return dErrors.New(dErrors.CodeValidation, "price cannot be negative")
	}
	if d.TotalQuantity < 1 {
		return dErrors.New(dErrors.CodeValidation, "total quantity must be at least 1")
	}
	if d.MaxPerOrder == 0 {
		d.MaxPerOrder = defaultMaxPerOrder
	}
	if d.MaxPerOrder < 1 {
		return dErrors.New(dErrors.CodeValidation, "max per order must be at least 1")
	}
	if d.SalesStartAt != nil && d.SalesEndAt != nil && !d.SalesEndAt.After(*d.SalesStartAt) {
		return dErrors.New(dErrors.CodeValidation, "sales_end_at must be after sales_start_at")
	}
	return nil
}

func NewTicketType(typeID id.TicketTypeID, eventID id.EventID, d TicketTypeDetails, now time.Time) (*TicketType, error) {
	if err := d.normalize(); err != nil {
		return nil, err
	}
	t := &TicketType{
		ID:        typeID,
		EventID:   eventID,
		Active:    true,
		CreatedAt: now,
	}
	t.apply(d, now)
	return t, nil
}

// ApplyDetails edits the ticket type; the total may not drop below what has
// already been sold.
func (t *TicketType) ApplyDetails(d TicketTypeDetails, now time.Time) error {
	if err := d.normalize(); err != nil {
		return err
	}
	if d.TotalQuantity < t.SoldQuantity {
		return dErrors.Newf(dErrors.CodeConflict, "total quantity cannot be lower than the %d already sold", t.SoldQuantity)
	}
	t.apply(d, now)
	return nil
}

func (t *TicketType) apply(d TicketTypeDetails, now time.Time) {
	t.Name = d.Name
	t.Description = strings.TrimSpace(d.Description)
	t.PriceCents = d.PriceCents
	t.TotalQuantity = d.TotalQuantity
	t.MaxPerOrder = d.MaxPerOrder
	t.SalesStartAt = d.SalesStartAt
	t.SalesEndAt = d.SalesEndAt
	t.UpdatedAt = now
}

func (t *TicketType) Available() int {
	if n := t.TotalQuantity - t.SoldQuantity; n > 0 {
		return n
	}
	return 0
}

// OnSale reports whether the type can be bought at now.
func (t *TicketType) OnSale(now time.Time) bool {
	if !t.Active || t.Available() == 0 {
		return false
	}
	if t.SalesStartAt != nil && now.Before(*t.SalesStartAt) {
		return false
	}
	if t.SalesEndAt != nil && !now.Before(*t.SalesEndAt) {
		return false
	}
	return true
}

func (t *TicketType) CanDelete() error {
	if t.SoldQuantity > 0 {
		return dErrors.New(dErrors.CodeConflict, "ticket types with sales cannot be deleted; deactivate instead")
	}
	return nil
}

// TicketTypeView adds computed availability for API responses.
type TicketTypeView struct {
	*TicketType
	Available int  `json:"available"`
	OnSale    bool `json:"on_sale"`
}

func (t *TicketType) View(now time.Time) TicketTypeView {
	return TicketTypeView{TicketType: t, Available: t.Available(), OnSale: t.OnSale(now)}
}
