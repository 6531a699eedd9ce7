// Package domain holds the typed identifiers and small value objects shared by
// every bounded context. Typed IDs stop an OrderID from being passed where a
// TicketID is expected; they parse at trust boundaries only.
package domain

import (
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"

	dErrors "ticketeer/pkg/domain-errors"
)

type (
	UserID        uuid.UUID
	EventID       uuid.UUID
	TicketTypeID  uuid.UUID
	OrderID       uuid.UUID
	TicketID      uuid.UUID
	CouponID      uuid.UUID
	CertificateID uuid.UUID
	SpaceID       uuid.UUID
	BookingID     uuid.UUID
)

// parseID rejects empty, malformed and nil UUIDs with CodeInvalidInput.
func parseID(kind, s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s is required", kind)
	}
	if len(s) > 36 {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "invalid %s", kind)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "invalid %s", kind)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "invalid %s", kind)
	}
	return u, nil
}

func scanUUID(dst *uuid.UUID, src any) error {
	if src == nil {
		*dst = uuid.Nil
		return nil
	}
	return dst.Scan(src)
}

func valueUUID(u uuid.UUID) (driver.Value, error) {
	if u == uuid.Nil {
		return nil, nil
	}
	return u.String(), nil
}

// ParseUserID parses an UserID at a trust boundary.
func ParseUserID(s string) (UserID, error) {
	u, err := parseID("user_id", s)
	return UserID(u), err
}

// NewUserID returns a fresh random UserID.
func NewUserID() UserID { return UserID(uuid.New()) }

func (id UserID) String() string { return uuid.UUID(id).String() }
func (id UserID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id UserID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *UserID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return fmt.Errorf("parse user_id: %w", err)
	}
	*id = UserID(u)
	return nil
}

func (id UserID) Value() (driver.Value, error) { return valueUUID(uuid.UUID(id)) }
func (id *UserID) Scan(src any) error          { return scanUUID((*uuid.UUID)(id), src) }

// ParseEventID parses an EventID at a trust boundary.
func ParseEventID(s string) (EventID, error) {
	u, err := parseID("event_id", s)
	return EventID(u), err
}

// NewEventID returns a fresh random EventID.
func NewEventID() EventID { return EventID(uuid.New()) }

func (id EventID) String() string { return uuid.UUID(id).String() }
func (id EventID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id EventID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *EventID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return fmt.Errorf("parse event_id: %w", err)
	}
	*id = EventID(u)
	return nil
}

func (id EventID) Value() (driver.Value, error) { return valueUUID(uuid.UUID(id)) }
func (id *EventID) Scan(src any) error          { return scanUUID((*uuid.UUID)(id), src) }

// ParseTicketTypeID parses a TicketTypeID at a trust boundary.
func ParseTicketTypeID(s string) (TicketTypeID, error) {
	u, err := parseID("ticket_type_id", s)
	return TicketTypeID(u), err
}

// NewTicketTypeID returns a fresh random TicketTypeID.
func NewTicketTypeID() TicketTypeID { return TicketTypeID(uuid.New()) }

func (id TicketTypeID) String() string { return uuid.UUID(id).String() }
func (id TicketTypeID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id TicketTypeID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *TicketTypeID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return fmt.Errorf("parse ticket_type_id: %w", err)
	}
	*id = TicketTypeID(u)
	return nil
}

func (id TicketTypeID) Value() (driver.Value, error) { return valueUUID(uuid.UUID(id)) }
func (id *TicketTypeID) Scan(src any) error          { return scanUUID((*uuid.UUID)(id), src) }

// ParseOrderID parses an OrderID at a trust boundary.
func ParseOrderID(s string) (OrderID, error) {
	u, err := parseID("order_id", s)
	return OrderID(u), err
}

// NewOrderID returns a fresh random OrderID.
func NewOrderID() OrderID { return OrderID(uuid.New()) }

func (id OrderID) String() string { return uuid.UUID(id).String() }
func (id OrderID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id OrderID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *OrderID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return fmt.Errorf("parse order_id: %w", err)
	}
	*id = OrderID(u)
	return nil
}

func (id OrderID) Value() (driver.Value, error) { return valueUUID(uuid.UUID(id)) }
func (id *OrderID) Scan(src any) error          { return scanUUID((*uuid.UUID)(id), src) }

// ParseTicketID parses a TicketID at a trust boundary.
func ParseTicketID(s string) (TicketID, error) {
	u, err := parseID("ticket_id", s)
	return TicketID(u), err
}

// NewTicketID returns a fresh random TicketID.
func NewTicketID() TicketID { return TicketID(uuid.New()) }

func (id TicketID) String() string { return uuid.UUID(id).String() }
func (id TicketID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id TicketID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *TicketID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return fmt.Errorf("parse ticket_id: %w", err)
	}
	*id = TicketID(u)
	return nil
}

func (id TicketID) Value() (driver.Value, error) { return valueUUID(uuid.UUID(id)) }
func (id *TicketID) Scan(src any) error          { return scanUUID((*uuid.UUID)(id), src) }

// ParseCouponID parses a CouponID at a trust boundary.
func ParseCouponID(s string) (CouponID, error) {
	u, err := parseID("coupon_id", s)
	return CouponID(u), err
}

// NewCouponID returns a fresh random CouponID.
func NewCouponID() CouponID { return CouponID(uuid.New()) }

func (id CouponID) String() string { return uuid.UUID(id).String() }
func (id CouponID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id CouponID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *CouponID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return fmt.Errorf("parse coupon_id: %w", err)
	}
	*id = CouponID(u)
	return nil
}

func (id CouponID) Value() (driver.Value, error) { return valueUUID(uuid.UUID(id)) }
func (id *CouponID) Scan(src any) error          { return scanUUID((*uuid.UUID)(id), src) }

// ParseCertificateID parses a CertificateID at a trust boundary.
func ParseCertificateID(s string) (CertificateID, error) {
	u, err := parseID("certificate_id", s)
	return CertificateID(u), err
}

// NewCertificateID returns a fresh random CertificateID.
func NewCertificateID() CertificateID { return CertificateID(uuid.New()) }

func (id CertificateID) String() string { return uuid.UUID(id).String() }
func (id CertificateID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id CertificateID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *CertificateID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return fmt.Errorf("parse certificate_id: %w", err)
	}
	*id = CertificateID(u)
	return nil
}

func (id CertificateID) Value() (driver.Value, error) { return valueUUID(uuid.UUID(id)) }
func (id *CertificateID) Scan(src any) error          { return scanUUID((*uuid.UUID)(id), src) }

// ParseSpaceID parses a SpaceID at a trust boundary.
func ParseSpaceID(s string) (SpaceID, error) {
	u, err := parseID("space_id", s)
	return SpaceID(u), err
}

// NewSpaceID returns a fresh random SpaceID.
func NewSpaceID() SpaceID { return SpaceID(uuid.New()) }

func (id SpaceID) String() string { return uuid.UUID(id).String() }
func (id SpaceID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id SpaceID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *SpaceID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return fmt.Errorf("parse space_id: %w", err)
	}
	*id = SpaceID(u)
	return nil
}

func (id SpaceID) Value() (driver.Value, error) { return valueUUID(uuid.UUID(id)) }
func (id *SpaceID) Scan(src any) error          { return scanUUID((*uuid.UUID)(id), src) }

// ParseBookingID parses a BookingID at a trust boundary.
func ParseBookingID(s string) (BookingID, error) {
	u, err := parseID("booking_id", s)
	return BookingID(u), err
}

// NewBookingID returns a fresh random BookingID.
func NewBookingID() BookingID { return BookingID(uuid.New()) }

func (id BookingID) String() string { return uuid.UUID(id).String() }
func (id BookingID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id BookingID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *BookingID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return fmt.Errorf("parse booking_id: %w", err)
	}
	*id = BookingID(u)
	return nil
}

func (id BookingID) Value() (driver.Value, error) { return valueUUID(uuid.UUID(id)) }
func (id *BookingID) Scan(src any) error          { return scanUUID((*uuid.UUID)(id), src) }
