package models

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"
	"time"

	id "ticketeer/pkg/domain"
	dErrors "ticketeer/pkg/domain-errors"
)

type Status string

const (
	StatusValid Status = "valid"
	StatusUsed  Status = "used"
	StatusVoid  Status = "void"
)

type CheckInMethod string

const (
	MethodQR     CheckInMethod = "qr"
	MethodManual CheckInMethod = "manual"
)

// ParseCheckInMethod defaults an empty method to qr.
func ParseCheckInMethod(s string) (CheckInMethod, error) {
	switch m := CheckInMethod(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return MethodQR, nil
	case MethodQR, MethodManual:
		return m, nil
	}
	return "", dErrors.Newf(dErrors.CodeValidation, "unsupported check-in method %q", s)
}

var codeEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewCode returns 20 random bytes as unpadded base32: 32 characters from
// A-Z and 2-7, safe to print and to type at a door.
func NewCode() (string, error) {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return codeEncoding.EncodeToString(b), nil
}

// NormalizeCode undoes what scanners and people do to a code: spaces,
// dashes and lower case.
func NormalizeCode(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r == ' ' || r == '-':
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}

// Ticket is one admission.
//
// Invariants:
//   - Code is unique across all tickets
//   - CheckedInAt and CheckedInBy are set exactly when Status is used
//   - void is terminal
type Ticket struct {
	ID             id.TicketID     `json:"id"`
	OrderID        id.OrderID      `json:"order_id"`
	EventID        id.EventID      `json:"event_id"`
	TicketTypeID   id.TicketTypeID `json:"ticket_type_id"`
	TicketTypeName string          `json:"ticket_type_name"`
	HolderID       id.UserID       `json:"holder_id"`
	HolderName     string          `json:"holder_name"`
	HolderEmail    string          `json:"holder_email"`
	Seq            int             `json:"-"`
	Code           string          `json:"code"`
	Status         Status          `json:"status"`
	CheckedInAt    *time.Time      `json:"checked_in_at,omitempty"`
	CheckedInBy    *id.UserID      `json:"checked_in_by,omitempty"`
	CheckInMethod  CheckInMethod   `json:"check_in_method,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`

	QRCodeURL string `json:"qr_code_url,omitempty"`
}

func (t *Ticket) IsUsed() bool { return t.Status == StatusUsed }

// CanCheckIn rejects void tickets and reports the first admission of a used
// one.
func (t *Ticket) CanCheckIn() error {
	switch t.Status {
	case StatusVoid:
		return dErrors.New(dErrors.CodeInvalidState, "ticket is void")
	case StatusUsed:
		at := ""
		if t.CheckedInAt != nil {
			at = " at " + t.CheckedInAt.UTC().Format(time.RFC3339)
		}
		return dErrors.New(dErrors.CodeConflict, "ticket already checked in"+at)
	}
	return nil
}

func (t *Ticket) ApplyCheckIn(by id.UserID, method CheckInMethod, now time.Time) {
	t.Status = StatusUsed
	t.CheckedInAt = &now
	t.CheckedInBy = &by
	t.CheckInMethod = method
	t.UpdatedAt = now
}

func (t *Ticket) CanUndoCheckIn() error {
	if t.Status != StatusUsed {
		return dErrors.New(dErrors.CodeInvalidState, "ticket is not checked in")
	}
	return nil
}

func (t *Ticket) ApplyUndoCheckIn(now time.Time) {
	t.Status = StatusValid
	t.CheckedInAt = nil
	t.CheckedInBy = nil
	t.CheckInMethod = ""
	t.UpdatedAt = now
}

// ApplyVoid is idempotent.
func (t *Ticket) ApplyVoid(now time.Time) {
	if t.Status == StatusVoid {
		return
	}
	t.Status = StatusVoid
	t.UpdatedAt = now
}

// Filter narrows event ticket listings. Query matches holder name, email or
// code prefix, case-insensitively.
type Filter struct {
	Status Status
	Query  string
	Limit  int
	Offset int
}

func (f Filter) Matches(t *Ticket) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Query == "" {
		return true
	}
	q := strings.ToLower(f.Query)
	return strings.Contains(strings.ToLower(t.HolderName), q) ||
		strings.Contains(strings.ToLower(t.HolderEmail), q) ||
		strings.HasPrefix(strings.ToLower(t.Code), q)
}

func (f Filter) PageSize() int {
	if f.Limit <= 0 || f.Limit > 500 {
		return 100
	}
	return f.Limit
}

// Counts summarizes an event's tickets.
type Counts struct {
	Issued    int `json:"issued"`
	CheckedIn int `json:"checked_in"`
	Void      int `json:"void"`
}

// CheckInRate is the share of live tickets that have been admitted.
func (c Counts) CheckInRate() float64 {
	live := c.Issued - c.Void
	if live <= 0 {
		return 0
	}
	return float64(c.CheckedIn) / float64(live)
}
