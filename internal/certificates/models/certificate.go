package models

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"math"
	"strings"
	"time"

	id "ticketeer/pkg/domain"
)

// Certificate attests that a ticket holder attended an event.
//
// Invariants:
//   - at most one certificate per ticket
//   - VerificationCode is unique and never reused
type Certificate struct {
	ID               id.CertificateID `json:"id"`
	EventID          id.EventID       `json:"event_id"`
	TicketID         id.TicketID      `json:"ticket_id"`
	HolderID         id.UserID        `json:"holder_id"`
	HolderName       string           `json:"holder_name"`
	HolderEmail      string           `json:"holder_email"`
	VerificationCode string           `json:"verification_code"`
	Hours            int              `json:"hours"`
	IssuedAt         time.Time        `json:"issued_at"`
}

var codeEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewVerificationCode returns 16 base32 characters grouped as XXXX-XXXX-XXXX-XXXX.
func NewVerificationCode() (string, error) {
	b := make([]byte, 10)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	raw := codeEncoding.EncodeToString(b)
	return raw[0:4] + "-" + raw[4:8] + "-" + raw[8:12] + "-" + raw[12:16], nil
}

// NormalizeCode restores the canonical grouping of a typed code.
func NormalizeCode(s string) string {
	raw := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r == '-' || r == ' ':
			return -1
		}
		return r
	}, strings.TrimSpace(s))
	if len(raw) != 16 {
		return raw
	}
	return raw[0:4] + "-" + raw[4:8] + "-" + raw[8:12] + "-" + raw[12:16]
}

// Hours is the configured workload, or the event's duration rounded up to
// whole hours when none is configured.
func Hours(configured int, startsAt, endsAt time.Time) int {
	if configured > 0 {
		return configured
	}
	h := int(math.Ceil(endsAt.Sub(startsAt).Hours()))
	if h < 1 {
		return 1
	}
	return h
}

// Verification is the public answer to "is this certificate real".
type Verification struct {
	Code       string     `json:"code"`
	HolderName string     `json:"holder_name"`
	EventID    id.EventID `json:"event_id"`
	EventTitle string     `json:"event_title"`
	EventDate  time.Time  `json:"event_date"`
	Hours      int        `json:"hours"`
	IssuedAt   time.Time  `json:"issued_at"`
}

// Issued is the broker payload of certificate.issued.
type Issued struct {
	CertificateID id.CertificateID `json:"certificate_id"`
	EventID       id.EventID       `json:"event_id"`
	EventTitle    string           `json:"event_title"`
	HolderName    string           `json:"holder_name"`
	HolderEmail   string           `json:"holder_email"`
	Hours         int              `json:"hours"`
	Code          string           `json:"code"`
	URL           string           `json:"url"`
}

// IssueResult reports one issuance run.
type IssueResult struct {
	Issued   int `json:"issued"`
	Existing int `json:"existing"`
}
