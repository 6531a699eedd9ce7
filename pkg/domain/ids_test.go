package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "ticketeer/pkg/domain-errors"
)

// IDs must be valid, non-empty, non-nil UUIDs.
func TestParseID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseEventID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseEventID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseEventID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		valid := uuid.New()
		got, err := ParseEventID(valid.String())
		require.NoError(t, err)
		assert.Equal(t, EventID(valid), got)
	})
}

func TestParseID_HostileInput(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"SQL injection attempt", "'; DROP TABLE orders;--", true},
		{"Path traversal", "../../../etc/passwd", true},
		{"Null byte injection", "550e8400\x00-e29b-41d4-a716-446655440000", true},
		{"Oversized input", strings.Repeat("a", 1000), true},
		{"URN prefix", "urn:uuid:550e8400-e29b-41d4-a716-446655440000", true},
		{"Whitespace only", "   ", true},
		{"Uppercase valid UUID", "550E8400-E29B-41D4-A716-446655440000", false},
		{"Valid UUID lowercase", "550e8400-e29b-41d4-a716-446655440000", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseOrderID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestAllIDTypes_ConsistentBehavior(t *testing.T) {
	parsers := map[string]func(string) error{
		"user":        func(s string) error { _, err := ParseUserID(s); return err },
		"event":       func(s string) error { _, err := ParseEventID(s); return err },
		"ticket_type": func(s string) error { _, err := ParseTicketTypeID(s); return err },
		"order":       func(s string) error { _, err := ParseOrderID(s); return err },
		"ticket":      func(s string) error { _, err := ParseTicketID(s); return err },
		"coupon":      func(s string) error { _, err := ParseCouponID(s); return err },
		"certificate": func(s string) error { _, err := ParseCertificateID(s); return err },
		"space":       func(s string) error { _, err := ParseSpaceID(s); return err },
		"booking":     func(s string) error { _, err := ParseBookingID(s); return err },
	}

	valid := uuid.NewString()
	for name, parse := range parsers {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, parse(valid))
			for _, bad := range []string{"", "invalid", uuid.Nil.String()} {
				require.Error(t, parse(bad), "input %q", bad)
			}
		})
	}
}

func TestIDJSONRoundTrip(t *testing.T) {
	type payload struct {
		EventID EventID   `json:"event_id"`
		Coupon  *CouponID `json:"coupon_id,omitempty"`
	}
	in := payload{EventID: NewEventID()}
	b, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"event_id":"`+in.EventID.String()+`"`)
	assert.NotContains(t, string(b), "coupon_id")

	var out payload
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, in.EventID, out.EventID)
	assert.Nil(t, out.Coupon)
}

func TestIDScanAndValue(t *testing.T) {
	id := NewTicketID()
	v, err := id.Value()
	require.NoError(t, err)
	assert.Equal(t, id.String(), v)

	var scanned TicketID
	require.NoError(t, scanned.Scan(id.String()))
	assert.Equal(t, id, scanned)

	var empty TicketID
	require.NoError(t, empty.Scan(nil))
	assert.True(t, empty.IsNil())
	v, err = empty.Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}
