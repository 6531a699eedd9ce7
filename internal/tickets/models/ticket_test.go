package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "ticketeer/pkg/domain"
	dErrors "ticketeer/pkg/domain-errors"
)

func TestNewCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code, err := NewCode()
		require.NoError(t, err)
		assert.Len(t, code, 32)
		assert.Regexp(t, `^[A-Z2-7]{32}$`, code)
		assert.False(t, seen[code])
		seen[code] = true
	}
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "ABCD2345", NormalizeCode("  abcd-2345 "))
	assert.Equal(t, "ABCD2345", NormalizeCode("ab cd 23 45"))
}

func TestParseCheckInMethod(t *testing.T) {
	m, err := ParseCheckInMethod("")
	require.NoError(t, err)
	assert.Equal(t, MethodQR, m)

	m, err = ParseCheckInMethod("Manual")
	require.NoError(t, err)
	assert.Equal(t, MethodManual, m)

	_, err = ParseCheckInMethod("nfc")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestCheckInLifecycle(t *testing.T) {
	now := time.Date(2026, 6, 10, 19, 30, 0, 0, time.UTC)
	staff := id.NewUserID()
	tk := &Ticket{ID: id.NewTicketID(), Status: StatusValid}

	require.NoError(t, tk.CanCheckIn())
	tk.ApplyCheckIn(staff, MethodQR, now)
	assert.True(t, tk.IsUsed())
	assert.Equal(t, staff, *tk.CheckedInBy)

	err := tk.CanCheckIn()
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
	assert.Contains(t, err.Error(), "2026-06-10T19:30:00Z")

	require.NoError(t, tk.CanUndoCheckIn())
	tk.ApplyUndoCheckIn(now.Add(time.Minute))
	assert.Equal(t, StatusValid, tk.Status)
	assert.Nil(t, tk.CheckedInAt)
	assert.True(t, dErrors.HasCode(tk.CanUndoCheckIn(), dErrors.CodeInvalidState))

	tk.ApplyVoid(now)
	assert.True(t, dErrors.HasCode(tk.CanCheckIn(), dErrors.CodeInvalidState))
}

func TestFilterAndCounts(t *testing.T) {
	tk := &Ticket{HolderName: "Ana Souza", HolderEmail: "ana@example.com", Code: "QWERTY23", Status: StatusValid}
	assert.True(t, Filter{}.Matches(tk))
	assert.True(t, Filter{Query: "souza"}.Matches(tk))
	assert.True(t, Filter{Query: "qwe"}.Matches(tk))
	assert.False(t, Filter{Query: "rty"}.Matches(tk))
	assert.False(t, Filter{Status: StatusUsed}.Matches(tk))

	assert.InDelta(t, 0.5, Counts{Issued: 5, Void: 1, CheckedIn: 2}.CheckInRate(), 1e-9)
	assert.Zero(t, Counts{}.CheckInRate())
}
