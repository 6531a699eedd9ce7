// Package email holds helpers for the addresses buyers type in.
package email

import (
	"net/mail"
	"strings"
	"unicode"

	dErrors "ticketeer/pkg/domain-errors"
)

// Normalize trims and lowercases an address and rejects anything that is
// not a bare addr-spec.
func Normalize(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", dErrors.New(dErrors.CodeValidation, "email is required")
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s || len(s) > 254 {
		return "", dErrors.Newf(dErrors.CodeValidation, "invalid email %q", s)
	}
	return s, nil
}

// DisplayName guesses a name from the local part, so "ana.souza+x@host"
// becomes "Ana Souza X". Used when a buyer leaves the name blank.
func DisplayName(addr string) string {
	local := addr
	if at := strings.IndexByte(addr, '@'); at > 0 {
		local = addr[:at]
	}
	parts := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+' || unicode.IsDigit(r)
	})
	if len(parts) == 0 {
		return "Guest"
	}
	for i, p := range parts {
		parts[i] = capitalize(p)
	}
	return strings.Join(parts, " ")
}

func capitalize(s string) string {
	runes := []rune(strings.ToLower(s))
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
