package domain

import (
	"fmt"
	"strings"

	dErrors "ticketeer/pkg/domain-errors"
)

// Currency is an ISO 4217 code accepted by both payment gateways.
type Currency string

const (
	CurrencyBRL Currency = "BRL"
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
)

// ParseCurrency normalizes and validates a currency code.
func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	switch c {
	case CurrencyBRL, CurrencyUSD, CurrencyEUR:
		return c, nil
	case "":
		return "", dErrors.New(dErrors.CodeValidation, "currency is required")
	}
	return "", dErrors.Newf(dErrors.CodeValidation, "unsupported currency %q", s)
}

func (c Currency) String() string { return string(c) }

// Lower returns the lowercase code Stripe expects.
func (c Currency) Lower() string { return strings.ToLower(string(c)) }

// Symbol is used when rendering amounts in emails and certificates.
func (c Currency) Symbol() string {
	switch c {
	case CurrencyBRL:
		return "R$"
	case CurrencyUSD:
		return "$"
	case CurrencyEUR:
		return "€"
	}
	return string(c)
}

// FormatCents renders an amount in minor units, e.g. 12345 BRL -> "R$ 123.45".
func FormatCents(cents int64, c Currency) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%s %d.%02d", sign, c.Symbol(), cents/100, cents%100)
}

// PercentOf returns percent% of cents, rounded half up.
func PercentOf(cents int64, percent int64) int64 {
	return BasisPointsOf(cents, percent*100)
}

// BasisPointsOf returns bps/10000 of cents, rounded half up.
func BasisPointsOf(cents int64, bps int64) int64 {
	if cents <= 0 || bps <= 0 {
		return 0
	}
	return (cents*bps + 5000) / 10000
}
