package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jwttoken "ticketeer/internal/jwt_token"
	"ticketeer/pkg/platform/secrets"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestQuote(t *testing.T) {
	out, err := run(t, "quote", "--rate", "10000", "--start", "2026-06-03T09:00", "--hours", "4", "--headcount", "20", "--services", "projector")
	require.NoError(t, err)
	assert.Contains(t, out, "R$ 400.00")
	assert.Contains(t, out, "-R$ 20.00 (5%)")
	assert.Contains(t, out, "R$ 19.00 (5%)")
	assert.Regexp(t, `total\s+R\$ 399\.00`, out)
}

func TestQuoteRejectsUnknownService(t *testing.T) {
	_, err := run(t, "quote", "--rate", "10000", "--start", "2026-06-03T09:00", "--services", "fireworks")
	require.Error(t, err)
}

func TestQuoteRequiresRate(t *testing.T) {
	_, err := run(t, "quote", "--start", "2026-06-03T09:00")
	require.Error(t, err)
}

func TestToken(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("AUTH_JWT_SECRET", "cli-test-secret")
	t.Setenv("AUTH_JWT_ISSUER", "")
	t.Setenv("AUTH_JWT_AUDIENCE", "authenticated")

	out, err := run(t, "token", "--role", "staff", "--email", "door@example.com", "--json")
	require.NoError(t, err)

	var res struct {
		UserID string `json:"user_id"`
		Role   string `json:"role"`
		Token  string `json:"token"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "staff", res.Role)

	claims, err := jwttoken.NewJWTService("cli-test-secret", "", "authenticated").ValidateToken(res.Token)
	require.NoError(t, err)
	assert.Equal(t, res.UserID, claims.Subject)
	assert.Equal(t, "door@example.com", claims.Email)
}

func TestTokenRefusedInProduction(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	_, err := run(t, "token")
	require.Error(t, err)
}

func TestAdminToken(t *testing.T) {
	out, err := run(t, "admin-token")
	require.NoError(t, err)

	var token, hash string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if v, ok := strings.CutPrefix(line, "token: "); ok {
			token = v
		}
		if v, ok := strings.CutPrefix(line, "ADMIN_TOKEN="); ok {
			hash = v
		}
	}
	require.NotEmpty(t, token)
	require.True(t, secrets.IsHash(hash))
	assert.NoError(t, secrets.Verify(token, hash))
}
