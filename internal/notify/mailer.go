// Package notify turns domain events from the broker into emails.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"ticketeer/internal/platform/config"
)

// Message is one outgoing email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

type Mailer interface {
	Send(ctx context.Context, m Message) error
}

// ErrRejected marks a message the email API refused for good (4xx). The
// worker drops such messages instead of asking for redelivery.
var ErrRejected = errors.New("email rejected")

// HTTPMailer posts {from, to, subject, html} to {api}/emails with a bearer
// key, the shape shared by Resend-style transactional email APIs.
type HTTPMailer struct {
	url    string
	apiKey string
	from   string
	http   *http.Client
}

func NewHTTPMailer(cfg config.Email, hc *http.Client) *HTTPMailer {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPMailer{
		url:    strings.TrimRight(cfg.APIURL, "/") + "/emails",
		apiKey: cfg.APIKey,
		from:   cfg.From,
		http:   hc,
	}
}

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

func (m *HTTPMailer) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(sendRequest{From: m.from, To: []string{msg.To}, Subject: msg.Subject, HTML: msg.HTML})
	if err != nil {
		return fmt.Errorf("encode email: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build email request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("email api: status %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	default:
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, bytes.TrimSpace(detail))
	}
}

// LogMailer logs instead of sending. Used when no email API key is set.
type LogMailer struct {
	Logger *slog.Logger
}

func (m LogMailer) Send(ctx context.Context, msg Message) error {
	m.Logger.InfoContext(ctx, "email not sent, no email API configured", "to", msg.To, "subject", msg.Subject)
	return nil
}

// NewMailer picks the HTTP mailer when the email API is configured.
func NewMailer(cfg config.Email, logger *slog.Logger) Mailer {
	if !cfg.Enabled {
		return LogMailer{Logger: logger}
	}
	return NewHTTPMailer(cfg, nil)
}
