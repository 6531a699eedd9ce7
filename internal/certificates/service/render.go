package service

import (
	"bytes"
	"context"
	"embed"
	"html/template"

	"ticketeer/internal/platform/markdown"
	dErrors "ticketeer/pkg/domain-errors"
)

//go:embed templates/certificate.html
var templateFS embed.FS

var certificateTmpl = template.Must(template.ParseFS(templateFS, "templates/certificate.html"))

type certificateView struct {
	Lang        string
	Title       string
	VenueName   string
	Date        string
	HolderName  string
	Hours       int
	Description template.HTML
	Code        string
	VerifyURL   string
	QRCodeURL   string
}

// Render returns the printable HTML certificate for code.
func (s *Service) Render(ctx context.Context, code string) ([]byte, error) {
	c, e, err := s.load(ctx, code)
	if err != nil {
		return nil, err
	}
	desc, err := markdown.Render(e.Description)
	if err != nil {
		s.logger.WarnContext(ctx, "event description did not render", "event_id", e.ID, "error", err)
		desc = ""
	}
	verify := s.verifyURL(c.VerificationCode)
	view := certificateView{
		Lang:        "en",
		Title:       e.Title,
		VenueName:   e.VenueName,
		Date:        e.StartsAt.Format("January 2, 2006"),
		HolderName:  c.HolderName,
		Hours:       c.Hours,
		Description: desc,
		Code:        c.VerificationCode,
		VerifyURL:   verify,
		QRCodeURL:   s.qr.URL(verify),
	}
	var buf bytes.Buffer
	if err := certificateTmpl.Execute(&buf, view); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to render certificate")
	}
	return buf.Bytes(), nil
}
