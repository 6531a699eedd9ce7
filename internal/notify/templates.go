package notify

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"

	id "ticketeer/pkg/domain"
)

//go:embed templates/*.html
var templateFS embed.FS

// Template names, also used as the metrics label.
const (
	TemplateOrderPaid         = "order_paid"
	TemplateOrderRefunded     = "order_refunded"
	TemplateBookingConfirmed  = "booking_confirmed"
	TemplateCertificateIssued = "certificate_issued"
	TemplateEventCancelled    = "event_cancelled"
)

// Renderer renders the email bodies. Times are shown in loc.
type Renderer struct {
	tmpl *template.Template
}

func NewRenderer(loc *time.Location) (*Renderer, error) {
	if loc == nil {
		loc = time.UTC
	}
	funcs := template.FuncMap{
		"money": id.FormatCents,
		"datetime": func(t time.Time) string {
			return t.In(loc).Format("Mon, 02 Jan 2006 15:04 MST")
		},
		"join": strings.Join,
	}
	tmpl, err := template.New("email").Funcs(funcs).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse email templates: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

func (r *Renderer) Render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}
