package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"ticketeer/internal/audit"
	"ticketeer/internal/certificates/models"
	eventmodels "ticketeer/internal/events/models"
	"ticketeer/internal/platform/broker"
	"ticketeer/internal/qrcode"
	ticketmodels "ticketeer/internal/tickets/models"
	id "ticketeer/pkg/domain"
	dErrors "ticketeer/pkg/domain-errors"
	"ticketeer/pkg/platform/sentinel"
	"ticketeer/pkg/requestcontext"
)

type Store interface {
	CreateMissing(ctx context.Context, certs []*models.Certificate) ([]*models.Certificate, error)
	FindByCode(ctx context.Context, code string) (*models.Certificate, error)
	ListByHolder(ctx context.Context, holder id.UserID) ([]*models.Certificate, error)
	ListByEvent(ctx context.Context, eventID id.EventID) ([]*models.Certificate, error)
}

// Events gates organizer operations; the events service satisfies it.
type Events interface {
	ManagedEvent(ctx context.Context, eventID id.EventID) (*eventmodels.Event, error)
}

// Catalog serves public lookups; the events store satisfies it.
type Catalog interface {
	FindEvent(ctx context.Context, eventID id.EventID) (*eventmodels.Event, error)
}

type Tickets interface {
	ListByEvent(ctx context.Context, eventID id.EventID, f ticketmodels.Filter) ([]*ticketmodels.Ticket, error)
}

type Service struct {
	store     Store
	events    Events
	catalog   Catalog
	tickets   Tickets
	qr        *qrcode.Builder
	baseURL   string
	logger    *slog.Logger
	audit     audit.Emitter
	publisher broker.Publisher
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAudit(e audit.Emitter) Option {
	return func(s *Service) { s.audit = e }
}

func WithPublisher(p broker.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithQRCode(b *qrcode.Builder) Option {
	return func(s *Service) { s.qr = b }
}

// WithBaseURL sets the public origin used in verification links.
func WithBaseURL(u string) Option {
	return func(s *Service) { s.baseURL = strings.TrimRight(u, "/") }
}

func New(store Store, events Events, catalog Catalog, tickets Tickets, opts ...Option) *Service {
	s := &Service{
		store:   store,
		events:  events,
		catalog: catalog,
		tickets: tickets,
		qr:      qrcode.New("", 0),
		baseURL: "http://localhost:8080",
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const ticketPage = 500

// IssueForEvent gives every checked-in ticket of an ended event its
// certificate. Running it again only fills in tickets admitted since.
func (s *Service) IssueForEvent(ctx context.Context, eventID id.EventID) (*models.IssueResult, error) {
	e, err := s.events.ManagedEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	if e.IsCancelled() {
		return nil, dErrors.New(dErrors.CodeInvalidState, "event is cancelled")
	}
	if !e.HasEnded(now) {
		return nil, dErrors.New(dErrors.CodeInvalidState, "certificates can only be issued after the event ends")
	}

	var attended []*ticketmodels.Ticket
	for offset := 0; ; offset += ticketPage {
		page, err := s.tickets.ListByEvent(ctx, eventID, ticketmodels.Filter{Status: ticketmodels.StatusUsed, Limit: ticketPage, Offset: offset})
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load attendees")
		}
		attended = append(attended, page...)
		if len(page) < ticketPage {
			break
		}
	}

	hours := models.Hours(e.CertificateHours, e.StartsAt, e.EndsAt)
	certs := make([]*models.Certificate, 0, len(attended))
	for _, t := range attended {
		code, err := models.NewVerificationCode()
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate verification code")
		}
		certs = append(certs, &models.Certificate{
			ID:               id.NewCertificateID(),
			EventID:          eventID,
			TicketID:         t.ID,
			HolderID:         t.HolderID,
			HolderName:       t.HolderName,
			HolderEmail:      t.HolderEmail,
			VerificationCode: code,
			Hours:            hours,
			IssuedAt:         now,
		})
	}

	created, err := s.store.CreateMissing(ctx, certs)
	if errors.Is(err, sentinel.ErrConflict) {
		return nil, dErrors.New(dErrors.CodeConflict, "verification code collision, retry")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue certificates")
	}

	for _, c := range created {
		s.publishIssued(ctx, e, c)
	}
	result := &models.IssueResult{Issued: len(created), Existing: len(certs) - len(created)}
	s.logger.InfoContext(ctx, "certificates issued",
		"event_id", eventID,
		"issued", result.Issued,
		"existing", result.Existing,
	)
	if s.audit != nil && result.Issued > 0 {
		if err := s.audit.Emit(ctx, audit.Event{Action: audit.ActionCertificatesIssued, Subject: eventID.String(), Detail: e.Title}); err != nil {
			s.logger.WarnContext(ctx, "failed to emit audit event", "error", err)
		}
	}
	return result, nil
}

func (s *Service) publishIssued(ctx context.Context, e *eventmodels.Event, c *models.Certificate) {
	if s.publisher == nil {
		return
	}
	payload := models.Issued{
		CertificateID: c.ID,
		EventID:       e.ID,
		EventTitle:    e.Title,
		HolderName:    c.HolderName,
		HolderEmail:   c.HolderEmail,
		Hours:         c.Hours,
		Code:          c.VerificationCode,
		URL:           s.certificateURL(c.VerificationCode),
	}
	if err := broker.Emit(ctx, s.publisher, broker.TypeCertificateIssued, c.ID.String(), c.IssuedAt, payload); err != nil {
		s.logger.WarnContext(ctx, "failed to publish certificate", "certificate_id", c.ID, "error", err)
	}
}

// Verify is public; anyone holding a code may check it.
func (s *Service) Verify(ctx context.Context, code string) (*models.Verification, error) {
	c, e, err := s.load(ctx, code)
	if err != nil {
		return nil, err
	}
	return &models.Verification{
		Code:       c.VerificationCode,
		HolderName: c.HolderName,
		EventID:    e.ID,
		EventTitle: e.Title,
		EventDate:  e.StartsAt,
		Hours:      c.Hours,
		IssuedAt:   c.IssuedAt,
	}, nil
}

func (s *Service) ListMine(ctx context.Context) ([]*models.Certificate, error) {
	actor := requestcontext.ActorFrom(ctx)
	if actor.UserID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	certs, err := s.store.ListByHolder(ctx, actor.UserID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list certificates")
	}
	return certs, nil
}

func (s *Service) ListByEvent(ctx context.Context, eventID id.EventID) ([]*models.Certificate, error) {
	if _, err := s.events.ManagedEvent(ctx, eventID); err != nil {
		return nil, err
	}
	certs, err := s.store.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list certificates")
	}
	return certs, nil
}

func (s *Service) load(ctx context.Context, code string) (*models.Certificate, *eventmodels.Event, error) {
	code = models.NormalizeCode(code)
	if code == "" {
		return nil, nil, dErrors.New(dErrors.CodeValidation, "verification code is required")
	}
	c, err := s.store.FindByCode(ctx, code)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil, dErrors.New(dErrors.CodeNotFound, "certificate not found")
	}
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load certificate")
	}
	e, err := s.catalog.FindEvent(ctx, c.EventID)
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load certificate event")
	}
	return c, e, nil
}

func (s *Service) certificateURL(code string) string {
	return s.baseURL + "/api/v1/certificates/" + code
}

func (s *Service) verifyURL(code string) string {
	return s.baseURL + "/api/v1/certificates/verify/" + code
}
