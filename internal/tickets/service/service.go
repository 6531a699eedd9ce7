package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"ticketeer/internal/audit"
	checkoutmodels "ticketeer/internal/checkout/models"
	eventmodels "ticketeer/internal/events/models"
	"ticketeer/internal/platform/metrics"
	"ticketeer/internal/qrcode"
	"ticketeer/internal/tickets/livefeed"
	"ticketeer/internal/tickets/models"
	id "ticketeer/pkg/domain"
	dErrors "ticketeer/pkg/domain-errors"
	"ticketeer/pkg/platform/sentinel"
	"ticketeer/pkg/requestcontext"
)

type Store interface {
	CreateBatch(ctx context.Context, tickets []*models.Ticket) error
	FindByID(ctx context.Context, ticketID id.TicketID) (*models.Ticket, error)
	FindByCode(ctx context.Context, code string) (*models.Ticket, error)
	Execute(ctx context.Context, ticketID id.TicketID, validate func(*models.Ticket) error, mutate func(*models.Ticket)) (*models.Ticket, error)
	VoidByOrder(ctx context.Context, orderID id.OrderID, now time.Time) (int, error)
	ListByOrder(ctx context.Context, orderID id.OrderID) ([]*models.Ticket, error)
	ListByHolder(ctx context.Context, holder id.UserID) ([]*models.Ticket, error)
	ListByEvent(ctx context.Context, eventID id.EventID, f models.Filter) ([]*models.Ticket, error)
	CountByEvent(ctx context.Context, eventID id.EventID) (models.Counts, error)
}

// Events resolves the event a ticket admits to. The events store satisfies it.
type Events interface {
	FindEvent(ctx context.Context, eventID id.EventID) (*eventmodels.Event, error)
}

// Service issues tickets for paid orders and admits them at the door.
type Service struct {
	store   Store
	events  Events
	qr      *qrcode.Builder
	feed    livefeed.Feed
	logger  *slog.Logger
	audit   audit.Emitter
	metrics *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAudit(e audit.Emitter) Option {
	return func(s *Service) { s.audit = e }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithFeed(f livefeed.Feed) Option {
	return func(s *Service) { s.feed = f }
}

func WithQRCode(b *qrcode.Builder) Option {
	return func(s *Service) { s.qr = b }
}

func New(store Store, events Events, opts ...Option) *Service {
	s := &Service{
		store:  store,
		events: events,
		qr:     qrcode.New("", 0),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IssueForOrder creates one ticket per unit bought. Calling it again for the
// same order returns the tickets issued the first time.
func (s *Service) IssueForOrder(ctx context.Context, o *checkoutmodels.Order) ([]checkoutmodels.IssuedTicket, error) {
	existing, err := s.store.ListByOrder(ctx, o.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load order tickets")
	}
	if len(existing) > 0 {
		return s.summaries(existing), nil
	}

	now := requestcontext.Now(ctx)
	tickets := make([]*models.Ticket, 0, o.TicketCount())
	for _, item := range o.Items {
		for i := 0; i < item.Quantity; i++ {
			code, err := models.NewCode()
			if err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate ticket code")
			}
			tickets = append(tickets, &models.Ticket{
				ID:             id.NewTicketID(),
				OrderID:        o.ID,
				EventID:        o.EventID,
				TicketTypeID:   item.TicketTypeID,
				TicketTypeName: item.Name,
				HolderID:       o.BuyerID,
				HolderName:     o.Buyer.Name,
				HolderEmail:    o.Buyer.Email,
				Seq:            len(tickets),
				Code:           code,
				Status:         models.StatusValid,
				CreatedAt:      now,
				UpdatedAt:      now,
			})
		}
	}

	err = s.store.CreateBatch(ctx, tickets)
	if errors.Is(err, sentinel.ErrAlreadyUsed) {
		// A concurrent confirmation got there first.
		if tickets, err = s.store.ListByOrder(ctx, o.ID); err == nil {
			return s.summaries(tickets), nil
		}
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue tickets")
	}
	s.metrics.AddTicketsIssued(len(tickets))
	s.logger.InfoContext(ctx, "tickets issued", "order_id", o.ID, "count", len(tickets))
	return s.summaries(tickets), nil
}

func (s *Service) VoidForOrder(ctx context.Context, orderID id.OrderID) error {
	n, err := s.store.VoidByOrder(ctx, orderID, requestcontext.Now(ctx))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to void tickets")
	}
	s.logger.InfoContext(ctx, "tickets voided", "order_id", orderID, "count", n)
	return nil
}

func (s *Service) summaries(tickets []*models.Ticket) []checkoutmodels.IssuedTicket {
	out := make([]checkoutmodels.IssuedTicket, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, checkoutmodels.IssuedTicket{
			ID:             t.ID,
			Code:           t.Code,
			TicketTypeName: t.TicketTypeName,
			HolderName:     t.HolderName,
			QRCodeURL:      s.qr.URL(t.Code),
		})
	}
	return out
}

func (s *Service) withQR(t *models.Ticket) *models.Ticket {
	t.QRCodeURL = s.qr.URL(t.Code)
	return t
}

// ListMine returns the caller's tickets, newest first.
func (s *Service) ListMine(ctx context.Context) ([]*models.Ticket, error) {
	actor := requestcontext.ActorFrom(ctx)
	if actor.UserID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	tickets, err := s.store.ListByHolder(ctx, actor.UserID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list tickets")
	}
	for _, t := range tickets {
		s.withQR(t)
	}
	return tickets, nil
}

// ListByEvent is the organizer's attendee list.
func (s *Service) ListByEvent(ctx context.Context, eventID id.EventID, f models.Filter) ([]*models.Ticket, error) {
	if _, err := s.managedEvent(ctx, eventID); err != nil {
		return nil, err
	}
	tickets, err := s.store.ListByEvent(ctx, eventID, f)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list tickets")
	}
	return tickets, nil
}

// Counts backs the live feed totals and the dashboard.
func (s *Service) Counts(ctx context.Context, eventID id.EventID) (models.Counts, error) {
	c, err := s.store.CountByEvent(ctx, eventID)
	if err != nil {
		return models.Counts{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count tickets")
	}
	return c, nil
}

func (s *Service) loadEvent(ctx context.Context, eventID id.EventID) (*eventmodels.Event, error) {
	e, err := s.events.FindEvent(ctx, eventID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "event not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load event")
	}
	return e, nil
}

func (s *Service) managedEvent(ctx context.Context, eventID id.EventID) (*eventmodels.Event, error) {
	e, err := s.loadEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !e.ManageableBy(requestcontext.ActorFrom(ctx)) {
		return nil, dErrors.New(dErrors.CodeForbidden, "only the event organizer can do this")
	}
	return e, nil
}

// doorEvent loads an event the caller may scan tickets for: staff and admins
// at any event, organizers at their own.
func (s *Service) doorEvent(ctx context.Context, eventID id.EventID) (*eventmodels.Event, error) {
	e, err := s.loadEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	actor := requestcontext.ActorFrom(ctx)
	if !actor.Role.CanScan() && !e.ManageableBy(actor) {
		return nil, dErrors.New(dErrors.CodeForbidden, "not allowed to check tickets in for this event")
	}
	return e, nil
}

// AuthorizeDoor checks the caller may watch or work the door of eventID.
func (s *Service) AuthorizeDoor(ctx context.Context, eventID id.EventID) error {
	_, err := s.doorEvent(ctx, eventID)
	return err
}
