package service

import (
	"context"
	"errors"
	"log/slog"

	"ticketeer/internal/audit"
	"ticketeer/internal/events/models"
	"ticketeer/internal/platform/broker"
	id "ticketeer/pkg/domain"
	dErrors "ticketeer/pkg/domain-errors"
	"ticketeer/pkg/platform/sentinel"
	"ticketeer/pkg/platform/tx"
	"ticketeer/pkg/requestcontext"
)

type Store interface {
	CreateEvent(ctx context.Context, e *models.Event) error
	FindEvent(ctx context.Context, eventID id.EventID) (*models.Event, error)
	FindEventBySlug(ctx context.Context, slug string) (*models.Event, error)
	UpdateEvent(ctx context.Context, e *models.Event) error
	ListPublished(ctx context.Context, f models.ListFilter) ([]*models.Event, error)
	ListByOrganizer(ctx context.Context, organizer id.UserID) ([]*models.Event, error)

	CreateTicketType(ctx context.Context, t *models.TicketType) error
	FindTicketType(ctx context.Context, typeID id.TicketTypeID) (*models.TicketType, error)
	UpdateTicketType(ctx context.Context, t *models.TicketType) error
	DeleteTicketType(ctx context.Context, typeID id.TicketTypeID) error
	ListTicketTypes(ctx context.Context, eventID id.EventID) ([]*models.TicketType, error)
}

// Service owns the event catalogue and its ticket types.
type Service struct {
	store     Store
	tx        tx.Runner
	logger    *slog.Logger
	audit     audit.Emitter
	publisher broker.Publisher
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithTx(r tx.Runner) Option {
	return func(s *Service) { s.tx = r }
}

func WithAudit(e audit.Emitter) Option {
	return func(s *Service) { s.audit = e }
}

func WithPublisher(p broker.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func New(store Store, opts ...Option) *Service {
	s := &Service{store: store, tx: tx.NoopRunner{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) CreateEvent(ctx context.Context, d models.Details) (*models.Event, error) {
	actor := requestcontext.ActorFrom(ctx)
	if !actor.Role.CanOrganize() || actor.UserID.IsNil() {
		return nil, dErrors.New(dErrors.CodeForbidden, "only organizers can create events")
	}
	e, err := models.NewEvent(id.NewEventID(), actor.UserID, d, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateEvent(ctx, e); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.New(dErrors.CodeConflict, "an event with this slug already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create event")
	}
	s.logger.InfoContext(ctx, "event created", "event_id", e.ID, "organizer_id", e.OrganizerID)
	return e, nil
}

func (s *Service) UpdateEvent(ctx context.Context, eventID id.EventID, d models.Details) (*models.Event, error) {
	var out *models.Event
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		e, err := s.managedEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if d.Capacity > 0 {
			allocated, err := s.allocated(ctx, eventID, id.TicketTypeID{})
			if err != nil {
				return err
			}
			if allocated > d.Capacity {
				return dErrors.Newf(dErrors.CodeValidation, "capacity cannot be lower than the %d tickets already allocated to ticket types", allocated)
			}
		}
		if err := e.ApplyDetails(d, requestcontext.Now(ctx)); err != nil {
			return err
		}
		if err := s.store.UpdateEvent(ctx, e); err != nil {
			return wrapStoreErr(err, "event")
		}
		out = e
		return nil
	})
	return out, err
}

func (s *Service) PublishEvent(ctx context.Context, eventID id.EventID) (*models.Event, error) {
	now := requestcontext.Now(ctx)
	e, err := s.transition(ctx, eventID, func(ctx context.Context, e *models.Event) error {
		types, err := s.store.ListTicketTypes(ctx, eventID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load ticket types")
		}
		active := 0
		for _, t := range types {
			if t.Active {
				active++
			}
		}
		if err := e.CanPublish(now, active); err != nil {
			return err
		}
		e.ApplyPublish(now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emitAudit(ctx, audit.ActionEventPublished, e)
	return e, nil
}

func (s *Service) UnpublishEvent(ctx context.Context, eventID id.EventID) (*models.Event, error) {
	return s.transition(ctx, eventID, func(ctx context.Context, e *models.Event) error {
		sold, err := s.sold(ctx, eventID)
		if err != nil {
			return err
		}
		if err := e.CanUnpublish(sold); err != nil {
			return err
		}
		e.ApplyUnpublish(requestcontext.Now(ctx))
		return nil
	})
}

// CancelEvent is terminal. Refunds are driven per order by the organizer;
// ticket holders learn about the cancellation through the notifier.
func (s *Service) CancelEvent(ctx context.Context, eventID id.EventID) (*models.Event, error) {
	e, err := s.transition(ctx, eventID, func(ctx context.Context, e *models.Event) error {
		if err := e.CanCancel(); err != nil {
			return err
		}
		e.ApplyCancel(requestcontext.Now(ctx))
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emitAudit(ctx, audit.ActionEventCancelled, e)
	if s.publisher != nil {
		payload := models.Cancelled{EventID: e.ID, Title: e.Title, VenueName: e.VenueName, StartsAt: e.StartsAt}
		if err := broker.Emit(ctx, s.publisher, broker.TypeEventCancelled, e.ID.String(), requestcontext.Now(ctx), payload); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish event cancellation", "event_id", e.ID, "error", err)
		}
	}
	return e, nil
}

func (s *Service) transition(ctx context.Context, eventID id.EventID, fn func(context.Context, *models.Event) error) (*models.Event, error) {
	var out *models.Event
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		e, err := s.managedEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if err := fn(ctx, e); err != nil {
			return err
		}
		if err := s.store.UpdateEvent(ctx, e); err != nil {
			return wrapStoreErr(err, "event")
		}
		out = e
		return nil
	})
	return out, err
}

// GetEvent returns any non-draft event; drafts only to their managers.
func (s *Service) GetEvent(ctx context.Context, eventID id.EventID) (*models.Event, error) {
	e, err := s.store.FindEvent(ctx, eventID)
	if err != nil {
		return nil, wrapStoreErr(err, "event")
	}
	if !e.VisibleTo(requestcontext.ActorFrom(ctx)) {
		return nil, dErrors.New(dErrors.CodeNotFound, "event not found")
	}
	return e, nil
}

func (s *Service) GetEventBySlug(ctx context.Context, slug string) (*models.Event, error) {
	e, err := s.store.FindEventBySlug(ctx, slug)
	if err != nil {
		return nil, wrapStoreErr(err, "event")
	}
	if !e.VisibleTo(requestcontext.ActorFrom(ctx)) {
		return nil, dErrors.New(dErrors.CodeNotFound, "event not found")
	}
	return e, nil
}

// ListPublished lists upcoming published events; From defaults to now.
func (s *Service) ListPublished(ctx context.Context, f models.ListFilter) ([]*models.Event, error) {
	if f.From.IsZero() {
		f.From = requestcontext.Now(ctx)
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	events, err := s.store.ListPublished(ctx, f)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list events")
	}
	return events, nil
}

// ListMine lists the caller's own events in every status.
func (s *Service) ListMine(ctx context.Context) ([]*models.Event, error) {
	actor := requestcontext.ActorFrom(ctx)
	if actor.UserID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	events, err := s.store.ListByOrganizer(ctx, actor.UserID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list events")
	}
	return events, nil
}

// ManagedEvent loads an event the caller may administer. Other modules use
// it for organizer-only operations.
func (s *Service) ManagedEvent(ctx context.Context, eventID id.EventID) (*models.Event, error) {
	return s.managedEvent(ctx, eventID)
}

func (s *Service) managedEvent(ctx context.Context, eventID id.EventID) (*models.Event, error) {
	e, err := s.store.FindEvent(ctx, eventID)
	if err != nil {
		return nil, wrapStoreErr(err, "event")
	}
	actor := requestcontext.ActorFrom(ctx)
	if !e.ManageableBy(actor) {
		if !e.VisibleTo(actor) {
			return nil, dErrors.New(dErrors.CodeNotFound, "event not found")
		}
		return nil, dErrors.New(dErrors.CodeForbidden, "only the event organizer can do this")
	}
	return e, nil
}

func (s *Service) sold(ctx context.Context, eventID id.EventID) (int, error) {
	types, err := s.store.ListTicketTypes(ctx, eventID)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load ticket types")
	}
	n := 0
	for _, t := range types {
		n += t.SoldQuantity
	}
	return n, nil
}

// allocated sums ticket type totals, skipping except.
func (s *Service) allocated(ctx context.Context, eventID id.EventID, except id.TicketTypeID) (int, error) {
	types, err := s.store.ListTicketTypes(ctx, eventID)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load ticket types")
	}
	n := 0
	for _, t := range types {
		if t.ID != except {
			n += t.TotalQuantity
		}
	}
	return n, nil
}

func (s *Service) emitAudit(ctx context.Context, action string, e *models.Event) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Emit(ctx, audit.Event{Action: action, Subject: e.ID.String(), Detail: e.Title}); err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event", "action", action, "error", err)
	}
}

func wrapStoreErr(err error, what string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Newf(dErrors.CodeNotFound, "%s not found", what)
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Newf(dErrors.CodeConflict, "%s was changed concurrently", what)
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save "+what)
}
