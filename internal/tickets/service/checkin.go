package service

import (
	"context"
	"errors"
	"time"

	"ticketeer/internal/audit"
	"ticketeer/internal/tickets/models"
	id "ticketeer/pkg/domain"
	dErrors "ticketeer/pkg/domain-errors"
	"ticketeer/pkg/platform/sentinel"
	"ticketeer/pkg/requestcontext"
)

// Lookup previews a ticket at the door without admitting it.
func (s *Service) Lookup(ctx context.Context, eventID id.EventID, code string) (*models.Ticket, error) {
	if _, err := s.doorEvent(ctx, eventID); err != nil {
		return nil, err
	}
	t, err := s.findForEvent(ctx, eventID, code)
	if err != nil {
		return nil, err
	}
	return s.withQR(t), nil
}

// CheckIn admits a ticket once. A repeat scan fails with CodeConflict naming
// the first admission time; a void ticket fails with CodeInvalidState.
func (s *Service) CheckIn(ctx context.Context, eventID id.EventID, code string, method models.CheckInMethod) (*models.Ticket, error) {
	e, err := s.doorEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if e.IsCancelled() {
		s.metrics.IncCheckIn("rejected")
		return nil, dErrors.New(dErrors.CodeInvalidState, "event is cancelled")
	}
	t, err := s.findForEvent(ctx, eventID, code)
	if err != nil {
		s.metrics.IncCheckIn("unknown")
		return nil, err
	}

	actor := requestcontext.ActorFrom(ctx)
	now := requestcontext.Now(ctx)
	t, err = s.store.Execute(ctx, t.ID,
		func(t *models.Ticket) error { return t.CanCheckIn() },
		func(t *models.Ticket) { t.ApplyCheckIn(actor.UserID, method, now) },
	)
	if err != nil {
		switch {
		case dErrors.HasCode(err, dErrors.CodeConflict):
			s.metrics.IncCheckIn("duplicate")
		default:
			s.metrics.IncCheckIn("rejected")
		}
		return nil, wrapStoreErr(err)
	}
	s.metrics.IncCheckIn("admitted")
	s.logger.InfoContext(ctx, "ticket checked in",
		"event_id", eventID,
		"ticket_id", t.ID,
		"method", method,
	)
	s.emitAudit(ctx, audit.ActionTicketCheckedIn, t)
	s.publish(ctx, models.FeedCheckedIn, t, now)
	return s.withQR(t), nil
}

// UndoCheckIn reverts an admission made by mistake. Only the event's
// organizer or an admin may do it.
func (s *Service) UndoCheckIn(ctx context.Context, ticketID id.TicketID) (*models.Ticket, error) {
	t, err := s.store.FindByID(ctx, ticketID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	if _, err := s.managedEvent(ctx, t.EventID); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	t, err = s.store.Execute(ctx, ticketID,
		func(t *models.Ticket) error { return t.CanUndoCheckIn() },
		func(t *models.Ticket) { t.ApplyUndoCheckIn(now) },
	)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	s.emitAudit(ctx, audit.ActionTicketCheckInUndone, t)
	s.publish(ctx, models.FeedUndone, t, now)
	return s.withQR(t), nil
}

// findForEvent hides tickets of other events behind not_found so a door
// scanner cannot probe codes across events.
func (s *Service) findForEvent(ctx context.Context, eventID id.EventID, code string) (*models.Ticket, error) {
	code = models.NormalizeCode(code)
	if code == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "ticket code is required")
	}
	t, err := s.store.FindByCode(ctx, code)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	if t.EventID != eventID {
		return nil, dErrors.New(dErrors.CodeNotFound, "ticket not found")
	}
	return t, nil
}

func (s *Service) publish(ctx context.Context, kind models.FeedKind, t *models.Ticket, now time.Time) {
	if s.feed == nil {
		return
	}
	msg := models.FeedMessage{
		Kind:           kind,
		EventID:        t.EventID,
		TicketID:       t.ID,
		TicketTypeName: t.TicketTypeName,
		HolderName:     t.HolderName,
		Method:         t.CheckInMethod,
		At:             now,
	}
	if c, err := s.store.CountByEvent(ctx, t.EventID); err == nil {
		msg.CheckedIn, msg.Issued = c.CheckedIn, c.Issued-c.Void
	}
	if err := s.feed.Publish(ctx, msg); err != nil {
		s.logger.WarnContext(ctx, "failed to publish check-in", "event_id", t.EventID, "error", err)
	}
}

func (s *Service) emitAudit(ctx context.Context, action string, t *models.Ticket) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Emit(ctx, audit.Event{Action: action, Subject: t.ID.String(), Detail: t.EventID.String()}); err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event", "action", action, "error", err)
	}
}

func wrapStoreErr(err error) error {
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "ticket not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update ticket")
}
