package service

import (
	"context"
	"errors"

	"ticketeer/internal/events/models"
	id "ticketeer/pkg/domain"
	dErrors "ticketeer/pkg/domain-errors"
	"ticketeer/pkg/platform/sentinel"
	"ticketeer/pkg/requestcontext"
)

func (s *Service) CreateTicketType(ctx context.Context, eventID id.EventID, d models.TicketTypeDetails) (*models.TicketType, error) {
	var out *models.TicketType
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		e, err := s.managedEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if e.IsCancelled() {
			return dErrors.New(dErrors.CodeInvalidState, "cancelled events cannot get new ticket types")
		}
		t, err := models.NewTicketType(id.NewTicketTypeID(), eventID, d, requestcontext.Now(ctx))
		if err != nil {
			return err
		}
		if err := s.checkCapacity(ctx, e, t); err != nil {
			return err
		}
		if err := s.store.CreateTicketType(ctx, t); err != nil {
			return wrapStoreErr(err, "ticket type")
		}
		out = t
		return nil
	})
	return out, err
}

func (s *Service) UpdateTicketType(ctx context.Context, typeID id.TicketTypeID, d models.TicketTypeDetails) (*models.TicketType, error) {
	return s.mutateTicketType(ctx, typeID, func(ctx context.Context, e *models.Event, t *models.TicketType) error {
		if err := t.ApplyDetails(d, requestcontext.Now(ctx)); err != nil {
			return err
		}
		return s.checkCapacity(ctx, e, t)
	})
}

// DeactivateTicketType stops sales; tickets already sold stay valid.
func (s *Service) DeactivateTicketType(ctx context.Context, typeID id.TicketTypeID) (*models.TicketType, error) {
	return s.mutateTicketType(ctx, typeID, func(ctx context.Context, _ *models.Event, t *models.TicketType) error {
		t.Active = false
		t.UpdatedAt = requestcontext.Now(ctx)
		return nil
	})
}

func (s *Service) DeleteTicketType(ctx context.Context, typeID id.TicketTypeID) error {
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		t, err := s.store.FindTicketType(ctx, typeID)
		if err != nil {
			return wrapStoreErr(err, "ticket type")
		}
		if _, err := s.managedEvent(ctx, t.EventID); err != nil {
			return err
		}
		if err := t.CanDelete(); err != nil {
			return err
		}
		if err := s.store.DeleteTicketType(ctx, typeID); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeConflict, "ticket types with sales cannot be deleted; deactivate instead")
			}
			return wrapStoreErr(err, "ticket type")
		}
		return nil
	})
}

// ListTicketTypes returns the ticket types of a visible event. The public sees
// only active types; managers see all of them.
func (s *Service) ListTicketTypes(ctx context.Context, eventID id.EventID) ([]models.TicketTypeView, error) {
	e, err := s.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	types, err := s.store.ListTicketTypes(ctx, eventID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list ticket types")
	}
	manager := e.ManageableBy(requestcontext.ActorFrom(ctx))
	now := requestcontext.Now(ctx)
	out := make([]models.TicketTypeView, 0, len(types))
	for _, t := range types {
		if !t.Active && !manager {
			continue
		}
		out = append(out, t.View(now))
	}
	return out, nil
}

func (s *Service) mutateTicketType(ctx context.Context, typeID id.TicketTypeID, fn func(context.Context, *models.Event, *models.TicketType) error) (*models.TicketType, error) {
	var out *models.TicketType
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		t, err := s.store.FindTicketType(ctx, typeID)
		if err != nil {
			return wrapStoreErr(err, "ticket type")
		}
		e, err := s.managedEvent(ctx, t.EventID)
		if err != nil {
			return err
		}
		if e.IsCancelled() {
			return dErrors.New(dErrors.CodeInvalidState, "ticket types of cancelled events are frozen")
		}
		if err := fn(ctx, e, t); err != nil {
			return err
		}
		if err := s.store.UpdateTicketType(ctx, t); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeConflict, "total quantity cannot be lower than what was already sold")
			}
			return wrapStoreErr(err, "ticket type")
		}
		out = t
		return nil
	})
	return out, err
}

// checkCapacity keeps the sum of ticket type totals within a bounded event
// capacity.
func (s *Service) checkCapacity(ctx context.Context, e *models.Event, t *models.TicketType) error {
	if e.Capacity == 0 {
		return nil
	}
	others, err := s.allocated(ctx, e.ID, t.ID)
	if err != nil {
		return err
	}
	if others+t.TotalQuantity > e.Capacity {
		return dErrors.Newf(dErrors.CodeValidation, "ticket types would exceed the event capacity of %d (already allocated %d)", e.Capacity, others)
	}
	return nil
}
