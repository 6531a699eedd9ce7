package service

import (
	"context"

	"ticketeer/internal/audit"
	"ticketeer/internal/checkout/models"
	"ticketeer/internal/payments"
	id "ticketeer/pkg/domain"
	dErrors "ticketeer/pkg/domain-errors"
	"ticketeer/pkg/requestcontext"
)

const expirySweepBatch = 200

// Cancel lets the buyer abandon an unpaid order.
func (s *Service) Cancel(ctx context.Context, orderID id.OrderID) (*models.Order, error) {
	actor := requestcontext.ActorFrom(ctx)
	now := requestcontext.Now(ctx)
	var out *models.Order
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		o, err := s.store.Execute(ctx, orderID,
			func(o *models.Order) error {
				if !o.BelongsTo(actor) && !actor.Role.IsAdmin() {
					return dErrors.New(dErrors.CodeNotFound, "order not found")
				}
				return o.CanCancel()
			},
			func(o *models.Order) { o.ApplyCancelled(now) },
		)
		if err != nil {
			return err
		}
		out = o
		return s.releaseHold(ctx, o, true)
	})
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	s.metrics.IncOrderTransition(string(models.StatusCancelled))
	s.logger.InfoContext(ctx, "order cancelled", "order_id", orderID)
	return out, nil
}

// ExpireStale releases the holds of unpaid orders past their deadline and
// returns how many it expired.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	now := requestcontext.Now(ctx)
	stale, err := s.store.ListExpired(ctx, now, expirySweepBatch)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list expired orders")
	}
	expired := 0
	for _, candidate := range stale {
		err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
			o, err := s.store.Execute(ctx, candidate.ID,
				func(o *models.Order) error { return o.CanExpire(now) },
				func(o *models.Order) { o.ApplyExpired(now) },
			)
			if err != nil {
				return err
			}
			return s.releaseHold(ctx, o, true)
		})
		if err != nil {
			// Paid or cancelled since it was listed.
			if dErrors.HasCode(err, dErrors.CodeInvalidState) {
				continue
			}
			s.logger.ErrorContext(ctx, "failed to expire order", "order_id", candidate.ID, "error", err)
			continue
		}
		expired++
	}
	if expired > 0 {
		s.metrics.AddExpired("order", expired)
		s.logger.InfoContext(ctx, "expired stale orders", "count", expired)
	}
	return expired, nil
}

// Refund returns a paid order's money, voids its tickets and puts the
// inventory back on sale. Organizers of the event and admins only.
func (s *Service) Refund(ctx context.Context, orderID id.OrderID, reason string) (*models.Order, error) {
	o, err := s.store.FindByID(ctx, orderID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	if _, err := s.events.ManagedEvent(ctx, o.EventID); err != nil {
		return nil, err
	}
	if err := o.CanRefund(); err != nil {
		return nil, err
	}

	var refundedAmount int64
	if !o.IsFree() && o.Provider != payments.ProviderNone {
		g, err := s.gateways.Lookup(o.Provider)
		if err != nil {
			return nil, err
		}
		if err := g.Refund(ctx, o.ProviderPaymentID, o.TotalCents); err != nil {
			return nil, err
		}
		refundedAmount = o.TotalCents
	}

	now := requestcontext.Now(ctx)
	var out *models.Order
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		updated, err := s.store.Execute(ctx, orderID,
			func(o *models.Order) error { return o.CanRefund() },
			func(o *models.Order) { o.ApplyRefunded(reason, now) },
		)
		if err != nil {
			return err
		}
		out = updated
		if s.tickets != nil {
			if err := s.tickets.VoidForOrder(ctx, orderID); err != nil {
				return err
			}
		}
		return s.releaseHold(ctx, updated, false)
	})
	if err != nil {
		return nil, wrapStoreErr(err)
	}

	s.metrics.IncOrderTransition(string(models.StatusRefunded))
	s.logger.InfoContext(ctx, "order refunded", "order_id", orderID, "amount_cents", refundedAmount)
	if s.audit != nil {
		if err := s.audit.Emit(ctx, audit.Event{Action: audit.ActionOrderRefunded, Subject: orderID.String(), Detail: reason}); err != nil {
			s.logger.WarnContext(ctx, "failed to emit audit event", "action", audit.ActionOrderRefunded, "error", err)
		}
	}
	s.publishRefunded(ctx, out, refundedAmount, reason)
	return out, nil
}

// GetOrder is visible to the buyer, the event's organizer and admins.
func (s *Service) GetOrder(ctx context.Context, orderID id.OrderID) (*models.Order, error) {
	o, err := s.store.FindByID(ctx, orderID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	actor := requestcontext.ActorFrom(ctx)
	if o.BelongsTo(actor) || actor.Role.IsAdmin() {
		return o, nil
	}
	if _, err := s.events.ManagedEvent(ctx, o.EventID); err != nil {
		if dErrors.HasCode(err, dErrors.CodeForbidden) || dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "order not found")
		}
		return nil, err
	}
	return o, nil
}

func (s *Service) ListMine(ctx context.Context) ([]*models.Order, error) {
	actor := requestcontext.ActorFrom(ctx)
	if actor.UserID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	orders, err := s.store.ListByBuyer(ctx, actor.UserID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list orders")
	}
	return orders, nil
}

func (s *Service) ListByEvent(ctx context.Context, eventID id.EventID) ([]*models.Order, error) {
	if _, err := s.events.ManagedEvent(ctx, eventID); err != nil {
		return nil, err
	}
	orders, err := s.store.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list orders")
	}
	return orders, nil
}

var _ payments.Settler = (*Service)(nil)
