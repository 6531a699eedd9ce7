package service

import (
	"context"
	"errors"
	"time"

	"ticketeer/internal/checkout/models"
	"ticketeer/internal/payments"
	"ticketeer/internal/platform/broker"
	id "ticketeer/pkg/domain"
	dErrors "ticketeer/pkg/domain-errors"
	"ticketeer/pkg/platform/sentinel"
	"ticketeer/pkg/requestcontext"
)

// errSettled marks a transition some earlier call already made.
var errSettled = errors.New("order already settled")

// ConfirmPayment applies a gateway confirmation. Replays are no-ops; a
// payment for a lapsed order revives it when the tickets are still
// available and is refunded otherwise.
func (s *Service) ConfirmPayment(ctx context.Context, n payments.Notification) error {
	orderID, err := id.ParseOrderID(n.Reference.ID)
	if err != nil {
		return dErrors.New(dErrors.CodeBadRequest, "payment reference is not an order")
	}
	current, err := s.store.FindByID(ctx, orderID)
	if err != nil {
		return wrapStoreErr(err)
	}
	if err := current.MatchesPayment(n.Provider, n.PaymentID); err != nil {
		return err
	}
	now := requestcontext.Now(ctx)

	switch {
	case current.Status == models.StatusPaid:
		_, err := s.fulfill(ctx, current)
		return err
	case current.Status == models.StatusFulfilled, current.Status == models.StatusRefunded:
		return nil
	case current.Status == models.StatusCancelled:
		return s.refundLatePayment(ctx, current, n, "order was cancelled before the payment arrived")
	case current.Lapsed():
		return s.settleLatePayment(ctx, current, n, now)
	}

	paid, err := s.markPaid(ctx, orderID, n.PaymentID, now)
	if errors.Is(err, errSettled) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.fulfill(ctx, paid)
	return err
}

// FailPayment closes an unpaid order and releases its hold. Failures for
// orders that already moved on are ignored.
func (s *Service) FailPayment(ctx context.Context, n payments.Notification) error {
	orderID, err := id.ParseOrderID(n.Reference.ID)
	if err != nil {
		return dErrors.New(dErrors.CodeBadRequest, "payment reference is not an order")
	}
	current, err := s.store.FindByID(ctx, orderID)
	if err != nil {
		return wrapStoreErr(err)
	}
	if err := current.MatchesPayment(n.Provider, n.PaymentID); err != nil {
		return err
	}
	reason := n.Reason
	if reason == "" {
		reason = "payment failed"
	}
	_, err = s.fail(ctx, orderID, reason, requestcontext.Now(ctx))
	if errors.Is(err, errSettled) {
		s.logger.InfoContext(ctx, "ignoring payment failure for settled order", "order_id", orderID, "status", current.Status)
		return nil
	}
	return err
}

func (s *Service) markPaid(ctx context.Context, orderID id.OrderID, paymentID string, now time.Time) (*models.Order, error) {
	o, err := s.store.Execute(ctx, orderID,
		func(o *models.Order) error {
			if o.Status == models.StatusPaid || o.Status == models.StatusFulfilled {
				return errSettled
			}
			return o.CanPay()
		},
		func(o *models.Order) { o.ApplyPaid(paymentID, now) },
	)
	if err != nil {
		if errors.Is(err, errSettled) {
			return nil, err
		}
		return nil, wrapStoreErr(err)
	}
	s.metrics.IncOrderTransition(string(models.StatusPaid))
	s.logger.InfoContext(ctx, "order paid", "order_id", o.ID, "provider", o.Provider)
	return o, nil
}

// fail marks an unpaid order failed and releases inventory and coupon.
func (s *Service) fail(ctx context.Context, orderID id.OrderID, reason string, now time.Time) (*models.Order, error) {
	var out *models.Order
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		o, err := s.store.Execute(ctx, orderID,
			func(o *models.Order) error {
				if !o.Status.Unpaid() {
					return errSettled
				}
				return o.CanFail()
			},
			func(o *models.Order) { o.ApplyFailed(reason, now) },
		)
		if err != nil {
			return err
		}
		out = o
		return s.releaseHold(ctx, o, true)
	})
	if err != nil {
		if errors.Is(err, errSettled) {
			return nil, err
		}
		return nil, wrapStoreErr(err)
	}
	s.metrics.IncOrderTransition(string(models.StatusFailed))
	return out, nil
}

// fulfill issues the tickets of a paid order and announces it. Safe to call
// again after a partial failure.
func (s *Service) fulfill(ctx context.Context, o *models.Order) (*models.Order, error) {
	if s.tickets == nil {
		return o, nil
	}
	issued, err := s.tickets.IssueForOrder(ctx, o)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	updated, err := s.store.Execute(ctx, o.ID,
		func(o *models.Order) error {
			if o.Status == models.StatusFulfilled {
				return errSettled
			}
			return o.CanFulfill()
		},
		func(o *models.Order) { o.ApplyFulfilled(now) },
	)
	if errors.Is(err, errSettled) {
		return s.reload(ctx, o.ID)
	}
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	s.metrics.IncOrderTransition(string(models.StatusFulfilled))
	s.metrics.AddTicketsIssued(len(issued))
	s.publishPaid(ctx, updated, issued)
	return updated, nil
}

// settleLatePayment re-acquires the inventory of a lapsed order. When any
// line has sold out in the meantime the payment is refunded.
func (s *Service) settleLatePayment(ctx context.Context, o *models.Order, n payments.Notification, now time.Time) error {
	var paid *models.Order
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		reserved := make([]models.Item, 0, len(o.Items))
		for _, it := range o.Items {
			if err := s.catalog.Reserve(ctx, it.TicketTypeID, it.Quantity); err != nil {
				for _, r := range reserved {
					if relErr := s.catalog.Release(ctx, r.TicketTypeID, r.Quantity); relErr != nil {
						s.logger.WarnContext(ctx, "failed to undo reservation", "ticket_type_id", r.TicketTypeID, "error", relErr)
					}
				}
				return err
			}
			reserved = append(reserved, it)
		}
		var err error
		paid, err = s.store.Execute(ctx, o.ID,
			func(o *models.Order) error { return o.CanPayLate() },
			func(o *models.Order) { o.ApplyPaid(n.PaymentID, now) },
		)
		return err
	})
	if errors.Is(err, sentinel.ErrSoldOut) {
		return s.refundLatePayment(ctx, o, n, "tickets sold out before the payment arrived")
	}
	if err != nil {
		return wrapStoreErr(err)
	}
	// The discount was honoured at payment time; a coupon that ran out since
	// is left over-redeemed by one rather than re-pricing the order.
	if paid.CouponID != nil && s.coupons != nil {
		if err := s.coupons.Redeem(ctx, *paid.CouponID); err != nil {
			s.logger.WarnContext(ctx, "coupon not re-redeemed for late payment", "order_id", paid.ID, "error", err)
		}
	}
	s.metrics.IncOrderTransition(string(models.StatusPaid))
	s.logger.InfoContext(ctx, "late payment accepted", "order_id", paid.ID)
	_, err = s.fulfill(ctx, paid)
	return err
}

func (s *Service) refundLatePayment(ctx context.Context, o *models.Order, n payments.Notification, reason string) error {
	g, err := s.gateways.Lookup(n.Provider)
	if err != nil {
		return err
	}
	amount := n.AmountCents
	if amount <= 0 {
		amount = o.TotalCents
	}
	if err := g.Refund(ctx, n.PaymentID, amount); err != nil {
		return err
	}
	now := requestcontext.Now(ctx)
	refunded, err := s.store.Execute(ctx, o.ID,
		func(o *models.Order) error {
			if o.Lapsed() || o.Status == models.StatusCancelled {
				return nil
			}
			return dErrors.Newf(dErrors.CodeInvalidState, "order is %s", o.Status)
		},
		func(o *models.Order) {
			o.ProviderPaymentID = n.PaymentID
			o.ApplyRefunded(reason, now)
		},
	)
	if err != nil {
		return wrapStoreErr(err)
	}
	s.metrics.IncOrderTransition(string(models.StatusRefunded))
	s.logger.WarnContext(ctx, "late payment refunded", "order_id", o.ID, "reason", reason)
	s.publishRefunded(ctx, refunded, amount, reason)
	return nil
}

func (s *Service) reload(ctx context.Context, orderID id.OrderID) (*models.Order, error) {
	o, err := s.store.FindByID(ctx, orderID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return o, nil
}

func (s *Service) publishPaid(ctx context.Context, o *models.Order, issued []models.IssuedTicket) {
	if s.publisher == nil {
		return
	}
	msg := models.OrderPaid{
		OrderID:    o.ID,
		Reference:  o.Reference,
		EventID:    o.EventID,
		BuyerName:  o.Buyer.Name,
		BuyerEmail: o.Buyer.Email,
		TotalCents: o.TotalCents,
		Currency:   o.Currency,
		Tickets:    issued,
	}
	if e, err := s.catalog.FindEvent(ctx, o.EventID); err == nil {
		msg.EventTitle = e.Title
		msg.EventStartsAt = e.StartsAt
		msg.VenueName = e.VenueName
	}
	if err := broker.Emit(ctx, s.publisher, broker.TypeOrderPaid, o.ID.String(), requestcontext.Now(ctx), msg); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish order.paid", "order_id", o.ID, "error", err)
	}
}

func (s *Service) publishRefunded(ctx context.Context, o *models.Order, amount int64, reason string) {
	if s.publisher == nil {
		return
	}
	msg := models.OrderRefunded{
		OrderID:     o.ID,
		Reference:   o.Reference,
		EventID:     o.EventID,
		BuyerName:   o.Buyer.Name,
		BuyerEmail:  o.Buyer.Email,
		AmountCents: amount,
		Currency:    o.Currency,
		Reason:      reason,
	}
	if e, err := s.catalog.FindEvent(ctx, o.EventID); err == nil {
		msg.EventTitle = e.Title
	}
	if err := broker.Emit(ctx, s.publisher, broker.TypeOrderRefunded, o.ID.String(), requestcontext.Now(ctx), msg); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish order.refunded", "order_id", o.ID, "error", err)
	}
}
