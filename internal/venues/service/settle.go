package service

import (
	"context"
	"errors"
	"time"

	"ticketeer/internal/payments"
	"ticketeer/internal/platform/broker"
	"ticketeer/internal/venues/models"
	id "ticketeer/pkg/domain"
	dErrors "ticketeer/pkg/domain-errors"
	"ticketeer/pkg/platform/sentinel"
	"ticketeer/pkg/requestcontext"
)

var errSettled = errors.New("booking already settled")

// ConfirmPayment applies a gateway confirmation. A payment that arrives
// after the hold lapsed confirms the booking if the slot is still free and
// is refunded otherwise.
func (s *Service) ConfirmPayment(ctx context.Context, n payments.Notification) error {
	b, err := s.settling(ctx, n)
	if err != nil {
		return err
	}
	now := requestcontext.Now(ctx)
	switch b.Status {
	case models.StatusConfirmed:
		return nil
	case models.StatusCancelled:
		return s.refundLatePayment(ctx, b, n, "booking was cancelled before the payment arrived")
	case models.StatusExpired, models.StatusFailed:
		_, err := s.confirm(ctx, b.ID, n.PaymentID, now, func(b *models.Booking) error { return b.CanConfirmLate() })
		if dErrors.HasCode(err, dErrors.CodeConflict) {
			return s.refundLatePayment(ctx, b, n, "the slot was booked by someone else before the payment arrived")
		}
		if errors.Is(err, errSettled) {
			return nil
		}
		return err
	}
	_, err = s.confirm(ctx, b.ID, n.PaymentID, now, func(b *models.Booking) error { return b.CanConfirm() })
	if errors.Is(err, errSettled) {
		return nil
	}
	return err
}

func (s *Service) FailPayment(ctx context.Context, n payments.Notification) error {
	b, err := s.settling(ctx, n)
	if err != nil {
		return err
	}
	reason := n.Reason
	if reason == "" {
		reason = "payment failed"
	}
	_, err = s.fail(ctx, b.ID, reason, requestcontext.Now(ctx))
	if errors.Is(err, errSettled) {
		s.logger.InfoContext(ctx, "ignoring payment failure for settled booking", "booking_id", b.ID, "status", b.Status)
		return nil
	}
	return err
}

func (s *Service) settling(ctx context.Context, n payments.Notification) (*models.Booking, error) {
	bookingID, err := id.ParseBookingID(n.Reference.ID)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "payment reference is not a booking")
	}
	b, err := s.store.FindBooking(ctx, bookingID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	if err := b.MatchesPayment(n.Provider, n.PaymentID); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) confirm(ctx context.Context, bookingID id.BookingID, paymentID string, now time.Time, allowed func(*models.Booking) error) (*models.Booking, error) {
	b, err := s.store.Execute(ctx, bookingID,
		func(b *models.Booking) error {
			if b.Status == models.StatusConfirmed {
				return errSettled
			}
			return allowed(b)
		},
		func(b *models.Booking) { b.ApplyConfirmed(paymentID, now) },
	)
	if errors.Is(err, errSettled) {
		return nil, err
	}
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	s.logger.InfoContext(ctx, "venue booking confirmed", "booking_id", b.ID, "space_id", b.SpaceID)
	s.publishConfirmed(ctx, b)
	return b, nil
}

func (s *Service) fail(ctx context.Context, bookingID id.BookingID, reason string, now time.Time) (*models.Booking, error) {
	b, err := s.store.Execute(ctx, bookingID,
		func(b *models.Booking) error {
			if !b.Status.Unpaid() {
				return errSettled
			}
			return b.CanFail()
		},
		func(b *models.Booking) { b.ApplyFailed(reason, now) },
	)
	if errors.Is(err, errSettled) {
		return nil, err
	}
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return b, nil
}

func (s *Service) refundLatePayment(ctx context.Context, b *models.Booking, n payments.Notification, reason string) error {
	g, err := s.gateways.Lookup(n.Provider)
	if err != nil {
		return err
	}
	amount := n.AmountCents
	if amount <= 0 {
		amount = b.TotalCents
	}
	if err := g.Refund(ctx, n.PaymentID, amount); err != nil {
		return err
	}
	_, err = s.store.Execute(ctx, b.ID,
		func(b *models.Booking) error {
			if b.Status.BlocksSlot() {
				return dErrors.Newf(dErrors.CodeInvalidState, "booking is %s", b.Status)
			}
			return nil
		},
		func(b *models.Booking) {
			b.ProviderPaymentID = n.PaymentID
			b.FailureReason = reason
			b.UpdatedAt = requestcontext.Now(ctx)
		},
	)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return wrapStoreErr(err)
	}
	s.logger.WarnContext(ctx, "late booking payment refunded", "booking_id", b.ID, "reason", reason)
	return nil
}

func (s *Service) publishConfirmed(ctx context.Context, b *models.Booking) {
	if s.publisher == nil {
		return
	}
	msg := models.Confirmed{
		BookingID:     b.ID,
		SpaceName:     b.SpaceName,
		CustomerName:  b.Customer.Name,
		CustomerEmail: b.Customer.Email,
		StartsAt:      b.StartsAt,
		EndsAt:        b.EndsAt,
		Headcount:     b.Headcount,
		Services:      b.Services,
		TotalCents:    b.TotalCents,
		Currency:      b.Currency,
	}
	if err := broker.Emit(ctx, s.publisher, broker.TypeBookingConfirmed, b.ID.String(), requestcontext.Now(ctx), msg); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish booking.confirmed", "booking_id", b.ID, "error", err)
	}
}

var _ payments.Settler = (*Service)(nil)
