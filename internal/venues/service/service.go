package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"ticketeer/internal/audit"
	"ticketeer/internal/payments"
	"ticketeer/internal/platform/broker"
	"ticketeer/internal/platform/metrics"
	"ticketeer/internal/venues/models"
	id "ticketeer/pkg/domain"
	dErrors "ticketeer/pkg/domain-errors"
	"ticketeer/pkg/email"
	"ticketeer/pkg/platform/sentinel"
	"ticketeer/pkg/platform/tx"
	"ticketeer/pkg/requestcontext"
)

type Store interface {
	CreateSpace(ctx context.Context, sp *models.Space) error
	FindSpace(ctx context.Context, spaceID id.SpaceID) (*models.Space, error)
	UpdateSpace(ctx context.Context, spaceID id.SpaceID, mutate func(*models.Space)) (*models.Space, error)
	ListSpaces(ctx context.Context, includeInactive bool) ([]*models.Space, error)

	CreateBooking(ctx context.Context, b *models.Booking) error
	FindBooking(ctx context.Context, bookingID id.BookingID) (*models.Booking, error)
	Execute(ctx context.Context, bookingID id.BookingID, validate func(*models.Booking) error, mutate func(*models.Booking)) (*models.Booking, error)
	ListBySpace(ctx context.Context, spaceID id.SpaceID, from, to time.Time) ([]*models.Booking, error)
	ListByCustomer(ctx context.Context, customerID id.UserID) ([]*models.Booking, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.Booking, error)
}

type Gateways interface {
	Gateway(p payments.Provider, m payments.Method) (payments.Gateway, error)
	Lookup(p payments.Provider) (payments.Gateway, error)
}

type Settings struct {
	HoldTTL         time.Duration
	DefaultProvider payments.Provider
	// SuccessURL and CancelURL may contain {booking}.
	SuccessURL string
	CancelURL  string
	// MaxCalendarRange bounds a ListBySpace query.
	MaxCalendarRange time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		HoldTTL:          30 * time.Minute,
		DefaultProvider:  payments.ProviderStripe,
		SuccessURL:       "http://localhost:3000/venues/bookings/{booking}?status=success",
		CancelURL:        "http://localhost:3000/venues/bookings/{booking}?status=cancelled",
		MaxCalendarRange: 93 * 24 * time.Hour,
	}
}

const expirySweepBatch = 200

// Service prices and books venue spaces.
type Service struct {
	store     Store
	gateways  Gateways
	rules     *models.Rules
	settings  Settings
	tx        tx.Runner
	logger    *slog.Logger
	audit     audit.Emitter
	publisher broker.Publisher
	metrics   *metrics.Metrics
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

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithRules(r *models.Rules) Option {
	return func(s *Service) { s.rules = r }
}

func WithSettings(st Settings) Option {
	return func(s *Service) { s.settings = st }
}

func New(store Store, gateways Gateways, opts ...Option) *Service {
	s := &Service{
		store:    store,
		gateways: gateways,
		rules:    models.DefaultRules(),
		settings: DefaultSettings(),
		tx:       tx.NoopRunner{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Rules exposes the pricing table so clients can render the options.
func (s *Service) Rules() *models.Rules { return s.rules }

func requireAdmin(ctx context.Context) error {
	if !requestcontext.ActorFrom(ctx).Role.IsAdmin() {
		return dErrors.New(dErrors.CodeForbidden, "admin role required")
	}
	return nil
}

func (s *Service) CreateSpace(ctx context.Context, in models.SpaceInput) (*models.Space, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	sp := models.NewSpace(id.NewSpaceID(), in, requestcontext.Now(ctx))
	if err := s.store.CreateSpace(ctx, sp); err != nil {
		return nil, wrapStoreErr(err)
	}
	s.logger.InfoContext(ctx, "venue space created", "space_id", sp.ID, "name", sp.Name)
	return sp, nil
}

func (s *Service) UpdateSpace(ctx context.Context, spaceID id.SpaceID, in models.SpaceInput) (*models.Space, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	sp, err := s.store.UpdateSpace(ctx, spaceID, func(sp *models.Space) { sp.Apply(in, now) })
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return sp, nil
}

// ListSpaces returns active spaces; admins also see inactive ones.
func (s *Service) ListSpaces(ctx context.Context) ([]*models.Space, error) {
	spaces, err := s.store.ListSpaces(ctx, requestcontext.ActorFrom(ctx).Role.IsAdmin())
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return spaces, nil
}

func (s *Service) GetSpace(ctx context.Context, spaceID id.SpaceID) (*models.Space, error) {
	return s.bookableSpace(ctx, spaceID)
}

// bookableSpace hides inactive spaces behind not_found.
func (s *Service) bookableSpace(ctx context.Context, spaceID id.SpaceID) (*models.Space, error) {
	sp, err := s.store.FindSpace(ctx, spaceID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	if !sp.Active && !requestcontext.ActorFrom(ctx).Role.IsAdmin() {
		return nil, dErrors.New(dErrors.CodeNotFound, "space not found")
	}
	return sp, nil
}

func (s *Service) Quote(ctx context.Context, req models.QuoteRequest) (*models.Quote, error) {
	sp, err := s.bookableSpace(ctx, req.SpaceID)
	if err != nil {
		return nil, err
	}
	return s.rules.Price(sp, req)
}

// ListBySpace returns the occupied slots of a space in [from, to). A zero
// from means now; a zero to means 30 days after from.
func (s *Service) ListBySpace(ctx context.Context, spaceID id.SpaceID, from, to time.Time) ([]models.Slot, error) {
	if _, err := s.bookableSpace(ctx, spaceID); err != nil {
		return nil, err
	}
	if from.IsZero() {
		from = requestcontext.Now(ctx)
	}
	if to.IsZero() {
		to = from.Add(30 * 24 * time.Hour)
	}
	if !to.After(from) {
		return nil, dErrors.New(dErrors.CodeValidation, "calendar range must end after it starts")
	}
	if to.Sub(from) > s.settings.MaxCalendarRange {
		return nil, dErrors.Newf(dErrors.CodeValidation, "calendar range may span at most %d days", int(s.settings.MaxCalendarRange.Hours()/24))
	}
	bookings, err := s.store.ListBySpace(ctx, spaceID, from, to)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	slots := make([]models.Slot, 0, len(bookings))
	for _, b := range bookings {
		slots = append(slots, b.Slot())
	}
	return slots, nil
}

// CreateBooking prices the request, holds the slot and starts the payment.
func (s *Service) CreateBooking(ctx context.Context, req models.BookingRequest) (*models.Booking, error) {
	actor := requestcontext.ActorFrom(ctx)
	if actor.UserID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	now := requestcontext.Now(ctx)
	if !req.StartsAt.After(now) {
		return nil, dErrors.New(dErrors.CodeValidation, "booking must start in the future")
	}
	sp, err := s.bookableSpace(ctx, req.SpaceID)
	if err != nil {
		return nil, err
	}
	quote, err := s.rules.Price(sp, req.QuoteRequest)
	if err != nil {
		return nil, err
	}
	if req.Customer, err = customer(actor, req.Customer); err != nil {
		return nil, err
	}
	if req.Provider == "" {
		req.Provider = s.settings.DefaultProvider
	}
	if req.Method == "" {
		req.Method = payments.MethodCard
	}

	b := models.NewBooking(id.NewBookingID(), models.Draft{
		Space:      sp,
		CustomerID: actor.UserID,
		Request:    req,
		Quote:      *quote,
		HoldTTL:    s.settings.HoldTTL,
	}, now)

	var gateway payments.Gateway
	if !b.IsFree() {
		if gateway, err = s.gateways.Gateway(b.Provider, b.Method); err != nil {
			return nil, err
		}
	}
	if err := s.store.CreateBooking(ctx, b); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "the space is already booked for that time")
		}
		return nil, wrapStoreErr(err)
	}
	s.metrics.IncBookingCreated()
	s.logger.InfoContext(ctx, "venue booking created",
		"booking_id", b.ID,
		"space_id", b.SpaceID,
		"starts_at", b.StartsAt,
		"total_cents", b.TotalCents,
	)

	if b.IsFree() {
		return s.confirm(ctx, b.ID, "", now, func(b *models.Booking) error { return b.CanConfirm() })
	}
	return s.startPayment(ctx, b, gateway)
}

func customer(actor requestcontext.Actor, c models.Customer) (models.Customer, error) {
	c.Name = strings.TrimSpace(c.Name)
	c.Document = strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, c.Document)
	if strings.TrimSpace(c.Email) == "" {
		c.Email = actor.Email
	}
	var err error
	if c.Email, err = email.Normalize(c.Email); err != nil {
		return c, err
	}
	if c.Name == "" {
		c.Name = actor.Name
	}
	if c.Name == "" {
		c.Name = email.DisplayName(c.Email)
	}
	return c, nil
}

func (s *Service) startPayment(ctx context.Context, b *models.Booking, gateway payments.Gateway) (*models.Booking, error) {
	now := requestcontext.Now(ctx)
	session, err := gateway.CreatePayment(ctx, payments.PaymentRequest{
		Reference:      payments.Reference{Kind: payments.KindBooking, ID: b.ID.String()},
		Description:    b.SpaceName + " " + b.StartsAt.Format("2006-01-02 15:04") + " (" + strconv.Itoa(b.Quote.Hours) + "h)",
		AmountCents:    b.TotalCents,
		Currency:       b.Currency,
		Method:         b.Method,
		Customer:       payments.Customer{Name: b.Customer.Name, Email: b.Customer.Email, Document: b.Customer.Document},
		SuccessURL:     strings.ReplaceAll(s.settings.SuccessURL, "{booking}", b.ID.String()),
		CancelURL:      strings.ReplaceAll(s.settings.CancelURL, "{booking}", b.ID.String()),
		IdempotencyKey: "booking-" + b.ID.String(),
		ExpiresAt:      b.ExpiresAt,
	})
	if err != nil {
		reason := dErrors.MessageOf(err)
		if reason == "" {
			reason = "payment provider error"
		}
		s.logger.WarnContext(ctx, "booking payment creation failed", "booking_id", b.ID, "provider", b.Provider, "error", err)
		if _, failErr := s.fail(ctx, b.ID, reason, now); failErr != nil && !errors.Is(failErr, errSettled) {
			s.logger.ErrorContext(ctx, "failed to release slot after gateway error", "booking_id", b.ID, "error", failErr)
		}
		return nil, err
	}
	updated, err := s.store.Execute(ctx, b.ID,
		func(b *models.Booking) error { return b.CanAwaitPayment() },
		func(b *models.Booking) { b.ApplyAwaitingPayment(*session, now) },
	)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return updated, nil
}

// GetBooking returns a booking to its customer or an admin.
func (s *Service) GetBooking(ctx context.Context, bookingID id.BookingID) (*models.Booking, error) {
	b, err := s.store.FindBooking(ctx, bookingID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	actor := requestcontext.ActorFrom(ctx)
	if !b.BelongsTo(actor) && !actor.Role.IsAdmin() {
		return nil, dErrors.New(dErrors.CodeNotFound, "booking not found")
	}
	return b, nil
}

func (s *Service) ListMine(ctx context.Context) ([]*models.Booking, error) {
	actor := requestcontext.ActorFrom(ctx)
	if actor.UserID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	bookings, err := s.store.ListByCustomer(ctx, actor.UserID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return bookings, nil
}

// Cancel drops a booking. A confirmed booking is refunded in full first.
func (s *Service) Cancel(ctx context.Context, bookingID id.BookingID, reason string) (*models.Booking, error) {
	actor := requestcontext.ActorFrom(ctx)
	now := requestcontext.Now(ctx)
	b, err := s.store.FindBooking(ctx, bookingID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	if err := b.CanCancel(actor, now); err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "cancelled by " + string(actor.Role)
	}

	var refunded int64
	if b.Status == models.StatusConfirmed && !b.IsFree() {
		g, err := s.gateways.Lookup(b.Provider)
		if err != nil {
			return nil, err
		}
		if err := g.Refund(ctx, b.ProviderPaymentID, b.TotalCents); err != nil {
			return nil, err
		}
		refunded = b.TotalCents
	}

	out, err := s.store.Execute(ctx, bookingID,
		func(b *models.Booking) error { return b.CanCancel(actor, now) },
		func(b *models.Booking) { b.ApplyCancelled(reason, now) },
	)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	s.logger.InfoContext(ctx, "venue booking cancelled", "booking_id", bookingID, "refunded_cents", refunded)
	if s.audit != nil {
		if err := s.audit.Emit(ctx, audit.Event{Action: audit.ActionBookingCancelled, Subject: bookingID.String(), Detail: reason}); err != nil {
			s.logger.WarnContext(ctx, "failed to emit audit event", "action", audit.ActionBookingCancelled, "error", err)
		}
	}
	return out, nil
}

// ExpireStale releases the slots of bookings whose payment hold lapsed.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	now := requestcontext.Now(ctx)
	stale, err := s.store.ListExpired(ctx, now, expirySweepBatch)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list expired bookings")
	}
	expired := 0
	for _, candidate := range stale {
		_, err := s.store.Execute(ctx, candidate.ID,
			func(b *models.Booking) error { return b.CanExpire(now) },
			func(b *models.Booking) { b.ApplyExpired(now) },
		)
		if err != nil {
			if !dErrors.HasCode(err, dErrors.CodeInvalidState) {
				s.logger.ErrorContext(ctx, "failed to expire booking", "booking_id", candidate.ID, "error", err)
			}
			continue
		}
		expired++
	}
	if expired > 0 {
		s.metrics.AddExpired("booking", expired)
		s.logger.InfoContext(ctx, "expired stale bookings", "count", expired)
	}
	return expired, nil
}

func wrapStoreErr(err error) error {
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, "the space is already booked for that time")
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return dErrors.New(dErrors.CodeConflict, "already exists")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "venue store failure")
}
