package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"ticketeer/internal/audit"
	"ticketeer/internal/checkout/models"
	couponmodels "ticketeer/internal/coupons/models"
	eventmodels "ticketeer/internal/events/models"
	"ticketeer/internal/payments"
	"ticketeer/internal/platform/broker"
	"ticketeer/internal/platform/metrics"
	id "ticketeer/pkg/domain"
	dErrors "ticketeer/pkg/domain-errors"
	"ticketeer/pkg/email"
	"ticketeer/pkg/platform/sentinel"
	"ticketeer/pkg/platform/tx"
	"ticketeer/pkg/requestcontext"
)

type Store interface {
	Create(ctx context.Context, o *models.Order) error
	FindByID(ctx context.Context, orderID id.OrderID) (*models.Order, error)
	FindByIdempotencyKey(ctx context.Context, buyer id.UserID, key string) (*models.Order, error)
	Execute(ctx context.Context, orderID id.OrderID, validate func(*models.Order) error, mutate func(*models.Order)) (*models.Order, error)
	ListByBuyer(ctx context.Context, buyer id.UserID) ([]*models.Order, error)
	ListByEvent(ctx context.Context, eventID id.EventID) ([]*models.Order, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.Order, error)
}

// Catalog is the inventory side of the events store.
type Catalog interface {
	FindEvent(ctx context.Context, eventID id.EventID) (*eventmodels.Event, error)
	FindTicketType(ctx context.Context, typeID id.TicketTypeID) (*eventmodels.TicketType, error)
	Reserve(ctx context.Context, typeID id.TicketTypeID, qty int) error
	Release(ctx context.Context, typeID id.TicketTypeID, qty int) error
}

// Events authorizes organizer access to an event.
type Events interface {
	ManagedEvent(ctx context.Context, eventID id.EventID) (*eventmodels.Event, error)
}

type Coupons interface {
	Validate(ctx context.Context, eventID id.EventID, code string, subtotal int64) (*couponmodels.Discount, error)
	Redeem(ctx context.Context, couponID id.CouponID) error
	Release(ctx context.Context, couponID id.CouponID) error
}

// Tickets issues and voids the tickets of an order. Both calls are
// idempotent per order.
type Tickets interface {
	IssueForOrder(ctx context.Context, o *models.Order) ([]models.IssuedTicket, error)
	VoidForOrder(ctx context.Context, orderID id.OrderID) error
}

type Gateways interface {
	Gateway(p payments.Provider, m payments.Method) (payments.Gateway, error)
	Lookup(p payments.Provider) (payments.Gateway, error)
}

// Settings are the checkout rules from configuration.
type Settings struct {
	HoldTTL            time.Duration
	FeeBasisPoints     int64
	MaxTicketsPerOrder int
	DefaultProvider    payments.Provider
	// SuccessURL and CancelURL may contain {order}, replaced by the order ID.
	SuccessURL string
	CancelURL  string
}

func DefaultSettings() Settings {
	return Settings{
		HoldTTL:            15 * time.Minute,
		FeeBasisPoints:     1000,
		MaxTicketsPerOrder: 10,
		DefaultProvider:    payments.ProviderStripe,
		SuccessURL:         "http://localhost:3000/orders/{order}?status=success",
		CancelURL:          "http://localhost:3000/orders/{order}?status=cancelled",
	}
}

// Service runs the order state machine.
type Service struct {
	store     Store
	catalog   Catalog
	events    Events
	gateways  Gateways
	coupons   Coupons
	tickets   Tickets
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

func WithCoupons(c Coupons) Option {
	return func(s *Service) { s.coupons = c }
}

func WithTickets(t Tickets) Option {
	return func(s *Service) { s.tickets = t }
}

func WithSettings(st Settings) Option {
	return func(s *Service) { s.settings = st }
}

func New(store Store, catalog Catalog, events Events, gateways Gateways, opts ...Option) *Service {
	s := &Service{
		store:    store,
		catalog:  catalog,
		events:   events,
		gateways: gateways,
		settings: DefaultSettings(),
		tx:       tx.NoopRunner{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Checkout prices the cart, holds the inventory and starts the payment.
// Repeating a request with the same idempotency key returns the first order.
func (s *Service) Checkout(ctx context.Context, req models.CheckoutRequest) (*models.Order, error) {
	actor := requestcontext.ActorFrom(ctx)
	if actor.UserID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.IdempotencyKey != "" {
		existing, err := s.store.FindByIdempotencyKey(ctx, actor.UserID, req.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up order")
		}
	}

	now := requestcontext.Now(ctx)
	draft, err := s.draft(ctx, actor, req, now)
	if err != nil {
		return nil, err
	}

	order := models.NewOrder(id.NewOrderID(), *draft, now)
	var gateway payments.Gateway
	if !order.IsFree() {
		if gateway, err = s.gateways.Gateway(order.Provider, order.Method); err != nil {
			return nil, err
		}
	}

	if err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		return s.hold(ctx, order)
	}); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) && order.IdempotencyKey != "" {
			// Lost a race with the same idempotency key.
			if existing, findErr := s.store.FindByIdempotencyKey(ctx, actor.UserID, order.IdempotencyKey); findErr == nil {
				return existing, nil
			}
		}
		return nil, wrapStoreErr(err)
	}
	s.metrics.IncOrderCreated(string(order.Provider))
	s.logger.InfoContext(ctx, "order created",
		"order_id", order.ID,
		"event_id", order.EventID,
		"total_cents", order.TotalCents,
		"provider", order.Provider,
	)

	if order.IsFree() {
		paid, err := s.markPaid(ctx, order.ID, "", now)
		if err != nil {
			return nil, err
		}
		return s.fulfill(ctx, paid)
	}
	return s.startPayment(ctx, order, gateway)
}

// draft validates the cart against the catalogue and prices it.
func (s *Service) draft(ctx context.Context, actor requestcontext.Actor, req models.CheckoutRequest, now time.Time) (*models.Draft, error) {
	lines := req.MergedLines()
	if len(lines) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "select at least one ticket")
	}

	event, err := s.catalog.FindEvent(ctx, req.EventID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "event not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load event")
	}
	switch {
	case event.Status == eventmodels.StatusDraft:
		return nil, dErrors.New(dErrors.CodeNotFound, "event not found")
	case event.IsCancelled():
		return nil, dErrors.New(dErrors.CodeInvalidState, "event has been cancelled")
	case event.HasStarted(now):
		return nil, dErrors.New(dErrors.CodeInvalidState, "ticket sales for this event have closed")
	}

	items := make([]models.Item, 0, len(lines))
	total := 0
	for _, l := range lines {
		t, err := s.catalog.FindTicketType(ctx, l.TicketTypeID)
		if err != nil || t.EventID != event.ID {
			if err == nil || errors.Is(err, sentinel.ErrNotFound) {
				return nil, dErrors.New(dErrors.CodeValidation, "cart references a ticket type that is not part of this event")
			}
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load ticket type")
		}
		if t.Active && t.Available() < l.Quantity {
			return nil, dErrors.Newf(dErrors.CodeConflict, "not enough %s tickets left", t.Name)
		}
		if !t.OnSale(now) {
			return nil, dErrors.Newf(dErrors.CodeValidation, "%s is not on sale", t.Name)
		}
		if l.Quantity < 1 || l.Quantity > t.MaxPerOrder {
			return nil, dErrors.Newf(dErrors.CodeValidation, "quantity for %s must be between 1 and %d", t.Name, t.MaxPerOrder)
		}
		total += l.Quantity
		items = append(items, models.Item{
			TicketTypeID:   t.ID,
			Name:           t.Name,
			UnitPriceCents: t.PriceCents,
			Quantity:       l.Quantity,
		})
	}
	if total > s.settings.MaxTicketsPerOrder {
		return nil, dErrors.Newf(dErrors.CodeValidation, "at most %d tickets per order", s.settings.MaxTicketsPerOrder)
	}

	buyer := req.Buyer
	buyer.Name = strings.TrimSpace(buyer.Name)
	if strings.TrimSpace(buyer.Email) == "" {
		buyer.Email = actor.Email
	}
	if buyer.Email, err = email.Normalize(buyer.Email); err != nil {
		return nil, err
	}
	if buyer.Name == "" {
		buyer.Name = actor.Name
	}
	if buyer.Name == "" {
		buyer.Name = email.DisplayName(buyer.Email)
	}

	d := &models.Draft{
		EventID:        event.ID,
		BuyerID:        actor.UserID,
		Buyer:          buyer,
		Items:          items,
		Currency:       event.Currency,
		FeeBasisPoints: s.settings.FeeBasisPoints,
		Provider:       req.Provider,
		Method:         req.Method,
		IdempotencyKey: req.IdempotencyKey,
		HoldTTL:        s.settings.HoldTTL,
	}
	if d.Provider == "" {
		d.Provider = s.settings.DefaultProvider
	}
	if d.Method == "" {
		d.Method = payments.MethodCard
	}

	if code := strings.TrimSpace(req.CouponCode); code != "" {
		if s.coupons == nil {
			return nil, dErrors.New(dErrors.CodeValidation, "coupons are not accepted")
		}
		subtotal := models.Price(items, 0, 0).SubtotalCents
		discount, err := s.coupons.Validate(ctx, event.ID, code, subtotal)
		if err != nil {
			return nil, err
		}
		couponID := discount.CouponID
		d.CouponID = &couponID
		d.CouponCode = discount.Code
		d.Discount = discount.Cents
	}
	return d, nil
}

// hold reserves every line and the coupon, then inserts the order. It
// undoes its own reservations on failure so stores without transactions
// stay consistent.
func (s *Service) hold(ctx context.Context, o *models.Order) (err error) {
	reserved := make([]models.Item, 0, len(o.Items))
	couponRedeemed := false
	defer func() {
		if err == nil {
			return
		}
		for _, it := range reserved {
			if relErr := s.catalog.Release(ctx, it.TicketTypeID, it.Quantity); relErr != nil {
				s.logger.WarnContext(ctx, "failed to undo reservation", "ticket_type_id", it.TicketTypeID, "error", relErr)
			}
		}
		if couponRedeemed {
			if relErr := s.coupons.Release(ctx, *o.CouponID); relErr != nil {
				s.logger.WarnContext(ctx, "failed to undo coupon redemption", "coupon_id", *o.CouponID, "error", relErr)
			}
		}
	}()

	for _, it := range o.Items {
		if err := s.catalog.Reserve(ctx, it.TicketTypeID, it.Quantity); err != nil {
			if errors.Is(err, sentinel.ErrSoldOut) {
				return dErrors.Newf(dErrors.CodeConflict, "not enough %s tickets left", it.Name)
			}
			return err
		}
		reserved = append(reserved, it)
	}
	if o.CouponID != nil {
		if err := s.coupons.Redeem(ctx, *o.CouponID); err != nil {
			return err
		}
		couponRedeemed = true
	}
	return s.store.Create(ctx, o)
}

// releaseHold returns inventory and the coupon of an order that will not be
// paid.
func (s *Service) releaseHold(ctx context.Context, o *models.Order, withCoupon bool) error {
	var errs []error
	for _, it := range o.Items {
		if err := s.catalog.Release(ctx, it.TicketTypeID, it.Quantity); err != nil {
			errs = append(errs, err)
		}
	}
	if withCoupon && o.CouponID != nil && s.coupons != nil {
		if err := s.coupons.Release(ctx, *o.CouponID); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to release order hold")
	}
	return nil
}

func (s *Service) startPayment(ctx context.Context, o *models.Order, gateway payments.Gateway) (*models.Order, error) {
	now := requestcontext.Now(ctx)
	session, err := gateway.CreatePayment(ctx, payments.PaymentRequest{
		Reference:      payments.Reference{Kind: payments.KindOrder, ID: o.ID.String()},
		Description:    describe(o),
		AmountCents:    o.TotalCents,
		Currency:       o.Currency,
		Method:         o.Method,
		Customer:       payments.Customer{Name: o.Buyer.Name, Email: o.Buyer.Email, Document: o.Buyer.Document},
		SuccessURL:     expandURL(s.settings.SuccessURL, o.ID),
		CancelURL:      expandURL(s.settings.CancelURL, o.ID),
		IdempotencyKey: "order-" + o.ID.String(),
		ExpiresAt:      o.ExpiresAt,
	})
	if err != nil {
		reason := dErrors.MessageOf(err)
		if reason == "" {
			reason = "payment provider error"
		}
		s.logger.WarnContext(ctx, "payment creation failed", "order_id", o.ID, "provider", o.Provider, "error", err)
		if _, failErr := s.fail(ctx, o.ID, reason, now); failErr != nil {
			s.logger.ErrorContext(ctx, "failed to close order after gateway error", "order_id", o.ID, "error", failErr)
		}
		return nil, err
	}

	updated, err := s.store.Execute(ctx, o.ID,
		func(o *models.Order) error { return o.CanAwaitPayment() },
		func(o *models.Order) { o.ApplyAwaitingPayment(*session, now) },
	)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	s.metrics.IncOrderTransition(string(models.StatusAwaitingPayment))
	return updated, nil
}

func describe(o *models.Order) string {
	parts := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		parts = append(parts, it.Name+" x"+strconv.Itoa(it.Quantity))
	}
	return o.Reference + " - " + strings.Join(parts, ", ")
}

func expandURL(tmpl string, orderID id.OrderID) string {
	return strings.ReplaceAll(tmpl, "{order}", orderID.String())
}

func wrapStoreErr(err error) error {
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "order not found")
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return dErrors.New(dErrors.CodeConflict, "order already exists")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "order store failure")
}
