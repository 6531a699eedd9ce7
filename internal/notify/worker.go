package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	certmodels "ticketeer/internal/certificates/models"
	checkoutmodels "ticketeer/internal/checkout/models"
	eventmodels "ticketeer/internal/events/models"
	"ticketeer/internal/platform/broker"
	"ticketeer/internal/platform/metrics"
	ticketmodels "ticketeer/internal/tickets/models"
	venuemodels "ticketeer/internal/venues/models"
	id "ticketeer/pkg/domain"
)

// Holders lists the tickets of an event; the tickets store satisfies it.
type Holders interface {
	ListByEvent(ctx context.Context, eventID id.EventID, f ticketmodels.Filter) ([]*ticketmodels.Ticket, error)
}

// Worker consumes domain events and emails the people they concern.
type Worker struct {
	consumer   broker.Consumer
	mailer     Mailer
	renderer   *Renderer
	holders    Holders
	ticketsURL string
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

type Option func(*Worker)

func WithHolders(h Holders) Option {
	return func(w *Worker) { w.holders = h }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithTicketsURL sets the link to the buyer's ticket wallet.
func WithTicketsURL(u string) Option {
	return func(w *Worker) { w.ticketsURL = u }
}

func NewWorker(consumer broker.Consumer, mailer Mailer, renderer *Renderer, logger *slog.Logger, opts ...Option) *Worker {
	w := &Worker{
		consumer:   consumer,
		mailer:     mailer,
		renderer:   renderer,
		logger:     logger,
		ticketsURL: "http://localhost:3000/me/tickets",
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run blocks until ctx ends.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "notification worker started")
	err := w.consumer.Consume(ctx, w.Handle)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Handle sends the emails for one envelope. Only transient send failures
// are returned, so the transport redelivers those and nothing else.
func (w *Worker) Handle(ctx context.Context, env broker.Envelope) error {
	var err error
	switch env.Type {
	case broker.TypeOrderPaid:
		err = w.orderPaid(ctx, env)
	case broker.TypeOrderRefunded:
		err = w.orderRefunded(ctx, env)
	case broker.TypeBookingConfirmed:
		err = w.bookingConfirmed(ctx, env)
	case broker.TypeCertificateIssued:
		err = w.certificateIssued(ctx, env)
	case broker.TypeEventCancelled:
		err = w.eventCancelled(ctx, env)
	default:
		return nil
	}
	if err == nil {
		return nil
	}
	if errors.Is(err, errUndeliverable) || errors.Is(err, ErrRejected) {
		w.logger.WarnContext(ctx, "dropping notification", "type", env.Type, "id", env.ID, "error", err)
		return nil
	}
	return err
}

var errUndeliverable = errors.New("undeliverable notification")

func decode(env broker.Envelope, dst any) error {
	if err := env.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errUndeliverable, err)
	}
	return nil
}

type orderPaidView struct {
	checkoutmodels.OrderPaid
	TicketsURL string
}

func (w *Worker) orderPaid(ctx context.Context, env broker.Envelope) error {
	var msg checkoutmodels.OrderPaid
	if err := decode(env, &msg); err != nil {
		return err
	}
	return w.send(ctx, TemplateOrderPaid, msg.BuyerEmail,
		"Your tickets for "+msg.EventTitle,
		orderPaidView{OrderPaid: msg, TicketsURL: w.ticketsURL})
}

func (w *Worker) orderRefunded(ctx context.Context, env broker.Envelope) error {
	var msg checkoutmodels.OrderRefunded
	if err := decode(env, &msg); err != nil {
		return err
	}
	return w.send(ctx, TemplateOrderRefunded, msg.BuyerEmail, "Refund for order "+msg.Reference, msg)
}

func (w *Worker) bookingConfirmed(ctx context.Context, env broker.Envelope) error {
	var msg venuemodels.Confirmed
	if err := decode(env, &msg); err != nil {
		return err
	}
	return w.send(ctx, TemplateBookingConfirmed, msg.CustomerEmail, "Booking confirmed: "+msg.SpaceName, msg)
}

func (w *Worker) certificateIssued(ctx context.Context, env broker.Envelope) error {
	var msg certmodels.Issued
	if err := decode(env, &msg); err != nil {
		return err
	}
	return w.send(ctx, TemplateCertificateIssued, msg.HolderEmail, "Your certificate for "+msg.EventTitle, msg)
}

type cancelledView struct {
	eventmodels.Cancelled
	HolderName string
}

// eventCancelled mails every distinct holder of a live ticket once.
func (w *Worker) eventCancelled(ctx context.Context, env broker.Envelope) error {
	var msg eventmodels.Cancelled
	if err := decode(env, &msg); err != nil {
		return err
	}
	if w.holders == nil {
		return nil
	}
	recipients, err := w.recipients(ctx, msg.EventID)
	if err != nil {
		return err
	}
	var errs []error
	for _, r := range recipients {
		view := cancelledView{Cancelled: msg, HolderName: r.name}
		if err := w.send(ctx, TemplateEventCancelled, r.email, msg.Title+" has been cancelled", view); err != nil && !errors.Is(err, ErrRejected) {
			errs = append(errs, err)
		}
	}
	// TODO: track sent recipients so a redelivery after a partial failure
	// does not mail the earlier holders twice.
	return errors.Join(errs...)
}

type recipient struct {
	name  string
	email string
}

func (w *Worker) recipients(ctx context.Context, eventID id.EventID) ([]recipient, error) {
	seen := make(map[string]bool)
	var out []recipient
	const page = 500
	for offset := 0; ; offset += page {
		tickets, err := w.holders.ListByEvent(ctx, eventID, ticketmodels.Filter{Limit: page, Offset: offset})
		if err != nil {
			return nil, fmt.Errorf("list ticket holders: %w", err)
		}
		for _, t := range tickets {
			key := strings.ToLower(t.HolderEmail)
			if t.Status == ticketmodels.StatusVoid || key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, recipient{name: t.HolderName, email: t.HolderEmail})
		}
		if len(tickets) < page {
			return out, nil
		}
	}
}

func (w *Worker) send(ctx context.Context, template, to, subject string, data any) error {
	if to == "" {
		return fmt.Errorf("%w: %s without recipient", errUndeliverable, template)
	}
	html, err := w.renderer.Render(template, data)
	if err != nil {
		w.metrics.IncNotification(template, "render_error")
		return fmt.Errorf("%w: %v", errUndeliverable, err)
	}
	if err := w.mailer.Send(ctx, Message{To: to, Subject: subject, HTML: html}); err != nil {
		w.metrics.IncNotification(template, "failed")
		return err
	}
	w.metrics.IncNotification(template, "sent")
	w.logger.InfoContext(ctx, "notification sent", "template", template, "to", to)
	return nil
}
