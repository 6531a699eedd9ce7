package audit

import (
	"context"
	"log/slog"
	"time"

	"ticketeer/pkg/requestcontext"
)

// Store persists audit events append-only.
type Store interface {
	Append(ctx context.Context, e Event) error
	List(ctx context.Context, f Filter) ([]Event, error)
}

// Emitter is what services depend on.
type Emitter interface {
	Emit(ctx context.Context, e Event) error
}

// Publisher captures structured audit events synchronously.
type Publisher struct {
	store Store
}

func NewPublisher(store Store) *Publisher {
	return &Publisher{store: store}
}

func (p *Publisher) Emit(ctx context.Context, base Event) error {
	return p.store.Append(ctx, enrich(ctx, base))
}

func (p *Publisher) List(ctx context.Context, f Filter) ([]Event, error) {
	return p.store.List(ctx, f)
}

// Queue hands events to a Worker without blocking the request path. When the
// buffer is full the event is logged and dropped.
type Queue struct {
	ch     chan Event
	logger *slog.Logger
}

func NewQueue(size int, logger *slog.Logger) *Queue {
	return &Queue{ch: make(chan Event, size), logger: logger}
}

func (q *Queue) Emit(ctx context.Context, base Event) error {
	e := enrich(ctx, base)
	select {
	case q.ch <- e:
	default:
		q.logger.WarnContext(ctx, "audit queue full, dropping event", "action", e.Action, "subject", e.Subject)
	}
	return nil
}

// Inbox exposes the receiving side for the Worker.
func (q *Queue) Inbox() <-chan Event { return q.ch }

func enrich(ctx context.Context, e Event) Event {
	if e.Timestamp.IsZero() {
		e.Timestamp = requestcontext.Now(ctx)
	}
	e.Timestamp = e.Timestamp.UTC().Truncate(time.Microsecond)
	if e.ActorID == "" && e.ActorRole == "" {
		actor := requestcontext.ActorFrom(ctx)
		if !actor.UserID.IsNil() {
			e.ActorID = actor.UserID.String()
		}
		e.ActorRole = string(actor.Role)
	}
	if e.RequestID == "" {
		e.RequestID = requestcontext.RequestID(ctx)
	}
	return e
}
