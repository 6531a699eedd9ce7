package audit

import (
	"context"
	"log/slog"
)

// Worker drains a Queue into the store. A failed append is logged; the worker
// keeps going so one bad write cannot stop auditing.
type Worker struct {
	store  Store
	inbox  <-chan Event
	logger *slog.Logger
}

func NewWorker(store Store, inbox <-chan Event, logger *slog.Logger) *Worker {
	return &Worker{store: store, inbox: inbox, logger: logger}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return nil
		case event := <-w.inbox:
			w.append(ctx, event)
		}
	}
}

// drain flushes what is already buffered at shutdown.
func (w *Worker) drain() {
	for {
		select {
		case event := <-w.inbox:
			w.append(context.Background(), event)
		default:
			return
		}
	}
}

func (w *Worker) append(ctx context.Context, e Event) {
	if err := w.store.Append(ctx, e); err != nil {
		w.logger.ErrorContext(ctx, "failed to persist audit event", "action", e.Action, "subject", e.Subject, "error", err)
	}
}
