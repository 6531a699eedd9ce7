package payments

import (
	"context"
	"fmt"

	dErrors "ticketeer/pkg/domain-errors"
)

type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeFailed    Outcome = "failed"
)

// Notification is a verified gateway webhook reduced to what settlement needs.
type Notification struct {
	Provider    Provider
	Reference   Reference
	PaymentID   string
	Outcome     Outcome
	Reason      string
	AmountCents int64
}

// Settler applies payment outcomes to the aggregate that owns them.
type Settler interface {
	ConfirmPayment(ctx context.Context, n Notification) error
	FailPayment(ctx context.Context, n Notification) error
}

// Dispatcher routes notifications to the Settler registered for their kind.
type Dispatcher struct {
	settlers map[Kind]Settler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{settlers: make(map[Kind]Settler)}
}

func (d *Dispatcher) Register(kind Kind, s Settler) *Dispatcher {
	d.settlers[kind] = s
	return d
}

func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) error {
	s, ok := d.settlers[n.Reference.Kind]
	if !ok {
		return dErrors.Newf(dErrors.CodeBadRequest, "no settler for payment kind %q", n.Reference.Kind)
	}
	switch n.Outcome {
	case OutcomeConfirmed:
		return s.ConfirmPayment(ctx, n)
	case OutcomeFailed:
		return s.FailPayment(ctx, n)
	}
	return fmt.Errorf("unknown payment outcome %q", n.Outcome)
}
