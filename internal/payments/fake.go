package payments

import (
	"context"
	"fmt"
	"sync"
)

// FakeGateway records calls in memory. Used by tests across modules and by
// the server when running without gateway credentials in development.
type FakeGateway struct {
	mu        sync.Mutex
	provider  Provider
	Requests  []PaymentRequest
	Refunds   map[string]int64
	FailNext  error
	sessionNo int
}

func NewFakeGateway(p Provider) *FakeGateway {
	return &FakeGateway{provider: p, Refunds: make(map[string]int64)}
}

func (f *FakeGateway) Provider() Provider   { return f.provider }
func (f *FakeGateway) Supports(Method) bool { return true }

func (f *FakeGateway) CreatePayment(_ context.Context, req PaymentRequest) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.FailNext; err != nil {
		f.FailNext = nil
		return nil, err
	}
	f.Requests = append(f.Requests, req)
	f.sessionNo++
	paymentID := fmt.Sprintf("%s_pay_%d", f.provider, f.sessionNo)
	s := &Session{
		Provider:  f.provider,
		PaymentID: paymentID,
		URL:       "https://pay.example.test/" + paymentID,
		ExpiresAt: req.ExpiresAt,
	}
	if req.Method == MethodPix {
		s.PixPayload = "00020126pix-" + paymentID
	}
	return s, nil
}

func (f *FakeGateway) Refund(_ context.Context, paymentID string, amountCents int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.FailNext; err != nil {
		f.FailNext = nil
		return err
	}
	f.Refunds[paymentID] += amountCents
	return nil
}

// LastRequest returns the most recent payment request.
func (f *FakeGateway) LastRequest() PaymentRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Requests) == 0 {
		return PaymentRequest{}
	}
	return f.Requests[len(f.Requests)-1]
}

func (f *FakeGateway) RefundedAmount(paymentID string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Refunds[paymentID]
}
