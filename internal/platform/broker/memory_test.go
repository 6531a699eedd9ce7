package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type orderPaid struct {
	OrderID string `json:"order_id"`
}

func TestMemoryFanOut(t *testing.T) {
	b := NewMemory()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	got := make(chan Envelope, 2)
	started := make(chan struct{}, 2)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started <- struct{}{}
			_ = b.Consume(ctx, func(_ context.Context, env Envelope) error {
				got <- env
				return nil
			})
		}()
	}
	<-started
	<-started
	require.Eventually(t, func() bool {
		b.mu.RLock()
		defer b.mu.RUnlock()
		return len(b.subs) == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, Emit(ctx, b, TypeOrderPaid, "o-1", time.Now(), orderPaid{OrderID: "o-1"}))

	for range 2 {
		select {
		case env := <-got:
			assert.Equal(t, TypeOrderPaid, env.Type)
			var p orderPaid
			require.NoError(t, env.Decode(&p))
			assert.Equal(t, "o-1", p.OrderID)
		case <-time.After(time.Second):
			t.Fatal("delivery timed out")
		}
	}
	cancel()
	wg.Wait()
}

func TestMemoryClosed(t *testing.T) {
	b := NewMemory()
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	env, err := NewEnvelope(TypeEventCancelled, time.Now(), map[string]string{})
	require.NoError(t, err)
	assert.ErrorIs(t, b.Publish(context.Background(), "k", env), ErrClosed)
	assert.ErrorIs(t, b.Consume(context.Background(), nil), ErrClosed)
}

func TestNewSelectsTransport(t *testing.T) {
	b, err := New(configBroker("memory"), nil)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, b)
	require.NoError(t, b.Close())

	_, err = New(configBroker("pigeon"), nil)
	require.Error(t, err)
}
