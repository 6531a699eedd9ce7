package circuit

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// step is one call against the breaker and what the limiter should do next.
type step struct {
	fail     bool
	fallback bool
	opened   bool
	closed   bool
}

func TestBreakerSequences(t *testing.T) {
	tests := []struct {
		name  string
		opts  []Option
		steps []step
		open  bool
	}{
		{
			name: "redis blips below the threshold stay on redis",
			opts: []Option{WithFailureThreshold(3)},
			steps: []step{
				{fail: true}, {fail: true}, {}, {fail: true}, {fail: true},
			},
		},
		{
			name: "third consecutive failure opens",
			opts: []Option{WithFailureThreshold(3)},
			steps: []step{
				{fail: true}, {fail: true}, {fail: true, fallback: true, opened: true},
				{fail: true, fallback: true},
			},
			open: true,
		},
		{
			name: "open breaker needs consecutive successes to close",
			opts: []Option{WithFailureThreshold(1), WithSuccessThreshold(2)},
			steps: []step{
				{fail: true, fallback: true, opened: true},
				{fallback: true},
				{fail: true, fallback: true},
				{fallback: true},
				{closed: true},
			},
		},
		{
			name:  "non-positive thresholds keep the defaults",
			opts:  []Option{WithFailureThreshold(0), WithSuccessThreshold(-1)},
			steps: []step{{fail: true}, {fail: true}, {fail: true}, {fail: true}, {fail: true, fallback: true, opened: true}},
			open:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New("ratelimit", tt.opts...)
			for i, s := range tt.steps {
				if s.fail {
					fallback, change := b.RecordFailure()
					assert.Equal(t, s.fallback, fallback, "step %d fallback", i)
					assert.Equal(t, s.opened, change.Opened, "step %d opened", i)
					continue
				}
				primary, change := b.RecordSuccess()
				assert.Equal(t, !s.fallback, primary, "step %d primary", i)
				assert.Equal(t, s.closed, change.Closed, "step %d closed", i)
			}
			assert.Equal(t, tt.open, b.IsOpen())
		})
	}
}

func TestBreakerReset(t *testing.T) {
	b := New("ratelimit", WithFailureThreshold(1))
	b.RecordFailure()
	assert.Equal(t, "open", b.State().String())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, "ratelimit", b.Name())
}

func TestBreakerConcurrentFailuresOpenOnce(t *testing.T) {
	b := New("ratelimit", WithFailureThreshold(10))
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		opened int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, change := b.RecordFailure(); change.Opened {
				mu.Lock()
				opened++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, opened)
	assert.True(t, b.IsOpen())
}
