package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsIndependentRegistries(t *testing.T) {
	// two constructions must not panic on duplicate registration
	m1 := New(prometheus.NewRegistry())
	m2 := New(prometheus.NewRegistry())

	m1.IncCheckIn("ok")
	m1.IncCheckIn("ok")
	m2.IncCheckIn("conflict")

	assert.Equal(t, 2.0, testutil.ToFloat64(m1.CheckIns.WithLabelValues("ok")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m2.CheckIns.WithLabelValues("ok")))
}

func TestObserveGatewayCallAndHandler(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveGatewayCall("stripe", "create_payment", time.Now(), nil)
	m.ObserveGatewayCall("asaas", "refund", time.Now(), errors.New("boom"))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `ticketeer_gateway_call_duration_seconds_count{operation="refund",outcome="error",provider="asaas"} 1`)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncCheckIn("ok")
		m.IncOrderTransition("paid")
		m.ObserveGatewayCall("stripe", "refund", time.Now(), nil)
	})
}
