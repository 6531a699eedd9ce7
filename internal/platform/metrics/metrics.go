package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	OrdersCreated     *prometheus.CounterVec
	OrdersTransitions *prometheus.CounterVec
	TicketsIssued     prometheus.Counter
	CheckIns          *prometheus.CounterVec
	GatewayCalls      *prometheus.HistogramVec
	WebhooksReceived  *prometheus.CounterVec
	BookingsCreated   prometheus.Counter
	NotificationsSent *prometheus.CounterVec
	ExpirySweeps      *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers the application metrics against reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction never collides.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		OrdersCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketeer_orders_created_total",
			Help: "Orders created at checkout, by provider",
		}, []string{"provider"}),
		OrdersTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketeer_order_transitions_total",
			Help: "Order status transitions, by target status",
		}, []string{"status"}),
		TicketsIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "ticketeer_tickets_issued_total",
			Help: "Tickets issued for paid orders",
		}),
		CheckIns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketeer_checkins_total",
			Help: "Check-in attempts, by outcome",
		}, []string{"outcome"}),
		GatewayCalls: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ticketeer_gateway_call_duration_seconds",
			Help:    "Payment gateway call latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "operation", "outcome"}),
		WebhooksReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketeer_webhooks_received_total",
			Help: "Payment webhooks received, by provider and outcome",
		}, []string{"provider", "outcome"}),
		BookingsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "ticketeer_venue_bookings_created_total",
			Help: "Venue bookings created",
		}),
		NotificationsSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketeer_notifications_sent_total",
			Help: "Notification emails, by template and outcome",
		}, []string{"template", "outcome"}),
		ExpirySweeps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketeer_expired_holds_total",
			Help: "Holds released by the expiry sweep, by kind",
		}, []string{"kind"}),
		gatherer: reg,
	}
}

// ObserveGatewayCall records a payment gateway round trip.
func (m *Metrics) ObserveGatewayCall(provider, operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.GatewayCalls.WithLabelValues(provider, operation, outcome).Observe(time.Since(start).Seconds())
}

// IncOrderTransition counts an order landing in status.
func (m *Metrics) IncOrderTransition(status string) {
	if m == nil {
		return
	}
	m.OrdersTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) IncCheckIn(outcome string) {
	if m == nil {
		return
	}
	m.CheckIns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncOrderCreated(provider string) {
	if m == nil {
		return
	}
	m.OrdersCreated.WithLabelValues(provider).Inc()
}

func (m *Metrics) AddTicketsIssued(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.TicketsIssued.Add(float64(n))
}

func (m *Metrics) IncBookingCreated() {
	if m == nil {
		return
	}
	m.BookingsCreated.Inc()
}

func (m *Metrics) IncNotification(template, outcome string) {
	if m == nil {
		return
	}
	m.NotificationsSent.WithLabelValues(template, outcome).Inc()
}

// AddExpired counts holds released by a sweep; kind is order or booking.
func (m *Metrics) AddExpired(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ExpirySweeps.WithLabelValues(kind).Add(float64(n))
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
