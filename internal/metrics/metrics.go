package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gharsathi"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	bookingsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_created_total",
			Help:      "Bookings created by service type.",
		},
		[]string{"service_type"},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_transitions_total",
			Help:      "Applied status transitions.",
		},
		[]string{"from", "to"},
	)

	transitionRejects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_transition_rejects_total",
			Help:      "Rejected transition attempts by target status.",
		},
		[]string{"to"},
	)

	payments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_events_total",
			Help:      "Payment events by method and outcome.",
		},
		[]string{"method", "outcome"},
	)

	conflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "concurrent_modifications_total",
			Help:      "Version-check failures by operation.",
		},
		[]string{"operation"},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries by result.",
		},
		[]string{"result"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, bookingsCreated, transitions, transitionRejects, payments, conflicts, notifications)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func IncBookingCreated(serviceType string) {
	bookingsCreated.WithLabelValues(serviceType).Inc()
}

func IncTransition(from, to string) {
	transitions.WithLabelValues(from, to).Inc()
}

func IncTransitionRejected(to string) {
	transitionRejects.WithLabelValues(to).Inc()
}

// IncPayment counts a payment event; outcome is settled, duplicate, failed,
// refunded or rejected.
func IncPayment(method, outcome string) {
	payments.WithLabelValues(method, outcome).Inc()
}

func IncConflict(operation string) {
	conflicts.WithLabelValues(operation).Inc()
}

func IncNotification(result string) {
	notifications.WithLabelValues(result).Inc()
}
