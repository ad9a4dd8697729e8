package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the booking core.
type BookingMetrics struct {
	bookingsTotal    *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
	publishedTotal   *prometheus.CounterVec
	bookingLatency   *prometheus.HistogramVec
	sweepProcessed   *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "attempts_total",
			Help:      "Booking and reschedule attempts by outcome",
		}, []string{"operation", "outcome"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "status_transitions_total",
			Help:      "Applied appointment status transitions",
		}, []string{"from", "to"}),
		publishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "availability",
			Name:      "slot_changes_total",
			Help:      "Slots published or revoked",
		}, []string{"action", "outcome"}),
		bookingLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "latency_seconds",
			Help:      "Latency of booking transactions",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		sweepProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "worker",
			Name:      "sweep_processed_total",
			Help:      "Appointments handled by background sweeps",
		}, []string{"sweep", "outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.transitionsTotal, m.publishedTotal, m.bookingLatency, m.sweepProcessed)
	return m
}

func (m *BookingMetrics) ObserveBooking(operation, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(operation, outcome).Inc()
	m.bookingLatency.WithLabelValues(operation).Observe(seconds)
}

func (m *BookingMetrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

func (m *BookingMetrics) ObserveSlotChange(action, outcome string) {
	if m == nil {
		return
	}
	m.publishedTotal.WithLabelValues(action, outcome).Inc()
}

func (m *BookingMetrics) ObserveSweep(sweep, outcome string) {
	if m == nil {
		return
	}
	m.sweepProcessed.WithLabelValues(sweep, outcome).Inc()
}
