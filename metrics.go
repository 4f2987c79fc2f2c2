package x402

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics tracks payment outcomes and facilitator round trips. A nil
// receiver disables collection.
type metrics struct {
	settled             prometheus.Counter
	rejected            *prometheus.CounterVec
	facilitatorDuration *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return nil
	}
	m := &metrics{
		settled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "x402_payments_settled_total",
			Help: "Payments settled successfully.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "x402_payments_rejected_total",
			Help: "Payments rejected, by error code.",
		}, []string{"code"}),
		facilitatorDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "x402_facilitator_request_duration_seconds",
			Help:    "Round-trip time of facilitator calls, by operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	reg.MustRegister(m.settled, m.rejected, m.facilitatorDuration)
	return m
}

func (m *metrics) observeSettled() {
	if m == nil {
		return
	}
	m.settled.Inc()
}

func (m *metrics) observeRejected(code Code) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(string(code)).Inc()
}

func (m *metrics) observeFacilitator(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.facilitatorDuration.WithLabelValues(operation).Observe(d.Seconds())
}
