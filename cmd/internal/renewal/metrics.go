package renewal

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"wayfarer/cmd/internal/transport"
)

// Metrics holds coordinator collectors. A nil *Metrics records nothing.
type Metrics struct {
	renewals    *prometheus.CounterVec
	duration    prometheus.Histogram
	waiting     prometheus.Gauge
	replays     *prometheus.CounterVec
	escalations prometheus.Counter
}

// NewMetrics registers the coordinator collectors on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}
	m := &Metrics{
		renewals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wayfarer",
			Subsystem: "renewal",
			Name:      "episodes_total",
			Help:      "Renewal episodes by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wayfarer",
			Subsystem: "renewal",
			Name:      "duration_seconds",
			Help:      "Latency of the renewal call.",
			Buckets:   prometheus.DefBuckets,
		}),
		waiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wayfarer",
			Subsystem: "renewal",
			Name:      "waiting_callers",
			Help:      "Callers suspended on the in-flight renewal, including its trigger.",
		}),
		replays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wayfarer",
			Subsystem: "renewal",
			Name:      "replays_total",
			Help:      "Requests re-sent after a successful renewal, by result.",
		}, []string{"result"}),
		escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wayfarer",
			Subsystem: "renewal",
			Name:      "escalations_total",
			Help:      "Session-expiry escalations fired.",
		}),
	}

	var err error
	if m.renewals, err = transport.Register(reg, m.renewals); err != nil {
		return nil, err
	}
	if m.duration, err = transport.Register(reg, m.duration); err != nil {
		return nil, err
	}
	if m.waiting, err = transport.Register(reg, m.waiting); err != nil {
		return nil, err
	}
	if m.replays, err = transport.Register(reg, m.replays); err != nil {
		return nil, err
	}
	if m.escalations, err = transport.Register(reg, m.escalations); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) settled(ok bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.renewals.WithLabelValues(outcome).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func (m *Metrics) wait(delta float64) {
	if m == nil {
		return
	}
	m.waiting.Add(delta)
}

func (m *Metrics) replayed(err error) {
	if m == nil {
		return
	}
	result := "ok"
	switch {
	case err == nil:
	case transport.IsAuthFailure(err):
		result = "unauthorized"
	default:
		result = "error"
	}
	m.replays.WithLabelValues(result).Inc()
}

func (m *Metrics) escalated() {
	if m == nil {
		return
	}
	m.escalations.Inc()
}
