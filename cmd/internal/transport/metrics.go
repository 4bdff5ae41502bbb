package transport

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds dispatcher collectors. A nil *Metrics records nothing.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the dispatcher collectors on reg. Collectors that are
// already registered (a second client on the same registry) are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wayfarer",
		Subsystem: "client",
		Name:      "requests_total",
		Help:      "HTTP requests sent by the client, by method and status class.",
	}, []string{"method", "class"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "wayfarer",
		Subsystem: "client",
		Name:      "request_duration_seconds",
		Help:      "Latency of HTTP requests sent by the client.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})

	var err error
	if requests, err = Register(reg, requests); err != nil {
		return nil, err
	}
	if duration, err = Register(reg, duration); err != nil {
		return nil, err
	}
	return &Metrics{requests: requests, duration: duration}, nil
}

// Register registers c on reg, returning the existing collector when an
// identical one is already registered.
func Register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) observe(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, StatusClass(status)).Inc()
	m.duration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// StatusClass buckets a status code ("2xx", "4xx", ...). 0 means no response.
func StatusClass(status int) string {
	switch {
	case status <= 0:
		return "network_error"
	case status < 100 || status > 599:
		return "other"
	default:
		return strconv.Itoa(status/100) + "xx"
	}
}
