package devserver

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	refreshes *prometheus.CounterVec
	logins    *prometheus.CounterVec
	denied    *prometheus.CounterVec
	sessions  prometheus.GaugeFunc
}

func newMetrics(reg prometheus.Registerer, active func() float64) (*metrics, error) {
	m := &metrics{
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wayfarer_devserver",
			Name:      "refresh_total",
			Help:      "Refresh calls by result.",
		}, []string{"result"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wayfarer_devserver",
			Name:      "login_total",
			Help:      "Login and register calls by result.",
		}, []string{"result"}),
		denied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wayfarer_devserver",
			Name:      "unauthorized_total",
			Help:      "Requests rejected with 401 by reason.",
		}, []string{"reason"}),
		sessions: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "wayfarer_devserver",
			Name:      "active_sessions",
			Help:      "Sessions not revoked or expired.",
		}, active),
	}
	for _, c := range []prometheus.Collector{m.refreshes, m.logins, m.denied, m.sessions} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
