package health

import "github.com/prometheus/client_golang/prometheus"

type pollMetrics struct {
	polls *prometheus.CounterVec
}

func newPollMetrics() *pollMetrics {
	m := &pollMetrics{
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rsg",
			Subsystem: "health",
			Name:      "polls_total",
			Help:      "Number of health polls by resulting status",
		}, []string{"status"}),
	}
	if err := prometheus.Register(m.polls); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			m.polls = already.ExistingCollector.(*prometheus.CounterVec)
		}
	}
	return m
}

func (m *pollMetrics) observe(status string) {
	m.polls.WithLabelValues(status).Inc()
}
