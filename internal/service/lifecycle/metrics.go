package lifecycle

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type operationMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
}

func newOperationMetrics() *operationMetrics {
	m := &operationMetrics{
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rsg",
			Subsystem: "lifecycle",
			Name:      "operations_total",
			Help:      "Number of finished lifecycle operations",
		}, []string{"kind", "outcome"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rsg",
			Subsystem: "lifecycle",
			Name:      "operation_duration_seconds",
			Help:      "Duration distribution of lifecycle operations",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"kind"}),
	}

	collectors := []prometheus.Collector{m.operationsTotal, m.operationDuration}
	for _, collector := range collectors {
		if err := prometheus.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch existing := already.ExistingCollector.(type) {
				case *prometheus.CounterVec:
					m.operationsTotal = existing
				case *prometheus.HistogramVec:
					m.operationDuration = existing
				}
			}
		}
	}
	return m
}

func (m *operationMetrics) observe(kind, outcome string, elapsed time.Duration) {
	m.operationsTotal.WithLabelValues(kind, outcome).Inc()
	m.operationDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}
