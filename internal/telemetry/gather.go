package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metricSet adapts a metric slice to the prometheus.Collector contract so
// the push and textfile sinks can gather an ad-hoc snapshot without
// keeping long-lived registered instruments.
type metricSet struct {
	prefix  string
	metrics []Metric
}

// Describe is intentionally empty: the set is registered as an unchecked
// collector because each snapshot may carry a different metric mix.
func (ms metricSet) Describe(chan<- *prometheus.Desc) {}

func (ms metricSet) Collect(ch chan<- prometheus.Metric) {
	for _, m := range ms.metrics {
		keys := sortedLabelKeys(m.Labels)
		values := make([]string, len(keys))
		for i, key := range keys {
			values[i] = m.Labels[key]
		}
		desc := prometheus.NewDesc(promName(ms.prefix, m.Name), "", keys, nil)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, m.Value, values...)
	}
}

// snapshotRegistry builds a registry holding one gauge per metric.
func snapshotRegistry(prefix string, metrics []Metric) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(metricSet{prefix: prefix, metrics: metrics}); err != nil {
		return nil, err
	}
	return reg, nil
}
