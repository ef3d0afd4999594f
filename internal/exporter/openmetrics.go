package exporter

import (
	"net/http"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dolr-ai/github-report/internal/store"
)

// SnapshotReader reads metric snapshots.
type SnapshotReader interface {
	Snapshot() []store.MetricPoint
}

// ReaderFunc adapts a function to SnapshotReader.
type ReaderFunc func() []store.MetricPoint

// Snapshot calls f.
func (f ReaderFunc) Snapshot() []store.MetricPoint {
	if f == nil {
		return nil
	}
	return f()
}

// NewOpenMetricsHandler returns a handler that renders the snapshots of every
// reader through the Prometheus OpenMetrics encoder.
func NewOpenMetricsHandler(readers ...SnapshotReader) http.Handler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(&snapshotCollector{readers: readers})

	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

type snapshotCollector struct {
	readers []SnapshotReader
}

func (c *snapshotCollector) Describe(_ chan<- *prometheus.Desc) {}

func (c *snapshotCollector) Collect(ch chan<- prometheus.Metric) {
	if c == nil {
		return
	}

	seen := make(map[string]struct{})
	for _, reader := range c.readers {
		if reader == nil {
			continue
		}
		for _, point := range reader.Snapshot() {
			if point.Name == "" {
				continue
			}
			key := seriesKey(point)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			labelKeys := make([]string, 0, len(point.Labels))
			for key := range point.Labels {
				labelKeys = append(labelKeys, key)
			}
			sort.Strings(labelKeys)

			labelValues := make([]string, 0, len(labelKeys))
			for _, key := range labelKeys {
				labelValues = append(labelValues, point.Labels[key])
			}

			desc := prometheus.NewDesc(point.Name, helpText(point.Name), labelKeys, nil)
			metric, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, point.Value, labelValues...)
			if err != nil {
				continue
			}
			ch <- metric
		}
	}
}
