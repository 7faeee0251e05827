package interfaces

import (
	"github.com/prometheus/client_golang/prometheus"
)

// NoOpDaemon satisfies Daemon for tests. Every call to MetricsRegistry hands
// out a fresh registry, so a component can be built many times in one process.
type NoOpDaemon struct {
	metricsNamespace string
}

func MakeNoOpDeamon() *NoOpDaemon {
	return &NoOpDaemon{
		metricsNamespace: PrometheusNamespace,
	}
}

func (d *NoOpDaemon) MetricsRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

func (d *NoOpDaemon) MetricsNamespace() string {
	return d.metricsNamespace
}
