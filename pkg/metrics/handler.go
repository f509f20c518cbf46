package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler builds an http.Handler serving collector's metrics on its own
// registry, the way the teacher's metricsHandler wires a fresh registry
// per process rather than using the global default one.
func Handler(collector *Collector) (http.Handler, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(collector); err != nil {
		return nil, err
	}

	gatherers := prometheus.Gatherers{registry}
	return promhttp.InstrumentMetricHandler(
		registry,
		promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError}),
	), nil
}
