package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// promHandler exposes the default Prometheus registry, which the otel
// prometheus exporter registers its collector into, alongside the
// go_/process_ runtime collectors client_golang registers by default.
func promHandler() http.Handler {
	return promhttp.Handler()
}
