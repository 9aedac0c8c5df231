// Package telemetry wires a gateway's metrics (and, when an OTLP collector
// is configured, traces) behind a single Provider, so the rest of the
// gateway only ever reaches for a MeterProvider/TracerProvider rather than
// knowing whether the backend is Prometheus, OTLP, both, or neither.
package telemetry

// Config selects which telemetry backends a Provider wires up. The zero
// value is a fully no-op provider: every metric/span call succeeds and
// discards, since telemetry is always optional.
type Config struct {
	ServiceName    string
	ServiceVersion string

	// OTLPEndpoint, when set, enables an OTLP exporter (HTTP collector
	// address, e.g. "localhost:4318"). Empty disables OTLP entirely.
	OTLPEndpoint string
	Insecure     bool
	Headers      map[string]string

	// TracingEnabled/MetricsEnabled gate which OTLP signals are exported
	// once OTLPEndpoint is set; configuring an endpoint with both false is
	// a misconfiguration, not silently ignored.
	TracingEnabled bool
	MetricsEnabled bool
	SamplingRate   float64

	// EnablePrometheusMetricsPath stands up an in-process Prometheus
	// registry and a /metrics http.Handler, independent of OTLP.
	EnablePrometheusMetricsPath bool
}

// Validate reports a misconfiguration the Builder would otherwise have to
// detect halfway through constructing providers.
func (c Config) Validate() error {
	if c.OTLPEndpoint != "" && !c.TracingEnabled && !c.MetricsEnabled {
		return errConfig("OTLP endpoint is configured but both tracing and metrics are disabled")
	}
	return nil
}

type configError string

func (e configError) Error() string { return string(e) }

func errConfig(msg string) error { return configError(msg) }
