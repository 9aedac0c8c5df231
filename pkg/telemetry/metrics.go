package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the instruments a gateway records against during
// authorize(). Constructed once per Provider and passed down to the
// gateway dispatch loop.
type Metrics struct {
	authorizeLatencyUs      metric.Int64Histogram
	denialsTotal            metric.Int64Counter
	ratchetErrorsTotal      metric.Int64Counter
	rateLimitRejectionsTotal metric.Int64Counter
}

// NewMetrics creates the gateway's instrument set from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter("github.com/stacklok/talos/pkg/gateway")

	authorizeLatencyUs, err := meter.Int64Histogram(
		"authorize_latency_us",
		metric.WithDescription("Wall-clock time to decide an authorize() call, in microseconds"),
		metric.WithUnit("us"),
	)
	if err != nil {
		return nil, err
	}

	denialsTotal, err := meter.Int64Counter(
		"denials_total",
		metric.WithDescription("Count of denied authorize() calls, by denial_reason"),
	)
	if err != nil {
		return nil, err
	}

	ratchetErrorsTotal, err := meter.Int64Counter(
		"ratchet_errors_total",
		metric.WithDescription("Count of ratchet decrypt failures, by kind"),
	)
	if err != nil {
		return nil, err
	}

	rateLimitRejectionsTotal, err := meter.Int64Counter(
		"rate_limit_rejections_total",
		metric.WithDescription("Count of requests rejected by the per-session rate limiter, by tenant"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		authorizeLatencyUs:       authorizeLatencyUs,
		denialsTotal:             denialsTotal,
		ratchetErrorsTotal:       ratchetErrorsTotal,
		rateLimitRejectionsTotal: rateLimitRejectionsTotal,
	}, nil
}

// RecordAuthorize records one authorize() decision's latency, tagged by
// whether it was served from the session cache and whether it was allowed.
func (m *Metrics) RecordAuthorize(ctx context.Context, latencyUs int64, cached, allowed bool) {
	m.authorizeLatencyUs.Record(ctx, latencyUs, metric.WithAttributes(
		attrBool("cached", cached),
		attrResult(allowed),
	))
}

// RecordDenial increments denials_total for the given reason.
func (m *Metrics) RecordDenial(ctx context.Context, reason string) {
	m.denialsTotal.Add(ctx, 1, metric.WithAttributes(attrString("denial_reason", reason)))
}

// RecordRatchetError increments ratchet_errors_total for the given kind
// (e.g. "DecryptFailed", "TooManySkipped").
func (m *Metrics) RecordRatchetError(ctx context.Context, kind string) {
	m.ratchetErrorsTotal.Add(ctx, 1, metric.WithAttributes(attrString("kind", kind)))
}

// RecordRateLimitRejection increments rate_limit_rejections_total for tenantID.
func (m *Metrics) RecordRateLimitRejection(ctx context.Context, tenantID string) {
	m.rateLimitRejectionsTotal.Add(ctx, 1, metric.WithAttributes(attrString("tenant_id", tenantID)))
}
