package service

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/Cogwheel-Validator/spectra-sor/sor/service"

// OTel instrument names. RouteLatencyInstrument shares RouteLatencyBuckets with
// the Prometheus histogram.
const (
	RouteCallsInstrument   = "sor.route.calls"
	RouteLatencyInstrument = "sor.route.latency"
)

// RouteLatencyBuckets are the latency bucket bounds in seconds.
var RouteLatencyBuckets = prometheus.ExponentialBuckets(0.001, 2, 14)

// route outcomes
const (
	outcomeOK           = "ok"
	outcomeNoRoute      = "no_route"
	outcomeInvalidInput = "invalid_input"
	outcomeProviderErr  = "provider_error"
	outcomeCanceled     = "canceled"
)

var (
	routeRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sor_route_requests_total",
			Help: "Route requests by chain, protocol version and outcome",
		},
		[]string{"chain", "protocol_version", "outcome"},
	)
	routeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sor_route_duration_seconds",
			Help:    "Route latency by chain",
			Buckets: RouteLatencyBuckets,
		},
		[]string{"chain"},
	)
	routePaths = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sor_route_paths",
		Help:    "Number of paths in a returned quote",
		Buckets: prometheus.LinearBuckets(1, 1, 6),
	})
	depthRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sor_route_depth_retries_total",
			Help: "Searches retried with a deeper non boosted path bound",
		},
		[]string{"chain"},
	)
)

func init() {
	prometheus.MustRegister(routeRequests)
	prometheus.MustRegister(routeDuration)
	prometheus.MustRegister(routePaths)
	prometheus.MustRegister(depthRetries)
}

// otelInstruments mirror the Prometheus outcome counter for OTLP metric pipelines.
type otelInstruments struct {
	routes  metric.Int64Counter
	latency metric.Float64Histogram
}

func newOtelInstruments(provider metric.MeterProvider) otelInstruments {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(instrumentationName)
	routes, err := meter.Int64Counter(RouteCallsInstrument, metric.WithDescription("Route requests by outcome"))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create route counter")
	}
	latency, err := meter.Float64Histogram(RouteLatencyInstrument, metric.WithUnit("s"))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create route histogram")
	}
	return otelInstruments{routes: routes, latency: latency}
}

func (r *Router) observe(ctx context.Context, chain string, version int, outcome string, started time.Time) {
	elapsed := time.Since(started).Seconds()
	routeRequests.WithLabelValues(chain, strconv.Itoa(version), outcome).Inc()
	routeDuration.WithLabelValues(chain).Observe(elapsed)

	attrs := metric.WithAttributes(
		attribute.String("chain", chain),
		attribute.Int("protocol_version", version),
		attribute.String("outcome", outcome),
	)
	if r.instruments.routes != nil {
		r.instruments.routes.Add(ctx, 1, attrs)
	}
	if r.instruments.latency != nil {
		r.instruments.latency.Record(ctx, elapsed, attrs)
	}
}
