// Package telemetry implements the billing Recorder and the HTTP request
// metrics collector on Prometheus (long-running API) and CloudWatch
// (Lambda entry points).
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"planguard/internal/types"
)

const namespace = "planguard"

// PrometheusRecorder holds every metric the service exports.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	quotaDecisions *prometheus.CounterVec
	webhookEvents  *prometheus.CounterVec
	gatewayCalls   *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
	httpLatency    *prometheus.HistogramVec
}

// NewPrometheusRecorder registers the service metrics plus the Go runtime and
// process collectors on a fresh registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	r := &PrometheusRecorder{
		registry: prometheus.NewRegistry(),
		quotaDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quota_decisions_total",
				Help:      "Quota consume decisions by resource kind, effective tier and result.",
			},
			[]string{"kind", "tier", "result"},
		),
		webhookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_events_total",
				Help:      "Processed gateway webhook deliveries by event type and outcome.",
			},
			[]string{"event_type", "outcome", "duplicate"},
		),
		gatewayCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_calls_total",
				Help:      "Outbound payment gateway calls by operation and result code.",
			},
			[]string{"operation", "result"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by method, route and status.",
			},
			[]string{"method", "route", "status"},
		),
		httpLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency by method and route.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	r.registry.MustRegister(
		r.quotaDecisions,
		r.webhookEvents,
		r.gatewayCalls,
		r.httpRequests,
		r.httpLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry exposes the underlying registry, mainly for tests.
func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *PrometheusRecorder) QuotaDecision(kind types.ResourceKind, tier types.PlanTier, allowed bool) {
	r.quotaDecisions.WithLabelValues(string(kind), string(tier), decisionLabel(allowed)).Inc()
}

func (r *PrometheusRecorder) WebhookProcessed(gatewayType string, outcome types.ApplyOutcome, alreadyProcessed bool) {
	r.webhookEvents.WithLabelValues(gatewayType, string(outcome), strconv.FormatBool(alreadyProcessed)).Inc()
}

func (r *PrometheusRecorder) GatewayCall(operation string, err error) {
	r.gatewayCalls.WithLabelValues(operation, resultLabel(err)).Inc()
}

// RecordRequest satisfies the HTTP metrics middleware.
func (r *PrometheusRecorder) RecordRequest(method, route, status string, duration time.Duration) {
	r.httpRequests.WithLabelValues(method, route, status).Inc()
	r.httpLatency.WithLabelValues(method, route).Observe(duration.Seconds())
}

func decisionLabel(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "rejected"
}

// resultLabel keeps label cardinality bounded: "ok", an error code, or "error".
func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if code := types.CodeOf(err); code != "" {
		return string(code)
	}
	return "error"
}
