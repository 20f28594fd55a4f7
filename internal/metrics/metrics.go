// ABOUTME: Prometheus metrics for the console API and chain proxy
// ABOUTME: Collectors are registered with promauto on the default registry

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal tracks console API requests by route and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "console_http_requests_total",
			Help: "Total number of console API requests",
		},
		[]string{"route", "status"},
	)

	// ChainRequestsTotal tracks proxied chain RPC calls per method
	ChainRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "console_chain_requests_total",
			Help: "Total number of proxied chain RPC calls",
		},
		[]string{"method", "outcome"},
	)

	// ChainLatency tracks proxied chain RPC call latency
	ChainLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "console_chain_latency_seconds",
			Help:    "Proxied chain RPC call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// RateLimitedTotal tracks chain requests rejected by the rate limiter
	RateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "console_rate_limited_total",
			Help: "Total number of chain requests rejected by the rate limiter",
		},
	)

	// WebhookDeliveriesTotal tracks webhook delivery attempts by outcome
	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "console_webhook_deliveries_total",
			Help: "Total number of webhook delivery attempts",
		},
		[]string{"outcome"},
	)

	// WorkflowRunsTotal tracks workflow executions by final status
	WorkflowRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "console_workflow_runs_total",
			Help: "Total number of workflow runs",
		},
		[]string{"status"},
	)
)
