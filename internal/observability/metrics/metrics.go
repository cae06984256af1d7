// Package metrics holds the lazily-initialized, process-wide prometheus
// registry for this service's operations: ledger appends, disclosure
// publishes, selective reveals, governance denials, and anchor
// fallbacks.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every counter/histogram this service exposes at
// /metrics.
type Registry struct {
	AppendsTotal       *prometheus.CounterVec
	PublishesTotal     *prometheus.CounterVec
	RevealsTotal       *prometheus.CounterVec
	GovernanceDenials  *prometheus.CounterVec
	AnchorFallbacks    prometheus.Counter
	ChainVerified      prometheus.Gauge
	AppendLatency      prometheus.Histogram
	PublishLatency     prometheus.Histogram
}

var (
	once sync.Once
	reg  *Registry
)

// Default returns the lazily-initialized, process-wide registry.
func Default() *Registry {
	once.Do(func() {
		reg = &Registry{
			AppendsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ledgerd",
				Subsystem: "ledger",
				Name:      "appends_total",
				Help:      "Total ledger event appends by event type and outcome.",
			}, []string{"event_type", "outcome"}),
			PublishesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ledgerd",
				Subsystem: "disclosure",
				Name:      "publishes_total",
				Help:      "Total disclosure publish attempts by policy and outcome.",
			}, []string{"policy_id", "outcome"}),
			RevealsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ledgerd",
				Subsystem: "reveal",
				Name:      "requests_total",
				Help:      "Total selective reveal requests by outcome.",
			}, []string{"outcome"}),
			GovernanceDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ledgerd",
				Subsystem: "governance",
				Name:      "denials_total",
				Help:      "Total governance denials by rule id.",
			}, []string{"rule_id"}),
			AnchorFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "ledgerd",
				Subsystem: "anchor",
				Name:      "fallbacks_total",
				Help:      "Total anchor writes that fell back to the degraded in-process backend.",
			}),
			ChainVerified: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "ledgerd",
				Subsystem: "ledger",
				Name:      "chain_verified",
				Help:      "1 if the last hash-chain verification pass succeeded, 0 otherwise.",
			}),
			AppendLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "ledgerd",
				Subsystem: "ledger",
				Name:      "append_duration_seconds",
				Help:      "Latency distribution for ledger event appends.",
				Buckets:   prometheus.DefBuckets,
			}),
			PublishLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "ledgerd",
				Subsystem: "disclosure",
				Name:      "publish_duration_seconds",
				Help:      "Latency distribution for disclosure publish runs.",
				Buckets:   prometheus.DefBuckets,
			}),
		}
		prometheus.MustRegister(
			reg.AppendsTotal,
			reg.PublishesTotal,
			reg.RevealsTotal,
			reg.GovernanceDenials,
			reg.AnchorFallbacks,
			reg.ChainVerified,
			reg.AppendLatency,
			reg.PublishLatency,
		)
	})
	return reg
}
