package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gatekeeper"

var (
	// AdmissionDecisions counts admission outcomes by source.
	AdmissionDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "admission_decisions_total",
		Help:      "Admission decisions by outcome and governing source.",
	}, []string{"outcome", "source"})

	// CheckDuration records the latency of a full admission check.
	CheckDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "check_duration_seconds",
		Help:      "Full admission check latency in seconds.",
		Buckets:   []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05},
	})

	// FallbackActivations counts requests evaluated by the static policy.
	FallbackActivations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fallback_activations_total",
		Help:      "Requests evaluated by the static fallback policy.",
	}, []string{"reason"})

	// CounterErrors counts counter-backend failures.
	CounterErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "counter_errors_total",
		Help:      "Counter backend increment failures.",
	}, []string{"backend"})

	// RuleCacheReloads counts snapshot reloads from the rule store.
	RuleCacheReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rule_cache_reloads_total",
		Help:      "Rule snapshot reloads from the rule store.",
	}, []string{"status"})

	// CachedRules is the number of active rules in the current snapshot.
	CachedRules = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cached_rules",
		Help:      "Active rules in the current snapshot.",
	})

	// AdminMutations counts rule CRUD operations.
	AdminMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "admin_mutations_total",
		Help:      "Rule mutations through the admin API.",
	}, []string{"op", "status"})

	// CounterDBSizeBytes tracks the local counter database file size.
	CounterDBSizeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "counter_db_size_bytes",
		Help:      "Local counter database on-disk size in bytes.",
	})
)
