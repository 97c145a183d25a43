// Package metrics provides Prometheus metrics for the foolscrate agent.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/foolscrate/foolscrate/pkg/report"
)

// Registry is the Prometheus registry for all foolscrate metrics.
var Registry = prometheus.NewRegistry()

func init() {
	// Register standard Go metrics
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// AgentMetrics holds all Prometheus metrics for a foolscrate agent.
type AgentMetrics struct {
	// Sweep counters and timing
	SweepsTotal   prometheus.Counter
	SweepsSkipped prometheus.Counter
	SweepDuration prometheus.Histogram
	LastSweepTime prometheus.Gauge

	// Per-replica sync results (labeled by outcome)
	ReplicaSyncs        *prometheus.CounterVec
	ReplicaSyncDuration prometheus.Histogram

	// Fleet state gauges (refreshed by the collector)
	TrackedReplicas  prometheus.Gauge
	ConflictsPending prometheus.Gauge

	// Agent info (constant labels exposed as a gauge)
	AgentInfo *prometheus.GaugeVec // labels: host, version
}

// InitMetrics initializes all metrics with the given host name as a constant
// label.
func InitMetrics(host, version string) *AgentMetrics {
	constLabels := prometheus.Labels{
		"host": host,
	}

	m := &AgentMetrics{
		SweepsTotal: promauto.With(Registry).NewCounter(prometheus.CounterOpts{
			Name:        "foolscrate_sweeps_total",
			Help:        "Total sweeps over the tracked replica set",
			ConstLabels: constLabels,
		}),
		SweepsSkipped: promauto.With(Registry).NewCounter(prometheus.CounterOpts{
			Name:        "foolscrate_sweeps_skipped_total",
			Help:        "Sweeps skipped because another sweep held the fleet lock",
			ConstLabels: constLabels,
		}),
		SweepDuration: promauto.With(Registry).NewHistogram(prometheus.HistogramOpts{
			Name:        "foolscrate_sweep_duration_seconds",
			Help:        "Wall-clock duration of completed sweeps",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		LastSweepTime: promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
			Name:        "foolscrate_last_sweep_timestamp_seconds",
			Help:        "Unix time when the last completed sweep finished",
			ConstLabels: constLabels,
		}),

		ReplicaSyncs: promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
			Name:        "foolscrate_replica_syncs_total",
			Help:        "Replica sync results by outcome",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		ReplicaSyncDuration: promauto.With(Registry).NewHistogram(prometheus.HistogramOpts{
			Name:        "foolscrate_replica_sync_duration_seconds",
			Help:        "Duration of individual replica syncs",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(0.1, 2, 10),
		}),

		TrackedReplicas: promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
			Name:        "foolscrate_tracked_replicas",
			Help:        "Number of replicas in the tracked set",
			ConstLabels: constLabels,
		}),
		ConflictsPending: promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
			Name:        "foolscrate_conflicts_pending",
			Help:        "Tracked replicas currently disabled by a conflict marker",
			ConstLabels: constLabels,
		}),

		// Agent info gauge
		AgentInfo: promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
			Name: "foolscrate_agent_info",
			Help: "Agent information (value is always 1)",
		}, []string{"host", "version"}),
	}

	// Set agent info
	m.AgentInfo.WithLabelValues(host, version).Set(1)

	return m
}

// ObserveSweep records one sweep report. Skipped sweeps count as sweeps but
// contribute no durations or outcomes.
func (m *AgentMetrics) ObserveSweep(sw *report.Sweep) {
	m.SweepsTotal.Inc()
	if sw.Skipped {
		m.SweepsSkipped.Inc()
		return
	}

	m.SweepDuration.Observe(sw.Elapsed().Seconds())
	m.LastSweepTime.Set(float64(sw.Finished.Unix()))
	for _, r := range sw.Results {
		m.ReplicaSyncs.WithLabelValues(string(r.Outcome)).Inc()
		m.ReplicaSyncDuration.Observe(r.Elapsed)
	}
}
