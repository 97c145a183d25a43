package metrics

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/foolscrate/foolscrate/internal/replica"
)

// TrackedSource is the tracked-set surface the collector reads.
type TrackedSource interface {
	List(ctx context.Context) ([]string, error)
}

// Collector periodically refreshes the fleet-state gauges from the tracked
// set: how many replicas are tracked and how many sit behind a conflict
// marker waiting for a human.
type Collector struct {
	metrics *AgentMetrics
	source  TrackedSource
}

// NewCollector creates a new fleet-state collector.
func NewCollector(m *AgentMetrics, source TrackedSource) *Collector {
	return &Collector{metrics: m, source: source}
}

// Collect updates the gauges from the current tracked set.
func (c *Collector) Collect(ctx context.Context) {
	dirs, err := c.source.List(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("could not read tracked set for metrics")
		return
	}

	conflicts := 0
	for _, dir := range dirs {
		if _, err := os.Stat(filepath.Join(dir, replica.ConflictMarkerName)); err == nil {
			conflicts++
		}
	}

	c.metrics.TrackedReplicas.Set(float64(len(dirs)))
	c.metrics.ConflictsPending.Set(float64(conflicts))
}

// Run starts periodic collection until the context is canceled.
func (c *Collector) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Collect immediately on start
	c.Collect(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Collect(ctx)
		}
	}
}
