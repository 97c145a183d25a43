// Package agent runs the resident foolscrate daemon: periodic fleet sweeps,
// optional change-triggered sweeps, and an optional metrics endpoint.
package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/foolscrate/foolscrate/internal/admin"
	"github.com/foolscrate/foolscrate/internal/config"
	"github.com/foolscrate/foolscrate/internal/metrics"
	"github.com/foolscrate/foolscrate/internal/registry"
	"github.com/foolscrate/foolscrate/internal/replica"
	"github.com/foolscrate/foolscrate/internal/sweep"
	"github.com/foolscrate/foolscrate/pkg/report"
)

// Agent owns the long-running sync loop.
type Agent struct {
	cfg      *config.AgentConfig
	reg      *registry.Registry
	version  string
	interval time.Duration
	debounce time.Duration

	// sweepAll is swapped out in tests.
	sweepAll func(ctx context.Context) (*report.Sweep, error)
	mets     *metrics.AgentMetrics
}

// New validates cfg and assembles an agent around it.
func New(cfg *config.AgentConfig, version string) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	interval, err := config.ParseDuration(cfg.Sync.Interval, time.Minute)
	if err != nil {
		return nil, fmt.Errorf("sync.interval: %w", err)
	}
	debounce, err := config.ParseDuration(cfg.Watch.Debounce, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("watch.debounce: %w", err)
	}
	opts, err := SweepOptions(cfg)
	if err != nil {
		return nil, err
	}

	// The registry lock cannot be taken while its directory is missing, and
	// a service starts before any replica was ever tracked.
	if err := os.MkdirAll(filepath.Dir(cfg.Registry.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create registry directory: %w", err)
	}

	reg := registry.New(cfg.Registry.Path, cfg.Registry.LockPath, registry.DefaultLockTimeout)
	sweeper := sweep.New(reg, cfg.Sync.FleetLockPath, opts)

	return &Agent{
		cfg:      cfg,
		reg:      reg,
		version:  version,
		interval: interval,
		debounce: debounce,
		sweepAll: sweeper.SweepAll,
	}, nil
}

// SweepOptions derives sweep settings from an agent configuration.
func SweepOptions(cfg *config.AgentConfig) (sweep.Options, error) {
	backoff, err := config.ParseDuration(cfg.Sync.MergeBackoff, replica.DefaultMergeBackoff)
	if err != nil {
		return sweep.Options{}, fmt.Errorf("sync.merge_backoff: %w", err)
	}
	jitterMin, err := config.ParseDuration(cfg.Sync.JitterMin, sweep.DefaultJitterMin)
	if err != nil {
		return sweep.Options{}, fmt.Errorf("sync.jitter_min: %w", err)
	}
	jitterMax, err := config.ParseDuration(cfg.Sync.JitterMax, sweep.DefaultJitterMax)
	if err != nil {
		return sweep.Options{}, fmt.Errorf("sync.jitter_max: %w", err)
	}

	return sweep.Options{
		JitterMin: jitterMin,
		JitterMax: jitterMax,
		Replica: replica.Options{
			Attempts:     cfg.Sync.Attempts,
			MergeBackoff: backoff,
		},
	}, nil
}

// Run executes the agent loop until ctx is cancelled. An immediate sweep runs
// at startup, then one per interval, plus debounced sweeps after file changes
// when watching is enabled. A sweep that applied remote changes retriggers one
// follow-up sweep, which finds a clean tree and settles.
func (a *Agent) Run(ctx context.Context) error {
	log.Info().
		Str("version", a.version).
		Dur("interval", a.interval).
		Bool("watch", a.cfg.Watch.Enabled).
		Bool("metrics", a.cfg.Metrics.Enabled).
		Msg("agent starting")

	if a.cfg.Metrics.Enabled {
		host, _ := os.Hostname()
		a.mets = metrics.InitMetrics(host, a.version)

		collector := metrics.NewCollector(a.mets, a.reg)
		go collector.Run(ctx, a.interval)

		srv := admin.NewServer()
		if err := srv.Start(a.cfg.Metrics.Listen); err != nil {
			return fmt.Errorf("start metrics endpoint: %w", err)
		}
		defer func() {
			if err := srv.Stop(); err != nil {
				log.Warn().Err(err).Msg("metrics endpoint shutdown failed")
			}
		}()
		log.Info().Str("listen", a.cfg.Metrics.Listen).Msg("metrics endpoint up")
	}

	var watcher *Watcher
	var changes <-chan string
	if a.cfg.Watch.Enabled {
		var err error
		watcher, err = NewWatcher()
		if err != nil {
			return err
		}
		defer func() {
			if err := watcher.Close(); err != nil {
				log.Warn().Err(err).Msg("file watcher shutdown failed")
			}
		}()
		changes = watcher.Events()
	}

	a.sweepOnce(ctx, watcher)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	var pending *time.Timer
	var pendingC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("agent stopping")
			return nil

		case <-ticker.C:
			a.sweepOnce(ctx, watcher)

		case dir, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			log.Debug().Str("replica", dir).Msg("change detected")
			if pending == nil {
				pending = time.NewTimer(a.debounce)
				pendingC = pending.C
			} else {
				pending.Reset(a.debounce)
			}

		case <-pendingC:
			pending = nil
			pendingC = nil
			a.sweepOnce(ctx, watcher)
		}
	}
}

func (a *Agent) sweepOnce(ctx context.Context, watcher *Watcher) {
	sw, err := a.sweepAll(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("sweep failed")
		}
		return
	}
	if a.mets != nil {
		a.mets.ObserveSweep(sw)
	}
	if watcher != nil {
		a.refreshWatches(ctx, watcher)
	}
}

// refreshWatches brings the watch set up to date with the tracked set, so
// replicas tracked after startup get change-triggered sweeps too.
func (a *Agent) refreshWatches(ctx context.Context, watcher *Watcher) {
	dirs, err := a.reg.List(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("could not refresh watch set")
		return
	}
	for _, dir := range dirs {
		if err := watcher.Watch(dir); err != nil {
			log.Warn().Err(err).Str("replica", dir).Msg("could not watch replica")
		}
	}
}
