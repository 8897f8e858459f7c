// Package daemon runs the pipeline as a long-lived service: an HTTP
// surface for webhooks and manual dispatch, recurring trunk builds, and
// hot reload of the configuration file.
package daemon

import (
	"context"
	"log/slog"
	"sync"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/relforge/internal/config"
	"git.home.luguber.info/inful/relforge/internal/flight"
	"git.home.luguber.info/inful/relforge/internal/history"
	"git.home.luguber.info/inful/relforge/internal/logfields"
	"git.home.luguber.info/inful/relforge/internal/pipeline"
)

// Dispatcher executes pipeline runs. Satisfied by *pipeline.Pipeline.
type Dispatcher interface {
	Execute(ctx context.Context, trigger pipeline.Trigger) (*pipeline.RunResult, error)
	InFlight() map[string]string
}

// PipelineFactory builds a dispatcher for a configuration. The daemon
// calls it again after every config reload, always with the same flight
// group so the single-flight-per-key invariant spans reloads.
type PipelineFactory func(cfg *config.Config, flights *flight.Group) Dispatcher

// Daemon hosts the pipeline behind an HTTP server and a schedule loop.
type Daemon struct {
	mu         sync.RWMutex
	cfg        *config.Config
	configPath string

	factory  PipelineFactory
	dispatch Dispatcher
	store    *history.Store
	flights  *flight.Group

	server    *Server
	scheduler *Scheduler
	watcher   *ConfigWatcher
	registry  *prom.Registry

	runCtx context.Context
}

// SetMetricsRegistry wires the Prometheus registry the /metrics endpoint
// serves. Call before Run.
func (d *Daemon) SetMetricsRegistry(reg *prom.Registry) { d.registry = reg }

// New creates a daemon. store may be nil when history is disabled.
func New(cfg *config.Config, configPath string, factory PipelineFactory, store *history.Store) *Daemon {
	flights := flight.NewGroup()
	return &Daemon{
		cfg:        cfg,
		configPath: configPath,
		factory:    factory,
		dispatch:   factory(cfg, flights),
		store:      store,
		flights:    flights,
	}
}

// Config returns the current configuration.
func (d *Daemon) Config() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

func (d *Daemon) dispatcher() Dispatcher {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.dispatch
}

// Run starts all daemon components and blocks until ctx is canceled.
func (d *Daemon) Run(ctx context.Context) error {
	d.runCtx = ctx

	scheduler, err := NewScheduler(d)
	if err != nil {
		return err
	}
	d.scheduler = scheduler
	if err := d.scheduler.Apply(d.Config().Triggers.Schedules); err != nil {
		return err
	}
	d.scheduler.Start()

	if d.configPath != "" {
		watcher, err := NewConfigWatcher(d.configPath, d)
		if err != nil {
			return err
		}
		d.watcher = watcher
		if err := d.watcher.Start(ctx); err != nil {
			return err
		}
	}

	d.server = NewServer(d)
	if err := d.server.Start(); err != nil {
		return err
	}

	slog.Info("daemon started", slog.String("listen", d.Config().Daemon.Listen))

	<-ctx.Done()
	return d.shutdown()
}

func (d *Daemon) shutdown() error {
	slog.Info("daemon stopping")
	ctx := context.Background()
	if d.watcher != nil {
		d.watcher.Stop()
	}
	if d.scheduler != nil {
		if err := d.scheduler.Stop(); err != nil {
			slog.Warn("scheduler shutdown failed", logfields.Error(err))
		}
	}
	if d.server != nil {
		if err := d.server.Stop(ctx); err != nil {
			slog.Warn("http server shutdown failed", logfields.Error(err))
			return err
		}
	}
	return nil
}

// Dispatch starts a run asynchronously. A *pipeline.RejectedError is
// returned when the configuration does not admit the trigger; the run
// itself reports its outcome through history and events.
func (d *Daemon) Dispatch(trigger pipeline.Trigger) error {
	dispatch := d.dispatcher()
	if err := pipeline.Admit(d.Config().Triggers, trigger); err != nil {
		return err
	}
	ctx := d.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		// The run outlives the dispatching request; it is bounded by the
		// daemon lifetime and the per-job timeout.
		if _, err := dispatch.Execute(ctx, trigger); err != nil {
			slog.Error("dispatched run failed",
				logfields.Trigger(string(trigger.Kind)),
				logfields.Ref(trigger.Ref),
				logfields.Error(err))
		}
	}()
	return nil
}

// ReloadConfig validates and applies a new configuration: the dispatcher
// is rebuilt and schedules are replaced. The listen address cannot change
// without a restart.
func (d *Daemon) ReloadConfig(newCfg *config.Config) error {
	d.mu.Lock()
	if newCfg.Daemon.Listen != d.cfg.Daemon.Listen {
		slog.Warn("listen address change requires restart",
			slog.String("current", d.cfg.Daemon.Listen),
			slog.String("new", newCfg.Daemon.Listen))
		newCfg.Daemon.Listen = d.cfg.Daemon.Listen
	}
	d.cfg = newCfg
	d.dispatch = d.factory(newCfg, d.flights)
	d.mu.Unlock()

	if d.scheduler != nil {
		if err := d.scheduler.Apply(newCfg.Triggers.Schedules); err != nil {
			return err
		}
	}
	slog.Info("configuration reloaded", logfields.Name(newCfg.Project.Name))
	return nil
}
