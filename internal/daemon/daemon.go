// Package daemon wires the coordination engine: datastore, event journal,
// notification hub, remote scheduler client, group coordinator, reconciliation
// loop, and the HTTP callback/metrics server.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promcollect "github.com/prometheus/client_golang/prometheus/collectors"

	"git.home.luguber.info/inful/buildcoord/internal/config"
	"git.home.luguber.info/inful/buildcoord/internal/depend"
	"git.home.luguber.info/inful/buildcoord/internal/eventstore"
	"git.home.luguber.info/inful/buildcoord/internal/group"
	"git.home.luguber.info/inful/buildcoord/internal/hub"
	"git.home.luguber.info/inful/buildcoord/internal/logfields"
	"git.home.luguber.info/inful/buildcoord/internal/metrics"
	"git.home.luguber.info/inful/buildcoord/internal/notify"
	"git.home.luguber.info/inful/buildcoord/internal/reconcile"
	"git.home.luguber.info/inful/buildcoord/internal/remote"
	"git.home.luguber.info/inful/buildcoord/internal/retry"
	"git.home.luguber.info/inful/buildcoord/internal/store"
	"git.home.luguber.info/inful/buildcoord/internal/util/workergroup"
)

// Daemon is the long-running coordination service.
type Daemon struct {
	mu     sync.RWMutex
	cfg    *config.Config
	status Status

	store        *store.SQLiteStore
	journalStore *eventstore.SQLiteStore
	journal      *eventstore.Journal
	projection   *eventstore.GroupHistoryProjection
	hub          *hub.Hub
	notifier     *notify.NATSPublisher
	remoteClient *remote.Client
	coordinator  *group.Coordinator
	reconciler   *reconcile.Reconciler
	recorder     *metrics.PrometheusRecorder
	registry     *prom.Registry
	httpServer   *HTTPServer
	watcher      *ConfigWatcher

	workers   workergroup.Group
	startTime time.Time
}

// New assembles a daemon from validated configuration. Nothing is started;
// call Start.
func New(cfg *config.Config) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}

	registry := prom.NewRegistry()
	registry.MustRegister(promcollect.NewGoCollector(),
		promcollect.NewProcessCollector(promcollect.ProcessCollectorOpts{}))
	recorder := metrics.NewPrometheusRecorder(registry)

	st, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open datastore: %w", err)
	}

	journalStore, err := eventstore.NewSQLiteStore(cfg.Store.JournalPath)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("open event journal: %w", err)
	}
	projection := eventstore.NewGroupHistoryProjection(journalStore, 100)
	journal := eventstore.NewJournal(journalStore, projection)

	d := &Daemon{
		cfg:          cfg,
		status:       StatusStopped,
		store:        st,
		journalStore: journalStore,
		journal:      journal,
		projection:   projection,
		hub:          hub.New(),
		recorder:     recorder,
		registry:     registry,
	}

	if cfg.Notify.Enabled {
		notifier, err := notify.NewNATSPublisher(&cfg.Notify)
		if err != nil {
			d.closeStores()
			return nil, fmt.Errorf("connect notifier: %w", err)
		}
		d.notifier = notifier
	}

	policy := retry.FromConfig(cfg.Scheduler)
	d.remoteClient = remote.NewClient(cfg.Scheduler.BaseURL, cfg.Scheduler.Token,
		cfg.SchedulerRequestTimeout(), policy, recorder)

	evaluator := depend.NewEvaluator(st)
	sinks := []group.Publisher{gaugedHub{h: d.hub, rec: recorder}, journal}
	if d.notifier != nil {
		sinks = append(sinks, d.notifier)
	}
	d.coordinator = group.NewCoordinator(st, newFanoutPublisher(sinks...), d.remoteClient, evaluator, recorder)

	if cfg.Reconcile.Enabled == nil || *cfg.Reconcile.Enabled {
		reconciler, err := reconcile.New(st, d.coordinator, cfg.ReconcileInterval(), recorder)
		if err != nil {
			d.closeStores()
			return nil, fmt.Errorf("create reconciler: %w", err)
		}
		d.reconciler = reconciler
	}

	d.httpServer = NewHTTPServer(cfg, d)
	return d, nil
}

// Start brings the daemon up: projection rebuild, HTTP listener,
// reconciliation loop, config watcher.
func (d *Daemon) Start(ctx context.Context, configPath string) error {
	d.setStatus(StatusStarting)
	d.startTime = time.Now()

	if err := d.projection.Rebuild(ctx); err != nil {
		slog.Warn("Failed to rebuild group history projection", logfields.Error(err))
	}

	if err := d.httpServer.Start(ctx); err != nil {
		d.setStatus(StatusError)
		return fmt.Errorf("start http server: %w", err)
	}

	if d.reconciler != nil {
		if err := d.reconciler.Start(ctx); err != nil {
			d.setStatus(StatusError)
			return fmt.Errorf("start reconciler: %w", err)
		}
	}

	if configPath != "" {
		watcher, err := NewConfigWatcher(configPath, d)
		if err != nil {
			slog.Warn("Config watcher unavailable, hot reload disabled", logfields.Error(err))
		} else {
			d.watcher = watcher
			if err := watcher.Start(ctx); err != nil {
				slog.Warn("Failed to start config watcher", logfields.Error(err))
				d.watcher = nil
			}
		}
	}

	d.setStatus(StatusRunning)
	slog.Info("Coordinator daemon started",
		slog.String("listen", d.cfg.Server.Listen))
	return nil
}

// Stop shuts everything down in reverse start order, bounded by ctx.
func (d *Daemon) Stop(ctx context.Context) error {
	d.setStatus(StatusStopping)

	if d.watcher != nil {
		_ = d.watcher.Stop(ctx)
	}
	if d.reconciler != nil {
		if err := d.reconciler.Stop(); err != nil {
			slog.Error("Failed to stop reconciler", logfields.Error(err))
		}
	}
	if d.httpServer != nil {
		if err := d.httpServer.Stop(ctx); err != nil {
			slog.Error("Failed to stop http server", logfields.Error(err))
		}
	}
	if err := d.workers.StopAndWait(ctx); err != nil {
		slog.Error("Workers did not stop in time", logfields.Error(err))
	}
	if d.notifier != nil {
		_ = d.notifier.Close()
	}
	d.closeStores()

	d.setStatus(StatusStopped)
	slog.Info("Coordinator daemon stopped")
	return nil
}

func (d *Daemon) closeStores() {
	if d.journalStore != nil {
		_ = d.journalStore.Close()
	}
	if d.store != nil {
		_ = d.store.Close()
	}
}

// ReloadConfig applies a hot-reloadable subset of a new configuration: the
// reconcile interval and the scheduler retry policy. Endpoint, listener, and
// store changes need a restart and only produce a warning.
func (d *Daemon) ReloadConfig(_ context.Context, newCfg *config.Config) error {
	current := d.GetConfig()

	if newCfg.Scheduler.BaseURL != current.Scheduler.BaseURL ||
		newCfg.Server.Listen != current.Server.Listen ||
		newCfg.Store != current.Store {
		slog.Warn("Endpoint, listener, or store changes require a daemon restart")
	}

	if d.reconciler != nil {
		if err := d.reconciler.SetInterval(newCfg.ReconcileInterval()); err != nil {
			return fmt.Errorf("apply reconcile interval: %w", err)
		}
	}
	d.remoteClient.SetPolicy(retry.FromConfig(newCfg.Scheduler))

	d.mu.Lock()
	d.cfg = newCfg
	d.mu.Unlock()

	slog.Info("Configuration reloaded",
		slog.String("reconcile_interval", newCfg.Reconcile.Interval),
		slog.String("retry_backoff", string(newCfg.Scheduler.RetryBackoff)))
	return nil
}

// ReconcileOnce runs a single reconciliation pass, regardless of whether the
// periodic loop is enabled. Used by the one-shot CLI command.
func (d *Daemon) ReconcileOnce(ctx context.Context) error {
	r := d.reconciler
	if r == nil {
		var err error
		r, err = reconcile.New(d.store, d.coordinator, time.Minute, d.recorder)
		if err != nil {
			return err
		}
		defer func() { _ = r.Stop() }()
	}
	r.Tick(ctx)
	return nil
}

// GetConfig returns the active configuration.
func (d *Daemon) GetConfig() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

// GetStatus returns the daemon lifecycle state.
func (d *Daemon) GetStatus() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status
}

func (d *Daemon) setStatus(s Status) {
	d.mu.Lock()
	d.status = s
	d.mu.Unlock()
}

// GetStartTime returns when the daemon was started.
func (d *Daemon) GetStartTime() time.Time {
	return d.startTime
}

// Coordinator exposes the group coordinator to the HTTP layer.
func (d *Daemon) Coordinator() *group.Coordinator {
	return d.coordinator
}

// Hub exposes the notification hub.
func (d *Daemon) Hub() *hub.Hub {
	return d.hub
}

// History exposes the group history projection.
func (d *Daemon) History() *eventstore.GroupHistoryProjection {
	return d.projection
}
