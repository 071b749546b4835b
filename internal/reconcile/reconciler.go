// Package reconcile runs the periodic reconciliation loop. Every tick it
// re-derives the aggregate status of each non-terminal group from the
// persisted member statuses, repairing state after missed callbacks or an
// unclean restart. Recomputation is idempotent, so a tick that finds nothing
// out of sync publishes nothing.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/buildcoord/internal/build"
	"git.home.luguber.info/inful/buildcoord/internal/logfields"
	"git.home.luguber.info/inful/buildcoord/internal/metrics"
)

// Coordinator is the slice of the group coordinator the reconciler drives.
type Coordinator interface {
	OnMemberStatusChanged(ctx context.Context, groupID, memberID string, newStatus build.Status) error
}

// GroupLister enumerates the groups that still need reconciliation.
type GroupLister interface {
	GetGroup(ctx context.Context, id string) (*build.Group, error)
	ListNonTerminalGroups(ctx context.Context) ([]*build.Group, error)
	ListGroupTasks(ctx context.Context, groupID string) ([]*build.Task, error)
}

// Reconciler wraps a gocron scheduler around periodic group reconciliation.
type Reconciler struct {
	scheduler   gocron.Scheduler
	store       GroupLister
	coordinator Coordinator
	recorder    metrics.Recorder
	interval    time.Duration
	jobID       string
}

// New creates a reconciler ticking at the given interval. recorder may be nil.
func New(st GroupLister, c Coordinator, interval time.Duration, rec metrics.Recorder) (*Reconciler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("reconcile interval must be positive, got %s", interval)
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Reconciler{
		scheduler:   s,
		store:       st,
		coordinator: c,
		recorder:    rec,
		interval:    interval,
	}, nil
}

// Start schedules the periodic tick and starts the scheduler. Singleton mode
// keeps a slow tick from overlapping with the next one.
func (r *Reconciler) Start(ctx context.Context) error {
	job, err := r.scheduler.NewJob(
		gocron.DurationJob(r.interval),
		gocron.NewTask(func() { r.Tick(ctx) }),
		gocron.WithName("group-reconcile"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to create reconcile job: %w", err)
	}
	r.jobID = job.ID().String()

	slog.Info("Starting reconciliation loop",
		slog.Duration("interval", r.interval))
	r.scheduler.Start()
	return nil
}

// Stop shuts the scheduler down, waiting for a running tick to finish.
func (r *Reconciler) Stop() error {
	slog.Info("Stopping reconciliation loop")
	return r.scheduler.Shutdown()
}

// SetInterval reschedules the periodic tick. Used by config hot reload.
func (r *Reconciler) SetInterval(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("reconcile interval must be positive, got %s", interval)
	}
	if interval == r.interval {
		return nil
	}
	for _, job := range r.scheduler.Jobs() {
		if job.ID().String() != r.jobID {
			continue
		}
		if _, err := r.scheduler.Update(
			job.ID(),
			gocron.DurationJob(interval),
			gocron.NewTask(func() { r.Tick(context.Background()) }),
			gocron.WithName("group-reconcile"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			return fmt.Errorf("failed to reschedule reconcile job: %w", err)
		}
	}
	slog.Info("Reconcile interval updated",
		slog.Duration("old", r.interval),
		slog.Duration("new", interval))
	r.interval = interval
	return nil
}

// Tick reconciles every non-terminal group once. A failure in one group is
// logged and does not stop the others.
func (r *Reconciler) Tick(ctx context.Context) {
	start := time.Now()
	defer func() {
		r.recorder.ObserveReconcileTick(time.Since(start))
	}()

	groups, err := r.store.ListNonTerminalGroups(ctx)
	if err != nil {
		slog.Error("Reconcile tick failed to list groups", logfields.Error(err))
		return
	}
	if len(groups) == 0 {
		return
	}

	slog.Debug("Reconciling groups", slog.Int("count", len(groups)))
	for _, g := range groups {
		outcome, err := r.reconcileGroup(ctx, g)
		if err != nil {
			r.recorder.IncReconcileGroup("error")
			slog.Error("Failed to reconcile group",
				logfields.GroupID(g.ID),
				logfields.Error(err))
			continue
		}
		r.recorder.IncReconcileGroup(outcome)
	}
}

// reconcileGroup replays the current status of one member through the
// coordinator. The coordinator's recompute is a no-op when nothing drifted
// and repairs the aggregate, rejections, and pending submissions when it did.
func (r *Reconciler) reconcileGroup(ctx context.Context, g *build.Group) (string, error) {
	tasks, err := r.store.ListGroupTasks(ctx, g.ID)
	if err != nil {
		return "", err
	}
	if len(tasks) == 0 {
		return "unchanged", nil
	}
	// One member is enough: the coordinator recomputes from the full
	// persisted snapshot regardless of which member triggered it.
	t := tasks[0]
	if err := r.coordinator.OnMemberStatusChanged(ctx, g.ID, t.ID, t.Status); err != nil {
		return "", err
	}
	after, err := r.store.GetGroup(ctx, g.ID)
	if err != nil {
		return "", err
	}
	if after.Status != g.Status {
		slog.Info("Reconciliation converged group",
			logfields.GroupID(g.ID),
			logfields.OldStatus(string(g.Status)),
			logfields.NewStatus(string(after.Status)))
		return "converged", nil
	}
	return "unchanged", nil
}
