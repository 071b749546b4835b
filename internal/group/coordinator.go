// Package group implements the group coordinator: it creates build groups,
// gates member submission on dependency completion, applies status
// transitions, and keeps each group's derived aggregate status consistent
// with its members.
package group

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/buildcoord/internal/build"
	"git.home.luguber.info/inful/buildcoord/internal/depend"
	coorderrors "git.home.luguber.info/inful/buildcoord/internal/errors"
	"git.home.luguber.info/inful/buildcoord/internal/logfields"
	"git.home.luguber.info/inful/buildcoord/internal/metrics"
	"git.home.luguber.info/inful/buildcoord/internal/observability"
	"git.home.luguber.info/inful/buildcoord/internal/remote"
	"git.home.luguber.info/inful/buildcoord/internal/store"
	"git.home.luguber.info/inful/buildcoord/internal/util/keyedmutex"
)

// Submitter is the slice of the remote scheduler client the coordinator needs.
type Submitter interface {
	Submit(ctx context.Context, task remote.TaskDescriptor, correlationID string) (*remote.TaskHandle, error)
	Cancel(ctx context.Context, correlationID string) error
}

// Publisher receives every task and group status event. The notification hub
// satisfies it directly; the daemon fans events out to the journal and the
// message broker as well.
type Publisher interface {
	Publish(event build.StatusEvent)
}

// RebuildEvaluator decides whether a configuration needs building at all.
type RebuildEvaluator interface {
	NeedsRebuild(ctx context.Context, configID string) (depend.Decision, error)
}

// TaskSpec describes one member of a group to create. DependsOn names other
// specs of the same group by their IDs.
type TaskSpec struct {
	ID             string
	ConfigID       string
	ConfigRevision string
	DependsOn      []string
}

// Coordinator owns group lifecycle and aggregate status recomputation.
// Recomputation is serialized per group; different groups run in parallel.
type Coordinator struct {
	store     store.GroupStore
	publisher Publisher
	remote    Submitter
	evaluator RebuildEvaluator // nil disables rebuild skipping
	recorder  metrics.Recorder
	locks     *keyedmutex.KeyedMutex

	// In-flight submissions by task id, so a cancellation can abort the
	// retry loop of a submission that has not resolved yet.
	submitMu      sync.Mutex
	submitCancels map[string]context.CancelFunc
}

// NewCoordinator wires a coordinator. evaluator and recorder may be nil.
func NewCoordinator(st store.GroupStore, pub Publisher, rm Submitter, evaluator RebuildEvaluator, rec metrics.Recorder) *Coordinator {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Coordinator{
		store:         st,
		publisher:     pub,
		remote:        rm,
		evaluator:     evaluator,
		recorder:      rec,
		locks:         keyedmutex.New(),
		submitCancels: make(map[string]context.CancelFunc),
	}
}

// CreateGroup validates the specs, persists the group and its member tasks,
// and submits every task whose dependencies are already satisfied. A
// dependency cycle or a reference to an unknown member rejects the whole
// call synchronously with a validation error.
func (c *Coordinator) CreateGroup(ctx context.Context, configSetID string, specs []TaskSpec) (*build.Group, error) {
	if len(specs) == 0 {
		return nil, coorderrors.ValidationError("a group needs at least one task")
	}
	if err := validateSpecs(specs); err != nil {
		return nil, err
	}

	groupID := uuid.NewString()
	g := &build.Group{
		ID:          groupID,
		ConfigSetID: configSetID,
		Status:      build.GroupPending,
		CreatedAt:   time.Now(),
	}

	tasks := make([]*build.Task, 0, len(specs))
	for _, spec := range specs {
		id := spec.ID
		if id == "" {
			id = uuid.NewString()
		}
		g.MemberTaskIDs = append(g.MemberTaskIDs, id)
		tasks = append(tasks, &build.Task{
			ID:             id,
			ConfigID:       spec.ConfigID,
			ConfigRevision: spec.ConfigRevision,
			Status:         build.StatusNew,
			GroupID:        groupID,
			DependsOn:      spec.DependsOn,
		})
	}

	if err := c.store.SaveGroup(ctx, g); err != nil {
		return nil, coorderrors.StoreError(err, "save group")
	}
	for _, t := range tasks {
		if err := c.store.SaveTask(ctx, t); err != nil {
			return nil, coorderrors.StoreError(err, "save task")
		}
	}

	slog.Info("Build group created",
		logfields.GroupID(groupID),
		slog.Int("members", len(tasks)))

	// Settle tasks that never reach the remote scheduler, then submit the
	// ready ones.
	for _, t := range tasks {
		c.settleNewTask(ctx, t)
	}
	c.advance(ctx, groupID)
	return c.store.GetGroup(ctx, groupID)
}

// settleNewTask applies pre-submission terminal statuses: NO_REBUILD_REQUIRED
// when the evaluator says the configuration is up to date, REJECTED when
// evaluation fails validation. Tasks with pending dependencies move to
// WAITING_FOR_DEPENDENCIES.
func (c *Coordinator) settleNewTask(ctx context.Context, t *build.Task) {
	if c.evaluator != nil {
		decision, err := c.evaluator.NeedsRebuild(ctx, t.ConfigID)
		if err != nil {
			if coorderrors.IsCategory(err, coorderrors.CategoryValidation) {
				slog.Warn("Task rejected by rebuild evaluation",
					logfields.TaskID(t.ID), logfields.ConfigID(t.ConfigID), logfields.Error(err))
				c.applyTaskStatus(ctx, t.ID, build.StatusRejected)
				return
			}
			// Store hiccups leave the task NEW; reconciliation retries later.
			slog.Error("Rebuild evaluation failed",
				logfields.TaskID(t.ID), logfields.ConfigID(t.ConfigID), logfields.Error(err))
			return
		}
		if !decision.Rebuild {
			slog.Info("Configuration up to date, skipping build",
				logfields.TaskID(t.ID),
				logfields.ConfigID(t.ConfigID),
				slog.String("reason", string(decision.Reason)))
			c.applyTaskStatus(ctx, t.ID, build.StatusNoRebuildRequired)
			return
		}
	}
	if len(t.DependsOn) > 0 {
		c.applyTaskStatus(ctx, t.ID, build.StatusWaitingForDependencies)
	}
}

// OnMemberStatusChanged applies a member status and recomputes the group's
// aggregate. It is idempotent: re-delivering a status the task already has,
// or recomputing an unchanged aggregate, publishes nothing. The
// reconciliation loop calls it speculatively.
func (c *Coordinator) OnMemberStatusChanged(ctx context.Context, groupID, memberID string, newStatus build.Status) error {
	task, err := c.store.GetTask(ctx, memberID)
	if err != nil {
		return coorderrors.StoreError(err, "load member task")
	}
	if task.GroupID != groupID {
		return coorderrors.ValidationError("task does not belong to group").
			WithContext("task_id", memberID).
			WithContext("group_id", groupID)
	}

	if _, err := c.applyTaskStatus(ctx, memberID, newStatus); err != nil {
		// Illegal transition: log and drop, the state machine stays intact.
		slog.Error("Dropping illegal status update",
			logfields.TaskID(memberID),
			logfields.NewStatus(string(newStatus)),
			logfields.Error(err))
	}
	c.advance(ctx, groupID)
	return nil
}

// OnRemoteStatus routes an asynchronous status callback from the remote
// scheduler, keyed by correlation id, into the state machine.
func (c *Coordinator) OnRemoteStatus(ctx context.Context, correlationID string, newStatus build.Status) error {
	task, err := c.store.GetTaskByCorrelationID(ctx, correlationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return coorderrors.ValidationError("unknown correlation id").
				WithContext("correlation_id", correlationID)
		}
		return coorderrors.StoreError(err, "resolve correlation id")
	}

	if _, err := c.applyTaskStatus(ctx, task.ID, newStatus); err != nil {
		slog.Error("Dropping illegal remote status update",
			logfields.TaskID(task.ID),
			logfields.CorrelationID(correlationID),
			logfields.NewStatus(string(newStatus)),
			logfields.Error(err))
		return nil
	}
	if task.GroupID != "" {
		c.advance(ctx, task.GroupID)
	}
	return nil
}

// CancelTask cancels a task: remotely when it was submitted, then locally.
// The remote service confirming the cancellation via callback is redundant
// but harmless; re-applying CANCELLED is a no-op.
func (c *Coordinator) CancelTask(ctx context.Context, taskID string) error {
	task, err := c.store.GetTask(ctx, taskID)
	if err != nil {
		return coorderrors.StoreError(err, "load task")
	}
	if task.Status.Terminal() {
		return nil
	}

	// Abort a submission retry loop still in flight so it cannot complete a
	// stale submission after the task is marked CANCELLED.
	c.abortSubmission(taskID)

	if task.CorrelationID != "" {
		if err := c.cancelRemote(ctx, task.CorrelationID); err != nil {
			return err
		}
	}

	if _, err := c.applyTaskStatus(ctx, taskID, build.StatusCancelled); err != nil {
		return err
	}
	if task.GroupID != "" {
		c.advance(ctx, task.GroupID)
	}
	return nil
}

// applyTaskStatus validates and persists a task status transition, then
// publishes the task event. The transition is serialized per task so a
// concurrent remote callback and reconciliation replay cannot double-publish
// a terminal event; the publish itself runs outside the lock because
// subscriber callbacks may re-enter the coordinator. Returns false without
// error when the task already has the status.
func (c *Coordinator) applyTaskStatus(ctx context.Context, taskID string, newStatus build.Status) (bool, error) {
	old, changed, err := c.persistTaskStatus(ctx, taskID, newStatus)
	if err != nil || !changed {
		return false, err
	}

	c.recorder.IncStatusTransition(string(newStatus))
	c.recorder.IncEventPublished(newStatus.Terminal())
	c.publisher.Publish(build.TaskEvent(taskID, old, newStatus))

	slog.Info("Task status changed",
		logfields.TaskID(taskID),
		logfields.OldStatus(string(old)),
		logfields.NewStatus(string(newStatus)))
	return true, nil
}

func (c *Coordinator) persistTaskStatus(ctx context.Context, taskID string, newStatus build.Status) (build.Status, bool, error) {
	key := "task:" + taskID
	c.locks.Lock(key)
	defer c.locks.Unlock(key)

	task, err := c.store.GetTask(ctx, taskID)
	if err != nil {
		return "", false, coorderrors.StoreError(err, "load task")
	}
	if task.Status == newStatus {
		return task.Status, false, nil
	}
	if err := build.Transition(task.Status, newStatus); err != nil {
		return task.Status, false, err
	}
	if err := c.store.SaveTaskStatus(ctx, taskID, newStatus); err != nil {
		return task.Status, false, coorderrors.StoreError(err, "save task status")
	}
	return task.Status, true, nil
}

// advance serializes per-group progress: it rejects members whose
// dependencies can no longer be satisfied, recomputes and persists the
// aggregate status (publishing when it changed), and collects the members
// that became ready. Submissions happen after the group lock is released;
// the lock only protects the recomputation, never a network call.
func (c *Coordinator) advance(ctx context.Context, groupID string) {
	ready, events := c.advanceLocked(ctx, groupID)

	for _, event := range events {
		// Published outside the group lock, subscriber callbacks may
		// re-enter the coordinator.
		c.recorder.IncEventPublished(event.Terminal)
		c.publisher.Publish(event)
	}
	for _, t := range ready {
		c.submitTask(ctx, t)
	}
	if len(ready) > 0 {
		// Submissions changed member statuses; settle the aggregate again.
		c.advance(ctx, groupID)
	}
}

func (c *Coordinator) advanceLocked(ctx context.Context, groupID string) ([]*build.Task, []build.StatusEvent) {
	key := "group:" + groupID
	c.locks.Lock(key)
	defer c.locks.Unlock(key)

	g, err := c.store.GetGroup(ctx, groupID)
	if err != nil {
		slog.Error("Failed to load group", logfields.GroupID(groupID), logfields.Error(err))
		return nil, nil
	}

	tasks, err := c.store.ListGroupTasks(ctx, groupID)
	if err != nil {
		slog.Error("Failed to list group tasks", logfields.GroupID(groupID), logfields.Error(err))
		return nil, nil
	}

	byID := make(map[string]*build.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	// Reject members with failed dependencies until a fixpoint: a rejection
	// is itself a failing terminal status and may doom further dependents.
	var events []build.StatusEvent
	for {
		rejected := false
		for _, t := range tasks {
			if t.Status != build.StatusNew && t.Status != build.StatusWaitingForDependencies {
				continue
			}
			if hasFailedDependency(t, byID) {
				old, changed, err := c.persistTaskStatus(ctx, t.ID, build.StatusRejected)
				if err == nil && changed {
					c.recorder.IncStatusTransition(string(build.StatusRejected))
					events = append(events, build.TaskEvent(t.ID, old, build.StatusRejected))
					slog.Info("Task rejected, dependency failed",
						logfields.TaskID(t.ID),
						logfields.OldStatus(string(old)))
					t.Status = build.StatusRejected
					rejected = true
				}
			}
		}
		if !rejected {
			break
		}
	}

	// Collect members whose dependencies are all satisfied.
	var ready []*build.Task
	for _, t := range tasks {
		if t.Status != build.StatusNew && t.Status != build.StatusWaitingForDependencies {
			continue
		}
		if dependenciesSatisfied(t, byID) {
			ready = append(ready, t)
		}
	}

	// Recompute the aggregate; persist only on change.
	statuses := make([]build.Status, len(tasks))
	for i, t := range tasks {
		statuses[i] = t.Status
	}
	aggregate := build.AggregateStatus(statuses)
	if aggregate == g.Status {
		return ready, events
	}
	if err := c.store.SaveGroupStatus(ctx, groupID, aggregate); err != nil {
		slog.Error("Failed to persist group status", logfields.GroupID(groupID), logfields.Error(err))
		return ready, events
	}
	slog.Info("Group status changed",
		logfields.GroupID(groupID),
		logfields.OldStatus(string(g.Status)),
		logfields.NewStatus(string(aggregate)))
	events = append(events, build.GroupEvent(groupID, g.Status, aggregate))
	return ready, events
}

// submitTask submits one ready task to the remote scheduler. Every outcome
// maps to exactly one status application: accepted and conflicting
// submissions count as ENQUEUED (the existing remote task is the owner of
// record), a validation rejection is REJECTED, and exhausted transport
// retries are SYSTEM_ERROR so subscribers are not left waiting forever.
func (c *Coordinator) submitTask(ctx context.Context, t *build.Task) {
	ctx = observability.WithGroupID(observability.WithTaskID(ctx, t.ID), t.GroupID)

	correlationID := t.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
		now := time.Now()
		t.CorrelationID = correlationID
		t.SubmittedAt = &now
		if err := c.store.SaveTask(ctx, t); err != nil {
			observability.ErrorContext(ctx, "Failed to persist correlation id", logfields.Error(err))
			return
		}
	}

	// The submission context can be cancelled by CancelTask while the
	// retry loop is still in flight.
	subCtx, cancelSubmit := context.WithCancel(ctx)
	c.trackSubmission(t.ID, cancelSubmit)
	defer func() {
		c.untrackSubmission(t.ID)
		cancelSubmit()
	}()

	_, err := c.remote.Submit(subCtx, remote.TaskDescriptor{
		TaskID:         t.ID,
		ConfigID:       t.ConfigID,
		ConfigRevision: t.ConfigRevision,
	}, correlationID)

	switch {
	case err == nil:
		if _, applyErr := c.applyTaskStatus(ctx, t.ID, build.StatusEnqueued); applyErr != nil {
			// The task reached a terminal status while the submission was
			// in flight; the remote task is stale and must not run.
			observability.WarnContext(ctx, "Cancelling stale remote task accepted after local terminal status",
				logfields.CorrelationID(correlationID))
			if cancelErr := c.cancelRemote(ctx, correlationID); cancelErr != nil {
				observability.ErrorContext(ctx, "Failed to cancel stale remote task",
					logfields.CorrelationID(correlationID), logfields.Error(cancelErr))
			}
		}
	case subCtx.Err() != nil:
		observability.InfoContext(ctx, "Submission aborted by cancellation",
			logfields.CorrelationID(correlationID))
	case isConflict(err):
		observability.WarnContext(ctx, "Submission conflict, treating existing remote task as owner",
			logfields.CorrelationID(correlationID), logfields.Error(err))
		c.applyTaskStatus(ctx, t.ID, build.StatusEnqueued)
	case isBadRequest(err):
		observability.WarnContext(ctx, "Submission rejected by remote scheduler",
			logfields.Error(err))
		c.applyTaskStatus(ctx, t.ID, build.StatusRejected)
	default:
		observability.ErrorContext(ctx, "Submission failed after retries",
			logfields.CorrelationID(correlationID), logfields.Error(err))
		c.applyTaskStatus(ctx, t.ID, build.StatusSystemError)
	}
}

func (c *Coordinator) trackSubmission(taskID string, cancel context.CancelFunc) {
	c.submitMu.Lock()
	defer c.submitMu.Unlock()
	c.submitCancels[taskID] = cancel
}

func (c *Coordinator) untrackSubmission(taskID string) {
	c.submitMu.Lock()
	defer c.submitMu.Unlock()
	delete(c.submitCancels, taskID)
}

// abortSubmission cancels the task's in-flight submission, if any.
func (c *Coordinator) abortSubmission(taskID string) {
	c.submitMu.Lock()
	cancel := c.submitCancels[taskID]
	c.submitMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// cancelRemote cancels a remote task, tolerating tasks the remote service
// does not know.
func (c *Coordinator) cancelRemote(ctx context.Context, correlationID string) error {
	err := c.remote.Cancel(ctx, correlationID)
	var notFound *remote.NotFoundError
	if err != nil && !errors.As(err, &notFound) {
		return err
	}
	return nil
}

func isConflict(err error) bool {
	var conflict *remote.ConflictError
	return errors.As(err, &conflict)
}

func isBadRequest(err error) bool {
	var bad *remote.BadRequestError
	return errors.As(err, &bad)
}

func hasFailedDependency(t *build.Task, byID map[string]*build.Task) bool {
	for _, depID := range t.DependsOn {
		dep, ok := byID[depID]
		if !ok {
			continue
		}
		if dep.Status.Failing() {
			return true
		}
	}
	return false
}

func dependenciesSatisfied(t *build.Task, byID map[string]*build.Task) bool {
	for _, depID := range t.DependsOn {
		dep, ok := byID[depID]
		if !ok {
			return false
		}
		if !dep.Status.Terminal() || dep.Status.Failing() {
			return false
		}
	}
	return true
}

// validateSpecs checks intra-group dependency references and cycles.
func validateSpecs(specs []TaskSpec) error {
	ids := make(map[string][]string, len(specs))
	for i := range specs {
		if specs[i].ID == "" {
			specs[i].ID = uuid.NewString()
		}
		if _, dup := ids[specs[i].ID]; dup {
			return coorderrors.ValidationError("duplicate task id in group").WithContext("task_id", specs[i].ID)
		}
		ids[specs[i].ID] = specs[i].DependsOn
	}
	for id, deps := range ids {
		for _, dep := range deps {
			if _, ok := ids[dep]; !ok {
				return coorderrors.ValidationError("dependency references unknown task").
					WithContext("task_id", id).
					WithContext("dependency", dep)
			}
		}
	}
	if cycle := findTaskCycle(ids); len(cycle) > 0 {
		return coorderrors.ValidationError(
			fmt.Sprintf("dependency cycle among group tasks: %s", strings.Join(cycle, " -> ")))
	}
	return nil
}

func findTaskCycle(graph map[string][]string) []string {
	const (
		visiting = 1
		done     = 2
	)
	state := map[string]int{}
	var path []string

	var visit func(id string) []string
	visit = func(id string) []string {
		switch state[id] {
		case visiting:
			start := 0
			for i, p := range path {
				if p == id {
					start = i
					break
				}
			}
			return append(append([]string{}, path[start:]...), id)
		case done:
			return nil
		}
		state[id] = visiting
		path = append(path, id)
		for _, dep := range graph[id] {
			if cycle := visit(dep); len(cycle) > 0 {
				return cycle
			}
		}
		state[id] = done
		path = path[:len(path)-1]
		return nil
	}

	for id := range graph {
		if cycle := visit(id); len(cycle) > 0 {
			return cycle
		}
	}
	return nil
}
