package build

import "time"

// Task is one build attempt of a single build configuration.
// ConfigID and ConfigRevision are immutable after creation.
type Task struct {
	ID             string     `json:"id"`
	ConfigID       string     `json:"config_id"`
	ConfigRevision string     `json:"config_revision"`
	Status         Status     `json:"status"`
	GroupID        string     `json:"group_id,omitempty"` // weak back-reference, empty for standalone builds
	DependsOn      []string   `json:"depends_on,omitempty"`
	CorrelationID  string     `json:"correlation_id,omitempty"`
	SubmittedAt    *time.Time `json:"submitted_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Group is a set of build tasks submitted and tracked together.
// MemberTaskIDs is fixed at creation.
type Group struct {
	ID            string      `json:"id"`
	ConfigSetID   string      `json:"config_set_id"`
	MemberTaskIDs []string    `json:"member_task_ids"`
	Status        GroupStatus `json:"status"`
	CreatedAt     time.Time   `json:"created_at"`
}

// Configuration identifies what can be built and what it depends on.
type Configuration struct {
	ID           string   `json:"id"`
	Revision     string   `json:"revision"`
	Dependencies []string `json:"dependencies,omitempty"` // configuration ids
}

// Record is one completed build of a configuration, with the dependency
// inputs (build record ids) the build consumed.
type Record struct {
	ID               string    `json:"id"`
	ConfigID         string    `json:"config_id"`
	Status           Status    `json:"status"`
	DependencyInputs []string  `json:"dependency_inputs,omitempty"` // record ids
	CompletedAt      time.Time `json:"completed_at"`
}

// Kind of target a StatusEvent refers to.
const (
	KindTask  = "task"
	KindGroup = "group"
)

// StatusEvent is delivered to notification subscribers on every status change.
// Terminal mirrors NewStatus so the hub can clean up without knowing whether
// the target is a task or a group.
type StatusEvent struct {
	TargetID  string    `json:"target_id"`
	Kind      string    `json:"kind"`
	OldStatus string    `json:"old_status"`
	NewStatus string    `json:"new_status"`
	Terminal  bool      `json:"terminal"`
	Timestamp time.Time `json:"timestamp"`
}

// TaskEvent builds a StatusEvent for a task status change.
func TaskEvent(taskID string, old, new Status) StatusEvent {
	return StatusEvent{
		TargetID:  taskID,
		Kind:      KindTask,
		OldStatus: string(old),
		NewStatus: string(new),
		Terminal:  new.Terminal(),
		Timestamp: time.Now(),
	}
}

// GroupEvent builds a StatusEvent for a group status change.
func GroupEvent(groupID string, old, new GroupStatus) StatusEvent {
	return StatusEvent{
		TargetID:  groupID,
		Kind:      KindGroup,
		OldStatus: string(old),
		NewStatus: string(new),
		Terminal:  new.Terminal(),
		Timestamp: time.Now(),
	}
}
