package eventstore

import (
	"encoding/json"
	"time"

	"git.home.luguber.info/inful/buildcoord/internal/errors"
)

// TaskStatusChanged is emitted for every task status transition.
type TaskStatusChanged struct {
	BaseEvent
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
	Terminal  bool   `json:"terminal"`
}

// NewTaskStatusChanged creates a TaskStatusChanged event.
func NewTaskStatusChanged(taskID, oldStatus, newStatus string, terminal bool) (*TaskStatusChanged, error) {
	payload, err := json.Marshal(map[string]any{
		"old_status": oldStatus,
		"new_status": newStatus,
		"terminal":   terminal,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, errors.SeverityError,
			"failed to marshal TaskStatusChanged payload").
			WithContext("task_id", taskID)
	}

	return &TaskStatusChanged{
		BaseEvent: BaseEvent{
			EventTargetID:  taskID,
			EventType:      "TaskStatusChanged",
			EventTimestamp: time.Now(),
			EventPayload:   payload,
		},
		OldStatus: oldStatus,
		NewStatus: newStatus,
		Terminal:  terminal,
	}, nil
}

// GroupStatusChanged is emitted when a group's derived aggregate changes.
type GroupStatusChanged struct {
	BaseEvent
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
	Terminal  bool   `json:"terminal"`
}

// NewGroupStatusChanged creates a GroupStatusChanged event.
func NewGroupStatusChanged(groupID, oldStatus, newStatus string, terminal bool) (*GroupStatusChanged, error) {
	payload, err := json.Marshal(map[string]any{
		"old_status": oldStatus,
		"new_status": newStatus,
		"terminal":   terminal,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, errors.SeverityError,
			"failed to marshal GroupStatusChanged payload").
			WithContext("group_id", groupID)
	}

	return &GroupStatusChanged{
		BaseEvent: BaseEvent{
			EventTargetID:  groupID,
			EventType:      "GroupStatusChanged",
			EventTimestamp: time.Now(),
			EventPayload:   payload,
		},
		OldStatus: oldStatus,
		NewStatus: newStatus,
		Terminal:  terminal,
	}, nil
}
