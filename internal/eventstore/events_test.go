package eventstore

import (
	"encoding/json"
	"testing"
)

func TestEventSerialization(t *testing.T) {
	tests := []struct {
		name      string
		createFn  func() (Event, error)
		eventType string
	}{
		{
			name: "TaskStatusChanged",
			createFn: func() (Event, error) {
				return NewTaskStatusChanged("task-1", "ENQUEUED", "BUILDING", false)
			},
			eventType: "TaskStatusChanged",
		},
		{
			name: "GroupStatusChanged",
			createFn: func() (Event, error) {
				return NewGroupStatusChanged("group-1", "RUNNING", "DONE", true)
			},
			eventType: "GroupStatusChanged",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := tt.createFn()
			if err != nil {
				t.Fatalf("failed to create event: %v", err)
			}

			if event.Type() != tt.eventType {
				t.Errorf("expected type %s, got %s", tt.eventType, event.Type())
			}
			if event.Timestamp().IsZero() {
				t.Error("expected non-zero timestamp")
			}
			if !json.Valid(event.Payload()) {
				t.Errorf("payload is not valid JSON: %s", event.Payload())
			}
		})
	}
}

func TestTaskStatusChangedPayload(t *testing.T) {
	event, err := NewTaskStatusChanged("task-1", "BUILDING", "FAILED", true)
	if err != nil {
		t.Fatalf("failed to create event: %v", err)
	}

	var payload struct {
		OldStatus string `json:"old_status"`
		NewStatus string `json:"new_status"`
		Terminal  bool   `json:"terminal"`
	}
	if err := json.Unmarshal(event.Payload(), &payload); err != nil {
		t.Fatalf("failed to unmarshal payload: %v", err)
	}

	if payload.OldStatus != "BUILDING" {
		t.Errorf("expected old_status BUILDING, got %s", payload.OldStatus)
	}
	if payload.NewStatus != "FAILED" {
		t.Errorf("expected new_status FAILED, got %s", payload.NewStatus)
	}
	if !payload.Terminal {
		t.Error("expected terminal payload")
	}
	if event.TargetID() != "task-1" {
		t.Errorf("expected target task-1, got %s", event.TargetID())
	}
}
