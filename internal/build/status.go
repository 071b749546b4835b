// Package build defines the core entities of the coordination engine: build
// tasks, build groups, and the status state machines that govern them.
package build

import (
	coorderrors "git.home.luguber.info/inful/buildcoord/internal/errors"
)

// Status represents the lifecycle state of a single build task.
type Status string

const (
	StatusNew                    Status = "NEW"
	StatusWaitingForDependencies Status = "WAITING_FOR_DEPENDENCIES"
	StatusEnqueued               Status = "ENQUEUED"
	StatusBuilding               Status = "BUILDING"
	StatusSuccess                Status = "SUCCESS"
	StatusFailed                 Status = "FAILED"
	StatusSystemError            Status = "SYSTEM_ERROR"
	StatusCancelled              Status = "CANCELLED"
	StatusRejected               Status = "REJECTED"
	StatusNoRebuildRequired      Status = "NO_REBUILD_REQUIRED"
)

// transitions is the forward-only transition graph. Terminal statuses have no
// outgoing edges. ENQUEUED may complete without an observed BUILDING callback
// because remote push notifications are best-effort.
var transitions = map[Status][]Status{
	StatusNew: {
		StatusWaitingForDependencies,
		StatusEnqueued,
		StatusRejected,
		StatusNoRebuildRequired,
		StatusCancelled,
		StatusSystemError,
	},
	StatusWaitingForDependencies: {
		StatusEnqueued,
		StatusRejected,
		StatusCancelled,
		StatusSystemError,
	},
	StatusEnqueued: {
		StatusBuilding,
		StatusSuccess,
		StatusFailed,
		StatusCancelled,
		StatusSystemError,
	},
	StatusBuilding: {
		StatusSuccess,
		StatusFailed,
		StatusCancelled,
		StatusSystemError,
	},
}

// Terminal reports whether no further transition can occur from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusSystemError, StatusCancelled, StatusRejected, StatusNoRebuildRequired:
		return true
	}
	return false
}

// Failing reports whether s is a terminal status that counts against the
// owning group's aggregate.
func (s Status) Failing() bool {
	switch s {
	case StatusFailed, StatusSystemError, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	if s.Terminal() {
		return true
	}
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether the edge from -> to exists in the graph.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates the edge from -> to. An illegal edge is a programming
// error: the caller must log it and drop the update, never retry it.
func Transition(from, to Status) error {
	if !from.Valid() {
		return coorderrors.StateError("unknown status").WithContext("status", string(from))
	}
	if !to.Valid() {
		return coorderrors.StateError("unknown status").WithContext("status", string(to))
	}
	if !CanTransition(from, to) {
		return coorderrors.StateError("illegal status transition").
			WithContext("from", string(from)).
			WithContext("to", string(to))
	}
	return nil
}
