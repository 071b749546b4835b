// Package store defines the datastore boundary of the coordination engine and
// ships a SQLite-backed default implementation.
package store

import (
	"context"
	"errors"

	"git.home.luguber.info/inful/buildcoord/internal/build"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Reader provides read access to build configurations and build records.
// The dependency evaluator operates exclusively through this interface.
type Reader interface {
	// GetBuildConfiguration returns a configuration by id.
	// Returns ErrNotFound if the configuration doesn't exist.
	GetBuildConfiguration(ctx context.Context, id string) (*build.Configuration, error)

	// GetLatestSuccessfulBuildRecord returns the most recent SUCCESS record
	// for the configuration, or ErrNotFound when it has never built successfully.
	GetLatestSuccessfulBuildRecord(ctx context.Context, configID string) (*build.Record, error)

	// GetBuildRecord returns a build record by id.
	GetBuildRecord(ctx context.Context, id string) (*build.Record, error)
}

// GroupStore provides read/write access to groups and their member tasks.
type GroupStore interface {
	GetGroup(ctx context.Context, id string) (*build.Group, error)
	SaveGroup(ctx context.Context, g *build.Group) error
	SaveGroupStatus(ctx context.Context, id string, status build.GroupStatus) error

	// ListNonTerminalGroups returns groups whose recorded status is not yet
	// terminal; the reconciliation loop scans these each tick.
	ListNonTerminalGroups(ctx context.Context) ([]*build.Group, error)

	GetTask(ctx context.Context, id string) (*build.Task, error)

	// GetTaskByCorrelationID resolves the task bound to a submission
	// correlation id; inbound remote callbacks are keyed by it.
	GetTaskByCorrelationID(ctx context.Context, correlationID string) (*build.Task, error)

	SaveTask(ctx context.Context, t *build.Task) error
	SaveTaskStatus(ctx context.Context, id string, status build.Status) error

	// ListGroupTasks returns the member tasks of a group in member order.
	ListGroupTasks(ctx context.Context, groupID string) ([]*build.Task, error)
}

// Store is the combined datastore collaborator.
type Store interface {
	Reader
	GroupStore

	// SaveBuildConfiguration upserts a configuration.
	SaveBuildConfiguration(ctx context.Context, c *build.Configuration) error

	// SaveBuildRecord upserts a build record.
	SaveBuildRecord(ctx context.Context, r *build.Record) error

	// Close releases any resources held by the store.
	Close() error
}
