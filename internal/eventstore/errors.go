package eventstore

import (
	"git.home.luguber.info/inful/buildcoord/internal/errors"
)

var (
	// ErrDatabaseOpenFailed indicates the SQLite journal could not be opened.
	ErrDatabaseOpenFailed = errors.New(errors.CategoryStore, errors.SeverityFatal, "could not open event journal database")

	// ErrInitializeSchemaFailed indicates the journal schema could not be initialized.
	ErrInitializeSchemaFailed = errors.New(errors.CategoryStore, errors.SeverityFatal, "failed to initialize event journal schema")

	// ErrEventAppendFailed indicates appending an event failed.
	ErrEventAppendFailed = errors.New(errors.CategoryStore, errors.SeverityError, "failed to append event to journal")

	// ErrEventQueryFailed indicates querying events failed.
	ErrEventQueryFailed = errors.New(errors.CategoryStore, errors.SeverityError, "failed to query events from journal")

	// ErrMarshalPayloadFailed indicates JSON marshaling of an event payload failed.
	ErrMarshalPayloadFailed = errors.New(errors.CategoryInternal, errors.SeverityError, "failed to marshal event payload")
)
