package remote

import "fmt"

// ConflictError reports that the correlation id is already bound to an active
// remote task. It is not a failure of the build; the caller decides whether
// the existing task is the owner of record. Never retried.
type ConflictError struct {
	CorrelationID string
	ConflictingID string // the clashing build id or configuration+revision pair from the 409 body
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("submission conflict for %s: already bound to %s", e.CorrelationID, e.ConflictingID)
}

// BadRequestError reports a malformed request (HTTP 400). Never retried.
type BadRequestError struct {
	Detail string
}

func (e *BadRequestError) Error() string {
	return fmt.Sprintf("remote scheduler rejected request: %s", e.Detail)
}

// NotFoundError reports that the remote service has no task for the
// correlation id (HTTP 404 on cancel/signal).
type NotFoundError struct {
	CorrelationID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no remote task for correlation id %s", e.CorrelationID)
}

// TransportError reports a network failure or 5xx response that survived all
// retry attempts. The owning build must be marked SYSTEM_ERROR.
type TransportError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("remote %s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
