package errors

// Convenience constructors for the categories used throughout the coordinator.

// ValidationError creates a non-retryable validation error.
func ValidationError(message string) *CoordError {
	return New(CategoryValidation, SeverityError, message)
}

// ConflictError creates a non-retryable conflict error (duplicate submission).
func ConflictError(message string) *CoordError {
	return New(CategoryConflict, SeverityWarning, message)
}

// NetworkError creates a retryable network/transport error.
func NetworkError(message string) *CoordError {
	return Retryable(CategoryNetwork, SeverityError, message)
}

// StoreError wraps a datastore failure.
func StoreError(err error, message string) *CoordError {
	return Wrap(err, CategoryStore, SeverityError, message)
}

// StateError creates a fatal inconsistent-state error (illegal transition).
// The offending update must be dropped, never retried.
func StateError(message string) *CoordError {
	return New(CategoryState, SeverityFatal, message)
}
