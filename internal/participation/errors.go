package participation

import "errors"

// Lifecycle errors. Each maps to a distinct business-rule violation so the
// API layer can tell callers why an operation was refused.
var (
	// ErrNotFound means the event or attendance record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition means the operation is not legal from the
	// record's current state.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrAlreadyRegistered means a record already exists for this
	// (event, user) pair.
	ErrAlreadyRegistered = errors.New("already registered")
	// ErrAlreadyProcessed means a concurrent approval won the race; the
	// record was already decided. A conflict, not a failure.
	ErrAlreadyProcessed = errors.New("already processed")
	// ErrEventNotOpen means the event's status forbids new registrations.
	ErrEventNotOpen = errors.New("event not open for registration")
	// ErrStoreUnavailable means the record store could not be reached.
	ErrStoreUnavailable = errors.New("record store unavailable")
)
