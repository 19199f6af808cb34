package pipeline

// unknownSessionError signals an operation on a session id that does not
// exist (return 404).
type unknownSessionError struct{ id string }

func (e unknownSessionError) Error() string { return "unknown session: " + e.id }

// ErrUnknownSession constructs an unknownSessionError.
func ErrUnknownSession(id string) error { return unknownSessionError{id: id} }

// IsUnknownSession reports whether err references a session that is not registered.
func IsUnknownSession(err error) bool {
	_, ok := err.(unknownSessionError)
	return ok
}

// inactiveSessionError signals audio pushed into a session that is stopping
// or stopped (return 409).
type inactiveSessionError struct{ id string }

func (e inactiveSessionError) Error() string { return "session not active: " + e.id }

// ErrSessionInactive constructs an inactiveSessionError.
func ErrSessionInactive(id string) error { return inactiveSessionError{id: id} }

// IsSessionInactive reports whether err indicates a stopped session.
func IsSessionInactive(err error) bool {
	_, ok := err.(inactiveSessionError)
	return ok
}
