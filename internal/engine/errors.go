package engine

// upstreamError signals a collaborator engine reported failure or produced
// no output (return 502).
type upstreamError struct{ msg string }

func (e upstreamError) Error() string { return e.msg }

// ErrUpstreamFailure constructs an upstreamError.
func ErrUpstreamFailure(msg string) error { return upstreamError{msg: msg} }

// IsUpstreamFailure reports whether err came from a failed collaborator.
func IsUpstreamFailure(err error) bool {
	_, ok := err.(upstreamError)
	return ok
}

// timeoutError signals an external job exceeded its hard deadline (return 504).
type timeoutError struct{ msg string }

func (e timeoutError) Error() string { return e.msg }

// ErrTimeout constructs a timeoutError.
func ErrTimeout(msg string) error { return timeoutError{msg: msg} }

// IsTimeout reports whether err is a hard-deadline expiry.
func IsTimeout(err error) bool {
	_, ok := err.(timeoutError)
	return ok
}
