package scheduler

type capacityExceededError struct{}

func (capacityExceededError) Error() string {
	return "admission ceiling reached, try again later"
}

// ErrCapacityExceeded constructs a capacityExceededError.
func ErrCapacityExceeded() error { return capacityExceededError{} }

// IsCapacityExceeded reports whether err is an admission-ceiling rejection.
// These are fail-fast and safe to retry immediately with backoff, unlike
// execution failures.
func IsCapacityExceeded(err error) bool {
	_, ok := err.(capacityExceededError)
	return ok
}

type validationError struct{ msg string }

func (e validationError) Error() string { return e.msg }

// ErrValidation constructs a validationError.
func ErrValidation(msg string) error { return validationError{msg: msg} }

// IsValidation reports whether err is a request-validation failure.
func IsValidation(err error) bool {
	_, ok := err.(validationError)
	return ok
}
