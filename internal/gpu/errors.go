package gpu

// resourceExhaustedError signals that no device had a free task slot.
type resourceExhaustedError struct{ workload Workload }

func (e resourceExhaustedError) Error() string {
	return "no GPU slot available for workload: " + string(e.workload)
}

// ErrResourceExhausted constructs a resourceExhaustedError.
func ErrResourceExhausted(w Workload) error { return resourceExhaustedError{workload: w} }

// IsResourceExhausted reports whether err indicates slot exhaustion (return 429).
func IsResourceExhausted(err error) bool {
	_, ok := err.(resourceExhaustedError)
	return ok
}

// allOverloadedError signals every device is above the placement load ceiling.
type allOverloadedError struct{}

func (allOverloadedError) Error() string { return "all GPUs overloaded" }

// ErrAllOverloaded constructs an allOverloadedError.
func ErrAllOverloaded() error { return allOverloadedError{} }

// IsAllOverloaded reports whether err indicates every device was over the load ceiling.
func IsAllOverloaded(err error) bool {
	_, ok := err.(allOverloadedError)
	return ok
}
