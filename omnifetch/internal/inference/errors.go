package inference

import "fmt"

// BackendError is a transport or backend-side failure of one inference
// call, including its timeout.
type BackendError struct {
	Backend string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("inference: %s backend: %v", e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// ParseError means the backend answered, but not with a usable selector
// map. Raw holds the model output verbatim.
type ParseError struct {
	Raw    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("inference: unusable model output: %s", e.Reason)
}
