package processor

import "fmt"

// stepError classifies a pipeline failure: which conversation status it maps
// to, and whether the queue message should be redelivered. Terminal errors
// are configuration problems that redelivery cannot fix; the message is acked
// after a best-effort failure-status write. Retryable errors are nacked for
// the queue's redelivery/backoff up to the dead-letter threshold.
type stepError struct {
	status    string
	retryable bool
	err       error
}

func (e *stepError) Error() string {
	kind := "terminal"
	if e.retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("%s: %v", kind, e.err)
}

func (e *stepError) Unwrap() error { return e.err }

func terminal(status string, err error) *stepError {
	return &stepError{status: status, retryable: false, err: err}
}

func retryable(status string, err error) *stepError {
	return &stepError{status: status, retryable: true, err: err}
}
