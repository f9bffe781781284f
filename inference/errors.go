package inference

import (
	"errors"
	"fmt"
)

var (
	// ErrServiceSleeping marks a cold-start signal: 503/504 or a call that
	// ran past its timeout.
	ErrServiceSleeping = errors.New("service is sleeping")

	// ErrRetriesExhausted is returned once the wake-up retry budget is spent.
	ErrRetriesExhausted = errors.New("service did not wake up")

	ErrEmptyQuestion = errors.New("question is empty")
)

// RequestError is a definitive HTTP failure. It is never retried.
type RequestError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s request failed with status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("%s request failed with status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}
