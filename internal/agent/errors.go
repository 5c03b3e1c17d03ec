package agent

import (
	"errors"
	"fmt"
	"time"
)

// ConnectionError means every attempt to open a session failed.
type ConnectionError struct {
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connecting to agent failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TimeoutError means no data event arrived before the deadline on the
// original session or any reconnected one.
type TimeoutError struct {
	Endpoint string
	Timeout  time.Duration
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: no result within %s after %d attempt(s)", e.Endpoint, e.Timeout, e.Attempts)
}

// StreamExhaustedError means the event stream ended before a data event.
type StreamExhaustedError struct {
	Endpoint string
	Message  string // remote error text, if the stream ended on an error event
}

func (e *StreamExhaustedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: no data received: %s", e.Endpoint, e.Message)
	}
	return fmt.Sprintf("%s: no data received", e.Endpoint)
}

// EmptyResultError means the agent answered but the answer has no usable
// content.
type EmptyResultError struct {
	Endpoint string
	Field    string
}

func (e *EmptyResultError) Error() string {
	return fmt.Sprintf("%s: empty %s in result", e.Endpoint, e.Field)
}

// ProtocolError means the result tuple does not have the expected shape.
type ProtocolError struct {
	Endpoint string
	Field    string
	Err      error
}

func (e *ProtocolError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: malformed result: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("%s: malformed result field %s: %v", e.Endpoint, e.Field, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsUnavailable reports whether err means the agent could not be reached or
// did not answer in time, as opposed to answering badly.
func IsUnavailable(err error) bool {
	var ce *ConnectionError
	var te *TimeoutError
	return errors.As(err, &ce) || errors.As(err, &te)
}
