package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/chaincraft/internal/gradio"
	"github.com/soyeahso/chaincraft/internal/logging"
)

// Request is one logical submission.
type Request struct {
	Endpoint string
	Args     []Arg
	// Timeout bounds each attempt's wait for the data event.
	Timeout time.Duration
	// Retries is how many times a timed-out attempt is retried on a fresh
	// session.
	Retries int
}

// JobClient submits requests over the ConnectionManager's session and
// retries on a new session when an attempt times out.
type JobClient struct {
	conns *ConnectionManager
	log   *logging.Logger
}

// NewJobClient creates a JobClient.
func NewJobClient(conns *ConnectionManager, log *logging.Logger) *JobClient {
	return &JobClient{conns: conns, log: log.Sub("jobs")}
}

// errDeadline marks an attempt whose deadline fired before any data event.
var errDeadline = errors.New("attempt deadline elapsed")

// Submit runs req to completion and returns the positional output of the
// first data event.
//
// A stream that ends without data fails immediately with
// StreamExhaustedError. A deadline triggers a reconnect and resubmission
// until req.Retries is spent, then TimeoutError.
func (c *JobClient) Submit(ctx context.Context, req Request) ([]json.RawMessage, error) {
	if req.Timeout <= 0 {
		return nil, fmt.Errorf("%s: timeout must be positive", req.Endpoint)
	}
	log := c.log.With("endpoint", req.Endpoint)

	sess, gen, err := c.conns.Current(ctx)
	if err != nil {
		return nil, err
	}

	for retries := 0; ; retries++ {
		started := time.Now()
		data, err := c.attempt(ctx, sess, req)
		if err == nil {
			log.Debug().
				Int("retries", retries).
				Uint64("generation", gen).
				Dur("elapsed", time.Since(started)).
				Msg("job completed")
			return data, nil
		}
		if !errors.Is(err, errDeadline) {
			return nil, err
		}

		if retries >= req.Retries {
			log.Warn().Int("attempts", retries+1).Dur("timeout", req.Timeout).Msg("job timed out, retries exhausted")
			return nil, &TimeoutError{Endpoint: req.Endpoint, Timeout: req.Timeout, Attempts: retries + 1}
		}

		log.Warn().
			Int("retry", retries+1).
			Uint64("generation", gen).
			Dur("timeout", req.Timeout).
			Msg("job timed out, reconnecting")

		sess, gen, err = c.conns.Reconnect(ctx, gen)
		if err != nil {
			return nil, fmt.Errorf("%s: reconnect: %w", req.Endpoint, err)
		}
	}
}

// attempt submits once and races the submission and then the event stream
// against the deadline. The deadline starts before Submit, so a backend that
// hangs while accepting the request times out like one that never answers.
// Whichever branch loses is cancelled before returning.
func (c *JobClient) attempt(ctx context.Context, sess Session, req Request) ([]json.RawMessage, error) {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	deadline := time.NewTimer(req.Timeout)
	defer deadline.Stop()

	type submitted struct {
		events <-chan gradio.Event
		err    error
	}
	opened := make(chan submitted, 1)
	go func() {
		events, err := sess.Submit(attemptCtx, req.Endpoint, req.Args)
		opened <- submitted{events, err}
	}()

	var events <-chan gradio.Event
	select {
	case s := <-opened:
		if s.err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%s: submit: %w", req.Endpoint, s.err)
		}
		events = s.events
	case <-deadline.C:
		return nil, errDeadline
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var lastError string
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil, &StreamExhaustedError{Endpoint: req.Endpoint, Message: lastError}
			}
			if ev.IsData() {
				deadline.Stop()
				return ev.Data, nil
			}
			if ev.Kind == gradio.EventError {
				lastError = ev.Message
			}

		case <-deadline.C:
			// Data that is already buffered wins over the deadline.
			if data, ok := drainData(events); ok {
				return data, nil
			}
			return nil, errDeadline

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// drainData consumes buffered events without blocking and returns the first
// data event's payload, if any.
func drainData(events <-chan gradio.Event) ([]json.RawMessage, bool) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil, false
			}
			if ev.IsData() {
				return ev.Data, true
			}
		default:
			return nil, false
		}
	}
}
