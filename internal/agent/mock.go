package agent

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soyeahso/chaincraft/internal/gradio"
)

// MockSession is a test double for Session.
type MockSession struct {
	SubmitFunc func(ctx context.Context, endpoint string, args []Arg) (<-chan gradio.Event, error)
	closed     atomic.Bool
}

func (m *MockSession) Submit(ctx context.Context, endpoint string, args []Arg) (<-chan gradio.Event, error) {
	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, endpoint, args)
	}
	return Events(DataEvent("Mock Game", "mock specification", "", "{}")), nil
}

func (m *MockSession) Close() error {
	m.closed.Store(true)
	return nil
}

// Closed reports whether Close was called.
func (m *MockSession) Closed() bool { return m.closed.Load() }

// MockDialer is a test double for Dialer that counts dials. DialFunc gets
// the 1-based dial number.
type MockDialer struct {
	DialFunc func(ctx context.Context, n int) (Session, error)

	mu    sync.Mutex
	calls int
}

func (d *MockDialer) Dial(ctx context.Context) (Session, error) {
	d.mu.Lock()
	d.calls++
	n := d.calls
	d.mu.Unlock()

	if d.DialFunc != nil {
		return d.DialFunc(ctx, n)
	}
	return &MockSession{}, nil
}

// Calls returns the number of Dial calls so far.
func (d *MockDialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// DataEvent builds a data event whose positional output is values.
func DataEvent(values ...any) gradio.Event {
	data := make([]json.RawMessage, len(values))
	for i, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			panic(err)
		}
		data[i] = b
	}
	return gradio.Event{Kind: gradio.EventData, Stage: "complete", Data: data}
}

// Events returns a closed channel holding events.
func Events(events ...gradio.Event) <-chan gradio.Event {
	ch := make(chan gradio.Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch
}

// Stall returns a stream that delivers events and then stays open without
// data until ctx is cancelled.
func Stall(ctx context.Context, events ...gradio.Event) <-chan gradio.Event {
	ch := make(chan gradio.Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch
}

// Delayed returns a stream that delivers events after d, unless ctx is
// cancelled first.
func Delayed(ctx context.Context, d time.Duration, events ...gradio.Event) <-chan gradio.Event {
	ch := make(chan gradio.Event, len(events))
	go func() {
		defer close(ch)
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return
		}
		for _, ev := range events {
			ch <- ev
		}
	}()
	return ch
}
