package agent

import (
	"context"

	"github.com/soyeahso/chaincraft/internal/gradio"
	"github.com/soyeahso/chaincraft/internal/logging"
)

// Arg is a named argument of a remote operation. Arguments are sent
// positionally in the order given.
type Arg struct {
	Name  string
	Value any
}

// Session is a live handle to the remote agent service.
type Session interface {
	// Submit starts endpoint and returns its event stream. Cancelling ctx
	// must release the stream and close the channel.
	Submit(ctx context.Context, endpoint string, args []Arg) (<-chan gradio.Event, error)
	Close() error
}

// Dialer opens new sessions.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Session, error)

func (f DialerFunc) Dial(ctx context.Context) (Session, error) { return f(ctx) }

// GradioDialer connects to a Gradio app for every new session.
type GradioDialer struct {
	Space   string
	Options gradio.Options
	Log     *logging.Logger
}

func (d *GradioDialer) Dial(ctx context.Context) (Session, error) {
	c, err := gradio.Connect(ctx, d.Space, d.Options, d.Log)
	if err != nil {
		return nil, err
	}
	return &gradioSession{client: c}, nil
}

type gradioSession struct {
	client *gradio.Client
}

func (s *gradioSession) Submit(ctx context.Context, endpoint string, args []Arg) (<-chan gradio.Event, error) {
	data := make([]any, len(args))
	for i, a := range args {
		data[i] = a.Value
	}
	return s.client.Submit(ctx, endpoint, data)
}

func (s *gradioSession) Close() error { return s.client.Close() }
