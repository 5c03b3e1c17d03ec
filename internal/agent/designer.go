package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/soyeahso/chaincraft/internal/logging"
	"github.com/soyeahso/chaincraft/internal/store"
)

// Operation binds a remote endpoint to its deadline and retry budget.
type Operation struct {
	Endpoint string
	Timeout  time.Duration
	Retries  int
}

// DesignRequest is the input of one design turn.
type DesignRequest struct {
	Message  string
	Approved bool
	State    store.State
}

// Designer exposes the design agent's operations with typed results.
type Designer struct {
	jobs   *JobClient
	design Operation
	image  Operation
	log    *logging.Logger
}

// NewDesigner creates a Designer over jobs.
func NewDesigner(jobs *JobClient, design, image Operation, log *logging.Logger) *Designer {
	return &Designer{jobs: jobs, design: design, image: image, log: log.Sub("designer")}
}

// SubmitDesign sends one design turn. A reply without a specification is an
// EmptyResultError and is not retried.
func (d *Designer) SubmitDesign(ctx context.Context, req DesignRequest) (*DesignResult, error) {
	current, err := req.State.Encode()
	if err != nil {
		return nil, err
	}

	data, err := d.jobs.Submit(ctx, Request{
		Endpoint: d.design.Endpoint,
		Timeout:  d.design.Timeout,
		Retries:  d.design.Retries,
		Args: []Arg{
			{Name: "user_message", Value: req.Message},
			{Name: "approved", Value: req.Approved},
			{Name: "current_state", Value: current},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("design turn: %w", err)
	}

	res, err := DecodeDesignResult(d.design.Endpoint, data)
	if err != nil {
		return nil, fmt.Errorf("design turn: %w", err)
	}
	if Blank(res.Specification) {
		return nil, fmt.Errorf("design turn: %w", &EmptyResultError{Endpoint: d.design.Endpoint, Field: "specification"})
	}

	d.log.Debug().
		Str("title", res.Title).
		Int("spec_len", len(res.Specification)).
		Int("state_keys", len(res.State)).
		Msg("design turn decoded")
	return res, nil
}

// GenerateImage asks the agent to illustrate a specification.
func (d *Designer) GenerateImage(ctx context.Context, specification string) (*ImageResult, error) {
	data, err := d.jobs.Submit(ctx, Request{
		Endpoint: d.image.Endpoint,
		Timeout:  d.image.Timeout,
		Retries:  d.image.Retries,
		Args:     []Arg{{Name: "specification", Value: specification}},
	})
	if err != nil {
		return nil, fmt.Errorf("image generation: %w", err)
	}

	res, err := DecodeImageResult(d.image.Endpoint, data)
	if err != nil {
		return nil, fmt.Errorf("image generation: %w", err)
	}
	if Blank(res.URL) {
		return nil, fmt.Errorf("image generation: %w", &EmptyResultError{Endpoint: d.image.Endpoint, Field: "image url"})
	}
	return res, nil
}
