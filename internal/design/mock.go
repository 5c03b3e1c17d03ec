package design

import (
	"context"
	"sync"

	"github.com/soyeahso/chaincraft/internal/agent"
	"github.com/soyeahso/chaincraft/internal/store"
)

// MockAgent is a test double for Agent. Without funcs it answers every
// design turn with a fixed result and every image request with a fixed URL.
type MockAgent struct {
	DesignFunc func(ctx context.Context, req agent.DesignRequest) (*agent.DesignResult, error)
	ImageFunc  func(ctx context.Context, spec string) (*agent.ImageResult, error)

	mu      sync.Mutex
	reqs    []agent.DesignRequest
	designs int
	images  int
}

func (m *MockAgent) SubmitDesign(ctx context.Context, req agent.DesignRequest) (*agent.DesignResult, error) {
	m.mu.Lock()
	m.designs++
	m.reqs = append(m.reqs, req)
	m.mu.Unlock()

	if m.DesignFunc != nil {
		return m.DesignFunc(ctx, req)
	}
	return &agent.DesignResult{
		Title:         "Title",
		Specification: "Spec text",
		Questions:     "Q1?",
		State:         store.State{"k": float64(1)},
	}, nil
}

func (m *MockAgent) GenerateImage(ctx context.Context, spec string) (*agent.ImageResult, error) {
	m.mu.Lock()
	m.images++
	m.mu.Unlock()

	if m.ImageFunc != nil {
		return m.ImageFunc(ctx, spec)
	}
	return &agent.ImageResult{Status: "ok", URL: "https://img.example/1.png"}, nil
}

// DesignCalls returns the number of SubmitDesign calls.
func (m *MockAgent) DesignCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.designs
}

// ImageCalls returns the number of GenerateImage calls.
func (m *MockAgent) ImageCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.images
}

// LastRequest returns the most recent design request.
func (m *MockAgent) LastRequest() agent.DesignRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.reqs) == 0 {
		return agent.DesignRequest{}
	}
	return m.reqs[len(m.reqs)-1]
}
