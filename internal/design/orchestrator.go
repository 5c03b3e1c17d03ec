// Package design sequences design conversations: it loads conversation
// state, runs turns against the remote design agent, persists the agent's
// continuation state and decides when a conversation ends.
package design

import (
	"context"
	"fmt"
	"sync"

	"github.com/soyeahso/chaincraft/internal/agent"
	"github.com/soyeahso/chaincraft/internal/hooks"
	"github.com/soyeahso/chaincraft/internal/logging"
	"github.com/soyeahso/chaincraft/internal/store"
)

// Agent is the remote design agent.
type Agent interface {
	SubmitDesign(ctx context.Context, req agent.DesignRequest) (*agent.DesignResult, error)
	GenerateImage(ctx context.Context, specification string) (*agent.ImageResult, error)
}

// Orchestrator runs conversation operations. Operations on the same
// conversation id are serialized; different ids run concurrently.
type Orchestrator struct {
	store store.StateStore
	agent Agent
	hooks *hooks.Manager
	log   *logging.Logger
	locks *keyedMutex

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup
}

// New creates an Orchestrator. hooks may be nil.
func New(st store.StateStore, ag Agent, hk *hooks.Manager, log *logging.Logger) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:    st,
		agent:    ag,
		hooks:    hk,
		log:      log.Sub("design"),
		locks:    newKeyedMutex(),
		bgCtx:    ctx,
		bgCancel: cancel,
	}
}

// Close cancels background image generation and waits for it to stop.
func (o *Orchestrator) Close() {
	o.bgCancel()
	o.bg.Wait()
}

// HandleTurn runs one user turn. An approved conversation is cleaned up and
// reported as ended without contacting the agent. On failure the returned
// Reply carries a user-facing notice and the error carries the cause.
func (o *Orchestrator) HandleTurn(ctx context.Context, id, text string) (*Reply, error) {
	unlock := o.locks.Lock(id)
	defer unlock()

	log := o.log.With("conversation", id)

	st, err := o.store.Get(ctx, id)
	if err != nil {
		return o.fail(id, fmt.Errorf("loading state: %w", err))
	}

	if st.Approved() {
		if err := o.store.Remove(ctx, id); err != nil {
			return o.fail(id, fmt.Errorf("removing approved state: %w", err))
		}
		log.Info().Msg("turn on ended conversation")
		return &Reply{ConversationID: id, Ended: true, Notices: []string{NoticeEnded}}, nil
	}

	reply, err := o.submit(ctx, id, text, st)
	if err != nil {
		return o.fail(id, err)
	}

	o.hooks.EmitAsync(o.bgCtx, hooks.EventTurnCompleted, map[string]any{
		"conversationId": id,
		"title":          reply.Title,
	})
	return reply, nil
}

// StartDesign begins a new conversation from a description. Any previous
// state for id is discarded. An illustration is requested in the background
// and merged into the state when it arrives.
func (o *Orchestrator) StartDesign(ctx context.Context, id, description string) (*Reply, error) {
	unlock := o.locks.Lock(id)
	defer unlock()

	prev, err := o.store.Get(ctx, id)
	if err != nil {
		return o.fail(id, fmt.Errorf("loading state: %w", err))
	}
	if !prev.Empty() {
		o.log.Info().Str("conversation", id).Msg("restarting conversation")
	}

	reply, err := o.submit(ctx, id, description, store.State{})
	if err != nil {
		return o.fail(id, err)
	}

	o.hooks.EmitAsync(o.bgCtx, hooks.EventDesignStarted, map[string]any{
		"conversationId": id,
		"title":          reply.Title,
	})
	o.illustrate(id, reply.Specification)
	return reply, nil
}

// submit runs a design turn on st and persists the continuation state.
// The caller holds the conversation lock.
func (o *Orchestrator) submit(ctx context.Context, id, text string, st store.State) (*Reply, error) {
	res, err := o.agent.SubmitDesign(ctx, agent.DesignRequest{
		Message:  text,
		Approved: false,
		State:    st,
	})
	if err != nil {
		return nil, err
	}

	if err := o.store.Set(ctx, id, res.State); err != nil {
		return nil, fmt.Errorf("saving state: %w", err)
	}

	o.log.Info().
		Str("conversation", id).
		Str("title", res.Title).
		Msg("turn completed")

	return &Reply{
		ConversationID: id,
		Title:          res.Title,
		Specification:  res.Specification,
		Questions:      res.Questions,
		ImageURL:       res.State.Str(store.KeyImageURL),
	}, nil
}

// HandleApproval ends the conversation. There is no way back.
func (o *Orchestrator) HandleApproval(ctx context.Context, id string) (*Reply, error) {
	unlock := o.locks.Lock(id)
	defer unlock()

	if err := o.store.Remove(ctx, id); err != nil {
		return o.fail(id, fmt.Errorf("removing state: %w", err))
	}

	o.log.Info().Str("conversation", id).Msg("design approved")
	o.hooks.EmitAsync(o.bgCtx, hooks.EventDesignApproved, map[string]any{"conversationId": id})
	return &Reply{
		ConversationID: id,
		Ended:          true,
		Notices:        []string{NoticeApproved, NoticeEnded},
	}, nil
}

// HandleTeardown discards state after the conversation's thread went away.
// Failures are only logged.
func (o *Orchestrator) HandleTeardown(ctx context.Context, id string) {
	unlock := o.locks.Lock(id)
	defer unlock()

	if err := o.store.Remove(ctx, id); err != nil {
		o.log.Error().Err(err).Str("conversation", id).Msg("teardown cleanup failed")
		return
	}
	o.log.Debug().Str("conversation", id).Msg("conversation torn down")
	o.hooks.EmitAsync(o.bgCtx, hooks.EventConversationClosed, map[string]any{"conversationId": id})
}

// GenerateImage illustrates the conversation's current specification and
// stores the image URL.
func (o *Orchestrator) GenerateImage(ctx context.Context, id string) (*Reply, error) {
	st, err := o.Snapshot(ctx, id)
	if err != nil {
		return o.fail(id, err)
	}
	if st.Empty() || st.Approved() {
		return &Reply{ConversationID: id, Notices: []string{NoticeInactive}}, nil
	}
	spec := st.Str(store.KeySpecification)
	if agent.Blank(spec) {
		return &Reply{ConversationID: id, Notices: []string{NoticeNoImage}}, nil
	}

	img, err := o.agent.GenerateImage(ctx, spec)
	if err != nil {
		return o.fail(id, err)
	}
	if err := o.mergeImage(ctx, id, img.URL); err != nil {
		return o.fail(id, err)
	}
	return &Reply{
		ConversationID: id,
		Title:          st.Str(store.KeyTitle),
		ImageURL:       img.URL,
	}, nil
}

// IsActive reports whether id has a conversation that still accepts turns.
func (o *Orchestrator) IsActive(ctx context.Context, id string) (bool, error) {
	st, err := o.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return !st.Empty() && !st.Approved(), nil
}

// Snapshot returns the stored state for id.
func (o *Orchestrator) Snapshot(ctx context.Context, id string) (store.State, error) {
	unlock := o.locks.Lock(id)
	defer unlock()
	return o.store.Get(ctx, id)
}

// illustrate requests an image for spec without blocking the caller.
func (o *Orchestrator) illustrate(id, spec string) {
	if agent.Blank(spec) {
		return
	}
	o.bg.Add(1)
	go func() {
		defer o.bg.Done()

		img, err := o.agent.GenerateImage(o.bgCtx, spec)
		if err != nil {
			o.log.Warn().Err(err).Str("conversation", id).Msg("background image generation failed")
			return
		}
		if err := o.mergeImage(o.bgCtx, id, img.URL); err != nil {
			o.log.Warn().Err(err).Str("conversation", id).Msg("storing image failed")
		}
	}()
}

// mergeImage records url in the state of id, unless the conversation ended
// in the meantime.
func (o *Orchestrator) mergeImage(ctx context.Context, id, url string) error {
	unlock := o.locks.Lock(id)
	defer unlock()

	st, err := o.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	if st.Empty() || st.Approved() {
		o.log.Debug().Str("conversation", id).Msg("conversation ended before image arrived")
		return nil
	}

	st[store.KeyImageURL] = url
	if err := o.store.Set(ctx, id, st); err != nil {
		return fmt.Errorf("saving state: %w", err)
	}

	o.log.Info().Str("conversation", id).Str("url", url).Msg("image ready")
	o.hooks.EmitAsync(o.bgCtx, hooks.EventImageReady, map[string]any{
		"conversationId": id,
		"title":          st.Str(store.KeyTitle),
		"imageUrl":       url,
	})
	return nil
}

func (o *Orchestrator) fail(id string, err error) (*Reply, error) {
	reply := failureReply(id, err)
	o.log.Error().
		Err(err).
		Str("conversation", id).
		Str("reason", reply.Reason).
		Msg("conversation operation failed")
	o.hooks.EmitAsync(o.bgCtx, hooks.EventTurnFailed, map[string]any{
		"conversationId": id,
		"reason":         reply.Reason,
		"error":          err.Error(),
	})
	return reply, err
}
