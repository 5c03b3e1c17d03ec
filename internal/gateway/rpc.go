package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/soyeahso/chaincraft/internal/design"
	"github.com/soyeahso/chaincraft/internal/publish"
	"github.com/soyeahso/chaincraft/internal/store"
	"github.com/soyeahso/chaincraft/internal/version"
)

// RequestHandler processes one RPC request.
type RequestHandler func(rc *RequestContext)

// RequestContext carries everything a handler needs.
type RequestContext struct {
	Client *Client
	Frame  Frame
	Server *Server
}

// Respond sends a success response.
func (rc *RequestContext) Respond(payload any) {
	if err := rc.Client.Respond(rc.Frame.ID, payload); err != nil {
		rc.Server.log.Warn().Err(err).Str("method", rc.Frame.Method).Msg("failed to send response")
	}
}

// RespondError sends an error response.
func (rc *RequestContext) RespondError(code, message string) {
	rc.RespondErrorShape(ErrorShape{Code: code, Message: message})
}

// RespondErrorShape sends a fully specified error response.
func (rc *RequestContext) RespondErrorShape(e ErrorShape) {
	if err := rc.Client.RespondError(rc.Frame.ID, e); err != nil {
		rc.Server.log.Warn().Err(err).Str("method", rc.Frame.Method).Msg("failed to send error response")
	}
}

// Params decodes the request params into target. Missing params leave
// target untouched.
func (rc *RequestContext) Params(target any) error {
	if len(rc.Frame.Params) == 0 || string(rc.Frame.Params) == "null" {
		return nil
	}
	return json.Unmarshal(rc.Frame.Params, target)
}

func (s *Server) registerRPCHandlers() {
	s.Handle(MethodHealth, s.rpcHealth)
	s.Handle(MethodAgentStatus, s.rpcAgentStatus)
	s.Handle(MethodDesignStart, s.designCall(func(ctx context.Context, d Designs, id, msg string) (*design.Reply, error) {
		return d.StartDesign(ctx, id, msg)
	}, true))
	s.Handle(MethodDesignTurn, s.designCall(func(ctx context.Context, d Designs, id, msg string) (*design.Reply, error) {
		return d.HandleTurn(ctx, id, msg)
	}, true))
	s.Handle(MethodDesignApprove, s.designCall(func(ctx context.Context, d Designs, id, _ string) (*design.Reply, error) {
		return d.HandleApproval(ctx, id)
	}, false))
	s.Handle(MethodDesignImage, s.designCall(func(ctx context.Context, d Designs, id, _ string) (*design.Reply, error) {
		return d.GenerateImage(ctx, id)
	}, false))
	s.Handle(MethodDesignTeardown, s.rpcTeardown)
	s.Handle(MethodDesignState, s.rpcState)
	s.Handle(MethodDesignPublish, s.rpcPublish)
}

func (s *Server) rpcHealth(rc *RequestContext) {
	s.mu.RLock()
	started := s.startedAt
	s.mu.RUnlock()

	resp := HealthResponse{
		Status:  "ok",
		Version: version.Version,
		Clients: s.clients.Count(),
	}
	if !started.IsZero() {
		resp.UptimeMs = time.Since(started).Milliseconds()
	}
	if s.channels != nil {
		resp.Channels = s.channels.Status()
	}
	rc.Respond(resp)
}

func (s *Server) rpcAgentStatus(rc *RequestContext) {
	if s.agentStatus == nil {
		rc.RespondError(CodeUnavailable, "no agent configured")
		return
	}
	rc.Respond(s.agentStatus())
}

// conversation decodes DesignParams and resolves the conversation id.
func (s *Server) conversation(rc *RequestContext) (DesignParams, bool) {
	if s.designs == nil {
		rc.RespondError(CodeUnavailable, "no design agent configured")
		return DesignParams{}, false
	}
	var p DesignParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return p, false
	}
	if p.ConversationID == "" {
		p.ConversationID = rc.Client.ConversationID()
	}
	if err := store.ValidateID(p.ConversationID); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return p, false
	}
	return p, true
}

type designFunc func(ctx context.Context, d Designs, id, message string) (*design.Reply, error)

func (s *Server) designCall(fn designFunc, needsMessage bool) RequestHandler {
	return func(rc *RequestContext) {
		p, ok := s.conversation(rc)
		if !ok {
			return
		}
		if needsMessage && p.Message == "" {
			rc.RespondError(CodeInvalidParams, "message is required")
			return
		}

		ctx, cancel := context.WithTimeout(s.baseContext(), designCallTimeout)
		defer cancel()

		reply, err := fn(ctx, s.designs, p.ConversationID, p.Message)
		if err != nil {
			rc.RespondErrorShape(replyError(reply, err))
			return
		}
		rc.Respond(reply)
	}
}

// replyError maps a failed operation onto the wire. The reply rides along
// as details so clients can render the notice.
func replyError(reply *design.Reply, err error) ErrorShape {
	e := ErrorShape{Code: CodeDesignFailed, Message: design.NoticeFailed, Details: reply}
	if reply != nil {
		e.Retryable = reply.Reason == design.ReasonUnavailable
		if reply.Reason != "" {
			e.Code = "design_" + reply.Reason
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		e.Retryable = true
	}
	return e
}

func (s *Server) rpcTeardown(rc *RequestContext) {
	p, ok := s.conversation(rc)
	if !ok {
		return
	}
	s.designs.HandleTeardown(s.baseContext(), p.ConversationID)
	rc.Respond(map[string]any{"conversationId": p.ConversationID, "ended": true})
}

func (s *Server) rpcState(rc *RequestContext) {
	p, ok := s.conversation(rc)
	if !ok {
		return
	}
	st, err := s.designs.Snapshot(s.baseContext(), p.ConversationID)
	if err != nil {
		rc.RespondError(CodeStateError, err.Error())
		return
	}
	rc.Respond(stateResponse(p.ConversationID, st))
}

func (s *Server) rpcPublish(rc *RequestContext) {
	p, ok := s.conversation(rc)
	if !ok {
		return
	}
	if s.publisher == nil {
		rc.RespondError(CodeUnavailable, "publishing is not configured")
		return
	}

	ctx, cancel := context.WithTimeout(s.baseContext(), designCallTimeout)
	defer cancel()

	st, err := s.designs.Snapshot(ctx, p.ConversationID)
	if err != nil {
		rc.RespondError(CodeStateError, err.Error())
		return
	}
	res, err := s.publisher.Share(ctx, p.ConversationID, st)
	switch {
	case errors.Is(err, publish.ErrNothingToShare):
		rc.RespondError(CodeNotFound, "there is no game design to share")
	case err != nil:
		rc.RespondErrorShape(ErrorShape{Code: CodePublishFailed, Message: err.Error(), Details: res})
	default:
		rc.Respond(res)
	}
}

func stateResponse(id string, st store.State) StateResponse {
	if st == nil {
		st = store.State{}
	}
	return StateResponse{
		ConversationID: id,
		Active:         !st.Empty() && !st.Approved(),
		State:          st,
	}
}
