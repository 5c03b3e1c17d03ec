package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/soyeahso/chaincraft/internal/design"
	"github.com/soyeahso/chaincraft/internal/store"
)

// TurnRequest is the body of POST /v1/conversations/{id}/turns. Start
// begins a fresh conversation instead of continuing one.
type TurnRequest struct {
	Message string `json:"message"`
	Start   bool   `json:"start,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorShape{Code: code, Message: message})
}

// handleHealth is public and only reports liveness. Details are available
// through the authenticated health RPC.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "not found",
		"path":  r.URL.Path,
	})
}

// conversationID reads and validates the {id} URL param.
func (s *Server) conversationID(w http.ResponseWriter, r *http.Request) (string, bool) {
	if s.designs == nil {
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "no design agent configured")
		return "", false
	}
	id := chi.URLParam(r, "id")
	if err := store.ValidateID(id); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidID, err.Error())
		return "", false
	}
	return id, true
}

func (s *Server) writeReply(w http.ResponseWriter, reply *design.Reply, err error) {
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		writeJSON(w, status, replyError(reply, err))
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) restTurn(w http.ResponseWriter, r *http.Request) {
	id, ok := s.conversationID(w, r)
	if !ok {
		return
	}
	var req TurnRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPayloadBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidBody, err.Error())
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidBody, "message is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), designCallTimeout)
	defer cancel()

	var (
		reply *design.Reply
		err   error
	)
	if req.Start {
		reply, err = s.designs.StartDesign(ctx, id, req.Message)
	} else {
		reply, err = s.designs.HandleTurn(ctx, id, req.Message)
	}
	s.writeReply(w, reply, err)
}

func (s *Server) restApprove(w http.ResponseWriter, r *http.Request) {
	id, ok := s.conversationID(w, r)
	if !ok {
		return
	}
	reply, err := s.designs.HandleApproval(r.Context(), id)
	s.writeReply(w, reply, err)
}

func (s *Server) restImage(w http.ResponseWriter, r *http.Request) {
	id, ok := s.conversationID(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), designCallTimeout)
	defer cancel()
	reply, err := s.designs.GenerateImage(ctx, id)
	s.writeReply(w, reply, err)
}

func (s *Server) restDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := s.conversationID(w, r)
	if !ok {
		return
	}
	s.designs.HandleTeardown(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) restGetConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := s.conversationID(w, r)
	if !ok {
		return
	}
	st, err := s.designs.Snapshot(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeStateError, err.Error())
		return
	}
	if st.Empty() {
		writeError(w, http.StatusNotFound, CodeNotFound, "no conversation "+id)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse(id, st))
}
