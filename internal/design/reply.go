package design

import (
	"errors"
	"strings"

	"github.com/soyeahso/chaincraft/internal/agent"
)

// User-facing notices.
const (
	NoticeEnded    = "The game design has been approved and the conversation has ended."
	NoticeApproved = "Approved!"
	NoticeFailed   = "Sorry, there was an error processing your request. Please try again later."
	NoticeNoImage  = "There is no specification to illustrate yet."
	NoticeInactive = "There is no active game design in this conversation."
)

// Failure reasons carried on a Reply.
const (
	ReasonUnavailable = "unavailable"
	ReasonEmpty       = "empty"
	ReasonProtocol    = "protocol"
	ReasonError       = "error"
)

// Reply is what a front-end renders after an operation.
type Reply struct {
	ConversationID string   `json:"conversationId"`
	Title          string   `json:"title,omitempty"`
	Specification  string   `json:"specification,omitempty"`
	Questions      string   `json:"questions,omitempty"`
	ImageURL       string   `json:"imageUrl,omitempty"`
	Ended          bool     `json:"ended,omitempty"`
	Failed         bool     `json:"failed,omitempty"`
	Reason         string   `json:"reason,omitempty"`
	Notices        []string `json:"notices,omitempty"`
}

// Lines renders the reply as plain text lines.
func (r *Reply) Lines() []string {
	var lines []string
	if r.Title != "" {
		lines = append(lines, r.Title)
	}
	if r.Specification != "" {
		lines = append(lines, strings.Split(strings.TrimSpace(r.Specification), "\n")...)
	}
	if q := strings.TrimSpace(r.Questions); q != "" {
		lines = append(lines, strings.Split(q, "\n")...)
	}
	if r.ImageURL != "" {
		lines = append(lines, "Image: "+r.ImageURL)
	}
	return append(lines, r.Notices...)
}

// Text renders the reply as a single newline-joined string.
func (r *Reply) Text() string {
	return strings.Join(r.Lines(), "\n")
}

func failureReply(id string, err error) *Reply {
	return &Reply{
		ConversationID: id,
		Failed:         true,
		Reason:         reason(err),
		Notices:        []string{NoticeFailed},
	}
}

func reason(err error) string {
	var ee *agent.EmptyResultError
	var pe *agent.ProtocolError
	switch {
	case agent.IsUnavailable(err):
		return ReasonUnavailable
	case errors.As(err, &ee):
		return ReasonEmpty
	case errors.As(err, &pe):
		return ReasonProtocol
	default:
		return ReasonError
	}
}
