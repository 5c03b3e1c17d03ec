package gateway

import (
	"encoding/json"
	"errors"

	"github.com/soyeahso/chaincraft/internal/store"
)

// Wire protocol for /ws. Every message is a JSON Frame; the server opens
// with a connect.challenge event, the client answers with a connect
// request, and after hello-ok the client issues design.* requests and
// receives design.image events as background images finish.

const ProtocolVersion = 1

const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// RPC methods.
const (
	MethodConnect        = "connect"
	MethodHealth         = "health"
	MethodAgentStatus    = "agent.status"
	MethodDesignStart    = "design.start"
	MethodDesignTurn     = "design.turn"
	MethodDesignApprove  = "design.approve"
	MethodDesignImage    = "design.image"
	MethodDesignTeardown = "design.teardown"
	MethodDesignState    = "design.state"
	MethodDesignPublish  = "design.publish"
)

// Events pushed to clients.
const (
	EventChallenge   = "connect.challenge"
	EventDesignImage = "design.image"
)

// Error codes carried in ErrorShape.Code. Failed design operations use
// "design_" followed by the failure reason, e.g. "design_unavailable".
const (
	CodeProtocol       = "protocol_error"
	CodeUnauthorized   = "unauthorized"
	CodeInvalidParams  = "invalid_params"
	CodeInvalidID      = "invalid_id"
	CodeInvalidBody    = "invalid_body"
	CodeMethodNotFound = "method_not_found"
	CodeInternal       = "internal_error"
	CodeUnavailable    = "unavailable"
	CodeStateError     = "state_error"
	CodeNotFound       = "not_found"
	CodeDesignFailed   = "design_failed"
	CodePublishFailed  = "publish_failed"
)

type Frame struct {
	Type string `json:"type"`

	// req
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`

	// res
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorShape     `json:"error,omitempty"`

	// event
	Event string `json:"event,omitempty"`
	Seq   int64  `json:"seq,omitempty"`
}

var (
	errMissingID     = errors.New("request frame has no id")
	errMissingMethod = errors.New("request frame has no method")
)

// checkRequest reports what a request frame is missing.
func (f Frame) checkRequest() error {
	switch {
	case f.ID == "":
		return errMissingID
	case f.Method == "":
		return errMissingMethod
	}
	return nil
}

// ErrorShape is the body of a failed response, on the socket and over REST.
type ErrorShape struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// Challenge is the payload of the connect.challenge event.
type Challenge struct {
	Nonce string `json:"nonce"`
	TS    int64  `json:"ts"`
}

type ConnectParams struct {
	MinProtocol int          `json:"minProtocol"`
	MaxProtocol int          `json:"maxProtocol"`
	Client      ClientInfo   `json:"client"`
	Auth        *ConnectAuth `json:"auth,omitempty"`
}

func (p ConnectParams) supports(version int) bool {
	return p.MinProtocol <= version && version <= p.MaxProtocol
}

// ClientInfo identifies the connecting client. ID also becomes the user
// part of the client's default conversation id.
type ClientInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	Version     string `json:"version"`
	Platform    string `json:"platform,omitempty"`
}

type ConnectAuth struct {
	Token    string `json:"token,omitempty"`
	Password string `json:"password,omitempty"`
}

// HelloOK answers a successful connect.
type HelloOK struct {
	Protocol int          `json:"protocol"`
	Server   ServerInfo   `json:"server"`
	Features Features     `json:"features"`
	Policy   ServerPolicy `json:"policy"`
}

type ServerInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	ConnID  string `json:"connId"`
}

type Features struct {
	Methods []string `json:"methods"`
	Events  []string `json:"events"`
}

type ServerPolicy struct {
	MaxPayload int `json:"maxPayload"`
}

// DesignParams are the params of every design.* method. An empty
// ConversationID selects the connection's default conversation.
type DesignParams struct {
	ConversationID string `json:"conversationId,omitempty"`
	Message        string `json:"message,omitempty"`
}

// StateResponse is the payload of design.state.
type StateResponse struct {
	ConversationID string      `json:"conversationId"`
	Active         bool        `json:"active"`
	State          store.State `json:"state"`
}

// HealthResponse is returned by health endpoints. The public HTTP endpoint
// only fills Status.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version,omitempty"`
	Clients  int    `json:"clients,omitempty"`
	UptimeMs int64  `json:"uptimeMs,omitempty"`
	Channels any    `json:"channels,omitempty"`
}

func NewRequest(id, method string, params any) (Frame, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameTypeRequest, ID: id, Method: method, Params: raw}, nil
}

func NewResponse(id string, payload any) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	ok := true
	return Frame{Type: FrameTypeResponse, ID: id, OK: &ok, Payload: raw}, nil
}

func NewErrorResponse(id string, e ErrorShape) Frame {
	ok := false
	return Frame{Type: FrameTypeResponse, ID: id, OK: &ok, Error: &e}
}

func NewEvent(event string, payload any, seq int64) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameTypeEvent, Event: event, Payload: raw, Seq: seq}, nil
}
