// Package gateway serves the bot's HTTP surface: a WebSocket RPC endpoint
// and REST routes that drive design conversations.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/soyeahso/chaincraft/internal/channel"
	"github.com/soyeahso/chaincraft/internal/config"
	"github.com/soyeahso/chaincraft/internal/design"
	"github.com/soyeahso/chaincraft/internal/hooks"
	"github.com/soyeahso/chaincraft/internal/logging"
	"github.com/soyeahso/chaincraft/internal/publish"
	"github.com/soyeahso/chaincraft/internal/store"
	"github.com/soyeahso/chaincraft/internal/version"
)

const (
	maxPayloadBytes   = 1 << 20
	handshakeTimeout  = 10 * time.Second
	designCallTimeout = 3 * time.Minute
)

// Designs is the orchestrator surface the gateway drives.
type Designs interface {
	StartDesign(ctx context.Context, id, description string) (*design.Reply, error)
	HandleTurn(ctx context.Context, id, text string) (*design.Reply, error)
	HandleApproval(ctx context.Context, id string) (*design.Reply, error)
	HandleTeardown(ctx context.Context, id string)
	GenerateImage(ctx context.Context, id string) (*design.Reply, error)
	IsActive(ctx context.Context, id string) (bool, error)
	Snapshot(ctx context.Context, id string) (store.State, error)
}

// AgentStatus describes the remote agent connection.
type AgentStatus struct {
	Space      string `json:"space"`
	Transport  string `json:"transport"`
	Connected  bool   `json:"connected"`
	Generation uint64 `json:"generation"`
	Dials      int    `json:"dials"`
}

// Server is the gateway HTTP + WebSocket server.
type Server struct {
	cfg      config.GatewayConfig
	auth     ResolvedAuth
	log      *logging.Logger
	clients  *ClientRegistry
	handlers map[string]RequestHandler
	eventSeq atomic.Int64
	inflight conc.WaitGroup

	designs     Designs
	publisher   *publish.Publisher
	agentStatus func() AgentStatus
	channels    *channel.Registry
	hooks       *hooks.Manager

	mu         sync.RWMutex
	baseCtx    context.Context
	startedAt  time.Time
	httpServer *http.Server
	addr       string

	upgrader websocket.Upgrader
	limiter  *failureLimiter
}

// ServerOption configures the gateway server.
type ServerOption func(*Server)

// WithDesigns sets the orchestrator that serves design.* calls.
func WithDesigns(d Designs) ServerOption {
	return func(s *Server) { s.designs = d }
}

// WithPublisher enables design.publish.
func WithPublisher(p *publish.Publisher) ServerOption {
	return func(s *Server) { s.publisher = p }
}

// WithAgentStatus sets the source for agent.status.
func WithAgentStatus(fn func() AgentStatus) ServerOption {
	return func(s *Server) { s.agentStatus = fn }
}

// WithChannels reports chat channel status in health.
func WithChannels(ch *channel.Registry) ServerOption {
	return func(s *Server) { s.channels = ch }
}

// WithHooks emits lifecycle events and relays background images to clients.
func WithHooks(hm *hooks.Manager) ServerOption {
	return func(s *Server) { s.hooks = hm }
}

// New creates a gateway server.
func New(cfg config.GatewayConfig, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:      cfg,
		auth:     ResolveAuth(cfg.Auth),
		log:      log.Sub("gateway"),
		clients:  NewClientRegistry(log.Sub("clients")),
		handlers: make(map[string]RequestHandler),
		baseCtx:  context.Background(),
		limiter:  newFailureLimiter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     sameOrigin,
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerRPCHandlers()
	if s.hooks != nil {
		s.hooks.On(hooks.EventImageReady, "gateway", s.onImageReady)
	}
	return s
}

// sameOrigin accepts non-browser clients and browsers on the gateway's own
// host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host == r.Host
}

// Handle registers an RPC method handler.
func (s *Server) Handle(method string, handler RequestHandler) {
	s.handlers[method] = handler
}

// Methods returns the registered RPC method names, sorted.
func (s *Server) Methods() []string {
	methods := make([]string, 0, len(s.handlers))
	for m := range s.handlers {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

// Handler builds the HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.log))
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/v1/conversations/{id}", s.restGetConversation)
		r.Delete("/v1/conversations/{id}", s.restDeleteConversation)
		r.Post("/v1/conversations/{id}/turns", s.restTurn)
		r.Post("/v1/conversations/{id}/approve", s.restApprove)
		r.Post("/v1/conversations/{id}/image", s.restImage)
	})

	r.NotFound(handleNotFound)
	return r
}

func resolveBindAddr(cfg config.GatewayConfig) string {
	switch cfg.Bind {
	case "lan", "all":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Start listens and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: designCallTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.baseCtx = ctx
	s.httpServer = srv
	s.addr = ln.Addr().String()
	s.startedAt = time.Now()
	s.mu.Unlock()

	if s.cfg.Bind != "loopback" && s.auth.Mode == AuthModeNone {
		s.log.Warn().Msg("gateway is reachable from the network without authentication")
	}
	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("auth", s.auth.Mode).
		Int("methods", len(s.handlers)).
		Msg("gateway server ready")
	s.hooks.Emit(ctx, hooks.EventGatewayStart, map[string]any{"addr": ln.Addr().String()})

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down gateway server")
		s.hooks.Emit(context.Background(), hooks.EventGatewayStop, nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.clients.CloseAll()
		_ = srv.Shutdown(shutdownCtx)
	}()

	err = srv.Serve(ln)
	if rec := s.inflight.WaitAndRecover(); rec != nil {
		s.log.Error().Err(rec.AsError()).Msg("rpc handler panicked")
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the listen address once started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

func (s *Server) baseContext() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseCtx
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.allow(r.RemoteAddr) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("rate limited after failed handshakes")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxPayloadBytes)

	client, err := s.handshake(conn)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("handshake failed")
		s.limiter.record(r.RemoteAddr)
		_ = conn.Close()
		return
	}

	s.clients.Add(client)
	defer func() {
		s.clients.Remove(client.ConnID)
		_ = client.Close()
	}()

	s.readLoop(client)
}

// handshake runs challenge, connect, authorize, hello.
func (s *Server) handshake(conn *websocket.Conn) (*Client, error) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))

	challenge, err := NewEvent(EventChallenge, Challenge{
		Nonce: uuid.New().String(),
		TS:    time.Now().UnixMilli(),
	}, 0)
	if err != nil {
		return nil, fmt.Errorf("creating challenge: %w", err)
	}
	if err := conn.WriteJSON(challenge); err != nil {
		return nil, fmt.Errorf("sending challenge: %w", err)
	}

	var frame Frame
	if err := conn.ReadJSON(&frame); err != nil {
		return nil, fmt.Errorf("reading connect: %w", err)
	}
	if frame.Type != FrameTypeRequest || frame.Method != MethodConnect {
		sendErrorAndClose(conn, frame.ID, CodeProtocol, "expected connect request")
		return nil, fmt.Errorf("expected connect request, got type=%s method=%s", frame.Type, frame.Method)
	}

	var params ConnectParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		sendErrorAndClose(conn, frame.ID, CodeInvalidParams, "invalid connect params")
		return nil, fmt.Errorf("parsing connect params: %w", err)
	}
	if !params.supports(ProtocolVersion) {
		sendErrorAndClose(conn, frame.ID, CodeProtocol, "unsupported protocol version")
		return nil, fmt.Errorf("client speaks protocol %d-%d, server %d", params.MinProtocol, params.MaxProtocol, ProtocolVersion)
	}

	auth := Authorize(s.auth, params.Auth)
	if !auth.OK {
		sendErrorAndClose(conn, frame.ID, CodeUnauthorized, auth.Reason)
		return nil, fmt.Errorf("auth failed: %s", auth.Reason)
	}
	_ = conn.SetReadDeadline(time.Time{})

	client := NewClient(conn, params.Client, auth)
	hello := HelloOK{
		Protocol: ProtocolVersion,
		Server: ServerInfo{
			Version: version.Version,
			Commit:  version.Commit,
			ConnID:  client.ConnID,
		},
		Features: Features{
			Methods: s.Methods(),
			Events:  []string{EventChallenge, EventDesignImage},
		},
		Policy: ServerPolicy{MaxPayload: maxPayloadBytes},
	}
	if err := client.Respond(frame.ID, hello); err != nil {
		return nil, fmt.Errorf("sending hello: %w", err)
	}

	s.log.Info().
		Str("connId", client.ConnID).
		Str("clientId", params.Client.ID).
		Str("authMethod", auth.Method).
		Msg("client authenticated")
	return client, nil
}

func (s *Server) readLoop(client *Client) {
	for {
		frame, err := client.ReadFrame()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Str("connId", client.ConnID).Msg("client closed connection")
			} else {
				s.log.Warn().Err(err).Str("connId", client.ConnID).Msg("read error")
			}
			return
		}
		if frame.Type != FrameTypeRequest {
			s.log.Debug().Str("type", frame.Type).Msg("ignoring non-request frame")
			continue
		}
		if err := frame.checkRequest(); err != nil {
			_ = client.RespondError(frame.ID, ErrorShape{Code: CodeProtocol, Message: err.Error()})
			continue
		}
		s.dispatch(client, frame)
	}
}

// dispatch runs the handler for frame in its own goroutine; design calls
// take seconds and must not stall the read loop.
func (s *Server) dispatch(client *Client, frame Frame) {
	handler, ok := s.handlers[frame.Method]
	if !ok {
		_ = client.RespondError(frame.ID, ErrorShape{
			Code:    CodeMethodNotFound,
			Message: "unknown method: " + frame.Method,
		})
		return
	}

	rc := &RequestContext{Client: client, Frame: frame, Server: s}
	s.inflight.Go(func() {
		var pc panics.Catcher
		pc.Try(func() { handler(rc) })
		if rec := pc.Recovered(); rec != nil {
			s.log.Error().Err(rec.AsError()).Str("method", frame.Method).Msg("rpc handler panicked")
			rc.RespondError(CodeInternal, "internal error")
		}
	})
}

func (s *Server) onImageReady(_ context.Context, p hooks.Payload) error {
	s.clients.Broadcast(EventDesignImage, p.Data, s.eventSeq.Add(1))
	return nil
}

func sendErrorAndClose(conn *websocket.Conn, reqID, code, message string) {
	_ = conn.WriteJSON(NewErrorResponse(reqID, ErrorShape{Code: code, Message: message}))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, message))
}
