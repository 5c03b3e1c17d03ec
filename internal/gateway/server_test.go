package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/chaincraft/internal/agent"
	"github.com/soyeahso/chaincraft/internal/config"
	"github.com/soyeahso/chaincraft/internal/design"
	"github.com/soyeahso/chaincraft/internal/hooks"
	"github.com/soyeahso/chaincraft/internal/logging"
	"github.com/soyeahso/chaincraft/internal/store"
)

const testToken = "test-token-123"

func testLogger() *logging.Logger {
	return logging.New(nil, "silent")
}

func testConfig() config.GatewayConfig {
	return config.GatewayConfig{
		Enabled: true,
		Bind:    "loopback",
		Auth:    config.GatewayAuth{Mode: AuthModeToken, Token: testToken},
	}
}

type testEnv struct {
	srv   *Server
	http  *httptest.Server
	agent *design.MockAgent
	store *store.MemoryStore
}

func newTestEnv(t *testing.T, ag *design.MockAgent) *testEnv {
	t.Helper()
	log := testLogger()
	hk := hooks.NewManager(log)
	st := store.NewMemoryStore()
	orch := design.New(st, ag, hk, log)
	t.Cleanup(orch.Close)

	srv := New(testConfig(), log, WithDesigns(orch), WithHooks(hk))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{srv: srv, http: ts, agent: ag, store: st}
}

func noImages() *design.MockAgent {
	return &design.MockAgent{
		ImageFunc: func(context.Context, string) (*agent.ImageResult, error) {
			return nil, errors.New("images disabled")
		},
	}
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

// connect dials the gateway and completes the handshake with auth.
func connect(t *testing.T, ts *httptest.Server, auth *ConnectAuth) (*websocket.Conn, Frame) {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var challenge Frame
	require.NoError(t, conn.ReadJSON(&challenge))
	require.Equal(t, FrameTypeEvent, challenge.Type)
	require.Equal(t, EventChallenge, challenge.Event)

	req, err := NewRequest("c1", "connect", ConnectParams{
		MinProtocol: ProtocolVersion,
		MaxProtocol: ProtocolVersion,
		Client:      ClientInfo{ID: "test-cli", Version: "0.1.0", Platform: "linux"},
		Auth:        auth,
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))

	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	return conn, resp
}

func connectOK(t *testing.T, ts *httptest.Server) (*websocket.Conn, HelloOK) {
	t.Helper()
	conn, resp := connect(t, ts, &ConnectAuth{Token: testToken})
	require.NotNil(t, resp.OK)
	require.True(t, *resp.OK, "handshake failed: %+v", resp.Error)

	var hello HelloOK
	require.NoError(t, json.Unmarshal(resp.Payload, &hello))
	return conn, hello
}

// call sends a request and returns its response, skipping events.
func call(t *testing.T, conn *websocket.Conn, id, method string, params any) Frame {
	t.Helper()
	req, err := NewRequest(id, method, params)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))

	for {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var f Frame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Type == FrameTypeResponse && f.ID == id {
			return f
		}
	}
}

func TestHandshake_Success(t *testing.T) {
	env := newTestEnv(t, noImages())
	_, hello := connectOK(t, env.http)

	assert.Equal(t, ProtocolVersion, hello.Protocol)
	assert.NotEmpty(t, hello.Server.ConnID)
	assert.Contains(t, hello.Features.Methods, "design.turn")
	assert.Contains(t, hello.Features.Events, EventDesignImage)
	assert.Equal(t, maxPayloadBytes, hello.Policy.MaxPayload)
}

func TestHandshake_BadToken(t *testing.T) {
	env := newTestEnv(t, noImages())
	_, resp := connect(t, env.http, &ConnectAuth{Token: "wrong"})

	require.NotNil(t, resp.OK)
	assert.False(t, *resp.OK)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "unauthorized", resp.Error.Code)
	assert.Equal(t, "token_mismatch", resp.Error.Message)
}

func TestHandshake_RejectsNonConnect(t *testing.T) {
	env := newTestEnv(t, noImages())
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(env.http), nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var challenge Frame
	require.NoError(t, conn.ReadJSON(&challenge))

	req, err := NewRequest("r1", "health", nil)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))

	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "protocol_error", resp.Error.Code)
}

func TestHandshake_RateLimited(t *testing.T) {
	env := newTestEnv(t, noImages())
	for i := 0; i < authFailMax; i++ {
		env.srv.limiter.record("127.0.0.1:1")
	}

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(env.http), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestRPC_UnknownMethod(t *testing.T) {
	env := newTestEnv(t, noImages())
	conn, _ := connectOK(t, env.http)

	resp := call(t, conn, "r1", "nope.nothing", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "method_not_found", resp.Error.Code)
}

func TestRPC_Health(t *testing.T) {
	env := newTestEnv(t, noImages())
	conn, _ := connectOK(t, env.http)

	resp := call(t, conn, "r1", "health", nil)
	require.True(t, *resp.OK)
	var h HealthResponse
	require.NoError(t, json.Unmarshal(resp.Payload, &h))
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, 1, h.Clients)
}

func TestRPC_AgentStatus(t *testing.T) {
	env := newTestEnv(t, noImages())
	conn, _ := connectOK(t, env.http)

	resp := call(t, conn, "r1", "agent.status", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "unavailable", resp.Error.Code)

	srv := New(testConfig(), testLogger(), WithAgentStatus(func() AgentStatus {
		return AgentStatus{Space: "owner/space", Transport: "sse", Connected: true, Generation: 2}
	}))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	conn2, _ := connectOK(t, ts)

	resp = call(t, conn2, "r2", "agent.status", nil)
	require.True(t, *resp.OK)
	var st AgentStatus
	require.NoError(t, json.Unmarshal(resp.Payload, &st))
	assert.Equal(t, "owner/space", st.Space)
	assert.Equal(t, uint64(2), st.Generation)
}

func TestRPC_DesignTurnUsesConnectionConversation(t *testing.T) {
	env := newTestEnv(t, noImages())
	conn, hello := connectOK(t, env.http)

	resp := call(t, conn, "r1", "design.turn", DesignParams{Message: "a puzzle game"})
	require.True(t, *resp.OK, "%+v", resp.Error)

	var reply design.Reply
	require.NoError(t, json.Unmarshal(resp.Payload, &reply))
	wantID := "gateway:" + hello.Server.ConnID + ":test-cli"
	assert.Equal(t, wantID, reply.ConversationID)
	assert.Equal(t, "Title", reply.Title)
	assert.Equal(t, "Q1?", reply.Questions)

	st, err := env.store.Get(context.Background(), wantID)
	require.NoError(t, err)
	assert.Equal(t, float64(1), st["k"])

	resp = call(t, conn, "r2", "design.state", nil)
	require.True(t, *resp.OK)
	var sr StateResponse
	require.NoError(t, json.Unmarshal(resp.Payload, &sr))
	assert.True(t, sr.Active)
	assert.Equal(t, wantID, sr.ConversationID)
}

func TestRPC_DesignTurnRequiresMessage(t *testing.T) {
	env := newTestEnv(t, noImages())
	conn, _ := connectOK(t, env.http)

	resp := call(t, conn, "r1", "design.turn", DesignParams{ConversationID: "x"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, "invalid_params", resp.Error.Code)

	resp = call(t, conn, "r2", "design.turn", DesignParams{ConversationID: "  ", Message: "hi"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, "invalid_params", resp.Error.Code)
	assert.Zero(t, env.agent.DesignCalls())
}

func TestRPC_DesignTurnFailure(t *testing.T) {
	ag := noImages()
	ag.DesignFunc = func(context.Context, agent.DesignRequest) (*agent.DesignResult, error) {
		return nil, &agent.ConnectionError{Attempts: 3, Err: errors.New("refused")}
	}
	env := newTestEnv(t, ag)
	conn, _ := connectOK(t, env.http)

	resp := call(t, conn, "r1", "design.turn", DesignParams{ConversationID: "c1", Message: "hi"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, "design_"+design.ReasonUnavailable, resp.Error.Code)
	assert.Equal(t, design.NoticeFailed, resp.Error.Message)
	assert.True(t, resp.Error.Retryable)
	assert.Zero(t, env.store.Len())
}

func TestRPC_ApproveAndTeardown(t *testing.T) {
	env := newTestEnv(t, noImages())
	conn, _ := connectOK(t, env.http)
	params := DesignParams{ConversationID: "c1", Message: "hi"}

	resp := call(t, conn, "r1", "design.turn", params)
	require.True(t, *resp.OK)

	resp = call(t, conn, "r2", "design.approve", DesignParams{ConversationID: "c1"})
	require.True(t, *resp.OK)
	var reply design.Reply
	require.NoError(t, json.Unmarshal(resp.Payload, &reply))
	assert.True(t, reply.Ended)
	assert.Equal(t, []string{design.NoticeApproved, design.NoticeEnded}, reply.Notices)
	assert.Zero(t, env.store.Len())

	call(t, conn, "r3", "design.turn", params)
	assert.Equal(t, 1, env.store.Len())
	resp = call(t, conn, "r4", "design.teardown", DesignParams{ConversationID: "c1"})
	require.True(t, *resp.OK)
	assert.Zero(t, env.store.Len())
}

func TestRPC_PublishUnavailable(t *testing.T) {
	env := newTestEnv(t, noImages())
	conn, _ := connectOK(t, env.http)

	resp := call(t, conn, "r1", "design.publish", DesignParams{ConversationID: "c1"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, "unavailable", resp.Error.Code)
}

func TestRPC_StartBroadcastsImage(t *testing.T) {
	env := newTestEnv(t, &design.MockAgent{})
	conn, _ := connectOK(t, env.http)

	req, err := NewRequest("r1", "design.start", DesignParams{ConversationID: "c1", Message: "a racing game"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))

	var gotReply, gotImage bool
	for !gotReply || !gotImage {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var f Frame
		require.NoError(t, conn.ReadJSON(&f))
		switch {
		case f.Type == FrameTypeResponse && f.ID == "r1":
			require.True(t, *f.OK)
			gotReply = true
		case f.Type == FrameTypeEvent && f.Event == EventDesignImage:
			var data map[string]any
			require.NoError(t, json.Unmarshal(f.Payload, &data))
			assert.Equal(t, "c1", data["conversationId"])
			assert.Equal(t, "https://img.example/1.png", data["imageUrl"])
			gotImage = true
		}
	}
}

func restRequest(t *testing.T, ts *httptest.Server, method, path, body, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestREST_Health(t *testing.T) {
	env := newTestEnv(t, noImages())
	resp := restRequest(t, env.http, "GET", "/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var h HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	assert.Equal(t, "ok", h.Status)
}

func TestREST_RequiresAuth(t *testing.T) {
	env := newTestEnv(t, noImages())
	resp := restRequest(t, env.http, "POST", "/v1/conversations/c1/turns", `{"message":"hi"}`, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, env.agent.DesignCalls())
}

func TestREST_ConversationLifecycle(t *testing.T) {
	env := newTestEnv(t, noImages())

	resp := restRequest(t, env.http, "GET", "/v1/conversations/c1", "", testToken)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = restRequest(t, env.http, "POST", "/v1/conversations/c1/turns", `{"message":"a farming game","start":true}`, testToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var reply design.Reply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	assert.Equal(t, "Title", reply.Title)
	assert.Equal(t, "a farming game", env.agent.LastRequest().Message)

	resp = restRequest(t, env.http, "GET", "/v1/conversations/c1", "", testToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sr StateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sr))
	assert.True(t, sr.Active)

	resp = restRequest(t, env.http, "DELETE", "/v1/conversations/c1", "", testToken)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Zero(t, env.store.Len())
}

func TestREST_TurnValidation(t *testing.T) {
	env := newTestEnv(t, noImages())

	resp := restRequest(t, env.http, "POST", "/v1/conversations/c1/turns", `{}`, testToken)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = restRequest(t, env.http, "POST", "/v1/conversations/c1/turns", `not json`, testToken)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestREST_TurnFailureIsBadGateway(t *testing.T) {
	ag := noImages()
	ag.DesignFunc = func(context.Context, agent.DesignRequest) (*agent.DesignResult, error) {
		return nil, &agent.EmptyResultError{}
	}
	env := newTestEnv(t, ag)

	resp := restRequest(t, env.http, "POST", "/v1/conversations/c1/turns", `{"message":"hi"}`, testToken)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	var e ErrorShape
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	assert.Equal(t, "design_"+design.ReasonEmpty, e.Code)
	assert.False(t, e.Retryable)
}

func TestREST_ImageWithoutDesign(t *testing.T) {
	env := newTestEnv(t, noImages())
	resp := restRequest(t, env.http, "POST", "/v1/conversations/c1/image", "", testToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var reply design.Reply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	assert.Equal(t, []string{design.NoticeInactive}, reply.Notices)
}

func TestREST_NotFound(t *testing.T) {
	env := newTestEnv(t, noImages())
	resp := restRequest(t, env.http, "GET", "/nope", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestResolveBindAddr(t *testing.T) {
	assert.Equal(t, "127.0.0.1:18789", resolveBindAddr(config.GatewayConfig{Bind: "loopback", Port: 18789}))
	assert.Equal(t, "0.0.0.0:80", resolveBindAddr(config.GatewayConfig{Bind: "lan", Port: 80}))
	assert.Equal(t, "0.0.0.0:80", resolveBindAddr(config.GatewayConfig{Bind: "all", Port: 80}))
	assert.Equal(t, "127.0.0.1:1", resolveBindAddr(config.GatewayConfig{Port: 1}))
}

func TestMethods_Sorted(t *testing.T) {
	srv := New(testConfig(), testLogger())
	methods := srv.Methods()
	assert.Equal(t, "agent.status", methods[0])
	assert.IsIncreasing(t, methods)
}

func TestClientConversationID(t *testing.T) {
	c := &Client{ConnID: "abc"}
	assert.Equal(t, "gateway:abc:client", c.ConversationID())
	c.Info.ID = "cli"
	assert.Equal(t, "gateway:abc:cli", c.ConversationID())
}

func TestStart_ServesUntilCancelled(t *testing.T) {
	cfg := testConfig()
	cfg.Port = 0
	srv := New(cfg, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	require.Eventually(t, func() bool { return srv.Addr() != "" }, 2*time.Second, 10*time.Millisecond)
	resp, err := http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
