package gradio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/chaincraft/internal/logging"
)

const testConfig = `{
	"version": "4.44.1",
	"protocol": "sse_v3",
	"dependencies": [
		{"id": 0, "api_name": false},
		{"id": 1, "api_name": "submit_design_ui_input"},
		{"id": 2, "api_name": "generate_image"}
	]
}`

func testLog() *logging.Logger {
	return logging.New(nil, "silent")
}

// fakeSpace serves /config plus whatever extra handlers a test registers.
func fakeSpace(t *testing.T, routes map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /config", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer hf_test" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, testConfig)
	})
	for pattern, h := range routes {
		mux.HandleFunc(pattern, h)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("event stream did not close")
		}
	}
}

func TestResolveBaseURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"Chaincraft/Game_Designer", "https://chaincraft-game-designer.hf.space", false},
		{"acme/designer.v2", "https://acme-designer-v2.hf.space", false},
		{"http://localhost:7860/", "http://localhost:7860", false},
		{"https://acme-designer.hf.space", "https://acme-designer.hf.space", false},
		{"nospace", "", true},
		{"a/b/c", "", true},
		{"/name", "", true},
		{"http://", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ResolveBaseURL(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConnect(t *testing.T) {
	srv := fakeSpace(t, nil)

	var stages []string
	c, err := Connect(context.Background(), srv.URL, Options{
		Token:    "hf_test",
		OnStatus: func(s Status) { stages = append(stages, s.Stage) },
	}, testLog())
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, srv.URL, c.BaseURL())
	assert.Equal(t, "4.44.1", c.Config().Version)
	assert.Equal(t, []string{StageConnecting, StageRunning}, stages)

	idx, ok := c.Config().FnIndex("/generate_image")
	assert.True(t, ok)
	assert.Equal(t, 2, idx)
	_, ok = c.Config().FnIndex("/missing")
	assert.False(t, ok)
}

func TestConnectUnauthorized(t *testing.T) {
	srv := fakeSpace(t, nil)

	var last Status
	_, err := Connect(context.Background(), srv.URL, Options{
		Token:    "wrong",
		OnStatus: func(s Status) { last = s },
	}, testLog())
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))
	assert.Equal(t, StageError, last.Stage)
}

func TestSubmitCall(t *testing.T) {
	var body map[string][]any
	srv := fakeSpace(t, map[string]http.HandlerFunc{
		"POST /call/submit_design_ui_input": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer hf_test", r.Header.Get("Authorization"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			io.WriteString(w, `{"event_id":"evt-1"}`)
		},
		"GET /call/submit_design_ui_input/evt-1": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			io.WriteString(w, ": keepalive comment\n\n")
			io.WriteString(w, "event: heartbeat\ndata: null\n\n")
			io.WriteString(w, "event: generating\ndata: [\"partial\"]\n\n")
			io.WriteString(w, "event: complete\ndata: [\"Title\", \"Spec text\", \"Q1?\", \"{\\\"k\\\":1}\"]\n\n")
		},
	})

	c, err := Connect(context.Background(), srv.URL, Options{Token: "hf_test"}, testLog())
	require.NoError(t, err)

	events, err := c.Submit(context.Background(), "/submit_design_ui_input", []any{"hello", false, "{}"})
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 3)
	assert.Equal(t, EventHeartbeat, got[0].Kind)
	assert.Equal(t, EventProgress, got[1].Kind)
	assert.True(t, got[2].IsData())
	require.Len(t, got[2].Data, 4)
	assert.JSONEq(t, `"Spec text"`, string(got[2].Data[1]))

	assert.Equal(t, []any{"hello", false, "{}"}, body["data"])
}

func TestSubmitCallErrorEvent(t *testing.T) {
	srv := fakeSpace(t, map[string]http.HandlerFunc{
		"POST /call/generate_image": func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"event_id":"e"}`)
		},
		"GET /call/generate_image/e": func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "event: error\ndata: \"GPU quota exceeded\"\n\n")
			io.WriteString(w, "event: complete\ndata: [\"never\"]\n\n")
		},
	})

	c, err := Connect(context.Background(), srv.URL, Options{Token: "hf_test"}, testLog())
	require.NoError(t, err)

	events, err := c.Submit(context.Background(), "generate_image", []any{"spec"})
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 1)
	assert.Equal(t, EventError, got[0].Kind)
	assert.Equal(t, "GPU quota exceeded", got[0].Message)
}

func TestSubmitCallRejected(t *testing.T) {
	srv := fakeSpace(t, map[string]http.HandlerFunc{
		"POST /call/generate_image": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "space is sleeping", http.StatusServiceUnavailable)
		},
	})

	c, err := Connect(context.Background(), srv.URL, Options{Token: "hf_test"}, testLog())
	require.NoError(t, err)

	_, err = c.Submit(context.Background(), "/generate_image", []any{"spec"})
	var he *HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusServiceUnavailable, he.StatusCode)
	assert.Contains(t, he.Error(), "space is sleeping")
}

func TestSubmitCallCancelClosesStream(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	srv := fakeSpace(t, map[string]http.HandlerFunc{
		"POST /call/generate_image": func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"event_id":"slow"}`)
		},
		"GET /call/generate_image/slow": func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "event: heartbeat\ndata: null\n\n")
			w.(http.Flusher).Flush()
			select {
			case <-r.Context().Done():
			case <-release:
			}
		},
	})

	c, err := Connect(context.Background(), srv.URL, Options{Token: "hf_test"}, testLog())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := c.Submit(ctx, "/generate_image", []any{"spec"})
	require.NoError(t, err)

	first := <-events
	assert.Equal(t, EventHeartbeat, first.Kind)

	cancel()
	collect(t, events)
}

func TestEventScanner(t *testing.T) {
	input := "event: generating\ndata: line one\ndata: line two\n\n" +
		"data: unnamed\n\n" +
		"event: complete\ndata: [1]"
	s := newEventScanner(strings.NewReader(input))

	require.True(t, s.Next())
	assert.Equal(t, "generating", s.Event())
	assert.Equal(t, "line one\nline two", s.Data())

	require.True(t, s.Next())
	assert.Equal(t, "message", s.Event())
	assert.Equal(t, "unnamed", s.Data())

	require.True(t, s.Next())
	assert.Equal(t, "complete", s.Event())
	assert.Equal(t, "[1]", s.Data())

	assert.False(t, s.Next())
	assert.NoError(t, s.Err())
}

func TestErrorText(t *testing.T) {
	assert.Equal(t, "job failed", errorText("null"))
	assert.Equal(t, "job failed", errorText(""))
	assert.Equal(t, "boom", errorText(`"boom"`))
	assert.Equal(t, "bad input", errorText(`{"error":"bad input"}`))
	assert.Equal(t, "raw text", errorText("raw text"))
}

func TestSubmitQueue(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var joined queueHash
	var sent queueData

	srv := fakeSpace(t, map[string]http.HandlerFunc{
		"GET /queue/join": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer hf_test", r.Header.Get("Authorization"))
			conn, err := upgrader.Upgrade(w, r, nil)
			require.NoError(t, err)
			defer conn.Close()

			require.NoError(t, conn.WriteJSON(map[string]any{"msg": "send_hash"}))
			require.NoError(t, conn.ReadJSON(&joined))
			require.NoError(t, conn.WriteJSON(map[string]any{"msg": "estimation", "rank": 0, "queue_size": 1}))
			require.NoError(t, conn.WriteJSON(map[string]any{"msg": "send_data"}))
			require.NoError(t, conn.ReadJSON(&sent))
			require.NoError(t, conn.WriteJSON(map[string]any{"msg": "process_starts"}))
			require.NoError(t, conn.WriteJSON(map[string]any{
				"msg":     "process_completed",
				"success": true,
				"output":  map[string]any{"data": []any{"ok", "https://img.example/1.png"}},
			}))
		},
	})

	c, err := Connect(context.Background(), srv.URL, Options{Token: "hf_test", Transport: TransportWebSocket}, testLog())
	require.NoError(t, err)

	events, err := c.Submit(context.Background(), "/generate_image", []any{"a castle"})
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 3)
	assert.Equal(t, "estimation", got[0].Stage)
	assert.Equal(t, "process_starts", got[1].Stage)
	require.True(t, got[2].IsData())
	assert.JSONEq(t, `"https://img.example/1.png"`, string(got[2].Data[1]))

	assert.Equal(t, 2, joined.FnIndex)
	assert.Equal(t, joined.SessionHash, sent.SessionHash)
	assert.Equal(t, []any{"a castle"}, sent.Data)
}

func TestSubmitQueueFailure(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := fakeSpace(t, map[string]http.HandlerFunc{
		"GET /queue/join": func(w http.ResponseWriter, r *http.Request) {
			conn, err := upgrader.Upgrade(w, r, nil)
			require.NoError(t, err)
			defer conn.Close()
			require.NoError(t, conn.WriteJSON(map[string]any{
				"msg":     "process_completed",
				"success": false,
				"output":  map[string]any{"error": "CUDA out of memory"},
			}))
		},
	})

	c, err := Connect(context.Background(), srv.URL, Options{Token: "hf_test", Transport: TransportWebSocket}, testLog())
	require.NoError(t, err)

	events, err := c.Submit(context.Background(), "/submit_design_ui_input", nil)
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 1)
	assert.Equal(t, EventError, got[0].Kind)
	assert.Equal(t, "CUDA out of memory", got[0].Message)
}

func TestSubmitQueueUnknownEndpoint(t *testing.T) {
	srv := fakeSpace(t, nil)
	c, err := Connect(context.Background(), srv.URL, Options{Token: "hf_test", Transport: TransportWebSocket}, testLog())
	require.NoError(t, err)

	_, err = c.Submit(context.Background(), "/nope", nil)
	assert.EqualError(t, err, fmt.Sprintf("endpoint %s not found in app config", "/nope"))
}

func TestWSURL(t *testing.T) {
	assert.Equal(t, "wss://x.hf.space", wsURL("https://x.hf.space"))
	assert.Equal(t, "ws://127.0.0.1:80", wsURL("http://127.0.0.1:80"))
}
