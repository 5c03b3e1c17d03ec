package gradio

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// queueMessage is a server message on the legacy /queue/join websocket.
type queueMessage struct {
	Msg     string `json:"msg"`
	Success *bool  `json:"success,omitempty"`
	Output  struct {
		Data  []json.RawMessage `json:"data"`
		Error json.RawMessage   `json:"error"`
	} `json:"output"`
	Rank      int `json:"rank,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`
}

type queueHash struct {
	FnIndex     int    `json:"fn_index"`
	SessionHash string `json:"session_hash"`
}

type queueData struct {
	FnIndex     int    `json:"fn_index"`
	SessionHash string `json:"session_hash"`
	Data        []any  `json:"data"`
	EventData   any    `json:"event_data"`
}

func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}

// submitQueue joins the websocket queue for endpoint and streams its
// messages as events.
func (c *Client) submitQueue(ctx context.Context, endpoint string, data []any) (<-chan Event, error) {
	fn, ok := c.config.FnIndex(endpoint)
	if !ok {
		return nil, fmt.Errorf("endpoint %s not found in app config", endpoint)
	}

	header := http.Header{}
	c.authorize(header)

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 15 * time.Second,
	}
	conn, resp, err := dialer.DialContext(ctx, wsURL(c.base)+"/queue/join", header)
	if err != nil {
		if resp != nil {
			return nil, httpError("queue join", resp)
		}
		return nil, fmt.Errorf("joining queue: %w", err)
	}

	c.log.Debug().Str("endpoint", endpoint).Int("fn_index", fn).Msg("joined queue")

	events := make(chan Event, 8)
	go c.readQueue(ctx, conn, fn, data, events)
	return events, nil
}

func (c *Client) readQueue(ctx context.Context, conn *websocket.Conn, fn int, data []any, events chan<- Event) {
	defer close(events)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		conn.Close()
	}()

	for {
		var msg queueMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("queue read failed")
			}
			return
		}

		var ev Event
		switch msg.Msg {
		case "send_hash":
			if err := conn.WriteJSON(queueHash{FnIndex: fn, SessionHash: c.sessionHash}); err != nil {
				send(ctx, events, Event{Kind: EventError, Stage: msg.Msg, Message: err.Error()})
				return
			}
			continue
		case "send_data":
			payload := queueData{FnIndex: fn, SessionHash: c.sessionHash, Data: data}
			if err := conn.WriteJSON(payload); err != nil {
				send(ctx, events, Event{Kind: EventError, Stage: msg.Msg, Message: err.Error()})
				return
			}
			continue
		case "estimation", "process_starts":
			ev = Event{Kind: EventStatus, Stage: msg.Msg}
		case "process_generating":
			ev = Event{Kind: EventProgress, Stage: msg.Msg, Data: msg.Output.Data}
		case "heartbeat":
			ev = Event{Kind: EventHeartbeat, Stage: msg.Msg}
		case "queue_full":
			ev = Event{Kind: EventError, Stage: msg.Msg, Message: "queue is full"}
		case "process_completed":
			if msg.Success != nil && !*msg.Success {
				ev = Event{Kind: EventError, Stage: msg.Msg, Message: errorText(string(msg.Output.Error))}
			} else {
				ev = Event{Kind: EventData, Stage: msg.Msg, Data: msg.Output.Data}
			}
		default:
			ev = Event{Kind: EventStatus, Stage: msg.Msg}
		}

		if !send(ctx, events, ev) {
			return
		}
		if ev.Kind == EventData || ev.Kind == EventError {
			return
		}
	}
}
