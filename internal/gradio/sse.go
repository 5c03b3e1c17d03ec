package gradio

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxEventSize bounds a single SSE event; design documents can be large.
const maxEventSize = 4 << 20

// submitCall uses the /call REST API: POST the data to obtain an event id,
// then stream the job's events.
func (c *Client) submitCall(ctx context.Context, endpoint string, data []any) (<-chan Event, error) {
	api := strings.TrimPrefix(endpoint, "/")
	callURL := c.base + "/call/" + api

	req, err := c.newRequest(ctx, http.MethodPost, callURL, map[string]any{"data": data})
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submitting %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, httpError("submit "+endpoint, resp)
	}

	var queued struct {
		EventID string `json:"event_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&queued); err != nil {
		return nil, fmt.Errorf("decoding submit response: %w", err)
	}
	if queued.EventID == "" {
		return nil, fmt.Errorf("submit %s: response has no event_id", endpoint)
	}

	streamReq, err := c.newRequest(ctx, http.MethodGet, callURL+"/"+queued.EventID, nil)
	if err != nil {
		return nil, err
	}
	streamReq.Header.Set("Accept", "text/event-stream")

	// Streams are bounded by ctx, not by the client timeout.
	stream := *c.http
	stream.Timeout = 0
	streamResp, err := stream.Do(streamReq)
	if err != nil {
		return nil, fmt.Errorf("opening event stream: %w", err)
	}
	if streamResp.StatusCode != http.StatusOK {
		defer streamResp.Body.Close()
		return nil, httpError("stream "+endpoint, streamResp)
	}

	c.log.Debug().Str("endpoint", endpoint).Str("event_id", queued.EventID).Msg("job submitted")

	events := make(chan Event, 8)
	go c.readCallStream(ctx, streamResp.Body, events)
	return events, nil
}

func (c *Client) readCallStream(ctx context.Context, body io.ReadCloser, events chan<- Event) {
	defer close(events)
	defer body.Close()

	scanner := newEventScanner(body)
	for scanner.Next() {
		ev := decodeCallEvent(scanner.Event(), scanner.Data())
		if !send(ctx, events, ev) {
			return
		}
		if ev.Kind == EventData || ev.Kind == EventError {
			return
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		c.log.Debug().Err(err).Msg("event stream read failed")
	}
}

func decodeCallEvent(name, data string) Event {
	switch name {
	case "complete":
		var out []json.RawMessage
		if err := json.Unmarshal([]byte(data), &out); err != nil {
			return Event{Kind: EventError, Stage: name, Message: "malformed result: " + err.Error()}
		}
		return Event{Kind: EventData, Stage: name, Data: out}
	case "generating":
		var out []json.RawMessage
		_ = json.Unmarshal([]byte(data), &out)
		return Event{Kind: EventProgress, Stage: name, Data: out}
	case "heartbeat":
		return Event{Kind: EventHeartbeat, Stage: name}
	case "error":
		return Event{Kind: EventError, Stage: name, Message: errorText(data)}
	default:
		return Event{Kind: EventStatus, Stage: name}
	}
}

// errorText extracts a message from an error payload, which Gradio sends as
// null, a JSON string, or an object with an "error" field.
func errorText(data string) string {
	data = strings.TrimSpace(data)
	if data == "" || data == "null" {
		return "job failed"
	}
	var s string
	if json.Unmarshal([]byte(data), &s) == nil {
		return s
	}
	var obj struct {
		Error string `json:"error"`
	}
	if json.Unmarshal([]byte(data), &obj) == nil && obj.Error != "" {
		return obj.Error
	}
	return data
}

func send(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// eventScanner reads server-sent events, joining multi-line data fields.
type eventScanner struct {
	lines *bufio.Scanner
	event string
	data  strings.Builder
}

func newEventScanner(r io.Reader) *eventScanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxEventSize)
	return &eventScanner{lines: s}
}

// Next advances to the next complete event.
func (s *eventScanner) Next() bool {
	s.event = ""
	s.data.Reset()
	seen := false

	for s.lines.Scan() {
		line := s.lines.Text()
		if line == "" {
			if seen {
				return true
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			s.event = value
			seen = true
		case "data":
			if s.data.Len() > 0 {
				s.data.WriteByte('\n')
			}
			s.data.WriteString(value)
			seen = true
		}
	}
	// a final event without a trailing blank line still counts
	return seen
}

// Event returns the current event name, "message" when unnamed.
func (s *eventScanner) Event() string {
	if s.event == "" {
		return "message"
	}
	return s.event
}

func (s *eventScanner) Data() string { return s.data.String() }

func (s *eventScanner) Err() error { return s.lines.Err() }
