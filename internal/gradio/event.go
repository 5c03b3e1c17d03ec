package gradio

import "encoding/json"

// EventKind classifies a message on a job's event stream.
type EventKind string

const (
	// EventData carries the job's final positional output.
	EventData      EventKind = "data"
	EventProgress  EventKind = "progress"
	EventStatus    EventKind = "status"
	EventHeartbeat EventKind = "heartbeat"
	// EventError reports a failed job. The stream ends after it.
	EventError EventKind = "error"
)

// Event is one message from a job's event stream.
type Event struct {
	Kind    EventKind
	Data    []json.RawMessage // set for EventData and EventProgress
	Stage   string            // raw protocol message name
	Message string            // error text for EventError
}

// IsData reports whether the event carries the final result.
func (e Event) IsData() bool { return e.Kind == EventData }
