package engine

// EventKind discriminates stream frames.
type EventKind string

const (
	// EventToken carries one streamed text fragment.
	EventToken EventKind = "token"
	// EventStatus reports a suspension boundary: paused, finished, or
	// failed, with the payload the client needs to act.
	EventStatus EventKind = "status"
	// EventError reports a failure frame.
	EventError EventKind = "error"
)

// Event is one frame on a run's output stream.
type Event struct {
	Kind         EventKind      `json:"kind"`
	RunID        string         `json:"run_id"`
	WorkflowType string         `json:"workflow_type"`
	Stage        string         `json:"stage,omitempty"`
	Text         string         `json:"text,omitempty"`
	Status       string         `json:"status,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// EmitFunc receives stream frames in order. It must not block
// indefinitely; slow consumers stall the advancing run.
type EmitFunc func(Event)

func nopEmit(Event) {}
