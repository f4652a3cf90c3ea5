package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ISOFormat is the timestamp layout used on the wire: ISO-8601 with the UTC
// designator, matching what the event log and SSE clients expect.
const ISOFormat = "2006-01-02T15:04:05Z"

// NowISO returns the current UTC time in wire format.
func NowISO() string {
	return time.Now().UTC().Format(ISOFormat)
}

// Run represents a single execution of the iteration loop.
type Run struct {
	RunID     string    `json:"run_id"`
	State     RunState  `json:"state"`
	StartedAt time.Time `json:"started_at"`
}

// Event is an immutable record of something that happened during a run.
// Events are write-once: the loop assigns a strictly increasing, gap-free
// sequence number per run, and the log never mutates an appended event.
type Event struct {
	RunID   string          `json:"run_id"`
	Seq     uint64          `json:"seq"`
	Ts      string          `json:"ts"`
	Type    EventType       `json:"t"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// IterationStartedPayload accompanies iteration.started.
type IterationStartedPayload struct {
	N int `json:"n"`
}

// PromptSentPayload accompanies prompt.sent.
type PromptSentPayload struct {
	Actor     Actor         `json:"actor"`
	To        Route         `json:"to"`
	Content   []ContentPart `json:"content"`
	Iteration int           `json:"iteration"`
}

// ResponseReceivedPayload accompanies response.received.
type ResponseReceivedPayload struct {
	Actor     Actor  `json:"actor"`
	Text      string `json:"text"`
	Iteration int    `json:"iteration"`
}

// ScreenshotCapturedPayload accompanies screenshot.captured. URL references
// the artifact under /static, it is never embedded.
type ScreenshotCapturedPayload struct {
	URL       string `json:"url"`
	Iteration int    `json:"iteration"`
}

// ErrorPayload accompanies the terminal error event.
type ErrorPayload struct {
	Msg   string `json:"msg"`
	Where string `json:"where,omitempty"`
}

// payloadFactories is the closed set of event discriminators. Decoding an
// event with a `t` outside this table is an error, not a passthrough.
var payloadFactories = map[EventType]func() any{
	EventTypeRunStarted:         func() any { return nil },
	EventTypeIterationStarted:   func() any { return &IterationStartedPayload{} },
	EventTypePromptSent:         func() any { return &PromptSentPayload{} },
	EventTypeResponseReceived:   func() any { return &ResponseReceivedPayload{} },
	EventTypeScreenshotCaptured: func() any { return &ScreenshotCapturedPayload{} },
	EventTypeControlPaused:      func() any { return nil },
	EventTypeControlResumed:     func() any { return nil },
	EventTypeError:              func() any { return &ErrorPayload{} },
}

// DecodePayload decodes an event's payload into its typed form based on the
// discriminator. Events without a payload type (run.started, control.*)
// decode to nil.
func DecodePayload(ev Event) (any, error) {
	factory, ok := payloadFactories[ev.Type]
	if !ok {
		return nil, fmt.Errorf("unknown event type %q", ev.Type)
	}
	out := factory()
	if out == nil {
		return nil, nil
	}
	if err := json.Unmarshal(ev.Payload, out); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", ev.Type, err)
	}
	return out, nil
}
