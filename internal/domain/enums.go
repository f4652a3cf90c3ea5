// Package domain defines the core domain models for the iteration engine.
package domain

// RunState represents the lifecycle state of a run.
type RunState string

const (
	RunStateIdle    RunState = "IDLE"
	RunStateRunning RunState = "RUNNING"
	RunStatePaused  RunState = "PAUSED"
	RunStateStopped RunState = "STOPPED"
)

// IsTerminal reports whether the state admits no further transitions.
func (s RunState) IsTerminal() bool {
	return s == RunStateStopped
}

// EventType is the wire discriminator (`t`) of an event.
type EventType string

const (
	EventTypeRunStarted         EventType = "run.started"
	EventTypeIterationStarted   EventType = "iteration.started"
	EventTypePromptSent         EventType = "prompt.sent"
	EventTypeResponseReceived   EventType = "response.received"
	EventTypeScreenshotCaptured EventType = "screenshot.captured"
	EventTypeControlPaused      EventType = "control.paused"
	EventTypeControlResumed     EventType = "control.resumed"
	EventTypeError              EventType = "error"
)

// ControlAction is the wire discriminator (`action`) of a control command.
type ControlAction string

const (
	ControlActionPause  ControlAction = "pause"
	ControlActionResume ControlAction = "resume"
)

// Actor identifies the originator of a prompt.
type Actor string

const (
	ActorUser   Actor = "user"
	ActorVision Actor = "vision"
	ActorCode   Actor = "code"
)

// Route selects the downstream handler that consumes a prompt.
type Route string

const (
	RouteVision Route = "vision"
	RouteCode   Route = "code"
)

// ContentPartType discriminates prompt content parts.
type ContentPartType string

const (
	ContentPartText  ContentPartType = "text"
	ContentPartImage ContentPartType = "image_url"
)
