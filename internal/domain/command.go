package domain

import "fmt"

// ValidationError reports a malformed command at the system boundary. It is
// request-response only: a command that fails validation never reaches the
// run loop and never produces an event.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// ControlCommand is an inbound pause/resume instruction.
type ControlCommand struct {
	Action ControlAction `json:"action"`
}

// Validate rejects unknown actions.
func (c ControlCommand) Validate() error {
	switch c.Action {
	case ControlActionPause, ControlActionResume:
		return nil
	}
	return &ValidationError{Field: "action", Msg: fmt.Sprintf("unknown action %q", c.Action)}
}

// ContentPart is one element of a prompt's ordered content. Opaque to the
// engine, passed through verbatim to the model collaborator.
type ContentPart struct {
	Type     ContentPartType   `json:"type"`
	Text     string            `json:"text,omitempty"`
	ImageURL map[string]string `json:"image_url,omitempty"`
}

// TextPart builds a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: ContentPartText, Text: text}
}

// ImagePart builds an image content part referencing a URL or data URL.
func ImagePart(url string) ContentPart {
	return ContentPart{Type: ContentPartImage, ImageURL: map[string]string{"url": url}}
}

func (p ContentPart) validate() error {
	switch p.Type {
	case ContentPartText:
		if p.Text == "" {
			return &ValidationError{Field: "content", Msg: "text part must not be empty"}
		}
	case ContentPartImage:
		if p.ImageURL["url"] == "" {
			return &ValidationError{Field: "content", Msg: "image part requires image_url.url"}
		}
	default:
		return &ValidationError{Field: "content", Msg: fmt.Sprintf("unknown content part type %q", p.Type)}
	}
	return nil
}

// PromptCommand is a user-injected prompt consumed by the next iteration.
type PromptCommand struct {
	Actor   Actor         `json:"actor"`
	RouteTo Route         `json:"route_to"`
	Content []ContentPart `json:"content"`
}

// Validate checks actor, routing and content shape.
func (c PromptCommand) Validate() error {
	switch c.Actor {
	case ActorUser, ActorVision, ActorCode:
	default:
		return &ValidationError{Field: "actor", Msg: fmt.Sprintf("unknown actor %q", c.Actor)}
	}
	switch c.RouteTo {
	case RouteVision, RouteCode:
	case "":
		return &ValidationError{Field: "route_to", Msg: "route_to is required"}
	default:
		return &ValidationError{Field: "route_to", Msg: fmt.Sprintf("unknown route %q", c.RouteTo)}
	}
	if len(c.Content) == 0 {
		return &ValidationError{Field: "content", Msg: "content must not be empty"}
	}
	for _, part := range c.Content {
		if err := part.validate(); err != nil {
			return err
		}
	}
	return nil
}
