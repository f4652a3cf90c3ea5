package engine

import "errors"

// transienter is implemented by collaborator errors that are safe to retry
// (timeouts, rate limits). Anything else is fatal to the run.
type transienter interface {
	Transient() bool
}

// IsTransient reports whether err, anywhere in its chain, marks itself as a
// transient collaborator failure.
func IsTransient(err error) bool {
	var t transienter
	if errors.As(err, &t) {
		return t.Transient()
	}
	return false
}
