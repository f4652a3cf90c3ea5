package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dage/vibe-coding-iterator/internal/domain"
	"github.com/dage/vibe-coding-iterator/internal/storage"
)

// ErrRunStopped is the failure detail carried by the error event when the
// loop is hard-stopped.
var ErrRunStopped = errors.New("run stopped")

// ErrNoActiveRun is returned for commands issued before Start or after the
// run reached a terminal state.
var ErrNoActiveRun = errors.New("no active run")

// LoopConfig controls iteration pacing and termination.
type LoopConfig struct {
	// IterationBudget is the number of iterations before the run stops
	// normally. Zero means unbounded.
	IterationBudget int
	// StepDelay is the pause between iterations.
	StepDelay time.Duration
}

// Loop is the run state machine. It owns the Run, the sequence counter and
// the publish side of the bus; nothing else writes events. One Loop drives
// one run from Idle to Stopped.
type Loop struct {
	bus      *Bus
	handlers *Handlers
	cfg      LoopConfig

	cmds     chan domain.ControlCommand
	stopOnce sync.Once
	stopped  chan struct{}
	done     chan struct{}

	mu           sync.Mutex
	run          *domain.Run
	state        domain.RunState
	seq          uint64
	iteration    int
	pending      *domain.PromptCommand
	lastResponse string
	lastRoute    domain.Route
}

// NewLoop creates an idle loop. Start begins the run.
func NewLoop(bus *Bus, handlers *Handlers, cfg LoopConfig) *Loop {
	if cfg.StepDelay <= 0 {
		cfg.StepDelay = 2 * time.Second
	}
	return &Loop{
		bus:      bus,
		handlers: handlers,
		cfg:      cfg,
		cmds:     make(chan domain.ControlCommand, 16),
		stopped:  make(chan struct{}),
		done:     make(chan struct{}),
		state:    domain.RunStateIdle,
	}
}

// Start transitions Idle to Running: it creates the run, opens its log
// segment via the first append, and spawns the iteration goroutine.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.state != domain.RunStateIdle {
		l.mu.Unlock()
		return fmt.Errorf("cannot start from state %s", l.state)
	}
	l.run = &domain.Run{
		RunID:     storage.NewRunID(),
		State:     domain.RunStateRunning,
		StartedAt: time.Now().UTC(),
	}
	l.state = domain.RunStateRunning
	l.mu.Unlock()

	if err := l.emit(domain.EventTypeRunStarted, nil); err != nil {
		l.setState(domain.RunStateStopped)
		return fmt.Errorf("failed to open run: %w", err)
	}

	go l.runLoop(ctx)
	return nil
}

// Apply accepts a control command. Acceptance is synchronous; application
// happens cooperatively between iterations.
func (l *Loop) Apply(cmd domain.ControlCommand) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	if s := l.State(); s == domain.RunStateIdle || s.IsTerminal() {
		return ErrNoActiveRun
	}
	select {
	case l.cmds <- cmd:
		return nil
	default:
		return errors.New("command queue full")
	}
}

// InjectPrompt queues a prompt for the next iteration. The latest injection
// wins; it replaces, not appends.
func (l *Loop) InjectPrompt(cmd domain.PromptCommand) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == domain.RunStateIdle || l.state.IsTerminal() {
		return ErrNoActiveRun
	}
	l.pending = &cmd
	return nil
}

// Stop hard-stops the run: a fatal transition to Stopped with a terminal
// error event. Not surfaced as an external control action.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stopped) })
}

// Done closes when the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// State returns the current lifecycle state.
func (l *Loop) State() domain.RunState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// RunID returns the active run's id, or "" before Start.
func (l *Loop) RunID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.run == nil {
		return ""
	}
	return l.run.RunID
}

// Iteration returns the number of completed iterations.
func (l *Loop) Iteration() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.iteration
}

func (l *Loop) runLoop(ctx context.Context) {
	defer close(l.done)

	for {
		if !l.awaitRunnable(ctx) {
			return
		}
		if l.cfg.IterationBudget > 0 && l.Iteration() >= l.cfg.IterationBudget {
			// Budget exhausted: normal termination, no error event.
			l.setState(domain.RunStateStopped)
			return
		}
		if err := l.iterate(ctx); err != nil {
			l.fail(err)
			return
		}
		if !l.pace(ctx) {
			return
		}
	}
}

// awaitRunnable applies queued control commands and, while paused, blocks
// for the next one. Returns false when the loop must exit.
func (l *Loop) awaitRunnable(ctx context.Context) bool {
	for {
		// Drain whatever arrived during the last iteration.
		for {
			select {
			case cmd := <-l.cmds:
				if err := l.applyCommand(cmd); err != nil {
					l.fail(err)
					return false
				}
				continue
			default:
			}
			break
		}

		if l.State() == domain.RunStateRunning {
			return true
		}

		// Paused: wait for resume (or shutdown) without burning cycles.
		select {
		case cmd := <-l.cmds:
			if err := l.applyCommand(cmd); err != nil {
				l.fail(err)
				return false
			}
		case <-l.stopped:
			l.fail(ErrRunStopped)
			return false
		case <-ctx.Done():
			l.setState(domain.RunStateStopped)
			return false
		}
	}
}

// applyCommand performs the Paused/Running transition. Commands that match
// the current state are idempotent no-ops and emit nothing.
func (l *Loop) applyCommand(cmd domain.ControlCommand) error {
	state := l.State()
	switch cmd.Action {
	case domain.ControlActionPause:
		if state != domain.RunStateRunning {
			return nil
		}
		if err := l.emit(domain.EventTypeControlPaused, nil); err != nil {
			return err
		}
		l.setState(domain.RunStatePaused)
	case domain.ControlActionResume:
		if state != domain.RunStatePaused {
			return nil
		}
		if err := l.emit(domain.EventTypeControlResumed, nil); err != nil {
			return err
		}
		l.setState(domain.RunStateRunning)
	}
	return nil
}

// iterate performs one full iteration: prompt selection, the collaborator
// calls via Handlers, and the three per-iteration events in order.
func (l *Loop) iterate(ctx context.Context) error {
	l.mu.Lock()
	l.iteration++
	n := l.iteration
	runID := l.run.RunID
	l.mu.Unlock()

	if err := l.emit(domain.EventTypeIterationStarted, domain.IterationStartedPayload{N: n}); err != nil {
		return err
	}

	prompt := l.takePrompt()
	if err := l.emit(domain.EventTypePromptSent, domain.PromptSentPayload{
		Actor:     prompt.Actor,
		To:        prompt.RouteTo,
		Content:   prompt.Content,
		Iteration: n,
	}); err != nil {
		return err
	}

	result, err := l.handlers.Iterate(ctx, runID, n, prompt)
	if err != nil {
		return err
	}

	if err := l.emit(domain.EventTypeResponseReceived, domain.ResponseReceivedPayload{
		Actor:     domain.Actor(prompt.RouteTo),
		Text:      result.ResponseText,
		Iteration: n,
	}); err != nil {
		return err
	}
	if err := l.emit(domain.EventTypeScreenshotCaptured, domain.ScreenshotCapturedPayload{
		URL:       result.ScreenshotURL,
		Iteration: n,
	}); err != nil {
		return err
	}

	l.mu.Lock()
	l.lastResponse = result.ResponseText
	l.lastRoute = prompt.RouteTo
	l.mu.Unlock()
	return nil
}

// takePrompt consumes the pending injected prompt if there is one, otherwise
// derives the deterministic default from the previous response.
func (l *Loop) takePrompt() domain.PromptCommand {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pending != nil {
		cmd := *l.pending
		l.pending = nil
		return cmd
	}

	route := l.lastRoute
	if route == "" {
		route = domain.RouteCode
	}
	actor := domain.ActorVision
	if route == domain.RouteVision {
		actor = domain.ActorCode
	}
	content := []domain.ContentPart{domain.TextPart("iterate")}
	if l.lastResponse != "" {
		content = append(content, domain.TextPart(l.lastResponse))
	}
	return domain.PromptCommand{Actor: actor, RouteTo: route, Content: content}
}

// pace waits out the step delay, staying responsive to shutdown. Control
// commands that arrive during the delay are picked up by awaitRunnable.
func (l *Loop) pace(ctx context.Context) bool {
	timer := time.NewTimer(l.cfg.StepDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-l.stopped:
		l.fail(ErrRunStopped)
		return false
	case <-ctx.Done():
		l.setState(domain.RunStateStopped)
		return false
	}
}

// fail emits the single terminal error event and stops the run. Emission is
// best effort: a log that cannot be appended must not mask the failure.
func (l *Loop) fail(cause error) {
	payload := domain.ErrorPayload{Msg: cause.Error(), Where: "run_loop"}
	if err := l.emit(domain.EventTypeError, payload); err != nil {
		log.Printf("ERROR: failed to emit error event: %v", err)
	}
	l.setState(domain.RunStateStopped)
}

// emit assigns the next sequence number and publishes. Sequence numbers are
// gap-free because the loop goroutine is the only caller.
func (l *Loop) emit(eventType domain.EventType, payload any) error {
	l.mu.Lock()
	l.seq++
	ev := domain.Event{
		RunID: l.run.RunID,
		Seq:   l.seq,
		Ts:    domain.NowISO(),
		Type:  eventType,
	}
	l.mu.Unlock()

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
		}
		ev.Payload = data
	}
	return l.bus.Publish(ev)
}

func (l *Loop) setState(state domain.RunState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = state
	if l.run != nil {
		l.run.State = state
	}
}
