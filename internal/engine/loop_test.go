package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dage/vibe-coding-iterator/internal/domain"
)

func TestLoopThreeIterations(t *testing.T) {
	model := &stubModel{reply: "patched"}
	capturer := &stubCapturer{}
	eng := newTestEngine(t, model, capturer, LoopConfig{IterationBudget: 3, StepDelay: 5 * time.Millisecond})

	if err := eng.loop.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, eng.loop)

	if got := eng.loop.State(); got != domain.RunStateStopped {
		t.Fatalf("expected STOPPED, got %s", got)
	}

	events, err := eng.log.Read(eng.loop.RunID())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	// Sequence numbers are strictly increasing and gap-free from 1.
	for i, ev := range events {
		if ev.Seq != uint64(i+1) {
			t.Fatalf("event %d: expected seq %d, got %d", i, i+1, ev.Seq)
		}
		if ev.RunID != eng.loop.RunID() {
			t.Fatalf("event %d: wrong run id %s", i, ev.RunID)
		}
	}

	if errs := eventsOfType(events, domain.EventTypeError); len(errs) != 0 {
		t.Fatalf("budget termination must not emit error events: %+v", errs)
	}

	// Each iteration produced exactly prompt.sent, response.received,
	// screenshot.captured, in that order.
	for n := 1; n <= 3; n++ {
		order := map[domain.EventType]int{}
		for _, typ := range []domain.EventType{
			domain.EventTypePromptSent,
			domain.EventTypeResponseReceived,
			domain.EventTypeScreenshotCaptured,
		} {
			idx := findIterationEvent(t, events, typ, n)
			order[typ] = idx
		}
		if !(order[domain.EventTypePromptSent] < order[domain.EventTypeResponseReceived] &&
			order[domain.EventTypeResponseReceived] < order[domain.EventTypeScreenshotCaptured]) {
			t.Fatalf("iteration %d out of order: %v", n, order)
		}
	}
	if shots := eventsOfType(events, domain.EventTypeScreenshotCaptured); len(shots) != 3 {
		t.Fatalf("expected exactly one screenshot per iteration, got %d", len(shots))
	}
}

// findIterationEvent locates the single event of the type for the iteration.
func findIterationEvent(t *testing.T, events []domain.Event, typ domain.EventType, iteration int) int {
	t.Helper()
	found := -1
	for i, ev := range events {
		if ev.Type != typ {
			continue
		}
		var p struct {
			Iteration int `json:"iteration"`
		}
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			t.Fatalf("decode %s: %v", typ, err)
		}
		if p.Iteration != iteration {
			continue
		}
		if found != -1 {
			t.Fatalf("duplicate %s for iteration %d", typ, iteration)
		}
		found = i
	}
	if found == -1 {
		t.Fatalf("missing %s for iteration %d", typ, iteration)
	}
	return found
}

func TestLoopPauseIsIdempotent(t *testing.T) {
	model := &stubModel{}
	capturer := &stubCapturer{}
	eng := newTestEngine(t, model, capturer, LoopConfig{StepDelay: 500 * time.Millisecond})

	sub, err := eng.bus.Subscribe("")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer eng.bus.Unsubscribe(sub)

	if err := eng.loop.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, sub, domain.EventTypeScreenshotCaptured)
	if err := eng.loop.Apply(domain.ControlCommand{Action: domain.ControlActionPause}); err != nil {
		t.Fatalf("Apply pause: %v", err)
	}
	waitFor(t, sub, domain.EventTypeControlPaused)

	// Second pause while already paused: accepted, but no new event.
	if err := eng.loop.Apply(domain.ControlCommand{Action: domain.ControlActionPause}); err != nil {
		t.Fatalf("Apply second pause: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if err := eng.loop.Apply(domain.ControlCommand{Action: domain.ControlActionResume}); err != nil {
		t.Fatalf("Apply resume: %v", err)
	}
	waitFor(t, sub, domain.EventTypeControlResumed)
	secondPrompt := waitFor(t, sub, domain.EventTypePromptSent)

	eng.loop.Stop()
	waitDone(t, eng.loop)

	events, err := eng.log.Read(eng.loop.RunID())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	paused := eventsOfType(events, domain.EventTypeControlPaused)
	if len(paused) != 1 {
		t.Fatalf("expected exactly one control.paused, got %d", len(paused))
	}
	if paused[0].Seq >= secondPrompt.Seq {
		t.Fatalf("control.paused (seq %d) must precede the next prompt.sent (seq %d)", paused[0].Seq, secondPrompt.Seq)
	}

	// Nothing was emitted between pausing and resuming.
	resumed := eventsOfType(events, domain.EventTypeControlResumed)
	if len(resumed) != 1 {
		t.Fatalf("expected exactly one control.resumed, got %d", len(resumed))
	}
	if resumed[0].Seq != paused[0].Seq+1 {
		t.Fatalf("expected no events while paused, got seq gap %d..%d", paused[0].Seq, resumed[0].Seq)
	}
}

func TestLoopResumeWhileRunningIsNoOp(t *testing.T) {
	model := &stubModel{}
	capturer := &stubCapturer{}
	eng := newTestEngine(t, model, capturer, LoopConfig{StepDelay: 5 * time.Millisecond})

	sub, err := eng.bus.Subscribe("")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer eng.bus.Unsubscribe(sub)

	if err := eng.loop.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, sub, domain.EventTypeScreenshotCaptured)

	if err := eng.loop.Apply(domain.ControlCommand{Action: domain.ControlActionResume}); err != nil {
		t.Fatalf("Apply resume: %v", err)
	}
	// Let the loop take at least one more iteration with the command drained.
	waitFor(t, sub, domain.EventTypeScreenshotCaptured)

	eng.loop.Stop()
	waitDone(t, eng.loop)

	events, err := eng.log.Read(eng.loop.RunID())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if resumed := eventsOfType(events, domain.EventTypeControlResumed); len(resumed) != 0 {
		t.Fatalf("resume while running must not emit events, got %d", len(resumed))
	}
}

func TestLoopPromptInjectionVerbatim(t *testing.T) {
	model := &stubModel{}
	capturer := &stubCapturer{}
	eng := newTestEngine(t, model, capturer, LoopConfig{StepDelay: 500 * time.Millisecond})

	sub, err := eng.bus.Subscribe("")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer eng.bus.Unsubscribe(sub)

	if err := eng.loop.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, sub, domain.EventTypeScreenshotCaptured)

	injected := domain.PromptCommand{
		Actor:   domain.ActorUser,
		RouteTo: domain.RouteCode,
		Content: []domain.ContentPart{domain.TextPart("add a button")},
	}
	if err := eng.loop.InjectPrompt(injected); err != nil {
		t.Fatalf("InjectPrompt: %v", err)
	}

	ev := waitFor(t, sub, domain.EventTypePromptSent)
	eng.loop.Stop()
	waitDone(t, eng.loop)

	var payload domain.PromptSentPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		t.Fatalf("decode prompt.sent: %v", err)
	}
	if payload.Actor != domain.ActorUser || payload.To != domain.RouteCode {
		t.Fatalf("expected injected routing, got %+v", payload)
	}
	if len(payload.Content) != 1 || payload.Content[0].Text != "add a button" {
		t.Fatalf("expected injected content verbatim, got %+v", payload.Content)
	}
}

func TestLoopFatalErrorStopsRun(t *testing.T) {
	model := &stubModel{failCount: 1 << 30, err: errors.New("invalid api key")}
	capturer := &stubCapturer{}
	eng := newTestEngine(t, model, capturer, LoopConfig{StepDelay: 5 * time.Millisecond})

	if err := eng.loop.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, eng.loop)

	if got := eng.loop.State(); got != domain.RunStateStopped {
		t.Fatalf("expected STOPPED, got %s", got)
	}
	// Non-transient failures are not retried.
	if calls := model.callCount(); calls != 1 {
		t.Fatalf("expected a single model call, got %d", calls)
	}

	events, err := eng.log.Read(eng.loop.RunID())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	errorEvents := eventsOfType(events, domain.EventTypeError)
	if len(errorEvents) != 1 {
		t.Fatalf("expected exactly one error event, got %d", len(errorEvents))
	}
	// The error event is terminal: nothing follows it.
	if last := events[len(events)-1]; last.Type != domain.EventTypeError {
		t.Fatalf("expected error to be the last event, got %s", last.Type)
	}

	if err := eng.loop.Apply(domain.ControlCommand{Action: domain.ControlActionPause}); !errors.Is(err, ErrNoActiveRun) {
		t.Fatalf("expected ErrNoActiveRun after stop, got %v", err)
	}
	if err := eng.loop.InjectPrompt(domain.PromptCommand{
		Actor:   domain.ActorUser,
		RouteTo: domain.RouteCode,
		Content: []domain.ContentPart{domain.TextPart("hello")},
	}); !errors.Is(err, ErrNoActiveRun) {
		t.Fatalf("expected ErrNoActiveRun after stop, got %v", err)
	}
}

func TestLoopTransientFailuresAreRetried(t *testing.T) {
	model := &stubModel{}
	capturer := &stubCapturer{failCount: 2, err: flakyErr{msg: "screenshot service busy"}}
	eng := newTestEngine(t, model, capturer, LoopConfig{IterationBudget: 1, StepDelay: 5 * time.Millisecond})

	if err := eng.loop.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, eng.loop)

	if calls := capturer.callCount(); calls != 3 {
		t.Fatalf("expected 2 retries then success, got %d calls", calls)
	}

	events, err := eng.log.Read(eng.loop.RunID())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if errs := eventsOfType(events, domain.EventTypeError); len(errs) != 0 {
		t.Fatalf("transient failures must never surface as events: %+v", errs)
	}
	if got := len(eventsOfType(events, domain.EventTypeResponseReceived)); got != 1 {
		t.Fatalf("expected one response.received, got %d", got)
	}
	if got := len(eventsOfType(events, domain.EventTypeScreenshotCaptured)); got != 1 {
		t.Fatalf("expected one screenshot.captured, got %d", got)
	}
}

func TestLoopStartTwiceFails(t *testing.T) {
	model := &stubModel{}
	capturer := &stubCapturer{}
	eng := newTestEngine(t, model, capturer, LoopConfig{IterationBudget: 1, StepDelay: time.Millisecond})

	if err := eng.loop.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := eng.loop.Start(context.Background()); err == nil {
		t.Fatalf("expected second Start to fail")
	}
	waitDone(t, eng.loop)
}

func TestLoopContextCancelStopsQuietly(t *testing.T) {
	model := &stubModel{}
	capturer := &stubCapturer{}
	eng := newTestEngine(t, model, capturer, LoopConfig{StepDelay: 50 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	if err := eng.loop.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()
	waitDone(t, eng.loop)

	if got := eng.loop.State(); got != domain.RunStateStopped {
		t.Fatalf("expected STOPPED, got %s", got)
	}
}
