// Package engine implements the iteration engine: the run loop state machine,
// the in-process event bus, and the per-iteration handlers.
package engine

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/dage/vibe-coding-iterator/internal/domain"
	"github.com/dage/vibe-coding-iterator/internal/storage"
)

// DefaultQueueSize bounds each subscriber's delivery queue.
const DefaultQueueSize = 256

// Subscriber is a live observer attached to the bus. It owns only its
// bounded delivery queue; events are borrowed copies.
type Subscriber struct {
	ID string

	ch     chan domain.Event
	closed bool // guarded by the bus mutex
}

// Events returns the delivery channel. The channel closes when the
// subscriber is detached, either explicitly or by queue overflow.
func (s *Subscriber) Events() <-chan domain.Event {
	return s.ch
}

// Bus fans out every published event to all attached subscribers and to the
// event log, preserving publish order. The run loop is the sole publisher.
type Bus struct {
	log       *storage.EventLog
	queueSize int

	mu   sync.Mutex
	subs map[string]*Subscriber
}

// NewBus creates a bus over the given event log. queueSize <= 0 selects
// DefaultQueueSize.
func NewBus(log *storage.EventLog, queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{
		log:       log,
		queueSize: queueSize,
		subs:      make(map[string]*Subscriber),
	}
}

// Publish appends the event to the log first (durability before visibility),
// then delivers it to every subscriber's queue. A subscriber whose queue is
// full is disconnected rather than blocking the publisher.
func (b *Bus) Publish(ev domain.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.log.Append(ev); err != nil {
		return fmt.Errorf("failed to append event %d: %w", ev.Seq, err)
	}

	for id, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			// Overflow: drop the whole lagging subscriber, never reorder
			// or partially deliver.
			delete(b.subs, id)
			sub.closed = true
			close(sub.ch)
		}
	}
	return nil
}

// Subscribe attaches a new subscriber. For a non-empty run id the subscriber
// first receives a replay of all previously logged events for that run, then
// live events, with no gap and no duplicate in between. An empty run id
// attaches live-only.
func (b *Bus) Subscribe(runID string) (*Subscriber, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var replay []domain.Event
	if runID != "" {
		logged, err := b.log.Read(runID)
		if err != nil {
			return nil, fmt.Errorf("failed to replay run %s: %w", runID, err)
		}
		replay = logged
	}

	sub := &Subscriber{
		ID: "sub_" + uuid.New().String()[:8],
		ch: make(chan domain.Event, len(replay)+b.queueSize),
	}
	// Preload the replay under the same lock Publish holds, so a publish
	// racing with Subscribe lands strictly after the history.
	for _, ev := range replay {
		sub.ch <- ev
	}
	b.subs[sub.ID] = sub
	return sub, nil
}

// Unsubscribe detaches the subscriber and releases its queue. Detaching an
// already-dropped subscriber is a no-op.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub.closed {
		return
	}
	delete(b.subs, sub.ID)
	sub.closed = true
	close(sub.ch)
}

// SubscriberCount reports how many subscribers are currently attached.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
