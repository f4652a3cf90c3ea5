package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/dage/vibe-coding-iterator/internal/domain"
)

// EventLog is the durable, ordered, append-only record of every event for a
// run, stored as newline-delimited JSON keyed by run id. Append is the only
// mutation; reads always yield events in exact append order.
type EventLog struct {
	paths *Paths
}

// NewEventLog creates an event log over the given storage layout.
func NewEventLog(paths *Paths) *EventLog {
	return &EventLog{paths: paths}
}

// Append writes one event to the run's log file. The caller (the run loop,
// via the bus) serializes appends; this method does not lock.
func (l *EventLog) Append(ev domain.Event) error {
	path, err := l.paths.EventsPath(ev.RunID)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// Read returns every event logged for the run, in append order. A run with
// no log yet reads as empty, not as an error.
func (l *EventLog) Read(runID string) ([]domain.Event, error) {
	path, err := l.paths.EventsPath(runID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	defer f.Close()

	var events []domain.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev domain.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("failed to decode event log line: %w", err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read event log: %w", err)
	}
	return events, nil
}
