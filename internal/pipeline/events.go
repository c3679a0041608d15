package pipeline

import (
	"time"
)

// EventKind is a job lifecycle event
type EventKind string

const (
	EventActive    EventKind = "active"
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventStalled   EventKind = "stalled"
)

// Event describes one lifecycle transition of a job on a queue
type Event struct {
	Kind     EventKind
	Queue    string
	JobID    string
	Attempt  int
	Duration time.Duration
	Progress string
	Err      error
	// Retrying is set on failed events that will be re-delivered
	Retrying bool
}

// EventListener observes lifecycle events. Listeners run synchronously on
// the worker goroutine and must not block.
type EventListener func(Event)
