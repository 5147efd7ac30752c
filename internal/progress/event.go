package progress

import "tubegrab/internal/model"

// EventKind distinguishes job updates from removals.
type EventKind string

const (
	EventUpdate  EventKind = "update"
	EventRemoved EventKind = "removed" // job left the visible queue
)

// Event carries a job snapshot to subscribers.
type Event struct {
	Kind EventKind `json:"kind"`
	Job  model.Job `json:"job"`
}

// Update wraps a snapshot as an update event.
func Update(j model.Job) Event {
	return Event{Kind: EventUpdate, Job: j}
}

// Removed wraps the last snapshot of a job that was removed.
func Removed(j model.Job) Event {
	return Event{Kind: EventRemoved, Job: j}
}

// coalesces reports whether next may replace prev in a subscriber queue:
// both are plain updates for the same job in the same state.
func coalesces(prev, next Event) bool {
	return prev.Kind == EventUpdate && next.Kind == EventUpdate &&
		prev.Job.ID == next.Job.ID && prev.Job.State == next.Job.State
}
