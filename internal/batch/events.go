package batch

import (
	"imagebatch/internal/domain"
	"imagebatch/internal/providers/image"
)

// EventType names a coordinator notification.
type EventType string

const (
	EventTaskUpdated EventType = "task.updated"
	EventTaskDeleted EventType = "task.deleted"
	EventProgress    EventType = "task.progress"
	EventState       EventType = "batch.state"
	EventCleared     EventType = "batch.cleared"
)

// Event is pushed to the Listener after the store has been updated.
type Event struct {
	Type     EventType       `json:"type"`
	Task     *domain.Task    `json:"task,omitempty"`
	Progress *image.Progress `json:"progress,omitempty"`
	State    *State          `json:"state,omitempty"`
}

// Listener receives events. It is called from dispatch goroutines and must
// not block.
type Listener func(Event)

// State is a point-in-time view of the run.
type State struct {
	Active    bool `json:"active"`
	Paused    bool `json:"paused"`
	Queued    int  `json:"queued"`
	InFlight  int  `json:"in_flight"`
	BatchSize int  `json:"batch_size"`
}
