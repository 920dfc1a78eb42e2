package organizer

import (
	"sync"

	"github.com/kozaktomas/face-organizer/internal/constants"
)

// Event types emitted while a job runs.
const (
	EventStarted   = "started"
	EventProgress  = "progress"
	EventMatch     = "match"
	EventCompleted = "completed"
	EventCancelled = "cancelled"
	EventError     = "job_error"
)

// Event represents an event from a job.
type Event struct {
	Type    string `json:"type"`
	JobID   string `json:"job_id"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// EventBroadcaster provides listener management and event broadcasting.
type EventBroadcaster struct {
	listeners []chan Event
	mu        sync.RWMutex
}

// AddListener adds an event listener.
func (b *EventBroadcaster) AddListener() chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, constants.EventChannelBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener removes an event listener and closes its channel.
func (b *EventBroadcaster) RemoveListener(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// SendEvent sends an event to all listeners.
func (b *EventBroadcaster) SendEvent(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}
