// Package events provides the outbound lifecycle event bus the orchestrator
// publishes through. A Bus may be shared across orchestrators; SessionID on
// each event scopes it to one conversation.
package events

import (
	"log"
	"sync"
	"time"
)

// Lifecycle event types emitted by the conversation core.
const (
	ConversationStarted    = "conversation.started"
	ConversationEnded      = "conversation.ended"
	ConversationError      = "conversation.error"
	RecordingStarted       = "audio.recording.started"
	RecordingStopped       = "audio.recording.stopped"
	TranscriptionCompleted = "audio.transcription.completed"
	ResponseReceived       = "conversation.response.received"
	PlaybackStarted        = "audio.playback.started"
	ExchangeSaved          = "conversation.exchange.saved"
)

// Event is one lifecycle notification. Payload contents vary by type.
type Event struct {
	Type      string
	SessionID string
	Timestamp time.Time
	Payload   map[string]any
}

// Handler consumes events. Handlers run on their own goroutine; the emitter
// never waits for them.
type Handler func(Event)

type subscription struct {
	id      int
	handler Handler
}

// Bus is a per-orchestrator emit/on/off registry.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[string][]subscription
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string][]subscription)}
}

// On registers a handler for an event type and returns a subscription id
// for Off. The type "*" receives every event.
func (b *Bus) On(eventType string, h Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs[eventType] = append(b.subs[eventType], subscription{id: b.nextID, handler: h})
	return b.nextID
}

// Off removes a subscription by id. Unknown ids are ignored.
func (b *Bus) Off(eventType string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[eventType]
	for i, s := range list {
		if s.id == id {
			b.subs[eventType] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Emit delivers the event to all handlers for its type plus wildcard
// subscribers. Delivery is asynchronous and panic-isolated so a broken
// consumer cannot stall or crash the conversation core.
func (b *Bus) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	b.mu.Lock()
	targets := make([]Handler, 0, len(b.subs[ev.Type])+len(b.subs["*"]))
	for _, s := range b.subs[ev.Type] {
		targets = append(targets, s.handler)
	}
	for _, s := range b.subs["*"] {
		targets = append(targets, s.handler)
	}
	b.mu.Unlock()

	for _, h := range targets {
		h := h
		go func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("event handler panic for %s: %v", ev.Type, r)
				}
			}()
			h(ev)
		}()
	}
}
