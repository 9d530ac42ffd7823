package events

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestBus_EmitDeliversToTypeAndWildcard(t *testing.T) {
	b := NewBus()
	var typed, wild int32
	b.On(ConversationStarted, func(Event) { atomic.AddInt32(&typed, 1) })
	b.On("*", func(Event) { atomic.AddInt32(&wild, 1) })

	b.Emit(Event{Type: ConversationStarted, SessionID: "s1"})
	b.Emit(Event{Type: ConversationEnded, SessionID: "s1"})

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&typed) == 1 && atomic.LoadInt32(&wild) == 2 {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("delivery incomplete: typed=%d wild=%d", typed, wild)
}

func TestBus_OffStopsDelivery(t *testing.T) {
	b := NewBus()
	var n int32
	id := b.On(ConversationError, func(Event) { atomic.AddInt32(&n, 1) })
	b.Off(ConversationError, id)
	b.Emit(Event{Type: ConversationError})
	time.Sleep(30 * time.Millisecond)
	if atomic.LoadInt32(&n) != 0 {
		t.Fatalf("expected no delivery after Off")
	}
}

func TestBus_EmitSurvivesHandlerPanic(t *testing.T) {
	b := NewBus()
	var ok int32
	b.On(PlaybackStarted, func(Event) { panic("boom") })
	b.On(PlaybackStarted, func(Event) { atomic.AddInt32(&ok, 1) })
	b.Emit(Event{Type: PlaybackStarted})

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&ok) == 1 {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("healthy handler starved by panicking sibling")
}

func TestBus_EmitSetsTimestamp(t *testing.T) {
	b := NewBus()
	got := make(chan Event, 1)
	b.On(RecordingStarted, func(ev Event) { got <- ev })
	b.Emit(Event{Type: RecordingStarted})
	select {
	case ev := <-got:
		if ev.Timestamp.IsZero() {
			t.Fatalf("expected timestamp stamped on emit")
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for event")
	}
}
