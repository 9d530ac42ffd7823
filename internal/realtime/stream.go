package realtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// DefaultHealthTimeout bounds how long WaitUntilActive blocks before the
// caller treats the channel negotiation as failed.
const DefaultHealthTimeout = 10 * time.Second

// ErrStreamInactive is returned by SendChunk on a stopped or never-activated
// stream.
var ErrStreamInactive = errors.New("realtime: stream is not active")

// ErrHealthTimeout is returned when a stream fails to become active within
// the connection-health wait deadline.
var ErrHealthTimeout = errors.New("realtime: timed out waiting for stream to become active")

// StreamManager owns the streaming channel lifecycle on top of sessions.
type StreamManager struct {
	transport Transport

	mu       sync.Mutex
	active   map[string]*Stream // keyed by session id
	channels map[string]Channel // keyed by stream id
}

func NewStreamManager(t Transport) *StreamManager {
	return &StreamManager{
		transport: t,
		active:    make(map[string]*Stream),
		channels:  make(map[string]Channel),
	}
}

// Start negotiates a stream for the session with the local track attached.
// Invalid sessions fail fast; fallback sessions short-circuit to fallback
// streams; setup failures against a real session also degrade to a fallback
// stream rather than propagating. The returned stream is recorded in the
// active set before Start returns.
func (m *StreamManager) Start(ctx context.Context, sess *Session, track LocalTrack, ev Events) (*Stream, error) {
	if sess == nil || sess.ID == "" || sess.ClientSecret == "" {
		return nil, errors.New("realtime: session missing id or credential")
	}

	m.mu.Lock()
	if existing, ok := m.active[sess.ID]; ok && existing.IsActive() {
		m.mu.Unlock()
		return nil, fmt.Errorf("realtime: session %s already has an active stream", sess.ID)
	}
	m.mu.Unlock()

	if sess.Kind == KindFallback {
		st := m.fallbackStream(sess)
		m.record(st, nil)
		return st, nil
	}

	st := newStream(fmt.Sprintf("stream-%s", sess.ID), sess, KindReal)
	wrapped := ev
	wrapped.OnConnectionChange = func(state string) {
		switch state {
		case "connected":
			st.markActive()
		case "disconnected", "failed", "closed":
			st.markInactive()
		}
		if ev.OnConnectionChange != nil {
			ev.OnConnectionChange(state)
		}
	}

	ch, err := m.transport.OpenChannel(ctx, sess, track, wrapped)
	if err != nil {
		log.Printf("[%s] stream setup failed, degrading to fallback: %v", sess.ID, err)
		st = m.fallbackStream(sess)
		m.record(st, nil)
		return st, nil
	}

	m.record(st, ch)
	return st, nil
}

// Stop tears down the stream's channel and removes it from the active set.
// Failures are swallowed; stopping is best-effort.
func (m *StreamManager) Stop(st *Stream) {
	if st == nil {
		return
	}
	m.mu.Lock()
	ch := m.channels[st.ID]
	delete(m.channels, st.ID)
	if st.Session != nil {
		delete(m.active, st.Session.ID)
	}
	m.mu.Unlock()

	st.markInactive()
	if ch != nil {
		if err := ch.Close(); err != nil {
			log.Printf("[%s] stream close error: %v", st.ID, err)
		}
	}
}

// SendChunk forwards one audio chunk. Inactive streams reject with
// ErrStreamInactive. On a fallback stream the bytes are dropped but the
// counters still advance; callers should check Stream.Degraded before
// treating the count as delivery.
func (m *StreamManager) SendChunk(st *Stream, chunk []byte) error {
	if st == nil || !st.IsActive() {
		return ErrStreamInactive
	}
	st.countChunk()
	if st.Kind == KindFallback {
		return nil
	}
	m.mu.Lock()
	ch := m.channels[st.ID]
	m.mu.Unlock()
	if ch == nil {
		return ErrStreamInactive
	}
	return ch.Send(chunk)
}

// WaitUntilActive blocks until the stream reports active, the timeout
// elapses, or ctx is canceled. Channel negotiation is asynchronous; callers
// must not advance to a streaming state before this resolves.
func (m *StreamManager) WaitUntilActive(ctx context.Context, st *Stream, timeout time.Duration) error {
	if st == nil {
		return ErrStreamInactive
	}
	if timeout <= 0 {
		timeout = DefaultHealthTimeout
	}
	if st.IsActive() {
		return nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-st.Activated():
		return nil
	case <-timer.C:
		return ErrHealthTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *StreamManager) fallbackStream(sess *Session) *Stream {
	st := newStream(fmt.Sprintf("fallback-stream-%s", sess.ID), sess, KindFallback)
	st.markActive()
	return st
}

func (m *StreamManager) record(st *Stream, ch Channel) {
	m.mu.Lock()
	if st.Session != nil {
		m.active[st.Session.ID] = st
	}
	if ch != nil {
		m.channels[st.ID] = ch
	}
	m.mu.Unlock()
}
