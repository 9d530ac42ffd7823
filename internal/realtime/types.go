// Package realtime owns the lifecycle of sessions and streams against a
// remote realtime conversation provider. Session creation and stream setup
// degrade to fallback instances instead of failing hard, so the surrounding
// state machine keeps advancing when the backend is unreachable.
package realtime

import (
	"sync"
	"time"
)

// Kind tags sessions and streams as real or fallback so downstream code can
// branch deliberately instead of sniffing id prefixes.
type Kind int

const (
	KindReal Kind = iota
	KindFallback
)

func (k Kind) String() string {
	if k == KindFallback {
		return "fallback"
	}
	return "real"
}

// SessionStatus is the connection phase of a session.
type SessionStatus string

const (
	SessionConnecting   SessionStatus = "connecting"
	SessionConnected    SessionStatus = "connected"
	SessionDisconnected SessionStatus = "disconnected"
	SessionError        SessionStatus = "error"
)

// Config is the caller-supplied, immutable session configuration.
type Config struct {
	SessionID    string
	Model        string
	Voice        string
	Language     string
	Instructions string
	Temperature  float64
}

// Session holds the ephemeral credential minted for one streaming session.
// It becomes invalid once ExpiresAt passes.
type Session struct {
	ID           string
	ClientSecret string
	ExpiresAt    time.Time
	Config       Config
	Status       SessionStatus
	Kind         Kind
	CreatedAt    time.Time
}

// Expired reports whether the session's credential has lapsed.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Stream is one live bidirectional media channel on top of a session. At
// most one active stream exists per session.
type Stream struct {
	ID        string
	Session   *Session
	Kind      Kind
	StartTime time.Time

	mu             sync.Mutex
	active         bool
	chunksSent     int64
	lastActivityAt time.Time
	activated      chan struct{}
	activateOnce   sync.Once
}

func newStream(id string, sess *Session, kind Kind) *Stream {
	return &Stream{
		ID:        id,
		Session:   sess,
		Kind:      kind,
		StartTime: time.Now(),
		activated: make(chan struct{}),
	}
}

// IsActive reports whether the channel is negotiated and usable.
func (st *Stream) IsActive() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.active
}

// ChunksSent reports how many audio chunks have been forwarded (or, on a
// fallback stream, counted).
func (st *Stream) ChunksSent() int64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.chunksSent
}

// LastActivity reports the time of the most recent chunk send.
func (st *Stream) LastActivity() time.Time {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.lastActivityAt
}

// Degraded reports whether sends on this stream are counted no-ops rather
// than real transmissions.
func (st *Stream) Degraded() bool { return st.Kind == KindFallback }

func (st *Stream) markActive() {
	st.mu.Lock()
	st.active = true
	st.mu.Unlock()
	st.activateOnce.Do(func() { close(st.activated) })
}

func (st *Stream) markInactive() {
	st.mu.Lock()
	st.active = false
	st.mu.Unlock()
}

func (st *Stream) countChunk() {
	st.mu.Lock()
	st.chunksSent++
	st.lastActivityAt = time.Now()
	st.mu.Unlock()
}

// Activated exposes the activation signal used by the connection-health
// wait. The channel closes once, when the stream first becomes active.
func (st *Stream) Activated() <-chan struct{} { return st.activated }
