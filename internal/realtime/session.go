package realtime

import (
	"context"
	"fmt"
	"log"
	"time"
)

// fallbackTTL is how long a synthesized fallback session stays "valid" so
// the UI state machine can keep moving while the backend is down.
const fallbackTTL = 5 * time.Minute

// SessionManager creates, validates and closes realtime sessions. It is
// stateless aside from its transport and may be shared across orchestrators.
type SessionManager struct {
	transport Transport
	now       func() time.Time
}

func NewSessionManager(t Transport) *SessionManager {
	return &SessionManager{transport: t, now: time.Now}
}

// Create returns a usable session for the given config. Transport failures
// (rate limits included) and malformed provider payloads never surface as
// errors: the manager synthesizes a fallback session so callers can proceed
// in degraded mode. Callers that care can branch on Session.Kind.
func (m *SessionManager) Create(ctx context.Context, cfg Config) *Session {
	sess, err := m.transport.CreateSession(ctx, cfg)
	if err != nil {
		log.Printf("[%s] session create failed, degrading to fallback: %v", cfg.SessionID, err)
		return m.fallbackSession(cfg)
	}
	if sess == nil || sess.ID == "" || sess.ClientSecret == "" {
		log.Printf("[%s] session payload incomplete, degrading to fallback", cfg.SessionID)
		return m.fallbackSession(cfg)
	}
	sess.Config = cfg
	sess.Kind = KindReal
	sess.Status = SessionConnected
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = m.now()
	}
	return sess
}

// Close is best-effort: transport errors are logged, never raised.
func (m *SessionManager) Close(ctx context.Context, sess *Session) {
	if sess == nil {
		return
	}
	sess.Status = SessionDisconnected
	if sess.Kind == KindFallback {
		return
	}
	if err := m.transport.CloseSession(ctx, sess); err != nil {
		log.Printf("[%s] session close error: %v", sess.ID, err)
	}
}

// Validate reports whether the session is still usable. Expired sessions
// and probe failures both yield false, never an error.
func (m *SessionManager) Validate(ctx context.Context, sess *Session) bool {
	if sess == nil || sess.ID == "" {
		return false
	}
	if sess.Expired(m.now()) {
		return false
	}
	if sess.Kind == KindFallback {
		return true
	}
	if err := m.transport.ProbeSession(ctx, sess); err != nil {
		log.Printf("[%s] session probe failed: %v", sess.ID, err)
		return false
	}
	return true
}

func (m *SessionManager) fallbackSession(cfg Config) *Session {
	now := m.now()
	return &Session{
		ID:           fmt.Sprintf("fallback-%s", cfg.SessionID),
		ClientSecret: "fallback-credential",
		ExpiresAt:    now.Add(fallbackTTL),
		Config:       cfg,
		Status:       SessionConnected,
		Kind:         KindFallback,
		CreatedAt:    now,
	}
}
