package realtime

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeTransport struct {
	createErr   error
	createSess  *Session
	probeErr    error
	closeErr    error
	openErr     error
	openCh      *fakeChannel
	openedTrack LocalTrack
	openedEv    Events
	closeCalls  int
}

type fakeChannel struct {
	sent   [][]byte
	closed bool
}

func (c *fakeChannel) Send(chunk []byte) error {
	b := make([]byte, len(chunk))
	copy(b, chunk)
	c.sent = append(c.sent, b)
	return nil
}
func (c *fakeChannel) Close() error { c.closed = true; return nil }

func (f *fakeTransport) CreateSession(ctx context.Context, cfg Config) (*Session, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.createSess, nil
}
func (f *fakeTransport) CloseSession(ctx context.Context, sess *Session) error {
	f.closeCalls++
	return f.closeErr
}
func (f *fakeTransport) ProbeSession(ctx context.Context, sess *Session) error { return f.probeErr }
func (f *fakeTransport) OpenChannel(ctx context.Context, sess *Session, track LocalTrack, ev Events) (Channel, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.openedTrack = track
	f.openedEv = ev
	if f.openCh == nil {
		f.openCh = &fakeChannel{}
	}
	return f.openCh, nil
}

func realSession(id string) *Session {
	return &Session{
		ID:           id,
		ClientSecret: "secret",
		ExpiresAt:    time.Now().Add(time.Minute),
		Status:       SessionConnected,
		Kind:         KindReal,
		CreatedAt:    time.Now(),
	}
}

func TestSessionManager_CreateSuccess(t *testing.T) {
	ft := &fakeTransport{createSess: realSession("sess-abc")}
	m := NewSessionManager(ft)
	sess := m.Create(context.Background(), Config{SessionID: "conv-1", Model: "m", Voice: "alloy"})
	if sess.Kind != KindReal {
		t.Fatalf("expected real session, got %s", sess.Kind)
	}
	if sess.Config.SessionID != "conv-1" {
		t.Fatalf("expected config carried onto session")
	}
	if sess.Status != SessionConnected {
		t.Fatalf("expected connected status, got %s", sess.Status)
	}
}

func TestSessionManager_FallbackOnRateLimit(t *testing.T) {
	ft := &fakeTransport{createErr: ErrRateLimited}
	m := NewSessionManager(ft)
	sess := m.Create(context.Background(), Config{SessionID: "conv-1"})
	if sess == nil {
		t.Fatalf("expected fallback session, got nil")
	}
	if sess.ID == "" || sess.ClientSecret == "" {
		t.Fatalf("fallback session must have non-empty id and credential: %+v", sess)
	}
	if !sess.ExpiresAt.After(time.Now()) {
		t.Fatalf("fallback session must expire in the future")
	}
	if sess.Kind != KindFallback {
		t.Fatalf("expected fallback kind")
	}
}

func TestSessionManager_FallbackOnMalformedPayload(t *testing.T) {
	// Transport "succeeds" but the payload is missing the credential.
	ft := &fakeTransport{createSess: &Session{ID: "sess-abc"}}
	m := NewSessionManager(ft)
	sess := m.Create(context.Background(), Config{SessionID: "conv-1"})
	if sess.Kind != KindFallback {
		t.Fatalf("expected fallback for incomplete payload, got %s", sess.Kind)
	}
}

func TestSessionManager_ValidateExpiry(t *testing.T) {
	ft := &fakeTransport{}
	m := NewSessionManager(ft)
	sess := realSession("sess-abc")
	sess.ExpiresAt = time.Now().Add(-time.Second)
	if m.Validate(context.Background(), sess) {
		t.Fatalf("expected expired session to be invalid")
	}
}

func TestSessionManager_ValidateProbeFailureReturnsFalse(t *testing.T) {
	ft := &fakeTransport{probeErr: errors.New("unreachable")}
	m := NewSessionManager(ft)
	if m.Validate(context.Background(), realSession("sess-abc")) {
		t.Fatalf("expected probe failure to yield false")
	}
}

func TestSessionManager_ValidateFallbackSkipsProbe(t *testing.T) {
	ft := &fakeTransport{probeErr: errors.New("unreachable")}
	m := NewSessionManager(ft)
	sess := m.Create(context.Background(), Config{SessionID: "conv-1"})
	ft.createErr = ErrRateLimited
	if !m.Validate(context.Background(), sess) {
		// A fallback session is valid until its synthetic expiry.
		if sess.Kind == KindFallback && !sess.Expired(time.Now()) {
			t.Fatalf("unexpired fallback session should validate")
		}
	}
}

func TestSessionManager_CloseBestEffort(t *testing.T) {
	ft := &fakeTransport{closeErr: errors.New("boom")}
	m := NewSessionManager(ft)
	sess := realSession("sess-abc")
	m.Close(context.Background(), sess) // must not panic or propagate
	if sess.Status != SessionDisconnected {
		t.Fatalf("expected disconnected after close")
	}
	if ft.closeCalls != 1 {
		t.Fatalf("expected transport close attempted")
	}

	// Fallback sessions never hit the transport.
	fb := m.fallbackSession(Config{SessionID: "x"})
	m.Close(context.Background(), fb)
	if ft.closeCalls != 1 {
		t.Fatalf("fallback close must not call transport")
	}
}
