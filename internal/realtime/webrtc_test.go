package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func TestWebRTCTransport_CreateSession_NoKey(t *testing.T) {
	tr := NewWebRTCTransport("", "", "")
	if _, err := tr.CreateSession(context.Background(), Config{Model: "m"}); err == nil {
		t.Fatalf("expected error with missing api key")
	}
}

func TestWebRTCTransport_CreateSession_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/realtime/sessions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("missing bearer auth")
		}
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"id":"sess_123","client_secret":{"value":"eph_abc","expires_at":` +
			timeUnixPlusMinute() + `}}`))
	}))
	defer srv.Close()

	tr := NewWebRTCTransport("key", srv.URL, "")
	sess, err := tr.CreateSession(context.Background(), Config{Model: "m", Voice: "alloy"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sess.ID != "sess_123" || sess.ClientSecret != "eph_abc" {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if !sess.ExpiresAt.After(time.Now()) {
		t.Fatalf("expected future expiry")
	}
}

func TestWebRTCTransport_CreateSession_Failures(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{"rate_limited", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(429) }, ErrRateLimited},
		{"missing_secret", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(200)
			_, _ = w.Write([]byte(`{"id":"sess_123"}`))
		}, ErrMalformedSession},
		{"missing_id", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(200)
			_, _ = w.Write([]byte(`{"client_secret":{"value":"x"}}`))
		}, ErrMalformedSession},
		{"server_error", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500) }, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()
			tr := NewWebRTCTransport("key", srv.URL, "")
			_, err := tr.CreateSession(context.Background(), Config{Model: "m"})
			if err == nil {
				t.Fatalf("expected error")
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("got %v want %v", err, tc.wantErr)
			}
		})
	}
}

func TestWebRTCTransport_ProbeSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/models" {
			w.WriteHeader(200)
			return
		}
		w.WriteHeader(404)
	}))
	defer srv.Close()
	tr := NewWebRTCTransport("key", srv.URL, "")
	if err := tr.ProbeSession(context.Background(), realSession("s")); err != nil {
		t.Fatalf("probe: %v", err)
	}
}

func TestParseICEServers(t *testing.T) {
	servers := ParseICEServers(`[{"urls":["stun:stun.example.com:3478"]}]`)
	if len(servers) != 1 || servers[0].URLs[0] != "stun:stun.example.com:3478" {
		t.Fatalf("unexpected servers: %+v", servers)
	}
	servers = ParseICEServers(`[{"urls":["turn:turn.example:3478"],"username":"u","credential":"c"}]`)
	if len(servers) != 1 || servers[0].URLs[0] != "turn:turn.example:3478" {
		t.Fatalf("unexpected turn servers: %+v", servers)
	}
	// Invalid JSON falls back to the default STUN server.
	servers = ParseICEServers("nope")
	if len(servers) != 1 || servers[0].URLs[0] != "stun:stun.l.google.com:19302" {
		t.Fatalf("expected default fallback, got %+v", servers)
	}
}

func timeUnixPlusMinute() string {
	return strconv.FormatInt(time.Now().Add(time.Minute).Unix(), 10)
}
