package realtime

import (
	"context"
	"errors"
)

// ErrRateLimited is returned by transports when the provider rejects
// session creation with a rate-limit response.
var ErrRateLimited = errors.New("realtime: rate limited")

// ErrMalformedSession is returned when the provider answered success but the
// payload is missing the session id or credential.
var ErrMalformedSession = errors.New("realtime: malformed session payload")

// LocalTrack is the opaque local audio source handed through to the
// transport. The pion transport expects a webrtc.TrackLocal; fakes may pass
// anything.
type LocalTrack interface{}

// Events are the transport-level callbacks a stream surfaces while active.
// Any field may be nil.
type Events struct {
	OnTranscript       func(text string)
	OnResponse         func(text string)
	OnAudioResponse    func(pcm []byte)
	OnError            func(err error)
	OnConnectionChange func(state string)
}

// Channel is an open media/event channel produced by Transport.OpenChannel.
type Channel interface {
	// Send forwards one audio chunk to the remote peer.
	Send(chunk []byte) error
	Close() error
}

// Transport abstracts the concrete realtime provider. A WebRTC-shaped
// implementation lives in this package; tests substitute fakes.
type Transport interface {
	// CreateSession exchanges the API credential for an ephemeral session.
	CreateSession(ctx context.Context, cfg Config) (*Session, error)
	// CloseSession releases provider-side session state.
	CloseSession(ctx context.Context, sess *Session) error
	// ProbeSession checks liveness of an unexpired session.
	ProbeSession(ctx context.Context, sess *Session) error
	// OpenChannel negotiates the bidirectional media channel for a session,
	// attaching the local track before the offer is generated.
	OpenChannel(ctx context.Context, sess *Session, track LocalTrack, ev Events) (Channel, error)
}
