package rtc

import (
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v3/pkg/media"
)

type fakeTrack struct{ writes int32 }

func (f *fakeTrack) WriteSample(s media.Sample) error {
	atomic.AddInt32(&f.writes, 1)
	return nil
}

func TestOpusSpeaker_PacerWritesFrames(t *testing.T) {
	ft := &fakeTrack{}
	s := &OpusSpeaker{
		enc:          nil, // encoder not needed for this test
		out:          ft,
		frameSamples: 960,
		frames:       make(chan []byte, 8),
		stopCh:       make(chan struct{}),
		gain:         1.0,
	}
	done := make(chan struct{})
	go func() { s.pacer(); close(done) }()

	for i := 0; i < 3; i++ {
		s.pushFrame([]byte{0x01, 0x02})
	}

	time.Sleep(50 * time.Millisecond)
	close(s.stopCh)
	<-done

	if atomic.LoadInt32(&ft.writes) == 0 {
		t.Fatalf("expected pacer to write at least one frame")
	}
	if !s.Active(time.Second) {
		t.Fatalf("expected speaker to report recent playback")
	}
}

func TestOpusSpeaker_ResetDrains(t *testing.T) {
	s := &OpusSpeaker{
		enc:          nil,
		out:          &fakeTrack{},
		frameSamples: 960,
		frames:       make(chan []byte, 8),
		stopCh:       make(chan struct{}),
		pcmBuf:       []int16{1, 2, 3},
		gain:         1.0,
	}
	s.frames <- []byte{0x01}
	s.frames <- []byte{0x02}
	s.Reset()
	select {
	case <-s.frames:
		t.Fatalf("expected frames channel to be drained")
	default:
	}
	if len(s.pcmBuf) != 0 {
		t.Fatalf("expected pcmBuf to be reset, got len=%d", len(s.pcmBuf))
	}
}

func TestOpusSpeaker_SetGainClamps(t *testing.T) {
	s := &OpusSpeaker{gain: 1.0}
	s.SetGain(2.5)
	if s.gain != 1.0 {
		t.Fatalf("expected gain clamped to 1.0, got %v", s.gain)
	}
	s.SetGain(-1)
	if s.gain != 0 {
		t.Fatalf("expected gain clamped to 0, got %v", s.gain)
	}
	s.SetGain(0.4)
	if s.gain != 0.4 {
		t.Fatalf("expected gain 0.4, got %v", s.gain)
	}
}

func TestAuthOK(t *testing.T) {
	mk := func(header, value, query string) bool {
		r := httptest.NewRequest("GET", "/ws"+query, nil)
		if header != "" {
			r.Header.Set(header, value)
		}
		return AuthOK(r, "secret")
	}
	if !AuthOK(nil, "") {
		t.Fatalf("no configured password should pass")
	}
	if AuthOK(nil, "secret") {
		t.Fatalf("nil request must fail when a password is set")
	}
	if !mk("Authorization", "Bearer secret", "") {
		t.Fatalf("bearer token should pass")
	}
	if !mk("Authorization", "bearer secret", "") {
		t.Fatalf("lowercase bearer prefix should pass")
	}
	if !mk("X-Auth-Token", "secret", "") {
		t.Fatalf("x-auth-token should pass")
	}
	if !mk("", "", "?password=secret") {
		t.Fatalf("query password should pass")
	}
	if mk("Authorization", "Bearer wrong", "") {
		t.Fatalf("wrong token must fail")
	}
	if mk("X-Auth-Token", "wrong", "") {
		t.Fatalf("wrong x-auth-token must fail")
	}
	if mk("", "", "?password=wrong") {
		t.Fatalf("wrong query password must fail")
	}
	if mk("", "", "") {
		t.Fatalf("no credentials must fail")
	}
}
