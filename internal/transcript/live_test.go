package transcript

import (
	"encoding/binary"
	"testing"
	"time"
)

func TestObserveVoiceEnergy_LoudFrameUpdatesVoiceTime(t *testing.T) {
	tr := NewLiveTranscriber("test", "en")
	tr.accMu.Lock()
	tr.lastVoiceAt = time.Now().Add(-time.Minute)
	tr.accMu.Unlock()

	// 10ms of loud samples
	samples := make([]byte, 160*2)
	for i := 0; i < 160; i++ {
		binary.LittleEndian.PutUint16(samples[i*2:(i+1)*2], 3000)
	}
	tr.observeVoiceEnergy(samples)
	if !tr.RecentlyDetectedVoice(time.Second) {
		t.Fatalf("expected loud frame to register as voice")
	}
}

func TestObserveVoiceEnergy_SilentFrameIgnored(t *testing.T) {
	tr := NewLiveTranscriber("test", "en")
	tr.accMu.Lock()
	tr.lastVoiceAt = time.Now().Add(-time.Minute)
	tr.accMu.Unlock()

	tr.observeVoiceEnergy(make([]byte, 160*2))
	if tr.RecentlyDetectedVoice(time.Second) {
		t.Fatalf("silent frame must not register as voice")
	}
}

func TestUncommittedDelta(t *testing.T) {
	cases := []struct {
		latest, committed, want string
	}{
		{"hello there", "", "hello there"},
		{"hello there friend", "hello there", "friend"},
		{"hello there", "hello there", ""},
		{"", "", ""},
	}
	for _, tc := range cases {
		if got := uncommittedDelta(tc.latest, tc.committed); got != tc.want {
			t.Fatalf("uncommittedDelta(%q, %q) = %q, want %q", tc.latest, tc.committed, got, tc.want)
		}
	}
}

func TestHelpers_LastWordAndContinuation(t *testing.T) {
	if lastWord("") != "" {
		t.Fatalf("lastWord empty mismatch")
	}
	if lastWord("hi there!") != "there" {
		t.Fatalf("lastWord basic mismatch")
	}
	if !continuationLikely("we should and") {
		t.Fatalf("expected continuation likely when last word is 'and'")
	}
	if continuationLikely("complete sentence.") {
		t.Fatalf("did not expect continuation likely")
	}
}
