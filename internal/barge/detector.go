// Package barge detects the user speaking over assistant playback so the
// host can cut playback immediately. Two cues are fused over a short
// window: voice energy in the microphone feed and growth of the running
// transcript, with spoken assistant words discounted to avoid echo
// triggering.
package barge

import (
	"encoding/binary"
	"math"
	"strings"
	"sync"
	"time"
)

// Config holds the detector thresholds.
type Config struct {
	SampleRate   int     // mic feed sample rate, 16000 typical
	VoiceRMS     float64 // per-frame energy floor counted as speech
	FuseWindowMs int     // voting window length
	TriggerRatio float64 // fraction of positive votes that fires
	ASRTokens    int     // new transcript tokens counted as speech evidence
}

// DefaultConfig is tuned for a headset over WebRTC.
func DefaultConfig() Config {
	return Config{
		SampleRate:   16000,
		VoiceRMS:     300.0,
		FuseWindowMs: 150,
		TriggerRatio: 2.0 / 3.0,
		ASRTokens:    2,
	}
}

// Events lets the host react to a barge-in.
type Events struct {
	// OnTrigger fires once per barge-in while speaking is on.
	OnTrigger func(ts time.Time)
}

// Detector fuses per-frame voice energy with transcript growth. Feed it
// 16-bit little-endian mono PCM; it segments into 10ms frames internally.
type Detector struct {
	cfg Config
	ev  Events

	mu          sync.Mutex
	speaking    bool
	votes       []bool
	lastPartial string
	tokenCount  int
	spokenWords map[string]struct{}
	asrEvidence bool
}

func NewDetector(cfg Config, ev Events) *Detector {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.VoiceRMS == 0 {
		cfg.VoiceRMS = 300.0
	}
	if cfg.FuseWindowMs == 0 {
		cfg.FuseWindowMs = 150
	}
	if cfg.TriggerRatio == 0 {
		cfg.TriggerRatio = 2.0 / 3.0
	}
	if cfg.ASRTokens == 0 {
		cfg.ASRTokens = 2
	}
	return &Detector{cfg: cfg, ev: ev, spokenWords: make(map[string]struct{})}
}

// SetSpeaking toggles detection; votes only accumulate while playback runs.
func (d *Detector) SetSpeaking(on bool) {
	d.mu.Lock()
	if on != d.speaking {
		d.votes = d.votes[:0]
		d.asrEvidence = false
	}
	d.speaking = on
	d.mu.Unlock()
}

// NotifyPartial supplies the running transcript; token growth beyond the
// configured count registers as speech evidence.
func (d *Detector) NotifyPartial(text string) {
	tokens := strings.Fields(strings.ToLower(text))
	d.mu.Lock()
	defer d.mu.Unlock()
	fresh := 0
	for i := d.tokenCount; i < len(tokens); i++ {
		if _, echoed := d.spokenWords[tokens[i]]; echoed {
			continue
		}
		fresh++
	}
	if len(tokens) > d.tokenCount {
		d.tokenCount = len(tokens)
	}
	d.lastPartial = text
	if fresh >= d.cfg.ASRTokens {
		d.asrEvidence = true
	}
}

// NotifySpoken records assistant words so their echo does not count as
// transcript growth.
func (d *Detector) NotifySpoken(text string) {
	d.mu.Lock()
	for _, w := range strings.Fields(strings.ToLower(text)) {
		d.spokenWords[w] = struct{}{}
	}
	d.mu.Unlock()
}

// FeedMic consumes microphone PCM and may fire OnTrigger.
func (d *Detector) FeedMic(pcm []byte) {
	samplesPerFrame := d.cfg.SampleRate / 100
	frameBytes := samplesPerFrame * 2
	for off := 0; off+frameBytes <= len(pcm); off += frameBytes {
		d.onFrame(pcm[off : off+frameBytes])
	}
}

// Reset clears the vote window and transcript evidence.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.votes = d.votes[:0]
	d.asrEvidence = false
	d.lastPartial = ""
	d.tokenCount = 0
	d.mu.Unlock()
}

func (d *Detector) onFrame(frame []byte) {
	var sum float64
	n := len(frame) / 2
	for i := 0; i < n; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(frame[2*i : 2*i+2])))
		sum += v * v
	}
	voiced := math.Sqrt(sum/float64(n)) >= d.cfg.VoiceRMS

	d.mu.Lock()
	if !d.speaking {
		d.mu.Unlock()
		return
	}
	vote := voiced || d.asrEvidence
	d.votes = append(d.votes, vote)
	maxVotes := d.cfg.FuseWindowMs / 10
	if maxVotes < 1 {
		maxVotes = 1
	}
	if len(d.votes) > maxVotes {
		d.votes = d.votes[len(d.votes)-maxVotes:]
	}
	fire := false
	if len(d.votes) == maxVotes {
		positive := 0
		for _, v := range d.votes {
			if v {
				positive++
			}
		}
		if float64(positive)/float64(len(d.votes)) >= d.cfg.TriggerRatio {
			fire = true
			d.votes = d.votes[:0]
			d.asrEvidence = false
			d.speaking = false // re-armed by the next SetSpeaking(true)
		}
	}
	trigger := d.ev.OnTrigger
	d.mu.Unlock()

	if fire && trigger != nil {
		trigger(time.Now())
	}
}
