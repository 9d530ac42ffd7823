// Package rtc adapts a browser WebRTC leg to the orchestrator's audio
// device port: assistant audio is encoded and paced onto the outbound
// track, the browser microphone is captured and relayed inbound.
package rtc

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/webrtc/v3/pkg/media"
)

// sampleWriter is the outbound track surface the speaker writes to.
type sampleWriter interface {
	WriteSample(media.Sample) error
}

// OpusSpeaker encodes 48kHz mono PCM to Opus and writes 20ms frames paced
// to the outbound track. Gain is applied at encode time so volume changes
// take effect on the next frame.
type OpusSpeaker struct {
	enc          *opus.Encoder
	out          sampleWriter
	pcmBuf       []int16
	frameSamples int
	frames       chan []byte
	stopCh       chan struct{}
	stopped      bool
	gain         float64
	mu           sync.Mutex
	lastFrameAt  atomic.Int64 // unix nanos of the last paced frame
}

// NewOpusSpeaker constructs a speaker with 20ms frames at 48kHz mono.
func NewOpusSpeaker(out sampleWriter) (*OpusSpeaker, error) {
	enc, err := opus.NewEncoder(48000, 1, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	s := &OpusSpeaker{
		enc:          enc,
		out:          out,
		frameSamples: 960, // 20ms at 48kHz
		frames:       make(chan []byte, 512),
		stopCh:       make(chan struct{}),
		gain:         1.0,
	}
	go s.pacer()
	return s, nil
}

// SetGain clamps and applies the playback gain.
func (s *OpusSpeaker) SetGain(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	s.mu.Lock()
	s.gain = v
	s.mu.Unlock()
}

// WritePCM buffers 16-bit little-endian 48kHz mono PCM and emits encoded
// frames as full frames accumulate.
func (s *OpusSpeaker) WritePCM(pcmBytes []byte) {
	if len(pcmBytes) < 2 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	need := len(pcmBytes) / 2
	startLen := len(s.pcmBuf)
	if cap(s.pcmBuf)-startLen < need {
		tmp := make([]int16, startLen, startLen+need+2048)
		copy(tmp, s.pcmBuf)
		s.pcmBuf = tmp
	}
	s.pcmBuf = s.pcmBuf[:startLen+need]
	gain := s.gain
	for i := 0; i < need; i++ {
		v := int16(uint16(pcmBytes[2*i]) | uint16(pcmBytes[2*i+1])<<8)
		if gain != 1.0 {
			v = int16(float64(v) * gain)
		}
		s.pcmBuf[startLen+i] = v
	}

	opusBuf := make([]byte, 4000)
	for len(s.pcmBuf) >= s.frameSamples {
		frame := s.pcmBuf[:s.frameSamples]
		n, _ := s.enc.Encode(frame, opusBuf)
		if n > 0 {
			pkt := make([]byte, n)
			copy(pkt, opusBuf[:n])
			s.pushFrame(pkt)
		}
		copy(s.pcmBuf, s.pcmBuf[s.frameSamples:])
		s.pcmBuf = s.pcmBuf[:len(s.pcmBuf)-s.frameSamples]
	}
}

// FlushTail pads the remaining PCM to a full frame and appends a short
// silence tail so the last words are not clipped.
func (s *OpusSpeaker) FlushTail() {
	s.mu.Lock()
	opusBuf := make([]byte, 4000)
	if len(s.pcmBuf) > 0 {
		pad := make([]int16, s.frameSamples)
		copy(pad, s.pcmBuf)
		n, _ := s.enc.Encode(pad, opusBuf)
		if n > 0 {
			pkt := make([]byte, n)
			copy(pkt, opusBuf[:n])
			s.pushFrame(pkt)
		}
		s.pcmBuf = s.pcmBuf[:0]
	}
	s.mu.Unlock()
	// ~200ms of silence
	silence := make([]int16, s.frameSamples)
	for i := 0; i < 10; i++ {
		n, _ := s.enc.Encode(silence, opusBuf)
		if n > 0 {
			pkt := make([]byte, n)
			copy(pkt, opusBuf[:n])
			s.pushFrame(pkt)
		}
	}
}

// Close stops the pacer.
func (s *OpusSpeaker) Close() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.stopCh)
	}
	s.mu.Unlock()
}

func (s *OpusSpeaker) pacer() {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			select {
			case frame := <-s.frames:
				_ = s.out.WriteSample(media.Sample{Data: frame, Duration: 20 * time.Millisecond})
				s.lastFrameAt.Store(time.Now().UnixNano())
			default:
			}
		}
	}
}

// pushFrame enqueues a frame, blocking until space is available or stopped.
func (s *OpusSpeaker) pushFrame(pkt []byte) {
	for {
		select {
		case <-s.stopCh:
			return
		case s.frames <- pkt:
			return
		}
	}
}

// Active reports whether playback emitted a frame within the window or
// frames are still queued.
func (s *OpusSpeaker) Active(window time.Duration) bool {
	if len(s.frames) > 0 {
		return true
	}
	last := s.lastFrameAt.Load()
	return last != 0 && time.Since(time.Unix(0, last)) < window
}

// Reset drops queued audio to cut playback immediately on barge-in.
func (s *OpusSpeaker) Reset() {
	s.mu.Lock()
	for {
		select {
		case <-s.frames:
		default:
			s.pcmBuf = s.pcmBuf[:0]
			s.mu.Unlock()
			return
		}
	}
}
