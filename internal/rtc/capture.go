package rtc

import (
	"fmt"
	"sync"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"

	"github.com/hkuwana/kaiwa-v2-sub000/internal/orchestrator"
	"github.com/hkuwana/kaiwa-v2-sub000/internal/realtime"
)

// Device bridges one browser peer connection to the orchestrator's audio
// device port. Inbound RTP from the browser microphone is relayed as-is to
// the realtime transport track and decoded to 16kHz PCM for open captures;
// assistant playback goes out through the OpusSpeaker.
type Device struct {
	speaker  *OpusSpeaker
	outTrack *webrtc.TrackLocalStaticSample
	relay    *webrtc.TrackLocalStaticRTP

	mu       sync.Mutex
	dec      *opus.Decoder
	captures map[string]*capture
	onPCM    func([]byte)
	seq      int
}

type capture struct {
	id  string
	dev *Device
	buf []byte
}

func (c *capture) ID() string                 { return c.id }
func (c *capture) Track() realtime.LocalTrack { return c.dev.relay }

// NewDevice builds the per-call device with its outbound assistant track
// and the microphone relay track.
func NewDevice() (*Device, error) {
	outTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 1},
		"assistant-audio", "assistant",
	)
	if err != nil {
		return nil, err
	}
	relay, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 1},
		"mic-relay", "browser",
	)
	if err != nil {
		return nil, err
	}
	speaker, err := NewOpusSpeaker(outTrack)
	if err != nil {
		return nil, err
	}
	dec, err := opus.NewDecoder(16000, 1)
	if err != nil {
		speaker.Close()
		return nil, err
	}
	return &Device{
		speaker:  speaker,
		outTrack: outTrack,
		relay:    relay,
		dec:      dec,
		captures: make(map[string]*capture),
	}, nil
}

// OutputTrack is the assistant audio track to add to the browser peer.
func (d *Device) OutputTrack() *webrtc.TrackLocalStaticSample { return d.outTrack }

// Speaker exposes the paced writer for barge-in resets.
func (d *Device) Speaker() *OpusSpeaker { return d.speaker }

// SetPCMHandler registers a tap that receives each decoded 16kHz chunk.
func (d *Device) SetPCMHandler(fn func([]byte)) {
	d.mu.Lock()
	d.onPCM = fn
	d.mu.Unlock()
}

// Ingest forwards one inbound RTP packet: relayed unmodified toward the
// realtime transport and decoded for any open captures.
func (d *Device) Ingest(pkt *rtp.Packet) {
	if pkt == nil || len(pkt.Payload) == 0 {
		return
	}
	_ = d.relay.WriteRTP(pkt)

	d.mu.Lock()
	dec := d.dec
	d.mu.Unlock()
	pcm := make([]int16, 1920)
	n, err := dec.Decode(pkt.Payload, pcm)
	if err != nil || n == 0 {
		return
	}
	chunk := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := uint16(pcm[i])
		chunk[2*i] = byte(v)
		chunk[2*i+1] = byte(v >> 8)
	}

	d.mu.Lock()
	for _, c := range d.captures {
		c.buf = append(c.buf, chunk...)
	}
	tap := d.onPCM
	d.mu.Unlock()
	if tap != nil {
		tap(chunk)
	}
}

// Start opens a capture. Multiple captures may run concurrently (the
// streaming microphone leg and a push-to-talk recording see the same feed).
func (d *Device) Start(deviceID string) (orchestrator.CaptureHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	id := fmt.Sprintf("cap-%d-%s", d.seq, time.Now().Format("150405.000"))
	if deviceID != "" {
		id = deviceID + "-" + id
	}
	c := &capture{id: id, dev: d}
	d.captures[id] = c
	return c, nil
}

// Stop closes a capture and returns the PCM accumulated while it was open.
func (d *Device) Stop(h orchestrator.CaptureHandle) ([]byte, error) {
	if h == nil {
		return nil, fmt.Errorf("nil capture handle")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.captures[h.ID()]
	if !ok {
		return nil, fmt.Errorf("unknown capture %s", h.ID())
	}
	delete(d.captures, h.ID())
	return c.buf, nil
}

// Play writes assistant PCM through the paced speaker.
func (d *Device) Play(pcm []byte) error {
	d.speaker.WritePCM(pcm)
	return nil
}

// SetVolume adjusts the speaker gain.
func (d *Device) SetVolume(v float64) error {
	d.speaker.SetGain(v)
	return nil
}

// ListDevices reports the single browser microphone feed.
func (d *Device) ListDevices() ([]orchestrator.DeviceInfo, error) {
	return []orchestrator.DeviceInfo{{ID: "browser-mic", Label: "Browser Microphone"}}, nil
}

// Close releases the speaker pacer.
func (d *Device) Close() {
	d.speaker.Close()
}
