package orchestrator

import (
	"context"

	"github.com/hkuwana/kaiwa-v2-sub000/internal/conversation"
	"github.com/hkuwana/kaiwa-v2-sub000/internal/events"
	"github.com/hkuwana/kaiwa-v2-sub000/internal/realtime"
)

// DeviceInfo describes an available capture device.
type DeviceInfo struct {
	ID    string
	Label string
}

// CaptureHandle is one open microphone capture. Track exposes the local
// audio track a realtime transport can attach; it may be nil for devices
// that only buffer PCM.
type CaptureHandle interface {
	ID() string
	Track() realtime.LocalTrack
}

// AudioDevice abstracts the local microphone and speaker.
type AudioDevice interface {
	Start(deviceID string) (CaptureHandle, error)
	// Stop closes the capture and returns the PCM recorded while it was open.
	Stop(h CaptureHandle) ([]byte, error)
	Play(pcm []byte) error
	SetVolume(v float64) error
	ListDevices() ([]DeviceInfo, error)
}

// SpeechService is the transcription/completion port the fallback turn
// pipeline runs through when the realtime stream is degraded.
type SpeechService interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
	Complete(ctx context.Context, prompt string, history []conversation.Message) (string, error)
	TextToSpeech(ctx context.Context, text string) ([]byte, error)
}

// Bus is the outbound lifecycle event publisher. The orchestrator never
// blocks on subscriber completion.
type Bus interface {
	Emit(ev events.Event)
}
