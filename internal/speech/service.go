// Package speech composes the transcription, completion and synthesis
// providers into the single service the orchestrator's degraded-mode turn
// pipeline consumes.
package speech

import (
	"context"
	"fmt"

	"github.com/hkuwana/kaiwa-v2-sub000/internal/conversation"
	"github.com/hkuwana/kaiwa-v2-sub000/internal/tts"
)

// Transcriber converts captured audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Completer produces the assistant reply for a prompt with history.
type Completer interface {
	Complete(ctx context.Context, prompt string, history []conversation.Message) (string, error)
}

// Service bundles the three providers. All fields are required.
type Service struct {
	stt Transcriber
	llm Completer
	tts tts.Streamer
}

func NewService(stt Transcriber, llm Completer, synth tts.Streamer) *Service {
	return &Service{stt: stt, llm: llm, tts: synth}
}

func (s *Service) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if s.stt == nil {
		return "", fmt.Errorf("no transcriber configured")
	}
	return s.stt.Transcribe(ctx, audio)
}

func (s *Service) Complete(ctx context.Context, prompt string, history []conversation.Message) (string, error) {
	if s.llm == nil {
		return "", fmt.Errorf("no completion provider configured")
	}
	return s.llm.Complete(ctx, prompt, history)
}

func (s *Service) TextToSpeech(ctx context.Context, text string) ([]byte, error) {
	if s.tts == nil {
		return nil, fmt.Errorf("no synthesizer configured")
	}
	return tts.Collect(ctx, s.tts, text)
}
