// Package tts synthesizes speech. Deepgram Aura over websocket is the
// primary provider; ElevenLabs HTTP streaming is the alternate. Both stream
// 48 kHz linear16 PCM and can be collected into one buffer for the
// push-to-talk playback path.
package tts

import (
	"context"
	"fmt"
	"log"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"
)

// Streamer produces one utterance as a stream of PCM chunks. The pcm channel
// closes when synthesis finishes; at most one error is delivered.
type Streamer interface {
	Stream(ctx context.Context, text string) (<-chan []byte, <-chan error)
}

// Collect drains a streamed utterance into a single buffer. It returns the
// audio synthesized so far together with the first error, if any.
func Collect(ctx context.Context, s Streamer, text string) ([]byte, error) {
	pcmCh, errCh := s.Stream(ctx, text)
	var out []byte
	for pcmCh != nil || errCh != nil {
		select {
		case chunk, ok := <-pcmCh:
			if !ok {
				pcmCh = nil
				continue
			}
			out = append(out, chunk...)
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return out, err
			}
		case <-ctx.Done():
			return out, ctx.Err()
		}
	}
	return out, nil
}

// DeepgramClient streams Aura TTS over the Deepgram speak websocket.
type DeepgramClient struct {
	apiKey     string
	model      string
	sampleRate int
	encoding   string
}

func NewDeepgramClient(apiKey, model string) *DeepgramClient {
	if model == "" {
		model = "aura-2-thalia-en"
	}
	return &DeepgramClient{apiKey: apiKey, model: model, sampleRate: 48000, encoding: "linear16"}
}

// The speak websocket never says "utterance finished". Synthesis is treated
// as done once audio has gone quiet for auraIdleWindow after the first
// chunk; auraDeadline caps a socket that produces nothing.
const (
	auraIdleWindow = 400 * time.Millisecond
	auraDeadline   = 12 * time.Second
)

// Stream synthesizes text and delivers PCM as it arrives.
func (d *DeepgramClient) Stream(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcmCh := make(chan []byte, 4096)
	errCh := make(chan error, 1)

	go func() {
		defer close(pcmCh)
		defer close(errCh)
		if err := d.synthesize(ctx, text, pcmCh); err != nil {
			errCh <- err
		}
	}()

	return pcmCh, errCh
}

// synthesize drives one utterance through the speak socket and waits for
// the audio to go quiet. The events sink stops receiving once the client is
// stopped, so out stays safe to close afterwards.
func (d *DeepgramClient) synthesize(ctx context.Context, text string, out chan<- []byte) error {
	if d.apiKey == "" {
		return fmt.Errorf("deepgram: api key missing")
	}
	if text == "" {
		return nil
	}

	sink := &auraSink{out: out, activity: make(chan struct{}, 1)}
	options := &clientinterfaces.WSSpeakOptions{
		Model:      d.model,
		Encoding:   d.encoding,
		SampleRate: d.sampleRate,
	}
	dg, err := speak.NewWSUsingCallback(ctx, d.apiKey, &clientinterfaces.ClientOptions{}, options, sink)
	if err != nil {
		return fmt.Errorf("deepgram: create ws client: %w", err)
	}
	defer dg.Stop()

	if !dg.Connect() {
		return fmt.Errorf("deepgram: connect failed")
	}
	if err := dg.SpeakWithText(text); err != nil {
		return fmt.Errorf("deepgram: speak text: %w", err)
	}
	if err := dg.Flush(); err != nil {
		log.Printf("deepgram: flush error: %v", err)
	}

	deadline := time.NewTimer(auraDeadline)
	defer deadline.Stop()
	idle := time.NewTimer(auraIdleWindow)
	defer idle.Stop()
	gotAudio := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sink.activity:
			gotAudio = true
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(auraIdleWindow)
		case <-idle.C:
			if gotAudio {
				return nil
			}
			// Nothing heard yet; keep waiting out the deadline.
			idle.Reset(auraIdleWindow)
		case <-deadline.C:
			return nil
		}
	}
}

// auraSink receives speak socket events. Audio frames are copied onto out
// and each arrival pings activity so the idle timer can rewind.
type auraSink struct {
	out      chan<- []byte
	activity chan struct{}
}

func (a *auraSink) Binary(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	b := make([]byte, len(data))
	copy(b, data)
	select {
	case a.out <- b:
	default:
	}
	select {
	case a.activity <- struct{}{}:
	default:
	}
	return nil
}

func (a *auraSink) Error(er *msginterfaces.ErrorResponse) error {
	if er != nil {
		log.Printf("deepgram: speak error: %+v", *er)
	}
	return nil
}

func (a *auraSink) Open(*msginterfaces.OpenResponse) error         { return nil }
func (a *auraSink) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (a *auraSink) Flush(*msginterfaces.FlushedResponse) error     { return nil }
func (a *auraSink) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (a *auraSink) Close(*msginterfaces.CloseResponse) error       { return nil }
func (a *auraSink) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (a *auraSink) UnhandledEvent([]byte) error                    { return nil }
