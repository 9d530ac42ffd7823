// Package orchestrator is the imperative shell at the top of the
// conversation core. It wires the pure audio and conversation reducers to
// the realtime session/stream managers and the device/speech ports,
// executes effects, folds transport events back into state, and publishes
// lifecycle events.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hkuwana/kaiwa-v2-sub000/internal/audio"
	"github.com/hkuwana/kaiwa-v2-sub000/internal/conversation"
	"github.com/hkuwana/kaiwa-v2-sub000/internal/events"
	"github.com/hkuwana/kaiwa-v2-sub000/internal/realtime"
)

// Status is the orchestrator's connection phase, layered over the kernel's
// turn cycle.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusConnected  Status = "connected"
	StatusStreaming  Status = "streaming"
	StatusError      Status = "error"
)

// Config tunes one orchestrator instance.
type Config struct {
	Model         string
	Instructions  string
	Temperature   float64
	HealthTimeout time.Duration
	// PlaybackIdleTimeout is how long after the last realtime audio chunk
	// the audio core stops reporting playback.
	PlaybackIdleTimeout time.Duration
}

// DefaultPlaybackIdleTimeout covers the gap between realtime audio chunks
// without outliving a normal response tail.
const DefaultPlaybackIdleTimeout = 600 * time.Millisecond

// Orchestrator drives one conversation at a time. All state mutation
// happens synchronously under mu; effect execution (I/O) runs after the
// mutation and feeds back only through further dispatches.
type Orchestrator struct {
	sessions *realtime.SessionManager
	streams  *realtime.StreamManager
	device   AudioDevice
	speech   SpeechService
	bus      Bus
	cfg      Config

	mu              sync.Mutex
	status          Status
	errMsg          string
	conv            conversation.State
	aud             audio.State
	connectionReady bool
	starting        bool
	session         *realtime.Session
	stream          *realtime.Stream
	mic             CaptureHandle // streaming microphone leg
	rec             CaptureHandle // push-to-talk recording
	playTimer       *time.Timer   // stops playback state after realtime audio goes quiet
}

func New(sessions *realtime.SessionManager, streams *realtime.StreamManager, device AudioDevice, speech SpeechService, bus Bus, cfg Config) *Orchestrator {
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = realtime.DefaultHealthTimeout
	}
	if cfg.PlaybackIdleTimeout <= 0 {
		cfg.PlaybackIdleTimeout = DefaultPlaybackIdleTimeout
	}
	return &Orchestrator{
		sessions: sessions,
		streams:  streams,
		device:   device,
		speech:   speech,
		bus:      bus,
		cfg:      cfg,
		status:   StatusIdle,
		conv:     conversation.Initial(),
		aud:      audio.Initial(),
	}
}

// StartConversation creates a realtime session for the given language and
// voice and immediately brings up the streaming leg; the product auto-starts
// microphone capture once a session exists rather than requiring a second
// user action. Safe to re-call once the state machine reports idle or error.
func (o *Orchestrator) StartConversation(ctx context.Context, language, voice string) error {
	o.mu.Lock()
	if o.status != StatusIdle && o.status != StatusError {
		st := o.status
		o.mu.Unlock()
		return fmt.Errorf("conversation already %s", st)
	}
	sessionID := fmt.Sprintf("conv-%s", time.Now().Format("0102150405.000"))
	o.status = StatusConnecting
	o.errMsg = ""
	o.conv = conversation.Transition(o.conv, conversation.StartConversation(sessionID, language, voice))
	o.mu.Unlock()

	sess := o.sessions.Create(ctx, realtime.Config{
		SessionID:    sessionID,
		Model:        o.cfg.Model,
		Voice:        voice,
		Language:     language,
		Instructions: o.cfg.Instructions,
		Temperature:  o.cfg.Temperature,
	})

	o.mu.Lock()
	o.session = sess
	o.status = StatusConnected
	o.mu.Unlock()

	if err := o.StartStreaming(ctx); err != nil {
		return err
	}
	o.emit(events.ConversationStarted, map[string]any{
		"language": language,
		"voice":    voice,
		"degraded": sess.Kind == realtime.KindFallback,
	})
	return nil
}

// StartStreaming acquires the microphone, negotiates a stream bound to it
// and waits for the channel to become healthy before reporting streaming.
// Only one start sequence may be in flight at a time.
func (o *Orchestrator) StartStreaming(ctx context.Context) error {
	o.mu.Lock()
	if o.starting {
		o.mu.Unlock()
		return errors.New("stream start already in flight")
	}
	if o.session == nil {
		o.mu.Unlock()
		return errors.New("no active session")
	}
	if o.stream != nil && o.stream.IsActive() {
		o.mu.Unlock()
		return nil
	}
	o.starting = true
	sess := o.session
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.starting = false
		o.mu.Unlock()
	}()

	mic, err := o.device.Start("")
	if err != nil {
		o.failStreaming(fmt.Sprintf("microphone unavailable: %v", err))
		return err
	}

	st, err := o.streams.Start(ctx, sess, mic.Track(), realtime.Events{
		OnTranscript:       o.handleTranscript,
		OnResponse:         o.handleResponse,
		OnAudioResponse:    o.handleAudioResponse,
		OnError:            o.handleTransportError,
		OnConnectionChange: o.handleConnectionChange,
	})
	if err != nil {
		o.releaseMic(mic)
		o.failStreaming(err.Error())
		return err
	}

	if err := o.streams.WaitUntilActive(ctx, st, o.cfg.HealthTimeout); err != nil {
		o.streams.Stop(st)
		o.releaseMic(mic)
		o.failStreaming(err.Error())
		return err
	}

	o.mu.Lock()
	o.stream = st
	o.mic = mic
	o.connectionReady = true
	o.status = StatusStreaming
	o.mu.Unlock()

	o.emit(events.RecordingStarted, map[string]any{"stream": st.ID, "degraded": st.Degraded()})
	return nil
}

// StopStreaming tears down the stream and releases the microphone.
// Idempotent: with no active stream it is a no-op.
func (o *Orchestrator) StopStreaming() {
	o.mu.Lock()
	st, mic := o.stream, o.mic
	o.stream, o.mic = nil, nil
	o.connectionReady = false
	if st == nil {
		o.mu.Unlock()
		return
	}
	if o.session != nil && o.status == StatusStreaming {
		o.status = StatusConnected
	}
	o.mu.Unlock()

	o.streams.Stop(st)
	o.releaseMic(mic)
	o.emit(events.RecordingStopped, map[string]any{"stream": st.ID, "chunks": st.ChunksSent()})
}

// EndConversation stops streaming if needed, closes the session and resets
// to a fresh idle state.
func (o *Orchestrator) EndConversation() {
	o.StopStreaming()

	o.mu.Lock()
	sess := o.session
	o.session = nil
	rec := o.rec
	o.rec = nil
	if o.playTimer != nil {
		o.playTimer.Stop()
		o.playTimer = nil
	}
	duration := time.Duration(0)
	if !o.conv.StartTime.IsZero() {
		duration = time.Since(o.conv.StartTime)
	}
	messages := o.conv.Messages
	sessionID := o.conv.SessionID
	o.conv = conversation.Transition(o.conv, conversation.EndConversation())
	// The audio surface starts over with the conversation; only the volume
	// setting survives.
	o.aud = audio.Transition(audio.Initial(), audio.SetVolume(o.aud.Volume))
	o.status = StatusIdle
	o.errMsg = ""
	o.mu.Unlock()

	if rec != nil {
		if _, err := o.device.Stop(rec); err != nil {
			log.Printf("release capture on end: %v", err)
		}
	}

	if sess != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		o.sessions.Close(ctx, sess)
		cancel()
	}
	if sessionID != "" {
		o.bus.Emit(events.Event{
			Type:      events.ConversationEnded,
			SessionID: sessionID,
			Payload: map[string]any{
				"duration":     duration,
				"messageCount": len(messages),
				"messages":     messages,
			},
		})
	}
}

// SendAudioChunk forwards one captured chunk onto the active stream.
func (o *Orchestrator) SendAudioChunk(chunk []byte) error {
	o.mu.Lock()
	st := o.stream
	o.mu.Unlock()
	if st == nil {
		return realtime.ErrStreamInactive
	}
	return o.streams.SendChunk(st, chunk)
}

// StartRecording opens a push-to-talk capture. Rejected while the kernel is
// outside idle.
func (o *Orchestrator) StartRecording(deviceID string) error {
	o.mu.Lock()
	// A failed turn leaves the audio core on error; retrying the recording
	// is the recovery path, so clear it first.
	if o.aud.HasError() {
		o.aud = audio.Transition(o.aud, audio.ClearError())
	}
	if o.conv.Status != conversation.StatusIdle || !o.aud.CanRecord() {
		o.mu.Unlock()
		return fmt.Errorf("cannot record while %s", o.conv.Status)
	}
	o.conv = conversation.Transition(o.conv, conversation.StartRecording())
	audAction := audio.StartRecording(deviceID)
	effs := audio.EffectsFor(o.aud, audAction)
	o.aud = audio.Transition(o.aud, audAction)
	o.mu.Unlock()

	for _, eff := range effs {
		if eff.Type != audio.EffectInitializeRecording {
			continue
		}
		h, err := o.device.Start(eff.DeviceID)
		if err != nil {
			o.dispatchAudio(audio.AudioError(err.Error()))
			o.dispatchConv(conversation.SetError(err.Error()))
			o.emit(events.ConversationError, map[string]any{"error": err.Error()})
			return err
		}
		o.mu.Lock()
		o.rec = h
		o.mu.Unlock()
	}
	o.emit(events.RecordingStarted, map[string]any{"device": deviceID})
	return nil
}

// StopRecording finalizes the push-to-talk capture and runs one full turn
// through the speech port: transcribe, complete, speak. Used when the
// realtime stream is unavailable or degraded.
func (o *Orchestrator) StopRecording(ctx context.Context) error {
	o.mu.Lock()
	rec := o.rec
	o.rec = nil
	o.mu.Unlock()
	if rec == nil {
		return errors.New("no active recording")
	}

	pcm, err := o.device.Stop(rec)
	if err != nil {
		o.dispatchAudio(audio.AudioError(err.Error()))
		o.dispatchConv(conversation.SetError(err.Error()))
		o.emit(events.ConversationError, map[string]any{"error": err.Error()})
		return err
	}

	o.dispatchAudio(audio.StopRecording())
	effs := o.dispatchConv(conversation.StopRecording(pcm))
	o.emit(events.RecordingStopped, map[string]any{"bytes": len(pcm), "pcm": pcm})
	// Finalize the capture before the turn runs so playback starts from idle.
	o.dispatchAudio(audio.RecordingComplete())

	for _, eff := range effs {
		if eff.Type == conversation.EffectTranscribe {
			if err := o.runTurn(ctx, eff.Audio); err != nil {
				return err
			}
		}
	}
	return nil
}

// runTurn is the degraded-mode turn pipeline in sequence: STT, LLM with
// conversation history, then TTS playback.
func (o *Orchestrator) runTurn(ctx context.Context, pcm []byte) error {
	transcript, err := o.speech.Transcribe(ctx, pcm)
	if err != nil {
		return o.failTurn(fmt.Sprintf("transcription failed: %v", err))
	}
	o.emit(events.TranscriptionCompleted, map[string]any{"text": transcript})

	o.mu.Lock()
	history := o.conv.Messages
	o.mu.Unlock()

	response, err := o.speech.Complete(ctx, transcript, history)
	if err != nil {
		return o.failTurn(fmt.Sprintf("completion failed: %v", err))
	}
	o.emit(events.ResponseReceived, map[string]any{"text": response})

	effs := o.dispatchConv(conversation.ReceiveResponse(transcript, response))

	// Effects of one action may run concurrently; the dispatch resolves
	// only once all of them settle.
	var wg sync.WaitGroup
	errCh := make(chan error, len(effs))
	for _, eff := range effs {
		eff := eff
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch eff.Type {
			case conversation.EffectSpeak:
				errCh <- o.speak(ctx, eff.Text)
			case conversation.EffectSaveExchange:
				o.emit(events.ExchangeSaved, map[string]any{
					"user":      eff.User,
					"assistant": eff.Assistant,
				})
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return o.failTurn(err.Error())
		}
	}

	o.dispatchConv(conversation.StopSpeaking())
	return nil
}

func (o *Orchestrator) speak(ctx context.Context, text string) error {
	pcm, err := o.speech.TextToSpeech(ctx, text)
	if err != nil {
		return fmt.Errorf("speech synthesis failed: %w", err)
	}
	ref := fmt.Sprintf("tts-%s", time.Now().Format("150405.000"))
	o.dispatchAudio(audio.StartPlayback(ref))
	o.emit(events.PlaybackStarted, map[string]any{"ref": ref})
	if err := o.device.Play(pcm); err != nil {
		o.dispatchAudio(audio.AudioError(err.Error()))
		return err
	}
	o.dispatchAudio(audio.StopPlayback())
	return nil
}

// SetVolume clamps and applies the playback volume.
func (o *Orchestrator) SetVolume(v float64) {
	a := audio.SetVolume(v)
	o.mu.Lock()
	effs := audio.EffectsFor(o.aud, a)
	o.aud = audio.Transition(o.aud, a)
	o.mu.Unlock()
	for _, eff := range effs {
		if eff.Type == audio.EffectUpdateVolume {
			if err := o.device.SetVolume(eff.Volume); err != nil {
				log.Printf("set volume error: %v", err)
			}
		}
	}
}

// --- transport event intake ---------------------------------------------

func (o *Orchestrator) handleTranscript(text string) {
	if text == "" {
		return
	}
	o.dispatchConv(conversation.AddUserMessage(text))
	o.emit(events.TranscriptionCompleted, map[string]any{"text": text})
}

func (o *Orchestrator) handleResponse(text string) {
	if text == "" {
		return
	}
	o.dispatchConv(conversation.AddAssistantMessage(text))
	o.emit(events.ResponseReceived, map[string]any{"text": text})
}

func (o *Orchestrator) handleAudioResponse(pcm []byte) {
	o.mu.Lock()
	playing := o.aud.IsPlaying()
	o.mu.Unlock()
	if !playing {
		ref := fmt.Sprintf("rt-%s", time.Now().Format("150405.000"))
		o.dispatchAudio(audio.StartPlayback(ref))
		o.emit(events.PlaybackStarted, map[string]any{"ref": ref})
	}
	if err := o.device.Play(pcm); err != nil {
		o.dispatchAudio(audio.AudioError(err.Error()))
		return
	}
	// Realtime audio has no end-of-response marker; playback state winds
	// down once chunks stop arriving.
	o.mu.Lock()
	if o.playTimer == nil {
		o.playTimer = time.AfterFunc(o.cfg.PlaybackIdleTimeout, o.playbackWentIdle)
	} else {
		o.playTimer.Reset(o.cfg.PlaybackIdleTimeout)
	}
	o.mu.Unlock()
}

func (o *Orchestrator) playbackWentIdle() {
	o.mu.Lock()
	playing := o.aud.IsPlaying()
	o.mu.Unlock()
	if playing {
		o.dispatchAudio(audio.StopPlayback())
	}
}

func (o *Orchestrator) handleTransportError(err error) {
	if err == nil {
		return
	}
	o.mu.Lock()
	o.connectionReady = false
	o.status = StatusError
	o.errMsg = err.Error()
	o.conv = conversation.Transition(o.conv, conversation.SetError(err.Error()))
	o.mu.Unlock()
	o.emit(events.ConversationError, map[string]any{"error": err.Error()})
}

func (o *Orchestrator) handleConnectionChange(state string) {
	switch state {
	case "disconnected", "failed", "closed":
		o.handleTransportError(errors.New("realtime connection lost"))
	}
}

// --- helpers -------------------------------------------------------------

func (o *Orchestrator) failStreaming(msg string) {
	o.mu.Lock()
	o.connectionReady = false
	o.status = StatusError
	o.errMsg = msg
	o.conv = conversation.Transition(o.conv, conversation.SetError(msg))
	o.mu.Unlock()
	o.emit(events.ConversationError, map[string]any{"error": msg})
}

func (o *Orchestrator) failTurn(msg string) error {
	o.dispatchConv(conversation.SetError(msg))
	o.dispatchAudio(audio.AudioError(msg))
	o.emit(events.ConversationError, map[string]any{"error": msg})
	return errors.New(msg)
}

func (o *Orchestrator) releaseMic(mic CaptureHandle) {
	if mic == nil {
		return
	}
	if _, err := o.device.Stop(mic); err != nil {
		log.Printf("microphone release error: %v", err)
	}
}

func (o *Orchestrator) dispatchConv(a conversation.Action) []conversation.Effect {
	o.mu.Lock()
	defer o.mu.Unlock()
	effs := conversation.EffectsFor(o.conv, a)
	o.conv = conversation.Transition(o.conv, a)
	return effs
}

func (o *Orchestrator) dispatchAudio(a audio.Action) []audio.Effect {
	o.mu.Lock()
	defer o.mu.Unlock()
	effs := audio.EffectsFor(o.aud, a)
	o.aud = audio.Transition(o.aud, a)
	return effs
}

func (o *Orchestrator) emit(eventType string, payload map[string]any) {
	o.mu.Lock()
	sessionID := o.conv.SessionID
	o.mu.Unlock()
	o.bus.Emit(events.Event{Type: eventType, SessionID: sessionID, Payload: payload})
}

// --- snapshots -----------------------------------------------------------

func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

func (o *Orchestrator) Err() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.errMsg
}

func (o *Orchestrator) ConnectionReady() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.connectionReady
}

// Conversation returns a snapshot of the kernel state.
func (o *Orchestrator) Conversation() conversation.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conv
}

// Audio returns a snapshot of the audio core state.
func (o *Orchestrator) Audio() audio.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.aud
}

// Session returns the active session, nil when none.
func (o *Orchestrator) Session() *realtime.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session
}

// Stream returns the active stream, nil when none.
func (o *Orchestrator) Stream() *realtime.Stream {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stream
}
