// Package transcript provides speech-to-text against AssemblyAI: a
// websocket live transcriber for streaming audio and a batch client for
// finalized push-to-talk captures.
package transcript

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/gorilla/websocket"
)

// silenceThreshold is the inactivity window required before an utterance is
// considered complete. Conservative so users are not cut off mid-sentence.
const silenceThreshold = 700 * time.Millisecond

// continuationExtension is added when the last word suggests the speaker is
// about to continue ("and", "if", "with", ...).
const continuationExtension = 1200 * time.Millisecond

// stabilizationGrace absorbs late transcript updates after the silence
// window elapses, before the utterance is committed.
const stabilizationGrace = 250 * time.Millisecond

// LiveTranscriber streams 16 kHz PCM to AssemblyAI over a websocket and
// emits utterances once the speaker goes quiet. Partial transcripts are
// available on Partials for UI echo; Utterances carries the committed text.
type LiveTranscriber struct {
	apiKey   string
	language string

	conn      *websocket.Conn
	partials  chan string
	utterCh   chan string
	audioCh   chan []byte
	stopCh    chan struct{}
	mu        sync.RWMutex
	connected bool

	accMu        sync.Mutex
	latest       string // full transcript as last reported
	committed    string // prefix already delivered downstream
	lastUpdateAt time.Time
	lastVoiceAt  time.Time
	silenceTimer *time.Timer
}

// NewLiveTranscriber builds a transcriber for the given BCP-47 language
// ("en", "es", ...). Connect must be called before sending audio.
func NewLiveTranscriber(apiKey, language string) *LiveTranscriber {
	return &LiveTranscriber{
		apiKey:   apiKey,
		language: language,
		partials: make(chan string, 100),
		utterCh:  make(chan string, 10),
		audioCh:  make(chan []byte, 1000),
		stopCh:   make(chan struct{}),
	}
}

// Partials streams raw transcript fragments as they arrive.
func (t *LiveTranscriber) Partials() <-chan string { return t.partials }

// Utterances signals end-of-utterance with the newly finalized text.
func (t *LiveTranscriber) Utterances() <-chan string { return t.utterCh }

// Connect dials the streaming endpoint and starts the reader and writer
// loops. Safe to call once; subsequent calls are no-ops while connected.
func (t *LiveTranscriber) Connect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connected {
		return nil
	}
	if t.apiKey == "" {
		return fmt.Errorf("assemblyai api key is empty")
	}

	params := url.Values{}
	params.Set("sample_rate", "16000")
	params.Set("format_turns", "false")
	params.Set("encoding", "pcm_s16le")
	if t.language != "" {
		params.Set("language_code", t.language)
	}
	wsURL := fmt.Sprintf("wss://streaming.assemblyai.com/v3/ws?%s", params.Encode())

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.Dial(wsURL, map[string][]string{"Authorization": {t.apiKey}})
	if err != nil {
		if resp != nil {
			log.Printf("assemblyai dial failed with status %d", resp.StatusCode)
		}
		return fmt.Errorf("connect to assemblyai: %w", err)
	}

	t.conn = conn
	t.connected = true
	t.lastUpdateAt = time.Now()
	t.lastVoiceAt = time.Now()

	go t.readLoop()
	go t.writeLoop()
	log.Println("assemblyai live transcription connected")
	return nil
}

// SendPCM queues one chunk of 16-bit little-endian mono PCM. Chunks are
// dropped rather than blocking the capture path when the buffer is full.
func (t *LiveTranscriber) SendPCM(pcm []byte) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.connected {
		return fmt.Errorf("live transcriber not connected")
	}
	t.observeVoiceEnergy(pcm)
	select {
	case t.audioCh <- pcm:
	default:
		log.Println("transcription audio buffer full, dropping chunk")
	}
	return nil
}

// RecentlyDetectedVoice reports whether voice energy was observed within the
// window. Used by barge-in detection to tell speech from echo.
func (t *LiveTranscriber) RecentlyDetectedVoice(window time.Duration) bool {
	t.accMu.Lock()
	last := t.lastVoiceAt
	t.accMu.Unlock()
	return time.Since(last) <= window
}

// observeVoiceEnergy updates lastVoiceAt when the RMS of the chunk crosses a
// speech-level threshold.
func (t *LiveTranscriber) observeVoiceEnergy(pcm []byte) {
	const minSamples = 160 // 10ms at 16kHz
	if len(pcm) < minSamples*2 {
		return
	}
	step := 2
	if len(pcm) > 3200 {
		step = 4
	}
	var sumSquares float64
	count := 0
	for i := 0; i+1 < len(pcm); i += 2 * step {
		v := int16(binary.LittleEndian.Uint16(pcm[i : i+2]))
		sumSquares += float64(v) * float64(v)
		count++
	}
	if count == 0 {
		return
	}
	const voiceRMS = 250.0
	if math.Sqrt(sumSquares/float64(count)) >= voiceRMS {
		t.accMu.Lock()
		t.lastVoiceAt = time.Now()
		t.accMu.Unlock()
	}
}

// Close terminates the session and flushes any uncommitted text.
func (t *LiveTranscriber) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return nil
	}
	close(t.stopCh)
	t.accMu.Lock()
	if t.silenceTimer != nil {
		t.silenceTimer.Stop()
		t.silenceTimer = nil
	}
	t.accMu.Unlock()
	if t.conn != nil {
		_ = t.conn.WriteJSON(map[string]string{"type": "Terminate"})
		_ = t.conn.Close()
	}
	t.connected = false
	t.conn = nil
	t.flushPending()
	close(t.audioCh)
	close(t.partials)
	close(t.utterCh)
	return nil
}

func (t *LiveTranscriber) readLoop() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("recovered in transcriber read loop: %v", r)
		}
	}()
	for {
		select {
		case <-t.stopCh:
			return
		default:
		}
		t.mu.RLock()
		conn := t.conn
		t.mu.RUnlock()
		if conn == nil {
			return
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Printf("transcriber read error: %v", err)
			return
		}
		t.handleServerMessage(message)
	}
}

func (t *LiveTranscriber) writeLoop() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("recovered in transcriber write loop: %v", r)
		}
	}()
	for {
		select {
		case <-t.stopCh:
			return
		case pcm, ok := <-t.audioCh:
			if !ok {
				return
			}
			t.mu.RLock()
			conn := t.conn
			t.mu.RUnlock()
			if conn == nil {
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
				log.Printf("transcriber write error: %v", err)
				return
			}
		}
	}
}

type liveTurn struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
}

type liveError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func (t *LiveTranscriber) handleServerMessage(message []byte) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &envelope); err != nil {
		log.Printf("bad transcriber message: %v", err)
		return
	}
	switch envelope.Type {
	case "Begin":
		log.Println("assemblyai session began")
	case "Turn":
		var turn liveTurn
		if err := json.Unmarshal(message, &turn); err != nil || turn.Transcript == "" {
			return
		}
		select {
		case t.partials <- turn.Transcript:
		default:
		}
		t.accMu.Lock()
		t.latest = turn.Transcript
		t.lastUpdateAt = time.Now()
		t.armSilenceTimerLocked(silenceThreshold)
		t.accMu.Unlock()
	case "Termination":
		t.flushPending()
	case "Error":
		var e liveError
		if err := json.Unmarshal(message, &e); err == nil {
			log.Printf("assemblyai error: %s", e.Error)
		}
	}
}

// armSilenceTimerLocked starts or resets the end-of-utterance timer.
// Caller holds accMu.
func (t *LiveTranscriber) armSilenceTimerLocked(d time.Duration) {
	if t.silenceTimer == nil {
		t.silenceTimer = time.AfterFunc(d, t.finalizeOnSilence)
		return
	}
	t.silenceTimer.Stop()
	t.silenceTimer.Reset(d)
}

// finalizeOnSilence fires after the inactivity window. It re-checks both the
// transcript stream and the raw voice energy, extends the window for
// continuation-like endings, waits a short grace for late updates, then
// delivers the delta since the last committed transcript.
func (t *LiveTranscriber) finalizeOnSilence() {
	select {
	case <-t.stopCh:
		return
	default:
	}

	t.accMu.Lock()
	now := time.Now()
	threshold := silenceThreshold
	if continuationLikely(t.latest) {
		threshold += continuationExtension
	}
	sinceText := now.Sub(t.lastUpdateAt)
	sinceVoice := now.Sub(t.lastVoiceAt)
	if sinceText < threshold || sinceVoice < threshold {
		wait := threshold
		if rem := threshold - sinceText; sinceText < threshold && rem < wait {
			wait = rem
		}
		if rem := threshold - sinceVoice; sinceVoice < threshold && rem < wait {
			wait = rem
		}
		if wait < 10*time.Millisecond {
			wait = 10 * time.Millisecond
		}
		t.armSilenceTimerLocked(wait)
		t.accMu.Unlock()
		return
	}
	updateSnapshot := t.lastUpdateAt
	t.accMu.Unlock()

	time.Sleep(stabilizationGrace)

	t.accMu.Lock()
	if t.lastUpdateAt.After(updateSnapshot) {
		// A late update arrived during the grace window; start over.
		t.armSilenceTimerLocked(silenceThreshold)
		t.accMu.Unlock()
		return
	}
	delta := uncommittedDelta(t.latest, t.committed)
	t.committed = t.latest
	t.accMu.Unlock()

	if delta == "" {
		return
	}
	// Utterances must not be dropped; block until delivered or shut down.
	select {
	case <-t.stopCh:
	case t.utterCh <- delta:
	}
}

// flushPending delivers any uncommitted tail, best effort.
func (t *LiveTranscriber) flushPending() {
	t.accMu.Lock()
	delta := uncommittedDelta(t.latest, t.committed)
	t.committed = t.latest
	t.accMu.Unlock()
	if delta == "" {
		return
	}
	select {
	case t.utterCh <- delta:
	case <-time.After(200 * time.Millisecond):
		log.Println("transcriber flush: timed out delivering final text")
	}
}

// uncommittedDelta extracts the part of latest not yet delivered. The stream
// reports full transcripts, so the committed text is normally a prefix.
func uncommittedDelta(latest, committed string) string {
	delta := strings.TrimSpace(strings.TrimPrefix(latest, committed))
	if delta == "" && committed != "" {
		if idx := strings.LastIndex(latest, committed); idx >= 0 {
			delta = strings.TrimSpace(latest[idx+len(committed):])
		}
	}
	return delta
}

// continuationLikely reports whether the last meaningful word indicates the
// speaker will continue (conjunctions, prepositions, fillers).
func continuationLikely(text string) bool {
	w := lastWord(text)
	if w == "" {
		return false
	}
	_, ok := continuationWords[w]
	return ok
}

func lastWord(text string) string {
	trim := strings.TrimSpace(text)
	if trim == "" {
		return ""
	}
	fields := strings.FieldsFunc(trim, func(r rune) bool { return !unicode.IsLetter(r) })
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[len(fields)-1])
}

var continuationWords = map[string]struct{}{
	"and": {}, "or": {}, "but": {}, "nor": {}, "yet": {}, "so": {},
	"if": {}, "when": {}, "while": {}, "though": {}, "although": {},
	"because": {}, "since": {}, "unless": {}, "until": {}, "whereas": {},
	"also": {}, "plus": {}, "um": {}, "uh": {}, "like": {},
	"about": {}, "with": {}, "to": {}, "of": {}, "for": {}, "on": {}, "in": {}, "at": {},
}
