package audio

import (
	"fmt"
	"time"
)

// Status is the playback/recording phase of the local audio pipeline.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusRecording  Status = "recording"
	StatusProcessing Status = "processing"
	StatusPlaying    Status = "playing"
	StatusError      Status = "error"
)

// RecordingSession tracks one microphone capture from start to finalization.
type RecordingSession struct {
	ID        string
	StartTime time.Time
	EndTime   time.Time // zero while the recording is open
	DeviceID  string
}

// State is the audio state machine. It is a value: Transition returns a new
// State and never mutates its input. Recording is non-nil exactly while
// Status is recording or processing (processing keeps the session around
// until RECORDING_COMPLETE finalizes it).
type State struct {
	Status       Status
	CurrentAudio string // opaque ref of the audio being played, "" when none
	Volume       float64
	Recording    *RecordingSession
	Err          string
}

// Initial returns the state a fresh pipeline starts in.
func Initial() State {
	return State{Status: StatusIdle, Volume: 1.0}
}

// ActionType discriminates Action values.
type ActionType string

const (
	ActionStartRecording    ActionType = "START_RECORDING"
	ActionStopRecording     ActionType = "STOP_RECORDING"
	ActionRecordingComplete ActionType = "RECORDING_COMPLETE"
	ActionStartPlayback     ActionType = "START_PLAYBACK"
	ActionStopPlayback      ActionType = "STOP_PLAYBACK"
	ActionSetVolume         ActionType = "SET_VOLUME"
	ActionAudioError        ActionType = "AUDIO_ERROR"
	ActionClearError        ActionType = "CLEAR_ERROR"
)

// Action carries an action type plus its payload fields. Non-determinism
// (ids, clock reads) lives in the constructors so Transition stays pure.
type Action struct {
	Type      ActionType
	DeviceID  string
	SessionID string
	At        time.Time
	AudioRef  string
	Volume    float64
	Message   string
}

// StartRecording builds a START_RECORDING action with a fresh session id.
func StartRecording(deviceID string) Action {
	now := time.Now()
	return Action{
		Type:      ActionStartRecording,
		DeviceID:  deviceID,
		SessionID: fmt.Sprintf("rec-%s", now.Format("0102150405.000")),
		At:        now,
	}
}

func StopRecording() Action {
	return Action{Type: ActionStopRecording, At: time.Now()}
}

func RecordingComplete() Action { return Action{Type: ActionRecordingComplete} }

func StartPlayback(audioRef string) Action {
	return Action{Type: ActionStartPlayback, AudioRef: audioRef}
}

func StopPlayback() Action { return Action{Type: ActionStopPlayback} }

func SetVolume(v float64) Action { return Action{Type: ActionSetVolume, Volume: v} }

func AudioError(msg string) Action { return Action{Type: ActionAudioError, Message: msg} }

func ClearError() Action { return Action{Type: ActionClearError} }

// Transition applies an action to a state and returns the next state.
// Precondition violations (e.g. STOP_RECORDING with no open session) return
// the input state unchanged; pure functions have no failure channel here.
// Unknown action types are no-ops.
func Transition(s State, a Action) State {
	switch a.Type {
	case ActionStartRecording:
		next := s
		next.Status = StatusRecording
		next.Err = ""
		next.Recording = &RecordingSession{
			ID:        a.SessionID,
			StartTime: a.At,
			DeviceID:  a.DeviceID,
		}
		return next
	case ActionStopRecording:
		if s.Recording == nil {
			return s
		}
		next := s
		rec := *s.Recording
		rec.EndTime = a.At
		next.Recording = &rec
		next.Status = StatusProcessing
		return next
	case ActionRecordingComplete:
		if s.Status != StatusProcessing {
			return s
		}
		next := s
		next.Status = StatusIdle
		next.Recording = nil
		return next
	case ActionStartPlayback:
		next := s
		next.Status = StatusPlaying
		next.CurrentAudio = a.AudioRef
		next.Err = ""
		return next
	case ActionStopPlayback:
		next := s
		next.Status = StatusIdle
		next.CurrentAudio = ""
		return next
	case ActionSetVolume:
		next := s
		next.Volume = clampVolume(a.Volume)
		return next
	case ActionAudioError:
		next := s
		next.Status = StatusError
		next.CurrentAudio = ""
		next.Recording = nil
		next.Err = a.Message
		return next
	case ActionClearError:
		next := s
		next.Err = ""
		if s.CurrentAudio != "" {
			next.Status = StatusPlaying
		} else {
			next.Status = StatusIdle
		}
		return next
	}
	return s
}

// Values outside [0,1] are clamped, not rejected.
func clampVolume(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (s State) IsRecording() bool  { return s.Status == StatusRecording }
func (s State) IsPlaying() bool    { return s.Status == StatusPlaying }
func (s State) IsProcessing() bool { return s.Status == StatusProcessing }
func (s State) HasError() bool     { return s.Status == StatusError }
func (s State) CanRecord() bool    { return s.Status == StatusIdle }
func (s State) CanPlay() bool      { return s.Status == StatusIdle }

// RecordingDuration reports how long the current recording has been (or was)
// open. Zero when no recording session exists.
func (s State) RecordingDuration(now time.Time) time.Duration {
	if s.Recording == nil {
		return 0
	}
	end := s.Recording.EndTime
	if end.IsZero() {
		end = now
	}
	return end.Sub(s.Recording.StartTime)
}
