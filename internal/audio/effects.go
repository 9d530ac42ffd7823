package audio

// EffectType discriminates Effect values.
type EffectType string

const (
	EffectInitializeRecording EffectType = "INITIALIZE_RECORDING"
	EffectProcessRecording    EffectType = "PROCESS_RECORDING"
	EffectPlayAudio           EffectType = "PLAY_AUDIO"
	EffectStopAudio           EffectType = "STOP_AUDIO"
	EffectUpdateVolume        EffectType = "UPDATE_VOLUME"
)

// Effect is a declarative side effect for the shell to execute against the
// audio device port. The core never performs I/O itself.
type Effect struct {
	Type      EffectType
	DeviceID  string
	SessionID string
	AudioRef  string
	Volume    float64
}

// EffectsFor maps an action (applied to a given state) to the effects the
// shell must run. Guards mirror Transition: an action Transition ignores
// produces no effects.
func EffectsFor(s State, a Action) []Effect {
	switch a.Type {
	case ActionStartRecording:
		return []Effect{{Type: EffectInitializeRecording, DeviceID: a.DeviceID, SessionID: a.SessionID}}
	case ActionStopRecording:
		if s.Recording == nil {
			return nil
		}
		return []Effect{{Type: EffectProcessRecording, SessionID: s.Recording.ID}}
	case ActionStartPlayback:
		return []Effect{{Type: EffectPlayAudio, AudioRef: a.AudioRef}}
	case ActionStopPlayback:
		return []Effect{{Type: EffectStopAudio}}
	case ActionSetVolume:
		return []Effect{{Type: EffectUpdateVolume, Volume: clampVolume(a.Volume)}}
	case ActionAudioError:
		// Whatever was playing must stop when the pipeline faults.
		return []Effect{{Type: EffectStopAudio}}
	}
	return nil
}
