package conversation

// EffectType discriminates Effect values.
type EffectType string

const (
	EffectTranscribe   EffectType = "TRANSCRIBE"
	EffectSpeak        EffectType = "SPEAK"
	EffectSaveExchange EffectType = "SAVE_EXCHANGE"
)

// Effect is a declarative side effect for the shell to run against the
// speech and persistence ports.
type Effect struct {
	Type      EffectType
	Audio     []byte
	Text      string
	User      string
	Assistant string
}

// EffectsFor mirrors the Transition guards: actions the reducer ignores
// produce no effects.
func EffectsFor(s State, a Action) []Effect {
	switch a.Type {
	case ActionStopRecording:
		if s.Status != StatusRecording || len(a.Audio) == 0 {
			return nil
		}
		return []Effect{{Type: EffectTranscribe, Audio: a.Audio}}
	case ActionReceiveResponse:
		if s.Status != StatusProcessing {
			return nil
		}
		effs := []Effect{{Type: EffectSpeak, Text: a.Response}}
		// The exchange itself guarantees messages exist once applied.
		effs = append(effs, Effect{Type: EffectSaveExchange, User: a.Transcript, Assistant: a.Response})
		return effs
	}
	return nil
}
