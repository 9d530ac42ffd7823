package conversation

import (
	"testing"
)

func TestTransition_TurnCycle(t *testing.T) {
	s := Transition(Initial(), StartConversation("sess-1", "es", "alloy"))
	if s.SessionID != "sess-1" || s.Language != "es" || s.Voice != "alloy" {
		t.Fatalf("start conversation fields wrong: %+v", s)
	}
	if len(s.Messages) != 0 || s.Status != StatusIdle {
		t.Fatalf("expected fresh idle conversation")
	}

	s = Transition(s, StartRecording())
	if s.Status != StatusRecording {
		t.Fatalf("expected recording, got %s", s.Status)
	}
	s = Transition(s, StopRecording([]byte{1, 2}))
	if s.Status != StatusProcessing {
		t.Fatalf("expected processing, got %s", s.Status)
	}

	s = Transition(s, ReceiveResponse("Hola", "¡Hola! ¿Cómo estás?"))
	if s.Status != StatusSpeaking {
		t.Fatalf("expected speaking, got %s", s.Status)
	}
	if len(s.Messages) != 2 {
		t.Fatalf("expected two messages, got %d", len(s.Messages))
	}
	if s.Messages[0].Role != RoleUser || s.Messages[0].Content != "Hola" {
		t.Fatalf("first message should be user transcript: %+v", s.Messages[0])
	}
	if s.Messages[1].Role != RoleAssistant {
		t.Fatalf("second message should be assistant: %+v", s.Messages[1])
	}

	s = Transition(s, StopSpeaking())
	if s.Status != StatusIdle {
		t.Fatalf("expected idle after speaking, got %s", s.Status)
	}
}

func TestTransition_GuardedRecording(t *testing.T) {
	s := Transition(Initial(), StartConversation("sess-1", "en", "alloy"))

	// STOP_RECORDING outside recording is rejected.
	next := Transition(s, StopRecording(nil))
	if next.Status != s.Status {
		t.Fatalf("stop recording on idle should be rejected")
	}

	// START_RECORDING outside idle is rejected.
	rec := Transition(s, StartRecording())
	again := Transition(rec, StartRecording())
	if again.Status != StatusRecording {
		t.Fatalf("double start recording should be a no-op")
	}
}

func TestTransition_ReceiveResponseGuardedOnProcessing(t *testing.T) {
	s := Transition(Initial(), StartConversation("sess-1", "en", "alloy"))
	next := Transition(s, ReceiveResponse("hi", "hello"))
	if len(next.Messages) != 0 || next.Status != StatusIdle {
		t.Fatalf("receive response outside processing must not change state")
	}
}

func TestTransition_SetErrorForcesIdle(t *testing.T) {
	s := Transition(Initial(), StartConversation("sess-1", "en", "alloy"))
	s = Transition(s, StartRecording())
	s = Transition(s, SetError("mic unavailable"))
	if s.Status != StatusIdle || s.Err != "mic unavailable" {
		t.Fatalf("expected idle with error recorded, got %+v", s)
	}
}

func TestTransition_AppendOnlyMessages(t *testing.T) {
	s := Transition(Initial(), StartConversation("sess-1", "en", "alloy"))
	s = Transition(s, AddUserMessage("hello"))
	snapshot := s.Messages[0]

	s2 := Transition(s, AddAssistantMessage("hi there"))
	if len(s.Messages) != 1 {
		t.Fatalf("input state message slice grew")
	}
	if s.Messages[0] != snapshot {
		t.Fatalf("existing message mutated")
	}
	if len(s2.Messages) != 2 || s2.Messages[1].Role != RoleAssistant {
		t.Fatalf("append assistant failed: %+v", s2.Messages)
	}
	if s2.Messages[0].ID == s2.Messages[1].ID {
		t.Fatalf("message ids must be unique")
	}
}

func TestTransition_EndConversationResets(t *testing.T) {
	s := Transition(Initial(), StartConversation("sess-1", "en", "alloy"))
	s = Transition(s, AddUserMessage("hello"))
	s = Transition(s, EndConversation())
	if s.SessionID != "" || len(s.Messages) != 0 || s.Status != StatusIdle {
		t.Fatalf("expected fresh idle state after end, got %+v", s)
	}
}

func TestEffectsFor_Correspondence(t *testing.T) {
	base := Transition(Initial(), StartConversation("sess-1", "en", "alloy"))
	recording := Transition(base, StartRecording())
	processing := Transition(recording, StopRecording([]byte{1}))

	// STOP_RECORDING with audio in recording state yields TRANSCRIBE.
	effs := EffectsFor(recording, StopRecording([]byte{9, 9}))
	if len(effs) != 1 || effs[0].Type != EffectTranscribe || len(effs[0].Audio) != 2 {
		t.Fatalf("expected transcribe effect with audio, got %+v", effs)
	}

	// STOP_RECORDING without audio yields nothing.
	if effs := EffectsFor(recording, StopRecording(nil)); len(effs) != 0 {
		t.Fatalf("expected no effects without audio")
	}

	// RECEIVE_RESPONSE in processing yields SPEAK then SAVE_EXCHANGE.
	effs = EffectsFor(processing, ReceiveResponse("hi", "hello"))
	if len(effs) != 2 || effs[0].Type != EffectSpeak || effs[1].Type != EffectSaveExchange {
		t.Fatalf("expected speak+save, got %+v", effs)
	}
	if effs[0].Text != "hello" || effs[1].User != "hi" || effs[1].Assistant != "hello" {
		t.Fatalf("effect payloads wrong: %+v", effs)
	}

	// RECEIVE_RESPONSE outside processing yields nothing.
	if effs := EffectsFor(base, ReceiveResponse("a", "b")); len(effs) != 0 {
		t.Fatalf("expected no effects outside processing")
	}

	// Actions with no effect mapping.
	for _, a := range []Action{StartConversation("x", "en", "v"), StartRecording(), StopSpeaking(), SetError("e"), EndConversation()} {
		if effs := EffectsFor(base, a); len(effs) != 0 {
			t.Fatalf("expected no effects for %s", a.Type)
		}
	}
}
