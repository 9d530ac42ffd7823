package conversation

import (
	"fmt"
	"time"
)

// Status is the phase of one conversation turn cycle:
// idle -> recording -> processing -> speaking -> idle.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusRecording  Status = "recording"
	StatusProcessing Status = "processing"
	StatusSpeaking   Status = "speaking"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one utterance in a conversation. Messages are never mutated
// after creation; persistence belongs to external collaborators.
type Message struct {
	ID        string
	Role      Role
	Content   string
	Timestamp time.Time
}

// State is the conversation state machine. The message sequence is
// append-only within a conversation and SessionID is immutable once set by
// START_CONVERSATION.
type State struct {
	Status    Status
	SessionID string
	Messages  []Message
	StartTime time.Time
	Language  string
	Voice     string
	Err       string
}

// Initial returns an empty idle conversation.
func Initial() State {
	return State{Status: StatusIdle}
}

// ActionType discriminates Action values.
type ActionType string

const (
	ActionStartConversation   ActionType = "START_CONVERSATION"
	ActionStartRecording      ActionType = "START_RECORDING"
	ActionStopRecording       ActionType = "STOP_RECORDING"
	ActionReceiveResponse     ActionType = "RECEIVE_RESPONSE"
	ActionStopSpeaking        ActionType = "STOP_SPEAKING"
	ActionSetError            ActionType = "SET_ERROR"
	ActionAddUserMessage      ActionType = "ADD_USER_MESSAGE"
	ActionAddAssistantMessage ActionType = "ADD_ASSISTANT_MESSAGE"
	ActionEndConversation     ActionType = "END_CONVERSATION"
)

// Action carries an action type plus its payload. Constructors capture
// wall-clock time so Transition stays deterministic for a given value.
type Action struct {
	Type       ActionType
	SessionID  string
	Language   string
	Voice      string
	At         time.Time
	Audio      []byte
	Transcript string
	Response   string
	Text       string
	Message    string
}

// StartConversation resets to a fresh conversation with the given session.
func StartConversation(sessionID, language, voice string) Action {
	return Action{
		Type:      ActionStartConversation,
		SessionID: sessionID,
		Language:  language,
		Voice:     voice,
		At:        time.Now(),
	}
}

func StartRecording() Action { return Action{Type: ActionStartRecording} }

// StopRecording carries the captured audio so the TRANSCRIBE effect has a
// payload to hand the shell.
func StopRecording(audio []byte) Action {
	return Action{Type: ActionStopRecording, Audio: audio}
}

// ReceiveResponse delivers a completed turn: what the user said and what the
// assistant replied.
func ReceiveResponse(transcript, response string) Action {
	return Action{Type: ActionReceiveResponse, Transcript: transcript, Response: response, At: time.Now()}
}

func StopSpeaking() Action { return Action{Type: ActionStopSpeaking} }

func SetError(msg string) Action { return Action{Type: ActionSetError, Message: msg} }

// AddUserMessage appends a user message outside the turn pipeline. Used when
// a realtime transport delivers transcripts on its own schedule.
func AddUserMessage(text string) Action {
	return Action{Type: ActionAddUserMessage, Text: text, At: time.Now()}
}

// AddAssistantMessage is the assistant-side counterpart of AddUserMessage.
func AddAssistantMessage(text string) Action {
	return Action{Type: ActionAddAssistantMessage, Text: text, At: time.Now()}
}

func EndConversation() Action { return Action{Type: ActionEndConversation} }

// Transition applies an action and returns the next state. Guarded actions
// whose precondition state does not match return the input unchanged;
// recording or transcribing is meaningless outside its phase. Unknown
// actions are no-ops.
func Transition(s State, a Action) State {
	switch a.Type {
	case ActionStartConversation:
		return State{
			Status:    StatusIdle,
			SessionID: a.SessionID,
			StartTime: a.At,
			Language:  a.Language,
			Voice:     a.Voice,
		}
	case ActionStartRecording:
		if s.Status != StatusIdle {
			return s
		}
		next := s
		next.Status = StatusRecording
		return next
	case ActionStopRecording:
		if s.Status != StatusRecording {
			return s
		}
		next := s
		next.Status = StatusProcessing
		return next
	case ActionReceiveResponse:
		if s.Status != StatusProcessing {
			return s
		}
		next := s
		next.Messages = appendMessages(s,
			Message{Role: RoleUser, Content: a.Transcript, Timestamp: a.At},
			Message{Role: RoleAssistant, Content: a.Response, Timestamp: a.At},
		)
		next.Status = StatusSpeaking
		return next
	case ActionStopSpeaking:
		next := s
		next.Status = StatusIdle
		return next
	case ActionSetError:
		// Errors are not terminal here: record the message and bounce back
		// to idle so the next user action can proceed.
		next := s
		next.Err = a.Message
		next.Status = StatusIdle
		return next
	case ActionAddUserMessage:
		next := s
		next.Messages = appendMessages(s, Message{Role: RoleUser, Content: a.Text, Timestamp: a.At})
		return next
	case ActionAddAssistantMessage:
		next := s
		next.Messages = appendMessages(s, Message{Role: RoleAssistant, Content: a.Text, Timestamp: a.At})
		return next
	case ActionEndConversation:
		return Initial()
	}
	return s
}

// appendMessages copies the message slice so the input state's backing array
// is never shared with the new state, then assigns sequential ids scoped to
// the session.
func appendMessages(s State, msgs ...Message) []Message {
	out := make([]Message, len(s.Messages), len(s.Messages)+len(msgs))
	copy(out, s.Messages)
	for _, m := range msgs {
		m.ID = fmt.Sprintf("%s-msg-%d", s.SessionID, len(out)+1)
		out = append(out, m)
	}
	return out
}
