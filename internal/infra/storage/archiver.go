package storage

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hkuwana/kaiwa-v2-sub000/internal/conversation"
	"github.com/hkuwana/kaiwa-v2-sub000/internal/events"
)

// Uploader is the storage surface the archiver needs.
type Uploader interface {
	Upload(key, contentType string, data []byte) error
}

// Archiver listens on the event bus and persists finished conversations as
// JSON transcripts plus raw recordings from completed captures.
type Archiver struct {
	store Uploader
}

func NewArchiver(store Uploader) *Archiver {
	return &Archiver{store: store}
}

// transcriptDoc is the persisted shape of one conversation.
type transcriptDoc struct {
	SessionID    string                 `json:"session_id"`
	EndedAt      time.Time              `json:"ended_at"`
	Duration     string                 `json:"duration"`
	MessageCount int                    `json:"message_count"`
	Messages     []conversation.Message `json:"messages"`
}

// Attach subscribes the archiver to conversation end and recording stop
// events for the lifetime of the bus.
func (a *Archiver) Attach(bus *events.Bus) {
	bus.On(events.ConversationEnded, func(ev events.Event) {
		if err := a.archive(ev); err != nil {
			log.Printf("[%s] transcript archive error: %v", ev.SessionID, err)
		}
	})
	bus.On(events.RecordingStopped, func(ev events.Event) {
		if err := a.archiveRecording(ev); err != nil {
			log.Printf("[%s] recording archive error: %v", ev.SessionID, err)
		}
	})
}

func (a *Archiver) archive(ev events.Event) error {
	doc := transcriptDoc{
		SessionID: ev.SessionID,
		EndedAt:   ev.Timestamp,
	}
	if d, ok := ev.Payload["duration"].(time.Duration); ok {
		doc.Duration = d.String()
	}
	if n, ok := ev.Payload["messageCount"].(int); ok {
		doc.MessageCount = n
	}
	if msgs, ok := ev.Payload["messages"].([]conversation.Message); ok {
		doc.Messages = msgs
	}
	if doc.MessageCount == 0 && len(doc.Messages) == 0 {
		// nothing worth archiving
		return nil
	}

	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	key := fmt.Sprintf("transcripts/%s.json", ev.SessionID)
	return a.store.Upload(key, "application/json", body)
}

// archiveRecording stores the raw capture when the event carries one.
// Streamed recordings stop without a buffered capture and are skipped.
func (a *Archiver) archiveRecording(ev events.Event) error {
	pcm, ok := ev.Payload["pcm"].([]byte)
	if !ok || len(pcm) == 0 {
		return nil
	}
	key := fmt.Sprintf("recordings/%s-%s.pcm", ev.SessionID, ev.Timestamp.Format("150405.000"))
	return a.store.Upload(key, "application/octet-stream", pcm)
}
