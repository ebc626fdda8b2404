package protocol

import (
	"encoding/json"
	"time"
)

// Kind classifies a frame on the wire.
type Kind string

const (
	KindSent     Kind = "sent"
	KindReceived Kind = "received"
	KindSystem   Kind = "system"

	KindStreamStart   Kind = "stream_start"
	KindStreamContent Kind = "stream_content"
	KindStreamEnd     Kind = "stream_end"
)

// IsStream reports whether k is one of the stream control kinds.
func (k Kind) IsStream() bool {
	return k == KindStreamStart || k == KindStreamContent || k == KindStreamEnd
}

// Message is a unit of chat content as kept in the history log.
type Message struct {
	Text        string    `json:"text"`
	Kind        Kind      `json:"kind"`
	IsAutomated bool      `json:"isAutomated,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	SenderID    string    `json:"senderId,omitempty"`
}

// Persistable reports whether the message belongs in the history log.
// System notices are display-only.
func (m Message) Persistable() bool {
	return m.Kind != KindSystem
}

// Event is one JSON object carried by one websocket frame.
type Event struct {
	Kind        Kind       `json:"kind"`
	Text        string     `json:"text,omitempty"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
	SenderID    string     `json:"senderId,omitempty"`
	IsAutomated bool       `json:"isAutomated,omitempty"`
	Content     string     `json:"content,omitempty"`
}

// Message converts a non-stream event into a Message. Events that arrive
// without a timestamp are stamped with now.
func (e Event) Message(now time.Time) Message {
	ts := now
	if e.Timestamp != nil && !e.Timestamp.IsZero() {
		ts = *e.Timestamp
	}
	return Message{
		Text:        e.Text,
		Kind:        e.Kind,
		IsAutomated: e.IsAutomated,
		Timestamp:   ts,
		SenderID:    e.SenderID,
	}
}

// FromMessage builds the wire event for msg.
func FromMessage(msg Message) Event {
	ts := msg.Timestamp
	return Event{
		Kind:        msg.Kind,
		Text:        msg.Text,
		Timestamp:   &ts,
		SenderID:    msg.SenderID,
		IsAutomated: msg.IsAutomated,
	}
}

// System builds a system notice stamped at now.
func System(text string, now time.Time) Event {
	return Event{Kind: KindSystem, Text: text, Timestamp: &now}
}

func StreamStart() Event { return Event{Kind: KindStreamStart} }

func StreamContent(chunk string) Event {
	return Event{Kind: KindStreamContent, Content: chunk}
}

func StreamEnd() Event { return Event{Kind: KindStreamEnd} }

// Decode parses a single frame.
func Decode(frame []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(frame, &ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// Encode renders ev as a single frame.
func Encode(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}
