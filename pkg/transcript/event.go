// Package transcript defines the transcript entries republished to the
// room and their wire envelope.
package transcript

import (
	"encoding/json"
	"fmt"
	"time"
)

// Topic is the data-channel topic transcript envelopes are published on.
const Topic = "transcript"

// Event is one transcript entry for a single speaker. Provisional
// entries (IsFinal false) may be superseded by later entries carrying
// revised text for the same utterance.
type Event struct {
	ID                  string `json:"id"`
	ParticipantIdentity string `json:"participantIdentity"`
	ParticipantName     string `json:"participantName"`
	Text                string `json:"text"`
	Timestamp           int64  `json:"timestamp"`
	IsFinal             bool   `json:"isFinal"`
}

type envelope struct {
	Type  string `json:"type"`
	Entry Event  `json:"entry"`
}

// New builds an event stamped with the current wall clock.
func New(identity, name, text string, final bool) Event {
	now := time.Now().UnixMilli()
	return Event{
		ID:                  fmt.Sprintf("transcript-%d", now),
		ParticipantIdentity: identity,
		ParticipantName:     name,
		Text:                text,
		Timestamp:           now,
		IsFinal:             final,
	}
}

// Encode wraps the event in its typed envelope for publication.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(envelope{Type: "transcript", Entry: e})
}

// Decode parses an envelope back into its event. Payloads with a
// different type field are rejected.
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, err
	}
	if env.Type != "transcript" {
		return Event{}, fmt.Errorf("unexpected envelope type %q", env.Type)
	}
	return env.Entry, nil
}
