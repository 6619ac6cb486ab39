// Package room connects the transcription agent to a live room: it
// surfaces per-speaker audio and republishes transcript events.
package room

import (
	"context"

	"github.com/harunnryd/roomscribe/pkg/frames"
	"github.com/harunnryd/roomscribe/pkg/transcript"
)

// Speaker identifies one remote participant with an audio track.
type Speaker struct {
	Identity string
	Name     string
	TrackID  string
}

// Handler consumes speaker audio and lifecycle events from a Bridge.
// OnSpeakerAudio must not block; the audio channel is closed when the
// speaker's track ends. OnSpeakerGone fires when a participant leaves
// regardless of track state.
type Handler interface {
	OnSpeakerAudio(speaker Speaker, audio <-chan frames.AudioFrame)
	OnSpeakerGone(identity string)
}

// Bridge is the room transport. Connect wires a Handler to the room;
// Publish sends a transcript event to everyone in it.
type Bridge interface {
	Connect(ctx context.Context, h Handler) error
	Publish(ctx context.Context, ev transcript.Event) error
	Disconnect()
}
