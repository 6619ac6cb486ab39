package metrics

import "time"

// Event names emitted by the transcription pipeline.
const (
	EventSessionStarted   = "session_started"
	EventSessionClosed    = "session_closed"
	EventSessionRejected  = "session_rejected"
	EventSessionStale     = "session_stale"
	EventAudioChunkSent   = "audio_chunk_sent"
	EventFrameDropped     = "frame_dropped"
	EventBatchReceived    = "batch_received"
	EventTranscriptSent   = "transcript_published"
	EventTranscriptFailed = "transcript_publish_failed"
)

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// Count records a single occurrence of a named event.
func Count(o Observer, name string, tags map[string]string) {
	if o == nil {
		return
	}
	o.RecordEvent(MetricsEvent{Name: name, Time: time.Now(), Value: 1, Tags: tags})
}

// Timing records a duration in milliseconds for a named event.
func Timing(o Observer, name string, d time.Duration, tags map[string]string) {
	if o == nil {
		return
	}
	o.RecordEvent(MetricsEvent{
		Name:  name,
		Time:  time.Now(),
		Value: float64(d.Milliseconds()),
		Tags:  tags,
	})
}
