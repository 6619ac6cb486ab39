package frames

import "sync"

// Meta keys shared between the room transport and the transcription agent.
const (
	MetaParticipant     = "participant"
	MetaParticipantName = "participant_name"
	MetaTrackID         = "track_id"
	MetaSource          = "source"
	MetaReason          = "reason"
)

// AudioFrame is one slice of raw PCM as delivered by the room transport:
// signed 16-bit little-endian samples, mono unless Channels says otherwise.
type AudioFrame struct {
	data   []byte
	rate   int
	ch     int
	meta   map[string]string
	pooled bool
}

func NewAudioFrame(participant string, data []byte, rate, ch int, meta map[string]string) AudioFrame {
	return AudioFrame{
		data: data,
		rate: rate,
		ch:   ch,
		meta: mergeMeta(participant, meta),
	}
}

// NewAudioFrameFromPool copies data into a pooled buffer. Callers that are
// done with the frame should hand it back via ReleaseAudioFrame.
func NewAudioFrameFromPool(participant string, data []byte, rate, ch int, meta map[string]string) AudioFrame {
	buf := acquireAudioBuf(len(data))
	copy(buf, data)
	return AudioFrame{
		data:   buf,
		rate:   rate,
		ch:     ch,
		meta:   mergeMeta(participant, meta),
		pooled: true,
	}
}

func (a AudioFrame) Data() []byte            { return append([]byte(nil), a.data...) }
func (a AudioFrame) RawPayload() []byte      { return a.data }
func (a AudioFrame) Rate() int               { return a.rate }
func (a AudioFrame) Channels() int           { return a.ch }
func (a AudioFrame) Meta() map[string]string { return cloneMeta(a.meta) }

// Participant returns the identity the frame belongs to.
func (a AudioFrame) Participant() string { return a.meta[MetaParticipant] }

func ReleaseAudioFrame(a AudioFrame) bool {
	if a.pooled {
		releaseAudioBuf(a.data)
		return true
	}
	return false
}

var audioBufPool = sync.Pool{
	New: func() any {
		return make([]byte, 0, 4096)
	},
}

func acquireAudioBuf(size int) []byte {
	b := audioBufPool.Get().([]byte)
	if cap(b) < size {
		return make([]byte, size)
	}
	return b[:size]
}

func releaseAudioBuf(b []byte) {
	audioBufPool.Put(b[:0])
}

func mergeMeta(participant string, meta map[string]string) map[string]string {
	out := make(map[string]string, 1+len(meta))
	if participant != "" {
		out[MetaParticipant] = participant
	}
	for k, v := range meta {
		out[k] = v
	}
	return out
}

func cloneMeta(meta map[string]string) map[string]string {
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
