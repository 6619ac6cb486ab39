package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	// Transcription session failures.
	ReasonASRConnect  ReasonCode = "asr_connect"
	ReasonASRCapacity ReasonCode = "asr_capacity"
	ReasonASRSend     ReasonCode = "asr_send"
	ReasonASRCallback ReasonCode = "asr_callback"
	ReasonASRParse    ReasonCode = "asr_parse"
	ReasonASRStale    ReasonCode = "asr_stale"
	ReasonASRTimeout  ReasonCode = "asr_ready_timeout"

	// Room transport failures.
	ReasonRoomConnect ReasonCode = "room_connect"
	ReasonRoomPublish ReasonCode = "room_publish"
)
