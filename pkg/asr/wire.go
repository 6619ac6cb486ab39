package asr

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Sentinel values the server places in the message field.
const (
	sentinelServerReady = "SERVER_READY"
	sentinelDisconnect  = "DISCONNECT"
)

// Status values the server places in the status field.
const (
	statusWait    = "WAIT"
	statusError   = "ERROR"
	statusWarning = "WARNING"
)

// configMessage is the one-time session configuration sent after connect.
type configMessage struct {
	UID                 string  `json:"uid"`
	Language            string  `json:"language"`
	Task                string  `json:"task"`
	Model               string  `json:"model"`
	UseVAD              bool    `json:"use_vad"`
	SendLastNSegments   int     `json:"send_last_n_segments"`
	NoSpeechThresh      float64 `json:"no_speech_thresh"`
	ClipAudio           bool    `json:"clip_audio"`
	SameOutputThreshold int     `json:"same_output_threshold"`
	EnableTranslation   bool    `json:"enable_translation"`
	TargetLanguage      string  `json:"target_language"`
}

// Segment is one unit of recognized speech reported by the server,
// provisional until Completed is set.
type Segment struct {
	Start     string `json:"start,omitempty"`
	End       string `json:"end,omitempty"`
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
}

// serverMessage is the union of everything the server sends. The message
// field carries either a sentinel string or, for WAIT statuses, the
// estimated wait in minutes as a number, so it stays raw until inspected.
type serverMessage struct {
	UID          string          `json:"uid"`
	Status       string          `json:"status,omitempty"`
	Message      json.RawMessage `json:"message,omitempty"`
	Backend      string          `json:"backend,omitempty"`
	Language     string          `json:"language,omitempty"`
	LanguageProb float64         `json:"language_prob,omitempty"`
	Segments     []Segment       `json:"segments,omitempty"`
}

func (m *serverMessage) messageText() string {
	if len(m.Message) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(m.Message, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(m.Message))
}

func (m *serverMessage) messageNumber() float64 {
	if len(m.Message) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(m.Message, &f); err == nil {
		return f
	}
	if f, err := strconv.ParseFloat(m.messageText(), 64); err == nil {
		return f
	}
	return 0
}
