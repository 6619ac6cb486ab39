package asr

import "strings"

// Batch is the combined text of one segments message after dedup.
type Batch struct {
	Text  string
	Final bool
}

// BuildBatch collapses a reported segment list into a single batch. A
// segment is kept unless its trimmed text is empty or equals the
// immediately preceding kept text (run-length dedup, not global dedup).
// Finality is taken from the last reported segment regardless of whether
// it was kept.
func BuildBatch(segments []Segment) Batch {
	if len(segments) == 0 {
		return Batch{}
	}
	var parts []string
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if len(parts) > 0 && parts[len(parts)-1] == text {
			continue
		}
		parts = append(parts, text)
	}
	return Batch{
		Text:  strings.Join(parts, " "),
		Final: segments[len(segments)-1].Completed,
	}
}
