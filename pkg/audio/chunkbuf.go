// Package audio implements the byte-level plumbing between room audio
// frames and the transcription wire format: fixed-size chunk buffering,
// PCM16/float32 sample conversion, and WAV encoding for debug capture.
package audio

// DefaultChunkSize is the payload size the transcription server expects
// per audio message, in bytes of 16-bit PCM.
const DefaultChunkSize = 4096

// ChunkBuffer accumulates raw audio bytes and slices them into fixed-size
// chunks. Between calls it holds at most chunkSize-1 bytes of carry-over.
type ChunkBuffer struct {
	chunkSize int
	buf       []byte
}

func NewChunkBuffer(chunkSize int) *ChunkBuffer {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &ChunkBuffer{chunkSize: chunkSize}
}

// Add appends data and returns every complete chunk now available, oldest
// first. Each returned chunk is exactly chunkSize bytes and owned by the
// caller; leftover bytes stay buffered for the next call.
func (b *ChunkBuffer) Add(data []byte) [][]byte {
	b.buf = append(b.buf, data...)
	var chunks [][]byte
	for len(b.buf) >= b.chunkSize {
		chunk := make([]byte, b.chunkSize)
		copy(chunk, b.buf[:b.chunkSize])
		chunks = append(chunks, chunk)
		b.buf = b.buf[b.chunkSize:]
	}
	if len(b.buf) == 0 {
		b.buf = nil
	}
	return chunks
}

// Flush drains the partial remainder, if any. Called once at stream end.
func (b *ChunkBuffer) Flush() []byte {
	if len(b.buf) == 0 {
		return nil
	}
	rest := make([]byte, len(b.buf))
	copy(rest, b.buf)
	b.buf = nil
	return rest
}

// Buffered reports the carry-over size in bytes.
func (b *ChunkBuffer) Buffered() int { return len(b.buf) }
