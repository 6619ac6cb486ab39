package audio

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestChunkBufferExactSizes(t *testing.T) {
	b := NewChunkBuffer(8)
	chunks := b.Add(make([]byte, 20))
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c) != 8 {
			t.Fatalf("chunk %d has size %d, want 8", i, len(c))
		}
	}
	if b.Buffered() != 4 {
		t.Fatalf("expected 4 carry-over bytes, got %d", b.Buffered())
	}
}

func TestChunkBufferReassemblesOriginalStream(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	original := make([]byte, 10_000)
	rng.Read(original)

	b := NewChunkBuffer(256)
	var rebuilt []byte
	for off := 0; off < len(original); {
		n := 1 + rng.Intn(700)
		if off+n > len(original) {
			n = len(original) - off
		}
		for _, c := range b.Add(original[off : off+n]) {
			rebuilt = append(rebuilt, c...)
		}
		off += n
	}
	rebuilt = append(rebuilt, b.Flush()...)

	if !bytes.Equal(rebuilt, original) {
		t.Fatalf("reassembled stream differs from original")
	}
	if b.Buffered() != 0 {
		t.Fatalf("expected empty buffer after flush, got %d bytes", b.Buffered())
	}
}

func TestChunkBufferFlushEmpty(t *testing.T) {
	b := NewChunkBuffer(16)
	if rest := b.Flush(); rest != nil {
		t.Fatalf("expected nil flush on empty buffer, got %d bytes", len(rest))
	}
	b.Add(make([]byte, 16))
	if rest := b.Flush(); rest != nil {
		t.Fatalf("expected nil flush after aligned add, got %d bytes", len(rest))
	}
}

func TestChunkBufferChunksAreIndependent(t *testing.T) {
	b := NewChunkBuffer(4)
	first := b.Add([]byte{1, 2, 3, 4})[0]
	b.Add([]byte{9, 9, 9, 9})
	if !bytes.Equal(first, []byte{1, 2, 3, 4}) {
		t.Fatalf("earlier chunk mutated by later add: %v", first)
	}
}
