package transcript

import (
	"strings"
	"testing"
)

func TestEventEnvelopeRoundTrip(t *testing.T) {
	ev := New("alice", "Alice", "hello there", true)
	if !strings.HasPrefix(ev.ID, "transcript-") {
		t.Fatalf("unexpected id %q", ev.ID)
	}
	if ev.Timestamp == 0 {
		t.Fatalf("timestamp not set")
	}

	data, err := ev.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != ev {
		t.Fatalf("round trip mismatch: %+v != %+v", got, ev)
	}
}

func TestDecodeRejectsForeignEnvelopes(t *testing.T) {
	if _, err := Decode([]byte(`{"type":"chat","entry":{}}`)); err == nil {
		t.Fatalf("expected rejection of non-transcript envelope")
	}
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Fatalf("expected rejection of malformed payload")
	}
}
