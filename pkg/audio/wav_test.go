package audio

import "testing"

func TestWAVRoundTrip(t *testing.T) {
	samples := []int16{0, 100, -100, 32767, -32768, 42}
	body, err := EncodeWAV(samples, 16000)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(body) != 44+len(samples)*2 {
		t.Fatalf("unexpected wav size %d", len(body))
	}
	got, rate, err := DecodeWAV(body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rate != 16000 {
		t.Fatalf("expected rate 16000, got %d", rate)
	}
	if len(got) != len(samples) {
		t.Fatalf("expected %d samples, got %d", len(samples), len(got))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Fatalf("sample %d: %d != %d", i, got[i], samples[i])
		}
	}
}

func TestEncodeWAVRejectsBadInput(t *testing.T) {
	if _, err := EncodeWAV(nil, 16000); err == nil {
		t.Fatalf("expected error for empty samples")
	}
	if _, err := EncodeWAV([]int16{1}, 0); err == nil {
		t.Fatalf("expected error for zero sample rate")
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	if _, _, err := DecodeWAV([]byte("not a wav")); err == nil {
		t.Fatalf("expected error for short input")
	}
	body, _ := EncodeWAV([]int16{1, 2, 3}, 8000)
	body[0] = 'X'
	if _, _, err := DecodeWAV(body); err == nil {
		t.Fatalf("expected error for bad magic")
	}
}
