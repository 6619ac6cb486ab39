package audio

import (
	"encoding/binary"
	"math"
)

// ToFloatSamples interprets data as signed 16-bit little-endian PCM and
// normalizes each sample by 1/32768 into [-1, 1]. A trailing odd byte is
// ignored.
func ToFloatSamples(data []byte) []float32 {
	n := len(data) / 2
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = float32(s) / 32768.0
	}
	return samples
}

// ToPCM16 is the inverse of ToFloatSamples: it scales by 32767 with
// rounding and clamps to the int16 range. Used only for debug persistence.
func ToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := math.Round(float64(s) * 32767.0)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		out[i] = int16(v)
	}
	return out
}

// FloatsToBytes serializes samples as raw little-endian float32, the
// binary payload format the transcription server consumes.
func FloatsToBytes(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

// BytesToFloats parses raw little-endian float32 payloads back into
// samples. A trailing partial sample is ignored.
func BytesToFloats(data []byte) []float32 {
	n := len(data) / 4
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return samples
}

// BytesToPCM16 parses little-endian bytes back into int16 samples. A
// trailing odd byte is ignored.
func BytesToPCM16(data []byte) []int16 {
	n := len(data) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

// PCM16ToBytes serializes int16 samples as little-endian bytes.
func PCM16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
