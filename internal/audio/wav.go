package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// WAV holds a decoded PCM16 RIFF/WAVE payload.
type WAV struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	Data          []byte // interleaved little-endian PCM frames
}

var (
	ErrNotWAV         = errors.New("audio: not a RIFF/WAVE payload")
	ErrUnsupportedWAV = errors.New("audio: unsupported WAV encoding (PCM16 required)")
	ErrEmptySpan      = errors.New("audio: requested span contains no samples")
)

// Decode parses a WAV byte payload. Only uncompressed PCM with 16-bit
// samples is supported; that is what the live clients and sidecars produce.
func Decode(b []byte) (*WAV, error) {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return nil, ErrNotWAV
	}

	w := &WAV{}
	haveFmt := false

	// Walk the chunk list; fmt must precede data.
	off := 12
	for off+8 <= len(b) {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		body := off + 8
		if body+size > len(b) {
			size = len(b) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, ErrUnsupportedWAV
			}
			format := binary.LittleEndian.Uint16(b[body : body+2])
			w.Channels = int(binary.LittleEndian.Uint16(b[body+2 : body+4]))
			w.SampleRate = int(binary.LittleEndian.Uint32(b[body+4 : body+8]))
			w.BitsPerSample = int(binary.LittleEndian.Uint16(b[body+14 : body+16]))
			if format != 1 || w.BitsPerSample != 16 || w.Channels < 1 {
				return nil, ErrUnsupportedWAV
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, ErrUnsupportedWAV
			}
			w.Data = b[body : body+size]
			return w, nil
		}

		// Chunks are word-aligned.
		off = body + size
		if size%2 == 1 {
			off++
		}
	}

	return nil, ErrNotWAV
}

// Encode serializes the payload back into a minimal 44-byte-header WAV file.
func (w *WAV) Encode() []byte {
	blockAlign := w.Channels * w.BitsPerSample / 8
	byteRate := w.SampleRate * blockAlign

	out := make([]byte, 44+len(w.Data))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(w.Data)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:24], uint16(w.Channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(w.SampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], uint16(w.BitsPerSample))
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(w.Data)))
	copy(out[44:], w.Data)
	return out
}

// Duration returns the audio length in seconds.
func (w *WAV) Duration() float64 {
	blockAlign := w.Channels * 2
	if w.SampleRate == 0 || blockAlign == 0 {
		return 0
	}
	return float64(len(w.Data)/blockAlign) / float64(w.SampleRate)
}

// Slice cuts the [start, end) span (seconds, chunk-relative) and returns it
// as a standalone WAV payload suitable for the embedding extractor.
func (w *WAV) Slice(start, end float64) ([]byte, error) {
	if start < 0 {
		start = 0
	}
	dur := w.Duration()
	if end > dur {
		end = dur
	}
	if end <= start {
		return nil, ErrEmptySpan
	}

	blockAlign := w.Channels * 2
	from := int(start*float64(w.SampleRate)) * blockAlign
	to := int(end*float64(w.SampleRate)) * blockAlign
	if to > len(w.Data) {
		to = len(w.Data)
	}
	if to <= from {
		return nil, ErrEmptySpan
	}

	span := &WAV{
		SampleRate:    w.SampleRate,
		Channels:      w.Channels,
		BitsPerSample: w.BitsPerSample,
		Data:          w.Data[from:to],
	}
	return span.Encode(), nil
}

// Samples decodes the interleaved PCM payload into int16 samples.
func (w *WAV) Samples() []int16 {
	n := len(w.Data) / 2
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(w.Data[i*2 : i*2+2]))
	}
	return samples
}

// CalculateRMS calculates the root-mean-square energy of audio samples
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// FromSamples builds a mono PCM16 payload, mostly for tests and synthetic audio.
func FromSamples(samples []int16, sampleRate int) *WAV {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:i*2+2], uint16(s))
	}
	return &WAV{SampleRate: sampleRate, Channels: 1, BitsPerSample: 16, Data: data}
}

// String implements fmt.Stringer for log output.
func (w *WAV) String() string {
	return fmt.Sprintf("wav(%dHz %dch %.2fs)", w.SampleRate, w.Channels, w.Duration())
}
