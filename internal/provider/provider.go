// Package provider defines the uniform speech-to-text provider contract and
// its cloud (Deepgram) and local (ASR sidecar) implementations.
package provider

import (
	"context"
	"fmt"

	"github.com/scribeworks/transcription-gateway/internal/config"
)

// Segment is one transcribed span of audio. Times are relative to the start
// of the transcribed payload. Speaker is the provider's own per-request label
// ("SPEAKER_00", ...) and is empty when the provider does not diarize; these
// labels are never stable across requests.
type Segment struct {
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Speaker    string  `json:"speaker,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Provider is the interface for speech-to-text backends.
type Provider interface {
	// Name returns a human-readable provider name.
	Name() string

	// SupportsDiarization reports whether Transcribe populates Segment.Speaker.
	SupportsDiarization() bool

	// Transcribe converts one audio payload (WAV bytes) into segments.
	// Blocking; one call per chunk.
	Transcribe(ctx context.Context, audio []byte) ([]Segment, error)
}

// New builds a provider for the given tag. An empty tag selects the
// configured default; an empty model selects the provider's default model.
func New(tag, model string, cfg *config.Config) (Provider, error) {
	if tag == "" {
		tag = cfg.Provider
	}

	switch tag {
	case config.ProviderDeepgram:
		if cfg.DeepgramAPIKey == "" {
			return nil, fmt.Errorf("provider %q requires DEEPGRAM_API_KEY", tag)
		}
		if model == "" {
			model = cfg.DeepgramModel
		}
		return NewDeepgramProvider(cfg, model), nil

	case config.ProviderLocal:
		return NewLocalProvider(cfg, model), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", tag)
	}
}
