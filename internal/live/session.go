// Package live implements the per-connection transcription session: chunk
// ingestion, cross-chunk speaker reconciliation, transcript accumulation,
// and export.
package live

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/scribeworks/transcription-gateway/internal/config"
	"github.com/scribeworks/transcription-gateway/internal/diarize"
	"github.com/scribeworks/transcription-gateway/internal/embed"
	"github.com/scribeworks/transcription-gateway/internal/observability"
	"github.com/scribeworks/transcription-gateway/internal/provider"
	"github.com/scribeworks/transcription-gateway/internal/speaker"
)

// State is the session lifecycle state.
type State int

const (
	StateOpen State = iota
	StateClosed
)

func (s State) String() string {
	if s == StateClosed {
		return "closed"
	}
	return "open"
}

var (
	// ErrSessionClosed is returned by every operation after Close.
	ErrSessionClosed = errors.New("session is closed")

	// ErrAlreadyStarted is returned by Configure once a chunk has been submitted.
	ErrAlreadyStarted = errors.New("session already received audio; configuration is locked")
)

// ConfigError reports an invalid session configuration request.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// Message is one transcript entry with a stable speaker identity, delivered
// incrementally to the client and accumulated for export.
type Message struct {
	Speaker   string  `json:"speaker"`              // display name, e.g. "Speaker 1"; empty when unattributed
	SpeakerID string  `json:"speaker_id,omitempty"` // registry-issued global id
	Text      string  `json:"text"`
	StartTime float64 `json:"start_time"` // seconds, session-relative
	EndTime   float64 `json:"end_time"`
	Color     string  `json:"color,omitempty"`
}

// Session owns one live connection's transcription state. Chunk processing
// is strictly sequential; callers submit chunks one at a time in arrival
// order.
type Session struct {
	ID string

	mu                 sync.Mutex
	state              State
	cfg                *config.Config
	provider           provider.Provider
	diarizer           diarize.Diarizer
	embedder           embed.Embedder
	registry           *speaker.Registry
	diarizationEnabled bool

	transcript      []Message
	nextChunkStart  float64
	chunksSubmitted int

	logger zerolog.Logger
}

// NewSession creates an open session with the configured default provider.
func NewSession(cfg *config.Config, prov provider.Provider, diarizer diarize.Diarizer, embedder embed.Embedder) *Session {
	id := uuid.New().String()
	s := &Session{
		ID:                 id,
		state:              StateOpen,
		cfg:                cfg,
		provider:           prov,
		diarizer:           diarizer,
		embedder:           embedder,
		registry:           speaker.NewRegistry(cfg.SimilarityThreshold),
		diarizationEnabled: cfg.DiarizationEnabled,
		logger:             observability.WithSession(id),
	}

	observability.RecordSessionStart()
	s.logger.Info().Str("provider", prov.Name()).Bool("diarization", s.diarizationEnabled).Msg("Session opened")

	return s
}

// Configure sets the provider, model, and diarization mode. Valid only
// before the first chunk; rejected afterwards with ErrAlreadyStarted.
func (s *Session) Configure(enableDiarization bool, providerTag, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return ErrSessionClosed
	}
	if s.chunksSubmitted > 0 {
		return ErrAlreadyStarted
	}

	if providerTag != "" || model != "" {
		p, err := provider.New(providerTag, model, s.cfg)
		if err != nil {
			return &ConfigError{Field: "provider", Reason: err.Error()}
		}
		s.provider = p
	}
	s.diarizationEnabled = enableDiarization

	s.logger.Info().
		Str("provider", s.provider.Name()).
		Bool("diarization", enableDiarization).
		Msg("Session configured")

	return nil
}

// SetSimilarityThreshold replaces the registry's matching threshold. Like
// Configure, only valid before the first chunk.
func (s *Session) SetSimilarityThreshold(threshold float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return ErrSessionClosed
	}
	if s.chunksSubmitted > 0 {
		return ErrAlreadyStarted
	}
	if threshold < -1 || threshold > 1 {
		return &ConfigError{Field: "similarity_threshold", Reason: "must be within [-1, 1]"}
	}

	s.registry = speaker.NewRegistry(threshold)
	return nil
}

// SubmitChunk transcribes one audio chunk, reconciles speaker identities,
// appends the results to the transcript, and returns only the newly appended
// messages. A declaredStart below zero means "continue from the end of the
// previous chunk". Provider failures yield an empty result, not an error;
// the session keeps accepting chunks.
func (s *Session) SubmitChunk(ctx context.Context, audio []byte, declaredStart float64) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil, ErrSessionClosed
	}

	chunkStart := declaredStart
	if chunkStart < 0 {
		chunkStart = s.nextChunkStart
	}
	s.chunksSubmitted++
	observability.RecordAudioBytes(int64(len(audio)))

	began := time.Now()
	providerStart := time.Now()
	segments, err := s.provider.Transcribe(ctx, audio)
	observability.RecordProviderRequest(s.provider.Name(), err == nil, time.Since(providerStart).Seconds())

	if err != nil {
		s.logger.Warn().Err(err).Int("chunk", s.chunksSubmitted).Msg("Provider call failed; chunk yields no segments")
		observability.RecordError("provider", "session")
		observability.RecordChunk("provider_error", time.Since(began).Seconds())
		return []Message{}, nil
	}

	messages := s.reconcile(ctx, audio, chunkStart, segments)

	s.transcript = append(s.transcript, messages...)
	for _, m := range messages {
		if m.EndTime > s.nextChunkStart {
			s.nextChunkStart = m.EndTime
		}
	}

	observability.RecordChunk("ok", time.Since(began).Seconds())
	s.logger.Debug().
		Int("segments", len(messages)).
		Float64("chunk_start", chunkStart).
		Float64("next_chunk_start", s.nextChunkStart).
		Msg("Chunk processed")

	return messages, nil
}

// Export serializes the full accumulated transcript. Supported formats are
// "txt" and "srt". Pure with respect to session state.
func (s *Session) Export(format string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return "", ErrSessionClosed
	}

	switch format {
	case "txt":
		return ExportTXT(s.transcript), nil
	case "srt":
		return ExportSRT(s.transcript), nil
	default:
		return "", &ConfigError{Field: "format", Reason: fmt.Sprintf("unsupported export format %q", format)}
	}
}

// Clear resets the transcript and all speaker identities. Configuration and
// the open state are kept; the session timeline restarts at zero.
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return ErrSessionClosed
	}

	s.transcript = nil
	s.registry.Reset()
	s.nextChunkStart = 0

	s.logger.Info().Msg("Session cleared")
	return nil
}

// Close transitions the session to its terminal state. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return
	}
	s.state = StateClosed

	observability.RecordSessionEnd()
	s.logger.Info().Int("chunks", s.chunksSubmitted).Int("speakers", s.registry.Count()).Msg("Session closed")
}

// Transcript returns a copy of the accumulated transcript.
func (s *Session) Transcript() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Message, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// SpeakerCount returns the number of global speakers registered so far.
func (s *Session) SpeakerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.Count()
}

// DisplayName converts a global speaker id into the client-facing name,
// "GLOBAL_SPEAKER_00" becoming "Speaker 1".
func DisplayName(globalID string) string {
	if globalID == "" {
		return ""
	}
	i := strings.LastIndex(globalID, "_")
	if i < 0 {
		return globalID
	}
	n, err := strconv.Atoi(globalID[i+1:])
	if err != nil {
		return globalID
	}
	return fmt.Sprintf("Speaker %d", n+1)
}
