// Package speaker maintains the session-scoped registry of global speaker
// identities. Chunk-local diarization labels are unstable across chunks, so
// every labeled span is matched against the registry by voice embedding and
// either joined to an existing identity or given a fresh one.
package speaker

import (
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/scribeworks/transcription-gateway/internal/observability"
)

// Palette holds the display colors assigned to speakers in creation order.
// Registries cycle through it when a session has more speakers than colors.
var Palette = [8]string{
	"#E3F2FD",
	"#FFF3E0",
	"#E8F5E9",
	"#FCE4EC",
	"#F3E5F5",
	"#FFFDE7",
	"#E0F7FA",
	"#FBE9E7",
}

// GlobalSpeaker is one stable identity within a session.
type GlobalSpeaker struct {
	ID          string
	SampleCount int
	Color       string

	embedding []float64
}

// Embedding returns a copy of the speaker's running average embedding.
func (s *GlobalSpeaker) Embedding() []float64 {
	out := make([]float64, len(s.embedding))
	copy(out, s.embedding)
	return out
}

// Registry matches voice embeddings to global speaker identities. Safe for
// concurrent use, though a live session submits chunks sequentially.
type Registry struct {
	mu        sync.Mutex
	threshold float64
	speakers  []*GlobalSpeaker
	nextIndex int
}

// NewRegistry creates an empty registry with the given cosine similarity
// threshold. A candidate joins an existing speaker when similarity >= threshold.
func NewRegistry(threshold float64) *Registry {
	return &Registry{threshold: threshold}
}

// MatchOrCreate resolves an embedding to a global speaker ID. The best match
// at or above the threshold wins; ties on similarity go to the speaker with
// more accumulated samples. A match folds the embedding into the speaker's
// running average; no match creates a new identity.
func (r *Registry) MatchOrCreate(embedding []float64) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var best *GlobalSpeaker
	bestSim := math.Inf(-1)

	for _, s := range r.speakers {
		sim := cosine(embedding, s.embedding)
		if sim < r.threshold {
			continue
		}
		if sim > bestSim || (sim == bestSim && best != nil && s.SampleCount > best.SampleCount) {
			best = s
			bestSim = sim
		}
	}

	if best != nil {
		n := float64(best.SampleCount)
		for i := range best.embedding {
			best.embedding[i] = (best.embedding[i]*n + embedding[i]) / (n + 1)
		}
		best.SampleCount++
		return best.ID
	}

	s := &GlobalSpeaker{
		ID:          fmt.Sprintf("GLOBAL_SPEAKER_%02d", r.nextIndex),
		SampleCount: 1,
		Color:       Palette[r.nextIndex%len(Palette)],
		embedding:   append([]float64(nil), embedding...),
	}
	r.nextIndex++
	r.speakers = append(r.speakers, s)

	observability.RecordSpeakerCreated()
	log.Debug().Str("speaker_id", s.ID).Int("total", len(r.speakers)).Msg("New global speaker registered")

	return s.ID
}

// Color returns the display color assigned to a speaker ID, or "" if the ID
// is unknown.
func (r *Registry) Color(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.speakers {
		if s.ID == id {
			return s.Color
		}
	}
	return ""
}

// Get returns the speaker with the given ID, or nil.
func (r *Registry) Get(id string) *GlobalSpeaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.speakers {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// Count returns the number of registered speakers.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.speakers)
}

// Reset drops all speakers and restarts ID numbering at zero. The similarity
// threshold is kept.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.speakers = nil
	r.nextIndex = 0
}

// cosine computes cosine similarity between two vectors. Mismatched lengths
// or a zero-magnitude vector yield -1 so they can never clear a threshold
// in [-1, 1].
func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return -1
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
