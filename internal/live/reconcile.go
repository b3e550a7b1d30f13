package live

import (
	"context"
	"sort"
	"strings"

	"github.com/scribeworks/transcription-gateway/internal/audio"
	"github.com/scribeworks/transcription-gateway/internal/observability"
	"github.com/scribeworks/transcription-gateway/internal/provider"
)

// reconcile turns one chunk's provider segments into transcript messages
// with stable global speaker ids: fallback diarization when the provider's
// labels are unusable, per-label voice embeddings, registry matching, time
// rebasing, and text cleaning. Diarization failures degrade to unattributed
// messages; text delivery is never blocked.
func (s *Session) reconcile(ctx context.Context, chunkAudio []byte, chunkStart float64, segments []provider.Segment) []Message {
	if s.diarizationEnabled {
		segments = s.assignLocalLabels(ctx, chunkAudio, segments)
	} else {
		for i := range segments {
			segments[i].Speaker = ""
		}
	}

	labelToGlobal := map[string]string{}
	if s.diarizationEnabled {
		labelToGlobal = s.matchGlobalSpeakers(ctx, chunkAudio, segments)
	}

	messages := make([]Message, 0, len(segments))
	for _, seg := range segments {
		text := cleanText(seg.Text)
		if text == "" {
			continue
		}

		globalID := labelToGlobal[seg.Speaker]
		messages = append(messages, Message{
			Speaker:   DisplayName(globalID),
			SpeakerID: globalID,
			Text:      text,
			StartTime: chunkStart + seg.Start,
			EndTime:   chunkStart + seg.End,
			Color:     s.registry.Color(globalID),
		})
	}

	sort.SliceStable(messages, func(i, j int) bool { return messages[i].StartTime < messages[j].StartTime })
	return messages
}

// assignLocalLabels decides whether the provider's per-chunk speaker labels
// are trustworthy and falls back to the local diarizer when they are not.
// Returned segments carry chunk-local labels only; "" means unattributed.
func (s *Session) assignLocalLabels(ctx context.Context, chunkAudio []byte, segments []provider.Segment) []provider.Segment {
	if len(segments) == 0 {
		return segments
	}

	needFallback := !s.provider.SupportsDiarization() || degenerateLabels(segments)
	if !needFallback {
		return segments
	}

	observability.RecordDiarizationFallback()
	s.logger.Debug().Int("segments", len(segments)).Msg("Provider labels unusable; invoking local diarizer")

	res, err := s.diarizer.Diarize(ctx, chunkAudio)
	if err != nil {
		// Degenerate labels are worse than none: a single collapsed label
		// would merge distinct voices into one identity.
		s.logger.Warn().Err(err).Msg("Local diarizer failed; segments left unattributed")
		observability.RecordError("diarization", "reconcile")
		for i := range segments {
			segments[i].Speaker = ""
		}
		return segments
	}

	for i := range segments {
		segments[i].Speaker = res.OverlapSpeaker(segments[i].Start, segments[i].End)
	}
	return segments
}

// degenerateLabels reports whether per-chunk diarization collapsed: more
// than one segment, all sharing a single label (or all unlabeled).
func degenerateLabels(segments []provider.Segment) bool {
	if len(segments) <= 1 {
		return false
	}
	first := segments[0].Speaker
	for _, seg := range segments[1:] {
		if seg.Speaker != first {
			return false
		}
	}
	return true
}

// matchGlobalSpeakers embeds every labeled segment's audio span, averages
// the vectors per chunk-local label, and resolves each label to a global
// speaker id through the registry. Labels whose spans yield no usable
// embedding map to "" (unattributed).
func (s *Session) matchGlobalSpeakers(ctx context.Context, chunkAudio []byte, segments []provider.Segment) map[string]string {
	out := make(map[string]string)

	wav, err := audio.Decode(chunkAudio)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Chunk audio not sliceable; speakers left unattributed")
		observability.RecordError("audio_decode", "reconcile")
		return out
	}

	sums := make(map[string][]float64)
	counts := make(map[string]int)

	for _, seg := range segments {
		if seg.Speaker == "" {
			continue
		}
		if seg.End-seg.Start < s.cfg.MinEmbedSeconds {
			continue
		}

		span, err := wav.Slice(seg.Start, seg.End)
		if err != nil {
			continue
		}

		vec, err := s.embedder.Embed(ctx, span)
		if err != nil {
			s.logger.Warn().Err(err).Str("label", seg.Speaker).Msg("Embedding extraction failed")
			observability.RecordEmbeddingFailure()
			continue
		}

		sum := sums[seg.Speaker]
		if sum == nil {
			sum = make([]float64, len(vec))
			sums[seg.Speaker] = sum
		}
		if len(sum) != len(vec) {
			continue
		}
		for i := range vec {
			sum[i] += vec[i]
		}
		counts[seg.Speaker]++
	}

	// Map iteration order is random; sort so global ids are assigned
	// deterministically within a chunk.
	labels := make([]string, 0, len(sums))
	for label := range sums {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	for _, label := range labels {
		n := counts[label]
		if n == 0 {
			continue
		}
		avg := sums[label]
		for i := range avg {
			avg[i] /= float64(n)
		}
		out[label] = s.registry.MatchOrCreate(avg)
	}

	return out
}

// cleanText strips unknown-token markers and collapses whitespace.
func cleanText(text string) string {
	text = strings.ReplaceAll(text, "<unk>", " ")
	return strings.Join(strings.Fields(text), " ")
}
