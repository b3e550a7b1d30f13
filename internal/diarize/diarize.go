// Package diarize provides the fallback speaker diarizer used when a
// provider returns no usable speaker labels for a chunk.
package diarize

import (
	"context"
	"sort"
)

// Turn is one span of audio attributed to a chunk-local speaker. Labels are
// scoped to a single Diarize call and carry no identity across chunks.
type Turn struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// Result is the outcome of diarizing one chunk.
type Result struct {
	Turns       []Turn
	NumSpeakers int
}

// Diarizer labels speaker turns within one audio payload.
type Diarizer interface {
	Diarize(ctx context.Context, audio []byte) (Result, error)
}

// NewResult builds a Result from turns, sorting them by start time and
// counting distinct speakers.
func NewResult(turns []Turn) Result {
	sorted := make([]Turn, len(turns))
	copy(sorted, turns)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	speakers := make(map[string]struct{})
	for _, t := range sorted {
		speakers[t.Speaker] = struct{}{}
	}

	return Result{Turns: sorted, NumSpeakers: len(speakers)}
}

// OverlapSpeaker returns the label of the turn with maximal temporal overlap
// against [start, end), or "" when no turn overlaps the span at all.
func (r Result) OverlapSpeaker(start, end float64) string {
	best := ""
	bestOverlap := 0.0

	for _, t := range r.Turns {
		lo := start
		if t.Start > lo {
			lo = t.Start
		}
		hi := end
		if t.End < hi {
			hi = t.End
		}
		if overlap := hi - lo; overlap > bestOverlap {
			bestOverlap = overlap
			best = t.Speaker
		}
	}

	return best
}
