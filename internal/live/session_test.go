package live

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/scribeworks/transcription-gateway/internal/audio"
	"github.com/scribeworks/transcription-gateway/internal/config"
	"github.com/scribeworks/transcription-gateway/internal/diarize"
	"github.com/scribeworks/transcription-gateway/internal/provider"
)

func testConfig() *config.Config {
	return &config.Config{
		Provider:            config.ProviderLocal,
		DiarizationEnabled:  true,
		SimilarityThreshold: 0.45,
		MinEmbedSeconds:     0.5,
		ProviderTimeout:     5,
		RetryMaxAttempts:    1,
		RetryInitialBackoff: 1,
	}
}

type fakeProvider struct {
	name       string
	diarizes   bool
	responses  [][]provider.Segment
	failOnCall int // 1-based call index that returns an error; 0 = never
	calls      int
}

func (f *fakeProvider) Name() string              { return f.name }
func (f *fakeProvider) SupportsDiarization() bool { return f.diarizes }

func (f *fakeProvider) Transcribe(ctx context.Context, audio []byte) ([]provider.Segment, error) {
	f.calls++
	if f.failOnCall != 0 && f.calls == f.failOnCall {
		return nil, errors.New("provider unavailable")
	}
	if len(f.responses) == 0 {
		return nil, nil
	}
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return append([]provider.Segment(nil), resp...), nil
}

type fakeDiarizer struct {
	result diarize.Result
	err    error
	calls  int
}

func (f *fakeDiarizer) Diarize(ctx context.Context, audio []byte) (diarize.Result, error) {
	f.calls++
	if f.err != nil {
		return diarize.Result{}, f.err
	}
	return f.result, nil
}

// fakeEmbedder maps the first PCM sample of a span to a fixed vector, so
// tests control voice identity via the amplitude of the underlying audio.
type fakeEmbedder struct {
	vectors map[int16][]float64
	err     error
	calls   int
}

func (f *fakeEmbedder) Embed(ctx context.Context, span []byte) ([]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	w, err := audio.Decode(span)
	if err != nil {
		return nil, err
	}
	samples := w.Samples()
	if len(samples) == 0 {
		return nil, errors.New("empty span")
	}
	vec, ok := f.vectors[samples[0]]
	if !ok {
		return nil, fmt.Errorf("no vector for amplitude %d", samples[0])
	}
	return append([]float64(nil), vec...), nil
}

// toneChunk builds a WAV payload of consecutive constant-amplitude regions,
// one per entry, each secondsEach long.
func toneChunk(amps []int16, secondsEach float64) []byte {
	const rate = 8000
	n := int(secondsEach * rate)
	samples := make([]int16, 0, n*len(amps))
	for _, a := range amps {
		for i := 0; i < n; i++ {
			samples = append(samples, a)
		}
	}
	return audio.FromSamples(samples, rate).Encode()
}

func TestSubmitChunk_DiarizationDisabledConcatenates(t *testing.T) {
	cfg := testConfig()
	cfg.DiarizationEnabled = false

	prov := &fakeProvider{
		name: "fake",
		responses: [][]provider.Segment{
			{
				{Text: "first", Start: 0, End: 1},
				{Text: "second", Start: 1, End: 2},
			},
			{
				{Text: "third", Start: 0, End: 1.5},
			},
		},
	}
	s := NewSession(cfg, prov, &fakeDiarizer{}, &fakeEmbedder{})
	defer s.Close()

	chunk := toneChunk([]int16{1000, 1000}, 1)
	if _, err := s.SubmitChunk(context.Background(), chunk, -1); err != nil {
		t.Fatalf("SubmitChunk failed: %v", err)
	}
	if _, err := s.SubmitChunk(context.Background(), chunk, -1); err != nil {
		t.Fatalf("SubmitChunk failed: %v", err)
	}

	transcript := s.Transcript()
	if len(transcript) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(transcript))
	}

	wantTimes := [][2]float64{{0, 1}, {1, 2}, {2, 3.5}}
	for i, m := range transcript {
		if m.StartTime != wantTimes[i][0] || m.EndTime != wantTimes[i][1] {
			t.Errorf("Message %d times = (%v, %v), want (%v, %v)", i, m.StartTime, m.EndTime, wantTimes[i][0], wantTimes[i][1])
		}
		if m.SpeakerID != "" || m.Speaker != "" {
			t.Errorf("Message %d should be unattributed with diarization disabled: %+v", i, m)
		}
	}
}

func TestSubmitChunk_DeclaredStartOverridesTimeline(t *testing.T) {
	cfg := testConfig()
	cfg.DiarizationEnabled = false

	prov := &fakeProvider{
		name: "fake",
		responses: [][]provider.Segment{
			{{Text: "late", Start: 0.5, End: 1.0}},
		},
	}
	s := NewSession(cfg, prov, &fakeDiarizer{}, &fakeEmbedder{})
	defer s.Close()

	msgs, err := s.SubmitChunk(context.Background(), toneChunk([]int16{1000}, 1), 10.0)
	if err != nil {
		t.Fatalf("SubmitChunk failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].StartTime != 10.5 || msgs[0].EndTime != 11.0 {
		t.Errorf("Expected rebased times (10.5, 11.0), got %+v", msgs)
	}
}

func TestSubmitChunk_DegenerateLabelsFallBackToLocalDiarizer(t *testing.T) {
	cfg := testConfig()

	prov := &fakeProvider{
		name:     "cloud",
		diarizes: true,
		responses: [][]provider.Segment{
			{
				{Text: "hello", Start: 0, End: 1, Speaker: "SPEAKER_00"},
				{Text: "hi there", Start: 1, End: 2, Speaker: "SPEAKER_00"},
			},
		},
	}
	diar := &fakeDiarizer{
		result: diarize.NewResult([]diarize.Turn{
			{Speaker: "A", Start: 0, End: 1},
			{Speaker: "B", Start: 1, End: 2},
		}),
	}
	emb := &fakeEmbedder{vectors: map[int16][]float64{
		1000: {1, 0},
		2000: {0, 1},
	}}
	s := NewSession(cfg, prov, diar, emb)
	defer s.Close()

	msgs, err := s.SubmitChunk(context.Background(), toneChunk([]int16{1000, 2000}, 1), 0)
	if err != nil {
		t.Fatalf("SubmitChunk failed: %v", err)
	}

	if diar.calls != 1 {
		t.Errorf("Expected exactly one fallback diarizer call, got %d", diar.calls)
	}
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].SpeakerID == "" || msgs[1].SpeakerID == "" {
		t.Fatalf("Expected both messages attributed: %+v", msgs)
	}
	if msgs[0].SpeakerID == msgs[1].SpeakerID {
		t.Errorf("Degenerate chunk must split into two identities, both got %s", msgs[0].SpeakerID)
	}
	if msgs[0].Color == "" || msgs[0].Color == msgs[1].Color {
		t.Errorf("Expected distinct palette colors, got %q and %q", msgs[0].Color, msgs[1].Color)
	}
}

func TestSubmitChunk_CrossChunkIdentity(t *testing.T) {
	cfg := testConfig()

	prov := &fakeProvider{
		name:     "cloud",
		diarizes: true,
		responses: [][]provider.Segment{
			{{Text: "chunk one", Start: 0, End: 1, Speaker: "A"}},
			{{Text: "chunk two", Start: 0, End: 1, Speaker: "B"}},
		},
	}
	// Two highly similar voices under the default threshold.
	emb := &fakeEmbedder{vectors: map[int16][]float64{
		1000: {1, 0},
		2000: {0.99, 0.01},
	}}
	s := NewSession(cfg, prov, &fakeDiarizer{}, emb)
	defer s.Close()

	msgs1, err := s.SubmitChunk(context.Background(), toneChunk([]int16{1000}, 1), -1)
	if err != nil {
		t.Fatalf("SubmitChunk failed: %v", err)
	}
	msgs2, err := s.SubmitChunk(context.Background(), toneChunk([]int16{2000}, 1), -1)
	if err != nil {
		t.Fatalf("SubmitChunk failed: %v", err)
	}

	if len(msgs1) != 1 || len(msgs2) != 1 {
		t.Fatalf("Expected one message per chunk, got %d and %d", len(msgs1), len(msgs2))
	}
	if msgs1[0].SpeakerID != msgs2[0].SpeakerID {
		t.Errorf("Similar voices across chunks must share an identity: %s vs %s", msgs1[0].SpeakerID, msgs2[0].SpeakerID)
	}
	if s.SpeakerCount() != 1 {
		t.Errorf("Expected 1 global speaker, got %d", s.SpeakerCount())
	}
	if msgs1[0].Speaker != "Speaker 1" {
		t.Errorf("Expected display name 'Speaker 1', got %q", msgs1[0].Speaker)
	}
}

func TestSubmitChunk_ProviderFailureRecovered(t *testing.T) {
	cfg := testConfig()

	prov := &fakeProvider{
		name:     "cloud",
		diarizes: true,
		responses: [][]provider.Segment{
			{{Text: "one", Start: 0, End: 1, Speaker: "A"}},
			{{Text: "three", Start: 0, End: 1, Speaker: "A"}},
		},
		failOnCall: 2,
	}
	emb := &fakeEmbedder{vectors: map[int16][]float64{1000: {1, 0}}}
	s := NewSession(cfg, prov, &fakeDiarizer{}, emb)
	defer s.Close()

	chunk := toneChunk([]int16{1000}, 1)

	msgs1, err := s.SubmitChunk(context.Background(), chunk, -1)
	if err != nil || len(msgs1) != 1 {
		t.Fatalf("Chunk 1: msgs=%d err=%v", len(msgs1), err)
	}

	msgs2, err := s.SubmitChunk(context.Background(), chunk, -1)
	if err != nil {
		t.Fatalf("Provider failure must be recovered, got error: %v", err)
	}
	if len(msgs2) != 0 {
		t.Errorf("Failed chunk must yield zero segments, got %d", len(msgs2))
	}

	msgs3, err := s.SubmitChunk(context.Background(), chunk, -1)
	if err != nil || len(msgs3) != 1 {
		t.Fatalf("Chunk 3: msgs=%d err=%v", len(msgs3), err)
	}
	if msgs3[0].SpeakerID != msgs1[0].SpeakerID {
		t.Errorf("Registry state must survive a failed chunk: %s vs %s", msgs3[0].SpeakerID, msgs1[0].SpeakerID)
	}
	if len(s.Transcript()) != 2 {
		t.Errorf("Expected 2 transcript messages, got %d", len(s.Transcript()))
	}
}

func TestSubmitChunk_EmbedderFailureDegradesToUnattributed(t *testing.T) {
	cfg := testConfig()

	prov := &fakeProvider{
		name:     "cloud",
		diarizes: true,
		responses: [][]provider.Segment{
			{{Text: "still delivered", Start: 0, End: 1, Speaker: "A"}},
		},
	}
	emb := &fakeEmbedder{err: errors.New("embedder down")}
	s := NewSession(cfg, prov, &fakeDiarizer{}, emb)
	defer s.Close()

	msgs, err := s.SubmitChunk(context.Background(), toneChunk([]int16{1000}, 1), 0)
	if err != nil {
		t.Fatalf("SubmitChunk failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("Text must still be delivered, got %d messages", len(msgs))
	}
	if msgs[0].SpeakerID != "" || msgs[0].Speaker != "" {
		t.Errorf("Expected unattributed message after embedder failure: %+v", msgs[0])
	}
	if msgs[0].Text != "still delivered" {
		t.Errorf("Unexpected text: %q", msgs[0].Text)
	}
}

func TestSubmitChunk_ShortSpanSkipsEmbedding(t *testing.T) {
	cfg := testConfig()
	cfg.MinEmbedSeconds = 0.5

	prov := &fakeProvider{
		name:     "cloud",
		diarizes: true,
		responses: [][]provider.Segment{
			{{Text: "blip", Start: 0, End: 0.2, Speaker: "A"}},
		},
	}
	emb := &fakeEmbedder{vectors: map[int16][]float64{1000: {1, 0}}}
	s := NewSession(cfg, prov, &fakeDiarizer{}, emb)
	defer s.Close()

	msgs, err := s.SubmitChunk(context.Background(), toneChunk([]int16{1000}, 1), 0)
	if err != nil {
		t.Fatalf("SubmitChunk failed: %v", err)
	}
	if emb.calls != 0 {
		t.Errorf("Span below minimum duration must not reach the embedder, got %d calls", emb.calls)
	}
	if len(msgs) != 1 || msgs[0].SpeakerID != "" {
		t.Errorf("Expected one unattributed message, got %+v", msgs)
	}
}

func TestSubmitChunk_TextCleaning(t *testing.T) {
	cfg := testConfig()
	cfg.DiarizationEnabled = false

	prov := &fakeProvider{
		name: "fake",
		responses: [][]provider.Segment{
			{
				{Text: "  hello   <unk> world ", Start: 0, End: 1},
				{Text: "<unk> <unk>", Start: 1, End: 2},
			},
		},
	}
	s := NewSession(cfg, prov, &fakeDiarizer{}, &fakeEmbedder{})
	defer s.Close()

	msgs, err := s.SubmitChunk(context.Background(), toneChunk([]int16{1000}, 2), 0)
	if err != nil {
		t.Fatalf("SubmitChunk failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("Segment with only unknown tokens must be dropped, got %d messages", len(msgs))
	}
	if msgs[0].Text != "hello world" {
		t.Errorf("Expected cleaned text 'hello world', got %q", msgs[0].Text)
	}
}

func TestClear_ResetsTranscriptAndIdentities(t *testing.T) {
	cfg := testConfig()

	prov := &fakeProvider{
		name:     "cloud",
		diarizes: true,
		responses: [][]provider.Segment{
			{{Text: "voice one", Start: 0, End: 1, Speaker: "A"}},
			{{Text: "voice two", Start: 0, End: 1, Speaker: "A"}},
			{{Text: "voice two again", Start: 0, End: 1, Speaker: "A"}},
		},
	}
	emb := &fakeEmbedder{vectors: map[int16][]float64{
		1000: {1, 0},
		2000: {0, 1},
	}}
	s := NewSession(cfg, prov, &fakeDiarizer{}, emb)
	defer s.Close()

	s.SubmitChunk(context.Background(), toneChunk([]int16{1000}, 1), -1)
	msgs2, _ := s.SubmitChunk(context.Background(), toneChunk([]int16{2000}, 1), -1)
	if msgs2[0].SpeakerID != "GLOBAL_SPEAKER_01" {
		t.Fatalf("Expected second voice to be GLOBAL_SPEAKER_01 before clear, got %s", msgs2[0].SpeakerID)
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if len(s.Transcript()) != 0 {
		t.Errorf("Expected empty transcript after clear, got %d messages", len(s.Transcript()))
	}
	if s.SpeakerCount() != 0 {
		t.Errorf("Expected empty registry after clear, got %d speakers", s.SpeakerCount())
	}

	// The second voice, seen again, starts fresh with the first id.
	msgs3, err := s.SubmitChunk(context.Background(), toneChunk([]int16{2000}, 1), -1)
	if err != nil {
		t.Fatalf("SubmitChunk after clear failed: %v", err)
	}
	if msgs3[0].SpeakerID != "GLOBAL_SPEAKER_00" {
		t.Errorf("Expected fresh identity after clear, got %s", msgs3[0].SpeakerID)
	}
	if msgs3[0].StartTime != 0 {
		t.Errorf("Expected timeline restart after clear, got start %v", msgs3[0].StartTime)
	}
}

func TestConfigure_RejectedAfterFirstChunk(t *testing.T) {
	cfg := testConfig()
	cfg.DiarizationEnabled = false

	prov := &fakeProvider{
		name:      "fake",
		responses: [][]provider.Segment{{{Text: "hi", Start: 0, End: 1}}},
	}
	s := NewSession(cfg, prov, &fakeDiarizer{}, &fakeEmbedder{})
	defer s.Close()

	if err := s.Configure(true, "", ""); err != nil {
		t.Fatalf("Configure before first chunk must succeed: %v", err)
	}

	s.SubmitChunk(context.Background(), toneChunk([]int16{1000}, 1), 0)

	if err := s.Configure(false, "", ""); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Expected ErrAlreadyStarted, got %v", err)
	}
	if err := s.SetSimilarityThreshold(0.5); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Expected ErrAlreadyStarted for threshold change, got %v", err)
	}
}

func TestConfigure_InvalidProviderTag(t *testing.T) {
	cfg := testConfig()
	s := NewSession(cfg, &fakeProvider{name: "fake"}, &fakeDiarizer{}, &fakeEmbedder{})
	defer s.Close()

	err := s.Configure(true, "carrier-pigeon", "")
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Errorf("Expected ConfigError for unknown provider tag, got %v", err)
	}
}

func TestClose_RejectsFurtherOperations(t *testing.T) {
	cfg := testConfig()
	s := NewSession(cfg, &fakeProvider{name: "fake"}, &fakeDiarizer{}, &fakeEmbedder{})

	s.Close()
	s.Close() // idempotent

	if _, err := s.SubmitChunk(context.Background(), toneChunk([]int16{1000}, 1), 0); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Expected ErrSessionClosed from SubmitChunk, got %v", err)
	}
	if err := s.Configure(true, "", ""); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Expected ErrSessionClosed from Configure, got %v", err)
	}
	if _, err := s.Export("txt"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Expected ErrSessionClosed from Export, got %v", err)
	}
	if err := s.Clear(); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Expected ErrSessionClosed from Clear, got %v", err)
	}
}

func TestExport_Idempotent(t *testing.T) {
	cfg := testConfig()
	cfg.DiarizationEnabled = false

	prov := &fakeProvider{
		name: "fake",
		responses: [][]provider.Segment{
			{{Text: "hello", Start: 0, End: 1}, {Text: "world", Start: 1, End: 2}},
		},
	}
	s := NewSession(cfg, prov, &fakeDiarizer{}, &fakeEmbedder{})
	defer s.Close()

	s.SubmitChunk(context.Background(), toneChunk([]int16{1000}, 2), 0)

	for _, format := range []string{"txt", "srt"} {
		first, err := s.Export(format)
		if err != nil {
			t.Fatalf("Export(%s) failed: %v", format, err)
		}
		second, err := s.Export(format)
		if err != nil {
			t.Fatalf("Export(%s) failed: %v", format, err)
		}
		if first != second {
			t.Errorf("Export(%s) not idempotent:\n%s\nvs\n%s", format, first, second)
		}
	}

	if _, err := s.Export("docx"); err == nil {
		t.Error("Expected error for unsupported export format")
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"GLOBAL_SPEAKER_00", "Speaker 1"},
		{"GLOBAL_SPEAKER_07", "Speaker 8"},
		{"GLOBAL_SPEAKER_12", "Speaker 13"},
		{"", ""},
		{"weird", "weird"},
	}
	for _, tt := range tests {
		if got := DisplayName(tt.id); got != tt.want {
			t.Errorf("DisplayName(%q) = %q, want %q", tt.id, got, tt.want)
		}
	}
}
