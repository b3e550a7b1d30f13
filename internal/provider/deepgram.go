package provider

import (
	"bytes"
	"context"
	"fmt"
	"time"

	listenapi "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	restinterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenclient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/scribeworks/transcription-gateway/internal/config"
	"github.com/scribeworks/transcription-gateway/internal/observability"
	"github.com/scribeworks/transcription-gateway/internal/resilience"
)

// DeepgramProvider implements Provider using Deepgram's prerecorded REST API.
// Diarization is performed by Deepgram itself; utterances carry per-request
// speaker indices that the reconciliation engine maps to global identities.
type DeepgramProvider struct {
	cfg            *config.Config
	model          string
	client         *listenapi.Client
	circuitBreaker *resilience.CircuitBreaker
}

// NewDeepgramProvider creates a Deepgram-backed provider
func NewDeepgramProvider(cfg *config.Config, model string) *DeepgramProvider {
	rest := listenclient.NewREST(cfg.DeepgramAPIKey, &interfaces.ClientOptions{})

	circuitBreaker := resilience.NewCircuitBreaker(
		"deepgram",
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	)

	return &DeepgramProvider{
		cfg:            cfg,
		model:          model,
		client:         listenapi.New(rest),
		circuitBreaker: circuitBreaker,
	}
}

// Name implements Provider
func (d *DeepgramProvider) Name() string {
	return fmt.Sprintf("Deepgram (%s)", d.model)
}

// SupportsDiarization implements Provider
func (d *DeepgramProvider) SupportsDiarization() bool {
	return true
}

// Transcribe implements Provider
func (d *DeepgramProvider) Transcribe(ctx context.Context, audio []byte) ([]Segment, error) {
	tOptions := &interfaces.PreRecordedTranscriptionOptions{
		Model:       d.model,
		Punctuate:   true,
		SmartFormat: true,
		Diarize:     true,
		// Utterances group words into speaker turns; required for diarization
		Utterances: true,
	}
	if d.cfg.DeepgramLanguage != "" {
		tOptions.Language = d.cfg.DeepgramLanguage
	} else {
		tOptions.DetectLanguage = true
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(d.cfg.ProviderTimeout)*time.Second)
	defer cancel()

	var segments []Segment
	err := d.circuitBreaker.Call(func() error {
		res, err := d.client.FromStream(ctx, bytes.NewReader(audio), tOptions)
		if err != nil {
			return fmt.Errorf("deepgram request failed: %w", err)
		}
		segments = d.parseResponse(res)
		return nil
	})

	observability.UpdateCircuitBreakerState("deepgram", int(d.circuitBreaker.GetState()))
	if err != nil {
		observability.IncrementCircuitBreakerFailures("deepgram")
		return nil, err
	}

	return segments, nil
}

func (d *DeepgramProvider) parseResponse(res *restinterfaces.PreRecordedResponse) []Segment {
	if res == nil {
		return nil
	}

	// Preferred path: utterances carry speaker indices and per-turn timing.
	if len(res.Results.Utterances) > 0 {
		segments := make([]Segment, 0, len(res.Results.Utterances))
		for _, utt := range res.Results.Utterances {
			if utt.Transcript == "" {
				continue
			}
			segments = append(segments, Segment{
				Text:       utt.Transcript,
				Start:      utt.Start,
				End:        utt.End,
				Speaker:    fmt.Sprintf("SPEAKER_%02d", utt.Speaker),
				Confidence: utt.Confidence,
			})
		}
		return segments
	}

	// Fallback: single segment from the channel transcript.
	if len(res.Results.Channels) == 0 || len(res.Results.Channels[0].Alternatives) == 0 {
		return nil
	}
	alt := res.Results.Channels[0].Alternatives[0]
	if alt.Transcript == "" {
		return nil
	}

	return []Segment{{
		Text:       alt.Transcript,
		Start:      0,
		End:        res.Metadata.Duration,
		Speaker:    "SPEAKER_00",
		Confidence: alt.Confidence,
	}}
}
