package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/scribeworks/transcription-gateway/internal/config"
	"github.com/scribeworks/transcription-gateway/internal/resilience"
)

// LocalProvider implements Provider against the on-device ASR model sidecar.
// The sidecar never diarizes; speaker attribution for local transcriptions is
// always delegated to the fallback diarizer.
type LocalProvider struct {
	baseURL    string
	model      string
	httpClient *http.Client
	retryCfg   *resilience.RetryConfig
}

type localSegment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type localResponse struct {
	Segments []localSegment `json:"segments"`
	Language string         `json:"language,omitempty"`
}

// NewLocalProvider creates a provider backed by the local ASR sidecar
func NewLocalProvider(cfg *config.Config, model string) *LocalProvider {
	return &LocalProvider{
		baseURL: cfg.LocalASRURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.ProviderTimeout) * time.Second,
		},
		retryCfg: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
		},
	}
}

// Name implements Provider
func (l *LocalProvider) Name() string {
	if l.model != "" {
		return fmt.Sprintf("Local ASR (%s)", l.model)
	}
	return "Local ASR"
}

// SupportsDiarization implements Provider
func (l *LocalProvider) SupportsDiarization() bool {
	return false
}

// Transcribe implements Provider
func (l *LocalProvider) Transcribe(ctx context.Context, audio []byte) ([]Segment, error) {
	var out localResponse

	err := resilience.Retry(ctx, func() error {
		return l.post(ctx, audio, &out)
	}, l.retryCfg, resilience.IsRetryableNetworkError)
	if err != nil {
		return nil, fmt.Errorf("local asr: %w", err)
	}

	segments := make([]Segment, 0, len(out.Segments))
	for _, s := range out.Segments {
		segments = append(segments, Segment{
			Text:  s.Text,
			Start: s.Start,
			End:   s.End,
			// Speaker stays empty: local ASR has no diarizer
		})
	}
	return segments, nil
}

// Ping checks sidecar reachability for the readiness endpoint.
func (l *LocalProvider) Ping(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"/health", nil)
	if err != nil {
		return false, err
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

func (l *LocalProvider) post(ctx context.Context, audio []byte, out *localResponse) error {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	fw, err := w.CreateFormFile("file", "chunk.wav")
	if err != nil {
		return err
	}
	if _, err := fw.Write(audio); err != nil {
		return err
	}
	if l.model != "" {
		if err := w.WriteField("model", l.model); err != nil {
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/transcribe", &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("local asr %s: %s", resp.Status, string(msg))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
