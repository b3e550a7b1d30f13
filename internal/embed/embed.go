// Package embed provides the speaker embedding extractor used for
// cross-chunk speaker re-identification.
package embed

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

// Embedder turns an audio span into a fixed-length voice embedding.
// Deterministic for identical input.
type Embedder interface {
	Embed(ctx context.Context, audioSpan []byte) ([]float64, error)
}

// HTTPEmbedder implements Embedder against the speaker-embedding sidecar
// (an ECAPA-style model behind a small HTTP service).
type HTTPEmbedder struct {
	baseURL    string
	httpClient *http.Client
	retryCfg   *resilience.RetryConfig
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// NewHTTPEmbedder creates an embedder client from config
func NewHTTPEmbedder(cfg *config.Config) *HTTPEmbedder {
	return &HTTPEmbedder{
		baseURL: cfg.EmbedderURL,
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

// Embed implements Embedder
func (e *HTTPEmbedder) Embed(ctx context.Context, audioSpan []byte) ([]float64, error) {
	var out embedResponse

	err := resilience.Retry(ctx, func() error {
		return e.post(ctx, audioSpan, &out)
	}, e.retryCfg, resilience.IsRetryableNetworkError)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}

	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("embedder returned an empty vector")
	}
	return out.Embedding, nil
}

// Ping checks sidecar reachability for the readiness endpoint.
func (e *HTTPEmbedder) Ping(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/health", nil)
	if err != nil {
		return false, err
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

func (e *HTTPEmbedder) post(ctx context.Context, audio []byte, out *embedResponse) error {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	fw, err := w.CreateFormFile("file", "span.wav")
	if err != nil {
		return err
	}
	if _, err := fw.Write(audio); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embed", &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("embedder %s: %s", resp.Status, string(msg))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
