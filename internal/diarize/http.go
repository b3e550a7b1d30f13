package diarize

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

// HTTPDiarizer implements Diarizer against the pyannote-style sidecar.
type HTTPDiarizer struct {
	baseURL    string
	httpClient *http.Client
	retryCfg   *resilience.RetryConfig
}

type diarizeResponse struct {
	Turns []Turn `json:"turns"`
}

// NewHTTPDiarizer creates a diarizer client from config
func NewHTTPDiarizer(cfg *config.Config) *HTTPDiarizer {
	return &HTTPDiarizer{
		baseURL: cfg.DiarizerURL,
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

// Diarize implements Diarizer
func (d *HTTPDiarizer) Diarize(ctx context.Context, audio []byte) (Result, error) {
	var out diarizeResponse

	err := resilience.Retry(ctx, func() error {
		return d.post(ctx, audio, &out)
	}, d.retryCfg, resilience.IsRetryableNetworkError)
	if err != nil {
		return Result{}, fmt.Errorf("diarizer: %w", err)
	}

	return NewResult(out.Turns), nil
}

// Ping checks sidecar reachability for the readiness endpoint.
func (d *HTTPDiarizer) Ping(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/health", nil)
	if err != nil {
		return false, err
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

func (d *HTTPDiarizer) post(ctx context.Context, audio []byte, out *diarizeResponse) error {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	fw, err := w.CreateFormFile("file", "chunk.wav")
	if err != nil {
		return err
	}
	if _, err := fw.Write(audio); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/diarize", &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("diarizer %s: %s", resp.Status, string(msg))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
