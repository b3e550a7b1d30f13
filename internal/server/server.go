// Package server wires the HTTP and WebSocket surface: the live
// transcription endpoint, the one-shot REST endpoint, and the
// health/readiness/metrics plumbing.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/scribeworks/transcription-gateway/internal/config"
	"github.com/scribeworks/transcription-gateway/internal/diarize"
	"github.com/scribeworks/transcription-gateway/internal/embed"
	"github.com/scribeworks/transcription-gateway/internal/observability"
	"github.com/scribeworks/transcription-gateway/internal/provider"
)

// Server holds the shared collaborators handed to each session.
type Server struct {
	cfg      *config.Config
	diarizer *diarize.HTTPDiarizer
	embedder *embed.HTTPEmbedder
	cache    *transcribeCache
	logger   zerolog.Logger
}

// New creates a server from config.
func New(cfg *config.Config) *Server {
	return &Server{
		cfg:      cfg,
		diarizer: diarize.NewHTTPDiarizer(cfg),
		embedder: embed.NewHTTPEmbedder(cfg),
		cache:    newTranscribeCache(transcribeCacheLimit),
		logger:   observability.GetLogger(),
	}
}

// Routes builds the chi router with all endpoints registered.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", observability.HealthCheckHandler())
	r.Get("/readyz", observability.ReadinessHandler(s.readinessChecks()))

	if s.cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Post("/v1/transcribe", s.handleTranscribe)
	r.HandleFunc("/ws/live-transcribe", s.handleLiveTranscribe)

	return r
}

func (s *Server) readinessChecks() map[string]observability.HealthCheckFunc {
	checks := map[string]observability.HealthCheckFunc{
		"diarizer": s.diarizer.Ping,
		"embedder": s.embedder.Ping,
	}

	switch s.cfg.Provider {
	case config.ProviderLocal:
		local := provider.NewLocalProvider(s.cfg, "")
		checks["local_asr"] = local.Ping
	case config.ProviderDeepgram:
		// No standing connection to probe; a key that builds a client is
		// considered ready. Actual failures surface per chunk.
		checks["deepgram"] = func(ctx context.Context) (bool, error) {
			_, err := provider.New(config.ProviderDeepgram, "", s.cfg)
			return err == nil, err
		}
	}

	return checks
}
