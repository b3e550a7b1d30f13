package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"lukechampine.com/blake3"

	"github.com/scribeworks/transcription-gateway/internal/live"
	"github.com/scribeworks/transcription-gateway/internal/observability"
	"github.com/scribeworks/transcription-gateway/internal/provider"
)

const (
	maxUploadBytes       = 64 << 20
	transcribeCacheLimit = 256
)

// transcribeResponse is the one-shot REST result.
type transcribeResponse struct {
	Provider string         `json:"provider"`
	Messages []live.Message `json:"messages"`
	Speakers int            `json:"speakers"`
	Cached   bool           `json:"cached"`
}

// transcribeCache memoizes one-shot results keyed by the content hash of the
// uploaded audio plus the request options. Same bytes, same options, same
// answer; transcription is deterministic enough for an in-memory cache.
type transcribeCache struct {
	mu      sync.Mutex
	limit   int
	entries map[[32]byte]transcribeResponse
}

func newTranscribeCache(limit int) *transcribeCache {
	return &transcribeCache{
		limit:   limit,
		entries: make(map[[32]byte]transcribeResponse),
	}
}

func (c *transcribeCache) get(key [32]byte) (transcribeResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	resp, ok := c.entries[key]
	return resp, ok
}

func (c *transcribeCache) put(key [32]byte, resp transcribeResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.limit {
		// Full reset beats tracking recency for a bounded scratch cache.
		c.entries = make(map[[32]byte]transcribeResponse)
	}
	c.entries[key] = resp
}

func cacheKey(audio []byte, providerTag, model string, diarize bool) [32]byte {
	h := blake3.New(32, nil)
	h.Write([]byte(providerTag))
	h.Write([]byte{0})
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatBool(diarize)))
	h.Write([]byte{0})
	h.Write(audio)

	var key [32]byte
	copy(key[:], h.Sum(nil))
	return key
}

// handleTranscribe is the one-shot endpoint: upload a file, pick provider,
// model, and diarization, get back globally-labeled messages. Speaker
// identities are scoped to the single request.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		httpError(w, http.StatusBadRequest, "expected multipart form upload")
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		httpError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil || len(data) == 0 {
		httpError(w, http.StatusBadRequest, "empty or unreadable upload")
		return
	}
	observability.RecordAudioBytes(int64(len(data)))

	providerTag := r.FormValue("provider")
	model := r.FormValue("model")
	diarizeEnabled := s.cfg.DiarizationEnabled
	if v := r.FormValue("diarize"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			httpError(w, http.StatusBadRequest, "diarize must be a boolean")
			return
		}
		diarizeEnabled = parsed
	}

	key := cacheKey(data, providerTag, model, diarizeEnabled)
	if resp, ok := s.cache.get(key); ok {
		resp.Cached = true
		writeJSON(w, http.StatusOK, resp)
		return
	}

	prov, err := provider.New(providerTag, model, s.cfg)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	session := live.NewSession(s.cfg, prov, s.diarizer, s.embedder)
	defer session.Close()
	if err := session.Configure(diarizeEnabled, "", ""); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	started := time.Now()
	messages, err := session.SubmitChunk(r.Context(), data, 0)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.logger.Info().
		Str("provider", prov.Name()).
		Int("messages", len(messages)).
		Dur("elapsed", time.Since(started)).
		Msg("One-shot transcription complete")

	resp := transcribeResponse{
		Provider: prov.Name(),
		Messages: messages,
		Speakers: session.SpeakerCount(),
	}
	if len(messages) > 0 {
		s.cache.put(key, resp)
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
