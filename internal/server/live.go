package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/scribeworks/transcription-gateway/internal/audio"
	"github.com/scribeworks/transcription-gateway/internal/live"
	"github.com/scribeworks/transcription-gateway/internal/observability"
	"github.com/scribeworks/transcription-gateway/internal/provider"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Browser clients connect from arbitrary origins in development;
		// deployments should front this with an authenticating proxy.
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// clientMessage is the envelope for everything a live client sends.
type clientMessage struct {
	Type string `json:"type"`

	// config
	EnableDiarization   *bool    `json:"enable_diarization,omitempty"`
	SimilarityThreshold *float64 `json:"similarity_threshold,omitempty"`
	SilenceThreshold    *float64 `json:"silence_threshold,omitempty"`
	Provider            string   `json:"provider,omitempty"`
	Model               string   `json:"model,omitempty"`

	// audio_chunk
	Data       string   `json:"data,omitempty"` // base64 WAV
	ChunkStart *float64 `json:"chunk_start,omitempty"`

	// export
	Format string `json:"format,omitempty"`
}

type connectedMessage struct {
	Type               string `json:"type"`
	SessionID          string `json:"session_id"`
	Provider           string `json:"provider"`
	DiarizationEnabled bool   `json:"diarization_enabled"`
}

type statusMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type transcriptionMessage struct {
	Type     string         `json:"type"`
	Messages []live.Message `json:"messages"`
}

type exportResultMessage struct {
	Type     string `json:"type"`
	Content  string `json:"content"`
	Filename string `json:"filename"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// writeTimeout bounds each WebSocket write so a stalled client cannot block
// the chunk worker behind the send mutex.
const writeTimeout = 10 * time.Second

// wsConn serializes writes; the read loop and the chunk worker both send.
type wsConn struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	logger zerolog.Logger
}

func (c *wsConn) send(v interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		c.logger.Debug().Err(err).Msg("WebSocket deadline set failed")
		return
	}
	if err := c.conn.WriteJSON(v); err != nil {
		c.logger.Debug().Err(err).Msg("WebSocket send failed")
	}
}

type chunkWork struct {
	audio         []byte
	declaredStart float64
	num           int
}

// liveConn is the per-connection state around one session.
type liveConn struct {
	session *live.Session
	ws      *wsConn
	chunks  chan chunkWork
	done    chan struct{}

	mu               sync.Mutex
	silenceThreshold float64
}

// handleLiveTranscribe is the live streaming endpoint. One session per
// connection; chunks are queued to a single worker so they are processed
// strictly in arrival order with backpressure instead of drops.
func (s *Server) handleLiveTranscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	prov, err := provider.New("", "", s.cfg)
	if err != nil {
		s.logger.Error().Err(err).Msg("Default provider unavailable")
		return
	}

	session := live.NewSession(s.cfg, prov, s.diarizer, s.embedder)
	logger := observability.WithSession(session.ID)

	lc := &liveConn{
		session:          session,
		ws:               &wsConn{conn: conn, logger: logger},
		chunks:           make(chan chunkWork, 64),
		done:             make(chan struct{}),
		silenceThreshold: s.cfg.SilenceRMSThreshold,
	}

	go lc.processChunks(r.Context())

	lc.ws.send(connectedMessage{
		Type:               "connected",
		SessionID:          session.ID,
		Provider:           prov.Name(),
		DiarizationEnabled: s.cfg.DiarizationEnabled,
	})

	defer func() {
		session.Close()
		close(lc.chunks)
		<-lc.done
	}()

	chunkCounter := 0
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn().Err(err).Msg("WebSocket closed unexpectedly")
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			lc.ws.send(errorMessage{Type: "error", Message: "invalid JSON message"})
			continue
		}

		switch msg.Type {
		case "config":
			lc.handleConfig(msg, s.cfg.DiarizationEnabled)

		case "audio_chunk":
			chunkCounter++
			data, err := base64.StdEncoding.DecodeString(msg.Data)
			if err != nil || len(data) == 0 {
				lc.ws.send(errorMessage{Type: "error", Message: "no decodable audio data provided"})
				continue
			}

			declaredStart := -1.0
			if msg.ChunkStart != nil {
				declaredStart = *msg.ChunkStart
			}

			queued := len(lc.chunks)
			if queued > 0 {
				lc.ws.send(statusMessage{Type: "status", Message: fmt.Sprintf("%d chunk(s) queued", queued)})
			}
			lc.chunks <- chunkWork{audio: data, declaredStart: declaredStart, num: chunkCounter}

		case "export":
			format := msg.Format
			if format == "" {
				format = "txt"
			}
			content, err := session.Export(format)
			if err != nil {
				lc.ws.send(errorMessage{Type: "error", Message: err.Error()})
				continue
			}
			lc.ws.send(exportResultMessage{
				Type:     "export_result",
				Content:  content,
				Filename: fmt.Sprintf("transcription_%s.%s", session.ID, format),
			})

		case "clear":
			if err := session.Clear(); err != nil {
				lc.ws.send(errorMessage{Type: "error", Message: err.Error()})
				continue
			}
			lc.ws.send(statusMessage{Type: "status", Message: "session cleared"})

		default:
			lc.ws.send(errorMessage{Type: "error", Message: fmt.Sprintf("unknown message type %q", msg.Type)})
		}
	}
}

func (lc *liveConn) handleConfig(msg clientMessage, defaultDiarization bool) {
	if msg.EnableDiarization != nil || msg.Provider != "" || msg.Model != "" {
		enable := defaultDiarization
		if msg.EnableDiarization != nil {
			enable = *msg.EnableDiarization
		}
		if err := lc.session.Configure(enable, msg.Provider, msg.Model); err != nil {
			lc.ws.send(errorMessage{Type: "error", Message: err.Error()})
			return
		}
	}

	if msg.SimilarityThreshold != nil {
		if err := lc.session.SetSimilarityThreshold(*msg.SimilarityThreshold); err != nil {
			lc.ws.send(errorMessage{Type: "error", Message: err.Error()})
			return
		}
	}

	if msg.SilenceThreshold != nil {
		lc.mu.Lock()
		lc.silenceThreshold = *msg.SilenceThreshold
		lc.mu.Unlock()
	}

	lc.ws.send(statusMessage{Type: "status", Message: "configuration updated"})
}

// processChunks drains the queue sequentially. Chunks still queued when the
// session closes are discarded.
func (lc *liveConn) processChunks(ctx context.Context) {
	defer close(lc.done)

	for work := range lc.chunks {
		lc.mu.Lock()
		silenceThreshold := lc.silenceThreshold
		lc.mu.Unlock()

		if audio.IsSilentChunk(work.audio, silenceThreshold) {
			observability.RecordChunk("silent", 0)
			lc.ws.send(statusMessage{Type: "status", Message: fmt.Sprintf("chunk %d skipped (silence)", work.num)})
			continue
		}

		messages, err := lc.session.SubmitChunk(ctx, work.audio, work.declaredStart)
		if err != nil {
			if errors.Is(err, live.ErrSessionClosed) {
				return
			}
			lc.ws.send(errorMessage{Type: "error", Message: err.Error()})
			continue
		}

		lc.ws.send(transcriptionMessage{Type: "transcription", Messages: messages})
	}
}
