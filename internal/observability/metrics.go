package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "transcription_gateway_active_sessions",
		Help: "Number of active live transcription sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transcription_gateway_sessions_total",
		Help: "Total number of live sessions opened",
	})

	// Chunk metrics
	chunksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcription_gateway_chunks_total",
		Help: "Total number of audio chunks processed",
	}, []string{"status"}) // "ok", "provider_error", "silent"

	chunkLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "transcription_gateway_chunk_latency_seconds",
		Help:    "End-to-end chunk processing latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	})

	// Provider metrics
	providerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcription_gateway_provider_requests_total",
		Help: "Total number of STT provider requests",
	}, []string{"provider", "status"})

	providerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "transcription_gateway_provider_latency_seconds",
		Help:    "STT provider call latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	}, []string{"provider"})

	// Speaker tracking metrics
	diarizationFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transcription_gateway_diarization_fallbacks_total",
		Help: "Chunks where provider diarization was degenerate and the local diarizer was invoked",
	})

	embeddingFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transcription_gateway_embedding_failures_total",
		Help: "Speaker embedding extractions that failed and degraded to null speakers",
	})

	speakersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transcription_gateway_speakers_created_total",
		Help: "Global speakers created across all sessions",
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcription_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Audio metrics
	audioBytesIn = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transcription_gateway_audio_bytes_total",
		Help: "Total audio bytes received from clients",
	})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "transcription_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcription_gateway_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// RecordSessionStart records a live session opening
func RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records a live session closing
func RecordSessionEnd() {
	activeSessions.Dec()
}

// RecordChunk records the outcome and latency of one processed chunk
func RecordChunk(status string, seconds float64) {
	chunksProcessed.WithLabelValues(status).Inc()
	chunkLatency.Observe(seconds)
}

// RecordProviderRequest records one STT provider call
func RecordProviderRequest(provider string, success bool, seconds float64) {
	status := "success"
	if !success {
		status = "error"
	}
	providerRequests.WithLabelValues(provider, status).Inc()
	providerLatency.WithLabelValues(provider).Observe(seconds)
}

// RecordDiarizationFallback records a local-diarizer fallback invocation
func RecordDiarizationFallback() {
	diarizationFallbacks.Inc()
}

// RecordEmbeddingFailure records a failed speaker embedding extraction
func RecordEmbeddingFailure() {
	embeddingFailures.Inc()
}

// RecordSpeakerCreated records a new global speaker registration
func RecordSpeakerCreated() {
	speakersCreated.Inc()
}

// RecordError records an error
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes received
func RecordAudioBytes(n int64) {
	audioBytesIn.Add(float64(n))
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
