package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Provider tags accepted by PROVIDER and by the per-session config message.
const (
	ProviderLocal    = "local"
	ProviderDeepgram = "deepgram"
)

// Config holds all configuration for the transcription gateway service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Default STT provider: "local" or "deepgram".
	// Sessions may override per connection via the config message.
	Provider string `envconfig:"PROVIDER" default:"local"`

	// Deepgram STT API configuration (required only when the deepgram provider is used)
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-3"` // nova-3, nova-2, enhanced, base
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:""`    // Language code (en, es, fr, ...); empty = auto-detect

	// Local sidecar endpoints (multipart HTTP services)
	LocalASRURL string `envconfig:"LOCAL_ASR_URL" default:"http://localhost:9000"` // Local ASR model server
	DiarizerURL string `envconfig:"DIARIZER_URL" default:"http://localhost:9001"`  // Fallback speaker diarizer
	EmbedderURL string `envconfig:"EMBEDDER_URL" default:"http://localhost:9002"`  // Speaker embedding extractor

	// Speaker tracking configuration
	DiarizationEnabled  bool    `envconfig:"DIARIZATION_ENABLED" default:"true"`
	SimilarityThreshold float64 `envconfig:"SIMILARITY_THRESHOLD" default:"0.45"` // Cosine similarity threshold for speaker matching (inclusive)
	MinEmbedSeconds     float64 `envconfig:"MIN_EMBED_SECONDS" default:"0.5"`     // Minimum span duration for a usable embedding

	// Audio processing configuration
	SilenceRMSThreshold float64 `envconfig:"SILENCE_RMS_THRESHOLD" default:"0"` // Skip provider calls for chunks below this RMS; 0 disables gating

	// Provider call configuration
	ProviderTimeout int `envconfig:"PROVIDER_TIMEOUT" default:"60"` // Per-chunk provider timeout in seconds

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts for sidecar calls
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints that envconfig tags cannot express
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderLocal, ProviderDeepgram:
	default:
		return fmt.Errorf("unknown provider %q (must be %q or %q)", c.Provider, ProviderLocal, ProviderDeepgram)
	}

	if c.Provider == ProviderDeepgram && c.DeepgramAPIKey == "" {
		return fmt.Errorf("DEEPGRAM_API_KEY is required when PROVIDER=deepgram")
	}

	if c.SimilarityThreshold < -1 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("SIMILARITY_THRESHOLD must be within [-1, 1], got %f", c.SimilarityThreshold)
	}

	return nil
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
