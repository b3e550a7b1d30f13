package config

import (
	"os"
	"testing"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	os.Unsetenv("PROVIDER")
	os.Unsetenv("DEEPGRAM_API_KEY")
	os.Unsetenv("LOG_LEVEL")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default Port '8080', got '%s'", cfg.Port)
	}

	if cfg.Provider != ProviderLocal {
		t.Errorf("Expected default Provider 'local', got '%s'", cfg.Provider)
	}

	if cfg.DeepgramModel != "nova-3" {
		t.Errorf("Expected default DeepgramModel 'nova-3', got '%s'", cfg.DeepgramModel)
	}

	if cfg.LocalASRURL != "http://localhost:9000" {
		t.Errorf("Expected default LocalASRURL 'http://localhost:9000', got '%s'", cfg.LocalASRURL)
	}

	if cfg.DiarizerURL != "http://localhost:9001" {
		t.Errorf("Expected default DiarizerURL 'http://localhost:9001', got '%s'", cfg.DiarizerURL)
	}

	if cfg.EmbedderURL != "http://localhost:9002" {
		t.Errorf("Expected default EmbedderURL 'http://localhost:9002', got '%s'", cfg.EmbedderURL)
	}

	if !cfg.DiarizationEnabled {
		t.Error("Expected default DiarizationEnabled true, got false")
	}

	if cfg.SimilarityThreshold != 0.45 {
		t.Errorf("Expected default SimilarityThreshold 0.45, got %f", cfg.SimilarityThreshold)
	}

	if cfg.MinEmbedSeconds != 0.5 {
		t.Errorf("Expected default MinEmbedSeconds 0.5, got %f", cfg.MinEmbedSeconds)
	}

	if cfg.ProviderTimeout != 60 {
		t.Errorf("Expected default ProviderTimeout 60, got %d", cfg.ProviderTimeout)
	}
}

func TestLoadFromEnv_DeepgramRequiresKey(t *testing.T) {
	os.Setenv("PROVIDER", "deepgram")
	os.Unsetenv("DEEPGRAM_API_KEY")
	defer os.Unsetenv("PROVIDER")

	_, err := LoadFromEnv()
	if err == nil {
		t.Error("Expected error when PROVIDER=deepgram without DEEPGRAM_API_KEY")
	}
}

func TestLoadFromEnv_DeepgramWithKey(t *testing.T) {
	os.Setenv("PROVIDER", "deepgram")
	os.Setenv("DEEPGRAM_API_KEY", "test-deepgram-key")
	defer os.Unsetenv("PROVIDER")
	defer os.Unsetenv("DEEPGRAM_API_KEY")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.DeepgramAPIKey != "test-deepgram-key" {
		t.Errorf("Expected DeepgramAPIKey 'test-deepgram-key', got '%s'", cfg.DeepgramAPIKey)
	}
}

func TestLoadFromEnv_UnknownProvider(t *testing.T) {
	os.Setenv("PROVIDER", "whisper-on-a-toaster")
	defer os.Unsetenv("PROVIDER")

	_, err := LoadFromEnv()
	if err == nil {
		t.Error("Expected error for unknown provider tag")
	}
}

func TestLoadFromEnv_ThresholdBounds(t *testing.T) {
	os.Setenv("SIMILARITY_THRESHOLD", "1.5")
	defer os.Unsetenv("SIMILARITY_THRESHOLD")

	_, err := LoadFromEnv()
	if err == nil {
		t.Error("Expected error for similarity threshold outside [-1, 1]")
	}
}

func TestLoadFromEnv_ResilienceDefaults(t *testing.T) {
	os.Unsetenv("PROVIDER")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.CircuitBreakerMaxFailures != 5 {
		t.Errorf("Expected default CircuitBreakerMaxFailures 5, got %d", cfg.CircuitBreakerMaxFailures)
	}

	if cfg.CircuitBreakerResetTimeout != 30 {
		t.Errorf("Expected default CircuitBreakerResetTimeout 30, got %d", cfg.CircuitBreakerResetTimeout)
	}

	if cfg.RetryMaxAttempts != 3 {
		t.Errorf("Expected default RetryMaxAttempts 3, got %d", cfg.RetryMaxAttempts)
	}

	if cfg.RetryInitialBackoff != 100 {
		t.Errorf("Expected default RetryInitialBackoff 100, got %d", cfg.RetryInitialBackoff)
	}
}

func TestLoadFromEnv_ObservabilityDefaults(t *testing.T) {
	os.Unsetenv("LOG_LEVEL")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Expected default LogLevel 'info', got '%s'", cfg.LogLevel)
	}

	if cfg.LogPretty {
		t.Error("Expected default LogPretty false, got true")
	}

	if !cfg.MetricsEnabled {
		t.Error("Expected default MetricsEnabled true, got false")
	}
}

func TestGetEnv(t *testing.T) {
	os.Setenv("TEST_KEY", "test-value")
	defer os.Unsetenv("TEST_KEY")

	value := GetEnv("TEST_KEY", "default")
	if value != "test-value" {
		t.Errorf("Expected 'test-value', got '%s'", value)
	}

	value = GetEnv("NON_EXISTENT_KEY", "default")
	if value != "default" {
		t.Errorf("Expected 'default', got '%s'", value)
	}
}
