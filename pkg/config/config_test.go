package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Pipeline.BatchSize != 4 {
		t.Errorf("expected default batch_size 4, got %d", cfg.Pipeline.BatchSize)
	}
	if cfg.Pipeline.ImageFormat != "JPEG" {
		t.Errorf("expected default image_format JPEG, got %s", cfg.Pipeline.ImageFormat)
	}
	if cfg.VectorStore.Backend != "qdrant" {
		t.Errorf("expected default backend qdrant, got %s", cfg.VectorStore.Backend)
	}
	if cfg.Telemetry.Tracing.Exporter != "otlp" {
		t.Errorf("expected default exporter otlp, got %s", cfg.Telemetry.Tracing.Exporter)
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Embedding.BaseURL = "http://localhost:8001"
	cfg.ObjectStore.BaseURL = "http://localhost:9000"
	cfg.VectorStore.Qdrant.Collection = "pages"
	cfg.Pipeline.OCREnabled = false

	if err := Validate(cfg); err != nil {
		t.Errorf("expected valid config, got: %v", err)
	}
}

func TestValidate_MissingEmbeddingBaseURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ObjectStore.BaseURL = "http://localhost:9000"
	cfg.VectorStore.Qdrant.Collection = "pages"
	cfg.Pipeline.OCREnabled = false

	if err := Validate(cfg); err == nil {
		t.Error("expected error for missing embedding.base_url")
	}
}

func TestValidate_OCREnabledRequiresBaseURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Embedding.BaseURL = "http://localhost:8001"
	cfg.ObjectStore.BaseURL = "http://localhost:9000"
	cfg.VectorStore.Qdrant.Collection = "pages"
	cfg.Pipeline.OCREnabled = true

	if err := Validate(cfg); err == nil {
		t.Error("expected error when ocr_enabled is true but ocr.base_url is empty")
	}
}

func TestValidate_InvalidImageFormat(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Embedding.BaseURL = "http://localhost:8001"
	cfg.ObjectStore.BaseURL = "http://localhost:9000"
	cfg.VectorStore.Qdrant.Collection = "pages"
	cfg.Pipeline.OCREnabled = false
	cfg.Pipeline.ImageFormat = "GIF"

	if err := Validate(cfg); err == nil {
		t.Error("expected error for unsupported image_format")
	}
}

func TestValidate_InvalidImageQuality(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Embedding.BaseURL = "http://localhost:8001"
	cfg.ObjectStore.BaseURL = "http://localhost:9000"
	cfg.VectorStore.Qdrant.Collection = "pages"
	cfg.Pipeline.OCREnabled = false
	cfg.Pipeline.ImageQuality = 150

	if err := Validate(cfg); err == nil {
		t.Error("expected error for image_quality > 100")
	}
}

func TestValidate_InvalidBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Embedding.BaseURL = "http://localhost:8001"
	cfg.ObjectStore.BaseURL = "http://localhost:9000"
	cfg.Pipeline.OCREnabled = false
	cfg.VectorStore.Backend = "elasticsearch"

	if err := Validate(cfg); err == nil {
		t.Error("expected error for unsupported vector_store.backend")
	}
}

func TestValidate_QdrantRequiresCollection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Embedding.BaseURL = "http://localhost:8001"
	cfg.ObjectStore.BaseURL = "http://localhost:9000"
	cfg.Pipeline.OCREnabled = false
	cfg.VectorStore.Backend = "qdrant"
	cfg.VectorStore.Qdrant.Collection = ""

	if err := Validate(cfg); err == nil {
		t.Error("expected error for qdrant backend with no collection")
	}
}

func TestValidate_PineconeRequiresIndexName(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Embedding.BaseURL = "http://localhost:8001"
	cfg.ObjectStore.BaseURL = "http://localhost:9000"
	cfg.Pipeline.OCREnabled = false
	cfg.VectorStore.Backend = "pinecone"
	cfg.VectorStore.Pinecone.IndexName = ""

	if err := Validate(cfg); err == nil {
		t.Error("expected error for pinecone backend with no index_name")
	}
}

func TestValidate_InvalidSampleRate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Embedding.BaseURL = "http://localhost:8001"
	cfg.ObjectStore.BaseURL = "http://localhost:9000"
	cfg.VectorStore.Qdrant.Collection = "pages"
	cfg.Pipeline.OCREnabled = false
	cfg.Telemetry.Tracing.SampleRate = 1.5

	if err := Validate(cfg); err == nil {
		t.Error("expected error for sample_rate > 1")
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pipeline.BatchSize = -1
	cfg.Pipeline.ImageQuality = 500
	cfg.VectorStore.Backend = "mongo"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected multiple validation errors")
	}
	if !strings.Contains(err.Error(), "batch_size") || !strings.Contains(err.Error(), "backend") {
		t.Errorf("expected combined error message to mention all failures, got: %v", err)
	}
}

func TestInterpolateEnv(t *testing.T) {
	t.Setenv("TEST_VAR", "hello")

	tests := []struct {
		input    string
		expected string
	}{
		{"${TEST_VAR}", "hello"},
		{"prefix-${TEST_VAR}-suffix", "prefix-hello-suffix"},
		{"${NONEXISTENT_VAR:-fallback}", "fallback"},
		{"${NONEXISTENT_VAR}", "${NONEXISTENT_VAR}"},
		{"no-vars-here", "no-vars-here"},
		{"${TEST_VAR:-default}", "hello"}, // env var exists, ignore default
	}

	for _, tt := range tests {
		result := InterpolateEnv(tt.input)
		if result != tt.expected {
			t.Errorf("InterpolateEnv(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestLoadFromFile(t *testing.T) {
	content := `
pipeline:
  batch_size: 8
  ocr_enabled: false

embedding:
  base_url: http://embed.internal:8001

object_store:
  base_url: http://objects.internal:9000
  bucket: pages

vector_store:
  backend: qdrant
  qdrant:
    host: qdrant.internal
    collection: reports
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "snappy.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(cfgPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.Pipeline.BatchSize != 8 {
		t.Errorf("expected batch_size 8, got %d", cfg.Pipeline.BatchSize)
	}
	if cfg.Pipeline.OCREnabled {
		t.Error("expected ocr_enabled false")
	}
	if cfg.Embedding.BaseURL != "http://embed.internal:8001" {
		t.Errorf("expected embedding base_url, got %s", cfg.Embedding.BaseURL)
	}
	if cfg.VectorStore.Qdrant.Collection != "reports" {
		t.Errorf("expected collection reports, got %s", cfg.VectorStore.Qdrant.Collection)
	}
	// Defaults should be preserved for fields the file doesn't set.
	if cfg.Pipeline.ImageQuality != 85 {
		t.Errorf("expected default image_quality 85, got %d", cfg.Pipeline.ImageQuality)
	}
	if cfg.ObjectStore.MaxRetries != 3 {
		t.Errorf("expected default object_store max_retries 3, got %d", cfg.ObjectStore.MaxRetries)
	}
}

func TestLoadFromFile_WithEnvInterpolation(t *testing.T) {
	t.Setenv("TEST_QDRANT_API_KEY", "qk-test-123")

	content := `
embedding:
  base_url: http://embed.internal:8001
object_store:
  base_url: http://objects.internal:9000
vector_store:
  backend: qdrant
  qdrant:
    collection: pages
    api_key: ${TEST_QDRANT_API_KEY}
pipeline:
  ocr_enabled: false
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "snappy.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(cfgPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.VectorStore.Qdrant.APIKey != "qk-test-123" {
		t.Errorf("expected interpolated api_key, got %s", cfg.VectorStore.Qdrant.APIKey)
	}
}

func TestLoadFromFile_InvalidFile(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path/snappy.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadFromFile_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "snappy.yaml")
	if err := os.WriteFile(cfgPath, []byte("{{invalid yaml"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := LoadFromFile(cfgPath)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadFromFile_InvalidValues(t *testing.T) {
	content := `
embedding:
  base_url: http://embed.internal:8001
object_store:
  base_url: http://objects.internal:9000
pipeline:
  ocr_enabled: false
  image_quality: 999
vector_store:
  backend: qdrant
  qdrant:
    collection: pages
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "snappy.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := LoadFromFile(cfgPath)
	if err == nil {
		t.Error("expected validation error for image_quality out of range")
	}
}

func TestGenerateTemplate(t *testing.T) {
	tmpl := GenerateTemplate()

	required := []string{
		"pipeline:", "batch_size:", "ocr_enabled:",
		"embedding:", "base_url:",
		"ocr:", "object_store:", "bucket:",
		"vector_store:", "backend:", "qdrant:", "pinecone:",
		"telemetry:", "tracing:", "exporter:",
	}

	for _, s := range required {
		if !strings.Contains(tmpl, s) {
			t.Errorf("template missing %q", s)
		}
	}
}
