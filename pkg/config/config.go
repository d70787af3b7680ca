// Package config provides configuration file support for the ingestion
// pipeline. It handles loading, validation, and environment variable
// interpolation for snappy.yaml configuration files.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the full ingestion pipeline configuration.
type Config struct {
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	Embedding   EmbeddingConfig   `mapstructure:"embedding"`
	OCR         OCRConfig         `mapstructure:"ocr"`
	ObjectStore ObjectStoreConfig `mapstructure:"object_store"`
	VectorStore VectorStoreConfig `mapstructure:"vector_store"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
}

// PipelineConfig holds the streaming pipeline's tunables, mirroring
// pkg/ingest.Config field-for-field.
type PipelineConfig struct {
	BatchSize                int     `mapstructure:"batch_size"`
	MaxInFlightBatches       int     `mapstructure:"max_in_flight_batches"`
	OCREnabled               bool    `mapstructure:"ocr_enabled"`
	VectorMeanPoolingEnabled bool    `mapstructure:"vector_mean_pooling_enabled"`
	ImageFormat              string  `mapstructure:"image_format"`
	ImageQuality             int     `mapstructure:"image_quality"`
	ThumbnailWidth           int     `mapstructure:"thumbnail_width"`
	StorageRetries           int     `mapstructure:"storage_retries"`
	MaxJoinWaitSeconds       float64 `mapstructure:"max_join_wait_seconds"`
	SemaphorePollIntervalMs  int     `mapstructure:"semaphore_poll_interval_ms"`
	RegistryPollIntervalMs   int     `mapstructure:"registry_poll_interval_ms"`
	OCRMaxWorkers            int     `mapstructure:"ocr_max_workers"`
	JobID                    string  `mapstructure:"job_id"`
}

// EmbeddingConfig holds the embedding service client's settings.
type EmbeddingConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// OCRConfig holds the OCR service client's settings.
type OCRConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// ObjectStoreConfig holds the object-store HTTP client's settings.
type ObjectStoreConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Bucket     string        `mapstructure:"bucket"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// VectorStoreConfig holds vector-store backend settings. Only the section
// matching Backend is read by the client constructor; the other section is
// ignored.
type VectorStoreConfig struct {
	Backend  string         `mapstructure:"backend"` // "qdrant" or "pinecone"
	Qdrant   QdrantConfig   `mapstructure:"qdrant"`
	Pinecone PineconeConfig `mapstructure:"pinecone"`
}

// QdrantConfig holds Qdrant-specific connection settings.
type QdrantConfig struct {
	Host           string `mapstructure:"host"`
	APIKey         string `mapstructure:"api_key"`
	Collection     string `mapstructure:"collection"`
	UseTLS         bool   `mapstructure:"use_tls"`
	GRPCPort       int    `mapstructure:"grpc_port"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// PineconeConfig holds Pinecone-specific connection settings.
type PineconeConfig struct {
	APIKey    string `mapstructure:"api_key"`
	IndexName string `mapstructure:"index_name"`
	Namespace string `mapstructure:"namespace"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Tracing TracingConfig `mapstructure:"tracing"`
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Exporter   string  `mapstructure:"exporter"`
	Endpoint   string  `mapstructure:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate"`
	Insecure   bool    `mapstructure:"insecure"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			BatchSize:                4,
			MaxInFlightBatches:       2,
			OCREnabled:               true,
			VectorMeanPoolingEnabled: false,
			ImageFormat:              "JPEG",
			ImageQuality:             85,
			ThumbnailWidth:           0,
			StorageRetries:           3,
			MaxJoinWaitSeconds:       30,
			SemaphorePollIntervalMs:  500,
			RegistryPollIntervalMs:   100,
			OCRMaxWorkers:            16,
		},
		Embedding: EmbeddingConfig{
			Timeout:    60 * time.Second,
			MaxRetries: 3,
		},
		OCR: OCRConfig{
			Timeout:    60 * time.Second,
			MaxRetries: 2,
		},
		ObjectStore: ObjectStoreConfig{
			Timeout:    30 * time.Second,
			MaxRetries: 3,
		},
		VectorStore: VectorStoreConfig{
			Backend: "qdrant",
			Qdrant: QdrantConfig{
				GRPCPort:       6334,
				TimeoutSeconds: 30,
			},
		},
		Telemetry: TelemetryConfig{
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "otlp",
				Endpoint:   "localhost:4317",
				SampleRate: 1.0,
				Insecure:   true,
			},
		},
	}
}

// Load reads configuration from the given viper instance and returns a
// validated Config. Environment variables in string values are
// interpolated using ${VAR} syntax.
func Load(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	interpolateConfig(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile reads a specific config file and returns a validated Config.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return Load(v)
}

// Validate checks the configuration for errors and returns a descriptive
// error if any field is invalid.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Pipeline.BatchSize < 0 {
		errs = append(errs, "pipeline.batch_size: must be non-negative")
	}
	if cfg.Pipeline.MaxInFlightBatches < 0 {
		errs = append(errs, "pipeline.max_in_flight_batches: must be non-negative")
	}
	validFormats := map[string]bool{"PNG": true, "JPEG": true, "WEBP": true, "": true}
	if !validFormats[cfg.Pipeline.ImageFormat] {
		errs = append(errs, fmt.Sprintf("pipeline.image_format: unsupported format %q (supported: PNG, JPEG, WEBP)", cfg.Pipeline.ImageFormat))
	}
	if cfg.Pipeline.ImageQuality < 0 || cfg.Pipeline.ImageQuality > 100 {
		errs = append(errs, fmt.Sprintf("pipeline.image_quality: must be between 0 and 100, got %d", cfg.Pipeline.ImageQuality))
	}
	if cfg.Pipeline.MaxJoinWaitSeconds < 0 {
		errs = append(errs, "pipeline.max_join_wait_seconds: must be non-negative")
	}

	if cfg.Embedding.BaseURL == "" {
		errs = append(errs, "embedding.base_url: required")
	}

	if cfg.Pipeline.OCREnabled && cfg.OCR.BaseURL == "" {
		errs = append(errs, "ocr.base_url: required when pipeline.ocr_enabled is true")
	}

	if cfg.ObjectStore.BaseURL == "" {
		errs = append(errs, "object_store.base_url: required")
	}

	validBackends := map[string]bool{"qdrant": true, "pinecone": true, "": true}
	if !validBackends[cfg.VectorStore.Backend] {
		errs = append(errs, fmt.Sprintf("vector_store.backend: unsupported backend %q (supported: qdrant, pinecone)", cfg.VectorStore.Backend))
	}
	if cfg.VectorStore.Backend == "qdrant" && cfg.VectorStore.Qdrant.Collection == "" {
		errs = append(errs, "vector_store.qdrant.collection: required when vector_store.backend is qdrant")
	}
	if cfg.VectorStore.Backend == "pinecone" && cfg.VectorStore.Pinecone.IndexName == "" {
		errs = append(errs, "vector_store.pinecone.index_name: required when vector_store.backend is pinecone")
	}

	validExporters := map[string]bool{"otlp": true, "stdout": true, "none": true, "": true}
	if !validExporters[cfg.Telemetry.Tracing.Exporter] {
		errs = append(errs, fmt.Sprintf("telemetry.tracing.exporter: unsupported exporter %q (supported: otlp, stdout, none)", cfg.Telemetry.Tracing.Exporter))
	}
	if cfg.Telemetry.Tracing.SampleRate < 0 || cfg.Telemetry.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("telemetry.tracing.sample_rate: must be between 0 and 1, got %f", cfg.Telemetry.Tracing.SampleRate))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// envVarPattern matches ${VAR} or ${VAR:-default} syntax.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// InterpolateEnv replaces ${VAR} and ${VAR:-default} patterns in a string
// with the corresponding environment variable values.
func InterpolateEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}
		hasDefault := strings.Contains(match, ":-")

		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		if hasDefault {
			return defaultVal
		}
		return match
	})
}

// interpolateConfig applies environment variable interpolation to all
// string fields in the config that commonly carry secrets or environment
// indirection.
func interpolateConfig(cfg *Config) {
	cfg.Pipeline.JobID = InterpolateEnv(cfg.Pipeline.JobID)

	cfg.Embedding.BaseURL = InterpolateEnv(cfg.Embedding.BaseURL)
	cfg.Embedding.APIKey = InterpolateEnv(cfg.Embedding.APIKey)

	cfg.OCR.BaseURL = InterpolateEnv(cfg.OCR.BaseURL)
	cfg.OCR.APIKey = InterpolateEnv(cfg.OCR.APIKey)

	cfg.ObjectStore.BaseURL = InterpolateEnv(cfg.ObjectStore.BaseURL)
	cfg.ObjectStore.APIKey = InterpolateEnv(cfg.ObjectStore.APIKey)
	cfg.ObjectStore.Bucket = InterpolateEnv(cfg.ObjectStore.Bucket)

	cfg.VectorStore.Backend = InterpolateEnv(cfg.VectorStore.Backend)
	cfg.VectorStore.Qdrant.Host = InterpolateEnv(cfg.VectorStore.Qdrant.Host)
	cfg.VectorStore.Qdrant.APIKey = InterpolateEnv(cfg.VectorStore.Qdrant.APIKey)
	cfg.VectorStore.Qdrant.Collection = InterpolateEnv(cfg.VectorStore.Qdrant.Collection)
	cfg.VectorStore.Pinecone.APIKey = InterpolateEnv(cfg.VectorStore.Pinecone.APIKey)
	cfg.VectorStore.Pinecone.IndexName = InterpolateEnv(cfg.VectorStore.Pinecone.IndexName)
	cfg.VectorStore.Pinecone.Namespace = InterpolateEnv(cfg.VectorStore.Pinecone.Namespace)

	cfg.Telemetry.Tracing.Exporter = InterpolateEnv(cfg.Telemetry.Tracing.Exporter)
	cfg.Telemetry.Tracing.Endpoint = InterpolateEnv(cfg.Telemetry.Tracing.Endpoint)
}

// GenerateTemplate returns a YAML template string with all available
// configuration options and their defaults, suitable for writing to a
// snappy.yaml file.
func GenerateTemplate() string {
	return `# Ingestion pipeline configuration

pipeline:
  batch_size: 4
  max_in_flight_batches: 2
  ocr_enabled: true
  vector_mean_pooling_enabled: false
  image_format: JPEG        # PNG, JPEG, or WEBP
  image_quality: 85
  thumbnail_width: 0        # 0 disables thumbnailing
  storage_retries: 3
  max_join_wait_seconds: 30
  semaphore_poll_interval_ms: 500
  registry_poll_interval_ms: 100
  ocr_max_workers: 16
  job_id: ""

embedding:
  base_url: http://localhost:8001
  api_key: ${EMBEDDING_API_KEY:-}
  timeout: 60s
  max_retries: 3

ocr:
  base_url: http://localhost:8002
  api_key: ${OCR_API_KEY:-}
  timeout: 60s
  max_retries: 2

object_store:
  base_url: http://localhost:9000
  api_key: ${OBJECT_STORE_API_KEY:-}
  bucket: pages
  timeout: 30s
  max_retries: 3

vector_store:
  backend: qdrant            # qdrant or pinecone
  qdrant:
    host: localhost
    api_key: ${QDRANT_API_KEY:-}
    collection: pages
    use_tls: false
    grpc_port: 6334
    timeout_seconds: 30
  pinecone:
    api_key: ${PINECONE_API_KEY:-}
    index_name: ""
    namespace: ""

telemetry:
  tracing:
    enabled: false
    exporter: otlp       # otlp, stdout, or none
    endpoint: localhost:4317
    sample_rate: 1.0     # 0.0 to 1.0
    insecure: true
`
}
