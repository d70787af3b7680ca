package ingest

import "time"

// ImageFormat is the target encoding for stored and OCR'd page images.
type ImageFormat string

const (
	ImageFormatPNG  ImageFormat = "PNG"
	ImageFormatJPEG ImageFormat = "JPEG"
	ImageFormatWEBP ImageFormat = "WEBP"
)

// Config holds the streaming pipeline's tunables. Every field here is part
// of the recognized configuration surface; pkg/config loads these from
// YAML/env into this struct before pipeline construction.
type Config struct {
	// BatchSize is the number of consecutive pages per PageBatch.
	BatchSize int

	// MaxInFlightBatches bounds the admission semaphore and therefore peak
	// decoded-page memory (roughly MaxInFlightBatches * BatchSize pages).
	MaxInFlightBatches int

	// OCREnabled toggles whether the OCR stage and ocr registry participate
	// at all. When false, OCR is not a terminal stage and upsert records
	// carry no OCR fields.
	OCREnabled bool

	// VectorMeanPoolingEnabled toggles computing pooled_by_rows and
	// pooled_by_columns prefetch vectors alongside the per-token original.
	VectorMeanPoolingEnabled bool

	// ImageFormat is the target format the storage and OCR stages encode
	// pages into.
	ImageFormat ImageFormat

	// ImageQuality is the JPEG/WEBP quality parameter, 1-100. Ignored for
	// PNG.
	ImageQuality int

	// ThumbnailWidth, if > 0, produces a proportionally resized thumbnail
	// alongside the full image. Zero disables thumbnailing.
	ThumbnailWidth int

	// StorageRetries bounds the per-page upload retry count before a
	// storage failure is treated as fatal for the document.
	StorageRetries int

	// MaxJoinWaitSeconds bounds how long the upsert stage polls a registry
	// for a batch before falling back (image registry) or emitting
	// OCR-absent records with a WARN (ocr registry).
	MaxJoinWaitSeconds float64

	// SemaphorePollIntervalMs is how often the rasterizer retries acquiring
	// an admission permit while checking for cancellation. Defaults to 500,
	// matching the pre-distillation source's semaphore.acquire(timeout=0.5).
	SemaphorePollIntervalMs int

	// RegistryPollIntervalMs is the upsert stage's registry poll interval.
	// Defaults to 100, matching the source's POLL_INTERVAL.
	RegistryPollIntervalMs int

	// OCRMaxWorkers bounds the OCR stage's per-batch fan-out even when
	// BatchSize is large. Defaults to 16.
	OCRMaxWorkers int

	// JobID identifies this ingestion run in vector-store payloads.
	JobID string

	// Collection is the vector-store collection/index to upsert into.
	Collection string
}

// DefaultConfig returns the pipeline defaults used when a field is left
// unset (zero-valued) after loading configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:                4,
		MaxInFlightBatches:       2,
		OCREnabled:               true,
		VectorMeanPoolingEnabled: false,
		ImageFormat:              ImageFormatJPEG,
		ImageQuality:             85,
		ThumbnailWidth:           0,
		StorageRetries:           3,
		MaxJoinWaitSeconds:       30,
		SemaphorePollIntervalMs:  500,
		RegistryPollIntervalMs:   100,
		OCRMaxWorkers:            16,
	}
}

// applyDefaults fills zero-valued fields with DefaultConfig's values. A
// caller that only sets BatchSize, say, still gets sane values everywhere
// else.
func applyDefaults(cfg Config) Config {
	d := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = d.BatchSize
	}
	if cfg.MaxInFlightBatches <= 0 {
		cfg.MaxInFlightBatches = d.MaxInFlightBatches
	}
	if cfg.ImageFormat == "" {
		cfg.ImageFormat = d.ImageFormat
	}
	if cfg.ImageQuality <= 0 {
		cfg.ImageQuality = d.ImageQuality
	}
	if cfg.StorageRetries < 0 {
		cfg.StorageRetries = d.StorageRetries
	}
	if cfg.MaxJoinWaitSeconds <= 0 {
		cfg.MaxJoinWaitSeconds = d.MaxJoinWaitSeconds
	}
	if cfg.SemaphorePollIntervalMs <= 0 {
		cfg.SemaphorePollIntervalMs = d.SemaphorePollIntervalMs
	}
	if cfg.RegistryPollIntervalMs <= 0 {
		cfg.RegistryPollIntervalMs = d.RegistryPollIntervalMs
	}
	if cfg.OCRMaxWorkers <= 0 {
		cfg.OCRMaxWorkers = d.OCRMaxWorkers
	}
	return cfg
}

func (c Config) semaphorePollInterval() time.Duration {
	return time.Duration(c.SemaphorePollIntervalMs) * time.Millisecond
}

func (c Config) registryPollInterval() time.Duration {
	return time.Duration(c.RegistryPollIntervalMs) * time.Millisecond
}

func (c Config) maxJoinWait() time.Duration {
	return time.Duration(c.MaxJoinWaitSeconds * float64(time.Second))
}

// queueCapacity is the bounded-channel size for every fan-out/fan-in queue:
// max(2, 2*max_in_flight_batches).
func (c Config) queueCapacity() int {
	cap := 2 * c.MaxInFlightBatches
	if cap < 2 {
		cap = 2
	}
	return cap
}

// numTerminalStages is 2 (storage, upsert) or 3 (storage, OCR, upsert).
func (c Config) numTerminalStages() int {
	if c.OCREnabled {
		return 3
	}
	return 2
}
