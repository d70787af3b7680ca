package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/athrael-soju/Snappy-sub001/pkg/config"
	embeddingclient "github.com/athrael-soju/Snappy-sub001/pkg/embedding/httpclient"
	"github.com/athrael-soju/Snappy-sub001/pkg/ingest"
	"github.com/athrael-soju/Snappy-sub001/pkg/metrics"
	"github.com/athrael-soju/Snappy-sub001/pkg/ocr"
	objectstoreclient "github.com/athrael-soju/Snappy-sub001/pkg/objectstore/httpclient"
	ocrclient "github.com/athrael-soju/Snappy-sub001/pkg/ocr/httpclient"
	"github.com/athrael-soju/Snappy-sub001/pkg/pdfdecode"
	"github.com/athrael-soju/Snappy-sub001/pkg/telemetry"
	"github.com/athrael-soju/Snappy-sub001/pkg/vectorstore"
	"github.com/athrael-soju/Snappy-sub001/pkg/vectorstore/pinecone"
	"github.com/athrael-soju/Snappy-sub001/pkg/vectorstore/qdrant"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.pdf>",
	Short: "Ingest a PDF into the vector store",
	Long: `Rasterizes a PDF's pages, generates multi-vector visual embeddings,
uploads page images to object storage, optionally runs OCR, and upserts the
result into the configured vector store.

Example:
  snappy ingest report.pdf --collection reports
  snappy ingest report.pdf --document-id report-2026-q1 --config snappy.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().String("collection", "", "vector-store collection/index to upsert into (overrides config)")
	ingestCmd.Flags().String("document-id", "", "document identifier (default: derived from filename)")
	ingestCmd.Flags().String("job-id", "", "job identifier recorded on every upserted point")
	ingestCmd.Flags().Bool("no-progress", false, "disable the progress bar (plain log lines only)")
	ingestCmd.Flags().String("metrics-addr", "", "address to serve Prometheus /metrics on while ingesting (disabled if empty)")

	_ = viper.BindPFlag("pipeline.job_id", ingestCmd.Flags().Lookup("job-id"))
}

func runIngest(cmd *cobra.Command, args []string) error {
	pdfPath := args[0]
	if _, err := os.Stat(pdfPath); err != nil {
		return fmt.Errorf("cannot read %s: %w", pdfPath, err)
	}

	cfg, err := resolveIngestConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	collection, _ := cmd.Flags().GetString("collection")
	if collection != "" {
		cfg.VectorStore.Qdrant.Collection = collection
		cfg.VectorStore.Pinecone.IndexName = collection
	}
	documentID, _ := cmd.Flags().GetString("document-id")
	if documentID == "" {
		documentID = deriveDocumentID(pdfPath)
	}
	jobID, _ := cmd.Flags().GetString("job-id")
	if jobID == "" {
		jobID = uuid.NewString()
	}
	noProgress, _ := cmd.Flags().GetBool("no-progress")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nInterrupted, stopping ingestion...")
		cancel()
	}()

	m := metrics.New()
	stopMetricsServer := serveMetrics(metricsAddr, m)
	defer stopMetricsServer()

	tracerCfg := telemetry.DefaultConfig()
	tracerCfg.Enabled = cfg.Telemetry.Tracing.Enabled
	tracerCfg.Exporter = cfg.Telemetry.Tracing.Exporter
	tracerCfg.Endpoint = cfg.Telemetry.Tracing.Endpoint
	tracerCfg.SampleRate = cfg.Telemetry.Tracing.SampleRate
	tracerCfg.Insecure = cfg.Telemetry.Tracing.Insecure
	tracer, err := telemetry.Init(ctx, tracerCfg)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = tracer.Shutdown(shutdownCtx)
	}()

	deps, totalPagesHint, err := buildDependencies(ctx, cfg, pdfPath)
	if err != nil {
		return fmt.Errorf("connect to dependencies: %w", err)
	}
	defer deps.close()
	deps.metrics = m
	deps.tracer = tracer

	pipelineCfg := ingest.Config{
		BatchSize:                cfg.Pipeline.BatchSize,
		MaxInFlightBatches:       cfg.Pipeline.MaxInFlightBatches,
		OCREnabled:               cfg.Pipeline.OCREnabled,
		VectorMeanPoolingEnabled: cfg.Pipeline.VectorMeanPoolingEnabled,
		ImageFormat:              ingest.ImageFormat(cfg.Pipeline.ImageFormat),
		ImageQuality:             cfg.Pipeline.ImageQuality,
		ThumbnailWidth:           cfg.Pipeline.ThumbnailWidth,
		StorageRetries:           cfg.Pipeline.StorageRetries,
		MaxJoinWaitSeconds:       cfg.Pipeline.MaxJoinWaitSeconds,
		SemaphorePollIntervalMs:  cfg.Pipeline.SemaphorePollIntervalMs,
		RegistryPollIntervalMs:   cfg.Pipeline.RegistryPollIntervalMs,
		OCRMaxWorkers:            cfg.Pipeline.OCRMaxWorkers,
		JobID:                    jobID,
		Collection:               collectionName(cfg),
	}

	var bar *progressbar.ProgressBar
	if !noProgress {
		bar = progressbar.NewOptions64(
			int64(totalPagesHint),
			progressbar.OptionSetDescription("Ingesting"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("pages"),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionFullWidth(),
			progressbar.OptionSetRenderBlankState(true),
		)
	}

	var lastCompleted int
	progressFn := func(completedPages int) {
		if bar == nil {
			fmt.Fprintf(os.Stderr, "completed %d pages\n", completedPages)
			return
		}
		if delta := completedPages - lastCompleted; delta > 0 {
			_ = bar.Add(delta)
			lastCompleted = completedPages
		}
	}

	pipeline, err := ingest.NewPipeline(deps.asDependencies(), pipelineCfg)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	filename := filepath.Base(pdfPath)
	fmt.Fprintf(os.Stderr, "Ingesting %s as document %q into collection %q...\n", filename, documentID, pipelineCfg.Collection)

	start := time.Now()
	totalPages, err := pipeline.IngestDocument(ctx, pdfPath, filename, documentID, progressFn)
	if err != nil {
		if bar != nil {
			_ = bar.Finish()
		}
		return fmt.Errorf("ingestion failed: %w", err)
	}
	if bar != nil {
		_ = bar.Finish()
	}
	fmt.Fprintln(os.Stderr)

	fmt.Println()
	fmt.Println("=== Ingestion Complete ===")
	fmt.Println()
	fmt.Printf("Document:    %s\n", documentID)
	fmt.Printf("Pages:       %d\n", totalPages)
	fmt.Printf("Collection:  %s\n", pipelineCfg.Collection)
	fmt.Printf("Job ID:      %s\n", jobID)
	fmt.Printf("Duration:    %v\n", time.Since(start).Round(time.Millisecond))
	fmt.Println()

	return nil
}

// resolveIngestConfig loads the full pipeline configuration via the
// already-initialized global viper instance (env > config file > defaults),
// honoring the same priority order the root command documents.
func resolveIngestConfig() (*config.Config, error) {
	return config.Load(viper.GetViper())
}

func deriveDocumentID(pdfPath string) string {
	base := filepath.Base(pdfPath)
	ext := filepath.Ext(base)
	return base[:len(base)-len(ext)]
}

func collectionName(cfg *config.Config) string {
	if cfg.VectorStore.Backend == "pinecone" {
		return cfg.VectorStore.Pinecone.IndexName
	}
	return cfg.VectorStore.Qdrant.Collection
}

// ingestDependencies owns every external-service client the pipeline needs
// and knows how to release them on shutdown.
type ingestDependencies struct {
	decoder     pdfdecode.Decoder
	embedding   *embeddingclient.Client
	objectStore *objectstoreclient.Client
	ocrClient   *ocrclient.Client
	vectorStore vectorstore.Store
	metrics     *metrics.Metrics
	tracer      *telemetry.Provider
	closeFns    []func()
}

func (d *ingestDependencies) close() {
	for _, fn := range d.closeFns {
		fn()
	}
}

func (d *ingestDependencies) asDependencies() ingest.Dependencies {
	var ocrProvider ocr.Provider
	if d.ocrClient != nil {
		ocrProvider = d.ocrClient
	}
	var sink ingest.EventSink = ingest.NopEventSink
	if d.metrics != nil {
		sink = metrics.NewEventSink(d.metrics)
	}
	return ingest.Dependencies{
		Decoder:      d.decoder,
		Embedding:    d.embedding,
		ObjectStore:  d.objectStore,
		ObjectBucket: viper.GetString("object_store.bucket"),
		OCR:          ocrProvider,
		VectorStore:  d.vectorStore,
		EventSink:    sink,
		Logger:       ingest.StderrLogger{},
		Tracer:       d.tracer,
	}
}

// serveMetrics starts a background HTTP server exposing m's /metrics
// endpoint when addr is non-empty, mounted at /metrics on a dedicated
// request mux. Returns a func that shuts the
// server down; a no-op if addr was empty.
func serveMetrics(addr string, m *metrics.Metrics) func() {
	if addr == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
		}
	}()
	fmt.Fprintf(os.Stderr, "Serving metrics on %s/metrics\n", addr)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}

// buildDependencies connects to every configured external service and
// returns them bundled with a total-page hint for sizing the progress bar.
func buildDependencies(ctx context.Context, cfg *config.Config, pdfPath string) (*ingestDependencies, int, error) {
	deps := &ingestDependencies{decoder: pdfdecode.NewPopplerDecoder()}

	info, err := deps.decoder.Inspect(ctx, pdfPath)
	if err != nil {
		return nil, 0, fmt.Errorf("inspect PDF: %w", err)
	}

	embeddingClient, err := embeddingclient.NewClient(embeddingclient.Config{
		BaseURL:    cfg.Embedding.BaseURL,
		APIKey:     cfg.Embedding.APIKey,
		Timeout:    cfg.Embedding.Timeout,
		MaxRetries: cfg.Embedding.MaxRetries,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("embedding client: %w", err)
	}
	deps.embedding = embeddingClient

	objectStoreClient, err := objectstoreclient.NewClient(objectstoreclient.Config{
		BaseURL:    cfg.ObjectStore.BaseURL,
		APIKey:     cfg.ObjectStore.APIKey,
		Timeout:    cfg.ObjectStore.Timeout,
		MaxRetries: cfg.ObjectStore.MaxRetries,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("object store client: %w", err)
	}
	deps.objectStore = objectStoreClient

	if cfg.Pipeline.OCREnabled {
		oc, err := ocrclient.NewClient(ocrclient.Config{
			BaseURL:    cfg.OCR.BaseURL,
			APIKey:     cfg.OCR.APIKey,
			Timeout:    cfg.OCR.Timeout,
			MaxRetries: cfg.OCR.MaxRetries,
		})
		if err != nil {
			return nil, 0, fmt.Errorf("ocr client: %w", err)
		}
		deps.ocrClient = oc
	}

	switch cfg.VectorStore.Backend {
	case "pinecone":
		pcCfg := pinecone.DefaultConfig()
		pcCfg.APIKey = cfg.VectorStore.Pinecone.APIKey
		pcCfg.IndexName = cfg.VectorStore.Pinecone.IndexName
		pcCfg.Namespace = cfg.VectorStore.Pinecone.Namespace
		client, err := pinecone.NewClient(ctx, pcCfg)
		if err != nil {
			return nil, 0, fmt.Errorf("pinecone client: %w", err)
		}
		deps.vectorStore = client
		deps.closeFns = append(deps.closeFns, func() { _ = client.Close() })
	default:
		qCfg := qdrant.Config{
			Host:           cfg.VectorStore.Qdrant.Host,
			APIKey:         cfg.VectorStore.Qdrant.APIKey,
			Collection:     cfg.VectorStore.Qdrant.Collection,
			UseTLS:         cfg.VectorStore.Qdrant.UseTLS,
			GRPCPort:       cfg.VectorStore.Qdrant.GRPCPort,
			TimeoutSeconds: cfg.VectorStore.Qdrant.TimeoutSeconds,
		}
		client, err := qdrant.NewClient(ctx, qCfg)
		if err != nil {
			return nil, 0, fmt.Errorf("qdrant client: %w", err)
		}
		deps.vectorStore = client
		deps.closeFns = append(deps.closeFns, func() { _ = client.Close() })
	}

	return deps, info.TotalPages, nil
}
