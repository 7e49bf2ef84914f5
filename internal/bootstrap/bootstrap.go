package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kbcore/ingest-pipeline/internal/config"
	"github.com/kbcore/ingest-pipeline/internal/core/domain"
	"github.com/kbcore/ingest-pipeline/internal/core/ports"
	"github.com/kbcore/ingest-pipeline/internal/core/usecase"
	"github.com/kbcore/ingest-pipeline/internal/infrastructure/chunking"
	"github.com/kbcore/ingest-pipeline/internal/infrastructure/convert/nethtml"
	"github.com/kbcore/ingest-pipeline/internal/infrastructure/convert/rasterize"
	"github.com/kbcore/ingest-pipeline/internal/infrastructure/llm/ollama"
	"github.com/kbcore/ingest-pipeline/internal/infrastructure/queue/nats"
	"github.com/kbcore/ingest-pipeline/internal/infrastructure/repository/postgres"
	"github.com/kbcore/ingest-pipeline/internal/infrastructure/resilience"
	"github.com/kbcore/ingest-pipeline/internal/infrastructure/storage/localfs"
	"github.com/kbcore/ingest-pipeline/internal/infrastructure/vector/qdrant"
	"github.com/kbcore/ingest-pipeline/internal/observability/metrics"
	"github.com/kbcore/ingest-pipeline/internal/steps"
)

// App holds every wired component. cmd/api and cmd/worker share one
// bootstrap so their views of templates, schema, and the queue subject
// never drift.
type App struct {
	Config config.Config

	Documents  ports.DocumentRepository
	Pipelines  ports.PipelineRepository
	Segments   ports.SegmentRepository
	Categories ports.CategoryRepository
	Agents     ports.AgentSettingsRepository

	Blobs ports.BlobStore
	Queue *nats.Queue

	Orchestrator *usecase.Orchestrator
	Extractor    *usecase.Extractor
	Runner       *steps.Runner

	HTTPMetrics   *metrics.HTTPServerMetrics
	WorkerMetrics *metrics.WorkerMetrics

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, service string, logger *slog.Logger) (*App, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	docs := postgres.NewDocumentRepository(db)
	if err := docs.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	pipelines := postgres.NewPipelineRepository(db)
	segments := postgres.NewSegmentRepository(db)
	categories := postgres.NewCategoryRepository(db)
	agents := postgres.NewAgentSettingsRepository(db)

	blobs, err := localfs.New(cfg.StoragePath)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init blob storage: %w", err)
	}

	queueExecutor := resilience.NewExecutor(resilience.DefaultConfig())
	modelExecutor := resilience.NewExecutor(resilience.ModelCallConfig())

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: queueExecutor,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init step queue: %w", err)
	}

	templates, err := config.LoadPipelineTemplates(cfg.PipelineTemplatesFile)
	if err != nil {
		queue.Close()
		_ = db.Close()
		return nil, fmt.Errorf("load pipeline templates: %w", err)
	}

	llm := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, ollama.Options{
		RateLimitRPS:       cfg.LLMRateLimitRPS,
		RateLimitBurst:     cfg.LLMRateLimitBurst,
		ResilienceExecutor: modelExecutor,
	})
	vectors := qdrant.New(cfg.QdrantURL)

	orchestrator := usecase.NewOrchestrator(docs, pipelines, queue, templates, logger)
	extractor := usecase.NewExtractor(segments, categories, agents, llm, llm, vectors,
		usecase.ExtractionConfig{
			DefaultModel:   cfg.OllamaGenModel,
			Temperature:    cfg.ExtractTemperature,
			TimeoutSeconds: cfg.ExtractTimeoutSeconds,
			PromptTemplate: cfg.ExtractPromptTemplate,
		}, logger)

	workerMetrics := metrics.NewWorkerMetrics(service)
	httpMetrics := metrics.NewHTTPServerMetrics(service)

	chunker := chunking.NewMarkdownChunker(cfg.ChunkThreshold)
	registry := steps.NewRegistry()
	registry.Register(domain.StepPDFToImages, config.ToolRasterize,
		steps.NewRasterizeStep(blobs, rasterize.New(cfg.RasterizerURL)))
	visionStep := steps.NewVisionStep(blobs, llm, cfg.OllamaVisionModel)
	registry.Register(domain.StepImagesToMarkdown, config.ToolVisionModel, visionStep)
	registry.Register(domain.StepImageToMarkdown, config.ToolVisionModel, visionStep)
	registry.Register(domain.StepHTMLToMarkdown, config.ToolNetHTML,
		steps.NewHTMLStep(blobs, nethtml.New()))
	registry.Register(domain.StepMarkdownToQR, config.ToolQAExtractor,
		steps.NewExtractStep(blobs, chunker, segments, agents, extractor,
			workerMetrics, service, cfg.ChunkThreshold, cfg.ExtractPoolSize, logger))

	runner := steps.NewRunner(docs, pipelines, orchestrator, registry, workerMetrics, service, logger)

	return &App{
		Config: cfg,

		Documents:  docs,
		Pipelines:  pipelines,
		Segments:   segments,
		Categories: categories,
		Agents:     agents,

		Blobs: blobs,
		Queue: queue,

		Orchestrator: orchestrator,
		Extractor:    extractor,
		Runner:       runner,

		HTTPMetrics:   httpMetrics,
		WorkerMetrics: workerMetrics,

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
