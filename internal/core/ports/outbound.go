package ports

import (
	"context"
	"time"

	"github.com/kbcore/ingest-pipeline/internal/core/domain"
)

// DocumentRepository persists and reads document state.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error
	MarkExtracted(ctx context.Context, id string, at time.Time) error
}

// PipelineRepository persists per-document pipeline state. Update applies
// the mutation against the current stored state inside one transaction so
// near-simultaneous step reports cannot lose each other's writes.
type PipelineRepository interface {
	Save(ctx context.Context, state *domain.PipelineState) error
	GetByDocumentID(ctx context.Context, documentID string) (*domain.PipelineState, error)
	Update(ctx context.Context, documentID string, mutate func(*domain.PipelineState) error) (*domain.PipelineState, error)
}

// SegmentRepository persists chunker output and extraction results.
type SegmentRepository interface {
	ReplaceForDocument(ctx context.Context, documentID string, segments []domain.Segment) error
	ListByDocument(ctx context.Context, documentID string) ([]domain.Segment, error)
	SaveExtraction(ctx context.Context, segmentID string, result domain.ExtractionResult, raw, categorySlug string) error
	SavePointIDs(ctx context.Context, segmentID string, pointIDs []string) error
}

// CategoryRepository manages the shared category registry.
// FindOrCreate must be atomic on the slug so concurrent segment
// extraction cannot create duplicates; it also increments the usage
// counter of the resolved category.
type CategoryRepository interface {
	List(ctx context.Context) ([]domain.Category, error)
	FindOrCreate(ctx context.Context, name, slug string) (*domain.Category, error)
}

// AgentSettingsRepository reads per-agent extraction configuration.
// This core consumes the settings, it never writes them.
type AgentSettingsRepository interface {
	GetByID(ctx context.Context, id string) (*domain.AgentSettings, error)
}

// BlobStore is byte-addressable storage keyed by path.
type BlobStore interface {
	Exists(ctx context.Context, path string) (bool, error)
	Get(ctx context.Context, path string) ([]byte, error)
	Put(ctx context.Context, path string, data []byte) error
}

// StepQueue carries step dispatches to the worker pool.
type StepQueue interface {
	PublishStepDispatch(ctx context.Context, dispatch domain.StepDispatch) error
	SubscribeStepDispatch(ctx context.Context, handler func(context.Context, domain.StepDispatch) error) error
}

// GenerateRequest parameterizes one generative-model call. BaseURL and
// Model override the client defaults when an agent carries its own
// endpoint configuration. Images attaches page images for multimodal
// transcription.
type GenerateRequest struct {
	BaseURL     string
	Model       string
	Prompt      string
	Temperature float64
	MaxTokens   int
	Images      [][]byte
}

// Generator is the synchronous generative-text service; calls may take
// minutes, callers bound them with context deadlines.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// Embedder builds dense vectors for index points.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorIndex upserts points into a named collection.
type VectorIndex interface {
	Upsert(ctx context.Context, collection string, points []domain.VectorPoint) error
}

// Chunker splits converted markdown into segments; threshold is applied
// per call without mutating shared configuration.
type Chunker interface {
	Chunk(text string, threshold int) []domain.Segment
}
