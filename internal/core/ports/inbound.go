package ports

import (
	"context"

	"github.com/kbcore/ingest-pipeline/internal/core/domain"
)

// PipelineOrchestrator is the inbound contract for driving a document's
// step sequence.
type PipelineOrchestrator interface {
	StartPipeline(ctx context.Context, documentID string, toolOverrides map[string]domain.ToolSelection, autoChain bool) error
	DispatchStep(ctx context.Context, documentID string, index int, autoChain bool) error
	RelaunchStep(ctx context.Context, documentID string, index int, newTool *domain.ToolSelection) error
	ContinueFromStep(ctx context.Context, documentID string, index int) error
	CheckAndCompletePipeline(ctx context.Context, documentID string) (bool, error)
}

// SegmentProcessor is the inbound contract for per-segment knowledge
// extraction and indexing.
type SegmentProcessor interface {
	ProcessSegment(ctx context.Context, segment *domain.Segment, doc *domain.Document) error
}
