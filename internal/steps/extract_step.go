package steps

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/kbcore/ingest-pipeline/internal/core/domain"
	"github.com/kbcore/ingest-pipeline/internal/core/ports"
	"github.com/kbcore/ingest-pipeline/internal/observability/metrics"
)

// ExtractStep chunks the converted markdown and fans segment extraction
// out over a bounded worker pool. A single failed segment does not stop
// the others; the step fails afterward if any segment hard-errored, so
// a relaunch re-runs the whole chunk set.
type ExtractStep struct {
	blobs     ports.BlobStore
	chunker   ports.Chunker
	segments  ports.SegmentRepository
	agents    ports.AgentSettingsRepository
	processor ports.SegmentProcessor
	metrics   *metrics.WorkerMetrics
	service   string
	threshold int
	poolSize  int
	logger    *slog.Logger

	newID func() string
	now   func() time.Time
}

func NewExtractStep(
	blobs ports.BlobStore,
	chunker ports.Chunker,
	segments ports.SegmentRepository,
	agents ports.AgentSettingsRepository,
	processor ports.SegmentProcessor,
	workerMetrics *metrics.WorkerMetrics,
	service string,
	threshold, poolSize int,
	logger *slog.Logger,
) *ExtractStep {
	if threshold <= 0 {
		threshold = 1500
	}
	if poolSize <= 0 {
		poolSize = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExtractStep{
		blobs:     blobs,
		chunker:   chunker,
		segments:  segments,
		agents:    agents,
		processor: processor,
		metrics:   workerMetrics,
		service:   service,
		threshold: threshold,
		poolSize:  poolSize,
		logger:    logger,
		newID:     uuid.NewString,
		now:       time.Now,
	}
}

func (s *ExtractStep) Execute(ctx context.Context, req Request) (Result, error) {
	markdown, err := s.loadMarkdown(ctx, req.Doc)
	if err != nil {
		return Result{}, err
	}

	segments := s.chunker.Chunk(markdown, s.resolveThreshold(ctx, req.Doc))
	if len(segments) == 0 {
		return Result{OutputSummary: "no segments in document"}, nil
	}

	now := s.now().UTC()
	for i := range segments {
		segments[i].ID = s.newID()
		segments[i].DocumentID = req.Doc.ID
		segments[i].CreatedAt = now
		segments[i].UpdatedAt = now
	}
	if err := s.segments.ReplaceForDocument(ctx, req.Doc.ID, segments); err != nil {
		return Result{}, fmt.Errorf("persist segments: %w", err)
	}

	pool, err := ants.NewPool(s.poolSize)
	if err != nil {
		return Result{}, fmt.Errorf("create extraction pool: %w", err)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	var failed int64
	for i := range segments {
		seg := &segments[i]
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			err := s.processor.ProcessSegment(ctx, seg, req.Doc)
			if s.metrics != nil {
				s.metrics.RecordSegmentExtraction(s.service, err)
			}
			if err != nil {
				atomic.AddInt64(&failed, 1)
				s.logger.Error("segment extraction failed",
					"document_id", req.Doc.ID, "segment_id", seg.ID, "position", seg.Position, "error", err)
			}
		})
		if submitErr != nil {
			wg.Done()
			atomic.AddInt64(&failed, 1)
			s.logger.Error("submit segment to pool failed",
				"document_id", req.Doc.ID, "segment_id", seg.ID, "error", submitErr)
		}
	}
	wg.Wait()

	useful := 0
	for i := range segments {
		if segments[i].Useful {
			useful++
		}
	}

	if n := atomic.LoadInt64(&failed); n > 0 {
		return Result{}, fmt.Errorf("%d of %d segments failed extraction", n, len(segments))
	}

	return Result{
		OutputSummary: fmt.Sprintf("%d segments, %d useful", len(segments), useful),
	}, nil
}

// loadMarkdown reads the step input: markdown uploads are consumed
// as-is, everything else goes through the conversion output.
func (s *ExtractStep) loadMarkdown(ctx context.Context, doc *domain.Document) (string, error) {
	key := doc.ID + "/converted.md"
	if doc.Type == domain.TypeMarkdown {
		key = doc.StoragePath
	}
	raw, err := s.blobs.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("read markdown %s: %w", key, err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func (s *ExtractStep) resolveThreshold(ctx context.Context, doc *domain.Document) int {
	if doc.AgentID == "" {
		return s.threshold
	}
	settings, err := s.agents.GetByID(ctx, doc.AgentID)
	if err != nil || settings.ChunkThreshold <= 0 {
		return s.threshold
	}
	return settings.ChunkThreshold
}
