package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kbcore/ingest-pipeline/internal/core/domain"
	"github.com/kbcore/ingest-pipeline/internal/core/ports"
)

// ExtractionConfig carries process-wide extraction defaults; per-agent
// settings override them when the owning document resolves to an agent.
type ExtractionConfig struct {
	DefaultModel   string
	Temperature    float64
	TimeoutSeconds int
	PromptTemplate string
}

func (c ExtractionConfig) normalize() ExtractionConfig {
	out := c
	if out.Temperature <= 0 {
		out.Temperature = 0.1
	}
	if out.TimeoutSeconds <= 0 {
		out.TimeoutSeconds = 180
	}
	if out.PromptTemplate == "" {
		out.PromptTemplate = defaultExtractionPrompt
	}
	return out
}

// Extractor turns one segment into normalized knowledge units and vector
// index points. It is stateless between segments; the category registry
// is the only shared resource and its find-or-create is atomic at the
// repository level.
type Extractor struct {
	segments   ports.SegmentRepository
	categories ports.CategoryRepository
	agents     ports.AgentSettingsRepository
	generator  ports.Generator
	embedder   ports.Embedder
	index      ports.VectorIndex
	cfg        ExtractionConfig
	logger     *slog.Logger

	newPointID func() string
}

func NewExtractor(
	segments ports.SegmentRepository,
	categories ports.CategoryRepository,
	agents ports.AgentSettingsRepository,
	generator ports.Generator,
	embedder ports.Embedder,
	index ports.VectorIndex,
	cfg ExtractionConfig,
	logger *slog.Logger,
) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		segments:   segments,
		categories: categories,
		agents:     agents,
		generator:  generator,
		embedder:   embedder,
		index:      index,
		cfg:        cfg.normalize(),
		logger:     logger,
		newPointID: uuid.NewString,
	}
}

// ProcessSegment extracts knowledge from one segment, resolves its
// category, persists the result, and indexes useful content. Model-call
// failures are hard errors for this segment only; unparsable model
// output degrades to a non-useful result and is never fatal.
func (e *Extractor) ProcessSegment(ctx context.Context, seg *domain.Segment, doc *domain.Document) error {
	settings := e.resolveSettings(ctx, doc)

	model := e.cfg.DefaultModel
	temperature := e.cfg.Temperature
	timeout := time.Duration(e.cfg.TimeoutSeconds) * time.Second
	template := e.cfg.PromptTemplate
	baseURL := ""
	if settings != nil {
		if settings.ModelName != "" {
			model = settings.ModelName
		}
		if settings.Temperature > 0 {
			temperature = settings.Temperature
		}
		if settings.TimeoutSeconds > 0 {
			timeout = time.Duration(settings.TimeoutSeconds) * time.Second
		}
		if settings.SystemPrompt != "" {
			template = settings.SystemPrompt
		}
		baseURL = settings.BaseURL
	}

	genCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := e.generator.Generate(genCtx, ports.GenerateRequest{
		BaseURL:     baseURL,
		Model:       model,
		Prompt:      buildExtractionPrompt(template, seg),
		Temperature: temperature,
	})
	if err != nil {
		return fmt.Errorf("generate extraction for segment %s: %w", seg.ID, err)
	}

	result, parsed := parseExtraction(raw)
	if !parsed {
		e.logger.Warn("no parsable extraction in model response; treating segment as not useful",
			"segment_id", seg.ID, "document_id", doc.ID)
	}

	category, err := e.resolveCategory(ctx, result.Category)
	if err != nil {
		return fmt.Errorf("resolve category for segment %s: %w", seg.ID, err)
	}

	if err := e.segments.SaveExtraction(ctx, seg.ID, result, raw, category.Slug); err != nil {
		return fmt.Errorf("persist extraction for segment %s: %w", seg.ID, err)
	}
	seg.Useful = result.Useful
	seg.KnowledgeUnits = result.KnowledgeUnits
	seg.Summary = result.Summary
	seg.CleanedText = result.CleanedText
	seg.CategorySlug = category.Slug
	seg.RawExtraction = raw

	if !result.Useful {
		return nil
	}
	if settings == nil || settings.Collection == "" {
		e.logger.Warn("no indexing target configured; extraction persisted without indexing",
			"segment_id", seg.ID, "document_id", doc.ID, "agent_id", doc.AgentID)
		return nil
	}
	return e.indexSegment(ctx, seg, doc, result, settings.Collection)
}

// indexSegment writes one qa_pair point per non-empty knowledge unit
// plus one source_material point for the segment itself, and records the
// generated point IDs back onto the segment.
func (e *Extractor) indexSegment(
	ctx context.Context,
	seg *domain.Segment,
	doc *domain.Document,
	result domain.ExtractionResult,
	collection string,
) error {
	units := make([]domain.KnowledgeUnit, 0, len(result.KnowledgeUnits))
	texts := make([]string, 0, len(result.KnowledgeUnits)+1)
	for _, ku := range result.KnowledgeUnits {
		if strings.TrimSpace(ku.Question) == "" || strings.TrimSpace(ku.Answer) == "" {
			continue
		}
		units = append(units, ku)
		texts = append(texts, ku.Question)
	}
	texts = append(texts, sourceMaterialText(seg, result))

	vectors, err := e.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed segment %s: %w", seg.ID, err)
	}
	if len(vectors) != len(texts) {
		return domain.WrapError(domain.ErrInvalidInput, "embed segment",
			fmt.Errorf("vectors/texts mismatch: %d/%d", len(vectors), len(texts)))
	}

	points := make([]domain.VectorPoint, 0, len(texts))
	for i, ku := range units {
		points = append(points, domain.VectorPoint{
			ID:     e.newPointID(),
			Vector: vectors[i],
			Payload: map[string]any{
				"type":        domain.PointTypeQAPair,
				"text":        ku.Answer,
				"question":    ku.Question,
				"document_id": doc.ID,
				"filename":    doc.Filename,
				"breadcrumb":  seg.Breadcrumb,
				"segment_id":  seg.ID,
			},
		})
	}
	points = append(points, domain.VectorPoint{
		ID:     e.newPointID(),
		Vector: vectors[len(vectors)-1],
		Payload: map[string]any{
			"type":        domain.PointTypeSourceMaterial,
			"text":        seg.Content,
			"document_id": doc.ID,
			"filename":    doc.Filename,
			"breadcrumb":  seg.Breadcrumb,
			"segment_id":  seg.ID,
		},
	})

	if err := e.index.Upsert(ctx, collection, points); err != nil {
		return fmt.Errorf("upsert points for segment %s: %w", seg.ID, err)
	}

	pointIDs := make([]string, 0, len(points))
	for _, p := range points {
		pointIDs = append(pointIDs, p.ID)
	}
	if err := e.segments.SavePointIDs(ctx, seg.ID, pointIDs); err != nil {
		return fmt.Errorf("record point ids for segment %s: %w", seg.ID, err)
	}
	seg.PointIDs = pointIDs
	return nil
}

// resolveCategory normalizes and slugifies the extracted name, reuses an
// exact or fuzzy slug match, and otherwise creates a new category. The
// resolved category's usage counter is incremented either way.
func (e *Extractor) resolveCategory(ctx context.Context, rawName string) (*domain.Category, error) {
	name := domain.NormalizeCategoryName(rawName)
	slug := domain.Slugify(name)
	if slug == "" {
		name = domain.FallbackCategory
		slug = domain.Slugify(name)
	}

	existing, err := e.categories.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	for i := range existing {
		if existing[i].Slug == slug {
			return e.categories.FindOrCreate(ctx, existing[i].Name, existing[i].Slug)
		}
	}
	for i := range existing {
		if domain.SlugsFuzzyMatch(slug, existing[i].Slug) {
			e.logger.Debug("fuzzy category match",
				"requested", slug, "matched", existing[i].Slug)
			return e.categories.FindOrCreate(ctx, existing[i].Name, existing[i].Slug)
		}
	}
	return e.categories.FindOrCreate(ctx, name, slug)
}

func (e *Extractor) resolveSettings(ctx context.Context, doc *domain.Document) *domain.AgentSettings {
	if doc.AgentID == "" {
		return nil
	}
	settings, err := e.agents.GetByID(ctx, doc.AgentID)
	if err != nil {
		if !domain.IsKind(err, domain.ErrAgentNotFound) {
			e.logger.Warn("agent settings lookup failed; using defaults",
				"agent_id", doc.AgentID, "error", err)
		}
		return nil
	}
	return settings
}

func sourceMaterialText(seg *domain.Segment, result domain.ExtractionResult) string {
	content := result.CleanedText
	if strings.TrimSpace(content) == "" {
		content = seg.Content
	}
	if strings.TrimSpace(result.Summary) == "" {
		return content
	}
	return result.Summary + "\n\n" + content
}

// parseExtraction locates the first top-level JSON object in the raw
// model output by brace matching (the model may wrap JSON in prose). On
// any parse failure it fails soft: nothing useful extracted, category
// MISC.
func parseExtraction(raw string) (domain.ExtractionResult, bool) {
	failSoft := domain.ExtractionResult{
		Useful:         false,
		KnowledgeUnits: []domain.KnowledgeUnit{},
		Category:       domain.FallbackCategory,
		Summary:        "",
	}

	obj, ok := firstJSONObject(raw)
	if !ok {
		return failSoft, false
	}
	var result domain.ExtractionResult
	if err := json.Unmarshal([]byte(obj), &result); err != nil {
		return failSoft, false
	}
	if result.KnowledgeUnits == nil {
		result.KnowledgeUnits = []domain.KnowledgeUnit{}
	}
	if strings.TrimSpace(result.Category) == "" {
		result.Category = domain.FallbackCategory
	}
	return result, true
}

func firstJSONObject(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], true
			}
		}
	}
	return "", false
}

const defaultExtractionPrompt = `You are a knowledge extraction engine for a retrieval knowledge base.
From the document section below, extract self-contained question/answer pairs a reader could ask about this content.
Return a strict JSON object with keys:
useful (boolean: false if the section carries no retrievable knowledge),
knowledge_units (array of objects with keys question and answer),
category (short topical label, one or two words),
summary (one line),
cleaned_content (the section text cleaned of markup artifacts).
No markdown fences, no extra keys.`

func buildExtractionPrompt(template string, seg *domain.Segment) string {
	var b strings.Builder
	b.WriteString(template)
	b.WriteString("\n\n")
	if seg.Breadcrumb != "" {
		b.WriteString("Section: ")
		b.WriteString(seg.Breadcrumb)
		b.WriteString("\n\n")
	}
	b.WriteString("Content:\n")
	b.WriteString(seg.Content)
	return b.String()
}
