package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kbcore/ingest-pipeline/internal/core/domain"
)

type SegmentRepository struct {
	db *sql.DB
}

func NewSegmentRepository(db *sql.DB) *SegmentRepository {
	return &SegmentRepository{db: db}
}

// ReplaceForDocument implements the re-chunk contract: a new chunker run
// fully supersedes prior segments for the document, stale extraction
// results included.
func (r *SegmentRepository) ReplaceForDocument(ctx context.Context, documentID string, segments []domain.Segment) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin segment tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM segments WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("delete prior segments: %w", err)
	}

	for _, seg := range segments {
		units, err := json.Marshal(seg.KnowledgeUnits)
		if err != nil {
			return fmt.Errorf("marshal knowledge units: %w", err)
		}
		pointIDs, err := json.Marshal(seg.PointIDs)
		if err != nil {
			return fmt.Errorf("marshal point ids: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO segments (
	id, document_id, position, start_offset, end_offset, content, breadcrumb,
	useful, knowledge_units, summary, cleaned_text, category_slug, point_ids, raw_extraction,
	created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
`,
			seg.ID, documentID, seg.Position, seg.StartOffset, seg.EndOffset, seg.Content, seg.Breadcrumb,
			seg.Useful, units, seg.Summary, seg.CleanedText, seg.CategorySlug, pointIDs, seg.RawExtraction,
			seg.CreatedAt, seg.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert segment %s: %w", seg.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit segment tx: %w", err)
	}
	return nil
}

func (r *SegmentRepository) ListByDocument(ctx context.Context, documentID string) ([]domain.Segment, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, document_id, position, start_offset, end_offset, content, breadcrumb,
	useful, knowledge_units, summary, cleaned_text, category_slug, point_ids, raw_extraction,
	created_at, updated_at
FROM segments
WHERE document_id = $1
ORDER BY position
`, documentID)
	if err != nil {
		return nil, fmt.Errorf("query segments: %w", err)
	}
	defer rows.Close()

	var out []domain.Segment
	for rows.Next() {
		var seg domain.Segment
		var units, pointIDs []byte
		err := rows.Scan(
			&seg.ID, &seg.DocumentID, &seg.Position, &seg.StartOffset, &seg.EndOffset, &seg.Content, &seg.Breadcrumb,
			&seg.Useful, &units, &seg.Summary, &seg.CleanedText, &seg.CategorySlug, &pointIDs, &seg.RawExtraction,
			&seg.CreatedAt, &seg.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		if err := json.Unmarshal(units, &seg.KnowledgeUnits); err != nil {
			return nil, fmt.Errorf("unmarshal knowledge units: %w", err)
		}
		if err := json.Unmarshal(pointIDs, &seg.PointIDs); err != nil {
			return nil, fmt.Errorf("unmarshal point ids: %w", err)
		}
		out = append(out, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate segments: %w", err)
	}
	return out, nil
}

func (r *SegmentRepository) SaveExtraction(ctx context.Context, segmentID string, result domain.ExtractionResult, raw, categorySlug string) error {
	units, err := json.Marshal(result.KnowledgeUnits)
	if err != nil {
		return fmt.Errorf("marshal knowledge units: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
UPDATE segments
SET useful = $2, knowledge_units = $3, summary = $4, cleaned_text = $5, category_slug = $6, raw_extraction = $7, updated_at = $8
WHERE id = $1
`, segmentID, result.Useful, units, result.Summary, result.CleanedText, categorySlug, raw, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save extraction: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return domain.WrapError(domain.ErrSegmentNotFound, "save extraction", sql.ErrNoRows)
	}
	return nil
}

func (r *SegmentRepository) SavePointIDs(ctx context.Context, segmentID string, pointIDs []string) error {
	ids, err := json.Marshal(pointIDs)
	if err != nil {
		return fmt.Errorf("marshal point ids: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
UPDATE segments
SET point_ids = $2, updated_at = $3
WHERE id = $1
`, segmentID, ids, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save point ids: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return domain.WrapError(domain.ErrSegmentNotFound, "save point ids", sql.ErrNoRows)
	}
	return nil
}
