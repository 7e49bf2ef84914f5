package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kbcore/ingest-pipeline/internal/core/domain"
)

type CategoryRepository struct {
	db *sql.DB
}

func NewCategoryRepository(db *sql.DB) *CategoryRepository {
	return &CategoryRepository{db: db}
}

func (r *CategoryRepository) List(ctx context.Context) ([]domain.Category, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT slug, name, usage_count, created_at
FROM categories
ORDER BY slug
`)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	var out []domain.Category
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.Slug, &c.Name, &c.UsageCount, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return out, nil
}

// FindOrCreate resolves the slug in one atomic statement: the upsert
// either inserts the category or bumps the existing counter, so racing
// extraction workers converge on a single row per slug.
func (r *CategoryRepository) FindOrCreate(ctx context.Context, name, slug string) (*domain.Category, error) {
	row := r.db.QueryRowContext(ctx, `
INSERT INTO categories (slug, name, usage_count, created_at)
VALUES ($1, $2, 1, $3)
ON CONFLICT (slug) DO UPDATE SET usage_count = categories.usage_count + 1
RETURNING slug, name, usage_count, created_at
`, slug, name, time.Now().UTC())

	var c domain.Category
	if err := row.Scan(&c.Slug, &c.Name, &c.UsageCount, &c.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("find or create category %s: no row returned", slug)
		}
		return nil, fmt.Errorf("find or create category %s: %w", slug, err)
	}
	return &c, nil
}
