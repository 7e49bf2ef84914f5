package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newCategoryRepoWithMock(t *testing.T) (*CategoryRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return &CategoryRepository{db: db}, mock, func() { _ = db.Close() }
}

func TestFindOrCreateUpsertsAndReturnsRow(t *testing.T) {
	repo, mock, done := newCategoryRepoWithMock(t)
	defer done()

	now := time.Now().UTC()
	mock.ExpectQuery("INSERT INTO categories").
		WithArgs("plomberie", "Plomberie", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"slug", "name", "usage_count", "created_at"}).
			AddRow("plomberie", "Plomberie", int64(3), now))

	cat, err := repo.FindOrCreate(context.Background(), "Plomberie", "plomberie")
	if err != nil {
		t.Fatalf("FindOrCreate() error = %v", err)
	}
	if cat.Slug != "plomberie" {
		t.Fatalf("slug = %q", cat.Slug)
	}
	if cat.UsageCount != 3 {
		t.Fatalf("usage count = %d", cat.UsageCount)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
