package steps

import (
	"context"
	"fmt"

	"github.com/kbcore/ingest-pipeline/internal/core/ports"
)

// HTMLConverter turns raw HTML bytes into markdown.
type HTMLConverter interface {
	Convert(raw []byte) (string, error)
}

// HTMLStep converts an uploaded HTML document to markdown.
type HTMLStep struct {
	blobs     ports.BlobStore
	converter HTMLConverter
}

func NewHTMLStep(blobs ports.BlobStore, converter HTMLConverter) *HTMLStep {
	return &HTMLStep{blobs: blobs, converter: converter}
}

func (s *HTMLStep) Execute(ctx context.Context, req Request) (Result, error) {
	source, err := s.blobs.Get(ctx, req.Doc.StoragePath)
	if err != nil {
		return Result{}, fmt.Errorf("read source html: %w", err)
	}

	markdown, err := s.converter.Convert(source)
	if err != nil {
		return Result{}, fmt.Errorf("convert html: %w", err)
	}

	outputKey := req.Doc.ID + "/converted.md"
	if err := s.blobs.Put(ctx, outputKey, []byte(markdown)); err != nil {
		return Result{}, fmt.Errorf("store converted markdown: %w", err)
	}

	return Result{
		OutputSummary: fmt.Sprintf("converted html, %d chars", len(markdown)),
		OutputPath:    outputKey,
	}, nil
}
