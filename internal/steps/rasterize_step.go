package steps

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kbcore/ingest-pipeline/internal/core/ports"
)

// PageRenderer renders a PDF to one PNG per page.
type PageRenderer interface {
	Render(ctx context.Context, data []byte) ([][]byte, error)
}

// pageManifest lists rendered page keys in page order so the next step
// does not depend on directory listing semantics of the blob store.
type pageManifest struct {
	Pages []string `json:"pages"`
}

// RasterizeStep turns the source PDF into per-page PNGs under
// <docID>/pages/ plus a manifest.
type RasterizeStep struct {
	blobs    ports.BlobStore
	renderer PageRenderer
}

func NewRasterizeStep(blobs ports.BlobStore, renderer PageRenderer) *RasterizeStep {
	return &RasterizeStep{blobs: blobs, renderer: renderer}
}

func (s *RasterizeStep) Execute(ctx context.Context, req Request) (Result, error) {
	source, err := s.blobs.Get(ctx, req.Doc.StoragePath)
	if err != nil {
		return Result{}, fmt.Errorf("read source pdf: %w", err)
	}

	pages, err := s.renderer.Render(ctx, source)
	if err != nil {
		return Result{}, fmt.Errorf("render pdf: %w", err)
	}

	manifest := pageManifest{Pages: make([]string, 0, len(pages))}
	for i, png := range pages {
		key := fmt.Sprintf("%s/pages/page-%04d.png", req.Doc.ID, i+1)
		if err := s.blobs.Put(ctx, key, png); err != nil {
			return Result{}, fmt.Errorf("store page %d: %w", i+1, err)
		}
		manifest.Pages = append(manifest.Pages, key)
	}

	manifestKey := req.Doc.ID + "/pages/manifest.json"
	encoded, err := json.Marshal(manifest)
	if err != nil {
		return Result{}, fmt.Errorf("marshal page manifest: %w", err)
	}
	if err := s.blobs.Put(ctx, manifestKey, encoded); err != nil {
		return Result{}, fmt.Errorf("store page manifest: %w", err)
	}

	return Result{
		OutputSummary: fmt.Sprintf("rendered %d pages", len(pages)),
		OutputPath:    manifestKey,
	}, nil
}
