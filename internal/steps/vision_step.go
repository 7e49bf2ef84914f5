package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kbcore/ingest-pipeline/internal/core/domain"
	"github.com/kbcore/ingest-pipeline/internal/core/ports"
)

const defaultVisionPrompt = `Transcribe this document page to clean markdown.
Preserve headings, lists and tables. Output only the markdown, no commentary.`

// VisionStep converts page images to markdown with a multimodal model.
// It serves both the multi-page path (reads the rasterizer's manifest)
// and the single-image path (reads the uploaded image directly).
type VisionStep struct {
	blobs     ports.BlobStore
	generator ports.Generator
	model     string
}

func NewVisionStep(blobs ports.BlobStore, generator ports.Generator, model string) *VisionStep {
	return &VisionStep{blobs: blobs, generator: generator, model: model}
}

func (s *VisionStep) Execute(ctx context.Context, req Request) (Result, error) {
	keys, err := s.pageKeys(ctx, req)
	if err != nil {
		return Result{}, err
	}
	if len(keys) == 0 {
		return Result{}, fmt.Errorf("no page images for document %s", req.Doc.ID)
	}

	model := s.model
	if override := req.Step.ToolConfig["model"]; override != "" {
		model = override
	}
	prompt := defaultVisionPrompt
	if override := req.Step.ToolConfig["prompt"]; override != "" {
		prompt = override
	}

	var parts []string
	for i, key := range keys {
		image, err := s.blobs.Get(ctx, key)
		if err != nil {
			return Result{}, fmt.Errorf("read page image %s: %w", key, err)
		}
		text, err := s.generator.Generate(ctx, ports.GenerateRequest{
			Model:  model,
			Prompt: prompt,
			Images: [][]byte{image},
		})
		if err != nil {
			return Result{}, fmt.Errorf("transcribe page %d: %w", i+1, err)
		}
		if text = strings.TrimSpace(text); text != "" {
			parts = append(parts, text)
		}
	}

	markdown := strings.Join(parts, "\n\n")
	outputKey := req.Doc.ID + "/converted.md"
	if err := s.blobs.Put(ctx, outputKey, []byte(markdown)); err != nil {
		return Result{}, fmt.Errorf("store converted markdown: %w", err)
	}

	return Result{
		OutputSummary: fmt.Sprintf("transcribed %d pages, %d chars", len(keys), len(markdown)),
		OutputPath:    outputKey,
	}, nil
}

func (s *VisionStep) pageKeys(ctx context.Context, req Request) ([]string, error) {
	if req.Step.Name == domain.StepImageToMarkdown {
		return []string{req.Doc.StoragePath}, nil
	}

	manifestKey := req.Doc.ID + "/pages/manifest.json"
	raw, err := s.blobs.Get(ctx, manifestKey)
	if err != nil {
		return nil, fmt.Errorf("read page manifest: %w", err)
	}
	var manifest pageManifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("unmarshal page manifest: %w", err)
	}
	return manifest.Pages, nil
}
