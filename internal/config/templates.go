package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kbcore/ingest-pipeline/internal/core/domain"
)

// Default tool identifiers per step.
const (
	ToolRasterize   = "rasterize"
	ToolVisionModel = "vision_model"
	ToolNetHTML     = "nethtml"
	ToolQAExtractor = "qa_extractor"
)

// DefaultPipelineTemplates is the built-in step sequence per document
// type. The order is fixed at pipeline start.
func DefaultPipelineTemplates() domain.PipelineTemplates {
	return domain.PipelineTemplates{
		domain.TypePDF: {
			{Name: domain.StepPDFToImages, Tool: ToolRasterize},
			{Name: domain.StepImagesToMarkdown, Tool: ToolVisionModel},
			{Name: domain.StepMarkdownToQR, Tool: ToolQAExtractor},
		},
		domain.TypeImage: {
			{Name: domain.StepImageToMarkdown, Tool: ToolVisionModel},
			{Name: domain.StepMarkdownToQR, Tool: ToolQAExtractor},
		},
		domain.TypeHTML: {
			{Name: domain.StepHTMLToMarkdown, Tool: ToolNetHTML},
			{Name: domain.StepMarkdownToQR, Tool: ToolQAExtractor},
		},
		domain.TypeMarkdown: {
			{Name: domain.StepMarkdownToQR, Tool: ToolQAExtractor},
		},
	}
}

type stepOverride struct {
	Name   string            `yaml:"name"`
	Tool   string            `yaml:"tool"`
	Config map[string]string `yaml:"config,omitempty"`
}

type templatesFile struct {
	Pipelines map[string][]stepOverride `yaml:"pipelines"`
}

// LoadPipelineTemplates returns the defaults merged with an optional
// YAML override file. An override replaces the tool and config of a
// step matched by name; it cannot add, remove, or reorder steps.
// Unknown document types and step names in the file are ignored.
func LoadPipelineTemplates(path string) (domain.PipelineTemplates, error) {
	templates := DefaultPipelineTemplates()
	if path == "" {
		return templates, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline templates file: %w", err)
	}

	var overrides templatesFile
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return nil, fmt.Errorf("parse pipeline templates file: %w", err)
	}

	for docType, steps := range overrides.Pipelines {
		sequence, ok := templates[domain.DocumentType(docType)]
		if !ok {
			continue
		}
		for _, override := range steps {
			for i := range sequence {
				if sequence[i].Name != override.Name {
					continue
				}
				if override.Tool != "" {
					sequence[i].Tool = override.Tool
				}
				if len(override.Config) > 0 {
					sequence[i].Config = override.Config
				}
			}
		}
	}
	return templates, nil
}
