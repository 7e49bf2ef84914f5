package domain

import "time"

type PipelineStatus string

const (
	PipelineRunning   PipelineStatus = "running"
	PipelineCompleted PipelineStatus = "completed"
	PipelineFailed    PipelineStatus = "failed"
)

type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepRunning StepStatus = "running"
	StepSuccess StepStatus = "success"
	StepError   StepStatus = "error"
)

// Step names are stable identifiers; the step order per document type is
// fixed when the pipeline starts and never reordered.
const (
	StepPDFToImages      = "pdf_to_images"
	StepImagesToMarkdown = "images_to_markdown"
	StepImageToMarkdown  = "image_to_markdown"
	StepHTMLToMarkdown   = "html_to_markdown"
	StepMarkdownToQR     = "markdown_to_qr"
)

// StepRecord tracks one pipeline stage. Generation is bumped on every
// dispatch of the step; completions carrying a stale generation are
// discarded so an abandoned in-flight execution cannot regress a step
// that was relaunched after it.
type StepRecord struct {
	Name          string            `json:"name"`
	Tool          string            `json:"tool"`
	ToolConfig    map[string]string `json:"tool_config,omitempty"`
	Status        StepStatus        `json:"status"`
	Generation    int               `json:"generation"`
	StartedAt     *time.Time        `json:"started_at,omitempty"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
	DurationMS    int64             `json:"duration_ms,omitempty"`
	InputSummary  string            `json:"input_summary,omitempty"`
	OutputSummary string            `json:"output_summary,omitempty"`
	OutputPath    string            `json:"output_path,omitempty"`
	ErrorMessage  string            `json:"error_message,omitempty"`
	ErrorTrace    string            `json:"error_trace,omitempty"`
}

// Reset returns the step to its initial pending state, keeping the
// current generation so that a subsequent dispatch supersedes any
// still-running execution.
func (s *StepRecord) Reset() {
	s.Status = StepPending
	s.StartedAt = nil
	s.CompletedAt = nil
	s.DurationMS = 0
	s.OutputSummary = ""
	s.OutputPath = ""
	s.ErrorMessage = ""
	s.ErrorTrace = ""
}

type PipelineState struct {
	DocumentID  string         `json:"document_id"`
	Status      PipelineStatus `json:"status"`
	Steps       []StepRecord   `json:"steps"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// StepAt returns the step record at the zero-based index, or false when
// the index is outside the stored sequence.
func (p *PipelineState) StepAt(index int) (*StepRecord, bool) {
	if p == nil || index < 0 || index >= len(p.Steps) {
		return nil, false
	}
	return &p.Steps[index], true
}

// AllStepsSucceeded reports whether every step reached terminal success.
func (p *PipelineState) AllStepsSucceeded() bool {
	if p == nil || len(p.Steps) == 0 {
		return false
	}
	for i := range p.Steps {
		if p.Steps[i].Status != StepSuccess {
			return false
		}
	}
	return true
}

// StepTemplate declares one stage of a pipeline with its default tool.
type StepTemplate struct {
	Name   string            `json:"name"`
	Tool   string            `json:"tool"`
	Config map[string]string `json:"config,omitempty"`
}

// PipelineTemplates maps a document type to its fixed step sequence.
// A type absent from the map is an unsupported type.
type PipelineTemplates map[DocumentType][]StepTemplate

// ToolSelection names a step implementation tool plus its opaque
// configuration. Unknown config keys are ignored by executors; missing
// keys take documented defaults.
type ToolSelection struct {
	Tool   string            `json:"tool"`
	Config map[string]string `json:"config,omitempty"`
}

// StepDispatch is the unit of work handed to the worker queue. AutoChain
// tells the executor wrapper to continue with the next step on success;
// manual relaunches dispatch with AutoChain=false so completion does not
// cascade.
type StepDispatch struct {
	DocumentID string `json:"document_id"`
	StepIndex  int    `json:"step_index"`
	AutoChain  bool   `json:"auto_chain"`
	Generation int    `json:"generation"`
}
