package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kbcore/ingest-pipeline/internal/core/domain"
	"github.com/kbcore/ingest-pipeline/internal/core/ports"
)

// Orchestrator owns the per-document step sequence: it selects the
// template for the document type, dispatches one step at a time over the
// queue, records every status transition against the current stored
// pipeline state, and never retries on its own. Retry is an explicit
// caller action via RelaunchStep.
type Orchestrator struct {
	docs      ports.DocumentRepository
	pipelines ports.PipelineRepository
	queue     ports.StepQueue
	templates domain.PipelineTemplates
	logger    *slog.Logger

	now func() time.Time
}

func NewOrchestrator(
	docs ports.DocumentRepository,
	pipelines ports.PipelineRepository,
	queue ports.StepQueue,
	templates domain.PipelineTemplates,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		docs:      docs,
		pipelines: pipelines,
		queue:     queue,
		templates: templates,
		logger:    logger,
		now:       time.Now,
	}
}

// StartPipeline initializes a fresh pipeline state for the document with
// all steps pending and dispatches step 0. An unsupported document type
// leaves any existing pipeline untouched.
func (o *Orchestrator) StartPipeline(
	ctx context.Context,
	documentID string,
	toolOverrides map[string]domain.ToolSelection,
	autoChain bool,
) error {
	doc, err := o.docs.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("fetch document: %w", err)
	}

	template, ok := o.templates[doc.Type]
	if !ok {
		o.logger.Error("no pipeline template for document type",
			"document_id", documentID, "type", string(doc.Type))
		return domain.WrapError(domain.ErrUnsupportedType, "start pipeline",
			fmt.Errorf("type %q", doc.Type))
	}

	steps := make([]domain.StepRecord, 0, len(template))
	for _, st := range template {
		step := domain.StepRecord{
			Name:       st.Name,
			Tool:       st.Tool,
			ToolConfig: st.Config,
			Status:     domain.StepPending,
		}
		if override, ok := toolOverrides[st.Name]; ok && override.Tool != "" {
			step.Tool = override.Tool
			step.ToolConfig = override.Config
		}
		steps = append(steps, step)
	}

	state := &domain.PipelineState{
		DocumentID: documentID,
		Status:     domain.PipelineRunning,
		Steps:      steps,
		StartedAt:  o.now().UTC(),
	}
	if err := o.pipelines.Save(ctx, state); err != nil {
		return fmt.Errorf("save pipeline state: %w", err)
	}
	if err := o.docs.UpdateStatus(ctx, documentID, domain.StatusProcessing, ""); err != nil {
		return fmt.Errorf("set document processing: %w", err)
	}

	return o.DispatchStep(ctx, documentID, 0, autoChain)
}

// DispatchStep publishes the step at index as an asynchronous unit of
// work. An out-of-range index returns an invalid-input error.
func (o *Orchestrator) DispatchStep(ctx context.Context, documentID string, index int, autoChain bool) error {
	generation := 0
	state, err := o.pipelines.Update(ctx, documentID, func(ps *domain.PipelineState) error {
		step, ok := ps.StepAt(index)
		if !ok {
			return domain.WrapError(domain.ErrInvalidInput, "dispatch step",
				fmt.Errorf("index %d out of range (%d steps)", index, len(ps.Steps)))
		}
		step.Generation++
		generation = step.Generation
		return nil
	})
	if err != nil {
		if domain.IsKind(err, domain.ErrInvalidInput) || domain.IsKind(err, domain.ErrPipelineNotFound) {
			o.logger.Warn("dispatch skipped", "document_id", documentID, "step_index", index, "error", err)
			return nil
		}
		return fmt.Errorf("bump step generation: %w", err)
	}

	step, _ := state.StepAt(index)
	if err := o.queue.PublishStepDispatch(ctx, domain.StepDispatch{
		DocumentID: documentID,
		StepIndex:  index,
		AutoChain:  autoChain,
		Generation: generation,
	}); err != nil {
		return fmt.Errorf("publish step dispatch: %w", err)
	}

	o.logger.Info("step dispatched",
		"document_id", documentID,
		"step_index", index,
		"step", step.Name,
		"tool", step.Tool,
		"generation", generation,
		"auto_chain", autoChain,
	)
	return nil
}

// RelaunchStep is the human-in-the-loop correction path: it optionally
// swaps the tool, resets the single step back to pending, flips the
// pipeline back to running, and dispatches without chaining so a manual
// re-run never cascades into its successors.
func (o *Orchestrator) RelaunchStep(ctx context.Context, documentID string, index int, newTool *domain.ToolSelection) error {
	_, err := o.pipelines.Update(ctx, documentID, func(ps *domain.PipelineState) error {
		step, ok := ps.StepAt(index)
		if !ok {
			return domain.WrapError(domain.ErrInvalidInput, "relaunch step",
				fmt.Errorf("index %d out of range (%d steps)", index, len(ps.Steps)))
		}
		if newTool != nil && newTool.Tool != "" {
			step.Tool = newTool.Tool
			step.ToolConfig = newTool.Config
		}
		step.Reset()
		ps.Status = domain.PipelineRunning
		ps.CompletedAt = nil
		return nil
	})
	if err != nil {
		return fmt.Errorf("reset step for relaunch: %w", err)
	}

	if err := o.docs.UpdateStatus(ctx, documentID, domain.StatusProcessing, ""); err != nil {
		return fmt.Errorf("set document processing: %w", err)
	}
	return o.DispatchStep(ctx, documentID, index, false)
}

// ContinueFromStep dispatches the successor of index, or completes the
// pipeline when index was the last step.
func (o *Orchestrator) ContinueFromStep(ctx context.Context, documentID string, index int) error {
	state, err := o.pipelines.GetByDocumentID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("fetch pipeline state: %w", err)
	}
	if _, ok := state.StepAt(index + 1); !ok {
		return o.MarkPipelineCompleted(ctx, documentID)
	}
	return o.DispatchStep(ctx, documentID, index+1, true)
}

// MarkStepStarted records the running transition for one dispatch.
// A stale generation means a newer relaunch superseded this execution;
// its reports are discarded.
func (o *Orchestrator) MarkStepStarted(ctx context.Context, documentID string, index, generation int, inputSummary string) error {
	return o.updateStep(ctx, documentID, index, generation, "mark step started", func(step *domain.StepRecord) {
		started := o.now().UTC()
		step.Status = domain.StepRunning
		step.StartedAt = &started
		step.InputSummary = inputSummary
	})
}

// MarkStepCompleted records terminal success and computes the duration
// from the stored start time.
func (o *Orchestrator) MarkStepCompleted(ctx context.Context, documentID string, index, generation int, outputSummary, outputPath string) error {
	return o.updateStep(ctx, documentID, index, generation, "mark step completed", func(step *domain.StepRecord) {
		completed := o.now().UTC()
		step.Status = domain.StepSuccess
		step.CompletedAt = &completed
		if step.StartedAt != nil {
			step.DurationMS = completed.Sub(*step.StartedAt).Milliseconds()
		}
		step.OutputSummary = outputSummary
		step.OutputPath = outputPath
		step.ErrorMessage = ""
		step.ErrorTrace = ""
	})
}

// MarkStepFailed records terminal failure for the step and is the single
// choke point that can mark the whole pipeline failed.
func (o *Orchestrator) MarkStepFailed(ctx context.Context, documentID string, index, generation int, errMessage, errTrace string) error {
	stale := false
	_, err := o.pipelines.Update(ctx, documentID, func(ps *domain.PipelineState) error {
		step, ok := ps.StepAt(index)
		if !ok {
			return domain.WrapError(domain.ErrInvalidInput, "mark step failed",
				fmt.Errorf("index %d out of range", index))
		}
		if generation != 0 && generation < step.Generation {
			stale = true
			return nil
		}
		completed := o.now().UTC()
		step.Status = domain.StepError
		step.CompletedAt = &completed
		if step.StartedAt != nil {
			step.DurationMS = completed.Sub(*step.StartedAt).Milliseconds()
		}
		step.ErrorMessage = errMessage
		step.ErrorTrace = errTrace
		ps.Status = domain.PipelineFailed
		return nil
	})
	if err != nil {
		if domain.IsKind(err, domain.ErrInvalidInput) || domain.IsKind(err, domain.ErrPipelineNotFound) {
			o.logger.Warn("mark step failed skipped", "document_id", documentID, "step_index", index, "error", err)
			return nil
		}
		return fmt.Errorf("mark step failed: %w", err)
	}
	if stale {
		o.logStale(documentID, index, generation, "mark step failed")
		return nil
	}
	if err := o.docs.UpdateStatus(ctx, documentID, domain.StatusFailed, errMessage); err != nil {
		return fmt.Errorf("set document failed: %w", err)
	}
	return nil
}

// MarkPipelineCompleted stamps pipeline completion and flips the
// document to completed with its extraction timestamp.
func (o *Orchestrator) MarkPipelineCompleted(ctx context.Context, documentID string) error {
	completedAt := o.now().UTC()
	_, err := o.pipelines.Update(ctx, documentID, func(ps *domain.PipelineState) error {
		ps.Status = domain.PipelineCompleted
		ps.CompletedAt = &completedAt
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark pipeline completed: %w", err)
	}
	if err := o.docs.UpdateStatus(ctx, documentID, domain.StatusCompleted, ""); err != nil {
		return fmt.Errorf("set document completed: %w", err)
	}
	if err := o.docs.MarkExtracted(ctx, documentID, completedAt); err != nil {
		return fmt.Errorf("stamp extraction time: %w", err)
	}
	o.logger.Info("pipeline completed", "document_id", documentID)
	return nil
}

// CheckAndCompletePipeline completes the pipeline only when every step
// reached success; otherwise it changes nothing. It runs independently
// of the chaining path.
func (o *Orchestrator) CheckAndCompletePipeline(ctx context.Context, documentID string) (bool, error) {
	state, err := o.pipelines.GetByDocumentID(ctx, documentID)
	if err != nil {
		return false, fmt.Errorf("fetch pipeline state: %w", err)
	}
	if !state.AllStepsSucceeded() {
		return false, nil
	}
	if err := o.MarkPipelineCompleted(ctx, documentID); err != nil {
		return false, err
	}
	return true, nil
}

func (o *Orchestrator) updateStep(
	ctx context.Context,
	documentID string,
	index, generation int,
	operation string,
	apply func(*domain.StepRecord),
) error {
	stale := false
	_, err := o.pipelines.Update(ctx, documentID, func(ps *domain.PipelineState) error {
		step, ok := ps.StepAt(index)
		if !ok {
			return domain.WrapError(domain.ErrInvalidInput, operation,
				fmt.Errorf("index %d out of range", index))
		}
		if generation != 0 && generation < step.Generation {
			stale = true
			return nil
		}
		apply(step)
		return nil
	})
	if err != nil {
		if domain.IsKind(err, domain.ErrInvalidInput) || domain.IsKind(err, domain.ErrPipelineNotFound) {
			o.logger.Warn("step update skipped", "operation", operation, "document_id", documentID, "step_index", index, "error", err)
			return nil
		}
		return fmt.Errorf("%s: %w", operation, err)
	}
	if stale {
		o.logStale(documentID, index, generation, operation)
	}
	return nil
}

func (o *Orchestrator) logStale(documentID string, index, generation int, operation string) {
	o.logger.Warn("stale step report discarded",
		"operation", operation,
		"document_id", documentID,
		"step_index", index,
		"generation", generation,
	)
}
