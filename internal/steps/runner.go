package steps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/kbcore/ingest-pipeline/internal/core/domain"
	"github.com/kbcore/ingest-pipeline/internal/core/ports"
	"github.com/kbcore/ingest-pipeline/internal/observability/logging"
	"github.com/kbcore/ingest-pipeline/internal/observability/metrics"
)

// Coordinator is the slice of the orchestrator the runner reports into.
type Coordinator interface {
	MarkStepStarted(ctx context.Context, documentID string, index, generation int, inputSummary string) error
	MarkStepCompleted(ctx context.Context, documentID string, index, generation int, outputSummary, outputPath string) error
	MarkStepFailed(ctx context.Context, documentID string, index, generation int, errMessage, errTrace string) error
	ContinueFromStep(ctx context.Context, documentID string, index int) error
}

// Runner executes dispatched steps on the worker. Every execution ends
// in exactly one terminal report: completed or failed, panics included.
// Runner errors after the terminal report (queue hiccups, chaining) are
// logged, never turned into a second outcome for the same step.
type Runner struct {
	docs        ports.DocumentRepository
	pipelines   ports.PipelineRepository
	coordinator Coordinator
	registry    *Registry
	metrics     *metrics.WorkerMetrics
	service     string
	logger      *slog.Logger

	now func() time.Time
}

func NewRunner(
	docs ports.DocumentRepository,
	pipelines ports.PipelineRepository,
	coordinator Coordinator,
	registry *Registry,
	workerMetrics *metrics.WorkerMetrics,
	service string,
	logger *slog.Logger,
) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		docs:        docs,
		pipelines:   pipelines,
		coordinator: coordinator,
		registry:    registry,
		metrics:     workerMetrics,
		service:     service,
		logger:      logger,
		now:         time.Now,
	}
}

// Run handles one dispatch. A dispatch whose generation is older than
// the stored step's is a leftover from before a relaunch and is dropped
// without touching state.
func (r *Runner) Run(ctx context.Context, dispatch domain.StepDispatch) error {
	logger := logging.ForDocument(r.logger, dispatch.DocumentID)

	state, err := r.pipelines.GetByDocumentID(ctx, dispatch.DocumentID)
	if err != nil {
		return fmt.Errorf("load pipeline state: %w", err)
	}

	step, ok := state.StepAt(dispatch.StepIndex)
	if !ok {
		logger.Warn("dispatch for unknown step index", "step_index", dispatch.StepIndex)
		return nil
	}
	if dispatch.Generation != 0 && dispatch.Generation < step.Generation {
		logger.Info("discard stale step dispatch",
			"step_index", dispatch.StepIndex,
			"dispatch_generation", dispatch.Generation,
			"current_generation", step.Generation)
		return nil
	}

	doc, err := r.docs.GetByID(ctx, dispatch.DocumentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}

	executor, err := r.registry.Resolve(step.Name, step.Tool)
	if err != nil {
		return r.failStep(ctx, dispatch, err.Error(), "")
	}

	inputSummary := fmt.Sprintf("document %s (%s)", doc.Filename, doc.Type)
	if err := r.coordinator.MarkStepStarted(ctx, dispatch.DocumentID, dispatch.StepIndex, dispatch.Generation, inputSummary); err != nil {
		return fmt.Errorf("mark step started: %w", err)
	}

	if r.metrics != nil {
		r.metrics.StartStep()
	}
	start := r.now()

	result, execErr := r.execute(ctx, executor, Request{
		Doc:       doc,
		Step:      *step,
		StepIndex: dispatch.StepIndex,
	})

	if r.metrics != nil {
		r.metrics.FinishStep(r.service, step.Name, r.now().Sub(start), execErr)
	}

	if execErr != nil {
		trace := ""
		var panicErr *panicError
		if errors.As(execErr, &panicErr) {
			trace = panicErr.stack
		}
		return r.failStep(ctx, dispatch, execErr.Error(), trace)
	}

	if err := r.coordinator.MarkStepCompleted(ctx, dispatch.DocumentID, dispatch.StepIndex, dispatch.Generation, result.OutputSummary, result.OutputPath); err != nil {
		return fmt.Errorf("mark step completed: %w", err)
	}

	if dispatch.AutoChain {
		if err := r.coordinator.ContinueFromStep(ctx, dispatch.DocumentID, dispatch.StepIndex); err != nil {
			logger.Error("continue from step failed",
				"step_index", dispatch.StepIndex, "error", err)
		}
	}
	return nil
}

func (r *Runner) failStep(ctx context.Context, dispatch domain.StepDispatch, message, trace string) error {
	if err := r.coordinator.MarkStepFailed(ctx, dispatch.DocumentID, dispatch.StepIndex, dispatch.Generation, message, trace); err != nil {
		return fmt.Errorf("mark step failed: %w", err)
	}
	return nil
}

// execute converts panics into errors carrying the stack, so the
// deferred terminal reporting path stays single.
func (r *Runner) execute(ctx context.Context, executor Executor, req Request) (result Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &panicError{value: rec, stack: string(debug.Stack())}
		}
	}()
	return executor.Execute(ctx, req)
}

type panicError struct {
	value any
	stack string
}

func (e *panicError) Error() string {
	return fmt.Sprintf("step panic: %v", e.value)
}
