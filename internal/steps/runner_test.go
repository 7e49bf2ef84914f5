package steps

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kbcore/ingest-pipeline/internal/core/domain"
)

type docRepoFake struct {
	docs map[string]*domain.Document
}

func (f *docRepoFake) Create(context.Context, *domain.Document) error { return nil }

func (f *docRepoFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	doc, ok := f.docs[id]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	copied := *doc
	return &copied, nil
}

func (f *docRepoFake) UpdateStatus(context.Context, string, domain.DocumentStatus, string) error {
	return nil
}

func (f *docRepoFake) MarkExtracted(context.Context, string, time.Time) error { return nil }

type pipelineRepoFake struct {
	state *domain.PipelineState
}

func (f *pipelineRepoFake) Save(context.Context, *domain.PipelineState) error { return nil }

func (f *pipelineRepoFake) GetByDocumentID(_ context.Context, documentID string) (*domain.PipelineState, error) {
	if f.state == nil || f.state.DocumentID != documentID {
		return nil, domain.ErrPipelineNotFound
	}
	copied := *f.state
	copied.Steps = append([]domain.StepRecord(nil), f.state.Steps...)
	return &copied, nil
}

func (f *pipelineRepoFake) Update(_ context.Context, documentID string, mutate func(*domain.PipelineState) error) (*domain.PipelineState, error) {
	if f.state == nil || f.state.DocumentID != documentID {
		return nil, domain.ErrPipelineNotFound
	}
	if err := mutate(f.state); err != nil {
		return nil, err
	}
	return f.state, nil
}

type coordinatorFake struct {
	started    []int
	completed  []int
	failed     []int
	continued  []int
	lastErrMsg string
	lastTrace  string
	lastOutput string
}

func (f *coordinatorFake) MarkStepStarted(_ context.Context, _ string, index, _ int, _ string) error {
	f.started = append(f.started, index)
	return nil
}

func (f *coordinatorFake) MarkStepCompleted(_ context.Context, _ string, index, _ int, outputSummary, _ string) error {
	f.completed = append(f.completed, index)
	f.lastOutput = outputSummary
	return nil
}

func (f *coordinatorFake) MarkStepFailed(_ context.Context, _ string, index, _ int, errMessage, errTrace string) error {
	f.failed = append(f.failed, index)
	f.lastErrMsg = errMessage
	f.lastTrace = errTrace
	return nil
}

func (f *coordinatorFake) ContinueFromStep(_ context.Context, _ string, index int) error {
	f.continued = append(f.continued, index)
	return nil
}

type executorFake struct {
	result Result
	err    error
	panics bool
	calls  int
}

func (f *executorFake) Execute(context.Context, Request) (Result, error) {
	f.calls++
	if f.panics {
		panic("executor exploded")
	}
	return f.result, f.err
}

func newRunnerFixture(t *testing.T, exec Executor) (*Runner, *coordinatorFake, *pipelineRepoFake) {
	t.Helper()

	docs := &docRepoFake{docs: map[string]*domain.Document{
		"doc-1": {ID: "doc-1", Filename: "guide.md", Type: domain.TypeMarkdown, StoragePath: "doc-1/guide.md"},
	}}
	pipelines := &pipelineRepoFake{state: &domain.PipelineState{
		DocumentID: "doc-1",
		Status:     domain.PipelineRunning,
		Steps: []domain.StepRecord{
			{Name: domain.StepMarkdownToQR, Tool: "qa_extractor", Status: domain.StepPending, Generation: 1},
		},
		StartedAt: time.Now().UTC(),
	}}
	coordinator := &coordinatorFake{}

	registry := NewRegistry()
	if exec != nil {
		registry.Register(domain.StepMarkdownToQR, "qa_extractor", exec)
	}

	runner := NewRunner(docs, pipelines, coordinator, registry, nil, "worker", nil)
	return runner, coordinator, pipelines
}

func TestRunExecutesStepAndChains(t *testing.T) {
	exec := &executorFake{result: Result{OutputSummary: "3 segments, 2 useful"}}
	runner, coordinator, _ := newRunnerFixture(t, exec)

	err := runner.Run(context.Background(), domain.StepDispatch{
		DocumentID: "doc-1", StepIndex: 0, AutoChain: true, Generation: 1,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if exec.calls != 1 {
		t.Fatalf("executor calls = %d", exec.calls)
	}
	if len(coordinator.started) != 1 || len(coordinator.completed) != 1 {
		t.Fatalf("expected one started and one completed, got %v / %v", coordinator.started, coordinator.completed)
	}
	if coordinator.lastOutput != "3 segments, 2 useful" {
		t.Fatalf("output summary = %q", coordinator.lastOutput)
	}
	if len(coordinator.continued) != 1 || coordinator.continued[0] != 0 {
		t.Fatalf("expected auto-chain continue from step 0, got %v", coordinator.continued)
	}
	if len(coordinator.failed) != 0 {
		t.Fatalf("unexpected failure reports: %v", coordinator.failed)
	}
}

func TestRunWithoutAutoChainDoesNotContinue(t *testing.T) {
	exec := &executorFake{}
	runner, coordinator, _ := newRunnerFixture(t, exec)

	err := runner.Run(context.Background(), domain.StepDispatch{
		DocumentID: "doc-1", StepIndex: 0, AutoChain: false, Generation: 1,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(coordinator.continued) != 0 {
		t.Fatalf("expected no chaining, got %v", coordinator.continued)
	}
}

func TestRunReportsExecutorErrorAsSingleFailure(t *testing.T) {
	exec := &executorFake{err: errors.New("render backend down")}
	runner, coordinator, _ := newRunnerFixture(t, exec)

	err := runner.Run(context.Background(), domain.StepDispatch{
		DocumentID: "doc-1", StepIndex: 0, AutoChain: true, Generation: 1,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(coordinator.failed) != 1 {
		t.Fatalf("expected exactly one failure report, got %v", coordinator.failed)
	}
	if len(coordinator.completed) != 0 {
		t.Fatalf("failed step must not also complete: %v", coordinator.completed)
	}
	if len(coordinator.continued) != 0 {
		t.Fatalf("failed step must not chain: %v", coordinator.continued)
	}
	if !strings.Contains(coordinator.lastErrMsg, "render backend down") {
		t.Fatalf("error message = %q", coordinator.lastErrMsg)
	}
}

func TestRunRecoversPanicIntoFailureWithTrace(t *testing.T) {
	exec := &executorFake{panics: true}
	runner, coordinator, _ := newRunnerFixture(t, exec)

	err := runner.Run(context.Background(), domain.StepDispatch{
		DocumentID: "doc-1", StepIndex: 0, Generation: 1,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(coordinator.failed) != 1 {
		t.Fatalf("expected one failure report, got %v", coordinator.failed)
	}
	if !strings.Contains(coordinator.lastErrMsg, "executor exploded") {
		t.Fatalf("error message = %q", coordinator.lastErrMsg)
	}
	if coordinator.lastTrace == "" {
		t.Fatalf("expected stack trace recorded")
	}
}

func TestRunDiscardsStaleGeneration(t *testing.T) {
	exec := &executorFake{}
	runner, coordinator, pipelines := newRunnerFixture(t, exec)
	pipelines.state.Steps[0].Generation = 3

	err := runner.Run(context.Background(), domain.StepDispatch{
		DocumentID: "doc-1", StepIndex: 0, Generation: 2,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if exec.calls != 0 {
		t.Fatalf("stale dispatch must not execute, calls = %d", exec.calls)
	}
	if len(coordinator.started)+len(coordinator.completed)+len(coordinator.failed) != 0 {
		t.Fatalf("stale dispatch must not touch state")
	}
}

func TestRunFailsStepForUnknownTool(t *testing.T) {
	runner, coordinator, pipelines := newRunnerFixture(t, nil)
	pipelines.state.Steps[0].Tool = "bogus_tool"

	err := runner.Run(context.Background(), domain.StepDispatch{
		DocumentID: "doc-1", StepIndex: 0, Generation: 1,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(coordinator.failed) != 1 {
		t.Fatalf("expected failure report for unknown tool, got %v", coordinator.failed)
	}
	if !strings.Contains(coordinator.lastErrMsg, "bogus_tool") {
		t.Fatalf("error message = %q", coordinator.lastErrMsg)
	}
}

func TestRunIgnoresOutOfRangeIndex(t *testing.T) {
	exec := &executorFake{}
	runner, coordinator, _ := newRunnerFixture(t, exec)

	err := runner.Run(context.Background(), domain.StepDispatch{
		DocumentID: "doc-1", StepIndex: 9, Generation: 1,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if exec.calls != 0 || len(coordinator.started) != 0 {
		t.Fatalf("out-of-range dispatch must be a no-op")
	}
}

func TestResolveUnknownToolIsTypedError(t *testing.T) {
	registry := NewRegistry()
	registry.Register(domain.StepHTMLToMarkdown, "nethtml", &executorFake{})

	if _, err := registry.Resolve(domain.StepHTMLToMarkdown, "nethtml"); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	_, err := registry.Resolve(domain.StepHTMLToMarkdown, "other")
	if !domain.IsKind(err, domain.ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}
