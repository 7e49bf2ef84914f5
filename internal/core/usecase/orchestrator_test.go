package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/kbcore/ingest-pipeline/internal/core/domain"
)

type statusCall struct {
	status domain.DocumentStatus
	errMsg string
}

type docRepoFake struct {
	doc         *domain.Document
	getErr      error
	statusCalls []statusCall
	extractedAt *time.Time
}

func (f *docRepoFake) Create(context.Context, *domain.Document) error { return nil }

func (f *docRepoFake) GetByID(context.Context, string) (*domain.Document, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	copyDoc := *f.doc
	return &copyDoc, nil
}

func (f *docRepoFake) UpdateStatus(_ context.Context, _ string, status domain.DocumentStatus, errMessage string) error {
	f.statusCalls = append(f.statusCalls, statusCall{status: status, errMsg: errMessage})
	return nil
}

func (f *docRepoFake) MarkExtracted(_ context.Context, _ string, at time.Time) error {
	f.extractedAt = &at
	return nil
}

type pipelineRepoFake struct {
	state *domain.PipelineState
}

func (f *pipelineRepoFake) Save(_ context.Context, state *domain.PipelineState) error {
	f.state = state
	return nil
}

func (f *pipelineRepoFake) GetByDocumentID(context.Context, string) (*domain.PipelineState, error) {
	if f.state == nil {
		return nil, domain.ErrPipelineNotFound
	}
	return f.state, nil
}

func (f *pipelineRepoFake) Update(_ context.Context, _ string, mutate func(*domain.PipelineState) error) (*domain.PipelineState, error) {
	if f.state == nil {
		return nil, domain.ErrPipelineNotFound
	}
	if err := mutate(f.state); err != nil {
		return nil, err
	}
	return f.state, nil
}

type queueFake struct {
	dispatches []domain.StepDispatch
	publishErr error
}

func (f *queueFake) PublishStepDispatch(_ context.Context, d domain.StepDispatch) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.dispatches = append(f.dispatches, d)
	return nil
}

func (f *queueFake) SubscribeStepDispatch(context.Context, func(context.Context, domain.StepDispatch) error) error {
	return nil
}

func newTestOrchestrator(doc *domain.Document) (*Orchestrator, *docRepoFake, *pipelineRepoFake, *queueFake) {
	docs := &docRepoFake{doc: doc}
	pipelines := &pipelineRepoFake{}
	queue := &queueFake{}
	o := NewOrchestrator(docs, pipelines, queue, testTemplates(), nil)
	return o, docs, pipelines, queue
}

func testTemplates() domain.PipelineTemplates {
	return domain.PipelineTemplates{
		domain.TypePDF: {
			{Name: domain.StepPDFToImages, Tool: "rasterize"},
			{Name: domain.StepImagesToMarkdown, Tool: "vision_model"},
			{Name: domain.StepMarkdownToQR, Tool: "qa_extractor"},
		},
		domain.TypeMarkdown: {
			{Name: domain.StepMarkdownToQR, Tool: "qa_extractor"},
		},
	}
}

func TestStartPipelinePDFCreatesThreePendingSteps(t *testing.T) {
	o, docs, pipelines, queue := newTestOrchestrator(&domain.Document{ID: "doc-1", Type: domain.TypePDF})

	if err := o.StartPipeline(context.Background(), "doc-1", nil, true); err != nil {
		t.Fatalf("StartPipeline() error = %v", err)
	}

	state := pipelines.state
	if state == nil {
		t.Fatalf("pipeline state not saved")
	}
	wantSteps := []string{domain.StepPDFToImages, domain.StepImagesToMarkdown, domain.StepMarkdownToQR}
	if len(state.Steps) != len(wantSteps) {
		t.Fatalf("step count = %d, want %d", len(state.Steps), len(wantSteps))
	}
	for i, want := range wantSteps {
		if state.Steps[i].Name != want {
			t.Fatalf("step %d = %s, want %s", i, state.Steps[i].Name, want)
		}
		if state.Steps[i].Status != domain.StepPending && i != 0 {
			t.Fatalf("step %d status = %s, want pending", i, state.Steps[i].Status)
		}
	}
	if state.Status != domain.PipelineRunning {
		t.Fatalf("pipeline status = %s", state.Status)
	}
	if len(docs.statusCalls) != 1 || docs.statusCalls[0].status != domain.StatusProcessing {
		t.Fatalf("document status calls = %+v", docs.statusCalls)
	}
	if len(queue.dispatches) != 1 {
		t.Fatalf("dispatches = %d, want 1", len(queue.dispatches))
	}
	d := queue.dispatches[0]
	if d.StepIndex != 0 || !d.AutoChain || d.Generation != 1 {
		t.Fatalf("dispatch = %+v", d)
	}
}

func TestStartPipelineUnsupportedTypeLeavesPipelineUntouched(t *testing.T) {
	o, docs, pipelines, queue := newTestOrchestrator(&domain.Document{ID: "doc-1", Type: domain.TypeUnknown})

	err := o.StartPipeline(context.Background(), "doc-1", nil, true)
	if !domain.IsKind(err, domain.ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
	if pipelines.state != nil {
		t.Fatalf("pipeline state must stay untouched")
	}
	if len(docs.statusCalls) != 0 || len(queue.dispatches) != 0 {
		t.Fatalf("no side effects expected: %+v, %+v", docs.statusCalls, queue.dispatches)
	}
}

func TestStartPipelineAppliesToolOverride(t *testing.T) {
	o, _, pipelines, _ := newTestOrchestrator(&domain.Document{ID: "doc-1", Type: domain.TypePDF})

	overrides := map[string]domain.ToolSelection{
		domain.StepImagesToMarkdown: {Tool: "other_tool", Config: map[string]string{"k": "v"}},
	}
	if err := o.StartPipeline(context.Background(), "doc-1", overrides, true); err != nil {
		t.Fatalf("StartPipeline() error = %v", err)
	}
	step := pipelines.state.Steps[1]
	if step.Tool != "other_tool" || step.ToolConfig["k"] != "v" {
		t.Fatalf("override not applied: %+v", step)
	}
	if pipelines.state.Steps[0].Tool != "rasterize" {
		t.Fatalf("unrelated step changed: %+v", pipelines.state.Steps[0])
	}
}

func TestRelaunchStepResetsOnlyThatStep(t *testing.T) {
	o, docs, pipelines, queue := newTestOrchestrator(&domain.Document{ID: "doc-1", Type: domain.TypePDF})

	started := time.Now().UTC()
	pipelines.state = &domain.PipelineState{
		DocumentID: "doc-1",
		Status:     domain.PipelineFailed,
		Steps: []domain.StepRecord{
			{Name: domain.StepPDFToImages, Tool: "rasterize", Status: domain.StepSuccess, Generation: 1, StartedAt: &started, OutputSummary: "4 pages"},
			{Name: domain.StepImagesToMarkdown, Tool: "vision_model", Status: domain.StepError, Generation: 1, ErrorMessage: "boom"},
			{Name: domain.StepMarkdownToQR, Tool: "qa_extractor", Status: domain.StepPending},
		},
	}

	if err := o.RelaunchStep(context.Background(), "doc-1", 1, nil); err != nil {
		t.Fatalf("RelaunchStep() error = %v", err)
	}

	state := pipelines.state
	if state.Status != domain.PipelineRunning {
		t.Fatalf("pipeline status = %s, want running", state.Status)
	}
	if state.Steps[1].ErrorMessage != "" || state.Steps[1].Status != domain.StepPending {
		t.Fatalf("relaunched step not reset: %+v", state.Steps[1])
	}
	if state.Steps[0].Status != domain.StepSuccess || state.Steps[0].OutputSummary != "4 pages" {
		t.Fatalf("prior success record must stay untouched: %+v", state.Steps[0])
	}
	if len(queue.dispatches) != 1 {
		t.Fatalf("dispatches = %d, want 1", len(queue.dispatches))
	}
	d := queue.dispatches[0]
	if d.AutoChain {
		t.Fatalf("relaunch must dispatch with autoChain=false")
	}
	if d.Generation != 2 {
		t.Fatalf("relaunch dispatch generation = %d, want 2", d.Generation)
	}
	if len(docs.statusCalls) == 0 || docs.statusCalls[0].status != domain.StatusProcessing {
		t.Fatalf("document must flip back to processing: %+v", docs.statusCalls)
	}
}

func TestRelaunchStepSwapsTool(t *testing.T) {
	o, _, pipelines, _ := newTestOrchestrator(&domain.Document{ID: "doc-1", Type: domain.TypePDF})
	pipelines.state = &domain.PipelineState{
		DocumentID: "doc-1",
		Status:     domain.PipelineFailed,
		Steps:      []domain.StepRecord{{Name: domain.StepMarkdownToQR, Tool: "qa_extractor", Status: domain.StepError}},
	}

	newTool := &domain.ToolSelection{Tool: "alt_extractor", Config: map[string]string{"threshold": "800"}}
	if err := o.RelaunchStep(context.Background(), "doc-1", 0, newTool); err != nil {
		t.Fatalf("RelaunchStep() error = %v", err)
	}
	step := pipelines.state.Steps[0]
	if step.Tool != "alt_extractor" || step.ToolConfig["threshold"] != "800" {
		t.Fatalf("tool swap not applied: %+v", step)
	}
}

func TestContinueFromLastStepCompletesPipeline(t *testing.T) {
	o, docs, pipelines, queue := newTestOrchestrator(&domain.Document{ID: "doc-1", Type: domain.TypeMarkdown})
	pipelines.state = &domain.PipelineState{
		DocumentID: "doc-1",
		Status:     domain.PipelineRunning,
		Steps:      []domain.StepRecord{{Name: domain.StepMarkdownToQR, Status: domain.StepSuccess}},
	}

	if err := o.ContinueFromStep(context.Background(), "doc-1", 0); err != nil {
		t.Fatalf("ContinueFromStep() error = %v", err)
	}
	if pipelines.state.Status != domain.PipelineCompleted || pipelines.state.CompletedAt == nil {
		t.Fatalf("pipeline not completed: %+v", pipelines.state)
	}
	if len(queue.dispatches) != 0 {
		t.Fatalf("no dispatch expected past the last step")
	}
	last := docs.statusCalls[len(docs.statusCalls)-1]
	if last.status != domain.StatusCompleted {
		t.Fatalf("document status = %s, want completed", last.status)
	}
	if docs.extractedAt == nil {
		t.Fatalf("extraction timestamp not stamped")
	}
}

func TestContinueFromStepDispatchesSuccessor(t *testing.T) {
	o, _, pipelines, queue := newTestOrchestrator(&domain.Document{ID: "doc-1", Type: domain.TypePDF})
	pipelines.state = &domain.PipelineState{
		DocumentID: "doc-1",
		Status:     domain.PipelineRunning,
		Steps: []domain.StepRecord{
			{Name: domain.StepPDFToImages, Status: domain.StepSuccess, Generation: 1},
			{Name: domain.StepImagesToMarkdown, Status: domain.StepPending},
		},
	}

	if err := o.ContinueFromStep(context.Background(), "doc-1", 0); err != nil {
		t.Fatalf("ContinueFromStep() error = %v", err)
	}
	if len(queue.dispatches) != 1 {
		t.Fatalf("dispatches = %d, want 1", len(queue.dispatches))
	}
	d := queue.dispatches[0]
	if d.StepIndex != 1 || !d.AutoChain {
		t.Fatalf("dispatch = %+v", d)
	}
}

func TestCheckAndCompletePipeline(t *testing.T) {
	o, _, pipelines, _ := newTestOrchestrator(&domain.Document{ID: "doc-1", Type: domain.TypePDF})
	pipelines.state = &domain.PipelineState{
		DocumentID: "doc-1",
		Status:     domain.PipelineRunning,
		Steps: []domain.StepRecord{
			{Status: domain.StepSuccess},
			{Status: domain.StepRunning},
		},
	}

	done, err := o.CheckAndCompletePipeline(context.Background(), "doc-1")
	if err != nil || done {
		t.Fatalf("CheckAndCompletePipeline() = %v, %v; want false, nil", done, err)
	}
	if pipelines.state.Status != domain.PipelineRunning {
		t.Fatalf("pipeline status must not change, got %s", pipelines.state.Status)
	}

	pipelines.state.Steps[1].Status = domain.StepSuccess
	done, err = o.CheckAndCompletePipeline(context.Background(), "doc-1")
	if err != nil || !done {
		t.Fatalf("CheckAndCompletePipeline() = %v, %v; want true, nil", done, err)
	}
	if pipelines.state.Status != domain.PipelineCompleted {
		t.Fatalf("pipeline status = %s, want completed", pipelines.state.Status)
	}
}

func TestMarkStepFailedFlipsPipelineAndDocument(t *testing.T) {
	o, docs, pipelines, _ := newTestOrchestrator(&domain.Document{ID: "doc-1", Type: domain.TypePDF})
	started := time.Now().UTC().Add(-2 * time.Second)
	pipelines.state = &domain.PipelineState{
		DocumentID: "doc-1",
		Status:     domain.PipelineRunning,
		Steps:      []domain.StepRecord{{Name: domain.StepPDFToImages, Status: domain.StepRunning, Generation: 1, StartedAt: &started}},
	}

	if err := o.MarkStepFailed(context.Background(), "doc-1", 0, 1, "rasterizer unreachable", "trace"); err != nil {
		t.Fatalf("MarkStepFailed() error = %v", err)
	}
	step := pipelines.state.Steps[0]
	if step.Status != domain.StepError || step.ErrorMessage != "rasterizer unreachable" || step.ErrorTrace != "trace" {
		t.Fatalf("step not failed: %+v", step)
	}
	if step.DurationMS <= 0 {
		t.Fatalf("duration not computed: %+v", step)
	}
	if pipelines.state.Status != domain.PipelineFailed {
		t.Fatalf("pipeline status = %s, want failed", pipelines.state.Status)
	}
	last := docs.statusCalls[len(docs.statusCalls)-1]
	if last.status != domain.StatusFailed || last.errMsg != "rasterizer unreachable" {
		t.Fatalf("document status call = %+v", last)
	}
}

func TestStaleGenerationReportDiscarded(t *testing.T) {
	o, docs, pipelines, _ := newTestOrchestrator(&domain.Document{ID: "doc-1", Type: domain.TypePDF})
	pipelines.state = &domain.PipelineState{
		DocumentID: "doc-1",
		Status:     domain.PipelineRunning,
		Steps:      []domain.StepRecord{{Name: domain.StepPDFToImages, Status: domain.StepPending, Generation: 2}},
	}

	// A completion from the superseded generation-1 execution arrives late.
	if err := o.MarkStepCompleted(context.Background(), "doc-1", 0, 1, "stale output", ""); err != nil {
		t.Fatalf("MarkStepCompleted() error = %v", err)
	}
	if pipelines.state.Steps[0].Status != domain.StepPending {
		t.Fatalf("stale completion must not advance the step: %+v", pipelines.state.Steps[0])
	}

	if err := o.MarkStepFailed(context.Background(), "doc-1", 0, 1, "stale failure", ""); err != nil {
		t.Fatalf("MarkStepFailed() error = %v", err)
	}
	if pipelines.state.Status != domain.PipelineRunning {
		t.Fatalf("stale failure must not fail the pipeline")
	}
	for _, call := range docs.statusCalls {
		if call.status == domain.StatusFailed {
			t.Fatalf("stale failure must not fail the document")
		}
	}
}

func TestDispatchStepOutOfRangeIsNoOp(t *testing.T) {
	o, _, pipelines, queue := newTestOrchestrator(&domain.Document{ID: "doc-1", Type: domain.TypePDF})
	pipelines.state = &domain.PipelineState{
		DocumentID: "doc-1",
		Status:     domain.PipelineRunning,
		Steps:      []domain.StepRecord{{Name: domain.StepMarkdownToQR}},
	}

	if err := o.DispatchStep(context.Background(), "doc-1", 5, true); err != nil {
		t.Fatalf("out-of-range dispatch must not error, got %v", err)
	}
	if len(queue.dispatches) != 0 {
		t.Fatalf("out-of-range dispatch must not publish")
	}
}

func TestMarkStepCompletedComputesDuration(t *testing.T) {
	o, _, pipelines, _ := newTestOrchestrator(&domain.Document{ID: "doc-1", Type: domain.TypeMarkdown})
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	o.now = func() time.Time { return base.Add(1500 * time.Millisecond) }

	started := base
	pipelines.state = &domain.PipelineState{
		DocumentID: "doc-1",
		Status:     domain.PipelineRunning,
		Steps:      []domain.StepRecord{{Name: domain.StepMarkdownToQR, Status: domain.StepRunning, Generation: 1, StartedAt: &started}},
	}

	if err := o.MarkStepCompleted(context.Background(), "doc-1", 0, 1, "12 segments", "doc-1/converted.md"); err != nil {
		t.Fatalf("MarkStepCompleted() error = %v", err)
	}
	step := pipelines.state.Steps[0]
	if step.Status != domain.StepSuccess {
		t.Fatalf("step status = %s", step.Status)
	}
	if step.DurationMS != 1500 {
		t.Fatalf("duration = %dms, want 1500", step.DurationMS)
	}
	if step.OutputSummary != "12 segments" || step.OutputPath != "doc-1/converted.md" {
		t.Fatalf("output fields = %+v", step)
	}
}
