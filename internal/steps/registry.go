package steps

import (
	"context"
	"fmt"

	"github.com/kbcore/ingest-pipeline/internal/core/domain"
)

// Request is the executor's view of one dispatched step: the document,
// the stored step record (tool and config included), and the step's
// position in the sequence.
type Request struct {
	Doc       *domain.Document
	Step      domain.StepRecord
	StepIndex int
}

// Result summarizes a successful execution for the status record.
type Result struct {
	OutputSummary string
	OutputPath    string
}

// Executor runs one step transformation end to end, reading its input
// from and writing its output to shared storage.
type Executor interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// Registry maps (step name, tool name) to an executor. The mapping is
// closed at bootstrap; resolving an unregistered pair is a hard error so
// a bad tool override fails the step instead of silently running the
// wrong transformation.
type Registry struct {
	executors map[string]map[string]Executor
}

func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]map[string]Executor)}
}

func (r *Registry) Register(stepName, toolName string, exec Executor) {
	tools, ok := r.executors[stepName]
	if !ok {
		tools = make(map[string]Executor)
		r.executors[stepName] = tools
	}
	tools[toolName] = exec
}

func (r *Registry) Resolve(stepName, toolName string) (Executor, error) {
	exec, ok := r.executors[stepName][toolName]
	if !ok {
		return nil, domain.WrapError(domain.ErrUnknownTool, "resolve executor",
			fmt.Errorf("no executor for step %q tool %q", stepName, toolName))
	}
	return exec, nil
}
