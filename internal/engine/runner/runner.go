// Package runner schedules fired TriggerActions onto the Engine: either
// strictly sequentially (single) or fanned out across a fixed worker pool
// (multi), selected by config.RunnerMode — goroutines and a buffered worker
// pool standing in for the reference engine's dedicated-thread/rayon-pool
// split, same "same Engine, different concurrency strategy" idea.
package runner

import (
	"context"

	"github.com/wavs-network/operator/internal/logging"
	"github.com/wavs-network/operator/internal/types"
)

// Invoker is the subset of *engine.Engine a Runner needs; kept as an
// interface so runner tests don't have to stand up a real wasmtime engine.
type Invoker interface {
	Invoke(ctx context.Context, service types.ServiceID, workflow types.WorkflowID, component types.Component, trigger types.TriggerData) (types.WasmResponse, error)
}

// Job is one fired trigger awaiting execution, paired with the workflow
// metadata the Engine needs.
type Job struct {
	Action   types.TriggerAction
	Service  types.ServiceID
	Workflow types.Workflow
}

// Result pairs a Job with its outcome, handed to the Submission Manager.
type Result struct {
	Job      Job
	Response types.WasmResponse
	Err      error
}

// Runner consumes Jobs from a channel and produces Results.
type Runner interface {
	Start(ctx context.Context, jobs <-chan Job, results chan<- Result)
}

func invoke(ctx context.Context, engine Invoker, logger *logging.Logger, job Job) Result {
	resp, err := engine.Invoke(ctx, job.Service, job.Workflow.ID, job.Workflow.Component, job.Action.Data)
	if err != nil && logger != nil {
		logger.WithError(err).Error("component invocation failed")
	}
	return Result{Job: job, Response: resp, Err: err}
}
