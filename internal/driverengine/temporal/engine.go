// Package temporal implements driverengine.Engine on top of Temporal: each
// driver invocation (the one suspension point spec §5 singles out as
// crossing a process boundary) runs as an Activity inside its own
// workflow, recorded by the Temporal server. The worker that executes the
// Activity runs inside this process, and this package does not reattach
// to a workflow started by an earlier process. The adapter shape (Options
// carrying a Client plus an Activity timeout, auto-starting a worker on
// first use) follows
// runtime/agent/engine/temporal/engine.go in the teacher, scoped down to
// this package's single driver.Func responsibility.
package temporal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/metasched/orchestrator/internal/driver"
	"github.com/metasched/orchestrator/internal/driverengine"
)

// TaskQueue is the Temporal task queue the worker and client both use.
const TaskQueue = "orchestrator-driver"

// Options configures the Engine.
type Options struct {
	// Client is a connected Temporal client.
	Client client.Client
	// ActivityTimeout bounds how long a single driver invocation may run
	// before Temporal considers the Activity failed. Zero means 10 minutes.
	ActivityTimeout time.Duration
}

// Engine runs driver.Func calls as Temporal Activities.
type Engine struct {
	client  client.Client
	timeout time.Duration

	startOnce sync.Once
	worker    worker.Worker
}

// Compile-time check that Engine implements driverengine.Engine.
var _ driverengine.Engine = (*Engine)(nil)

// New returns an Engine backed by opts.Client, registering fn as the
// driver Activity on a worker for TaskQueue. The worker is started lazily
// on the first Invoke call.
func New(opts Options, fn driver.Func) *Engine {
	timeout := opts.ActivityTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	e := &Engine{client: opts.Client, timeout: timeout}
	e.worker = worker.New(opts.Client, TaskQueue, worker.Options{})
	e.worker.RegisterWorkflow(runDriverWorkflow)
	e.worker.RegisterActivityWithOptions(driverActivity(fn), activity.RegisterOptions{Name: driverActivityName})
	return e
}

func (e *Engine) ensureStarted() error {
	var startErr error
	e.startOnce.Do(func() {
		startErr = e.worker.Start()
	})
	return startErr
}

type future struct {
	run client.WorkflowRun
}

func (f *future) Get(ctx context.Context) (*driverengine.Result, error) {
	var res driverengine.Result
	if err := f.run.Get(ctx, &res); err != nil {
		return nil, fmt.Errorf("temporal: driver invocation failed: %w", err)
	}
	return &res, nil
}

// Invoke starts a workflow that runs the driver Activity for
// protocolName and returns a Future wrapping the workflow run.
func (e *Engine) Invoke(ctx context.Context, protocolName string) driverengine.Future {
	if err := e.ensureStarted(); err != nil {
		return &errFuture{err: fmt.Errorf("temporal: start worker: %w", err)}
	}
	run, err := e.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		TaskQueue: TaskQueue,
	}, runDriverWorkflow, workflowInput{ProtocolName: protocolName, Timeout: e.timeout})
	if err != nil {
		return &errFuture{err: fmt.Errorf("temporal: start workflow: %w", err)}
	}
	return &future{run: run}
}

type errFuture struct{ err error }

func (f *errFuture) Get(ctx context.Context) (*driverengine.Result, error) {
	return nil, f.err
}

type workflowInput struct {
	ProtocolName string
	Timeout      time.Duration
}

// runDriverWorkflow is the Temporal workflow that executes the driver
// Activity exactly once, with no retry policy: spec §7 defines driver
// failure as fatal, not retryable.
func runDriverWorkflow(ctx workflow.Context, in workflowInput) (driverengine.Result, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: in.Timeout,
		RetryPolicy:         &temporalNoRetry,
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var res driverengine.Result
	err := workflow.ExecuteActivity(ctx, driverActivityName, in.ProtocolName).Get(ctx, &res)
	return res, err
}
