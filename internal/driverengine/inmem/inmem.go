// Package inmem implements driverengine.Engine by running the driver
// function in a goroutine and delivering its result over a channel. This
// is the literal default: the executor and the driver call share one
// process, and a crash loses in-flight work exactly as spec §5 describes
// (the driver call is the only suspension point that crosses a process
// boundary). The ctx given to Invoke is passed to the driver, and Get
// returns early when its own ctx is cancelled.
package inmem

import (
	"context"

	"github.com/metasched/orchestrator/internal/driver"
	"github.com/metasched/orchestrator/internal/driverengine"
)

// Engine runs driver.Func calls in-process.
type Engine struct {
	fn driver.Func
}

// Compile-time check that Engine implements driverengine.Engine.
var _ driverengine.Engine = (*Engine)(nil)

// New returns an Engine that invokes fn for every call.
func New(fn driver.Func) *Engine {
	return &Engine{fn: fn}
}

type future struct {
	done chan struct{}
	res  *driverengine.Result
	err  error
}

func (f *future) Get(ctx context.Context) (*driverengine.Result, error) {
	select {
	case <-f.done:
		return f.res, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Invoke starts fn(protocolName) in its own goroutine and returns a Future
// that observes its completion.
func (e *Engine) Invoke(ctx context.Context, protocolName string) driverengine.Future {
	f := &future{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		files, err := e.fn(ctx, protocolName)
		if err != nil {
			f.err = err
			return
		}
		f.res = &driverengine.Result{Files: files}
	}()
	return f
}
