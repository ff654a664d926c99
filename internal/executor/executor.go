// Package executor implements the cooperative, single-threaded runtime
// that joins the graph, optimizer, await-list, and storage layers: it
// holds the set of in-flight Start-rooted graphs, drives one Protocol at
// a time through the driver, and re-optimizes after every completion.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/metasched/orchestrator/internal/awaitlist"
	"github.com/metasched/orchestrator/internal/driverengine"
	"github.com/metasched/orchestrator/internal/graph"
	"github.com/metasched/orchestrator/internal/optimizer"
	"github.com/metasched/orchestrator/internal/storage"
	"github.com/metasched/orchestrator/internal/telemetry"
)

// ErrDriverFailure is returned when a driver invocation errors. Per spec
// §7 this is fatal to the current loop iteration: no retry is attempted,
// and the node is left in the running state (started_time set, no
// finished_time).
var ErrDriverFailure = errors.New("executor: driver failure")

// ErrPersistence wraps a storage read/write failure.
var ErrPersistence = errors.New("executor: persistence failed")

// Config wires an Executor's collaborators.
type Config struct {
	Optimizer *optimizer.Optimizer
	Engine    driverengine.Engine
	Store     storage.Store

	// PrepareDriver, if set, is called with a Protocol's name and declared
	// duration immediately before its driver invocation starts. It exists
	// only to support duration-aware drivers (the built-in dummy driver);
	// the driver contract itself (driver.Func) is name-only.
	PrepareDriver func(name string, duration time.Duration)

	// Now returns the current instant. Defaults to time.Now; tests inject
	// a fixed or controllable clock.
	Now func() time.Time
}

// Executor holds the in-flight protocol graphs and runs the
// process-one/re-optimize loop described in spec §4.5.
type Executor struct {
	mu        sync.Mutex
	protocols []*graph.Node
	hasNext   bool

	awaitList     *awaitlist.AwaitList
	optimizer     *optimizer.Optimizer
	engine        driverengine.Engine
	store         storage.Store
	prepareDriver func(name string, duration time.Duration)
	now           func() time.Time
}

// New returns an Executor with an empty protocol set. Call Resume on the
// returned Executor to rebuild state from the most recent snapshot.
func New(cfg Config) *Executor {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Executor{
		awaitList:     awaitlist.New(),
		optimizer:     cfg.Optimizer,
		engine:        cfg.Engine,
		store:         cfg.Store,
		prepareDriver: cfg.PrepareDriver,
		now:           now,
	}
}

// Resume loads the most recent snapshot, rebuilds the protocol set, and
// runs one optimize pass. Per spec §9's note on the original's latent
// constructor bug, this is an explicit method the caller sequences before
// Loop, never something construction does implicitly.
func (e *Executor) Resume(ctx context.Context) error {
	roots, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	e.mu.Lock()
	e.protocols = roots
	e.mu.Unlock()
	_, err = e.optimize(ctx)
	return err
}

// AddProtocol submits a new Start-rooted graph. It is rejected if p is not
// a Start node, or if any identifier in p's rooted tree collides with one
// already present across the executor's protocol set.
func (e *Executor) AddProtocol(ctx context.Context, p *graph.Node) error {
	if p.Type != graph.TypeStart {
		return fmt.Errorf("%w: add_protocol requires a Start node", graph.ErrInvalidGraph)
	}

	e.mu.Lock()
	incoming := p.Flatten()
	for _, existing := range e.protocols {
		for _, n := range existing.Flatten() {
			for _, in := range incoming {
				if in.ID == n.ID {
					e.mu.Unlock()
					return fmt.Errorf("%w: %s", graph.ErrDuplicateIdentifier, in.ID)
				}
			}
		}
	}
	e.protocols = append(e.protocols, p)
	e.mu.Unlock()

	_, err := e.optimize(ctx)
	return err
}

// Optimize re-derives scheduled_time for every unfinished Protocol across
// all graphs and enqueues the next due token. It is exposed directly
// (beyond AddProtocol/Resume/ProcessTask calling it internally) because
// spec §4.5 allows it to be invoked as a top-level operation.
func (e *Executor) Optimize(ctx context.Context) error {
	_, err := e.optimize(ctx)
	return err
}

// optimize implements spec §4.5's optimize() in full, returning whether a
// next token was enqueued so Loop knows when to stop.
func (e *Executor) optimize(ctx context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Step 1: build a synthetic, never-serialized Start merging every
	// graph's first-level children into one planning context. Unlike the
	// original source, this never touches any child's parent pointer —
	// the optimizer only walks via Children, so there is nothing to
	// restore afterward and nothing to lose if a later step fails.
	synthetic := graph.NewStart()
	for _, root := range e.protocols {
		synthetic.Children = append(synthetic.Children, root.Children...)
	}

	// Step 2: run the optimizer. A failure leaves all state untouched.
	if _, err := e.optimizer.Optimize(synthetic, e.now()); err != nil {
		return false, err
	}

	// Step 3: cancel every pending token.
	for _, t := range e.awaitList.GetTasks() {
		e.awaitList.Cancel(t.ID)
	}

	// Step 4: select the earliest unstarted Protocol across all graphs.
	var selected *graph.Node
	for _, root := range e.protocols {
		for _, p := range root.Protocols() {
			if p.StartedTime != nil {
				continue
			}
			if selected == nil || earlier(p.ScheduledTime, selected.ScheduledTime) {
				selected = p
			}
		}
	}

	if selected == nil {
		e.hasNext = false
		key, err := e.store.Save(ctx, e.protocols)
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		telemetry.Snapshot(ctx, key, len(e.protocols))
		return false, nil
	}

	// Step 5: enqueue a single token for the selected Protocol.
	execTime := e.now()
	if selected.ScheduledTime != nil {
		execTime = *selected.ScheduledTime
	}
	if _, err := e.awaitList.Add(execTime, selected.ID.String(), uuid.Nil); err != nil {
		return false, err
	}
	telemetry.Scheduled(ctx, selected.ID.String(), selected.Name, execTime)

	// Step 6: persist.
	key, err := e.store.Save(ctx, e.protocols)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	telemetry.Snapshot(ctx, key, len(e.protocols))

	e.hasNext = true
	return true, nil
}

// earlier reports whether a sorts before b for selection purposes: a nil
// scheduled_time sorts last.
func earlier(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.Before(*b)
}

// ProcessTask locates the Protocol named by token.Content, runs it
// through the driver, records observed times, and re-optimizes. It
// returns whether the subsequent optimize enqueued a next token.
func (e *Executor) ProcessTask(ctx context.Context, task awaitlist.Task) (bool, error) {
	id, err := uuid.Parse(task.Content)
	if err != nil {
		return false, fmt.Errorf("%w: token content %q is not an identifier", graph.ErrUnknownIdentifier, task.Content)
	}

	e.mu.Lock()
	var target *graph.Node
	for _, root := range e.protocols {
		if n, ok := root.Find(id); ok {
			target = n
			break
		}
	}
	e.mu.Unlock()
	if target == nil {
		return false, fmt.Errorf("%w: %s", graph.ErrUnknownIdentifier, id)
	}

	// Safe without holding e.mu: spec §5's single-consumer model means
	// ProcessTask is never called concurrently with another write to this
	// node's time fields.
	started := e.now()
	target.StartedTime = &started
	telemetry.ProtocolStarted(ctx, target.ID.String(), target.Name)

	if e.prepareDriver != nil {
		e.prepareDriver(target.Name, target.Duration)
	}

	fut := e.engine.Invoke(ctx, target.Name)
	if _, err := fut.Get(ctx); err != nil {
		// Per spec §7: driver failure is fatal to this iteration. The node
		// stays running: started_time is set, finished_time is not.
		telemetry.DriverFailure(ctx, target.ID.String(), target.Name, err)
		return false, fmt.Errorf("%w: %v", ErrDriverFailure, err)
	}

	finished := e.now()
	target.FinishedTime = &finished
	telemetry.ProtocolFinished(ctx, target.ID.String(), target.Name)

	return e.optimize(ctx)
}

// Loop repeatedly waits for and processes the next due token, stopping
// when an optimize pass finds no remaining unstarted Protocol.
func (e *Executor) Loop(ctx context.Context) error {
	e.mu.Lock()
	hasNext := e.hasNext
	e.mu.Unlock()

	for hasNext {
		task, err := e.awaitList.WaitNext(ctx)
		if err != nil {
			return err
		}
		next, err := e.ProcessTask(ctx, task)
		if err != nil {
			return err
		}
		hasNext = next
	}
	return nil
}

// Protocols returns the current set of Start-rooted graphs. Callers must
// not mutate the returned nodes directly; use AddProtocol.
func (e *Executor) Protocols() []*graph.Node {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*graph.Node, len(e.protocols))
	copy(out, e.protocols)
	return out
}
