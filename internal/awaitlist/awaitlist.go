// Package awaitlist implements a single-consumer, time-ordered async queue:
// producers add tasks with an execution_time, and the one consumer receives
// them strictly in execution_time order, blocking until the next task's
// time arrives. It is the Go translation of the original asyncio.Condition
// based AwaitList, built on channels and context.Context instead of a
// condition variable since that is the idiomatic way to make a blocking
// wait cancellable in Go.
package awaitlist

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrDuplicateTask is returned by Add when the given id is already present.
var ErrDuplicateTask = errors.New("awaitlist: duplicate task id")

// Task is one scheduled unit of work: a time to run it, a stable id usable
// for cancellation, and an opaque payload.
type Task struct {
	ExecutionTime time.Time
	ID            uuid.UUID
	Content       string
}

// AwaitList is safe for concurrent producers; WaitNext must only be called
// by a single consumer goroutine at a time (per spec, this is a
// single-consumer queue, not a worker pool).
type AwaitList struct {
	mu     sync.Mutex
	tasks  []Task
	notify chan struct{}
}

// New returns an empty AwaitList.
func New() *AwaitList {
	return &AwaitList{notify: make(chan struct{}, 1)}
}

func (a *AwaitList) wake() {
	select {
	case a.notify <- struct{}{}:
	default:
	}
}

// Add inserts a task for execution at executionTime. If id is uuid.Nil a
// new id is generated. Tasks are kept sorted by execution time, ties
// broken by insertion order (sort.SliceStable).
func (a *AwaitList) Add(executionTime time.Time, content string, id uuid.UUID) (Task, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if id == uuid.Nil {
		id = uuid.New()
	}
	for _, t := range a.tasks {
		if t.ID == id {
			return Task{}, fmt.Errorf("%w: %s", ErrDuplicateTask, id)
		}
	}

	task := Task{ExecutionTime: executionTime, ID: id, Content: content}
	a.tasks = append(a.tasks, task)
	sort.SliceStable(a.tasks, func(i, j int) bool {
		return a.tasks[i].ExecutionTime.Before(a.tasks[j].ExecutionTime)
	})
	a.wake()
	return task, nil
}

// Cancel removes the task with the given id, if present, and reports
// whether it found one.
func (a *AwaitList) Cancel(id uuid.UUID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i, t := range a.tasks {
		if t.ID == id {
			a.tasks = append(a.tasks[:i], a.tasks[i+1:]...)
			a.wake()
			return true
		}
	}
	return false
}

// GetTasks returns a snapshot of the pending task list, in execution order.
func (a *AwaitList) GetTasks() []Task {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Task, len(a.tasks))
	copy(out, a.tasks)
	return out
}

// WaitNext blocks until the earliest pending task's execution time has
// arrived, then removes and returns it. It returns ctx.Err() if ctx is
// cancelled first. Calling WaitNext from more than one goroutine
// concurrently is a misuse of the type: the single-consumer contract is
// what lets the caller process tasks strictly in time order.
func (a *AwaitList) WaitNext(ctx context.Context) (Task, error) {
	for {
		a.mu.Lock()
		if len(a.tasks) > 0 {
			next := a.tasks[0]
			now := time.Now()
			if !next.ExecutionTime.After(now) {
				a.tasks = a.tasks[1:]
				a.mu.Unlock()
				return next, nil
			}
			wait := next.ExecutionTime.Sub(now)
			a.mu.Unlock()

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return Task{}, ctx.Err()
			case <-timer.C:
				continue
			case <-a.notify:
				timer.Stop()
				continue
			}
		}
		a.mu.Unlock()

		select {
		case <-ctx.Done():
			return Task{}, ctx.Err()
		case <-a.notify:
			continue
		}
	}
}
