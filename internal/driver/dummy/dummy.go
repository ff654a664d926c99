// Package dummy implements the built-in "dummy" driver selected by
// --driver dummy: it sleeps for the declared duration of the Protocol
// being driven instead of talking to real hardware, which is exactly what
// spec §6.3's sleep driver is for (exercising the executor's timing and
// re-optimization logic end to end without an instrument attached).
package dummy

import (
	"context"
	"sync"
	"time"

	"github.com/metasched/orchestrator/internal/driver"
)

// Dummy sleeps for a registered duration per protocol name. The executor
// registers a protocol's declared duration immediately before invoking the
// driver for it, since the driver contract itself is name-only.
type Dummy struct {
	mu        sync.Mutex
	durations map[string]time.Duration
}

// New returns an empty Dummy driver.
func New() *Dummy {
	return &Dummy{durations: make(map[string]time.Duration)}
}

// Register records how long Invoke should sleep the next time it is
// called with this name.
func (d *Dummy) Register(name string, duration time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.durations[name] = duration
}

// Invoke implements driver.Func.
func (d *Dummy) Invoke(ctx context.Context, name string) ([]string, error) {
	d.mu.Lock()
	wait := d.durations[name]
	d.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	}
}

// Func returns d.Invoke as a driver.Func.
func (d *Dummy) Func() driver.Func {
	return d.Invoke
}
