package optimizer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/metasched/orchestrator/internal/graph"
)

func mustProtocol(t *testing.T, name string, d time.Duration) *graph.Node {
	t.Helper()
	p, err := graph.NewProtocol(name, d)
	require.NoError(t, err)
	return p
}

func TestLinearChainSerializes(t *testing.T) {
	s := graph.NewStart()
	p1 := mustProtocol(t, "P1", 10*time.Second)
	p2 := mustProtocol(t, "P2", 5*time.Second)
	require.NoError(t, s.Attach(p1))
	require.NoError(t, p1.Attach(p2))

	now := time.Now().UTC()
	o := New(Config{})
	_, err := o.Optimize(s, now)
	require.NoError(t, err)

	require.NotNil(t, p1.ScheduledTime)
	require.NotNil(t, p2.ScheduledTime)
	require.True(t, p1.ScheduledTime.Equal(now) || p1.ScheduledTime.After(now))
	require.True(t, !p2.ScheduledTime.Before(p1.ScheduledTime.Add(p1.Duration)))
}

// TestDisjointBranchesNeverOverlap covers the single-resource invariant: two
// Protocols with no precedence relationship must still never occupy the
// resource concurrently.
func TestDisjointBranchesNeverOverlap(t *testing.T) {
	s := graph.NewStart()
	p1 := mustProtocol(t, "A", 10*time.Second)
	p2 := mustProtocol(t, "B", 10*time.Second)
	require.NoError(t, s.Attach(p1))
	require.NoError(t, s.Attach(p2))

	now := time.Now().UTC()
	_, err := New(Config{}).Optimize(s, now)
	require.NoError(t, err)

	a, b := p1.ScheduledTime, p2.ScheduledTime
	require.NotNil(t, a)
	require.NotNil(t, b)
	noOverlap := !a.Before(b.Add(p2.Duration)) || !b.Before(a.Add(p1.Duration))
	require.True(t, noOverlap)
}

func TestDelayTargetMetWhenResourceFree(t *testing.T) {
	s := graph.NewStart()
	p1 := mustProtocol(t, "P1", 5*time.Second)
	delay, err := graph.NewDelay(0, graph.FromFinish, 10*time.Second)
	require.NoError(t, err)
	p2 := mustProtocol(t, "P2", 5*time.Second)
	require.NoError(t, s.Attach(p1))
	require.NoError(t, p1.Attach(delay))
	require.NoError(t, delay.Attach(p2))

	now := time.Now().UTC()
	res, err := New(Config{}).Optimize(s, now)
	require.NoError(t, err)

	want := p1.ScheduledTime.Add(p1.Duration).Add(10 * time.Second)
	require.WithinDuration(t, want, *p2.ScheduledTime, time.Millisecond)
	require.Equal(t, time.Duration(0), res.TotalSlack)
}

// TestStartedProtocolIsFixed verifies that a Protocol with StartedTime set
// keeps scheduled_time pinned to the observed offset and still occupies the
// resource for the rest of the plan.
func TestStartedProtocolIsFixed(t *testing.T) {
	s := graph.NewStart()
	p1 := mustProtocol(t, "P1", 10*time.Second)
	p2 := mustProtocol(t, "P2", 5*time.Second)
	require.NoError(t, s.Attach(p1))
	require.NoError(t, s.Attach(p2))

	now := time.Now().UTC()
	started := now.Add(-2 * time.Second)
	p1.StartedTime = &started
	p1.ScheduledTime = &started

	_, err := New(Config{}).Optimize(s, now)
	require.NoError(t, err)

	require.True(t, p1.ScheduledTime.Equal(started))
	require.False(t, p2.ScheduledTime.Before(started.Add(10*time.Second)))
}

func TestFinishedProtocolExcludedFromResource(t *testing.T) {
	s := graph.NewStart()
	p1 := mustProtocol(t, "P1", 10*time.Second)
	p2 := mustProtocol(t, "P2", 5*time.Second)
	require.NoError(t, s.Attach(p1))
	require.NoError(t, s.Attach(p2))

	now := time.Now().UTC()
	startedLongAgo := now.Add(-1 * time.Hour)
	finished := startedLongAgo.Add(10 * time.Second)
	p1.StartedTime = &startedLongAgo
	p1.FinishedTime = &finished

	_, err := New(Config{}).Optimize(s, now)
	require.NoError(t, err)

	// p2 is free to start at or before now, not forced to wait for p1's
	// long-past interval.
	require.False(t, p2.ScheduledTime.After(now.Add(time.Second)))
}

func TestEmptyGraphIsNoOp(t *testing.T) {
	s := graph.NewStart()
	res, err := New(Config{}).Optimize(s, time.Now())
	require.NoError(t, err)
	require.Equal(t, Result{}, res)
}

// TestReoptimizeIsIdempotent: calling Optimize twice on the same graph with
// the same now must not change any ScheduledTime already assigned, since
// nothing has started in between.
func TestReoptimizeIsIdempotent(t *testing.T) {
	s := graph.NewStart()
	p1 := mustProtocol(t, "P1", 5*time.Second)
	p2 := mustProtocol(t, "P2", 5*time.Second)
	require.NoError(t, s.Attach(p1))
	require.NoError(t, p1.Attach(p2))

	now := time.Now().UTC()
	o := New(Config{})
	_, err := o.Optimize(s, now)
	require.NoError(t, err)
	first1, first2 := *p1.ScheduledTime, *p2.ScheduledTime

	_, err = o.Optimize(s, now)
	require.NoError(t, err)
	require.True(t, first1.Equal(*p1.ScheduledTime))
	require.True(t, first2.Equal(*p2.ScheduledTime))
}

func TestBufferExtendsEffectiveDuration(t *testing.T) {
	s := graph.NewStart()
	p1 := mustProtocol(t, "P1", 5*time.Second)
	p2 := mustProtocol(t, "P2", 5*time.Second)
	require.NoError(t, s.Attach(p1))
	require.NoError(t, s.Attach(p2))

	now := time.Now().UTC()
	_, err := New(Config{BufferSeconds: 3}).Optimize(s, now)
	require.NoError(t, err)

	// Whichever protocol runs second must wait for (duration+buffer) of the
	// first, not just duration.
	first, second := p1, p2
	if p2.ScheduledTime.Before(*p1.ScheduledTime) {
		first, second = p2, p1
	}
	require.False(t, second.ScheduledTime.Before(first.ScheduledTime.Add(8 * time.Second)))
}
