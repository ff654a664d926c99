// Package optimizer lowers a Start-rooted protocol graph to a concrete
// timeline: one scheduled_time per unfinished Protocol node, subject to
// precedence, a single global no-overlap resource, and delay-slack targets.
//
// The planning model is kept separate from the persisted graph exactly as
// spec §9 requires: Optimize builds a scratch slice of protoInfo records
// holding decision state, solves against that, and only writes
// scheduled_time back onto the real nodes (by identifier) once a complete
// schedule is found. A failed solve leaves the graph untouched.
package optimizer

import (
	"errors"
	"sort"
	"time"

	"github.com/metasched/orchestrator/internal/graph"
)

// ErrInfeasible is returned when no schedule could be produced within the
// configured wall-clock budget.
var ErrInfeasible = errors.New("optimizer: infeasible")

// Config configures a single Optimizer instance.
type Config struct {
	// BufferSeconds is added to every unfinished Protocol's effective
	// duration before modeling, giving scheduling headroom.
	BufferSeconds int
	// MaxSolveTime bounds the wall-clock time Optimize is allowed to spend
	// searching for a schedule. Zero means a package default (2s).
	MaxSolveTime time.Duration
}

const defaultMaxSolveTime = 2 * time.Second

// Optimizer computes Protocol.ScheduledTime values for a protocol graph.
type Optimizer struct {
	cfg Config
}

// New returns an Optimizer configured with cfg.
func New(cfg Config) *Optimizer {
	if cfg.MaxSolveTime <= 0 {
		cfg.MaxSolveTime = defaultMaxSolveTime
	}
	return &Optimizer{cfg: cfg}
}

// Result reports solve diagnostics. It is informational; the authoritative
// output of Optimize is the ScheduledTime written onto each Protocol node.
type Result struct {
	Makespan   time.Duration
	TotalSlack time.Duration
	Scheduled  int
}

// delayEdge captures a Delay's timing target, resolved to the Protocol
// ancestor that anchors it (nil anchor means the Start node, i.e. t0).
type delayEdge struct {
	anchor   *protoInfo
	fromType graph.FromType
	target   time.Duration // duration + offset, signed
}

// protoInfo is the scratch decision record for one Protocol node.
type protoInfo struct {
	node             *graph.Node
	seq              int // encounter order, used only to break ties deterministically
	precedenceParent *protoInfo
	delay            *delayEdge

	effectiveDuration time.Duration

	// Fixed facts copied from observed wall-clock fields, relative to t0.
	fixed       bool // StartedTime is set
	excluded    bool // FinishedTime is also set: not part of the resource constraint
	fixedStart  time.Duration
	fixedFinish time.Duration

	// Assigned during the greedy solve (only used when !fixed).
	assigned    bool
	assignStart time.Duration
}

func (p *protoInfo) resolved() bool { return p.fixed || p.assigned }

func (p *protoInfo) finish() time.Duration {
	switch {
	case p.fixed:
		return p.fixedFinish
	case p.assigned:
		return p.assignStart + p.effectiveDuration
	default:
		panic("optimizer: finish() called on unresolved protocol")
	}
}

func (p *protoInfo) start() time.Duration {
	switch {
	case p.fixed:
		return p.fixedStart
	case p.assigned:
		return p.assignStart
	default:
		panic("optimizer: start() called on unresolved protocol")
	}
}

// Optimize assigns ScheduledTime to every Protocol node reachable from root
// that does not already have FinishedTime set. now is used as the reference
// instant t0 when no Protocol in the graph has StartedTime set.
func (o *Optimizer) Optimize(root *graph.Node, now time.Time) (Result, error) {
	deadline := time.Now().Add(o.cfg.MaxSolveTime)

	protocols := root.Protocols()
	if len(protocols) == 0 {
		return Result{}, nil
	}

	t0 := earliestStart(protocols, now)
	buffer := time.Duration(o.cfg.BufferSeconds) * time.Second

	infos := buildInfos(root, t0, buffer)

	// Seed fixed facts and resource occupancy from already-started protocols.
	var resourceFree time.Duration
	remaining := 0
	for _, pi := range infos {
		if pi.fixed && !pi.excluded {
			if f := pi.finish(); f > resourceFree {
				resourceFree = f
			}
		}
		if !pi.fixed {
			remaining++
		}
	}
	if remaining == 0 {
		// All Protocols are already finished or running with a fixed
		// interval: nothing left to schedule.
		return summarize(infos, t0), nil
	}

	scheduled := 0
	for scheduled < remaining {
		if time.Now().After(deadline) {
			return Result{}, ErrInfeasible
		}

		var ready []*protoInfo
		for _, pi := range infos {
			if pi.fixed || pi.assigned {
				continue
			}
			if pi.precedenceParent == nil || pi.precedenceParent.resolved() {
				ready = append(ready, pi)
			}
		}
		if len(ready) == 0 {
			// Should not happen for a well-formed forest; guards against a
			// malformed precedence graph rather than looping forever.
			return Result{}, ErrInfeasible
		}

		sort.Slice(ready, func(i, j int) bool {
			ti := tentativeStart(ready[i])
			tj := tentativeStart(ready[j])
			if ti != tj {
				return ti < tj
			}
			return ready[i].seq < ready[j].seq
		})

		next := ready[0]
		start := tentativeStart(next)
		if resourceFree > start {
			start = resourceFree
		}
		next.assigned = true
		next.assignStart = start
		resourceFree = next.finish()
		scheduled++
	}

	for _, pi := range infos {
		if pi.fixed {
			t := t0.Add(pi.fixedStart)
			pi.node.ScheduledTime = &t
			continue
		}
		t := t0.Add(pi.assignStart)
		pi.node.ScheduledTime = &t
	}

	return summarize(infos, t0), nil
}

// tentativeStart is the earliest instant pi could start ignoring resource
// contention: no earlier than its precedence parent finishes, and no
// earlier than its delay target (if the target is later than precedence
// allows, waiting for it costs nothing but idle resource time and drives
// slack to zero; if the target is earlier than precedence allows,
// precedence wins and slack becomes strictly positive, per spec §8).
func tentativeStart(pi *protoInfo) time.Duration {
	var readyAt time.Duration
	if pi.precedenceParent != nil {
		readyAt = pi.precedenceParent.finish()
	}
	if pi.delay == nil {
		return readyAt
	}
	anchor := pi.delay.anchorTime()
	desired := anchor + pi.delay.target
	if desired > readyAt {
		return desired
	}
	return readyAt
}

func (d *delayEdge) anchorTime() time.Duration {
	if d.anchor == nil {
		return 0
	}
	if d.fromType == graph.FromFinish {
		return d.anchor.finish()
	}
	return d.anchor.start()
}

func earliestStart(protocols []*graph.Node, now time.Time) time.Time {
	var earliest *time.Time
	for _, p := range protocols {
		if p.StartedTime == nil {
			continue
		}
		if earliest == nil || p.StartedTime.Before(*earliest) {
			earliest = p.StartedTime
		}
	}
	if earliest == nil {
		return now
	}
	return *earliest
}

// buildInfos walks root and produces one protoInfo per Protocol node,
// resolving each one's precedence parent (the nearest Protocol ancestor,
// skipping over Delay nodes per spec §4.2) and delay edge (if its direct
// parent in the tree is a Delay).
func buildInfos(root *graph.Node, t0 time.Time, buffer time.Duration) []*protoInfo {
	var infos []*protoInfo
	seq := 0

	var walk func(n *graph.Node, precedenceParent *protoInfo, pending *delayEdge)
	walk = func(n *graph.Node, precedenceParent *protoInfo, pending *delayEdge) {
		switch n.Type {
		case graph.TypeProtocol:
			pi := &protoInfo{node: n, seq: seq, precedenceParent: precedenceParent, delay: pending}
			seq++
			dur := n.Duration
			if n.FinishedTime == nil {
				dur += buffer
			}
			pi.effectiveDuration = dur
			if n.StartedTime != nil {
				pi.fixed = true
				pi.fixedStart = n.StartedTime.Sub(t0)
				if n.FinishedTime != nil {
					pi.excluded = true
					pi.fixedFinish = n.FinishedTime.Sub(t0)
				} else {
					pi.fixedFinish = pi.fixedStart + pi.effectiveDuration
				}
			}
			infos = append(infos, pi)
			for _, child := range n.Children {
				walk(child, pi, nil)
			}
		case graph.TypeDelay:
			edge := &delayEdge{
				anchor:   precedenceParent,
				fromType: n.FromType,
				target:   n.Duration + n.Offset,
			}
			for _, child := range n.Children {
				walk(child, precedenceParent, edge)
			}
		case graph.TypeStart:
			for _, child := range n.Children {
				walk(child, nil, nil)
			}
		}
	}
	walk(root, nil, nil)
	return infos
}

func summarize(infos []*protoInfo, t0 time.Time) Result {
	var res Result
	var makespan time.Duration
	for _, pi := range infos {
		if pi.finishKnown() {
			if f := pi.finish(); f > makespan {
				makespan = f
			}
		}
		if pi.delay != nil && pi.finishKnown() {
			diff := pi.startKnown() - pi.delay.anchorTime() - pi.delay.target
			if diff < 0 {
				diff = -diff
			}
			res.TotalSlack += diff
		}
		if !pi.fixed {
			res.Scheduled++
		}
	}
	res.Makespan = makespan
	return res
}

func (p *protoInfo) finishKnown() bool { return p.fixed || p.assigned }
func (p *protoInfo) startKnown() time.Duration {
	if p.fixed {
		return p.fixedStart
	}
	return p.assignStart
}
