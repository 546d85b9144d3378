// Package causality implements the causality analyzer (C5): it runs once
// at seal time to rank simulators, reject illegal cycles, and precompute
// per-simulator predecessor/consumer lists the scheduler consults on every
// step.
package causality

import (
	"fmt"
	"sort"

	"github.com/myorg/cosim/internal/cosimerr"
	"github.com/myorg/cosim/internal/modelmeta"
	"github.com/myorg/cosim/internal/scenario"
	"github.com/myorg/cosim/internal/tick"
)

// Analyzer is the precomputed view of a sealed scenario graph.
type Analyzer struct {
	sealed *scenario.Sealed

	rank      map[modelmeta.SimulatorId]int
	rankOrder []modelmeta.SimulatorId

	// direct predecessors are non-weak, non-time-shifted: progress(P) > t
	// is required before S may step at t.
	directPreds map[modelmeta.SimulatorId][]*scenario.Edge
	// shifted predecessors require progress(P) > t-1.
	shiftedPreds map[modelmeta.SimulatorId][]*scenario.Edge
	// weak predecessors impose no progress condition.
	weakPreds map[modelmeta.SimulatorId][]*scenario.Edge
	// triggering predecessors are edges whose destination attribute is
	// event-typed; a delivered value schedules a step at the event time.
	triggerPreds map[modelmeta.SimulatorId][]*scenario.Edge

	consumers map[modelmeta.SimulatorId][]*scenario.Edge // outgoing edges, for notification
}

// Analyze runs the one-time seal analysis described in §4.5.
func Analyze(sealed *scenario.Sealed) (*Analyzer, error) {
	a := &Analyzer{
		sealed:       sealed,
		rank:         make(map[modelmeta.SimulatorId]int),
		directPreds:  make(map[modelmeta.SimulatorId][]*scenario.Edge),
		shiftedPreds: make(map[modelmeta.SimulatorId][]*scenario.Edge),
		weakPreds:    make(map[modelmeta.SimulatorId][]*scenario.Edge),
		triggerPreds: make(map[modelmeta.SimulatorId][]*scenario.Edge),
		consumers:    make(map[modelmeta.SimulatorId][]*scenario.Edge),
	}

	insertionOrder := make(map[modelmeta.SimulatorId]int, len(sealed.Order))
	for i, id := range sealed.Order {
		insertionOrder[id] = i
	}

	directAdj := make(map[modelmeta.SimulatorId][]modelmeta.SimulatorId)
	indegree := make(map[modelmeta.SimulatorId]int)
	for _, id := range sealed.Order {
		indegree[id] = 0
	}

	for _, e := range sealed.Edges {
		src, dst := e.SrcEntity.Sim, e.DstEntity.Sim
		a.consumers[src] = append(a.consumers[src], e)

		switch e.Kind.(type) {
		case scenario.Direct:
			a.directPreds[dst] = append(a.directPreds[dst], e)
			directAdj[src] = append(directAdj[src], dst)
			indegree[dst]++
		case scenario.TimeShifted:
			a.shiftedPreds[dst] = append(a.shiftedPreds[dst], e)
		case scenario.Weak:
			a.weakPreds[dst] = append(a.weakPreds[dst], e)
		}

		if anyTrigger(e) {
			a.triggerPreds[dst] = append(a.triggerPreds[dst], e)
		}
	}

	order, err := topoSort(sealed.Order, directAdj, indegree, insertionOrder)
	if err != nil {
		return nil, err
	}
	a.rankOrder = order
	for i, id := range order {
		a.rank[id] = i
	}
	return a, nil
}

func anyTrigger(e *scenario.Edge) bool {
	for _, trig := range e.Trigger {
		if trig {
			return true
		}
	}
	return false
}

// topoSort performs Kahn's algorithm, breaking ties among simultaneously
// available (zero in-degree) nodes by scenario insertion order (§9 open
// question 1), and reports a ScenarioError if a cycle remains — which, by
// construction, can only happen across Direct edges, since Weak edges were
// never added to the graph and TimeShifted edges were deliberately
// excluded: any true cycle among Direct edges has no temporal decoupling to
// legalize it.
func topoSort(allNodes []modelmeta.SimulatorId, adj map[modelmeta.SimulatorId][]modelmeta.SimulatorId, indegree map[modelmeta.SimulatorId]int, insertionOrder map[modelmeta.SimulatorId]int) ([]modelmeta.SimulatorId, error) {
	remaining := make(map[modelmeta.SimulatorId]int, len(indegree))
	for k, v := range indegree {
		remaining[k] = v
	}

	var ready []modelmeta.SimulatorId
	for _, id := range allNodes {
		if remaining[id] == 0 {
			ready = append(ready, id)
		}
	}

	var order []modelmeta.SimulatorId
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			return insertionOrder[ready[i]] < insertionOrder[ready[j]]
		})
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, dst := range adj[next] {
			remaining[dst]--
			if remaining[dst] == 0 {
				ready = append(ready, dst)
			}
		}
	}

	if len(order) != len(allNodes) {
		return nil, cosimerr.NewScenarioError("unresolved cycle: a cycle of Direct edges exists with no time_shift or weak edge to break it")
	}
	return order, nil
}

// Rank returns sim's position in the tie-break order.
func (a *Analyzer) Rank(sim modelmeta.SimulatorId) int { return a.rank[sim] }

// RankOrder returns every simulator in rank order.
func (a *Analyzer) RankOrder() []modelmeta.SimulatorId { return a.rankOrder }

// DirectPredecessors returns sim's non-weak, non-time-shifted incoming
// edges: sim's step at t requires each predecessor's progress > t.
func (a *Analyzer) DirectPredecessors(sim modelmeta.SimulatorId) []*scenario.Edge {
	return a.directPreds[sim]
}

// ShiftedPredecessors returns sim's time-shifted incoming edges: sim's step
// at t requires each predecessor's progress > t-1.
func (a *Analyzer) ShiftedPredecessors(sim modelmeta.SimulatorId) []*scenario.Edge {
	return a.shiftedPreds[sim]
}

// WeakPredecessors returns sim's weak incoming edges: no progress
// condition, but they participate in same-time loops.
func (a *Analyzer) WeakPredecessors(sim modelmeta.SimulatorId) []*scenario.Edge {
	return a.weakPreds[sim]
}

// TriggerPredecessors returns every incoming edge of sim whose destination
// attribute is event-typed, regardless of weak/shifted/direct.
func (a *Analyzer) TriggerPredecessors(sim modelmeta.SimulatorId) []*scenario.Edge {
	return a.triggerPreds[sim]
}

// Consumers returns sim's outgoing edges, for notifying dependents after a
// step commits outputs.
func (a *Analyzer) Consumers(sim modelmeta.SimulatorId) []*scenario.Edge {
	return a.consumers[sim]
}

// ProgressSource abstracts the scheduler's live per-simulator progress
// table so MaxAdvance can be computed without importing the scheduler
// package (which imports causality).
type ProgressSource interface {
	// Progress returns the current progress tick of sim and whether sim
	// has terminated.
	Progress(sim modelmeta.SimulatorId) (progress tick.Tick, terminated bool)
}

// MaxAdvance computes the promise given to sim before it steps at tStep:
// no external step will be triggered for sim strictly before
// max_advance+1. Per §4.5 it is the minimum, over sim's Direct
// predecessors, of (predecessor's next known safe time) - 1, capped at
// until. A negative result is rejected rather than clamped (§9 note 3).
func (a *Analyzer) MaxAdvance(sim modelmeta.SimulatorId, tStep tick.Tick, until tick.Tick, progress ProgressSource) (tick.Tick, error) {
	maxAdvance := until
	for _, e := range a.DirectPredecessors(sim) {
		p, terminated := progress.Progress(e.SrcEntity.Sim)
		if terminated {
			continue
		}
		safe := p - 1
		if safe < maxAdvance {
			maxAdvance = safe
		}
	}
	if maxAdvance < tStep {
		// Every Direct predecessor must already satisfy progress > tStep
		// before sim is allowed to step at tStep; if that held, safe =
		// progress-1 >= tStep for all of them. Landing below tStep here
		// means a predecessor's progress regressed relative to the
		// readiness check, or went negative outright (§9 note 3) — either
		// way a scheduling bug, not a value to silently clamp.
		return 0, cosimerr.NewSchedulingError(fmt.Sprintf("max_advance for %q computed as %d (< t_step=%d): predecessor progress violates its readiness promise", sim, maxAdvance, tStep))
	}
	return maxAdvance, nil
}
