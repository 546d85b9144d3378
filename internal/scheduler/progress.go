package scheduler

import (
	"context"
	"sync"

	"github.com/myorg/cosim/internal/modelmeta"
	"github.com/myorg/cosim/internal/tick"
)

// progressTable is the scheduler's live bookkeeping of every simulator's
// committed progress, termination, and pending externally-required step
// times. It satisfies both causality.ProgressSource and
// services.ProgressTable.
type progressTable struct {
	mu         sync.Mutex
	cond       *sync.Cond
	progress   map[modelmeta.SimulatorId]tick.Tick
	terminated map[modelmeta.SimulatorId]bool
	scheduled  map[modelmeta.SimulatorId]tick.Tick
	hasPending map[modelmeta.SimulatorId]bool
	stepCounts map[modelmeta.SimulatorId]int
}

func newProgressTable(sims []modelmeta.SimulatorId) *progressTable {
	t := &progressTable{
		progress:   make(map[modelmeta.SimulatorId]tick.Tick, len(sims)),
		terminated: make(map[modelmeta.SimulatorId]bool, len(sims)),
		scheduled:  make(map[modelmeta.SimulatorId]tick.Tick, len(sims)),
		hasPending: make(map[modelmeta.SimulatorId]bool, len(sims)),
		stepCounts: make(map[modelmeta.SimulatorId]int, len(sims)),
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// Progress implements causality.ProgressSource and services.ProgressTable.
func (t *progressTable) Progress(sim modelmeta.SimulatorId) (tick.Tick, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress[sim], t.terminated[sim]
}

// Commit advances sim's progress and wakes every waiter, since any
// predecessor's commit might be exactly what they were blocked on.
func (t *progressTable) Commit(sim modelmeta.SimulatorId, next tick.Tick) {
	t.mu.Lock()
	t.progress[sim] = next
	t.mu.Unlock()
	t.cond.Broadcast()
}

// Terminate marks sim as done and wakes every waiter: a terminated
// predecessor satisfies any progress condition that was waiting on it.
func (t *progressTable) Terminate(sim modelmeta.SimulatorId) {
	t.mu.Lock()
	t.terminated[sim] = true
	t.mu.Unlock()
	t.cond.Broadcast()
}

// Terminated reports whether sim has finished stepping.
func (t *progressTable) Terminated(sim modelmeta.SimulatorId) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.terminated[sim]
}

// CountStep records that sim just completed one step() call.
func (t *progressTable) CountStep(sim modelmeta.SimulatorId) {
	t.mu.Lock()
	t.stepCounts[sim]++
	t.mu.Unlock()
}

// StepCounts returns a snapshot of per-simulator step counts.
func (t *progressTable) StepCounts() map[modelmeta.SimulatorId]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[modelmeta.SimulatorId]int, len(t.stepCounts))
	for k, v := range t.stepCounts {
		out[k] = v
	}
	return out
}

// ScheduleStep implements services.ProgressTable: it records the earliest
// time sim must step, for event-based/hybrid consumers of set_data/
// set_event.
func (t *progressTable) ScheduleStep(sim modelmeta.SimulatorId, at tick.Tick) {
	t.mu.Lock()
	if !t.hasPending[sim] || at < t.scheduled[sim] {
		t.scheduled[sim] = at
		t.hasPending[sim] = true
	}
	t.mu.Unlock()
	t.cond.Broadcast()
}

// NextScheduled returns the earliest pending externally-required step for
// sim, if any, and clears it (the caller is about to act on it).
func (t *progressTable) NextScheduled(sim modelmeta.SimulatorId) (tick.Tick, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.hasPending[sim] {
		return 0, false
	}
	at := t.scheduled[sim]
	t.hasPending[sim] = false
	return at, true
}

// HasScheduled reports whether sim has a pending externally-required step,
// without consuming it.
func (t *progressTable) HasScheduled(sim modelmeta.SimulatorId) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hasPending[sim]
}

// Await blocks until sim's progress exceeds after or sim terminates. It
// takes no context, so cancelling the run does not end the wait; AwaitCtx
// is the cancellable form.
func (t *progressTable) Await(sim modelmeta.SimulatorId, after tick.Tick) error {
	t.mu.Lock()
	for t.progress[sim] <= after && !t.terminated[sim] {
		t.cond.Wait()
	}
	t.mu.Unlock()
	return nil
}

// AwaitCtx is like Await but also returns if ctx is cancelled, by having a
// background goroutine nudge the condition variable on cancellation.
func (t *progressTable) AwaitCtx(ctx context.Context, sim modelmeta.SimulatorId, after tick.Tick) error {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			t.cond.Broadcast()
		case <-done:
		}
	}()
	defer close(done)

	t.mu.Lock()
	defer t.mu.Unlock()
	for t.progress[sim] <= after && !t.terminated[sim] {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t.cond.Wait()
	}
	return ctx.Err()
}

// WaitForChange blocks until the next Commit, Terminate, or ScheduleStep
// broadcast, or ctx is cancelled. Callers loop on their own readiness
// condition around it; this just avoids busy-waiting while they do.
func (t *progressTable) WaitForChange(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			t.cond.Broadcast()
		case <-done:
		}
	}()
	defer close(done)

	t.mu.Lock()
	defer t.mu.Unlock()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	t.cond.Wait()
	return ctx.Err()
}
