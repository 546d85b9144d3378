package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/myorg/cosim/internal/cache"
	"github.com/myorg/cosim/internal/causality"
	"github.com/myorg/cosim/internal/clock"
	"github.com/myorg/cosim/internal/cosimerr"
	"github.com/myorg/cosim/internal/metrics"
	"github.com/myorg/cosim/internal/modelmeta"
	"github.com/myorg/cosim/internal/proxy"
	"github.com/myorg/cosim/internal/scenario"
	"github.com/myorg/cosim/internal/tick"
)

// Stepper is the subset of *proxy.Proxy the scheduler drives. Tests supply
// a fake implementation instead of a real transport-backed proxy.
type Stepper interface {
	// Step returns the simulator's requested next self-scheduled step time
	// and hasNext reports whether one was given at all: per §4.2, a
	// step() reply of null means "no self-schedule," which must not be
	// confused with a next time equal to t (a same-time loop request).
	Step(ctx context.Context, t tick.Tick, inputs proxy.DataPush, maxAdvance tick.Tick) (next tick.Tick, hasNext bool, err error)
	GetData(ctx context.Context, outputs map[string][]string) (proxy.GetDataResult, error)
	Stop(ctx context.Context) error
	Progress() (tick.Tick, bool)
	SetProgress(t tick.Tick)
	MarkTerminated()
	Terminated() bool
}

// Config carries the per-run parameters from §4.6/§4.7.
type Config struct {
	Until             tick.Tick
	MaxLoopIterations int
	LazyStepping      bool

	// RTFactor > 0 enables real-time pacing: step t is gated on wall clock
	// reaching StartWall + t*TimeResolution/RTFactor. RTStrict turns a
	// missed deadline into a fatal scheduling error instead of a warning.
	RTFactor       float64
	RTStrict       bool
	TimeResolution float64
	Clock          clock.Clock
	StartWall      time.Time

	// Metrics and Provider are both optional; nil disables instrumentation.
	Metrics  *metrics.Collector
	Provider metrics.Provider
}

// task runs one simulator's cooperative loop: the nine-step cycle of
// termination checks, readiness waiting, input collection, stepping, and
// output commit described in the design notes.
type task struct {
	id       modelmeta.SimulatorId
	kind     modelmeta.SimulatorKind
	stepper  Stepper
	analyzer *causality.Analyzer
	sealed   *scenario.Sealed
	cache    *cache.Cache
	progress *progressTable
	cfg      Config
	log      *logrus.Entry

	loopMu    *sync.Mutex
	loopIters map[tick.Tick]int

	warnMu   *sync.Mutex
	warnings *[]string

	collector     *metrics.Collector
	stepsCounter  metrics.Counter
	progressGauge metrics.Gauge
	loopCounter   metrics.Counter
}

// recordWarning appends a non-fatal runtime finding to the shared,
// scheduler-owned warning list surfaced in the run report.
func (t *task) recordWarning(msg string) {
	t.warnMu.Lock()
	defer t.warnMu.Unlock()
	*t.warnings = append(*t.warnings, msg)
}

func (t *task) run(ctx context.Context) error {
	localNext := tick.Zero

	for {
		stepAt, hasStep, err := t.nextStepTime(localNext)
		if err != nil {
			return err
		}
		if !hasStep || stepAt > t.cfg.Until {
			t.finish()
			return nil
		}

		if err := t.awaitLazyGate(ctx, stepAt); err != nil {
			return err
		}

		if err := t.awaitPredecessors(ctx, stepAt); err != nil {
			return err
		}

		inputs := t.collectInputs(stepAt)

		maxAdvance, err := t.analyzer.MaxAdvance(t.id, stepAt, t.cfg.Until, t.progress)
		if err != nil {
			return err
		}

		if err := t.awaitRealTime(ctx, stepAt); err != nil {
			return err
		}

		stepStart := time.Now()
		next, hasNext, err := t.stepper.Step(ctx, stepAt, inputs, maxAdvance)
		if err != nil {
			return cosimerr.NewSchedulingError(fmt.Sprintf("%q step(%s) failed: %v", t.id, stepAt, err))
		}
		if t.collector != nil {
			t.collector.RecordStepDuration(string(t.id), time.Since(stepStart).Nanoseconds())
		}
		if t.stepsCounter != nil {
			t.stepsCounter.Inc(1, string(t.id))
		}
		t.progress.CountStep(t.id)

		if err := t.commitOutputs(ctx, stepAt); err != nil {
			return err
		}

		if !hasNext {
			// §4.2: no self-schedule. A time-based simulator always owns
			// its own pacing and must always self-schedule; an
			// event-based or hybrid one is free to go idle until
			// something triggers it again.
			if t.kind == modelmeta.TimeBased {
				return cosimerr.NewSchedulingError(fmt.Sprintf("%q is time-based but step(%s) returned no self-schedule", t.id, stepAt))
			}
			t.commitProgress(stepAt)
			localNext = stepAt
			continue
		}

		if next <= stepAt {
			if err := t.enterSameTimeLoop(stepAt); err != nil {
				return err
			}
			// Re-enter the loop at the same time: a weak edge just
			// delivered fresh data for this tick, to be picked up by
			// collectInputs on the next iteration.
			localNext = stepAt
			continue
		}

		t.commitProgress(next)
		localNext = next
	}
}

// commitProgress records next as this simulator's new progress, both on
// the stepper (the proxy's own bookkeeping) and the shared progress table
// (for causality.MaxAdvance, predecessor-readiness waits and
// get_data/get_progress), and
// advances its standing as a dataflow cache consumer so measurement
// history it can no longer need becomes eligible for eviction.
func (t *task) commitProgress(next tick.Tick) {
	t.stepper.SetProgress(next)
	t.progress.Commit(t.id, next)
	t.cache.AdvanceConsumer(t.id, next)
	if t.progressGauge != nil {
		t.progressGauge.Set(float64(next), string(t.id))
	}
}

func (t *task) finish() {
	t.stepper.MarkTerminated()
	t.progress.Terminate(t.id)
	t.cache.Retire(t.id)
}

// nextStepTime determines when this simulator steps next, per its kind
// (§2 simulator kinds / §4.6 termination conditions).
func (t *task) nextStepTime(localNext tick.Tick) (tick.Tick, bool, error) {
	switch t.kind {
	case modelmeta.TimeBased:
		return localNext, true, nil

	case modelmeta.EventBased:
		at, pending := t.progress.NextScheduled(t.id)
		if pending {
			return at, true, nil
		}
		if t.hasLiveTrigger() {
			// A triggering predecessor is still alive but hasn't fired
			// yet; block until it commits or a step gets scheduled.
			return t.waitForTriggerOrSchedule()
		}
		return 0, false, nil

	default: // Hybrid
		at, pending := t.progress.NextScheduled(t.id)
		if pending && at < localNext {
			return at, true, nil
		}
		if pending {
			return at, true, nil
		}
		return localNext, true, nil
	}
}

// hasLiveTrigger reports whether at least one of this simulator's
// triggering predecessors has not yet terminated.
func (t *task) hasLiveTrigger() bool {
	for _, e := range t.analyzer.TriggerPredecessors(t.id) {
		if !t.progress.Terminated(e.SrcEntity.Sim) {
			return true
		}
	}
	return false
}

// waitForTriggerOrSchedule blocks an event-based simulator with no pending
// step until either a step gets scheduled for it or every triggering
// predecessor has terminated (in which case this simulator terminates
// too).
func (t *task) waitForTriggerOrSchedule() (tick.Tick, bool, error) {
	t.progress.mu.Lock()
	defer t.progress.mu.Unlock()
	for !t.progress.hasPending[t.id] {
		stillLive := false
		for _, e := range t.analyzer.TriggerPredecessors(t.id) {
			if !t.progress.terminated[e.SrcEntity.Sim] {
				stillLive = true
				break
			}
		}
		if !stillLive {
			return 0, false, nil
		}
		t.progress.cond.Wait()
	}
	at := t.progress.scheduled[t.id]
	t.progress.hasPending[t.id] = false
	return at, true, nil
}

// awaitLazyGate implements §4.6's lazy-stepping throttle (config flag,
// default on): a time-based simulator with downstream consumers pauses
// before computing step tNext until at least one live consumer's progress
// is still behind tNext, bounding how far a producer can run ahead of what
// anything has asked for and thus how much cache history piles up.
// Event-based and hybrid simulators are never gated: they only step when
// something schedules them, so they can't race ahead on their own.
func (t *task) awaitLazyGate(ctx context.Context, tNext tick.Tick) error {
	if !t.cfg.LazyStepping || t.kind != modelmeta.TimeBased || tNext == tick.Zero {
		return nil
	}
	consumers := t.analyzer.Consumers(t.id)
	if len(consumers) == 0 {
		return nil
	}
	for !t.consumerNeedsData(consumers, tNext) {
		if err := t.progress.WaitForChange(ctx); err != nil {
			return err
		}
	}
	return nil
}

// consumerNeedsData reports whether some live consumer's progress has not
// yet reached tNext, or whether every consumer has terminated (in which
// case nothing is left to throttle for).
func (t *task) consumerNeedsData(consumers []*scenario.Edge, tNext tick.Tick) bool {
	seen := make(map[modelmeta.SimulatorId]struct{}, len(consumers))
	anyLive := false
	for _, e := range consumers {
		sim := e.DstEntity.Sim
		if _, ok := seen[sim]; ok {
			continue
		}
		seen[sim] = struct{}{}
		progress, terminated := t.progress.Progress(sim)
		if terminated {
			continue
		}
		anyLive = true
		if progress < tNext {
			return true
		}
	}
	return !anyLive
}

// awaitPredecessors blocks until every non-weak predecessor's progress
// condition is satisfied: Direct predecessors must exceed stepAt, and
// time-shifted predecessors must exceed stepAt-1.
func (t *task) awaitPredecessors(ctx context.Context, stepAt tick.Tick) error {
	for _, e := range t.analyzer.DirectPredecessors(t.id) {
		if err := t.progress.AwaitCtx(ctx, e.SrcEntity.Sim, stepAt); err != nil {
			return err
		}
	}
	for _, e := range t.analyzer.ShiftedPredecessors(t.id) {
		if err := t.progress.AwaitCtx(ctx, e.SrcEntity.Sim, stepAt-1); err != nil {
			return err
		}
	}
	return nil
}

// collectInputs reads every incoming edge's current value out of the
// cache, renaming attributes per the edge's AttrMap and keying the wire
// shape by source full id so concurrent producers of one input remain
// distinguishable.
func (t *task) collectInputs(stepAt tick.Tick) proxy.DataPush {
	out := make(proxy.DataPush)
	for _, e := range t.sealed.Incoming[t.id] {
		for srcAttr, dstAttr := range e.AttrMap {
			var value any
			var ok bool
			if e.Trigger[dstAttr] {
				events := t.cache.DrainEvents(e.SrcEntity, srcAttr, e.DstEntity)
				for _, ev := range events {
					t.putInput(out, e.DstEntity.Eid, dstAttr, e.SrcEntity.FullID(), ev.Value)
				}
				continue
			}
			value, ok = t.cache.ReadMeasurementAt(e.SrcEntity, srcAttr, stepAt)
			if !ok {
				if iv, has := e.InitialValue(dstAttr); has {
					value, ok = iv, true
				}
			}
			if ok {
				t.putInput(out, e.DstEntity.Eid, dstAttr, e.SrcEntity.FullID(), value)
			}
		}
	}
	return out
}

func (t *task) putInput(out proxy.DataPush, eid, attr, srcFullID string, value any) {
	if out[eid] == nil {
		out[eid] = make(map[string]map[string]any)
	}
	if out[eid][attr] == nil {
		out[eid][attr] = make(map[string]any)
	}
	out[eid][attr][srcFullID] = value
}

// commitOutputs pulls the attribute values consumers need from the
// simulator's get_data() and writes them into the cache, as measurements
// or as published events depending on each destination attribute's kind.
func (t *task) commitOutputs(ctx context.Context, stepAt tick.Tick) error {
	wanted := make(map[string][]string)
	for _, e := range t.analyzer.Consumers(t.id) {
		for srcAttr := range e.AttrMap {
			wanted[e.SrcEntity.Eid] = appendUnique(wanted[e.SrcEntity.Eid], srcAttr)
		}
	}
	if len(wanted) == 0 {
		return nil
	}

	data, err := t.stepper.GetData(ctx, wanted)
	if err != nil {
		return cosimerr.NewSchedulingError(fmt.Sprintf("%q get_data failed: %v", t.id, err))
	}

	for _, e := range t.analyzer.Consumers(t.id) {
		attrs, ok := data[e.SrcEntity.Eid]
		if !ok {
			continue
		}
		for srcAttr, dstAttr := range e.AttrMap {
			v, ok := attrs[srcAttr]
			if !ok {
				continue
			}
			if e.Trigger[dstAttr] {
				t.cache.PublishEvent(e.SrcEntity, srcAttr, stepAt, v)
				// A trigger edge schedules its consumer's next step at the
				// event's own time (§4.6 step 8), not just at the
				// set_data/set_event mid-step callbacks: an ordinary
				// dataflow trigger edge must wake a waiting consumer too.
				t.progress.ScheduleStep(e.DstEntity.Sim, stepAt)
			} else {
				t.cache.CommitMeasurement(e.SrcEntity, srcAttr, stepAt, v)
			}
		}
	}
	return nil
}

// enterSameTimeLoop validates and counts a same-time re-step: a next_step
// at or before the current step time is only legal because a weak edge
// just delivered data at this tick, and is bounded by MaxLoopIterations.
func (t *task) enterSameTimeLoop(stepAt tick.Tick) error {
	if len(t.analyzer.WeakPredecessors(t.id)) == 0 {
		return cosimerr.NewSchedulingError(fmt.Sprintf("%q returned next_step <= t=%s with no weak predecessor to justify a same-time loop", t.id, stepAt))
	}
	t.loopMu.Lock()
	defer t.loopMu.Unlock()
	t.loopIters[stepAt]++
	if t.loopCounter != nil {
		t.loopCounter.Inc(1, string(t.id))
	}
	if t.loopIters[stepAt] > t.cfg.MaxLoopIterations {
		return cosimerr.NewSchedulingError(fmt.Sprintf("same-time loop at t=%s exceeded max_loop_iterations=%d", stepAt, t.cfg.MaxLoopIterations))
	}
	return nil
}

// awaitRealTime implements the §4.7 real-time pacing gate: step t may not
// execute before wall clock StartWall + t*TimeResolution/RTFactor. A
// disabled gate (RTFactor <= 0) returns immediately.
func (t *task) awaitRealTime(ctx context.Context, stepAt tick.Tick) error {
	if t.cfg.RTFactor <= 0 {
		return nil
	}
	secs := float64(stepAt) * t.cfg.TimeResolution / t.cfg.RTFactor
	deadline := t.cfg.StartWall.Add(time.Duration(secs * float64(time.Second)))

	clk := t.cfg.Clock
	now := clk.Now()
	if !now.Before(deadline) {
		missedBy := now.Sub(deadline)
		msg := fmt.Sprintf("%q missed real-time deadline for t=%s by %s", t.id, stepAt, missedBy)
		if t.cfg.RTStrict {
			return cosimerr.NewSchedulingError(msg)
		}
		t.recordWarning(msg)
		return nil
	}

	select {
	case <-clk.After(deadline.Sub(now)):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func appendUnique(list []string, item string) []string {
	for _, existing := range list {
		if existing == item {
			return list
		}
	}
	return append(list, item)
}
