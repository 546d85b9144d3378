// Package services implements the remote services (C7): the callback
// methods a simulator may invoke on the core in the middle of its own
// step() — get_progress, get_related_entities, get_data (same-time pull),
// set_data (async push), and set_event (event injection). Calls are not
// serialized: each one is served on its own transport goroutine, and the
// core does not hold back a simulator's step reply until its callbacks have
// completed. A get_data pull does wait for the target's progress to pass
// the caller's time before reading.
package services

import (
	"fmt"
	"sync"

	"github.com/myorg/cosim/internal/cache"
	"github.com/myorg/cosim/internal/cosimerr"
	"github.com/myorg/cosim/internal/modelmeta"
	"github.com/myorg/cosim/internal/scenario"
	"github.com/myorg/cosim/internal/tick"
)

// ProgressTable is the live view of per-simulator progress the scheduler
// maintains; Services reads it to answer get_progress and to decide
// whether a get_data pull must suspend the caller.
type ProgressTable interface {
	Progress(sim modelmeta.SimulatorId) (progress tick.Tick, terminated bool)
	// Await blocks until sim's progress exceeds after, or sim terminates;
	// cancelling the run does not end the wait. It is how a pulling
	// simulator suspends rather than reading stale data.
	Await(sim modelmeta.SimulatorId, after tick.Tick) error
	// ScheduleStep records that sim must step no later than at, used by
	// set_data (for event-based consumers) and set_event.
	ScheduleStep(sim modelmeta.SimulatorId, at tick.Tick)
}

// Services answers a simulator's mid-step callbacks against the scenario
// graph, the shared cache, and the scheduler's live progress table.
type Services struct {
	mu       sync.Mutex // taken only by GetProgress; other calls do not lock it
	sealed   *scenario.Sealed
	c        *cache.Cache
	progress ProgressTable
	now      func() tick.Tick
}

// New builds a Services instance. now is stored on the instance but no
// method reads it: SetEvent checks t against its callerTime argument.
func New(sealed *scenario.Sealed, c *cache.Cache, progress ProgressTable, now func() tick.Tick) *Services {
	return &Services{sealed: sealed, c: c, progress: progress, now: now}
}

// GetProgress answers get_progress(): the caller's own committed progress.
func (s *Services) GetProgress(caller modelmeta.SimulatorId) (tick.Tick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, _ := s.progress.Progress(caller)
	return p, nil
}

// GetRelatedEntities answers get_related_entities(ids): entities directly
// linked in the entity graph to any of ids.
func (s *Services) GetRelatedEntities(ids []modelmeta.EntityRef) (map[modelmeta.EntityRef][]modelmeta.EntityRef, error) {
	out := make(map[modelmeta.EntityRef][]modelmeta.EntityRef, len(ids))
	for _, id := range ids {
		out[id] = s.sealed.RelatedEntities(id)
	}
	return out, nil
}

// DataPull is one requested (entity, attr) pair for GetData.
type DataPull struct {
	Entity modelmeta.EntityRef
	Attr   string
}

// GetData answers get_data(pulls): a same-time pull of measurement values
// from arbitrary entities, not necessarily predecessors. Per §5, the
// target's progress must already exceed the caller's current time; if not,
// the caller suspends until it does (or the target terminates).
func (s *Services) GetData(caller modelmeta.SimulatorId, callerTime tick.Tick, pulls []DataPull) (map[modelmeta.EntityRef]map[string]any, error) {
	for _, pull := range pulls {
		if err := s.progress.Await(pull.Entity.Sim, callerTime); err != nil {
			return nil, cosimerr.NewSchedulingError(fmt.Sprintf("get_data from %q waiting on %q: %v", caller, pull.Entity.Sim, err))
		}
	}

	out := make(map[modelmeta.EntityRef]map[string]any)
	for _, pull := range pulls {
		v, ok := s.c.ReadMeasurementAt(pull.Entity, pull.Attr, callerTime)
		if !ok {
			continue
		}
		if out[pull.Entity] == nil {
			out[pull.Entity] = make(map[string]any)
		}
		out[pull.Entity][pull.Attr] = v
	}
	return out, nil
}

// DataPush is one (entity, attr, value) write requested by set_data.
type DataPush struct {
	Entity modelmeta.EntityRef
	Attr   string
	Value  any
}

// SetData answers set_data(pushes): each value is committed to the cache as
// a measurement under the target (entity, attr), valid from t. If the
// target simulator is event-based or hybrid, this also schedules a step for
// it at t; the attribute's kind is not consulted.
func (s *Services) SetData(t tick.Tick, pushes []DataPush) error {
	for _, push := range pushes {
		s.c.CommitMeasurement(push.Entity, push.Attr, t, push.Value)
		kind, ok := s.sealed.Kind[push.Entity.Sim]
		if ok && (kind == modelmeta.EventBased || kind == modelmeta.Hybrid) {
			s.progress.ScheduleStep(push.Entity.Sim, t)
		}
	}
	return nil
}

// SetEvent answers set_event(t, sid): an external event injection. t must
// not be in the caller's past (§5); sid is empty to mean "deliver to
// whichever entity/attr the caller implicitly targets" — callers pass an
// explicit sid in practice, so this takes one fully resolved target.
func (s *Services) SetEvent(caller modelmeta.SimulatorId, callerTime tick.Tick, target modelmeta.EntityRef, attr string, t tick.Tick, value any) error {
	if t < callerTime {
		return cosimerr.NewSchedulingError(fmt.Sprintf("set_event from %q: t=%s precedes current time %s", caller, t, callerTime))
	}
	s.c.PublishEvent(target, attr, t, value)
	s.progress.ScheduleStep(target.Sim, t)
	return nil
}
