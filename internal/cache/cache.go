// Package cache implements the dataflow cache (C4): the store of committed
// measurement and event values that the scheduler and the remote services
// (get_data/set_data) read and write between simulator steps.
package cache

import (
	"math"
	"sync"

	"github.com/myorg/cosim/internal/modelmeta"
	"github.com/myorg/cosim/internal/tick"
)

// attrKey identifies one attribute of one entity.
type attrKey struct {
	entity modelmeta.EntityRef
	attr   string
}

// measurementEntry holds one committed value and the tick from which it is
// valid: the interval [validFrom, nextEntry.validFrom) or, for the newest
// entry, [validFrom, +inf).
type measurementEntry struct {
	validFrom tick.Tick
	value     any
}

// eventEntry is one pending event delivery, removed once every live
// consumer has read it.
type eventEntry struct {
	at      tick.Tick
	value   any
	pending map[modelmeta.EntityRef]struct{}
}

// Cache is the shared store behind every dataflow edge. Safe for
// concurrent use: the scheduler's per-simulator goroutines and the remote
// service handlers both read and write it.
type Cache struct {
	mu sync.Mutex

	// measurements holds, per (entity,attr), the ordered validity history
	// needed to answer "the value whose interval contains t" rather than
	// just the most recent commit: a producer may commit several times
	// before a lagging consumer's next read.
	measurements map[attrKey][]measurementEntry
	events       map[attrKey][]*eventEntry

	// consumers[entity][attr] is the set of entities registered to
	// consume events published there, used to seed eventEntry.pending
	// and to decide when an entry has no more live readers.
	consumers map[attrKey]map[modelmeta.EntityRef]struct{}

	// measurementConsumers[key] is the set of simulators registered to
	// read measurements committed at key, via a non-trigger dataflow
	// edge. It bounds how much history a key must retain: an entry can be
	// evicted once every registered, non-retired consumer's progress has
	// passed the start of the next entry.
	measurementConsumers map[attrKey]map[modelmeta.SimulatorId]struct{}
	consumerProgress     map[modelmeta.SimulatorId]tick.Tick
	consumerRetired      map[modelmeta.SimulatorId]bool
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		measurements:         make(map[attrKey][]measurementEntry),
		events:               make(map[attrKey][]*eventEntry),
		consumers:            make(map[attrKey]map[modelmeta.EntityRef]struct{}),
		measurementConsumers: make(map[attrKey]map[modelmeta.SimulatorId]struct{}),
		consumerProgress:     make(map[modelmeta.SimulatorId]tick.Tick),
		consumerRetired:      make(map[modelmeta.SimulatorId]bool),
	}
}

// SeedInitial installs a time-shifted edge's initial_data value as the
// measurement available before the producer's first commit.
func (c *Cache) SeedInitial(entity modelmeta.EntityRef, attr string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := attrKey{entity, attr}
	c.measurements[k] = []measurementEntry{{validFrom: tick.Zero, value: value}}
}

// RegisterEventConsumer records that consumer reads events published under
// (entity, attr), so future publishes know who must read an entry before
// it is evicted.
func (c *Cache) RegisterEventConsumer(entity modelmeta.EntityRef, attr string, consumer modelmeta.EntityRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := attrKey{entity, attr}
	if c.consumers[k] == nil {
		c.consumers[k] = make(map[modelmeta.EntityRef]struct{})
	}
	c.consumers[k][consumer] = struct{}{}
}

// RegisterMeasurementConsumer records that consumer reads measurements
// committed at (entity, attr) via an ordinary (non-trigger) dataflow edge,
// so AdvanceConsumer/Retire calls against it are reflected in this key's
// eviction gate. Must be called at seal time, before any step runs.
func (c *Cache) RegisterMeasurementConsumer(entity modelmeta.EntityRef, attr string, consumer modelmeta.SimulatorId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := attrKey{entity, attr}
	if c.measurementConsumers[k] == nil {
		c.measurementConsumers[k] = make(map[modelmeta.SimulatorId]struct{})
	}
	c.measurementConsumers[k][consumer] = struct{}{}
}

// AdvanceConsumer records that consumer has committed progress up to at
// least t, so it will never again read a measurement valid at a time < t.
// History entries that fall entirely before every live registered
// consumer's progress become eligible for eviction.
func (c *Cache) AdvanceConsumer(consumer modelmeta.SimulatorId, t tick.Tick) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t > c.consumerProgress[consumer] {
		c.consumerProgress[consumer] = t
	}
	for k := range c.measurementConsumers {
		c.evictMeasurementsLocked(k)
	}
}

// Retire marks consumer as no longer able to read (terminated), so it stops
// holding back eviction for every key it was registered against.
func (c *Cache) Retire(consumer modelmeta.SimulatorId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consumerRetired[consumer] = true
	for k := range c.measurementConsumers {
		c.evictMeasurementsLocked(k)
	}
}

// CommitMeasurement stores a new measurement value, valid from t onward,
// and evicts any history entry for this key that no live consumer can
// still need.
func (c *Cache) CommitMeasurement(entity modelmeta.EntityRef, attr string, t tick.Tick, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := attrKey{entity, attr}
	c.measurements[k] = append(c.measurements[k], measurementEntry{validFrom: t, value: value})
	c.evictMeasurementsLocked(k)
}

// ReadMeasurementAt returns the value whose validity interval
// [t_from, next_t_from) contains t: the latest committed entry with
// validFrom <= t. History is kept in commit order, so this is the last
// entry not exceeding t.
func (c *Cache) ReadMeasurementAt(entity modelmeta.EntityRef, attr string, t tick.Tick) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := c.measurements[attrKey{entity, attr}]
	var best *measurementEntry
	for i := range entries {
		if entries[i].validFrom > t {
			break
		}
		best = &entries[i]
	}
	if best == nil {
		return nil, false
	}
	return best.value, true
}

// evictMeasurementsLocked drops every history entry for k older than the
// one containing the minimum live registered consumer's progress, always
// keeping at least one entry. Callers must hold c.mu.
func (c *Cache) evictMeasurementsLocked(k attrKey) {
	entries := c.measurements[k]
	if len(entries) <= 1 {
		return
	}
	floor := c.minConsumerProgressLocked(k)
	keepFrom := 0
	for i := 1; i < len(entries); i++ {
		if entries[i].validFrom > floor {
			break
		}
		keepFrom = i
	}
	if keepFrom > 0 {
		c.measurements[k] = append([]measurementEntry(nil), entries[keepFrom:]...)
	}
}

// minConsumerProgressLocked returns the minimum progress among k's live
// (registered, non-retired) consumers, or +inf if there are none (no
// registered edge still needs this key's history, so it collapses to the
// latest entry). Callers must hold c.mu.
func (c *Cache) minConsumerProgressLocked(k attrKey) tick.Tick {
	const maxTick = tick.Tick(math.MaxInt64)
	min := maxTick
	live := false
	for consumer := range c.measurementConsumers[k] {
		if c.consumerRetired[consumer] {
			continue
		}
		live = true
		if p := c.consumerProgress[consumer]; p < min {
			min = p
		}
	}
	if !live {
		return maxTick
	}
	return min
}

// PublishEvent enqueues a value at t for every consumer currently
// registered against (entity, attr).
func (c *Cache) PublishEvent(entity modelmeta.EntityRef, attr string, t tick.Tick, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := attrKey{entity, attr}
	pending := make(map[modelmeta.EntityRef]struct{}, len(c.consumers[k]))
	for consumer := range c.consumers[k] {
		pending[consumer] = struct{}{}
	}
	c.events[k] = append(c.events[k], &eventEntry{at: t, value: value, pending: pending})
}

// DrainEvents returns every event published under (entity, attr) still
// pending for consumer, in publish order, and marks them delivered to
// consumer. Entries with no remaining live readers are evicted.
func (c *Cache) DrainEvents(entity modelmeta.EntityRef, attr string, consumer modelmeta.EntityRef) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := attrKey{entity, attr}
	entries := c.events[k]
	if len(entries) == 0 {
		return nil
	}

	var out []Event
	kept := entries[:0]
	for _, e := range entries {
		if _, due := e.pending[consumer]; due {
			out = append(out, Event{At: e.at, Value: e.value})
			delete(e.pending, consumer)
		}
		if len(e.pending) > 0 {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(c.events, k)
	} else {
		c.events[k] = kept
	}
	return out
}

// Event is one delivered event value.
type Event struct {
	At    tick.Tick
	Value any
}
