// Package modelmeta holds the scenario's shared vocabulary: simulator and
// entity identity, attribute kinds, simulator kinds, and the per-simulator
// model metadata returned by init(). These are plain, statically typed
// records rather than free-form JSON — the free-form wire shape is parsed
// once (see internal/proxy/protocol.go) and converted into these types, so
// everything above the transport boundary works with real Go types.
package modelmeta

import (
	"fmt"
	"strings"
)

// SimulatorId is an opaque, scenario-unique identifier for a simulator.
type SimulatorId string

// EntityRef addresses a single entity within a simulator.
type EntityRef struct {
	Sim SimulatorId
	Eid string
}

// FullID returns the canonical "sid.eid" cross-simulator address used in
// every remote method (§6). eid must not itself contain '.'; that is
// validated at entity-creation time, not here.
func (r EntityRef) FullID() string {
	return fmt.Sprintf("%s.%s", r.Sim, r.Eid)
}

func (r EntityRef) String() string { return r.FullID() }

// ParseEntityRef splits a wire "sid.eid" address back into its parts.
func ParseEntityRef(fullID string) (EntityRef, error) {
	idx := strings.IndexByte(fullID, '.')
	if idx < 0 {
		return EntityRef{}, fmt.Errorf("modelmeta: %q is not a valid full entity id", fullID)
	}
	return EntityRef{Sim: SimulatorId(fullID[:idx]), Eid: fullID[idx+1:]}, nil
}

// AttrKind distinguishes attributes defined for all time (Measurement) from
// attributes defined only at discrete instants (Event).
type AttrKind int

const (
	// Measurement attributes are "persistent": a value committed at t is
	// valid until the next commit.
	Measurement AttrKind = iota
	// Event attributes are "transient": a value exists only at its
	// t_event and is delivered at most once per consumer step.
	Event
)

func (k AttrKind) String() string {
	switch k {
	case Measurement:
		return "measurement"
	case Event:
		return "event"
	default:
		return "unknown"
	}
}

// SimulatorKind determines a simulator's stepping policy.
type SimulatorKind int

const (
	// TimeBased simulators step at self-chosen times; all attributes are
	// measurements.
	TimeBased SimulatorKind = iota
	// EventBased simulators step only when an event is scheduled for
	// them; attributes are events by default and a step may omit
	// outputs.
	EventBased
	// Hybrid simulators self-schedule and can also be triggered;
	// attribute kind is per-attribute.
	Hybrid
)

func (k SimulatorKind) String() string {
	switch k {
	case TimeBased:
		return "time-based"
	case EventBased:
		return "event-based"
	case Hybrid:
		return "hybrid"
	default:
		return "unknown"
	}
}

// ParseSimulatorKind maps the wire string (§6 meta.type) to a SimulatorKind.
func ParseSimulatorKind(s string) (SimulatorKind, error) {
	switch s {
	case "time-based":
		return TimeBased, nil
	case "event-based":
		return EventBased, nil
	case "hybrid":
		return Hybrid, nil
	default:
		return 0, fmt.Errorf("modelmeta: unknown simulator kind %q", s)
	}
}

// AttrSpec names one input or output attribute of a model.
type AttrSpec struct {
	Name string
	Kind AttrKind
}

// Model describes one of a simulator's model types: the params it accepts
// at create() time, and its typed inputs/outputs.
type Model struct {
	Params     map[string]struct{}
	Inputs     map[string]AttrKind
	Outputs    map[string]AttrKind
	AnyInputs  bool // true for sink-style models that accept any attribute
	PublicName bool
}

// HasInput reports whether the model declares an input attribute with the
// given name (AnyInputs bypasses the name check entirely).
func (m Model) HasInput(name string) (AttrKind, bool) {
	if m.AnyInputs {
		return Event, true
	}
	k, ok := m.Inputs[name]
	return k, ok
}

// HasOutput reports whether the model declares an output attribute with
// the given name.
func (m Model) HasOutput(name string) (AttrKind, bool) {
	k, ok := m.Outputs[name]
	return k, ok
}

// Meta is the parsed, typed form of a simulator's init() reply.
type Meta struct {
	APIVersion string
	Kind       SimulatorKind
	Models     map[string]Model
}

// ModelNamed returns the named model and whether it exists.
func (m Meta) ModelNamed(name string) (Model, bool) {
	mdl, ok := m.Models[name]
	return mdl, ok
}
