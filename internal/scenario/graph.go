// Package scenario implements the dataflow graph (C3): simulator-to-entity
// registration, edge connection with its validation rules, and the
// immutable Sealed view handed to the causality analyzer and scheduler once
// the scenario is frozen.
package scenario

import (
	"fmt"
	"strings"

	"github.com/myorg/cosim/internal/cosimerr"
	"github.com/myorg/cosim/internal/modelmeta"
)

// simulatorEntry tracks one registered simulator: its kind/model metadata
// and the entities created on it so far.
type simulatorEntry struct {
	id       modelmeta.SimulatorId
	kind     modelmeta.SimulatorKind
	meta     modelmeta.Meta
	order    int // insertion order, used for rank tie-breaking
	entities map[string]entityEntry // eid -> entity
}

type entityEntry struct {
	ref   modelmeta.EntityRef
	model string
}

// Warning is a non-fatal finding recorded at connect time (§4.3 rule 4):
// the graph still seals successfully, but callers (and the run report)
// should surface it.
type Warning struct {
	Edge   *Edge
	Reason string
}

// Graph is the mutable dataflow graph. Edges may only be added before
// Seal(); after that the graph is immutable and Seal returns a Sealed view.
type Graph struct {
	simulators map[modelmeta.SimulatorId]*simulatorEntry
	order      []modelmeta.SimulatorId

	edges    []*Edge
	edgeKeys map[edgeKey]*Edge

	// adjacency is the undirected entity graph, for introspection only
	// (services.GetRelatedEntities).
	adjacency map[modelmeta.EntityRef]map[modelmeta.EntityRef]struct{}

	warnings []Warning
	sealed   bool
}

// NewGraph creates an empty scenario graph.
func NewGraph() *Graph {
	return &Graph{
		simulators: make(map[modelmeta.SimulatorId]*simulatorEntry),
		edgeKeys:   make(map[edgeKey]*Edge),
		adjacency:  make(map[modelmeta.EntityRef]map[modelmeta.EntityRef]struct{}),
	}
}

// RegisterSimulator records a simulator's identity and the ModelMeta
// returned by its init() call. Must be called before any entity of this
// simulator is registered or any edge touching it is connected.
func (g *Graph) RegisterSimulator(id modelmeta.SimulatorId, meta modelmeta.Meta) error {
	if g.sealed {
		return cosimerr.NewScenarioError("cannot register simulator after seal")
	}
	if _, exists := g.simulators[id]; exists {
		return cosimerr.NewScenarioError(fmt.Sprintf("simulator %q already registered", id))
	}
	g.simulators[id] = &simulatorEntry{
		id:       id,
		kind:     meta.Kind,
		meta:     meta,
		order:    len(g.order),
		entities: make(map[string]entityEntry),
	}
	g.order = append(g.order, id)
	return nil
}

// RegisterEntities records entities created on sim by a create() call for
// the given model. eids must be unique within the simulator.
func (g *Graph) RegisterEntities(sim modelmeta.SimulatorId, model string, eids []string) error {
	if g.sealed {
		return cosimerr.NewScenarioError("cannot register entities after seal")
	}
	se, ok := g.simulators[sim]
	if !ok {
		return cosimerr.NewScenarioError(fmt.Sprintf("unknown simulator %q", sim))
	}
	if _, ok := se.meta.ModelNamed(model); !ok {
		return cosimerr.NewScenarioError(fmt.Sprintf("simulator %q has no model %q", sim, model))
	}
	for _, eid := range eids {
		if strings.Contains(eid, ".") {
			return cosimerr.NewScenarioError(fmt.Sprintf("entity id %q on simulator %q must not contain '.'", eid, sim))
		}
		if _, exists := se.entities[eid]; exists {
			return cosimerr.NewScenarioError(fmt.Sprintf("entity %q already exists on simulator %q", eid, sim))
		}
		se.entities[eid] = entityEntry{ref: modelmeta.EntityRef{Sim: sim, Eid: eid}, model: model}
	}
	return nil
}

// ConnectOptions carries an edge's modifiers (§3).
type ConnectOptions struct {
	TimeShift   bool
	Weak        bool
	InitialData map[string]any // keyed by destination attribute name
}

// Connect validates and adds an edge from srcEntity's output attributes to
// dstEntity's input attributes per attrMap (source attr name -> dest attr
// name). It implements all five validations from §4.3.
func (g *Graph) Connect(srcEntity, dstEntity modelmeta.EntityRef, attrMap map[string]string, opts ConnectOptions) error {
	if g.sealed {
		return cosimerr.NewScenarioError("cannot connect after seal")
	}
	if srcEntity.Sim == dstEntity.Sim {
		return cosimerr.NewScenarioError(fmt.Sprintf("cannot connect entities within the same simulator %q", srcEntity.Sim))
	}
	if opts.TimeShift && opts.Weak {
		return cosimerr.NewScenarioError("edge cannot be both time_shift and weak")
	}

	srcSim, ok := g.simulators[srcEntity.Sim]
	if !ok {
		return cosimerr.NewScenarioError(fmt.Sprintf("unknown simulator %q", srcEntity.Sim))
	}
	dstSim, ok := g.simulators[dstEntity.Sim]
	if !ok {
		return cosimerr.NewScenarioError(fmt.Sprintf("unknown simulator %q", dstEntity.Sim))
	}
	srcEnt, ok := srcSim.entities[srcEntity.Eid]
	if !ok {
		return cosimerr.NewScenarioError(fmt.Sprintf("unknown entity %q", srcEntity))
	}
	dstEnt, ok := dstSim.entities[dstEntity.Eid]
	if !ok {
		return cosimerr.NewScenarioError(fmt.Sprintf("unknown entity %q", dstEntity))
	}
	srcModel, _ := srcSim.meta.ModelNamed(srcEnt.model)
	dstModel, _ := dstSim.meta.ModelNamed(dstEnt.model)

	if len(attrMap) == 0 {
		return cosimerr.NewScenarioError("edge must map at least one attribute")
	}

	trigger := make(map[string]bool, len(attrMap))
	persistent := make(map[string]bool, len(attrMap))
	for srcAttr, dstAttr := range attrMap {
		srcKind, ok := srcModel.HasOutput(srcAttr)
		if !ok {
			return cosimerr.NewScenarioError(fmt.Sprintf("simulator %q model %q has no output %q", srcEntity.Sim, srcEnt.model, srcAttr))
		}
		dstKind, ok := dstModel.HasInput(dstAttr)
		if !ok {
			return cosimerr.NewScenarioError(fmt.Sprintf("simulator %q model %q has no input %q", dstEntity.Sim, dstEnt.model, dstAttr))
		}
		trigger[dstAttr] = dstKind == modelmeta.Event
		persistent[srcAttr] = srcKind == modelmeta.Measurement
	}

	if opts.TimeShift {
		for _, dstAttr := range attrMap {
			if _, ok := opts.InitialData[dstAttr]; !ok {
				return cosimerr.NewScenarioError(fmt.Sprintf("time_shift edge missing initial_data for %q", dstAttr))
			}
		}
	}

	var kind EdgeKind = Direct{}
	switch {
	case opts.TimeShift:
		kind = TimeShifted{Initial: opts.InitialData}
	case opts.Weak:
		kind = Weak{}
	}

	edge := &Edge{
		SrcEntity:  srcEntity,
		DstEntity:  dstEntity,
		AttrMap:    attrMap,
		Kind:       kind,
		Trigger:    trigger,
		Persistent: persistent,
	}

	for _, k := range edgeKeys(edge) {
		if existing, dup := g.edgeKeys[k]; dup && !sameModifiers(existing, edge) {
			return cosimerr.NewScenarioError(fmt.Sprintf("duplicate edge %s->%s with conflicting modifiers", k.srcEntity, k.dstEntity))
		}
	}

	for srcAttr, dstAttr := range attrMap {
		if !persistent[srcAttr] && !trigger[dstAttr] {
			g.warnings = append(g.warnings, Warning{
				Edge:   edge,
				Reason: fmt.Sprintf("%s.%s (event) connects to %s.%s (non-trigger measurement input): %s will never be triggered by this edge", srcEntity, srcAttr, dstEntity, dstAttr, dstEntity.Sim),
			})
		}
	}

	g.edges = append(g.edges, edge)
	for _, k := range edgeKeys(edge) {
		g.edgeKeys[k] = edge
	}
	g.linkEntities(srcEntity, dstEntity)
	return nil
}

// AddRelation records an undirected entity-graph edge from an entity
// descriptor's "rel" field (§6), independent of any dataflow Connect.
func (g *Graph) AddRelation(a, b modelmeta.EntityRef) {
	g.linkEntities(a, b)
}

func (g *Graph) linkEntities(a, b modelmeta.EntityRef) {
	if g.adjacency[a] == nil {
		g.adjacency[a] = make(map[modelmeta.EntityRef]struct{})
	}
	if g.adjacency[b] == nil {
		g.adjacency[b] = make(map[modelmeta.EntityRef]struct{})
	}
	g.adjacency[a][b] = struct{}{}
	g.adjacency[b][a] = struct{}{}
}

// RelatedEntities returns the entities directly linked to ref in the entity
// graph.
func (g *Graph) RelatedEntities(ref modelmeta.EntityRef) []modelmeta.EntityRef {
	neighbors := g.adjacency[ref]
	out := make([]modelmeta.EntityRef, 0, len(neighbors))
	for n := range neighbors {
		out = append(out, n)
	}
	return out
}

// Warnings returns the non-fatal findings recorded during Connect calls.
func (g *Graph) Warnings() []Warning {
	return g.warnings
}
