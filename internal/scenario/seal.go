package scenario

import "github.com/myorg/cosim/internal/modelmeta"

// Sealed is the immutable view of a scenario graph handed to the causality
// analyzer and the scheduler. It is produced by Graph.Seal and carries no
// further mutation methods.
type Sealed struct {
	// Order lists simulator ids in insertion order; used as the
	// tie-break among equal-rank simulators (§9 open question 1).
	Order []modelmeta.SimulatorId
	Kind  map[modelmeta.SimulatorId]modelmeta.SimulatorKind

	Edges []*Edge

	// Incoming[sim] lists every edge whose destination is an entity of
	// sim; Outgoing[sim] lists every edge whose source is an entity of
	// sim.
	Incoming map[modelmeta.SimulatorId][]*Edge
	Outgoing map[modelmeta.SimulatorId][]*Edge

	Warnings []Warning
}

// Seal freezes the graph: no further RegisterSimulator/RegisterEntities/
// Connect calls are accepted. The caller still owns causality validation
// (internal/causality) — Seal itself only freezes the data and groups edges
// by simulator for O(1) lookup during scheduling.
func (g *Graph) Seal() (*Sealed, error) {
	if g.sealed {
		return nil, NewAlreadySealedError()
	}
	g.sealed = true

	s := &Sealed{
		Order:    append([]modelmeta.SimulatorId(nil), g.order...),
		Kind:     make(map[modelmeta.SimulatorId]modelmeta.SimulatorKind, len(g.simulators)),
		Edges:    append([]*Edge(nil), g.edges...),
		Incoming: make(map[modelmeta.SimulatorId][]*Edge),
		Outgoing: make(map[modelmeta.SimulatorId][]*Edge),
		Warnings: append([]Warning(nil), g.warnings...),
	}
	for id, se := range g.simulators {
		s.Kind[id] = se.kind
	}
	for _, e := range g.edges {
		s.Incoming[e.DstEntity.Sim] = append(s.Incoming[e.DstEntity.Sim], e)
		s.Outgoing[e.SrcEntity.Sim] = append(s.Outgoing[e.SrcEntity.Sim], e)
	}
	return s, nil
}

// NewAlreadySealedError reports a re-seal attempt.
func NewAlreadySealedError() error {
	return &alreadySealedError{}
}

type alreadySealedError struct{}

func (*alreadySealedError) Error() string { return "scenario: graph already sealed" }
