package causality_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myorg/cosim/internal/causality"
	"github.com/myorg/cosim/internal/modelmeta"
	"github.com/myorg/cosim/internal/scenario"
	"github.com/myorg/cosim/internal/tick"
)

// testModel exposes one measurement and one event attribute in each
// direction, enough to exercise every edge kind and the warning rule.
func testModel() modelmeta.Model {
	return modelmeta.Model{
		Inputs:  map[string]modelmeta.AttrKind{"mIn": modelmeta.Measurement, "eIn": modelmeta.Event},
		Outputs: map[string]modelmeta.AttrKind{"mOut": modelmeta.Measurement, "eOut": modelmeta.Event},
	}
}

func testMeta(kind modelmeta.SimulatorKind) modelmeta.Meta {
	return modelmeta.Meta{
		APIVersion: "0.1",
		Kind:       kind,
		Models:     map[string]modelmeta.Model{"m": testModel()},
	}
}

func mustRegister(t *testing.T, g *scenario.Graph, sim string) modelmeta.EntityRef {
	t.Helper()
	id := modelmeta.SimulatorId(sim)
	require.NoError(t, g.RegisterSimulator(id, testMeta(modelmeta.TimeBased)))
	require.NoError(t, g.RegisterEntities(id, "m", []string{"e0"}))
	return modelmeta.EntityRef{Sim: id, Eid: "e0"}
}

// fakeProgress implements causality.ProgressSource from a plain map.
type fakeProgress map[modelmeta.SimulatorId]tick.Tick

func (f fakeProgress) Progress(sim modelmeta.SimulatorId) (tick.Tick, bool) {
	p, ok := f[sim]
	return p, !ok
}

func TestStraightChainRanksInEdgeOrder(t *testing.T) {
	g := scenario.NewGraph()
	a, b, c := mustRegister(t, g, "A"), mustRegister(t, g, "B"), mustRegister(t, g, "C")

	require.NoError(t, g.Connect(a, b, map[string]string{"mOut": "mIn"}, scenario.ConnectOptions{}))
	require.NoError(t, g.Connect(b, c, map[string]string{"mOut": "mIn"}, scenario.ConnectOptions{}))

	sealed, err := g.Seal()
	require.NoError(t, err)

	an, err := causality.Analyze(sealed)
	require.NoError(t, err)

	order := an.RankOrder()
	require.Equal(t, []modelmeta.SimulatorId{"A", "B", "C"}, order)
	assert.Less(t, an.Rank("A"), an.Rank("B"))
	assert.Less(t, an.Rank("B"), an.Rank("C"))
}

func TestCycleResolvedByTimeShiftIsLegal(t *testing.T) {
	g := scenario.NewGraph()
	a, b := mustRegister(t, g, "A"), mustRegister(t, g, "B")

	require.NoError(t, g.Connect(a, b, map[string]string{"mOut": "mIn"}, scenario.ConnectOptions{}))
	require.NoError(t, g.Connect(b, a, map[string]string{"mOut": "mIn"}, scenario.ConnectOptions{
		TimeShift:   true,
		InitialData: map[string]any{"mIn": 0.0},
	}))

	sealed, err := g.Seal()
	require.NoError(t, err)

	an, err := causality.Analyze(sealed)
	require.NoError(t, err)
	require.Len(t, an.RankOrder(), 2)
	assert.Len(t, an.ShiftedPredecessors("A"), 1)
	assert.Len(t, an.DirectPredecessors("B"), 1)
}

func TestSameTimeLoopViaWeakIsLegal(t *testing.T) {
	g := scenario.NewGraph()
	a, b := mustRegister(t, g, "A"), mustRegister(t, g, "B")

	require.NoError(t, g.Connect(a, b, map[string]string{"mOut": "mIn"}, scenario.ConnectOptions{}))
	require.NoError(t, g.Connect(b, a, map[string]string{"mOut": "mIn"}, scenario.ConnectOptions{Weak: true}))

	sealed, err := g.Seal()
	require.NoError(t, err)

	an, err := causality.Analyze(sealed)
	require.NoError(t, err)
	assert.Len(t, an.WeakPredecessors("A"), 1)
	assert.Empty(t, an.DirectPredecessors("A"))
}

func TestNonPersistentToNonTriggerWarns(t *testing.T) {
	g := scenario.NewGraph()
	a, b := mustRegister(t, g, "A"), mustRegister(t, g, "B")

	require.NoError(t, g.Connect(a, b, map[string]string{"eOut": "mIn"}, scenario.ConnectOptions{}))
	require.Len(t, g.Warnings(), 1)

	sealed, err := g.Seal()
	require.NoError(t, err)
	require.Len(t, sealed.Warnings, 1)
	assert.Contains(t, sealed.Warnings[0].Reason, "never be triggered")
}

func TestIllegalCycleRejected(t *testing.T) {
	g := scenario.NewGraph()
	a, b := mustRegister(t, g, "A"), mustRegister(t, g, "B")

	require.NoError(t, g.Connect(a, b, map[string]string{"mOut": "mIn"}, scenario.ConnectOptions{}))
	require.NoError(t, g.Connect(b, a, map[string]string{"mOut": "mIn"}, scenario.ConnectOptions{}))

	sealed, err := g.Seal()
	require.NoError(t, err)

	_, err = causality.Analyze(sealed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unresolved cycle")
}

func TestMaxAdvanceTightness(t *testing.T) {
	g := scenario.NewGraph()
	a, b := mustRegister(t, g, "A"), mustRegister(t, g, "B")
	require.NoError(t, g.Connect(a, b, map[string]string{"mOut": "mIn"}, scenario.ConnectOptions{}))

	sealed, err := g.Seal()
	require.NoError(t, err)
	an, err := causality.Analyze(sealed)
	require.NoError(t, err)

	// A has progressed to t=10, so B may be promised up to t=9 (A-1).
	progress := fakeProgress{"A": 10}
	adv, err := an.MaxAdvance("B", 3, 100, progress)
	require.NoError(t, err)
	assert.Equal(t, tick.Tick(9), adv)

	// A terminated: no longer constrains B, capped at until.
	progress = fakeProgress{}
	adv, err = an.MaxAdvance("B", 3, 100, progress)
	require.NoError(t, err)
	assert.Equal(t, tick.Tick(100), adv)

	// A has only progressed to 1 (<= tStep): promise collapses below the
	// step time itself, which is a scheduling bug, not a value to clamp.
	progress = fakeProgress{"A": 1}
	_, err = an.MaxAdvance("B", 3, 100, progress)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_advance")
}
