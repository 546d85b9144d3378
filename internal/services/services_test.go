package services_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myorg/cosim/internal/cache"
	"github.com/myorg/cosim/internal/modelmeta"
	"github.com/myorg/cosim/internal/scenario"
	"github.com/myorg/cosim/internal/services"
	"github.com/myorg/cosim/internal/tick"
)

type fakeProgress struct {
	values map[modelmeta.SimulatorId]tick.Tick
	term   map[modelmeta.SimulatorId]bool
	scheduled map[modelmeta.SimulatorId]tick.Tick
}

func newFakeProgress() *fakeProgress {
	return &fakeProgress{
		values:    make(map[modelmeta.SimulatorId]tick.Tick),
		term:      make(map[modelmeta.SimulatorId]bool),
		scheduled: make(map[modelmeta.SimulatorId]tick.Tick),
	}
}

func (f *fakeProgress) Progress(sim modelmeta.SimulatorId) (tick.Tick, bool) {
	return f.values[sim], f.term[sim]
}

func (f *fakeProgress) Await(sim modelmeta.SimulatorId, after tick.Tick) error {
	// Tests only call Await when progress is already sufficient or the
	// target has terminated; no real blocking needed here.
	return nil
}

func (f *fakeProgress) ScheduleStep(sim modelmeta.SimulatorId, at tick.Tick) {
	f.scheduled[sim] = at
}

func emptySealed() *scenario.Sealed {
	return &scenario.Sealed{
		Kind:     map[modelmeta.SimulatorId]modelmeta.SimulatorKind{"A": modelmeta.TimeBased, "B": modelmeta.EventBased},
		Incoming: map[modelmeta.SimulatorId][]*scenario.Edge{},
		Outgoing: map[modelmeta.SimulatorId][]*scenario.Edge{},
	}
}

func TestGetDataReadsCommittedValue(t *testing.T) {
	c := cache.New()
	entity := modelmeta.EntityRef{Sim: "A", Eid: "e0"}
	c.CommitMeasurement(entity, "out", tick.Tick(1), 3.0)

	prog := newFakeProgress()
	prog.values["A"] = 5
	svc := services.New(emptySealed(), c, prog, func() tick.Tick { return 2 })

	data, err := svc.GetData("B", 2, []services.DataPull{{Entity: entity, Attr: "out"}})
	require.NoError(t, err)
	assert.Equal(t, 3.0, data[entity]["out"])
}

func TestSetDataSchedulesEventBasedConsumer(t *testing.T) {
	c := cache.New()
	prog := newFakeProgress()
	svc := services.New(emptySealed(), c, prog, func() tick.Tick { return 4 })

	entity := modelmeta.EntityRef{Sim: "B", Eid: "e0"}
	err := svc.SetData(4, []services.DataPush{{Entity: entity, Attr: "in", Value: 1.0}})
	require.NoError(t, err)

	v, ok := c.ReadMeasurementAt(entity, "in", tick.Tick(4))
	require.True(t, ok)
	assert.Equal(t, 1.0, v)
	assert.Equal(t, tick.Tick(4), prog.scheduled["B"])
}

func TestSetEventRejectsPastTime(t *testing.T) {
	c := cache.New()
	prog := newFakeProgress()
	svc := services.New(emptySealed(), c, prog, func() tick.Tick { return 10 })

	entity := modelmeta.EntityRef{Sim: "B", Eid: "e0"}
	err := svc.SetEvent("A", 10, entity, "evt", tick.Tick(5), "payload")
	require.Error(t, err)
}

func TestSetEventDeliversAndSchedules(t *testing.T) {
	c := cache.New()
	consumer := modelmeta.EntityRef{Sim: "B", Eid: "e0"}
	c.RegisterEventConsumer(consumer, "evt", consumer)

	prog := newFakeProgress()
	svc := services.New(emptySealed(), c, prog, func() tick.Tick { return 10 })

	err := svc.SetEvent("A", 10, consumer, "evt", tick.Tick(12), "payload")
	require.NoError(t, err)
	assert.Equal(t, tick.Tick(12), prog.scheduled["B"])

	events := c.DrainEvents(consumer, "evt", consumer)
	require.Len(t, events, 1)
	assert.Equal(t, "payload", events[0].Value)
}
