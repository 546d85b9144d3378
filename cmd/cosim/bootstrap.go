package main

import (
	"context"
	"fmt"

	"github.com/myorg/cosim/internal/config"
	"github.com/myorg/cosim/internal/modelmeta"
	"github.com/myorg/cosim/internal/proxy"
	"github.com/myorg/cosim/internal/scenario"
)

// connected bundles everything bootstrap produces: the populated (not yet
// sealed) graph and the live proxy for every simulator, keyed the same way
// runner.New expects.
type connected struct {
	graph   *scenario.Graph
	proxies map[modelmeta.SimulatorId]*proxy.Proxy
}

// bootstrap dials every simulator in cfg, runs its init()/create() handshake,
// and builds the scenario graph from the resulting entities and the
// scenario file's declared connections. Every dialed proxy is returned even
// on error, so the caller can still attempt a best-effort Close.
func bootstrap(ctx context.Context, cfg *config.Config) (*connected, error) {
	graph := scenario.NewGraph()
	proxies := make(map[modelmeta.SimulatorId]*proxy.Proxy, len(cfg.Simulators))

	for name, simCfg := range cfg.Simulators {
		id := modelmeta.SimulatorId(name)

		box := proxy.NewHandlerBox()
		transport, err := proxy.Dial(simCfg.Connect, box)
		if err != nil {
			return &connected{graph: graph, proxies: proxies}, fmt.Errorf("dialing simulator %q at %s: %w", id, simCfg.Connect, err)
		}
		p := proxy.New(id, transport, box)
		proxies[id] = p

		meta, err := p.Init(ctx, simCfg.Params)
		if err != nil {
			return &connected{graph: graph, proxies: proxies}, fmt.Errorf("initializing simulator %q: %w", id, err)
		}
		if err := graph.RegisterSimulator(id, meta); err != nil {
			return &connected{graph: graph, proxies: proxies}, err
		}

		for _, entCfg := range simCfg.Entities {
			descriptors, err := p.Create(ctx, entCfg.Model, entCfg.Num, entCfg.Params)
			if err != nil {
				return &connected{graph: graph, proxies: proxies}, fmt.Errorf("creating %d %q entities on %q: %w", entCfg.Num, entCfg.Model, id, err)
			}
			eids := make([]string, len(descriptors))
			for i, d := range descriptors {
				eids[i] = d.Eid
			}
			if err := graph.RegisterEntities(id, entCfg.Model, eids); err != nil {
				return &connected{graph: graph, proxies: proxies}, err
			}
			for _, d := range descriptors {
				for _, rel := range d.Rel {
					relRef, err := modelmeta.ParseEntityRef(rel)
					if err != nil {
						continue
					}
					graph.AddRelation(modelmeta.EntityRef{Sim: id, Eid: d.Eid}, relRef)
				}
			}
		}
	}

	for _, conn := range cfg.Connections {
		src, err := modelmeta.ParseEntityRef(conn.Src)
		if err != nil {
			return &connected{graph: graph, proxies: proxies}, fmt.Errorf("connection src %q: %w", conn.Src, err)
		}
		dst, err := modelmeta.ParseEntityRef(conn.Dst)
		if err != nil {
			return &connected{graph: graph, proxies: proxies}, fmt.Errorf("connection dst %q: %w", conn.Dst, err)
		}
		if err := graph.Connect(src, dst, conn.Attrs, scenario.ConnectOptions{
			TimeShift:   conn.TimeShift,
			Weak:        conn.Weak,
			InitialData: conn.InitialData,
		}); err != nil {
			return &connected{graph: graph, proxies: proxies}, fmt.Errorf("connecting %s->%s: %w", conn.Src, conn.Dst, err)
		}
	}

	for id, p := range proxies {
		if err := p.SetupDone(ctx); err != nil {
			return &connected{graph: graph, proxies: proxies}, fmt.Errorf("setup_done on %q: %w", id, err)
		}
	}

	return &connected{graph: graph, proxies: proxies}, nil
}

// closeAll tears down every proxy's transport, ignoring errors: it is only
// used on a bootstrap failure path, where the run never started.
func closeAll(proxies map[modelmeta.SimulatorId]*proxy.Proxy) {
	for _, p := range proxies {
		_ = p.Close()
	}
}
