// Package runner implements the run controller (C8): it seals a scenario,
// runs the causality analysis, wires up the dataflow cache and remote
// services, and drives the scheduler to completion, owning every piece of
// per-run mutable state itself rather than through package-level globals.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/myorg/cosim/internal/cache"
	"github.com/myorg/cosim/internal/causality"
	"github.com/myorg/cosim/internal/cosimerr"
	"github.com/myorg/cosim/internal/metrics"
	"github.com/myorg/cosim/internal/modelmeta"
	"github.com/myorg/cosim/internal/proxy"
	"github.com/myorg/cosim/internal/scenario"
	"github.com/myorg/cosim/internal/scheduler"
	"github.com/myorg/cosim/internal/services"
	"github.com/myorg/cosim/internal/tick"
)

// Options carries the run parameters of §4.6/§4.7.
type Options struct {
	Until             tick.Tick
	RTFactor          float64 // 0 disables real-time pacing
	RTStrict          bool
	MaxLoopIterations int
	LazyStepping      bool
	TimeResolution    float64 // seconds per tick, display/pacing only

	// MetricsProvider instruments live progress/steps_total/
	// same_time_loop_iterations; nil disables instrumentation.
	MetricsProvider metrics.Provider
}

// Report summarizes one completed run, handed to internal/report.
type Report struct {
	Until      tick.Tick
	Duration   time.Duration
	StepCounts map[modelmeta.SimulatorId]int
	Warnings   []scenario.Warning
	// RuntimeWarnings holds non-fatal findings from the run itself, such
	// as a real-time deadline missed outside strict mode.
	RuntimeWarnings []string
	// Metrics is the end-of-run step-duration snapshot.
	Metrics *metrics.Snapshot
}

// Runner owns one scenario's lifecycle from seal through shutdown. Every
// field here is per-run state; nothing is package-level, so multiple
// Runners can coexist in one process (e.g. concurrent test runs).
type Runner struct {
	graph *scenario.Graph

	sealed   *scenario.Sealed
	analyzer *causality.Analyzer
	cache    *cache.Cache
	proxies  map[modelmeta.SimulatorId]*proxy.Proxy
	metrics  *metrics.Collector

	opts Options
	log  *logrus.Entry
}

// New creates a Runner around a not-yet-sealed scenario graph and the
// simulator proxies already connected for it.
func New(graph *scenario.Graph, proxies map[modelmeta.SimulatorId]*proxy.Proxy, opts Options) *Runner {
	return &Runner{
		graph:   graph,
		proxies: proxies,
		opts:    opts,
		cache:   cache.New(),
		metrics: metrics.NewCollector(),
		log:     logrus.WithField("component", "runner"),
	}
}

// Seal freezes the scenario graph, runs the causality analysis, and seeds
// the cache with every time-shifted edge's initial_data. It must be called
// before Run. Returns the scenario's connect-time warnings for the caller
// to surface (e.g. in the run report or a `validate` CLI command).
func (r *Runner) Seal() ([]scenario.Warning, error) {
	sealed, err := r.graph.Seal()
	if err != nil {
		return nil, err
	}
	r.sealed = sealed

	analyzer, err := causality.Analyze(sealed)
	if err != nil {
		return sealed.Warnings, err
	}
	r.analyzer = analyzer

	for _, e := range sealed.Edges {
		for srcAttr, dstAttr := range e.AttrMap {
			if e.Trigger[dstAttr] {
				r.cache.RegisterEventConsumer(e.SrcEntity, srcAttr, e.DstEntity)
				continue
			}
			r.cache.RegisterMeasurementConsumer(e.SrcEntity, srcAttr, e.DstEntity.Sim)
			if v, ok := e.InitialValue(dstAttr); ok {
				r.cache.SeedInitial(e.SrcEntity, srcAttr, v)
			}
		}
	}

	return sealed.Warnings, nil
}

// Run drives every simulator to completion. Seal must have already been
// called successfully. On a fatal scheduling error, every task is
// cancelled and Shutdown is still attempted before the error is returned.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	if r.sealed == nil {
		return nil, cosimerr.NewSchedulingError("Run called before Seal")
	}

	sched := scheduler.New(r.sealed, r.analyzer, r.cache, scheduler.Config{
		Until:             r.opts.Until,
		MaxLoopIterations: r.opts.MaxLoopIterations,
		LazyStepping:      r.opts.LazyStepping,
		RTFactor:          r.opts.RTFactor,
		RTStrict:          r.opts.RTStrict,
		TimeResolution:    r.opts.TimeResolution,
		Metrics:           r.metrics,
		Provider:          r.opts.MetricsProvider,
	})

	svc := services.New(r.sealed, r.cache, sched.ProgressTable(), func() tick.Tick { return r.opts.Until })

	steppers := make(map[modelmeta.SimulatorId]scheduler.Stepper, len(r.proxies))
	for id, p := range r.proxies {
		steppers[id] = p
		if box := p.HandlerBox(); box != nil {
			box.Set(services.NewDispatcher(svc, id, func() tick.Tick { t, _ := p.Progress(); return t }))
		}
	}

	start := time.Now()
	runErr := sched.Run(ctx, steppers)
	duration := time.Since(start)
	stepCounts := sched.StepCounts()
	runtimeWarnings := sched.Warnings()

	shutdownErr := r.Shutdown(context.Background())
	if runErr != nil {
		return nil, runErr
	}
	if shutdownErr != nil {
		r.log.Warnf("shutdown: %v", shutdownErr)
	}

	return &Report{
		Until:           r.opts.Until,
		Duration:        duration,
		StepCounts:      stepCounts,
		Warnings:        r.sealed.Warnings,
		RuntimeWarnings: runtimeWarnings,
		Metrics:         r.metrics.GetSnapshot(),
	}, nil
}

// Shutdown sends stop() to every proxy and closes its transport. Errors
// are collected and joined rather than aborting partway through, since
// every simulator deserves a best-effort stop attempt.
func (r *Runner) Shutdown(ctx context.Context) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	var wg sync.WaitGroup
	for id, p := range r.proxies {
		wg.Add(1)
		go func(id modelmeta.SimulatorId, p *proxy.Proxy) {
			defer wg.Done()
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := p.Stop(stopCtx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", id, err))
				mu.Unlock()
			}
			_ = p.Close()
		}(id, p)
	}
	wg.Wait()

	if len(errs) == 0 {
		return nil
	}
	msg := errs[0].Error()
	for _, e := range errs[1:] {
		msg += "; " + e.Error()
	}
	return cosimerr.NewTransportError(msg, errs[0])
}
