// Package scheduler implements the per-simulator cooperative scheduler
// (C6): one goroutine per simulator runs the nine-step stepping cycle,
// coordinated through a shared progress table and dataflow cache, with a
// fatal error from any task cancelling the whole run.
package scheduler

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/myorg/cosim/internal/cache"
	"github.com/myorg/cosim/internal/causality"
	"github.com/myorg/cosim/internal/clock"
	"github.com/myorg/cosim/internal/metrics"
	"github.com/myorg/cosim/internal/modelmeta"
	"github.com/myorg/cosim/internal/scenario"
	"github.com/myorg/cosim/internal/tick"
)

// Scheduler drives every simulator's task for one run.
type Scheduler struct {
	sealed   *scenario.Sealed
	analyzer *causality.Analyzer
	cache    *cache.Cache
	cfg      Config
	progress *progressTable

	loopMu    sync.Mutex
	loopIters map[tick.Tick]int

	warnMu   sync.Mutex
	warnings []string

	log *logrus.Entry
}

// New builds a Scheduler for one sealed, analyzed scenario.
func New(sealed *scenario.Sealed, analyzer *causality.Analyzer, c *cache.Cache, cfg Config) *Scheduler {
	return &Scheduler{
		sealed:    sealed,
		analyzer:  analyzer,
		cache:     c,
		cfg:       cfg,
		progress:  newProgressTable(sealed.Order),
		loopIters: make(map[tick.Tick]int),
		log:       logrus.WithField("component", "scheduler"),
	}
}

// ProgressTable exposes the live progress table to internal/services,
// which needs it to answer get_progress/get_data/set_data/set_event.
func (s *Scheduler) ProgressTable() *progressTable { return s.progress }

// StepCounts returns how many times each simulator stepped, for the run
// report.
func (s *Scheduler) StepCounts() map[modelmeta.SimulatorId]int { return s.progress.StepCounts() }

// Warnings returns the non-fatal runtime findings accumulated during Run,
// such as a missed real-time deadline outside strict mode.
func (s *Scheduler) Warnings() []string {
	s.warnMu.Lock()
	defer s.warnMu.Unlock()
	out := make([]string, len(s.warnings))
	copy(out, s.warnings)
	return out
}

// Run spawns one task per simulator and blocks until every task has
// returned. The first fatal error from any task cancels the run context
// for the others and is the error Run returns.
func (s *Scheduler) Run(ctx context.Context, steppers map[modelmeta.SimulatorId]Stepper) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg := s.cfg
	if cfg.RTFactor > 0 {
		if cfg.Clock == nil {
			cfg.Clock = clock.NewRealClock()
		}
		if cfg.StartWall.IsZero() {
			cfg.StartWall = cfg.Clock.Now()
		}
	}

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)

	provider := cfg.Provider
	if provider == nil {
		provider = metrics.NewNoopProvider()
	}

	for _, id := range s.sealed.Order {
		id := id
		stepper, ok := steppers[id]
		if !ok {
			continue
		}
		t := &task{
			id:        id,
			kind:      s.sealed.Kind[id],
			stepper:   stepper,
			analyzer:  s.analyzer,
			sealed:    s.sealed,
			cache:     s.cache,
			progress:  s.progress,
			cfg:       cfg,
			log:       s.log.WithField("sim", string(id)),
			loopMu:    &s.loopMu,
			loopIters: s.loopIters,
			warnMu:    &s.warnMu,
			warnings:  &s.warnings,
			collector: cfg.Metrics,
			stepsCounter: provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
				Namespace: "cosim", Name: "steps_total", Labels: []string{"sim"},
			}}),
			progressGauge: provider.NewGauge(metrics.GaugeOpts{CommonOpts: metrics.CommonOpts{
				Namespace: "cosim", Name: "progress", Labels: []string{"sim"},
			}}),
			loopCounter: provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
				Namespace: "cosim", Name: "same_time_loop_iterations", Labels: []string{"sim"},
			}}),
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := t.run(runCtx); err != nil {
				errOnce.Do(func() {
					firstErr = err
					cancel()
				})
			}
		}()
	}

	wg.Wait()
	return firstErr
}
