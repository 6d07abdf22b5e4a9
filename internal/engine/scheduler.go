package engine

import (
	"context"
	"sync"
	"time"

	"github.com/forgeloop/forgeloop/pkg/interfaces"
	"github.com/forgeloop/forgeloop/pkg/logger"
	"github.com/forgeloop/forgeloop/pkg/types"
)

// phaseScheduler runs every module of a phase concurrently and blocks until
// all of them reach a terminal (or cancellation-frozen) state. It is
// fail-soft within a phase: a failing module never short-circuits its
// siblings, so unrelated failures surface in the same pass.
type phaseScheduler struct {
	ops       interfaces.BuildOperations
	trace     interfaces.TraceSink
	store     interfaces.StateStore
	notifier  interfaces.BuildNotifier
	logger    logger.Logger
	opts      types.EngineOptions
	cancelled func() bool
}

// phaseOutcome extends the public PhaseResult with the runner-held
// declarations, which may have been updated by Fix operations.
type phaseOutcome struct {
	result       types.PhaseResult
	iterations   map[types.ModuleID]int
	declarations map[types.ModuleID]types.ModuleDeclaration
}

// runPhase executes one phase to its barrier. Module failures are states in
// the result map, never errors; the error return covers only runner panics.
func (s *phaseScheduler) runPhase(ctx context.Context, phase types.Phase, decls map[types.ModuleID]types.ModuleDeclaration) (phaseOutcome, error) {
	outcome := phaseOutcome{
		result: types.PhaseResult{
			PhaseIndex: phase.Index,
			AllPassed:  true,
			States:     make(map[types.ModuleID]types.ModuleState, len(phase.Modules)),
			Durations:  make(map[types.ModuleID]time.Duration, len(phase.Modules)),
		},
		iterations:   make(map[types.ModuleID]int, len(phase.Modules)),
		declarations: make(map[types.ModuleID]types.ModuleDeclaration, len(phase.Modules)),
	}

	s.logger.Info("Starting phase",
		logger.WithField("phase", phase.Index),
		logger.WithField("modules", len(phase.Modules)))

	var mu sync.Mutex
	g, _ := NewSafeGroup(ctx, s.logger)

	for _, id := range phase.Modules {
		decl, ok := decls[id]
		if !ok {
			continue
		}
		runner := newModuleRunner(decl, s.ops, s.trace, s.store, s.logger, s.opts, s.cancelled)

		g.Go(func() error {
			state := runner.Run(ctx)

			mu.Lock()
			outcome.result.States[decl.ID] = state
			outcome.result.Durations[decl.ID] = runner.Duration()
			outcome.iterations[decl.ID] = runner.Iteration()
			outcome.declarations[decl.ID] = runner.Declaration()
			mu.Unlock()

			if s.notifier != nil {
				switch state {
				case types.ModuleStatePassed:
					s.notifier.NotifyModulePassed(decl.ID, runner.Duration())
				case types.ModuleStateEscalated:
					s.notifier.NotifyModuleEscalated(decl.ID, runner.Iteration())
				}
			}
			return nil
		})
	}

	// Classic fan-out/fan-in barrier: the phase verdict only exists once
	// every runner has joined.
	if err := g.Wait(); err != nil {
		return outcome, err
	}

	for _, state := range outcome.result.States {
		if state != types.ModuleStatePassed {
			outcome.result.AllPassed = false
			break
		}
	}

	s.logger.Info("Phase complete",
		logger.WithField("phase", phase.Index),
		logger.WithField("allPassed", outcome.result.AllPassed))

	return outcome, nil
}
