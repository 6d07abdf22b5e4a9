// Package engine provides the core parallel build orchestration engine
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/forgeloop/forgeloop/pkg/conflict"
	"github.com/forgeloop/forgeloop/pkg/graph"
	"github.com/forgeloop/forgeloop/pkg/interfaces"
	"github.com/forgeloop/forgeloop/pkg/logger"
	"github.com/forgeloop/forgeloop/pkg/metrics"
	"github.com/forgeloop/forgeloop/pkg/types"
)

// BuildContext carries per-build identity and configuration. It is an
// explicit value handed to every component; there is no process-wide
// current-build singleton.
type BuildContext struct {
	BuildID   string
	BuildKind string
	Options   types.EngineOptions
	StartedAt time.Time
}

// Orchestrator drives a build plan phase by phase: fan out the phase's
// module runners, join at the barrier, cross-check interfaces at the
// configured checkpoint, then advance or halt.
type Orchestrator struct {
	config   *types.BuildConfig
	options  types.EngineOptions
	logger   logger.Logger
	ops      interfaces.BuildOperations
	detector interfaces.ConflictDetector
	store    interfaces.StateStore
	notifier interfaces.BuildNotifier
	analyzer *metrics.Analyzer
	trace    *TraceRecorder
	sink     interfaces.TraceSink

	// completed is the append-only view of modules built so far, consumed
	// by the conflict detector under a snapshot. No module's declaration
	// changes after it reaches Passed.
	completed   []types.ModuleDeclaration
	completedMu sync.Mutex

	cancelled atomic.Bool
	isRunning bool
	mu        sync.Mutex
}

// New creates an orchestrator. The Operations dependency is required; the
// remaining collaborators default to inert implementations.
func New(config *types.BuildConfig, log logger.Logger, deps interfaces.EngineDependencies) *Orchestrator {
	if deps.Operations == nil {
		panic("Operations dependency is required")
	}

	options := types.DefaultEngineOptions()
	if config.Engine != nil {
		options = *config.Engine
		if options.MaxIterationsPerModule <= 0 {
			options.MaxIterationsPerModule = types.DefaultEngineOptions().MaxIterationsPerModule
		}
		if options.ConflictCheckpoint == "" {
			options.ConflictCheckpoint = types.DefaultEngineOptions().ConflictCheckpoint
		}
	}

	detector := deps.ConflictDetector
	if detector == nil {
		detector = conflict.NewDetector(nil)
	}

	// The orchestrator always records its own trace for metrics; an
	// injected sink observes the same event stream.
	trace := NewTraceRecorder()
	var sink interfaces.TraceSink = trace
	if deps.TraceSink != nil {
		sink = teeSink{trace, deps.TraceSink}
	}

	return &Orchestrator{
		config:   config,
		options:  options,
		logger:   log,
		ops:      deps.Operations,
		detector: detector,
		store:    deps.StateStore,
		notifier: deps.Notifier,
		analyzer: metrics.NewAnalyzer(deps.HistoricalLookup),
		trace:    trace,
		sink:     sink,
	}
}

// Cancel requests cooperative cancellation: in-flight iterations finish, no
// new fixing iterations or phases start.
func (o *Orchestrator) Cancel() {
	if o.cancelled.CompareAndSwap(false, true) {
		o.logger.Warn("Build cancellation requested")
	}
}

// Trace exposes the build's transition events for external reporting.
func (o *Orchestrator) Trace() []types.TransitionEvent {
	return o.trace.Snapshot()
}

// RunWithContext executes the full build and returns its result. Build-level
// failures (cycles aside) are verdicts, not errors: the error return is
// reserved for plan analysis failures and internal faults.
func (o *Orchestrator) RunWithContext(ctx context.Context) (*types.BuildResult, error) {
	o.mu.Lock()
	if o.isRunning {
		o.mu.Unlock()
		return nil, fmt.Errorf("orchestrator is already running")
	}
	o.isRunning = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.isRunning = false
		o.mu.Unlock()
	}()

	bctx := BuildContext{
		BuildID:   uuid.New().String(),
		BuildKind: o.config.BuildKind,
		Options:   o.options,
		StartedAt: time.Now(),
	}

	plan, err := graph.NewAnalyzer().Plan(o.config.Modules)
	if err != nil {
		// CycleDetected and unknown dependencies are fatal: no partial build.
		return nil, err
	}

	o.logger.Info("Starting build",
		logger.WithField("buildId", bctx.BuildID),
		logger.WithField("phases", len(plan.Phases)),
		logger.WithField("modules", plan.ModuleCount()),
		logger.WithField("strategy", plan.Strategy))

	if o.store != nil {
		for _, decl := range o.config.Modules {
			if err := o.store.InitializeState(decl); err != nil {
				o.logger.Warn("Failed to initialize module state", logger.WithField("error", err))
			}
		}
		o.store.StartHeartbeat(ctx)
		defer o.store.StopHeartbeat()
	}
	if o.notifier != nil {
		o.notifier.NotifyBuildStart(bctx.BuildID, plan.ModuleCount())
	}

	declsByID := make(map[types.ModuleID]types.ModuleDeclaration, len(o.config.Modules))
	for _, d := range o.config.Modules {
		declsByID[d.ID] = d
	}

	scheduler := &phaseScheduler{
		ops:       o.ops,
		trace:     o.sink,
		store:     o.store,
		notifier:  o.notifier,
		logger:    o.logger,
		opts:      o.options,
		cancelled: func() bool { return o.cancelled.Load() || ctx.Err() != nil },
	}

	result := &types.BuildResult{BuildID: bctx.BuildID}

	for _, phase := range plan.Phases {
		if o.cancelled.Load() || ctx.Err() != nil {
			return o.finish(bctx, plan, result, types.BuildVerdictCancelled), nil
		}

		outcome, err := scheduler.runPhase(ctx, phase, declsByID)
		result.PhaseResults = append(result.PhaseResults, outcome.result)
		if err != nil {
			return nil, fmt.Errorf("phase %d failed: %w", phase.Index, err)
		}

		o.recordCompleted(outcome)

		if o.cancelled.Load() || ctx.Err() != nil {
			return o.finish(bctx, plan, result, types.BuildVerdictCancelled), nil
		}

		if !outcome.result.AllPassed {
			// Dependents must not build against unverified foundations.
			result.FailedModules = outcome.result.FailedModules()
			o.logger.Error("Phase failed, halting build",
				logger.WithField("phase", phase.Index),
				logger.WithField("failed", result.FailedModules))
			return o.finish(bctx, plan, result, types.BuildVerdictFailed), nil
		}

		if o.options.ConflictCheckpoint == types.ConflictCheckpointPerPhase {
			report := o.detector.Detect(o.completedSnapshot())
			if report.HasCritical() {
				result.ConflictReport = &report
				o.logger.Error("Critical integration conflict after phase",
					logger.WithField("phase", phase.Index),
					logger.WithField("criticals", len(report.Criticals())))
				return o.finish(bctx, plan, result, types.BuildVerdictConflictBlocked), nil
			}
		}
	}

	// Whole-build conflict pass, regardless of checkpoint configuration.
	report := o.detector.Detect(o.completedSnapshot())
	result.ConflictReport = &report
	if report.HasCritical() {
		return o.finish(bctx, plan, result, types.BuildVerdictConflictBlocked), nil
	}

	return o.finish(bctx, plan, result, types.BuildVerdictSuccess), nil
}

// Run executes the build with a background context.
func (o *Orchestrator) Run() (*types.BuildResult, error) {
	return o.RunWithContext(context.Background())
}

// recordCompleted appends passed modules' final declarations to the
// cumulative view. Append-only; declarations are frozen once Passed.
func (o *Orchestrator) recordCompleted(outcome phaseOutcome) {
	o.completedMu.Lock()
	defer o.completedMu.Unlock()
	for id, state := range outcome.result.States {
		if state == types.ModuleStatePassed {
			o.completed = append(o.completed, outcome.declarations[id])
		}
	}
}

func (o *Orchestrator) completedSnapshot() []types.ModuleDeclaration {
	o.completedMu.Lock()
	defer o.completedMu.Unlock()
	snap := make([]types.ModuleDeclaration, len(o.completed))
	copy(snap, o.completed)
	return snap
}

func (o *Orchestrator) finish(bctx BuildContext, plan *types.BuildPlan, result *types.BuildResult, verdict types.BuildVerdict) *types.BuildResult {
	result.Verdict = verdict

	if record, err := o.analyzer.Analyze(bctx.BuildKind, o.trace.Snapshot(), plan); err == nil {
		result.Metrics = record
		result.Delta = o.analyzer.Compare(record)
	} else {
		o.logger.Debug("Metrics unavailable", logger.WithField("reason", err))
	}

	duration := time.Since(bctx.StartedAt)
	if o.notifier != nil {
		o.notifier.NotifyVerdict(verdict, duration)
	}

	switch verdict {
	case types.BuildVerdictSuccess:
		o.logger.Success(fmt.Sprintf("Build succeeded in %s", duration.Round(time.Millisecond)))
	case types.BuildVerdictCancelled:
		o.logger.Warn("Build cancelled", logger.WithField("duration", duration.Round(time.Millisecond)))
	default:
		o.logger.Error("Build did not succeed",
			logger.WithField("verdict", verdict),
			logger.WithField("duration", duration.Round(time.Millisecond)))
	}

	return result
}
