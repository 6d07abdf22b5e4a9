package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/forgeloop/forgeloop/pkg/interfaces"
	"github.com/forgeloop/forgeloop/pkg/logger"
	"github.com/forgeloop/forgeloop/pkg/types"
)

// moduleRunner drives a single module through its build→validate→fix loop.
// It owns the module's declaration (Fix may replace it) and is the only
// writer of the module's state. Expected failures stay inside the runner as
// state; only truly fatal operation errors surface in the terminal verdict.
type moduleRunner struct {
	decl       types.ModuleDeclaration
	ops        interfaces.BuildOperations
	trace      interfaces.TraceSink
	store      interfaces.StateStore
	logger     logger.Logger
	maxIters   int
	opTimeout  time.Duration
	cancelled  func() bool

	state     types.ModuleState
	iteration int
	lastErr   error
	started   time.Time
	finished  time.Time
}

func newModuleRunner(
	decl types.ModuleDeclaration,
	ops interfaces.BuildOperations,
	trace interfaces.TraceSink,
	store interfaces.StateStore,
	log logger.Logger,
	opts types.EngineOptions,
	cancelled func() bool,
) *moduleRunner {
	maxIters := opts.MaxIterationsPerModule
	if maxIters <= 0 {
		maxIters = types.DefaultEngineOptions().MaxIterationsPerModule
	}
	return &moduleRunner{
		decl:      decl,
		ops:       ops,
		trace:     trace,
		store:     store,
		logger:    log.WithModule(string(decl.ID)),
		maxIters:  maxIters,
		opTimeout: opts.OperationTimeout,
		cancelled: cancelled,
		state:     types.ModuleStatePending,
	}
}

// Run executes the loop until a terminal state or a cancellation freeze.
// The returned state is terminal unless the build was cancelled while the
// module still had iterations left.
func (r *moduleRunner) Run(ctx context.Context) types.ModuleState {
	r.started = time.Now()
	r.iteration = 1
	r.transition(types.ModuleStateBuilding)

	var prevSignatures []string

	for {
		artifact, err := r.build(ctx)
		if err != nil {
			r.escalate(err)
			return r.state
		}

		r.transition(types.ModuleStateValidating)
		outcome, err := r.validate(ctx, artifact)
		if err != nil {
			r.escalate(err)
			return r.state
		}

		if outcome.Passed {
			r.transition(types.ModuleStatePassed)
			r.finished = time.Now()
			r.logger.Success(fmt.Sprintf("Passed after %d iteration(s)", r.iteration))
			return r.state
		}

		signatures := outcome.SignatureSet()
		r.logger.Debug("Validation failed",
			logger.WithField("iteration", r.iteration),
			logger.WithField("failures", len(signatures)))

		// No-forward-progress detector: two consecutive iterations with an
		// identical ordered failure-signature set will never converge.
		if prevSignatures != nil && equalSignatures(prevSignatures, signatures) {
			r.escalate(fmt.Errorf("no forward progress: failure signatures unchanged after iteration %d", r.iteration))
			return r.state
		}
		prevSignatures = signatures

		if r.iteration >= r.maxIters {
			r.escalate(fmt.Errorf("iterations exhausted: %d validation failures after %d iterations",
				len(outcome.Failures), r.iteration))
			return r.state
		}

		// Cancellation is cooperative: the current iteration completed, but
		// no further fixing iteration starts. The module freezes non-terminal.
		if r.cancelled != nil && r.cancelled() {
			r.finished = time.Now()
			r.logger.Warn("Build cancelled, freezing before next fix iteration")
			if r.store != nil {
				if serr := r.store.UpdateModuleError(r.decl.ID, types.ErrBuildCancelled); serr != nil {
					r.logger.Warn("Failed to persist module error", logger.WithField("error", serr))
				}
			}
			return r.state
		}

		r.transition(types.ModuleStateFixing)
		updated, err := r.fix(ctx, outcome)
		if err != nil {
			r.escalate(err)
			return r.state
		}
		r.decl = updated

		r.iteration++
		r.transition(types.ModuleStateBuilding)
	}
}

// State returns the runner's current state.
func (r *moduleRunner) State() types.ModuleState { return r.state }

// Iteration returns the number of build iterations consumed.
func (r *moduleRunner) Iteration() int { return r.iteration }

// Declaration returns the module declaration, including any updates
// produced by Fix operations.
func (r *moduleRunner) Declaration() types.ModuleDeclaration { return r.decl }

// Duration returns the wall time between the first Building transition and
// the terminal (or frozen) state.
func (r *moduleRunner) Duration() time.Duration {
	if r.started.IsZero() || r.finished.IsZero() {
		return 0
	}
	return r.finished.Sub(r.started)
}

func (r *moduleRunner) build(ctx context.Context) (types.BuildArtifact, error) {
	opCtx, cancel := r.operationContext(ctx)
	defer cancel()

	artifact, err := r.ops.Build(opCtx, r.decl)
	if err != nil {
		return types.BuildArtifact{}, r.operationError("build", err, opCtx)
	}
	return artifact, nil
}

func (r *moduleRunner) validate(ctx context.Context, artifact types.BuildArtifact) (types.ValidationOutcome, error) {
	opCtx, cancel := r.operationContext(ctx)
	defer cancel()

	outcome, err := r.ops.Validate(opCtx, r.decl, artifact)
	if err != nil {
		return types.ValidationOutcome{}, r.operationError("validate", err, opCtx)
	}
	return outcome, nil
}

func (r *moduleRunner) fix(ctx context.Context, outcome types.ValidationOutcome) (types.ModuleDeclaration, error) {
	opCtx, cancel := r.operationContext(ctx)
	defer cancel()

	updated, err := r.ops.Fix(opCtx, r.decl, outcome)
	if err != nil {
		return types.ModuleDeclaration{}, r.operationError("fix", err, opCtx)
	}
	return updated, nil
}

// operationContext layers the caller-supplied per-operation deadline on top
// of the build context.
func (r *moduleRunner) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.opTimeout)
}

func (r *moduleRunner) operationError(op string, err error, opCtx context.Context) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(opCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s", types.ErrOperationTimeout, r.opTimeout)
	}
	return &types.OperationError{Module: r.decl.ID, Operation: op, Err: err}
}

func (r *moduleRunner) escalate(err error) {
	r.lastErr = err
	r.logger.Error("Escalating module failure", logger.WithField("error", err))
	if r.store != nil {
		if serr := r.store.UpdateModuleError(r.decl.ID, err); serr != nil {
			r.logger.Warn("Failed to persist module error", logger.WithField("error", serr))
		}
	}
	r.transition(types.ModuleStateEscalated)
	r.finished = time.Now()
}

func (r *moduleRunner) transition(to types.ModuleState) {
	from := r.state
	r.state = to

	if r.trace != nil {
		r.trace.Record(types.TransitionEvent{
			Module:    r.decl.ID,
			From:      from,
			To:        to,
			Iteration: r.iteration,
			Timestamp: time.Now(),
		})
	}
	if r.store != nil {
		if err := r.store.UpdateModuleState(r.decl.ID, to, r.iteration); err != nil {
			r.logger.Warn("Failed to persist module state", logger.WithField("error", err))
		}
	}
}

func equalSignatures(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
