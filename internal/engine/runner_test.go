package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/forgeloop/forgeloop/pkg/interfaces"
	"github.com/forgeloop/forgeloop/pkg/logger"
	"github.com/forgeloop/forgeloop/pkg/mocks"
	"github.com/forgeloop/forgeloop/pkg/types"
)

func testLogger() logger.Logger {
	return logger.CreateLoggerWithOutput("", "debug", nil)
}

func failure(signature string) types.ValidationOutcome {
	return types.ValidationOutcome{
		Passed:   false,
		Failures: []types.FailureRecord{{Signature: signature, Detail: "synthetic"}},
	}
}

func passed() types.ValidationOutcome {
	return types.ValidationOutcome{Passed: true}
}

func newTestRunner(decl types.ModuleDeclaration, ops *mocks.MockBuildOperations, store interfaces.StateStore, opts types.EngineOptions, cancelled func() bool) (*moduleRunner, *TraceRecorder) {
	trace := NewTraceRecorder()
	return newModuleRunner(decl, ops, trace, store, testLogger(), opts, cancelled), trace
}

func TestRunnerPassesFirstIteration(t *testing.T) {
	ops := mocks.NewMockBuildOperations()
	runner, trace := newTestRunner(types.ModuleDeclaration{ID: "clean"}, ops, nil, types.EngineOptions{}, nil)

	state := runner.Run(context.Background())

	if state != types.ModuleStatePassed {
		t.Fatalf("state = %s, want passed", state)
	}
	if runner.Iteration() != 1 {
		t.Errorf("iterations = %d, want 1", runner.Iteration())
	}
	if got := ops.BuildCalls("clean"); got != 1 {
		t.Errorf("build calls = %d, want 1", got)
	}
	if got := ops.ValidateCalls("clean"); got != 1 {
		t.Errorf("validate calls = %d, want 1", got)
	}
	if got := ops.FixCalls("clean"); got != 0 {
		t.Errorf("fix calls = %d, want 0", got)
	}

	wantStates := []types.ModuleState{
		types.ModuleStateBuilding,
		types.ModuleStateValidating,
		types.ModuleStatePassed,
	}
	events := trace.ModuleEvents("clean")
	if len(events) != len(wantStates) {
		t.Fatalf("got %d events, want %d", len(events), len(wantStates))
	}
	for i, want := range wantStates {
		if events[i].To != want {
			t.Errorf("event %d transitions to %s, want %s", i, events[i].To, want)
		}
	}
	if events[0].From != types.ModuleStatePending {
		t.Errorf("first transition leaves %s, want pending", events[0].From)
	}
}

// A runner without a state store still drives the loop to a terminal
// state; persistence is strictly optional.
func TestRunnerRunsWithoutStateStore(t *testing.T) {
	ops := mocks.NewMockBuildOperations()
	ops.Script("detached", mocks.ModuleScript{
		Outcomes: []types.ValidationOutcome{failure("test:one"), failure("test:one")},
	})
	runner, _ := newTestRunner(types.ModuleDeclaration{ID: "detached"}, ops, nil,
		types.EngineOptions{MaxIterationsPerModule: 5}, nil)

	if state := runner.Run(context.Background()); state != types.ModuleStateEscalated {
		t.Fatalf("state = %s, want escalated", state)
	}
}

func TestRunnerFixLoopConverges(t *testing.T) {
	ops := mocks.NewMockBuildOperations()
	ops.Script("flaky", mocks.ModuleScript{
		Outcomes: []types.ValidationOutcome{failure("lint:unused"), passed()},
	})
	runner, trace := newTestRunner(types.ModuleDeclaration{ID: "flaky"}, ops, nil, types.EngineOptions{}, nil)

	state := runner.Run(context.Background())

	if state != types.ModuleStatePassed {
		t.Fatalf("state = %s, want passed", state)
	}
	if runner.Iteration() != 2 {
		t.Errorf("iterations = %d, want 2", runner.Iteration())
	}
	if got := ops.FixCalls("flaky"); got != 1 {
		t.Errorf("fix calls = %d, want 1", got)
	}

	// The second iteration must rebuild before revalidating.
	var sawFixing bool
	for _, ev := range trace.ModuleEvents("flaky") {
		if ev.To == types.ModuleStateFixing {
			sawFixing = true
		}
		if sawFixing && ev.To == types.ModuleStateValidating && ev.From != types.ModuleStateBuilding {
			t.Errorf("validation after fix must follow a rebuild, came from %s", ev.From)
		}
	}
	if !sawFixing {
		t.Error("trace never entered fixing")
	}
}

func TestRunnerExhaustsIterations(t *testing.T) {
	ops := mocks.NewMockBuildOperations()
	// Distinct signatures each round keep the progress detector quiet, so
	// only the iteration cap can end the loop.
	ops.Script("stubborn", mocks.ModuleScript{
		Outcomes: []types.ValidationOutcome{
			failure("test:alpha"),
			failure("test:beta"),
			failure("test:gamma"),
			failure("test:delta"),
		},
	})
	store := mocks.NewMockStateStore()
	store.InitializeState(types.ModuleDeclaration{ID: "stubborn"})
	runner, _ := newTestRunner(types.ModuleDeclaration{ID: "stubborn"}, ops, store,
		types.EngineOptions{MaxIterationsPerModule: 3}, nil)

	state := runner.Run(context.Background())

	if state != types.ModuleStateEscalated {
		t.Fatalf("state = %s, want escalated", state)
	}
	if got := ops.BuildCalls("stubborn"); got != 3 {
		t.Errorf("build calls = %d, want exactly the iteration cap", got)
	}
	if got := ops.FixCalls("stubborn"); got != 2 {
		t.Errorf("fix calls = %d, want 2", got)
	}

	snap, _ := store.ReadState("stubborn")
	if snap == nil || !strings.Contains(snap.LastError, "iterations exhausted") {
		t.Errorf("persisted error = %+v, want iterations exhausted", snap)
	}
}

func TestRunnerNoForwardProgress(t *testing.T) {
	ops := mocks.NewMockBuildOperations()
	// Identical ordered signature sets on consecutive iterations escalate
	// immediately, well before the iteration cap.
	ops.Script("stuck", mocks.ModuleScript{
		Outcomes: []types.ValidationOutcome{
			{Passed: false, Failures: []types.FailureRecord{{Signature: "type:mismatch"}, {Signature: "test:timeout"}}},
			{Passed: false, Failures: []types.FailureRecord{{Signature: "type:mismatch"}, {Signature: "test:timeout"}}},
		},
	})
	store := mocks.NewMockStateStore()
	store.InitializeState(types.ModuleDeclaration{ID: "stuck"})
	runner, _ := newTestRunner(types.ModuleDeclaration{ID: "stuck"}, ops, store,
		types.EngineOptions{MaxIterationsPerModule: 10}, nil)

	state := runner.Run(context.Background())

	if state != types.ModuleStateEscalated {
		t.Fatalf("state = %s, want escalated", state)
	}
	if got := ops.BuildCalls("stuck"); got != 2 {
		t.Errorf("build calls = %d, want 2", got)
	}

	snap, _ := store.ReadState("stuck")
	if snap == nil || !strings.Contains(snap.LastError, "no forward progress") {
		t.Errorf("persisted error = %+v, want no forward progress", snap)
	}
}

// Reordered failure signatures are not "no progress": the set changed.
func TestRunnerReorderedSignaturesKeepLooping(t *testing.T) {
	ops := mocks.NewMockBuildOperations()
	ops.Script("shuffled", mocks.ModuleScript{
		Outcomes: []types.ValidationOutcome{
			{Passed: false, Failures: []types.FailureRecord{{Signature: "a"}, {Signature: "b"}}},
			{Passed: false, Failures: []types.FailureRecord{{Signature: "b"}, {Signature: "a"}}},
			passed(),
		},
	})
	runner, _ := newTestRunner(types.ModuleDeclaration{ID: "shuffled"}, ops, nil,
		types.EngineOptions{MaxIterationsPerModule: 5}, nil)

	if state := runner.Run(context.Background()); state != types.ModuleStatePassed {
		t.Fatalf("state = %s, want passed", state)
	}
	if runner.Iteration() != 3 {
		t.Errorf("iterations = %d, want 3", runner.Iteration())
	}
}

// A fix can regress the build itself; the rebuild failure is fatal.
func TestRunnerFixBreaksRebuild(t *testing.T) {
	ops := mocks.NewMockBuildOperations()
	ops.Script("regressed", mocks.ModuleScript{
		Outcomes:  []types.ValidationOutcome{failure("test:x")},
		BuildErrs: []error{nil, errors.New("undefined symbol after fix")},
	})
	runner, _ := newTestRunner(types.ModuleDeclaration{ID: "regressed"}, ops, nil,
		types.EngineOptions{MaxIterationsPerModule: 5}, nil)

	if state := runner.Run(context.Background()); state != types.ModuleStateEscalated {
		t.Fatalf("state = %s, want escalated", state)
	}
	if got := ops.BuildCalls("regressed"); got != 2 {
		t.Errorf("build calls = %d, want 2", got)
	}
	if got := ops.FixCalls("regressed"); got != 1 {
		t.Errorf("fix calls = %d, want 1", got)
	}
}

func TestRunnerFatalOperationErrors(t *testing.T) {
	tests := []struct {
		name   string
		script mocks.ModuleScript
	}{
		{name: "build fails", script: mocks.ModuleScript{BuildErr: errors.New("compiler crashed")}},
		{name: "validate fails", script: mocks.ModuleScript{ValidateErr: errors.New("harness missing")}},
		{
			name: "fix fails",
			script: mocks.ModuleScript{
				Outcomes: []types.ValidationOutcome{failure("x")},
				FixErr:   errors.New("fixer unavailable"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ops := mocks.NewMockBuildOperations()
			ops.Script("doomed", tt.script)
			runner, _ := newTestRunner(types.ModuleDeclaration{ID: "doomed"}, ops, nil, types.EngineOptions{}, nil)

			if state := runner.Run(context.Background()); state != types.ModuleStateEscalated {
				t.Errorf("state = %s, want escalated", state)
			}
		})
	}
}

func TestRunnerOperationTimeout(t *testing.T) {
	ops := mocks.NewMockBuildOperations()
	ops.Script("slow", mocks.ModuleScript{ValidateDelay: 200 * time.Millisecond})
	store := mocks.NewMockStateStore()
	store.InitializeState(types.ModuleDeclaration{ID: "slow"})
	runner, _ := newTestRunner(types.ModuleDeclaration{ID: "slow"}, ops, store,
		types.EngineOptions{OperationTimeout: 20 * time.Millisecond}, nil)

	state := runner.Run(context.Background())

	if state != types.ModuleStateEscalated {
		t.Fatalf("state = %s, want escalated", state)
	}
	snap, _ := store.ReadState("slow")
	if snap == nil || !strings.Contains(snap.LastError, "timed out") {
		t.Errorf("persisted error = %+v, want a timeout", snap)
	}
}

func TestRunnerCancellationFreezesNonTerminal(t *testing.T) {
	ops := mocks.NewMockBuildOperations()
	ops.Script("frozen", mocks.ModuleScript{
		Outcomes: []types.ValidationOutcome{failure("test:red")},
	})
	runner, _ := newTestRunner(types.ModuleDeclaration{ID: "frozen"}, ops, nil,
		types.EngineOptions{MaxIterationsPerModule: 5}, func() bool { return true })

	state := runner.Run(context.Background())

	// The in-flight iteration completed, but no fixing iteration started.
	if state.IsTerminal() {
		t.Fatalf("state = %s, want a frozen non-terminal state", state)
	}
	if state != types.ModuleStateValidating {
		t.Errorf("state = %s, want validating", state)
	}
	if got := ops.FixCalls("frozen"); got != 0 {
		t.Errorf("fix calls = %d, want 0 after cancellation", got)
	}
}

func TestRunnerCancellationRecordsReason(t *testing.T) {
	ops := mocks.NewMockBuildOperations()
	ops.Script("frozen", mocks.ModuleScript{
		Outcomes: []types.ValidationOutcome{failure("test:red")},
	})
	store := mocks.NewMockStateStore()
	runner, _ := newTestRunner(types.ModuleDeclaration{ID: "frozen"}, ops, store,
		types.EngineOptions{MaxIterationsPerModule: 5}, func() bool { return true })

	runner.Run(context.Background())

	snap, err := store.ReadState("frozen")
	if err != nil {
		t.Fatalf("ReadState: %v", err)
	}
	if !strings.Contains(snap.LastError, "cancelled") {
		t.Errorf("LastError = %q, want a cancellation reason", snap.LastError)
	}
}

func TestRunnerAdoptsFixedDeclaration(t *testing.T) {
	fixed := types.ModuleDeclaration{ID: "patched", BuildCommand: "make patched"}
	ops := mocks.NewMockBuildOperations()
	ops.Script("patched", mocks.ModuleScript{
		Outcomes:    []types.ValidationOutcome{failure("x"), passed()},
		FixedModule: &fixed,
	})
	runner, _ := newTestRunner(types.ModuleDeclaration{ID: "patched"}, ops, nil, types.EngineOptions{}, nil)

	if state := runner.Run(context.Background()); state != types.ModuleStatePassed {
		t.Fatalf("state = %s, want passed", state)
	}
	if runner.Declaration().BuildCommand != "make patched" {
		t.Errorf("declaration not updated by fix: %+v", runner.Declaration())
	}
}
