package metrics

import (
	"math"
	"testing"
	"time"

	"github.com/forgeloop/forgeloop/pkg/types"
)

var traceBase = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

// moduleTrace emits the minimal event pair the analyzer needs: the first
// Building transition and the terminal transition.
func moduleTrace(id types.ModuleID, start, end time.Duration, iterations int, passed bool) []types.TransitionEvent {
	events := []types.TransitionEvent{
		{
			Module:    id,
			From:      types.ModuleStatePending,
			To:        types.ModuleStateBuilding,
			Iteration: 1,
			Timestamp: traceBase.Add(start),
		},
	}
	for i := 2; i <= iterations; i++ {
		events = append(events, types.TransitionEvent{
			Module:    id,
			From:      types.ModuleStateFixing,
			To:        types.ModuleStateBuilding,
			Iteration: i,
			Timestamp: traceBase.Add(start + time.Duration(i)*time.Second),
		})
	}
	terminal := types.ModuleStatePassed
	if !passed {
		terminal = types.ModuleStateEscalated
	}
	events = append(events, types.TransitionEvent{
		Module:    id,
		From:      types.ModuleStateValidating,
		To:        terminal,
		Iteration: iterations,
		Timestamp: traceBase.Add(end),
	})
	return events
}

func plan(phases ...[]types.ModuleID) *types.BuildPlan {
	p := &types.BuildPlan{Strategy: types.PlanStrategyParallel}
	for i, modules := range phases {
		p.Phases = append(p.Phases, types.Phase{Index: i, Modules: modules})
	}
	return p
}

func almost(got, want float64) bool {
	return math.Abs(got-want) < 1e-9
}

func TestAnalyzeSinglePhaseSpeedup(t *testing.T) {
	// Three modules in one phase: 3s, 3s and 8s of loop time, all overlapping.
	// Sequential equivalent 14s against 8s of wall time.
	var events []types.TransitionEvent
	events = append(events, moduleTrace("a", 0, 3*time.Second, 1, true)...)
	events = append(events, moduleTrace("b", 0, 3*time.Second, 1, true)...)
	events = append(events, moduleTrace("c", 0, 8*time.Second, 1, true)...)

	record, err := NewAnalyzer(nil).Analyze("ci", events, plan([]types.ModuleID{"a", "b", "c"}))
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	if record.SequentialEquivalent != 14*time.Second {
		t.Errorf("sequential equivalent = %s, want 14s", record.SequentialEquivalent)
	}
	if record.TotalDuration != 8*time.Second {
		t.Errorf("total duration = %s, want 8s", record.TotalDuration)
	}
	if !almost(record.Speedup, 1.75) {
		t.Errorf("speedup = %v, want 1.75", record.Speedup)
	}
	if !almost(record.TheoreticalMax, 1.75) {
		t.Errorf("theoretical max = %v, want 1.75", record.TheoreticalMax)
	}
	if !almost(record.Efficiency, 1.0) {
		t.Errorf("efficiency = %v, want 1.0", record.Efficiency)
	}
	if record.Bottleneck != "c" {
		t.Errorf("bottleneck = %s, want c", record.Bottleneck)
	}
}

func TestAnalyzeTwoPhasesWithSchedulingGap(t *testing.T) {
	// Phase 0: a (4s) and b (2s). Phase 1: c starts 1s after the phase
	// barrier and runs 5s. The gap costs efficiency but not correctness.
	var events []types.TransitionEvent
	events = append(events, moduleTrace("a", 0, 4*time.Second, 1, true)...)
	events = append(events, moduleTrace("b", 0, 2*time.Second, 1, true)...)
	events = append(events, moduleTrace("c", 5*time.Second, 10*time.Second, 1, true)...)

	record, err := NewAnalyzer(nil).Analyze("ci", events,
		plan([]types.ModuleID{"a", "b"}, []types.ModuleID{"c"}))
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	if record.SequentialEquivalent != 11*time.Second {
		t.Errorf("sequential equivalent = %s, want 11s", record.SequentialEquivalent)
	}
	if record.TotalDuration != 10*time.Second {
		t.Errorf("total duration = %s, want 10s", record.TotalDuration)
	}
	if !almost(record.Speedup, 1.1) {
		t.Errorf("speedup = %v, want 1.1", record.Speedup)
	}
	// Bottleneck sum 4s + 5s bounds the attainable speedup at 11/9.
	if !almost(record.TheoreticalMax, 11.0/9.0) {
		t.Errorf("theoretical max = %v, want %v", record.TheoreticalMax, 11.0/9.0)
	}
	if record.Speedup > record.TheoreticalMax {
		t.Errorf("speedup %v exceeds theoretical max %v", record.Speedup, record.TheoreticalMax)
	}
	if record.Efficiency <= 0 || record.Efficiency > 1 {
		t.Errorf("efficiency %v outside (0, 1]", record.Efficiency)
	}
	if record.Bottleneck != "c" {
		t.Errorf("bottleneck = %s, want c", record.Bottleneck)
	}
}

func TestAnalyzePerModuleIterations(t *testing.T) {
	var events []types.TransitionEvent
	events = append(events, moduleTrace("flaky", 0, 9*time.Second, 3, false)...)
	events = append(events, moduleTrace("solid", 0, 2*time.Second, 1, true)...)

	record, err := NewAnalyzer(nil).Analyze("", events, plan([]types.ModuleID{"flaky", "solid"}))
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	flaky := record.PerModule["flaky"]
	if flaky.Iterations != 3 || flaky.Passed {
		t.Errorf("flaky metrics = %+v, want 3 iterations and not passed", flaky)
	}
	solid := record.PerModule["solid"]
	if solid.Iterations != 1 || !solid.Passed {
		t.Errorf("solid metrics = %+v, want 1 iteration and passed", solid)
	}
}

func TestAnalyzeEmptyTrace(t *testing.T) {
	if _, err := NewAnalyzer(nil).Analyze("ci", nil, plan()); err == nil {
		t.Fatal("expected an error for an empty trace")
	}
}

func TestCompare(t *testing.T) {
	prev := &types.MetricsRecord{
		BuildKind:     "ci",
		TotalDuration: 10 * time.Second,
		Speedup:       1.5,
		PerModule: map[types.ModuleID]types.ModuleMetrics{
			"a": {Iterations: 3},
			"b": {Iterations: 2},
		},
	}
	lookup := func(kind string) (*types.MetricsRecord, bool) {
		if kind == "ci" {
			return prev, true
		}
		return nil, false
	}

	current := &types.MetricsRecord{
		BuildKind:     "ci",
		TotalDuration: 8 * time.Second,
		Speedup:       1.8,
		PerModule: map[types.ModuleID]types.ModuleMetrics{
			"a": {Iterations: 1},
			"b": {Iterations: 2},
		},
	}

	delta := NewAnalyzer(lookup).Compare(current)
	if delta == nil {
		t.Fatal("expected a delta")
	}
	if !delta.Faster || delta.DurationDelta != -2*time.Second {
		t.Errorf("duration delta = %+v", delta)
	}
	if delta.IterationDelta != -2 || !delta.FewerIterations {
		t.Errorf("iteration delta = %d, want -2", delta.IterationDelta)
	}
	if !almost(delta.SpeedupDelta, 0.3) {
		t.Errorf("speedup delta = %v, want 0.3", delta.SpeedupDelta)
	}

	t.Run("no history yields no delta", func(t *testing.T) {
		other := &types.MetricsRecord{BuildKind: "nightly"}
		if d := NewAnalyzer(lookup).Compare(other); d != nil {
			t.Errorf("expected nil delta, got %+v", d)
		}
	})

	t.Run("nil lookup yields no delta", func(t *testing.T) {
		if d := NewAnalyzer(nil).Compare(current); d != nil {
			t.Errorf("expected nil delta, got %+v", d)
		}
	})
}

func TestFileHistoryRoundTrip(t *testing.T) {
	history := NewFileHistory(t.TempDir())

	if _, ok := history.Lookup("ci"); ok {
		t.Fatal("lookup on empty history must miss")
	}

	record := &types.MetricsRecord{
		BuildKind:     "ci",
		TotalDuration: 5 * time.Second,
		Speedup:       2.0,
	}
	if err := history.Save(record); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, ok := history.Lookup("ci")
	if !ok {
		t.Fatal("lookup after save must hit")
	}
	if got.TotalDuration != record.TotalDuration || got.Speedup != record.Speedup {
		t.Errorf("got %+v, want %+v", got, record)
	}

	// A later record of the same kind replaces the old one.
	if err := history.Save(&types.MetricsRecord{BuildKind: "ci", Speedup: 3.0}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, _ = history.Lookup("ci")
	if got.Speedup != 3.0 {
		t.Errorf("speedup = %v, want 3.0 after overwrite", got.Speedup)
	}

	all, err := history.All()
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(all) != 1 {
		t.Errorf("got %d records, want 1", len(all))
	}
}

func TestFileHistoryIgnoresUnkindedRecords(t *testing.T) {
	history := NewFileHistory(t.TempDir())
	if err := history.Save(&types.MetricsRecord{Speedup: 1.0}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	all, err := history.All()
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(all) != 0 {
		t.Errorf("unkinded record was persisted: %+v", all)
	}
}
