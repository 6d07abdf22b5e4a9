// Package metrics computes speedup, efficiency and bottleneck attribution from build traces
package metrics

import (
	"fmt"
	"time"

	"github.com/forgeloop/forgeloop/pkg/interfaces"
	"github.com/forgeloop/forgeloop/pkg/types"
)

// Analyzer turns an execution trace plus the build plan into a metrics
// record. The trace only guarantees per-module chronological order, so the
// analyzer never assumes a cross-module interleaving.
type Analyzer struct {
	lookup interfaces.HistoricalLookup
}

// NewAnalyzer creates an analyzer. The historical lookup may be nil.
func NewAnalyzer(lookup interfaces.HistoricalLookup) *Analyzer {
	return &Analyzer{lookup: lookup}
}

// Analyze computes the metrics record for a completed build.
func (a *Analyzer) Analyze(buildKind string, events []types.TransitionEvent, plan *types.BuildPlan) (*types.MetricsRecord, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("empty trace")
	}

	perModule := make(map[types.ModuleID]types.ModuleMetrics)
	starts := make(map[types.ModuleID]time.Time)
	ends := make(map[types.ModuleID]time.Time)
	iterations := make(map[types.ModuleID]int)
	passed := make(map[types.ModuleID]bool)

	var buildStart, buildEnd time.Time
	for _, ev := range events {
		if ev.From == types.ModuleStatePending && ev.To == types.ModuleStateBuilding {
			starts[ev.Module] = ev.Timestamp
			if buildStart.IsZero() || ev.Timestamp.Before(buildStart) {
				buildStart = ev.Timestamp
			}
		}
		if ev.To == types.ModuleStateBuilding {
			iterations[ev.Module]++
		}
		if ev.To.IsTerminal() {
			ends[ev.Module] = ev.Timestamp
			passed[ev.Module] = ev.To == types.ModuleStatePassed
			if ev.Timestamp.After(buildEnd) {
				buildEnd = ev.Timestamp
			}
		}
	}

	var sequential time.Duration
	for id, start := range starts {
		end, ok := ends[id]
		if !ok {
			continue // module never reached a terminal state (cancelled build)
		}
		d := end.Sub(start)
		sequential += d
		perModule[id] = types.ModuleMetrics{
			Duration:   d,
			Iterations: iterations[id],
			Passed:     passed[id],
		}
	}

	actual := buildEnd.Sub(buildStart)
	if actual <= 0 {
		return nil, fmt.Errorf("trace spans no measurable duration")
	}

	// Per-phase bottleneck: the longest module of each phase bounds how fast
	// that phase could ever finish.
	var bottleneckSum time.Duration
	var bottleneck types.ModuleID
	var worstPhase time.Duration
	for _, phase := range plan.Phases {
		var phaseMax time.Duration
		var phaseMaxModule types.ModuleID
		for _, id := range phase.Modules {
			if m, ok := perModule[id]; ok && m.Duration > phaseMax {
				phaseMax = m.Duration
				phaseMaxModule = id
			}
		}
		bottleneckSum += phaseMax
		if phaseMax > worstPhase {
			worstPhase = phaseMax
			bottleneck = phaseMaxModule
		}
	}

	record := &types.MetricsRecord{
		BuildKind:            buildKind,
		TotalDuration:        actual,
		SequentialEquivalent: sequential,
		Speedup:              float64(sequential) / float64(actual),
		Bottleneck:           bottleneck,
		PerModule:            perModule,
	}
	if bottleneckSum > 0 {
		record.TheoreticalMax = float64(sequential) / float64(bottleneckSum)
	}
	if record.TheoreticalMax > 0 {
		record.Efficiency = record.Speedup / record.TheoreticalMax
	}

	return record, nil
}

// Compare emits informational deltas against a historical record for the
// same build kind, if one exists.
func (a *Analyzer) Compare(record *types.MetricsRecord) *types.MetricsDelta {
	if a.lookup == nil || record.BuildKind == "" {
		return nil
	}
	prev, ok := a.lookup(record.BuildKind)
	if !ok || prev == nil {
		return nil
	}

	delta := &types.MetricsDelta{
		BuildKind:     record.BuildKind,
		DurationDelta: record.TotalDuration - prev.TotalDuration,
		Faster:        record.TotalDuration < prev.TotalDuration,
		SpeedupDelta:  record.Speedup - prev.Speedup,
	}
	delta.IterationDelta = totalIterations(record) - totalIterations(prev)
	delta.FewerIterations = delta.IterationDelta < 0
	return delta
}

func totalIterations(r *types.MetricsRecord) int {
	n := 0
	for _, m := range r.PerModule {
		n += m.Iterations
	}
	return n
}
