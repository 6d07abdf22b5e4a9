// Package graph turns module declarations into a dependency-ordered build plan
package graph

import (
	"sort"

	"github.com/forgeloop/forgeloop/pkg/types"
)

// Analyzer partitions a set of interdependent modules into ordered phases.
// Pure function of its input; no side effects.
type Analyzer struct {
	// MergeAdvisoryExportLimit is the maximum export count for a leaf module
	// to be considered a merge candidate. Zero disables advisories.
	MergeAdvisoryExportLimit int
}

// NewAnalyzer creates an analyzer with default advisory settings.
func NewAnalyzer() *Analyzer {
	return &Analyzer{MergeAdvisoryExportLimit: 2}
}

// Plan computes the topological leveling of the declared modules. Every
// dependency of a module in phase k lies in a phase with index < k. A cycle
// yields a types.CycleError and no partial plan.
func (a *Analyzer) Plan(decls []types.ModuleDeclaration) (*types.BuildPlan, error) {
	byID := make(map[types.ModuleID]types.ModuleDeclaration, len(decls))
	for _, d := range decls {
		byID[d.ID] = d
	}

	// Adjacency: dependency -> dependents, plus in-degree per module.
	dependents := make(map[types.ModuleID][]types.ModuleID, len(decls))
	inDegree := make(map[types.ModuleID]int, len(decls))
	for _, d := range decls {
		if _, ok := inDegree[d.ID]; !ok {
			inDegree[d.ID] = 0
		}
		for _, dep := range d.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, &types.UnknownDependencyError{Module: d.ID, DependsOn: dep}
			}
			dependents[dep] = append(dependents[dep], d.ID)
			inDegree[d.ID]++
		}
	}

	var phases []types.Phase
	remaining := len(inDegree)

	for remaining > 0 {
		var ready []types.ModuleID
		for id, deg := range inDegree {
			if deg == 0 {
				ready = append(ready, id)
			}
		}

		if len(ready) == 0 {
			// Nodes remain but none is free of dependencies: cycle.
			var stuck []types.ModuleID
			for id := range inDegree {
				stuck = append(stuck, id)
			}
			sort.Slice(stuck, func(i, j int) bool { return stuck[i] < stuck[j] })
			return nil, &types.CycleError{Modules: stuck}
		}

		// Deterministic output: modules within a phase sorted by ID.
		sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })

		phases = append(phases, types.Phase{Index: len(phases), Modules: ready})

		for _, id := range ready {
			delete(inDegree, id)
			remaining--
			for _, dep := range dependents[id] {
				if _, ok := inDegree[dep]; ok {
					inDegree[dep]--
				}
			}
		}
	}

	strategy := types.PlanStrategyParallel
	if len(decls) <= 1 {
		strategy = types.PlanStrategySequential
	}

	return &types.BuildPlan{
		Phases:     phases,
		Strategy:   strategy,
		Advisories: a.mergeAdvisories(decls, dependents),
	}, nil
}

// mergeAdvisories flags pairs of trivially small leaf modules sharing the
// same dependency set. Advisory only; the caller decides granularity.
func (a *Analyzer) mergeAdvisories(decls []types.ModuleDeclaration, dependents map[types.ModuleID][]types.ModuleID) []types.MergeAdvisory {
	if a.MergeAdvisoryExportLimit <= 0 {
		return nil
	}

	var candidates []types.ModuleDeclaration
	for _, d := range decls {
		if len(dependents[d.ID]) > 0 {
			continue // not a leaf
		}
		if len(d.Interface.Exports) > a.MergeAdvisoryExportLimit {
			continue
		}
		candidates = append(candidates, d)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })

	var advisories []types.MergeAdvisory
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			if !sameDependencySet(candidates[i].DependsOn, candidates[j].DependsOn) {
				continue
			}
			advisories = append(advisories, types.MergeAdvisory{
				Modules: [2]types.ModuleID{candidates[i].ID, candidates[j].ID},
				Reason:  "small leaf modules with identical dependencies could be merged",
			})
		}
	}
	return advisories
}

func sameDependencySet(a, b []types.ModuleID) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[types.ModuleID]bool, len(a))
	for _, id := range a {
		set[id] = true
	}
	for _, id := range b {
		if !set[id] {
			return false
		}
	}
	return true
}
