// Package conflict statically cross-references module interfaces for incompatibilities
package conflict

import (
	"fmt"
	"sort"

	"github.com/forgeloop/forgeloop/pkg/interfaces"
	"github.com/forgeloop/forgeloop/pkg/types"
)

// ExactComparator is the default signature rule: two signature tokens are
// compatible iff they are equal.
type ExactComparator struct{}

// Compatible implements interfaces.SignatureComparator.
func (ExactComparator) Compatible(imported, exported string) bool {
	return imported == exported
}

// Detector cross-references completed modules' declared interfaces.
// Deterministic given the same inputs: iteration order is fixed by sorting,
// and no randomness or I/O is involved.
type Detector struct {
	comparator interfaces.SignatureComparator
}

// NewDetector creates a detector with the given comparator. A nil comparator
// falls back to exact token equality.
func NewDetector(cmp interfaces.SignatureComparator) *Detector {
	if cmp == nil {
		cmp = ExactComparator{}
	}
	return &Detector{comparator: cmp}
}

// Detect produces a conflict report over the given modules' interfaces.
func (d *Detector) Detect(modules []types.ModuleDeclaration) types.ConflictReport {
	sorted := make([]types.ModuleDeclaration, len(modules))
	copy(sorted, modules)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var conflicts []types.Conflict
	conflicts = append(conflicts, d.importConflicts(sorted)...)
	conflicts = append(conflicts, d.dependencyVersionConflicts(sorted)...)
	conflicts = append(conflicts, d.duplicateExportAdvisories(sorted)...)

	return types.ConflictReport{Conflicts: conflicts}
}

// importConflicts checks every (consumer, symbol) import against the exports
// of all other modules. Missing export and signature mismatch are critical.
func (d *Detector) importConflicts(modules []types.ModuleDeclaration) []types.Conflict {
	var conflicts []types.Conflict

	for _, consumer := range modules {
		for _, imp := range consumer.Interface.Imports {
			var exporter types.ModuleID
			var exported types.SymbolDecl
			found := false

			for _, other := range modules {
				if other.ID == consumer.ID {
					continue
				}
				for _, exp := range other.Interface.Exports {
					if exp.Name != imp.Name {
						continue
					}
					if !found {
						exporter = other.ID
						exported = exp
						found = true
					}
					if d.comparator.Compatible(imp.Signature, exp.Signature) {
						// A compatible export anywhere satisfies the import.
						exporter = other.ID
						exported = exp
					}
				}
			}

			if !found {
				conflicts = append(conflicts, types.Conflict{
					Severity:     types.ConflictSeverityCritical,
					Modules:      [2]types.ModuleID{consumer.ID, ""},
					Symbol:       imp.Name,
					Description:  fmt.Sprintf("module %s imports %q but no module exports it", consumer.ID, imp.Name),
					SuggestedFix: fmt.Sprintf("export %q from a dependency of %s or drop the import", imp.Name, consumer.ID),
				})
				continue
			}

			if !d.comparator.Compatible(imp.Signature, exported.Signature) {
				conflicts = append(conflicts, types.Conflict{
					Severity: types.ConflictSeverityCritical,
					Modules:  [2]types.ModuleID{consumer.ID, exporter},
					Symbol:   imp.Name,
					Description: fmt.Sprintf("module %s expects %q with signature %q but %s exports %q",
						consumer.ID, imp.Name, imp.Signature, exporter, exported.Signature),
					SuggestedFix: fmt.Sprintf("align the signature of %q between %s and %s", imp.Name, consumer.ID, exporter),
				})
			}
		}
	}

	return conflicts
}

// dependencyVersionConflicts warns when two modules pin different versions
// of the same external dependency.
func (d *Detector) dependencyVersionConflicts(modules []types.ModuleDeclaration) []types.Conflict {
	var conflicts []types.Conflict

	for i := 0; i < len(modules); i++ {
		for j := i + 1; j < len(modules); j++ {
			a, b := modules[i], modules[j]

			depNames := make([]string, 0, len(a.Interface.ExternalDeps))
			for name := range a.Interface.ExternalDeps {
				depNames = append(depNames, name)
			}
			sort.Strings(depNames)

			for _, name := range depNames {
				va := a.Interface.ExternalDeps[name]
				vb, ok := b.Interface.ExternalDeps[name]
				if !ok || va == vb {
					continue
				}
				conflicts = append(conflicts, types.Conflict{
					Severity: types.ConflictSeverityWarning,
					Modules:  [2]types.ModuleID{a.ID, b.ID},
					Symbol:   name,
					Description: fmt.Sprintf("modules %s and %s declare different versions of %s (%s vs %s)",
						a.ID, b.ID, name, va, vb),
					SuggestedFix: fmt.Sprintf("pin %s to a single version across modules", name),
				})
			}
		}
	}

	return conflicts
}

// duplicateExportAdvisories flags the same export name appearing in two
// modules with disjoint dependency paths. Advisory only, never blocking.
func (d *Detector) duplicateExportAdvisories(modules []types.ModuleDeclaration) []types.Conflict {
	reach := transitiveDeps(modules)

	var conflicts []types.Conflict
	for i := 0; i < len(modules); i++ {
		for j := i + 1; j < len(modules); j++ {
			a, b := modules[i], modules[j]
			if reach[a.ID][b.ID] || reach[b.ID][a.ID] {
				continue // related modules may legitimately re-export
			}
			for _, ea := range a.Interface.Exports {
				for _, eb := range b.Interface.Exports {
					if ea.Name != eb.Name {
						continue
					}
					conflicts = append(conflicts, types.Conflict{
						Severity: types.ConflictSeverityInfo,
						Modules:  [2]types.ModuleID{a.ID, b.ID},
						Symbol:   ea.Name,
						Description: fmt.Sprintf("modules %s and %s both export %q with no dependency path between them",
							a.ID, b.ID, ea.Name),
						SuggestedFix: "consider consolidating the duplicated responsibility",
					})
				}
			}
		}
	}
	return conflicts
}

// transitiveDeps computes, per module, the set of modules reachable through
// declared dependencies.
func transitiveDeps(modules []types.ModuleDeclaration) map[types.ModuleID]map[types.ModuleID]bool {
	direct := make(map[types.ModuleID][]types.ModuleID, len(modules))
	for _, m := range modules {
		direct[m.ID] = m.DependsOn
	}

	reach := make(map[types.ModuleID]map[types.ModuleID]bool, len(modules))
	var visit func(from types.ModuleID, id types.ModuleID)
	visit = func(from, id types.ModuleID) {
		for _, dep := range direct[id] {
			if reach[from][dep] {
				continue
			}
			reach[from][dep] = true
			visit(from, dep)
		}
	}
	for _, m := range modules {
		reach[m.ID] = make(map[types.ModuleID]bool)
		visit(m.ID, m.ID)
	}
	return reach
}
