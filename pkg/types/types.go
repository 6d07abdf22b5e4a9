// Package types provides core types and configurations for Forgeloop
package types

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// ModuleID uniquely identifies a module within a build.
type ModuleID string

// ModuleState represents the current state of a module's build loop
type ModuleState string

const (
	ModuleStatePending    ModuleState = "pending"
	ModuleStateBuilding   ModuleState = "building"
	ModuleStateValidating ModuleState = "validating"
	ModuleStateFixing     ModuleState = "fixing"
	ModuleStatePassed     ModuleState = "passed"
	ModuleStateEscalated  ModuleState = "escalated-failure"
)

// IsTerminal reports whether the state ends a module's build loop.
func (s ModuleState) IsTerminal() bool {
	return s == ModuleStatePassed || s == ModuleStateEscalated
}

// BuildVerdict represents the outcome of a whole build
type BuildVerdict string

const (
	BuildVerdictSuccess         BuildVerdict = "success"
	BuildVerdictFailed          BuildVerdict = "failed"
	BuildVerdictConflictBlocked BuildVerdict = "conflict-blocked"
	BuildVerdictCancelled       BuildVerdict = "cancelled"
)

// PlanStrategy tags how a build plan should be executed
type PlanStrategy string

const (
	PlanStrategyParallel   PlanStrategy = "parallel"
	PlanStrategySequential PlanStrategy = "sequential"
)

// ConflictCheckpoint controls when integration conflicts are checked
type ConflictCheckpoint string

const (
	ConflictCheckpointPerPhase   ConflictCheckpoint = "per-phase"
	ConflictCheckpointEndOfBuild ConflictCheckpoint = "end-of-build"
)

// ConflictSeverity represents how serious a detected conflict is
type ConflictSeverity string

const (
	ConflictSeverityCritical ConflictSeverity = "critical"
	ConflictSeverityWarning  ConflictSeverity = "warning"
	ConflictSeverityInfo     ConflictSeverity = "info"
)

// LogLevel represents logging verbosity levels
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// SymbolDecl is one exported or imported symbol with its type signature.
// The signature is an opaque token from the engine's point of view;
// compatibility between two tokens is decided by a pluggable comparator.
type SymbolDecl struct {
	Name      string `json:"name" yaml:"name"`
	Signature string `json:"signature" yaml:"signature"`
}

// InterfaceDecl is a module's declared surface: what it exports, what it
// expects to import, and which external dependency versions it pins.
type InterfaceDecl struct {
	Exports      []SymbolDecl      `json:"exports,omitempty" yaml:"exports,omitempty"`
	Imports      []SymbolDecl      `json:"imports,omitempty" yaml:"imports,omitempty"`
	ExternalDeps map[string]string `json:"externalDeps,omitempty" yaml:"externalDeps,omitempty"`
}

// ModuleDeclaration describes one unit of work handed to the engine.
type ModuleDeclaration struct {
	ID        ModuleID      `json:"id" yaml:"id"`
	DependsOn []ModuleID    `json:"dependsOn,omitempty" yaml:"dependsOn,omitempty"`
	Interface InterfaceDecl `json:"interface,omitempty" yaml:"interface,omitempty"`

	// Commands used by the default exec-backed operations. Opaque to the
	// engine itself; library callers may supply their own operations and
	// leave these empty.
	BuildCommand    string            `json:"buildCommand,omitempty" yaml:"buildCommand,omitempty"`
	ValidateCommand string            `json:"validateCommand,omitempty" yaml:"validateCommand,omitempty"`
	FixCommand      string            `json:"fixCommand,omitempty" yaml:"fixCommand,omitempty"`
	Environment     map[string]string `json:"environment,omitempty" yaml:"environment,omitempty"`
}

// Phase is a set of modules that share the same dependency depth. No module
// in a phase depends on another module in the same phase; every dependency
// lives in a strictly earlier phase.
type Phase struct {
	Index   int        `json:"index"`
	Modules []ModuleID `json:"modules"`
}

// MergeAdvisory is a non-blocking note that two modules look like merge
// candidates. The engine never merges automatically.
type MergeAdvisory struct {
	Modules [2]ModuleID `json:"modules"`
	Reason  string      `json:"reason"`
}

// BuildPlan is the ordered sequence of phases produced by the dependency
// analyzer. Immutable after creation.
type BuildPlan struct {
	Phases     []Phase         `json:"phases"`
	Strategy   PlanStrategy    `json:"strategy"`
	Advisories []MergeAdvisory `json:"advisories,omitempty"`
}

// ModuleCount returns the total number of modules across all phases.
func (p *BuildPlan) ModuleCount() int {
	n := 0
	for _, ph := range p.Phases {
		n += len(ph.Modules)
	}
	return n
}

// PhaseOf returns the phase index containing the given module, or -1.
func (p *BuildPlan) PhaseOf(id ModuleID) int {
	for _, ph := range p.Phases {
		for _, m := range ph.Modules {
			if m == id {
				return ph.Index
			}
		}
	}
	return -1
}

// FailureRecord is one failure reported by a validation run. The signature
// is a stable category used for no-forward-progress detection; detail and
// remediation are opaque human-readable strings.
type FailureRecord struct {
	Signature   string `json:"signature"`
	Detail      string `json:"detail,omitempty"`
	Remediation string `json:"remediation,omitempty"`
}

// ValidationOutcome is the result of one validation run for one module.
type ValidationOutcome struct {
	Passed   bool            `json:"passed"`
	Failures []FailureRecord `json:"failures,omitempty"`
}

// SignatureSet returns the ordered failure signatures of the outcome.
func (o ValidationOutcome) SignatureSet() []string {
	sigs := make([]string, 0, len(o.Failures))
	for _, f := range o.Failures {
		sigs = append(sigs, f.Signature)
	}
	return sigs
}

// BuildArtifact is the opaque product of a build operation.
type BuildArtifact struct {
	Module   ModuleID          `json:"module"`
	Path     string            `json:"path,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Conflict is one detected incompatibility between two modules.
type Conflict struct {
	Severity     ConflictSeverity `json:"severity"`
	Modules      [2]ModuleID      `json:"modules"`
	Symbol       string           `json:"symbol,omitempty"`
	Description  string           `json:"description"`
	SuggestedFix string           `json:"suggestedFix,omitempty"`
}

// ConflictReport is the immutable result of one conflict-detector pass.
type ConflictReport struct {
	Conflicts []Conflict `json:"conflicts"`
}

// HasCritical reports whether any conflict in the report is critical.
func (r ConflictReport) HasCritical() bool {
	for _, c := range r.Conflicts {
		if c.Severity == ConflictSeverityCritical {
			return true
		}
	}
	return false
}

// Criticals returns only the critical conflicts, in report order.
func (r ConflictReport) Criticals() []Conflict {
	var out []Conflict
	for _, c := range r.Conflicts {
		if c.Severity == ConflictSeverityCritical {
			out = append(out, c)
		}
	}
	return out
}

// PhaseResult maps every module of a phase to its state once the phase
// barrier has been crossed.
type PhaseResult struct {
	PhaseIndex int                        `json:"phaseIndex"`
	AllPassed  bool                       `json:"allPassed"`
	States     map[ModuleID]ModuleState   `json:"states"`
	Durations  map[ModuleID]time.Duration `json:"durations,omitempty"`
}

// FailedModules returns the modules that escalated.
func (r PhaseResult) FailedModules() []ModuleID {
	var out []ModuleID
	for id, st := range r.States {
		if st == ModuleStateEscalated {
			out = append(out, id)
		}
	}
	return out
}

// ModuleMetrics is the per-module breakdown inside a MetricsRecord.
type ModuleMetrics struct {
	Duration   time.Duration `json:"duration"`
	Iterations int           `json:"iterations"`
	Passed     bool          `json:"passed"`
}

// MetricsRecord summarizes the performance of one completed build.
type MetricsRecord struct {
	BuildKind            string                     `json:"buildKind,omitempty"`
	TotalDuration        time.Duration              `json:"totalDuration"`
	SequentialEquivalent time.Duration              `json:"sequentialEquivalent"`
	Speedup              float64                    `json:"speedup"`
	TheoreticalMax       float64                    `json:"theoreticalMaxSpeedup"`
	Efficiency           float64                    `json:"efficiency"`
	Bottleneck           ModuleID                   `json:"bottleneck,omitempty"`
	PerModule            map[ModuleID]ModuleMetrics `json:"perModule,omitempty"`
}

// MetricsDelta compares a build against a historical record. Informational
// only, never blocking.
type MetricsDelta struct {
	BuildKind       string        `json:"buildKind"`
	DurationDelta   time.Duration `json:"durationDelta"`
	Faster          bool          `json:"faster"`
	IterationDelta  int           `json:"iterationDelta"`
	FewerIterations bool          `json:"fewerIterations"`
	SpeedupDelta    float64       `json:"speedupDelta"`
}

// BuildResult is the engine's final answer for one build.
type BuildResult struct {
	BuildID        string          `json:"buildId"`
	Verdict        BuildVerdict    `json:"verdict"`
	FailedModules  []ModuleID      `json:"failedModules,omitempty"`
	PhaseResults   []PhaseResult   `json:"phaseResults,omitempty"`
	ConflictReport *ConflictReport `json:"conflictReport,omitempty"`
	Metrics        *MetricsRecord  `json:"metrics,omitempty"`
	Delta          *MetricsDelta   `json:"delta,omitempty"`
}

// TransitionEvent is one timestamped module state transition, recorded for
// the metrics analyzer. Timestamps come from a monotonic clock; per-module
// order is chronological, cross-module order is not guaranteed.
type TransitionEvent struct {
	ID        string      `json:"id"`
	Module    ModuleID    `json:"module"`
	From      ModuleState `json:"from"`
	To        ModuleState `json:"to"`
	Iteration int         `json:"iteration"`
	Timestamp time.Time   `json:"timestamp"`
}

// ParseModuleDeclarations parses a list of module declarations from JSON,
// falling back to YAML converted through JSON.
func ParseModuleDeclarations(data []byte) ([]ModuleDeclaration, error) {
	var decls []ModuleDeclaration
	if err := json.Unmarshal(data, &decls); err == nil {
		return validateDeclarations(decls)
	}

	var yamlData []map[string]interface{}
	if err := yaml.Unmarshal(data, &yamlData); err != nil {
		return nil, fmt.Errorf("failed to parse module declarations as JSON or YAML: %w", err)
	}
	jsonData, err := json.Marshal(yamlData)
	if err != nil {
		return nil, fmt.Errorf("failed to convert YAML declarations: %w", err)
	}
	if err := json.Unmarshal(jsonData, &decls); err != nil {
		return nil, fmt.Errorf("failed to parse module declarations: %w", err)
	}
	return validateDeclarations(decls)
}

func validateDeclarations(decls []ModuleDeclaration) ([]ModuleDeclaration, error) {
	seen := make(map[ModuleID]bool, len(decls))
	for i, d := range decls {
		if d.ID == "" {
			return nil, fmt.Errorf("module %d: missing id", i)
		}
		if seen[d.ID] {
			return nil, fmt.Errorf("duplicate module id: %s", d.ID)
		}
		seen[d.ID] = true
		for _, dep := range d.DependsOn {
			if dep == d.ID {
				return nil, fmt.Errorf("module %s depends on itself", d.ID)
			}
		}
	}
	return decls, nil
}
