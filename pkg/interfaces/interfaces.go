// Package interfaces provides abstractions for dependency injection and testability
package interfaces

import (
	"context"
	"time"

	"github.com/forgeloop/forgeloop/pkg/types"
)

// BuildOperations are the external collaborator-supplied steps the engine
// drives. Build compiles a module, Validate checks the resulting artifact,
// Fix produces an updated declaration to rebuild. All three honor the
// context deadline; exceeding it is a fatal failure for that iteration.
type BuildOperations interface {
	Build(ctx context.Context, module types.ModuleDeclaration) (types.BuildArtifact, error)
	Validate(ctx context.Context, module types.ModuleDeclaration, artifact types.BuildArtifact) (types.ValidationOutcome, error)
	Fix(ctx context.Context, module types.ModuleDeclaration, outcome types.ValidationOutcome) (types.ModuleDeclaration, error)
}

// ConflictDetector statically cross-references completed modules' declared
// interfaces. Must be deterministic: identical input yields byte-identical
// reports.
type ConflictDetector interface {
	Detect(modules []types.ModuleDeclaration) types.ConflictReport
}

// SignatureComparator decides whether an imported signature is structurally
// compatible with an exported one. Pluggable so different language
// ecosystems can supply their own rule.
type SignatureComparator interface {
	Compatible(imported, exported string) bool
}

// HistoricalLookup resolves a prior metrics record for a build kind.
// Persistence of historical records is the caller's concern.
type HistoricalLookup func(buildKind string) (*types.MetricsRecord, bool)

// TraceSink receives module state transition events as they happen.
type TraceSink interface {
	Record(event types.TransitionEvent)
}

// StateStore persists live per-module build state for external observers.
type StateStore interface {
	InitializeState(module types.ModuleDeclaration) error
	UpdateModuleState(id types.ModuleID, state types.ModuleState, iteration int) error
	UpdateModuleError(id types.ModuleID, err error) error
	ReadState(id types.ModuleID) (*ModuleStateSnapshot, error)
	StartHeartbeat(ctx context.Context)
	StopHeartbeat()
	Cleanup() error
}

// ModuleStateSnapshot is the persisted view of one module's progress.
type ModuleStateSnapshot struct {
	Module     types.ModuleID    `json:"module"`
	State      types.ModuleState `json:"state"`
	Iteration  int               `json:"iteration"`
	ProcessID  int               `json:"processId"`
	Heartbeat  time.Time         `json:"heartbeat"`
	UpdatedAt  time.Time         `json:"updatedAt"`
	LastError  string            `json:"lastError,omitempty"`
}

// BuildNotifier surfaces build lifecycle events to the user.
type BuildNotifier interface {
	NotifyBuildStart(buildID string, modules int)
	NotifyModulePassed(module types.ModuleID, duration time.Duration)
	NotifyModuleEscalated(module types.ModuleID, iterations int)
	NotifyVerdict(verdict types.BuildVerdict, duration time.Duration)
}

// ProcessManager handles process lifecycle and cancellation signals.
type ProcessManager interface {
	RegisterShutdownHandler(handler func())
	Start(ctx context.Context)
	Stop()
	IsRunning() bool
}

// ConfigManager handles configuration loading and validation
type ConfigManager interface {
	LoadConfig(path string) (*types.BuildConfig, error)
	ValidateConfig(config *types.BuildConfig) error
	GetDefaultConfig() *types.BuildConfig
}

// EngineDependencies contains all injectable collaborators of the engine.
// Operations is required; the rest default to no-op implementations.
type EngineDependencies struct {
	Operations       BuildOperations
	ConflictDetector ConflictDetector
	StateStore       StateStore
	Notifier         BuildNotifier
	HistoricalLookup HistoricalLookup
	TraceSink        TraceSink
}
