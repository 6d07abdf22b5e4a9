package types

import "time"

// NotificationConfig represents notification preferences
type NotificationConfig struct {
	Enabled      *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	SuccessSound string `json:"successSound,omitempty" yaml:"successSound,omitempty"`
	FailureSound string `json:"failureSound,omitempty" yaml:"failureSound,omitempty"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	File  string   `json:"file" yaml:"file"`
	Level LogLevel `json:"level" yaml:"level"`
}

// EngineOptions are the caller-tunable knobs of the orchestration engine.
type EngineOptions struct {
	// MaxIterationsPerModule bounds the build→validate→fix loop. Default 3.
	MaxIterationsPerModule int `json:"maxIterationsPerModule,omitempty" yaml:"maxIterationsPerModule,omitempty"`

	// ConflictCheckpoint selects per-phase or end-of-build conflict checks.
	ConflictCheckpoint ConflictCheckpoint `json:"conflictCheckpoint,omitempty" yaml:"conflictCheckpoint,omitempty"`

	// OperationTimeout bounds each external Build/Validate/Fix invocation.
	// Zero means no engine-imposed timeout.
	OperationTimeout time.Duration `json:"operationTimeout,omitempty" yaml:"operationTimeout,omitempty"`
}

// DefaultEngineOptions returns the documented defaults.
func DefaultEngineOptions() EngineOptions {
	return EngineOptions{
		MaxIterationsPerModule: 3,
		ConflictCheckpoint:     ConflictCheckpointPerPhase,
	}
}

// BuildConfig is the main configuration: module declarations plus engine
// options, loaded from a forgeloop config file.
type BuildConfig struct {
	Version       string              `json:"version" yaml:"version"`
	BuildKind     string              `json:"buildKind,omitempty" yaml:"buildKind,omitempty"`
	Modules       []ModuleDeclaration `json:"modules" yaml:"modules"`
	Engine        *EngineOptions      `json:"engine,omitempty" yaml:"engine,omitempty"`
	Notifications *NotificationConfig `json:"notifications,omitempty" yaml:"notifications,omitempty"`
	Logging       *LoggingConfig      `json:"logging,omitempty" yaml:"logging,omitempty"`
}
