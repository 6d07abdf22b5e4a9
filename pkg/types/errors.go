package types

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy. Expected per-module failures (a failing validation, a
// stalled fix loop) are represented as module state, never as errors; the
// types below cover the build-level and operation-level failures that do
// surface through error returns.

// ErrOperationTimeout marks a Build/Validate/Fix invocation that exceeded
// its caller-supplied deadline. Terminal for that module's iteration.
var ErrOperationTimeout = errors.New("operation timed out")

// ErrBuildCancelled marks work refused because the build was cancelled.
var ErrBuildCancelled = errors.New("build cancelled")

// CycleError is returned by the dependency analyzer when the declared
// dependencies contain a cycle. Fatal; the build cannot start.
type CycleError struct {
	Modules []ModuleID
}

func (e *CycleError) Error() string {
	names := make([]string, len(e.Modules))
	for i, m := range e.Modules {
		names[i] = string(m)
	}
	return fmt.Sprintf("dependency cycle detected involving: %s", strings.Join(names, ", "))
}

// UnknownDependencyError is returned when a module declares a dependency
// on a module that was never declared.
type UnknownDependencyError struct {
	Module    ModuleID
	DependsOn ModuleID
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("module %s depends on undeclared module %s", e.Module, e.DependsOn)
}

// OperationError wraps a fatal error from an external Build/Validate/Fix
// operation, distinct from an ordinary validation failure.
type OperationError struct {
	Module    ModuleID
	Operation string
	Err       error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s operation failed for module %s: %v", e.Operation, e.Module, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }
