// Package ops provides the default exec-backed build operations
package ops

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/forgeloop/forgeloop/pkg/logger"
	"github.com/forgeloop/forgeloop/pkg/types"
)

// ExecOperations implements interfaces.BuildOperations by running each
// module's declared build/validate/fix commands. A failing validate command
// is an ordinary validation failure; a failing build or fix command is a
// fatal operation error.
type ExecOperations struct {
	ProjectRoot string
	Logger      logger.Logger
}

// NewExecOperations creates exec-backed operations rooted at projectRoot.
func NewExecOperations(projectRoot string, log logger.Logger) *ExecOperations {
	return &ExecOperations{
		ProjectRoot: projectRoot,
		Logger:      log,
	}
}

// Build runs the module's build command.
func (e *ExecOperations) Build(ctx context.Context, module types.ModuleDeclaration) (types.BuildArtifact, error) {
	artifact := types.BuildArtifact{Module: module.ID, Metadata: map[string]string{}}

	if module.BuildCommand == "" {
		return artifact, nil
	}

	start := time.Now()
	output, err := e.run(ctx, module, module.BuildCommand, "build")
	artifact.Metadata["buildDuration"] = time.Since(start).String()

	if err != nil {
		return types.BuildArtifact{}, fmt.Errorf("build command failed: %w\n%s", err, output)
	}
	return artifact, nil
}

// Validate runs the module's validate command. A non-zero exit is reported
// as a failed outcome, not as an error.
func (e *ExecOperations) Validate(ctx context.Context, module types.ModuleDeclaration, artifact types.BuildArtifact) (types.ValidationOutcome, error) {
	if module.ValidateCommand == "" {
		return types.ValidationOutcome{Passed: true}, nil
	}

	output, err := e.run(ctx, module, module.ValidateCommand, "validate")
	if err == nil {
		return types.ValidationOutcome{Passed: true}, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return types.ValidationOutcome{
			Passed: false,
			Failures: []types.FailureRecord{{
				Signature:   fmt.Sprintf("exit:%d", exitErr.ExitCode()),
				Detail:      strings.TrimSpace(string(output)),
				Remediation: "inspect the validate command output",
			}},
		}, nil
	}

	// The command could not run at all: fatal, not a validation failure.
	return types.ValidationOutcome{}, fmt.Errorf("validate command failed to run: %w", err)
}

// Fix runs the module's fix command and returns the declaration for
// rebuild. The declaration itself is unchanged; without a fix command the
// same failures recur and the no-forward-progress detector escalates.
func (e *ExecOperations) Fix(ctx context.Context, module types.ModuleDeclaration, outcome types.ValidationOutcome) (types.ModuleDeclaration, error) {
	if module.FixCommand == "" {
		return module, nil
	}

	output, err := e.run(ctx, module, module.FixCommand, "fix")
	if err != nil {
		return types.ModuleDeclaration{}, fmt.Errorf("fix command failed: %w\n%s", err, output)
	}
	return module, nil
}

func (e *ExecOperations) run(ctx context.Context, module types.ModuleDeclaration, command, phase string) ([]byte, error) {
	cmd := e.createCommand(ctx, command)
	cmd.Dir = e.ProjectRoot

	if env := module.Environment; len(env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}

	logFile, err := e.prepareLogFile(module.ID)
	if err != nil && e.Logger != nil {
		e.Logger.Warn(fmt.Sprintf("Failed to create log file: %v", err))
	}
	defer func() {
		if logFile != nil {
			logFile.Close()
		}
	}()

	var outputBuffer bytes.Buffer
	var multiWriter io.Writer = &outputBuffer
	if logFile != nil {
		fmt.Fprintf(logFile, "\n=== %s started at %s ===\n$ %s\n",
			phase, time.Now().Format("2006-01-02 15:04:05"), command)
		multiWriter = io.MultiWriter(&outputBuffer, logFile)
	}
	cmd.Stdout = multiWriter
	cmd.Stderr = multiWriter

	runErr := cmd.Run()
	if logFile != nil {
		if runErr != nil {
			fmt.Fprintf(logFile, "=== %s FAILED: %v ===\n", phase, runErr)
		} else {
			fmt.Fprintf(logFile, "=== %s succeeded ===\n", phase)
		}
	}
	return outputBuffer.Bytes(), runErr
}

// createCommand creates an exec.Cmd from a command string
func (e *ExecOperations) createCommand(ctx context.Context, command string) *exec.Cmd {
	if strings.ContainsAny(command, "&|;<>$") {
		// Complex command - use shell
		return exec.CommandContext(ctx, "sh", "-c", command)
	}
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return exec.CommandContext(ctx, "sh", "-c", command)
	}
	return exec.CommandContext(ctx, parts[0], parts[1:]...)
}

func (e *ExecOperations) prepareLogFile(id types.ModuleID) (*os.File, error) {
	logDir := filepath.Join(e.ProjectRoot, ".forgeloop", "logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	logPath := filepath.Join(logDir, string(id)+".log")
	return os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}
