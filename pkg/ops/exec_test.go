package ops

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/forgeloop/forgeloop/pkg/logger"
	"github.com/forgeloop/forgeloop/pkg/types"
)

func newTestOps(t *testing.T) (*ExecOperations, string) {
	t.Helper()
	root := t.TempDir()
	return NewExecOperations(root, logger.CreateLoggerWithOutput("", "debug", nil)), root
}

func TestBuildRunsCommand(t *testing.T) {
	e, root := newTestOps(t)
	module := types.ModuleDeclaration{
		ID:           "writer",
		BuildCommand: "touch built.txt",
	}

	artifact, err := e.Build(context.Background(), module)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if artifact.Module != "writer" {
		t.Errorf("artifact module = %s", artifact.Module)
	}
	if _, err := os.Stat(filepath.Join(root, "built.txt")); err != nil {
		t.Errorf("build command did not run in the project root: %v", err)
	}
}

func TestBuildCommandFailureIsFatal(t *testing.T) {
	e, _ := newTestOps(t)
	module := types.ModuleDeclaration{ID: "broken", BuildCommand: "exit 1"}

	if _, err := e.Build(context.Background(), module); err == nil {
		t.Fatal("expected an error for a failing build command")
	}
}

func TestBuildWithoutCommandSucceeds(t *testing.T) {
	e, _ := newTestOps(t)
	artifact, err := e.Build(context.Background(), types.ModuleDeclaration{ID: "lib"})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if artifact.Module != "lib" {
		t.Errorf("artifact = %+v", artifact)
	}
}

func TestValidateExitCodeIsFailureNotError(t *testing.T) {
	e, _ := newTestOps(t)
	module := types.ModuleDeclaration{
		ID:              "failing",
		ValidateCommand: "echo broken output; exit 3",
	}

	outcome, err := e.Validate(context.Background(), module, types.BuildArtifact{Module: "failing"})
	if err != nil {
		t.Fatalf("a failing validate command must not be an operation error: %v", err)
	}
	if outcome.Passed {
		t.Fatal("outcome passed despite non-zero exit")
	}
	if len(outcome.Failures) != 1 {
		t.Fatalf("failures = %+v", outcome.Failures)
	}
	f := outcome.Failures[0]
	if f.Signature != "exit:3" {
		t.Errorf("signature = %q, want exit:3", f.Signature)
	}
	if !strings.Contains(f.Detail, "broken output") {
		t.Errorf("detail = %q, want the command output", f.Detail)
	}
}

func TestValidatePassesOnZeroExit(t *testing.T) {
	e, _ := newTestOps(t)
	module := types.ModuleDeclaration{ID: "green", ValidateCommand: "true"}

	outcome, err := e.Validate(context.Background(), module, types.BuildArtifact{})
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !outcome.Passed {
		t.Error("outcome not passed")
	}
}

func TestValidateWithoutCommandPasses(t *testing.T) {
	e, _ := newTestOps(t)
	outcome, err := e.Validate(context.Background(), types.ModuleDeclaration{ID: "silent"}, types.BuildArtifact{})
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !outcome.Passed {
		t.Error("module without a validate command must pass")
	}
}

func TestEnvironmentReachesCommands(t *testing.T) {
	e, _ := newTestOps(t)
	module := types.ModuleDeclaration{
		ID:              "envy",
		ValidateCommand: `test "$FORGE_MODE" = fast`,
		Environment:     map[string]string{"FORGE_MODE": "fast"},
	}

	outcome, err := e.Validate(context.Background(), module, types.BuildArtifact{})
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !outcome.Passed {
		t.Error("environment variable did not reach the command")
	}
}

func TestFixReturnsDeclaration(t *testing.T) {
	e, _ := newTestOps(t)
	module := types.ModuleDeclaration{ID: "fixable", FixCommand: "true"}

	updated, err := e.Fix(context.Background(), module, types.ValidationOutcome{})
	if err != nil {
		t.Fatalf("Fix() error = %v", err)
	}
	if updated.ID != module.ID {
		t.Errorf("declaration = %+v", updated)
	}

	// No fix command: unchanged declaration, the loop detects the stall.
	same, err := e.Fix(context.Background(), types.ModuleDeclaration{ID: "static"}, types.ValidationOutcome{})
	if err != nil {
		t.Fatalf("Fix() error = %v", err)
	}
	if same.ID != "static" {
		t.Errorf("declaration = %+v", same)
	}
}

func TestCommandsLogToModuleLogFile(t *testing.T) {
	e, root := newTestOps(t)
	module := types.ModuleDeclaration{ID: "logged", BuildCommand: "echo hello from build"}

	if _, err := e.Build(context.Background(), module); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, ".forgeloop", "logs", "logged.log"))
	if err != nil {
		t.Fatalf("log file missing: %v", err)
	}
	if !strings.Contains(string(data), "hello from build") {
		t.Errorf("log file lacks command output: %q", string(data))
	}
}
