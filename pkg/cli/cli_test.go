package cli

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/forgeloop/forgeloop/pkg/types"
)

func TestGetConfigPath(t *testing.T) {
	origCfg, origRoot := cfgFile, projectRoot
	defer func() { cfgFile, projectRoot = origCfg, origRoot }()

	cfgFile = ""
	projectRoot = "/work/project"
	if got := getConfigPath(); got != filepath.Join("/work/project", "forgeloop.config.json") {
		t.Errorf("getConfigPath() = %q", got)
	}

	cfgFile = "/etc/custom.json"
	if got := getConfigPath(); got != "/etc/custom.json" {
		t.Errorf("getConfigPath() = %q, want the explicit flag value", got)
	}
}

func TestReadLastNLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "module.log")
	content := "one\ntwo\nthree\nfour\nfive\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write log: %v", err)
	}

	got, err := readLastNLines(path, 2)
	if err != nil {
		t.Fatalf("readLastNLines() error = %v", err)
	}
	if got != "four\nfive\n" {
		t.Errorf("got %q", got)
	}

	// Asking for more lines than exist returns the whole file.
	all, err := readLastNLines(path, 100)
	if err != nil {
		t.Fatalf("readLastNLines() error = %v", err)
	}
	if !strings.HasPrefix(all, "one\n") {
		t.Errorf("got %q", all)
	}
}

func TestVerdictError(t *testing.T) {
	if err := verdictError(&types.BuildResult{Verdict: types.BuildVerdictSuccess}); err != nil {
		t.Errorf("success verdict yielded error %v", err)
	}
	if err := verdictError(nil); err != nil {
		t.Errorf("nil result yielded error %v", err)
	}

	err := verdictError(&types.BuildResult{Verdict: types.BuildVerdictFailed})
	if err == nil || !strings.Contains(err.Error(), "failed") {
		t.Errorf("failed verdict error = %v", err)
	}
	if errors.Is(err, os.ErrNotExist) {
		t.Error("verdict errors must not wrap unrelated sentinels")
	}
}

func TestSortedBuildKinds(t *testing.T) {
	records := map[string]*types.MetricsRecord{
		"release": {BuildKind: "release"},
		"ci":      {BuildKind: "ci"},
		"dev":     {BuildKind: "dev"},
	}

	want := []string{"ci", "dev", "release"}
	for i := 0; i < 5; i++ {
		got := sortedBuildKinds(records)
		if len(got) != len(want) {
			t.Fatalf("got %d kinds, want %d", len(got), len(want))
		}
		for j := range want {
			if got[j] != want[j] {
				t.Fatalf("kinds = %v, want %v", got, want)
			}
		}
	}
}

func TestAbsDuration(t *testing.T) {
	if absDuration(-3*time.Second) != 3*time.Second {
		t.Error("negative duration not flipped")
	}
	if absDuration(2*time.Second) != 2*time.Second {
		t.Error("positive duration changed")
	}
}
