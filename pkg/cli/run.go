package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/forgeloop/forgeloop/internal/engine"
	"github.com/forgeloop/forgeloop/pkg/config"
	"github.com/forgeloop/forgeloop/pkg/interfaces"
	"github.com/forgeloop/forgeloop/pkg/logger"
	"github.com/forgeloop/forgeloop/pkg/metrics"
	"github.com/forgeloop/forgeloop/pkg/notifier"
	"github.com/forgeloop/forgeloop/pkg/ops"
	"github.com/forgeloop/forgeloop/pkg/process"
	"github.com/forgeloop/forgeloop/pkg/state"
	"github.com/forgeloop/forgeloop/pkg/types"
)

func newRunCmd() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a full orchestrated build",
		Long: `Plan the dependency phases, build each phase concurrently, and drive every
module through its build, validate, fix loop. The build halts at the first
phase with an escalated module and at the first critical interface conflict.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(watch)
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "re-run the build when the config file changes")

	return cmd
}

func runBuild(watch bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	configPath := getConfigPath()
	cfg, err := config.NewManager().LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logFile := ""
	if cfg.Logging != nil {
		logFile = cfg.Logging.File
	}
	log := logger.CreateLogger(logFile, verbosity)

	printInfo(fmt.Sprintf("Starting Forgeloop v%s", version))

	result, err := executeBuild(ctx, cfg, log)
	if err != nil {
		return err
	}

	if !watch {
		return verdictError(result)
	}

	// Watch mode: rebuild on config changes until interrupted.
	reloader := config.NewReloadManager(configPath, log)
	rebuilds := make(chan *types.BuildConfig, 1)
	reloader.AddCallback(func(next *types.BuildConfig, err error) {
		if err != nil {
			printError(fmt.Sprintf("Config reload failed: %v", err))
			return
		}
		select {
		case rebuilds <- next:
		default:
		}
	})
	if err := reloader.StartWatching(); err != nil {
		return fmt.Errorf("failed to watch config: %w", err)
	}
	defer reloader.StopWatching()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	printInfo("Watching for config changes (ctrl-c to stop)")
	for {
		select {
		case sig := <-sigChan:
			printInfo(fmt.Sprintf("Received signal: %s", sig))
			return verdictError(result)
		case next := <-rebuilds:
			printInfo("Config changed, rebuilding")
			result, err = executeBuild(ctx, next, log)
			if err != nil {
				printError(err.Error())
			}
		}
	}
}

// executeBuild wires the engine's collaborators, runs one build, reports
// the outcome, and persists its metrics.
func executeBuild(ctx context.Context, cfg *types.BuildConfig, log logger.Logger) (*types.BuildResult, error) {
	history := metrics.NewFileHistory(projectRoot)

	var notifications types.NotificationConfig
	if cfg.Notifications != nil {
		notifications = *cfg.Notifications
	}

	orchestrator := engine.New(cfg, log, interfaces.EngineDependencies{
		Operations:       ops.NewExecOperations(projectRoot, log),
		StateStore:       state.NewStore(projectRoot, log),
		Notifier:         notifier.New(notifications, log),
		HistoricalLookup: history.Lookup,
	})

	runCtx, cancel := context.WithCancel(ctx)

	// First signal cancels cooperatively, in-flight modules finish.
	procs := process.NewManager(log)
	procs.RegisterShutdownHandler(func() {
		printWarning("Cancelling build, in-flight modules will finish")
		orchestrator.Cancel()
	})
	procs.Start(runCtx)
	defer procs.Stop()
	defer cancel()

	result, err := orchestrator.RunWithContext(runCtx)
	if err != nil {
		return nil, fmt.Errorf("build failed: %w", err)
	}

	reportResult(result)

	if result.Metrics != nil {
		if err := history.Save(result.Metrics); err != nil {
			printWarning(fmt.Sprintf("Failed to persist metrics: %v", err))
		}
	}

	return result, nil
}

func reportResult(result *types.BuildResult) {
	switch result.Verdict {
	case types.BuildVerdictSuccess:
		printSuccess("Build succeeded")
	case types.BuildVerdictCancelled:
		printWarning("Build cancelled")
	case types.BuildVerdictConflictBlocked:
		printError("Build blocked by interface conflicts")
		if result.ConflictReport != nil {
			for _, c := range result.ConflictReport.Criticals() {
				printError(fmt.Sprintf("  %s / %s: %s", c.Modules[0], c.Modules[1], c.Description))
			}
		}
	default:
		printError(fmt.Sprintf("Build failed, escalated modules: %v", result.FailedModules))
	}

	if m := result.Metrics; m != nil {
		printInfo(fmt.Sprintf("Speedup %.2fx of %.2fx attainable (%.0f%% efficiency), wall time %s",
			m.Speedup, m.TheoreticalMax, m.Efficiency*100, m.TotalDuration.Round(time.Millisecond)))
		if m.Bottleneck != "" {
			printInfo(fmt.Sprintf("Bottleneck module: %s", m.Bottleneck))
		}
	}
	if d := result.Delta; d != nil {
		direction := "slower"
		if d.Faster {
			direction = "faster"
		}
		printInfo(fmt.Sprintf("Compared to last %q build: %s %s, %+d iterations",
			d.BuildKind, absDuration(d.DurationDelta).Round(time.Millisecond), direction, d.IterationDelta))
	}
}

func verdictError(result *types.BuildResult) error {
	if result == nil || result.Verdict == types.BuildVerdictSuccess {
		return nil
	}
	return fmt.Errorf("build finished with verdict %q", result.Verdict)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
