package cli

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/forgeloop/forgeloop/pkg/conflict"
	"github.com/forgeloop/forgeloop/pkg/config"
	"github.com/forgeloop/forgeloop/pkg/graph"
	"github.com/forgeloop/forgeloop/pkg/metrics"
	"github.com/forgeloop/forgeloop/pkg/state"
	"github.com/forgeloop/forgeloop/pkg/types"
)

func newPlanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show the phased build plan",
		Long:  `Analyze the module dependency graph and print the phases a build would run, without building anything.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan()
		},
	}
}

func newConflictsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts",
		Short: "Check declared module interfaces for conflicts",
		Long:  `Statically cross-reference every module's declared exports, imports and dependency versions, without building anything.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConflicts()
		},
	}
}

func newMetricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Show recorded build metrics",
		Long:  `Display the most recent metrics record for each build kind.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMetrics()
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show status of all modules",
		Long:  `Display the current loop state of every module from the last or in-flight build.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus()
		},
	}
}

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Clean state, logs and metrics",
		Long:  `Remove all persisted module state, build logs and metrics history.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClean()
		},
	}
}

func newLogsCmd() *cobra.Command {
	var follow bool
	var lines int

	cmd := &cobra.Command{
		Use:   "logs [module]",
		Short: "Show build logs",
		Long:  `Display build logs for all modules or a specific module.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			moduleID := ""
			if len(args) > 0 {
				moduleID = args[0]
			}
			return runLogs(moduleID, follow, lines)
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "follow log output")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of lines to show")

	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Long:  `Check that the configuration file is valid: module ids, dependencies and engine options.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidateConfig()
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of Forgeloop",
		Long:  `Print the version number of Forgeloop`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("🔨 Forgeloop v%s\n", version)
		},
	}
}

// Implementation functions

func runPlan() error {
	cfg, err := config.NewManager().LoadConfig(getConfigPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	plan, err := graph.NewAnalyzer().Plan(cfg.Modules)
	if err != nil {
		return fmt.Errorf("failed to plan build: %w", err)
	}

	printInfo(fmt.Sprintf("Strategy: %s, %d modules in %d phases", plan.Strategy, plan.ModuleCount(), len(plan.Phases)))
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PHASE\tMODULES")
	fmt.Fprintln(w, "-----\t-------")
	for _, phase := range plan.Phases {
		ids := make([]string, len(phase.Modules))
		for i, id := range phase.Modules {
			ids[i] = string(id)
		}
		fmt.Fprintf(w, "%d\t%s\n", phase.Index, strings.Join(ids, ", "))
	}
	w.Flush()

	for _, adv := range plan.Advisories {
		printInfo(fmt.Sprintf("Merge candidate: %s + %s (%s)", adv.Modules[0], adv.Modules[1], adv.Reason))
	}

	return nil
}

func runConflicts() error {
	cfg, err := config.NewManager().LoadConfig(getConfigPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	report := conflict.NewDetector(nil).Detect(cfg.Modules)
	if len(report.Conflicts) == 0 {
		printSuccess("No conflicts detected")
		return nil
	}

	for _, c := range report.Conflicts {
		line := fmt.Sprintf("%s / %s: %s", c.Modules[0], c.Modules[1], c.Description)
		switch c.Severity {
		case types.ConflictSeverityCritical:
			printError(line)
		case types.ConflictSeverityWarning:
			printWarning(line)
		default:
			printInfo(line)
		}
		if c.SuggestedFix != "" {
			fmt.Printf("    fix: %s\n", c.SuggestedFix)
		}
	}

	if report.HasCritical() {
		return fmt.Errorf("found %d critical conflict(s)", len(report.Criticals()))
	}
	return nil
}

func runMetrics() error {
	records, err := metrics.NewFileHistory(projectRoot).All()
	if err != nil {
		return fmt.Errorf("failed to read metrics history: %w", err)
	}
	if len(records) == 0 {
		printWarning("No metrics recorded yet. Run 'forgeloop run' first.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BUILD KIND\tDURATION\tSPEEDUP\tMAX\tEFFICIENCY\tBOTTLENECK")
	fmt.Fprintln(w, "----------\t--------\t-------\t---\t----------\t----------")
	for _, kind := range sortedBuildKinds(records) {
		record := records[kind]
		fmt.Fprintf(w, "%s\t%s\t%.2fx\t%.2fx\t%.0f%%\t%s\n",
			kind,
			record.TotalDuration.Round(time.Millisecond),
			record.Speedup,
			record.TheoreticalMax,
			record.Efficiency*100,
			record.Bottleneck,
		)
	}
	w.Flush()
	return nil
}

func sortedBuildKinds(records map[string]*types.MetricsRecord) []string {
	kinds := make([]string, 0, len(records))
	for kind := range records {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

func runStatus() error {
	cfg, err := config.NewManager().LoadConfig(getConfigPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store := state.NewStore(projectRoot, nil)
	states, err := store.DiscoverStates()
	if err != nil {
		return fmt.Errorf("failed to discover states: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODULE\tSTATE\tITERATION\tUPDATED\tLAST ERROR")
	fmt.Fprintln(w, "------\t-----\t---------\t-------\t----------")

	for _, module := range cfg.Modules {
		moduleState := "unknown"
		iteration := 0
		updated := "-"
		lastError := ""

		if snap, ok := states[module.ID]; ok {
			moduleState = string(snap.State)
			iteration = snap.Iteration
			if !snap.UpdatedAt.IsZero() {
				updated = snap.UpdatedAt.Format("15:04:05")
			}
			lastError = snap.LastError
		}

		stateColor := color.WhiteString(moduleState)
		switch types.ModuleState(moduleState) {
		case types.ModuleStatePassed:
			stateColor = color.GreenString(moduleState)
		case types.ModuleStateEscalated:
			stateColor = color.RedString(moduleState)
		case types.ModuleStateBuilding, types.ModuleStateValidating, types.ModuleStateFixing:
			stateColor = color.YellowString(moduleState)
		}

		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			module.ID,
			stateColor,
			iteration,
			updated,
			lastError,
		)
	}

	w.Flush()
	return nil
}

func runClean() error {
	stateDir := filepath.Join(projectRoot, ".forgeloop")
	if err := os.RemoveAll(stateDir); err != nil {
		return fmt.Errorf("failed to remove state directory: %w", err)
	}

	printSuccess("Cleaned state, logs and metrics")
	return nil
}

func runLogs(moduleID string, follow bool, lines int) error {
	logDir := filepath.Join(projectRoot, ".forgeloop", "logs")

	if _, err := os.Stat(logDir); os.IsNotExist(err) {
		printWarning("No logs found. Run 'forgeloop run' to start logging.")
		return nil
	}

	var logFiles []string
	if moduleID != "" {
		moduleLogFile := filepath.Join(logDir, fmt.Sprintf("%s.log", moduleID))
		if _, err := os.Stat(moduleLogFile); os.IsNotExist(err) {
			return fmt.Errorf("no logs found for module: %s", moduleID)
		}
		logFiles = []string{moduleLogFile}
		printInfo(fmt.Sprintf("Showing logs for module: %s", moduleID))
	} else {
		entries, err := os.ReadDir(logDir)
		if err != nil {
			return fmt.Errorf("failed to read log directory: %w", err)
		}

		for _, entry := range entries {
			if !entry.IsDir() && filepath.Ext(entry.Name()) == ".log" {
				logFiles = append(logFiles, filepath.Join(logDir, entry.Name()))
			}
		}

		if len(logFiles) == 0 {
			printWarning("No log files found")
			return nil
		}
		printInfo("Showing all logs")
	}

	for _, logFile := range logFiles {
		if err := displayLogFile(logFile, lines, follow); err != nil {
			printError(fmt.Sprintf("Failed to display %s: %v", filepath.Base(logFile), err))
		}
	}

	return nil
}

func displayLogFile(logFile string, lines int, follow bool) error {
	if follow {
		cmd := exec.Command("tail", "-f", "-n", fmt.Sprintf("%d", lines), logFile)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt)
		go func() {
			<-sigChan
			if cmd.Process != nil {
				cmd.Process.Kill()
			}
		}()

		return cmd.Run()
	}

	content, err := readLastNLines(logFile, lines)
	if err != nil {
		return err
	}

	moduleID := strings.TrimSuffix(filepath.Base(logFile), ".log")
	fmt.Printf("\n=== %s ===\n", moduleID)
	fmt.Print(content)

	return nil
}

func readLastNLines(filename string, n int) (string, error) {
	file, err := os.Open(filename)
	if err != nil {
		return "", err
	}
	defer file.Close()

	var allLines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		allLines = append(allLines, scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		return "", err
	}

	start := 0
	if len(allLines) > n {
		start = len(allLines) - n
	}

	return strings.Join(allLines[start:], "\n") + "\n", nil
}

func runValidateConfig() error {
	configPath := getConfigPath()

	manager := config.NewManager()
	cfg, err := manager.LoadConfig(configPath)
	if err != nil {
		printError(fmt.Sprintf("Configuration is invalid: %v", err))
		return err
	}

	warnings := []string{}
	for _, module := range cfg.Modules {
		if module.BuildCommand == "" {
			warnings = append(warnings, fmt.Sprintf("Module '%s': no build command defined", module.ID))
		}
		if module.ValidateCommand == "" {
			warnings = append(warnings, fmt.Sprintf("Module '%s': no validate command, it will pass unvalidated", module.ID))
		}
	}

	// A config that loads cleanly has already passed structural validation.
	// The plan check catches cycles and unknown dependencies.
	if _, err := graph.NewAnalyzer().Plan(cfg.Modules); err != nil {
		printError(fmt.Sprintf("Dependency graph is invalid: %v", err))
		return err
	}

	if len(warnings) > 0 {
		printWarning("Configuration warnings:")
		for _, warn := range warnings {
			fmt.Printf("  ⚠ %s\n", warn)
		}
	}

	printSuccess("Configuration is valid")
	return nil
}
