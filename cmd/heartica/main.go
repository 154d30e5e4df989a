// Package main provides the CLI entrypoint for heartica.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/verte-zerg/heartica/internal/buffer"
	"github.com/verte-zerg/heartica/internal/config"
	"github.com/verte-zerg/heartica/internal/dataset"
	"github.com/verte-zerg/heartica/internal/engine"
	"github.com/verte-zerg/heartica/internal/model"
	"github.com/verte-zerg/heartica/internal/pipeline"
	"github.com/verte-zerg/heartica/internal/source"
	"github.com/verte-zerg/heartica/internal/stats"
	"github.com/verte-zerg/heartica/internal/store"
	"github.com/verte-zerg/heartica/internal/tui"
)

const (
	defaultSimRate     = 30.0
	defaultSimDuration = 30 * time.Second
	defaultWindow      = 5
)

var (
	rscriptPath string
	workDir     string
	libDir      string
	rPackage    string
	rRepo       string
	scriptPath  string
	datasetDir  string
	keepDataset bool
	useHistory  bool
	verbose     bool

	recordFrom     string
	recordSimulate float64
	recordRate     float64
	recordDuration time.Duration
	recordRealtime bool
	recordPlain    bool
	recordSeed     int64

	processDelete bool

	historySince  string
	historyLast   int
	historyWindow int

	inspectPlot string
)

// settings is the resolved combination of flags, config file and defaults.
type settings struct {
	engine     engine.Config
	datasetDir string
	keep       bool
	history    bool
}

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "heartica",
		Short:         "Heart-rate estimation from optical channel samples",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			setupLogging(os.Stderr)
		},
		RunE: runRecordCmd,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rscriptPath, "rscript", engine.DefaultRscript, "Rscript executable")
	pf.StringVar(&workDir, "workdir", "", "engine working directory (default: current directory)")
	pf.StringVar(&libDir, "libdir", "", "local R library directory (default: <workdir>/Libs)")
	pf.StringVar(&rPackage, "r-package", engine.DefaultPackage, "R decomposition package")
	pf.StringVar(&rRepo, "repo", engine.DefaultRepo, "CRAN mirror used to install the R package")
	pf.StringVar(&scriptPath, "script", "", "analysis script (default: <workdir>/RScripts/KinectHeartRate_JADE.r)")
	pf.StringVar(&datasetDir, "dataset-dir", "", "directory for session datasets (default: workdir)")
	pf.BoolVar(&keepDataset, "keep", false, "keep the dataset after a successful analysis")
	pf.BoolVar(&useHistory, "history", true, "record results in the history database")
	pf.BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	addRecordFlags(rootCmd)

	rootCmd.AddCommand(newRecordCmd())
	rootCmd.AddCommand(newProcessCmd())
	rootCmd.AddCommand(newEngineCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newInspectCmd())
	rootCmd.AddCommand(newConfigCmd())

	return rootCmd
}

func setupLogging(w io.Writer) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

func addRecordFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&recordFrom, "from", "", "replay samples from a dataset file ('-' for stdin)")
	cmd.Flags().Float64Var(&recordSimulate, "simulate", 0, "generate a synthetic pulse at this many bpm")
	cmd.Flags().Float64Var(&recordRate, "rate", defaultSimRate, "synthetic sample rate in Hz")
	cmd.Flags().DurationVar(&recordDuration, "duration", defaultSimDuration, "synthetic session length")
	cmd.Flags().BoolVar(&recordRealtime, "realtime", false, "pace samples by their elapsed time")
	cmd.Flags().BoolVar(&recordPlain, "plain", false, "disable the TUI")
	cmd.Flags().Int64Var(&recordSeed, "seed", 0, "synthetic noise seed (default: time based)")
}

func newRecordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Capture a session and estimate the heart rate",
		Args:  cobra.NoArgs,
		RunE:  runRecordCmd,
	}
	addRecordFlags(cmd)
	return cmd
}

func runRecordCmd(cmd *cobra.Command, _ []string) error {
	if recordFrom == "" && recordSimulate == 0 {
		return cmd.Help()
	}
	cfg, err := resolveSettings(cmd)
	if err != nil {
		return err
	}
	src, label, closeSrc, err := buildSource()
	if err != nil {
		return err
	}
	defer closeSrc()

	interactive := !recordPlain && term.IsTerminal(int(os.Stdout.Fd()))
	if interactive {
		logFile, err := openLogFile()
		if err != nil {
			return err
		}
		defer func() {
			_ = logFile.Close()
		}()
		setupLogging(logFile)
	}

	eng := engine.New(cfg.engine, engine.Options{Logger: slog.Default()})
	defer func() {
		_ = eng.Release()
	}()
	if err := eng.Initialize(context.Background()); err != nil {
		logErrf("decomposition disabled: %v\n", err)
	}

	history, closeHistory := openHistory(cfg)
	defer closeHistory()

	buf := buffer.New(cfg.datasetDir, buffer.Options{Logger: slog.Default()})
	ctrl := pipeline.New(buf, eng, pipeline.Options{History: history, Logger: slog.Default()})
	path, err := ctrl.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin session: %w", err)
	}

	srcCtx, stopSource := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stopSource()
	samples, srcErr := tui.Feed(srcCtx, src)

	if interactive {
		m := tui.NewModel(context.Background(), ctrl, samples, srcErr, stopSource, path, label, cfg.keep)
		program := tea.NewProgram(m, tea.WithAltScreen())
		if _, err := program.Run(); err != nil {
			_ = ctrl.Abort()
			return fmt.Errorf("failed to run TUI: %w", err)
		}
		hr, aborted, err := m.Outcome()
		if aborted {
			if err != nil {
				logErrf("Session cancelled (%v); dataset kept at %s\n", err, path)
				return nil
			}
			logErrf("Session aborted; dataset kept at %s\n", path)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to process session (dataset kept at %s): %w", path, err)
		}
		return printHeartRate(cmd.OutOrStdout(), ctrl, hr)
	}

	logErrf("Recording %s from %s (Ctrl+C stops capture and analyzes)\n", path, label)
	for s := range samples {
		ctrl.Record(s)
	}
	if err := <-srcErr; err != nil && !errors.Is(err, context.Canceled) {
		logErrf("source stopped early: %v\n", err)
	}
	hr, err := ctrl.ProcessSession(context.Background(), cfg.keep)
	if err != nil {
		return fmt.Errorf("failed to process session (dataset kept at %s): %w", path, err)
	}
	return printHeartRate(cmd.OutOrStdout(), ctrl, hr)
}

func buildSource() (source.Source, string, func(), error) {
	noop := func() {}
	if recordFrom != "" && recordSimulate != 0 {
		return nil, "", noop, fmt.Errorf("--from and --simulate are mutually exclusive")
	}
	if recordSimulate != 0 {
		if recordSimulate < 0 {
			return nil, "", noop, fmt.Errorf("--simulate must be > 0")
		}
		if recordRate <= 0 {
			return nil, "", noop, fmt.Errorf("--rate must be > 0")
		}
		if recordDuration <= 0 {
			return nil, "", noop, fmt.Errorf("--duration must be > 0")
		}
		seed := recordSeed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		gen := source.NewSynthetic(recordSimulate, recordRate, recordDuration, seed)
		gen.Realtime = recordRealtime
		return gen, fmt.Sprintf("synthetic %.0f bpm", recordSimulate), noop, nil
	}
	if recordFrom == "-" {
		return source.NewReplay(os.Stdin, recordRealtime), "stdin", noop, nil
	}
	file, err := os.Open(recordFrom)
	if err != nil {
		return nil, "", noop, fmt.Errorf("failed to open replay dataset: %w", err)
	}
	closeFile := func() {
		_ = file.Close()
	}
	return source.NewReplay(file, recordRealtime), filepath.Base(recordFrom), closeFile, nil
}

func printHeartRate(w io.Writer, ctrl *pipeline.Controller, hr float64) error {
	if _, err := fmt.Fprintf(w, "Heart rate: %.1f bpm\n", hr); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	if res, ok := ctrl.LastResult(); ok && verbose {
		logErrf("candidates: hr1=%.2f hr2=%.2f hr3=%.2f hr4=%.2f\n", res.HR1, res.HR2, res.HR3, res.HR4)
	}
	return nil
}

func newProcessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process <dataset>",
		Short: "Analyze an existing dataset",
		Args:  cobra.ExactArgs(1),
		RunE:  runProcessCmd,
	}
	cmd.Flags().BoolVar(&processDelete, "delete", false, "delete the dataset after a successful analysis")
	return cmd
}

func runProcessCmd(cmd *cobra.Command, args []string) error {
	cfg, err := resolveSettings(cmd)
	if err != nil {
		return err
	}
	eng := engine.New(cfg.engine, engine.Options{Logger: slog.Default()})
	defer func() {
		_ = eng.Release()
	}()
	if err := eng.Initialize(context.Background()); err != nil {
		return err
	}

	history, closeHistory := openHistory(cfg)
	defer closeHistory()

	buf := buffer.New(cfg.datasetDir, buffer.Options{Logger: slog.Default()})
	ctrl := pipeline.New(buf, eng, pipeline.Options{History: history, Logger: slog.Default()})
	hr, err := ctrl.ProcessDataset(context.Background(), args[0], !processDelete)
	if err != nil {
		return fmt.Errorf("failed to process %s: %w", args[0], err)
	}
	return printHeartRate(cmd.OutOrStdout(), ctrl, hr)
}

func newEngineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "engine",
		Short: "Manage the R decomposition engine",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Install the R package and analysis script",
		Args:  cobra.NoArgs,
		RunE:  runEngineInitCmd,
	})
	return cmd
}

func runEngineInitCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveSettings(cmd)
	if err != nil {
		return err
	}
	eng := engine.New(cfg.engine, engine.Options{Logger: slog.Default()})
	defer func() {
		_ = eng.Release()
	}()
	if err := eng.Initialize(context.Background()); err != nil {
		return err
	}
	resolved := eng.Config()
	lines := []string{
		"Engine ready",
		fmt.Sprintf("  package: %s", resolved.Package),
		fmt.Sprintf("  library: %s", resolved.LibDir),
		fmt.Sprintf("  script:  %s", resolved.Script),
	}
	if _, err := fmt.Fprintln(cmd.OutOrStdout(), strings.Join(lines, "\n")); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past heart-rate results",
		Args:  cobra.NoArgs,
		RunE:  runHistoryCmd,
	}
	cmd.Flags().StringVar(&historySince, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&historyLast, "last", 0, "limit to last N sessions")
	cmd.Flags().IntVar(&historyWindow, "window", defaultWindow, "moving average window")
	return cmd
}

func runHistoryCmd(cmd *cobra.Command, _ []string) error {
	var sinceTime *time.Time
	if historySince != "" {
		parsed, err := time.ParseInLocation("2006-01-02", historySince, time.Local)
		if err != nil {
			return fmt.Errorf("invalid --since value: %w", err)
		}
		sinceTime = &parsed
	}
	if historyLast < 0 {
		return fmt.Errorf("--last must be >= 0")
	}

	st, err := store.Open(config.DefaultDBPath())
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close db: %v\n", cerr)
		}
	}()

	report, err := stats.BuildReport(context.Background(), st, model.HistoryConfig{
		Since:  sinceTime,
		Last:   historyLast,
		Window: historyWindow,
	})
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	return report.Render(cmd.OutOrStdout(), stats.TerminalWidth(os.Stdout))
}

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <dataset>",
		Short: "Summarize the channels of a dataset",
		Args:  cobra.ExactArgs(1),
		RunE:  runInspectCmd,
	}
	cmd.Flags().StringVar(&inspectPlot, "plot", "", "write a channel plot (png, svg or pdf)")
	return cmd
}

func runInspectCmd(cmd *cobra.Command, args []string) error {
	path := args[0]
	samples, err := dataset.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read dataset: %w", err)
	}
	summary, err := dataset.Summarize(path, samples)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	lines := []string{
		summary.Path,
		fmt.Sprintf("Samples: %d", summary.Samples),
		fmt.Sprintf("Duration: %s", (time.Duration(summary.DurationMs) * time.Millisecond).String()),
		fmt.Sprintf("Sample rate: %.2f Hz", summary.SampleRateHz),
		"",
		fmt.Sprintf("%-8s %10s %10s %10s %10s", "Channel", "Mean", "StdDev", "Min", "Max"),
	}
	for _, ch := range summary.Channels {
		lines = append(lines, fmt.Sprintf("%-8s %10.5f %10.5f %10.5f %10.5f", ch.Name, ch.Mean, ch.StdDev, ch.Min, ch.Max))
	}
	if _, err := fmt.Fprintln(out, strings.Join(lines, "\n")); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if inspectPlot != "" {
		if err := dataset.SavePlot(samples, filepath.Base(path), inspectPlot); err != nil {
			return err
		}
		logErrf("Wrote %s\n", inspectPlot)
	}
	return nil
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Create/open config file",
		Args:  cobra.NoArgs,
		RunE:  runConfigCmd,
	}
}

func runConfigCmd(_ *cobra.Command, _ []string) error {
	path := config.DefaultConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat config: %w", err)
		}
		if err := os.WriteFile(path, []byte(defaultConfigTemplate()), 0o644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}

	editor := strings.TrimSpace(os.Getenv("EDITOR"))
	if editor == "" {
		editor = "vi"
	}
	parts := strings.Fields(editor)
	if len(parts) == 0 {
		return fmt.Errorf("editor command is empty")
	}
	cmd := exec.Command(parts[0], append(parts[1:], path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to open editor: %w", err)
	}
	return nil
}

// resolveSettings merges the config file under the command's flags.
func resolveSettings(cmd *cobra.Command) (settings, error) {
	fileCfg, err := config.LoadConfig(config.DefaultConfigPath())
	if err != nil {
		return settings{}, fmt.Errorf("failed to load config: %w", err)
	}
	applyStringConfig(cmd, "rscript", &rscriptPath, fileCfg.Engine.Rscript)
	applyStringConfig(cmd, "workdir", &workDir, fileCfg.Engine.WorkDir)
	applyStringConfig(cmd, "libdir", &libDir, fileCfg.Engine.LibDir)
	applyStringConfig(cmd, "r-package", &rPackage, fileCfg.Engine.Package)
	applyStringConfig(cmd, "repo", &rRepo, fileCfg.Engine.Repo)
	applyStringConfig(cmd, "script", &scriptPath, fileCfg.Engine.Script)
	applyStringConfig(cmd, "dataset-dir", &datasetDir, fileCfg.Session.DatasetDir)
	applyBoolConfig(cmd, "keep", &keepDataset, fileCfg.Session.Keep)
	applyBoolConfig(cmd, "history", &useHistory, fileCfg.Session.History)

	wd := workDir
	if wd == "" {
		wd = config.DefaultWorkDir()
	}
	engCfg := engine.Config{
		Rscript: rscriptPath,
		WorkDir: wd,
		LibDir:  libDir,
		Package: rPackage,
		Repo:    rRepo,
		Script:  scriptPath,
	}.WithDefaults()
	if err := validateEngineConfig(engCfg); err != nil {
		return settings{}, err
	}

	dir := datasetDir
	if dir == "" {
		dir = engCfg.WorkDir
	}
	return settings{
		engine:     engCfg,
		datasetDir: dir,
		keep:       keepDataset,
		history:    useHistory,
	}, nil
}

func validateEngineConfig(cfg engine.Config) error {
	if strings.TrimSpace(cfg.Rscript) == "" {
		return fmt.Errorf("--rscript must not be empty")
	}
	for _, r := range cfg.Package {
		if !(r == '.' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return fmt.Errorf("--r-package %q is not a valid R package name", cfg.Package)
		}
	}
	return nil
}

// openHistory opens the history store when enabled. A store that cannot be
// opened only disables history.
func openHistory(cfg settings) (pipeline.HistoryRecorder, func()) {
	if !cfg.history {
		return nil, func() {}
	}
	st, err := store.Open(config.DefaultDBPath())
	if err != nil {
		logErrf("history disabled: failed to open db: %v\n", err)
		return nil, func() {}
	}
	return st, func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close db: %v\n", cerr)
		}
	}
}

func openLogFile() (*os.File, error) {
	path := config.DefaultLogPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

func applyStringConfig(cmd *cobra.Command, name string, target, value *string) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyBoolConfig(cmd *cobra.Command, name string, target, value *bool) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func defaultConfigTemplate() string {
	return fmt.Sprintf(`# heartica configuration
# Uncomment a value to enable it. CLI flags override config values.

[engine]
# rscript = %q           # Rscript executable
# workdir = "."                # Engine working directory
# libdir = "./Libs"            # Local R library directory
# package = %q             # R decomposition package
# repo = %q  # CRAN mirror for package installs
# script = "./RScripts/KinectHeartRate_JADE.r"

[session]
# dataset-dir = "."            # Where session datasets are written
# keep = false                 # Keep datasets after analysis
# history = true               # Record results in the history database
`,
		engine.DefaultRscript,
		engine.DefaultPackage,
		engine.DefaultRepo,
	)
}

func logErrf(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}
