// Package main implements the membank CLI: memory-bank builds against a
// source repository, full or incremental, one-shot or watch mode.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/membank/internal/agent"
	"github.com/fyrsmithlabs/membank/internal/bank"
	"github.com/fyrsmithlabs/membank/internal/build"
	"github.com/fyrsmithlabs/membank/internal/config"
	"github.com/fyrsmithlabs/membank/internal/logging"
	"github.com/fyrsmithlabs/membank/internal/telemetry"
	"github.com/fyrsmithlabs/membank/internal/tracker"
)

var (
	configPath  string
	outputPath  string
	changeRange string

	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "membank",
	Short: "Multi-agent memory-bank builder",
	Long: `membank generates a structured documentation tree ("memory bank") for a
source repository by coordinating analysis agents across three phases:
architecture decomposition, per-component documentation, and validation.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/membank/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputPath, "output", "o", "", "memory-bank output directory (default <repo>/memory-bank)")

	updateCmd.Flags().StringVar(&changeRange, "range", "", "git commit range (from..to) instead of fingerprint diffing")

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(statusCmd)
}

var buildCmd = &cobra.Command{
	Use:   "build <repository>",
	Short: "Run a full memory-bank build",
	Long: `Run a full build: every component is decomposed, documented, and
validated from scratch. The fingerprint index is replaced on success.

Examples:
  membank build .
  membank build ~/src/service -o ~/banks/service`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce(cmd.Context(), args[0], build.ModeFull, "")
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <repository>",
	Short: "Run an incremental memory-bank update",
	Long: `Run an incremental build: only components owning changed files are
reprocessed. Changes come from the persisted fingerprint index, or from
an explicit git range with --range.

Examples:
  membank update .
  membank update . --range main..HEAD`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce(cmd.Context(), args[0], build.ModeIncremental, changeRange)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <repository>",
	Short: "Show the memory bank's committed state",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

// setup loads config and wires the shared collaborators.
func setup(repoArg string) (*config.Config, *logging.Logger, build.Options, error) {
	var opts build.Options

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, opts, err
	}

	logger, err := logging.NewLogger(&cfg.Logging, nil)
	if err != nil {
		return nil, nil, opts, fmt.Errorf("initializing logger: %w", err)
	}

	repo, err := filepath.Abs(repoArg)
	if err != nil {
		return nil, nil, opts, err
	}
	out := outputPath
	if out == "" {
		out = filepath.Join(repo, "memory-bank")
	}

	opts = build.Options{RepoPath: repo, OutputPath: out}
	return cfg, logger, opts, nil
}

func runOnce(ctx context.Context, repoArg string, mode build.Mode, changeRange string) error {
	cfg, logger, opts, err := setup(repoArg)
	if err != nil {
		return err
	}
	defer logger.Sync()
	opts.Mode = mode
	opts.ChangeRange = changeRange

	invoker, err := agent.NewClient(cfg.Agent)
	if err != nil {
		return fmt.Errorf("initializing agent client: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer tel.Shutdown(context.Background())

	mgr := build.NewManager(cfg, invoker, logger)
	job := mgr.Submit(ctx, opts)
	mgr.Wait()

	outcome, err := job.Outcome()
	printOutcome(job, outcome)
	return err
}

func printOutcome(job *build.Job, outcome *build.Outcome) {
	if outcome == nil {
		return
	}
	fmt.Printf("Job %s: %s (%s)\n", job.ID, job.Status(), outcome.Elapsed.Round(time.Millisecond))
	if outcome.NoChanges {
		fmt.Println("No changes since last build.")
		return
	}
	if outcome.Manifest != nil {
		fmt.Printf("Components: %d documented, %d failed, %d need review\n",
			len(outcome.Results)-len(outcome.FailedComponents),
			len(outcome.FailedComponents),
			len(outcome.NeedsReview))
	}
	if len(outcome.FailedComponents) > 0 {
		fmt.Printf("Failed: %s\n", strings.Join(outcome.FailedComponents, ", "))
	}
	if len(outcome.NeedsReview) > 0 {
		fmt.Printf("Needs review: %s\n", strings.Join(outcome.NeedsReview, ", "))
	}
	fmt.Printf("Tokens: %d in / %d out, cost $%.4f\n",
		outcome.Costs.TotalInputTokens, outcome.Costs.TotalOutputTokens, outcome.Costs.TotalCost)
}

func runStatus(cmd *cobra.Command, args []string) error {
	_, _, opts, err := setup(args[0])
	if err != nil {
		return err
	}

	idx, err := tracker.LoadIndex(tracker.IndexPath(opts.OutputPath))
	if err != nil {
		return fmt.Errorf("reading fingerprint index: %w", err)
	}
	if idx.Generation == 0 {
		fmt.Println("No committed build yet.")
		return nil
	}

	fmt.Printf("Output:     %s\n", opts.OutputPath)
	fmt.Printf("Generation: %d\n", idx.Generation)
	fmt.Printf("Committed:  %s\n", idx.UpdatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Tracked:    %d files\n", len(idx.Files))

	if head := changelogHead(opts.OutputPath); head != "" {
		fmt.Printf("Last build:\n%s\n", head)
	}
	return nil
}

// changelogHead returns the newest changelog entry's front matter.
func changelogHead(outputPath string) string {
	data, err := os.ReadFile(filepath.Join(outputPath, bank.ChangelogDoc))
	if err != nil {
		return ""
	}
	text := string(data)
	if !strings.HasPrefix(text, "---\n") {
		return ""
	}
	end := strings.Index(text[4:], "---\n")
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(text[4 : 4+end])
}
