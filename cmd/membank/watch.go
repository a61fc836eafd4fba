package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/membank/internal/agent"
	"github.com/fyrsmithlabs/membank/internal/build"
	"github.com/fyrsmithlabs/membank/internal/telemetry"
	"github.com/fyrsmithlabs/membank/internal/tracker"
)

var watchCmd = &cobra.Command{
	Use:   "watch <repository>",
	Short: "Watch a repository and rebuild incrementally on changes",
	Long: `Watch the repository for filesystem changes and run an incremental
build after each quiet period. The first build runs immediately.

Examples:
  membank watch .
  membank watch ~/src/service -o ~/banks/service`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, logger, opts, err := setup(args[0])
	if err != nil {
		return err
	}
	defer logger.Sync()
	opts.Mode = build.ModeIncremental

	invoker, err := agent.NewClient(cfg.Agent)
	if err != nil {
		return fmt.Errorf("initializing agent client: %w", err)
	}

	tel, err := telemetry.New(cmd.Context(), cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer tel.Shutdown(context.Background())

	mgr := build.NewManager(cfg, invoker, logger)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watchTree(watcher, opts.RepoPath, opts.OutputPath); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Watching %s (debounce %s). Ctrl-C to stop.\n", opts.RepoPath, cfg.Watch.Debounce)

	runBuild := func() {
		job := mgr.Submit(ctx, opts)
		mgr.Wait()
		outcome, err := job.Outcome()
		if err != nil {
			fmt.Fprintln(os.Stderr, "Build error:", err)
		}
		printOutcome(job, outcome)
	}
	runBuild()

	var timer *time.Timer
	pending := make(chan struct{}, 1)
	debounce := cfg.Watch.Debounce

	for {
		select {
		case <-ctx.Done():
			fmt.Println("Stopping watch.")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ignoreEvent(event, opts.RepoPath, opts.OutputPath) {
				continue
			}
			// New directories must join the watch set.
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = watchTree(watcher, event.Name, opts.OutputPath)
				}
			}
			if timer == nil {
				timer = time.AfterFunc(debounce, func() {
					select {
					case pending <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn(ctx, "watcher error", zap.Error(err))

		case <-pending:
			timer = nil
			runBuild()
		}
	}
}

// watchTree registers root and every non-excluded directory under it.
func watchTree(watcher *fsnotify.Watcher, root, outputPath string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if tracker.SkipDir(d.Name()) || strings.HasPrefix(path, outputPath) {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}

// ignoreEvent drops events from excluded directories and the bank itself,
// so a merge never retriggers a build.
func ignoreEvent(event fsnotify.Event, repoPath, outputPath string) bool {
	if strings.HasPrefix(event.Name, outputPath) {
		return true
	}
	rel, err := filepath.Rel(repoPath, event.Name)
	if err != nil {
		return true
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if tracker.SkipDir(part) {
			return true
		}
	}
	return false
}
