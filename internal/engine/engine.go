// Package engine runs the configured tasks against the staged files of a repository.
//
// The engine is the orchestration layer between the CLI and the lower-level
// packages. One run goes through these steps:
//
//   - discover the repository and load the configuration
//   - list staged files and match them against the rules
//   - build the plan (chains of tasks, one chain per matching rule)
//   - acquire the working-tree guard and run the plan
//   - aggregate results, then commit task edits or restore the repository
//
// Every error the engine returns wraps one of the sentinels in errors.go.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/danieljhkim/stagerun/internal/clock"
	"github.com/danieljhkim/stagerun/internal/config"
	"github.com/danieljhkim/stagerun/internal/fsops"
	"github.com/danieljhkim/stagerun/internal/gitx"
	"github.com/danieljhkim/stagerun/internal/glob"
	"github.com/danieljhkim/stagerun/internal/guard"
	"github.com/danieljhkim/stagerun/internal/hash"
	"github.com/danieljhkim/stagerun/internal/planner"
	"github.com/danieljhkim/stagerun/internal/report"
	"github.com/danieljhkim/stagerun/internal/runner"
)

// Engine orchestrates a run. It is the main API surface called by the CLI.
type Engine struct {
	gitRepo gitx.GitRepo
	fs      fsops.FS
	hasher  hash.Hasher
	clock   clock.Clock
	runner  runner.Runner
	logger  *slog.Logger
}

// New creates a new Engine with the given dependencies.
func New(
	gitRepo gitx.GitRepo,
	fs fsops.FS,
	hasher hash.Hasher,
	clk clock.Clock,
	r runner.Runner,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		gitRepo: gitRepo,
		fs:      fs,
		hasher:  hasher,
		clock:   clk,
		runner:  r,
		logger:  logger,
	}
}

// Run executes the configured tasks on the staged files.
//
// The returned result is non-nil whenever the run got as far as loading the
// configuration, including when an error is returned, so callers can render
// the report of a failed run.
func (e *Engine) Run(ctx context.Context, req *RunRequest) (*RunResult, error) {
	settings := req.Settings
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	root, err := e.gitRepo.Discover(ctx, req.CWD)
	if err != nil {
		if errors.Is(err, ErrNotInRepo) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrNotInRepo, err)
	}

	cfg, err := config.Resolve(root, settings.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	e.logger.Debug("configuration loaded", "path", cfg.Path, "rules", len(cfg.Rules))

	result := &RunResult{Root: root, ConfigPath: cfg.Path}

	staged, err := e.gitRepo.StagedFiles(ctx, root, settings.DiffFilter)
	if err != nil {
		return result, fmt.Errorf("%w: %w", ErrGuard, err)
	}
	result.Staged = staged

	paths := make([]string, len(staged))
	for i, f := range staged {
		paths[i] = f.Path
	}

	// Patterns and templates are validated in full before anything runs.
	matches, err := glob.MatchRules(cfg.Rules, paths)
	if err != nil {
		return result, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	plan, err := planner.Build(matches, planner.Options{
		FixedCommands: settings.FixedCommands,
		Shell:         settings.Shell,
		MaxArgLength:  settings.MaxArgLength,
	})
	if err != nil {
		return result, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	result.Plan = plan
	e.logger.Debug("plan built", "staged", len(staged), "chains", len(plan.Chains), "tasks", plan.TaskCount())

	if plan.Empty() {
		result.NothingToDo = true
		return result, nil
	}
	if settings.DryRun {
		result.DryRun = true
		return result, nil
	}

	return result, e.execute(ctx, root, settings, plan, matchedFiles(staged, plan.Paths), result)
}

// execute runs the plan under the guard and decides between commit and restore.
func (e *Engine) execute(ctx context.Context, root string, settings config.Settings, plan *planner.Plan, files []gitx.StagedFile, result *RunResult) (err error) {
	g, err := guard.Acquire(ctx, guard.Config{
		Git:        e.gitRepo,
		FS:         e.fs,
		Hasher:     e.hasher,
		Logger:     e.logger,
		Root:       root,
		AllowEmpty: settings.AllowEmpty,
	}, files)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrInterrupted, err)
		}
		return fmt.Errorf("%w: %w", ErrGuard, err)
	}
	defer func() {
		if rerr := g.Release(); rerr != nil {
			err = errors.Join(err, fmt.Errorf("%w: %w", ErrGuard, rerr))
		}
	}()

	exec := runner.NewExecutor(e.runner, root, settings.Concurrency, e.clock, e.logger)
	outcome := exec.Run(ctx, plan)

	rep := report.Aggregate(plan, outcome)
	result.Report = rep

	switch {
	case outcome.Interrupted:
		rep.Restored = true
		if rerr := g.Restore(ctx); rerr != nil {
			return errors.Join(ErrInterrupted, fmt.Errorf("%w: %w", ErrGuard, rerr))
		}
		return ErrInterrupted

	case !rep.Succeeded():
		rep.Restored = true
		if rerr := g.Restore(ctx); rerr != nil {
			return errors.Join(taskFailure(rep), fmt.Errorf("%w: %w", ErrGuard, rerr))
		}
		return taskFailure(rep)

	case settings.CheckOnly:
		if rerr := g.Restore(ctx); rerr != nil {
			return fmt.Errorf("%w: %w", ErrGuard, rerr)
		}
		return nil
	}

	if cerr := g.Commit(ctx); cerr != nil {
		rep.Restored = true
		if errors.Is(cerr, guard.ErrEmptyCommit) {
			return fmt.Errorf("%w: %w", ErrEmptyCommit, cerr)
		}
		return fmt.Errorf("%w: %w", ErrGuard, cerr)
	}
	rep.Modified = g.Modified()
	e.logger.Debug("changes committed", "modified", len(rep.Modified))
	return nil
}

func taskFailure(rep *report.Report) error {
	failed := rep.Failed()
	if len(failed) == 1 {
		return fmt.Errorf("%w: %q (%s)", ErrTaskFailed, failed[0].Task.Command, failed[0].Pattern)
	}
	return fmt.Errorf("%w: %d tasks", ErrTaskFailed, len(failed))
}

// matchedFiles keeps the staged entries of paths, in staged order.
func matchedFiles(staged []gitx.StagedFile, paths []string) []gitx.StagedFile {
	want := make(map[string]bool, len(paths))
	for _, p := range paths {
		want[p] = true
	}

	files := make([]gitx.StagedFile, 0, len(paths))
	for _, f := range staged {
		if want[f.Path] {
			files = append(files, f)
		}
	}
	return files
}
