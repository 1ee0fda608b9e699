package engine

import (
	"github.com/danieljhkim/stagerun/internal/config"
	"github.com/danieljhkim/stagerun/internal/gitx"
	"github.com/danieljhkim/stagerun/internal/planner"
	"github.com/danieljhkim/stagerun/internal/report"
)

// RunRequest represents a request to run the configured tasks on staged files.
type RunRequest struct {
	// CWD is the directory stagerun was invoked from.
	CWD string

	// Settings are the resolved run settings.
	Settings config.Settings
}

// RunResult describes what a run did.
type RunResult struct {
	// Root is the top level of the work tree.
	Root string

	// ConfigPath is the configuration file that was used.
	ConfigPath string

	// Staged lists every staged file considered.
	Staged []gitx.StagedFile

	// Plan is nil when nothing was staged.
	Plan *planner.Plan

	// Report is nil unless tasks ran.
	Report *report.Report

	// NothingToDo is set when no staged file matched any rule.
	NothingToDo bool

	// DryRun is set when the plan was built but not executed.
	DryRun bool
}
