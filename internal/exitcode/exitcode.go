// Package exitcode maps engine errors to process exit codes.
package exitcode

import (
	"errors"
	"os"

	"github.com/danieljhkim/stagerun/internal/engine"
)

// Exit codes for consistent error handling across the CLI.
const (
	// Success indicates every task passed, or there was nothing to do.
	Success = 0

	// TaskFailed indicates at least one task failed.
	TaskFailed = 1

	// ConfigError indicates invalid configuration, flags or environment.
	ConfigError = 2

	// GuardError indicates the repository could not be snapshotted or restored.
	GuardError = 3

	// EmptyCommit indicates the tasks reverted every staged change.
	EmptyCommit = 4

	// Interrupted follows the shell convention of 128 + SIGINT.
	Interrupted = 130
)

// Exit terminates the program with the given exit code.
func Exit(code int) {
	os.Exit(code)
}

// DetermineExitCode returns the exit code for err.
// When several causes are joined, the most severe one wins.
func DetermineExitCode(err error) int {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, engine.ErrInterrupted):
		return Interrupted
	case errors.Is(err, engine.ErrGuard):
		return GuardError
	case errors.Is(err, engine.ErrConfig), errors.Is(err, engine.ErrNotInRepo):
		return ConfigError
	case errors.Is(err, engine.ErrEmptyCommit):
		return EmptyCommit
	default:
		// engine.ErrTaskFailed and anything unclassified.
		return TaskFailed
	}
}

// Codes lists every exit code the CLI uses, in ascending order.
func Codes() []int {
	return []int{Success, TaskFailed, ConfigError, GuardError, EmptyCommit, Interrupted}
}

// Description returns a human-readable description of an exit code.
func Description(code int) string {
	switch code {
	case Success:
		return "Success"
	case TaskFailed:
		return "Task failed"
	case ConfigError:
		return "Configuration error"
	case GuardError:
		return "Working tree guard failure"
	case EmptyCommit:
		return "Empty commit prevented"
	case Interrupted:
		return "Interrupted"
	default:
		return "Unknown error"
	}
}
