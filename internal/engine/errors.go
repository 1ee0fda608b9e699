package engine

import (
	"errors"

	"github.com/danieljhkim/stagerun/internal/gitx"
)

var (
	// ErrConfig indicates a malformed configuration, pattern, template or
	// setting. Nothing has been touched when it is returned.
	ErrConfig = errors.New("configuration error")

	// ErrTaskFailed indicates at least one task failed. The repository has
	// been restored.
	ErrTaskFailed = errors.New("tasks failed")

	// ErrGuard indicates the repository could not be snapshotted, committed
	// or restored.
	ErrGuard = errors.New("working tree guard failed")

	// ErrInterrupted indicates the run was cancelled. The repository has been
	// restored.
	ErrInterrupted = errors.New("interrupted")

	// ErrEmptyCommit indicates the tasks reverted every staged change.
	ErrEmptyCommit = errors.New("empty commit prevented")

	// ErrNotInRepo indicates the current directory is not in a git repository.
	ErrNotInRepo = gitx.ErrNotInRepo
)
