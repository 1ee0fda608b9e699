// Package runner executes planned tasks as external processes.
//
// Chains run concurrently on a bounded pool; the tasks of one chain run in
// order and stop at the first failure. Every process runs in the repository
// root with its stdout and stderr captured together. Cancelling the context
// kills the whole process group of every running task.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

var (
	// ErrNoCommand is returned for an invocation with an empty argv.
	ErrNoCommand = errors.New("no command to run")

	// ErrTimeout is returned when a task exceeds its time limit.
	ErrTimeout = errors.New("task timed out")
)

// waitDelay bounds how long Wait blocks on output pipes held open by
// grandchildren after the process itself has been killed.
const waitDelay = 2 * time.Second

// Result is the outcome of a single process.
type Result struct {
	// ExitCode is -1 when the process did not exit normally.
	ExitCode int

	// Output is stdout and stderr interleaved in write order.
	Output []byte

	// Err is set when the process could not start, timed out or was cancelled.
	Err error
}

// Runner spawns one process and waits for it.
type Runner interface {
	Run(ctx context.Context, dir string, argv []string) Result
}

// ProcessRunner implements Runner with os/exec.
type ProcessRunner struct {
	// Timeout limits each process; zero means no limit.
	Timeout time.Duration
}

// NewProcessRunner creates a ProcessRunner.
func NewProcessRunner(timeout time.Duration) *ProcessRunner {
	return &ProcessRunner{Timeout: timeout}
}

// Run executes argv in dir.
func (r *ProcessRunner) Run(ctx context.Context, dir string, argv []string) Result {
	if len(argv) == 0 {
		return Result{ExitCode: -1, Err: ErrNoCommand}
	}

	runCtx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = dir

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		return killProcessGroup(cmd)
	}
	cmd.WaitDelay = waitDelay

	err := cmd.Run()
	res := Result{Output: output.Bytes()}
	if err == nil {
		return res
	}

	res.ExitCode = -1
	switch {
	case ctx.Err() != nil:
		res.Err = fmt.Errorf("%s cancelled: %w", argv[0], ctx.Err())
	case runCtx.Err() != nil:
		res.Err = fmt.Errorf("%w after %s", ErrTimeout, r.Timeout)
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res
		}
		res.Err = fmt.Errorf("failed to start %s: %w", argv[0], err)
	}
	return res
}
