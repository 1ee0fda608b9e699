package runner

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/danieljhkim/stagerun/internal/clock"
	"github.com/danieljhkim/stagerun/internal/planner"
)

// Status is the final state of a task.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
	StatusCancelled Status = "cancelled"
)

// TaskResult records how one task ended.
type TaskResult struct {
	Task     *planner.Task
	Status   Status
	ExitCode int

	// Output is the combined output of every invocation that ran.
	Output []byte

	Duration time.Duration

	// Err is a start, timeout or cancellation error. A plain non-zero exit
	// leaves it nil.
	Err error
}

// ChainResult holds the task results of one chain in task order.
type ChainResult struct {
	Chain *planner.Chain
	Tasks []TaskResult
}

// Succeeded reports whether every task of the chain succeeded.
func (c ChainResult) Succeeded() bool {
	for _, t := range c.Tasks {
		if t.Status != StatusSucceeded {
			return false
		}
	}
	return true
}

// Outcome is the result of running a plan.
type Outcome struct {
	// Chains is index-aligned with the plan's chains.
	Chains []ChainResult

	// Interrupted is set when the context was cancelled during the run.
	Interrupted bool
}

// Executor runs plans.
type Executor struct {
	runner      Runner
	dir         string
	concurrency int
	clock       clock.Clock
	logger      *slog.Logger
}

// NewExecutor creates an Executor that runs processes in dir with at most
// concurrency chains in flight.
func NewExecutor(r Runner, dir string, concurrency int, clk clock.Clock, logger *slog.Logger) *Executor {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Executor{
		runner:      r,
		dir:         dir,
		concurrency: concurrency,
		clock:       clk,
		logger:      logger,
	}
}

// Run executes every chain of plan and waits for all of them.
// A failing chain never stops the others; only ctx does.
func (e *Executor) Run(ctx context.Context, plan *planner.Plan) *Outcome {
	outcome := &Outcome{Chains: make([]ChainResult, len(plan.Chains))}

	// A plain Group: one chain's failure must not cancel its siblings.
	var g errgroup.Group
	g.SetLimit(e.concurrency)

	for i, chain := range plan.Chains {
		g.Go(func() error {
			outcome.Chains[i] = e.runChain(ctx, chain)
			return nil
		})
	}
	_ = g.Wait()

	outcome.Interrupted = ctx.Err() != nil
	return outcome
}

func (e *Executor) runChain(ctx context.Context, chain *planner.Chain) ChainResult {
	result := ChainResult{Chain: chain, Tasks: make([]TaskResult, 0, len(chain.Tasks))}

	failed := false
	for _, task := range chain.Tasks {
		switch {
		case ctx.Err() != nil:
			result.Tasks = append(result.Tasks, TaskResult{Task: task, Status: StatusCancelled, Err: ctx.Err()})
		case failed:
			result.Tasks = append(result.Tasks, TaskResult{Task: task, Status: StatusSkipped})
		default:
			tr := e.runTask(ctx, task)
			result.Tasks = append(result.Tasks, tr)
			failed = tr.Status != StatusSucceeded
		}
	}

	return result
}

func (e *Executor) runTask(ctx context.Context, task *planner.Task) TaskResult {
	log := e.logger.With("rule", task.Pattern, "command", task.Template)
	log.Debug("task started", "mode", task.Mode.String(), "files", len(task.Paths), "invocations", len(task.Invocations))

	start := e.clock.Now()
	result := TaskResult{Task: task, Status: StatusSucceeded}

	var output bytes.Buffer
	for _, inv := range task.Invocations {
		log.Debug("spawning", "argv", inv.Argv)

		res := e.runner.Run(ctx, e.dir, inv.Argv)
		output.Write(res.Output)

		if res.Err != nil || res.ExitCode != 0 {
			result.ExitCode = res.ExitCode
			result.Err = res.Err
			result.Status = StatusFailed
			if ctx.Err() != nil {
				result.Status = StatusCancelled
			}
			break
		}
	}

	result.Output = output.Bytes()
	result.Duration = e.clock.Since(start)

	log.Debug("task finished", "status", string(result.Status), "exit_code", result.ExitCode, "duration", result.Duration)
	if result.Err != nil && result.Status == StatusFailed {
		log.Warn("task did not run to completion", "error", result.Err)
	}
	return result
}
