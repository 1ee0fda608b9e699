package runner

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danieljhkim/stagerun/internal/clock"
	"github.com/danieljhkim/stagerun/internal/config"
	"github.com/danieljhkim/stagerun/internal/glob"
	"github.com/danieljhkim/stagerun/internal/logging"
	"github.com/danieljhkim/stagerun/internal/planner"
)

func buildPlan(t *testing.T, rules []config.Rule, paths ...string) *planner.Plan {
	t.Helper()

	matches, err := glob.MatchRules(rules, paths)
	require.NoError(t, err)

	plan, err := planner.Build(matches, planner.Options{FixedCommands: []string{"make"}})
	require.NoError(t, err)
	return plan
}

func newTestExecutor(r Runner, concurrency int) *Executor {
	clk := clock.NewSteppingClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Second)
	return NewExecutor(r, "/repo", concurrency, clk, logging.Discard())
}

func statuses(c ChainResult) []Status {
	out := make([]Status, len(c.Tasks))
	for i, t := range c.Tasks {
		out[i] = t.Status
	}
	return out
}

func TestExecutor_FailingChainDoesNotStopOthers(t *testing.T) {
	plan := buildPlan(t, []config.Rule{
		{Pattern: "*.{md,json}", Commands: []string{"formatter --write"}},
		{Pattern: "*.go", Commands: []string{"make fmt", "make vet", "make test"}},
	}, "README.md", "main.go")

	fake := NewFakeRunner()
	fake.SetResult([]string{"formatter", "--write", "README.md"}, Result{Output: []byte("README.md 12ms\n")})
	fake.SetResult([]string{"make", "vet"}, Result{ExitCode: 2, Output: []byte("main.go:3: unreachable code\n")})

	outcome := newTestExecutor(fake, 1).Run(context.Background(), plan)
	require.Len(t, outcome.Chains, 2)
	assert.False(t, outcome.Interrupted)

	md := outcome.Chains[0]
	assert.True(t, md.Succeeded())
	assert.Equal(t, "README.md 12ms\n", string(md.Tasks[0].Output))

	goChain := outcome.Chains[1]
	assert.False(t, goChain.Succeeded())
	assert.Equal(t, []Status{StatusSucceeded, StatusFailed, StatusSkipped}, statuses(goChain))
	assert.Equal(t, 2, goChain.Tasks[1].ExitCode)
	assert.Contains(t, string(goChain.Tasks[1].Output), "unreachable code")
	assert.NoError(t, goChain.Tasks[1].Err)

	assert.NotContains(t, fake.Calls(), []string{"make", "test"})
}

func TestExecutor_TasksInChainRunInOrder(t *testing.T) {
	plan := buildPlan(t, []config.Rule{
		{Pattern: "*.go", Commands: []string{"gofmt -w", "goimports -w {file}", "make vet"}},
	}, "a.go", "b.go")

	fake := NewFakeRunner()
	newTestExecutor(fake, 4).Run(context.Background(), plan)

	assert.Equal(t, [][]string{
		{"gofmt", "-w", "a.go", "b.go"},
		{"goimports", "-w", "a.go"},
		{"goimports", "-w", "b.go"},
		{"make", "vet"},
	}, fake.Calls())
}

func TestExecutor_PerFileStopsAtFirstFailure(t *testing.T) {
	plan := buildPlan(t, []config.Rule{
		{Pattern: "*.sh", Commands: []string{"shellcheck {file}"}},
	}, "a.sh", "b.sh", "c.sh")

	fake := NewFakeRunner()
	fake.SetResult([]string{"shellcheck", "b.sh"}, Result{ExitCode: 1})

	outcome := newTestExecutor(fake, 1).Run(context.Background(), plan)
	assert.Equal(t, []Status{StatusFailed}, statuses(outcome.Chains[0]))
	assert.Len(t, fake.Calls(), 2)
}

func TestExecutor_RespectsConcurrencyLimit(t *testing.T) {
	var rules []config.Rule
	var paths []string
	for i := range 6 {
		ext := fmt.Sprintf("e%d", i)
		rules = append(rules, config.Rule{Pattern: "*." + ext, Commands: []string{"lint"}})
		paths = append(paths, "file."+ext)
	}
	plan := buildPlan(t, rules, paths...)

	fake := NewFakeRunner()
	fake.SetDelay(20 * time.Millisecond)

	outcome := newTestExecutor(fake, 2).Run(context.Background(), plan)
	require.Len(t, outcome.Chains, 6)
	for _, c := range outcome.Chains {
		assert.True(t, c.Succeeded())
	}
	assert.LessOrEqual(t, fake.MaxConcurrent(), 2)
	assert.Len(t, fake.Calls(), 6)
}

func TestExecutor_Cancellation(t *testing.T) {
	plan := buildPlan(t, []config.Rule{
		{Pattern: "*.go", Commands: []string{"slow", "never"}},
		{Pattern: "*.md", Commands: []string{"slow"}},
	}, "main.go", "README.md")

	fake := NewFakeRunner()
	fake.SetDelay(10 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	outcome := newTestExecutor(fake, 2).Run(ctx, plan)
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.True(t, outcome.Interrupted)
	assert.Equal(t, []Status{StatusCancelled, StatusCancelled}, statuses(outcome.Chains[0]))
	assert.Equal(t, []Status{StatusCancelled}, statuses(outcome.Chains[1]))
	for _, c := range fake.Calls() {
		assert.NotEqual(t, "never", c[0])
	}
}

func TestExecutor_DurationsComeFromClock(t *testing.T) {
	plan := buildPlan(t, []config.Rule{{Pattern: "*.go", Commands: []string{"gofmt"}}}, "main.go")

	outcome := newTestExecutor(NewFakeRunner(), 1).Run(context.Background(), plan)
	assert.Equal(t, time.Second, outcome.Chains[0].Tasks[0].Duration)
}

func TestExecutor_EmptyPlan(t *testing.T) {
	outcome := newTestExecutor(NewFakeRunner(), 1).Run(context.Background(), &planner.Plan{})
	assert.Empty(t, outcome.Chains)
	assert.False(t, outcome.Interrupted)
}
