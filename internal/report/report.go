// Package report aggregates task results into a per-rule summary and renders it.
package report

import (
	"time"

	"github.com/danieljhkim/stagerun/internal/planner"
	"github.com/danieljhkim/stagerun/internal/runner"
)

// TaskReport is the outcome of one command template.
type TaskReport struct {
	Command  string        `json:"command"`
	Mode     string        `json:"mode"`
	Status   runner.Status `json:"status"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration_ns"`
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// RuleReport is the outcome of one rule's chain.
type RuleReport struct {
	Pattern string        `json:"pattern"`
	Index   int           `json:"index"`
	Files   []string      `json:"files"`
	Status  runner.Status `json:"status"`
	Tasks   []TaskReport  `json:"tasks"`
}

// Report is the outcome of a whole run.
type Report struct {
	Rules []RuleReport `json:"rules"`

	// Files is every staged path at least one rule matched.
	Files []string `json:"files"`

	// Modified lists matched paths the tasks changed and that were restaged.
	Modified []string `json:"modified,omitempty"`

	Interrupted bool `json:"interrupted,omitempty"`

	// Restored is set when the repository was rolled back.
	Restored bool `json:"restored,omitempty"`
}

// Aggregate joins the plan with the executor outcome.
func Aggregate(plan *planner.Plan, outcome *runner.Outcome) *Report {
	r := &Report{
		Rules:       make([]RuleReport, 0, len(plan.Chains)),
		Files:       plan.Paths,
		Interrupted: outcome.Interrupted,
	}

	for i, chain := range plan.Chains {
		rule := RuleReport{
			Pattern: chain.Pattern,
			Index:   chain.Rule,
			Files:   chain.Paths,
			Tasks:   make([]TaskReport, 0, len(chain.Tasks)),
		}

		var results []runner.TaskResult
		if i < len(outcome.Chains) {
			results = outcome.Chains[i].Tasks
		}

		for j, task := range chain.Tasks {
			tr := TaskReport{
				Command: task.Template,
				Mode:    task.Mode.String(),
				Status:  runner.StatusCancelled,
			}
			if j < len(results) {
				res := results[j]
				tr.Status = res.Status
				tr.ExitCode = res.ExitCode
				tr.Duration = res.Duration
				tr.Output = string(res.Output)
				if res.Err != nil {
					tr.Error = res.Err.Error()
				}
			}
			rule.Tasks = append(rule.Tasks, tr)
		}

		rule.Status = chainStatus(rule.Tasks)
		r.Rules = append(r.Rules, rule)
	}

	return r
}

func chainStatus(tasks []TaskReport) runner.Status {
	status := runner.StatusSucceeded
	for _, t := range tasks {
		switch t.Status {
		case runner.StatusFailed:
			return runner.StatusFailed
		case runner.StatusCancelled:
			status = runner.StatusCancelled
		}
	}
	return status
}

// Succeeded reports whether every chain succeeded. A report with no rules succeeds.
func (r *Report) Succeeded() bool {
	if r.Interrupted {
		return false
	}
	for _, rule := range r.Rules {
		if rule.Status != runner.StatusSucceeded {
			return false
		}
	}
	return true
}

// Failed returns the failed tasks with the pattern of their rule.
func (r *Report) Failed() []Failure {
	var out []Failure
	for _, rule := range r.Rules {
		for _, t := range rule.Tasks {
			if t.Status == runner.StatusFailed {
				out = append(out, Failure{Pattern: rule.Pattern, Task: t})
			}
		}
	}
	return out
}

// Failure is a failed task together with the rule that ran it.
type Failure struct {
	Pattern string
	Task    TaskReport
}

// Counts tallies tasks by status.
func (r *Report) Counts() map[runner.Status]int {
	counts := make(map[runner.Status]int)
	for _, rule := range r.Rules {
		for _, t := range rule.Tasks {
			counts[t.Status]++
		}
	}
	return counts
}
