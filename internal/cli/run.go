package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/danieljhkim/stagerun/internal/config"
	"github.com/danieljhkim/stagerun/internal/engine"
	"github.com/danieljhkim/stagerun/internal/planner"
	"github.com/danieljhkim/stagerun/internal/report"
)

// runStaged runs the pipeline and prints whatever the engine got as far as.
func runStaged(cmd *cobra.Command, settings config.Settings) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}

	out := cmd.OutOrStdout()
	colored := report.ShouldUseColor(out)
	setColorEnabled(colored)

	eng := newEngine(settings, cmd.ErrOrStderr())
	result, err := eng.Run(cmd.Context(), &engine.RunRequest{
		CWD:      cwd,
		Settings: settings,
	})
	if result == nil {
		return err
	}

	if perr := printResult(out, result, settings, colored); perr != nil {
		err = errors.Join(err, fmt.Errorf("failed to print report: %w", perr))
	}
	return err
}

func printResult(w io.Writer, result *engine.RunResult, settings config.Settings, colored bool) error {
	switch {
	case result.DryRun:
		if settings.JSON {
			return outputJSON(w, newPlanView(result.Plan))
		}
		printPlan(w, result.Plan)
		return nil

	case result.NothingToDo:
		if settings.JSON {
			return outputJSON(w, &report.Report{Rules: []report.RuleReport{}, Files: []string{}})
		}
		if settings.Quiet {
			return nil
		}
		if len(result.Staged) == 0 {
			printInfo(w, "No staged files.")
		} else {
			printInfo(w, fmt.Sprintf("No staged files match any rule in %s.", result.ConfigPath))
		}
		return nil

	case result.Report != nil:
		if err := report.Render(w, result.Report, report.Options{
			Verbose: settings.Verbose,
			Quiet:   settings.Quiet,
			JSON:    settings.JSON,
			Color:   colored,
		}); err != nil {
			return err
		}
		if settings.CheckOnly && result.Report.Succeeded() && !settings.JSON && !settings.Quiet {
			printSuccess(w, "Check passed; index and working tree left as they were.")
		}
	}
	return nil
}

// planView is the JSON form of a dry run.
type planView struct {
	Files []string    `json:"files"`
	Rules []chainView `json:"rules"`
}

type chainView struct {
	Pattern string     `json:"pattern"`
	Index   int        `json:"index"`
	Files   []string   `json:"files"`
	Tasks   []taskView `json:"tasks"`
}

type taskView struct {
	Command     string     `json:"command"`
	Mode        string     `json:"mode"`
	Invocations [][]string `json:"invocations"`
}

func newPlanView(plan *planner.Plan) planView {
	view := planView{Files: plan.Paths, Rules: make([]chainView, 0, len(plan.Chains))}
	for _, chain := range plan.Chains {
		cv := chainView{
			Pattern: chain.Pattern,
			Index:   chain.Rule,
			Files:   chain.Paths,
			Tasks:   make([]taskView, 0, len(chain.Tasks)),
		}
		for _, task := range chain.Tasks {
			tv := taskView{
				Command:     task.Template,
				Mode:        task.Mode.String(),
				Invocations: make([][]string, 0, len(task.Invocations)),
			}
			for _, inv := range task.Invocations {
				tv.Invocations = append(tv.Invocations, inv.Argv)
			}
			cv.Tasks = append(cv.Tasks, tv)
		}
		view.Rules = append(view.Rules, cv)
	}
	return view
}

// printPlan prints what a run would execute, rule by rule.
func printPlan(w io.Writer, plan *planner.Plan) {
	printSection(w, fmt.Sprintf("Dry run: %s, %s",
		pluralize(len(plan.Chains), "rule"), pluralize(len(plan.Paths), "file")))

	for _, chain := range plan.Chains {
		printInfo(w, "")
		printLabelValue(w, chain.Pattern, pluralize(len(chain.Paths), "file"))
		printList(w, chain.Paths, 2)
		for _, task := range chain.Tasks {
			printInfo(w, fmt.Sprintf("    %s %s", task.Template, dimColor.Sprintf("[%s]", task.Mode)))
			for _, inv := range task.Invocations {
				printInfo(w, "      $ "+inv.String())
			}
		}
	}

	printInfo(w, "")
	printWarning(w, "Dry run: nothing was executed and the repository was not touched.")
}
