package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/danieljhkim/stagerun/internal/runner"
)

// formatMarkdown collapses the spaces after a leading # in every file it is given.
const formatMarkdown = "for f in \"$@\"; do sed 's/^#  */# /' \"$f\" > \"$f.tmp\" && mv \"$f.tmp\" \"$f\"; done\n"

func TestRun_FailingRuleRestoresEverything(t *testing.T) {
	f := newFixture(t)
	fmtMD := f.script("fmt-md.sh", formatMarkdown)
	fmtGo := f.script("fmt-go.sh", "printf 'package main\\n\\nfunc main() {}\\n' > main.go\n")
	vet := f.script("vet.sh", "echo 'main.go:3:1: vet says no'\nexit 1\n")
	f.config(jsonRules(
		"*.{md,json}", strconv.Quote(fmtMD),
		"*.go", "["+strconv.Quote("!"+fmtGo)+","+strconv.Quote("!"+vet)+"]",
	))

	f.write("README.md", "#   title\n")
	f.write("main.go", "package main\nfunc main(){}\n")
	f.git("add", "README.md", "main.go")
	f.write("notes.txt", "notes, unstaged\n")
	before := f.state()

	result, err := f.run(context.Background(), testSettings())
	if !errors.Is(err, ErrTaskFailed) {
		t.Fatalf("expected ErrTaskFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "vet.sh") {
		t.Errorf("error should name the failing command: %v", err)
	}

	rep := result.Report
	if rep == nil || len(rep.Rules) != 2 {
		t.Fatalf("expected a report with two rules, got %+v", rep)
	}
	if rep.Rules[0].Status != runner.StatusSucceeded {
		t.Errorf("markdown rule status = %s, want succeeded", rep.Rules[0].Status)
	}
	goTasks := rep.Rules[1].Tasks
	if goTasks[0].Status != runner.StatusSucceeded || goTasks[1].Status != runner.StatusFailed {
		t.Errorf("go rule task statuses = %s, %s", goTasks[0].Status, goTasks[1].Status)
	}
	if !strings.Contains(goTasks[1].Output, "vet says no") {
		t.Errorf("failure output not captured: %q", goTasks[1].Output)
	}
	if !rep.Restored {
		t.Error("report should say the repository was restored")
	}

	if after := f.state(); after != before {
		t.Errorf("repository not restored\nbefore:\n%s\nafter:\n%s", before, after)
	}
}

func TestRun_SuccessRestagesOnlyTaskEdits(t *testing.T) {
	f := newFixture(t)
	body, logPath := f.argsLog("md")
	fmtMD := f.script("fmt-md.sh", body+formatMarkdown)
	f.config(jsonRules("*.md", strconv.Quote(fmtMD)))

	f.write("README.md", "#   Title v2\n")
	f.write("main.go", "package main // staged\n")
	f.write("notes.txt", "notes v2\n")
	f.git("add", "README.md", "main.go", "notes.txt")
	f.write("notes.txt", "notes v2\nwork in progress\n")

	result, err := f.run(context.Background(), testSettings())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !reflect.DeepEqual(result.Report.Modified, []string{"README.md"}) {
		t.Errorf("Modified = %v, want [README.md]", result.Report.Modified)
	}

	if got := f.staged("README.md"); got != "# Title v2\n" {
		t.Errorf("README.md not restaged: %q", got)
	}
	if got := f.read("README.md"); got != "# Title v2\n" {
		t.Errorf("README.md working tree = %q", got)
	}
	if got := f.staged("notes.txt"); got != "notes v2\n" {
		t.Errorf("notes.txt staged content changed: %q", got)
	}
	if got := f.read("notes.txt"); got != "notes v2\nwork in progress\n" {
		t.Errorf("unstaged edit lost: %q", got)
	}

	logged, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("task did not run: %v", err)
	}
	if strings.TrimSpace(string(logged)) != "README.md" {
		t.Errorf("task received %q, want only README.md", logged)
	}

	t.Run("second run is a no-op", func(t *testing.T) {
		before := f.state()
		result, err := f.run(context.Background(), testSettings())
		if err != nil {
			t.Fatalf("second Run failed: %v", err)
		}
		if len(result.Report.Modified) != 0 {
			t.Errorf("second run modified %v", result.Report.Modified)
		}
		if after := f.state(); after != before {
			t.Errorf("second run changed the repository")
		}
		if got := f.read("notes.txt"); got != "notes v2\nwork in progress\n" {
			t.Errorf("unstaged edit lost on second run: %q", got)
		}
	})
}

func TestRun_GlobCharactersInFileNames(t *testing.T) {
	f := newFixture(t)
	f.write("a1.txt", "one\n")
	f.git("add", "a1.txt")
	f.git("commit", "--quiet", "-m", "a1")
	f.config(jsonRules("a?1?.txt", strconv.Quote("true")))

	f.write("a1.txt", "one, unstaged\n")
	f.write("a[1].txt", "bracket\n")
	f.git("add", "--", ":(literal)a[1].txt")

	if _, err := f.run(context.Background(), testSettings()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := f.git("diff", "--cached", "--name-only"); got != "a[1].txt\n" {
		t.Errorf("staged paths = %q, want only a[1].txt", got)
	}
	if got := f.read("a1.txt"); got != "one, unstaged\n" {
		t.Errorf("a1.txt working tree = %q", got)
	}
}

func TestRun_StagedSubmoduleIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.config(jsonRules("*", strconv.Quote("true")))

	sub := filepath.Join(f.root, "sub")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	for _, args := range [][]string{
		{"init", "--quiet"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "Test User"},
		{"commit", "--quiet", "--allow-empty", "-m", "inner"},
	} {
		f.git(append([]string{"-C", sub}, args...)...)
	}

	f.write("notes.txt", "notes v2\n")
	f.git("add", "notes.txt", "sub")

	result, err := f.run(context.Background(), testSettings())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.Report.Rules) != 1 {
		t.Fatalf("expected one rule, got %+v", result.Report.Rules)
	}
	if got := f.git("ls-files", "--stage", "sub"); !strings.HasPrefix(got, "160000 ") {
		t.Errorf("submodule entry lost: %q", got)
	}
}

func TestRun_ChainsAreIsolated(t *testing.T) {
	f := newFixture(t)
	failing := f.script("fail.sh", "exit 3\n")
	body, logPath := f.argsLog("md")
	logger := f.script("log.sh", body)
	f.config(jsonRules("*.go", strconv.Quote(failing), "*.md", strconv.Quote(logger)))

	f.write("README.md", "# edited\n")
	f.write("main.go", "package main // edited\n")
	f.git("add", "README.md", "main.go")

	settings := testSettings()
	settings.Concurrency = 1

	result, err := f.run(context.Background(), settings)
	if !errors.Is(err, ErrTaskFailed) {
		t.Fatalf("expected ErrTaskFailed, got %v", err)
	}
	if result.Report.Rules[0].Tasks[0].ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", result.Report.Rules[0].Tasks[0].ExitCode)
	}
	if result.Report.Rules[1].Status != runner.StatusSucceeded {
		t.Errorf("independent rule status = %s", result.Report.Rules[1].Status)
	}
	if _, err := os.Stat(logPath); err != nil {
		t.Errorf("independent rule did not run: %v", err)
	}
}

func TestRun_NothingToDo(t *testing.T) {
	f := newFixture(t)
	f.config(jsonRules("*.py", strconv.Quote("ruff")))

	t.Run("nothing staged", func(t *testing.T) {
		result, err := f.run(context.Background(), testSettings())
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if !result.NothingToDo || result.Report != nil {
			t.Errorf("expected nothing to do, got %+v", result)
		}
	})

	t.Run("nothing matched", func(t *testing.T) {
		f.write("main.go", "package main // edited\n")
		f.git("add", "main.go")

		result, err := f.run(context.Background(), testSettings())
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if !result.NothingToDo || len(result.Staged) != 1 {
			t.Errorf("expected nothing to do with one staged file, got %+v", result)
		}
	})
}

func TestRun_DryRunExecutesNothing(t *testing.T) {
	f := newFixture(t)
	body, logPath := f.argsLog("md")
	f.config(jsonRules("*.md", strconv.Quote(f.script("log.sh", body))))
	f.write("README.md", "# edited\n")
	f.git("add", "README.md")

	settings := testSettings()
	settings.DryRun = true

	result, err := f.run(context.Background(), settings)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.DryRun || result.Plan == nil || result.Plan.TaskCount() != 1 {
		t.Errorf("unexpected dry-run result: %+v", result)
	}
	if _, err := os.Stat(logPath); !os.IsNotExist(err) {
		t.Error("dry run executed a task")
	}
}

func TestRun_ConfigErrorsTouchNothing(t *testing.T) {
	tests := []struct {
		name  string
		rules string
	}{
		{"malformed glob", jsonRules("*.md", strconv.Quote("LOG"), "*.{go", strconv.Quote("gofmt"))},
		{"unbalanced quote", jsonRules("*.md", strconv.Quote("LOG"), "*.go", strconv.Quote(`echo "oops`))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			body, logPath := f.argsLog("md")
			logger := f.script("log.sh", body)
			f.config(strings.ReplaceAll(tt.rules, "LOG", logger))

			f.write("README.md", "# edited\n")
			f.write("main.go", "package main // edited\n")
			f.git("add", "README.md", "main.go")
			before := f.state()

			_, err := f.run(context.Background(), testSettings())
			if !errors.Is(err, ErrConfig) {
				t.Fatalf("expected ErrConfig, got %v", err)
			}
			if _, err := os.Stat(logPath); !os.IsNotExist(err) {
				t.Error("a task ran despite the configuration error")
			}
			if f.state() != before {
				t.Error("repository changed")
			}
		})
	}
}

func TestRun_CheckOnlyRestores(t *testing.T) {
	f := newFixture(t)
	f.config(jsonRules("*.md", strconv.Quote(f.script("fmt-md.sh", formatMarkdown))))
	f.write("README.md", "#   title, staged\n")
	f.git("add", "README.md")
	before := f.state()

	settings := testSettings()
	settings.CheckOnly = true

	result, err := f.run(context.Background(), settings)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.Report.Succeeded() {
		t.Error("check run should succeed")
	}
	if f.state() != before {
		t.Error("check-only run left changes behind")
	}
}

func TestRun_EmptyCommitPrevented(t *testing.T) {
	f := newFixture(t)
	f.config(jsonRules("*.md", strconv.Quote(f.script("fmt-md.sh", formatMarkdown))))
	f.write("README.md", "#   title\n")
	f.git("add", "README.md")
	before := f.state()

	_, err := f.run(context.Background(), testSettings())
	if !errors.Is(err, ErrEmptyCommit) {
		t.Fatalf("expected ErrEmptyCommit, got %v", err)
	}
	if f.state() != before {
		t.Error("repository not restored after empty commit")
	}

	settings := testSettings()
	settings.AllowEmpty = true
	if _, err := f.run(context.Background(), settings); err != nil {
		t.Fatalf("Run with AllowEmpty failed: %v", err)
	}
	if strings.TrimSpace(f.git("diff", "--cached", "--name-only")) != "" {
		t.Error("expected nothing staged after the formatter reverted the change")
	}
}

func TestRun_InterruptRestores(t *testing.T) {
	f := newFixture(t)
	slow := f.script("slow.sh", "printf 'clobbered\\n' > README.md\nsleep 30\n")
	f.config(jsonRules("*.md", strconv.Quote(slow)))
	f.write("README.md", "# edited\n")
	f.git("add", "README.md")
	before := f.state()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	start := time.Now()
	result, err := f.run(ctx, testSettings())
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("expected ErrInterrupted, got %v", err)
	}
	if time.Since(start) > 10*time.Second {
		t.Error("cancellation did not stop the task promptly")
	}
	if result.Report == nil || !result.Report.Interrupted {
		t.Error("report should be marked interrupted")
	}
	if f.state() != before {
		t.Error("repository not restored after interrupt")
	}
	if _, err := os.Stat(filepath.Join(f.root, ".git", "stagerun")); err == nil {
		entries, _ := os.ReadDir(filepath.Join(f.root, ".git", "stagerun"))
		if len(entries) != 0 {
			t.Errorf("snapshot directories left behind: %v", entries)
		}
	}
}

func TestRun_NotInRepo(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("GIT_CEILING_DIRECTORIES", filepath.Dir(dir))

	f := &fixture{t: t, root: dir}
	_, err := f.run(context.Background(), testSettings())
	if !errors.Is(err, ErrNotInRepo) {
		t.Fatalf("expected ErrNotInRepo, got %v", err)
	}
	if n := strings.Count(err.Error(), ErrNotInRepo.Error()); n != 1 {
		t.Errorf("message repeats the sentinel %d times: %v", n, err)
	}
}

func TestRun_InvalidSettings(t *testing.T) {
	settings := testSettings()
	settings.Concurrency = 0

	f := &fixture{t: t, root: t.TempDir()}
	_, err := f.run(context.Background(), settings)
	if !errors.Is(err, ErrConfig) {
		t.Errorf("expected ErrConfig, got %v", err)
	}
}
