package engine

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/danieljhkim/stagerun/internal/clock"
	"github.com/danieljhkim/stagerun/internal/config"
	"github.com/danieljhkim/stagerun/internal/fsops"
	"github.com/danieljhkim/stagerun/internal/gitx"
	"github.com/danieljhkim/stagerun/internal/hash"
	"github.com/danieljhkim/stagerun/internal/logging"
	"github.com/danieljhkim/stagerun/internal/runner"
)

// fixture is a repository with a committed README.md and main.go, plus a
// scripts directory outside the repository for task commands.
type fixture struct {
	t       *testing.T
	root    string
	scripts string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("task scripts require a POSIX shell")
	}

	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("failed to resolve temp dir: %v", err)
	}
	f := &fixture{t: t, root: root, scripts: t.TempDir()}

	f.git("init", "--quiet")
	f.git("config", "user.email", "test@example.com")
	f.git("config", "user.name", "Test User")
	f.git("config", "core.autocrlf", "false")
	f.write("README.md", "# title\n")
	f.write("main.go", "package main\n")
	f.write("notes.txt", "notes\n")
	f.git("add", ".")
	f.git("commit", "--quiet", "-m", "init")
	return f
}

func (f *fixture) git(args ...string) string {
	f.t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = f.root
	out, err := cmd.CombinedOutput()
	if err != nil {
		f.t.Fatalf("git %s failed: %v\n%s", strings.Join(args, " "), err, out)
	}
	return string(out)
}

func (f *fixture) write(rel, content string) {
	f.t.Helper()
	path := filepath.Join(f.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		f.t.Fatalf("failed to create dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		f.t.Fatalf("failed to write %s: %v", rel, err)
	}
}

func (f *fixture) read(rel string) string {
	f.t.Helper()
	data, err := os.ReadFile(filepath.Join(f.root, filepath.FromSlash(rel)))
	if err != nil {
		f.t.Fatalf("failed to read %s: %v", rel, err)
	}
	return string(data)
}

func (f *fixture) staged(rel string) string {
	f.t.Helper()
	return f.git("show", ":"+rel)
}

// script writes an executable shell script and returns a command template
// that runs it.
func (f *fixture) script(name, body string) string {
	f.t.Helper()
	path := filepath.Join(f.scripts, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		f.t.Fatalf("failed to write script: %v", err)
	}
	return fmt.Sprintf("sh '%s'", path)
}

// argsLog returns a script body that appends its arguments to a log file.
func (f *fixture) argsLog(name string) (body, logPath string) {
	logPath = filepath.Join(f.scripts, name+".log")
	return fmt.Sprintf("echo \"$@\" >> '%s'\n", logPath), logPath
}

func (f *fixture) config(rules string) {
	f.t.Helper()
	f.write(".stagerunrc.json", rules)
	f.git("add", ".stagerunrc.json")
	f.git("commit", "--quiet", "-m", "config")
}

func (f *fixture) state() string {
	f.t.Helper()
	return f.git("ls-files", "--stage") + f.read("README.md") + f.read("main.go") + f.read("notes.txt")
}

func testSettings() config.Settings {
	s := config.DefaultSettings()
	s.Concurrency = 2
	return s
}

func (f *fixture) run(ctx context.Context, settings config.Settings) (*RunResult, error) {
	eng := New(
		gitx.NewRealGitRepo(),
		fsops.NewRealFS(),
		hash.NewBLAKE3Hasher(),
		&clock.RealClock{},
		runner.NewProcessRunner(settings.Timeout),
		logging.Discard(),
	)
	return eng.Run(ctx, &RunRequest{CWD: f.root, Settings: settings})
}

func jsonRules(pairs ...string) string {
	var b strings.Builder
	b.WriteString("{")
	for i := 0; i+1 < len(pairs); i += 2 {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, "%q: %s", pairs[i], pairs[i+1])
	}
	b.WriteString("}")
	return b.String()
}
