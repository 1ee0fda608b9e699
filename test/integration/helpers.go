package integration

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
	"github.com/danieljhkim/stagerun/internal/engine"
	"github.com/danieljhkim/stagerun/internal/fsops"
	"github.com/danieljhkim/stagerun/internal/gitx"
	"github.com/danieljhkim/stagerun/internal/hash"
	"github.com/danieljhkim/stagerun/internal/logging"
	"github.com/danieljhkim/stagerun/internal/runner"
)

// testRepo is a real git repository with a scripts directory beside it.
type testRepo struct {
	t       *testing.T
	root    string
	scripts string
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("task scripts require a POSIX shell")
	}

	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("failed to resolve temp dir: %v", err)
	}
	r := &testRepo{t: t, root: root, scripts: t.TempDir()}

	r.git("init", "--quiet")
	r.git("config", "user.email", "test@example.com")
	r.git("config", "user.name", "Test User")
	r.git("config", "core.autocrlf", "false")
	return r
}

func (r *testRepo) git(args ...string) string {
	r.t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = r.root
	out, err := cmd.CombinedOutput()
	if err != nil {
		r.t.Fatalf("git %s failed: %v\n%s", strings.Join(args, " "), err, out)
	}
	return string(out)
}

func (r *testRepo) write(rel, content string) {
	r.t.Helper()
	path := filepath.Join(r.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		r.t.Fatalf("failed to create dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		r.t.Fatalf("failed to write %s: %v", rel, err)
	}
}

func (r *testRepo) read(rel string) string {
	r.t.Helper()
	data, err := os.ReadFile(filepath.Join(r.root, filepath.FromSlash(rel)))
	if err != nil {
		r.t.Fatalf("failed to read %s: %v", rel, err)
	}
	return string(data)
}

// commit writes files and commits them.
func (r *testRepo) commit(files map[string]string) {
	r.t.Helper()
	for rel, content := range files {
		r.write(rel, content)
		r.git("add", "--", rel)
	}
	r.git("commit", "--quiet", "-m", "commit")
}

// stage writes a file and stages it.
func (r *testRepo) stage(rel, content string) {
	r.t.Helper()
	r.write(rel, content)
	r.git("add", "--", rel)
}

// script writes a shell script and returns the command that runs it.
func (r *testRepo) script(name, body string) string {
	r.t.Helper()
	path := filepath.Join(r.scripts, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		r.t.Fatalf("failed to write script: %v", err)
	}
	return fmt.Sprintf("sh '%s'", path)
}

// logPath is a file in the scripts directory that scripts can append to.
func (r *testRepo) logPath(name string) string {
	return filepath.Join(r.scripts, name+".log")
}

func (r *testRepo) readLog(name string) string {
	r.t.Helper()
	data, err := os.ReadFile(r.logPath(name))
	if err != nil {
		r.t.Fatalf("failed to read log %s: %v", name, err)
	}
	return string(data)
}

// snapshot captures index entries plus the content of the given files.
func (r *testRepo) snapshot(files ...string) string {
	r.t.Helper()
	var b strings.Builder
	b.WriteString(r.git("ls-files", "--stage"))
	for _, f := range files {
		fmt.Fprintf(&b, "--- %s\n%s", f, r.read(f))
	}
	return b.String()
}

func defaultSettings() config.Settings {
	s := config.DefaultSettings()
	s.Concurrency = 2
	return s
}

// run drives the engine with real dependencies, as the command line does.
func (r *testRepo) run(ctx context.Context, settings config.Settings) (*engine.RunResult, error) {
	eng := engine.New(
		gitx.NewRealGitRepo(),
		fsops.NewRealFS(),
		hash.NewBLAKE3Hasher(),
		&clock.RealClock{},
		runner.NewProcessRunner(settings.Timeout),
		logging.Discard(),
	)
	return eng.Run(ctx, &engine.RunRequest{CWD: r.root, Settings: settings})
}
