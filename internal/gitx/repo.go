package gitx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrNotInRepo is returned when the working directory is not inside a git work tree.
var ErrNotInRepo = errors.New("not in a git repository")

// maxArgBytes bounds the path arguments of one git invocation.
const maxArgBytes = 64 * 1024

// gitlinkMode is the index mode of a submodule entry.
const gitlinkMode = "160000"

// StagedFile is a file whose index content differs from HEAD.
type StagedFile struct {
	// Path is relative to the repository root, slash separated.
	Path string

	// Mode is the index mode, e.g. "100644" or "120000".
	Mode string

	// Blob is the staged blob id. It does not change during a run.
	Blob string

	// WorkHash is the content hash of the working-tree file, empty if absent.
	// Filled in by the guard when it takes a snapshot.
	WorkHash string
}

// GitRepo provides an abstraction for git repository operations.
type GitRepo interface {
	// Discover finds the top level of the work tree containing cwd.
	Discover(ctx context.Context, cwd string) (root string, err error)

	// GitDir returns the absolute path of the repository's git directory.
	GitDir(ctx context.Context, root string) (string, error)

	// IndexPath returns the absolute path of the index file in use.
	IndexPath(ctx context.Context, root string) (string, error)

	// StagedFiles lists files staged for commit, filtered by diffFilter (e.g. "ACMR").
	StagedFiles(ctx context.Context, root, diffFilter string) ([]StagedFile, error)

	// UnstagedPaths lists tracked paths whose working-tree content differs from the index.
	// With no paths, the whole work tree is considered.
	UnstagedPaths(ctx context.Context, root string, paths ...string) ([]string, error)

	// UnstagedPatch returns a binary patch of the working tree against the index for path.
	UnstagedPatch(ctx context.Context, root, path string) ([]byte, error)

	// ApplyPatch applies a patch file to the working tree.
	ApplyPatch(ctx context.Context, root, patchFile string) error

	// CheckoutIndex overwrites working-tree files with their index content.
	CheckoutIndex(ctx context.Context, root string, paths ...string) error

	// Add stages the working-tree state of paths, including deletions.
	Add(ctx context.Context, root string, paths ...string) error

	// HasStagedChanges reports whether the index differs from HEAD.
	HasStagedChanges(ctx context.Context, root string) (bool, error)
}

// RealGitRepo implements GitRepo using actual git commands.
type RealGitRepo struct{}

// NewRealGitRepo creates a new RealGitRepo.
func NewRealGitRepo() *RealGitRepo {
	return &RealGitRepo{}
}

// runGit executes git in root and returns stdout. Stderr is folded into the error.
// Pathspecs are literal: a file named "a[1].txt" never matches "a1.txt".
func (g *RealGitRepo) runGit(ctx context.Context, root string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = root
	cmd.Env = append(os.Environ(), "GIT_LITERAL_PATHSPECS=1")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git %s failed: %w\nstderr: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}

	return stdout.Bytes(), nil
}

// runGitPaths runs git once per chunk of paths so long lists never exceed ARG_MAX.
func (g *RealGitRepo) runGitPaths(ctx context.Context, root string, args []string, paths []string) ([]byte, error) {
	var out []byte
	for _, chunk := range chunkPaths(paths, maxArgBytes) {
		full := append(append(append([]string{}, args...), "--"), chunk...)
		res, err := g.runGit(ctx, root, full...)
		if err != nil {
			return nil, err
		}
		out = append(out, res...)
	}
	return out, nil
}

// Discover finds the work tree root with git rev-parse so worktrees and GIT_DIR overrides work.
func (g *RealGitRepo) Discover(ctx context.Context, cwd string) (string, error) {
	absPath, err := filepath.Abs(cwd)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}
	if _, err := os.Stat(absPath); err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", absPath, err)
	}

	out, err := g.runGit(ctx, absPath, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotInRepo, err)
	}

	root := strings.TrimSpace(string(out))
	if root == "" {
		return "", ErrNotInRepo
	}
	return filepath.FromSlash(root), nil
}

// GitDir returns the absolute git directory.
func (g *RealGitRepo) GitDir(ctx context.Context, root string) (string, error) {
	out, err := g.runGit(ctx, root, "rev-parse", "--absolute-git-dir")
	if err != nil {
		return "", fmt.Errorf("failed to resolve git dir: %w", err)
	}
	return filepath.FromSlash(strings.TrimSpace(string(out))), nil
}

// IndexPath honours GIT_INDEX_FILE, which git sets for hooks of partial commits.
func (g *RealGitRepo) IndexPath(ctx context.Context, root string) (string, error) {
	if env := os.Getenv("GIT_INDEX_FILE"); env != "" {
		if filepath.IsAbs(env) {
			return env, nil
		}
		return filepath.Join(root, env), nil
	}

	out, err := g.runGit(ctx, root, "rev-parse", "--git-path", "index")
	if err != nil {
		return "", fmt.Errorf("failed to resolve index path: %w", err)
	}

	path := filepath.FromSlash(strings.TrimSpace(string(out)))
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	return path, nil
}

// StagedFiles lists staged paths in git's order together with their index entries.
// Submodule entries are skipped; there is no file content to run tasks on.
func (g *RealGitRepo) StagedFiles(ctx context.Context, root, diffFilter string) ([]StagedFile, error) {
	args := []string{"diff", "--cached", "--name-only", "-z", "--no-ext-diff"}
	if diffFilter != "" {
		args = append(args, "--diff-filter="+diffFilter)
	}

	out, err := g.runGit(ctx, root, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list staged files: %w", err)
	}
	paths := splitNUL(out)
	if len(paths) == 0 {
		return []StagedFile{}, nil
	}

	entries, err := g.runGitPaths(ctx, root, []string{"ls-files", "--stage", "-z"}, paths)
	if err != nil {
		return nil, fmt.Errorf("failed to read index entries: %w", err)
	}

	byPath := make(map[string]StagedFile, len(paths))
	for _, record := range splitNUL(entries) {
		file, err := parseStageRecord(record)
		if err != nil {
			return nil, err
		}
		byPath[file.Path] = file
	}

	files := make([]StagedFile, 0, len(paths))
	for _, p := range paths {
		file, ok := byPath[p]
		if !ok {
			// Only unmerged or intent-to-add entries lack a stage-0 record.
			continue
		}
		if file.Mode == gitlinkMode {
			continue
		}
		files = append(files, file)
	}
	return files, nil
}

// parseStageRecord parses "<mode> <blob> <stage>\t<path>".
func parseStageRecord(record string) (StagedFile, error) {
	meta, path, ok := strings.Cut(record, "\t")
	if !ok {
		return StagedFile{}, fmt.Errorf("malformed ls-files record %q", record)
	}
	fields := strings.Fields(meta)
	if len(fields) != 3 {
		return StagedFile{}, fmt.Errorf("malformed ls-files record %q", record)
	}
	return StagedFile{Path: path, Mode: fields[0], Blob: fields[1]}, nil
}

// UnstagedPaths lists tracked paths that differ between index and working tree.
func (g *RealGitRepo) UnstagedPaths(ctx context.Context, root string, paths ...string) ([]string, error) {
	args := []string{"diff", "--name-only", "-z", "--no-ext-diff", "--ignore-submodules"}

	var out []byte
	var err error
	if len(paths) == 0 {
		out, err = g.runGit(ctx, root, args...)
	} else {
		out, err = g.runGitPaths(ctx, root, args, paths)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list unstaged changes: %w", err)
	}
	return splitNUL(out), nil
}

// UnstagedPatch produces a patch that git apply can replay on top of the staged content.
func (g *RealGitRepo) UnstagedPatch(ctx context.Context, root, path string) ([]byte, error) {
	out, err := g.runGit(ctx, root,
		"diff", "--binary", "--unified=0", "--no-color", "--no-ext-diff",
		"--src-prefix=a/", "--dst-prefix=b/", "--patch", "--", path)
	if err != nil {
		return nil, fmt.Errorf("failed to diff %s: %w", path, err)
	}
	return out, nil
}

// ApplyPatch applies patchFile to the working tree only.
func (g *RealGitRepo) ApplyPatch(ctx context.Context, root, patchFile string) error {
	if _, err := g.runGit(ctx, root, "apply", "-v", "--whitespace=nowarn", "--recount", "--unidiff-zero", patchFile); err != nil {
		return fmt.Errorf("failed to apply patch: %w", err)
	}
	return nil
}

// CheckoutIndex writes the index content of paths into the working tree.
func (g *RealGitRepo) CheckoutIndex(ctx context.Context, root string, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	if _, err := g.runGitPaths(ctx, root, []string{"checkout-index", "--force"}, paths); err != nil {
		return fmt.Errorf("failed to check out index content: %w", err)
	}
	return nil
}

// Add stages paths; --all records deletions made by tasks as well.
func (g *RealGitRepo) Add(ctx context.Context, root string, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	if _, err := g.runGitPaths(ctx, root, []string{"add", "--all"}, paths); err != nil {
		return fmt.Errorf("failed to stage files: %w", err)
	}
	return nil
}

// HasStagedChanges uses the exit status of git diff --cached --quiet.
func (g *RealGitRepo) HasStagedChanges(ctx context.Context, root string) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", "diff", "--cached", "--quiet", "--no-ext-diff")
	cmd.Dir = root

	err := cmd.Run()
	if err == nil {
		return false, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return true, nil
	}
	return false, fmt.Errorf("failed to check staged changes: %w", err)
}

// splitNUL splits -z output, dropping the trailing terminator.
func splitNUL(out []byte) []string {
	parts := strings.Split(string(out), "\x00")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// chunkPaths groups paths so each group's total length stays under limit.
// A single path longer than limit still gets its own group.
func chunkPaths(paths []string, limit int) [][]string {
	var chunks [][]string
	var current []string
	size := 0
	for _, p := range paths {
		if len(current) > 0 && size+len(p)+1 > limit {
			chunks = append(chunks, current)
			current = nil
			size = 0
		}
		current = append(current, p)
		size += len(p) + 1
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}
