package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/danieljhkim/stagerun/internal/fsops"
	"github.com/danieljhkim/stagerun/internal/gitx"
	"github.com/danieljhkim/stagerun/internal/hash"
)

var (
	// ErrLocked is returned when another run holds the repository lock.
	ErrLocked = errors.New("another stagerun process is running in this repository")

	// ErrPatchConflict is returned when hidden unstaged edits no longer apply
	// on top of what the tasks produced. The repository is restored first.
	ErrPatchConflict = errors.New("unstaged changes conflict with task modifications")

	// ErrEmptyCommit is returned when the tasks undid every staged change.
	ErrEmptyCommit = errors.New("tasks reverted all staged changes")

	// ErrRestore is returned when the repository could not be put back.
	// The state directory is kept and named in the error.
	ErrRestore = errors.New("failed to restore repository state")
)

const (
	lockFileName = "stagerun.lock"
	stateDirName = "stagerun"
	lockRetry    = 100 * time.Millisecond
)

// lockTimeout is how long Acquire waits for a concurrent run to finish.
var lockTimeout = 5 * time.Second

// Config carries the dependencies and options of a guard.
type Config struct {
	Git    gitx.GitRepo
	FS     fsops.FS
	Hasher hash.Hasher
	Logger *slog.Logger

	// Root is the top level of the work tree.
	Root string

	// AllowEmpty lets Commit succeed when the index ends up equal to HEAD.
	AllowEmpty bool
}

// Guard is a held snapshot of the repository.
type Guard struct {
	cfg      Config
	lock     *flock.Flock
	snap     *Snapshot
	modified []string
	done     bool
}

// Acquire locks the repository, snapshots files and hides their unstaged edits.
// On error nothing is left changed and the lock is not held.
func Acquire(ctx context.Context, cfg Config, files []gitx.StagedFile) (*Guard, error) {
	gitDir, err := cfg.Git.GitDir(ctx, cfg.Root)
	if err != nil {
		return nil, err
	}

	lock, err := acquireLock(ctx, filepath.Join(gitDir, lockFileName))
	if err != nil {
		return nil, err
	}

	g := &Guard{cfg: cfg, lock: lock}
	g.snap = &Snapshot{
		Dir:   filepath.Join(gitDir, stateDirName, uuid.NewString()),
		Dirty: make(map[string]bool),
	}

	if err := g.takeSnapshot(ctx, files); err != nil {
		_ = g.cleanup()
		return nil, err
	}

	if err := g.hideUnstaged(ctx); err != nil {
		if rerr := g.Restore(ctx); rerr != nil {
			return nil, errors.Join(err, rerr)
		}
		return nil, err
	}

	cfg.Logger.Debug("snapshot taken", "dir", g.snap.Dir, "paths", len(g.snap.Paths), "partial", len(g.snap.Partial()))
	return g, nil
}

func acquireLock(ctx context.Context, path string) (*flock.Flock, error) {
	lock := flock.New(path)

	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	locked, err := lock.TryLockContext(lockCtx, lockRetry)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w (lock file %s)", ErrLocked, path)
		}
		return nil, fmt.Errorf("failed to acquire lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w (lock file %s)", ErrLocked, path)
	}
	return lock, nil
}

func (g *Guard) takeSnapshot(ctx context.Context, files []gitx.StagedFile) error {
	git, fs, root, snap := g.cfg.Git, g.cfg.FS, g.cfg.Root, g.snap

	if err := fs.MkdirAll(filepath.Join(snap.Dir, "patches"), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	indexPath, err := git.IndexPath(ctx, root)
	if err != nil {
		return err
	}
	snap.IndexPath = indexPath
	snap.IndexBackup = filepath.Join(snap.Dir, "index")
	if err := fs.CopyFile(indexPath, snap.IndexBackup); err != nil {
		return fmt.Errorf("failed to back up index: %w", err)
	}
	snap.IndexHash, err = g.cfg.Hasher.HashFile(snap.IndexBackup)
	if err != nil {
		return fmt.Errorf("failed to hash index backup: %w", err)
	}

	snap.HadStagedChanges, err = git.HasStagedChanges(ctx, root)
	if err != nil {
		return err
	}

	dirty, err := git.UnstagedPaths(ctx, root)
	if err != nil {
		return err
	}
	for _, p := range dirty {
		snap.Dirty[p] = true
	}

	for i := range files {
		file := &files[i]
		if err := fs.ValidateRelPath(file.Path); err != nil {
			return err
		}

		entry, err := fs.ReadEntry(absPath(root, file.Path))
		if err != nil {
			return fmt.Errorf("failed to snapshot %s: %w", file.Path, err)
		}

		ps := PathState{
			Path:       file.Path,
			Entry:      entry,
			WorkHash:   entryHash(g.cfg.Hasher, entry),
			StagedBlob: file.Blob,
			Partial:    snap.Dirty[file.Path],
		}
		file.WorkHash = ps.WorkHash

		if ps.Partial {
			patch, err := git.UnstagedPatch(ctx, root, file.Path)
			if err != nil {
				return err
			}
			ps.PatchFile = snap.patchPath(len(snap.Paths))
			if err := fs.AtomicWrite(ps.PatchFile, patch, 0644); err != nil {
				return fmt.Errorf("failed to save patch for %s: %w", file.Path, err)
			}
		}

		snap.Paths = append(snap.Paths, ps)
		g.cfg.Logger.Debug("recorded", "path", describe(ps))
	}

	return nil
}

// hideUnstaged writes the staged content of partially staged files into the
// working tree, then records what it wrote.
func (g *Guard) hideUnstaged(ctx context.Context) error {
	partial := g.snap.Partial()
	if len(partial) == 0 {
		return nil
	}

	if err := g.cfg.Git.CheckoutIndex(ctx, g.cfg.Root, partial...); err != nil {
		return fmt.Errorf("failed to hide unstaged changes: %w", err)
	}

	for i := range g.snap.Paths {
		ps := &g.snap.Paths[i]
		if !ps.Partial {
			continue
		}
		entry, err := g.cfg.FS.ReadEntry(absPath(g.cfg.Root, ps.Path))
		if err != nil {
			return fmt.Errorf("failed to read staged content of %s: %w", ps.Path, err)
		}
		ps.StagedHash = entryHash(g.cfg.Hasher, entry)
	}
	return nil
}

// Snapshot returns the recorded state.
func (g *Guard) Snapshot() *Snapshot {
	return g.snap
}

// Modified returns the matched paths the tasks changed. Valid after Commit.
func (g *Guard) Modified() []string {
	return g.modified
}

// Commit stages task modifications of matched paths and reapplies hidden edits.
func (g *Guard) Commit(ctx context.Context) error {
	if g.done {
		return nil
	}
	ctx = context.WithoutCancel(ctx)
	git, fs, root := g.cfg.Git, g.cfg.FS, g.cfg.Root

	paths := make([]string, 0, len(g.snap.Paths))
	current := make([]string, len(g.snap.Paths))
	for i, ps := range g.snap.Paths {
		paths = append(paths, ps.Path)

		entry, err := fs.ReadEntry(absPath(root, ps.Path))
		if err != nil {
			return g.abort(ctx, fmt.Errorf("failed to read %s: %w", ps.Path, err))
		}
		current[i] = entryHash(g.cfg.Hasher, entry)

		before := ps.WorkHash
		if ps.Partial {
			before = ps.StagedHash
		}
		if current[i] != before {
			g.modified = append(g.modified, ps.Path)
		}
	}

	if err := git.Add(ctx, root, paths...); err != nil {
		return g.abort(ctx, err)
	}

	var conflicts []string
	for i, ps := range g.snap.Paths {
		if !ps.Partial {
			continue
		}

		if current[i] == ps.StagedHash {
			// Untouched by tasks: the original bytes are exact.
			if err := fs.WriteEntry(absPath(root, ps.Path), ps.Entry); err != nil {
				return g.abort(ctx, fmt.Errorf("failed to restore unstaged changes of %s: %w", ps.Path, err))
			}
			continue
		}

		if err := git.ApplyPatch(ctx, root, ps.PatchFile); err != nil {
			g.cfg.Logger.Warn("unstaged changes do not apply", "path", ps.Path, "error", err)
			conflicts = append(conflicts, ps.Path)
		}
	}
	if len(conflicts) > 0 {
		return g.abort(ctx, fmt.Errorf("%w: %s", ErrPatchConflict, strings.Join(conflicts, ", ")))
	}

	if g.snap.HadStagedChanges && !g.cfg.AllowEmpty {
		has, err := git.HasStagedChanges(ctx, root)
		if err != nil {
			return g.abort(ctx, err)
		}
		if !has {
			return g.abort(ctx, ErrEmptyCommit)
		}
	}

	if collateral := g.collateral(ctx); len(collateral) > 0 {
		g.cfg.Logger.Warn("tasks modified files outside the matched set; left unstaged", "paths", collateral)
	}

	g.done = true
	return g.cleanup()
}

// abort restores the snapshot and returns cause, joined with any restore failure.
func (g *Guard) abort(ctx context.Context, cause error) error {
	g.modified = nil
	if err := g.Restore(ctx); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// Restore puts the index and working tree back to their state at Acquire.
// Paths that already match the snapshot are not rewritten.
func (g *Guard) Restore(ctx context.Context) error {
	if g.done {
		return nil
	}
	ctx = context.WithoutCancel(ctx)
	g.done = true

	var errs []error
	if err := g.restoreIndex(); err != nil {
		errs = append(errs, err)
	}

	for _, ps := range g.snap.Paths {
		path := absPath(g.cfg.Root, ps.Path)
		current, err := g.cfg.FS.ReadEntry(path)
		if err == nil && sameEntry(current, ps.Entry) {
			continue
		}
		if err := g.cfg.FS.WriteEntry(path, ps.Entry); err != nil {
			errs = append(errs, fmt.Errorf("failed to restore %s: %w", ps.Path, err))
		}
	}

	// Tracked files the tasks touched outside the matched set.
	if len(errs) == 0 {
		if collateral := g.collateral(ctx); len(collateral) > 0 {
			if err := g.cfg.Git.CheckoutIndex(ctx, g.cfg.Root, collateral...); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if len(errs) > 0 {
		_ = g.unlock()
		return fmt.Errorf("%w (snapshot kept in %s): %w", ErrRestore, g.snap.Dir, errors.Join(errs...))
	}

	g.cfg.Logger.Debug("repository restored", "paths", len(g.snap.Paths))
	return g.cleanup()
}

// Release restores the snapshot unless Commit or Restore already completed.
func (g *Guard) Release() error {
	return g.Restore(context.Background())
}

func (g *Guard) restoreIndex() error {
	if current, err := g.cfg.Hasher.HashFile(g.snap.IndexPath); err == nil && current == g.snap.IndexHash {
		return nil
	}
	saved, err := g.cfg.FS.ReadFile(g.snap.IndexBackup)
	if err != nil {
		return fmt.Errorf("failed to read index backup: %w", err)
	}
	if g.cfg.Hasher.HashBytes(saved) != g.snap.IndexHash {
		return fmt.Errorf("index backup %s is corrupt", g.snap.IndexBackup)
	}
	if err := g.cfg.FS.AtomicWrite(g.snap.IndexPath, saved, 0644); err != nil {
		return fmt.Errorf("failed to restore index: %w", err)
	}
	return nil
}

// collateral lists tracked paths outside the snapshot that were clean before
// the run and differ from the index now.
func (g *Guard) collateral(ctx context.Context) []string {
	dirty, err := g.cfg.Git.UnstagedPaths(ctx, g.cfg.Root)
	if err != nil {
		g.cfg.Logger.Warn("could not check for stray modifications", "error", err)
		return nil
	}

	var out []string
	for _, p := range dirty {
		if !g.snap.Dirty[p] && !g.snap.covers(p) {
			out = append(out, p)
		}
	}
	return out
}

func (g *Guard) cleanup() error {
	var errs []error
	if err := g.cfg.FS.RemoveAll(g.snap.Dir); err != nil {
		errs = append(errs, fmt.Errorf("failed to remove state directory: %w", err))
	}
	if err := g.unlock(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (g *Guard) unlock() error {
	if g.lock == nil {
		return nil
	}
	err := g.lock.Unlock()
	g.lock = nil
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
