// Package fsops provides filesystem operations with safety guarantees.
//
// Working-tree mutations made by stagerun itself (hiding unstaged edits,
// restoring snapshots) go through the FS interface. Tasks are external
// processes and write wherever they like; the guard only ever repairs.
//
// Key features:
//   - Atomic writes using temp file + rename
//   - Exact capture and restore of a path (content, mode, symlink, absence)
//   - Path validation for repository-relative paths
//   - Testable via the FS interface
package fsops

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Entry is the captured state of a single path.
type Entry struct {
	// Exists is false when nothing was present at the path.
	Exists bool

	// Mode holds the permission and type bits.
	Mode os.FileMode

	// Data is the file content (nil for symlinks).
	Data []byte

	// LinkTarget is set when the path is a symlink.
	LinkTarget string
}

// IsSymlink reports whether the entry is a symbolic link.
func (e Entry) IsSymlink() bool {
	return e.Mode&os.ModeSymlink != 0
}

// FS provides an abstraction for filesystem operations.
type FS interface {
	// ReadEntry captures the current state of path without following symlinks.
	ReadEntry(path string) (Entry, error)

	// WriteEntry makes path match entry exactly, removing it if entry does not exist.
	WriteEntry(path string, entry Entry) error

	// MkdirAll creates a directory and all parent directories.
	MkdirAll(path string, perm os.FileMode) error

	// RemoveAll removes a path and all its contents.
	RemoveAll(path string) error

	// CopyFile copies a regular file from src to dst, preserving its mode.
	CopyFile(src, dst string) error

	// AtomicWrite writes data to path atomically using temp file + rename.
	AtomicWrite(path string, data []byte, perm os.FileMode) error

	// ReadFile reads the entire contents of a file.
	ReadFile(path string) ([]byte, error)

	// ValidateRelPath validates a relative path for safety.
	ValidateRelPath(relPath string) error
}

// RealFS implements FS using actual OS operations.
type RealFS struct{}

// NewRealFS creates a new RealFS.
func NewRealFS() *RealFS {
	return &RealFS{}
}

// ReadEntry captures the state of path.
func (fs *RealFS) ReadEntry(path string) (Entry, error) {
	info, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return Entry{}, nil
	}
	if err != nil {
		return Entry{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	entry := Entry{Exists: true, Mode: info.Mode()}
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(path)
		if err != nil {
			return Entry{}, fmt.Errorf("failed to read symlink %s: %w", path, err)
		}
		entry.LinkTarget = target
	case info.IsDir():
		return Entry{}, fmt.Errorf("path %s is a directory", path)
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return Entry{}, fmt.Errorf("failed to read %s: %w", path, err)
		}
		entry.Data = data
	}

	return entry, nil
}

// WriteEntry restores path to the captured entry.
func (fs *RealFS) WriteEntry(path string, entry Entry) error {
	if !entry.Exists {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
		return nil
	}

	// Whatever a task left behind may be of another type.
	current, err := os.Lstat(path)
	if err == nil && (current.IsDir() || current.Mode()&os.ModeSymlink != 0 || entry.IsSymlink()) {
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("failed to clear %s: %w", path, err)
		}
	}

	if entry.IsSymlink() {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("failed to create parent directory: %w", err)
		}
		if err := os.Symlink(entry.LinkTarget, path); err != nil {
			return fmt.Errorf("failed to create symlink %s: %w", path, err)
		}
		return nil
	}

	return fs.AtomicWrite(path, entry.Data, entry.Mode.Perm())
}

// MkdirAll creates a directory and all parent directories.
func (fs *RealFS) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// RemoveAll removes a path and all its contents.
func (fs *RealFS) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

// CopyFile copies a regular file from src to dst.
func (fs *RealFS) CopyFile(src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("failed to stat source: %w", err)
	}
	if !srcInfo.Mode().IsRegular() {
		return fmt.Errorf("source %q is not a regular file", src)
	}

	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer func() {
		_ = srcFile.Close()
	}()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	dstFile, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, srcInfo.Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}
	defer func() {
		_ = dstFile.Close()
	}()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return fmt.Errorf("failed to copy file contents: %w", err)
	}

	return dstFile.Sync()
}

// AtomicWrite writes data to path atomically using temp file + rename.
func (fs *RealFS) AtomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	// Temp file lives next to the target so the rename stays on one filesystem
	tmpFile, err := os.CreateTemp(dir, ".stagerun-tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpFile != nil {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	tmpFile = nil
	return nil
}

// ReadFile reads the entire contents of a file.
func (fs *RealFS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// ValidateRelPath validates a repository-relative path.
// Git reports paths with forward slashes; both separators are checked.
func (fs *RealFS) ValidateRelPath(relPath string) error {
	cleaned := filepath.Clean(filepath.FromSlash(relPath))

	if relPath == "" || cleaned == "." {
		return fmt.Errorf("invalid path: empty or current directory")
	}

	if filepath.IsAbs(cleaned) || strings.HasPrefix(relPath, "/") {
		return fmt.Errorf("invalid path: must be relative, got absolute path %q", relPath)
	}

	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return fmt.Errorf("invalid path: path traversal not allowed in %q", relPath)
	}

	return nil
}
