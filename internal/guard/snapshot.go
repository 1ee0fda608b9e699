package guard

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/danieljhkim/stagerun/internal/fsops"
	"github.com/danieljhkim/stagerun/internal/hash"
)

// PathState is the recorded state of one matched path.
type PathState struct {
	// Path is repository-relative and slash separated.
	Path string

	// Entry is the working-tree state before anything was touched.
	Entry fsops.Entry

	// WorkHash is the hash of Entry, empty when the path was absent.
	WorkHash string

	// StagedBlob is the index blob id.
	StagedBlob string

	// Partial is set when the working tree held edits that are not staged.
	Partial bool

	// StagedHash is the hash of the staged content as written into the
	// working tree when the unstaged edits were hidden.
	StagedHash string

	// PatchFile holds the unstaged edits of a partially staged file.
	PatchFile string
}

// Snapshot is everything needed to put the repository back.
type Snapshot struct {
	// Dir is the per-run state directory.
	Dir string

	IndexPath   string
	IndexBackup string

	// IndexHash is the content hash of the index when the snapshot was taken.
	IndexHash string

	Paths []PathState

	// Dirty holds the tracked paths that differed from the index before the run.
	Dirty map[string]bool

	// HadStagedChanges records whether the index differed from HEAD.
	HadStagedChanges bool
}

// Partial returns the partially staged paths.
func (s *Snapshot) Partial() []string {
	var out []string
	for _, ps := range s.Paths {
		if ps.Partial {
			out = append(out, ps.Path)
		}
	}
	return out
}

func (s *Snapshot) covers(path string) bool {
	for _, ps := range s.Paths {
		if ps.Path == path {
			return true
		}
	}
	return false
}

func (s *Snapshot) patchPath(n int) string {
	return filepath.Join(s.Dir, "patches", strconv.Itoa(n)+".patch")
}

// entryHash hashes file content, or the link target of a symlink.
func entryHash(h hash.Hasher, e fsops.Entry) string {
	switch {
	case !e.Exists:
		return ""
	case e.IsSymlink():
		return h.HashBytes([]byte("link:" + e.LinkTarget))
	default:
		return h.HashBytes(e.Data)
	}
}

func sameEntry(a, b fsops.Entry) bool {
	if a.Exists != b.Exists {
		return false
	}
	if !a.Exists {
		return true
	}
	return a.Mode == b.Mode && a.LinkTarget == b.LinkTarget && bytes.Equal(a.Data, b.Data)
}

func absPath(root, rel string) string {
	return filepath.Join(root, filepath.FromSlash(rel))
}

func describe(ps PathState) string {
	switch {
	case !ps.Entry.Exists:
		return ps.Path + " (absent)"
	case ps.Partial:
		return ps.Path + " (partially staged)"
	default:
		return fmt.Sprintf("%s (%s)", ps.Path, ps.Entry.Mode)
	}
}
