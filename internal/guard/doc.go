// Package guard protects the index and working tree while tasks run.
//
// A Guard is acquired before the first task starts and released after the
// last one finishes. While held it owns a lock file in the git directory and a
// per-run state directory next to it:
//
//	<gitdir>/stagerun.lock
//	<gitdir>/stagerun/<run-id>/index          copy of the index
//	<gitdir>/stagerun/<run-id>/patches/N.patch unstaged edits of partially staged files
//
// Acquire records every matched path exactly (bytes, mode, symlink target or
// absence) and hides unstaged edits so tasks only see staged content. Commit
// stages what the tasks changed and brings the hidden edits back. Restore puts
// everything back the way Acquire found it. Exactly one of the two completes;
// Release runs Restore if neither did.
package guard
