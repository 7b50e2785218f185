// Package snapshot materializes the tracked file tree of a single commit into
// an arbitrary directory. The commit is exported with git archive into a
// transient tarball, extracted into a staging directory next to the target
// and only then moved into place, so a failed extraction never leaves a
// partial tree behind. The transient files are removed on every exit path.
package snapshot
