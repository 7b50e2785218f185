package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/byte4ever/plugin_publish/publish/exec"
	"github.com/byte4ever/plugin_publish/publish/git"
	"github.com/byte4ever/plugin_publish/publish/history"
	"github.com/byte4ever/plugin_publish/publish/snapshot"
)

// benignCommitFailures are git commit diagnostics meaning
// there was nothing to record. git reports these with the
// same exit status as real failures, so the text is the
// only signal.
var benignCommitFailures = []string{
	"nothing to commit",
	"no changes added to commit",
	"nothing added to commit",
}

// Error reports the commit whose replay failed.
type Error struct {
	// Index is the zero-based position in the replayed
	// sequence.
	Index int
	// Commit is the offending source commit.
	Commit history.Commit
	// Err is the underlying failure, usually an
	// *exec.CommandError.
	Err error
}

// Error implements error.
func (e *Error) Error() string {
	return fmt.Sprintf(
		"replaying commit %d (%s %q): %v",
		e.Index+1,
		shortHash(e.Commit.Hash),
		history.Subject(e.Commit.Message),
		e.Err,
	)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Result summarises a replay.
type Result struct {
	// Committed counts commits recorded on the branch.
	Committed int
	// Skipped counts commits that did not change the
	// plugin subtree.
	Skipped int
}

// Run replays commits, oldest first, into the plugin
// subtree of repo. repo must already be on the plugin
// branch (see git.Repo.EnsureBranch).
func Run(
	ctx context.Context,
	repo *git.Repo,
	commits []history.Commit,
	pluginName string,
	sourceRepo string,
) (Result, error) {
	const errCtx = "replaying history"

	var res Result

	pluginDir := repo.PluginDir(pluginName)
	pluginPath := git.PluginPath(pluginName)

	slog.Info(
		"replaying commits",
		"count", len(commits),
		"plugin", pluginName,
	)

	for i, c := range commits {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("%s: %w", errCtx, err)
		}

		slog.Info(
			"replaying",
			"step", fmt.Sprintf("%d/%d", i+1, len(commits)),
			"commit", shortHash(c.Hash),
			"subject", history.Subject(c.Message),
		)

		committed, err := replayOne(
			ctx, repo, c, pluginDir, pluginPath, sourceRepo,
		)
		if err != nil {
			return res, &Error{Index: i, Commit: c, Err: err}
		}

		if !committed {
			slog.Info(
				"skipping commit without changes",
				"commit", shortHash(c.Hash),
			)

			res.Skipped++

			continue
		}

		res.Committed++
	}

	slog.Info(
		"replay finished",
		"committed", res.Committed,
		"skipped", res.Skipped,
	)

	return res, nil
}

// replayOne applies a single commit. It returns false when
// the commit was skipped because the subtree did not change.
func replayOne(
	ctx context.Context,
	repo *git.Repo,
	c history.Commit,
	pluginDir string,
	pluginPath string,
	sourceRepo string,
) (bool, error) {
	if err := clearDir(pluginDir); err != nil {
		return false, err
	}

	if err := snapshot.Export(
		ctx, c.Hash, pluginDir, sourceRepo,
	); err != nil {
		return false, err
	}

	if err := repo.Stage(ctx, pluginPath); err != nil {
		return false, err
	}

	changed, err := repo.HasStagedChanges(ctx, pluginPath)
	if err != nil {
		return false, err
	}

	if !changed {
		return false, nil
	}

	err = repo.CommitAs(ctx, c.Author, c.Date, c.Message)
	if err == nil {
		return true, nil
	}

	if isNothingToCommit(err) {
		return false, nil
	}

	return false, err
}

// clearDir removes every entry inside dir, keeping dir
// itself. A missing dir is not an error.
func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("clearing %s: %w", dir, err)
	}

	for _, e := range entries {
		if err := os.RemoveAll(
			filepath.Join(dir, e.Name()),
		); err != nil {
			return fmt.Errorf(
				"clearing %s: %w", e.Name(), err,
			)
		}
	}

	return nil
}

// isNothingToCommit reports whether err is a git commit
// failure that only means the index was clean.
func isNothingToCommit(err error) bool {
	var ce *exec.CommandError
	if !errors.As(err, &ce) {
		return false
	}

	diag := strings.ToLower(ce.Stdout + "\n" + ce.Stderr)

	for _, s := range benignCommitFailures {
		if strings.Contains(diag, s) {
			return true
		}
	}

	return false
}

func shortHash(h string) string {
	if len(h) > 7 {
		return h[:7]
	}

	return h
}
