package history

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/byte4ever/plugin_publish/publish/exec"
)

// FieldSeparator splits the fields of one log record. It
// is chosen so that it does not collide with message text.
const FieldSeparator = "<<<COMMIT_SEP>>>"

// fieldCount is the number of fields in one record.
const fieldCount = 4

// Commit describes one source commit to replay.
type Commit struct {
	// Hash is the full commit id.
	Hash string
	// Author is "Name <email>".
	Author string
	// Date is the author date in strict ISO-8601 with
	// the original timezone offset.
	Date string
	// Message is the subject plus body.
	Message string
}

// Read returns the commits reachable from HEAD in repoPath,
// oldest first. Any error is logged and yields an empty
// slice.
func Read(ctx context.Context, repoPath string) []Commit {
	if !hasCommits(repoPath) {
		return nil
	}

	format := strings.Join(
		[]string{"%H", "%an <%ae>", "%ad", "%B"},
		FieldSeparator,
	)

	out, err := exec.Ex(
		ctx, repoPath, "git",
		"log",
		"--reverse",
		"-z",
		"--date=iso-strict",
		"--format="+format,
	)
	if err != nil {
		slog.Warn(
			"failed to read commit history",
			"repo", repoPath,
			"error", err,
		)

		return nil
	}

	return parseLog(out)
}

// Subject returns the first line of a commit message.
func Subject(msg string) string {
	first, _, _ := strings.Cut(msg, "\n")

	return strings.TrimSpace(first)
}

// hasCommits reports whether repoPath is inside a git
// repository whose HEAD points at a commit.
func hasCommits(repoPath string) bool {
	repo, err := gitlib.PlainOpenWithOptions(
		repoPath,
		&gitlib.PlainOpenOptions{DetectDotGit: true},
	)
	if err != nil {
		slog.Warn(
			"not a git repository",
			"repo", repoPath,
			"error", err,
		)

		return false
	}

	if _, err := repo.Head(); err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			slog.Info("repository has no commits", "repo", repoPath)
		} else {
			slog.Warn(
				"cannot resolve HEAD",
				"repo", repoPath,
				"error", err,
			)
		}

		return false
	}

	return true
}

// parseLog splits NUL-terminated log records. Records that
// do not carry exactly fieldCount fields are dropped.
func parseLog(out string) []Commit {
	var commits []Commit

	for _, rec := range strings.Split(out, "\x00") {
		rec = strings.TrimLeft(rec, "\n")
		if strings.TrimSpace(rec) == "" {
			continue
		}

		parts := strings.Split(rec, FieldSeparator)
		if len(parts) != fieldCount {
			slog.Warn(
				"dropping malformed log record",
				"fields", len(parts),
			)

			continue
		}

		commits = append(commits, Commit{
			Hash:    strings.TrimSpace(parts[0]),
			Author:  strings.TrimSpace(parts[1]),
			Date:    strings.TrimSpace(parts[2]),
			Message: strings.TrimRight(parts[3], "\n"),
		})
	}

	return commits
}
