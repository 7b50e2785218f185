package git

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/byte4ever/plugin_publish/publish/exec"
)

const (
	// PluginsDir is the directory holding every plugin
	// subtree in the central repository.
	PluginsDir = "plugins"

	// BranchPrefix prefixes replay branch names.
	BranchPrefix = "plugin/"

	defaultRemote = "origin"
)

// ErrUnsafeDir is returned when a clone directory does not
// name a directory of its own.
var ErrUnsafeDir = errors.New("refusing to replace clone directory")

// Identity is the committer identity configured in the
// clone.
type Identity struct {
	Name  string
	Email string
}

// CloneOptions configures Clone.
type CloneOptions struct {
	// URL is the HTTPS clone URL of the fork.
	URL string
	// Username and Token are embedded in the clone URL
	// when both are set.
	Username string
	Token    string
	// Dir is the local clone location. It is removed
	// before cloning.
	Dir string
	// BaseBranch is checked out after cloning.
	BaseBranch string
	// Identity, when non-empty, is written to the clone's
	// local git config.
	Identity Identity
}

// Repo is a local sparse clone of the central repository.
type Repo struct {
	// Dir is the filesystem location of the clone.
	Dir string
	// RemoteName is the name of the fork remote.
	RemoteName string
	// BaseBranch is the branch replay branches start from.
	BaseBranch string
}

// BranchName returns the replay branch for pluginName.
func BranchName(pluginName string) string {
	return BranchPrefix + pluginName
}

// PluginPath returns the repository-relative path of the
// plugin subtree, using forward slashes.
func PluginPath(pluginName string) string {
	return PluginsDir + "/" + pluginName
}

// Clone recreates a sparse, blob-filtered clone of
// opts.URL in opts.Dir with no paths selected and the base
// branch checked out.
//
//nolint:gosec // file paths originate from settings
func Clone(ctx context.Context, opts CloneOptions) (*Repo, error) {
	const errCtx = "cloning repository"

	if opts.BaseBranch == "" {
		opts.BaseBranch = "main"
	}

	switch filepath.Base(opts.Dir) {
	case ".", "..", string(filepath.Separator):
		return nil, fmt.Errorf(
			"%s: %q: %w", errCtx, opts.Dir, ErrUnsafeDir,
		)
	}

	if _, err := os.Stat(opts.Dir); err == nil {
		slog.Info("removing previous clone", "dir", opts.Dir)
	}

	if err := os.RemoveAll(opts.Dir); err != nil {
		return nil, fmt.Errorf(
			"%s: remove dir: %w", errCtx, err,
		)
	}

	if err := os.MkdirAll(filepath.Dir(opts.Dir), 0o750); err != nil {
		return nil, fmt.Errorf(
			"%s: create parent dir: %w", errCtx, err,
		)
	}

	cloneURL, err := authURL(opts.URL, opts.Username, opts.Token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	if _, err := exec.Ex(
		ctx, "", "git",
		"clone",
		"--no-checkout",
		"--filter=blob:none",
		"--origin", defaultRemote,
		cloneURL, opts.Dir,
	); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	r := &Repo{
		Dir:        opts.Dir,
		RemoteName: defaultRemote,
		BaseBranch: opts.BaseBranch,
	}

	steps := [][]string{
		{"sparse-checkout", "init", "--cone"},
		{"sparse-checkout", "set", "--no-cone"},
	}

	if opts.Identity.Name != "" {
		steps = append(steps,
			[]string{"config", "--local", "user.name", opts.Identity.Name},
		)
	}

	if opts.Identity.Email != "" {
		steps = append(steps,
			[]string{"config", "--local", "user.email", opts.Identity.Email},
		)
	}

	steps = append(steps, []string{"checkout", opts.BaseBranch})

	for _, args := range steps {
		if _, err := r.git(ctx, args...); err != nil {
			if cleanErr := r.Clean(); cleanErr != nil {
				slog.Warn(
					"failed to remove partial clone",
					"dir", r.Dir,
					"error", cleanErr,
				)
			}

			return nil, fmt.Errorf("%s: %w", errCtx, err)
		}
	}

	return r, nil
}

// Clean removes the local clone directory.
func (r *Repo) Clean() error {
	const errCtx = "cleaning repository"

	if err := os.RemoveAll(r.Dir); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// PluginDir returns the absolute working directory of the
// plugin subtree.
func (r *Repo) PluginDir(pluginName string) string {
	return filepath.Join(r.Dir, PluginsDir, pluginName)
}

// EnsureBranch adds the plugin subtree to the sparse set
// and switches to plugin/<pluginName>, creating it from the
// current base branch if needed. Returns true when the
// branch was newly created.
func (r *Repo) EnsureBranch(
	ctx context.Context,
	pluginName string,
) (bool, error) {
	const errCtx = "ensuring plugin branch"

	branch := BranchName(pluginName)

	if _, err := r.git(
		ctx,
		"sparse-checkout", "add",
		"/"+PluginPath(pluginName)+"/**",
	); err != nil {
		return false, fmt.Errorf("%s: %w", errCtx, err)
	}

	if err := os.MkdirAll(
		filepath.Join(r.Dir, PluginsDir), 0o750,
	); err != nil {
		return false, fmt.Errorf(
			"%s: create plugins dir: %w", errCtx, err,
		)
	}

	exists, err := r.HasBranch(branch)
	if err != nil {
		return false, fmt.Errorf("%s: %w", errCtx, err)
	}

	if exists {
		slog.Info("switching to existing branch", "branch", branch)

		if _, err := r.git(ctx, "checkout", branch); err != nil {
			return false, fmt.Errorf("%s: %w", errCtx, err)
		}

		return false, nil
	}

	if _, err := r.git(ctx, "checkout", "-b", branch); err != nil {
		return false, fmt.Errorf("%s: %w", errCtx, err)
	}

	slog.Info("created branch", "branch", branch)

	return true, nil
}

// HasBranch reports whether the local branch exists. A
// missing reference is not an error.
func (r *Repo) HasBranch(branch string) (bool, error) {
	repo, err := gitlib.PlainOpen(r.Dir)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", r.Dir, err)
	}

	_, err = repo.Reference(
		plumbing.NewBranchReferenceName(branch), false,
	)

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("lookup %s: %w", branch, err)
	}
}

// Stage adds every change under path (relative to the
// repository root) to the index.
func (r *Repo) Stage(ctx context.Context, path string) error {
	if _, err := r.git(ctx, "add", "-A", "--", path); err != nil {
		return fmt.Errorf("staging %s: %w", path, err)
	}

	return nil
}

// HasStagedChanges reports whether the index differs from
// HEAD under path. It relies on the exit status of
// git diff --quiet: 0 for no difference, 1 for changes.
func (r *Repo) HasStagedChanges(
	ctx context.Context,
	path string,
) (bool, error) {
	_, err := r.git(
		ctx, "diff", "--cached", "--quiet", "--", path,
	)
	if err == nil {
		return false, nil
	}

	if exec.ExitCode(err) == 1 {
		return true, nil
	}

	return false, fmt.Errorf("checking staged changes: %w", err)
}

// CommitAs commits the index with the given author
// ("Name <email>") and author date. The message is passed
// verbatim as a single argument.
func (r *Repo) CommitAs(
	ctx context.Context,
	author string,
	date string,
	message string,
) error {
	_, err := r.git(
		ctx,
		"commit",
		"--author="+author,
		"--date="+date,
		"--cleanup=verbatim",
		"--allow-empty-message",
		"-m", message,
	)

	return err
}

// LastCommitMessage returns the most recent commit message
// on the current branch without trailing newlines. Returns
// empty string on error.
func (r *Repo) LastCommitMessage(ctx context.Context) string {
	msg, err := r.git(ctx, "log", "-1", "--pretty=%B")
	if err != nil {
		return ""
	}

	return strings.TrimRight(msg, "\n")
}

// IsClean reports whether the working tree has no
// uncommitted changes.
func (r *Repo) IsClean(ctx context.Context) bool {
	out, err := r.git(ctx, "status", "--porcelain")
	if err != nil {
		slog.Error(
			"failed to check repo status",
			"error", err,
		)

		return false
	}

	return strings.TrimSpace(out) == ""
}

// Push force-pushes the given branches to the remote.
func (r *Repo) Push(ctx context.Context, branches ...string) error {
	args := append(
		[]string{
			"push", "-f", "--set-upstream", r.RemoteName,
		},
		branches...,
	)

	if _, err := r.git(ctx, args...); err != nil {
		return fmt.Errorf("pushing %v: %w", branches, err)
	}

	return nil
}

func (r *Repo) git(ctx context.Context, args ...string) (string, error) {
	return exec.Ex(ctx, r.Dir, "git", args...)
}

// authURL embeds username and token into an HTTPS URL.
// Other URLs (local paths, ssh) are returned unchanged.
func authURL(raw, username, token string) (string, error) {
	if username == "" || token == "" ||
		!strings.HasPrefix(raw, "https://") {
		return raw, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse clone url: %w", err)
	}

	u.User = url.UserPassword(username, token)

	return u.String(), nil
}
