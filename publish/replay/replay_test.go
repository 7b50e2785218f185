package replay_test

import (
	"context"
	"errors"
	"os"
	oe "os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/plugin_publish/publish/exec"
	"github.com/byte4ever/plugin_publish/publish/git"
	"github.com/byte4ever/plugin_publish/publish/history"
	"github.com/byte4ever/plugin_publish/publish/replay"
)

func TestRun_preserves_authorship_and_order(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	src := newSource(t)

	commit(t, src, map[string]string{"index.js": "v1\n"}, nil,
		"Alice <alice@example.com>", "2024-01-02T10:00:00+08:00", "first")
	commit(t, src, map[string]string{"lib/a.js": "a\n"}, nil,
		"Bob <bob@example.com>", "2024-02-03T11:30:00-05:00", "second\n\nbody text")
	commit(t, src, map[string]string{"index.js": "v2\n"}, nil,
		"Alice <alice@example.com>", "2024-03-04T12:00:00+01:00", "third")

	commits := history.Read(ctx, src)
	require.Len(t, commits, 3)

	repo := newClone(t)

	res, err := replay.Run(ctx, repo, commits, "demo", src)
	require.NoError(t, err)
	assert.Equal(t, replay.Result{Committed: 3}, res)

	got := replayed(t, repo)
	require.Len(t, got, 3)

	for i := range commits {
		assert.Equal(t, commits[i].Author, got[i].Author)
		assert.Equal(t, commits[i].Date, got[i].Date)
		assert.Equal(t, commits[i].Message, got[i].Message)
	}

	assertFile(t, repo.PluginDir("demo"), "index.js", "v2\n")
	assertFile(t, repo.PluginDir("demo"), "lib/a.js", "a\n")
}

func TestRun_skips_commits_without_subtree_change(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	src := newSource(t)

	commit(t, src, map[string]string{"index.js": "v1\n"}, nil,
		"Alice <alice@example.com>", "2024-01-02T10:00:00Z", "add index")
	gitCmd(t, src,
		"commit", "--allow-empty",
		"--author=Alice <alice@example.com>",
		"-m", "empty commit",
	)
	commit(t, src, map[string]string{"index.js": "v2\n"}, nil,
		"Alice <alice@example.com>", "2024-01-04T10:00:00Z", "change index")

	commits := history.Read(ctx, src)
	require.Len(t, commits, 3)

	repo := newClone(t)

	res, err := replay.Run(ctx, repo, commits, "demo", src)
	require.NoError(t, err)
	assert.Equal(t, replay.Result{Committed: 2, Skipped: 1}, res)

	got := replayed(t, repo)
	require.Len(t, got, 2)
	assert.Equal(t, "add index", got[0].Message)
	assert.Equal(t, "change index", got[1].Message)
}

func TestRun_handles_deletions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	src := newSource(t)

	commit(t, src, map[string]string{"a.js": "a\n", "b.js": "b\n"}, nil,
		"Alice <alice@example.com>", "2024-01-02T10:00:00Z", "add")
	commit(t, src, nil, []string{"b.js"},
		"Alice <alice@example.com>", "2024-01-03T10:00:00Z", "remove b")

	repo := newClone(t)

	_, err := replay.Run(ctx, repo, history.Read(ctx, src), "demo", src)
	require.NoError(t, err)

	assertFile(t, repo.PluginDir("demo"), "a.js", "a\n")
	assert.NoFileExists(t, filepath.Join(repo.PluginDir("demo"), "b.js"))

	tracked := gitOut(t, repo.Dir, "ls-files", "plugins/demo")
	assert.Equal(t, "plugins/demo/a.js\n", tracked)
}

func TestRun_special_characters_round_trip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	src := newSource(t)

	msg := "say \"hi\" `rm -rf /` $HOME ${PATH} back\\slash \\\" end"

	commit(t, src, map[string]string{"index.js": "v1\n"}, nil,
		"O'Brien <ob@example.com>", "2024-01-02T10:00:00Z", msg)

	repo := newClone(t)

	_, err := replay.Run(ctx, repo, history.Read(ctx, src), "demo", src)
	require.NoError(t, err)

	got := replayed(t, repo)
	require.Len(t, got, 1)
	assert.Equal(t, msg, got[0].Message)
	assert.Equal(t, "O'Brien <ob@example.com>", got[0].Author)
}

func TestRun_is_idempotent_in_content(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	src := newSource(t)

	commit(t, src, map[string]string{"index.js": "v1\n", "x/y.txt": "y\n"}, nil,
		"Alice <alice@example.com>", "2024-01-02T10:00:00Z", "one")
	commit(t, src, map[string]string{"index.js": "v2\n"}, []string{"x/y.txt"},
		"Alice <alice@example.com>", "2024-01-03T10:00:00Z", "two")

	commits := history.Read(ctx, src)

	first := newClone(t)
	_, err := replay.Run(ctx, first, commits, "demo", src)
	require.NoError(t, err)

	second := newClone(t)
	_, err = replay.Run(ctx, second, commits, "demo", src)
	require.NoError(t, err)

	assert.Equal(t,
		gitOut(t, first.Dir, "rev-parse", "HEAD:plugins/demo"),
		gitOut(t, second.Dir, "rev-parse", "HEAD:plugins/demo"),
	)
	assert.Equal(t,
		gitOut(t, first.Dir, "rev-parse", "HEAD^{tree}"),
		gitOut(t, second.Dir, "rev-parse", "HEAD^{tree}"),
	)
}

func TestRun_failure_reports_commit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	src := newSource(t)

	commit(t, src, map[string]string{"index.js": "v1\n"}, nil,
		"Alice <alice@example.com>", "2024-01-02T10:00:00Z", "good")

	commits := history.Read(ctx, src)
	commits = append(commits, history.Commit{
		Hash:    "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef",
		Author:  "Alice <alice@example.com>",
		Date:    "2024-01-03T10:00:00Z",
		Message: "missing object",
	})

	repo := newClone(t)

	res, err := replay.Run(ctx, repo, commits, "demo", src)

	var rerr *replay.Error

	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, 1, rerr.Index)
	assert.Equal(t, "missing object", rerr.Commit.Message)
	assert.Contains(t, err.Error(), "deadbee")
	assert.Equal(t, 1, res.Committed)

	var ce *exec.CommandError

	assert.ErrorAs(t, err, &ce)

	// The commit replayed before the failure stays.
	assert.Len(t, replayed(t, repo), 1)
}

func TestRun_cancelled_context(t *testing.T) {
	t.Parallel()

	src := newSource(t)
	commit(t, src, map[string]string{"index.js": "v1\n"}, nil,
		"Alice <alice@example.com>", "2024-01-02T10:00:00Z", "one")

	commits := history.Read(context.Background(), src)
	repo := newClone(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := replay.Run(ctx, repo, commits, "demo", src)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsNothingToCommit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "clean tree on stdout",
			err: &exec.CommandError{
				ExitCode: 1,
				Stdout:   "On branch x\nnothing to commit, working tree clean\n",
			},
			want: true,
		},
		{
			name: "no changes added",
			err: &exec.CommandError{
				ExitCode: 1,
				Stdout:   "no changes added to commit (use \"git add\")",
			},
			want: true,
		},
		{
			name: "mixed case on stderr",
			err: &exec.CommandError{
				ExitCode: 1,
				Stderr:   "Nothing Added To Commit but untracked files present",
			},
			want: true,
		},
		{
			name: "real failure",
			err: &exec.CommandError{
				ExitCode: 128,
				Stderr:   "fatal: invalid date format",
			},
			want: false,
		},
		{
			name: "not a command error",
			err:  errors.New("nothing to commit"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, replay.IsNothingToCommitForTest(tt.err))
		})
	}
}

func TestClearDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "a/b.txt", "x")
	writeFile(t, dir, "c.txt", "y")

	require.NoError(t, replay.ClearDirForTest(dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, replay.ClearDirForTest(filepath.Join(dir, "missing")))
}

// replayed returns the commits on the plugin branch that
// are not on main, oldest first.
func replayed(tb testing.TB, repo *git.Repo) []history.Commit {
	tb.Helper()

	all := history.Read(context.Background(), repo.Dir)
	base := strings.Fields(gitOut(tb, repo.Dir, "rev-list", "main"))

	return all[len(base):]
}

func newSource(tb testing.TB) string {
	tb.Helper()

	dir := tb.TempDir()
	initGitRepo(tb, dir)

	return dir
}

// newClone builds a bare fork with an unrelated plugin on
// main and returns a sparse clone on plugin/demo.
func newClone(tb testing.TB) *git.Repo {
	tb.Helper()

	root := tb.TempDir()
	central := filepath.Join(root, "central")
	fork := filepath.Join(root, "fork.git")

	require.NoError(tb, os.MkdirAll(central, 0o750))
	initGitRepo(tb, central)
	writeFile(tb, filepath.Join(central, "plugins", "other"), "index.js", "other\n")
	gitCmd(tb, central, "add", "-A")
	gitCmd(tb, central, "commit", "-m", "initial")
	gitCmd(tb, root, "clone", "--bare", central, fork)

	repo, err := git.Clone(context.Background(), git.CloneOptions{
		URL:        "file://" + fork,
		Dir:        filepath.Join(root, "clone"),
		BaseBranch: "main",
		Identity:   git.Identity{Name: "Bot", Email: "bot@example.com"},
	})
	require.NoError(tb, err)

	gitCmd(tb, repo.Dir, "config", "core.hooksPath", "/dev/null")

	_, err = repo.EnsureBranch(context.Background(), "demo")
	require.NoError(tb, err)

	return repo
}

// commit writes files, removes paths and commits with the
// given author, date and message.
func commit(
	tb testing.TB,
	dir string,
	files map[string]string,
	remove []string,
	author, date, msg string,
) {
	tb.Helper()

	for name, content := range files {
		writeFile(tb, dir, name, content)
	}

	for _, name := range remove {
		gitCmd(tb, dir, "rm", "-q", name)
	}

	gitCmd(tb, dir, "add", "-A")
	gitCmd(
		tb, dir, "commit",
		"--author="+author,
		"--date="+date,
		"--cleanup=verbatim",
		"-m", msg,
	)
}

func assertFile(tb testing.TB, dir, name, want string) {
	tb.Helper()

	//nolint:gosec // test file
	got, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(tb, err)
	assert.Equal(tb, want, string(got))
}

func writeFile(tb testing.TB, dir, name, content string) {
	tb.Helper()

	p := filepath.Join(dir, name)
	require.NoError(tb, os.MkdirAll(filepath.Dir(p), 0o750))

	//nolint:gosec // test file
	require.NoError(tb, os.WriteFile(p, []byte(content), 0o600))
}

// initGitRepo creates an empty repository with hooks
// disabled.
func initGitRepo(tb testing.TB, dir string) {
	tb.Helper()

	cmds := [][]string{
		{"init", "-b", "main"},
		{"config", "user.email", "test@test.com"},
		{"config", "user.name", "Test"},
		{"config", "core.hooksPath", "/dev/null"},
	}

	for _, args := range cmds {
		gitCmd(tb, dir, args...)
	}
}

func gitOut(tb testing.TB, dir string, args ...string) string {
	tb.Helper()

	//nolint:gosec // test helper
	cmd := oe.CommandContext(context.Background(), "git", args...)
	cmd.Dir = dir

	out, err := cmd.Output()
	require.NoError(tb, err, strings.Join(args, " "))

	return string(out)
}

// gitCmd runs a git command in the given directory.
func gitCmd(tb testing.TB, dir string, args ...string) {
	tb.Helper()

	//nolint:gosec // test helper
	cmd := oe.CommandContext(
		context.Background(), "git", args...,
	)
	cmd.Dir = dir

	out, err := cmd.CombinedOutput()
	if err != nil {
		tb.Fatalf(
			"git %v failed: %s: %v",
			args, string(out), err,
		)
	}
}
