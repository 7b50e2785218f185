package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"golang.org/x/oauth2"

	"github.com/byte4ever/plugin_publish/publish/auth"
	"github.com/byte4ever/plugin_publish/publish/config"
	"github.com/byte4ever/plugin_publish/publish/git"
	"github.com/byte4ever/plugin_publish/publish/github"
	"github.com/byte4ever/plugin_publish/publish/history"
	"github.com/byte4ever/plugin_publish/publish/manifest"
	"github.com/byte4ever/plugin_publish/publish/publisher"
	"github.com/byte4ever/plugin_publish/publish/replay"
)

// ErrNoCommits is returned when the plugin project has no
// history to replay.
var ErrNoCommits = errors.New("no commits to publish")

// ErrDirtyClone is returned when the clone still has
// uncommitted changes after the replay.
var ErrDirtyClone = errors.New("clone has uncommitted changes after replay")

// TokenSource supplies a verified access token.
type TokenSource interface {
	EnsureToken(ctx context.Context) (*auth.Token, error)
}

// Config holds all settings for a publish run.
type Config struct {
	// Dir is the plugin project, a git repository with a
	// plugin manifest at its root.
	Dir string

	// Settings are the loaded publisher settings.
	Settings *config.Config

	// DryRun stops after the local replay; nothing is
	// pushed and no pull request is touched.
	DryRun bool

	// Out receives interactive output such as the device
	// code prompt. Defaults to os.Stdout.
	Out io.Writer

	// Tokens supplies the access token. Defaults to an
	// auth.Manager built from Settings with a file store
	// in the work directory.
	Tokens TokenSource
}

// Run executes the full publish workflow and returns the
// reconciled pull request, or nil on a dry run.
func Run(
	ctx context.Context,
	cfg Config,
) (*publisher.PullRequestRef, error) {
	const errCtx = "running publish"

	if cfg.Settings == nil {
		return nil, fmt.Errorf("%s: settings must be set", errCtx)
	}

	s := cfg.Settings

	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}

	// Step 1: Read the plugin manifest.
	m, err := manifest.Load(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	name := m.ID()

	slog.Info("publishing plugin", "plugin", name, "dir", cfg.Dir)

	// Step 2: Authenticate.
	tokens := cfg.Tokens
	if tokens == nil {
		tokens, err = newAuthManager(cfg)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", errCtx, err)
		}
	}

	tok, err := tokens.EnsureToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	client, err := github.NewClient(github.Config{
		Owner:       s.CentralOwner,
		Repo:        s.CentralRepo,
		AccessToken: tok.AccessToken,
		BaseURL:     s.APIBaseURL,
		UserAgent:   s.UserAgent,
		RetryMax:    s.HTTPRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	user, err := client.CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	// Step 3: Make sure the fork exists.
	pub, err := publisher.New(publisher.Config{
		API:          client,
		BaseBranch:   s.BaseBranch,
		ForkAttempts: s.ForkAttempts,
		ForkDelay:    s.ForkDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	fork, err := pub.EnsureFork(ctx, user.Login)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	// Step 4: Read the project history.
	commits := history.Read(ctx, cfg.Dir)
	if len(commits) == 0 {
		return nil, fmt.Errorf("%s: %s: %w", errCtx, cfg.Dir, ErrNoCommits)
	}

	// Step 5: Clone the fork and switch to the plugin
	// branch.
	repo, err := git.Clone(ctx, git.CloneOptions{
		URL:        cloneURL(fork, user.Login, s.CentralRepo),
		Username:   user.Login,
		Token:      tok.AccessToken,
		Dir:        s.CloneDir(),
		BaseBranch: s.BaseBranch,
		Identity:   identity(user),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	if _, err := repo.EnsureBranch(ctx, name); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	// Step 6: Replay the history.
	res, err := replay.Run(ctx, repo, commits, name, cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	if !repo.IsClean(ctx) {
		return nil, fmt.Errorf("%s: %s: %w", errCtx, repo.Dir, ErrDirtyClone)
	}

	if cfg.DryRun {
		slog.Info(
			"dry run: skipping push and pull request",
			"branch", git.BranchName(name),
			"committed", res.Committed,
			"skipped", res.Skipped,
			"head", history.Subject(repo.LastCommitMessage(ctx)),
			"clone", repo.Dir,
		)

		return nil, nil
	}

	// Step 7: Push and reconcile the pull request.
	vars := m.Vars()
	vars["commits"] = strconv.Itoa(res.Committed)

	title, err := publisher.RenderText(s.PRTitle, vars)
	if err != nil {
		return nil, fmt.Errorf("%s: title: %w", errCtx, err)
	}

	body, err := publisher.RenderText(s.PRBody, vars)
	if err != nil {
		return nil, fmt.Errorf("%s: body: %w", errCtx, err)
	}

	ref, err := pub.WithPusher(repo).Publish(ctx, publisher.Request{
		PluginName: name,
		Owner:      user.Login,
		Title:      title,
		Body:       body,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return ref, nil
}

func newAuthManager(cfg Config) (*auth.Manager, error) {
	s := cfg.Settings

	return auth.NewManager(auth.Config{
		ClientID: s.ClientID,
		Scopes:   s.ScopeList(),
		Endpoint: oauth2.Endpoint{
			DeviceAuthURL: s.DeviceAuthURL,
			TokenURL:      s.TokenURL,
		},
		Out:   cfg.Out,
		Store: auth.NewFileStore(s.WorkDir),
		Verifier: github.Verifier{Config: github.Config{
			Owner:     s.CentralOwner,
			Repo:      s.CentralRepo,
			BaseURL:   s.APIBaseURL,
			UserAgent: s.UserAgent,
			RetryMax:  s.HTTPRetries,
		}},
	})
}

func cloneURL(
	fork *github.Repository,
	login string,
	repo string,
) string {
	if fork.CloneURL != "" {
		return fork.CloneURL
	}

	return "https://github.com/" + login + "/" + repo + ".git"
}

// identity is the committer identity for replayed
// commits. Authors come from the source history.
func identity(u *github.User) git.Identity {
	id := git.Identity{Name: u.Name, Email: u.Email}

	if id.Name == "" {
		id.Name = u.Login
	}

	if id.Email == "" {
		id.Email = u.Login + "@users.noreply.github.com"
	}

	return id
}
