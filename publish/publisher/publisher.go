package publisher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/valyala/fasttemplate"

	"github.com/byte4ever/plugin_publish/publish/git"
	"github.com/byte4ever/plugin_publish/publish/github"
	"github.com/byte4ever/plugin_publish/publish/wait"
)

const (
	// DefaultForkAttempts bounds the fork readiness probes.
	DefaultForkAttempts = 10

	// DefaultForkDelay is the wait before each probe.
	DefaultForkDelay = 2 * time.Second

	// DefaultTitle is the pull request title template.
	DefaultTitle = "[Plugin] {{name}} {{version}}"

	// DefaultBody is the pull request body template.
	DefaultBody = "Publish plugin **{{name}}** ({{plugin}}) " +
		"version {{version}} by {{author}}.\n\n" +
		"{{description}}\n\n" +
		"Replayed commits: {{commits}}\n"
)

// API is the platform surface the publisher drives.
type API interface {
	GetFork(
		ctx context.Context,
		owner string,
	) (*github.Repository, error)
	CreateFork(ctx context.Context) error
	FindOpenPullRequest(
		ctx context.Context,
		head string,
	) (*github.PullRequest, error)
	CreatePullRequest(
		ctx context.Context,
		head string,
		base string,
		title string,
		body string,
	) (*github.PullRequest, error)
}

// Pusher force-pushes local branches to the fork.
type Pusher interface {
	Push(ctx context.Context, branches ...string) error
}

// Config holds the settings for a Publisher.
type Config struct {
	API    API
	Pusher Pusher
	// BaseBranch is the pull request target on the central
	// repository.
	BaseBranch string
	// ForkAttempts defaults to DefaultForkAttempts.
	ForkAttempts int
	// ForkDelay defaults to DefaultForkDelay.
	ForkDelay time.Duration
	// Sleep defaults to a timer that honours ctx.
	Sleep func(ctx context.Context, d time.Duration) error
}

// TimeoutError is returned when a created fork does not
// become visible within the configured attempts.
type TimeoutError struct {
	Owner    string
	Attempts int
	Delay    time.Duration
}

// Error implements error.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf(
		"fork for %s not ready after %d attempts (%s apart)",
		e.Owner, e.Attempts, e.Delay,
	)
}

// Request describes one publish.
type Request struct {
	PluginName string
	// Owner is the authenticated login owning the fork.
	Owner string
	Title string
	Body  string
}

// PullRequestRef identifies the reconciled pull request.
type PullRequestRef struct {
	URL    string
	Number int
	// Reused is true when an open pull request already
	// existed for the branch.
	Reused bool
}

// Publisher pushes branches and reconciles pull requests.
type Publisher struct {
	api          API
	pusher       Pusher
	baseBranch   string
	forkAttempts int
	forkDelay    time.Duration
	sleep        func(ctx context.Context, d time.Duration) error
}

// New validates cfg and returns a Publisher.
func New(cfg Config) (*Publisher, error) {
	const errCtx = "creating publisher"

	if cfg.API == nil {
		return nil, fmt.Errorf("%s: api must be set", errCtx)
	}

	if cfg.BaseBranch == "" {
		return nil, fmt.Errorf("%s: base branch must be set", errCtx)
	}

	if cfg.ForkAttempts <= 0 {
		cfg.ForkAttempts = DefaultForkAttempts
	}

	if cfg.ForkDelay <= 0 {
		cfg.ForkDelay = DefaultForkDelay
	}

	if cfg.Sleep == nil {
		cfg.Sleep = wait.Sleep
	}

	return &Publisher{
		api:          cfg.API,
		pusher:       cfg.Pusher,
		baseBranch:   cfg.BaseBranch,
		forkAttempts: cfg.ForkAttempts,
		forkDelay:    cfg.ForkDelay,
		sleep:        cfg.Sleep,
	}, nil
}

// WithPusher returns a copy of p pushing through pusher.
func (p *Publisher) WithPusher(pusher Pusher) *Publisher {
	cp := *p
	cp.pusher = pusher

	return &cp
}

// Publish force-pushes plugin/<name> to the fork, makes
// sure the fork exists, then reuses or opens the pull
// request for that branch.
func (p *Publisher) Publish(
	ctx context.Context,
	req Request,
) (*PullRequestRef, error) {
	const errCtx = "publishing plugin"

	if p.pusher == nil {
		return nil, fmt.Errorf("%s: no pusher configured", errCtx)
	}

	branch := git.BranchName(req.PluginName)

	if err := p.pusher.Push(ctx, branch); err != nil {
		return nil, fmt.Errorf("%s: push %s: %w", errCtx, branch, err)
	}

	if _, err := p.EnsureFork(ctx, req.Owner); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	ref, err := p.Reconcile(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return ref, nil
}

// EnsureFork returns the user's fork, creating it and
// waiting for it to appear when absent.
func (p *Publisher) EnsureFork(
	ctx context.Context,
	owner string,
) (*github.Repository, error) {
	const errCtx = "ensuring fork"

	fork, err := p.api.GetFork(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	if fork != nil {
		slog.Info("found fork", "repo", fork.FullName)

		return fork, nil
	}

	slog.Info("no fork found, creating one", "owner", owner)

	if err := p.api.CreateFork(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	fork, err = p.WaitForFork(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return fork, nil
}

// WaitForFork probes for the fork up to the configured
// number of attempts, sleeping before each probe. A probe
// that finds nothing is not an error; other failures are.
func (p *Publisher) WaitForFork(
	ctx context.Context,
	owner string,
) (*github.Repository, error) {
	for attempt := 1; attempt <= p.forkAttempts; attempt++ {
		if err := p.sleep(ctx, p.forkDelay); err != nil {
			return nil, err
		}

		// Implementations other than github.Client may
		// report a missing fork as a not-found error.
		fork, err := p.api.GetFork(ctx, owner)
		if err != nil && !github.IsNotFound(err) {
			return nil, err
		}

		if fork != nil {
			slog.Info("fork ready", "repo", fork.FullName, "attempt", attempt)

			return fork, nil
		}

		slog.Info(
			"waiting for fork",
			"attempt", attempt,
			"max", p.forkAttempts,
		)
	}

	return nil, &TimeoutError{
		Owner:    owner,
		Attempts: p.forkAttempts,
		Delay:    p.forkDelay,
	}
}

// Reconcile reuses the open pull request whose head is
// <owner>:plugin/<name>, or opens one into the base
// branch.
func (p *Publisher) Reconcile(
	ctx context.Context,
	req Request,
) (*PullRequestRef, error) {
	const errCtx = "reconciling pull request"

	head := Head(req.Owner, req.PluginName)

	existing, err := p.api.FindOpenPullRequest(ctx, head)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	if existing != nil {
		slog.Info(
			"pull request already open, branch updated",
			"url", existing.HTMLURL,
		)

		return &PullRequestRef{
			URL:    existing.HTMLURL,
			Number: existing.Number,
			Reused: true,
		}, nil
	}

	title := req.Title
	if title == "" {
		title = "Publish plugin " + req.PluginName
	}

	body := req.Body
	if body == "" {
		body = title
	}

	created, err := p.api.CreatePullRequest(
		ctx, head, p.baseBranch, title, body,
	)
	if err != nil {
		if github.Status(err) != http.StatusUnprocessableEntity {
			return nil, fmt.Errorf("%s: %w", errCtx, err)
		}

		// Lost a race with another publish of the same
		// branch.
		existing, findErr := p.api.FindOpenPullRequest(ctx, head)
		if findErr != nil || existing == nil {
			return nil, fmt.Errorf("%s: %w", errCtx, err)
		}

		return &PullRequestRef{
			URL:    existing.HTMLURL,
			Number: existing.Number,
			Reused: true,
		}, nil
	}

	return &PullRequestRef{
		URL:    created.HTMLURL,
		Number: created.Number,
	}, nil
}

// Head returns the cross-repository head ref for a plugin
// branch on owner's fork.
func Head(owner string, pluginName string) string {
	return owner + ":" + git.BranchName(pluginName)
}

// RenderText substitutes {{key}} placeholders in tpl with
// vars. Unknown placeholders are left as they are.
func RenderText(tpl string, vars map[string]string) (string, error) {
	const errCtx = "rendering template"

	t, err := fasttemplate.NewTemplate(tpl, "{{", "}}")
	if err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	out, err := t.ExecuteFuncStringWithErr(
		func(w io.Writer, tag string) (int, error) {
			if v, ok := vars[strings.TrimSpace(tag)]; ok {
				return io.WriteString(w, v)
			}

			return io.WriteString(w, "{{"+tag+"}}")
		},
	)
	if err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	return out, nil
}
