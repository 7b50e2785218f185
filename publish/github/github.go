package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	gh "github.com/google/go-github/v68/github"
	"github.com/hashicorp/go-retryablehttp"
)

// DefaultUserAgent identifies the client on every request.
const DefaultUserAgent = "zTools-CLI"

// Config holds the settings needed to talk to GitHub.
type Config struct {
	// Owner is the user or organisation owning the
	// central repository.
	Owner string
	// Repo is the central repository name.
	Repo string
	// AccessToken is the bearer token.
	AccessToken string
	// BaseURL optionally overrides the REST API root
	// (GitHub Enterprise or tests). Leave empty for
	// api.github.com.
	BaseURL string
	// UserAgent defaults to DefaultUserAgent.
	UserAgent string
	// RetryMax is the number of retries for transient
	// failures (connection errors, 429, 5xx).
	RetryMax int
}

// APIError is a non-2xx GitHub response.
type APIError struct {
	// Status is the HTTP status code.
	Status int
	// Message is the server-supplied message.
	Message string
	// Err is the underlying go-github error.
	Err error
}

// Error implements error.
func (e *APIError) Error() string {
	return fmt.Sprintf("github api error (%d): %s", e.Status, e.Message)
}

// Unwrap returns the underlying error.
func (e *APIError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a 404 APIError.
func IsNotFound(err error) bool {
	return Status(err) == http.StatusNotFound
}

// User is the authenticated account.
type User struct {
	Login string
	Name  string
	Email string
}

// Repository is the subset of repository fields used for
// forks.
type Repository struct {
	Owner    string
	Name     string
	FullName string
	CloneURL string
	HTMLURL  string
	Fork     bool
}

// PullRequest identifies a pull request.
type PullRequest struct {
	Number  int
	HTMLURL string
}

// Client talks to the GitHub REST API on behalf of one
// token.
type Client struct {
	client *gh.Client
	owner  string
	repo   string
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg Config) (*Client, error) {
	const errCtx = "creating github client"

	if cfg.Owner == "" {
		return nil, fmt.Errorf(
			"%s: repo owner must be set", errCtx,
		)
	}

	if cfg.Repo == "" {
		return nil, fmt.Errorf(
			"%s: repo must be set", errCtx,
		)
	}

	if cfg.AccessToken == "" {
		return nil, fmt.Errorf(
			"%s: access token must be set", errCtx,
		)
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = max(cfg.RetryMax, 0)
	rc.Logger = slog.Default()
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	client := gh.NewClient(rc.StandardClient()).
		WithAuthToken(cfg.AccessToken)

	client.UserAgent = cfg.UserAgent
	if client.UserAgent == "" {
		client.UserAgent = DefaultUserAgent
	}

	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}

		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: base url: %w", errCtx, err,
			)
		}

		client.BaseURL = u
	}

	return &Client{
		client: client,
		owner:  cfg.Owner,
		repo:   cfg.Repo,
	}, nil
}

// CurrentUser returns the account the token belongs to.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	const errCtx = "getting current user"

	u, resp, err := c.client.Users.Get(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, apiError(resp, err))
	}

	return &User{
		Login: u.GetLogin(),
		Name:  u.GetName(),
		Email: u.GetEmail(),
	}, nil
}

// GetFork returns the user's fork of the central
// repository, or nil when it does not exist.
func (c *Client) GetFork(
	ctx context.Context,
	owner string,
) (*Repository, error) {
	const errCtx = "getting fork"

	r, resp, err := c.client.Repositories.Get(ctx, owner, c.repo)
	if err != nil {
		err = apiError(resp, err)
		if IsNotFound(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	if !strings.EqualFold(r.GetOwner().GetLogin(), owner) {
		slog.Warn(
			"repository owner mismatch",
			"want", owner,
			"got", r.GetOwner().GetLogin(),
		)

		return nil, nil
	}

	return toRepository(r), nil
}

// CreateFork asks GitHub to fork the central repository
// into the authenticated account. Forking is asynchronous;
// the fork may not be visible when this returns.
func (c *Client) CreateFork(ctx context.Context) error {
	const errCtx = "creating fork"

	_, resp, err := c.client.Repositories.CreateFork(
		ctx, c.owner, c.repo,
		&gh.RepositoryCreateForkOptions{},
	)
	if err != nil {
		var accepted *gh.AcceptedError
		if errors.As(err, &accepted) {
			slog.Info("fork scheduled", "repo", c.owner+"/"+c.repo)

			return nil
		}

		return fmt.Errorf("%s: %w", errCtx, apiError(resp, err))
	}

	slog.Info("fork created", "repo", c.owner+"/"+c.repo)

	return nil
}

// FindOpenPullRequest returns the first open pull request
// on the central repository whose head is head
// ("owner:branch"), or nil.
func (c *Client) FindOpenPullRequest(
	ctx context.Context,
	head string,
) (*PullRequest, error) {
	const errCtx = "searching pull requests"

	prs, resp, err := c.client.PullRequests.List(
		ctx, c.owner, c.repo,
		&gh.PullRequestListOptions{
			State: "open",
			Head:  head,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, apiError(resp, err))
	}

	if len(prs) == 0 {
		return nil, nil
	}

	return &PullRequest{
		Number:  prs[0].GetNumber(),
		HTMLURL: prs[0].GetHTMLURL(),
	}, nil
}

// CreatePullRequest opens a pull request from head into
// base on the central repository.
func (c *Client) CreatePullRequest(
	ctx context.Context,
	head string,
	base string,
	title string,
	body string,
) (*PullRequest, error) {
	const errCtx = "creating pull request"

	created, resp, err := c.client.PullRequests.Create(
		ctx, c.owner, c.repo,
		&gh.NewPullRequest{
			Title: &title,
			Head:  &head,
			Base:  &base,
			Body:  &body,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, apiError(resp, err))
	}

	slog.Info(
		"created pull request",
		"url", created.GetHTMLURL(),
	)

	return &PullRequest{
		Number:  created.GetNumber(),
		HTMLURL: created.GetHTMLURL(),
	}, nil
}

// Verifier checks tokens against the "who am I" endpoint.
// The zero AccessToken in its Config is replaced by each
// verified token.
type Verifier struct {
	Config Config
}

// Verify returns the login owning token.
func (v Verifier) Verify(
	ctx context.Context,
	token string,
) (string, error) {
	cfg := v.Config
	cfg.AccessToken = token

	c, err := NewClient(cfg)
	if err != nil {
		return "", err
	}

	u, err := c.CurrentUser(ctx)
	if err != nil {
		return "", err
	}

	return u.Login, nil
}

func toRepository(r *gh.Repository) *Repository {
	return &Repository{
		Owner:    r.GetOwner().GetLogin(),
		Name:     r.GetName(),
		FullName: r.GetFullName(),
		CloneURL: r.GetCloneURL(),
		HTMLURL:  r.GetHTMLURL(),
		Fork:     r.GetFork(),
	}
}

// apiError converts go-github failures carrying an HTTP
// status into *APIError. Transport errors pass through.
func apiError(resp *gh.Response, err error) error {
	var er *gh.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		return &APIError{
			Status:  er.Response.StatusCode,
			Message: er.Message,
			Err:     err,
		}
	}

	if resp != nil && resp.Response != nil &&
		resp.StatusCode >= http.StatusBadRequest {
		return &APIError{
			Status:  resp.StatusCode,
			Message: http.StatusText(resp.StatusCode),
			Err:     err,
		}
	}

	return err
}

// Status returns the HTTP status carried by err, or 0.
func Status(err error) int {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Status
	}

	return 0
}
