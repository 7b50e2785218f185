package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/byte4ever/plugin_publish/publish/exec"
	"github.com/byte4ever/plugin_publish/publish/wait"
)

const (
	// DefaultInterval is used when the device code response
	// carries no polling interval.
	DefaultInterval = 10 * time.Second

	// SlowDownStep is added to the polling interval on each
	// slow_down answer.
	SlowDownStep = 5 * time.Second

	deviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"
)

// ErrExpiredToken is returned when the device code expires
// before the user approves it.
var ErrExpiredToken = errors.New("device code expired")

// Error is a failed authentication attempt.
type Error struct {
	// Code is the OAuth error code, if the server sent one.
	Code string
	// Description is the server description or a local
	// summary of the failure.
	Description string
	Err         error
}

// Error implements error.
func (e *Error) Error() string {
	var sb strings.Builder

	sb.WriteString("authentication failed")

	if e.Code != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Code)
	}

	if e.Description != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Description)
	}

	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}

	return sb.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Verifier checks that a token is usable and returns the
// login it belongs to.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// VerifierFunc adapts a plain function to Verifier.
type VerifierFunc func(ctx context.Context, token string) (string, error)

// Verify implements Verifier.
func (f VerifierFunc) Verify(
	ctx context.Context,
	token string,
) (string, error) {
	return f(ctx, token)
}

// Config holds the settings for a Manager.
type Config struct {
	ClientID string
	Scopes   []string
	// Endpoint defaults to GitHub's device and token URLs.
	Endpoint oauth2.Endpoint
	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
	// Out receives the user code prompt. Defaults to
	// os.Stdout.
	Out io.Writer
	// OpenBrowser defaults to the platform opener. Errors
	// are not fatal.
	OpenBrowser func(ctx context.Context, url string) error
	// Sleep waits between polls. Defaults to a timer that
	// honours ctx.
	Sleep    func(ctx context.Context, d time.Duration) error
	Store    Store
	Verifier Verifier
}

// Manager runs the device flow and owns the token store.
type Manager struct {
	oauth       *oauth2.Config
	httpClient  *http.Client
	out         io.Writer
	openBrowser func(ctx context.Context, url string) error
	sleep       func(ctx context.Context, d time.Duration) error
	store       Store
	verifier    Verifier
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	const errCtx = "creating auth manager"

	if cfg.ClientID == "" {
		return nil, fmt.Errorf("%s: client id must be set", errCtx)
	}

	if cfg.Store == nil {
		return nil, fmt.Errorf("%s: store must be set", errCtx)
	}

	if cfg.Verifier == nil {
		return nil, fmt.Errorf("%s: verifier must be set", errCtx)
	}

	if cfg.Endpoint.DeviceAuthURL == "" {
		cfg.Endpoint = endpoints.GitHub
	}

	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}

	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}

	if cfg.OpenBrowser == nil {
		cfg.OpenBrowser = OpenBrowser
	}

	if cfg.Sleep == nil {
		cfg.Sleep = wait.Sleep
	}

	return &Manager{
		oauth: &oauth2.Config{
			ClientID: cfg.ClientID,
			Scopes:   cfg.Scopes,
			Endpoint: cfg.Endpoint,
		},
		httpClient:  cfg.HTTPClient,
		out:         cfg.Out,
		openBrowser: cfg.OpenBrowser,
		sleep:       cfg.Sleep,
		store:       cfg.Store,
		verifier:    cfg.Verifier,
	}, nil
}

// EnsureToken returns a verified token, reusing the stored
// one when it still works and running the device flow
// otherwise. A stored token that fails verification is
// cleared. New tokens are saved.
func (m *Manager) EnsureToken(ctx context.Context) (*Token, error) {
	const errCtx = "ensuring token"

	tok, err := m.store.Load()
	if err != nil {
		slog.Warn("ignoring unreadable token store", "err", err)

		tok = nil
	}

	if tok != nil {
		login, err := m.verifier.Verify(ctx, tok.AccessToken)
		if err == nil {
			slog.Info("using stored token", "login", login)

			return tok, nil
		}

		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", errCtx, ctx.Err())
		}

		slog.Warn("stored token rejected", "err", err)

		if err := m.store.Clear(); err != nil {
			return nil, fmt.Errorf("%s: %w", errCtx, err)
		}
	}

	tok, err = m.Login(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	if err := m.store.Save(tok); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return tok, nil
}

// Login runs the device flow unconditionally and returns a
// verified token. The token is not saved.
func (m *Manager) Login(ctx context.Context) (*Token, error) {
	da, err := m.oauth.DeviceAuth(
		context.WithValue(ctx, oauth2.HTTPClient, m.httpClient),
	)
	if err != nil {
		return nil, &Error{
			Description: "requesting device code",
			Err:         err,
		}
	}

	if da.DeviceCode == "" {
		return nil, &Error{
			Description: "no device code in response",
		}
	}

	interval := time.Duration(da.Interval) * time.Second
	if interval <= 0 {
		interval = DefaultInterval
	}

	m.prompt(ctx, da)

	return m.poll(ctx, da.DeviceCode, interval)
}

func (m *Manager) prompt(ctx context.Context, da *oauth2.DeviceAuthResponse) {
	fmt.Fprintf(m.out, "Enter this code in your browser:\n\n    %s\n\n", da.UserCode)
	fmt.Fprintf(m.out, "Verification URL: %s\n", da.VerificationURI)

	if err := m.openBrowser(ctx, da.VerificationURI); err != nil {
		slog.Warn("could not open browser", "err", err)
		fmt.Fprintf(m.out, "Open the URL above manually.\n")
	}

	fmt.Fprintf(m.out, "Waiting for authorization...\n")
}

// outcome is the closed set of token poll results.
type outcome int

const (
	outcomeEmpty outcome = iota
	outcomeToken
	outcomePending
	outcomeSlowDown
	outcomeExpired
	outcomeRejected
)

type pollResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	Scope            string `json:"scope"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (r *pollResponse) outcome() outcome {
	switch {
	case r.AccessToken != "":
		return outcomeToken
	case r.Error == "":
		return outcomeEmpty
	case r.Error == "authorization_pending":
		return outcomePending
	case r.Error == "slow_down":
		return outcomeSlowDown
	case r.Error == "expired_token":
		return outcomeExpired
	default:
		return outcomeRejected
	}
}

func (m *Manager) poll(
	ctx context.Context,
	deviceCode string,
	interval time.Duration,
) (*Token, error) {
	for {
		if err := m.sleep(ctx, interval); err != nil {
			return nil, err
		}

		res, err := m.requestToken(ctx, deviceCode)
		if err != nil {
			return nil, &Error{
				Description: "polling token endpoint",
				Err:         err,
			}
		}

		switch res.outcome() {
		case outcomeToken:
			return m.accept(ctx, res)
		case outcomePending, outcomeEmpty:
			slog.Debug("authorization pending")
		case outcomeSlowDown:
			interval += SlowDownStep

			slog.Debug("slowing down", "interval", interval)
		case outcomeExpired:
			return nil, &Error{
				Code:        res.Error,
				Description: res.ErrorDescription,
				Err:         ErrExpiredToken,
			}
		case outcomeRejected:
			return nil, &Error{
				Code:        res.Error,
				Description: res.ErrorDescription,
			}
		}
	}
}

func (m *Manager) accept(
	ctx context.Context,
	res *pollResponse,
) (*Token, error) {
	tok := &Token{
		AccessToken: res.AccessToken,
		TokenType:   res.TokenType,
		Scope:       res.Scope,
		CreatedAt:   time.Now(),
	}

	login, err := m.verifier.Verify(ctx, tok.AccessToken)
	if err != nil {
		return nil, &Error{
			Description: "verifying new token",
			Err:         err,
		}
	}

	fmt.Fprintf(m.out, "Authenticated as %s\n", login)

	return tok, nil
}

func (m *Manager) requestToken(
	ctx context.Context,
	deviceCode string,
) (*pollResponse, error) {
	form := url.Values{
		"client_id":   {m.oauth.ClientID},
		"device_code": {deviceCode},
		"grant_type":  {deviceGrantType},
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		m.oauth.Endpoint.TokenURL,
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	var res pollResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf(
			"decoding token response (status %d): %w",
			resp.StatusCode, err,
		)
	}

	return &res, nil
}

// OpenBrowser opens target with the platform's default
// handler.
func OpenBrowser(ctx context.Context, target string) error {
	var err error

	switch runtime.GOOS {
	case "darwin":
		_, err = exec.Ex(ctx, "", "open", target)
	case "windows":
		_, err = exec.Ex(ctx, "", "rundll32", "url.dll,FileProtocolHandler", target)
	default:
		_, err = exec.Ex(ctx, "", "xdg-open", target)
	}

	return err
}
