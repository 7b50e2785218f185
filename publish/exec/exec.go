package exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	oe "os/exec"
	"strings"
)

// CommandError reports a command that could not be
// started or exited with a non-zero status.
type CommandError struct {
	// Name is the executable name.
	Name string
	// Args are the command arguments, with URL
	// credentials redacted.
	Args []string
	// Dir is the working directory of the command.
	Dir string
	// ExitCode is the process exit status, or -1 when
	// the process did not run to completion.
	ExitCode int
	// Stdout is the captured standard output.
	Stdout string
	// Stderr is the captured standard error.
	Stderr string
	// Err is the underlying error.
	Err error
}

// Error implements error.
func (e *CommandError) Error() string {
	msg := fmt.Sprintf(
		"%s %s: exit %d",
		e.Name, strings.Join(e.Args, " "), e.ExitCode,
	)

	if diag := e.Diagnostic(); diag != "" {
		msg += ": " + diag
	}

	return msg
}

// Unwrap returns the underlying error.
func (e *CommandError) Unwrap() error {
	return e.Err
}

// Diagnostic returns the captured stderr, falling back to
// stdout and then to the underlying error text.
func (e *CommandError) Diagnostic() string {
	if s := strings.TrimSpace(e.Stderr); s != "" {
		return s
	}

	if s := strings.TrimSpace(e.Stdout); s != "" {
		return s
	}

	if e.Err != nil {
		return e.Err.Error()
	}

	return ""
}

// Ex executes the named command in the given directory and
// returns its standard output. Pass empty dir to use the
// current working directory. A failed command yields a
// *CommandError.
func Ex(
	ctx context.Context,
	dir string,
	name string,
	arg ...string,
) (string, error) {
	safeArgs := redactArgs(arg)

	slog.Info(
		"executing",
		"cmd", name,
		"args", strings.Join(safeArgs, " "),
		"dir", dir,
	)

	//nolint:gosec // callers pass fixed executables
	cmd := oe.CommandContext(ctx, name, arg...)
	if dir != "" {
		cmd.Dir = dir
	}

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	slog.Debug(
		"output",
		"stdout", stdout.String(),
		"stderr", stderr.String(),
	)

	if err != nil {
		code := -1

		var exitErr *oe.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}

		return stdout.String(), &CommandError{
			Name:     name,
			Args:     safeArgs,
			Dir:      dir,
			ExitCode: code,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Err:      err,
		}
	}

	return stdout.String(), nil
}

// ExitCode returns the exit status carried by a
// *CommandError in err's chain, or -1.
func ExitCode(err error) int {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.ExitCode
	}

	return -1
}

// redactArgs hides user info in URL arguments so tokens
// never reach the logs or error messages.
func redactArgs(args []string) []string {
	out := make([]string, len(args))

	for i, a := range args {
		out[i] = redact(a)
	}

	return out
}

func redact(arg string) string {
	if !strings.Contains(arg, "://") {
		return arg
	}

	u, err := url.Parse(arg)
	if err != nil || u.User == nil {
		return arg
	}

	return u.Redacted()
}
