// Package exec runs external commands (mostly git) without a shell and reports
// failures as *CommandError values carrying the command line, exit code and
// captured diagnostic output. Credentials embedded in URL arguments are
// redacted before anything is logged.
package exec
