// Package scaffold creates a new plugin project from built-in templates.
package scaffold
