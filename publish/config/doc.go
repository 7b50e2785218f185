// Package config loads publisher settings from built-in defaults, an optional
// YAML file and ZTOOLS_* environment variables, in increasing precedence.
package config
