// Package manifest reads the plugin descriptor at the root of a plugin
// project.
package manifest
