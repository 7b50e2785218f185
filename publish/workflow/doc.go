// Package workflow wires the publish steps together. Run reads the plugin
// manifest, authenticates, makes sure the user's fork exists, reads the
// project history, replays it into a sparse clone of the fork on branch
// plugin/<name>, then pushes and reconciles the pull request.
//
// The main entry point is Run, which accepts a Config struct with all
// parameters for the workflow.
package workflow
