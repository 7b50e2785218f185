// Package cli is the ztools command line: "create <project-name>" scaffolds a
// plugin project and "publish" replays the project history into the central
// plugin repository and opens or refreshes its pull request.
package cli
