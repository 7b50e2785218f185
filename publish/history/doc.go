// Package history reads the linear commit history of a local repository as an
// ordered list of commit descriptors, oldest first. Reading never fails hard:
// a directory that is not a repository, or a repository with no commits,
// yields an empty history because replaying nothing is a valid outcome.
package history
