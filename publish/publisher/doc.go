// Package publisher pushes a replayed plugin branch to the user's fork and
// reconciles exactly one open pull request for it on the central repository.
//
// The platform is reached through the API interface, satisfied by
// *github.Client, so the fork wait and pull request reuse rules can be
// exercised without a network.
package publisher
