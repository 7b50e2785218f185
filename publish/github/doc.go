// Package github is a typed client for the slice of the GitHub REST API the
// publisher needs: current-user lookup, fork probe and creation, and pull
// request search and creation against the central repository. Responses are
// decoded into small local types and failures into *APIError, so callers
// branch on status codes rather than on error text.
package github
