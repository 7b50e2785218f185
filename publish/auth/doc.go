// Package auth obtains a GitHub access token through the OAuth 2.0 Device
// Authorization Grant and keeps it in a small JSON store.
//
// Manager.EnsureToken reuses a stored token when it still verifies, and
// otherwise clears it and runs the device flow: request a user code, show it,
// try to open a browser, then poll the token endpoint until the user approves,
// the code expires, or the server rejects the request.
package auth
