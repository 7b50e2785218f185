// Package git manages the local sparse clone of the central plugin repository.
//
// Clone performs a destructive refresh: any previous clone is removed, the
// fork is cloned without checkout and without blobs, and sparse-checkout is
// initialised in non-cone mode with no paths, so nothing is materialized until
// EnsureBranch adds the plugins/<name> pattern and switches to the
// plugin/<name> branch.
//
// Repo also carries the staging, commit and push primitives used by the
// replay and publisher packages.
package git
