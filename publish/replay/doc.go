// Package replay re-creates a plugin's source history inside the plugin
// subtree of the sparse clone.
//
// For each commit, oldest first, Run clears plugins/<name>, exports the
// commit's snapshot into it, stages the subtree and commits it with the
// original author and author date. Commits that leave the subtree unchanged
// are skipped. Any other failure aborts the replay with an *Error naming the
// offending commit; commits already replayed stay in the local branch.
package replay
