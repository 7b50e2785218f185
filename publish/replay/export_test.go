package replay

// IsNothingToCommitForTest exposes isNothingToCommit.
var IsNothingToCommitForTest = isNothingToCommit

// ClearDirForTest exposes clearDir.
var ClearDirForTest = clearDir
