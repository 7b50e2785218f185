package history

// ParseLogForTest exposes parseLog.
var ParseLogForTest = parseLog

// HasCommitsForTest exposes hasCommits.
var HasCommitsForTest = hasCommits
