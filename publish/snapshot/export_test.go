package snapshot

// ExtractForTest exposes extract.
var ExtractForTest = extract

// MoveEntriesForTest exposes moveEntries.
var MoveEntriesForTest = moveEntries
