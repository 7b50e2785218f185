package exec

// RedactForTest exposes redact.
var RedactForTest = redact
