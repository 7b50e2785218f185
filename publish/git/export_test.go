package git

// AuthURLForTest exposes authURL.
var AuthURLForTest = authURL
