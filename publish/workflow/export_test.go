package workflow

// IdentityForTest exposes identity.
var IdentityForTest = identity

// CloneURLForTest exposes cloneURL.
var CloneURLForTest = cloneURL
