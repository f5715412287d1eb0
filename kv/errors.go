package kv

import "errors"

// ErrVersionMismatch is returned by Atomic when a Check fails because the
// key's current version differs from ExpectVersion, or ExpectAbsent was
// set but the key exists (or vice versa). The write coordinator classifies
// this as a concurrent-modification error.
var ErrVersionMismatch = errors.New("kv: version check failed")
