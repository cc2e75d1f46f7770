// Package uuid wraps github.com/google/uuid the way the teacher's
// pkg/util/uuid wraps its own vendored UUID implementation, so callers
// depend on a stable local type rather than the third-party package
// directly.
package uuid

import "github.com/google/uuid"

// UUID is a 128-bit universally unique identifier.
type UUID = uuid.UUID

// Nil is the zero-value UUID.
var Nil = uuid.Nil

// MakeV4 returns a new random UUID. No server path calls it; a
// transaction's DebugID is whatever the client supplied.
func MakeV4() UUID {
	return uuid.New()
}

// FromBytes parses a 16-byte slice into a UUID.
func FromBytes(b []byte) (UUID, error) {
	return uuid.FromBytes(b)
}
