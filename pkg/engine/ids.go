package engine

import (
	"github.com/oklog/ulid/v2"
)

// IDGenerator produces unique, lexicographically sortable identifiers.
type IDGenerator interface {
	NewID() string
}

// ULIDGenerator generates ULIDs with the library's monotonic default entropy.
type ULIDGenerator struct{}

// NewID returns a fresh ULID string.
func (ULIDGenerator) NewID() string {
	return ulid.Make().String()
}

// IsULID reports whether s parses as a ULID.
func IsULID(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
