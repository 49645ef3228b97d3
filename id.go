package redrive

import "github.com/oklog/ulid/v2"

// IDGenerator provides dead-letter envelope IDs.
type IDGenerator interface {
	NewID() string
}

// ULIDGenerator generates time-ordered ULIDs.
type ULIDGenerator struct{}

func (ULIDGenerator) NewID() string {
	return ulid.Make().String()
}
