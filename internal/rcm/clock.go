package rcm

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so business logic is deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// ArchiveNamer mints opaque archive names for freshly staged files.
type ArchiveNamer interface {
	New() string
}

// UUIDNamer produces random UUID-based archive names. The ".zip" extension
// records that the stored container is a single-member ZIP.
type UUIDNamer struct{}

func (UUIDNamer) New() string { return uuid.New().String() + ".zip" }
