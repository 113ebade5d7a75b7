package share

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

// CodeGenerator abstracts access code generation so tests are deterministic.
type CodeGenerator interface {
	New() string
}

// UUIDGenerator produces random version 4 UUIDs (122 random bits).
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }
