package share

import (
	"context"
	"time"
)

// Store is the durable mapping from code to share record.
//
// Implementations must make every method atomic with respect to the others:
// readers never observe a partially written record, and Update is a
// read-modify-write that cannot interleave with another Update of the same code.
// A write that returns an error must leave the previously committed state intact.
type Store interface {
	// Insert persists a new record. It returns ErrCodeTaken if any record,
	// live or deleted, already uses rec.Code.
	Insert(ctx context.Context, rec *Record) error

	// Get returns a copy of the live record for code, or ErrNotFound if the
	// code is unknown or deleted.
	Get(ctx context.Context, code string) (*Record, error)

	// Update loads the live record for code, applies fn to a copy, and
	// persists the result. Setting Deleted in fn tombstones the record.
	// If fn returns an error nothing is written and that error is returned.
	// Returns ErrNotFound if the code is unknown or deleted.
	Update(ctx context.Context, code string, fn func(rec *Record) error) (*Record, error)

	// List returns copies of all live records ordered by creation time.
	List(ctx context.Context) ([]*Record, error)

	// Close releases the store's resources.
	Close() error
}

// Event kinds recorded by an Auditor.
const (
	EventCreated    = "created"
	EventDownloaded = "downloaded"
	EventRetired    = "retired"
	EventDeleted    = "deleted"
	EventDenied     = "denied"
	EventRejected   = "rejected"
)

// Event is one entry of the share audit trail.
type Event struct {
	ID     int64
	Code   string
	Kind   string
	Detail string
	At     time.Time
}

// Auditor is implemented by stores that keep an audit trail. The registry
// records events only when its store implements this interface.
type Auditor interface {
	RecordEvent(ctx context.Context, ev *Event) error
	ListEvents(ctx context.Context, limit int) ([]*Event, error)
}
