package share

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
)

// Transfer is an open download of a share. It is the completion hook
// between the registry and the transport: the transport reads the payload
// from it and calls Finish when delivery ends, successfully or not.
type Transfer struct {
	Resolution

	registry *Registry
	body     io.ReadCloser
	started  atomic.Bool

	once   sync.Once
	result *Retirement
	err    error
}

func newTransfer(r *Registry, res Resolution, body io.ReadCloser) *Transfer {
	return &Transfer{Resolution: res, registry: r, body: body}
}

// Read reads payload bytes. The transfer counts as started once any byte
// has been read.
func (t *Transfer) Read(p []byte) (int, error) {
	n, err := t.body.Read(p)
	if n > 0 {
		t.started.Store(true)
	}
	return n, err
}

// Started reports whether any payload bytes have been handed out.
func (t *Transfer) Started() bool {
	return t.started.Load()
}

// Finish closes the payload and runs the retirement protocol. streamErr is
// the error the transport hit while delivering, or nil if delivery completed.
//
// A completed delivery always counts. A failed delivery counts only if bytes
// were already streamed and the registry counts aborted transfers; a failure
// before the first byte never mutates the record. Only the first call has
// any effect; later calls return the first result.
func (t *Transfer) Finish(ctx context.Context, streamErr error) (*Retirement, error) {
	t.once.Do(func() {
		if err := t.body.Close(); err != nil {
			t.registry.logger.Warn("closing payload failed", "code", t.Code, "error", err)
		}
		counted := streamErr == nil || (t.Started() && t.registry.opts.CountAborted)
		if streamErr != nil {
			t.registry.logger.Info("transfer interrupted", "code", t.Code, "started", t.Started(), "counted", counted, "error", streamErr)
		}
		t.result, t.err = t.registry.finishTransfer(ctx, t.Code, counted)
	})
	return t.result, t.err
}
