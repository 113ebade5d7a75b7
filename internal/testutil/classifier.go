package testutil

import (
	"context"
	"io"
	"strings"
	"sync"

	"share-go/internal/share"
)

// StubClassifier flags payloads whose content contains a marker string.
// Setting Err makes every call fail as an unavailable classifier would.
type StubClassifier struct {
	Marker string
	Threat string
	Err    error

	mu    sync.Mutex
	calls int
}

var _ share.Classifier = (*StubClassifier)(nil)

func NewStubClassifier(marker, threat string) *StubClassifier {
	return &StubClassifier{Marker: marker, Threat: threat}
}

func (c *StubClassifier) Classify(ctx context.Context, name string, r io.Reader) (share.Classification, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()

	if c.Err != nil {
		return share.Classification{}, c.Err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return share.Classification{}, err
	}
	if c.Marker != "" && strings.Contains(string(data), c.Marker) {
		return share.Classification{Malicious: true, Threat: c.Threat}, nil
	}
	return share.Classification{}, nil
}

// Calls returns how many payloads were classified.
func (c *StubClassifier) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}
