package testutil

import (
	"fmt"
	"sync"
	"time"
)

// StubClock returns a fixed time. Safe for concurrent use.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewStubClock creates a StubClock set to the given time.
func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t}
}

// FixedClock returns a StubClock set to 2024-01-15 10:30:00 UTC.
func FixedClock() *StubClock {
	return NewStubClock(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC))
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// StubCodeGenerator returns sequential codes: "code-1", "code-2", etc.
// Codes queued with Queue are returned first, which lets tests force a collision.
type StubCodeGenerator struct {
	mu      sync.Mutex
	counter int
	queued  []string
}

func NewStubCodeGenerator() *StubCodeGenerator {
	return &StubCodeGenerator{}
}

// Queue makes the next calls to New return codes in order.
func (g *StubCodeGenerator) Queue(codes ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queued = append(g.queued, codes...)
}

func (g *StubCodeGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.queued) > 0 {
		code := g.queued[0]
		g.queued = g.queued[1:]
		return code
	}
	g.counter++
	return fmt.Sprintf("code-%d", g.counter)
}
