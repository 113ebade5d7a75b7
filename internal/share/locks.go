package share

import "sync"

// codeLocks hands out one mutex per code. Entries are dropped once no
// goroutine holds or waits for them.
type codeLocks struct {
	mu    sync.Mutex
	locks map[string]*codeLock
}

type codeLock struct {
	sync.Mutex
	refs int
}

func newCodeLocks() *codeLocks {
	return &codeLocks{locks: make(map[string]*codeLock)}
}

// lock acquires the mutex for code and returns the function that releases it.
func (l *codeLocks) lock(code string) func() {
	l.mu.Lock()
	cl, ok := l.locks[code]
	if !ok {
		cl = &codeLock{}
		l.locks[code] = cl
	}
	cl.refs++
	l.mu.Unlock()

	cl.Lock()
	return func() {
		cl.Unlock()
		l.mu.Lock()
		cl.refs--
		if cl.refs == 0 {
			delete(l.locks, code)
		}
		l.mu.Unlock()
	}
}
