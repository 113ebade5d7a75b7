package registry

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/afero"
)

// fileLock serializes access to the registry file between processes, so a
// CLI invocation and a running server never commit over each other.
type fileLock interface {
	lock(exclusive bool) error
	unlock() error
	close() error
}

// newFileLock returns an flock(2) lock on lockPath when the registry lives
// on the OS filesystem. Other afero filesystems are private to the process
// and need nothing beyond the store mutex.
func newFileLock(fsys afero.Fs, lockPath string) (fileLock, error) {
	if _, ok := fsys.(*afero.OsFs); !ok {
		return noLock{}, nil
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		return nil, fmt.Errorf("opening registry lock %s: %w", lockPath, err)
	}
	return &flock{f: f}, nil
}

type flock struct {
	f *os.File
}

func (l *flock) lock(exclusive bool) error {
	how := syscall.LOCK_SH
	if exclusive {
		how = syscall.LOCK_EX
	}
	if err := syscall.Flock(int(l.f.Fd()), how); err != nil {
		return fmt.Errorf("locking registry: %w", err)
	}
	return nil
}

func (l *flock) unlock() error {
	return syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
}

func (l *flock) close() error {
	return l.f.Close()
}

type noLock struct{}

func (noLock) lock(bool) error { return nil }
func (noLock) unlock() error   { return nil }
func (noLock) close() error    { return nil }
