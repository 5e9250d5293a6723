package storage

import (
	"os"
	"sync"
	"syscall"
)

// FileLock serialises writers of one document across goroutines (mutex) and
// processes sharing the data directory (flock on <path>.lock).
type FileLock struct {
	path string
	file *os.File
	mu   sync.Mutex
}

// NewFileLock creates a new file lock.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// Lock acquires an exclusive lock on the file.
func (l *FileLock) Lock() error {
	l.mu.Lock()

	var err error
	l.file, err = os.OpenFile(l.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		l.mu.Unlock()
		return err
	}

	// Use flock for exclusive lock
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_EX); err != nil {
		l.file.Close()
		l.mu.Unlock()
		return err
	}

	return nil
}

// Unlock releases the lock.
func (l *FileLock) Unlock() error {
	if l.file == nil {
		return nil
	}

	// The lock file is left in place: removing it would let a waiter and a
	// new locker hold flocks on different inodes.
	syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	l.file.Close()

	l.file = nil
	l.mu.Unlock()

	return nil
}
