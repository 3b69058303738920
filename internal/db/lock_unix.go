//go:build unix

package db

import (
	"os"
	"syscall"
)

// tryLock takes the ledger lock without blocking. A non-nil error means
// another playbill process holds it.
func (l *writeLocker) tryLock() error {
	return syscall.Flock(int(l.lockFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
}

func (l *writeLocker) unlock() {
	if l.lockFile != nil {
		syscall.Flock(int(l.lockFile.Fd()), syscall.LOCK_UN)
	}
}

// isProcessAlive reports whether the pid recorded in the lock file still
// refers to a running process. Used only for the stale-holder diagnostic.
func isProcessAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// FindProcess always succeeds on Unix; signal 0 does the real check.
	return process.Signal(syscall.Signal(0)) == nil
}
