//go:build windows

package db

import (
	"golang.org/x/sys/windows"
)

// tryLock takes the ledger lock without blocking. Windows has no flock;
// LockFileEx over a single byte of the lock file is the equivalent, with
// LOCKFILE_FAIL_IMMEDIATELY standing in for LOCK_NB.
func (l *writeLocker) tryLock() error {
	ol := new(windows.Overlapped)
	return windows.LockFileEx(
		windows.Handle(l.lockFile.Fd()),
		windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY,
		0,
		1,
		0,
		ol,
	)
}

func (l *writeLocker) unlock() {
	if l.lockFile != nil {
		ol := new(windows.Overlapped)
		windows.UnlockFileEx(windows.Handle(l.lockFile.Fd()), 0, 1, 0, ol)
	}
}

// isProcessAlive reports whether the pid recorded in the lock file still
// refers to a running process. Used only for the stale-holder diagnostic.
func isProcessAlive(pid int) bool {
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(handle)

	var exitCode uint32
	if err := windows.GetExitCodeProcess(handle, &exitCode); err != nil {
		return false
	}
	// STILL_ACTIVE
	return exitCode == 259
}
