package services

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// instanceLock enforces a single running gateway per instance directory.
// The lock file holds the owning pid; a file left behind by a dead process
// is treated as stale and reclaimed.
type instanceLock struct {
	path string
}

// acquireLock claims the lock file, reclaiming it when the recorded owner
// is no longer alive.
func acquireLock(path string) (*instanceLock, error) {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(path)
				return nil, errors.Join(werr, cerr)
			}
			return &instanceLock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("creating lock file: %w", err)
		}

		pid, perr := lockOwner(path)
		if perr == nil && processAlive(pid) {
			return nil, fmt.Errorf("instance already running (pid %d, lock %s)", pid, path)
		}
		// Stale lock from a dead process; remove and retry once.
		if rerr := os.Remove(path); rerr != nil && !os.IsNotExist(rerr) {
			return nil, fmt.Errorf("removing stale lock file: %w", rerr)
		}
	}
	return nil, fmt.Errorf("acquiring lock file %s", path)
}

func lockOwner(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// processAlive reports whether a pid refers to a live process. Signal 0
// performs the existence check without delivering anything.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

// Release drops the lock file.
func (l *instanceLock) Release() {
	_ = os.Remove(l.path)
}
