package catalog

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/gofrs/flock"
)

// BackupLock is the exclusive per-backup PID lock at
// <backup-dir>/backup.pid. Unlike a plain flock, it tolerates a
// lingering lock file left behind by a process that crashed without
// releasing it: Acquire probes the recorded PID with signal 0 and
// reclaims the file if that process is gone.
type BackupLock struct {
	fl   *flock.Flock
	path string
}

// NewBackupLock returns the lock for one backup directory.
func NewBackupLock(backupDir string) *BackupLock {
	path := backupDir + "/backup.pid"
	return &BackupLock{fl: flock.New(path), path: path}
}

// Acquire takes the exclusive lock, reclaiming a stale PID file from a
// dead process first. It returns false (without error) if the lock is
// genuinely held by a live process.
func (l *BackupLock) Acquire() (bool, error) {
	ok, err := l.fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("catalog: lock %s: %w", l.path, err)
	}
	if !ok {
		if l.reclaimStale() {
			ok, err = l.fl.TryLock()
			if err != nil {
				return false, fmt.Errorf("catalog: lock %s: %w", l.path, err)
			}
		}
	}
	if !ok {
		return false, nil
	}
	if err := l.writePID(); err != nil {
		_ = l.fl.Unlock()
		return false, err
	}
	return true, nil
}

// Release unlocks and removes the PID file.
func (l *BackupLock) Release() error {
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("catalog: unlock %s: %w", l.path, err)
	}
	_ = os.Remove(l.path)
	return nil
}

func (l *BackupLock) writePID() error {
	pid := strconv.Itoa(os.Getpid())
	return os.WriteFile(l.path, []byte(pid), 0o644)
}

// reclaimStale reports whether the existing PID file named a process
// that is no longer alive, and if so removes it so a subsequent
// TryLock can succeed.
func (l *BackupLock) reclaimStale() bool {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return false
	}
	if err := syscall.Kill(pid, 0); err == nil {
		return false // process is alive
	} else if err != syscall.ESRCH {
		return false // EPERM or other: assume live, be conservative
	}
	slog.Warn("catalog: reclaiming stale backup lock", "path", l.path, "pid", pid)
	return os.Remove(l.path) == nil
}
