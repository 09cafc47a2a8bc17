package catalog

import (
	"os"
	"strconv"
	"testing"
)

func TestBackupLockExclusive(t *testing.T) {
	dir := t.TempDir()

	l1 := NewBackupLock(dir)
	ok, err := l1.Acquire()
	if err != nil || !ok {
		t.Fatalf("first acquire failed: ok=%v err=%v", ok, err)
	}
	defer func() { _ = l1.Release() }()

	l2 := NewBackupLock(dir)
	ok, err = l2.Acquire()
	if err != nil {
		t.Fatalf("second acquire error: %v", err)
	}
	if ok {
		t.Fatalf("lock should still be held by l1")
	}
}

func TestReclaimStaleDeadPID(t *testing.T) {
	dir := t.TempDir()
	l := NewBackupLock(dir)

	// A PID vanishingly unlikely to be alive in any test environment,
	// simulating a crashed prior holder.
	if err := os.WriteFile(l.path, []byte(strconv.Itoa(1<<30)), 0o644); err != nil {
		t.Fatalf("seed stale pid file: %v", err)
	}

	if !l.reclaimStale() {
		t.Fatalf("expected dead pid to be reclaimed")
	}
	if _, err := os.Stat(l.path); !os.IsNotExist(err) {
		t.Fatalf("stale pid file should have been removed")
	}
}

func TestReclaimStaleLivePID(t *testing.T) {
	dir := t.TempDir()
	l := NewBackupLock(dir)

	if err := os.WriteFile(l.path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		t.Fatalf("seed live pid file: %v", err)
	}

	if l.reclaimStale() {
		t.Fatalf("own pid is alive, must not be reclaimed")
	}
}
