package catalog

import "testing"

func TestLayoutPaths(t *testing.T) {
	l := NewLayout("/var/backups", "maindb")

	if got, want := l.BackupDir("a1"), "/var/backups/backups/maindb/a1"; got != want {
		t.Errorf("BackupDir = %q, want %q", got, want)
	}
	if got, want := l.DatabaseDir("a1"), "/var/backups/backups/maindb/a1/database"; got != want {
		t.Errorf("DatabaseDir = %q, want %q", got, want)
	}
	if got, want := l.ExternalDir("a1", 2), "/var/backups/backups/maindb/a1/external_directories/externaldir2"; got != want {
		t.Errorf("ExternalDir = %q, want %q", got, want)
	}
	if got, want := l.PIDFile("a1"), "/var/backups/backups/maindb/a1/backup.pid"; got != want {
		t.Errorf("PIDFile = %q, want %q", got, want)
	}
}
