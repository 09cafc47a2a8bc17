package catalog

import (
	"testing"
	"time"
)

func TestControlRoundTrip(t *testing.T) {
	dir := t.TempDir()

	b := NewBackup(ModePage, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), "abc123")
	b.Status = StatusOK
	b.Timeline = 1
	b.StartLSN = 0x1_00000028
	b.StopLSN = 0x1_00000100
	b.CompressAlg = "zlib"
	b.CompressLevel = 6
	b.BlockSize = 8192
	b.WALBlockSize = 8192
	b.ChecksumOn = true
	b.DataBytes = 12345
	b.WALBytes = BytesInvalid
	b.PrimaryConn = "host=primary"

	if err := WriteControl(dir, b); err != nil {
		t.Fatalf("WriteControl: %v", err)
	}

	got, err := ReadControl(dir)
	if err != nil {
		t.Fatalf("ReadControl: %v", err)
	}

	if got.Mode != b.Mode || got.Status != b.Status || got.Timeline != b.Timeline {
		t.Fatalf("mode/status/timeline mismatch: %+v", got)
	}
	if got.StartLSN != b.StartLSN || got.StopLSN != b.StopLSN {
		t.Fatalf("lsn mismatch: got start=%x stop=%x", got.StartLSN, got.StopLSN)
	}
	if got.CompressAlg != b.CompressAlg || got.CompressLevel != b.CompressLevel {
		t.Fatalf("compress mismatch: %+v", got)
	}
	if got.DataBytes != b.DataBytes {
		t.Fatalf("data-bytes mismatch: got %d want %d", got.DataBytes, b.DataBytes)
	}
	if got.WALBytes != BytesInvalid {
		t.Fatalf("wal-bytes should stay invalid, got %d", got.WALBytes)
	}
	if got.ParentID != "abc123" {
		t.Fatalf("parent id mismatch: %q", got.ParentID)
	}
	if !got.StartTime.Equal(b.StartTime) {
		t.Fatalf("start time mismatch: got %v want %v", got.StartTime, b.StartTime)
	}
}

func TestControlFullBackupHasNoParent(t *testing.T) {
	b := NewBackup(ModeFull, time.Now(), "should-be-ignored")
	if b.ParentID != "" {
		t.Fatalf("full backup must not carry a parent id, got %q", b.ParentID)
	}
	if b.IsIncremental() {
		t.Fatalf("full backup must not report incremental")
	}
}

func TestLSNFormatRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 0xFFFFFFFF, 0x1_00000028, 0x7A3B_00001234}
	for _, lsn := range cases {
		s := formatLSN(lsn)
		got, err := parseLSN(s)
		if err != nil {
			t.Fatalf("parseLSN(%q): %v", s, err)
		}
		if got != lsn {
			t.Errorf("round trip %x -> %q -> %x", lsn, s, got)
		}
	}
}
