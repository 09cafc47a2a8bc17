package walarchive

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vbp1/pgbackup/internal/wal"
)

func TestWaitFindsAlreadyArchivedSegment(t *testing.T) {
	dir := t.TempDir()
	const segBytes = wal.SegmentBytes
	name := wal.SegmentName(1, segBytes, segBytes)
	if err := os.WriteFile(filepath.Join(dir, name), make([]byte, segBytes), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := Wait(ctx, Options{
		Dir:            dir,
		Timeline:       1,
		TargetLSN:      segBytes,
		SegmentBytes:   segBytes,
		ArchiveTimeout: 3 * time.Second,
	})
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.SegmentName != name {
		t.Fatalf("segment = %s, want %s", res.SegmentName, name)
	}
}

func TestWaitTimesOut(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	_, err := Wait(ctx, Options{
		Dir:            dir,
		Timeline:       1,
		TargetLSN:      0,
		SegmentBytes:   wal.SegmentBytes,
		ArchiveTimeout: 1100 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("expected timeout error")
	}
}
