package merge

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vbp1/pgbackup/internal/blockstream"
	"github.com/vbp1/pgbackup/internal/catalog"
	"github.com/vbp1/pgbackup/internal/page"
)

func writeFixtureBackup(t *testing.T, layout *catalog.Layout, b *catalog.Backup, files []*catalog.File) {
	t.Helper()
	if err := os.MkdirAll(layout.DatabaseDir(b.ID), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := catalog.WriteControl(layout.BackupDir(b.ID), b); err != nil {
		t.Fatal(err)
	}
	if _, err := catalog.WriteFilelist(layout.BackupDir(b.ID), files); err != nil {
		t.Fatal(err)
	}
}

func writeDataFile(t *testing.T, layout *catalog.Layout, id, relPath string, blocks map[uint32][]byte) {
	t.Helper()
	path := filepath.Join(layout.DatabaseDir(id), relPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	w := blockstream.NewWriter(f, blockstream.CRCCastagnoli)
	for blk := uint32(0); blk < 4; blk++ {
		payload, ok := blocks[blk]
		if !ok {
			continue
		}
		if err := w.WriteBlock(blk, int32(page.Size), payload); err != nil {
			t.Fatal(err)
		}
	}
}

func TestMergeIncrementalIntoFull(t *testing.T) {
	root := t.TempDir()
	layout := catalog.NewLayout(root, "main")

	full := catalog.NewBackup(catalog.ModeFull, time.Unix(1000, 0), "")
	full.Status = catalog.StatusDone

	page0 := make([]byte, page.Size)
	page0[0] = 0xAA
	page1 := make([]byte, page.Size)
	page1[0] = 0xBB

	writeFixtureBackup(t, layout, full, []*catalog.File{
		{Path: "base", IsDir: true, Mode: 0o755},
		{Path: "base/16385", IsDataFile: true, NBlocksSource: 2, WriteSize: 999},
	})
	writeDataFile(t, layout, full.ID, "base/16385", map[uint32][]byte{0: page0, 1: page1})

	time.Sleep(2 * time.Millisecond)
	incr := catalog.NewBackup(catalog.ModePage, time.Unix(2000, 0), full.ID)
	incr.Status = catalog.StatusDone

	page1Updated := make([]byte, page.Size)
	page1Updated[0] = 0xCC

	writeFixtureBackup(t, layout, incr, []*catalog.File{
		{Path: "base", IsDir: true, Mode: 0o755},
		{Path: "base/16385", IsDataFile: true, NBlocksSource: 2, WriteSize: 111},
	})
	writeDataFile(t, layout, incr.ID, "base/16385", map[uint32][]byte{1: page1Updated})

	res, err := Merge(Options{Layout: layout, TargetID: incr.ID})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if res.MergedID != full.ID {
		t.Fatalf("MergedID = %s, want %s", res.MergedID, full.ID)
	}

	if _, err := os.Stat(layout.BackupDir(incr.ID)); !os.IsNotExist(err) {
		t.Fatalf("merged-away backup directory still exists")
	}

	mergedFile, err := os.Open(filepath.Join(layout.DatabaseDir(full.ID), "base/16385"))
	if err != nil {
		t.Fatal(err)
	}
	defer mergedFile.Close()
	r := blockstream.NewReader(mergedFile, page.None, 0)

	blk0, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if blk0.Block != 0 || blk0.Page[0] != 0xAA {
		t.Fatalf("expected block 0 unchanged from full backup, got %+v", blk0)
	}
	blk1, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if blk1.Block != 1 || blk1.Page[0] != 0xCC {
		t.Fatalf("expected block 1 overwritten by incremental, got %+v", blk1)
	}
}

func TestMergeRefusesFullBackup(t *testing.T) {
	root := t.TempDir()
	layout := catalog.NewLayout(root, "main")
	full := catalog.NewBackup(catalog.ModeFull, time.Unix(1000, 0), "")
	full.Status = catalog.StatusDone
	writeFixtureBackup(t, layout, full, nil)

	if _, err := Merge(Options{Layout: layout, TargetID: full.ID}); err == nil {
		t.Fatal("expected error merging a FULL backup")
	}
}
