package restore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vbp1/pgbackup/internal/blockstream"
	"github.com/vbp1/pgbackup/internal/catalog"
	"github.com/vbp1/pgbackup/internal/page"
)

func writeBackupFixture(t *testing.T, layout *catalog.Layout, b *catalog.Backup, files []*catalog.File) {
	t.Helper()
	dir := layout.BackupDir(b.ID)
	if err := os.MkdirAll(layout.DatabaseDir(b.ID), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := catalog.WriteControl(dir, b); err != nil {
		t.Fatal(err)
	}
	if _, err := catalog.WriteFilelist(dir, files); err != nil {
		t.Fatal(err)
	}
}

func writeDataFileRecord(t *testing.T, layout *catalog.Layout, id, relPath string, blocks map[uint32][]byte) {
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

func TestRestoreFullBackup(t *testing.T) {
	root := t.TempDir()
	layout := catalog.NewLayout(root, "main")

	b := catalog.NewBackup(catalog.ModeFull, time.Unix(1000, 0), "")
	b.Status = catalog.StatusDone

	page0 := make([]byte, page.Size)
	page0[0] = 0x01
	writeBackupFixture(t, layout, b, []*catalog.File{
		{Path: "base", IsDir: true, Mode: 0o755},
		{Path: "base/16385", IsDataFile: true, NBlocksSource: 1, CompressAlg: "", WriteSize: int64(blockstream.HeaderSize) + int64(page.Size)},
	})
	writeDataFileRecord(t, layout, b.ID, "base/16385", map[uint32][]byte{0: page0})

	dest := filepath.Join(t.TempDir(), "data")
	res, err := Restore(Options{Layout: layout, TargetID: b.ID, DestDataDir: dest})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if len(res.Chain) != 1 {
		t.Fatalf("chain length = %d, want 1", len(res.Chain))
	}

	got, err := os.ReadFile(filepath.Join(dest, "base/16385"))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) < page.Size || got[0] != 0x01 {
		t.Fatalf("restored data file wrong content")
	}
}

// TestRestoreCarriedOverFile exercises a FULL backup followed by a PAGE
// backup that carried an unchanged config file over from its parent: the
// child's own backup_content.control records the file with no fresh
// payload (CarriedOver=true, WriteSize=BytesInvalid), so restore must
// recover its bytes from the FULL layer rather than opening a payload
// that was never written into the PAGE backup's directory.
func TestRestoreCarriedOverFile(t *testing.T) {
	root := t.TempDir()
	layout := catalog.NewLayout(root, "main")

	full := catalog.NewBackup(catalog.ModeFull, time.Unix(1000, 0), "")
	full.Status = catalog.StatusDone
	writeBackupFixture(t, layout, full, []*catalog.File{
		{Path: "postgresql.conf", Mode: 0o644, WriteSize: 11, CRC: 0xabc},
	})
	if err := os.WriteFile(filepath.Join(layout.DatabaseDir(full.ID), "postgresql.conf"), []byte("full-bytes!"), 0o644); err != nil {
		t.Fatal(err)
	}

	page := catalog.NewBackup(catalog.ModePage, time.Unix(2000, 0), full.ID)
	page.Status = catalog.StatusDone
	writeBackupFixture(t, layout, page, []*catalog.File{
		{Path: "postgresql.conf", Mode: 0o644, WriteSize: catalog.BytesInvalid, CRC: 0xabc, CarriedOver: true},
	})
	// No postgresql.conf payload written under page's own database dir:
	// replayWholeFile must not try to open it.

	dest := filepath.Join(t.TempDir(), "data")
	res, err := Restore(Options{Layout: layout, TargetID: page.ID, DestDataDir: dest})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if len(res.Chain) != 2 {
		t.Fatalf("chain length = %d, want 2", len(res.Chain))
	}

	got, err := os.ReadFile(filepath.Join(dest, "postgresql.conf"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "full-bytes!" {
		t.Fatalf("restored carried-over file = %q, want %q", got, "full-bytes!")
	}
}
