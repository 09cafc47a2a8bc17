package inventory_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/vbp1/pgbackup/internal/inventory"
)

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
}

func buildFakeDataDir(t *testing.T, root string) {
	t.Helper()
	for i := 0; i < inventory.MinEntries+5; i++ {
		writeFile(t, filepath.Join(root, "base", "16384", "pad"+itoa(i)), 10)
	}
	writeFile(t, filepath.Join(root, "base", "16384", "16385"), 8192)
	writeFile(t, filepath.Join(root, "base", "16384", "16385_fsm"), 8192)
	writeFile(t, filepath.Join(root, "base", "16384", "16386"), 8192)
	writeFile(t, filepath.Join(root, "base", "16384", "16386_init"), 8192)
	writeFile(t, filepath.Join(root, "global", "pg_control"), 8192)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var buf [12]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	return string(buf[pos:])
}

func TestWalkClassifiesDataFiles(t *testing.T) {
	dir := t.TempDir()
	buildFakeDataDir(t, dir)

	files, err := inventory.Walk(inventory.Options{DataDir: dir})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}

	var rel16385, control *struct{ found bool }
	foundRel, foundCtrl, foundUnloggedMain := false, false, false
	for _, f := range files {
		if f.Path == "base/16384/16385" {
			foundRel = true
			if !f.IsDataFile || f.RelOid != 16385 || f.DBOid != 16384 {
				t.Fatalf("bad classification for relation file: %+v", f)
			}
		}
		if f.Path == "global/pg_control" {
			foundCtrl = true
		}
		if f.Path == "base/16384/16386" {
			foundUnloggedMain = true
		}
	}
	_ = rel16385
	_ = control
	if !foundRel {
		t.Fatal("expected to find base/16384/16385")
	}
	if !foundCtrl {
		t.Fatal("expected to find global/pg_control")
	}
	if foundUnloggedMain {
		t.Fatal("unlogged relation's main fork should be dropped because its init fork is present")
	}
}

func TestWalkRefusesSparseDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "PG_VERSION"), 2)

	if _, err := inventory.Walk(inventory.Options{DataDir: dir}); err == nil {
		t.Fatal("expected error for a data directory with too few entries")
	}
}

func TestWalkFoldsTablespaceContentsUnderPgTblspc(t *testing.T) {
	dir := t.TempDir()
	buildFakeDataDir(t, dir)

	tsRoot := t.TempDir()
	writeFile(t, filepath.Join(tsRoot, "PG_17_202307071", "16390", "16500"), 8192)

	if err := os.MkdirAll(filepath.Join(dir, "pg_tblspc"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(tsRoot, filepath.Join(dir, "pg_tblspc", "20000")); err != nil {
		t.Fatal(err)
	}

	files, err := inventory.Walk(inventory.Options{
		DataDir:     dir,
		Tablespaces: []inventory.Tablespace{{Oid: 20000, Location: tsRoot}},
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}

	var sawSymlink, sawNested bool
	for _, f := range files {
		if f.Path == "pg_tblspc/20000" {
			sawSymlink = true
			if f.Linked != tsRoot {
				t.Fatalf("symlink target = %q, want %q", f.Linked, tsRoot)
			}
		}
		if f.Path == "pg_tblspc/20000/PG_17_202307071/16390/16500" {
			sawNested = true
			if !f.IsDataFile || f.RelOid != 16500 || f.DBOid != 16390 || f.TablespaceOid != 20000 {
				t.Fatalf("bad classification for tablespace relation file: %+v", f)
			}
		}
	}
	if !sawSymlink {
		t.Fatal("expected to find the pg_tblspc/20000 symlink entry")
	}
	if !sawNested {
		t.Fatal("expected to find the tablespace's nested relation file folded under pg_tblspc/20000")
	}
}

func TestWalkSortedPathAscending(t *testing.T) {
	dir := t.TempDir()
	buildFakeDataDir(t, dir)

	files, err := inventory.Walk(inventory.Options{DataDir: dir})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	for i := 1; i < len(files); i++ {
		if files[i-1].Path > files[i].Path {
			t.Fatalf("files not sorted path-ascending at %d: %s > %s", i, files[i-1].Path, files[i].Path)
		}
	}
}
