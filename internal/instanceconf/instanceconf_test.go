package instanceconf

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	root := t.TempDir()
	c := &Config{
		PGHost:        "dbhost",
		PGPort:        5433,
		PGUser:        "postgres",
		DataDir:       "/var/lib/postgresql/data",
		ExternalDirs:  []string{"/ext1", "/ext2"},
		CompressAlg:   "zlib",
		CompressLevel: 5,
		Retention:     3,
	}
	if err := Save(root, "main", c); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(root, "main")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.PGHost != c.PGHost || got.PGPort != c.PGPort || got.DataDir != c.DataDir {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if len(got.ExternalDirs) != 2 || got.ExternalDirs[0] != "/ext1" {
		t.Fatalf("external dirs not preserved: %+v", got.ExternalDirs)
	}
}

func TestLoadMissingReturnsZeroValue(t *testing.T) {
	c, err := Load(t.TempDir(), "none")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.PGHost != "" {
		t.Fatalf("expected zero value, got %+v", c)
	}
}

func TestSetAndLines(t *testing.T) {
	c := &Config{}
	if err := c.Set("pghost=dbhost"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := c.Set("pgport=5432"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if c.PGHost != "dbhost" || c.PGPort != 5432 {
		t.Fatalf("Set did not apply: %+v", c)
	}
	lines := c.Lines()
	if len(lines) == 0 {
		t.Fatal("expected non-empty Lines output")
	}
}

func TestDeleteRefusesNonEmptyWithoutForce(t *testing.T) {
	root := t.TempDir()
	if err := Save(root, "main", &Config{}); err != nil {
		t.Fatal(err)
	}
	backupsDir := filepath.Dir(Path(root, "main"))
	if err := os.Mkdir(filepath.Join(backupsDir, "BACKUP1"), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := Delete(root, "main", false); err == nil {
		t.Fatal("Delete without force: expected refusal for an instance holding a backup")
	}
	if err := Delete(root, "main", true); err != nil {
		t.Fatalf("Delete with force: %v", err)
	}
}
