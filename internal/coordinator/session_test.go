package coordinator

import (
	"testing"

	"github.com/vbp1/pgbackup/internal/catalog"
	"github.com/vbp1/pgbackup/internal/inventory"
)

func TestPruneNotFoundDropsOnlyMissingRegularFiles(t *testing.T) {
	files := []*catalog.File{
		{Path: "a", WriteSize: 10},
		{Path: "missing", WriteSize: catalog.NotFound},
		{Path: "dir", IsDir: true, WriteSize: catalog.NotFound},
		{Path: "link", Linked: "/elsewhere", WriteSize: catalog.NotFound},
	}
	out := pruneNotFound(files)
	if len(out) != 3 {
		t.Fatalf("expected 3 surviving files, got %d", len(out))
	}
	for _, f := range out {
		if f.Path == "missing" {
			t.Fatal("missing regular file should have been pruned")
		}
	}
}

func TestPruneNotFoundKeepsCarriedOverFiles(t *testing.T) {
	files := []*catalog.File{
		{Path: "postgresql.conf", WriteSize: catalog.BytesInvalid, CarriedOver: true},
	}
	out := pruneNotFound(files)
	if len(out) != 1 {
		t.Fatalf("expected carried-over file to survive pruning, got %d files", len(out))
	}
}

func TestJoinExternalDirs(t *testing.T) {
	got := joinExternalDirs([]inventory.ExternalDir{{Path: "/a"}, {Path: "/b"}})
	if got != "/a:/b" {
		t.Fatalf("got %q", got)
	}
	if joinExternalDirs(nil) != "" {
		t.Fatal("expected empty string for no external dirs")
	}
}
