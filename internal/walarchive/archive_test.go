package walarchive

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPushThenGetRoundTrip(t *testing.T) {
	srcDir := t.TempDir()
	archDir := t.TempDir()

	src := filepath.Join(srcDir, "000000010000000000000001")
	if err := os.WriteFile(src, []byte("segment payload"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := Push(src, PushOptions{Dir: archDir}); err != nil {
		t.Fatalf("Push: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "restored")
	if err := Get("000000010000000000000001", dest, archDir); err != nil {
		t.Fatalf("Get: %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "segment payload" {
		t.Fatalf("got %q", got)
	}
}

func TestPushCompressed(t *testing.T) {
	srcDir := t.TempDir()
	archDir := t.TempDir()

	src := filepath.Join(srcDir, "000000010000000000000002")
	if err := os.WriteFile(src, []byte("another segment"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := Push(src, PushOptions{Dir: archDir, Compress: true}); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if _, err := os.Stat(filepath.Join(archDir, "000000010000000000000002.gz")); err != nil {
		t.Fatalf("expected compressed archive copy: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "restored")
	if err := Get("000000010000000000000002", dest, archDir); err != nil {
		t.Fatalf("Get: %v", err)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "another segment" {
		t.Fatalf("got %q", got)
	}
}

func TestGetMissingSegment(t *testing.T) {
	if err := Get("missing", filepath.Join(t.TempDir(), "x"), t.TempDir()); err == nil {
		t.Fatal("expected error for missing segment")
	}
}
