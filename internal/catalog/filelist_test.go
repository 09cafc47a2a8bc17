package catalog

import (
	"os"
	"testing"
)

func TestFilelistRoundTrip(t *testing.T) {
	dir := t.TempDir()

	files := []*File{
		{Path: "PG_VERSION", Mode: 0o644, WriteSize: 3, CRC: 0xdeadbeef, NBlocksSource: NBlocksInvalid},
		{
			Path: "base/16384/16401", Mode: 0o644, WriteSize: 8192, CRC: 0x1234,
			IsDataFile: true, DBOid: 16384, RelOid: 16401, SegNo: 0,
			CompressAlg: "zlib", NBlocksSource: 1,
		},
		{Path: "base/16384", Mode: os.ModeDir | 0o755, IsDir: true, NBlocksSource: NBlocksInvalid},
		{Path: "postgresql.conf", Mode: 0o644, WriteSize: BytesInvalid, CRC: 0x9999, CarriedOver: true, NBlocksSource: NBlocksInvalid},
	}

	dataBytes, err := WriteFilelist(dir, files)
	if err != nil {
		t.Fatalf("WriteFilelist: %v", err)
	}
	wantBytes := int64(3 + 8192 + 4096)
	if dataBytes != wantBytes {
		t.Fatalf("data bytes = %d, want %d", dataBytes, wantBytes)
	}

	got, err := ReadFilelist(dir)
	if err != nil {
		t.Fatalf("ReadFilelist: %v", err)
	}
	if len(got) != len(files) {
		t.Fatalf("got %d files, want %d", len(got), len(files))
	}

	df := got[1]
	if !df.IsDataFile || df.DBOid != 16384 || df.RelOid != 16401 {
		t.Fatalf("datafile record mismatch: %+v", df)
	}
	if df.CompressAlg != "zlib" {
		t.Fatalf("compress alg mismatch: %q", df.CompressAlg)
	}
	if df.NBlocksSource != 1 {
		t.Fatalf("n_blocks mismatch: got %d", df.NBlocksSource)
	}

	plain := got[0]
	if plain.NBlocksSource != NBlocksInvalid {
		t.Fatalf("plain file should have no n_blocks, got %d", plain.NBlocksSource)
	}

	if !got[2].IsDir {
		t.Fatalf("directory record lost IsDir")
	}

	if !got[3].CarriedOver {
		t.Fatalf("carried-over flag lost on round trip: %+v", got[3])
	}
}
