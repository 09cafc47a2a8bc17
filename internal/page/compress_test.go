package page

import (
	"bytes"
	"compress/zlib"
	"testing"
)

func TestZlibRoundTrip(t *testing.T) {
	src := bytes.Repeat([]byte("abcdefgh"), Size/8)
	compressed, err := Compress(Zlib, 6, src)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if len(compressed) >= len(src) {
		t.Fatalf("expected compression to shrink a repetitive page")
	}
	got, err := Decompress(Zlib, compressed, len(src))
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(got, src) {
		t.Fatalf("round trip mismatch")
	}
}

func TestClampZlibLevel(t *testing.T) {
	cases := []struct {
		level int
		want  int
	}{
		{0, zlib.NoCompression},
		{-1, zlib.DefaultCompression},
		{3, 3},
		{9, 9},
		{12, 9},
	}
	for _, c := range cases {
		if got := clampZlibLevel(c.level); got != c.want {
			t.Fatalf("clampZlibLevel(%d) = %d, want %d", c.level, got, c.want)
		}
	}
}

func TestPglzRoundTrip(t *testing.T) {
	src := bytes.Repeat([]byte("the quick brown fox jumps"), Size/25+1)
	src = src[:Size]
	compressed, err := Compress(Pglz, 0, src)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	got, err := Decompress(Pglz, compressed, len(src))
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(got, src) {
		t.Fatalf("round trip mismatch")
	}
}

func TestPglzIncompressible(t *testing.T) {
	src := make([]byte, Size)
	x := uint32(2463534242)
	for i := range src {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		src[i] = byte(x >> 24)
	}
	if _, err := Compress(Pglz, 0, src); err == nil {
		t.Fatalf("expected pseudo-random page to fail to compress smaller")
	}
}

func TestLegacyRawPageDetection(t *testing.T) {
	if !IsLegacyRawPage(Zlib, 20010, Size, []byte{0x00, 0x01}) {
		t.Fatalf("old writer, non-zlib-magic payload should be treated as raw")
	}
	if IsLegacyRawPage(Zlib, 20010, Size, []byte{zlibMagic, 0x01}) {
		t.Fatalf("payload starting with zlib magic should not be treated as raw")
	}
	if IsLegacyRawPage(Zlib, 20023, Size, []byte{0x00}) {
		t.Fatalf("modern writer should never trigger the legacy quirk")
	}
}
