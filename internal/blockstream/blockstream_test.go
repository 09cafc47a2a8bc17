package blockstream

import (
	"bytes"
	"io"
	"testing"

	"github.com/vbp1/pgbackup/internal/page"
)

func samplePage(fill byte) []byte {
	p := make([]byte, page.Size)
	for i := range p {
		p[i] = fill
	}
	return p
}

func TestRoundTripRawAndCompressed(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, CRCCastagnoli)

	rawPage := samplePage(0xAB)
	if err := w.WriteBlock(0, page.Size, rawPage); err != nil {
		t.Fatalf("write raw: %v", err)
	}

	compPage := bytes.Repeat([]byte{0x01, 0x02}, page.Size/2)
	compressed, err := page.Compress(page.Zlib, 6, compPage)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if err := w.WriteBlock(1, int32(len(compressed)), compressed); err != nil {
		t.Fatalf("write compressed: %v", err)
	}
	if err := w.WriteTruncation(2); err != nil {
		t.Fatalf("write truncation: %v", err)
	}

	r := NewReader(&buf, page.Zlib, 20100)

	rec, err := r.Next()
	if err != nil {
		t.Fatalf("next raw: %v", err)
	}
	if rec.Block != 0 || rec.Truncated || !bytes.Equal(rec.Page, rawPage) {
		t.Fatalf("raw record mismatch: %+v", rec)
	}

	rec, err = r.Next()
	if err != nil {
		t.Fatalf("next compressed: %v", err)
	}
	if rec.Block != 1 || !bytes.Equal(rec.Page, compPage) {
		t.Fatalf("compressed record mismatch")
	}

	rec, err = r.Next()
	if err != nil {
		t.Fatalf("next truncation: %v", err)
	}
	if !rec.Truncated || rec.Block != 2 {
		t.Fatalf("expected truncation at block 2, got %+v", rec)
	}

	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("expected EOF after truncation, got %v", err)
	}
}

func TestOutOfOrderRejected(t *testing.T) {
	var buf bytes.Buffer
	binaryWriteHeader(&buf, 5, page.Size)
	buf.Write(samplePage(1))
	binaryWriteHeader(&buf, 3, page.Size)
	buf.Write(samplePage(2))

	r := NewReader(&buf, page.None, 20100)
	if _, err := r.Next(); err != nil {
		t.Fatalf("first record: %v", err)
	}
	if _, err := r.Next(); err == nil {
		t.Fatalf("expected out-of-order error")
	}
}

func TestPaddingSkipped(t *testing.T) {
	var buf bytes.Buffer
	binaryWriteHeader(&buf, 0, 0) // padding
	binaryWriteHeader(&buf, 4, page.Size)
	buf.Write(samplePage(9))

	r := NewReader(&buf, page.None, 20100)
	rec, err := r.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if rec.Block != 4 {
		t.Fatalf("expected padding to be skipped, got block %d", rec.Block)
	}
}

func binaryWriteHeader(buf *bytes.Buffer, block uint32, compressedSize int32) {
	var hdr [HeaderSize]byte
	putUint32(hdr[0:4], block)
	putUint32(hdr[4:8], uint32(compressedSize))
	buf.Write(hdr[:])
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func TestAlignToPage(t *testing.T) {
	cases := map[int]int{0: 0, 1: 8, 7: 8, 8: 8, 9: 16}
	for in, want := range cases {
		if got := AlignToPage(in); got != want {
			t.Errorf("AlignToPage(%d) = %d, want %d", in, got, want)
		}
	}
}
