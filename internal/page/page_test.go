package page

import "testing"

func makeValidPage() []byte {
	p := make([]byte, Size)
	// lower/upper/special chosen to satisfy LooksLikePage.
	putHeader(p, 0, 0, sizeOfPageHeaderData, sizeOfPageHeaderData+8, Size)
	return p
}

func putHeader(p []byte, flags, checksum uint16, lower, upper, special uint16) {
	le := func(off int, v uint16) {
		p[off] = byte(v)
		p[off+1] = byte(v >> 8)
	}
	le(8, checksum)
	le(10, flags)
	le(12, lower)
	le(14, upper)
	le(16, special)
	le(18, Size) // pd_pagesize_version: size in low bits, version 0
}

func TestLooksLikePage(t *testing.T) {
	p := makeValidPage()
	if !LooksLikePage(p) {
		t.Fatalf("expected valid page to look like a page")
	}

	bad := makeValidPage()
	putHeader(bad, 0, 0, 4, sizeOfPageHeaderData+8, Size) // lower too small
	if LooksLikePage(bad) {
		t.Fatalf("expected invalid lower to fail LooksLikePage")
	}

	badFlags := makeValidPage()
	putHeader(badFlags, 0xfff0, 0, sizeOfPageHeaderData, sizeOfPageHeaderData+8, Size)
	if LooksLikePage(badFlags) {
		t.Fatalf("expected out-of-mask flags to fail LooksLikePage")
	}
}

func TestIsZero(t *testing.T) {
	p := make([]byte, Size)
	if !IsZero(p) {
		t.Fatalf("all-zero buffer should report zero")
	}
	p[100] = 1
	if IsZero(p) {
		t.Fatalf("non-zero buffer should not report zero")
	}
}

func TestChecksumRoundTrip(t *testing.T) {
	p := makeValidPage()
	sum := ComputeChecksum(p, 42)
	le := func(off int, v uint16) {
		p[off] = byte(v)
		p[off+1] = byte(v >> 8)
	}
	le(8, sum)
	if !VerifyChecksum(p, 42) {
		t.Fatalf("expected checksum to verify")
	}
	if VerifyChecksum(p, 43) {
		t.Fatalf("checksum should depend on absolute block number")
	}
}
