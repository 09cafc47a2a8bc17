package page

import "encoding/binary"

// checksum is a FNV-1a-derived mix used as a stand-in for PostgreSQL's
// FNV-based page checksum algorithm: mix the page content in 32-bit
// words with a set of rotating constants, then fold in the page's
// absolute block number so that two identical pages at different
// positions checksum differently.
const (
	fnvPrime  = 16777619
	checksumN = 32 // number of mix rounds, mirrors pg_checksum_page's N_SUMS
)

var checksumConstants = [checksumN]uint32{
	0x5a827999, 0x6ed9eba1, 0x8f1bbcdc, 0xca62c1d6,
	0x9e3779b9, 0x243f6a88, 0x85a308d3, 0x13198a2e,
	0x03707344, 0xa4093822, 0x299f31d0, 0x082efa98,
	0xec4e6c89, 0x452821e6, 0x38d01377, 0xbe5466cf,
	0x34e90c6c, 0xc0ac29b7, 0xc97c50dd, 0x3f84d5b5,
	0xb5470917, 0x9216d5d9, 0x8979fb1b, 0xd1310ba6,
	0x98dfb5ac, 0x2ffd72db, 0xd01adfb7, 0xb8e1afed,
	0x6a267e96, 0xba7c9045, 0xf12c7f99, 0x24a19947,
}

// ComputeChecksum mixes the page buffer's 32-bit words (with the
// checksum field itself zeroed, per pg_checksum_page) with the page's
// absolute block number and returns the 16-bit stored checksum value.
func ComputeChecksum(p []byte, absoluteBlkno uint32) uint16 {
	if len(p) < Size {
		return 0
	}
	var buf [Size]byte
	copy(buf[:], p[:Size])
	// zero the checksum field (bytes 8-9) before mixing, matching the
	// on-disk convention that the checksum is computed over the page
	// with its own field blanked out.
	buf[8] = 0
	buf[9] = 0

	var sum uint32 = absoluteBlkno
	for round := 0; round < checksumN; round++ {
		c := checksumConstants[round]
		for i := 0; i+4 <= Size; i += 4 {
			word := binary.LittleEndian.Uint32(buf[i : i+4])
			sum = (sum ^ word) * fnvPrime
			sum ^= c
			sum = (sum << 1) | (sum >> 31)
		}
	}
	// fold to 16 bits, never emit the reserved all-zero value (no
	// checksum) for a page that does carry a checksum.
	result := uint16((sum ^ (sum >> 16)) & 0xffff)
	if result == 0 {
		result = 1
	}
	return result
}

// VerifyChecksum reports whether the page's stored checksum field
// matches ComputeChecksum for the given absolute block number.
func VerifyChecksum(p []byte, absoluteBlkno uint32) bool {
	h, err := ParseHeader(p)
	if err != nil {
		return false
	}
	return h.Checksum == ComputeChecksum(p, absoluteBlkno)
}
