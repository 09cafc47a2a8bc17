// Package blockstream implements the backup-side block record format:
// a file's backed-up payload is a sequence of (header, payload) records
// in ascending block-number order.
package blockstream

import "github.com/vbp1/pgbackup/internal/page"

// HeaderSize is the on-disk size of one block record's fixed header.
const HeaderSize = 4 + 4 // block_number uint32 + compressed_size int32

// Truncated marks a record as "the file ends at block*BLCKSZ"; no
// further records may follow it in the same stream.
const Truncated int32 = -2

// align is the byte boundary compressed payloads are padded to, so the
// next record's header always starts aligned (mirrors MAXALIGN in the
// original writer).
const align = 8

// Header is the fixed-size prefix of one block record.
type Header struct {
	Block          uint32
	CompressedSize int32
}

// AlignToPage rounds n up to the next align-byte boundary, as the
// writer does for each record's payload before writing the next
// header.
func AlignToPage(n int) int {
	return (n + align - 1) &^ (align - 1)
}

// IsPadding reports whether a header is the historical empty-padding
// marker (block 0, compressed_size 0) that readers must skip.
func (h Header) IsPadding() bool {
	return h.Block == 0 && h.CompressedSize == 0
}

// IsTruncation reports whether a header marks the end-of-file
// truncation point.
func (h Header) IsTruncation() bool {
	return h.CompressedSize == Truncated
}

// IsRaw reports whether the record's payload is an uncompressed page
// (compressed_size == page.Size).
func (h Header) IsRaw() bool {
	return h.CompressedSize == page.Size
}
