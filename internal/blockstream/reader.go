package blockstream

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vbp1/pgbackup/internal/page"
)

// Record is one decoded block record: either a decompressed page
// (exactly page.Size bytes), a truncation marker, or (internally)
// padding, which Reader.Next skips transparently.
type Record struct {
	Block     uint32
	Truncated bool
	Page      []byte // nil when Truncated
}

// Reader decodes a block-record stream produced by Writer, enforcing
// the strict ascending-block-order invariant and applying the legacy
// raw-page decode quirk when the producer predates it.
type Reader struct {
	src             io.Reader
	alg             page.Algorithm
	producerVersion int
	lastBlk         uint32
	seenAny         bool
	done            bool
}

// NewReader wraps src, decoding payloads compressed with alg as written
// by the given producer program version (triggers the legacy raw-page
// quirk for old producers).
func NewReader(src io.Reader, alg page.Algorithm, producerVersion int) *Reader {
	return &Reader{src: src, alg: alg, producerVersion: producerVersion}
}

// Next returns the next non-padding record, or io.EOF when the stream
// is exhausted. Once a truncation record is returned, the next call
// returns io.EOF; the format forbids records after truncation.
func (r *Reader) Next() (Record, error) {
	if r.done {
		return Record{}, io.EOF
	}
	for {
		var hdr [HeaderSize]byte
		if _, err := io.ReadFull(r.src, hdr[:]); err != nil {
			if err == io.ErrUnexpectedEOF {
				return Record{}, fmt.Errorf("blockstream: truncated header")
			}
			return Record{}, err
		}
		block := binary.LittleEndian.Uint32(hdr[0:4])
		compressedSize := int32(binary.LittleEndian.Uint32(hdr[4:8]))
		h := Header{Block: block, CompressedSize: compressedSize}

		if h.IsPadding() {
			continue
		}

		if !h.IsTruncation() && r.seenAny && block < r.lastBlk {
			return Record{}, fmt.Errorf("blockstream: out-of-order record, block %d after %d", block, r.lastBlk)
		}
		r.lastBlk = block
		r.seenAny = true

		if h.IsTruncation() {
			r.done = true
			return Record{Block: block, Truncated: true}, nil
		}

		payloadLen := AlignToPage(int(compressedSize))
		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(r.src, payload); err != nil {
			return Record{}, fmt.Errorf("blockstream: truncated payload at block %d: %w", block, err)
		}
		payload = payload[:compressedSize]

		if h.IsRaw() || page.IsLegacyRawPage(r.alg, r.producerVersion, int(compressedSize), payload) {
			if len(payload) != page.Size {
				return Record{}, fmt.Errorf("blockstream: raw record at block %d has %d bytes, want %d", block, len(payload), page.Size)
			}
			return Record{Block: block, Page: payload}, nil
		}

		decoded, err := page.Decompress(r.alg, payload, page.Size)
		if err != nil {
			return Record{}, fmt.Errorf("blockstream: decompress block %d: %w", block, err)
		}
		return Record{Block: block, Page: decoded}, nil
	}
}
