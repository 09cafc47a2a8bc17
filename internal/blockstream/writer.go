package blockstream

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Writer serialises block records in ascending block-number order to an
// underlying io.Writer, tracking the written CRC32 and byte count along
// the way - the mirror of the original's compress_and_backup_page.
type Writer struct {
	crc     *CRCWriter
	lastBlk uint32
	wrote   bool
}

// NewWriter wraps dst with CRC accounting of the given variant.
func NewWriter(dst io.Writer, variant CRCVariant) *Writer {
	return &Writer{crc: NewCRCWriter(dst, variant)}
}

// WriteBlock appends one data record: a header followed by
// AlignToPage(len(payload)) bytes (the slack is zero-padded).
// compressedSize must equal len(payload) for a compressed record, or
// page.Size for a raw one.
func (w *Writer) WriteBlock(block uint32, compressedSize int32, payload []byte) error {
	if err := w.checkOrder(block); err != nil {
		return err
	}
	buf := make([]byte, HeaderSize+AlignToPage(len(payload)))
	binary.LittleEndian.PutUint32(buf[0:4], block)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(compressedSize))
	copy(buf[HeaderSize:], payload)
	_, err := w.crc.Write(buf)
	return err
}

// WriteTruncation appends a truncation record at block: no further
// records may be written after it.
func (w *Writer) WriteTruncation(block uint32) error {
	if err := w.checkOrder(block); err != nil {
		return err
	}
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], block)
	trunc := Truncated
	binary.LittleEndian.PutUint32(buf[4:8], uint32(trunc))
	_, err := w.crc.Write(buf)
	return err
}

func (w *Writer) checkOrder(block uint32) error {
	if w.wrote && block < w.lastBlk {
		return fmt.Errorf("blockstream: out-of-order write, block %d after %d", block, w.lastBlk)
	}
	w.lastBlk = block
	w.wrote = true
	return nil
}

// CRC32 returns the running CRC of everything written so far.
func (w *Writer) CRC32() uint32 { return w.crc.Sum32() }

// BytesWritten returns the total number of serialised bytes.
func (w *Writer) BytesWritten() int64 { return w.crc.BytesWritten() }
