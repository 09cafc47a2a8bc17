package wal

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// This file implements just enough of the WAL page/record layout to
// support scanning archived segments for full-page image references
// (PAGE-mode incremental backup). It targets the record format stable
// since PostgreSQL 15 (the minimum supported version, see
// internal/postgres.EnsureVersion15Plus) and intentionally does not
// attempt to be a complete rmgr-aware decoder: main-data payloads are
// skipped uninterpreted, and only the block-reference headers are
// parsed.

const (
	pageSize          = 8192
	shortPageHeaderSz = 24 // SizeOfXLogShortPHD, MAXALIGN'd
	longPageHeaderSz  = 40 // SizeOfXLogLongPHD, MAXALIGN'd
	recordHeaderSz    = 24 // SizeOfXLogRecord

	xlpFirstIsContRecord = 0x0001

	xlrBlockIDDataShort   = 255
	xlrBlockIDDataLong    = 254
	xlrBlockIDOrigin      = 253
	xlrBlockIDToplevelXid = 251

	bkpBlockForkMask = 0x0F
	bkpBlockHasImage = 0x10
	bkpBlockHasData  = 0x20
	bkpBlockSameRel  = 0x80

	bkpImageHasHole = 0x01
)

// forkNames maps ForkNumber (0..3) to the suffix classify() uses.
var forkNames = [...]string{"", "fsm", "vm", "init"}

// BlockRef is one block reference found in a WAL record.
type BlockRef struct {
	TablespaceOid uint32
	DBOid         uint32
	RelOid        uint32
	Fork          string
	Block         uint32
	HasImage      bool
}

// ScanSegment walks one raw (already-decompressed) WAL segment and
// calls visit for every block reference carrying a full-page image.
// Records that run past the end of the supplied bytes (the segment
// was only partially filled when archived) are silently stopped at,
// not treated as an error.
func ScanSegment(segData []byte, visit func(BlockRef)) error {
	if len(segData) < shortPageHeaderSz {
		return fmt.Errorf("wal: segment too short (%d bytes)", len(segData))
	}

	var carry []byte // bytes of a record whose header+body span a page boundary
	pos := 0
	first := true
	for pos < len(segData) {
		pageStart := pos
		hdrSz := shortPageHeaderSz
		if first {
			hdrSz = longPageHeaderSz
		}
		if pageStart+hdrSz > len(segData) {
			break
		}
		info := binary.LittleEndian.Uint16(segData[pageStart+2 : pageStart+4])
		dataStart := pageStart + hdrSz
		dataEnd := pageStart + pageSize
		if dataEnd > len(segData) {
			dataEnd = len(segData)
		}
		pageData := segData[dataStart:dataEnd]

		if info&xlpFirstIsContRecord != 0 && len(carry) > 0 {
			remLen := int(binary.LittleEndian.Uint32(segData[pageStart+20 : pageStart+24]))
			if remLen > len(pageData) {
				remLen = len(pageData)
			}
			carry = append(carry, pageData[:remLen]...)
			parseRecordBody(carry, visit)
			carry = nil
			pageData = pageData[remLen:]
		}

		consumeRecords(pageData, &carry, visit)

		first = false
		pos = pageStart + pageSize
	}
	return nil
}

// consumeRecords parses as many complete (header, body) records as it
// can find in data, appending the trailing partial record (if any) to
// *carry for the caller to complete from the next page.
func consumeRecords(data []byte, carry *[]byte, visit func(BlockRef)) {
	off := 0
	for {
		off = alignUp(off)
		if off+4 > len(data) {
			return
		}
		totLen := binary.LittleEndian.Uint32(data[off : off+4])
		if totLen == 0 {
			return // zero-fill padding: rest of this page is unused
		}
		if off+int(totLen) > len(data) {
			// record continues on the next page
			*carry = append([]byte{}, data[off:]...)
			return
		}
		if totLen < recordHeaderSz {
			return // corrupt; stop rather than misparse
		}
		body := data[off+recordHeaderSz : off+int(totLen)]
		parseRecordBody(body, visit)
		off += int(totLen)
	}
}

func alignUp(n int) int { return (n + 7) &^ 7 }

// blockHeader is one parsed block reference, before its associated
// data/image bytes (which follow ALL block headers, in header order)
// have been consumed.
type blockHeader struct {
	ref      BlockRef
	hasData  bool
	dataLen  int
	hasImage bool
	imgLen   int
}

// parseRecordBody walks the block_id-prefixed header stream following
// a record's fixed header, then consumes each header's data/image
// bytes in the same order, emitting a BlockRef for every block
// reference that carries a full-page image.
func parseRecordBody(body []byte, visit func(BlockRef)) {
	r := bytes.NewReader(body)
	var lastTbl, lastDB, lastRel uint32
	haveLastRel := false
	var headers []blockHeader

	// The header stream ends where the remaining bytes are exactly the
	// data and image payloads announced by the headers read so far.
	datatotal := 0
headerLoop:
	for r.Len() > datatotal {
		blockID, err := r.ReadByte()
		if err != nil {
			break
		}
		switch blockID {
		case xlrBlockIDDataShort:
			var l uint8
			if binary.Read(r, binary.LittleEndian, &l) != nil {
				return
			}
			headers = append(headers, blockHeader{hasData: true, dataLen: int(l)})
			break headerLoop // main data always comes last among headers
		case xlrBlockIDDataLong:
			var l uint32
			if binary.Read(r, binary.LittleEndian, &l) != nil {
				return
			}
			headers = append(headers, blockHeader{hasData: true, dataLen: int(l)})
			break headerLoop
		case xlrBlockIDOrigin:
			skip(r, 2)
			continue
		case xlrBlockIDToplevelXid:
			skip(r, 4)
			continue
		}
		if blockID > 250 {
			break // unrecognized reserved id, stop rather than misparse
		}

		forkFlags, err := r.ReadByte()
		if err != nil {
			return
		}
		hasImage := forkFlags&bkpBlockHasImage != 0
		hasData := forkFlags&bkpBlockHasData != 0
		sameRel := forkFlags&bkpBlockSameRel != 0
		fork := int(forkFlags & bkpBlockForkMask)

		var dataLen int
		if hasData {
			var l uint16
			if binary.Read(r, binary.LittleEndian, &l) != nil {
				return
			}
			dataLen = int(l)
		}

		var imgLen int
		if hasImage {
			var l, holeOffset uint16
			var bimgInfo byte
			if binary.Read(r, binary.LittleEndian, &l) != nil {
				return
			}
			if binary.Read(r, binary.LittleEndian, &holeOffset) != nil {
				return
			}
			if bimgInfo, err = r.ReadByte(); err != nil {
				return
			}
			if bimgInfo&0x06 != 0 { // compressed: extra raw-length field
				skip(r, 2)
			}
			imgLen = int(l)
		}

		if !sameRel {
			var tbl, db, rel uint32
			if binary.Read(r, binary.LittleEndian, &tbl) != nil {
				return
			}
			if binary.Read(r, binary.LittleEndian, &db) != nil {
				return
			}
			if binary.Read(r, binary.LittleEndian, &rel) != nil {
				return
			}
			lastTbl, lastDB, lastRel = tbl, db, rel
			haveLastRel = true
		}
		var blkno uint32
		if binary.Read(r, binary.LittleEndian, &blkno) != nil {
			return
		}

		forkName := ""
		if fork >= 0 && fork < len(forkNames) {
			forkName = forkNames[fork]
		}
		headers = append(headers, blockHeader{
			ref: BlockRef{
				TablespaceOid: lastTbl,
				DBOid:         lastDB,
				RelOid:        lastRel,
				Fork:          forkName,
				Block:         blkno,
				HasImage:      hasImage,
			},
			hasData:  hasData,
			dataLen:  dataLen,
			hasImage: hasImage,
			imgLen:   imgLen,
		})
		datatotal += dataLen + imgLen
		if !haveLastRel {
			return
		}
	}

	for _, h := range headers {
		if h.hasImage {
			skip(r, h.imgLen)
		}
		if h.hasData {
			skip(r, h.dataLen)
		}
		if h.hasImage {
			visit(h.ref)
		}
	}
}

func skip(r *bytes.Reader, n int) {
	if n <= 0 {
		return
	}
	buf := make([]byte, n)
	io.ReadFull(r, buf)
}
