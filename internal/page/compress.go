package page

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
)

// Algorithm identifies a page compression scheme, matching the CLI's
// `--compress-algorithm` values.
type Algorithm string

const (
	None Algorithm = "none"
	Zlib Algorithm = "zlib"
	Pglz Algorithm = "pglz"
)

// zlibMagic is the first byte of any zlib stream produced with a
// default window (CMF byte 0x78); used only by the legacy decode quirk
// in legacy.go.
const zlibMagic = 0x78

// Compress compresses src (expected to be exactly Size bytes) with alg
// at the given level. On failure callers must fall back to storing the
// page raw (compressed_size == Size).
func Compress(alg Algorithm, level int, src []byte) ([]byte, error) {
	switch alg {
	case None, "":
		return nil, fmt.Errorf("page: compression disabled")
	case Zlib:
		var buf bytes.Buffer
		w, err := zlib.NewWriterLevel(&buf, clampZlibLevel(level))
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(src); err != nil {
			_ = w.Close()
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case Pglz:
		return pglzCompress(src)
	default:
		return nil, fmt.Errorf("page: unknown compression algorithm %q", alg)
	}
}

// Decompress expands src (produced by Compress with alg) into a buffer
// of exactly dstCap bytes.
func Decompress(alg Algorithm, src []byte, dstCap int) ([]byte, error) {
	switch alg {
	case None, "":
		return nil, fmt.Errorf("page: compression disabled")
	case Zlib:
		r, err := zlib.NewReader(bytes.NewReader(src))
		if err != nil {
			return nil, err
		}
		defer func() { _ = r.Close() }()
		dst := make([]byte, dstCap)
		if _, err := io.ReadFull(r, dst); err != nil {
			return nil, err
		}
		return dst, nil
	case Pglz:
		return pglzDecompress(src, dstCap)
	default:
		return nil, fmt.Errorf("page: unknown compression algorithm %q", alg)
	}
}

func clampZlibLevel(level int) int {
	if level == 0 {
		return zlib.NoCompression
	}
	if level < 0 {
		return zlib.DefaultCompression
	}
	if level > 9 {
		return 9
	}
	return level
}
