package copier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/vbp1/pgbackup/internal/catalog"
	"github.com/vbp1/pgbackup/internal/page"
)

// maxPageRetries bounds the partial-flush / checksum-failure retry
// loop: a page being actively written by the cluster can be observed
// mid-write, and a short sleep between attempts usually resolves it.
const maxPageRetries = 100

const pageRetryDelay = 10 * time.Millisecond

// blockOutcome is prepareBlock's result for one block.
type blockOutcome int

const (
	blockCopy blockOutcome = iota
	blockSkip
	blockTruncated
)

// errInterrupted is returned when the session's interrupted flag was
// observed between blocks.
var errInterrupted = errors.New("copier: interrupted")

// readerAt is the minimal source-file surface prepareBlock needs.
type readerAt interface {
	ReadAt(p []byte, off int64) (int, error)
}

// prepareBlock reads and validates one block, mirroring prepare_page:
// tolerate a short read from a concurrently-flushed page by retrying,
// accept an all-zero page as-is, verify the checksum when enabled,
// fall back to a PTRACK fetch when every retry still disagrees, and
// for DELTA skip blocks unchanged since the parent's start-LSN.
func prepareBlock(ctx context.Context, src readerAt, blockNo uint32, absoluteBlkno uint32, f *catalog.File, opts Options) ([]byte, blockOutcome, error) {
	buf := make([]byte, page.Size)
	off := int64(blockNo) * page.Size

	var lastErr error
	for attempt := 0; attempt < maxPageRetries; attempt++ {
		if opts.Interrupted != nil && opts.Interrupted() {
			return nil, blockCopy, errInterrupted
		}

		n, err := src.ReadAt(buf, off)
		if n == 0 && (errors.Is(err, io.EOF) || err == nil) {
			// relation truncated under us
			return nil, blockTruncated, nil
		}
		if n < page.Size && err != nil && !errors.Is(err, io.EOF) {
			lastErr = err
			time.Sleep(pageRetryDelay)
			continue
		}
		if n < page.Size {
			// short, non-zero read: partial flush in progress
			lastErr = fmt.Errorf("copier: short read of block %d (%d of %d bytes)", blockNo, n, page.Size)
			time.Sleep(pageRetryDelay)
			continue
		}

		if page.IsZero(buf) {
			return finishPrepare(buf, absoluteBlkno, f, opts)
		}

		if !page.LooksLikePage(buf) {
			lastErr = fmt.Errorf("copier: block %d does not look like a page", blockNo)
			time.Sleep(pageRetryDelay)
			continue
		}

		if opts.ChecksumsEnabled && !page.VerifyChecksum(buf, absoluteBlkno) {
			lastErr = fmt.Errorf("copier: checksum mismatch at block %d", blockNo)
			time.Sleep(pageRetryDelay)
			continue
		}

		return finishPrepare(buf, absoluteBlkno, f, opts)
	}

	// Exhausted retries: try the PTRACK fallback before giving up.
	if opts.PTrack != nil {
		fetched, ferr := opts.PTrack.FetchBlock(ctx, f.TablespaceOid, f.DBOid, f.RelOid, blockNo)
		if ferr == nil && len(fetched) == page.Size {
			return finishPrepare(fetched, absoluteBlkno, f, opts)
		}
	}
	return nil, blockCopy, fmt.Errorf("copier: block %d unreadable after %d attempts: %w", blockNo, maxPageRetries, lastErr)
}

// finishPrepare applies the DELTA skip-by-LSN rule to an otherwise
// valid page buffer.
func finishPrepare(buf []byte, _ uint32, f *catalog.File, opts Options) ([]byte, blockOutcome, error) {
	if opts.Mode == catalog.ModeDelta && opts.Parent != nil && f.ExistsInPrev && !page.IsZero(buf) {
		if deltaSkip(buf, opts) {
			return nil, blockSkip, nil
		}
	}
	out := make([]byte, page.Size)
	copy(out, buf)
	return out, blockCopy, nil
}

func deltaSkip(buf []byte, opts Options) bool {
	return page.LSN(buf) != 0 && page.LSN(buf) < opts.Parent.StartLSN
}
