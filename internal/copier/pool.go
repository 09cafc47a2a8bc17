package copier

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/vbp1/pgbackup/internal/blockstream"
	"github.com/vbp1/pgbackup/internal/catalog"
	"github.com/vbp1/pgbackup/internal/page"
)

// Run claims and processes every job with opts.NumWorkers concurrent
// workers, returning the first error any worker reports. Correctness
// does not depend on which worker processes which file, only that
// each is processed exactly once (enforced by Job's claim flag).
func Run(ctx context.Context, jobs []*Job, opts Options) error {
	workers := opts.NumWorkers
	if workers <= 0 {
		workers = 1
	}

	var wg sync.WaitGroup
	errCh := make(chan error, workers)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, job := range jobs {
				if !atomic.CompareAndSwapInt32(&job.claimed, 0, 1) {
					continue
				}
				if err := processJob(ctx, job, opts); err != nil {
					errCh <- fmt.Errorf("copier: %s: %w", job.File.Path, err)
					return
				}
			}
		}()
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

func processJob(ctx context.Context, job *Job, opts Options) error {
	f := job.File
	dst := destPath(opts, f)

	var err error
	switch {
	case f.IsDir:
		err = os.MkdirAll(dst, 0o700)
	case isControlFile(f):
		err = copyWhole(opts, f, dst)
	case f.IsDataFile && !f.IsCFS:
		err = copyDataFile(ctx, opts, f, dst)
	default:
		err = copyOtherRegular(opts, f, dst)
	}
	if err == nil && opts.Progress != nil && f.WriteSize > 0 {
		opts.Progress.Add(f.WriteSize)
	}
	return err
}

// copyWhole copies a regular file byte-for-byte, recording its CRC and
// size - used for the cluster control file and CFS payloads.
func copyWhole(opts Options, f *catalog.File, dst string) error {
	src := opts.Source.Resolve(f)
	in, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			f.WriteSize = catalog.NotFound
			return nil
		}
		return err
	}
	defer func() { _ = in.Close() }()

	if err := ensureParentDir(dst); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.Mode.Perm())
	if err != nil {
		return err
	}
	crcWriter := blockstream.NewCRCWriter(out, blockstream.CRCCastagnoli)
	n, copyErr := io.Copy(crcWriter, in)
	closeErr := out.Close()
	if copyErr != nil {
		return copyErr
	}
	if closeErr != nil {
		return closeErr
	}
	f.WriteSize = n
	f.CRC = crcWriter.Sum32()
	f.CompressAlg = ""
	return nil
}

// copyOtherRegular implements step 4 of the per-file loop: carry over
// an unchanged file from the parent when its mtime predates the
// parent's start time and its CRC matches, otherwise copy whole.
func copyOtherRegular(opts Options, f *catalog.File, dst string) error {
	src := opts.Source.Resolve(f)
	info, err := os.Stat(src)
	if err != nil {
		if os.IsNotExist(err) {
			f.WriteSize = catalog.NotFound
			return nil
		}
		return err
	}

	if opts.Parent != nil && f.ExistsInPrev && info.ModTime().Before(opts.Parent.StartTime) {
		if matchesParentCRC(opts, f) {
			f.CarriedOver = true
			f.WriteSize = catalog.BytesInvalid
			return nil
		}
	}

	return copyWhole(opts, f, dst)
}

// matchesParentCRC recomputes the CRC of the file as it exists in the
// current source location and compares it to the record this File had
// in the parent backup's filelist.
func matchesParentCRC(opts Options, f *catalog.File) bool {
	if opts.Parent == nil {
		return false
	}
	parentFiles, err := catalog.ReadFilelist(opts.Layout.BackupDir(opts.Parent.ID))
	if err != nil {
		return false
	}
	for _, pf := range parentFiles {
		if pf.Path == f.Path && pf.ExternalDirNum == f.ExternalDirNum {
			src := opts.Source.Resolve(f)
			data, err := os.ReadFile(src)
			if err != nil {
				return false
			}
			return blockstream.Compute(data, blockstream.CRCCastagnoli) == pf.CRC
		}
	}
	return false
}

// copyDataFile implements step 3 of the per-file loop: the per-block
// read/verify/compress loop over a data file's own page map.
func copyDataFile(ctx context.Context, opts Options, f *catalog.File, dst string) error {
	src := opts.Source.Resolve(f)
	in, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			f.WriteSize = catalog.NotFound
			return nil
		}
		return err
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	nblocks := uint32(info.Size() / page.Size)

	if err := ensureParentDir(dst); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.Mode.Perm())
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	writer := blockstream.NewWriter(out, blockstream.CRCCastagnoli)
	absoluteBase := uint32(f.SegNo) * relsegSize

	copyAll := f.PageMap == nil || f.PagemapIsAbsent || !f.ExistsInPrev
	wroteAny := false

	truncated := false
	if err := walkBlocks(nblocks, f, copyAll, func(blockNo uint32) error {
		if truncated {
			return nil
		}
		if opts.Interrupted != nil && opts.Interrupted() {
			return errInterrupted
		}
		buf, outcome, err := prepareBlock(ctx, in, blockNo, absoluteBase+blockNo, f, opts)
		if err != nil {
			return err
		}
		switch outcome {
		case blockTruncated:
			truncated = true
			return writer.WriteTruncation(blockNo)
		case blockSkip:
			return nil
		default:
			wroteAny = true
			return writeCompressedBlock(writer, opts, blockNo, buf)
		}
	}); err != nil {
		return err
	}

	if err := out.Sync(); err != nil {
		return err
	}
	f.WriteSize = writer.BytesWritten()
	f.CRC = writer.CRC32()
	f.CompressAlg = string(opts.Alg)
	f.NBlocksSource = int64(nblocks)
	_ = wroteAny
	return nil
}

// relsegSize is RELSEG_SIZE: the block count of one relation segment
// (1GiB worth of 8KiB pages), used to translate a segment-relative
// block number into an absolute one for checksum/PTRACK purposes.
const relsegSize = 131072

func walkBlocks(nblocks uint32, f *catalog.File, all bool, fn func(uint32) error) error {
	if all {
		for b := uint32(0); b < nblocks; b++ {
			if err := fn(b); err != nil {
				return err
			}
		}
		return nil
	}
	var outerErr error
	f.PageMap.Each(nblocks, func(b uint32) {
		if outerErr != nil {
			return
		}
		outerErr = fn(b)
	})
	return outerErr
}

func writeCompressedBlock(w *blockstream.Writer, opts Options, blockNo uint32, buf []byte) error {
	if opts.Alg == page.None || opts.Alg == "" {
		return w.WriteBlock(blockNo, int32(page.Size), buf)
	}
	compressed, err := page.Compress(opts.Alg, opts.Level, buf)
	if err != nil || len(compressed) >= page.Size {
		return w.WriteBlock(blockNo, int32(page.Size), buf)
	}
	return w.WriteBlock(blockNo, int32(len(compressed)), compressed)
}
