// Package walarchive implements the WAL archive waiter (C7): polling
// an archive directory (or a streaming session's own pg_wal) until a
// segment containing a target LSN has safely landed on disk.
package walarchive

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/vbp1/pgbackup/internal/wal"
)

// pollInterval mirrors the one-second poll loop described for the
// archive waiter.
const pollInterval = 1 * time.Second

// warnAfter is the "still waiting" warning threshold for a likely
// misconfigured archive_command.
const warnAfter = 30 * time.Second

// Options configures one Wait call.
type Options struct {
	Dir            string        // archive directory or backup's pg_wal
	Timeline       uint32
	TargetLSN      uint64
	SegmentBytes   int64
	WaitPrevious   bool          // wait for the segment *before* TargetLSN's, not its own
	ArchiveTimeout time.Duration // hard deadline
	ReplicaMode    bool          // allow fallback to last valid record after timeout/4
}

// Result is what Wait resolves TargetLSN to: the segment it found, and
// (replica-mode fallback only) the effective LSN actually reached,
// which may be lower than TargetLSN.
type Result struct {
	SegmentName string
	EffectiveLSN uint64
	FellBack    bool
}

// Wait polls opts.Dir until the segment containing opts.TargetLSN (or
// its predecessor, if opts.WaitPrevious) exists and can be read,
// surfacing a warning after warnAfter and failing hard after
// opts.ArchiveTimeout.
func Wait(ctx context.Context, opts Options) (Result, error) {
	segBytes := opts.SegmentBytes
	if segBytes <= 0 {
		segBytes = wal.SegmentBytes
	}
	targetSegLSN := opts.TargetLSN
	if opts.WaitPrevious {
		targetSegLSN -= uint64(segBytes)
	}
	segName := wal.SegmentName(opts.Timeline, targetSegLSN, segBytes)

	deadline := time.Now().Add(opts.ArchiveTimeout)
	warned := false
	started := time.Now()

	for {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}

		path, gzipped, ok := findSegment(opts.Dir, segName)
		if ok {
			if opts.WaitPrevious {
				return Result{SegmentName: segName, EffectiveLSN: opts.TargetLSN}, nil
			}
			valid, err := verifyContainsLSN(path, gzipped, opts.TargetLSN, segBytes)
			if err != nil {
				slog.Warn("walarchive: failed to verify archived segment", "segment", segName, "error", err)
			} else if valid {
				return Result{SegmentName: segName, EffectiveLSN: opts.TargetLSN}, nil
			}

			if opts.ReplicaMode && time.Since(started) > opts.ArchiveTimeout/4 {
				fallback, ferr := lastValidRecordBefore(path, gzipped, opts.TargetLSN, segBytes, opts.Timeline)
				if ferr == nil {
					return Result{SegmentName: segName, EffectiveLSN: fallback, FellBack: true}, nil
				}
			}
		}

		if !warned && time.Since(started) > warnAfter {
			slog.Warn("walarchive: still waiting for WAL segment", "segment", segName, "waited", time.Since(started))
			warned = true
		}
		if time.Now().After(deadline) {
			return Result{}, fmt.Errorf("walarchive: timed out after %s waiting for segment %s", opts.ArchiveTimeout, segName)
		}

		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func findSegment(dir, name string) (path string, gzipped bool, ok bool) {
	plain := filepath.Join(dir, name)
	if st, err := os.Stat(plain); err == nil && !st.IsDir() {
		return plain, false, true
	}
	gz := plain + ".gz"
	if st, err := os.Stat(gz); err == nil && !st.IsDir() {
		return gz, true, true
	}
	return "", false, false
}

func readSegmentFile(path string, gzipped bool) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var r io.Reader = f
	if gzipped {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	}
	return io.ReadAll(r)
}

// verifyContainsLSN reports whether the segment file holds more bytes
// than targetLSN's offset within the segment, guarding against a
// truncated or still-being-written archive copy. It is a length check
// only: no record at targetLSN is decoded.
func verifyContainsLSN(path string, gzipped bool, targetLSN uint64, segBytes int64) (bool, error) {
	data, err := readSegmentFile(path, gzipped)
	if err != nil {
		return false, err
	}
	minLen := int(targetLSN % uint64(segBytes))
	return len(data) > minLen, nil
}

// lastValidRecordBefore returns the LSN just past the segment's
// readable bytes (segment start plus data length), capped at
// targetLSN, for the replica-mode fallback when the exact target never
// arrives within the deadline. Record boundaries are not located, so
// the returned LSN need not begin a decodable record.
func lastValidRecordBefore(path string, gzipped bool, targetLSN uint64, segBytes int64, timeline uint32) (uint64, error) {
	data, err := readSegmentFile(path, gzipped)
	if err != nil {
		return 0, err
	}
	_, segStart, err := wal.SegmentStartLSN(filepath.Base(trimGz(path)), segBytes)
	if err != nil {
		return 0, err
	}

	var lastSeen uint64
	found := false
	err = wal.ScanSegment(data, func(ref wal.BlockRef) {
		// ScanSegment doesn't report record boundaries directly; as a
		// conservative stand-in, any record we can decode at all means
		// the segment is valid up to the amount of data actually read.
		lastSeen = segStart + uint64(len(data))
		found = true
		_ = ref
	})
	if err != nil {
		return 0, err
	}
	if !found || lastSeen > targetLSN {
		lastSeen = segStart + uint64(len(data))
	}
	if lastSeen > targetLSN {
		lastSeen = targetLSN
	}
	return lastSeen, nil
}

func trimGz(path string) string {
	if filepath.Ext(path) == ".gz" {
		return path[:len(path)-3]
	}
	return path
}
