// Package copier implements the parallel file copier (C5): a fixed-size
// worker pool that claims inventory files, reads and verifies data
// pages, compresses them, and writes a block-stream payload into the
// backup tree.
package copier

import (
	"context"
	"os"
	"path/filepath"

	"github.com/vbp1/pgbackup/internal/catalog"
	"github.com/vbp1/pgbackup/internal/page"
)

// PTrackFetcher fetches one block through the Database Client, the
// last-resort fallback when a page fails its checksum after every
// retry and PTRACK is available.
type PTrackFetcher interface {
	FetchBlock(ctx context.Context, tablespaceOid, dbOid, relOid, block uint32) ([]byte, error)
}

// SourcePaths resolves a File's logical path to the absolute path it
// should be read from on the source host.
type SourcePaths struct {
	DataDir      string
	ExternalDirs map[int]string
}

// Resolve returns the absolute source path for f.
func (s SourcePaths) Resolve(f *catalog.File) string {
	if f.ExternalDirNum == 0 {
		return filepath.Join(s.DataDir, f.Path)
	}
	return filepath.Join(s.ExternalDirs[f.ExternalDirNum], f.Path)
}

// Options configures one copy session.
type Options struct {
	Source SourcePaths
	Layout *catalog.Layout
	ID     string // backup ID; destination paths are Layout.DatabaseDir(ID)/... or Layout.ExternalDir(ID, n)/...

	Mode             catalog.Mode
	Alg              page.Algorithm
	Level            int
	ChecksumsEnabled bool

	NumWorkers int

	// Parent is the immediate parent backup; nil for FULL. Used for
	// DELTA's per-block LSN filter and the carried-over-file check.
	Parent *catalog.Backup

	PTrack PTrackFetcher // nil if PTRACK is unavailable

	// Interrupted is polled between files and between blocks; a worker
	// observing it true aborts with errInterrupted.
	Interrupted func() bool

	Progress ProgressReporter
}

// Job wraps one inventory File with the atomic claim flag the worker
// pool test-and-sets before processing it.
type Job struct {
	File    *catalog.File
	claimed int32
}

// NewJobs wraps files as claimable Jobs, in the order callers want
// workers to observe them (the inventory's size-descending pass).
func NewJobs(files []*catalog.File) []*Job {
	jobs := make([]*Job, len(files))
	for i, f := range files {
		jobs[i] = &Job{File: f}
	}
	return jobs
}

// isControlFile reports whether f is the cluster control file, copied
// whole without page decoding (step 2 of the per-file loop).
func isControlFile(f *catalog.File) bool {
	return f.Path == "global/pg_control"
}

func destPath(opts Options, f *catalog.File) string {
	if f.ExternalDirNum == 0 {
		return filepath.Join(opts.Layout.DatabaseDir(opts.ID), f.Path)
	}
	return filepath.Join(opts.Layout.ExternalDir(opts.ID, f.ExternalDirNum), f.Path)
}

func ensureParentDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o700)
}
