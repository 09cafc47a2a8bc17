// Package pagemap implements the page-map builder (C4): for
// incremental backup modes, computing which blocks of each data file
// must be copied.
package pagemap

import (
	"context"

	"github.com/vbp1/pgbackup/internal/catalog"
)

// PTrackClient is the subset of the Database Client pagemap needs for
// PTRACK mode: the per-relation server-side change bitmap, and the
// per-database "bulk operation bypassed tracking" flag.
type PTrackClient interface {
	GetAndClear(ctx context.Context, tablespaceOid, relfilenode uint32) ([]byte, error)
	IsPtrackInit(ctx context.Context, dbOid uint32) (bool, error)
}

// Build computes the per-file page map for every data file in files,
// according to mode. FULL and DELTA need no bitmap (DELTA's per-block
// filter happens at copy time via the parent's start-LSN, see
// internal/copier.prepareBlock); PAGE and PTRACK populate
// File.PageMap.
func Build(ctx context.Context, mode catalog.Mode, files []*catalog.File, parent *catalog.Backup, deps BuildDeps) error {
	switch mode {
	case catalog.ModeFull, catalog.ModeDelta:
		for _, f := range files {
			if !f.IsDataFile || f.IsCFS {
				continue
			}
			f.ExistsInPrev = parent != nil && existedInParent(parent, deps, f)
		}
		return nil
	case catalog.ModePage:
		return buildFromWAL(ctx, files, parent, deps)
	case catalog.ModePtrack:
		return buildFromPTrack(ctx, files, parent, deps)
	default:
		return nil
	}
}

// BuildDeps bundles the collaborators Build needs beyond the plain
// catalog data: WAL segment access for PAGE mode, the Database Client
// for PTRACK mode, and the parent's filelist for "does this file exist
// in the parent" checks.
type BuildDeps struct {
	ParentFiles  []*catalog.File // parent backup's filelist, for ExistsInPrev checks
	WALDir       string          // archive directory to scan, PAGE mode only
	Timeline     uint32
	SegmentBytes int64
	PTrack       PTrackClient
}

func existedInParent(parent *catalog.Backup, deps BuildDeps, f *catalog.File) bool {
	if parent == nil {
		return false
	}
	for _, pf := range deps.ParentFiles {
		if pf.Path == f.Path && pf.ExternalDirNum == f.ExternalDirNum {
			return true
		}
	}
	return false
}
