package pagemap

import (
	"context"
	"fmt"

	"github.com/vbp1/pgbackup/internal/catalog"
)

// relsegSize is RELSEG_SIZE, the block count of one relation segment;
// the server packs its per-relation bitmap across all segments of a
// relation contiguously, eight blocks per byte.
const relsegSize = 131072

// buildFromPTrack fetches each relation's server-side change bitmap
// once (keyed by tablespace+relfilenode, independent of segment) and
// slices each segment's file's own bitmap out of it at byte offset
// (RELSEG_SIZE/8)*segno, per spec.md §4.4.
func buildFromPTrack(ctx context.Context, files []*catalog.File, parent *catalog.Backup, deps BuildDeps) error {
	if deps.PTrack == nil {
		return fmt.Errorf("pagemap: PTRACK requested but no Database Client configured")
	}

	type relKey struct {
		tablespaceOid uint32
		relOid        uint32
	}
	bitmapCache := make(map[relKey][]byte)
	initCache := make(map[uint32]bool)

	for _, f := range files {
		if !f.IsDataFile || f.IsCFS {
			continue
		}
		f.ExistsInPrev = existedInParent(parent, deps, f)

		init, ok := initCache[f.DBOid]
		if !ok {
			var err error
			init, err = deps.PTrack.IsPtrackInit(ctx, f.DBOid)
			if err != nil {
				return fmt.Errorf("pagemap: ptrack_init(%d): %w", f.DBOid, err)
			}
			initCache[f.DBOid] = init
		}
		if init {
			// server warns its bitmap is unreliable: fall back to a
			// full copy of every block in this file.
			f.PagemapIsAbsent = true
			continue
		}

		key := relKey{f.TablespaceOid, f.RelOid}
		bitmap, ok := bitmapCache[key]
		if !ok {
			var err error
			bitmap, err = deps.PTrack.GetAndClear(ctx, f.TablespaceOid, f.RelOid)
			if err != nil {
				return fmt.Errorf("pagemap: ptrack_get_and_clear(%d,%d): %w", f.TablespaceOid, f.RelOid, err)
			}
			bitmapCache[key] = bitmap
		}

		offset := (relsegSize / 8) * f.SegNo
		if offset >= len(bitmap) {
			// relation shorter than this segment's slice: nothing set
			f.PageMap = catalog.NewBitmap(0)
			continue
		}
		end := offset + relsegSize/8
		if end > len(bitmap) {
			end = len(bitmap)
		}
		f.PageMap = bitmapFromPacked(bitmap[offset:end])
	}
	return nil
}

// bitmapFromPacked expands a server-packed eight-blocks-per-byte slice
// into a catalog.Bitmap, whose own packing is identical, so this is
// effectively a documented pass-through copy.
func bitmapFromPacked(packed []byte) *catalog.Bitmap {
	cp := make([]byte, len(packed))
	copy(cp, packed)
	return catalog.NewBitmapFromBytes(cp)
}
