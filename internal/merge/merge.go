// Package merge implements folding one incremental backup directly
// into its FULL parent, producing a single consolidated FULL backup
// and freeing the incremental's directory. Deeper chains are merged by
// calling Merge repeatedly, oldest incremental first.
package merge

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/vbp1/pgbackup/internal/blockstream"
	"github.com/vbp1/pgbackup/internal/catalog"
	"github.com/vbp1/pgbackup/internal/page"
)

// Options configures one merge.
type Options struct {
	Layout   *catalog.Layout
	TargetID string // the incremental backup to fold into its parent
}

// Result reports the backup ID the merge produced (the parent's,
// carrying target's end-state) and how many files it touched.
type Result struct {
	MergedID string
	Files    int
}

// Merge folds the backup identified by opts.TargetID into its
// immediate parent. The parent must be a FULL backup; merging a longer
// chain means calling Merge once per incremental level, from the
// oldest incremental down to the newest, each time re-resolving
// TargetID's (now-current) parent.
func Merge(opts Options) (Result, error) {
	layout := opts.Layout
	backups, err := catalog.ListBackups(layout)
	if err != nil {
		return Result{}, fmt.Errorf("merge: listing backups: %w", err)
	}
	index := catalog.IndexByID(backups)

	target, ok := index[opts.TargetID]
	if !ok {
		return Result{}, fmt.Errorf("merge: backup %s not found", opts.TargetID)
	}
	if target.Mode == catalog.ModeFull {
		return Result{}, fmt.Errorf("merge: %s is a FULL backup, nothing to merge", target.ID)
	}
	parent, ok := index[target.ParentID]
	if !ok {
		return Result{}, fmt.Errorf("merge: parent %s of %s not found", target.ParentID, target.ID)
	}
	if parent.Mode != catalog.ModeFull {
		return Result{}, fmt.Errorf("merge: parent %s of %s is itself incremental; merge it into its own parent first", parent.ID, target.ID)
	}
	if res, _ := catalog.ScanParentChain(index, target); res != catalog.ChainOK {
		return Result{}, fmt.Errorf("merge: chain for %s is not healthy, refusing to merge", target.ID)
	}

	targetFiles, err := catalog.ReadFilelist(layout.BackupDir(target.ID))
	if err != nil {
		return Result{}, fmt.Errorf("merge: reading %s filelist: %w", target.ID, err)
	}
	parentFiles, err := catalog.ReadFilelist(layout.BackupDir(parent.ID))
	if err != nil {
		return Result{}, fmt.Errorf("merge: reading %s filelist: %w", parent.ID, err)
	}
	parentByPath := make(map[string]*catalog.File, len(parentFiles))
	for _, f := range parentFiles {
		parentByPath[f.Path] = f
	}

	merged := make([]*catalog.File, 0, len(targetFiles))
	for _, tf := range targetFiles {
		pf := parentByPath[tf.Path]
		out, err := mergeOneFile(layout, parent, target, pf, tf)
		if err != nil {
			return Result{}, fmt.Errorf("merge: file %s: %w", tf.Path, err)
		}
		merged = append(merged, out)
	}

	keep := make(map[string]bool, len(targetFiles))
	for _, f := range targetFiles {
		keep[f.Path] = true
	}
	for _, pf := range parentFiles {
		if !keep[pf.Path] {
			_ = os.RemoveAll(destPath(layout, parent.ID, pf))
		}
	}

	dir := layout.BackupDir(parent.ID)
	dataBytes, err := catalog.WriteFilelist(dir, merged)
	if err != nil {
		return Result{}, fmt.Errorf("merge: writing merged filelist: %w", err)
	}

	parent.StopLSN = target.StopLSN
	parent.RecoveryXID = target.RecoveryXID
	parent.RecoveryTime = target.RecoveryTime
	parent.EndTime = target.EndTime
	parent.DataBytes = dataBytes
	parent.Status = catalog.StatusDone
	if err := catalog.WriteControl(dir, parent); err != nil {
		return Result{}, fmt.Errorf("merge: writing merged control file: %w", err)
	}

	repointChildren(layout, backups, target.ID, parent.ID)

	if err := os.RemoveAll(layout.BackupDir(target.ID)); err != nil {
		return Result{}, fmt.Errorf("merge: removing merged-away backup %s: %w", target.ID, err)
	}

	return Result{MergedID: parent.ID, Files: len(merged)}, nil
}

// repointChildren rewrites any backup whose ParentID was targetID
// (further incrementals stacked on top of the merged-away backup) to
// point at newParentID instead.
func repointChildren(layout *catalog.Layout, backups []*catalog.Backup, targetID, newParentID string) {
	for _, b := range backups {
		if b.ID == targetID || b.ParentID != targetID {
			continue
		}
		b.ParentID = newParentID
		if err := catalog.WriteControl(layout.BackupDir(b.ID), b); err != nil {
			// best-effort: a stale parent-backup-id leaves the chain
			// scan reporting ChainBroken, which is surfaced on the next
			// show/validate rather than silently corrupting data.
			continue
		}
	}
}

func destPath(layout *catalog.Layout, backupID string, f *catalog.File) string {
	if f.ExternalDirNum > 0 {
		return filepath.Join(layout.ExternalDir(backupID, f.ExternalDirNum), f.Path)
	}
	return filepath.Join(layout.DatabaseDir(backupID), f.Path)
}

// mergeOneFile produces the merged copy of one target-backup file
// under the parent's directory and returns its post-merge catalog
// entry (CarriedOver always cleared: after merging, the parent's copy
// is current).
func mergeOneFile(layout *catalog.Layout, parent, target *catalog.Backup, pf, tf *catalog.File) (*catalog.File, error) {
	out := *tf
	out.CarriedOver = false

	dst := destPath(layout, parent.ID, tf)

	switch {
	case tf.IsDir:
		if err := os.MkdirAll(dst, tf.Mode.Perm()|0o700); err != nil {
			return nil, err
		}
		return &out, nil

	case tf.Linked != "":
		_ = os.Remove(dst)
		if err := os.Symlink(tf.Linked, dst); err != nil {
			return nil, err
		}
		return &out, nil

	case tf.CarriedOver:
		// parent's copy is already correct and up to date; metadata
		// still moves forward to target's (NBlocksSource etc. may have
		// grown even when no new blocks were copied).
		return &out, nil

	case tf.IsDataFile:
		written, crc, err := mergeDataFile(layout, parent, target, pf, tf, dst)
		if err != nil {
			return nil, err
		}
		out.WriteSize = written
		out.CRC = crc
		out.CompressAlg = string(parent.CompressAlg)
		return &out, nil

	default:
		if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
			return nil, err
		}
		src := filepath.Join(layout.DatabaseDir(target.ID), tf.Path)
		if tf.ExternalDirNum > 0 {
			src = filepath.Join(layout.ExternalDir(target.ID, tf.ExternalDirNum), tf.Path)
		}
		written, err := copyWholeFile(src, dst)
		if err != nil {
			return nil, err
		}
		out.WriteSize = written
		return &out, nil
	}
}

func copyWholeFile(src, dst string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return 0, err
	}
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer func() { _ = in.Close() }()
	tmp := dst + ".merge.tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return 0, err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	return n, nil
}

// mergeDataFile decodes parent's block stream for this relation
// segment (if any), overlays target's blocks on top (target is
// strictly newer), truncates to target's recorded block count, and
// re-encodes the result as a fresh block stream using parent's
// compression settings so the merged backup is internally consistent.
func mergeDataFile(layout *catalog.Layout, parent, target *catalog.Backup, pf, tf *catalog.File, dst string) (int64, uint32, error) {
	pages := map[uint32][]byte{}

	if pf != nil && !pf.CarriedOver {
		if err := loadBlocks(layout, parent.ID, pf, pages); err != nil {
			return 0, 0, fmt.Errorf("reading parent blocks: %w", err)
		}
	}
	if err := loadBlocks(layout, target.ID, tf, pages); err != nil {
		return 0, 0, fmt.Errorf("reading target blocks: %w", err)
	}

	if tf.NBlocksSource >= 0 {
		for blk := range pages {
			if int64(blk) >= tf.NBlocksSource {
				delete(pages, blk)
			}
		}
	}

	blocks := make([]uint32, 0, len(pages))
	for blk := range pages {
		blocks = append(blocks, blk)
	}
	sortUint32(blocks)

	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return 0, 0, err
	}
	tmp := dst + ".merge.tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, 0, err
	}
	w := blockstream.NewWriter(f, blockstream.CRCCastagnoli)
	alg := page.Algorithm(parent.CompressAlg)
	for _, blk := range blocks {
		raw := pages[blk]
		if alg == page.None || alg == "" {
			if err := w.WriteBlock(blk, int32(page.Size), raw); err != nil {
				_ = f.Close()
				_ = os.Remove(tmp)
				return 0, 0, err
			}
			continue
		}
		compressed, cerr := page.Compress(alg, parent.CompressLevel, raw)
		if cerr != nil {
			if err := w.WriteBlock(blk, int32(page.Size), raw); err != nil {
				_ = f.Close()
				_ = os.Remove(tmp)
				return 0, 0, err
			}
			continue
		}
		if err := w.WriteBlock(blk, int32(len(compressed)), compressed); err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
			return 0, 0, err
		}
	}
	if tf.NBlocksSource >= 0 {
		if err := w.WriteTruncation(uint32(tf.NBlocksSource)); err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
			return 0, 0, err
		}
	}

	written := w.BytesWritten()
	crc := w.CRC32()
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return 0, 0, err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return 0, 0, err
	}
	return written, crc, nil
}

func loadBlocks(layout *catalog.Layout, backupID string, f *catalog.File, into map[uint32][]byte) error {
	path := filepath.Join(layout.DatabaseDir(backupID), f.Path)
	if f.ExternalDirNum > 0 {
		path = filepath.Join(layout.ExternalDir(backupID, f.ExternalDirNum), f.Path)
	}
	in, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer func() { _ = in.Close() }()

	r := blockstream.NewReader(in, page.Algorithm(f.CompressAlg), 0)
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if rec.Truncated {
			for blk := range into {
				if blk >= rec.Block {
					delete(into, blk)
				}
			}
			continue
		}
		cp := make([]byte, len(rec.Page))
		copy(cp, rec.Page)
		into[rec.Block] = cp
	}
}

func sortUint32(s []uint32) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
