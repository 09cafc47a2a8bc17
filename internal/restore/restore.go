// Package restore implements the restore pipeline (C9): replaying a
// backup's ancestor chain onto a destination data directory.
package restore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/vbp1/pgbackup/internal/blockstream"
	"github.com/vbp1/pgbackup/internal/catalog"
	"github.com/vbp1/pgbackup/internal/page"
)

// TablespaceRemap maps an old on-disk tablespace path (as recorded in
// the backup's symlinks) to the path it should point at after
// restore.
type TablespaceRemap map[string]string

// Options configures one restore.
type Options struct {
	Layout      *catalog.Layout
	TargetID    string // backup to restore up to
	DestDataDir string
	ExternalDirs map[int]string // slot -> destination, for external directories

	Remap TablespaceRemap

	// NoValidate skips the ChainOK requirement, restoring best-effort
	// from whatever ancestors exist.
	NoValidate bool

	// AsReplica, when true, writes a minimal recovery configuration
	// next to the restored data directory after the file replay.
	AsReplica   bool
	PrimaryConn string
	RecoveryTargetTimeline string
}

// Result summarises one completed restore.
type Result struct {
	Chain       []*catalog.Backup // root FULL first, TargetID last
	BytesWritten int64
}

// Restore replays opts.TargetID's ancestor chain onto opts.DestDataDir.
func Restore(opts Options) (Result, error) {
	backups, err := catalog.ListBackups(opts.Layout)
	if err != nil {
		return Result{}, fmt.Errorf("restore: listing backups: %w", err)
	}
	index := catalog.IndexByID(backups)
	target, ok := index[opts.TargetID]
	if !ok {
		return Result{}, fmt.Errorf("restore: backup %s not found", opts.TargetID)
	}

	result, root := catalog.ScanParentChain(index, target)
	if !opts.NoValidate {
		switch result {
		case catalog.ChainBroken:
			return Result{}, fmt.Errorf("restore: parent chain for %s is broken at %s", opts.TargetID, root.ID)
		case catalog.ChainHasInvalid:
			return Result{}, fmt.Errorf("restore: parent chain for %s has an invalid ancestor %s", opts.TargetID, root.ID)
		}
	}

	chain := buildChain(index, target)

	if err := os.MkdirAll(opts.DestDataDir, 0o700); err != nil {
		return Result{}, fmt.Errorf("restore: creating %s: %w", opts.DestDataDir, err)
	}

	var bytesWritten int64
	for _, b := range chain {
		n, err := replayBackup(opts, b)
		if err != nil {
			return Result{}, fmt.Errorf("restore: replaying %s: %w", b.ID, err)
		}
		bytesWritten += n
	}

	if err := applyFinalTruncations(opts, chain); err != nil {
		return Result{}, fmt.Errorf("restore: applying final truncations: %w", err)
	}

	if opts.AsReplica {
		if err := writeRecoveryConfig(opts, target); err != nil {
			return Result{}, fmt.Errorf("restore: writing recovery configuration: %w", err)
		}
	}

	return Result{Chain: chain, BytesWritten: bytesWritten}, nil
}

// buildChain walks parent links from target down to the base FULL
// backup and returns them oldest (root) first.
func buildChain(index map[string]*catalog.Backup, target *catalog.Backup) []*catalog.Backup {
	var reversed []*catalog.Backup
	b := target
	for {
		reversed = append(reversed, b)
		if b.ParentID == "" {
			break
		}
		parent, ok := index[b.ParentID]
		if !ok {
			break
		}
		b = parent
	}
	chain := make([]*catalog.Backup, len(reversed))
	for i, b := range reversed {
		chain[len(reversed)-1-i] = b
	}
	return chain
}

func destPath(opts Options, f *catalog.File) string {
	if f.ExternalDirNum == 0 {
		return filepath.Join(opts.DestDataDir, f.Path)
	}
	return filepath.Join(opts.ExternalDirs[f.ExternalDirNum], f.Path)
}

func sourcePath(opts Options, b *catalog.Backup, f *catalog.File) string {
	if f.ExternalDirNum == 0 {
		return filepath.Join(opts.Layout.DatabaseDir(b.ID), f.Path)
	}
	return filepath.Join(opts.Layout.ExternalDir(b.ID, f.ExternalDirNum), f.Path)
}

// replayBackup applies one backup layer's filelist onto the
// destination, in path-ascending order.
func replayBackup(opts Options, b *catalog.Backup) (int64, error) {
	files, err := catalog.ReadFilelist(opts.Layout.BackupDir(b.ID))
	if err != nil {
		return 0, fmt.Errorf("reading filelist for %s: %w", b.ID, err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	var written int64
	for _, f := range files {
		n, err := replayFile(opts, b, f)
		if err != nil {
			return written, fmt.Errorf("file %s: %w", f.Path, err)
		}
		written += n
	}
	return written, nil
}

func replayFile(opts Options, b *catalog.Backup, f *catalog.File) (int64, error) {
	dst := destPath(opts, f)

	if f.IsDir {
		return 0, os.MkdirAll(dst, f.Mode.Perm())
	}

	if f.Linked != "" {
		target := remapTablespaceLink(opts.Remap, f.Linked)
		_ = os.Remove(dst)
		if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
			return 0, err
		}
		return 0, os.Symlink(target, dst)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return 0, err
	}

	if !f.IsDataFile || f.IsCFS {
		return replayWholeFile(opts, b, f, dst)
	}
	return replayDataFile(opts, b, f, dst)
}

// replayWholeFile copies a non-data file, following the "carried over"
// pointer to the ancestor that actually stores its payload when the
// current layer recorded no change.
func replayWholeFile(opts Options, b *catalog.Backup, f *catalog.File, dst string) (int64, error) {
	if f.CarriedOver {
		return 0, nil // an earlier layer in the chain already wrote dst's bytes
	}

	src := sourcePath(opts, b, f)
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.Mode.Perm())
	if err != nil {
		return 0, err
	}
	defer out.Close()

	n, err := io.Copy(out, in)
	return n, err
}

// replayDataFile streams f's block-record payload onto dst, applying
// each record as an overlay in ascending block order. The destination
// is opened read-write-or-create so earlier (older-ancestor) layers'
// bytes survive at blocks the current layer did not rewrite.
func replayDataFile(opts Options, b *catalog.Backup, f *catalog.File, dst string) (int64, error) {
	if f.CarriedOver {
		return 0, nil // nothing to apply at this layer; an earlier layer wrote the bytes
	}

	src := sourcePath(opts, b, f)
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_RDWR, f.Mode.Perm())
	if err != nil {
		return 0, err
	}
	defer out.Close()

	alg := page.Algorithm(f.CompressAlg)
	reader := blockstream.NewReader(in, alg, 0)

	var written int64
	for {
		rec, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return written, err
		}
		if rec.Truncated {
			if err := out.Truncate(int64(rec.Block) * int64(page.Size)); err != nil {
				return written, err
			}
			continue
		}
		if _, err := out.WriteAt(rec.Page, int64(rec.Block)*int64(page.Size)); err != nil {
			return written, err
		}
		written += int64(len(rec.Page))
	}
	return written, nil
}

// applyFinalTruncations trims every data file to the top backup's
// recorded block count, for files whose restored size exceeds it (a
// file that shrank between incremental backups otherwise keeps stale
// trailing blocks from an older, longer layer).
func applyFinalTruncations(opts Options, chain []*catalog.Backup) error {
	if len(chain) == 0 {
		return nil
	}
	top := chain[len(chain)-1]
	files, err := catalog.ReadFilelist(opts.Layout.BackupDir(top.ID))
	if err != nil {
		return err
	}
	for _, f := range files {
		if !f.IsDataFile || f.IsCFS || f.NBlocksSource == catalog.NBlocksInvalid {
			continue
		}
		dst := destPath(opts, f)
		st, err := os.Stat(dst)
		if err != nil {
			continue
		}
		want := f.NBlocksSource * int64(page.Size)
		if st.Size() > want {
			if fh, err := os.OpenFile(dst, os.O_WRONLY, 0); err == nil {
				_ = fh.Truncate(want)
				_ = fh.Close()
			}
		}
	}
	return nil
}

func remapTablespaceLink(remap TablespaceRemap, target string) string {
	if remap == nil {
		return target
	}
	if mapped, ok := remap[target]; ok {
		return mapped
	}
	return target
}

// writeRecoveryConfig writes a minimal standby.signal + postgresql.auto.conf
// recovery stanza, the PostgreSQL 15+ convention for "restore as replica".
func writeRecoveryConfig(opts Options, target *catalog.Backup) error {
	signal := filepath.Join(opts.DestDataDir, "standby.signal")
	if err := os.WriteFile(signal, nil, 0o644); err != nil {
		return err
	}

	var conf string
	if opts.PrimaryConn != "" {
		conf += fmt.Sprintf("primary_conninfo = '%s'\n", opts.PrimaryConn)
	}
	if opts.RecoveryTargetTimeline != "" {
		conf += fmt.Sprintf("recovery_target_timeline = '%s'\n", opts.RecoveryTargetTimeline)
	} else {
		conf += "recovery_target_timeline = 'latest'\n"
	}

	path := filepath.Join(opts.DestDataDir, "postgresql.auto.conf")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(conf)
	return err
}
