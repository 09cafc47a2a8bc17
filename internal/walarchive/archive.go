package walarchive

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// PushOptions configures one archive-push invocation: PostgreSQL's
// archive_command calling back with one completed WAL segment to copy
// into the archive directory.
type PushOptions struct {
	Dir         string
	Compress    bool
	OverwriteOK bool
}

// Push copies srcPath (one WAL segment or .history file PostgreSQL
// asks archive_command to preserve) into opts.Dir, atomically via a
// temp-file-then-rename swap so a reader never observes a partial
// segment, refusing to clobber a differently-sized existing copy
// unless opts.OverwriteOK.
func Push(srcPath string, opts PushOptions) error {
	name := filepath.Base(srcPath)
	if opts.Compress {
		name += ".gz"
	}
	dst := filepath.Join(opts.Dir, name)

	if !opts.OverwriteOK {
		if st, err := os.Stat(dst); err == nil {
			srcSt, serr := os.Stat(srcPath)
			if serr == nil && !sameSize(st, srcSt, opts.Compress) {
				return fmt.Errorf("walarchive: refusing to overwrite %s with a differently-sized segment", dst)
			}
			return nil
		}
	}

	if err := os.MkdirAll(opts.Dir, 0o700); err != nil {
		return fmt.Errorf("walarchive: mkdir %s: %w", opts.Dir, err)
	}

	in, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("walarchive: open %s: %w", srcPath, err)
	}
	defer func() { _ = in.Close() }()

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("walarchive: create %s: %w", tmp, err)
	}

	var w io.Writer = out
	var gz *gzip.Writer
	if opts.Compress {
		gz = gzip.NewWriter(out)
		w = gz
	}
	if _, err := io.Copy(w, in); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("walarchive: copy %s to %s: %w", srcPath, tmp, err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			_ = out.Close()
			_ = os.Remove(tmp)
			return fmt.Errorf("walarchive: flush gzip for %s: %w", tmp, err)
		}
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("walarchive: fsync %s: %w", tmp, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("walarchive: close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("walarchive: rename %s to %s: %w", tmp, dst, err)
	}
	return nil
}

func sameSize(existing, src os.FileInfo, compressed bool) bool {
	if compressed {
		// a compressed copy's size can't be compared to the source's
		// raw size; treat any existing compressed copy as authoritative.
		return true
	}
	return existing.Size() == src.Size()
}

// Get copies one archived WAL segment (plain or .gz) named segName out
// of dir to destPath, as PostgreSQL's restore_command expects:
// segName is provided by the server, destPath is where it must land.
func Get(segName, destPath, dir string) error {
	path, gzipped, ok := findSegment(dir, segName)
	if !ok {
		return fmt.Errorf("walarchive: segment %s not found in %s", segName, dir)
	}

	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("walarchive: open %s: %w", path, err)
	}
	defer func() { _ = in.Close() }()

	var r io.Reader = in
	if gzipped {
		gz, err := gzip.NewReader(in)
		if err != nil {
			return fmt.Errorf("walarchive: gunzip %s: %w", path, err)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	tmp := destPath + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("walarchive: create %s: %w", tmp, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("walarchive: copy %s to %s: %w", path, tmp, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("walarchive: close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, destPath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("walarchive: rename %s to %s: %w", tmp, destPath, err)
	}
	return nil
}
