// Package inventory implements the file inventory (C3): walking the
// data directory, classifying each entry, and producing the two sort
// passes the catalog-write and worker-pool stages need.
package inventory

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/vbp1/pgbackup/internal/catalog"
)

// MinEntries is the sanity floor below which a real data directory
// walk is assumed to indicate a permissions or concurrent-deletion
// error rather than a genuinely tiny cluster.
const MinEntries = 100

// ExternalDir is one caller-supplied external directory to inventory
// alongside the data directory, assigned slot numbers 1, 2, ... in
// call order.
type ExternalDir struct {
	Path string
}

// Tablespace is one cluster tablespace's OID/location pair, as
// reported by postgres.ListTablespaces. Its contents live outside
// DataDir; pg_tblspc/<Oid> inside DataDir is only a symlink pointing
// at Location.
type Tablespace struct {
	Oid      uint32
	Location string
}

// Options configures one inventory walk.
type Options struct {
	DataDir      string
	ExternalDirs []ExternalDir
	Tablespaces  []Tablespace
	// Streaming, when true, excludes pg_wal from the file-level walk:
	// WAL is added to the inventory from the streamed location after
	// the stop marker instead (spec.md §4.3).
	Streaming bool
}

// Walk enumerates Options.DataDir (depth-first) plus any external
// directories, classifies every entry, drops unlogged-table forks
// whose relation has an init fork, and returns the result sorted
// path-ascending (directory-creation order). Callers needing the
// worker-pool load-balancing order should call SortForCopy afterward.
func Walk(opts Options) ([]*catalog.File, error) {
	files, err := walkDir(opts.DataDir, 0, opts.Streaming)
	if err != nil {
		return nil, err
	}
	if len(files) < MinEntries {
		return nil, fmt.Errorf("inventory: only %d entries found under %s, refusing (permissions or concurrent deletion?)", len(files), opts.DataDir)
	}

	for _, ts := range opts.Tablespaces {
		tsFiles, err := walkTablespace(ts)
		if err != nil {
			return nil, fmt.Errorf("inventory: tablespace %d (%s): %w", ts.Oid, ts.Location, err)
		}
		files = append(files, tsFiles...)
	}

	for slot, ext := range opts.ExternalDirs {
		extFiles, err := walkDir(ext.Path, slot+1, false)
		if err != nil {
			return nil, fmt.Errorf("inventory: external directory %d (%s): %w", slot+1, ext.Path, err)
		}
		files = append(files, extFiles...)
	}

	files = dropUnloggedForks(files)

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func walkDir(root string, externalDirNum int, excludeWAL bool) ([]*catalog.File, error) {
	var out []*catalog.File
	root = filepath.Clean(root)

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil // concurrent deletion: drop silently
			}
			return err
		}
		rel, rerr := filepath.Rel(root, path)
		if rerr != nil {
			return rerr
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if excludeWAL && (rel == "pg_wal" || strings.HasPrefix(rel, "pg_wal/")) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		f := classify(root, rel, info, externalDirNum)
		out = append(out, f)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// walkTablespace walks a tablespace's real on-disk location (outside
// DataDir, reached through the pg_tblspc/<oid> symlink that walkDir
// records but does not descend into) and rewrites each resulting
// file's path as if it had been found nested under pg_tblspc/<oid>,
// stamping the tablespace and database OIDs that the pg_tblspc/<oid>
// prefix would otherwise have carried.
func walkTablespace(ts Tablespace) ([]*catalog.File, error) {
	nested, err := walkDir(ts.Location, 0, false)
	if err != nil {
		return nil, err
	}
	prefix := filepath.ToSlash(filepath.Join("pg_tblspc", strconv.FormatUint(uint64(ts.Oid), 10)))
	for _, f := range nested {
		f.TablespaceOid = ts.Oid
		if f.IsDataFile {
			if parts := strings.SplitN(f.Path, "/", 3); len(parts) >= 2 {
				if dbOid, err := strconv.ParseUint(parts[1], 10, 32); err == nil {
					f.DBOid = uint32(dbOid)
				}
			}
		}
		f.Path = prefix + "/" + f.Path
	}
	return nested, nil
}

// classify builds a File record for one walked entry: link target,
// mode bits, and (for files under the tablespace directory) relation
// OID/fork/segment parsing and CFS detection.
func classify(root, rel string, info os.FileInfo, externalDirNum int) *catalog.File {
	f := &catalog.File{
		Path:           rel,
		Mode:           info.Mode(),
		IsDir:          info.IsDir(),
		SizeSrc:        info.Size(),
		ExternalDirNum: externalDirNum,
		NBlocksSource:  catalog.NBlocksInvalid,
		ExistsInPrev:   false,
	}

	if info.Mode()&os.ModeSymlink != 0 {
		if target, err := os.Readlink(filepath.Join(root, rel)); err == nil {
			f.Linked = target
		}
		return f
	}

	if f.IsDir {
		return f
	}

	if isCFSContainer(root, rel) {
		f.IsDataFile = true
		f.IsCFS = true
		populateRelationFields(f, rel)
		return f
	}

	if looksLikeRelationFile(rel) {
		populateRelationFields(f, rel)
		if f.Fork != "" || f.DBOid != 0 || f.RelOid != 0 {
			f.IsDataFile = true
		}
	}
	return f
}

// isCFSContainer reports whether rel's directory (or an ancestor
// inside the tablespace tree) carries a pg_compression marker file,
// making every data file beneath it an opaque compressed payload.
func isCFSContainer(root, rel string) bool {
	dir := filepath.Dir(rel)
	for dir != "." && dir != "/" && dir != "" {
		if _, err := os.Stat(filepath.Join(root, dir, "pg_compression")); err == nil {
			return true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return false
}

// relationForkSuffixes lists the fork suffixes that may follow the
// underscore in <relOid>(_<fork>)?(.<segno>)?, the on-disk naming
// convention for a relation's main/fsm/vm/init forks and numbered
// segments.
var relationForkSuffixes = map[string]string{
	"fsm": "fsm", "vm": "vm", "init": "init",
}

func looksLikeRelationFile(rel string) bool {
	base := filepath.Base(rel)
	if base == "" || base[0] < '0' || base[0] > '9' {
		return false
	}
	return true
}

// populateRelationFields parses <relOid>(_<fork>)?(.<segno>)? from
// rel's basename and fills DBOid/TablespaceOid from its directory
// structure when it sits under base/<db> or pg_tblspc/<oid>/.../<db>.
func populateRelationFields(f *catalog.File, rel string) {
	base := filepath.Base(rel)
	name := base
	segno := 0
	if idx := strings.LastIndexByte(name, '.'); idx > 0 {
		if n, err := strconv.Atoi(name[idx+1:]); err == nil {
			segno = n
			name = name[:idx]
		}
	}
	fork := ""
	if idx := strings.LastIndexByte(name, '_'); idx > 0 {
		suffix := name[idx+1:]
		if canon, ok := relationForkSuffixes[suffix]; ok {
			fork = canon
			name = name[:idx]
		}
	}
	relOid, err := strconv.ParseUint(name, 10, 32)
	if err != nil {
		return
	}
	f.RelOid = uint32(relOid)
	f.Fork = fork
	f.SegNo = segno

	dir := filepath.Dir(rel)
	parts := strings.Split(dir, "/")
	switch {
	case len(parts) >= 2 && parts[0] == "base":
		if dbOid, err := strconv.ParseUint(parts[1], 10, 32); err == nil {
			f.DBOid = uint32(dbOid)
		}
	case len(parts) >= 2 && parts[0] == "global":
		f.DBOid = 0
	case len(parts) >= 4 && parts[0] == "pg_tblspc":
		if tsOid, err := strconv.ParseUint(parts[1], 10, 32); err == nil {
			f.TablespaceOid = uint32(tsOid)
		}
		if dbOid, err := strconv.ParseUint(parts[len(parts)-1], 10, 32); err == nil {
			f.DBOid = uint32(dbOid)
		}
	}
}

// dropUnloggedForks removes every non-init fork of a relation that has
// an init fork present: an init fork marks the relation as unlogged,
// whose main/fsm/vm forks are not crash-safe and must not be backed up.
func dropUnloggedForks(files []*catalog.File) []*catalog.File {
	hasInit := make(map[[3]uint32]bool)
	for _, f := range files {
		if f.IsDataFile && f.Fork == "init" {
			hasInit[relKey(f)] = true
		}
	}
	if len(hasInit) == 0 {
		return files
	}
	out := files[:0]
	for _, f := range files {
		if f.IsDataFile && f.Fork != "init" && hasInit[relKey(f)] {
			continue
		}
		out = append(out, f)
	}
	return out
}

func relKey(f *catalog.File) [3]uint32 {
	return [3]uint32{f.DBOid, f.TablespaceOid, f.RelOid}
}
