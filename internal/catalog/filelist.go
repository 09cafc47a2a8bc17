package catalog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FilelistFileName is the per-backup newline-delimited-JSON inventory
// of every archived file.
const FilelistFileName = "backup_content.control"

// fileRecord is the wire shape of one backup_content.control line.
// Field names and the optional-field set mirror the on-disk format.
type fileRecord struct {
	Path           string `json:"path"`
	Size           int64  `json:"size,string"`
	Mode           uint32 `json:"mode,string"`
	IsDatafile     int    `json:"is_datafile,string"`
	IsCFS          int    `json:"is_cfs,string"`
	CRC            uint32 `json:"crc"`
	CompressAlg    string `json:"compress_alg"`
	ExternalDirNum int    `json:"external_dir_num,string"`
	SegNo          *int   `json:"segno,string,omitempty"`
	DBOid          uint32 `json:"dbOid,string"`
	RelOid         uint32 `json:"relOid,string"`
	Linked         string `json:"linked,omitempty"`
	NBlocks        *int64 `json:"n_blocks,string,omitempty"`
	CarriedOver    int    `json:"carried_over,string"`
}

// WriteFilelist writes files as newline-delimited JSON under dir,
// atomically via a .tmp-then-rename swap. It also returns the total
// on-disk footprint (directories counted as 4KiB each, regular files
// by their WriteSize), the figure the caller records as the backup's
// DataBytes.
func WriteFilelist(dir string, files []*File) (int64, error) {
	path := filepath.Join(dir, FilelistFileName)
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("catalog: open %s: %w", tmp, err)
	}

	w := bufio.NewWriter(f)
	var sizeOnDisk int64
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	for _, file := range files {
		if file.IsDir {
			sizeOnDisk += 4096
		} else if file.WriteSize > 0 {
			sizeOnDisk += file.WriteSize
		}
		if err := enc.Encode(toFileRecord(file)); err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
			return 0, fmt.Errorf("catalog: encode %s: %w", file.Path, err)
		}
	}

	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("catalog: write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("catalog: fsync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("catalog: close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("catalog: rename %s to %s: %w", tmp, path, err)
	}
	return sizeOnDisk, nil
}

// ReadFilelist parses a backup_content.control file previously written
// by WriteFilelist.
func ReadFilelist(dir string) ([]*File, error) {
	path := filepath.Join(dir, FilelistFileName)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var files []*File
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec fileRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
		}
		files = append(files, fromFileRecord(rec))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return files, nil
}

func toFileRecord(f *File) fileRecord {
	rec := fileRecord{
		Path:           f.Path,
		Size:           f.WriteSize,
		Mode:           uint32(f.Mode),
		CompressAlg:    orNone(f.CompressAlg),
		CRC:            f.CRC,
		ExternalDirNum: f.ExternalDirNum,
		Linked:         f.Linked,
		DBOid:          f.DBOid,
		RelOid:         f.RelOid,
	}
	if f.IsDataFile {
		rec.IsDatafile = 1
		segNo := f.SegNo
		rec.SegNo = &segNo
	}
	if f.IsCFS {
		rec.IsCFS = 1
	}
	if f.CarriedOver {
		rec.CarriedOver = 1
	}
	if f.NBlocksSource != NBlocksInvalid {
		n := f.NBlocksSource
		rec.NBlocks = &n
	}
	return rec
}

func fromFileRecord(rec fileRecord) *File {
	f := &File{
		Path:          rec.Path,
		Mode:          osFileMode(rec.Mode),
		IsDir:         osFileModeIsDir(rec.Mode),
		WriteSize:     rec.Size,
		CRC:           rec.CRC,
		IsDataFile:    rec.IsDatafile != 0,
		IsCFS:         rec.IsCFS != 0,
		ExternalDirNum: rec.ExternalDirNum,
		Linked:        rec.Linked,
		NBlocksSource: NBlocksInvalid,
		CarriedOver:   rec.CarriedOver != 0,
		DBOid:         rec.DBOid,
		RelOid:        rec.RelOid,
	}
	if rec.CompressAlg != "" && rec.CompressAlg != "none" {
		f.CompressAlg = rec.CompressAlg
	}
	if rec.SegNo != nil {
		f.SegNo = *rec.SegNo
	}
	if rec.NBlocks != nil {
		f.NBlocksSource = *rec.NBlocks
	}
	return f
}
