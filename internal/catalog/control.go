package catalog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ControlFileName is the per-backup control file holding key=value
// metadata, written atomically via a .tmp-then-rename swap.
const ControlFileName = "backup.control"

const controlTimeLayout = "2006-01-02 15:04:05 MST"

// WriteControl serialises b as a key=value control file under dir,
// writing to a temporary file first and renaming into place so a
// reader never observes a partially-written file.
func WriteControl(dir string, b *Backup) error {
	path := filepath.Join(dir, ControlFileName)
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("catalog: open %s: %w", tmp, err)
	}

	w := bufio.NewWriter(f)
	writeControlBody(w, b)

	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("catalog: write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("catalog: fsync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("catalog: close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("catalog: rename %s to %s: %w", tmp, path, err)
	}
	return nil
}

func writeControlBody(w *bufio.Writer, b *Backup) {
	fmt.Fprintf(w, "#Configuration\n")
	fmt.Fprintf(w, "backup-mode = %s\n", b.Mode)
	fmt.Fprintf(w, "stream = %s\n", boolStr(b.Stream))
	fmt.Fprintf(w, "compress-alg = %s\n", orNone(b.CompressAlg))
	fmt.Fprintf(w, "compress-level = %d\n", b.CompressLevel)
	fmt.Fprintf(w, "from-replica = %s\n", boolStr(b.FromReplica))

	fmt.Fprintf(w, "\n#Compatibility\n")
	fmt.Fprintf(w, "block-size = %d\n", b.BlockSize)
	fmt.Fprintf(w, "xlog-block-size = %d\n", b.WALBlockSize)
	fmt.Fprintf(w, "checksum-version = %s\n", boolStr(b.ChecksumOn))
	if b.ProgramVer != "" {
		fmt.Fprintf(w, "program-version = %s\n", b.ProgramVer)
	}
	if b.ServerVer != "" {
		fmt.Fprintf(w, "server-version = %s\n", b.ServerVer)
	}

	fmt.Fprintf(w, "\n#Result backup info\n")
	fmt.Fprintf(w, "timelineid = %d\n", b.Timeline)
	fmt.Fprintf(w, "start-lsn = %s\n", formatLSN(b.StartLSN))
	fmt.Fprintf(w, "stop-lsn = %s\n", formatLSN(b.StopLSN))
	fmt.Fprintf(w, "start-time = '%s'\n", b.StartTime.UTC().Format(controlTimeLayout))
	if !b.MergeTime.IsZero() {
		fmt.Fprintf(w, "merge-time = '%s'\n", b.MergeTime.UTC().Format(controlTimeLayout))
	}
	if !b.EndTime.IsZero() {
		fmt.Fprintf(w, "end-time = '%s'\n", b.EndTime.UTC().Format(controlTimeLayout))
	}
	fmt.Fprintf(w, "recovery-xid = %d\n", b.RecoveryXID)
	if !b.RecoveryTime.IsZero() {
		fmt.Fprintf(w, "recovery-time = '%s'\n", b.RecoveryTime.UTC().Format(controlTimeLayout))
	}
	if b.DataBytes != BytesInvalid {
		fmt.Fprintf(w, "data-bytes = %d\n", b.DataBytes)
	}
	if b.WALBytes != BytesInvalid {
		fmt.Fprintf(w, "wal-bytes = %d\n", b.WALBytes)
	}
	fmt.Fprintf(w, "status = %s\n", b.Status)
	if b.ParentID != "" {
		fmt.Fprintf(w, "parent-backup-id = '%s'\n", b.ParentID)
	}
	if b.PrimaryConn != "" {
		fmt.Fprintf(w, "primary_conninfo = '%s'\n", b.PrimaryConn)
	}
	if b.ExternalDirs != "" {
		fmt.Fprintf(w, "external-dirs = '%s'\n", b.ExternalDirs)
	}
}

// ReadControl parses a control file previously written by WriteControl.
func ReadControl(dir string) (*Backup, error) {
	path := filepath.Join(dir, ControlFileName)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	b := &Backup{DataBytes: BytesInvalid, WALBytes: BytesInvalid}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := splitControlLine(line)
		if !ok {
			continue
		}
		if err := applyControlField(b, key, value); err != nil {
			return nil, fmt.Errorf("catalog: %s: %w", path, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	b.ID = filepath.Base(dir)
	return b, nil
}

func splitControlLine(line string) (key, value string, ok bool) {
	idx := strings.Index(line, "=")
	if idx < 0 {
		return "", "", false
	}
	key = strings.TrimSpace(line[:idx])
	value = strings.TrimSpace(line[idx+1:])
	value = strings.Trim(value, "'")
	return key, value, true
}

func applyControlField(b *Backup, key, value string) error {
	var err error
	switch key {
	case "backup-mode":
		b.Mode = Mode(value)
	case "stream":
		b.Stream = value == "true"
	case "compress-alg":
		if value != "none" {
			b.CompressAlg = value
		}
	case "compress-level":
		b.CompressLevel, err = strconv.Atoi(value)
	case "from-replica":
		b.FromReplica = value == "true"
	case "block-size":
		b.BlockSize, err = strconv.Atoi(value)
	case "xlog-block-size":
		b.WALBlockSize, err = strconv.Atoi(value)
	case "checksum-version":
		b.ChecksumOn = value == "true"
	case "program-version":
		b.ProgramVer = value
	case "server-version":
		b.ServerVer = value
	case "timelineid":
		var tli int
		tli, err = strconv.Atoi(value)
		b.Timeline = uint32(tli)
	case "start-lsn":
		b.StartLSN, err = parseLSN(value)
	case "stop-lsn":
		b.StopLSN, err = parseLSN(value)
	case "start-time":
		b.StartTime, err = time.Parse(controlTimeLayout, value)
	case "merge-time":
		b.MergeTime, err = time.Parse(controlTimeLayout, value)
	case "end-time":
		b.EndTime, err = time.Parse(controlTimeLayout, value)
	case "recovery-xid":
		var xid uint64
		xid, err = strconv.ParseUint(value, 10, 64)
		b.RecoveryXID = xid
	case "recovery-time":
		b.RecoveryTime, err = time.Parse(controlTimeLayout, value)
	case "data-bytes":
		b.DataBytes, err = strconv.ParseInt(value, 10, 64)
	case "wal-bytes":
		b.WALBytes, err = strconv.ParseInt(value, 10, 64)
	case "status":
		b.Status = Status(value)
	case "parent-backup-id":
		b.ParentID = value
	case "primary_conninfo":
		b.PrimaryConn = value
	case "external-dirs":
		b.ExternalDirs = value
	}
	return err
}

func formatLSN(lsn uint64) string {
	return fmt.Sprintf("%X/%X", uint32(lsn>>32), uint32(lsn))
}

func parseLSN(s string) (uint64, error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("malformed lsn %q", s)
	}
	hi, err := strconv.ParseUint(parts[0], 16, 32)
	if err != nil {
		return 0, err
	}
	lo, err := strconv.ParseUint(parts[1], 16, 32)
	if err != nil {
		return 0, err
	}
	return hi<<32 | lo, nil
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
