// Package instanceconf implements the instance-level persistent
// configuration file read by set-config/show-config/add-instance and
// del-instance: one key=value file per instance, in the same format as
// a backup's control file, holding the connection and default-flag
// values a backup/restore run falls back to when a flag is omitted.
package instanceconf

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/vbp1/pgbackup/internal/util/fs"
)

// FileName is the per-instance configuration file, stored alongside
// the instance's backup directory.
const FileName = "pgbackup.conf"

// Config holds one instance's persistent defaults. Zero values mean
// "unset"; a flag explicitly passed on the command line always wins
// over a value loaded from here.
type Config struct {
	PGHost        string
	PGPort        int
	PGUser        string
	PGDatabase    string
	DataDir       string
	ExternalDirs  []string
	CompressAlg   string
	CompressLevel int
	Retention     int // redundancy: number of FULL backups to keep
	ArchiveDir    string
}

// Path returns <root>/backups/<instance>/pgbackup.conf.
func Path(catalogRoot, instance string) string {
	return filepath.Join(catalogRoot, "backups", instance, FileName)
}

// Load reads an instance's configuration file. A missing file returns
// a zero Config and no error, matching add-instance's expectation that
// the file may not exist yet.
func Load(catalogRoot, instance string) (*Config, error) {
	path := Path(catalogRoot, instance)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("instanceconf: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	c := &Config{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.Trim(strings.TrimSpace(line[idx+1:]), "'")
		if err := c.apply(key, value); err != nil {
			return nil, fmt.Errorf("instanceconf: %s: %w", path, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("instanceconf: read %s: %w", path, err)
	}
	return c, nil
}

func (c *Config) apply(key, value string) error {
	var err error
	switch key {
	case "pghost":
		c.PGHost = value
	case "pgport":
		c.PGPort, err = strconv.Atoi(value)
	case "pguser":
		c.PGUser = value
	case "pgdatabase":
		c.PGDatabase = value
	case "pgdata":
		c.DataDir = value
	case "external-dirs":
		if value != "" {
			c.ExternalDirs = strings.Split(value, ":")
		}
	case "compress-algorithm":
		c.CompressAlg = value
	case "compress-level":
		c.CompressLevel, err = strconv.Atoi(value)
	case "retention-redundancy":
		c.Retention, err = strconv.Atoi(value)
	case "archive-dir":
		c.ArchiveDir = value
	}
	return err
}

// Save writes c atomically via a temp-file-then-rename swap, creating
// the instance directory if necessary.
func Save(catalogRoot, instance string, c *Config) error {
	dir := filepath.Join(catalogRoot, "backups", instance)
	if err := fs.MkdirP(dir, 0o700); err != nil {
		return fmt.Errorf("instanceconf: mkdir %s: %w", dir, err)
	}
	path := Path(catalogRoot, instance)
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("instanceconf: open %s: %w", tmp, err)
	}
	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "pghost = '%s'\n", c.PGHost)
	fmt.Fprintf(w, "pgport = %d\n", c.PGPort)
	fmt.Fprintf(w, "pguser = '%s'\n", c.PGUser)
	if c.PGDatabase != "" {
		fmt.Fprintf(w, "pgdatabase = '%s'\n", c.PGDatabase)
	}
	fmt.Fprintf(w, "pgdata = '%s'\n", c.DataDir)
	if len(c.ExternalDirs) > 0 {
		fmt.Fprintf(w, "external-dirs = '%s'\n", strings.Join(c.ExternalDirs, ":"))
	}
	if c.CompressAlg != "" {
		fmt.Fprintf(w, "compress-algorithm = %s\n", c.CompressAlg)
	}
	fmt.Fprintf(w, "compress-level = %d\n", c.CompressLevel)
	if c.Retention != 0 {
		fmt.Fprintf(w, "retention-redundancy = %d\n", c.Retention)
	}
	if c.ArchiveDir != "" {
		fmt.Fprintf(w, "archive-dir = '%s'\n", c.ArchiveDir)
	}

	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("instanceconf: write %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("instanceconf: close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("instanceconf: rename %s to %s: %w", tmp, path, err)
	}
	return nil
}

// Delete removes an instance's entire backup directory, refusing if
// it still holds any backups.
func Delete(catalogRoot, instance string, force bool) error {
	dir := filepath.Join(catalogRoot, "backups", instance)
	if !force {
		entries, err := os.ReadDir(dir)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("instanceconf: list %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				return fmt.Errorf("instanceconf: instance %s still has backups, pass force to remove anyway", instance)
			}
		}
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("instanceconf: remove %s: %w", dir, err)
	}
	return nil
}

// Set applies a single "key=value" pair (as passed to set-config) to
// c, reusing the same key vocabulary as the file format.
func (c *Config) Set(kv string) error {
	idx := strings.Index(kv, "=")
	if idx < 0 {
		return fmt.Errorf("instanceconf: malformed --set %q, want key=value", kv)
	}
	return c.apply(strings.TrimSpace(kv[:idx]), strings.TrimSpace(kv[idx+1:]))
}

// Lines renders c as sorted "key = value" lines for show-config.
func (c *Config) Lines() []string {
	m := map[string]string{
		"pghost":               c.PGHost,
		"pgport":               strconv.Itoa(c.PGPort),
		"pguser":               c.PGUser,
		"pgdatabase":           c.PGDatabase,
		"pgdata":               c.DataDir,
		"compress-algorithm":   c.CompressAlg,
		"compress-level":       strconv.Itoa(c.CompressLevel),
		"retention-redundancy": strconv.Itoa(c.Retention),
		"archive-dir":          c.ArchiveDir,
	}
	if len(c.ExternalDirs) > 0 {
		m["external-dirs"] = strings.Join(c.ExternalDirs, ":")
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s = %s", k, m[k]))
	}
	return out
}
