package catalog

import (
	"path/filepath"
	"strconv"
)

// Layout resolves paths within one backup catalog root, laid out as
// <root>/backups/<instance>/<id>/...
type Layout struct {
	Root     string
	Instance string
}

// NewLayout returns a Layout rooted at root for the given instance name.
func NewLayout(root, instance string) *Layout {
	return &Layout{Root: root, Instance: instance}
}

// InstanceDir is <root>/backups/<instance>.
func (l *Layout) InstanceDir() string {
	return filepath.Join(l.Root, "backups", l.Instance)
}

// BackupDir is <root>/backups/<instance>/<id>.
func (l *Layout) BackupDir(id string) string {
	return filepath.Join(l.InstanceDir(), id)
}

// DatabaseDir is the directory payload files are mirrored under.
func (l *Layout) DatabaseDir(id string) string {
	return filepath.Join(l.BackupDir(id), "database")
}

// ExternalDir is the directory one external directory slot is stored
// under.
func (l *Layout) ExternalDir(id string, num int) string {
	return filepath.Join(l.BackupDir(id), "external_directories", externalSlotName(num))
}

func externalSlotName(num int) string {
	return "externaldir" + strconv.Itoa(num)
}

// PIDFile is the exclusive-lock marker for one backup.
func (l *Layout) PIDFile(id string) string {
	return filepath.Join(l.BackupDir(id), "backup.pid")
}
