package catalog

import (
	"fmt"
	"os"
	"sort"
)

// ChainScanResult classifies the health of a backup's parent chain, as
// returned by ScanParentChain.
type ChainScanResult int

const (
	// ChainBroken means a parent link is missing entirely.
	ChainBroken ChainScanResult = iota
	// ChainHasInvalid means the chain is intact but some ancestor is
	// neither OK nor DONE.
	ChainHasInvalid
	// ChainOK means every ancestor down to the base FULL backup is
	// usable.
	ChainOK
)

// ListBackups enumerates the id-named children of instance's backup
// directory, reading each backup.control. Results are sorted by ID
// ascending (oldest first), matching base-36-encoded start time
// ordering. Use IndexByID on the result to resolve parent links.
func ListBackups(layout *Layout) ([]*Backup, error) {
	entries, err := os.ReadDir(layout.InstanceDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("catalog: list %s: %w", layout.InstanceDir(), err)
	}

	var backups []*Backup
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		b, err := ReadControl(layout.BackupDir(e.Name()))
		if err != nil {
			continue
		}
		backups = append(backups, b)
	}

	sort.Slice(backups, func(i, j int) bool { return backups[i].ID < backups[j].ID })
	return backups, nil
}

// ParentLink resolves backup's immediate parent within the given
// index, or nil if it has none or the parent is missing.
func ParentLink(index map[string]*Backup, backup *Backup) *Backup {
	if backup.ParentID == "" {
		return nil
	}
	return index[backup.ParentID]
}

// IndexByID builds the lookup table ParentLink, FindParentFull and
// ScanParentChain expect.
func IndexByID(backups []*Backup) map[string]*Backup {
	idx := make(map[string]*Backup, len(backups))
	for _, b := range backups {
		idx[b.ID] = b
	}
	return idx
}

// FindParentFull walks parent links from current up to the base FULL
// backup. It returns an error if the chain ends on a non-FULL backup
// (a missing or unindexed ancestor).
func FindParentFull(index map[string]*Backup, current *Backup) (*Backup, error) {
	b := current
	for b.ParentID != "" {
		parent, ok := index[b.ParentID]
		if !ok {
			return nil, fmt.Errorf("catalog: parent %s of %s is missing", b.ParentID, b.ID)
		}
		b = parent
	}
	if b.Mode != ModeFull {
		return nil, fmt.Errorf("catalog: chain for %s does not terminate in a FULL backup", current.ID)
	}
	return b, nil
}

// ScanParentChain walks current's ancestry and classifies chain
// health. The returned backup is: the oldest surviving backup past a
// break (ChainBroken), the oldest invalid backup (ChainHasInvalid), or
// the base FULL backup (ChainOK).
func ScanParentChain(index map[string]*Backup, current *Backup) (ChainScanResult, *Backup) {
	var invalid *Backup
	b := current
	for {
		parent, ok := index[b.ParentID]
		if b.ParentID != "" && !ok {
			return ChainBroken, b
		}
		if !b.Usable() {
			invalid = b
		}
		if b.ParentID == "" {
			break
		}
		b = parent
	}
	if b.Mode != ModeFull {
		return ChainBroken, b
	}
	if invalid != nil {
		return ChainHasInvalid, invalid
	}
	return ChainOK, b
}

// IsParent reports whether child descends from the backup identified
// by parentID. It does not guarantee the chain is intact - an
// intermediate ancestor may be missing from index. If inclusive,
// child counts as its own parent.
func IsParent(index map[string]*Backup, parentID string, child *Backup, inclusive bool) bool {
	if inclusive && child.ID == parentID {
		return true
	}
	b := child
	for {
		parent, ok := index[b.ParentID]
		if b.ParentID == parentID {
			return true
		}
		if !ok || b.ParentID == "" {
			return false
		}
		b = parent
	}
}

// IsProlific reports whether more than one usable backup considers
// target its direct parent - a fan-out the merge/delete paths must
// refuse to collapse silently.
func IsProlific(backups []*Backup, target *Backup) bool {
	children := 0
	for _, b := range backups {
		if b.ParentID == target.ID && b.Usable() {
			children++
			if children > 1 {
				return true
			}
		}
	}
	return false
}
