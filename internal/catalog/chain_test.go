package catalog

import "testing"

func mkBackup(id, parent string, mode Mode, status Status) *Backup {
	return &Backup{ID: id, ParentID: parent, Mode: mode, Status: status}
}

func TestFindParentFull(t *testing.T) {
	full := mkBackup("a0", "", ModeFull, StatusOK)
	page1 := mkBackup("a1", "a0", ModePage, StatusOK)
	page2 := mkBackup("a2", "a1", ModePage, StatusOK)
	index := IndexByID([]*Backup{full, page1, page2})

	got, err := FindParentFull(index, page2)
	if err != nil {
		t.Fatalf("FindParentFull: %v", err)
	}
	if got.ID != "a0" {
		t.Fatalf("got %q, want a0", got.ID)
	}
}

func TestFindParentFullMissingAncestor(t *testing.T) {
	page1 := mkBackup("a1", "missing", ModePage, StatusOK)
	index := IndexByID([]*Backup{page1})

	if _, err := FindParentFull(index, page1); err == nil {
		t.Fatalf("expected error for missing ancestor")
	}
}

func TestScanParentChainOK(t *testing.T) {
	full := mkBackup("a0", "", ModeFull, StatusOK)
	page1 := mkBackup("a1", "a0", ModePage, StatusOK)
	index := IndexByID([]*Backup{full, page1})

	result, b := ScanParentChain(index, page1)
	if result != ChainOK || b.ID != "a0" {
		t.Fatalf("got result=%v backup=%v", result, b)
	}
}

func TestScanParentChainInvalid(t *testing.T) {
	full := mkBackup("a0", "", ModeFull, StatusOK)
	page1 := mkBackup("a1", "a0", ModePage, StatusError)
	page2 := mkBackup("a2", "a1", ModePage, StatusOK)
	index := IndexByID([]*Backup{full, page1, page2})

	result, b := ScanParentChain(index, page2)
	if result != ChainHasInvalid || b.ID != "a1" {
		t.Fatalf("got result=%v backup=%v", result, b)
	}
}

func TestScanParentChainBroken(t *testing.T) {
	page1 := mkBackup("a1", "gone", ModePage, StatusOK)
	index := IndexByID([]*Backup{page1})

	result, b := ScanParentChain(index, page1)
	if result != ChainBroken || b.ID != "a1" {
		t.Fatalf("got result=%v backup=%v", result, b)
	}
}

func TestIsParent(t *testing.T) {
	full := mkBackup("a0", "", ModeFull, StatusOK)
	page1 := mkBackup("a1", "a0", ModePage, StatusOK)
	page2 := mkBackup("a2", "a1", ModePage, StatusOK)
	index := IndexByID([]*Backup{full, page1, page2})

	if !IsParent(index, "a0", page2, false) {
		t.Fatalf("a2 should descend from a0")
	}
	if IsParent(index, "a2", page2, false) {
		t.Fatalf("a2 is not its own non-inclusive parent")
	}
	if !IsParent(index, "a2", page2, true) {
		t.Fatalf("inclusive check should count a2 as its own parent")
	}
}

func TestIsProlific(t *testing.T) {
	full := mkBackup("a0", "", ModeFull, StatusOK)
	child1 := mkBackup("a1", "a0", ModePage, StatusOK)
	child2 := mkBackup("a2", "a0", ModePage, StatusOK)
	all := []*Backup{full, child1, child2}

	if !IsProlific(all, full) {
		t.Fatalf("a0 has two children, should be prolific")
	}
	if IsProlific(all, child1) {
		t.Fatalf("a1 has no children")
	}
}
