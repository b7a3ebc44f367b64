package bptree

import (
	"testing"

	"github.com/dbathon/bptree/pageprovider"
)

func TestBTree_integrityCheckDetectsOutOfOrderEntries(t *testing.T) {
	tree, mp := newTestTree(t, 256)
	tree.Insert([]byte("a"))
	tree.Insert([]byte("b"))
	tree.Insert([]byte("c"))

	// corrupt the root leaf directly: swap two slot pointers so the
	// entries are no longer in sorted order.
	root := tree.RootPageNumber()
	page := mp.GetForUpdate(root)
	pe := leafEntries(page)
	if pe.Count() < 2 {
		t.Fatalf("test setup: expected at least 2 entries in the root leaf")
	}
	s0 := pe.slotOffset(0)
	s1 := pe.slotOffset(1)
	pe.setSlotOffset(0, s1)
	pe.setSlotOffset(1, s0)

	status, err := tree.IntegrityCheck()
	if status != StatusOK {
		t.Fatalf("IntegrityCheck() status = %v, want ok (violation surfaces as an error, not a status)", status)
	}
	if err == nil {
		t.Fatalf("IntegrityCheck() error = nil, want an IntegrityViolation *Error")
	}
	bpErr, ok := err.(*Error)
	if !ok || bpErr.Kind != IntegrityViolation {
		t.Fatalf("IntegrityCheck() error = %v, want an IntegrityViolation *Error", err)
	}
}

func TestBTree_integrityCheckDetectsCorruptedHeight(t *testing.T) {
	tree, mp := newTestTree(t, 256)
	for i := 0; i < 120; i++ {
		key := []byte{byte(i), byte(i >> 8)}
		tree.Insert(key)
	}

	// corrupt the root's stored height so it no longer matches the actual
	// depth of the subtree beneath it.
	root := tree.RootPageNumber()
	page := mp.GetForUpdate(root)
	if pageRole(page) != roleInner {
		t.Fatalf("test setup: expected root to be an inner page after 120 inserts")
	}
	setHeight(page, height(page)+1)

	status, err := tree.IntegrityCheck()
	if status != StatusOK {
		t.Fatalf("IntegrityCheck() status = %v, want ok (violation surfaces as an error, not a status)", status)
	}
	if err == nil {
		t.Fatalf("IntegrityCheck() error = nil, want an IntegrityViolation *Error")
	}
	bpErr, ok := err.(*Error)
	if !ok || bpErr.Kind != IntegrityViolation {
		t.Fatalf("IntegrityCheck() error = %v, want an IntegrityViolation *Error", err)
	}
}

func TestBTree_integrityCheckDetectsUnbalancedTree(t *testing.T) {
	tree, mp := newTestTree(t, 256)
	for i := 0; i < 120; i++ {
		key := []byte{byte(i), byte(i >> 8)}
		tree.Insert(key)
	}

	root := tree.RootPageNumber()
	page := mp.GetForUpdate(root)
	if pageRole(page) != roleInner {
		t.Fatalf("test setup: expected root to be an inner page after 120 inserts")
	}
	// replace one of the root's leaf children with a freshly promoted
	// single-child inner page wrapping it, so that child's subtree is one
	// level deeper than its siblings while every other invariant still
	// holds.
	childNo := pageprovider.PageNumber(childPtr(page, 0))
	wrapperNo := mp.Allocate()
	wrapperPage := mp.GetForUpdate(wrapperNo)
	// give the wrapper the height its parent expects of a direct child, so
	// it is the depth of the subtree beneath it, not its own height field,
	// that betrays the imbalance.
	formatInnerPage(wrapperPage, height(page)-1)
	setChildPtr(wrapperPage, 0, uint32(childNo))
	setChildPtr(page, 0, uint32(wrapperNo))

	status, err := tree.IntegrityCheck()
	if status != StatusOK {
		t.Fatalf("IntegrityCheck() status = %v, want ok (violation surfaces as an error, not a status)", status)
	}
	if err == nil {
		t.Fatalf("IntegrityCheck() error = nil, want an IntegrityViolation *Error")
	}
	bpErr, ok := err.(*Error)
	if !ok || bpErr.Kind != IntegrityViolation {
		t.Fatalf("IntegrityCheck() error = %v, want an IntegrityViolation *Error", err)
	}
}

func TestBTree_integrityCheckPassesAfterSplitsAndMerges(t *testing.T) {
	tree, _ := newTestTree(t, 256)
	for i := 0; i < 120; i++ {
		key := []byte{byte(i), byte(i >> 8)}
		tree.Insert(key)
	}
	for i := 0; i < 120; i++ {
		if i%4 == 0 {
			continue
		}
		key := []byte{byte(i), byte(i >> 8)}
		tree.Remove(key)
	}
	status, err := tree.IntegrityCheck()
	if status != StatusOK || err != nil {
		t.Fatalf("IntegrityCheck() = (%v, %v), want (ok, nil)", status, err)
	}
}
