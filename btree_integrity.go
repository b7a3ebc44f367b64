package bptree

import (
	"bytes"

	"github.com/dbathon/bptree/pageprovider"
)

// IntegrityCheck walks the whole tree, verifying sorted unique entries per
// page, child count one more than separator count, separator bounds
// against every descendant, and uniform leaf depth (both the stored height
// bytes and the observed depth). Entry lengths are not checked. It panics with
// IntegrityViolation (recovered into err) on the first violation found,
// or returns MissingPage if a page could not be read.
func (b *BTree) IntegrityCheck() (status ScanStatus, err error) {
	defer recoverError(&err)
	status = StatusOK
	func() {
		defer recoverMissing(&status)
		b.checkSubtree(b.root, nil, nil, -1)
	}()
	return status, nil
}

// checkSubtree verifies the subtree rooted at pageNo lies within (lowerBound,
// upperBound) (nil means unbounded) and that every leaf beneath it is at the
// depth implied by expectedHeight (ignored when -1, i.e. at the root, which
// fixes the tree's height on first descent).
func (b *BTree) checkSubtree(pageNo pageprovider.PageNumber, lowerBound, upperBound []byte, expectedHeight int) int {
	page := b.getPage(pageNo)
	role := pageRole(page)

	if role == roleLeaf {
		pe := leafEntries(page)
		checkSortedUnique(pe, lowerBound, upperBound)
		if expectedHeight != -1 && expectedHeight != 0 {
			panicf(IntegrityViolation, "leaf at page %d found at height 0, expected %d", pageNo, expectedHeight)
		}
		return 0
	}

	h := height(page)
	if expectedHeight != -1 && int(h) != expectedHeight && h != heightSaturating {
		panicf(IntegrityViolation, "inner page %d has height %d, expected %d", pageNo, h, expectedHeight)
	}

	seps := innerSeparators(page, b.pageSize)
	checkSortedUnique(seps, lowerBound, upperBound)

	c := childCount(b.pageSize)
	k := seps.Count()
	if k > c-1 {
		panicf(IntegrityViolation, "inner page %d holds %d separators, exceeding cap %d", pageNo, k, c-1)
	}
	for i := k + 1; i < c; i++ {
		if childPtr(page, i) != 0 {
			panicf(IntegrityViolation, "inner page %d has a stray child pointer at slot %d beyond its %d used children", pageNo, i, k+1)
		}
	}

	// childHeight must derive from h, this page's own just-verified stored
	// height, not from the (possibly stale, e.g. -1 at the root) incoming
	// expectedHeight: each level's children are expected at a depth one
	// less than what THIS page actually claims to be.
	childHeight := -1
	if h != heightSaturating {
		childHeight = int(h) - 1
	}

	observedDepth := -1
	for i := 0; i <= k; i++ {
		childNo := pageprovider.PageNumber(childPtr(page, i))
		childLower := lowerBound
		if i > 0 {
			childLower = seps.ReadByOrdinal(i - 1)
		}
		childUpper := upperBound
		if i < k {
			childUpper = seps.ReadByOrdinal(i)
		}
		depth := b.checkSubtree(childNo, childLower, childUpper, childHeight)
		if i == 0 {
			observedDepth = depth
		} else if depth != observedDepth {
			panicf(IntegrityViolation, "inner page %d has children at unequal depths (%d and %d), violating the uniform-leaf-depth invariant", pageNo, observedDepth, depth)
		}
	}
	return observedDepth + 1
}

// checkSortedUnique verifies pe's entries are sorted and unique (guaranteed
// by PageEntries.search/Insert, but checked here defensively against
// provider corruption) and that every entry respects [lowerBound,
// upperBound) per invariant 3.
func checkSortedUnique(pe PageEntries, lowerBound, upperBound []byte) {
	n := pe.Count()
	var prev []byte
	for i := 0; i < n; i++ {
		e := pe.ReadByOrdinal(i)
		if i > 0 && bytes.Compare(prev, e) >= 0 {
			panicf(IntegrityViolation, "entries are not strictly increasing at ordinal %d", i)
		}
		if lowerBound != nil && bytes.Compare(e, lowerBound) < 0 {
			panicf(IntegrityViolation, "entry at ordinal %d is below its page's lower separator bound", i)
		}
		if upperBound != nil && bytes.Compare(e, upperBound) >= 0 {
			panicf(IntegrityViolation, "entry at ordinal %d is at or above its page's upper separator bound", i)
		}
		prev = e
	}
}
