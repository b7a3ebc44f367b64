package bptree

import (
	"github.com/dbathon/bptree/pageprovider"
)

// insertSplit describes a new right sibling a child produced during
// insert, to be recorded in the parent's separator/child arrays.
type insertSplit struct {
	sep   []byte
	right pageprovider.PageNumber
}

// Insert adds key to the tree. It returns existed=true if key was already
// present (a no-op). Insert requires the tree to have been opened with a
// ProviderForWrite.
func (b *BTree) Insert(key []byte) (existed bool, err error) {
	defer recoverError(&err)
	b.requireWriter()
	maxLen := maxEntryLengthForPageSize(b.pageSize)
	if len(key) > maxLen {
		panicf(EntryTooLong, "entry of length %d exceeds per-page cap %d", len(key), maxLen)
	}

	rootPage := b.writer.GetForUpdate(b.root)
	already, split := b.insertInto(rootPage, b.root, key, true)
	if already {
		return true, nil
	}
	if split != nil {
		b.promoteRoot(rootPage, split)
	}
	return false, nil
}

// insertInto inserts key into the subtree rooted at page (page number
// pageNo), returning already=true if key was already present, or a
// non-nil split describing a new right sibling that must be recorded by
// the caller. rightmost indicates whether page is reached exclusively via
// right-most child pointers from the tree root (the ascending-insert fast
// path of §4.3).
func (b *BTree) insertInto(page []byte, pageNo pageprovider.PageNumber, key []byte, rightmost bool) (already bool, split *insertSplit) {
	switch pageRole(page) {
	case roleLeaf:
		return b.insertIntoLeaf(page, pageNo, key, rightmost)
	default:
		return b.insertIntoInner(page, pageNo, key, rightmost)
	}
}

func (b *BTree) insertIntoLeaf(page []byte, pageNo pageprovider.PageNumber, key []byte, rightmost bool) (already bool, split *insertSplit) {
	pe := leafEntries(page)
	if pe.Contains(key) {
		return true, nil
	}
	if pe.Insert(key) {
		return false, nil
	}
	sep, rightNo := b.splitLeaf(page, pe, key, rightmost)
	return false, &insertSplit{sep: sep, right: rightNo}
}

// splitLeaf performs a leaf split per §4.3, returning the separator and
// new right sibling's page number.
func (b *BTree) splitLeaf(page []byte, pe PageEntries, newEntry []byte, rightmost bool) ([]byte, pageprovider.PageNumber) {
	existing := pe.ReadAll()
	insIdx, _ := pe.OrdinalOf(newEntry)

	merged := make([][]byte, 0, len(existing)+1)
	merged = append(merged, existing[:insIdx]...)
	merged = append(merged, newEntry)
	merged = append(merged, existing[insIdx:]...)
	// Copy out of the page bytes before pe.Reset below overwrites them.
	for i := range merged {
		merged[i] = copyBytes(merged[i])
	}

	var r int
	if rightmost && insIdx == len(existing) {
		// Right-edge optimization: keep every existing entry on the left.
		r = len(merged) - 1
	} else {
		r = findSplitIndex(merged)
	}

	leftEntries := merged[:r]
	rightEntries := merged[r:]

	rightNo := b.writer.Allocate()
	rightPage := b.writer.GetForUpdate(rightNo)
	formatLeafPage(rightPage)
	rightPE := leafEntries(rightPage)
	for _, e := range rightEntries {
		if !rightPE.Insert(copyBytes(e)) {
			panicf(BadPage, "new right leaf sibling rejected an entry it must fit")
		}
	}

	pe.Reset()
	for _, e := range leftEntries {
		if !pe.InsertTryRewrite(copyBytes(e)) {
			panicf(BadPage, "left leaf sibling could not hold its own surviving entries after split")
		}
	}

	sep := shortestSeparator(leftEntries[len(leftEntries)-1], rightEntries[0])
	return sep, rightNo
}

func (b *BTree) insertIntoInner(page []byte, pageNo pageprovider.PageNumber, key []byte, rightmost bool) (already bool, split *insertSplit) {
	pageSize := b.pageSize
	seps := innerSeparators(page, pageSize)
	idx := descendIndex(seps, key)
	childRightmost := rightmost && idx == seps.Count()
	childNo := pageprovider.PageNumber(childPtr(page, idx))
	childPage := b.writer.GetForUpdate(childNo)

	childAlready, childSplit := b.insertInto(childPage, childNo, key, childRightmost)
	if childAlready {
		return true, nil
	}
	if childSplit == nil {
		return false, nil
	}

	c := childCount(pageSize)
	currentChildren := seps.Count() + 1
	if currentChildren < c-1 && seps.Insert(copyBytes(childSplit.sep)) {
		insertChildAfter(page, pageSize, idx, childSplit.right)
		return false, nil
	}

	sep, rightNo := b.splitInner(page, pageNo, idx, childSplit.sep, childSplit.right, childRightmost)
	return false, &insertSplit{sep: sep, right: rightNo}
}

// insertChildAfter shifts child pointers right of idx by one slot and
// places newChild at idx+1, after the separator for it has already been
// recorded in the page's PageEntries region.
func insertChildAfter(page []byte, pageSize int, idx int, newChild pageprovider.PageNumber) {
	c := childCount(pageSize)
	for i := c - 1; i > idx+1; i-- {
		setChildPtr(page, i, childPtr(page, i-1))
	}
	setChildPtr(page, idx+1, uint32(newChild))
}

// splitInner performs an inner-page split per §4.3: the new separator and
// child are folded in first (conceptually), then the combined separator
// and child sets are partitioned, with the middle separator promoted
// (not copied) to the parent. rightmost carries the same ascending-insert
// right-edge flag splitLeaf uses: when the split is happening at the
// right-most child and the new separator/child were appended past every
// existing one, the new separator is promoted directly and only the new
// child goes right, instead of choosing the promoted separator via the
// cumulative-length rule.
func (b *BTree) splitInner(page []byte, pageNo pageprovider.PageNumber, idx int, newSep []byte, newChild pageprovider.PageNumber, rightmost bool) ([]byte, pageprovider.PageNumber) {
	pageSize := b.pageSize
	c := childCount(pageSize)
	seps := innerSeparators(page, pageSize)
	existingSeps := seps.ReadAll()
	existingChildren := make([]uint32, c)
	for i := 0; i < c; i++ {
		existingChildren[i] = childPtr(page, i)
	}
	k := len(existingSeps) // number of separators currently stored (<= c-1)

	mergedSeps := make([][]byte, 0, k+1)
	mergedSeps = append(mergedSeps, existingSeps[:idx]...)
	mergedSeps = append(mergedSeps, newSep)
	mergedSeps = append(mergedSeps, existingSeps[idx:]...)
	// Copy out of the page bytes before seps.Reset below overwrites them.
	for i := range mergedSeps {
		mergedSeps[i] = copyBytes(mergedSeps[i])
	}

	mergedChildren := make([]uint32, 0, k+2)
	mergedChildren = append(mergedChildren, existingChildren[:idx+1]...)
	mergedChildren = append(mergedChildren, uint32(newChild))
	mergedChildren = append(mergedChildren, existingChildren[idx+1:k+1]...)

	var promotedIdx int
	if rightmost && idx == k {
		// Right-edge optimization: keep every existing child on the left,
		// promoting the new separator itself rather than the generic
		// cumulative-length midpoint.
		promotedIdx = len(mergedSeps) - 1
	} else {
		splitIdx := findSplitIndex(mergedSeps)
		promotedIdx = splitIdx - 1
		if splitIdx <= 1 {
			promotedIdx = splitIdx
		}
	}
	promoted := mergedSeps[promotedIdx]

	leftSeps := mergedSeps[:promotedIdx]
	rightSeps := mergedSeps[promotedIdx+1:]
	leftChildren := mergedChildren[:promotedIdx+1]
	rightChildren := mergedChildren[promotedIdx+1:]

	height := height(page)

	rightNo := b.writer.Allocate()
	rightPage := b.writer.GetForUpdate(rightNo)
	formatInnerPage(rightPage, height)
	for i, child := range rightChildren {
		setChildPtr(rightPage, i, child)
	}
	rightPE := innerSeparators(rightPage, pageSize)
	for _, s := range rightSeps {
		if !rightPE.Insert(copyBytes(s)) {
			panicf(BadPage, "new right inner sibling rejected a separator it must fit")
		}
	}

	for i := range existingChildren {
		setChildPtr(page, i, 0)
	}
	for i, child := range leftChildren {
		setChildPtr(page, i, child)
	}
	seps.Reset()
	for _, s := range leftSeps {
		if !seps.InsertTryRewrite(copyBytes(s)) {
			panicf(BadPage, "left inner sibling could not hold its own surviving separators after split")
		}
	}

	return promoted, rightNo
}

// promoteRoot implements the root-split of §4.3: the old root's contents
// move into a freshly allocated left child, and the root buffer is
// reformatted in place as a 2-child inner page, keeping the root's page
// number stable (invariant 6).
func (b *BTree) promoteRoot(rootPage []byte, split *insertSplit) {
	oldHeight := 0
	if pageRole(rootPage) == roleInner {
		oldHeight = height(rootPage)
	}

	leftNo := b.writer.Allocate()
	leftPage := b.writer.GetForUpdate(leftNo)
	copy(leftPage, rootPage)

	newHeight := oldHeight + 1
	formatInnerPage(rootPage, newHeight)
	setChildPtr(rootPage, 0, uint32(leftNo))
	setChildPtr(rootPage, 1, uint32(split.right))
	seps := innerSeparators(rootPage, b.pageSize)
	if !seps.Insert(copyBytes(split.sep)) {
		panicf(BadPage, "fresh root page could not hold a single separator")
	}
}

func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
