package bptree

import (
	"github.com/dbathon/bptree/pageprovider"
)

// Remove deletes key from the tree. It returns existed=true if the key
// was present. Remove requires the tree to have been opened with a
// ProviderForWrite.
func (b *BTree) Remove(key []byte) (existed bool, err error) {
	defer recoverError(&err)
	b.requireWriter()

	rootPage := b.writer.GetForUpdate(b.root)
	found, _ := b.removeFrom(rootPage, b.root, key, nil, nil, true)
	return found, nil
}

// removeFrom removes key from the subtree rooted at page. leftSibling and
// connectingSep (nil for the left-most child at any level, including the
// root) are supplied by the caller from its own arrays, since only a
// page's parent knows its left sibling's page number (§4.4). removeChild
// tells the caller that page was released and its separator/child entry
// must be dropped.
func (b *BTree) removeFrom(page []byte, pageNo pageprovider.PageNumber, key []byte, leftSibling *pageprovider.PageNumber, connectingSep []byte, isRoot bool) (found bool, removeChild bool) {
	if pageRole(page) == roleLeaf {
		return b.removeFromLeaf(page, pageNo, key, leftSibling, isRoot)
	}
	return b.removeFromInner(page, pageNo, key, leftSibling, connectingSep, isRoot)
}

func (b *BTree) removeFromLeaf(page []byte, pageNo pageprovider.PageNumber, key []byte, leftSibling *pageprovider.PageNumber, isRoot bool) (found bool, removeChild bool) {
	pe := leafEntries(page)
	if !pe.Contains(key) {
		return false, false
	}
	pe.Remove(key)
	if isRoot {
		// The root is never released; an empty root leaf is a valid empty
		// tree.
		return true, false
	}
	if pe.Count() == 0 {
		// Condition (a): this leaf held exactly the one entry just removed.
		b.writer.Release(pageNo)
		return true, true
	}
	if leftSibling != nil {
		leftPage := b.writer.GetForUpdate(*leftSibling)
		if b.canMergeLeaf(page) && b.canMergeLeaf(leftPage) {
			leftPE := leafEntries(leftPage)
			for _, e := range pe.ReadAll() {
				if !leftPE.InsertTryRewrite(copyBytes(e)) {
					panicf(BadPage, "left sibling leaf rejected an entry during a merge it was sized to accept")
				}
			}
			b.writer.Release(pageNo)
			return true, true
		}
	}
	return true, false
}

func (b *BTree) removeFromInner(page []byte, pageNo pageprovider.PageNumber, key []byte, leftSibling *pageprovider.PageNumber, connectingSep []byte, isRoot bool) (found bool, removeChild bool) {
	pageSize := b.pageSize
	seps := innerSeparators(page, pageSize)
	idx := descendIndex(seps, key)

	var childLeftSibling *pageprovider.PageNumber
	var childConnectingSep []byte
	if idx > 0 {
		ls := pageprovider.PageNumber(childPtr(page, idx-1))
		childLeftSibling = &ls
		childConnectingSep = copyBytes(seps.ReadByOrdinal(idx - 1))
	}
	childNo := pageprovider.PageNumber(childPtr(page, idx))
	childPage := b.writer.GetForUpdate(childNo)

	childFound, childRemoveChild := b.removeFrom(childPage, childNo, key, childLeftSibling, childConnectingSep, false)
	if !childFound {
		return false, false
	}
	if !childRemoveChild {
		return true, false
	}

	sepIdx := idx - 1
	if sepIdx < 0 {
		sepIdx = 0
	}
	removeSeparatorAndChild(page, pageSize, sepIdx, idx)

	if isRoot {
		b.collapseRootIfNeeded(page)
		return true, false
	}

	if leftSibling != nil {
		leftPage := b.writer.GetForUpdate(*leftSibling)
		if b.canMergeInner(page) && b.canMergeInner(leftPage) {
			b.mergeInnerIntoLeft(leftPage, page, connectingSep)
			b.writer.Release(pageNo)
			return true, true
		}
	}
	return true, false
}

// removeSeparatorAndChild drops the separator at sepIdx and the child
// pointer at childIdx from page, per §4.4.
func removeSeparatorAndChild(page []byte, pageSize int, sepIdx int, childIdx int) {
	seps := innerSeparators(page, pageSize)
	sepValue := copyBytes(seps.ReadByOrdinal(sepIdx))
	seps.Remove(sepValue)

	c := childCount(pageSize)
	for i := childIdx; i < c-1; i++ {
		setChildPtr(page, i, childPtr(page, i+1))
	}
	setChildPtr(page, c-1, 0)
}

// collapseRootIfNeeded implements the root-collapse rule of §4.4: while
// the root is an inner page with a single remaining child, that child's
// full contents are promoted into the root (preserving the root's page
// number, invariant 6) and the child is released. This naturally bottoms
// out at a leaf (possibly empty, if the whole tree was just emptied) once
// the cascade has nothing left to promote. See the Open Question
// resolution in SPEC_FULL.md.
func (b *BTree) collapseRootIfNeeded(rootPage []byte) {
	for pageRole(rootPage) == roleInner {
		seps := innerSeparators(rootPage, b.pageSize)
		if seps.Count() != 0 {
			break
		}
		childNo := pageprovider.PageNumber(childPtr(rootPage, 0))
		childPage := b.writer.GetForUpdate(childNo)
		copy(rootPage, childPage)
		b.writer.Release(childNo)
	}
}

func (b *BTree) canMergeLeaf(page []byte) bool {
	pe := leafEntries(page)
	regionSize := len(page) - 1
	return float64(pe.FreeSpace()) >= MergeThreshold*float64(regionSize)
}

func (b *BTree) canMergeInner(page []byte) bool {
	pageSize := b.pageSize
	c := childCount(pageSize)
	pe := innerSeparators(page, pageSize)
	regionSize := pageSize - (2 + 4*c)
	freeFrac := float64(pe.FreeSpace()) >= MergeThreshold*float64(regionSize)
	usedChildren := pe.Count() + 1
	freeChildSlots := c - usedChildren
	childFrac := float64(freeChildSlots) >= MergeThreshold*float64(c)
	return freeFrac && childFrac
}

// mergeInnerIntoLeft merges right (already locally shrunk by the caller)
// into left, pulling connectingSep down from the parent between left's
// last child subtree and right's first, per §4.4.
func (b *BTree) mergeInnerIntoLeft(left []byte, right []byte, connectingSep []byte) {
	pageSize := b.pageSize
	c := childCount(pageSize)
	leftPE := innerSeparators(left, pageSize)
	rightPE := innerSeparators(right, pageSize)

	leftChildrenUsed := leftPE.Count() + 1
	rightChildrenUsed := rightPE.Count() + 1

	mergedChildren := make([]uint32, 0, leftChildrenUsed+rightChildrenUsed)
	for i := 0; i < leftChildrenUsed; i++ {
		mergedChildren = append(mergedChildren, childPtr(left, i))
	}
	for i := 0; i < rightChildrenUsed; i++ {
		mergedChildren = append(mergedChildren, childPtr(right, i))
	}

	mergedSeps := make([][]byte, 0, leftPE.Count()+1+rightPE.Count())
	mergedSeps = append(mergedSeps, leftPE.ReadAll()...)
	mergedSeps = append(mergedSeps, connectingSep)
	mergedSeps = append(mergedSeps, rightPE.ReadAll()...)
	// Copy out of left/right page bytes before they get overwritten below.
	for i, s := range mergedSeps {
		mergedSeps[i] = copyBytes(s)
	}

	for i := 0; i < c; i++ {
		setChildPtr(left, i, 0)
	}
	for i, child := range mergedChildren {
		setChildPtr(left, i, child)
	}
	leftPE.Reset()
	for _, s := range mergedSeps {
		if !leftPE.InsertTryRewrite(s) {
			panicf(BadPage, "left sibling inner page rejected a separator during a merge it was sized to accept")
		}
	}
}
