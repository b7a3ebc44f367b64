package bptree

import (
	"bytes"

	"github.com/dbathon/bptree/pageprovider"
)

func recoverMissing(status *ScanStatus) {
	if r := recover(); r != nil {
		if _, ok := r.(missingPageSignal); ok {
			*status = StatusMissingPage
			return
		}
		panic(r)
	}
}

// scanSubtree walks the subtree rooted at pageNo in the given direction,
// starting at or adjacent to start (nil means unbounded), calling cb for
// every matching entry. It returns false as soon as cb returns false.
//
// A key equal to a separator belongs exclusively to that separator's
// right child under invariant 3 (lower-bound-inclusive), so the same
// descendIndex computation locates the correct single child to recurse
// into first regardless of scan direction; there is no duplicate-key
// case to special-case across children since entries are globally
// unique (§9's open question about revisiting a right child on an exact
// separator match does not arise here).
func (b *BTree) scanSubtree(pageNo pageprovider.PageNumber, start []byte, forward bool, cb func(e []byte) bool) bool {
	page := b.getPage(pageNo)
	if pageRole(page) == roleLeaf {
		pe := leafEntries(page)
		if forward {
			return pe.Scan(start, cb)
		}
		return pe.ScanReverse(start, cb)
	}

	seps := innerSeparators(page, b.pageSize)
	k := seps.Count()
	var idx int
	switch {
	case start == nil && forward:
		idx = 0
	case start == nil && !forward:
		idx = k
	default:
		idx = descendIndex(seps, start)
	}

	firstChild := pageprovider.PageNumber(childPtr(page, idx))
	if !b.scanSubtree(firstChild, start, forward, cb) {
		return false
	}
	if forward {
		for i := idx + 1; i <= k; i++ {
			childNo := pageprovider.PageNumber(childPtr(page, i))
			if !b.scanSubtree(childNo, nil, forward, cb) {
				return false
			}
		}
	} else {
		for i := idx - 1; i >= 0; i-- {
			childNo := pageprovider.PageNumber(childPtr(page, i))
			if !b.scanSubtree(childNo, nil, forward, cb) {
				return false
			}
		}
	}
	return true
}

func (b *BTree) doScan(start []byte, forward bool, cb func(e []byte) bool) (status ScanStatus) {
	status = StatusOK
	func() {
		defer recoverMissing(&status)
		if !b.scanSubtree(b.root, start, forward, cb) {
			status = StatusAborted
		}
	}()
	return status
}

// ScanForward walks entries in ascending order starting at or after
// start (nil for the very first entry), invoking cb for each; cb returns
// false to stop early.
func (b *BTree) ScanForward(start []byte, cb func(e []byte) bool) ScanStatus {
	return b.doScan(start, true, cb)
}

// ScanReverse walks entries in descending order starting at or before
// start (nil for the very last entry).
func (b *BTree) ScanReverse(start []byte, cb func(e []byte) bool) ScanStatus {
	return b.doScan(start, false, cb)
}

// FindFirst returns the smallest entry in the tree.
func (b *BTree) FindFirst() (entry []byte, ok bool, status ScanStatus) {
	status = StatusOK
	func() {
		defer recoverMissing(&status)
		pageNo := b.root
		for {
			page := b.getPage(pageNo)
			if pageRole(page) == roleLeaf {
				pe := leafEntries(page)
				if pe.Count() == 0 {
					return
				}
				entry = copyBytes(pe.ReadByOrdinal(0))
				ok = true
				return
			}
			pageNo = pageprovider.PageNumber(childPtr(page, 0))
		}
	}()
	return
}

// FindLast returns the largest entry in the tree.
func (b *BTree) FindLast() (entry []byte, ok bool, status ScanStatus) {
	status = StatusOK
	func() {
		defer recoverMissing(&status)
		pageNo := b.root
		for {
			page := b.getPage(pageNo)
			if pageRole(page) == roleLeaf {
				pe := leafEntries(page)
				n := pe.Count()
				if n == 0 {
					return
				}
				entry = copyBytes(pe.ReadByOrdinal(n - 1))
				ok = true
				return
			}
			seps := innerSeparators(page, b.pageSize)
			pageNo = pageprovider.PageNumber(childPtr(page, seps.Count()))
		}
	}()
	return
}

func hasPrefix(e, prefix []byte) bool {
	return len(e) >= len(prefix) && bytes.Equal(e[:len(prefix)], prefix)
}

// FindFirstWithPrefix returns the first entry (in ascending order) that
// has prefix as a byte prefix.
func (b *BTree) FindFirstWithPrefix(prefix []byte) (entry []byte, ok bool, status ScanStatus) {
	status = b.doScan(prefix, true, func(e []byte) bool {
		if hasPrefix(e, prefix) {
			entry = copyBytes(e)
			ok = true
		}
		return false
	})
	if status == StatusAborted {
		status = StatusOK
	}
	return
}

// FindAllWithPrefix returns every entry (in ascending order) that has
// prefix as a byte prefix.
func (b *BTree) FindAllWithPrefix(prefix []byte) (entries [][]byte, status ScanStatus) {
	status = b.doScan(prefix, true, func(e []byte) bool {
		if !hasPrefix(e, prefix) {
			return false
		}
		entries = append(entries, copyBytes(e))
		return true
	})
	if status == StatusAborted {
		status = StatusOK
	}
	return
}

func countLeafRange(pe PageEntries, start, end []byte, startExclusive, endExclusive bool) int {
	startOrd := 0
	if start != nil {
		idx, found := pe.OrdinalOf(start)
		if found && startExclusive {
			idx++
		}
		startOrd = idx
	}
	endOrd := pe.Count() - 1
	if end != nil {
		idx, found := pe.OrdinalOf(end)
		if found {
			if endExclusive {
				idx--
			}
			endOrd = idx
		} else {
			endOrd = idx - 1
		}
	}
	count := endOrd - startOrd + 1
	if count < 0 {
		count = 0
	}
	return count
}

func (b *BTree) countSubtree(pageNo pageprovider.PageNumber, start, end []byte, startExclusive, endExclusive bool) int {
	page := b.getPage(pageNo)
	if pageRole(page) == roleLeaf {
		return countLeafRange(leafEntries(page), start, end, startExclusive, endExclusive)
	}

	seps := innerSeparators(page, b.pageSize)
	k := seps.Count()
	loIdx := 0
	if start != nil {
		loIdx = descendIndex(seps, start)
	}
	hiIdx := k
	if end != nil {
		hiIdx = descendIndex(seps, end)
	}

	total := 0
	for i := loIdx; i <= hiIdx; i++ {
		childStart := start
		if i != loIdx {
			childStart = nil
		}
		childEnd := end
		if i != hiIdx {
			childEnd = nil
		}
		childNo := pageprovider.PageNumber(childPtr(page, i))
		total += b.countSubtree(childNo, childStart, childEnd, startExclusive, endExclusive)
	}
	return total
}

// CountInRange counts entries between start and end. Each boundary is
// inclusive unless its flag (startExclusive/endExclusive) is true, so the
// half-open range [start, end) is startExclusive=false, endExclusive=true.
// A nil start or end is unbounded on that side.
func (b *BTree) CountInRange(start, end []byte, startExclusive, endExclusive bool) (count int, status ScanStatus) {
	status = StatusOK
	func() {
		defer recoverMissing(&status)
		count = b.countSubtree(b.root, start, end, startExclusive, endExclusive)
	}()
	return
}
