// Package bptree implements an embeddable B+-tree index over
// variable-length byte-string keys, stored entirely inside fixed-size
// pages supplied by an external pageprovider.Provider /
// pageprovider.ProviderForWrite. See SPEC_FULL.md for the full design.
package bptree

import (
	"bytes"
	"sort"

	"github.com/dbathon/bptree/pageprovider"
)

// BTree is a handle onto a tree rooted at a fixed page number. A BTree
// opened with only a Provider supports read-only operations (Scan, Find*,
// CountInRange, IntegrityCheck); one opened with a ProviderForWrite also
// supports Insert and Remove.
type BTree struct {
	reader   pageprovider.Provider
	writer   pageprovider.ProviderForWrite
	pageSize int
	root     pageprovider.PageNumber
}

// Init allocates a fresh page from writer, formats it as an empty leaf,
// and returns a BTree rooted there. pageSize must satisfy
// MinPageSize <= pageSize <= MaxPageSize and give a child count >= 3 for
// inner pages.
func Init(writer pageprovider.ProviderForWrite, pageSize int) (tree *BTree, err error) {
	defer recoverError(&err)
	checkPageSize(pageSize)
	root := writer.Allocate()
	page := writer.GetForUpdate(root)
	if len(page) != pageSize {
		panicf(BadPage, "provider returned a page of length %d, expected %d", len(page), pageSize)
	}
	formatLeafPage(page)
	return &BTree{writer: writer, reader: asReader(writer), pageSize: pageSize, root: root}, nil
}

// Open opens an existing tree rooted at root for read-only access.
func Open(reader pageprovider.Provider, root pageprovider.PageNumber, pageSize int) (tree *BTree, err error) {
	defer recoverError(&err)
	checkPageSize(pageSize)
	return &BTree{reader: reader, pageSize: pageSize, root: root}, nil
}

// OpenForWrite opens an existing tree rooted at root for mutation.
func OpenForWrite(writer pageprovider.ProviderForWrite, root pageprovider.PageNumber, pageSize int) (tree *BTree, err error) {
	defer recoverError(&err)
	checkPageSize(pageSize)
	return &BTree{writer: writer, reader: asReader(writer), pageSize: pageSize, root: root}, nil
}

// RootPageNumber returns the tree's stable root page number (invariant 6).
func (b *BTree) RootPageNumber() pageprovider.PageNumber {
	return b.root
}

// PageSize returns the fixed page size this tree was opened with.
func (b *BTree) PageSize() int {
	return b.pageSize
}

// readerWriterAdapter lets a ProviderForWrite satisfy Provider so internal
// read paths (Scan, Find*, CountInRange, IntegrityCheck) work unchanged
// whether the tree was opened for read-only or read-write access.
type readerWriterAdapter struct {
	w pageprovider.ProviderForWrite
}

func (a readerWriterAdapter) Get(pageNo pageprovider.PageNumber) ([]byte, bool) {
	return a.w.Get(pageNo), true
}

func asReader(w pageprovider.ProviderForWrite) pageprovider.Provider {
	return readerWriterAdapter{w}
}

func (b *BTree) getPage(pageNo pageprovider.PageNumber) []byte {
	page, ok := b.reader.Get(pageNo)
	if !ok {
		panic(missingPageSignal{})
	}
	return page
}

func (b *BTree) requireWriter() {
	if b.writer == nil {
		panicf(BadPage, "tree was opened read-only")
	}
}

// shortestSeparator returns the smallest prefix of rightFirst that sorts
// strictly greater than leftLast, per §4.3.
func shortestSeparator(leftLast, rightFirst []byte) []byte {
	max := len(leftLast)
	if len(rightFirst) < max {
		max = len(rightFirst)
	}
	p := 0
	for p < max && leftLast[p] == rightFirst[p] {
		p++
	}
	end := p + 1
	if end > len(rightFirst) {
		end = len(rightFirst)
	}
	out := make([]byte, end)
	copy(out, rightFirst[:end])
	return out
}

// findSplitIndex returns the smallest index r such that the cumulative
// byte length of entries[0:r) reaches at least half the total byte
// length of entries, per §4.3. Clamped to [1, len(entries)-1] so both
// sides get at least one entry.
func findSplitIndex(entries [][]byte) int {
	total := 0
	for _, e := range entries {
		total += len(e)
	}
	cum := 0
	r := 0
	for r < len(entries) {
		cum += len(entries[r])
		r++
		if cum*2 >= total {
			break
		}
	}
	if r < 1 {
		r = 1
	}
	if r > len(entries)-1 {
		r = len(entries) - 1
	}
	return r
}

// descendIndex returns the child slot to follow for key, given k
// separators accessible through seps: the number of separators <= key,
// i.e. the first index whose separator is strictly greater than key (see
// invariant 3 in SPEC_FULL.md).
func descendIndex(seps PageEntries, key []byte) int {
	k := seps.Count()
	return sort.Search(k, func(i int) bool {
		return bytes.Compare(seps.ReadByOrdinal(i), key) > 0
	})
}
