// Package memprovider is the in-memory reference pageprovider.Provider /
// pageprovider.ProviderForWrite implementation, backed by
// github.com/dsnet/golib/memfile instead of a real file. It replaces the
// fixed [4096]byte-array-in-a-struct sample the bltree original shipped
// for tests with a real io.ReaderAt/WriterAt-shaped in-memory store, and
// adds the free-page-chain reuse bufmgr.go does for disk pages.
package memprovider

import (
	"fmt"

	"github.com/dsnet/golib/memfile"

	"github.com/dbathon/bptree/pageprovider"
)

// Provider is a pageprovider.ProviderForWrite that keeps every page in a
// memfile.File. Page 0 is reserved and never allocated, mirroring the
// bltree original's dedicated allocation page.
type Provider struct {
	file     *memfile.File
	pageSize int
	nextPage uint32
	freeHead uint32
	cache    map[pageprovider.PageNumber][]byte
	freed    map[pageprovider.PageNumber]bool
}

// New creates an empty provider for pages of the given size.
func New(pageSize int) *Provider {
	return &Provider{
		file:     memfile.New(nil),
		pageSize: pageSize,
		nextPage: 1,
		cache:    make(map[pageprovider.PageNumber][]byte),
		freed:    make(map[pageprovider.PageNumber]bool),
	}
}

func (p *Provider) offset(pageNo pageprovider.PageNumber) int64 {
	return int64(pageNo) * int64(p.pageSize)
}

func (p *Provider) load(pageNo pageprovider.PageNumber) []byte {
	if buf, ok := p.cache[pageNo]; ok {
		return buf
	}
	buf := make([]byte, p.pageSize)
	if _, err := p.file.ReadAt(buf, p.offset(pageNo)); err != nil {
		panic(fmt.Sprintf("memprovider: read page %d: %v", pageNo, err))
	}
	p.cache[pageNo] = buf
	return buf
}

func (p *Provider) valid(pageNo pageprovider.PageNumber) bool {
	return pageNo != 0 && uint32(pageNo) < p.nextPage && !p.freed[pageNo]
}

// Get returns the current bytes of pageNo. It panics if pageNo was never
// allocated or has since been released; a ProviderForWrite's caller is
// assumed to never do that (§5).
func (p *Provider) Get(pageNo pageprovider.PageNumber) []byte {
	if !p.valid(pageNo) {
		panic(fmt.Sprintf("memprovider: page %d is not allocated", pageNo))
	}
	return p.load(pageNo)
}

// GetForUpdate returns the same mutable buffer Get would, for symmetry
// with on-disk providers that would otherwise need a copy-on-write step
// here.
func (p *Provider) GetForUpdate(pageNo pageprovider.PageNumber) []byte {
	return p.Get(pageNo)
}

// Allocate reuses the head of the free chain if one exists (the chain is
// threaded through the first 4 bytes of each freed page, the same trick
// bufmgr.go's pageZero.chain uses for its on-disk free list), else grows
// the backing memfile by one page.
func (p *Provider) Allocate() pageprovider.PageNumber {
	var pageNo pageprovider.PageNumber
	if p.freeHead != 0 {
		pageNo = pageprovider.PageNumber(p.freeHead)
		buf := p.load(pageNo)
		p.freeHead = beU32(buf[:4])
	} else {
		pageNo = pageprovider.PageNumber(p.nextPage)
		p.nextPage++
		if _, err := p.file.WriteAt(make([]byte, p.pageSize), p.offset(pageNo)); err != nil {
			panic(fmt.Sprintf("memprovider: grow for page %d: %v", pageNo, err))
		}
	}
	delete(p.freed, pageNo)
	buf := p.load(pageNo)
	for i := range buf {
		buf[i] = 0
	}
	return pageNo
}

// Release threads pageNo onto the free chain.
func (p *Provider) Release(pageNo pageprovider.PageNumber) {
	buf := p.load(pageNo)
	putBeU32(buf[:4], p.freeHead)
	p.freeHead = uint32(pageNo)
	p.freed[pageNo] = true
}

// Reader returns a read-only pageprovider.Provider view that reports
// unallocated or released pages as missing instead of panicking, for
// opening a tree via bptree.Open or exercising StatusMissingPage.
func (p *Provider) Reader() pageprovider.Provider {
	return reader{p}
}

type reader struct {
	p *Provider
}

func (r reader) Get(pageNo pageprovider.PageNumber) ([]byte, bool) {
	if !r.p.valid(pageNo) {
		return nil, false
	}
	return r.p.load(pageNo), true
}
