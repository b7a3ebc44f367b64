// Package fileprovider is a disk-backed pageprovider.ProviderForWrite. It
// persists pages to a real file using github.com/ncw/directio's aligned
// direct I/O blocks, the dependency the bltree original's go.mod already
// carried but never actually wired into its SamehadaDB-backed
// storage/buffer adapter (see DESIGN.md).
package fileprovider

import (
	"fmt"
	"io"
	"os"

	"github.com/ncw/directio"

	"github.com/dbathon/bptree/pageprovider"
)

// Provider is a pageprovider.ProviderForWrite backed by a file opened
// with O_DIRECT. Pages are cached and written lazily; call Flush to push
// every dirty page to disk.
type Provider struct {
	file     *os.File
	pageSize int
	slotSize int // pageSize rounded up to directio.AlignSize
	nextPage uint32
	freeHead uint32
	cache    map[pageprovider.PageNumber][]byte
	dirty    map[pageprovider.PageNumber]bool
	freed    map[pageprovider.PageNumber]bool
}

func alignUp(n int) int {
	a := directio.AlignSize
	return (n + a - 1) / a * a
}

// Create opens path for direct I/O, truncating it, and returns a fresh
// empty provider for pages of pageSize bytes.
func Create(path string, pageSize int) (*Provider, error) {
	f, err := directio.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	return newProvider(f, pageSize, 1, 0), nil
}

// Open reopens path for direct I/O, resuming allocation bookkeeping from
// nextPage/freeHead as previously returned by Bookkeeping.
func Open(path string, pageSize int, nextPage, freeHead uint32) (*Provider, error) {
	f, err := directio.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	return newProvider(f, pageSize, nextPage, freeHead), nil
}

func newProvider(f *os.File, pageSize int, nextPage, freeHead uint32) *Provider {
	return &Provider{
		file:     f,
		pageSize: pageSize,
		slotSize: alignUp(pageSize),
		nextPage: nextPage,
		freeHead: freeHead,
		cache:    make(map[pageprovider.PageNumber][]byte),
		dirty:    make(map[pageprovider.PageNumber]bool),
		freed:    make(map[pageprovider.PageNumber]bool),
	}
}

// Close flushes every dirty page and closes the underlying file.
func (p *Provider) Close() error {
	if err := p.Flush(); err != nil {
		return err
	}
	return p.file.Close()
}

// Bookkeeping returns the allocation counters a later Open call needs.
func (p *Provider) Bookkeeping() (nextPage, freeHead uint32) {
	return p.nextPage, p.freeHead
}

func (p *Provider) slotOffset(pageNo pageprovider.PageNumber) int64 {
	return int64(pageNo) * int64(p.slotSize)
}

func (p *Provider) load(pageNo pageprovider.PageNumber) []byte {
	if buf, ok := p.cache[pageNo]; ok {
		return buf
	}
	block := directio.AlignedBlock(p.slotSize)
	if _, err := p.file.ReadAt(block, p.slotOffset(pageNo)); err != nil && err != io.EOF {
		panic(fmt.Sprintf("fileprovider: read page %d: %v", pageNo, err))
	}
	buf := block[:p.pageSize]
	p.cache[pageNo] = buf
	return buf
}

func (p *Provider) valid(pageNo pageprovider.PageNumber) bool {
	return pageNo != 0 && uint32(pageNo) < p.nextPage && !p.freed[pageNo]
}

// Get returns the current bytes of pageNo, panicking if it was never
// allocated or has since been released.
func (p *Provider) Get(pageNo pageprovider.PageNumber) []byte {
	if !p.valid(pageNo) {
		panic(fmt.Sprintf("fileprovider: page %d is not allocated", pageNo))
	}
	return p.load(pageNo)
}

// GetForUpdate returns the same buffer Get would and marks it dirty so
// Flush writes it back.
func (p *Provider) GetForUpdate(pageNo pageprovider.PageNumber) []byte {
	buf := p.Get(pageNo)
	p.dirty[pageNo] = true
	return buf
}

// Allocate reuses the head of the on-disk free chain (threaded through
// the first 4 bytes of each freed page, as bufmgr.go's pageZero.chain
// does) or grows the file by one aligned slot.
func (p *Provider) Allocate() pageprovider.PageNumber {
	var pageNo pageprovider.PageNumber
	if p.freeHead != 0 {
		pageNo = pageprovider.PageNumber(p.freeHead)
		buf := p.load(pageNo)
		p.freeHead = beU32(buf[:4])
	} else {
		pageNo = pageprovider.PageNumber(p.nextPage)
		p.nextPage++
	}
	delete(p.freed, pageNo)
	buf := p.load(pageNo)
	for i := range buf {
		buf[i] = 0
	}
	p.dirty[pageNo] = true
	return pageNo
}

// Release threads pageNo onto the free chain.
func (p *Provider) Release(pageNo pageprovider.PageNumber) {
	buf := p.load(pageNo)
	putBeU32(buf[:4], p.freeHead)
	p.freeHead = uint32(pageNo)
	p.freed[pageNo] = true
	p.dirty[pageNo] = true
}

// Flush writes every dirty cached page to disk.
func (p *Provider) Flush() error {
	for pageNo, isDirty := range p.dirty {
		if !isDirty {
			continue
		}
		block := directio.AlignedBlock(p.slotSize)
		copy(block, p.cache[pageNo])
		if _, err := p.file.WriteAt(block, p.slotOffset(pageNo)); err != nil {
			return fmt.Errorf("fileprovider: write page %d: %w", pageNo, err)
		}
		delete(p.dirty, pageNo)
	}
	return nil
}

// Reader returns a read-only pageprovider.Provider view that reports
// unallocated or released pages as missing instead of panicking.
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
