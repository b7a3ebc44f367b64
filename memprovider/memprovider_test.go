package memprovider

import (
	"testing"

	"github.com/dbathon/bptree/pageprovider"
)

func TestProvider_allocateAndGet(t *testing.T) {
	p := New(256)
	a := p.Allocate()
	b := p.Allocate()
	if a == b {
		t.Fatalf("Allocate() returned the same page number twice: %v", a)
	}

	buf := p.GetForUpdate(a)
	buf[0] = 0x42
	if got := p.Get(a)[0]; got != 0x42 {
		t.Errorf("Get() after GetForUpdate = %v, want %v", got, 0x42)
	}
}

func TestProvider_releaseAndReuse(t *testing.T) {
	p := New(256)
	a := p.Allocate()
	p.Release(a)

	if _, ok := p.Reader().Get(a); ok {
		t.Errorf("Reader().Get() on a released page reported ok=true")
	}

	reused := p.Allocate()
	if reused != a {
		t.Errorf("Allocate() after Release() = %v, want reused page %v", reused, a)
	}
	buf := p.Get(reused)
	for i, v := range buf {
		if v != 0 {
			t.Fatalf("reused page not zeroed at offset %d: %v", i, v)
		}
	}
}

func TestProvider_getPanicsOnUnallocated(t *testing.T) {
	p := New(256)
	defer func() {
		if recover() == nil {
			t.Fatalf("Get() on an unallocated page did not panic")
		}
	}()
	p.Get(pageprovider.PageNumber(999))
}

func TestProvider_readerReportsMissingForPageZero(t *testing.T) {
	p := New(256)
	if _, ok := p.Reader().Get(0); ok {
		t.Errorf("Reader().Get(0) reported ok=true, page 0 is reserved")
	}
}
