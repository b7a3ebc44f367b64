package fileprovider

import (
	"path/filepath"
	"testing"
)

func TestProvider_allocateWriteFlushReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.db")

	p, err := Create(path, 512)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	a := p.Allocate()
	buf := p.GetForUpdate(a)
	copy(buf, []byte("hello world"))
	if err := p.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	nextPage, freeHead := p.Bookkeeping()
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := Open(path, 512, nextPage, freeHead)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer reopened.Close()

	got := reopened.Get(a)
	if string(got[:11]) != "hello world" {
		t.Errorf("Get() after reopen = %q, want %q", got[:11], "hello world")
	}
}

func TestProvider_releaseAndReuse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.db")
	p, err := Create(path, 512)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer p.Close()

	a := p.Allocate()
	p.Release(a)
	if _, ok := p.Reader().Get(a); ok {
		t.Errorf("Reader().Get() on a released page reported ok=true")
	}
	reused := p.Allocate()
	if reused != a {
		t.Errorf("Allocate() after Release() = %v, want reused page %v", reused, a)
	}
}
