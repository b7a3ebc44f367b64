// Package pageprovider defines the contract a BTree consumes to read and,
// in write mode, copy-on-write materialize, allocate and release pages.
// The tree owns no I/O itself; everything here is assumed synchronous.
package pageprovider

// PageNumber identifies a page within a provider. Numbering is entirely
// up to the provider; the tree treats it as an opaque key.
type PageNumber uint32

// Provider is the read-only contract: one operation, a page lookup that
// may report the page as unavailable.
type Provider interface {
	// Get returns the current bytes of pageNo, or ok=false if the page is
	// not available (e.g. it was never allocated, or the backing store
	// cannot currently supply it).
	Get(pageNo PageNumber) (page []byte, ok bool)
}

// ProviderForWrite is the contract consumed by a BTree opened for
// mutation. All operations are expected to succeed; a provider that
// cannot satisfy one is expected to panic rather than return a zero
// value, per the "writes assume success or fail fatally" rule.
type ProviderForWrite interface {
	// Get returns the current bytes of pageNo. After GetForUpdate(pageNo)
	// has been called earlier in the same operation, Get must return that
	// same (updated) buffer.
	Get(pageNo PageNumber) []byte

	// GetForUpdate returns a mutable buffer for pageNo. Writes through
	// this buffer are expected to be visible to subsequent Get/GetForUpdate
	// calls for the same page within the same provider instance. Callers
	// must route every mutation exclusively through buffers obtained this
	// way (the "mutation discipline" of §5).
	GetForUpdate(pageNo PageNumber) []byte

	// Allocate reserves a fresh page number and returns it. The page's
	// contents are unspecified until the caller writes to a buffer
	// obtained via GetForUpdate.
	Allocate() PageNumber

	// Release returns pageNo to the provider; it is no longer valid to
	// fetch after this call.
	Release(pageNo PageNumber)
}
