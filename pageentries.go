package bptree

import (
	"bytes"
	"sort"
)

// peHeaderSize is the size of an initialized PageEntries header: 1 marker
// byte + 2 bytes FE + 2 bytes FC + 2 bytes N.
const peHeaderSize = 7

const (
	peMarkerUninitialized = 0
	peMarkerInitialized   = 1
)

// PageEntries treats a byte slice (a whole leaf page past its role byte,
// or the separator-key tail of an inner page) as a sorted set of
// variable-length byte strings, per §4.1. It never allocates or retains
// the slice itself: all state lives in the bytes the caller owns.
type PageEntries struct {
	region []byte
}

// NewPageEntries wraps region, the raw bytes of a PageEntries area. The
// region is not modified or initialized by this call; Count and FreeSpace
// both work correctly against an all-zero (uninitialized) region.
func NewPageEntries(region []byte) PageEntries {
	return PageEntries{region: region}
}

func (pe PageEntries) initialized() bool {
	return len(pe.region) > 0 && pe.region[0] == peMarkerInitialized
}

func (pe PageEntries) fe() int {
	return int(beU16(pe.region[1:3]))
}

func (pe PageEntries) setFE(v int) {
	putBeU16(pe.region[1:3], uint16(v))
}

func (pe PageEntries) fc() int {
	return int(beU16(pe.region[3:5]))
}

func (pe PageEntries) setFC(v int) {
	putBeU16(pe.region[3:5], uint16(v))
}

// Count returns the number of entries currently stored.
func (pe PageEntries) Count() int {
	if !pe.initialized() {
		return 0
	}
	return int(beU16(pe.region[5:7]))
}

func (pe PageEntries) setCount(n int) {
	putBeU16(pe.region[5:7], uint16(n))
}

func slotArrayEnd(n int) int {
	return peHeaderSize + n*2
}

func (pe PageEntries) slotOffset(i int) int {
	base := peHeaderSize + i*2
	return int(beU16(pe.region[base : base+2]))
}

func (pe PageEntries) setSlotOffset(i int, offset int) {
	base := peHeaderSize + i*2
	putBeU16(pe.region[base:base+2], uint16(offset))
}

// FreeSpace returns the number of bytes that could be consumed by a new
// entry's record, accounting for the extra slot pointer a new entry would
// require. See §4.1.
func (pe PageEntries) FreeSpace() int {
	if !pe.initialized() {
		return len(pe.region) - 1
	}
	n := pe.Count()
	tail := pe.fe() - slotArrayEnd(n+1)
	return tail + pe.fc()
}

func (pe PageEntries) ensureInitialized() {
	if pe.initialized() {
		return
	}
	pe.region[0] = peMarkerInitialized
	pe.setFE(len(pe.region))
	pe.setFC(0)
	pe.setCount(0)
}

// Reset wipes the region back to the uninitialized state.
func (pe PageEntries) Reset() {
	for i := range pe.region {
		pe.region[i] = 0
	}
}

func encodeLengthPrefix(n int) []byte {
	if n <= 127 {
		return []byte{byte(n)}
	}
	return []byte{0x80 | byte(n>>8), byte(n)}
}

func decodeLengthPrefix(region []byte, offset int) (length int, prefixLen int) {
	b0 := region[offset]
	if b0&0x80 == 0 {
		return int(b0), 1
	}
	return (int(b0&0x7f) << 8) | int(region[offset+1]), 2
}

// recordBytes is the number of bytes a serialized record for e occupies,
// including its length prefix. The empty entry occupies zero bytes (no
// record is written; its slot pointer is 0).
func recordBytes(e []byte) int {
	if len(e) == 0 {
		return 0
	}
	return len(encodeLengthPrefix(len(e))) + len(e)
}

func (pe PageEntries) readEntryAt(offset int) []byte {
	if offset == 0 {
		return []byte{}
	}
	length, prefixLen := decodeLengthPrefix(pe.region, offset)
	start := offset + prefixLen
	return pe.region[start : start+length]
}

func (pe PageEntries) recordSizeAt(offset int) int {
	if offset == 0 {
		return 0
	}
	length, prefixLen := decodeLengthPrefix(pe.region, offset)
	return prefixLen + length
}

func (pe PageEntries) writeRecordAt(offset int, e []byte) {
	if len(e) == 0 {
		return
	}
	prefix := encodeLengthPrefix(len(e))
	copy(pe.region[offset:], prefix)
	copy(pe.region[offset+len(prefix):], e)
}

// search returns the ordinal at which e is found (found=true) or the
// ordinal at which it would be inserted to keep the slot array sorted
// (found=false).
func (pe PageEntries) search(e []byte) (idx int, found bool) {
	n := pe.Count()
	idx = sort.Search(n, func(i int) bool {
		return bytes.Compare(pe.readEntryAt(pe.slotOffset(i)), e) >= 0
	})
	if idx < n && bytes.Equal(pe.readEntryAt(pe.slotOffset(idx)), e) {
		return idx, true
	}
	return idx, false
}

// Contains reports whether e is present.
func (pe PageEntries) Contains(e []byte) bool {
	_, found := pe.search(e)
	return found
}

// OrdinalOf returns the ordinal of e and true if present.
func (pe PageEntries) OrdinalOf(e []byte) (int, bool) {
	return pe.search(e)
}

// ReadByOrdinal returns a zero-copy view of the entry at ordinal i. The
// view is invalidated by any subsequent mutation of this region.
func (pe PageEntries) ReadByOrdinal(i int) []byte {
	return pe.readEntryAt(pe.slotOffset(i))
}

// ReadAll returns zero-copy views of every entry, ordinal 0..Count()-1.
func (pe PageEntries) ReadAll() [][]byte {
	n := pe.Count()
	out := make([][]byte, n)
	for i := 0; i < n; i++ {
		out[i] = pe.ReadByOrdinal(i)
	}
	return out
}

// gap describes one reclaimable hole in the data area.
type gap struct {
	offset int
	size   int
}

// gaps reconstructs every interior hole (and a trailing hole at the very
// top of the region, left behind if the first-ever-allocated record was
// later removed) by walking the currently used records in physical-offset
// order. See the FC/FE bookkeeping discussion in SPEC_FULL.md.
func (pe PageEntries) gaps() []gap {
	n := pe.Count()
	type span struct{ offset, size int }
	spans := make([]span, 0, n)
	for i := 0; i < n; i++ {
		off := pe.slotOffset(i)
		if off == 0 {
			continue
		}
		spans = append(spans, span{off, pe.recordSizeAt(off)})
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].offset < spans[j].offset })

	var out []gap
	cursor := pe.fe()
	for _, s := range spans {
		if s.offset > cursor {
			out = append(out, gap{cursor, s.offset - cursor})
		}
		cursor = s.offset + s.size
	}
	if cursor < len(pe.region) {
		out = append(out, gap{cursor, len(pe.region) - cursor})
	}
	return out
}

func (pe PageEntries) recomputeFC() {
	total := 0
	for _, g := range pe.gaps() {
		total += g.size
	}
	pe.setFC(total)
}

// bestFitGap returns the smallest gap that can hold need bytes.
func (pe PageEntries) bestFitGap(need int) (offset int, ok bool) {
	best := -1
	bestSize := 0
	for _, g := range pe.gaps() {
		if g.size >= need && (best == -1 || g.size < bestSize) {
			best = g.offset
			bestSize = g.size
		}
	}
	if best == -1 {
		return 0, false
	}
	return best, true
}

func (pe PageEntries) insertSlotAt(idx int, offset int) {
	n := pe.Count()
	for i := n; i > idx; i-- {
		pe.setSlotOffset(i, pe.slotOffset(i-1))
	}
	pe.setSlotOffset(idx, offset)
	pe.setCount(n + 1)
}

func (pe PageEntries) removeSlotAt(idx int) {
	n := pe.Count()
	for i := idx; i < n-1; i++ {
		pe.setSlotOffset(i, pe.slotOffset(i+1))
	}
	pe.setCount(n - 1)
}

// Insert adds e, returning true if it is present afterward (whether newly
// inserted or already there) and false if there is insufficient space.
// Panics with EntryTooLong if e exceeds MaxEntryLength.
func (pe PageEntries) Insert(e []byte) bool {
	if len(e) > MaxEntryLength {
		panicf(EntryTooLong, "entry of length %d exceeds MaxEntryLength %d", len(e), MaxEntryLength)
	}
	pe.ensureInitialized()
	idx, found := pe.search(e)
	if found {
		return true
	}
	need := recordBytes(e)
	tail := pe.fe() - slotArrayEnd(pe.Count()+1)
	if tail < 0 || pe.FreeSpace() < need {
		return false
	}
	var offset int
	if need == 0 {
		offset = 0
	} else if gapOffset, ok := pe.bestFitGap(need); ok {
		offset = gapOffset
	} else if tail >= need {
		offset = pe.fe() - need
		pe.setFE(offset)
	} else {
		return false
	}
	pe.writeRecordAt(offset, e)
	pe.insertSlotAt(idx, offset)
	pe.recomputeFC()
	return true
}

// InsertTryRewrite inserts e, compacting the page (reset + reinsert every
// surviving entry plus e) if a direct insert fails due to fragmentation
// even though FreeSpace reports enough total room. This is the "try
// rewrite" fallback of §4.1, used during splits and merges.
func (pe PageEntries) InsertTryRewrite(e []byte) bool {
	if pe.Insert(e) {
		return true
	}
	if len(e) > MaxEntryLength {
		panicf(EntryTooLong, "entry of length %d exceeds MaxEntryLength %d", len(e), MaxEntryLength)
	}
	existing := pe.ReadAll()
	merged := make([][]byte, 0, len(existing)+1)
	inserted := false
	for _, other := range existing {
		if !inserted && bytes.Compare(e, other) < 0 {
			merged = append(merged, e)
			inserted = true
		}
		merged = append(merged, append([]byte{}, other...))
	}
	if !inserted {
		merged = append(merged, e)
	}
	pe.Reset()
	ok := true
	for _, entry := range merged {
		if !pe.Insert(entry) {
			ok = false
			break
		}
	}
	return ok
}

// Remove deletes e, returning true if it was present.
func (pe PageEntries) Remove(e []byte) bool {
	idx, found := pe.search(e)
	if !found {
		return false
	}
	offset := pe.slotOffset(idx)
	pe.removeSlotAt(idx)
	if offset != 0 && offset == pe.fe() {
		pe.setFE(offset + pe.recordSizeAt(offset))
	}
	pe.recomputeFC()
	return true
}

// Scan walks entries forward starting at or after start (nil means the
// very first entry), calling cb(entry) for each; it stops early if cb
// returns false. The return value reports whether iteration ran to
// completion (false means cb asked to stop).
func (pe PageEntries) Scan(start []byte, cb func(e []byte) bool) bool {
	begin := 0
	if start != nil {
		begin, _ = pe.search(start)
	}
	return pe.ScanFromOrdinal(begin, cb)
}

// ScanReverse walks entries backward starting at or before start (nil
// means the very last entry).
func (pe PageEntries) ScanReverse(start []byte, cb func(e []byte) bool) bool {
	begin := pe.Count() - 1
	if start != nil {
		idx, found := pe.search(start)
		if found {
			begin = idx
		} else {
			begin = idx - 1
		}
	}
	return pe.ScanReverseFromOrdinal(begin, cb)
}

// ScanFromOrdinal walks entries forward starting at the given ordinal (the
// same position search/OrdinalOf would return, i.e. an index into
// [0, Count()], with Count() itself yielding no entries). It is the
// ordinal-start counterpart to Scan's entry-based start.
func (pe PageEntries) ScanFromOrdinal(ordinal int, cb func(e []byte) bool) bool {
	n := pe.Count()
	for i := ordinal; i < n; i++ {
		if !cb(pe.ReadByOrdinal(i)) {
			return false
		}
	}
	return true
}

// ScanReverseFromOrdinal walks entries backward starting at the given
// ordinal. It is the ordinal-start counterpart to ScanReverse's
// entry-based start.
func (pe PageEntries) ScanReverseFromOrdinal(ordinal int, cb func(e []byte) bool) bool {
	for i := ordinal; i >= 0; i-- {
		if !cb(pe.ReadByOrdinal(i)) {
			return false
		}
	}
	return true
}
