package bptree

const formatVersion = 1

const (
	roleLeaf  = 1
	roleInner = 2
)

// heightSaturating is the sentinel value stored once a subtree's depth
// reaches or exceeds it; integrity checking treats any depth >= this as
// equal to it rather than flagging a mismatch.
const heightSaturating = 0xff

// childCount returns C, the number of child-pointer slots an inner page
// of the given page size has: C = floor(pageSize/16).
func childCount(pageSize int) int {
	return pageSize / 16
}

func checkPageSize(pageSize int) {
	if pageSize < MinPageSize || pageSize > MaxPageSize {
		panicf(BadPage, "page size %d outside [%d, %d]", pageSize, MinPageSize, MaxPageSize)
	}
	if childCount(pageSize) < 3 {
		panicf(BadPage, "page size %d gives child count %d, need >= 3", pageSize, childCount(pageSize))
	}
}

func maxEntryLengthForPageSize(pageSize int) int {
	max := pageSize / 4
	if max > MaxEntryLength {
		max = MaxEntryLength
	}
	return max
}

// pageRole reads and validates the format/role byte of page.
func pageRole(page []byte) byte {
	b0 := page[0]
	version := b0 >> 4
	role := b0 & 0x0f
	if version != formatVersion {
		panicf(BadPage, "unknown page format version %d", version)
	}
	if role != roleLeaf && role != roleInner {
		panicf(BadPage, "unknown page role %d", role)
	}
	return role
}

func formatLeafPage(page []byte) {
	for i := range page {
		page[i] = 0
	}
	page[0] = (formatVersion << 4) | roleLeaf
}

func formatInnerPage(page []byte, height int) {
	for i := range page {
		page[i] = 0
	}
	page[0] = (formatVersion << 4) | roleInner
	setHeight(page, height)
}

func leafEntries(page []byte) PageEntries {
	return NewPageEntries(page[1:])
}

func height(page []byte) int {
	return int(page[1])
}

func setHeight(page []byte, h int) {
	if h > heightSaturating {
		h = heightSaturating
	}
	page[1] = byte(h)
}

func childPtr(page []byte, i int) uint32 {
	base := 2 + i*4
	return beU32(page[base : base+4])
}

func setChildPtr(page []byte, i int, v uint32) {
	base := 2 + i*4
	putBeU32(page[base:base+4], v)
}

func innerSeparators(page []byte, pageSize int) PageEntries {
	c := childCount(pageSize)
	start := 2 + 4*c
	return NewPageEntries(page[start:])
}
