package bptree

import (
	"fmt"
	"testing"

	"github.com/dbathon/bptree/memprovider"
)

func TestBTree_removeFromSingleLeafRoot(t *testing.T) {
	tree, _ := newTestTree(t, 256)
	tree.Insert([]byte("a"))
	tree.Insert([]byte("b"))

	existed, err := tree.Remove([]byte("a"))
	if err != nil || !existed {
		t.Fatalf("Remove(a) = (%v, %v), want (true, nil)", existed, err)
	}
	existed, err = tree.Remove([]byte("a"))
	if err != nil || existed {
		t.Fatalf("Remove(a) again = (%v, %v), want (false, nil)", existed, err)
	}
	if status, err := tree.IntegrityCheck(); status != StatusOK || err != nil {
		t.Fatalf("IntegrityCheck() = (%v, %v), want (ok, nil)", status, err)
	}
}

func TestBTree_insertThenRemoveAllMonotone(t *testing.T) {
	t.Run("insertionOrder", func(t *testing.T) {
		order := func(keys [][]byte) [][]byte { return keys }
		testRemoveAllMonotone(t, order)
	})
	t.Run("reverseOrder", func(t *testing.T) {
		order := func(keys [][]byte) [][]byte {
			reversed := make([][]byte, len(keys))
			for i, k := range keys {
				reversed[len(keys)-1-i] = k
			}
			return reversed
		}
		testRemoveAllMonotone(t, order)
	})
	t.Run("pseudorandomOrder", func(t *testing.T) {
		order := func(keys [][]byte) [][]byte {
			shuffled := make([][]byte, len(keys))
			copy(shuffled, keys)
			prng := xorshift32{seed: 12345}
			for i := len(shuffled) - 1; i > 0; i-- {
				j := int(prng.next()) % (i + 1)
				shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
			}
			return shuffled
		}
		testRemoveAllMonotone(t, order)
	})
}

// testRemoveAllMonotone inserts a monotone run of keys, then removes all of
// them in the order order produces, checking integrity periodically and
// confirming the tree ends up empty with a single live (root) page.
func testRemoveAllMonotone(t *testing.T, order func([][]byte) [][]byte) {
	tree, mp := newTestTree(t, 400)
	const n = 200
	var keys [][]byte
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		if _, err := tree.Insert(key); err != nil {
			t.Fatalf("Insert(%q) error = %v", key, err)
		}
		keys = append(keys, key)
	}
	if status, err := tree.IntegrityCheck(); status != StatusOK || err != nil {
		t.Fatalf("IntegrityCheck() after inserts = (%v, %v)", status, err)
	}

	for i, key := range order(keys) {
		existed, err := tree.Remove(key)
		if err != nil || !existed {
			t.Fatalf("Remove(%q) = (%v, %v), want (true, nil)", key, existed, err)
		}
		if i%25 == 0 {
			if status, err := tree.IntegrityCheck(); status != StatusOK || err != nil {
				t.Fatalf("IntegrityCheck() after removing %d entries = (%v, %v)", i+1, status, err)
			}
		}
	}
	count, status := tree.CountInRange(nil, nil, false, false)
	if status != StatusOK || count != 0 {
		t.Fatalf("CountInRange() after removing everything = (%v, %v), want (0, ok)", count, status)
	}
	if status, err := tree.IntegrityCheck(); status != StatusOK || err != nil {
		t.Fatalf("IntegrityCheck() on the collapsed-empty tree = (%v, %v), want (ok, nil)", status, err)
	}
	assertSingleLivePage(t, tree, mp)
}

// assertSingleLivePage confirms the tree has collapsed down to its single,
// stable root page (always a leaf once every entry has been removed),
// leaving no other page reachable.
func assertSingleLivePage(t *testing.T, tree *BTree, mp *memprovider.Provider) {
	t.Helper()
	page := mp.GetForUpdate(tree.RootPageNumber())
	if pageRole(page) != roleLeaf {
		t.Fatalf("root page role = %d, want roleLeaf after collapsing an emptied tree", pageRole(page))
	}
	if count := leafEntries(page).Count(); count != 0 {
		t.Fatalf("root leaf entry count = %d, want 0 after removing everything", count)
	}
}

func TestBTree_removeTriggersLeafMerge(t *testing.T) {
	tree, _ := newTestTree(t, 256)
	const n = 150
	var keys [][]byte
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("k%04d", i))
		if _, err := tree.Insert(key); err != nil {
			t.Fatalf("Insert(%q) error = %v", key, err)
		}
		keys = append(keys, key)
	}

	// remove three keys out of every four, which leaves enough free space in
	// neighbouring leaves for a left-merge to kick in per the merge threshold.
	for i := 0; i < n; i++ {
		if i%4 == 0 {
			continue
		}
		if _, err := tree.Remove(keys[i]); err != nil {
			t.Fatalf("Remove(%q) error = %v", keys[i], err)
		}
	}
	if status, err := tree.IntegrityCheck(); status != StatusOK || err != nil {
		t.Fatalf("IntegrityCheck() after interleaved removes = (%v, %v), want (ok, nil)", status, err)
	}
	for i := 0; i < n; i += 4 {
		if !contains(tree, keys[i]) {
			t.Fatalf("key %q missing after merges triggered by unrelated removes", keys[i])
		}
	}
}

func contains(tree *BTree, key []byte) bool {
	found := false
	tree.ScanForward(key, func(e []byte) bool {
		found = string(e) == string(key)
		return false
	})
	return found
}
