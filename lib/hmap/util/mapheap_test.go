package util

import (
	"math/rand"
	"sort"
	"testing"
)

func TestNewMapHeap(t *testing.T) {
	mh := NewMapHeap[string]()
	if mh.Len() != 0 {
		t.Errorf("New heap should be empty, but has length %d", mh.Len())
	}
	if _, _, ok := mh.Peek(); ok {
		t.Error("Peek on an empty heap should fail")
	}
	if _, _, ok := mh.PopMin(); ok {
		t.Error("PopMin on an empty heap should fail")
	}
}

func TestMapHeapAddItem(t *testing.T) {
	mh := NewMapHeap[string]()
	mh.AddItem("a", 100)
	mh.AddItem("b", 200)
	mh.AddItem("c", 50)

	if mh.Len() != 3 {
		t.Errorf("Heap should have 3 items, but has %d", mh.Len())
	}
	for _, k := range []string{"a", "b", "c"} {
		if !mh.Contains(k) {
			t.Errorf("Heap should contain key %s", k)
		}
	}

	key, prio, ok := mh.Peek()
	if !ok || key != "c" || prio != 50 {
		t.Errorf("Expected min item to be (c,50), got (%s,%d)", key, prio)
	}

	// updating an existing key moves it
	mh.AddItem("b", 10)
	if mh.Len() != 3 {
		t.Errorf("Updating should not add an item, got length %d", mh.Len())
	}
	if key, _, _ := mh.Peek(); key != "b" {
		t.Errorf("Expected b to be the minimum after the update, got %s", key)
	}
}

func TestMapHeapRemoveByKey(t *testing.T) {
	mh := NewMapHeap[uint64]()
	for i := uint64(0); i < 10; i++ {
		mh.AddItem(i, int64(100-i))
	}

	prio, ok := mh.RemoveByKey(9)
	if !ok || prio != 91 {
		t.Errorf("Expected to remove key 9 with priority 91, got %d (ok=%v)", prio, ok)
	}
	if mh.Contains(9) {
		t.Error("Removed key should be gone")
	}
	if _, ok := mh.RemoveByKey(9); ok {
		t.Error("Removing a missing key should fail")
	}
	if key, _, _ := mh.Peek(); key != 8 {
		t.Errorf("Expected key 8 to be the new minimum, got %d", key)
	}
}

func TestMapHeapOrder(t *testing.T) {
	mh := NewMapHeap[int]()
	priorities := make([]int64, 200)
	for i := range priorities {
		priorities[i] = rand.Int63n(1000)
		mh.AddItem(i, priorities[i])
	}
	// remove some keys in the middle
	for i := 0; i < 200; i += 7 {
		mh.RemoveByKey(i)
		priorities[i] = -1
	}

	var want []int64
	for _, p := range priorities {
		if p >= 0 {
			want = append(want, p)
		}
	}
	sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })

	for i, w := range want {
		key, prio, ok := mh.PopMin()
		if !ok {
			t.Fatalf("Heap ran empty after %d items", i)
		}
		if prio != w {
			t.Fatalf("Item %d: expected priority %d, got %d", i, w, prio)
		}
		if p, _ := mh.Priority(key); mh.Contains(key) || p != 0 {
			t.Fatalf("Popped key %d still present", key)
		}
	}
	if mh.Len() != 0 {
		t.Errorf("Expected an empty heap, got %d items", mh.Len())
	}
}
