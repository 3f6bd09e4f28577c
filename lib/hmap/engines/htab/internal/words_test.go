package internal

import (
	"bytes"
	"sync"
	"sync/atomic"
	"testing"
)

func TestWordsFor(t *testing.T) {
	tests := []struct {
		size, want int
	}{
		{1, 1}, {7, 1}, {8, 1}, {9, 2}, {16, 2}, {17, 3},
	}
	for _, tt := range tests {
		if got := WordsFor(tt.size); got != tt.want {
			t.Errorf("WordsFor(%d) = %d, want %d", tt.size, got, tt.want)
		}
	}
}

func TestWordsStoreLoad(t *testing.T) {
	for _, size := range []int{1, 5, 8, 13, 24} {
		src := make([]byte, size)
		for i := range src {
			src[i] = byte(i + 1)
		}

		w := make(Words, WordsFor(size))
		w.Store(src)

		dst := make([]byte, size)
		w.Load(dst)
		if !bytes.Equal(dst, src) {
			t.Errorf("size %d: loaded %v, want %v", size, dst, src)
		}
		if !w.Equal(src) {
			t.Errorf("size %d: Equal should report true", size)
		}

		other := append([]byte(nil), src...)
		other[size-1]++
		if w.Equal(other) {
			t.Errorf("size %d: Equal should report false for a different value", size)
		}
	}
}

func TestWordsPadding(t *testing.T) {
	w := make(Words, 2)
	w.Store(bytes.Repeat([]byte{0xff}, 16))
	w.Store([]byte{1, 2, 3})

	full := make([]byte, 16)
	w.Load(full)
	want := append([]byte{1, 2, 3}, make([]byte, 13)...)
	if !bytes.Equal(full, want) {
		t.Errorf("tail not zero-padded: %v", full)
	}

	w.Zero()
	w.Load(full)
	if !bytes.Equal(full, make([]byte, 16)) {
		t.Errorf("Zero left data behind: %v", full)
	}

	if w.Equal(make([]byte, 17)) {
		t.Error("Equal should reject input longer than the buffer")
	}
}

func TestCarve(t *testing.T) {
	backing := make([]atomic.Uint64, 12)
	parts := Carve(backing, 4, 3)
	if len(parts) != 4 {
		t.Fatalf("expected 4 buffers, got %d", len(parts))
	}

	for i, p := range parts {
		if len(p) != 3 || cap(p) != 3 {
			t.Fatalf("buffer %d: len %d cap %d, want 3/3", i, len(p), cap(p))
		}
		p[0].Store(uint64(i + 1))
	}
	for i := range parts {
		if got := backing[i*3].Load(); got != uint64(i+1) {
			t.Errorf("buffer %d does not share the backing array", i)
		}
	}
}

func TestSeqLock(t *testing.T) {
	var s SeqLock

	seq := s.BeginRead()
	if s.Retry(seq) {
		t.Error("Retry without a write should be false")
	}

	s.BeginWrite()
	s.EndWrite()
	if !s.Retry(seq) {
		t.Error("Retry after a write should be true")
	}
	if seq2 := s.BeginRead(); seq2 != seq+2 {
		t.Errorf("expected sequence %d, got %d", seq+2, seq2)
	}
}

// TestSeqLockConsistentReads checks that a reader never accepts a copy that
// mixes two writes
func TestSeqLockConsistentReads(t *testing.T) {
	var s SeqLock
	w := make(Words, 4)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for v := byte(0); ; v++ {
			select {
			case <-done:
				return
			default:
			}
			s.BeginWrite()
			w.Store(bytes.Repeat([]byte{v}, 32))
			s.EndWrite()
		}
	}()

	buf := make([]byte, 32)
	for i := 0; i < 10000; i++ {
		seq := s.BeginRead()
		w.Load(buf)
		if s.Retry(seq) {
			continue
		}
		for _, b := range buf {
			if b != buf[0] {
				close(done)
				wg.Wait()
				t.Fatalf("accepted a torn read: %v", buf)
			}
		}
	}
	close(done)
	wg.Wait()
}
