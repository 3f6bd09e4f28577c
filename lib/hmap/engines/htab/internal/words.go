package internal

import (
	"encoding/binary"
	"runtime"
	"sync/atomic"
)

// --------------------------------------------------------------------------
// Word storage (fixed-size byte buffers read and written word by word)
// --------------------------------------------------------------------------

// Words stores a byte string as little-endian 64-bit words.
// Every word is loaded and stored atomically, so a reader racing with a
// writer sees a mix of old and new words but never a torn word. Whether
// the mix is consistent is decided by the SeqLock guarding the buffer.
type Words []atomic.Uint64

// WordsFor returns the number of words needed to hold size bytes
func WordsFor(size int) int {
	return (size + 7) / 8
}

// Carve splits backing into n consecutive buffers of width words each.
// The buffers share backing, which is allocated once by the caller.
func Carve(backing []atomic.Uint64, n, width int) []Words {
	out := make([]Words, n)
	for i := range out {
		out[i] = Words(backing[i*width : (i+1)*width : (i+1)*width])
	}
	return out
}

// Store copies src into w, zero-padding the tail.
// Bytes of src beyond the capacity of w are ignored.
func (w Words) Store(src []byte) {
	for i := range w {
		w[i].Store(wordAt(src, i))
	}
}

// Load copies w into dst. dst may be shorter than the buffer.
func (w Words) Load(dst []byte) {
	var tmp [8]byte
	for i := range w {
		off := i * 8
		if off >= len(dst) {
			return
		}
		if len(dst)-off >= 8 {
			binary.LittleEndian.PutUint64(dst[off:], w[i].Load())
			continue
		}
		binary.LittleEndian.PutUint64(tmp[:], w[i].Load())
		copy(dst[off:], tmp[:])
	}
}

// Equal reports whether w holds b (zero-padded to the buffer width)
func (w Words) Equal(b []byte) bool {
	if len(b) > len(w)*8 {
		return false
	}
	for i := range w {
		if w[i].Load() != wordAt(b, i) {
			return false
		}
	}
	return true
}

// Zero clears every word
func (w Words) Zero() {
	for i := range w {
		w[i].Store(0)
	}
}

// wordAt returns the i-th little-endian word of b, zero-padded
func wordAt(b []byte, i int) uint64 {
	off := i * 8
	if off >= len(b) {
		return 0
	}
	if len(b)-off >= 8 {
		return binary.LittleEndian.Uint64(b[off:])
	}
	var tmp [8]byte
	copy(tmp[:], b[off:])
	return binary.LittleEndian.Uint64(tmp[:])
}

// --------------------------------------------------------------------------
// SeqLock
// --------------------------------------------------------------------------

// SeqLock is a sequence counter for a single writer and any number of readers.
// The writer makes the counter odd while it modifies the guarded words.
// Readers copy optimistically and retry when the counter moved.
//
// Writers must be serialized externally (bucket lock or exclusive ownership).
type SeqLock struct {
	seq atomic.Uint64
}

// BeginWrite marks the start of a modification
func (s *SeqLock) BeginWrite() {
	s.seq.Add(1)
}

// EndWrite publishes the modification
func (s *SeqLock) EndWrite() {
	s.seq.Add(1)
}

// BeginRead waits until no write is in progress and returns the sequence to validate against
func (s *SeqLock) BeginRead() uint64 {
	for spins := 0; ; spins++ {
		v := s.seq.Load()
		if v&1 == 0 {
			return v
		}
		if spins > 16 {
			runtime.Gosched()
		}
	}
}

// Retry reports whether a write started since BeginRead returned seq
func (s *SeqLock) Retry(seq uint64) bool {
	return s.seq.Load() != seq
}
