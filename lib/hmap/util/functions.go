package util

import (
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/cespare/xxhash/v2"
)

// --------------------------------------------------------------------------
// General Utility Functions
// --------------------------------------------------------------------------

// GenerateSeed creates a random seed for internal hash distribution
func GenerateSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// fall back to the clock, only if the system source is unavailable
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

// RoundUp8 rounds n up to the next multiple of 8
func RoundUp8(n int) int {
	return (n + 7) &^ 7
}

// NextPowerOfTwo returns the smallest power of two >= n (1 for n <= 1)
func NextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// --------------------------------------------------------------------------
// Hash Functions
// --------------------------------------------------------------------------

// Hasher maps a key and a seed to a 64-bit hash.
// Maps only use the low 32 bits folded with the high 32 bits.
type Hasher func(key []byte, seed uint64) uint64

// HashFNV generates a hash value for a byte string with a seed
// This function uses the FNV-1a hash algorithm, which is fast and has good distribution
func HashFNV(key []byte, seed uint64) uint64 {

	// FNV-1a hash with seed incorporation
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)

	// Start with the offset combined with our seed for uniqueness
	hash := uint64(offset64) ^ seed

	for i := 0; i < len(key); i++ {
		hash ^= uint64(key[i])
		hash *= prime64
	}

	return hash
}

// HashXX hashes a byte string with seeded xxHash64
func HashXX(key []byte, seed uint64) uint64 {
	var d xxhash.Digest
	d.ResetWithSeed(seed)
	_, _ = d.Write(key)
	return d.Sum64()
}

// Fold32 folds a 64-bit hash into 32 bits
func Fold32(h uint64) uint32 {
	return uint32(h) ^ uint32(h>>32)
}
