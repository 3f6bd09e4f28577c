package util

import (
	"math"
	"testing"
)

func TestNextPowerOfTwo(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, 1}, {1, 1}, {2, 2}, {3, 4}, {5, 8}, {1000, 1024}, {1024, 1024}, {1025, 2048},
	}
	for _, tt := range tests {
		if got := NextPowerOfTwo(tt.in); got != tt.want {
			t.Errorf("NextPowerOfTwo(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestRoundUp8(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, 0}, {1, 8}, {8, 8}, {9, 16}, {15, 16}, {16, 16},
	}
	for _, tt := range tests {
		if got := RoundUp8(tt.in); got != tt.want {
			t.Errorf("RoundUp8(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestHashers(t *testing.T) {
	hashers := map[string]Hasher{
		"fnv":    HashFNV,
		"xxhash": HashXX,
	}
	key := []byte("some-key")

	for name, h := range hashers {
		t.Run(name, func(t *testing.T) {
			if h(key, 1) != h(key, 1) {
				t.Error("hash is not deterministic")
			}
			if h(key, 1) == h(key, 2) {
				t.Error("seed does not change the hash")
			}
			if h(key, 1) == h([]byte("other-key"), 1) {
				t.Error("different keys produce the same hash")
			}
		})
	}
}

func TestFold32(t *testing.T) {
	if got := Fold32(0x0000000100000002); got != 3 {
		t.Errorf("Fold32 = %d, want 3", got)
	}
	if got := Fold32(0xffffffffffffffff); got != 0 {
		t.Errorf("Fold32 = %d, want 0", got)
	}
}

func TestGenerateSeed(t *testing.T) {
	if GenerateSeed() == GenerateSeed() {
		t.Error("two seeds should differ")
	}
}

func TestNewStats(t *testing.T) {
	if s := NewStats(nil); s != (Stats{}) {
		t.Errorf("empty input should give zero stats, got %+v", s)
	}

	s := NewStats([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if s.Mean != 5 || s.Min != 2 || s.Max != 9 {
		t.Errorf("unexpected stats %+v", s)
	}
	if math.Abs(s.StdDeviation-2) > 1e-9 {
		t.Errorf("expected standard deviation 2, got %f", s.StdDeviation)
	}
}

func TestDistributionStats(t *testing.T) {
	even := NewDistributionStats([]float64{3, 3, 3, 3})
	if even.DistributionQuality != 1 {
		t.Errorf("even distribution should have quality 1, got %f", even.DistributionQuality)
	}

	skewed := NewDistributionStats([]float64{0, 0, 0, 12})
	if skewed.DistributionQuality >= even.DistributionQuality {
		t.Errorf("skewed distribution should score lower, got %f", skewed.DistributionQuality)
	}
}
