// Package cache implements the per-context memory cache (§4.4): a
// span-based allocator with a 72-rank size-class system, a byte-per-
// 1KiB unit map for O(1) pointer classification, and a remote-free
// MPSC queue so chunks freed from a non-owning thread return to their
// owner without a lock.
package cache

import (
	"sort"

	"github.com/behrlich/go-fiberrt/internal/constants"
)

// rankSizes[k] is the byte size served by rank k: (4 | (k mod 4)) << (k
// div 4), four sizes per power-of-two bracket. Strictly increasing in
// k, which is what lets RankOf binary-search it.
var rankSizes [constants.NumRanks]uint32

func init() {
	for k := 0; k < constants.NumRanks; k++ {
		m := uint32(k % 4)
		r := uint(k / 4)
		rankSizes[k] = (4 | m) << r
	}
}

// SizeOfRank returns the byte size a given rank serves.
func SizeOfRank(rank int) uint32 {
	return rankSizes[rank]
}

// RankOf returns the smallest rank whose size is >= size, i.e. the
// rank a request of size bytes should be served from. Ranks are
// strictly increasing so this is monotonic nondecreasing in size, as
// required by the rank-arithmetic invariant. Returns NumRanks if size
// exceeds every rank (the caller should fall back to a huge span).
func RankOf(size uint32) int {
	return sort.Search(constants.NumRanks, func(i int) bool {
		return rankSizes[i] >= size
	})
}

// IsSmall, IsMedium, IsLarge, IsHuge classify a rank per the §4.4
// partition: small [0,19], medium [20,39], large [40,71], huge [72,).
func IsSmall(rank int) bool  { return rank <= constants.SmallRankMax }
func IsMedium(rank int) bool { return rank > constants.SmallRankMax && rank <= constants.MediumRankMax }
func IsLarge(rank int) bool  { return rank > constants.MediumRankMax && rank <= constants.LargeRankMax }
func IsHuge(rank int) bool   { return rank > constants.LargeRankMax }
