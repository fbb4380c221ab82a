// Package bloom provides probabilistic once-only tracking using Bloom
// filters, used to deduplicate warnings emitted once per distinct kind.
package bloom

import "github.com/bits-and-blooms/bloom/v3"

// Filter wraps a Bloom filter keyed by string.
type Filter struct {
	f *bloom.BloomFilter
}

// NewFilter creates a new Bloom filter sized for n expected items
// with the given false positive rate.
func NewFilter(n uint, fpRate float64) *Filter {
	return &Filter{
		f: bloom.NewWithEstimates(n, fpRate),
	}
}

// Once records the key and reports whether this is its first occurrence.
// A key is never reported as first twice; a first occurrence may be
// missed at the configured false positive rate.
func (f *Filter) Once(key string) bool {
	return !f.f.TestAndAddString(key)
}

// Seen returns true if the key might have been recorded.
// False positives are possible; false negatives are not.
func (f *Filter) Seen(key string) bool {
	return f.f.TestString(key)
}

// EstimatedCount returns the approximate number of recorded keys.
func (f *Filter) EstimatedCount() uint {
	return uint(f.f.ApproximatedSize())
}
