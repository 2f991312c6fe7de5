package bloom

import (
	"math"

	"github.com/twmb/murmur3"
)

const (
	// maxFilterSize is the maximum byte size the bit field may grow to.
	maxFilterSize = 36000
	// maxHashFuncs is the maximum number of hash functions used.
	maxHashFuncs = 50

	ln2Squared = math.Ln2 * math.Ln2
	// seedShift spreads the per-function murmur3 seeds.
	seedShift = 0xfba4c795
)

// Filter is a space-efficient probabilistic set of byte strings. It is
// sized the way p2p transaction filters are sized: from an expected
// element count and a target false positive rate. It never reports false
// negatives.
type Filter struct {
	bits  []byte
	funcs uint32
	tweak uint32
}

// New creates a Filter for the given number of elements with the given
// false positive rate. The tweak perturbs the hash seeds so two filters
// of the same shape disagree on their false positives.
func New(elements uint32, fpRate float64, tweak uint32) *Filter {
	size := uint32(-1 * float64(elements) * math.Log(fpRate) / ln2Squared / 8)
	if size < 1 {
		size = 1
	}
	if size > maxFilterSize {
		size = maxFilterSize
	}
	funcs := uint32(float64(size*8) / float64(elements) * math.Ln2)
	if funcs < 1 {
		funcs = 1
	}
	if funcs > maxHashFuncs {
		funcs = maxHashFuncs
	}
	return &Filter{
		bits:  make([]byte, size),
		funcs: funcs,
		tweak: tweak,
	}
}

func (f *Filter) hash(n uint32, data []byte) uint32 {
	h := murmur3.SeedSum32(n*seedShift+f.tweak, data)
	return h % (uint32(len(f.bits)) * 8)
}

// Add inserts data into the filter.
func (f *Filter) Add(data []byte) {
	for i := uint32(0); i < f.funcs; i++ {
		idx := f.hash(i, data)
		f.bits[idx>>3] |= 1 << (idx & 7)
	}
}

// Test returns true if data was possibly added to the filter before and
// false if it definitely was not.
func (f *Filter) Test(data []byte) bool {
	for i := uint32(0); i < f.funcs; i++ {
		idx := f.hash(i, data)
		if f.bits[idx>>3]&(1<<(idx&7)) == 0 {
			return false
		}
	}
	return true
}

// Reset clears the filter.
func (f *Filter) Reset() {
	for i := range f.bits {
		f.bits[i] = 0
	}
}
