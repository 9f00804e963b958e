// Package bloom implements the per-chunk Bloom filter used to let a
// reader skip chunks that cannot contain a value it is filtering for,
// without decoding the chunk's entries.
//
// The filter is opaque to its callers: a writer calls Insert while
// assembling a chunk and stores the result with ToBinary; a reader
// builds a Matcher once per attach-filter spec and calls IsMatch
// against each chunk's stored bytes.
package bloom

import (
	"math"

	"github.com/cespare/xxhash/v2"
)

// MaxSize is the largest filter the chunk header can record (its size
// field is a single byte, §3).
const MaxSize = 255

// State is an in-progress filter being built by a writer. The zero value
// is not valid; use New.
type State struct {
	bits []byte
	k    int
}

// New allocates a filter sized for an expected number of entries and a
// target false-positive rate. The resulting byte size is clamped to
// MaxSize, which bounds the false-positive rate achievable for large
// entry counts.
func New(expectedEntries int, falsePositiveRate float64) *State {
	if expectedEntries < 1 {
		expectedEntries = 1
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}

	m := optimalBits(expectedEntries, falsePositiveRate)
	size := (m + 7) / 8
	if size < 1 {
		size = 1
	}
	if size > MaxSize {
		size = MaxSize
	}

	k := optimalK(size*8, expectedEntries)
	return &State{bits: make([]byte, size), k: k}
}

// NewFromSize allocates an empty filter of an exact byte size, used by
// the writer to build each chunk's fixed-size filter (its FilterSize
// config) without an entry count estimate.
func NewFromSize(size int, k int) *State {
	if size < 1 {
		size = 1
	}
	if size > MaxSize {
		size = MaxSize
	}
	if k < 1 {
		k = 1
	}
	return &State{bits: make([]byte, size), k: k}
}

// Insert adds value's membership to the filter and returns the state for
// chaining across an append's entries.
func (s *State) Insert(value []byte) *State {
	h1, h2 := hashPair(value)
	nbits := uint64(len(s.bits) * 8)
	for i := 0; i < s.k; i++ {
		bit := (h1 + uint64(i)*h2) % nbits
		s.bits[bit/8] |= 1 << (bit % 8)
	}
	return s
}

// Size reports the current encoded size in bytes, for populating the
// chunk header's bloom-filter-size field.
func (s *State) Size() int { return len(s.bits) }

// ToBinary returns the filter's bit array, ready to write after a chunk
// header.
func (s *State) ToBinary() []byte {
	out := make([]byte, len(s.bits))
	copy(out, s.bits)
	return out
}

// Matcher tests candidate values against a stored filter's bytes. It is
// built once per attach-filter spec and reused across every chunk a
// reader visits.
type Matcher struct {
	k      int
	values [][]byte
}

// NewMatcher builds a Matcher that reports a match when ANY of values is
// present in the filter — the spec's attach-by-filter semantics match a
// chunk if it could contain any value in the requested set.
func NewMatcher(k int, values ...[]byte) *Matcher {
	cp := make([][]byte, len(values))
	copy(cp, values)
	return &Matcher{k: k, values: cp}
}

// Result is the outcome of testing a Matcher against one chunk's stored
// filter bytes.
type Result int

const (
	// NoFilter means the chunk carries no filter (BloomSize==0); callers
	// must treat this the same as Match since an empty filter tells
	// nothing about what the chunk contains.
	NoFilter Result = iota
	Match
	NoMatch
)

// IsMatch tests filterBytes against m. A zero-length filterBytes always
// reports NoFilter — there is nothing to test against, so the caller
// must not use an absent filter to skip a chunk.
func (m *Matcher) IsMatch(filterBytes []byte) Result {
	if len(filterBytes) == 0 {
		return NoFilter
	}
	nbits := uint64(len(filterBytes) * 8)
	for _, v := range m.values {
		if valueMayBeIn(filterBytes, nbits, m.k, v) {
			return Match
		}
	}
	return NoMatch
}

func valueMayBeIn(filterBytes []byte, nbits uint64, k int, value []byte) bool {
	h1, h2 := hashPair(value)
	for i := 0; i < k; i++ {
		bit := (h1 + uint64(i)*h2) % nbits
		if filterBytes[bit/8]&(1<<(bit%8)) == 0 {
			return false
		}
	}
	return true
}

// hashPair derives two independent 64-bit hashes from value using
// Kirsch-Mitzenmacher double hashing, avoiding k separate hash passes
// per insert/test.
func hashPair(value []byte) (h1, h2 uint64) {
	h1 = xxhash.Sum64(value)
	h2 = xxhash.Sum64(append([]byte{0xff}, value...))
	if h2 == 0 {
		h2 = 1
	}
	return h1, h2
}

func optimalBits(n int, p float64) int {
	m := -float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)
	return int(math.Ceil(m))
}

func optimalK(m, n int) int {
	if n == 0 {
		return 1
	}
	k := int(math.Round(float64(m) / float64(n) * math.Ln2))
	if k < 1 {
		k = 1
	}
	return k
}
