// Package bitmask provides the dense bit sets backing traitmarks,
// detailmarks and filters.
package bitmask

import (
	"encoding/binary"
	"math/bits"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const wordBits = 64

// Mask is a growable set of bit indices. The zero value is an empty mask.
//
// Masks with differing word counts compare by bit content: trailing zero
// words are insignificant.
type Mask struct {
	words []uint64
}

// New returns a mask with the given bits set.
func New(bits ...int) Mask {
	var m Mask
	for _, b := range bits {
		m.Set(b)
	}
	return m
}

func (m *Mask) ensure(word int) {
	for len(m.words) <= word {
		m.words = append(m.words, 0)
	}
}

// Set raises the bit at the given index, growing the mask as needed.
func (m *Mask) Set(bit int) {
	if bit < 0 {
		panic("bitmask: negative bit index")
	}
	m.ensure(bit / wordBits)
	m.words[bit/wordBits] |= 1 << (bit % wordBits)
}

// Clear lowers the bit at the given index.
func (m *Mask) Clear(bit int) {
	if bit < 0 {
		panic("bitmask: negative bit index")
	}
	if w := bit / wordBits; w < len(m.words) {
		m.words[w] &^= 1 << (bit % wordBits)
	}
}

// Has reports whether the bit at the given index is set.
func (m Mask) Has(bit int) bool {
	w := bit / wordBits
	return w < len(m.words) && m.words[w]&(1<<(bit%wordBits)) != 0
}

// Include raises every bit of the other mask in this one.
func (m *Mask) Include(other Mask) {
	m.ensure(len(other.words) - 1)
	for i, w := range other.words {
		m.words[i] |= w
	}
}

// Exclude lowers every bit of the other mask in this one.
func (m *Mask) Exclude(other Mask) {
	n := len(m.words)
	if len(other.words) < n {
		n = len(other.words)
	}
	for i := 0; i < n; i++ {
		m.words[i] &^= other.words[i]
	}
}

// Includes reports whether this mask is a superset of the other.
func (m Mask) Includes(other Mask) bool {
	for i, w := range other.words {
		if w == 0 {
			continue
		}
		if i >= len(m.words) || m.words[i]&w != w {
			return false
		}
	}
	return true
}

// IncludesPartially reports whether the two masks intersect.
func (m Mask) IncludesPartially(other Mask) bool {
	n := len(m.words)
	if len(other.words) < n {
		n = len(other.words)
	}
	for i := 0; i < n; i++ {
		if m.words[i]&other.words[i] != 0 {
			return true
		}
	}
	return false
}

// Reset lowers every bit while keeping the allocated capacity.
func (m *Mask) Reset() {
	for i := range m.words {
		m.words[i] = 0
	}
}

// Clone returns an independent copy of the mask.
func (m Mask) Clone() Mask {
	c := Mask{words: make([]uint64, len(m.words))}
	copy(c.words, m.words)
	return c
}

// Equal reports bit-content equality, ignoring trailing zero words.
func (m Mask) Equal(other Mask) bool {
	long, short := m.words, other.words
	if len(short) > len(long) {
		long, short = short, long
	}
	for i, w := range short {
		if long[i] != w {
			return false
		}
	}
	for _, w := range long[len(short):] {
		if w != 0 {
			return false
		}
	}
	return true
}

// IsEmpty reports whether no bit is set.
func (m Mask) IsEmpty() bool {
	for _, w := range m.words {
		if w != 0 {
			return false
		}
	}
	return true
}

// Count returns the number of raised bits.
func (m Mask) Count() int {
	n := 0
	for _, w := range m.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// Bits returns the raised bit indices in ascending order.
func (m Mask) Bits() []int {
	out := make([]int, 0, m.Count())
	for i, w := range m.words {
		for w != 0 {
			b := bits.TrailingZeros64(w)
			out = append(out, i*wordBits+b)
			w &^= 1 << b
		}
	}
	return out
}

// Hash returns a content hash insensitive to trailing zero words, so
// equal masks hash equally regardless of capacity history.
func (m Mask) Hash() uint64 {
	n := len(m.words)
	for n > 0 && m.words[n-1] == 0 {
		n--
	}
	d := xxhash.New()
	var buf [8]byte
	for _, w := range m.words[:n] {
		binary.LittleEndian.PutUint64(buf[:], w)
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}

func (m Mask) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, b := range m.Bits() {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(b))
	}
	sb.WriteByte('}')
	return sb.String()
}
