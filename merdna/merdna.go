// Copyright 2017, Kerby Shedden and the Muscato contributors.

// Package merdna implements Mer, the fixed-k 2-bit-packed DNA value
// type shared across the counting pipeline (muscato's own fastq/fasta
// tooling works in ASCII bytes; this package gives the k-mer counter
// the compact, comparable representation HashArray needs). k is set
// once at process start, matching jellyfish's process-wide mer_dna::k().
package merdna

import (
	"fmt"
	"strings"
)

// maxWords bounds the packed representation to 128 bits, i.e. k up to
// 64. Jellyfish itself supports arbitrary k via a dynamically sized
// word array; capping at two words keeps Mer a plain comparable Go
// value (the spec's "value types: copyable, comparable, hashable"),
// which is what HashArray's cell format and Go map keys both want.
const maxWords = 2
const wordBits = 64

var (
	k        int
	nbits    int
	nwords   int
	initDone bool
)

// Init fixes the process-wide k. Real invocations (cmd/kmercount and
// friends) call this exactly once at startup, matching jellyfish's
// process-wide mer_dna::k(); tests are free to call it again to
// exercise a different k, since nothing in this package is safe to use
// concurrently with a reinitialization anyway.
func Init(kk int) error {
	if kk < 1 || kk > maxWords*wordBits/2 {
		return fmt.Errorf("merdna: k must be in 1..%d, got %d", maxWords*wordBits/2, kk)
	}
	k = kk
	nbits = 2 * kk
	nwords = (nbits + wordBits - 1) / wordBits
	initDone = true
	return nil
}

// K returns the configured k. Panics if Init has not been called.
func K() int {
	mustInit()
	return k
}

// NBits returns 2*K(), the number of meaningful bits in a Mer.
func NBits() int {
	mustInit()
	return nbits
}

func mustInit() {
	if !initDone {
		panic("merdna: Init(k) must be called before use")
	}
}

// Mer is a packed, fixed-k DNA string. The zero value is not a valid
// mer until Init has set k; bases are packed MSB-first in sequence
// order, so comparing two Mer values as 128-bit unsigned integers is
// equivalent to lexicographically comparing their base strings.
type Mer struct {
	w [maxWords]uint64
}

// Zero returns the all-A mer (all bits zero).
func Zero() Mer {
	mustInit()
	return Mer{}
}

// Base2Code maps A/C/G/T to 0..3. ok is false for any other byte
// (including 'N' and ambiguity codes), signalling the caller should
// treat it as a run-breaking marker.
func Base2Code(b byte) (code uint64, ok bool) {
	switch b {
	case 'A', 'a':
		return 0, true
	case 'C', 'c':
		return 1, true
	case 'G', 'g':
		return 2, true
	case 'T', 't':
		return 3, true
	default:
		return 0, false
	}
}

// Code2Base is the inverse of Base2Code.
func Code2Base(c uint64) byte {
	switch c & 3 {
	case 0:
		return 'A'
	case 1:
		return 'C'
	case 2:
		return 'G'
	default:
		return 'T'
	}
}

// maskForNBits returns the two-word mask selecting exactly the low
// nbits bits of a two-word value.
func maskForNBits(n int) (m0, m1 uint64) {
	switch {
	case n <= 0:
		return 0, 0
	case n >= wordBits*maxWords:
		return ^uint64(0), ^uint64(0)
	case n <= wordBits:
		return (uint64(1) << uint(n)) - 1, 0
	default:
		return ^uint64(0), (uint64(1) << uint(n-wordBits)) - 1
	}
}

func (m Mer) masked() Mer {
	m0, m1 := maskForNBits(nbits)
	m.w[0] &= m0
	m.w[1] &= m1
	return m
}

// ShiftLeft drops the oldest (most significant) base and appends base
// at the least significant position. ok is false, and the mer is
// returned unmodified, when base is not one of A/C/G/T; callers must
// reset their rolling window (cmlen) in that case rather than use the
// returned value.
func (m Mer) ShiftLeft(base byte) (Mer, bool) {
	mustInit()
	code, ok := Base2Code(base)
	if !ok {
		return m, false
	}
	// Shift the full 128-bit value left by 2 bits.
	carry := m.w[0] >> (wordBits - 2)
	m.w[0] <<= 2
	m.w[1] = (m.w[1] << 2) | carry
	m.w[0] |= code
	return m.masked(), true
}

// Bits returns the length-bit field starting at bit offset offset
// (0 = least significant), used by the packed storage path to split a
// key into a stored remainder and a hashed high part.
func (m Mer) Bits(offset, length int) uint64 {
	if length <= 0 {
		return 0
	}
	if length > wordBits {
		panic("merdna: Bits length must be <= 64")
	}
	lo0, lo1 := maskForNBits(offset)
	_ = lo0
	_ = lo1
	// Build the 128-bit value shifted right by offset, then mask.
	var v0, v1 uint64
	if offset >= wordBits {
		v0 = m.w[1] >> uint(offset-wordBits)
		v1 = 0
	} else if offset == 0 {
		v0, v1 = m.w[0], m.w[1]
	} else {
		v0 = (m.w[0] >> uint(offset)) | (m.w[1] << uint(wordBits-offset))
		v1 = m.w[1] >> uint(offset)
	}
	_ = v1
	if length == wordBits {
		return v0
	}
	mask := (uint64(1) << uint(length)) - 1
	return v0 & mask
}

// SetBits returns a copy of m with the length-bit field at bit offset
// offset replaced by the low length bits of value.
func (m Mer) SetBits(offset, length int, value uint64) Mer {
	if length <= 0 {
		return m
	}
	if length < wordBits {
		value &= (uint64(1) << uint(length)) - 1
	}
	for i := 0; i < length; i++ {
		bit := (value >> uint(i)) & 1
		pos := offset + i
		word := pos / wordBits
		off := uint(pos % wordBits)
		if word >= maxWords {
			continue
		}
		if bit == 1 {
			m.w[word] |= 1 << off
		} else {
			m.w[word] &^= 1 << off
		}
	}
	return m
}

// ReverseComplement bit-pair-reverses the k bases (oldest<->newest)
// and complements each (A<->T, C<->G), i.e. XORs each 2-bit code with
// 0b11.
func (m Mer) ReverseComplement() Mer {
	mustInit()
	var out Mer
	for i := 0; i < k; i++ {
		code := m.Bits(i*2, 2)
		comp := code ^ 3
		destOffset := (k - 1 - i) * 2
		out = out.SetBits(destOffset, 2, comp)
	}
	return out.masked()
}

// Canonical returns the lexicographic minimum of m and its reverse
// complement.
func (m Mer) Canonical() Mer {
	rc := m.ReverseComplement()
	if m.Less(rc) {
		return m
	}
	return rc
}

// Less compares two mers as 128-bit unsigned integers, which (given
// the MSB-first packing) is equivalent to lexicographic order over
// the base string.
func (m Mer) Less(o Mer) bool {
	if m.w[1] != o.w[1] {
		return m.w[1] < o.w[1]
	}
	return m.w[0] < o.w[0]
}

// Equal reports whether two mers encode the same sequence.
func (m Mer) Equal(o Mer) bool {
	return m.w[0] == o.w[0] && m.w[1] == o.w[1]
}

// Words exposes the raw two-word backing representation, used by
// HashArray/hashmatrix for GF(2) products and by the dumper for
// binary key serialization.
func (m Mer) Words() [2]uint64 { return m.w }

// FromWords builds a Mer directly from its two-word representation,
// masking to the configured k.
func FromWords(w0, w1 uint64) Mer {
	mustInit()
	m := Mer{w: [2]uint64{w0, w1}}
	return m.masked()
}

// String renders the mer as an uppercase ACGT string, oldest base
// first.
func (m Mer) String() string {
	mustInit()
	var sb strings.Builder
	sb.Grow(k)
	for i := k - 1; i >= 0; i-- {
		code := m.Bits(i*2, 2)
		sb.WriteByte(Code2Base(code))
	}
	return sb.String()
}

// FromString parses a length-k ACGT string into a Mer.
func FromString(s string) (Mer, error) {
	mustInit()
	if len(s) != k {
		return Mer{}, fmt.Errorf("merdna: string length %d does not match k=%d", len(s), k)
	}
	m := Zero()
	for i := 0; i < len(s); i++ {
		code, ok := Base2Code(s[i])
		if !ok {
			return Mer{}, fmt.Errorf("merdna: invalid base %q at position %d", s[i], i)
		}
		m = m.SetBits((k-1-i)*2, 2, code)
	}
	return m, nil
}

// KeyBytes returns ceil(2k/8), the number of bytes needed to store a
// mer in the binary dump record format.
func KeyBytes() int {
	mustInit()
	return (nbits + 7) / 8
}

// MarshalBinary writes the mer's key bytes little-endian-word,
// little-endian-byte, matching the sorted dump record format in
// spec.md section 6.
func (m Mer) MarshalBinary() []byte {
	nb := KeyBytes()
	out := make([]byte, nb)
	for i := 0; i < nb; i++ {
		word := (i * 8) / wordBits
		shift := uint((i * 8) % wordBits)
		var wv uint64
		if word < maxWords {
			wv = m.w[word]
		}
		out[i] = byte(wv >> shift)
	}
	return out
}

// UnmarshalMer is the inverse of MarshalBinary.
func UnmarshalMer(b []byte) Mer {
	mustInit()
	var m Mer
	for i, bb := range b {
		word := (i * 8) / wordBits
		shift := uint((i * 8) % wordBits)
		if word >= maxWords {
			continue
		}
		m.w[word] |= uint64(bb) << shift
	}
	return m.masked()
}
