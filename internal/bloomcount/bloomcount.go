// Copyright 2017, Kerby Shedden and the Muscato contributors.

// Package bloomcount is the optional Bloom-filter pre-filter mode:
// jellyfish's "-bc" path skips inserting a k-mer into the real
// counting table the first time it is seen, on the theory that most
// singleton k-mers in a sequencing run are errors, not biology.
// Grounded on jellyfish's two-hash-function bloom_counter2
// (original_source/include/jellyfish/mer_dna_bloom_counter.hpp: a
// "seen once" and a "seen at least twice" filter pair) and on
// muscato_screen.go's own Bloom-sketch technique (random per-hash
// lookup tables consumed by a buzhash32 rolling hash over a fixed-width
// byte window) for how the hash functions themselves are built.
// The bit storage is github.com/willf/bloom rather than a hand-rolled
// bitset, since that concern is exactly what the library is for.
package bloomcount

import (
	"math/rand"

	"github.com/chmduquesne/rollinghash"
	"github.com/chmduquesne/rollinghash/buzhash32"
	"github.com/willf/bloom"

	"github.com/kshedden/kmercount/merdna"
)

// Filter is a two-stage presence filter: once tracks every key that
// has been observed at least one time, repeat tracks keys observed at
// least two times. Observe is the only mutator; ShouldCount reports
// whether a key has crossed into "seen more than once" territory and
// is therefore worth spending real counting-table space on.
type Filter struct {
	once, repeat *bloom.BloomFilter
	tables       [256]uint32
}

// New builds a Filter sized for roughly n distinct keys at false
// positive rate fp (the same sizing knobs willf/bloom itself exposes
// via NewWithEstimates).
func New(n uint, fp float64) *Filter {
	f := &Filter{
		once:   bloom.NewWithEstimates(n, fp),
		repeat: bloom.NewWithEstimates(n, fp),
	}
	genTable(&f.tables)
	return f
}

// genTable builds one random byte->uint32 substitution table for the
// buzhash32 rolling hash, matching muscato_screen.go's genTables (one
// table per independent hash function there; bloomcount only needs a
// single rolling hash since willf/bloom internally derives its k hash
// values from one seed via double hashing).
func genTable(tbl *[256]uint32) {
	seen := make(map[uint32]bool, 256)
	for i := 0; i < 256; i++ {
		for {
			x := uint32(rand.Int63())
			if !seen[x] {
				tbl[i] = x
				seen[x] = true
				break
			}
		}
	}
}

func (f *Filter) hashBytes(m merdna.Mer) []byte {
	h := buzhash32.NewFromUint32Array(f.tables)
	h.Write(m.MarshalBinary())
	return hash32Bytes(h)
}

func hash32Bytes(h rollinghash.Hash32) []byte {
	sum := h.Sum32()
	return []byte{byte(sum >> 24), byte(sum >> 16), byte(sum >> 8), byte(sum)}
}

// Observe records one occurrence of m and reports whether this
// occurrence should be inserted into the real counting table: the
// first occurrence of any key is always skipped (most true
// singletons in sequencing data are errors), every occurrence from
// the second on is counted.
func (f *Filter) Observe(m merdna.Mer) (shouldCount bool) {
	b := f.hashBytes(m)
	if f.repeat.Test(b) {
		return true
	}
	if f.once.Test(b) {
		f.repeat.Add(b)
		return true
	}
	f.once.Add(b)
	return false
}

// ShouldCount reports whether m has been observed at least twice and
// is therefore worth inserting into the real counting table. Does not
// mutate the filter.
func (f *Filter) ShouldCount(m merdna.Mer) bool {
	return f.repeat.Test(f.hashBytes(m))
}

// FillRate reports the fraction of bits set in the "seen at least
// once" filter, the same diagnostic muscato_screen.go logs at the end
// of a run ("Bloom filter fill rates").
func (f *Filter) FillRate() float64 {
	cap := f.once.Cap()
	if cap == 0 {
		return 0
	}
	var set uint
	bs := f.once.BitSet()
	for i := uint(0); i < cap; i++ {
		if bs.Test(i) {
			set++
		}
	}
	return float64(set) / float64(cap)
}
