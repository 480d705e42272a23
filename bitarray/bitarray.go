// Copyright 2017, Kerby Shedden and the Muscato contributors.

// Package bitarray is the fixed-width backing store shared by
// HashArray's cells: a dense array of equal-width bit fields packed
// into 64-bit words, with atomic get/compare-and-swap on individual
// fields. The packing and CAS scheme follows jellyfish's
// atomic_bits_array: fields never straddle a word boundary, so every
// CAS is a single sync/atomic.CompareAndSwapUint64 on the containing
// word.
package bitarray

import (
	"fmt"
	"sync/atomic"

	"github.com/kshedden/kmercount/internal/pagewarm"
)

// BitArray is a dense array of size fields, each bits wide (1..64),
// backed by a mmap'd or heap-allocated []uint64.
type BitArray struct {
	bits          int
	size          int
	mask          uint64
	fieldsPerWord int
	data          []uint64
	mapped        []byte // non-nil when backed by an anonymous mapping
}

// New allocates a heap-backed BitArray of size fields, bits wide each.
func New(bits, size int) (*BitArray, error) {
	a, err := newArray(bits, size)
	if err != nil {
		return nil, err
	}
	a.data = make([]uint64, a.nwords())
	return a, nil
}

func newArray(bits, size int) (*BitArray, error) {
	if bits <= 0 || bits > 64 {
		return nil, fmt.Errorf("bitarray: bits must be in 1..64, got %d", bits)
	}
	if size < 0 {
		return nil, fmt.Errorf("bitarray: negative size %d", size)
	}
	fieldsPerWord := 64 / bits
	var mask uint64
	if bits == 64 {
		mask = ^uint64(0)
	} else {
		mask = (uint64(1) << uint(bits)) - 1
	}
	return &BitArray{
		bits:          bits,
		size:          size,
		mask:          mask,
		fieldsPerWord: fieldsPerWord,
	}, nil
}

func (a *BitArray) nwords() int {
	if a.fieldsPerWord == 0 {
		return a.size
	}
	return (a.size + a.fieldsPerWord - 1) / a.fieldsPerWord
}

// Size returns the number of fields.
func (a *BitArray) Size() int { return a.size }

// BitsPerField returns the configured field width.
func (a *BitArray) BitsPerField() int { return a.bits }

func (a *BitArray) locate(pos int) (word int, off uint) {
	word = pos / a.fieldsPerWord
	off = uint(pos%a.fieldsPerWord) * uint(a.bits)
	return
}

// Get reads the current value of field pos. Not linearized against
// concurrent writers; callers that need a consistent read-modify-write
// should use CAS.
func (a *BitArray) Get(pos int) uint64 {
	word, off := a.locate(pos)
	w := atomic.LoadUint64(&a.data[word])
	return (w >> off) & a.mask
}

// CAS compares-and-swaps field pos: if its current value equals old,
// it is replaced with new and ok is true. Otherwise ok is false and
// the actual current value is returned so the caller can retry with
// up to date information.
func (a *BitArray) CAS(pos int, old, new uint64) (actual uint64, ok bool) {
	word, off := a.locate(pos)
	addr := &a.data[word]
	for {
		cur := atomic.LoadUint64(addr)
		curField := (cur >> off) & a.mask
		if curField != old {
			return curField, false
		}
		next := (cur &^ (a.mask << off)) | ((new & a.mask) << off)
		if atomic.CompareAndSwapUint64(addr, cur, next) {
			return new & a.mask, true
		}
		// Lost the race on the containing word to an unrelated
		// field; retry against the fresh word value.
	}
}

// Set unconditionally stores new into field pos. It retries a CAS on
// the whole word, so concurrent updates to other fields sharing that
// word are preserved.
func (a *BitArray) Set(pos int, new uint64) {
	word, off := a.locate(pos)
	for {
		cur := atomic.LoadUint64(&a.data[word])
		next := (cur &^ (a.mask << off)) | ((new & a.mask) << off)
		if atomic.CompareAndSwapUint64(&a.data[word], cur, next) {
			return
		}
	}
}

// Words exposes the backing word slice. The dumper does not use it; it
// reads the table through hasharray's Iterate.
func (a *BitArray) Words() []uint64 { return a.data }

// Zero clears every field to zero in place, without reallocating. The
// dumper does not call it: a dump leaves the table's contents in place.
func (a *BitArray) Zero() {
	for i := range a.data {
		atomic.StoreUint64(&a.data[i], 0)
	}
}

// ZeroRange clears fields [lo, hi) in place.
func (a *BitArray) ZeroRange(lo, hi int) {
	if lo >= hi {
		return
	}
	wlo, _ := a.locate(lo)
	whi, offHi := a.locate(hi - 1)
	_ = offHi
	if wlo == whi {
		for pos := lo; pos < hi; pos++ {
			a.Set(pos, 0)
		}
		return
	}
	// Partial first word.
	firstWordEnd := (wlo + 1) * a.fieldsPerWord
	for pos := lo; pos < firstWordEnd && pos < hi; pos++ {
		a.Set(pos, 0)
	}
	// Full interior words.
	for w := wlo + 1; w < whi; w++ {
		atomic.StoreUint64(&a.data[w], 0)
	}
	// Partial last word.
	lastWordStart := whi * a.fieldsPerWord
	for pos := lastWordStart; pos < hi; pos++ {
		a.Set(pos, 0)
	}
}

// Warm pre-faults the backing memory by touching every page, used
// after allocation and before the first concurrent access so page
// faults do not fall on the hot path.
func (a *BitArray) Warm(workers int) {
	if len(a.mapped) > 0 {
		pagewarm.Warm(a.mapped, workers)
		return
	}
	// Heap-allocated slices from make() are already zeroed and
	// resident by the runtime; nothing further to warm.
}

// Close releases a mapped backing store. No-op for heap-backed arrays.
func (a *BitArray) Close() error {
	return closeMapped(a)
}
