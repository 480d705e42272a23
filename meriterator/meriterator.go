// Copyright 2017, Kerby Shedden and the Muscato contributors.

// Package meriterator rolls a fixed-k window over a streamparser.Chunk,
// tracking how many consecutive valid bases (cmlen) have been shifted
// in since the last non-ACGT byte or record break, and yielding a Mer
// each time cmlen reaches k.
package meriterator

import (
	"github.com/kshedden/kmercount/merdna"
	"github.com/kshedden/kmercount/streamparser"
)

// Iterator rolls k-mers out of a sequence of chunks. A single
// Iterator is not safe for concurrent use; Counter gives each worker
// its own Iterator over whatever chunks it pulls from the
// streamparser.
type Iterator struct {
	k         int
	canonical bool
	mer       merdna.Mer
	cmlen     int
}

// New returns an Iterator for the given k. canonical controls whether
// Each yields each k-mer's canonical form (lexicographic min of
// itself and its reverse complement) or the raw forward-strand mer.
func New(k int, canonical bool) *Iterator {
	return &Iterator{k: k, canonical: canonical, mer: merdna.Zero()}
}

// Reset clears the rolling window, used at the start of a new chunk or
// after crossing a record break recorded in Chunk.Breaks.
func (it *Iterator) Reset() {
	it.mer = merdna.Zero()
	it.cmlen = 0
}

// Each calls fn once for every valid k-mer in chunk, resetting the
// rolling window at every offset recorded in chunk.Breaks (so no
// k-mer ever spans two distinct reads).
func (it *Iterator) Each(chunk *streamparser.Chunk, fn func(merdna.Mer)) {
	breakIdx := 0
	for i, b := range chunk.Seq {
		m, ok := it.mer.ShiftLeft(b)
		if ok {
			it.mer = m
			it.cmlen++
			if it.cmlen >= it.k {
				out := it.mer
				if it.canonical {
					out = out.Canonical()
				}
				fn(out)
			}
		} else {
			it.cmlen = 0
		}

		for breakIdx < len(chunk.Breaks) && chunk.Breaks[breakIdx] == i {
			it.Reset()
			breakIdx++
		}
	}
}
